// Package store provides the request usage ledger for the gateway using SQLite.
//
// # Architecture
//
// Store is a single interface over one table, usage_records. SQLiteStore is
// the production implementation (modernc.org/sqlite, no cgo) and MockStore is
// an in-memory twin for tests. Both pass the same behavioral suite.
//
// The ledger holds request metadata only: route, session id, provider,
// outcome, fragment count, token counts and duration. Conversation text stays
// in the session store and is never written here.
//
// # Queries
//
// Statements are built with github.com/Masterminds/squirrel using "?"
// placeholders. UsageFilter fields are optional; nil means "any". Since is
// inclusive and Until is exclusive.
//
// Timestamps are stored as fixed-width UTC text with millisecond precision so
// that range filters and pruning can compare them as strings.
//
// # Usage
//
//	s, err := store.NewSQLiteStore("/var/lib/parley/usage.db")
//	if err != nil {
//	    return err
//	}
//	defer s.Close()
//
//	route := "chat"
//	stats, err := s.GetUsageStats(ctx, store.UsageFilter{Route: &route})
//
// The path ":memory:" opens a private in-memory database limited to one
// connection.
package store
