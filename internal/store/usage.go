// ABOUTME: SQLite implementation for the request usage ledger
// ABOUTME: Saves, lists, aggregates and prunes usage records with squirrel-built queries

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
)

var usageColumns = []string{
	"id", "request_id", "route", "session_id", "provider", "status",
	"fragments", "prompt_tokens", "completion_tokens", "duration_ms", "error",
	"created_at",
}

// SaveUsage stores a usage record.
func (s *SQLiteStore) SaveUsage(ctx context.Context, record *UsageRecord) error {
	query, args, err := s.sb.Insert("usage_records").
		Columns(usageColumns...).
		Values(
			record.ID,
			record.RequestID,
			record.Route,
			nullString(record.SessionID),
			record.Provider,
			string(record.Status),
			record.Fragments,
			record.PromptTokens,
			record.CompletionTokens,
			record.Duration.Milliseconds(),
			nullString(record.Error),
			record.CreatedAt.UTC().Format(timeLayout),
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("building insert: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("inserting usage: %w", err)
	}

	s.logger.Debug("saved usage record",
		"id", record.ID,
		"route", record.Route,
		"status", record.Status,
		"prompt_tokens", record.PromptTokens,
		"completion_tokens", record.CompletionTokens,
	)
	return nil
}

// GetUsage retrieves a single record by ID.
func (s *SQLiteStore) GetUsage(ctx context.Context, id string) (*UsageRecord, error) {
	query, args, err := s.sb.Select(usageColumns...).
		From("usage_records").
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building query: %w", err)
	}

	record, err := scanUsage(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return record, err
}

// applyFilter adds the filter's conditions to a select.
func applyFilter(b sq.SelectBuilder, filter UsageFilter) sq.SelectBuilder {
	if filter.Route != nil {
		b = b.Where(sq.Eq{"route": *filter.Route})
	}
	if filter.SessionID != nil {
		b = b.Where(sq.Eq{"session_id": *filter.SessionID})
	}
	if filter.Status != nil {
		b = b.Where(sq.Eq{"status": string(*filter.Status)})
	}
	if filter.Since != nil {
		b = b.Where(sq.GtOrEq{"created_at": filter.Since.UTC().Format(timeLayout)})
	}
	if filter.Until != nil {
		b = b.Where(sq.Lt{"created_at": filter.Until.UTC().Format(timeLayout)})
	}
	return b
}

// ListUsage returns matching records, newest first.
func (s *SQLiteStore) ListUsage(ctx context.Context, filter UsageFilter) ([]*UsageRecord, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}

	query, args, err := applyFilter(s.sb.Select(usageColumns...).From("usage_records"), filter).
		OrderBy("created_at DESC", "id").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying usage: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []*UsageRecord
	for rows.Next() {
		record, err := scanUsage(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating usage rows: %w", err)
	}
	return records, nil
}

// GetUsageStats returns aggregated usage statistics with optional filters.
func (s *SQLiteStore) GetUsageStats(ctx context.Context, filter UsageFilter) (*UsageStats, error) {
	query, args, err := applyFilter(s.sb.Select(
		"COUNT(*)",
		"COALESCE(SUM(CASE WHEN status = 'completed' THEN 1 ELSE 0 END), 0)",
		"COALESCE(SUM(CASE WHEN status = 'failed' THEN 1 ELSE 0 END), 0)",
		"COALESCE(SUM(CASE WHEN status = 'disconnected' THEN 1 ELSE 0 END), 0)",
		"COALESCE(SUM(prompt_tokens), 0)",
		"COALESCE(SUM(completion_tokens), 0)",
		"COALESCE(AVG(duration_ms), 0)",
	).From("usage_records"), filter).ToSql()
	if err != nil {
		return nil, fmt.Errorf("building query: %w", err)
	}

	var stats UsageStats
	err = s.db.QueryRowContext(ctx, query, args...).Scan(
		&stats.RequestCount,
		&stats.Completed,
		&stats.Failed,
		&stats.Disconnected,
		&stats.PromptTokens,
		&stats.CompletionTokens,
		&stats.AvgDurationMS,
	)
	if err != nil {
		return nil, fmt.Errorf("querying usage stats: %w", err)
	}

	stats.TotalTokens = stats.PromptTokens + stats.CompletionTokens
	return &stats, nil
}

// PruneUsage deletes records created before the cutoff.
func (s *SQLiteStore) PruneUsage(ctx context.Context, before time.Time) (int64, error) {
	query, args, err := s.sb.Delete("usage_records").
		Where(sq.Lt{"created_at": before.UTC().Format(timeLayout)}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("building delete: %w", err)
	}

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("pruning usage: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("getting rows affected: %w", err)
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

// scanUsage scans a single usage row into a UsageRecord.
func scanUsage(row rowScanner) (*UsageRecord, error) {
	var r UsageRecord
	var sessionID, errMsg sql.NullString
	var status, createdAt string
	var durationMS int64

	err := row.Scan(
		&r.ID,
		&r.RequestID,
		&r.Route,
		&sessionID,
		&r.Provider,
		&status,
		&r.Fragments,
		&r.PromptTokens,
		&r.CompletionTokens,
		&durationMS,
		&errMsg,
		&createdAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning usage row: %w", err)
	}

	r.SessionID = sessionID.String
	r.Error = errMsg.String
	r.Status = Status(status)
	r.Duration = time.Duration(durationMS) * time.Millisecond

	r.CreatedAt, err = time.Parse(timeLayout, createdAt)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	return &r, nil
}

// Ensure SQLiteStore implements Store interface.
var _ Store = (*SQLiteStore)(nil)
