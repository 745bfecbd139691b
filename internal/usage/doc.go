// Package usage turns finished gateway requests into ledger records.
//
// A Tracker counts prompt and completion tokens with a Counter, writes one
// store.UsageRecord per request, and optionally prunes records older than a
// retention window on a cron schedule:
//
//	counter := usage.NewCounter(cfg.Usage.Tokenizer, logger)
//	tracker, err := usage.NewTracker(ledger, counter, usage.Options{
//	    Schedule:  cfg.Usage.PruneSchedule,
//	    Retention: cfg.Usage.Retention,
//	}, logger)
//	if err != nil {
//	    return err
//	}
//	if err := tracker.Start(); err != nil {
//	    return err
//	}
//	defer tracker.Stop(ctx)
//
// Token counts are approximate. The cl100k_base encoding matches OpenAI chat
// models closely; other providers tokenize differently.
package usage
