package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/Sentinel-Gate/infragate/internal/domain/audit"
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Inspect the audit trail",
}

var (
	exportSince   string
	exportUntil   string
	exportSession string
	exportOutcome string
	exportAction  string
	exportLimit   int
)

var auditExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export audit records as JSON lines",
	Long: `Export audit records from the configured audit backend to stdout,
one JSON object per line, oldest first. Records are read in pages, so
an export is not capped by the per-query limit.

Examples:
  infragate audit export --since 24h
  infragate audit export --outcome blocked --limit 5000
  infragate audit export --session s-42`,
	RunE: runAuditExport,
}

func init() {
	f := auditExportCmd.Flags()
	f.StringVar(&exportSince, "since", "", "only records newer than this duration (e.g. 1h) or RFC3339 time")
	f.StringVar(&exportUntil, "until", "", "only records older than this RFC3339 time")
	f.StringVar(&exportSession, "session", "", "filter by session ID")
	f.StringVar(&exportOutcome, "outcome", "", "filter by outcome: executed, blocked, failed")
	f.StringVar(&exportAction, "action", "", "filter by action name")
	f.IntVar(&exportLimit, "limit", 0, "maximum number of records (0 exports all)")

	auditCmd.AddCommand(auditExportCmd)
	rootCmd.AddCommand(auditCmd)
}

func runAuditExport(cmd *cobra.Command, args []string) error {
	filter, err := exportFilter(time.Now().UTC())
	if err != nil {
		return err
	}

	cfg, err := loadConfig(false)
	if err != nil {
		return err
	}
	logger := newLogger(cfg)
	store, err := createAuditStore(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	n, err := exportRecords(cmd.Context(), store, filter, exportLimit, cmd.OutOrStdout())
	if err != nil {
		return err
	}
	logger.Debug("audit export complete", "records", n)
	return nil
}

// exportRecords writes matching records as JSON lines, paging through the
// store MaxLimit records at a time. max <= 0 exports every match.
func exportRecords(ctx context.Context, store audit.Store, filter audit.Filter, max int, w io.Writer) (int, error) {
	enc := json.NewEncoder(w)
	written := 0
	for {
		page := filter
		page.Limit = audit.MaxLimit
		page.Offset = written
		if max > 0 && max-written < page.Limit {
			page.Limit = max - written
		}
		if err := page.Validate(); err != nil {
			return written, err
		}
		records, err := store.Query(ctx, page)
		if err != nil {
			return written, fmt.Errorf("query audit records: %w", err)
		}
		for _, rec := range records {
			if err := enc.Encode(rec); err != nil {
				return written, err
			}
		}
		written += len(records)
		if len(records) < page.Limit || (max > 0 && written >= max) {
			return written, nil
		}
	}
}

// exportFilter builds the filter from flags. --since accepts either a
// duration relative to now or an absolute RFC3339 time.
func exportFilter(now time.Time) (audit.Filter, error) {
	f := audit.Filter{
		SessionID: exportSession,
		Action:    exportAction,
	}
	if exportSince != "" {
		if d, err := time.ParseDuration(exportSince); err == nil {
			f.Start = now.Add(-d)
		} else if t, err := time.Parse(time.RFC3339, exportSince); err == nil {
			f.Start = t
		} else {
			return f, fmt.Errorf("--since %q: want a duration or RFC3339 time", exportSince)
		}
	}
	if exportUntil != "" {
		t, err := time.Parse(time.RFC3339, exportUntil)
		if err != nil {
			return f, fmt.Errorf("--until %q: %w", exportUntil, err)
		}
		f.End = t
	}
	if exportOutcome != "" {
		f.Outcome = audit.Outcome(exportOutcome)
		if !f.Outcome.Valid() {
			return f, fmt.Errorf("--outcome %q: want executed, blocked or failed", exportOutcome)
		}
	}
	return f, nil
}
