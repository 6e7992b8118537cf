package cli

import (
	"fmt"
	"slices"

	"github.com/m-mizutani/goerr/v2"
	"github.com/spf13/cobra"

	"github.com/dshills/paperdex/internal/extractor"
	"github.com/dshills/paperdex/internal/storage"
	"github.com/dshills/paperdex/pkg/types"
)

type statusReport struct {
	Documents     int            `json:"documents"`
	Fingerprints  int            `json:"fingerprints"`
	Sources       int            `json:"sources"`
	Dimension     int            `json:"dimension"`
	Categories    map[string]int `json:"categories"`
	SizeMB        float64        `json:"size_mb"`
	LastInsertAt  string         `json:"last_insert_at,omitempty"`
	Consistent    bool           `json:"consistent"`
	LedgerEntries int            `json:"ledger_entries"`
	PerSource     []sourceCount  `json:"per_source,omitempty"`
}

type sourceCount struct {
	Source    string `json:"source"`
	Documents int    `json:"documents"`
}

func (a *app) statusCmd() *cobra.Command {
	var asJSON, perSource bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show store statistics and check its integrity",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.cfg.Validate(); err != nil {
				return err
			}
			ctx := cmd.Context()

			db, err := a.openStorage()
			if err != nil {
				return err
			}
			defer func() { _ = db.Close() }()

			status, err := db.GetStatus(ctx)
			if err != nil {
				return err
			}
			entries, err := a.ledger(db).Entries(ctx)
			if err != nil {
				return err
			}

			report := newStatusReport(status, len(entries))
			if perSource {
				sources, err := db.ListSources(ctx)
				if err != nil {
					return err
				}
				for _, sc := range sources {
					report.PerSource = append(report.PerSource, sourceCount{Source: sc.Source, Documents: sc.Documents})
				}
			}
			if asJSON {
				if err := a.printJSON(report); err != nil {
					return err
				}
			} else {
				a.printStatus(report)
			}

			if !report.Consistent {
				return goerr.Wrap(types.ErrStoreFailure, "store integrity check failed",
					goerr.V("documents", report.Documents), goerr.V("fingerprints", report.Fingerprints))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "output as JSON")
	cmd.Flags().BoolVar(&perSource, "sources", false, "list document counts per source")
	return cmd
}

func newStatusReport(status *storage.Status, ledgerEntries int) statusReport {
	r := statusReport{
		Documents:     status.Documents,
		Fingerprints:  status.Fingerprints,
		Sources:       status.Sources,
		Dimension:     status.Dimension,
		Categories:    status.Categories,
		SizeMB:        status.SizeMB,
		Consistent:    status.Health.Consistent,
		LedgerEntries: ledgerEntries,
	}
	if r.Categories == nil {
		r.Categories = map[string]int{}
	}
	if !status.LastInsertAt.IsZero() {
		r.LastInsertAt = status.LastInsertAt.Format("2006-01-02T15:04:05Z07:00")
	}
	return r
}

func (a *app) printStatus(r statusReport) {
	a.printf("Documents:      %d\n", r.Documents)
	a.printf("Fingerprints:   %d\n", r.Fingerprints)
	a.printf("Sources:        %d\n", r.Sources)
	a.printf("Dimension:      %d\n", r.Dimension)
	a.printf("Store size:     %.2f MB\n", r.SizeMB)
	if r.LastInsertAt != "" {
		a.printf("Last insert:    %s\n", r.LastInsertAt)
	}
	a.printf("Ledger entries: %d\n", r.LedgerEntries)

	if len(r.Categories) > 0 {
		a.printf("Categories:\n")
		names := make([]string, 0, len(r.Categories))
		for name := range r.Categories {
			names = append(names, name)
		}
		slices.Sort(names)
		for _, name := range names {
			a.printf("  %-15s %d\n", name, r.Categories[name])
		}
	}

	if len(r.PerSource) > 0 {
		a.printf("Per source:\n")
		for _, sc := range r.PerSource {
			a.printf("  %-30s %d\n", sc.Source, sc.Documents)
		}
	}

	if r.Consistent {
		a.printf("Integrity:      OK\n")
	} else {
		a.printf("Integrity:      MISMATCH\n")
	}
}

func (a *app) validateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <batch-file>...",
		Short: "Check batch files for well-formed extraction records",
		Args:  usageArgs(cobra.MinimumNArgs(1)),
		// Validation reads files only; no store or config is needed
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		RunE: func(_ *cobra.Command, args []string) error {
			var failed int
			for _, path := range args {
				if err := extractor.ValidateBatchFile(path); err != nil {
					failed++
					a.printf("FAIL %s: %v\n", path, err)
					continue
				}
				a.printf("OK   %s\n", path)
			}
			if failed > 0 {
				return goerr.Wrap(types.ErrMalformedOutput, fmt.Sprintf("%d of %d batch files invalid", failed, len(args)))
			}
			return nil
		},
	}
}
