// Package orchestrator wires one authenticated sync run end to end:
// authenticate, fetch receipts, fetch letters, report.
package orchestrator

import (
	"context"
	"log"

	"github.com/mrlokans/kivra-sync/internal/interaction"
	"github.com/mrlokans/kivra-sync/internal/kivra"
)

// Fetcher is one catalog fetcher bound to a credentialed API client.
type Fetcher interface {
	Fetch(ctx context.Context, maxCount int) (kivra.Stats, error)
}

// Fetchers holds the per-kind fetchers of one run.
type Fetchers struct {
	Receipts Fetcher
	Letters  Fetcher
}

// Options control which collections a run touches and how many items it
// takes from each. Max values <= 0 mean unlimited.
type Options struct {
	FetchReceipts bool
	FetchLetters  bool
	MaxReceipts   int
	MaxLetters    int
}

// Runner executes sync runs. Each run authenticates from scratch: no
// credential ever survives between runs.
type Runner struct {
	authenticate func(ctx context.Context) (kivra.Credential, error)
	newFetchers  func(cred kivra.Credential) Fetchers
	provider     interaction.Provider
	opts         Options
}

// NewRunner assembles a runner. authenticate produces a fresh credential per
// run; newFetchers binds the catalog fetchers to it.
func NewRunner(
	authenticate func(ctx context.Context) (kivra.Credential, error),
	newFetchers func(cred kivra.Credential) Fetchers,
	provider interaction.Provider,
	opts Options,
) *Runner {
	return &Runner{
		authenticate: authenticate,
		newFetchers:  newFetchers,
		provider:     provider,
		opts:         opts,
	}
}

// Run performs one full sequence: authenticate, fetch receipts then letters
// in fixed order, aggregate statistics and report completion exactly once.
// An authentication failure is fatal to the run; no completion is reported.
func (r *Runner) Run(ctx context.Context) (interaction.Stats, error) {
	cred, err := r.authenticate(ctx)
	if err != nil {
		return interaction.Stats{}, err
	}

	fetchers := r.newFetchers(cred)
	var stats interaction.Stats

	if r.opts.FetchReceipts {
		receiptStats, err := fetchers.Receipts.Fetch(ctx, r.opts.MaxReceipts)
		if err != nil {
			return stats, err
		}
		stats.ReceiptsTotal = receiptStats.Total
		stats.ReceiptsFetched = receiptStats.Fetched
		stats.ReceiptsStored = receiptStats.Stored
	}

	if r.opts.FetchLetters {
		letterStats, err := fetchers.Letters.Fetch(ctx, r.opts.MaxLetters)
		if err != nil {
			return stats, err
		}
		stats.LettersTotal = letterStats.Total
		stats.LettersFetched = letterStats.Fetched
		stats.LettersStored = letterStats.Stored
	}

	r.provider.ReportCompletion(stats)
	return stats, nil
}

// Callback adapts Run for listening providers: one invocation per trigger,
// failures logged and swallowed so the provider keeps listening for the
// next trigger.
func (r *Runner) Callback(ctx context.Context) func() {
	return func() {
		if _, err := r.Run(ctx); err != nil {
			log.Printf("Sync run failed: %v", err)
		}
	}
}
