// Package interaction defines the contract between the sync pipeline and
// whatever front-end relays QR codes and progress to the user.
package interaction

import "fmt"

// Provider relays authentication artifacts and run results to the user.
// All three methods are fire-and-forget from the pipeline's perspective:
// delivery failures are logged by the provider, never bubbled up.
type Provider interface {
	// DisplayCode presents the BankID QR code image to the user.
	DisplayCode(imagePath string)

	// ReportAuthenticationSuccess signals that BankID authentication
	// completed and the sync workload is about to start.
	ReportAuthenticationSuccess()

	// ReportCompletion delivers the final statistics of a run.
	ReportCompletion(stats Stats)
}

// Listener is the optional capability of a provider to wait for external
// triggers and re-run the pipeline once per trigger.
type Listener interface {
	Listen(callback func()) error
}

// Stats aggregates per-kind run statistics for the completion report.
type Stats struct {
	ReceiptsTotal   int
	ReceiptsFetched int
	ReceiptsStored  int
	LettersTotal    int
	LettersFetched  int
	LettersStored   int
}

// Summary renders the stats in the shared human-readable form used by all
// providers.
func (s Stats) Summary() string {
	return fmt.Sprintf(
		"Receipts: %d new items, %s fetched\nLetters: %d new items, %s fetched",
		s.ReceiptsStored, countOf(s.ReceiptsFetched, s.ReceiptsTotal),
		s.LettersStored, countOf(s.LettersFetched, s.LettersTotal),
	)
}

// countOf renders "N" when everything was fetched, "M of N" otherwise.
func countOf(fetched, total int) string {
	if fetched == total {
		return fmt.Sprintf("%d", total)
	}
	return fmt.Sprintf("%d of %d", fetched, total)
}
