package cli

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mrlokans/kivra-sync/internal/config"
	"github.com/mrlokans/kivra-sync/internal/htmlconv"
	"github.com/mrlokans/kivra-sync/internal/interaction"
	"github.com/mrlokans/kivra-sync/internal/interaction/local"
	"github.com/mrlokans/kivra-sync/internal/interaction/ntfy"
	"github.com/mrlokans/kivra-sync/internal/kivra"
	"github.com/mrlokans/kivra-sync/internal/orchestrator"
	"github.com/mrlokans/kivra-sync/internal/scheduler"
	"github.com/mrlokans/kivra-sync/internal/storage"
	"github.com/mrlokans/kivra-sync/internal/storage/providers/dedupindex"
	"github.com/mrlokans/kivra-sync/internal/storage/providers/filesystem"
	"github.com/mrlokans/kivra-sync/internal/storage/providers/paperless"
)

// SyncCommand fetches receipts and letters from Kivra into a document store.
type SyncCommand struct {
	SSN string

	StorageProvider string
	BaseDir         string
	DedupIndexPath  string
	ConverterCmd    string

	InteractionProvider string
	NtfyTopic           string
	NtfyServer          string
	NtfyUser            string
	NtfyPass            string
	TriggerMessage      string

	PaperlessURL   string
	PaperlessToken string
	PaperlessTags  string

	FetchReceipts bool
	FetchLetters  bool
	MaxReceipts   int
	MaxLetters    int
	DryRun        bool
	Schedule      string

	cfg *config.Config
}

// NewSyncCommand creates a SyncCommand with environment-driven defaults.
func NewSyncCommand() *SyncCommand {
	return &SyncCommand{cfg: config.NewConfig()}
}

// ParseFlags parses command line flags. The personal identity number is the
// single positional argument.
func (cmd *SyncCommand) ParseFlags(args []string) error {
	fs := flag.NewFlagSet("sync", flag.ExitOnError)
	cfg := cmd.cfg

	fs.StringVar(&cmd.StorageProvider, "storage-provider", cfg.Storage.Provider, "Document storage provider (filesystem or paperless)")
	fs.StringVar(&cmd.BaseDir, "base-dir", cfg.Storage.BaseDir, "Base directory for stored documents (default: current directory)")
	fs.StringVar(&cmd.DedupIndexPath, "dedup-index", cfg.Storage.DedupIndexPath, "Path to a local SQLite dedup index (empty to disable)")
	fs.StringVar(&cmd.ConverterCmd, "html-to-pdf", cfg.Storage.ConverterCommand, "External HTML-to-PDF command reading stdin and writing stdout (empty to store HTML verbatim)")

	fs.StringVar(&cmd.InteractionProvider, "interaction-provider", "local", "Interaction provider (local or ntfy)")
	fs.StringVar(&cmd.NtfyTopic, "ntfy-topic", cfg.Ntfy.Topic, "ntfy topic to send notifications to")
	fs.StringVar(&cmd.NtfyServer, "ntfy-server", cfg.Ntfy.Server, "ntfy server URL")
	fs.StringVar(&cmd.NtfyUser, "ntfy-user", cfg.Ntfy.Username, "ntfy username for authentication")
	fs.StringVar(&cmd.NtfyPass, "ntfy-pass", cfg.Ntfy.Password, "ntfy password for authentication")
	fs.StringVar(&cmd.TriggerMessage, "trigger-message", cfg.Ntfy.TriggerMessage, "Message that triggers a sync when listening on the ntfy topic")

	fs.StringVar(&cmd.PaperlessURL, "paperless-url", cfg.Paperless.URL, "Paperless API URL (e.g. http://localhost:8000/api)")
	fs.StringVar(&cmd.PaperlessToken, "paperless-token", cfg.Paperless.Token, "Paperless API token")
	fs.StringVar(&cmd.PaperlessTags, "paperless-tags", cfg.Paperless.Tags, "Comma-separated tags applied to all uploaded documents")

	fs.BoolVar(&cmd.FetchReceipts, "fetch-receipts", cfg.Sync.FetchReceipts, "Fetch receipts")
	fs.BoolVar(&cmd.FetchLetters, "fetch-letters", cfg.Sync.FetchLetters, "Fetch letters")
	fs.IntVar(&cmd.MaxReceipts, "max-receipts", cfg.Sync.MaxReceipts, "Maximum number of receipts to fetch (0 for unlimited)")
	fs.IntVar(&cmd.MaxLetters, "max-letters", cfg.Sync.MaxLetters, "Maximum number of letters to fetch (0 for unlimited)")
	fs.BoolVar(&cmd.DryRun, "dry-run", cfg.Sync.DryRun, "Do not actually store documents, just simulate")
	fs.StringVar(&cmd.Schedule, "schedule", cfg.Sync.Schedule, "Cron schedule for recurring syncs (empty to run once)")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s sync [options] <ssn>\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Fetch receipts and letters from Kivra after BankID authentication.\n\n")
		fmt.Fprintf(os.Stderr, "The ssn argument is the personal identity number (YYYYMMDDXXXX).\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  %s sync 199001011234\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s sync -storage-provider paperless -paperless-url http://localhost:8000/api -paperless-token TOKEN 199001011234\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s sync -interaction-provider ntfy -ntfy-topic my-kivra 199001011234\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s sync -schedule \"0 6 * * *\" 199001011234\n", os.Args[0])
	}

	if err := fs.Parse(args); err != nil {
		return err
	}

	if fs.NArg() != 1 {
		fs.Usage()
		return fmt.Errorf("exactly one personal identity number is required")
	}
	cmd.SSN = fs.Arg(0)

	return cmd.validate()
}

func (cmd *SyncCommand) validate() error {
	switch cmd.StorageProvider {
	case "filesystem":
	case "paperless":
		if cmd.PaperlessURL == "" || cmd.PaperlessToken == "" {
			return fmt.Errorf("-paperless-url and -paperless-token are required with the paperless storage provider")
		}
	default:
		return fmt.Errorf("unknown storage provider %q", cmd.StorageProvider)
	}

	switch cmd.InteractionProvider {
	case "local":
	case "ntfy":
		if cmd.NtfyTopic == "" {
			return fmt.Errorf("-ntfy-topic is required with the ntfy interaction provider")
		}
	default:
		return fmt.Errorf("unknown interaction provider %q", cmd.InteractionProvider)
	}

	if cmd.Schedule != "" {
		if err := scheduler.ValidateSchedule(cmd.Schedule); err != nil {
			return err
		}
	}
	return nil
}

// Run executes the sync. Depending on the flags this is a single run, a
// cron-scheduled loop or a listen loop on the interaction provider.
func (cmd *SyncCommand) Run() error {
	tempDir := cmd.cfg.Global.TempDir
	if err := os.MkdirAll(tempDir, 0o755); err != nil {
		return fmt.Errorf("failed to create temp directory: %w", err)
	}

	provider, err := cmd.buildInteractionProvider()
	if err != nil {
		return err
	}
	store, err := cmd.buildDocumentStore()
	if err != nil {
		return err
	}
	runner := cmd.buildRunner(provider, store, tempDir)

	ctx := context.Background()

	if listener, ok := provider.(interaction.Listener); ok && cmd.Schedule == "" {
		fmt.Printf("Listening for triggers via %s...\n", cmd.InteractionProvider)
		return listener.Listen(runner.Callback(ctx))
	}

	if cmd.Schedule != "" {
		s := scheduler.NewSyncScheduler(cmd.Schedule, func(ctx context.Context) {
			runner.Callback(ctx)()
		})
		if err := s.Start(ctx); err != nil {
			return err
		}
		select {} // scheduled mode runs until killed
	}

	_, err = runner.Run(ctx)
	return err
}

func (cmd *SyncCommand) buildInteractionProvider() (interaction.Provider, error) {
	switch cmd.InteractionProvider {
	case "ntfy":
		opts := []ntfy.Option{
			ntfy.WithServer(cmd.NtfyServer),
			ntfy.WithTriggerMessage(cmd.TriggerMessage),
		}
		if cmd.NtfyUser != "" && cmd.NtfyPass != "" {
			opts = append(opts, ntfy.WithBasicAuth(cmd.NtfyUser, cmd.NtfyPass))
		}
		return ntfy.New(cmd.NtfyTopic, opts...), nil
	default:
		return local.New(), nil
	}
}

func (cmd *SyncCommand) buildDocumentStore() (storage.DocumentStore, error) {
	converter, err := cmd.buildConverter()
	if err != nil {
		return nil, err
	}

	var store storage.DocumentStore
	switch cmd.StorageProvider {
	case "paperless":
		opts := []paperless.Option{paperless.WithDryRun(cmd.DryRun)}
		if converter != nil {
			opts = append(opts, paperless.WithConverter(converter))
		}
		if tags := splitTags(cmd.PaperlessTags); len(tags) > 0 {
			opts = append(opts, paperless.WithTags(tags))
		}
		store, err = paperless.New(cmd.PaperlessURL, cmd.PaperlessToken, opts...)
	default:
		baseDir := cmd.BaseDir
		if baseDir == "" {
			baseDir, err = os.Getwd()
			if err != nil {
				return nil, fmt.Errorf("failed to resolve working directory: %w", err)
			}
		}
		opts := []filesystem.Option{filesystem.WithDryRun(cmd.DryRun)}
		if converter != nil {
			opts = append(opts, filesystem.WithConverter(converter))
		}
		// Documents of different accounts never mix.
		store, err = filesystem.New(filepath.Join(baseDir, cmd.SSN), opts...)
	}
	if err != nil {
		return nil, err
	}

	if cmd.DedupIndexPath != "" && !cmd.DryRun {
		store, err = dedupindex.New(store, cmd.DedupIndexPath)
		if err != nil {
			return nil, err
		}
	}
	return store, nil
}

func (cmd *SyncCommand) buildConverter() (htmlconv.Converter, error) {
	if cmd.ConverterCmd == "" {
		return nil, nil
	}
	converter, err := htmlconv.Command(cmd.ConverterCmd)
	if err != nil {
		return nil, err
	}
	return converter, nil
}

func (cmd *SyncCommand) buildRunner(provider interaction.Provider, store storage.DocumentStore, tempDir string) *orchestrator.Runner {
	authOpts := kivra.AuthOptions{
		ClientID:        cmd.cfg.Kivra.ClientID,
		PollInterval:    cmd.cfg.Kivra.PollInterval,
		MaxPollAttempts: cmd.cfg.Kivra.MaxPolls,
	}
	authenticator := kivra.NewAuthenticator(tempDir, provider, authOpts)

	authenticate := func(ctx context.Context) (kivra.Credential, error) {
		return authenticator.Authenticate(ctx, cmd.SSN)
	}
	newFetchers := func(cred kivra.Credential) orchestrator.Fetchers {
		client := kivra.NewClient(cred)
		return orchestrator.Fetchers{
			Receipts: kivra.NewReceiptFetcher(client, store),
			Letters:  kivra.NewLetterFetcher(client, store),
		}
	}

	return orchestrator.NewRunner(authenticate, newFetchers, provider, orchestrator.Options{
		FetchReceipts: cmd.FetchReceipts,
		FetchLetters:  cmd.FetchLetters,
		MaxReceipts:   cmd.MaxReceipts,
		MaxLetters:    cmd.MaxLetters,
	})
}

func splitTags(raw string) []string {
	if raw == "" {
		return nil
	}
	var tags []string
	for _, tag := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(tag); trimmed != "" {
			tags = append(tags, trimmed)
		}
	}
	return tags
}
