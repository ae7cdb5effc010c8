// Package entrypoint assembles the serve mode: the web interaction provider
// plus the sync pipeline, configured entirely from the environment.
package entrypoint

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/mrlokans/kivra-sync/internal/config"
	"github.com/mrlokans/kivra-sync/internal/htmlconv"
	"github.com/mrlokans/kivra-sync/internal/interaction/web"
	"github.com/mrlokans/kivra-sync/internal/kivra"
	"github.com/mrlokans/kivra-sync/internal/orchestrator"
	"github.com/mrlokans/kivra-sync/internal/scheduler"
	"github.com/mrlokans/kivra-sync/internal/storage"
	"github.com/mrlokans/kivra-sync/internal/storage/providers/dedupindex"
	"github.com/mrlokans/kivra-sync/internal/storage/providers/filesystem"
	"github.com/mrlokans/kivra-sync/internal/storage/providers/paperless"
)

// Run starts the web interface and blocks until shutdown. Syncs are
// triggered from the browser and, when a schedule is configured, by cron.
func Run(cfg *config.Config, version string) {
	log.Printf("kivra-sync %s starting in serve mode", version)

	if cfg.Kivra.SSN == "" {
		log.Fatalf("KIVRA_SSN is not set; serve mode needs a personal identity number to sync for")
	}

	if err := os.MkdirAll(cfg.Global.TempDir, 0o755); err != nil {
		log.Fatalf("Could not create temp directory %s: %v", cfg.Global.TempDir, err)
	}

	provider := web.New(cfg.HTTP.Host, int(cfg.HTTP.Port))

	store, err := buildDocumentStore(cfg)
	if err != nil {
		log.Fatalf("Could not initialize document store: %v", err)
	}

	runner := buildRunner(cfg, provider, store)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Sync.Schedule != "" {
		s := scheduler.NewSyncScheduler(cfg.Sync.Schedule, func(ctx context.Context) {
			runner.Callback(ctx)()
		})
		if err := s.Start(ctx); err != nil {
			log.Fatalf("Could not start sync scheduler: %v", err)
		}
		defer s.Stop()
	}

	if err := provider.Listen(runner.Callback(ctx)); err != nil {
		log.Fatalf("Web interface error: %v", err)
	}
}

func buildDocumentStore(cfg *config.Config) (storage.DocumentStore, error) {
	var converter htmlconv.Converter
	if cfg.Storage.ConverterCommand != "" {
		var err error
		converter, err = htmlconv.Command(cfg.Storage.ConverterCommand)
		if err != nil {
			return nil, err
		}
	}

	var store storage.DocumentStore
	var err error
	switch cfg.Storage.Provider {
	case "paperless":
		if cfg.Paperless.URL == "" || cfg.Paperless.Token == "" {
			return nil, fmt.Errorf("PAPERLESS_URL and PAPERLESS_TOKEN are required with the paperless storage provider")
		}
		opts := []paperless.Option{paperless.WithDryRun(cfg.Sync.DryRun)}
		if converter != nil {
			opts = append(opts, paperless.WithConverter(converter))
		}
		if tags := splitTags(cfg.Paperless.Tags); len(tags) > 0 {
			opts = append(opts, paperless.WithTags(tags))
		}
		store, err = paperless.New(cfg.Paperless.URL, cfg.Paperless.Token, opts...)
	case "filesystem":
		baseDir := cfg.Storage.BaseDir
		if baseDir == "" {
			baseDir, err = os.Getwd()
			if err != nil {
				return nil, fmt.Errorf("failed to resolve working directory: %w", err)
			}
		}
		opts := []filesystem.Option{filesystem.WithDryRun(cfg.Sync.DryRun)}
		if converter != nil {
			opts = append(opts, filesystem.WithConverter(converter))
		}
		store, err = filesystem.New(filepath.Join(baseDir, cfg.Kivra.SSN), opts...)
	default:
		return nil, fmt.Errorf("unknown storage provider %q", cfg.Storage.Provider)
	}
	if err != nil {
		return nil, err
	}

	if cfg.Storage.DedupIndexPath != "" && !cfg.Sync.DryRun {
		store, err = dedupindex.New(store, cfg.Storage.DedupIndexPath)
		if err != nil {
			return nil, err
		}
	}
	return store, nil
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

func buildRunner(cfg *config.Config, provider *web.Provider, store storage.DocumentStore) *orchestrator.Runner {
	authenticator := kivra.NewAuthenticator(cfg.Global.TempDir, provider, kivra.AuthOptions{
		ClientID:        cfg.Kivra.ClientID,
		PollInterval:    cfg.Kivra.PollInterval,
		MaxPollAttempts: cfg.Kivra.MaxPolls,
	})

	authenticate := func(ctx context.Context) (kivra.Credential, error) {
		return authenticator.Authenticate(ctx, cfg.Kivra.SSN)
	}
	newFetchers := func(cred kivra.Credential) orchestrator.Fetchers {
		client := kivra.NewClient(cred)
		return orchestrator.Fetchers{
			Receipts: kivra.NewReceiptFetcher(client, store),
			Letters:  kivra.NewLetterFetcher(client, store),
		}
	}

	return orchestrator.NewRunner(authenticate, newFetchers, provider, orchestrator.Options{
		FetchReceipts: cfg.Sync.FetchReceipts,
		FetchLetters:  cfg.Sync.FetchLetters,
		MaxReceipts:   cfg.Sync.MaxReceipts,
		MaxLetters:    cfg.Sync.MaxLetters,
	})
}
