package config

import (
	"time"

	"github.com/spf13/viper"
)

type (
	Config struct {
		HTTP
		Kivra
		Sync
		Storage
		Ntfy
		Paperless
		Global
	}

	HTTP struct {
		Port int32
		Host string
	}
	Kivra struct {
		SSN          string // personal identity number, required in serve mode
		ClientID     string
		PollInterval time.Duration
		MaxPolls     int // 0 = poll until the server decides
	}
	Sync struct {
		FetchReceipts bool
		FetchLetters  bool
		MaxReceipts   int // 0 = unlimited
		MaxLetters    int // 0 = unlimited
		DryRun        bool
		Schedule      string // Cron format: "0 6 * * *" = daily at 06:00, empty = disabled
	}
	Storage struct {
		Provider         string // "filesystem" or "paperless"
		BaseDir          string
		DedupIndexPath   string // empty = no local dedup index
		ConverterCommand string // e.g. "wkhtmltopdf --quiet - -", empty = store HTML verbatim
	}
	Ntfy struct {
		Topic          string
		Server         string
		Username       string
		Password       string
		TriggerMessage string
	}
	Paperless struct {
		URL   string
		Token string
		Tags  string // comma-separated
	}
	Global struct {
		TempDir string
	}
)

func NewConfig() *Config {
	v := viper.New()
	v.AutomaticEnv()
	v.SetDefault("port", 8080)
	v.SetDefault("host", "0.0.0.0")
	v.SetDefault("temp_dir", "./temp")

	v.SetDefault("kivra_ssn", "")
	v.SetDefault("kivra_client_id", "")
	v.SetDefault("kivra_poll_interval_seconds", 5)
	v.SetDefault("kivra_auth_max_polls", 0)

	v.SetDefault("fetch_receipts", true)
	v.SetDefault("fetch_letters", true)
	v.SetDefault("max_receipts", 0)
	v.SetDefault("max_letters", 0)
	v.SetDefault("dry_run", false)
	v.SetDefault("sync_schedule", "")

	v.SetDefault("storage_provider", "filesystem")
	v.SetDefault("base_dir", "")
	v.SetDefault("dedup_index_path", "")
	v.SetDefault("html_to_pdf_command", "")

	v.SetDefault("ntfy_topic", "")
	v.SetDefault("ntfy_server", "https://ntfy.sh")
	v.SetDefault("ntfy_user", "")
	v.SetDefault("ntfy_pass", "")
	v.SetDefault("ntfy_trigger_message", "run now")

	v.SetDefault("paperless_url", "")
	v.SetDefault("paperless_token", "")
	v.SetDefault("paperless_tags", "")

	return &Config{
		HTTP: HTTP{
			Port: v.GetInt32("PORT"),
			Host: v.GetString("HOST"),
		},
		Kivra: Kivra{
			SSN:          v.GetString("KIVRA_SSN"),
			ClientID:     v.GetString("KIVRA_CLIENT_ID"),
			PollInterval: time.Duration(v.GetInt("KIVRA_POLL_INTERVAL_SECONDS")) * time.Second,
			MaxPolls:     v.GetInt("KIVRA_AUTH_MAX_POLLS"),
		},
		Sync: Sync{
			FetchReceipts: v.GetBool("FETCH_RECEIPTS"),
			FetchLetters:  v.GetBool("FETCH_LETTERS"),
			MaxReceipts:   v.GetInt("MAX_RECEIPTS"),
			MaxLetters:    v.GetInt("MAX_LETTERS"),
			DryRun:        v.GetBool("DRY_RUN"),
			Schedule:      v.GetString("SYNC_SCHEDULE"),
		},
		Storage: Storage{
			Provider:         v.GetString("STORAGE_PROVIDER"),
			BaseDir:          v.GetString("BASE_DIR"),
			DedupIndexPath:   v.GetString("DEDUP_INDEX_PATH"),
			ConverterCommand: v.GetString("HTML_TO_PDF_COMMAND"),
		},
		Ntfy: Ntfy{
			Topic:          v.GetString("NTFY_TOPIC"),
			Server:         v.GetString("NTFY_SERVER"),
			Username:       v.GetString("NTFY_USER"),
			Password:       v.GetString("NTFY_PASS"),
			TriggerMessage: v.GetString("NTFY_TRIGGER_MESSAGE"),
		},
		Paperless: Paperless{
			URL:   v.GetString("PAPERLESS_URL"),
			Token: v.GetString("PAPERLESS_TOKEN"),
			Tags:  v.GetString("PAPERLESS_TAGS"),
		},
		Global: Global{
			TempDir: v.GetString("TEMP_DIR"),
		},
	}
}
