package config

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/docker/go-units"
	"github.com/kelseyhightower/envconfig"
)

// Config struct for environment variables.
type Config struct {
	TorrentClient string `envconfig:"TORRENT_CLIENT" default:"transmission"`
	UsenetClient  string `envconfig:"USENET_CLIENT"`

	TorrentDirectory string        `envconfig:"TORRENT_DIRECTORY" required:"true"`
	MaxMetadataSize  string        `envconfig:"MAX_METADATA_SIZE" default:"10MB"`
	FetchTimeout     time.Duration `envconfig:"FETCH_TIMEOUT" default:"30s"`

	UpdateInterval    time.Duration `envconfig:"UPDATE_INTERVAL" default:"1m"`
	MaxParallel       int           `envconfig:"MAX_PARALLEL" default:"5"`
	DBPath            string        `envconfig:"DB_PATH" default:"mediamanager.db"`
	DiscordWebhookURL string        `envconfig:"DISCORD_WEBHOOK_URL"`

	LogLevel      string `envconfig:"LOG_LEVEL" default:"INFO"`
	LogFile       string `envconfig:"LOG_FILE"`
	LogMaxSizeMB  int    `envconfig:"LOG_MAX_SIZE_MB" default:"100"`
	LogMaxBackups int    `envconfig:"LOG_MAX_BACKUPS" default:"3"`

	Transmission struct {
		Host     string `split_words:"true" default:"localhost"`
		Port     int    `split_words:"true" default:"9091"`
		Username string `split_words:"true"`
		Password string `split_words:"true"`
		HTTPS    bool   `envconfig:"HTTPS"`
		Path     string `split_words:"true" default:"/transmission/rpc"`
	}

	Qbittorrent struct {
		Host      string `split_words:"true" default:"http://localhost:8080"`
		Username  string `split_words:"true"`
		Password  string `split_words:"true"`
		BasicUser string `split_words:"true"`
		BasicPass string `split_words:"true"`
		Category  string `split_words:"true"`
	}

	Deluge struct {
		Host     string `split_words:"true" default:"localhost"`
		Port     uint   `split_words:"true" default:"58846"`
		Username string `split_words:"true" default:"localclient"`
		Password string `split_words:"true"`
	}

	Rtorrent struct {
		Addr      string `split_words:"true" default:"http://localhost:8000/RPC2"`
		BasicUser string `split_words:"true"`
		BasicPass string `split_words:"true"`
		Label     string `split_words:"true"`
	}

	Putio struct {
		Token  string `split_words:"true"`
		Folder string `split_words:"true"`
	}

	Sabnzbd struct {
		Host     string `split_words:"true" default:"localhost"`
		Port     int    `split_words:"true" default:"8080"`
		APIKey   string `envconfig:"API_KEY"`
		HTTPS    bool   `envconfig:"HTTPS"`
		Path     string `split_words:"true" default:"/sabnzbd"`
		Category string `split_words:"true"`
	}

	Telemetry struct {
		Enabled      bool   `split_words:"true" default:"true"`
		ServiceName  string `split_words:"true" default:"mediamanager"`
		OTLPEndpoint string `envconfig:"OTLP_ENDPOINT"`
	}

	Web struct {
		BindAddress     string        `split_words:"true" default:"0.0.0.0:9090"`
		ReadTimeout     time.Duration `split_words:"true" default:"30s"`
		WriteTimeout    time.Duration `split_words:"true" default:"30s"`
		IdleTimeout     time.Duration `split_words:"true" default:"5s"`
		ShutdownTimeout time.Duration `split_words:"true" default:"30s"`
	}
}

// binarySize matches IEC suffixes such as KiB or Mi, which go-units only parses as
// powers of 1024 through RAMInBytes.
var binarySize = regexp.MustCompile(`(?i)[kmgtp]ib?$`)

var (
	torrentClients = []string{"", "transmission", "qbittorrent", "deluge", "rtorrent", "putio"}
	usenetClients  = []string{"", "sabnzbd"}
)

// LoadConfig reads environment variables and populates the Config struct.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("error processing env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks the settings envconfig cannot check on its own.
func (c *Config) Validate() error {
	c.TorrentClient = strings.ToLower(strings.TrimSpace(c.TorrentClient))
	c.UsenetClient = strings.ToLower(strings.TrimSpace(c.UsenetClient))

	if strings.TrimSpace(c.TorrentDirectory) == "" {
		return fmt.Errorf("TORRENT_DIRECTORY must not be empty")
	}

	if !contains(torrentClients, c.TorrentClient) {
		return fmt.Errorf("unsupported TORRENT_CLIENT %q", c.TorrentClient)
	}

	if !contains(usenetClients, c.UsenetClient) {
		return fmt.Errorf("unsupported USENET_CLIENT %q", c.UsenetClient)
	}

	if c.TorrentClient == "" && c.UsenetClient == "" {
		return fmt.Errorf("at least one of TORRENT_CLIENT or USENET_CLIENT must be set")
	}

	if _, err := c.MaxMetadataBytes(); err != nil {
		return err
	}

	if c.MaxParallel < 1 {
		return fmt.Errorf("MAX_PARALLEL must be positive, got %d", c.MaxParallel)
	}

	return nil
}

// MaxMetadataBytes parses MaxMetadataSize. SI suffixes are decimal ("10MB" is
// 10000000), IEC suffixes are binary ("512KiB" is 524288).
func (c *Config) MaxMetadataBytes() (int64, error) {
	size := strings.TrimSpace(c.MaxMetadataSize)

	parse := units.FromHumanSize
	if binarySize.MatchString(size) {
		parse = units.RAMInBytes
	}

	n, err := parse(size)
	if err != nil {
		return 0, fmt.Errorf("invalid MAX_METADATA_SIZE %q: %w", c.MaxMetadataSize, err)
	}

	if n <= 0 {
		return 0, fmt.Errorf("MAX_METADATA_SIZE must be positive, got %q", c.MaxMetadataSize)
	}

	return n, nil
}

func (c *Config) SlogLevel() slog.Level {
	switch strings.ToUpper(c.LogLevel) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}

	return false
}
