// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-imgtransform.
//
// go-imgtransform is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/jeremyhahn/go-imgtransform/pkg/monitor"
	"github.com/jeremyhahn/go-imgtransform/pkg/transform"
	"github.com/jeremyhahn/go-imgtransform/pkg/transformer"
)

// Index drivers.
const (
	IndexMemory   = "memory"
	IndexLevelDB  = "leveldb"
	IndexPostgres = "postgres"
)

// Config holds the CLI configuration settings.
type Config struct {
	Volume        string
	VolumeName    string
	VolumePath    string
	VolumeBucket  string
	VolumeRegion  string
	VolumeKey     string
	VolumeSecret  string
	VolumeURL     string
	VolumeAccount string
	VolumePrefix  string
	BaseURL       string

	IndexDriver string
	IndexPath   string
	IndexDSN    string

	AllowUpscale      bool
	MaxDimension      int
	HeartbeatInterval time.Duration
	StaleAfter        time.Duration
	TempDir           string

	LogLevel  string
	LogFormat string
	Logger    string

	OutputFormat string

	Host      string
	Port      int
	RateLimit float64
	Watch     bool

	// Audit logs index mutations made through the API; AuditReads also
	// logs transform requests.
	Audit      bool
	AuditReads bool

	// Server, when set, sends commands to a running transform API
	// instead of opening the volume and index locally.
	Server string

	// Transforms are the named transforms, keyed by handle.
	Transforms transform.Presets
}

// DefaultTransforms is the named transform table used when the config file
// defines none.
func DefaultTransforms() transform.Presets {
	return transform.Presets{
		"thumb":  {Width: 200, Height: 200, Mode: transform.ModeCrop},
		"square": {Width: 600, Height: 600, Mode: transform.ModeCrop},
		"medium": {Width: 800, Mode: transform.ModeFit},
		"hero":   {Width: 1920, Height: 1080, Mode: transform.ModeCrop, Quality: 75},
	}
}

// LoadEnv loads KEY=VALUE pairs from the given .env files into the process
// environment without overriding variables that are already set. Missing
// files are ignored.
func LoadEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

// InitConfig initializes the configuration using Viper.
// Configuration priority: flags > env vars > config file > defaults.
func InitConfig(cfgFile string) (*viper.Viper, error) {
	v := viper.New()

	v.SetDefault("volume", "local")
	v.SetDefault("volume-name", "default")
	v.SetDefault("volume-path", "./assets")
	v.SetDefault("index-driver", IndexLevelDB)
	v.SetDefault("index-path", "./.imgtransform/index")
	v.SetDefault("allow-upscale", true)
	v.SetDefault("max-dimension", transform.DefaultMaxDimension)
	v.SetDefault("heartbeat-interval", transformer.DefaultHeartbeatInterval)
	v.SetDefault("stale-after", monitor.DefaultStaleAfter)
	v.SetDefault("log-level", "info")
	v.SetDefault("log-format", "json")
	v.SetDefault("logger", "slog")
	v.SetDefault("output-format", "text")
	v.SetDefault("host", "0.0.0.0")
	v.SetDefault("port", 8080)
	v.SetDefault("watch", true)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			v.AddConfigPath(home)
		}
		v.AddConfigPath(".")
		v.SetConfigName(".imgtransform")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("IMGTRANSFORM")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	return v, nil
}

// GetConfig extracts the configuration from Viper into a Config struct.
func GetConfig(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		Volume:            v.GetString("volume"),
		VolumeName:        v.GetString("volume-name"),
		VolumePath:        v.GetString("volume-path"),
		VolumeBucket:      v.GetString("volume-bucket"),
		VolumeRegion:      v.GetString("volume-region"),
		VolumeKey:         v.GetString("volume-key"),
		VolumeSecret:      v.GetString("volume-secret"),
		VolumeURL:         v.GetString("volume-url"),
		VolumeAccount:     v.GetString("volume-account"),
		VolumePrefix:      v.GetString("volume-prefix"),
		BaseURL:           v.GetString("base-url"),
		IndexDriver:       v.GetString("index-driver"),
		IndexPath:         v.GetString("index-path"),
		IndexDSN:          v.GetString("index-dsn"),
		AllowUpscale:      v.GetBool("allow-upscale"),
		MaxDimension:      v.GetInt("max-dimension"),
		HeartbeatInterval: v.GetDuration("heartbeat-interval"),
		StaleAfter:        v.GetDuration("stale-after"),
		TempDir:           v.GetString("temp-dir"),
		LogLevel:          v.GetString("log-level"),
		LogFormat:         v.GetString("log-format"),
		Logger:            v.GetString("logger"),
		OutputFormat:      v.GetString("output-format"),
		Host:              v.GetString("host"),
		Port:              v.GetInt("port"),
		RateLimit:         v.GetFloat64("rate-limit"),
		Watch:             v.GetBool("watch"),
		Audit:             v.GetBool("audit"),
		AuditReads:        v.GetBool("audit-reads"),
		Server:            v.GetString("server"),
	}

	if v.IsSet("transforms") {
		if err := v.UnmarshalKey("transforms", &cfg.Transforms); err != nil {
			return nil, fmt.Errorf("transforms: %w", err)
		}
	} else {
		cfg.Transforms = DefaultTransforms()
	}
	return cfg, nil
}

// GetVolumeSettings converts Config to the settings map of its volume type.
func (c *Config) GetVolumeSettings() map[string]string {
	settings := make(map[string]string)
	set := func(k, v string) {
		if v != "" {
			settings[k] = v
		}
	}

	switch c.Volume {
	case "local":
		set("path", c.VolumePath)
	case "azure":
		set("accountName", c.VolumeAccount)
		set("accountKey", c.VolumeKey)
		set("containerName", c.VolumeBucket)
		set("endpoint", c.VolumeURL)
	default:
		set("bucket", c.VolumeBucket)
		set("region", c.VolumeRegion)
		set("access_key_id", c.VolumeKey)
		set("secret_access_key", c.VolumeSecret)
		set("endpoint", c.VolumeURL)
	}
	set("prefix", c.VolumePrefix)
	return settings
}

// DisplayConfig formats and displays the current configuration.
func DisplayConfig(cfg *Config, format OutputFormat) string {
	rows := []configRow{
		{"Volume", cfg.Volume},
		{"Volume Name", cfg.VolumeName},
		{"Volume Path", cfg.VolumePath},
		{"Volume Bucket", cfg.VolumeBucket},
		{"Volume Region", cfg.VolumeRegion},
		{"Volume URL", cfg.VolumeURL},
		{"Volume Account", cfg.VolumeAccount},
		{"Volume Key", maskSecret(cfg.VolumeKey)},
		{"Volume Secret", maskSecret(cfg.VolumeSecret)},
		{"Base URL", cfg.BaseURL},
		{"Index Driver", cfg.IndexDriver},
		{"Index Path", cfg.IndexPath},
		{"Index DSN", maskDSN(cfg.IndexDSN)},
		{"Allow Upscale", fmt.Sprint(cfg.AllowUpscale)},
		{"Max Dimension", strconv.Itoa(cfg.MaxDimension)},
		{"Heartbeat", cfg.HeartbeatInterval.String()},
		{"Stale After", cfg.StaleAfter.String()},
		{"Logger", cfg.Logger + "/" + cfg.LogFormat + "/" + cfg.LogLevel},
		{"Output Format", cfg.OutputFormat},
		{"Listen", fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)},
		{"Audit", fmt.Sprint(cfg.Audit)},
		{"Server", cfg.Server},
		{"Transforms", strings.Join(cfg.Transforms.Handles(), ", ")},
	}

	switch format {
	case FormatJSON:
		m := make(map[string]string, len(rows))
		for _, r := range rows {
			if r.value != "" {
				m[jsonKey(r.name)] = r.value
			}
		}
		return formatJSON(m)
	case FormatTable:
		return formatConfigTable(rows)
	default:
		var b strings.Builder
		for _, r := range rows {
			if r.value != "" {
				fmt.Fprintf(&b, "%s: %s\n", r.name, r.value)
			}
		}
		return b.String()
	}
}

type configRow struct {
	name, value string
}

func jsonKey(name string) string {
	return strings.ReplaceAll(strings.ToLower(name), " ", "_")
}

func formatConfigTable(rows []configRow) string {
	var b strings.Builder
	b.WriteString("┌──────────────────┬────────────────────────────────────────┐\n")
	b.WriteString("│ Setting          │ Value                                  │\n")
	b.WriteString("├──────────────────┼────────────────────────────────────────┤\n")
	for _, r := range rows {
		if r.value != "" {
			fmt.Fprintf(&b, "│ %-16s │ %-38s │\n", r.name, truncate(r.value, 38))
		}
	}
	b.WriteString("└──────────────────┴────────────────────────────────────────┘\n")
	return b.String()
}

// maskSecret masks sensitive information, showing only first 4 characters.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) < 5 {
		return "****"
	}
	return s[:4] + "****"
}

// maskDSN hides the password of a connection URL.
func maskDSN(dsn string) string {
	at := strings.LastIndex(dsn, "@")
	scheme := strings.Index(dsn, "://")
	if at < 0 || scheme < 0 || scheme > at {
		return dsn
	}
	creds := dsn[scheme+3 : at]
	if colon := strings.Index(creds, ":"); colon >= 0 {
		creds = creds[:colon] + ":****"
	}
	return dsn[:scheme+3] + creds + dsn[at:]
}

// truncate truncates a string to maxLen characters.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}

// ValidateConfig validates the configuration, expands a leading ~ in local
// paths and applies the transform dimension limit.
func ValidateConfig(cfg *Config) error {
	switch cfg.Volume {
	case "local":
		if cfg.VolumePath == "" {
			return ErrVolumePathRequired
		}
		p, err := expandHome(cfg.VolumePath)
		if err != nil {
			return err
		}
		cfg.VolumePath = p
	case "memory":
	case "s3":
		if cfg.VolumeBucket == "" {
			return ErrVolumeBucketRequired
		}
		if cfg.VolumeRegion == "" {
			return ErrVolumeRegionRequired
		}
	case "minio":
		if cfg.VolumeBucket == "" {
			return ErrVolumeBucketRequired
		}
		if cfg.VolumeURL == "" {
			return ErrVolumeURLRequired
		}
	case "gcs":
		if cfg.VolumeBucket == "" {
			return ErrVolumeBucketRequired
		}
	case "azure":
		if cfg.VolumeBucket == "" {
			return ErrVolumeBucketRequired
		}
		if cfg.VolumeAccount == "" || cfg.VolumeKey == "" {
			return ErrVolumeAccountRequired
		}
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedVolume, cfg.Volume)
	}

	switch cfg.IndexDriver {
	case IndexMemory:
	case IndexLevelDB:
		if cfg.IndexPath == "" {
			return ErrIndexPathRequired
		}
		p, err := expandHome(cfg.IndexPath)
		if err != nil {
			return err
		}
		cfg.IndexPath = p
	case IndexPostgres:
		if cfg.IndexDSN == "" {
			return ErrIndexDSNRequired
		}
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedIndexDriver, cfg.IndexDriver)
	}

	switch OutputFormat(cfg.OutputFormat) {
	case FormatText, FormatJSON, FormatTable:
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedOutputFormat, cfg.OutputFormat)
	}

	switch strings.ToLower(cfg.Logger) {
	case "", "slog", "zerolog":
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedLogger, cfg.Logger)
	}

	if cfg.MaxDimension < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidMaxDimension, cfg.MaxDimension)
	}
	if cfg.MaxDimension > 0 {
		transform.MaxDimension = cfg.MaxDimension
	}

	if err := cfg.Transforms.Validate(); err != nil {
		return err
	}
	return nil
}

func expandHome(p string) (string, error) {
	if !strings.HasPrefix(p, "~") {
		return p, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, p[1:]), nil
}
