// Package config loads enricher settings from flags, environment variables
// and an optional .env file, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/Sternrassler/bgg-enricher/pkg/batch"
	"github.com/Sternrassler/bgg-enricher/pkg/catalog"
	"github.com/Sternrassler/bgg-enricher/pkg/client"
	"github.com/Sternrassler/bgg-enricher/pkg/logging"
	"github.com/Sternrassler/bgg-enricher/pkg/thing"
)

// EnvPrefix is prepended to every environment variable.
const EnvPrefix = "BGG"

// DefaultEnvFile is loaded when present.
const DefaultEnvFile = ".env"

// Sink kinds.
const (
	SinkCSV      = "csv"
	SinkXLSX     = "xlsx"
	SinkSQLite   = "sqlite"
	SinkPostgres = "postgres"
)

// Config holds the full enricher configuration.
type Config struct {
	BatchSize       int
	BackoffWait     time.Duration
	RequestInterval time.Duration
	RequestTimeout  time.Duration
	BaseURL         string
	APIToken        string
	UserAgent       string

	DescriptionLength int
	IncludeTaxonomy   bool
	TaxonomyDelimiter string
	Dash              string
	SentinelColumns   []string

	Input       string
	Output      string
	LinksOutput string
	Sink        string
	SQLitePath  string
	PostgresDSN string
	ItemsTable  string
	LinksTable  string

	RestrictColumns bool
	RedisAddr       string
	MetricsAddr     string

	Username string
	Password string

	LogLevel  string
	LogPretty string
}

// defaults maps every key to its default value.
var defaults = map[string]any{
	"batch_size":         batch.MaxSize,
	"backoff_wait":       client.DefaultBackoffWait,
	"request_interval":   time.Duration(0),
	"request_timeout":    30 * time.Second,
	"base_url":           client.DefaultBaseURL,
	"api_token":          "",
	"user_agent":         "bgg-enricher/0.1.0",
	"description_length": 100,
	"include_taxonomy":   false,
	"taxonomy_delimiter": "|",
	"dash":               string(thing.DefaultDash),
	"sentinel_columns":   strings.Join(catalog.DefaultSentinelColumns, ","),
	"input":              "boardgames_ranks.csv",
	"output":             "output.csv",
	"links_output":       "expansions.csv",
	"sink":               SinkCSV,
	"sqlite_path":        "bgg.db",
	"postgres_dsn":       "",
	"items_table":        "games_staging",
	"links_table":        "expansions_staging",
	"restrict_columns":   false,
	"redis_addr":         "",
	"metrics_addr":       "",
	"username":           "",
	"password":           "",
	"log_level":          string(logging.LevelInfo),
	"log_pretty":         string(logging.PrettyAuto),
}

// flagName turns a config key into its command-line flag name.
func flagName(key string) string {
	return strings.ReplaceAll(key, "_", "-")
}

// Load reads the configuration. Flags that were set on the command line win
// over BGG_* environment variables, which win over .env and the defaults.
func Load(flags *pflag.FlagSet) (*Config, error) {
	return LoadFile(DefaultEnvFile, flags)
}

// LoadFile is Load with an explicit env file. A missing file is not an error.
func LoadFile(envFile string, flags *pflag.FlagSet) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", envFile, err)
		}
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	if flags != nil {
		for key := range defaults {
			if f := flags.Lookup(flagName(key)); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("bind flag %s: %w", f.Name, err)
				}
			}
		}
	}

	cfg := &Config{
		BatchSize:         v.GetInt("batch_size"),
		BackoffWait:       v.GetDuration("backoff_wait"),
		RequestInterval:   v.GetDuration("request_interval"),
		RequestTimeout:    v.GetDuration("request_timeout"),
		BaseURL:           v.GetString("base_url"),
		APIToken:          v.GetString("api_token"),
		UserAgent:         v.GetString("user_agent"),
		DescriptionLength: v.GetInt("description_length"),
		IncludeTaxonomy:   v.GetBool("include_taxonomy"),
		TaxonomyDelimiter: v.GetString("taxonomy_delimiter"),
		Dash:              v.GetString("dash"),
		SentinelColumns:   splitList(v.GetString("sentinel_columns")),
		Input:             v.GetString("input"),
		Output:            v.GetString("output"),
		LinksOutput:       v.GetString("links_output"),
		Sink:              strings.ToLower(v.GetString("sink")),
		SQLitePath:        v.GetString("sqlite_path"),
		PostgresDSN:       v.GetString("postgres_dsn"),
		ItemsTable:        v.GetString("items_table"),
		LinksTable:        v.GetString("links_table"),
		RestrictColumns:   v.GetBool("restrict_columns"),
		RedisAddr:         v.GetString("redis_addr"),
		MetricsAddr:       v.GetString("metrics_addr"),
		Username:          v.GetString("username"),
		Password:          v.GetString("password"),
		LogLevel:          strings.ToLower(v.GetString("log_level")),
		LogPretty:         strings.ToLower(v.GetString("log_pretty")),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Validate checks ranges and combinations.
func (c *Config) Validate() error {
	if c.BatchSize < 1 || c.BatchSize > batch.MaxSize {
		return fmt.Errorf("batch_size must be between 1 and %d (got %d)", batch.MaxSize, c.BatchSize)
	}
	if c.BackoffWait < 0 {
		return fmt.Errorf("backoff_wait must be >= 0 (got %s)", c.BackoffWait)
	}
	if c.RequestInterval < 0 {
		return fmt.Errorf("request_interval must be >= 0 (got %s)", c.RequestInterval)
	}
	if c.RequestTimeout < 0 {
		return fmt.Errorf("request_timeout must be >= 0 (got %s)", c.RequestTimeout)
	}
	if u, err := url.Parse(c.BaseURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("base_url must be http or https (got %q)", c.BaseURL)
	}
	if c.UserAgent == "" {
		return fmt.Errorf("user_agent is required")
	}
	if utf8.RuneCountInString(c.Dash) != 1 {
		return fmt.Errorf("dash must be a single character (got %q)", c.Dash)
	}

	switch c.Sink {
	case SinkCSV:
		if c.Output == "" || c.LinksOutput == "" {
			return fmt.Errorf("output and links_output are required for the csv sink")
		}
	case SinkXLSX:
		if c.Output == "" {
			return fmt.Errorf("output is required for the xlsx sink")
		}
	case SinkSQLite:
		if c.SQLitePath == "" {
			return fmt.Errorf("sqlite_path is required for the sqlite sink")
		}
	case SinkPostgres:
		if c.PostgresDSN == "" {
			return fmt.Errorf("postgres_dsn is required for the postgres sink")
		}
	default:
		return fmt.Errorf("sink must be one of csv, xlsx, sqlite, postgres (got %q)", c.Sink)
	}
	if (c.Sink == SinkSQLite || c.Sink == SinkPostgres) && (c.ItemsTable == "" || c.LinksTable == "") {
		return fmt.Errorf("items_table and links_table are required for the %s sink", c.Sink)
	}
	if c.RestrictColumns && c.Sink != SinkSQLite && c.Sink != SinkPostgres {
		return fmt.Errorf("restrict_columns needs a database sink (got %q)", c.Sink)
	}

	switch logging.LogLevel(c.LogLevel) {
	case logging.LevelDebug, logging.LevelInfo, logging.LevelWarn, logging.LevelError:
	default:
		return fmt.Errorf("log_level must be debug, info, warn or error (got %q)", c.LogLevel)
	}
	switch logging.PrettyMode(c.LogPretty) {
	case logging.PrettyAuto, logging.PrettyOn, logging.PrettyOff:
	default:
		return fmt.Errorf("log_pretty must be auto, true or false (got %q)", c.LogPretty)
	}
	return nil
}

// ThingOptions returns the field-extraction options.
func (c *Config) ThingOptions() thing.Options {
	dash, _ := utf8.DecodeRuneInString(c.Dash)
	return thing.Options{
		DescriptionLength: c.DescriptionLength,
		IncludeTaxonomy:   c.IncludeTaxonomy,
		TaxonomyDelimiter: c.TaxonomyDelimiter,
		Dash:              dash,
	}
}

// ClientConfig returns the thing client configuration without collaborators.
func (c *Config) ClientConfig() client.Config {
	cfg := client.DefaultConfig(c.UserAgent)
	cfg.BaseURL = c.BaseURL
	cfg.APIToken = c.APIToken
	cfg.Timeout = c.RequestTimeout
	cfg.BackoffWait = c.BackoffWait
	cfg.RequestInterval = c.RequestInterval
	return cfg
}

// MergeOptions returns the merge options.
func (c *Config) MergeOptions() catalog.MergeOptions {
	return catalog.MergeOptions{SentinelColumns: c.SentinelColumns}
}

// LoggingConfig returns the logger configuration writing to stderr.
func (c *Config) LoggingConfig() logging.Config {
	cfg := logging.DefaultConfig()
	cfg.Level = logging.LogLevel(c.LogLevel)
	cfg.Pretty = logging.PrettyMode(c.LogPretty)
	return cfg
}

// RegisterFlags adds one flag per key to flags. Defaults shown in help are
// the built-in ones; environment values still apply when a flag is unset.
func RegisterFlags(flags *pflag.FlagSet) {
	flags.Int(flagName("batch_size"), batch.MaxSize, "ids per thing request (1-20)")
	flags.Duration(flagName("backoff_wait"), client.DefaultBackoffWait, "fixed wait before resubmitting a failed request")
	flags.Duration(flagName("request_interval"), 0, "minimum pause between requests (0 = no pacing)")
	flags.Duration(flagName("request_timeout"), 30*time.Second, "timeout for a single HTTP attempt")
	flags.String(flagName("base_url"), client.DefaultBaseURL, "XML API root")
	flags.String(flagName("api_token"), "", "bearer token for the XML API")
	flags.String(flagName("user_agent"), "bgg-enricher/0.1.0", "User-Agent header")
	flags.Int(flagName("description_length"), 100, "characters of description kept (negative = all)")
	flags.Bool(flagName("include_taxonomy"), false, "add joined mechanic/category/family columns")
	flags.String(flagName("taxonomy_delimiter"), "|", "separator inside taxonomy columns")
	flags.String(flagName("dash"), string(thing.DefaultDash), "range glyph in player-count summaries")
	flags.String(flagName("sentinel_columns"), strings.Join(catalog.DefaultSentinelColumns, ","), "columns where 0 means no data")
	flags.StringP(flagName("input"), "i", "boardgames_ranks.csv", "catalog CSV or rank dump zip")
	flags.StringP(flagName("output"), "o", "output.csv", "item output file (csv, xlsx)")
	flags.String(flagName("links_output"), "expansions.csv", "expansion link output file (csv)")
	flags.String(flagName("sink"), SinkCSV, "output kind: csv, xlsx, sqlite, postgres")
	flags.String(flagName("sqlite_path"), "bgg.db", "SQLite database file")
	flags.String(flagName("postgres_dsn"), "", "Postgres connection string")
	flags.String(flagName("items_table"), "games_staging", "database table for items")
	flags.String(flagName("links_table"), "expansions_staging", "database table for expansion links")
	flags.Bool(flagName("restrict_columns"), false, "write only columns the items table already has")
	flags.String(flagName("redis_addr"), "", "Redis address for the shared backoff window")
	flags.String(flagName("metrics_addr"), "", "listen address for /metrics")
	flags.String(flagName("username"), "", "BGG username for the dump download")
	flags.String(flagName("password"), "", "BGG password for the dump download")
	flags.String(flagName("log_level"), string(logging.LevelInfo), "debug, info, warn or error")
	flags.String(flagName("log_pretty"), string(logging.PrettyAuto), "console output: auto, true or false")
}
