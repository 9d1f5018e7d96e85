package config

import (
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"github.com/spf13/pflag"

	"github.com/Sternrassler/bgg-enricher/pkg/client"
)

func newFlags(t *testing.T, args ...string) *pflag.FlagSet {
	t.Helper()
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(flags)
	if err := flags.Parse(args); err != nil {
		t.Fatalf("Parse(%v) error = %v", args, err)
	}
	return flags
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := LoadFile("", newFlags(t))
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}

	if cfg.BatchSize != 20 {
		t.Errorf("BatchSize = %d, want 20", cfg.BatchSize)
	}
	if cfg.BackoffWait != 10*time.Second {
		t.Errorf("BackoffWait = %v, want 10s", cfg.BackoffWait)
	}
	if cfg.RequestTimeout != 30*time.Second {
		t.Errorf("RequestTimeout = %v, want 30s", cfg.RequestTimeout)
	}
	if cfg.BaseURL != client.DefaultBaseURL {
		t.Errorf("BaseURL = %s, want %s", cfg.BaseURL, client.DefaultBaseURL)
	}
	if cfg.Dash != "–" {
		t.Errorf("Dash = %q, want en dash", cfg.Dash)
	}
	want := []string{"average", "bayesaverage", "rank", "yearpublished"}
	if !slices.Equal(cfg.SentinelColumns, want) {
		t.Errorf("SentinelColumns = %v, want %v", cfg.SentinelColumns, want)
	}
	if cfg.Sink != SinkCSV || cfg.Output != "output.csv" || cfg.LinksOutput != "expansions.csv" {
		t.Errorf("sink = %s %s %s, want csv output.csv expansions.csv", cfg.Sink, cfg.Output, cfg.LinksOutput)
	}
	if cfg.ItemsTable != "games_staging" || cfg.LinksTable != "expansions_staging" {
		t.Errorf("tables = %s %s, want games_staging expansions_staging", cfg.ItemsTable, cfg.LinksTable)
	}
	if cfg.LogLevel != "info" || cfg.LogPretty != "auto" {
		t.Errorf("logging = %s %s, want info auto", cfg.LogLevel, cfg.LogPretty)
	}
}

func TestLoad_Precedence(t *testing.T) {
	t.Setenv("BGG_BATCH_SIZE", "5")
	t.Setenv("BGG_BACKOFF_WAIT", "3s")
	t.Setenv("BGG_SENTINEL_COLUMNS", "rank, average")
	t.Setenv("BGG_INCLUDE_TAXONOMY", "true")

	cfg, err := LoadFile("", newFlags(t, "--batch-size=7", "-o", "enriched.csv"))
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}

	if cfg.BatchSize != 7 {
		t.Errorf("BatchSize = %d, want 7 (flag over env)", cfg.BatchSize)
	}
	if cfg.BackoffWait != 3*time.Second {
		t.Errorf("BackoffWait = %v, want 3s (env over default)", cfg.BackoffWait)
	}
	if !slices.Equal(cfg.SentinelColumns, []string{"rank", "average"}) {
		t.Errorf("SentinelColumns = %v, want [rank average]", cfg.SentinelColumns)
	}
	if !cfg.IncludeTaxonomy {
		t.Error("IncludeTaxonomy = false, want true")
	}
	if cfg.Output != "enriched.csv" {
		t.Errorf("Output = %s, want enriched.csv", cfg.Output)
	}
}

func TestLoad_EnvFile(t *testing.T) {
	// godotenv never overrides variables already set; register cleanup for
	// the ones the file sets.
	t.Setenv("BGG_USERNAME", "")
	os.Unsetenv("BGG_USERNAME")
	t.Setenv("BGG_SINK", "")
	os.Unsetenv("BGG_SINK")
	t.Setenv("BGG_SQLITE_PATH", "")
	os.Unsetenv("BGG_SQLITE_PATH")

	path := filepath.Join(t.TempDir(), ".env")
	content := "BGG_USERNAME=meeple\nBGG_SINK=sqlite\nBGG_SQLITE_PATH=/tmp/bgg.db\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFile(path, nil)
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}
	if cfg.Username != "meeple" {
		t.Errorf("Username = %q, want meeple", cfg.Username)
	}
	if cfg.Sink != SinkSQLite || cfg.SQLitePath != "/tmp/bgg.db" {
		t.Errorf("sink = %s %s, want sqlite /tmp/bgg.db", cfg.Sink, cfg.SQLitePath)
	}
}

func TestLoad_MissingEnvFile(t *testing.T) {
	if _, err := LoadFile(filepath.Join(t.TempDir(), "absent.env"), nil); err != nil {
		t.Errorf("LoadFile() with missing env file error = %v, want nil", err)
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg, err := LoadFile("", nil)
		if err != nil {
			t.Fatalf("LoadFile() error = %v", err)
		}
		return cfg
	}

	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{name: "batch size zero", modify: func(c *Config) { c.BatchSize = 0 }},
		{name: "batch size above max", modify: func(c *Config) { c.BatchSize = 21 }},
		{name: "negative wait", modify: func(c *Config) { c.BackoffWait = -time.Second }},
		{name: "negative interval", modify: func(c *Config) { c.RequestInterval = -time.Second }},
		{name: "bad base url", modify: func(c *Config) { c.BaseURL = "boardgamegeek.com" }},
		{name: "no user agent", modify: func(c *Config) { c.UserAgent = "" }},
		{name: "multi-rune dash", modify: func(c *Config) { c.Dash = "--" }},
		{name: "unknown sink", modify: func(c *Config) { c.Sink = "parquet" }},
		{name: "postgres without dsn", modify: func(c *Config) { c.Sink = SinkPostgres }},
		{name: "sqlite without table", modify: func(c *Config) { c.Sink = SinkSQLite; c.ItemsTable = "" }},
		{name: "restrict on csv", modify: func(c *Config) { c.RestrictColumns = true }},
		{name: "bad log level", modify: func(c *Config) { c.LogLevel = "trace" }},
		{name: "bad pretty mode", modify: func(c *Config) { c.LogPretty = "yes" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.modify(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Validate() error = nil, want error")
			}
		})
	}

	if err := valid().Validate(); err != nil {
		t.Errorf("Validate() on defaults error = %v", err)
	}
}

func TestConfig_Conversions(t *testing.T) {
	cfg, err := LoadFile("", newFlags(t, "--dash=~", "--description-length=-1", "--request-interval=1s", "--api-token=tok"))
	if err != nil {
		t.Fatal(err)
	}

	opts := cfg.ThingOptions()
	if opts.Dash != '~' {
		t.Errorf("Dash = %q, want '~'", opts.Dash)
	}
	if opts.DescriptionLength != -1 {
		t.Errorf("DescriptionLength = %d, want -1", opts.DescriptionLength)
	}

	cc := cfg.ClientConfig()
	if cc.RequestInterval != time.Second || cc.APIToken != "tok" || cc.UserAgent != "bgg-enricher/0.1.0" {
		t.Errorf("ClientConfig() = %+v", cc)
	}

	if got := cfg.MergeOptions().SentinelColumns; len(got) != 4 {
		t.Errorf("MergeOptions().SentinelColumns = %v, want 4 defaults", got)
	}
	if lc := cfg.LoggingConfig(); lc.Level != "info" || lc.Output == nil {
		t.Errorf("LoggingConfig() = %+v", lc)
	}
}
