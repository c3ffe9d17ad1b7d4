package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Input       InputConfig       `yaml:"input" mapstructure:"input"`
	Output      OutputConfig      `yaml:"output" mapstructure:"output"`
	Workers     WorkersConfig     `yaml:"workers" mapstructure:"workers"`
	Coordinator CoordinatorConfig `yaml:"coordinator" mapstructure:"coordinator"`
	Lookup      LookupConfig      `yaml:"lookup" mapstructure:"lookup"`
	Metrics     MetricsConfig     `yaml:"metrics" mapstructure:"metrics"`
	Log         LogConfig         `yaml:"log" mapstructure:"log"`
}

// InputConfig locates the spreadsheet to process.
type InputConfig struct {
	Path  string `yaml:"path" mapstructure:"path"`
	Sheet string `yaml:"sheet" mapstructure:"sheet"`
	// KeyColumn is detected from the header when empty.
	KeyColumn string `yaml:"key_column" mapstructure:"key_column"`
	// AuxColumns are carried to the output unchanged. Nil means detect.
	AuxColumns []string `yaml:"aux_columns" mapstructure:"aux_columns"`
	Encoding   string   `yaml:"encoding" mapstructure:"encoding"`
}

// OutputConfig configures the checkpoint store.
type OutputConfig struct {
	Path          string      `yaml:"path" mapstructure:"path"`
	Driver        string      `yaml:"driver" mapstructure:"driver"`
	DatabaseURL   string      `yaml:"database_url" mapstructure:"database_url"`
	Sheet         string      `yaml:"sheet" mapstructure:"sheet"`
	BusyTimeoutMs int         `yaml:"busy_timeout_ms" mapstructure:"busy_timeout_ms"`
	Retry         RetryConfig `yaml:"retry" mapstructure:"retry"`
}

// RetryConfig is the backoff applied to forced checkpoint saves.
type RetryConfig struct {
	MaxAttempts      int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int     `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int     `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
	Multiplier       float64 `yaml:"multiplier" mapstructure:"multiplier"`
	JitterFraction   float64 `yaml:"jitter_fraction" mapstructure:"jitter_fraction"`
}

// WorkersConfig sizes and paces the worker pool.
type WorkersConfig struct {
	Count              int `yaml:"count" mapstructure:"count"`
	StaggerMs          int `yaml:"stagger_ms" mapstructure:"stagger_ms"`
	ItemDelayMs        int `yaml:"item_delay_ms" mapstructure:"item_delay_ms"`
	SessionAttempts    int `yaml:"session_attempts" mapstructure:"session_attempts"`
	SessionBackoffSecs int `yaml:"session_backoff_secs" mapstructure:"session_backoff_secs"`
}

// CoordinatorConfig paces supervision and periodic checkpoints.
type CoordinatorConfig struct {
	PollIntervalSecs       int `yaml:"poll_interval_secs" mapstructure:"poll_interval_secs"`
	CheckpointIntervalSecs int `yaml:"checkpoint_interval_secs" mapstructure:"checkpoint_interval_secs"`
}

// LookupConfig selects and tunes the lookup adapter.
type LookupConfig struct {
	Driver            string         `yaml:"driver" mapstructure:"driver"`
	URL               string         `yaml:"url" mapstructure:"url"`
	TimeoutSecs       int            `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	PageWaitMs        int            `yaml:"page_wait_ms" mapstructure:"page_wait_ms"`
	RatePerSec        float64        `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
	IdentifierPattern string         `yaml:"identifier_pattern" mapstructure:"identifier_pattern"`
	PreferredPrefix   string         `yaml:"preferred_prefix" mapstructure:"preferred_prefix"`
	Keywords          KeywordsConfig `yaml:"keywords" mapstructure:"keywords"`
	HTTP              HTTPConfig     `yaml:"http" mapstructure:"http"`
	Browser           BrowserConfig  `yaml:"browser" mapstructure:"browser"`
}

// KeywordsConfig maps page text to statuses; the first match wins in the
// order active, inactive, suspended.
type KeywordsConfig struct {
	Active    []string `yaml:"active" mapstructure:"active"`
	Inactive  []string `yaml:"inactive" mapstructure:"inactive"`
	Suspended []string `yaml:"suspended" mapstructure:"suspended"`
}

// HTTPConfig configures the plain HTTP form adapter.
type HTTPConfig struct {
	Method      string            `yaml:"method" mapstructure:"method"`
	QueryParam  string            `yaml:"query_param" mapstructure:"query_param"`
	ExtraParams map[string]string `yaml:"extra_params" mapstructure:"extra_params"`
	UserAgent   string            `yaml:"user_agent" mapstructure:"user_agent"`
}

// BrowserConfig configures the headless browser adapter.
type BrowserConfig struct {
	Headless       bool   `yaml:"headless" mapstructure:"headless"`
	VisibleWorker  int    `yaml:"visible_worker" mapstructure:"visible_worker"`
	ExecPath       string `yaml:"exec_path" mapstructure:"exec_path"`
	TabSelector    string `yaml:"tab_selector" mapstructure:"tab_selector"`
	InputSelector  string `yaml:"input_selector" mapstructure:"input_selector"`
	SubmitSelector string `yaml:"submit_selector" mapstructure:"submit_selector"`
}

// MetricsConfig configures the prometheus listener.
type MetricsConfig struct {
	Addr string `yaml:"addr" mapstructure:"addr"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Lookup driver names.
const (
	LookupBrowser = "browser"
	LookupHTTP    = "http"
	LookupOffline = "offline"
)

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("TAXID")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("input.path", "DATA.xlsx")
	v.SetDefault("input.encoding", "utf-8")
	v.SetDefault("output.path", "RESULTADOS_FINALES.xlsx")
	v.SetDefault("output.driver", "auto")
	v.SetDefault("output.busy_timeout_ms", 1000)
	v.SetDefault("output.retry.max_attempts", 5)
	v.SetDefault("output.retry.initial_backoff_ms", 1000)
	v.SetDefault("output.retry.max_backoff_ms", 5000)
	v.SetDefault("output.retry.multiplier", 2.0)
	v.SetDefault("output.retry.jitter_fraction", 0.1)
	v.SetDefault("workers.count", 5)
	v.SetDefault("workers.stagger_ms", 2000)
	v.SetDefault("workers.item_delay_ms", 500)
	v.SetDefault("workers.session_attempts", 3)
	v.SetDefault("workers.session_backoff_secs", 3)
	v.SetDefault("coordinator.poll_interval_secs", 5)
	v.SetDefault("coordinator.checkpoint_interval_secs", 30)
	v.SetDefault("lookup.driver", LookupBrowser)
	v.SetDefault("lookup.url", "https://e-consultaruc.sunat.gob.pe/cl-ti-itmrconsruc/FrameCriterioBusquedaWeb.jsp")
	v.SetDefault("lookup.timeout_secs", 10)
	v.SetDefault("lookup.page_wait_ms", 3000)
	v.SetDefault("lookup.rate_per_sec", 2)
	v.SetDefault("lookup.identifier_pattern", `\b(?:10|20)\d{9}\b`)
	v.SetDefault("lookup.preferred_prefix", "20")
	v.SetDefault("lookup.keywords.active", []string{"ACTIVO"})
	v.SetDefault("lookup.keywords.inactive", []string{"BAJA"})
	v.SetDefault("lookup.keywords.suspended", []string{"SUSPENSION"})
	v.SetDefault("lookup.http.method", "POST")
	v.SetDefault("lookup.http.query_param", "razSoc")
	v.SetDefault("lookup.browser.headless", true)
	v.SetDefault("lookup.browser.visible_worker", -1)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate rejects settings a run cannot start with.
func (c *Config) Validate() error {
	if c.Workers.Count < 1 {
		return eris.Errorf("config: workers.count must be at least 1, got %d", c.Workers.Count)
	}
	if c.Workers.SessionAttempts < 1 {
		return eris.Errorf("config: workers.session_attempts must be at least 1, got %d", c.Workers.SessionAttempts)
	}
	if c.Workers.SessionBackoffSecs < 0 {
		return eris.Errorf("config: workers.session_backoff_secs must not be negative, got %d", c.Workers.SessionBackoffSecs)
	}
	if strings.TrimSpace(c.Input.Path) == "" {
		return eris.New("config: input.path is required")
	}
	if strings.TrimSpace(c.Output.Path) == "" && c.Output.DatabaseURL == "" {
		return eris.New("config: output.path is required")
	}
	switch strings.ToLower(c.Output.Driver) {
	case "", "auto", "xlsx", "csv", "sqlite":
	case "postgres":
		if c.Output.DatabaseURL == "" {
			return eris.New("config: output.database_url is required for the postgres driver")
		}
	default:
		return eris.Errorf("config: unknown output.driver %q", c.Output.Driver)
	}
	switch c.Lookup.Driver {
	case LookupBrowser, LookupHTTP:
		if c.Lookup.URL == "" {
			return eris.Errorf("config: lookup.url is required for the %s driver", c.Lookup.Driver)
		}
	case LookupOffline:
	default:
		return eris.Errorf("config: unknown lookup.driver %q", c.Lookup.Driver)
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
