package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// DefaultConfigPath is used when no -config flag is given.
	DefaultConfigPath = "config/config.yml"

	// IntradayOutputPreEnrichment writes the silver intraday rows to gold.
	IntradayOutputPreEnrichment = "pre_enrichment"
	// IntradayOutputEnriched writes the rows joined with per-symbol aggregates.
	IntradayOutputEnriched = "enriched"
)

type Config struct {
	Stocklake    StocklakeConfig    `yaml:"stocklake"`
	StockDataAPI StockDataAPIConfig `yaml:"stockdata_api"`
	Symbols      []string           `yaml:"symbols"`
	SymbolsFile  string             `yaml:"symbols_file"`
	Extraction   ExtractionConfig   `yaml:"extraction"`
	Datalake     DatalakeConfig     `yaml:"datalake"`
	Gold         GoldConfig         `yaml:"gold"`
	Writer       WriterConfig       `yaml:"writer"`
	Storage      StorageConfig      `yaml:"storage"`
	Logging      LoggingConfig      `yaml:"logging"`
	Metrics      MetricsConfig      `yaml:"metrics"`
}

type StocklakeConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

type StockDataAPIConfig struct {
	BaseURL           string        `yaml:"base_url"`
	APIToken          string        `yaml:"api_token"`
	Timeout           time.Duration `yaml:"timeout"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
}

type ExtractionConfig struct {
	SearchEndpoint   string        `yaml:"search_endpoint"`
	IntradayEndpoint string        `yaml:"intraday_endpoint"`
	IntradayWindow   time.Duration `yaml:"intraday_window"`
}

type DatalakeConfig struct {
	// Root is a local directory, or a key prefix when S3 is enabled.
	Root   string `yaml:"root"`
	Source string `yaml:"source"`
}

type GoldConfig struct {
	IntradayOutput string `yaml:"intraday_output"`
	WriteSummaries bool   `yaml:"write_summaries"`
}

type WriterConfig struct {
	Compression string `yaml:"compression"`
	Manifests   bool   `yaml:"manifests"`
}

type StorageConfig struct {
	S3 S3Config `yaml:"s3"`
}

type S3Config struct {
	Enabled         bool   `yaml:"enabled"`
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	PathStyle       bool   `yaml:"path_style"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

type LoggingConfig struct {
	Level  string                 `yaml:"level"`
	Format string                 `yaml:"format"`
	Output string                 `yaml:"output"`
	MaxAge int                    `yaml:"max_age"`
	Fields map[string]interface{} `yaml:"fields"`
}

type MetricsConfig struct {
	CloudWatch CloudWatchConfig `yaml:"cloudwatch"`
}

type CloudWatchConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Region    string `yaml:"region"`
	Namespace string `yaml:"namespace"`
}

func defaults() Config {
	return Config{
		Stocklake: StocklakeConfig{Name: "stocklake"},
		StockDataAPI: StockDataAPIConfig{
			BaseURL: "https://api.stockdata.org/v1",
			Timeout: 30 * time.Second,
		},
		Extraction: ExtractionConfig{
			SearchEndpoint:   "entity/search",
			IntradayEndpoint: "data/intraday",
			IntradayWindow:   72 * time.Hour,
		},
		Datalake: DatalakeConfig{Root: "datalake", Source: "stockdata_api"},
		Gold:     GoldConfig{IntradayOutput: IntradayOutputPreEnrichment, WriteSummaries: true},
		Writer:   WriterConfig{Compression: "snappy", Manifests: true},
		Logging:  LoggingConfig{Level: "info", Format: defaultLogFormat(), Output: "stdout"},
		Metrics:  MetricsConfig{CloudWatch: CloudWatchConfig{Namespace: "Stocklake"}},
	}
}

// LoadConfig reads the YAML file at path (or its APP_ENV specific sibling),
// applies environment overrides and validates the result.
func LoadConfig(path string) (*Config, error) {
	path = resolveEnvSpecificPath(path, DefaultConfigPath, map[string]string{
		environmentProduction: "config/config.production.yml",
		environmentStaging:    "config/config.staging.yml",
	})

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := defaults()
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if config.SymbolsFile != "" {
		symbolsPath := config.SymbolsFile
		if !filepath.IsAbs(symbolsPath) {
			symbolsPath = filepath.Join(filepath.Dir(path), symbolsPath)
		}
		list, err := LoadSymbolList(symbolsPath)
		if err != nil {
			return nil, err
		}
		config.Symbols = append(config.Symbols, list.Symbols...)
	}

	applyEnvOverrides(&config)

	config.Storage.S3.Bucket = strings.TrimSpace(config.Storage.S3.Bucket)
	config.Symbols = normalizeSymbols(config.Symbols)

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

func applyEnvOverrides(config *Config) {
	if v := os.Getenv("STOCKDATA_API_TOKEN"); v != "" {
		config.StockDataAPI.APIToken = strings.TrimSpace(v)
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		config.Logging.Level = strings.TrimSpace(v)
	}
	if config.Storage.S3.Enabled {
		if v := os.Getenv("AWS_ACCESS_KEY_ID"); v != "" {
			config.Storage.S3.AccessKeyID = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_SECRET_ACCESS_KEY"); v != "" {
			config.Storage.S3.SecretAccessKey = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_REGION"); v != "" {
			config.Storage.S3.Region = strings.TrimSpace(v)
		}
		if v := os.Getenv("S3_BUCKET"); v != "" {
			config.Storage.S3.Bucket = strings.TrimSpace(v)
		}
	}
	if config.Metrics.CloudWatch.Enabled && config.Metrics.CloudWatch.Region == "" {
		config.Metrics.CloudWatch.Region = config.Storage.S3.Region
	}
}

// normalizeSymbols upper-cases and de-duplicates symbols, keeping order.
func normalizeSymbols(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s == "" {
			continue
		}
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

func validateConfig(cfg *Config) error {
	if cfg.Stocklake.Name == "" {
		return fmt.Errorf("stocklake.name is required")
	}

	if cfg.Stocklake.Version == "" {
		return fmt.Errorf("stocklake.version is required")
	}

	if cfg.StockDataAPI.APIToken == "" {
		return fmt.Errorf("stockdata_api.api_token is required (or set STOCKDATA_API_TOKEN)")
	}
	if u, err := url.Parse(cfg.StockDataAPI.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("stockdata_api.base_url '%s' is not an absolute URL", cfg.StockDataAPI.BaseURL)
	}
	if cfg.StockDataAPI.Timeout <= 0 {
		return fmt.Errorf("stockdata_api.timeout must be greater than 0")
	}
	if cfg.StockDataAPI.RequestsPerSecond < 0 {
		return fmt.Errorf("stockdata_api.requests_per_second must not be negative")
	}

	if len(cfg.Symbols) == 0 {
		return fmt.Errorf("symbols must list at least one symbol")
	}

	if cfg.Extraction.IntradayWindow <= 0 {
		return fmt.Errorf("extraction.intraday_window must be greater than 0")
	}

	if cfg.Datalake.Root == "" {
		return fmt.Errorf("datalake.root is required")
	}
	if cfg.Datalake.Source == "" || strings.ContainsAny(cfg.Datalake.Source, `/\`) {
		return fmt.Errorf("datalake.source '%s' must be a single path segment", cfg.Datalake.Source)
	}

	switch cfg.Gold.IntradayOutput {
	case IntradayOutputPreEnrichment, IntradayOutputEnriched:
	default:
		return fmt.Errorf("gold.intraday_output must be %q or %q", IntradayOutputPreEnrichment, IntradayOutputEnriched)
	}

	switch cfg.Writer.Compression {
	case "", "none", "snappy", "gzip", "zstd":
	default:
		return fmt.Errorf("writer.compression '%s' is not supported", cfg.Writer.Compression)
	}

	if cfg.Storage.S3.Enabled {
		if cfg.Storage.S3.Bucket == "" {
			return fmt.Errorf("storage.s3.bucket is required when S3 is enabled")
		}
		if cfg.Storage.S3.Region == "" {
			return fmt.Errorf("storage.s3.region is required when S3 is enabled")
		}
		if !isValidS3Bucket(cfg.Storage.S3.Bucket) {
			return fmt.Errorf("storage.s3.bucket '%s' is invalid", cfg.Storage.S3.Bucket)
		}
	}

	if cfg.Metrics.CloudWatch.Enabled {
		if cfg.Metrics.CloudWatch.Region == "" {
			return fmt.Errorf("metrics.cloudwatch.region is required when CloudWatch is enabled")
		}
		if cfg.Metrics.CloudWatch.Namespace == "" {
			return fmt.Errorf("metrics.cloudwatch.namespace is required when CloudWatch is enabled")
		}
	}

	return nil
}

var s3BucketRegexp = regexp.MustCompile(`^[a-z0-9][a-z0-9.-]{1,61}[a-z0-9]$`)

func isValidS3Bucket(name string) bool {
	if len(name) < 3 || len(name) > 63 {
		return false
	}
	if strings.Contains(name, "..") || strings.HasPrefix(name, ".") || strings.HasSuffix(name, ".") {
		return false
	}
	return s3BucketRegexp.MatchString(name)
}
