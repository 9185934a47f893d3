package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/tinytelemetry/mongoslow/internal/logsource"
	"github.com/tinytelemetry/mongoslow/internal/model"
)

const (
	defaultDBPath         = "./mongo_slow_logs.duckdb"
	defaultFormat         = "table"
	defaultLogLevel       = "warn"
	defaultSnapshotKeep   = 5
	defaultQueryTimeout   = model.DefaultQueryTimeout
	defaultInsertBatch    = 2000
	envPrefix             = "MONGOSLOW"
	defaultConfigFileName = "config.yml"
)

// appConfig is internal runtime configuration.
// It is package-private to keep defaults and shape local to the CLI entrypoint.
type appConfig struct {
	Path      string `mapstructure:"path" validate:"required"`
	DBPath    string `mapstructure:"db" validate:"required"`
	Limit     int    `mapstructure:"limit" validate:"gt=0"`
	CharLimit int    `mapstructure:"char-limit" validate:"gte=0"`
	Count     int    `mapstructure:"count" validate:"gte=0"`
	CollScan  bool   `mapstructure:"collscan"`
	SQL       bool   `mapstructure:"sql"`
	GroupBy   string `mapstructure:"group-by" validate:"oneof=shape namespace hash"`
	OrderBy   string `mapstructure:"order-by" validate:"oneof=count total_duration avg_duration max_duration"`
	Format    string `mapstructure:"format" validate:"oneof=table json yaml"`
	Append    bool   `mapstructure:"append"`

	Workers         int           `mapstructure:"workers" validate:"gte=0"`
	InsertBatchSize int           `mapstructure:"insert-batch-size" validate:"gte=0"`
	QueryTimeout    time.Duration `mapstructure:"query-timeout" validate:"gte=0"`
	Rejects         string        `mapstructure:"rejects"`

	SnapshotDir      string `mapstructure:"snapshot-dir"`
	SnapshotBucket   string `mapstructure:"snapshot-bucket" validate:"omitempty,startswith=s3://"`
	SnapshotKeep     int    `mapstructure:"snapshot-keep" validate:"gte=0"`
	SnapshotCompress bool   `mapstructure:"snapshot-compress"`
	S3Endpoint       string `mapstructure:"s3-endpoint"`
	S3Region         string `mapstructure:"s3-region"`
	S3UseSSL         bool   `mapstructure:"s3-use-ssl"`

	Serve string `mapstructure:"serve" validate:"omitempty,hostname_port"`

	LogLevel  string `mapstructure:"log-level" validate:"oneof=trace debug info warn error fatal panic disabled"`
	LogPretty bool   `mapstructure:"log-pretty"`

	ConfigPath  string `mapstructure:"-"` // not from config file
	ShowVersion bool   `mapstructure:"-"`
}

// newFlagSet declares the command line. Flag names double as viper keys.
func newFlagSet() *pflag.FlagSet {
	fs := pflag.NewFlagSet("mongoslow", pflag.ContinueOnError)
	fs.SortFlags = false
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: mongoslow [flags] [LOG_PATH]\n\n")
		fmt.Fprintf(os.Stderr, "Analyze a MongoDB log for slow queries. LOG_PATH defaults to %s; use - for stdin.\n\n", logsource.DefaultPath)
		fs.PrintDefaults()
	}

	fs.String("db", defaultDBPath, "DuckDB database file for the extracted records")
	fs.Int("limit", model.DefaultLimit, "number of groups to report")
	fs.Int("char-limit", model.DefaultCharLimit, "truncate command text to this many characters (0 = unbounded)")
	fs.Int("count", model.DefaultMinCount, "only report groups seen at least this many times")
	fs.Bool("collscan", false, "only consider queries whose plan summary contains COLLSCAN")
	fs.Bool("sql", false, "skip ingestion, report from the existing database and print the SQL to explore it by hand")
	fs.String("group-by", string(model.DefaultDimension), "grouping dimension: shape, namespace or hash")
	fs.String("order-by", string(model.DefaultOrderBy), "ranking: count, total_duration, avg_duration or max_duration")
	fs.String("format", defaultFormat, "output format: table, json or yaml")
	fs.Bool("append", false, "keep records from earlier runs instead of resetting the database")
	fs.Int("workers", 0, "parallel parsers (0 = number of CPUs)")
	fs.String("rejects", "", "write skipped lines to this JSONL file")
	fs.String("snapshot-dir", "", "copy the database into this directory after ingestion")
	fs.String("snapshot-bucket", "", "upload the database snapshot to s3://bucket/prefix")
	fs.String("serve", "", "serve the report API on this address after ingestion (e.g. 127.0.0.1:3000)")
	fs.String("config", "", "config file (default is $HOME/.config/mongoslow/config.yml)")
	fs.String("log-level", defaultLogLevel, "log level: debug, info, warn or error")
	fs.Bool("log-pretty", false, "human-readable log output")
	fs.Bool("version", false, "print version information")
	return fs
}

// loadConfig parses args and merges flags, environment and the optional
// config file, in that order of precedence. Bad input yields an error
// wrapping model.ErrInvalidArgument; pflag.ErrHelp is returned as is.
func loadConfig(args []string) (appConfig, error) {
	var cfg appConfig

	fs := newFlagSet()
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return cfg, err
		}
		return cfg, model.InvalidArgumentf("%v", err)
	}
	if fs.NArg() > 1 {
		return cfg, model.InvalidArgumentf("expected at most one log path, got %d", fs.NArg())
	}
	cfg.ShowVersion, _ = fs.GetBool("version")
	if cfg.ShowVersion {
		return cfg, nil
	}

	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault("path", logsource.DefaultPath)
	v.SetDefault("insert-batch-size", defaultInsertBatch)
	v.SetDefault("query-timeout", defaultQueryTimeout)
	v.SetDefault("snapshot-keep", defaultSnapshotKeep)
	v.SetDefault("snapshot-compress", true)
	v.SetDefault("s3-endpoint", "")
	v.SetDefault("s3-region", "")
	v.SetDefault("s3-use-ssl", true)

	if err := v.BindPFlags(fs); err != nil {
		return cfg, err
	}
	if fs.NArg() == 1 {
		v.Set("path", fs.Arg(0))
	}

	configPath, _ := fs.GetString("config")
	explicit := configPath != ""
	if !explicit {
		if home, err := os.UserHomeDir(); err == nil {
			configPath = filepath.Join(home, ".config", "mongoslow", defaultConfigFileName)
		}
	}
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			missing := errors.As(err, &notFound) || os.IsNotExist(err)
			if explicit || !missing {
				return cfg, fmt.Errorf("reading config %s: %w", configPath, err)
			}
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, model.InvalidArgumentf("decoding config: %v", err)
	}
	cfg.ConfigPath = v.ConfigFileUsed()

	cfg.GroupBy = strings.ToLower(strings.TrimSpace(cfg.GroupBy))
	cfg.OrderBy = strings.ToLower(strings.TrimSpace(cfg.OrderBy))
	cfg.Format = strings.ToLower(strings.TrimSpace(cfg.Format))
	cfg.LogLevel = strings.ToLower(strings.TrimSpace(cfg.LogLevel))

	// Expand ~ in paths
	if home, err := os.UserHomeDir(); err == nil {
		for _, p := range []*string{&cfg.DBPath, &cfg.Path, &cfg.Rejects, &cfg.SnapshotDir} {
			if strings.HasPrefix(*p, "~/") {
				*p = filepath.Join(home, (*p)[2:])
			}
		}
	}

	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("mapstructure"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// validateConfig reports the first invalid setting as an invalid argument.
func validateConfig(cfg appConfig) error {
	err := validate.Struct(cfg)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return model.InvalidArgumentf("%v", err)
	}
	fe := verrs[0]
	switch fe.Tag() {
	case "oneof":
		return model.InvalidArgumentf("--%s must be one of [%s], got %q", fe.Field(), strings.ReplaceAll(fe.Param(), " ", ", "), fe.Value())
	case "gt", "gte":
		return model.InvalidArgumentf("--%s must be %s %s, got %v", fe.Field(), map[string]string{"gt": ">", "gte": ">="}[fe.Tag()], fe.Param(), fe.Value())
	case "required":
		return model.InvalidArgumentf("--%s is required", fe.Field())
	default:
		return model.InvalidArgumentf("--%s is invalid (%s): %v", fe.Field(), fe.Tag(), fe.Value())
	}
}
