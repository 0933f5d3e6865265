package config

import (
	"os"
	"strings"

	"codeberg.org/mutker/harvester/internal/errors"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	DefaultLogLevel             = "info"
	DefaultBeacon               = "bam.nr-data.net"
	DefaultMaxBytes             = 30000
	DefaultTooManyRequestsDelay = 60
	DefaultRetryDelay           = 30
	DefaultJournalDB            = "/var/lib/harvester/journal.db"
	DefaultPIDDir               = ""
	configName                  = "harvester"
	defaultEnvPrefix            = "HARVESTER"
)

// DefaultIntervals holds the harvest period, in seconds, of each endpoint.
var DefaultIntervals = map[string]int{
	"jserrors": 60,
	"events":   30,
	"ins":      30,
}

type Config struct {
	AppID                string            `mapstructure:"app_id"`
	LicenseKey           string            `mapstructure:"license_key"`
	Beacon               string            `mapstructure:"beacon"`
	SSL                  bool              `mapstructure:"ssl"`
	TransactionName      string            `mapstructure:"transaction_name"`
	CookiesEnabled       bool              `mapstructure:"cookies_enabled"`
	PageURL              string            `mapstructure:"page_url"`
	MaxBytes             int               `mapstructure:"max_bytes"`
	TooManyRequestsDelay int               `mapstructure:"too_many_requests_delay"`
	RetryDelay           int               `mapstructure:"retry_delay"`
	Intervals            map[string]int    `mapstructure:"intervals"`
	Obfuscate            []ObfuscationRule `mapstructure:"obfuscate"`
	XHRUsable            bool              `mapstructure:"xhr_usable"`
	BeaconSupported      bool              `mapstructure:"beacon_supported"`
	Compress             bool              `mapstructure:"compress"`
	LogLevel             string            `mapstructure:"log_level"`
	Journal              bool              `mapstructure:"journal"`
	JournalDB            string            `mapstructure:"journal_db"`
	MetricsAddr          string            `mapstructure:"metrics_addr"`
	PIDDir               string            `mapstructure:"pid_dir"`
}

// Interval returns the configured harvest period for an endpoint, in seconds.
func (c *Config) Interval(endpoint string) int {
	if v, ok := c.Intervals[endpoint]; ok {
		return v
	}

	return DefaultIntervals[endpoint]
}

func Load(opts ...Option) (*Config, error) {
	errFactory := errors.New()

	o := &options{envPrefix: defaultEnvPrefix}
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, errFactory.Wrap(errors.ErrInvalidArgument, err)
		}
	}
	if !o.argsSet {
		o.args = os.Args[1:]
	}

	v := viper.New()
	setDefaults(v)

	flags := pflag.NewFlagSet(configName, pflag.ContinueOnError)
	flags.String("app-id", "", "Application id reported with every harvest")
	flags.String("license-key", "", "License key used in the collector URL")
	flags.String("beacon", DefaultBeacon, "Collector host")
	flags.Bool("ssl", true, "Use https for the collector")
	flags.String("transaction-name", "", "Transaction name reported with every harvest")
	flags.Int("max-bytes", DefaultMaxBytes, "Maximum payload size in bytes")
	flags.Bool("compress", false, "Gzip request bodies")
	flags.String("log-level", DefaultLogLevel, "Log level (debug, info, warning, error)")
	flags.Bool("journal", false, "Record delivery outcomes in the journal database")
	flags.String("journal-db", DefaultJournalDB, "Path to the journal database")
	flags.String("metrics-addr", "", "Address to serve Prometheus metrics on")
	flags.String("pid-dir", DefaultPIDDir, "Directory for the pid file (empty for the temp dir)")
	flags.String("config", "", "Path to the configuration file")

	if err := flags.Parse(o.args); err != nil {
		return nil, errFactory.Wrap(errors.ErrBindFlags, err)
	}

	// Flags use dashes, config keys use underscores.
	var bindErr error
	flags.VisitAll(func(f *pflag.Flag) {
		if f.Name == "config" || bindErr != nil {
			return
		}
		bindErr = v.BindPFlag(strings.ReplaceAll(f.Name, "-", "_"), f)
	})
	if bindErr != nil {
		return nil, errFactory.Wrap(errors.ErrBindFlags, bindErr)
	}

	v.SetEnvPrefix(o.envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	configPath := o.configPath
	if flagPath, _ := flags.GetString("config"); flagPath != "" {
		configPath = flagPath
	}
	if configPath == "" {
		configPath = os.Getenv(o.envPrefix + "_CONFIG")
	}

	if err := readConfigFile(v, configPath); err != nil {
		return nil, err
	}

	config := &Config{}
	if err := v.Unmarshal(config); err != nil {
		return nil, errFactory.Wrap(errors.ErrReadConfig, err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("beacon", DefaultBeacon)
	v.SetDefault("ssl", true)
	v.SetDefault("cookies_enabled", true)
	v.SetDefault("max_bytes", DefaultMaxBytes)
	v.SetDefault("too_many_requests_delay", DefaultTooManyRequestsDelay)
	v.SetDefault("retry_delay", DefaultRetryDelay)
	v.SetDefault("xhr_usable", true)
	v.SetDefault("beacon_supported", true)
	v.SetDefault("log_level", DefaultLogLevel)
	v.SetDefault("journal_db", DefaultJournalDB)
	for endpoint, interval := range DefaultIntervals {
		v.SetDefault("intervals."+endpoint, interval)
	}
}

func readConfigFile(v *viper.Viper, path string) error {
	errFactory := errors.New()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return errFactory.Wrap(errors.ErrReadConfig, err)
		}
		return nil
	}

	v.SetConfigName(configName)
	v.SetConfigType("toml")
	v.AddConfigPath("/etc")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return errFactory.Wrap(errors.ErrReadConfig, err)
		}
	}

	return nil
}
