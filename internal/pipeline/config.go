package pipeline

import (
	"time"

	"codeberg.org/mutker/harvester/internal/config"
	"codeberg.org/mutker/harvester/internal/harvest"
)

// Harvest endpoints.
const (
	EndpointErrors      = "jserrors"
	EndpointEvents      = "events"
	EndpointPageActions = "ins"
)

const (
	defaultMaxPageActions = 1000
	defaultRetryDelay     = 30 * time.Second
)

// Config is everything a Pipeline needs beyond its collaborators.
type Config struct {
	Harvest harvest.Config
	// Intervals maps endpoint to harvest period. Endpoints without an
	// entry use config.DefaultIntervals.
	Intervals      map[string]time.Duration
	RetryDelay     time.Duration
	MaxPageActions int
}

// ConfigFrom maps the loaded application configuration onto a pipeline
// Config.
func ConfigFrom(c *config.Config, version string) Config {
	rules := make([]harvest.ObfuscationRule, 0, len(c.Obfuscate))
	for _, r := range c.Obfuscate {
		rules = append(rules, harvest.ObfuscationRule{Regex: r.Regex, Replacement: r.Replacement})
	}

	intervals := make(map[string]time.Duration, len(config.DefaultIntervals))
	for endpoint := range config.DefaultIntervals {
		intervals[endpoint] = config.Seconds(c.Interval(endpoint))
	}

	return Config{
		Harvest: harvest.Config{
			AppID:                c.AppID,
			LicenseKey:           c.LicenseKey,
			Beacon:               c.Beacon,
			SSL:                  c.SSL,
			Version:              version,
			TransactionName:      c.TransactionName,
			CookiesEnabled:       c.CookiesEnabled,
			PageURL:              c.PageURL,
			MaxBytes:             c.MaxBytes,
			TooManyRequestsDelay: config.Seconds(c.TooManyRequestsDelay),
			Compress:             c.Compress,
			ObfuscationRules:     rules,
		},
		Intervals:  intervals,
		RetryDelay: config.Seconds(c.RetryDelay),
	}
}

func (c Config) interval(endpoint string) time.Duration {
	if d, ok := c.Intervals[endpoint]; ok && d > 0 {
		return d
	}
	return config.Seconds(config.DefaultIntervals[endpoint])
}

func (c Config) retryDelay() time.Duration {
	if c.RetryDelay > 0 {
		return c.RetryDelay
	}
	return defaultRetryDelay
}

func (c Config) maxPageActions() int {
	if c.MaxPageActions > 0 {
		return c.MaxPageActions
	}
	return defaultMaxPageActions
}
