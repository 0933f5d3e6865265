package config

import (
	"fmt"
	"regexp"

	"codeberg.org/mutker/harvester/internal/errors"
)

// Validate checks the loaded configuration. The first failing field is
// reported with its error code.
func (c *Config) Validate() error {
	errFactory := errors.New()

	if !LogLevel(c.LogLevel).IsValid() {
		return errFactory.WithData(errors.ErrInvalidLogLevel, c.LogLevel)
	}

	if c.Beacon == "" {
		return errFactory.WithData(errors.ErrMissingConfig, "beacon")
	}

	if c.MaxBytes <= 0 {
		return errFactory.WithData(errors.ErrInvalidConfig, fmt.Sprintf("max_bytes=%d", c.MaxBytes))
	}

	if c.TooManyRequestsDelay < 0 || c.RetryDelay < 0 {
		return errFactory.WithData(errors.ErrInvalidInterval, "retry delays must not be negative")
	}

	for endpoint, interval := range c.Intervals {
		if interval <= 0 {
			return errFactory.WithData(errors.ErrInvalidInterval, fmt.Sprintf("%s=%d", endpoint, interval))
		}
	}

	for i, rule := range c.Obfuscate {
		if rule.Regex == "" {
			return errFactory.WithData(errors.ErrInvalidRule, fmt.Sprintf("rule %d has no regex", i))
		}
		if _, err := regexp.Compile(rule.Regex); err != nil {
			return errFactory.Wrap(errors.ErrInvalidRule, err).WithData(fmt.Sprintf("rule %d", i))
		}
	}

	if c.Journal && c.JournalDB == "" {
		return errFactory.WithData(errors.ErrMissingConfig, "journal_db")
	}

	return nil
}
