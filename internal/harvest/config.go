package harvest

import "time"

// DefaultVersion is reported in the v query parameter when Config.Version
// is empty.
const DefaultVersion = "dev"

// ObfuscationRule replaces every match of Regex with Replacement, or "*"
// when Replacement is empty.
type ObfuscationRule struct {
	Regex       string
	Replacement string
}

// Config holds the agent identity and delivery settings used to build
// collector requests.
type Config struct {
	AppID      string
	LicenseKey string
	// Beacon is the collector host. Nothing is sent while it is empty.
	Beacon string
	SSL    bool

	Version                   string
	TransactionName           string
	ObfuscatedTransactionName string
	CookiesEnabled            bool
	// PageURL is reported as ref with its query and fragment removed.
	PageURL string

	MaxBytes             int
	TooManyRequestsDelay time.Duration
	Compress             bool
	ObfuscationRules     []ObfuscationRule
}

func (c Config) scheme() string {
	if c.SSL {
		return "https"
	}
	return "http"
}

func (c Config) version() string {
	if c.Version == "" {
		return DefaultVersion
	}
	return c.Version
}
