package waf

import (
	"fmt"

	"github.com/mitchellh/mapstructure"
)

// Signature categories. The category travels into the audit trail as part
// of the WAF_<category> event type.
const (
	CategorySQLInjection = "sql_injection"
	CategoryXSS          = "xss"
)

// SignatureConfig is the declarative form a signature is loaded from, so
// operators can extend the list without touching control flow.
type SignatureConfig struct {
	Category string `mapstructure:"category"`
	Pattern  string `mapstructure:"pattern"`
}

// SignaturesFromSettings decodes operator-supplied signature settings as
// loaded from the config file.
func SignaturesFromSettings(settings []map[string]interface{}) ([]SignatureConfig, error) {
	configs := make([]SignatureConfig, 0, len(settings))
	for i, setting := range settings {
		var cfg SignatureConfig
		if err := mapstructure.Decode(setting, &cfg); err != nil {
			return nil, fmt.Errorf("invalid signature config at index %d: %w", i, err)
		}
		configs = append(configs, cfg)
	}
	return configs, nil
}

// defaultSignatures are compiled at startup. SQL injection pairs the
// statement keywords with the contexts they are dangerous in, so a chess
// move or a sentence containing "select" alone never matches.
var defaultSignatures = []SignatureConfig{
	{
		Category: CategorySQLInjection,
		Pattern:  `(?i)['"]?\s*or\s+['"]?\d+['"]?\s*=\s*['"]?\d+`,
	},
	{
		Category: CategorySQLInjection,
		Pattern:  `(?i)\bunion\s+(?:all\s+)?select\b`,
	},
	{
		Category: CategorySQLInjection,
		Pattern:  `(?i)\b(?:select|insert|update|delete)\b[^;]{0,64}?\b(?:from|into|set|where)\b`,
	},
	{
		Category: CategorySQLInjection,
		Pattern:  `(?i)\b(?:drop|create|alter|truncate)\s+(?:table|database|schema|index|view)\b`,
	},
	{
		Category: CategorySQLInjection,
		Pattern:  `(?i);\s*(?:drop|delete|truncate|shutdown)\b`,
	},
	{
		Category: CategoryXSS,
		Pattern:  `(?i)<\s*script[^>]*>`,
	},
	{
		Category: CategoryXSS,
		Pattern:  `(?i)javascript\s*:`,
	},
	{
		Category: CategoryXSS,
		Pattern:  `(?i)\bon(?:error|load|click|mouseover|focus|submit|input)\s*=`,
	},
	{
		Category: CategoryXSS,
		Pattern:  `(?i)<\s*(?:iframe|object|embed)\b`,
	},
	{
		Category: CategoryXSS,
		Pattern:  `(?i)data:text/html`,
	},
}
