package harvest

import (
	"regexp"
	"strings"

	"codeberg.org/mutker/harvester/internal/errors"
	"codeberg.org/mutker/harvester/internal/wire"
)

const defaultReplacement = "*"

// Key of the pre-encoded events body; it is never rewritten.
const rawBodyKey = "e"

var fileURLRule = ObfuscationRule{Regex: `^file://(.*)`, Replacement: "file://OBFUSCATED"}

type compiledRule struct {
	re          *regexp.Regexp
	replacement string
}

// Obfuscator applies the configured rules to every string leaving the agent.
type Obfuscator struct {
	rules []compiledRule
}

// NewObfuscator compiles rules. A file:// page URL adds a rule hiding local
// paths.
func NewObfuscator(rules []ObfuscationRule, pageURL string) (*Obfuscator, error) {
	all := append([]ObfuscationRule(nil), rules...)
	if strings.HasPrefix(pageURL, "file://") {
		all = append(all, fileURLRule)
	}

	o := &Obfuscator{rules: make([]compiledRule, 0, len(all))}
	for _, rule := range all {
		re, err := regexp.Compile(rule.Regex)
		if err != nil {
			return nil, errors.New().Wrap(ErrInvalidRule, err).WithData(rule.Regex)
		}
		replacement := rule.Replacement
		if replacement == "" {
			replacement = defaultReplacement
		}
		o.rules = append(o.rules, compiledRule{re: re, replacement: replacement})
	}

	return o, nil
}

// Enabled reports whether any rule is configured.
func (o *Obfuscator) Enabled() bool {
	return o != nil && len(o.rules) > 0
}

// String applies every rule in order.
func (o *Obfuscator) String(s string) string {
	if !o.Enabled() || s == "" {
		return s
	}
	for _, rule := range o.rules {
		s = rule.re.ReplaceAllString(s, rule.replacement)
	}
	return s
}

// Payload returns a copy of p with all string values obfuscated. Blob
// values and the raw events body are left alone.
func (o *Obfuscator) Payload(p *Payload) *Payload {
	if !o.Enabled() || p == nil {
		return p
	}

	out := &Payload{}
	if p.Body != nil {
		out.Body = o.object(p.Body)
	}
	if p.Query != nil {
		out.Query = make(map[string]string, len(p.Query))
		for k, v := range p.Query {
			if k == rawBodyKey {
				out.Query[k] = v
				continue
			}
			out.Query[k] = o.String(v)
		}
	}

	return out
}

func (o *Obfuscator) object(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		if k == rawBodyKey {
			out[k] = v
			continue
		}
		out[k] = o.value(v)
	}
	return out
}

func (o *Obfuscator) value(v any) any {
	switch val := v.(type) {
	case wire.Blob:
		return val
	case string:
		return o.String(val)
	case map[string]any:
		return o.object(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = o.value(item)
		}
		return out
	case []string:
		out := make([]string, len(val))
		for i, item := range val {
			out[i] = o.String(item)
		}
		return out
	case []map[string]any:
		out := make([]map[string]any, len(val))
		for i, item := range val {
			out[i] = o.object(item)
		}
		return out
	default:
		return v
	}
}
