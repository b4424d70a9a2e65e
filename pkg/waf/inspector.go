package waf

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/valyala/fastjson"

	"github.com/guardline/abusegate/pkg/types"
)

const maxMatchLength = 100

// Signature is one compiled detection pattern.
type Signature struct {
	Category string
	Pattern  *regexp.Regexp
}

// Result is the outcome of one inspection. Match is truncated so audit
// records stay bounded and never store a full payload verbatim.
type Result struct {
	Blocked  bool
	Category string
	Pattern  string
	Match    string
	Location string
}

// Inspector matches normalized requests against the signature list. It is
// pure and stateless: no counter store, no clock, so it can be tested
// against a fixed corpus of payloads in isolation.
type Inspector struct {
	logger     *logrus.Logger
	signatures []Signature
}

// NewInspector compiles the default signatures plus any custom ones. A
// pattern that does not compile is a configuration error and fatal at
// startup, never discovered at request time.
func NewInspector(logger *logrus.Logger, custom []SignatureConfig) (*Inspector, error) {
	configs := make([]SignatureConfig, 0, len(defaultSignatures)+len(custom))
	configs = append(configs, defaultSignatures...)
	configs = append(configs, custom...)

	signatures := make([]Signature, 0, len(configs))
	for _, cfg := range configs {
		if cfg.Pattern == "" {
			return nil, fmt.Errorf("signature for category %q has empty pattern", cfg.Category)
		}
		compiled, err := regexp.Compile(cfg.Pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid signature pattern %q: %w", cfg.Pattern, err)
		}
		signatures = append(signatures, Signature{Category: cfg.Category, Pattern: compiled})
	}

	return &Inspector{
		logger:     logger,
		signatures: signatures,
	}, nil
}

// Inspect checks path+query, headers and body against every signature.
// The first match short-circuits. A body that is not valid JSON is simply
// scanned as text, never an error.
func (i *Inspector) Inspect(req *types.RequestContext) Result {
	// Query values are matched raw: URL encoding must not hide a payload.
	for _, values := range req.Query {
		for _, value := range values {
			if result := i.match(value, "url"); result.Blocked {
				return result
			}
		}
	}

	target := req.Path
	if q := req.Query.Encode(); q != "" {
		target += "?" + q
	}
	if result := i.match(target, "url"); result.Blocked {
		return result
	}

	for key, values := range req.Headers {
		if strings.EqualFold(key, "host") {
			continue
		}
		for _, value := range values {
			if result := i.match(value, "header"); result.Blocked {
				return result
			}
		}
	}

	if len(req.Body) > 0 {
		if result := i.match(string(req.Body), "body"); result.Blocked {
			return result
		}
		if result := i.scanJSONBody(req.Body); result.Blocked {
			return result
		}
	}

	return Result{}
}

func (i *Inspector) match(content, location string) Result {
	for _, sig := range i.signatures {
		match := sig.Pattern.FindString(content)
		if match == "" {
			continue
		}
		if len(match) > maxMatchLength {
			match = match[:maxMatchLength-3] + "..."
		}
		i.logger.WithFields(logrus.Fields{
			"category": sig.Category,
			"location": location,
			"match":    match,
		}).Warn("request signature matched")
		return Result{
			Blocked:  true,
			Category: sig.Category,
			Pattern:  sig.Pattern.String(),
			Match:    match,
			Location: location,
		}
	}
	return Result{}
}

// scanJSONBody walks decoded JSON string values so payloads hidden behind
// JSON escaping are still seen by the signatures.
func (i *Inspector) scanJSONBody(body []byte) Result {
	var parser fastjson.Parser
	value, err := parser.ParseBytes(body)
	if err != nil {
		// Malformed request representation is a non-match, not a failure.
		return Result{}
	}
	return i.scanJSONValue(value)
}

func (i *Inspector) scanJSONValue(value *fastjson.Value) Result {
	switch value.Type() {
	case fastjson.TypeObject:
		obj, err := value.Object()
		if err != nil {
			return Result{}
		}
		var result Result
		obj.Visit(func(key []byte, v *fastjson.Value) {
			if result.Blocked {
				return
			}
			if r := i.match(string(key), "json"); r.Blocked {
				result = r
				return
			}
			if r := i.scanJSONValue(v); r.Blocked {
				result = r
			}
		})
		return result
	case fastjson.TypeArray:
		items, err := value.Array()
		if err != nil {
			return Result{}
		}
		for _, item := range items {
			if r := i.scanJSONValue(item); r.Blocked {
				return r
			}
		}
		return Result{}
	case fastjson.TypeString:
		decoded, err := value.StringBytes()
		if err != nil {
			return Result{}
		}
		return i.match(string(decoded), "json")
	default:
		return Result{}
	}
}
