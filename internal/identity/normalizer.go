// Package identity reconciles the different ways the DMS provider refers to
// a customer into one canonical customer id.
package identity

import (
	"encoding/json"
	"log/slog"
	"strconv"
	"strings"
)

// LegacyField is the provider field that may carry a JSON-encoded message body.
const LegacyField = "data"

// Rule names which normalization rule resolved the customer id.
type Rule string

const (
	RuleFlat       Rule = "customer_id"
	RuleLegacy     Rule = "legacy_data"
	RuleNested     Rule = "customer_object"
	RuleUnresolved Rule = "unresolved"
)

// Result is the outcome of normalizing one raw payload.
type Result struct {
	CustomerID string
	// Aliases lists every identity value found on the payload, before and
	// after resolver mapping, without duplicates.
	Aliases []string
	// Text is the display text, coerced to a list of lines. Nil when the
	// payload carries no recognizable text.
	Text []string
	Rule Rule
}

// Normalizer applies the identity rules to raw provider payloads.
type Normalizer struct {
	resolver Resolver
	logger   *slog.Logger
}

type Config struct {
	Resolver Resolver // optional; maps raw ids to logical ids
	Logger   *slog.Logger
}

func New(cfg Config) *Normalizer {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Normalizer{resolver: cfg.Resolver, logger: cfg.Logger.With("component", "identity")}
}

// Normalize never fails: an unresolvable payload yields an empty CustomerID.
func (n *Normalizer) Normalize(raw map[string]any) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			n.logger.Error("normalization panic", "panic", r)
			res = Result{Rule: RuleUnresolved}
		}
	}()

	var aliases aliasSet

	id := scalarString(raw["customer_id"])
	if id != "" {
		res.Rule = RuleFlat
	}

	// Content first: the legacy field may also carry the id.
	res.Text = coerceLines(raw["text"])
	if legacy, ok := raw[LegacyField].(string); ok {
		text, legacyID := decodeLegacy(legacy)
		if res.Text == nil {
			res.Text = text
		}
		if id == "" && legacyID != "" {
			id = legacyID
			res.Rule = RuleLegacy
		}
	}
	if res.Text == nil {
		if content, ok := raw["content"].(map[string]any); ok {
			res.Text = coerceLines(content["text"])
		}
	}

	if customer, ok := raw["customer"].(map[string]any); ok {
		nestedID := scalarString(customer["id"])
		profileID := scalarString(customer["profile_id"])
		aliases.add(profileID)
		aliases.add(nestedID)
		if id == "" {
			if profileID != "" {
				id = profileID
			} else {
				id = nestedID
			}
			if id != "" {
				res.Rule = RuleNested
			}
		}
	}

	if id == "" {
		res.Rule = RuleUnresolved
		res.Aliases = aliases.list()
		return res
	}

	aliases.add(id)
	if n.resolver != nil {
		if mapped, ok := n.resolver.Resolve(id); ok && mapped != "" {
			n.logger.Debug("customer id mapped", "raw", id, "customer_id", mapped)
			id = mapped
			aliases.add(mapped)
		}
	}
	res.CustomerID = id
	res.Aliases = aliases.list()
	return res
}

// decodeLegacy parses the legacy encoded field. A parse failure turns the
// raw string into a single-line body.
func decodeLegacy(encoded string) (text []string, customerID string) {
	var inner map[string]any
	if err := json.Unmarshal([]byte(encoded), &inner); err != nil {
		if strings.TrimSpace(encoded) == "" {
			return nil, ""
		}
		return []string{encoded}, ""
	}
	return coerceLines(inner["text"]), scalarString(inner["customer_id"])
}

// coerceLines turns a string or an array of scalars into a list of lines.
func coerceLines(v any) []string {
	switch t := v.(type) {
	case string:
		return []string{t}
	case []string:
		return t
	case []any:
		lines := make([]string, 0, len(t))
		for _, item := range t {
			if s := scalarString(item); s != "" {
				lines = append(lines, s)
			}
		}
		return lines
	default:
		return nil
	}
}

func scalarString(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case json.Number:
		return t.String()
	default:
		return ""
	}
}

type aliasSet []string

func (s *aliasSet) add(v string) {
	if v == "" {
		return
	}
	for _, existing := range *s {
		if existing == v {
			return
		}
	}
	*s = append(*s, v)
}

func (s aliasSet) list() []string {
	if len(s) == 0 {
		return nil
	}
	return []string(s)
}
