package rpctype

import (
	"fmt"
	"strings"

	"github.com/angel122382/rpcdevtools/internal/assert"
)

const maxRules = 256

// Rule pins methods matching Pattern to Type. Patterns are exact method
// names or prefixes ending in "*", compared case-insensitively.
type Rule struct {
	Pattern string `yaml:"pattern"`
	Type    Type   `yaml:"type"`
}

// Validate rejects empty patterns and types other than mutation or query.
func (r Rule) Validate() error {
	if r.Pattern == "" {
		return fmt.Errorf("type rule: empty pattern")
	}
	if r.Type != Mutation && r.Type != Query {
		return fmt.Errorf("type rule %q: invalid type %q", r.Pattern, r.Type)
	}
	return nil
}

// RuleResolver answers with the type of the first matching rule. When no
// rule matches it defers to fallback, or returns Unknown if fallback is nil.
func RuleResolver(rules []Rule, fallback Resolver) (Resolver, error) {
	if err := assert.Check(len(rules) <= maxRules, "type rules exceed max: %d", len(rules)); err != nil {
		return nil, err
	}
	compiled := make([]Rule, 0, len(rules))
	for _, r := range rules {
		if err := r.Validate(); err != nil {
			return nil, err
		}
		compiled = append(compiled, Rule{Pattern: strings.ToLower(r.Pattern), Type: r.Type})
	}

	return func(method string) Type {
		lower := strings.ToLower(method)
		for _, r := range compiled {
			if MatchPattern(r.Pattern, lower) {
				return r.Type
			}
		}
		if fallback == nil {
			return Unknown
		}
		return fallback(method)
	}, nil
}

// MatchPattern matches a method against a pattern with trailing wildcard
// support ("admin.*", "*").
func MatchPattern(pattern, method string) bool {
	if pattern == "" || method == "" {
		return false
	}
	if pattern == method {
		return true
	}
	if strings.HasSuffix(pattern, "*") {
		return strings.HasPrefix(method, strings.TrimSuffix(pattern, "*"))
	}
	return false
}
