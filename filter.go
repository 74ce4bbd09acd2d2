// Copyright IBM Corp. 2023, 2025
// SPDX-License-Identifier: MPL-2.0

package unzip

import (
	"fmt"
	"path"
	"strings"

	"github.com/woozymasta/pathrules"
)

// Filter decides which entries are extracted. Match is called once per entry
// with the stored path of the entry and must be safe for concurrent use.
type Filter interface {
	Match(name string) bool
}

// FilterFunc adapts a function to the [Filter] interface.
type FilterFunc func(name string) bool

// Match calls f(name).
func (f FilterFunc) Match(name string) bool {
	return f(name)
}

// MatchAll accepts every entry.
var MatchAll Filter = FilterFunc(func(string) bool { return true })

// PatternFilter accepts entries whose path matches at least one of the
// patterns. Patterns are matched with [path.Match]. An empty list accepts
// every entry.
type PatternFilter []string

// NewPatternFilter validates patterns and returns them as [PatternFilter].
func NewPatternFilter(patterns ...string) (PatternFilter, error) {
	for _, p := range patterns {
		if _, err := path.Match(p, ""); err != nil {
			return nil, fmt.Errorf("invalid pattern %q: %w", p, err)
		}
	}
	return PatternFilter(patterns), nil
}

// Match implements [Filter].
func (f PatternFilter) Match(name string) bool {
	if len(f) == 0 {
		return true
	}
	name = strings.TrimSuffix(name, "/")
	for _, p := range f {
		if ok, _ := path.Match(p, name); ok {
			return true
		}
	}
	return false
}

// PrefixFilter accepts entries whose path starts with the prefix.
type PrefixFilter string

// Match implements [Filter].
func (f PrefixFilter) Match(name string) bool {
	return strings.HasPrefix(name, string(f))
}

// SuffixFilter accepts entries whose path ends with the suffix.
type SuffixFilter string

// Match implements [Filter].
func (f SuffixFilter) Match(name string) bool {
	return strings.HasSuffix(name, string(f))
}

// RuleFilter evaluates gitignore style include and exclude rules. The last
// matching rule decides.
type RuleFilter struct {
	matcher *pathrules.Matcher
}

// NewRuleFilter compiles rules into a [RuleFilter]. Entries matched by no
// rule are accepted if defaultInclude is true.
func NewRuleFilter(rules []pathrules.Rule, caseInsensitive bool, defaultInclude bool) (*RuleFilter, error) {
	opts := pathrules.MatcherOptions{
		CaseInsensitive: caseInsensitive,
		DefaultAction:   pathrules.ActionExclude,
	}
	if defaultInclude {
		opts.DefaultAction = pathrules.ActionInclude
	}
	m, err := pathrules.NewMatcher(rules, opts)
	if err != nil {
		return nil, fmt.Errorf("compile filter rules: %w", err)
	}
	return &RuleFilter{matcher: m}, nil
}

// IncludeRules is a helper that turns patterns into include rules.
func IncludeRules(patterns ...string) []pathrules.Rule {
	rules := make([]pathrules.Rule, 0, len(patterns))
	for _, p := range patterns {
		rules = append(rules, pathrules.Rule{Action: pathrules.ActionInclude, Pattern: p})
	}
	return rules
}

// ExcludeRules is a helper that turns patterns into exclude rules.
func ExcludeRules(patterns ...string) []pathrules.Rule {
	rules := make([]pathrules.Rule, 0, len(patterns))
	for _, p := range patterns {
		rules = append(rules, pathrules.Rule{Action: pathrules.ActionExclude, Pattern: p})
	}
	return rules
}

// Match implements [Filter].
func (f *RuleFilter) Match(name string) bool {
	isDir := strings.HasSuffix(name, "/")
	return f.matcher.Included(strings.TrimSuffix(name, "/"), isDir)
}

// And accepts an entry if all filters accept it.
func And(filters ...Filter) Filter {
	return FilterFunc(func(name string) bool {
		for _, f := range filters {
			if !f.Match(name) {
				return false
			}
		}
		return true
	})
}

// Or accepts an entry if at least one filter accepts it.
func Or(filters ...Filter) Filter {
	return FilterFunc(func(name string) bool {
		for _, f := range filters {
			if f.Match(name) {
				return true
			}
		}
		return false
	})
}

// Not inverts f.
func Not(f Filter) Filter {
	return FilterFunc(func(name string) bool {
		return !f.Match(name)
	})
}
