package goftp

import (
	"path"
	"strings"
)

// IgnoreRule excludes remote entries from a sync run.
//
// A pattern containing a slash is a path rule: it matches that exact
// remote path and everything below it. Any other pattern is a name rule:
// it matches entries whose base name starts or ends with it.
type IgnoreRule struct {
	Pattern string
}

// ParseIgnoreRule classifies a single pattern. Blank patterns and
// "#" comments yield ok == false.
func ParseIgnoreRule(pattern string) (IgnoreRule, bool) {
	pattern = strings.TrimSpace(pattern)
	if pattern == "" || strings.HasPrefix(pattern, "#") {
		return IgnoreRule{}, false
	}
	if strings.Contains(pattern, "/") {
		return IgnoreRule{Pattern: NormalizeRemotePath(pattern)}, true
	}
	return IgnoreRule{Pattern: pattern}, true
}

// ParseIgnoreRules parses a list of patterns, dropping blanks and comments.
func ParseIgnoreRules(patterns []string) []IgnoreRule {
	rules := make([]IgnoreRule, 0, len(patterns))
	for _, p := range patterns {
		if rule, ok := ParseIgnoreRule(p); ok {
			rules = append(rules, rule)
		}
	}
	return rules
}

// IsPathRule reports whether the rule matches by path rather than by name.
func (r IgnoreRule) IsPathRule() bool {
	return strings.Contains(r.Pattern, "/")
}

// Matches reports whether the rule excludes remotePath.
func (r IgnoreRule) Matches(remotePath string) bool {
	if r.Pattern == "" {
		return false
	}
	remotePath = NormalizeRemotePath(remotePath)

	if r.IsPathRule() {
		pattern := NormalizeRemotePath(r.Pattern)
		if pattern == "/" {
			return true
		}
		return remotePath == pattern || strings.HasPrefix(remotePath, pattern+"/")
	}

	name := path.Base(remotePath)
	return strings.HasPrefix(name, r.Pattern) || strings.HasSuffix(name, r.Pattern)
}

// isIgnored reports whether any rule excludes remotePath.
func isIgnored(remotePath string, rules []IgnoreRule) bool {
	for _, r := range rules {
		if r.Matches(remotePath) {
			return true
		}
	}
	return false
}
