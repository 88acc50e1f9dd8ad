package policy

import (
	"regexp"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
)

// patternCacheSize bounds the compiled-pattern cache. Policy sets reuse a
// small vocabulary of patterns, so even modest sizing gives a high hit rate.
const patternCacheSize = 1024

// patternCache memoizes compiled patterns. The LRU is safe for concurrent
// use, which matters because evaluation runs on every request goroutine.
var patternCache, _ = lru.New[string, *regexp.Regexp](patternCacheSize)

// compilePattern converts a wildcard pattern to an anchored regexp.
// `*` matches any run of characters, `?` exactly one. Everything else is
// literal, so regexp metacharacters in ARNs need no escaping by callers.
func compilePattern(pattern string) *regexp.Regexp {
	if re, ok := patternCache.Get(pattern); ok {
		return re
	}

	var sb strings.Builder
	sb.WriteString("^")
	for _, r := range pattern {
		switch r {
		case '*':
			sb.WriteString(".*")
		case '?':
			sb.WriteString(".")
		default:
			sb.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	sb.WriteString("$")

	re := regexp.MustCompile(sb.String())
	patternCache.Add(pattern, re)
	return re
}

// MatchPattern reports whether value matches the wildcard pattern.
// Matching is case-sensitive and anchored at both ends.
func MatchPattern(pattern, value string) bool {
	if pattern == "*" {
		return true
	}
	if !strings.ContainsAny(pattern, "*?") {
		return pattern == value
	}
	return compilePattern(pattern).MatchString(value)
}

// MatchAny reports whether value matches any pattern in the set.
func MatchAny(patterns []string, value string) bool {
	for _, pattern := range patterns {
		if MatchPattern(pattern, value) {
			return true
		}
	}
	return false
}
