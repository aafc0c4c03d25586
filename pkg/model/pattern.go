// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package model

import (
	"regexp"
	"strings"
	"sync"
)

// PathPattern matches absolute entry paths with glob semantics: `**`
// crosses directory boundaries (including zero of them), `*` stays inside
// one segment, everything else is literal. Comma separates alternatives.
// A pattern without a leading slash is shorthand for `/**/<pattern>`.
type PathPattern struct {
	raw string
	all bool
	re  *regexp.Regexp
}

// MatchAll is the pattern every path satisfies.
const MatchAll = "/**"

var patternCache sync.Map // raw pattern -> *PathPattern

// CompilePathPattern parses and caches a pattern. Compiled patterns are
// shared; a watch and a find using the same filter hit the same entry.
func CompilePathPattern(raw string) (*PathPattern, error) {
	if raw == "" {
		raw = MatchAll
	}
	if cached, ok := patternCache.Load(raw); ok {
		return cached.(*PathPattern), nil
	}
	p, err := compilePathPattern(raw)
	if err != nil {
		return nil, err
	}
	actual, _ := patternCache.LoadOrStore(raw, p)
	return actual.(*PathPattern), nil
}

func compilePathPattern(raw string) (*PathPattern, error) {
	alternatives := strings.Split(raw, ",")
	exprs := make([]string, 0, len(alternatives))
	for _, alt := range alternatives {
		alt = strings.TrimSpace(alt)
		if alt == "" {
			continue
		}
		if alt == MatchAll || alt == "**" {
			return &PathPattern{raw: raw, all: true}, nil
		}
		if !strings.HasPrefix(alt, "/") {
			alt = "/**/" + alt
		}
		expr, err := translatePattern(alt)
		if err != nil {
			return nil, err
		}
		exprs = append(exprs, expr)
	}
	if len(exprs) == 0 {
		return nil, NewErrInvalidRequest("empty path pattern: %q", raw)
	}
	re, err := regexp.Compile("^(?:" + strings.Join(exprs, "|") + ")$")
	if err != nil {
		return nil, NewErrInvalidRequest("bad path pattern %q: %v", raw, err)
	}
	return &PathPattern{raw: raw, re: re}, nil
}

// translatePattern turns one glob alternative into a regular expression.
// `**/` expands to any run of whole segments, a trailing `/**` to any
// subtree, and `*` never crosses a slash.
func translatePattern(pattern string) (string, error) {
	var sb strings.Builder
	i := 0
	for i < len(pattern) {
		switch {
		case strings.HasPrefix(pattern[i:], "/**/"):
			sb.WriteString("/(?:[^/]+/)*")
			i += len("/**/")
		case strings.HasPrefix(pattern[i:], "**/"):
			sb.WriteString("(?:[^/]+/)*")
			i += len("**/")
		case strings.HasPrefix(pattern[i:], "/**"):
			sb.WriteString("(?:/.*)?")
			i += len("/**")
		case strings.HasPrefix(pattern[i:], "**"):
			sb.WriteString(".*")
			i += len("**")
		case pattern[i] == '*':
			sb.WriteString("[^/]*")
			i++
		default:
			sb.WriteString(regexp.QuoteMeta(string(pattern[i])))
			i++
		}
	}
	return sb.String(), nil
}

// All reports whether the pattern matches every path.
func (p *PathPattern) All() bool {
	return p.all
}

// Match reports whether the absolute path satisfies the pattern.
func (p *PathPattern) Match(path string) bool {
	if p.all {
		return true
	}
	return p.re.MatchString(path)
}

// MatchAny reports whether any of the paths satisfies the pattern.
func (p *PathPattern) MatchAny(paths []string) bool {
	if p.all {
		return len(paths) > 0
	}
	for _, path := range paths {
		if p.re.MatchString(path) {
			return true
		}
	}
	return false
}

func (p *PathPattern) String() string {
	return p.raw
}
