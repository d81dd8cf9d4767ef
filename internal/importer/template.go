package importer

import (
	"regexp"
	"strings"

	"github.com/willibrandon/eventimport/internal/models"
)

// SourceAliasParam is the parameter naming the database link to the live
// source. Every "@:sourcedb" reference in a template is pinned to the run's
// SCN before the parameter itself is substituted.
const SourceAliasParam = "sourcedb"

// SourceCurrentParam names the same link without SCN pinning, for statements
// that must write to or read the current state of the source.
const SourceCurrentParam = "sourcedb_current"

// SCNParam is set by the runner to the captured consistency token.
const SCNParam = "scn"

var (
	sourceAliasPattern = regexp.MustCompile(`@:` + SourceAliasParam + `\b`)
	qualifierPattern   = regexp.MustCompile(`(?i)^\s+as\s+of\s+scn\s+\d+`)
	paramPattern       = regexp.MustCompile(`:([A-Za-z_][A-Za-z0-9_]*)`)
)

// Resolve pins every source alias in template to token and then substitutes
// named parameters. Parameters missing from params are left verbatim.
func Resolve(template string, token models.ConsistencyToken, params map[string]string) string {
	return substituteParams(qualifySource(template, token), params)
}

// qualifySource appends "as of scn N" to each "@:sourcedb" that does not
// already carry a qualifier.
func qualifySource(template string, token models.ConsistencyToken) string {
	matches := sourceAliasPattern.FindAllStringIndex(template, -1)
	if len(matches) == 0 {
		return template
	}

	var b strings.Builder
	b.Grow(len(template) + len(matches)*24)
	last := 0
	for _, m := range matches {
		b.WriteString(template[last:m[1]])
		last = m[1]
		if qualifierPattern.MatchString(template[m[1]:]) {
			continue
		}
		b.WriteString(" as of scn ")
		b.WriteString(token.String())
	}
	b.WriteString(template[last:])
	return b.String()
}

// Substitute replaces :name tokens without pinning source aliases. It is
// for statements that run before a token exists.
func Substitute(template string, params map[string]string) string {
	return substituteParams(template, params)
}

// substituteParams replaces :name tokens in one pass so inserted values are
// never rescanned.
func substituteParams(template string, params map[string]string) string {
	if len(params) == 0 {
		return template
	}
	return paramPattern.ReplaceAllStringFunc(template, func(tok string) string {
		if value, ok := params[tok[1:]]; ok {
			return value
		}
		return tok
	})
}

// Unresolved lists, in order of first appearance, the parameter names in
// template that params does not define.
func Unresolved(template string, params map[string]string) []string {
	var names []string
	seen := make(map[string]bool)
	for _, m := range paramPattern.FindAllStringSubmatch(template, -1) {
		name := m[1]
		if _, ok := params[name]; ok || seen[name] {
			continue
		}
		seen[name] = true
		names = append(names, name)
	}
	return names
}
