// Package ignore implements layered, gitignore-style ignore evaluation.
//
// Each directory may carry its own rule file. As traversal descends, every
// rule file is compiled into a Layer and pushed onto a stack; a path's final
// verdict is computed from the full stack, root-to-leaf, with the last
// matching rule winning both within a layer and across layers.
package ignore

import (
	"os"
	"path"
	"path/filepath"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// DefaultIgnoreFile is the rule-file name honored during traversal. It is
// deliberately distinct from .gitignore; VCS ignore rules can still be fed
// in as a pre-seeded base layer.
const DefaultIgnoreFile = ".ctreeignore"

// Rule is a single pattern from an ignore file. Immutable once parsed.
type Rule struct {
	Pattern string // pattern as written, minus any "!" prefix
	Negated bool   // "!" prefix: re-include instead of exclude
	Base    string // directory of the rule file this came from

	segments []string // slash-split, normalized pattern
	anchored bool     // leading "/": match relative to Base only
	dirOnly  bool     // trailing "/": match directories only
}

// Layer is the compiled rule set of one ignore file, scoped to its
// containing directory.
type Layer struct {
	Base  string
	Rules []Rule
}

// Decision records the outcome of evaluating one path against a layer
// stack, including which rule decided it when the caller asks for an
// explanation.
type Decision struct {
	Ignored   bool
	Rule      string // deciding pattern, empty when nothing matched
	Negated   bool   // deciding rule was a re-include
	LayerBase string // base directory of the deciding rule's layer
}

// Reader returns the raw lines of a rule file, or nil if the file is
// absent or unreadable. Injectable so callers can virtualize the
// filesystem in tests.
type Reader func(path string) []string

// DefaultReader reads a rule file from disk. A missing or unreadable file
// yields no lines; a directory must not become untraversable because its
// rule file is broken.
func DefaultReader(p string) []string {
	data, err := os.ReadFile(p)
	if err != nil {
		return nil
	}
	// Strip a UTF-8 byte-order mark before parsing.
	text := strings.TrimPrefix(string(data), "\ufeff")
	return strings.Split(text, "\n")
}

// ParseRule compiles one pattern line. Returns false for blank lines and
// comments.
func ParseRule(base, line string) (Rule, bool) {
	line = strings.TrimSuffix(line, "\r")
	trimmed := strings.TrimSpace(line)
	if trimmed == "" || strings.HasPrefix(trimmed, "#") {
		return Rule{}, false
	}

	r := Rule{Pattern: trimmed, Base: base}
	pat := trimmed
	if strings.HasPrefix(pat, "!") {
		r.Negated = true
		pat = pat[1:]
		if pat == "" {
			return Rule{}, false
		}
	}
	if strings.HasSuffix(pat, "/") {
		r.dirOnly = true
		pat = strings.TrimSuffix(pat, "/")
	}
	if strings.HasPrefix(pat, "/") {
		r.anchored = true
		pat = strings.TrimPrefix(pat, "/")
	}
	if pat == "" {
		return Rule{}, false
	}
	r.segments = strings.Split(norm.NFC.String(pat), "/")
	return r, true
}

// ParseLayer compiles the lines of one ignore file into a Layer.
func ParseLayer(base string, lines []string) *Layer {
	layer := &Layer{Base: base}
	for _, line := range lines {
		if rule, ok := ParseRule(base, line); ok {
			layer.Rules = append(layer.Rules, rule)
		}
	}
	return layer
}

// LoadLayer reads and compiles the named ignore file in dir. Returns nil
// when the file contributes no rules, so callers can skip pushing an empty
// layer.
func LoadLayer(dir, name string, read Reader) *Layer {
	if read == nil {
		read = DefaultReader
	}
	layer := ParseLayer(dir, read(filepath.Join(dir, name)))
	if len(layer.Rules) == 0 {
		return nil
	}
	return layer
}

// Evaluate computes the ignore verdict for path against the layer stack,
// which must be ordered root-to-leaf. Layers whose base is not an ancestor
// of path are skipped; within the remaining layers the last matching rule
// wins, and a deeper layer's verdict supersedes a shallower one's. That
// cross-layer override is load-bearing downstream and must not be
// "corrected" to single-file gitignore semantics.
//
// Negations re-include only on an exact path match: once a directory is
// excluded the traversal prunes it, so a negation cannot resurrect
// anything beneath it.
func Evaluate(p string, layers []*Layer, isDir bool) Decision {
	var d Decision
	for _, layer := range layers {
		if layer == nil || len(layer.Rules) == 0 {
			continue
		}
		rel, err := filepath.Rel(layer.Base, p)
		if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			continue
		}
		segs := strings.Split(norm.NFC.String(filepath.ToSlash(rel)), "/")
		for i := range layer.Rules {
			rule := &layer.Rules[i]
			if rule.matches(segs, isDir) {
				d = Decision{
					Ignored:   !rule.Negated,
					Rule:      rule.Pattern,
					Negated:   rule.Negated,
					LayerBase: layer.Base,
				}
			}
		}
	}
	return d
}

// matches reports whether the rule applies to the path given by segs,
// relative to the rule's layer base.
func (r *Rule) matches(segs []string, isDir bool) bool {
	offsets := len(segs)
	if r.anchored {
		offsets = 1
	}
	for i := 0; i < offsets; i++ {
		if ok, full := matchSegments(r.segments, segs[i:]); ok {
			if !full {
				// An ancestor directory matched, so the path lives inside
				// an excluded subtree. Negations only ever match the path
				// itself.
				if r.Negated {
					continue
				}
				return true
			}
			if r.dirOnly && !isDir {
				continue
			}
			return true
		}
	}
	return false
}

// matchSegments matches the compiled pattern against segs. It reports
// whether the pattern matched, and whether the match consumed every
// segment (full) or stopped at an ancestor directory (partial).
func matchSegments(pat, segs []string) (ok, full bool) {
	if len(pat) == 0 {
		return true, len(segs) == 0
	}
	if pat[0] == "**" {
		// Prefer a full match over a partial one: dir-only and negated
		// rules only apply when the whole path matched.
		for i := 0; i <= len(segs); i++ {
			if o, f := matchSegments(pat[1:], segs[i:]); o {
				ok = true
				if f {
					return true, true
				}
			}
		}
		return ok, false
	}
	if len(segs) == 0 {
		return false, false
	}
	if !matchSegment(pat[0], segs[0]) {
		return false, false
	}
	return matchSegments(pat[1:], segs[1:])
}

// matchSegment matches a single pattern segment against a single path
// segment. Segments never contain separators, so path.Match covers the
// "*", "?" and character-class forms. A malformed class never matches.
func matchSegment(pat, seg string) bool {
	matched, err := path.Match(pat, norm.NFC.String(seg))
	return err == nil && matched
}
