package ignore

import (
	"fmt"
	"os"
	"strings"

	gitignore "github.com/sabhiram/go-gitignore"
)

// Ruleset is one directory's compiled .gitignore. Paths handed to Matches are
// worktree-relative, slash-separated, with "" denoting the worktree root.
type Ruleset struct {
	base    string // directory containing the ignore file, "" for root
	matcher *gitignore.GitIgnore
}

// CompileRuleset compiles gitignore-syntax lines for the given base directory.
func CompileRuleset(base string, lines []string) *Ruleset {
	return &Ruleset{
		base:    base,
		matcher: gitignore.CompileIgnoreLines(lines...),
	}
}

// LoadRuleset reads and compiles the ignore file at absPath for base.
func LoadRuleset(base string, absPath string) (*Ruleset, error) {
	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read ignore file %s: %w", absPath, err)
	}
	return CompileRuleset(base, strings.Split(string(data), "\n")), nil
}

// Base returns the worktree-relative directory the ruleset is rooted at.
func (r *Ruleset) Base() string {
	return r.base
}

// Matches reports whether the ruleset ignores the given worktree-relative
// path. Paths outside the ruleset's base never match. Directory paths are
// suffixed with "/" so directory-only patterns ("build/") apply.
func (r *Ruleset) Matches(path string, isDir bool) bool {
	rel, ok := relativeTo(path, r.base)
	if !ok || rel == "" {
		return false
	}
	if isDir {
		rel += "/"
	}
	return r.matcher.MatchesPath(rel)
}

// relativeTo strips base from path, returning ok=false when path is not
// beneath base.
func relativeTo(path, base string) (string, bool) {
	if base == "" {
		return path, true
	}
	if path == base {
		return "", true
	}
	if strings.HasPrefix(path, base+"/") {
		return path[len(base)+1:], true
	}
	return "", false
}

// Stack composes ancestor rulesets from outermost to innermost into a single
// ignore decision. A stack is either "none" (no ancestor rules), "all" (an
// ancestor directory already matched, everything beneath is ignored), or a
// chain of rulesets evaluated in order.
type Stack struct {
	all   bool
	chain []*Ruleset
}

// None returns the empty stack: nothing is ignored.
func None() *Stack {
	return &Stack{}
}

// All returns the saturated stack: everything is ignored. Short-circuits
// further rule evaluation beneath an ignored directory.
func All() *Stack {
	return &Stack{all: true}
}

// IsAll reports whether the stack ignores unconditionally.
func (s *Stack) IsAll() bool {
	return s.all
}

// Append returns a new stack extended with the given ruleset. Appending to
// the saturated stack is a no-op; it stays saturated.
func (s *Stack) Append(r *Ruleset) *Stack {
	if s.all || r == nil {
		return s
	}
	chain := make([]*Ruleset, len(s.chain), len(s.chain)+1)
	copy(chain, s.chain)
	return &Stack{chain: append(chain, r)}
}

// IsIgnored evaluates the worktree-relative path against the composed chain.
// Rulesets compose by disjunction: negations resolve within a single ruleset
// (last match wins there), but once any ruleset in the chain matches, a
// negation in a deeper ruleset cannot re-include the path. Git lets the
// innermost match win across files; the boolean matcher cannot express that.
func (s *Stack) IsIgnored(path string, isDir bool) bool {
	if s.all {
		return true
	}
	for _, r := range s.chain {
		if r.Matches(path, isDir) {
			return true
		}
	}
	return false
}

// Descend returns the stack descendants of dir should inherit: the current
// stack extended with dir's own ruleset (if any), collapsed to All when the
// directory itself is ignored. An ignored directory makes every descendant
// ignored regardless of nested ignore files.
func (s *Stack) Descend(dir string, rules *Ruleset) *Stack {
	if s.all {
		return s
	}
	if dir != "" && s.IsIgnored(dir, true) {
		return All()
	}
	return s.Append(rules)
}
