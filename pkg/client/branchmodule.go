package client

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/kgb-bot/kgb/pkg/commit"
)

// PathRules extracts a branch and module from Subversion-style paths.
// Each rule is a regular expression with exactly two capture groups:
// the first captures the branch, the second the module (swapped when
// swap is set). Rules apply in order; the first rule that matches a
// prefix of any changed path wins, and the matched prefix is then
// stripped from every path of the commit.
type PathRules struct {
	rules []*regexp.Regexp
	swap  bool
}

// CompileBranchModuleRules validates and compiles the rule patterns.
func CompileBranchModuleRules(patterns []string, swap bool) (*PathRules, error) {
	rules := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("branch-and-module-re %q: %w", p, err)
		}
		if re.NumSubexp() != 2 {
			return nil, fmt.Errorf("branch-and-module-re %q: want exactly 2 capture groups, got %d",
				p, re.NumSubexp())
		}
		rules = append(rules, re)
	}
	return &PathRules{rules: rules, swap: swap}, nil
}

// Empty reports whether no rules are configured.
func (r *PathRules) Empty() bool {
	return r == nil || len(r.rules) == 0
}

// Apply annotates cm with the extracted branch and module and strips
// the matched prefix from its change paths. Without a match cm is left
// untouched.
func (r *PathRules) Apply(cm *commit.Commit) bool {
	if r.Empty() {
		return false
	}
	for _, re := range r.rules {
		for _, ch := range cm.Changes {
			loc := re.FindStringSubmatchIndex(ch.Path)
			if loc == nil || loc[0] != 0 {
				continue
			}
			groups := re.FindStringSubmatch(ch.Path)
			branch, module := groups[1], groups[2]
			if r.swap {
				branch, module = module, branch
			}
			prefix := ch.Path[:loc[1]]
			for i := range cm.Changes {
				cm.Changes[i].Path = strings.TrimPrefix(cm.Changes[i].Path, prefix)
			}
			cm.Branch = branch
			cm.Module = module
			return true
		}
	}
	return false
}
