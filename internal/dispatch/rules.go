// Package dispatch maps file changes to the tasks that rebuild their
// artifacts. A Rule table is evaluated in order against every changed path,
// and the Dispatcher runs the matched tasks once the initial build is done.
package dispatch

import (
	"fmt"
	"strings"

	"github.com/villasimius/sitebuild/internal/glob"
)

// Rule maps a glob to the tasks to re-run and whether browsers reload
// afterwards. A rule without tasks only reloads.
type Rule struct {
	Name    string
	Pattern *glob.Pattern
	Tasks   []string
	Reload  bool
}

func (r Rule) String() string {
	tasks := "-"
	if len(r.Tasks) > 0 {
		tasks = strings.Join(r.Tasks, ", ")
	}
	return fmt.Sprintf("%s: %s -> %s (reload=%t)", r.Name, r.Pattern, tasks, r.Reload)
}

// Rules is an ordered rule table.
type Rules []Rule

// Match returns the rules whose pattern matches path, in table order.
func (rs Rules) Match(path string) []Rule {
	var out []Rule
	for _, r := range rs {
		if r.Pattern != nil && r.Pattern.Match(path) {
			out = append(out, r)
		}
	}
	return out
}

// matchIndexes is Match returning table positions.
func (rs Rules) matchIndexes(path string) []int {
	var out []int
	for i, r := range rs {
		if r.Pattern != nil && r.Pattern.Match(path) {
			out = append(out, i)
		}
	}
	return out
}

// Validate checks that every rule has a pattern and a unique name.
func (rs Rules) Validate() error {
	seen := make(map[string]bool, len(rs))
	for i, r := range rs {
		if r.Name == "" {
			return fmt.Errorf("rule %d has no name", i)
		}
		if seen[r.Name] {
			return fmt.Errorf("duplicate rule %q", r.Name)
		}
		seen[r.Name] = true
		if r.Pattern == nil {
			return fmt.Errorf("rule %q has no pattern", r.Name)
		}
		if len(r.Tasks) == 0 && !r.Reload {
			return fmt.Errorf("rule %q neither runs tasks nor reloads", r.Name)
		}
	}
	return nil
}
