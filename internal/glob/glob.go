// Package glob resolves producer inputs and watch rule patterns. A Pattern is
// a list of slash-separated globs relative to a root; globs prefixed with "!"
// exclude paths the other globs include. "**" and brace alternatives such as
// "*.{sass,scss}" are supported.
package glob

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Pattern is an immutable include/exclude glob set.
type Pattern struct {
	include []string
	exclude []string
}

// New compiles globs into a Pattern. At least one include glob is required.
func New(globs ...string) (*Pattern, error) {
	p := &Pattern{}
	for _, g := range globs {
		g = strings.TrimSpace(g)
		if g == "" {
			continue
		}
		negated := strings.HasPrefix(g, "!")
		g = strings.TrimPrefix(filepath.ToSlash(strings.TrimPrefix(g, "!")), "./")
		if !doublestar.ValidatePattern(g) {
			return nil, fmt.Errorf("invalid glob %q", g)
		}
		if negated {
			p.exclude = append(p.exclude, g)
		} else {
			p.include = append(p.include, g)
		}
	}
	if len(p.include) == 0 {
		return nil, fmt.Errorf("glob set %v has no include pattern", globs)
	}
	return p, nil
}

// Prefix returns a copy of p with dir joined in front of every glob.
func (p *Pattern) Prefix(dir string) *Pattern {
	dir = strings.Trim(filepath.ToSlash(dir), "/")
	if dir == "" || dir == "." {
		return p
	}
	out := &Pattern{
		include: make([]string, len(p.include)),
		exclude: make([]string, len(p.exclude)),
	}
	for i, g := range p.include {
		out.include[i] = path.Join(dir, g)
	}
	for i, g := range p.exclude {
		out.exclude[i] = path.Join(dir, g)
	}
	return out
}

// Match reports whether rel, a path relative to the pattern root, is
// included and not excluded.
func (p *Pattern) Match(rel string) bool {
	rel = strings.TrimPrefix(filepath.ToSlash(rel), "./")
	for _, g := range p.exclude {
		if ok, _ := doublestar.Match(g, rel); ok {
			return false
		}
		// An excluded directory glob also excludes everything beneath it.
		if strings.HasSuffix(g, "/**") && rel == strings.TrimSuffix(g, "/**") {
			return false
		}
	}
	for _, g := range p.include {
		if ok, _ := doublestar.Match(g, rel); ok {
			return true
		}
	}
	return false
}

// Expand lists regular files under root that Match, as sorted slash paths
// relative to root. A missing root yields no files.
func (p *Pattern) Expand(root string) ([]string, error) {
	fsys := os.DirFS(root)
	seen := make(map[string]struct{})
	var files []string
	for _, g := range p.include {
		matches, err := doublestar.Glob(fsys, g, doublestar.WithFilesOnly())
		if err != nil {
			return nil, fmt.Errorf("expand %q: %w", g, err)
		}
		for _, m := range matches {
			if _, dup := seen[m]; dup || !p.Match(m) {
				continue
			}
			seen[m] = struct{}{}
			files = append(files, m)
		}
	}
	sort.Strings(files)
	return files, nil
}

// Base returns the static directory prefix shared by the include globs, the
// root against which a producer computes output-relative paths.
func (p *Pattern) Base() string {
	var base string
	for i, g := range p.include {
		b := Base(g)
		if i == 0 {
			base = b
			continue
		}
		base = commonDir(base, b)
	}
	return base
}

// Rel returns file relative to the pattern's Base.
func (p *Pattern) Rel(file string) string {
	file = filepath.ToSlash(file)
	base := p.Base()
	if base == "." {
		return file
	}
	return strings.TrimPrefix(file, base+"/")
}

func (p *Pattern) String() string {
	parts := append([]string(nil), p.include...)
	for _, g := range p.exclude {
		parts = append(parts, "!"+g)
	}
	return strings.Join(parts, ", ")
}

// Base returns the leading directory of g that contains no glob
// metacharacters, or "." when the first segment is already dynamic.
func Base(g string) string {
	base, _ := doublestar.SplitPattern(filepath.ToSlash(g))
	if base == "" {
		return "."
	}
	return base
}

func commonDir(a, b string) string {
	as := strings.Split(a, "/")
	bs := strings.Split(b, "/")
	n := 0
	for n < len(as) && n < len(bs) && as[n] == bs[n] {
		n++
	}
	if n == 0 {
		return "."
	}
	return strings.Join(as[:n], "/")
}
