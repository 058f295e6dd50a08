package transfer

import (
	"path"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/sidkik/syncwatch/pkg/errors"
)

// Mask selects which paths participate in a pass.
//
// The syntax is `include1; include2 | exclude1; exclude2`. Either side may be
// empty, and an empty include list includes everything. Patterns are globs
// with `**` support, matched against the slash-separated path relative to the
// synced root. A pattern without a slash is matched against the base name
// only. A pattern ending in a slash only matches directories, and excluding a
// directory excludes everything beneath it.
type Mask struct {
	include []maskPattern
	exclude []maskPattern
}

type maskPattern struct {
	glob     string
	dirOnly  bool
	baseOnly bool
}

// ParseMask parses a file mask. `alwaysExclude` patterns are excluded in
// addition to the mask's own exclusions.
func ParseMask(mask string, alwaysExclude ...string) (Mask, error) {
	includeStr, excludeStr := mask, ""
	if i := strings.Index(mask, "|"); i >= 0 {
		includeStr, excludeStr = mask[:i], mask[i+1:]
	}

	include, err := parsePatterns(includeStr)
	if err != nil {
		return Mask{}, errors.WithContext(err, "parse include patterns")
	}

	exclude, err := parsePatterns(excludeStr)
	if err != nil {
		return Mask{}, errors.WithContext(err, "parse exclude patterns")
	}

	always, err := parsePatterns(strings.Join(alwaysExclude, ";"))
	if err != nil {
		return Mask{}, errors.WithContext(err, "parse exclude patterns")
	}
	exclude = append(exclude, always...)
	return Mask{include: include, exclude: exclude}, nil
}

func parsePatterns(list string) (patterns []maskPattern, err error) {
	for _, raw := range strings.FieldsFunc(list, func(r rune) bool { return r == ';' || r == ',' }) {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}

		p := maskPattern{}
		if strings.HasSuffix(raw, "/") {
			p.dirOnly = true
			raw = strings.TrimSuffix(raw, "/")
		}
		raw = strings.TrimPrefix(raw, "/")
		p.baseOnly = !strings.Contains(raw, "/")
		p.glob = raw

		if !doublestar.ValidatePattern(p.glob) {
			return nil, errors.New("invalid pattern %q", raw)
		}
		patterns = append(patterns, p)
	}
	return patterns, nil
}

// Match returns whether the path participates in the pass. `relPath` is
// slash-separated and relative to the synced root.
func (m Mask) Match(relPath string, isDir bool) bool {
	relPath = strings.TrimPrefix(path.Clean("/"+relPath), "/")

	// Exclusions apply to the path and all its parents, so that excluding
	// `node_modules/` excludes its contents too.
	for _, p := range m.exclude {
		if p.matchesSelfOrParent(relPath, isDir) {
			return false
		}
	}

	// Directories are always traversed when there are include patterns so
	// that included files in subdirectories can be found.
	if isDir || len(m.include) == 0 {
		return true
	}

	for _, p := range m.include {
		if p.matchesSelfOrParent(relPath, isDir) {
			return true
		}
	}
	return false
}

func (p maskPattern) matchesSelfOrParent(relPath string, isDir bool) bool {
	if p.matches(relPath, isDir) {
		return true
	}

	for dir := path.Dir(relPath); dir != "." && dir != "/"; dir = path.Dir(dir) {
		if p.matches(dir, true) {
			return true
		}
	}
	return false
}

func (p maskPattern) matches(relPath string, isDir bool) bool {
	if p.dirOnly && !isDir {
		return false
	}

	target := relPath
	if p.baseOnly {
		target = path.Base(relPath)
	}

	ok, err := doublestar.Match(p.glob, target)
	return err == nil && ok
}
