package format

import (
	"path"
	"strings"

	"github.com/kgb-bot/kgb/pkg/commit"
)

// commonDirectory finds the directory covering the most of the given
// display paths, treating every path as absolute. The root is not a
// candidate, and the winner must cover a majority of the paths; ties
// are broken in favour of the longer directory, then lexicographically.
// Returns "" when there is nothing to collapse.
func commonDirectory(paths []string) string {
	if len(paths) < 2 {
		return ""
	}

	cover := make(map[string]int)
	for _, p := range paths {
		for _, dir := range ancestorDirs(p) {
			cover[dir]++
		}
	}

	best := ""
	bestCount := 0
	for dir, count := range cover {
		if dir == "/" {
			continue
		}
		if count > bestCount ||
			(count == bestCount && (len(dir) > len(best) ||
				(len(dir) == len(best) && dir < best))) {
			best, bestCount = dir, count
		}
	}
	if bestCount*2 <= len(paths) {
		return ""
	}
	return best
}

// ancestorDirs lists every ancestor directory of p, absolute form.
// "foo/bar/a" yields "/", "/foo", "/foo/bar".
func ancestorDirs(p string) []string {
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	var dirs []string
	for dir := path.Dir(p); ; dir = path.Dir(dir) {
		dirs = append(dirs, dir)
		if dir == "/" {
			return dirs
		}
	}
}

// collapseChanges strips the best common directory from every change
// path. Returns the stripped prefix in display form (no leading slash)
// and the rewritten changes; when no collapse applies the changes come
// back as-is with prefix "".
func collapseChanges(changes []commit.Change) (string, []commit.Change) {
	paths := make([]string, len(changes))
	for i, c := range changes {
		paths[i] = c.DisplayPath()
	}
	common := commonDirectory(paths)
	if common == "" {
		return "", changes
	}

	stripped := make([]commit.Change, len(changes))
	for i, c := range changes {
		// The best directory does not necessarily cover every path;
		// uncovered ones keep their full display form.
		if abs := "/" + paths[i]; strings.HasPrefix(abs, common+"/") {
			c.Path = strings.TrimPrefix(abs, common+"/")
		} else {
			c.Path = paths[i]
		}
		stripped[i] = c
	}
	return strings.TrimPrefix(common, "/"), stripped
}

// distinctDirs counts the distinct directories of the uncollapsed
// display paths, for the "(N files in D dirs)" summary.
func distinctDirs(changes []commit.Change) int {
	dirs := make(map[string]struct{})
	for _, c := range changes {
		dirs[path.Dir("/"+c.DisplayPath())] = struct{}{}
	}
	return len(dirs)
}
