package loader

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

var ErrNoMatch = errors.New("pattern matched no files")

// Expand resolves script arguments. Plain paths are returned as given so
// that a missing file is reported when it is read; glob patterns must
// match at least one file. The result keeps argument order, with each
// pattern's matches sorted, and drops duplicates.
func Expand(args []string) ([]string, error) {
	seen := make(map[string]bool)
	var paths []string

	add := func(p string) {
		key := filepath.Clean(p)
		if !seen[key] {
			seen[key] = true
			paths = append(paths, p)
		}
	}

	for _, arg := range args {
		if !isPattern(arg) {
			add(arg)
			continue
		}
		matches, err := doublestar.FilepathGlob(arg, doublestar.WithFilesOnly())
		if err != nil {
			return nil, fmt.Errorf("glob %q: %w", arg, err)
		}
		if len(matches) == 0 {
			return nil, fmt.Errorf("%w: %s", ErrNoMatch, arg)
		}
		sort.Strings(matches)
		for _, m := range matches {
			add(m)
		}
	}
	return paths, nil
}

func isPattern(s string) bool {
	return strings.ContainsAny(s, "*?[{")
}
