package runner

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// environMap returns the inherited process environment as a map.
func environMap() map[string]string {
	env := map[string]string{}
	for _, entry := range os.Environ() {
		pair := strings.SplitN(entry, "=", 2)
		if len(pair) != 2 {
			continue
		}
		env[pair[0]] = pair[1]
	}
	return env
}

// flattenEnvironment renders an environment map in the KEY=VALUE form
// expected by exec.Cmd and the engine API. Entries are sorted so generated
// commands stay deterministic.
func flattenEnvironment(env map[string]string) []string {
	entries := make([]string, 0, len(env))
	for name, value := range env {
		entries = append(entries, fmt.Sprintf("%s=%s", name, value))
	}
	sort.Strings(entries)
	return entries
}

// expandPath resolves a home-relative or relative path to an absolute one.
func expandPath(path string) (string, error) {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", errors.Wrapf(err, "expanding %q failed", path)
		}
		path = filepath.Join(home, strings.TrimPrefix(path, "~"))
	}
	absolute, err := filepath.Abs(path)
	if err != nil {
		return "", errors.Wrapf(err, "resolving %q failed", path)
	}
	return absolute, nil
}
