package config

import (
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// ExpandEnvStrict expands environment references in s.
//
//   - `$VAR` and `${VAR}` expand as with os.ExpandEnv.
//   - A `${VAR}` naming an unset variable is an error; bare `$VAR` is not.
//   - `$$` yields a literal `$`.
func ExpandEnvStrict(s string) (string, error) {
	return expandEnvStrict(s, os.LookupEnv)
}

func expandEnvStrict(s string, lookup func(string) (string, bool)) (string, error) {
	const dollarSentinel = "\x00CALLCACHE_DOLLAR\x00"
	s = strings.ReplaceAll(s, "$$", dollarSentinel)

	missing := make(map[string]struct{})
	for _, match := range envVarPattern.FindAllStringSubmatch(s, -1) {
		if _, ok := lookup(match[1]); !ok {
			missing[match[1]] = struct{}{}
		}
	}
	if len(missing) > 0 {
		keys := make([]string, 0, len(missing))
		for k := range missing {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		return "", fmt.Errorf("%w: %s", ErrMissingEnv, strings.Join(keys, ", "))
	}

	s = os.Expand(s, func(key string) string {
		v, _ := lookup(key)
		return v
	})
	return strings.ReplaceAll(s, dollarSentinel, "$"), nil
}
