package stagerunner

import (
	"fmt"
	"regexp"
	"strings"
)

var placeholderPattern = regexp.MustCompile(`\{[a-z_]+\}`)

// expandTemplate splits a command template on whitespace and substitutes
// placeholders per argument. Splitting happens before substitution so
// values containing spaces never change the argument count.
func expandTemplate(template string, vars map[string]string) ([]string, error) {
	fields := strings.Fields(template)
	if len(fields) == 0 {
		return nil, fmt.Errorf("empty command template")
	}
	argv := make([]string, 0, len(fields))
	for _, field := range fields {
		expanded := placeholderPattern.ReplaceAllStringFunc(field, func(match string) string {
			key := strings.Trim(match, "{}")
			if value, ok := vars[key]; ok {
				return value
			}
			return match
		})
		if leftover := placeholderPattern.FindString(expanded); leftover != "" {
			return nil, fmt.Errorf("unknown placeholder %s in template", leftover)
		}
		argv = append(argv, expanded)
	}
	return argv, nil
}
