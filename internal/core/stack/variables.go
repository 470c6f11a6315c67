package stack

import "regexp"

// =============================================================================
// Variable Substitution
// =============================================================================

// varPlaceholderRegex matches ${VAR} and ${VAR:-default} patterns.
var varPlaceholderRegex = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-([^}]*))?\}`)

// SubstituteVariables replaces ${VAR} and ${VAR:-default} placeholders with
// values from the variables map (typically the materialized env file).
//
//   - ${VAR}           -> variables["VAR"] if set, otherwise kept as-is
//   - ${VAR:-default}  -> variables["VAR"] if set, otherwise "default"
func SubstituteVariables(value string, variables map[string]string) string {
	if variables == nil {
		variables = make(map[string]string)
	}

	return varPlaceholderRegex.ReplaceAllStringFunc(value, func(match string) string {
		submatch := varPlaceholderRegex.FindStringSubmatch(match)
		if len(submatch) < 2 {
			return match
		}
		if val, ok := variables[submatch[1]]; ok {
			return val
		}
		// ${VAR:-default} falls back to the default, which may be empty.
		if len(submatch) >= 3 && submatch[2] != "" {
			return submatch[2]
		}
		if regexp.MustCompile(`\$\{` + submatch[1] + `:-\}`).MatchString(match) {
			return ""
		}
		return match
	})
}
