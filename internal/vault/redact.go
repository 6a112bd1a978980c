package vault

import "strings"

// sensitiveTerms flag an environment variable name as secret-bearing.
// Matching is case-insensitive substring, so DB_PASSWORD, API_KEY, and
// GITHUB_TOKEN all hit.
var sensitiveTerms = []string{
	"PASSWORD",
	"PASSWD",
	"SECRET",
	"TOKEN",
	"CREDENTIAL",
	"API_KEY",
	"APIKEY",
	"PRIVATE_KEY",
	"AUTH",
}

// redactPrefixLen is how many characters of a sensitive value stay
// visible, enough to tell two secrets apart in a log without exposing
// either.
const redactPrefixLen = 4

const redactMask = "****"

// RedactEnv returns a log-safe copy of an environment. Each entry is a
// "NAME=value" string as returned by os.Environ. Values of variables
// whose names match a sensitive term are replaced by a short visible
// prefix plus a fixed mask; all other values pass through unchanged.
func RedactEnv(environ []string) map[string]string {
	out := make(map[string]string, len(environ))
	for _, entry := range environ {
		name, value, ok := strings.Cut(entry, "=")
		if !ok {
			continue
		}
		if isSensitiveName(name) {
			out[name] = redactValue(value)
		} else {
			out[name] = value
		}
	}
	return out
}

func isSensitiveName(name string) bool {
	upper := strings.ToUpper(name)
	for _, term := range sensitiveTerms {
		if strings.Contains(upper, term) {
			return true
		}
	}
	return false
}

func redactValue(value string) string {
	if value == "" {
		return ""
	}
	if len(value) <= redactPrefixLen {
		return redactMask
	}
	return value[:redactPrefixLen] + redactMask
}
