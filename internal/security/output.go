package security

import "regexp"

// ansiEscape matches terminal escape sequences: CSI sequences (colors,
// cursor movement), OSC sequences (window title), and lone ESC controls.
var ansiEscape = regexp.MustCompile(`\x1b\[[0-9;?]*[ -/]*[@-~]|\x1b\][^\x07\x1b]*(\x07|\x1b\\)|\x1b[@-_]`)

// controlChars matches C0 control characters other than tab and newline.
var controlChars = regexp.MustCompile(`[\x00-\x08\x0b\x0c\x0e-\x1f\x7f]`)

// secretPatterns match common secret-shaped key=value substrings in command
// output. The value is replaced, the key is kept so the output remains
// readable.
var secretPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(password\s*[=:]\s*)\S+`),
	regexp.MustCompile(`(?i)(passwd\s*[=:]\s*)\S+`),
	regexp.MustCompile(`(?i)(api[_-]?key\s*[=:]\s*)\S+`),
	regexp.MustCompile(`(?i)(secret\s*[=:]\s*)\S+`),
	regexp.MustCompile(`(?i)(token\s*[=:]\s*)\S+`),
	regexp.MustCompile(`(?i)(credential[s]?\s*[=:]\s*)\S+`),
}

// SanitizeOutput strips terminal control/escape sequences and redacts
// secret-shaped substrings before text is returned to a remote caller.
func SanitizeOutput(text string) string {
	text = ansiEscape.ReplaceAllString(text, "")
	text = controlChars.ReplaceAllString(text, "")
	for _, p := range secretPatterns {
		text = p.ReplaceAllString(text, "${1}[REDACTED]")
	}
	return text
}
