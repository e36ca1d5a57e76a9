package infrastructure

import "strings"

// FormatCommand renders a command and its arguments as a shell line for
// logs. Commands are always run with exec, never through a shell.
func FormatCommand(name string, args ...string) string {
	parts := make([]string, 0, len(args)+1)
	parts = append(parts, quoteArg(name))
	for _, arg := range args {
		parts = append(parts, quoteArg(arg))
	}
	return strings.Join(parts, " ")
}

// quoteArg single-quotes s when it contains shell metacharacters
func quoteArg(s string) string {
	if s == "" {
		return "''"
	}
	if !strings.ContainsFunc(s, isShellSpecialChar) {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'"'"'`) + "'"
}

func isShellSpecialChar(c rune) bool {
	switch c {
	case ' ', '\t', '\'', '"', '$', '`', '\\', '!', '*', '?', '[', ']',
		'(', ')', '{', '}', '|', ';', '<', '>', '&', '~', '#', '%', '\n', '\r':
		return true
	default:
		return false
	}
}

// appleScriptString quotes s as an AppleScript string literal
func appleScriptString(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	s = strings.NewReplacer("\r", " ", "\n", " ").Replace(s)
	return `"` + s + `"`
}
