package transfer

import "strings"

// sanitizeBaseName repairs a wire-supplied file name into something safe to
// join under a download directory. The wire codec already rejects names
// containing a path separator before a Message exists at all (internal/wire's
// isSafeBaseName), so this is the second, defensive layer: it neutralizes
// ".." segments and control characters rather than rejecting the request
// outright.
func sanitizeBaseName(name string) (string, bool) {
	cleaned := strings.Map(func(r rune) rune {
		switch {
		case r == '/' || r == '\\':
			return '_'
		case r < 0x20 || r == 0x7f:
			return '_'
		default:
			return r
		}
	}, name)
	cleaned = strings.ReplaceAll(cleaned, "..", "__")
	cleaned = strings.TrimSpace(cleaned)
	if cleaned == "" {
		return "", false
	}
	return cleaned, true
}
