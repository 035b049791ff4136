package agent

import (
	"regexp"
	"strings"
)

// maxInstructionLen caps instructions at 50 KiB before they reach a CLI.
const maxInstructionLen = 50 * 1024

var sanitizeReplacer = strings.NewReplacer(
	"`", "'",
	"$", "",
	"\\", "",
)

// SanitizeInstruction neutralizes shell-active characters in a user
// instruction and enforces the length cap. Instructions are always passed as
// a single argv element, this is defense against CLIs that re-interpret the
// prompt through a shell.
func SanitizeInstruction(s string) string {
	s = sanitizeReplacer.Replace(s)
	// A leading dash would read as a flag to the backend CLI.
	s = strings.TrimLeft(s, "-")
	s = strings.TrimSpace(s)
	if len(s) > maxInstructionLen {
		s = s[:maxInstructionLen]
	}
	return s
}

var (
	uuidSessionRe   = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`)
	opaqueSessionRe = regexp.MustCompile(`^[A-Za-z0-9_-]{8,128}$`)
)

// isUUIDSession matches session identifiers minted as UUIDs.
func isUUIDSession(id string) bool { return uuidSessionRe.MatchString(id) }

// isOpaqueSession matches backends with free-form opaque identifiers.
func isOpaqueSession(id string) bool { return opaqueSessionRe.MatchString(id) }
