package utils

import (
	"regexp"
	"strings"
	"unicode"
)

var (
	// Characters invalid in filenames on most filesystems
	invalidFilenameChars = regexp.MustCompile(`[<>:"/\\|?*]`)
	// Whitespace characters to normalize
	whitespaceChars = regexp.MustCompile(`[\r\n\t ]`)
)

const maxFilenameLength = 200

// SanitizeFilename turns a counterparty display name into a safe filename
// component: spaces become underscores, filesystem-hostile characters are
// dropped and overly long names are truncated.
func SanitizeFilename(filename string) string {
	// Spaces and control whitespace become underscores
	filename = whitespaceChars.ReplaceAllString(filename, "_")

	// Remove invalid filename characters
	filename = invalidFilenameChars.ReplaceAllString(filename, "")

	// Drop anything non-printable that survived
	filename = strings.Map(func(r rune) rune {
		if unicode.IsPrint(r) {
			return r
		}
		return -1
	}, filename)

	filename = strings.Trim(filename, "._")

	// Leave room for date prefix, key suffix and extension
	if len(filename) > maxFilenameLength {
		filename = strings.Trim(filename[:maxFilenameLength], "._")
	}

	if filename == "" {
		filename = "unnamed"
	}

	return filename
}

// FormatDate reduces an ISO 8601 timestamp to its YYYY-MM-DD date part.
// Empty input yields "unknown_date".
func FormatDate(isoDate string) string {
	if isoDate == "" {
		return "unknown_date"
	}
	if idx := strings.Index(isoDate, "T"); idx > 0 {
		return isoDate[:idx]
	}
	return isoDate
}
