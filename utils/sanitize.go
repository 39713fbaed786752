package utils

import (
	"path/filepath"
	"regexp"
	"strings"
	"unicode"
)

var (
	forbiddenRe = regexp.MustCompile(`[\\/:*?\"<>|]+`)

	reservedNames = []string{
		"CON", "PRN", "AUX", "NUL",
		"COM1", "COM2", "COM3", "COM4", "COM5", "COM6", "COM7", "COM8", "COM9",
		"LPT1", "LPT2", "LPT3", "LPT4", "LPT5", "LPT6", "LPT7", "LPT8", "LPT9",
	}
)

// SanitizeFilename makes a user-provided name safe to use as a file name.
func SanitizeFilename(filename string) string {
	filename = forbiddenRe.ReplaceAllString(filename, "_")

	// Remove control characters
	filename = strings.Map(func(r rune) rune {
		if unicode.IsGraphic(r) {
			return r
		}
		return -1
	}, filename)

	filename = strings.TrimSpace(filename)
	filename = strings.Trim(filename, ".")

	for _, name := range reservedNames {
		if strings.EqualFold(filename, name) {
			filename = "_" + filename
			break
		}
	}

	if len(filename) == 0 {
		filename = "_"
	}
	return filename
}

// ReplaceExtension returns the base name of input with its extension replaced
// by ext, sanitized. An empty input gives "output.<ext>".
func ReplaceExtension(input string, ext string) string {
	base := filepath.Base(input)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	if base == "" || base == "." || base == string(filepath.Separator) {
		base = "output"
	}
	return SanitizeFilename(base + "." + ext)
}
