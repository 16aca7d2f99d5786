package utils

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"
)

var (
	invalidFilenameChars   = regexp.MustCompile(`[<>:"/\\|?*\x00-\x1F]`)
	consecutiveUnderscores = regexp.MustCompile(`_+`)
)

const maxFilenameLength = 100 // bytes

// SanitizeFilename turns name into a single path component: invalid characters become
// underscores, runs of underscores collapse and the result is cut to maxFilenameLength
// bytes on a rune boundary. Empty results become "untitled".
func SanitizeFilename(name string) string {
	s := invalidFilenameChars.ReplaceAllString(name, "_")
	s = consecutiveUnderscores.ReplaceAllString(s, "_")
	s = strings.Trim(s, "_ ")

	if len(s) > maxFilenameLength {
		cut := maxFilenameLength
		for cut > 0 && !utf8.RuneStart(s[cut]) {
			cut--
		}
		s = strings.Trim(s[:cut], "_ ")
	}
	if s == "" {
		return "untitled"
	}
	return s
}

// DebugDumpName builds a filename for a raw page dump: "<label>_<host+path>_<unix>.<ext>".
func DebugDumpName(label, rawURL, ext string, at time.Time) string {
	stem := rawURL
	if u, err := url.Parse(rawURL); err == nil && u.Host != "" {
		stem = u.Host + u.Path
	}
	return fmt.Sprintf("%s_%s_%d.%s", SanitizeFilename(label), SanitizeFilename(stem), at.Unix(), ext)
}
