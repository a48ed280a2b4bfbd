// Package fileutil derives safe display filenames and storage keys for
// uploaded photos. Sanitize is idempotent: feeding its output back in
// returns the same string.
package fileutil

import (
	"path/filepath"
	"strings"
)

const maxFilenameLen = 255

// FallbackName replaces filenames that sanitize away to nothing.
const FallbackName = "file"

var reservedNames = func() map[string]struct{} {
	names := []string{
		"CON", "PRN", "AUX", "NUL",
		"COM1", "COM2", "COM3", "COM4", "COM5", "COM6", "COM7", "COM8", "COM9",
		"LPT1", "LPT2", "LPT3", "LPT4", "LPT5", "LPT6", "LPT7", "LPT8", "LPT9",
	}
	m := make(map[string]struct{}, len(names))
	for _, name := range names {
		m[name] = struct{}{}
	}
	return m
}()

// Sanitize strips path traversal and separators, replaces anything outside
// [A-Za-z0-9._-] with underscores, prefixes Windows device names with
// "file_", and caps the result at 255 bytes while keeping the extension.
func Sanitize(name string) string {
	name = strings.TrimSpace(name)
	name = strings.ReplaceAll(name, "/", "")
	name = strings.ReplaceAll(name, "\\", "")
	name = dropDotDot(name)

	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '.', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	name = b.String()

	if isReserved(name) {
		name = "file_" + name
	}
	name = truncate(name, maxFilenameLen)
	// Truncation can butt two dots together when the cut lands between them.
	name = dropDotDot(name)
	if name == "" {
		return FallbackName
	}
	return name
}

// StorageKey derives the object key for an upload: the photo ID plus the
// lowercased extension of the sanitized filename. The ID stem keeps keys
// unique regardless of filename collisions.
func StorageKey(photoID, filename string) string {
	return photoID + strings.ToLower(filepath.Ext(Sanitize(filename)))
}

func dropDotDot(name string) string {
	for strings.Contains(name, "..") {
		name = strings.ReplaceAll(name, "..", "")
	}
	return name
}

func isReserved(name string) bool {
	base := name
	if i := strings.IndexByte(name, '.'); i >= 0 {
		base = name[:i]
	}
	_, ok := reservedNames[strings.ToUpper(base)]
	return ok
}

func truncate(name string, max int) string {
	if len(name) <= max {
		return name
	}
	ext := filepath.Ext(name)
	if len(ext) >= max {
		return name[:max]
	}
	return name[:max-len(ext)] + ext
}
