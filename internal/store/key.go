package store

import (
	"path"
	"strings"
)

// Key derives the storage address for an artifact payload. It is a pure
// function: identical inputs always yield the identical key, and because the
// three UID segments are path components, no two distinct UID triples can
// collide regardless of filename.
func Key(collectionUID, groupUID, artifactUID, filename string) string {
	return path.Join("collections", collectionUID, groupUID, artifactUID, SanitizeFilename(filename))
}

// SanitizeFilename reduces a client-supplied filename to a safe key segment.
// Path separators and anything outside [a-zA-Z0-9._-] become underscores; the
// extension is preserved.
func SanitizeFilename(name string) string {
	name = path.Base(strings.ReplaceAll(name, "\\", "/"))
	if name == "." || name == "/" || name == "" {
		return "file"
	}

	name = strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '.' || r == '-' || r == '_' {
			return r
		}
		return '_'
	}, name)

	if len(name) > 120 {
		ext := path.Ext(name)
		name = name[:120-len(ext)] + ext
	}
	if strings.Trim(name, "._") == "" {
		return "file"
	}
	return name
}
