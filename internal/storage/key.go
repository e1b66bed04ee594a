package storage

import (
	"fmt"
	"strings"
)

// IndexKey holds the index document. ObjectKey never produces it and
// ValidateUploadKey rejects it, so no upload can overwrite the index.
const IndexKey = "index.json"

// CleanPath normalises a caller-supplied path into a form safe for use as an
// object key or key prefix. Carriage returns and line feeds are removed,
// backslashes become forward slashes, each segment is trimmed of surrounding
// whitespace, and empty, "." and ".." segments are dropped, which also
// collapses repeated separators and strips leading and trailing ones.
// CleanPath is idempotent.
func CleanPath(p string) string {
	p = stripLineBreaks(p)
	p = strings.ReplaceAll(p, `\`, "/")

	segments := strings.Split(p, "/")
	kept := segments[:0]
	for _, s := range segments {
		s = strings.TrimSpace(s)
		if s == "" || s == "." || s == ".." {
			continue
		}
		kept = append(kept, s)
	}
	return strings.Join(kept, "/")
}

// CleanFilename reduces a caller-supplied filename to a single safe path
// segment. Every character outside [A-Za-z0-9_.-] is replaced with an
// underscore, so the result can never contain a separator.
func CleanFilename(name string) string {
	name = stripLineBreaks(name)

	var b strings.Builder
	b.Grow(len(name))
	underscore := false
	for _, r := range name {
		if isFilenameRune(r) {
			b.WriteRune(r)
			underscore = false
			continue
		}
		// Runs of disallowed characters collapse into one underscore.
		if !underscore {
			b.WriteByte('_')
			underscore = true
		}
	}
	return b.String()
}

// ObjectKey builds the storage key for an uploaded file. The folder is
// cleaned with CleanPath and the filename with CleanFilename; the key is
// folder/filename, or just filename when the folder is empty. A filename that
// is empty or made only of dots after cleaning, or a key equal to IndexKey,
// is rejected with ErrInvalidKey.
func ObjectKey(folder, filename string) (string, error) {
	name := CleanFilename(filename)
	if strings.Trim(name, ".") == "" {
		return "", fmt.Errorf("%w: filename %q is empty after sanitisation", ErrInvalidKey, filename)
	}

	key := name
	if dir := CleanPath(folder); dir != "" {
		key = dir + "/" + name
	}
	if key == IndexKey {
		return "", fmt.Errorf("%w: key %q is reserved", ErrInvalidKey, key)
	}
	return key, nil
}

// ValidateKey reports whether key is non-empty and already in the form
// CleanPath would produce.
func ValidateKey(key string) error {
	if key == "" {
		return fmt.Errorf("%w: key is empty", ErrInvalidKey)
	}
	if CleanPath(key) != key {
		return fmt.Errorf("%w: key %q is not normalised", ErrInvalidKey, key)
	}
	return nil
}

// ValidateUploadKey reports whether key is a valid key that an upload may
// be stored under.
func ValidateUploadKey(key string) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	if key == IndexKey {
		return fmt.Errorf("%w: key %q is reserved", ErrInvalidKey, key)
	}
	return nil
}

func stripLineBreaks(s string) string {
	return strings.NewReplacer("\r", "", "\n", "").Replace(s)
}

func isFilenameRune(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return true
	case r == '_', r == '-', r == '.':
		return true
	}
	return false
}
