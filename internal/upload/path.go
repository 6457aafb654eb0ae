package upload

import (
	"fmt"
	"path"
	"strings"
	"time"

	dErrors "audiovault/pkg/domain-errors"
	"audiovault/pkg/requestcontext"
)

// StoragePrefix is the object key prefix for every uploaded audio file.
const StoragePrefix = "audio_files/"

const timestampLayout = "20060102_150405"

// contentTypes maps the accepted extensions onto their default MIME type.
var contentTypes = map[string]string{
	"mp3":  "audio/mpeg",
	"wav":  "audio/wav",
	"ogg":  "audio/ogg",
	"m4a":  "audio/mp4",
	"aiff": "audio/aiff",
}

// Sanitize drops directory components and replaces every rune outside
// [A-Za-z0-9._-] with an underscore.
func Sanitize(name string) string {
	name = path.Base(strings.ReplaceAll(name, "\\", "/"))
	if name == "." || name == "/" {
		return ""
	}
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

// CallerSegment is the sanitized caller id used in object keys.
func CallerSegment(callerID string) string {
	if s := Sanitize(callerID); s != "" && s != ".." {
		return s
	}
	return requestcontext.AnonymousCaller
}

// ObjectKey is the storage path minted for a new upload grant.
func ObjectKey(callerID string, at time.Time, fileName string) string {
	return fmt.Sprintf("%s%s_%s_%s", StoragePrefix, CallerSegment(callerID), at.UTC().Format(timestampLayout), Sanitize(fileName))
}

// DerivedPath is the deterministic storage path for a registration that did
// not name one.
func DerivedPath(callerID, fileName string) string {
	return fmt.Sprintf("%s%s_%s", StoragePrefix, CallerSegment(callerID), Sanitize(fileName))
}

// ValidatePath rejects paths outside the upload prefix.
func ValidatePath(p string) error {
	if !strings.HasPrefix(p, StoragePrefix) || len(p) == len(StoragePrefix) {
		return dErrors.New(dErrors.CodeInvalidInput, "file_path must start with "+StoragePrefix)
	}
	if strings.Contains(p, "..") || strings.Contains(p, "\\") {
		return dErrors.New(dErrors.CodeInvalidInput, "file_path must not traverse directories")
	}
	return nil
}

// ContentTypeFor returns the default MIME type for an accepted file name.
func ContentTypeFor(fileName string) (string, error) {
	ext := strings.ToLower(strings.TrimPrefix(path.Ext(fileName), "."))
	ct, ok := contentTypes[ext]
	if !ok {
		return "", dErrors.New(dErrors.CodeInvalidInput, "unsupported audio file extension")
	}
	return ct, nil
}
