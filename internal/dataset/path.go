package dataset

import (
	"crypto/sha256"
	"encoding/hex"
	"path"
)

// FileName is the dataset artifact name inside each scope directory.
const FileName = "dataset.db"

// Resolve maps an (identity, pack_type, pack_id) scope to its logical dataset
// path, relative to the store root. The mapping is pure: identical arguments
// always address the same dataset, and every segment is sanitized before it
// can reach the filesystem.
func Resolve(identity, packType, packID string) string {
	return path.Join(
		SanitizeSegment(identity),
		SanitizeSegment(packType),
		SanitizeSegment(packID),
		FileName,
	)
}

// IdentityPrefix is the path prefix under which all of one identity's
// datasets live.
func IdentityPrefix(identity string) string {
	return SanitizeSegment(identity)
}

// SanitizeSegment makes an arbitrary string safe as a single path segment.
// Values already restricted to [A-Za-z0-9._-] pass through so stable ids stay
// readable on disk; anything else is replaced by a hash of itself, which
// keeps the mapping deterministic and collision-resistant.
func SanitizeSegment(s string) string {
	if s != "" && s != "." && s != ".." && len(s) <= 128 && isSafeSegment(s) {
		return s
	}
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:16])
}

func isSafeSegment(s string) bool {
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		case r == '.' || r == '_' || r == '-':
		default:
			return false
		}
	}
	return true
}
