package pack

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path"
	"strings"

	"github.com/deepquery/deepquery/internal/model"
)

const linkNameLen = 16

// LinkFilename derives a stable staging filename from a link URL, so
// re-ingesting a pack maps unchanged links to the same file.
func LinkFilename(url string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(url)))
	return hex.EncodeToString(sum[:])[:linkNameLen] + ".txt"
}

// EntryFilename resolves the staging filename for one pack entry. Every
// entry gets a non-empty name: files fall back to a positional default,
// links always hash their URL.
func EntryFilename(entry model.PackEntry, index int) string {
	if entry.DataType == model.EntryTypeLink {
		return LinkFilename(entry.Content)
	}
	name := sanitizeFilename(entry.Filename)
	if name == "" {
		name = fmt.Sprintf("entry_%d.txt", index)
	}
	return name
}

// sanitizeFilename keeps only the base name and rejects anything that could
// escape the staging prefix.
func sanitizeFilename(name string) string {
	name = strings.TrimSpace(name)
	name = strings.ReplaceAll(name, "\\", "/")
	name = path.Base(name)
	if name == "." || name == ".." || name == "/" {
		return ""
	}
	return name
}
