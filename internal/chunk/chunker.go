package chunk

// Defaults follow the character-window policy the ingestion pipeline was
// tuned for: windows small enough to stay well under the embedding model's
// input ceiling, with a margin of shared text between neighbors so sentence
// boundaries are not lost at window edges.
const (
	DefaultSize    = 1500
	DefaultOverlap = 100

	// MaxSize caps configurable window sizes with headroom below the
	// embedding input limit; oversized windows get rejected by providers.
	MaxSize = 6000
)

// Split cuts text into windows of at most size runes where consecutive
// windows share exactly overlap runes. It is pure: identical input always
// yields identical windows. The final window may be shorter than size.
func Split(text string, size int, overlap int) []string {
	if text == "" {
		return nil
	}
	if size <= 0 {
		size = DefaultSize
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= size {
		overlap = size - 1
	}

	runes := []rune(text)
	if len(runes) <= size {
		return []string{text}
	}

	step := size - overlap
	chunks := make([]string, 0, (len(runes)+step-1)/step)
	for start := 0; start < len(runes); start += step {
		end := start + size
		if end >= len(runes) {
			chunks = append(chunks, string(runes[start:]))
			break
		}
		chunks = append(chunks, string(runes[start:end]))
	}
	return chunks
}
