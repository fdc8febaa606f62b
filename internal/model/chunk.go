package model

// Chunk is a bounded span of text prepared for embedding, tagged with the
// filename it came from.
type Chunk struct {
	Text   string `json:"text"`
	Source string `json:"source"`
}

// SearchResult is one similarity-search hit, highest score first.
type SearchResult struct {
	Text   string  `json:"text"`
	Source string  `json:"source"`
	Score  float32 `json:"score"`
}
