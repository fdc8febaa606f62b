package model

const (
	EntryTypeFile = "file"
	EntryTypeLink = "link"
)

const (
	PackTypeContent = "content"
	PackTypeCode    = "code"
	PackTypeUploads = "uploads"
)

// PackEntry is one item inside a pack as returned by the packman service.
type PackEntry struct {
	DataType string `json:"data_type"`
	Content  string `json:"content"`
	Filename string `json:"filename,omitempty"`
}

// Pack is a named bundle of source content fetched from the packman service.
type Pack struct {
	ID      string      `json:"pack_id"`
	Type    string      `json:"pack_type"`
	Entries []PackEntry `json:"contents"`
}

// IngestResult summarizes one pack ingestion. FilesFailed lists the staged
// filenames that were skipped or failed; a non-empty list does not mean the
// ingestion failed overall.
type IngestResult struct {
	DatasetPath  string   `json:"dataset_path"`
	FilesIndexed int      `json:"files_indexed"`
	FilesFailed  []string `json:"files_failed,omitempty"`
}
