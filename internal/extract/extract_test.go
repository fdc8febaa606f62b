package extract

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKindFor(t *testing.T) {
	tests := []struct {
		filename string
		want     Kind
	}{
		{"notes.txt", KindPlainText},
		{"main.go", KindPlainText},
		{"Dockerfile", KindPlainText},
		{"data.csv", KindTabular},
		{"README.md", KindMarkup},
		{"index.html", KindMarkup},
		{"report.pdf", KindPdf},
		{"sheet.xlsx", KindSpreadsheet},
		{"image.png", KindUnsupported},
		{"archive.tar.gz", KindUnsupported},
	}
	for _, tt := range tests {
		if got := KindFor(tt.filename); got != tt.want {
			t.Errorf("KindFor(%q) = %v, want %v", tt.filename, got, tt.want)
		}
	}
}

func TestExtract_PlainText(t *testing.T) {
	res, err := Extract("a.txt", strings.NewReader("hello world"))
	require.NoError(t, err)
	require.False(t, res.Skipped)
	require.Equal(t, []string{"hello world"}, res.Texts)
}

func TestExtract_BinarySkipped(t *testing.T) {
	res, err := Extract("blob.txt", strings.NewReader("ab\x00cd"))
	require.NoError(t, err)
	require.True(t, res.Skipped)
	require.Contains(t, res.Reason, "binary")
}

func TestExtract_BinarySniffOnlyFirstKilobyte(t *testing.T) {
	// A NUL past the 1KB sample should not mark the file binary.
	body := strings.Repeat("a", 2048) + "\x00"
	res, err := Extract("big.txt", strings.NewReader(body))
	require.NoError(t, err)
	require.False(t, res.Skipped)
}

func TestExtract_UnsupportedNeverErrors(t *testing.T) {
	res, err := Extract("photo.png", strings.NewReader("\x89PNG"))
	require.NoError(t, err)
	require.True(t, res.Skipped)

	res, err = Extract("report.pdf", strings.NewReader("%PDF-1.7"))
	require.NoError(t, err)
	require.True(t, res.Skipped)
}

func TestExtract_EmptyFileSkipped(t *testing.T) {
	res, err := Extract("empty.txt", strings.NewReader("  \n"))
	require.NoError(t, err)
	require.True(t, res.Skipped)
}

func TestExtract_MarkdownStripsFormatting(t *testing.T) {
	md := "# Title\n\nSome *emphasized* text.\n\n```go\nfunc main() {}\n```\n"
	res, err := Extract("doc.md", strings.NewReader(md))
	require.NoError(t, err)
	require.False(t, res.Skipped)
	require.Len(t, res.Texts, 1)
	require.Contains(t, res.Texts[0], "Title")
	require.Contains(t, res.Texts[0], "emphasized")
	require.Contains(t, res.Texts[0], "func main() {}")
	require.NotContains(t, res.Texts[0], "```")
}

func TestStripTags(t *testing.T) {
	html := `<html><head><style>.x{color:red}</style></head><body><p>hello</p> <script>var a=1;</script><b>world</b></body></html>`
	got := stripTags(html)
	require.Equal(t, "hello world", got)
}
