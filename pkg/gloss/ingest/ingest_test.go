package ingest

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestExtractText(t *testing.T) {
	cases := []struct {
		name string
		html string
		want string
	}{
		{
			name: "paragraphs become line breaks",
			html: "<html><body><p>First paragraph.</p><p>Second one.</p></body></html>",
			want: "First paragraph.\n\nSecond one.",
		},
		{
			name: "script and style dropped",
			html: "<html><head><style>p{color:red}</style></head><body><p>Visible.</p><script>alert(1)</script></body></html>",
			want: "Visible.",
		},
		{
			name: "inline markup flattened",
			html: "<p>Some <b>bold</b> and <i>italic</i> text.</p>",
			want: "Some bold and italic text.",
		},
		{
			name: "headings and lists keep structure",
			html: "<h1>Title</h1><ul><li>one</li><li>two</li></ul>",
			want: "Title\n\none\n\ntwo",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ExtractText(tc.html)
			if err != nil {
				t.Fatalf("ExtractText: %v", err)
			}
			if got != tc.want {
				t.Errorf("got %q, want %q", got, tc.want)
			}
		})
	}
}

func TestReadSourcePlainText(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "story.txt")
	content := "Plain text stays <b>exactly</b> as is.\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	got, err := ReadSource(path)
	if err != nil {
		t.Fatalf("ReadSource: %v", err)
	}
	if got != content {
		t.Errorf("got %q, want %q", got, content)
	}
}

func TestReadSourceHTML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "story.html")
	if err := os.WriteFile(path, []byte("<p>Hello there.</p><p>Bye.</p>"), 0o644); err != nil {
		t.Fatal(err)
	}
	got, err := ReadSource(path)
	if err != nil {
		t.Fatalf("ReadSource: %v", err)
	}
	if !strings.Contains(got, "Hello there.") || strings.Contains(got, "<p>") {
		t.Errorf("markup not stripped: %q", got)
	}
}

func TestReadSourceMissingFile(t *testing.T) {
	if _, err := ReadSource(filepath.Join(t.TempDir(), "nope.txt")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
