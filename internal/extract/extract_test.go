package extract

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"
)

func TestText_NotAPDF(t *testing.T) {
	data := []byte("this is plain text, not a pdf document at all")
	_, err := Text(bytes.NewReader(data), int64(len(data)))
	if err == nil {
		t.Fatal("expected error for non-pdf input, got nil")
	}
	if !strings.Contains(err.Error(), "reading pdf") {
		t.Errorf("err = %v, want a reading pdf error", err)
	}
}

func TestText_TruncatedHeader(t *testing.T) {
	data := []byte("%PDF-1.4\n")
	_, err := Text(bytes.NewReader(data), int64(len(data)))
	if err == nil {
		t.Fatal("expected error for truncated pdf, got nil")
	}
}

func TestText_Empty(t *testing.T) {
	_, err := Text(bytes.NewReader(nil), 0)
	if err == nil {
		t.Fatal("expected error for empty input, got nil")
	}
}

func TestFile_Missing(t *testing.T) {
	_, err := File(filepath.Join(t.TempDir(), "nope.pdf"))
	if err == nil {
		t.Fatal("expected error for missing file, got nil")
	}
}
