package filesource

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/serialtp/ptp-link/pkg/wire"
)

func writeTempFile(t *testing.T, content []byte) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "payload.txt")
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	return path
}

func TestNextBlockSmallFile(t *testing.T) {
	path := writeTempFile(t, []byte("HI"))
	src, err := New(path, false)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if src.AtEnd() {
		t.Fatal("expected not at end before first read")
	}

	block, err := src.NextBlock()
	if err != nil {
		t.Fatalf("NextBlock: %v", err)
	}
	if !bytes.Equal(block, []byte("HI")) {
		t.Fatalf("block = %q, want %q", block, "HI")
	}
	if !src.AtEnd() {
		t.Fatal("expected at end after consuming the whole file")
	}
}

func TestPreviousBlockIdempotent(t *testing.T) {
	path := writeTempFile(t, []byte("hello world"))
	src, err := New(path, false)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	first, err := src.NextBlock()
	if err != nil {
		t.Fatalf("NextBlock: %v", err)
	}

	for i := 0; i < 3; i++ {
		prev := src.PreviousBlock()
		if !bytes.Equal(prev, first) {
			t.Fatalf("PreviousBlock call %d = %q, want %q", i, prev, first)
		}
	}
}

func TestElevenBlockFileYieldsElevenBlocks(t *testing.T) {
	content := bytes.Repeat([]byte("x"), wire.PayloadSize*10+1)
	path := writeTempFile(t, content)
	src, err := New(path, false)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	var total int
	for i := 0; i < 11; i++ {
		if src.AtEnd() {
			t.Fatalf("unexpectedly at end before block %d", i)
		}
		block, err := src.NextBlock()
		if err != nil {
			t.Fatalf("NextBlock %d: %v", i, err)
		}
		total += len(block)
	}
	if total != len(content) {
		t.Fatalf("total bytes read = %d, want %d", total, len(content))
	}
	if !src.AtEnd() {
		t.Fatal("expected at end after 11 blocks of an 5121-byte file")
	}
}

func TestRewindOnEOFRestartsNextSession(t *testing.T) {
	path := writeTempFile(t, []byte("HI"))
	src, err := New(path, true)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if _, err := src.NextBlock(); err != nil {
		t.Fatalf("NextBlock: %v", err)
	}
	if !src.AtEnd() {
		t.Fatal("expected at end after consuming the file")
	}

	// A second NextBlock call, after rewind, should see the file from the
	// start again.
	block, err := src.NextBlock()
	if err != nil {
		t.Fatalf("NextBlock after rewind: %v", err)
	}
	if !bytes.Equal(block, []byte("HI")) {
		t.Fatalf("block after rewind = %q, want %q", block, "HI")
	}
}

func TestNoRewindStaysAtEnd(t *testing.T) {
	path := writeTempFile(t, []byte("HI"))
	src, err := New(path, false)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if _, err := src.NextBlock(); err != nil {
		t.Fatalf("NextBlock: %v", err)
	}
	if !src.AtEnd() {
		t.Fatal("expected at end")
	}
	if !src.AtEnd() {
		t.Fatal("expected to remain at end without rewind enabled")
	}
}

func TestNoFileSelectedIsAtEndImmediately(t *testing.T) {
	src, err := New("", false)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if !src.AtEnd() {
		t.Fatal("expected at-end with no file selected")
	}
	if _, err := src.NextBlock(); err != ErrNoFileSelected {
		t.Fatalf("NextBlock err = %v, want ErrNoFileSelected", err)
	}
}

func TestSelectReplacesOpenFile(t *testing.T) {
	pathA := writeTempFile(t, []byte("AAA"))
	pathB := writeTempFile(t, []byte("BBB"))

	src, err := New(pathA, false)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := src.Select(pathB); err != nil {
		t.Fatalf("Select: %v", err)
	}

	block, err := src.NextBlock()
	if err != nil {
		t.Fatalf("NextBlock: %v", err)
	}
	if !bytes.Equal(block, []byte("BBB")) {
		t.Fatalf("block = %q, want %q", block, "BBB")
	}
}
