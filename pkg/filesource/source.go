// Package filesource produces the payload blocks the engine transmits,
// tracking the read position and retaining the most recently returned
// block so the engine can replay it on retransmission.
package filesource

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/serialtp/ptp-link/pkg/wire"
)

// ErrNoFileSelected is returned by NextBlock when no file has been opened
// via Select. Callers (the engine) treat it the same as an immediate
// at-end: the session is a no-op and an EOT is emitted straight away.
var ErrNoFileSelected = errors.New("filesource: no file selected")

// Source reads a file in wire.PayloadSize chunks and remembers the last
// chunk returned so it can be replayed for a retransmit.
//
// Source owns the file handle and the read position exclusively; nothing
// outside this package touches either.
type Source struct {
	// Rewind, when true (ptp-linkd turns it on by default), makes AtEnd
	// seek the file back to byte 0 once end-of-file is observed, so a new session
	// can resend the same file without the caller re-issuing select_file.
	// This mirrors the original implementation's behavior (see DESIGN.md);
	// set false to require an explicit Select between sessions instead.
	Rewind bool

	path string
	f     *os.File
	last  []byte
	atEnd bool
}

// New creates a Source. If path is non-empty it is opened immediately;
// passing an empty path defers opening to a later Select call (the engine
// reflects this as a no-op send).
func New(path string, rewind bool) (*Source, error) {
	s := &Source{Rewind: rewind}
	if path == "" {
		return s, nil
	}
	return s, s.Select(path)
}

// Select opens path as the active file, discarding any in-progress replay
// slot. It implements the downward select_file contract.
func (s *Source) Select(path string) error {
	if s.f != nil {
		s.f.Close()
	}
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("filesource: open %q: %w", path, err)
	}
	s.path = path
	s.f = f
	s.last = nil
	s.atEnd = false
	return nil
}

// NextBlock returns the next up-to-512 bytes from the file, advancing the
// read position, and caches the block for a later PreviousBlock call.
func (s *Source) NextBlock() ([]byte, error) {
	if s.f == nil {
		return nil, ErrNoFileSelected
	}

	buf := make([]byte, wire.PayloadSize)
	n, err := io.ReadFull(s.f, buf)
	switch {
	case err == io.ErrUnexpectedEOF || err == io.EOF:
		s.atEnd = true
	case err != nil:
		return nil, fmt.Errorf("filesource: read %q: %w", s.path, err)
	}

	block := buf[:n]
	s.last = append([]byte(nil), block...)
	return s.last, nil
}

// PreviousBlock returns the same bytes the last NextBlock call returned.
// Idempotent: repeated calls return identical bytes.
func (s *Source) PreviousBlock() []byte {
	return s.last
}

// AtEnd reports whether the file has been fully consumed. If Rewind is
// set and the file is at end, AtEnd seeks it back to position 0 so the
// next NextBlock starts a fresh pass — matching
// the original implementation's rewind-on-EOF behavior.
func (s *Source) AtEnd() bool {
	if s.f == nil {
		return true
	}
	result := s.atEnd
	if result && s.Rewind {
		if _, err := s.f.Seek(0, io.SeekStart); err == nil {
			s.atEnd = false
		}
	}
	return result
}

// Close releases the underlying file handle, if any.
func (s *Source) Close() error {
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}
