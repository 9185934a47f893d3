// Package logsource opens mongod log inputs: plain files, gzip-compressed
// files (rotated logs) and stdin.
package logsource

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/klauspost/compress/gzip"
)

const (
	// StdinPath selects stdin as the input.
	StdinPath = "-"

	// DefaultPath is the log location of a packaged mongod.
	DefaultPath = "/var/log/mongod.log"
)

var gzipMagic = []byte{0x1f, 0x8b}

// Source is an open log input.
type Source struct {
	io.Reader
	name    string
	path    string
	closers []io.Closer
}

// Open opens path for reading. "-" reads stdin. Gzip input is detected by
// extension or by its magic bytes and decompressed transparently.
func Open(path string) (*Source, error) {
	if path == StdinPath {
		return wrap(os.Stdin, "stdin", path, nil)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open log %s: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat log %s: %w", path, err)
	}
	if info.IsDir() {
		f.Close()
		return nil, fmt.Errorf("open log %s: is a directory", path)
	}
	return wrap(f, "file", path, f)
}

// FromReader wraps r as a named source; used for tests and embedding.
func FromReader(r io.Reader, name string) (*Source, error) {
	return wrap(r, name, name, nil)
}

func wrap(r io.Reader, name, path string, c io.Closer) (*Source, error) {
	s := &Source{name: name, path: path}
	if c != nil {
		s.closers = append(s.closers, c)
	}

	br := bufio.NewReaderSize(r, 64*1024)
	head, _ := br.Peek(len(gzipMagic))
	if strings.HasSuffix(path, ".gz") || bytes.Equal(head, gzipMagic) {
		zr, err := gzip.NewReader(br)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("open gzip log %s: %w", path, err)
		}
		s.closers = append([]io.Closer{zr}, s.closers...)
		s.Reader = zr
		s.name = "gzip"
		return s, nil
	}

	s.Reader = br
	return s, nil
}

// Name returns "file", "gzip", "stdin" or the name given to FromReader.
func (s *Source) Name() string { return s.name }

// Path returns the path the source was opened from.
func (s *Source) Path() string { return s.path }

// Close releases the decompressor and the underlying file.
func (s *Source) Close() error {
	var first error
	for _, c := range s.closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	s.closers = nil
	return first
}
