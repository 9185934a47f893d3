// Package rejects keeps an append-only JSONL log of input lines that did
// not become records, so that parser gaps can be inspected after a run.
package rejects

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
)

const (
	defaultFileMode = 0644
	defaultDirMode  = 0755
)

// Reason classifies a rejected line.
type Reason string

const (
	ReasonNotSlow   Reason = "not_slow_query"
	ReasonMalformed Reason = "malformed"
)

// Entry is one rejected line.
type Entry struct {
	Seq    uint64    `json:"seq"`
	RunID  string    `json:"run_id,omitempty"`
	LineNo int64     `json:"line_no"`
	Reason Reason    `json:"reason"`
	Detail string    `json:"detail,omitempty"`
	Line   string    `json:"line"`
	At     time.Time `json:"at"`
}

// Log appends reject entries to a file. It is safe for concurrent use.
type Log struct {
	mu      sync.Mutex
	path    string
	file    *os.File
	w       *bufio.Writer
	nextSeq uint64
	runID   string
	filter  map[Reason]bool
}

// Open creates or appends to the reject log at path. When reasons are
// given, only entries with one of those reasons are written.
func Open(path, runID string, reasons ...Reason) (*Log, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("rejects: path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), defaultDirMode); err != nil {
		return nil, fmt.Errorf("rejects: mkdir: %w", err)
	}

	maxSeq, err := lastSeq(path)
	if err != nil {
		return nil, err
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, defaultFileMode)
	if err != nil {
		return nil, fmt.Errorf("rejects: open: %w", err)
	}

	l := &Log{
		path:    path,
		file:    f,
		w:       bufio.NewWriter(f),
		nextSeq: maxSeq + 1,
		runID:   runID,
	}
	if len(reasons) > 0 {
		l.filter = make(map[Reason]bool, len(reasons))
		for _, r := range reasons {
			l.filter[r] = true
		}
	}
	return l, nil
}

// Append records one rejected line.
func (l *Log) Append(lineNo int64, line string, reason Reason, detail string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return errors.New("rejects: log is closed")
	}
	if l.filter != nil && !l.filter[reason] {
		return nil
	}

	e := Entry{
		Seq:    l.nextSeq,
		RunID:  l.runID,
		LineNo: lineNo,
		Reason: reason,
		Detail: detail,
		Line:   line,
		At:     time.Now().UTC(),
	}
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("rejects: marshal entry: %w", err)
	}
	data = append(data, '\n')
	if _, err := l.w.Write(data); err != nil {
		return fmt.Errorf("rejects: write entry: %w", err)
	}
	l.nextSeq++
	return nil
}

// Close flushes buffered entries and closes the file.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return nil
	}
	flushErr := l.w.Flush()
	closeErr := l.file.Close()
	l.file = nil
	if flushErr != nil {
		return fmt.Errorf("rejects: flush: %w", flushErr)
	}
	return closeErr
}

// Path returns the log file path.
func (l *Log) Path() string { return l.path }

// Read calls fn for each complete entry in the log at path. A partially
// written trailing line is ignored.
func Read(path string, fn func(Entry) error) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("rejects: open for read: %w", err)
	}
	defer f.Close()

	reader := bufio.NewReader(f)
	for {
		line, err := reader.ReadBytes('\n')
		if len(line) > 0 && line[len(line)-1] == '\n' {
			var e Entry
			if uerr := json.Unmarshal(line, &e); uerr != nil {
				return fmt.Errorf("rejects: decode entry: %w", uerr)
			}
			if ferr := fn(e); ferr != nil {
				return ferr
			}
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("rejects: read: %w", err)
		}
	}
}

func lastSeq(path string) (uint64, error) {
	var maxSeq uint64
	err := Read(path, func(e Entry) error {
		if e.Seq > maxSeq {
			maxSeq = e.Seq
		}
		return nil
	})
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return 0, err
	}
	return maxSeq, nil
}
