// Package ingest drives a log input through parsing, shape normalization
// and storage.
package ingest

import (
	"context"
	"errors"
	"io"
	"runtime"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/tinytelemetry/mongoslow/internal/logparse"
	"github.com/tinytelemetry/mongoslow/internal/model"
	"github.com/tinytelemetry/mongoslow/internal/queryshape"
	"github.com/tinytelemetry/mongoslow/internal/rejects"
)

// DefaultParseBatch is the number of events parsed concurrently before
// their records are written.
const DefaultParseBatch = 1024

// RecordSink receives parsed records in input order.
type RecordSink interface {
	Add(record *model.SlowQueryRecord) error
	Flush() error
}

// RejectSink receives lines that did not become records.
type RejectSink interface {
	Append(lineNo int64, line string, reason rejects.Reason, detail string) error
}

// Config holds tunable parameters for a pipeline run.
type Config struct {
	Workers     int    // parallel parsers; <= 0 uses GOMAXPROCS
	ParseBatch  int    // events per parallel parse round
	CharLimit   int    // command text truncation; 0 = unbounded
	MaxLineSize int    // bytes; <= 0 uses DefaultMaxLineSize
	RunID       string // stamped on every record
}

// Summary counts what happened to the input.
type Summary struct {
	Lines       int64                     `json:"lines" yaml:"lines"`
	Events      int64                     `json:"events" yaml:"events"`
	Ingested    int64                     `json:"ingested" yaml:"ingested"`
	NotSlow     int64                     `json:"not_slow" yaml:"not_slow"`
	Malformed   int64                     `json:"malformed" yaml:"malformed"`
	ByOperation map[model.Operation]int64 `json:"by_operation" yaml:"by_operation"`
}

// Skipped is the number of events that did not become records.
func (s Summary) Skipped() int64 { return s.NotSlow + s.Malformed }

// Pipeline parses events concurrently and writes the resulting records
// strictly in input order.
type Pipeline struct {
	parser  *logparse.Parser
	sink    RecordSink
	rejects RejectSink
	cfg     Config
}

// NewPipeline creates a pipeline writing to sink. rejectSink may be nil.
func NewPipeline(parser *logparse.Parser, sink RecordSink, rejectSink RejectSink, cfg Config) *Pipeline {
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.GOMAXPROCS(0)
	}
	if cfg.ParseBatch <= 0 {
		cfg.ParseBatch = DefaultParseBatch
	}
	return &Pipeline{
		parser:  parser,
		sink:    sink,
		rejects: rejectSink,
		cfg:     cfg,
	}
}

type parsed struct {
	event  Event
	record model.SlowQueryRecord
	err    error
}

// Run consumes r to the end. Parse failures are counted and skipped; a
// read, sink or context error aborts the run and is returned together
// with the counts reached so far.
func (p *Pipeline) Run(ctx context.Context, r io.Reader) (Summary, error) {
	sum := Summary{ByOperation: make(map[model.Operation]int64)}
	sc := NewEventScanner(r, p.cfg.MaxLineSize)

	batch := make([]Event, 0, p.cfg.ParseBatch)
	flushBatch := func() error {
		if len(batch) == 0 {
			return nil
		}
		results, err := p.parseBatch(ctx, batch)
		if err != nil {
			return err
		}
		batch = batch[:0]
		return p.write(results, &sum)
	}

	for sc.Scan() {
		sum.Events++
		batch = append(batch, sc.Event())
		if len(batch) >= p.cfg.ParseBatch {
			if err := flushBatch(); err != nil {
				sum.Lines = sc.Lines()
				return sum, err
			}
		}
	}
	sum.Lines = sc.Lines()
	if err := sc.Err(); err != nil {
		return sum, err
	}
	if err := flushBatch(); err != nil {
		return sum, err
	}
	if err := p.sink.Flush(); err != nil {
		return sum, err
	}
	return sum, nil
}

func (p *Pipeline) parseBatch(ctx context.Context, events []Event) ([]parsed, error) {
	results := make([]parsed, len(events))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Workers)
	for i, ev := range events {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			rec, err := p.parser.Parse(ev.Text, p.cfg.CharLimit)
			results[i] = parsed{event: ev, record: rec, err: err}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (p *Pipeline) write(results []parsed, sum *Summary) error {
	for i := range results {
		res := &results[i]
		if res.err != nil {
			p.reject(res, sum)
			continue
		}

		rec := &res.record
		rec.LineNo = res.event.LineNo
		rec.RunID = p.cfg.RunID
		queryshape.Apply(rec)

		if err := p.sink.Add(rec); err != nil {
			return err
		}
		sum.Ingested++
		sum.ByOperation[rec.Operation]++
	}
	return nil
}

func (p *Pipeline) reject(res *parsed, sum *Summary) {
	reason := rejects.ReasonMalformed
	detail := res.err.Error()
	if errors.Is(res.err, logparse.ErrNotASlowQuery) {
		reason = rejects.ReasonNotSlow
		detail = ""
		sum.NotSlow++
	} else {
		sum.Malformed++
		log.Debug().Int64("line", res.event.LineNo).Err(res.err).Msg("ingest: skipping malformed slow query")
	}

	if p.rejects == nil {
		return
	}
	if err := p.rejects.Append(res.event.LineNo, res.event.Text, reason, detail); err != nil {
		log.Warn().Err(err).Msg("ingest: reject log append failed")
	}
}
