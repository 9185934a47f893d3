package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/tinytelemetry/mongoslow/internal/aggregate"
	"github.com/tinytelemetry/mongoslow/internal/backup"
	"github.com/tinytelemetry/mongoslow/internal/duckdb"
	"github.com/tinytelemetry/mongoslow/internal/httpserver"
	"github.com/tinytelemetry/mongoslow/internal/ingest"
	"github.com/tinytelemetry/mongoslow/internal/logger"
	"github.com/tinytelemetry/mongoslow/internal/logparse"
	"github.com/tinytelemetry/mongoslow/internal/logsource"
	"github.com/tinytelemetry/mongoslow/internal/model"
	"github.com/tinytelemetry/mongoslow/internal/rejects"
	"github.com/tinytelemetry/mongoslow/internal/report"
)

const collScanPlan = "COLLSCAN"

// aggregateRequest maps the CLI configuration onto an aggregation request.
func aggregateRequest(cfg appConfig) aggregate.Request {
	req := aggregate.Request{
		Dimension: model.Dimension(cfg.GroupBy),
		OrderBy:   model.OrderBy(cfg.OrderBy),
		Limit:     cfg.Limit,
		MinCount:  cfg.Count,
	}
	if cfg.CollScan {
		req.PlanFilter = collScanPlan
	}
	return req
}

// analyze ingests the configured log, reports the top groups and runs the
// optional snapshot and API steps. With --sql the ingest is skipped and the
// existing database is queried as is.
func analyze(ctx context.Context, cfg appConfig, stdin io.Reader, stdout, stderr io.Writer) error {
	logger.Init(logger.Options{Level: cfg.LogLevel, Pretty: cfg.LogPretty, Out: stderr})

	// Reject bad parameters before touching any file.
	req := aggregateRequest(cfg)
	if err := req.Validate(); err != nil {
		return err
	}
	format, err := report.ParseFormat(cfg.Format)
	if err != nil {
		return err
	}

	doc := report.Document{
		Database:   cfg.DBPath,
		Dimension:  req.Dimension,
		OrderBy:    req.OrderBy,
		PlanFilter: req.PlanFilter,
	}

	var src *logsource.Source
	if !cfg.SQL {
		src, err = openSource(cfg.Path, stdin)
		if err != nil {
			return err
		}
		defer src.Close()
		doc.Source = src.Path()

		if !cfg.Append {
			if err := duckdb.RemoveDatabase(cfg.DBPath); err != nil {
				return fmt.Errorf("failed to reset database: %w", err)
			}
		}
	}

	store, err := duckdb.NewStore(cfg.DBPath, cfg.QueryTimeout)
	if err != nil {
		return fmt.Errorf("failed to initialize DuckDB: %w", err)
	}
	defer store.Close()

	if src != nil {
		summary, err := ingestLog(ctx, cfg, store, src)
		if err != nil {
			return err
		}
		doc.Summary = &summary
	}

	doc.Rows, err = aggregate.New(store).Aggregate(ctx, req)
	if err != nil {
		return err
	}
	doc.TotalRecords, err = store.TotalRecordCount()
	if err != nil {
		return err
	}

	if cfg.SQL {
		stmt, err := duckdb.GroupedSQL(req.Query())
		if err != nil {
			return err
		}
		doc.SQL = report.SQLHints(cfg.DBPath, stmt)
	}
	if err := report.New(stdout, format, cfg.CharLimit).Write(doc); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}

	if err := snapshot(ctx, cfg, store); err != nil {
		return err
	}

	if cfg.Serve != "" {
		return serve(ctx, cfg.Serve, store, stderr)
	}
	return nil
}

func openSource(path string, stdin io.Reader) (*logsource.Source, error) {
	if path == logsource.StdinPath {
		return logsource.FromReader(stdin, "stdin")
	}
	src, err := logsource.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open log: %w", err)
	}
	return src, nil
}

// ingestLog runs one pipeline pass and records it in ingest_runs.
func ingestLog(ctx context.Context, cfg appConfig, store *duckdb.Store, src *logsource.Source) (ingest.Summary, error) {
	run := model.IngestRun{
		RunID:     uuid.NewString(),
		Source:    src.Path(),
		StartedAt: time.Now(),
	}
	if err := store.RecordRun(run); err != nil {
		return ingest.Summary{}, err
	}

	var rejectSink ingest.RejectSink
	if cfg.Rejects != "" {
		rl, err := rejects.Open(cfg.Rejects, run.RunID)
		if err != nil {
			return ingest.Summary{}, fmt.Errorf("failed to open rejects log: %w", err)
		}
		defer func() {
			if err := rl.Close(); err != nil {
				log.Warn().Err(err).Str("path", rl.Path()).Msg("rejects log close failed")
			}
		}()
		rejectSink = rl
	}

	writer := duckdb.NewBatchWriter(store, cfg.InsertBatchSize)
	pipeline := ingest.NewPipeline(logparse.NewParser(), writer, rejectSink, ingest.Config{
		Workers:   cfg.Workers,
		CharLimit: cfg.CharLimit,
		RunID:     run.RunID,
	})

	log.Info().Str("source", src.Path()).Str("run_id", run.RunID).Msg("ingest started")
	summary, err := pipeline.Run(ctx, src)
	if err != nil {
		return summary, fmt.Errorf("ingest failed after %d lines: %w", summary.Lines, err)
	}

	run.FinishedAt = time.Now()
	run.Lines = summary.Lines
	run.Events = summary.Events
	run.Ingested = summary.Ingested
	run.NotSlow = summary.NotSlow
	run.Malformed = summary.Malformed
	if err := store.FinishRun(run); err != nil {
		return summary, err
	}
	log.Info().
		Int64("lines", summary.Lines).
		Int64("ingested", summary.Ingested).
		Int64("skipped", summary.Skipped()).
		Dur("took", run.FinishedAt.Sub(run.StartedAt)).
		Msg("ingest finished")
	return summary, nil
}

func snapshot(ctx context.Context, cfg appConfig, store *duckdb.Store) error {
	mgr, err := backup.NewManager(ctx, store, backup.Config{
		LocalDir:   cfg.SnapshotDir,
		KeepLast:   cfg.SnapshotKeep,
		Compress:   cfg.SnapshotCompress,
		BucketURL:  cfg.SnapshotBucket,
		S3Endpoint: cfg.S3Endpoint,
		S3Region:   cfg.S3Region,
		S3UseSSL:   cfg.S3UseSSL,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize snapshots: %w", err)
	}
	if mgr == nil {
		return nil
	}
	snap, err := mgr.RunOnce(ctx)
	if err != nil {
		return fmt.Errorf("snapshot failed: %w", err)
	}
	log.Info().
		Str("path", snap.Path).
		Str("run_id", snap.RunID).
		Int64("records", snap.Records).
		Int64("bytes", snap.Bytes).
		Msg("snapshot written")
	return nil
}

// serve blocks until ctx is canceled.
func serve(ctx context.Context, addr string, store *duckdb.Store, stderr io.Writer) error {
	srv := httpserver.NewServer(addr, store)
	if err := srv.Start(); err != nil {
		return fmt.Errorf("failed to start API server: %w", err)
	}
	fmt.Fprintf(stderr, "Serving report API on http://%s/api (Ctrl+C to stop)\n", srv.Addr())
	<-ctx.Done()
	return srv.Stop()
}
