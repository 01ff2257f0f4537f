// Package flatten runs the hierarchy engine against file and table sources
// and records every run.
package flatten

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"
	"unicode/utf8"

	"github.com/rpattn/hierflat/internal/config"
	"github.com/rpattn/hierflat/internal/domain"
	"github.com/rpattn/hierflat/internal/export"
	"github.com/rpattn/hierflat/internal/hierarchy"
	"github.com/rpattn/hierflat/internal/ingestion"
	"github.com/rpattn/hierflat/internal/middleware"
	"github.com/rpattn/hierflat/internal/repository"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Stages recorded for failures outside the engine.
const (
	StageConfigure = "CONFIGURE"
	StageWrite     = "WRITE"
)

var (
	// ErrSourceUnavailable is returned for table runs without a database.
	ErrSourceUnavailable = errors.New("table source is not configured")
	// ErrTargetRequired is returned when a table run names no target table.
	ErrTargetRequired = errors.New("target table is required")
)

// FileRequest flattens an uploaded CSV or XLSX file.
type FileRequest struct {
	FileName        string
	Data            io.Reader
	HeaderRowIndex  *int
	ColumnOverrides map[string]domain.FieldType
	Options         config.FlattenOptions
	// Format selects the output writer; blank means CSV.
	Format string
}

// TableRequest flattens one Postgres table into another.
type TableRequest struct {
	SourceTable string                `json:"sourceTable"`
	TargetTable string                `json:"targetTable"`
	Options     config.FlattenOptions `json:"options"`
}

// Summary describes a successful run.
type Summary struct {
	RunID  uuid.UUID       `json:"runId"`
	Stats  hierarchy.Stats `json:"stats"`
	Schema domain.Schema   `json:"schema"`
	Rows   int             `json:"rows"`
	Bytes  int64           `json:"bytes,omitempty"`
}

// Service coordinates sources, the engine, sinks and the run log. Every
// repository is optional; a nil run log disables run recording.
type Service struct {
	runs    repository.FlattenRunRepository
	sources repository.HierarchySourceRepository
	tables  repository.FlattenedTableRepository
	workers int
	logger  logrus.FieldLogger
	now     func() time.Time
}

type Option func(*Service)

func WithWorkers(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.workers = n
		}
	}
}

func WithLogger(logger logrus.FieldLogger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func NewService(
	runs repository.FlattenRunRepository,
	sources repository.HierarchySourceRepository,
	tables repository.FlattenedTableRepository,
	opts ...Option,
) *Service {
	service := &Service{
		runs:    runs,
		sources: sources,
		tables:  tables,
		logger:  logrus.StandardLogger(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(service)
	}
	return service
}

// FlattenFile parses the upload, flattens it and writes the result to w.
// Nothing is written to w unless the whole run succeeds.
func (s *Service) FlattenFile(ctx context.Context, req FileRequest, w io.Writer) (Summary, error) {
	run := s.newRun(req.FileName, req.Format)

	writer, err := export.NewWriter(req.Format)
	if err != nil {
		return Summary{}, s.finish(ctx, run, StageConfigure, nil, err)
	}
	result, err := s.flattenFile(ctx, req)
	if err != nil {
		return Summary{}, s.finish(ctx, run, string(hierarchy.StageOf(err)), nil, err)
	}

	stats, err := writer.Write(w, result.Schema(), result.Rows())
	if err != nil {
		return Summary{}, s.finish(ctx, run, StageWrite, result, fmt.Errorf("write %s output: %w", req.Format, err))
	}

	summary := summarize(run.ID, result)
	summary.Rows = stats.Rows
	summary.Bytes = stats.Bytes
	return summary, s.finish(ctx, run, string(hierarchy.StageDone), result, nil)
}

// ValidateFile runs the whole pipeline without writing any output or
// recording a run.
func (s *Service) ValidateFile(ctx context.Context, req FileRequest) (Summary, error) {
	result, err := s.flattenFile(ctx, req)
	if err != nil {
		return Summary{}, err
	}
	summary := summarize(uuid.Nil, result)
	summary.Rows = result.Len()
	return summary, nil
}

func (s *Service) flattenFile(ctx context.Context, req FileRequest) (*hierarchy.Result, error) {
	cfg, err := req.Options.Parse()
	if err != nil {
		return nil, &hierarchy.StageError{Stage: StageConfigure, Err: err}
	}
	table, err := ingestion.Parse(ingestion.Request{
		FileName:        req.FileName,
		Data:            req.Data,
		HeaderRowIndex:  req.HeaderRowIndex,
		ColumnOverrides: keyOverrides(cfg, req.ColumnOverrides),
	})
	if err != nil {
		return nil, &hierarchy.StageError{Stage: hierarchy.StageIngest, Err: err}
	}
	return s.engine(ctx, cfg).Flatten(ctx, table.Schema, table.Records)
}

// keyOverrides reads the key columns as text so ids like 007 or ids wider
// than int64 survive ingestion unchanged. Explicit overrides still win.
func keyOverrides(cfg domain.FlattenConfig, overrides map[string]domain.FieldType) map[string]domain.FieldType {
	merged := make(map[string]domain.FieldType, len(overrides)+2)
	for column, fieldType := range overrides {
		merged[column] = fieldType
	}
	for _, column := range []string{cfg.ParentField, cfg.ChildField} {
		if merged[column] == "" {
			merged[column] = domain.FieldTypeString
		}
	}
	return merged
}

// FlattenTable loads the source table, flattens it and replaces the target
// table with the result.
func (s *Service) FlattenTable(ctx context.Context, req TableRequest) (Summary, error) {
	run := s.newRun(req.SourceTable, req.TargetTable)

	cfg, err := req.Options.Parse()
	if err != nil {
		return Summary{}, s.finish(ctx, run, StageConfigure, nil, err)
	}
	if req.TargetTable == "" {
		return Summary{}, s.finish(ctx, run, StageConfigure, nil, ErrTargetRequired)
	}
	if s.sources == nil || s.tables == nil {
		return Summary{}, s.finish(ctx, run, StageConfigure, nil, ErrSourceUnavailable)
	}

	schema, records, err := s.sources.Load(ctx, req.SourceTable)
	if err != nil {
		return Summary{}, s.finish(ctx, run, string(hierarchy.StageIngest), nil, fmt.Errorf("load %s: %w", req.SourceTable, err))
	}

	result, err := s.engine(ctx, cfg).Flatten(ctx, schema, records)
	if err != nil {
		return Summary{}, s.finish(ctx, run, string(hierarchy.StageOf(err)), nil, err)
	}

	copied, err := s.tables.Replace(ctx, req.TargetTable, result.Schema(), result.Rows())
	if err != nil {
		return Summary{}, s.finish(ctx, run, StageWrite, result, fmt.Errorf("write %s: %w", req.TargetTable, err))
	}

	summary := summarize(run.ID, result)
	summary.Rows = int(copied)
	return summary, s.finish(ctx, run, string(hierarchy.StageDone), result, nil)
}

// ListRuns returns recorded runs, newest first.
func (s *Service) ListRuns(ctx context.Context, limit, offset int) ([]domain.FlattenRun, error) {
	if s.runs == nil {
		return []domain.FlattenRun{}, nil
	}
	return s.runs.List(ctx, limit, offset)
}

func (s *Service) engine(ctx context.Context, cfg domain.FlattenConfig) *hierarchy.Engine {
	return hierarchy.NewEngine(cfg,
		hierarchy.WithWorkers(s.workers),
		hierarchy.WithLogger(middleware.LoggerFromContext(ctx, s.logger)),
	)
}

func (s *Service) newRun(source, target string) domain.FlattenRun {
	run := domain.NewFlattenRun(source, target)
	run.CreatedAt = s.now()
	return run
}

// finish records the run and returns runErr unchanged. A failure to record
// is logged and never replaces the run's own outcome.
func (s *Service) finish(ctx context.Context, run domain.FlattenRun, stage string, result *hierarchy.Result, runErr error) error {
	run.Stage = stage
	if result != nil {
		stats := result.Stats()
		run.NodeCount = stats.Nodes
		run.MaxLevel = stats.MaxLevel
	}

	logger := middleware.LoggerFromContext(ctx, s.logger).WithFields(logrus.Fields{
		"run_id": run.ID,
		"source": run.Source,
		"stage":  stage,
	})
	if runErr != nil {
		run.Status = domain.FlattenRunFailed
		run.ErrorMessage = truncateError(runErr)
		logger.WithError(runErr).Warn("flatten run failed")
	} else {
		run.Status = domain.FlattenRunSucceeded
		logger.WithFields(logrus.Fields{"nodes": run.NodeCount, "max_level": run.MaxLevel}).Info("flatten run succeeded")
	}

	if s.runs != nil {
		if err := s.runs.Record(context.WithoutCancel(ctx), run); err != nil {
			logger.WithError(err).Error("failed to record flatten run")
		}
	}
	return runErr
}

func summarize(runID uuid.UUID, result *hierarchy.Result) Summary {
	return Summary{
		RunID:  runID,
		Stats:  result.Stats(),
		Schema: result.Schema(),
	}
}

func truncateError(err error) string {
	if err == nil {
		return ""
	}
	const maxLen = 512
	msg := err.Error()
	if len(msg) <= maxLen {
		return msg
	}
	cut := maxLen
	for cut > 0 && !utf8.RuneStart(msg[cut]) {
		cut--
	}
	return msg[:cut]
}
