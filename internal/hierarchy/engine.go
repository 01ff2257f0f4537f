// Package hierarchy flattens a parent-child edge set into relational rows.
//
// A run moves through Ingest -> Validate -> Annotate -> DeriveSchema ->
// EmitRows -> Done. Any failure ends the run in Failed and no rows are
// returned: a run produces the complete output or nothing.
package hierarchy

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"runtime"
	"strings"

	"github.com/rpattn/hierflat/internal/domain"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Stage names a step of a flatten run.
type Stage string

const (
	StageIngest       Stage = "INGEST"
	StageValidate     Stage = "VALIDATE"
	StageAnnotate     Stage = "ANNOTATE"
	StageDeriveSchema Stage = "DERIVE_SCHEMA"
	StageEmitRows     Stage = "EMIT_ROWS"
	StageDone         Stage = "DONE"
	StageFailed       Stage = "FAILED"
)

// StageError records the stage at which a run failed.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", strings.ToLower(strings.ReplaceAll(string(e.Stage), "_", " ")), e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// StageOf reports where a run ended: StageDone for nil, the failing stage
// for a StageError and StageFailed for anything else.
func StageOf(err error) Stage {
	if err == nil {
		return StageDone
	}
	var stageErr *StageError
	if errors.As(err, &stageErr) {
		return stageErr.Stage
	}
	return StageFailed
}

// Stats summarises a successful run.
type Stats struct {
	Nodes    int `json:"nodes"`
	Leaves   int `json:"leaves"`
	MaxLevel int `json:"maxLevel"`
}

// Result is the output of a successful run.
type Result struct {
	schema domain.Schema
	rows   []domain.Row
	stats  Stats
}

// Schema returns the derived output schema.
func (r *Result) Schema() domain.Schema { return domain.NewSchema(r.schema.Name, r.schema.Fields) }

func (r *Result) Len() int     { return len(r.rows) }
func (r *Result) Stats() Stats { return r.stats }

// Rows yields the rows in emission order. Each call starts over from the
// first row.
func (r *Result) Rows() iter.Seq[domain.Row] {
	return func(yield func(domain.Row) bool) {
		for _, row := range r.rows {
			if !yield(row) {
				return
			}
		}
	}
}

// Option configures an Engine.
type Option func(*Engine)

// WithWorkers bounds the goroutines used for row emission.
func WithWorkers(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.workers = n
		}
	}
}

// WithLogger sets the logger used for stage tracing.
func WithLogger(logger logrus.FieldLogger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// Engine runs flattening for one configuration. It keeps no state between
// runs and may be reused concurrently.
type Engine struct {
	cfg     domain.FlattenConfig
	workers int
	logger  logrus.FieldLogger
}

// NewEngine creates an engine. cfg is expected to be validated already;
// blank optional settings receive their defaults.
func NewEngine(cfg domain.FlattenConfig, opts ...Option) *Engine {
	engine := &Engine{
		cfg:     cfg.WithDefaults(),
		workers: runtime.GOMAXPROCS(0),
		logger:  logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(engine)
	}
	if engine.workers <= 0 {
		engine.workers = 1
	}
	return engine
}

// Config returns the effective configuration.
func (e *Engine) Config() domain.FlattenConfig { return e.cfg }

// Flatten extracts nodes from records and flattens them.
func (e *Engine) Flatten(ctx context.Context, input domain.Schema, records []domain.Record) (*Result, error) {
	nodes, err := ExtractNodes(records, e.cfg.ParentField, e.cfg.ChildField)
	if err != nil {
		return nil, e.fail(StageIngest, err)
	}
	return e.FlattenNodes(ctx, input, nodes)
}

// FlattenNodes validates, annotates and emits an already extracted node set.
func (e *Engine) FlattenNodes(ctx context.Context, input domain.Schema, nodes []domain.Node) (*Result, error) {
	logger := e.logger.WithFields(logrus.Fields{
		"nodes":        len(nodes),
		"parent_field": e.cfg.ParentField,
		"child_field":  e.cfg.ChildField,
	})
	if err := ctx.Err(); err != nil {
		return nil, e.fail(StageIngest, err)
	}

	graph, err := Build(nodes)
	if err != nil {
		return nil, e.fail(StageValidate, err)
	}
	logger.WithField("root", graph.Root()).Debug("hierarchy validated")

	annotations, err := Annotate(graph, e.cfg.MaxDepth)
	if err != nil {
		return nil, e.fail(StageAnnotate, err)
	}
	logger.WithField("max_level", annotations.MaxLevel()).Debug("hierarchy annotated")

	emitter, err := NewEmitter(input, e.cfg)
	if err != nil {
		return nil, e.fail(StageDeriveSchema, err)
	}

	rows, err := e.emitRows(ctx, graph, annotations, emitter)
	if err != nil {
		return nil, e.fail(StageEmitRows, err)
	}
	logger.WithField("rows", len(rows)).Debug("rows emitted")

	return &Result{
		schema: emitter.Schema(),
		rows:   rows,
		stats: Stats{
			Nodes:    graph.Len(),
			Leaves:   annotations.Leaves(),
			MaxLevel: annotations.MaxLevel(),
		},
	}, nil
}

// emitRows fans row construction out over the worker pool. Rows land in a
// slice indexed by traversal position, so no locking is needed and the
// order stays deterministic.
func (e *Engine) emitRows(ctx context.Context, graph *Graph, annotations *Annotations, emitter *Emitter) ([]domain.Row, error) {
	order := annotations.Order()
	rows := make([]domain.Row, len(order))
	if len(order) == 0 {
		return rows, nil
	}

	chunk := (len(order) + e.workers - 1) / e.workers
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)
	for start := 0; start < len(order); start += chunk {
		end := min(start+chunk, len(order))
		g.Go(func() error {
			for i := start; i < end; i++ {
				if err := gctx.Err(); err != nil {
					return err
				}
				id := order[i]
				node, ok := graph.Node(id)
				if !ok {
					return fmt.Errorf("node %q missing from graph", id)
				}
				info, ok := annotations.Get(id)
				if !ok {
					return fmt.Errorf("node %q has no annotation", id)
				}
				rows[i] = emitter.EmitRow(node, info)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return rows, nil
}

func (e *Engine) fail(stage Stage, err error) error {
	e.logger.WithFields(logrus.Fields{
		"stage": string(stage),
		"error": err.Error(),
	}).Debug("flatten run failed")
	return &StageError{Stage: stage, Err: err}
}
