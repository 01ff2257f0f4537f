package flatten

import (
	"bytes"
	"context"
	"errors"
	"iter"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/rpattn/hierflat/internal/config"
	"github.com/rpattn/hierflat/internal/domain"
	"github.com/rpattn/hierflat/internal/hierarchy"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"
)

const bomCSV = `Parent,Child,ParentProduct,Product,Supplier
,bike,,Bicycle,Acme
bike,wheel,Bicycle,Wheel,Acme
bike,frame,Bicycle,Frame,
wheel,spoke,Wheel,Spoke,Spokes Ltd
`

func bomOptions() config.FlattenOptions {
	return config.FlattenOptions{ParentField: "Parent", ChildField: "Child"}
}

type stubRunRepo struct {
	recorded []domain.FlattenRun
	err      error
}

func (s *stubRunRepo) Record(ctx context.Context, run domain.FlattenRun) error {
	s.recorded = append(s.recorded, run)
	return s.err
}

func (s *stubRunRepo) List(ctx context.Context, limit int, offset int) ([]domain.FlattenRun, error) {
	return s.recorded, nil
}

type stubSourceRepo struct {
	schema  domain.Schema
	records []domain.Record
	err     error
}

func (s *stubSourceRepo) Load(ctx context.Context, table string) (domain.Schema, []domain.Record, error) {
	return s.schema, s.records, s.err
}

type stubTableRepo struct {
	table  string
	schema domain.Schema
	rows   []domain.Row
}

func (s *stubTableRepo) Replace(ctx context.Context, table string, schema domain.Schema, rows iter.Seq[domain.Row]) (int64, error) {
	s.table = table
	s.schema = schema
	for row := range rows {
		s.rows = append(s.rows, row)
	}
	return int64(len(s.rows)), nil
}

func testOptions() []Option {
	logger, _ := test.NewNullLogger()
	return []Option{WithLogger(logger), WithWorkers(2)}
}

// newTestService builds a file-only service: no table source or sink.
func newTestService(runs *stubRunRepo) *Service {
	return NewService(runs, nil, nil, testOptions()...)
}

func TestFlattenFileWritesCSVAndRecordsRun(t *testing.T) {
	runs := &stubRunRepo{}
	service := newTestService(runs)

	var out bytes.Buffer
	summary, err := service.FlattenFile(context.Background(), FileRequest{
		FileName: "bom.csv",
		Data:     strings.NewReader(bomCSV),
		Options: config.FlattenOptions{
			ParentField:        "Parent",
			ChildField:         "Child",
			ParentChildMapping: "ParentProduct=Product",
		},
	}, &out)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Equal(t, []string{
		"Parent,Child,ParentProduct,Product,Supplier,Level,Top,Bottom",
		",bike,,,Acme,0,Y,N",
		"bike,wheel,Bicycle,Bicycle,Acme,1,N,N",
		"bike,frame,Bicycle,Bicycle,,1,N,Y",
		"wheel,spoke,Wheel,Wheel,Spokes Ltd,2,N,Y",
	}, lines)

	require.Equal(t, 4, summary.Rows)
	require.Equal(t, hierarchy.Stats{Nodes: 4, Leaves: 2, MaxLevel: 2}, summary.Stats)
	require.Len(t, runs.recorded, 1)
	run := runs.recorded[0]
	require.Equal(t, summary.RunID, run.ID)
	require.Equal(t, domain.FlattenRunSucceeded, run.Status)
	require.Equal(t, string(hierarchy.StageDone), run.Stage)
	require.Equal(t, 4, run.NodeCount)
	require.Equal(t, "bom.csv", run.Source)
}

func TestFlattenFileFailureWritesNothing(t *testing.T) {
	runs := &stubRunRepo{}
	service := newTestService(runs)

	var out bytes.Buffer
	_, err := service.FlattenFile(context.Background(), FileRequest{
		FileName: "bom.csv",
		Data:     strings.NewReader(bomCSV + "ghost,orphan,,,\n"),
		Options:  bomOptions(),
	}, &out)

	var dangling *domain.DanglingParentError
	require.ErrorAs(t, err, &dangling)
	require.Zero(t, out.Len())
	require.Len(t, runs.recorded, 1)
	require.Equal(t, domain.FlattenRunFailed, runs.recorded[0].Status)
	require.Equal(t, string(hierarchy.StageValidate), runs.recorded[0].Stage)
	require.Contains(t, runs.recorded[0].ErrorMessage, "orphan")
}

func TestFlattenFileKeepsKeysVerbatim(t *testing.T) {
	tests := []struct {
		name string
		csv  string
		want []string
	}{
		{
			name: "zero padded ids stay distinct",
			csv:  "part,parent\n0100,\n100,0100\n",
			want: []string{"part,parent,Level,Top,Bottom", "0100,,0,Y,N", "100,0100,1,N,Y"},
		},
		{
			name: "zero padding is written back",
			csv:  "part,parent\n007,\n008,007\n",
			want: []string{"part,parent,Level,Top,Bottom", "007,,0,Y,N", "008,007,1,N,Y"},
		},
		{
			name: "ids wider than int64",
			csv:  "part,parent\n10000000000000000001,\n10000000000000000002,10000000000000000001\n",
			want: []string{
				"part,parent,Level,Top,Bottom",
				"10000000000000000001,,0,Y,N",
				"10000000000000000002,10000000000000000001,1,N,Y",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			_, err := newTestService(&stubRunRepo{}).FlattenFile(context.Background(), FileRequest{
				FileName: "parts.csv",
				Data:     strings.NewReader(tt.csv),
				Options:  config.FlattenOptions{ParentField: "parent", ChildField: "part"},
			}, &out)
			require.NoError(t, err)
			require.Equal(t, tt.want, strings.Split(strings.TrimSpace(out.String()), "\n"))
		})
	}
}

func TestKeyOverridesKeepExplicitTypes(t *testing.T) {
	cfg := domain.FlattenConfig{ParentField: "parent", ChildField: "part"}
	explicit := map[string]domain.FieldType{"part": domain.FieldTypeInteger, "qty": domain.FieldTypeFloat}

	merged := keyOverrides(cfg, explicit)

	require.Equal(t, map[string]domain.FieldType{
		"part":   domain.FieldTypeInteger,
		"parent": domain.FieldTypeString,
		"qty":    domain.FieldTypeFloat,
	}, merged)
	require.Len(t, explicit, 2)
}

func TestTruncateErrorKeepsRunesWhole(t *testing.T) {
	msg := truncateError(errors.New(strings.Repeat("é", 600)))

	require.True(t, utf8.ValidString(msg))
	require.LessOrEqual(t, len(msg), 512)
	require.Equal(t, strings.Repeat("é", 256), msg)
	require.Equal(t, "short", truncateError(errors.New("short")))
}

func TestFlattenFileConfigErrors(t *testing.T) {
	runs := &stubRunRepo{}
	service := newTestService(runs)

	_, err := service.FlattenFile(context.Background(), FileRequest{
		FileName: "bom.csv",
		Data:     strings.NewReader(bomCSV),
		Options:  config.FlattenOptions{ParentField: "Parent", ChildField: "Parent", MaxDepth: "x"},
	}, &bytes.Buffer{})

	var validationErr *config.ValidationError
	require.ErrorAs(t, err, &validationErr)
	require.True(t, validationErr.Has(config.PropertyChildField))
	require.True(t, validationErr.Has(config.PropertyMaxDepth))
	require.Equal(t, StageConfigure, runs.recorded[0].Stage)
}

func TestFlattenFileRunLogFailureDoesNotMaskResult(t *testing.T) {
	runs := &stubRunRepo{err: errors.New("database down")}
	service := newTestService(runs)

	var out bytes.Buffer
	_, err := service.FlattenFile(context.Background(), FileRequest{
		FileName: "bom.csv",
		Data:     strings.NewReader(bomCSV),
		Options:  bomOptions(),
	}, &out)
	require.NoError(t, err)
	require.NotZero(t, out.Len())
}

func TestFlattenFileUnsupportedOutputFormat(t *testing.T) {
	service := newTestService(&stubRunRepo{})

	_, err := service.FlattenFile(context.Background(), FileRequest{
		FileName: "bom.csv",
		Data:     strings.NewReader(bomCSV),
		Options:  bomOptions(),
		Format:   "parquet",
	}, &bytes.Buffer{})
	require.Error(t, err)

	status, resp := Classify(err)
	require.Equal(t, 400, status)
	require.Equal(t, KindConfiguration, resp.Kind)
}

func TestValidateFileDoesNotRecord(t *testing.T) {
	runs := &stubRunRepo{}
	service := newTestService(runs)

	summary, err := service.ValidateFile(context.Background(), FileRequest{
		FileName: "bom.csv",
		Data:     strings.NewReader(bomCSV),
		Options:  bomOptions(),
	})
	require.NoError(t, err)
	require.Equal(t, 4, summary.Rows)
	require.Empty(t, runs.recorded)
}

func TestFlattenTable(t *testing.T) {
	sources := &stubSourceRepo{
		schema: domain.NewSchema("org", []domain.Field{
			{Name: "manager_id", Type: domain.FieldTypeInteger, Nullable: true},
			{Name: "employee_id", Type: domain.FieldTypeInteger},
		}),
		records: []domain.Record{
			{"manager_id": nil, "employee_id": int64(1)},
			{"manager_id": int64(1), "employee_id": int64(2)},
		},
	}
	tables := &stubTableRepo{}
	runs := &stubRunRepo{}
	service := NewService(runs, sources, tables, testOptions()...)

	summary, err := service.FlattenTable(context.Background(), TableRequest{
		SourceTable: "org",
		TargetTable: "org_flat",
		Options:     config.FlattenOptions{ParentField: "manager_id", ChildField: "employee_id"},
	})
	require.NoError(t, err)
	require.Equal(t, 2, summary.Rows)
	require.Equal(t, "org_flat", tables.table)
	require.Equal(t, []string{"manager_id", "employee_id", "Level", "Top", "Bottom"}, tables.schema.Names())
	require.Equal(t, 1, tables.rows[1].Value("Level"))
	require.Equal(t, "org_flat", runs.recorded[0].Target)
}

func TestFlattenTableRequiresRepositories(t *testing.T) {
	service := newTestService(&stubRunRepo{})

	_, err := service.FlattenTable(context.Background(), TableRequest{
		SourceTable: "org",
		TargetTable: "org_flat",
		Options:     bomOptions(),
	})
	require.ErrorIs(t, err, ErrSourceUnavailable)

	_, err = service.FlattenTable(context.Background(), TableRequest{SourceTable: "org", Options: bomOptions()})
	require.ErrorIs(t, err, ErrTargetRequired)
}

func TestListRunsWithoutRepository(t *testing.T) {
	service := NewService(nil, nil, nil)
	runs, err := service.ListRuns(context.Background(), 10, 0)
	require.NoError(t, err)
	require.Empty(t, runs)
}
