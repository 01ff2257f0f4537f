package export

import (
	"bytes"
	"errors"
	"iter"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/rpattn/hierflat/internal/domain"

	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func flatSchema() domain.Schema {
	return domain.NewSchema("bom", []domain.Field{
		{Name: "Parent", Type: domain.FieldTypeString, Nullable: true},
		{Name: "Child", Type: domain.FieldTypeString},
		{Name: "Shipped", Type: domain.FieldTypeTimestamp, Nullable: true},
		{Name: "Level", Type: domain.FieldTypeInteger},
		{Name: "Top", Type: domain.FieldTypeString},
	})
}

func flatRows() iter.Seq[domain.Row] {
	shipped := time.Date(2024, 5, 1, 10, 0, 0, 0, time.FixedZone("CET", 3600))
	return slices.Values([]domain.Row{
		{NodeID: "bike", Values: map[string]any{"Parent": nil, "Child": "bike", "Shipped": shipped, "Level": 0, "Top": "Y"}},
		{NodeID: "wheel", Values: map[string]any{"Parent": "bike", "Child": "wheel, front", "Shipped": nil, "Level": 1, "Top": "N"}},
	})
}

func TestNewWriter(t *testing.T) {
	w, err := NewWriter("")
	require.NoError(t, err)
	require.IsType(t, CSVWriter{}, w)

	w, err = NewWriter(" XLSX ")
	require.NoError(t, err)
	require.Equal(t, ".xlsx", w.Extension())

	_, err = NewWriter("parquet")
	require.True(t, errors.Is(err, ErrUnsupportedFormat))
}

func TestCSVWriter(t *testing.T) {
	var buf bytes.Buffer
	stats, err := CSVWriter{}.Write(&buf, flatSchema(), flatRows())
	require.NoError(t, err)

	expected := "Parent,Child,Shipped,Level,Top\n" +
		",bike,2024-05-01T09:00:00Z,0,Y\n" +
		"bike,\"wheel, front\",,1,N\n"
	require.Equal(t, expected, buf.String())
	require.Equal(t, 2, stats.Rows)
	require.Equal(t, int64(len(expected)), stats.Bytes)
}

func TestCSVWriter_EmptyRowsStillWritesHeader(t *testing.T) {
	var buf bytes.Buffer
	stats, err := CSVWriter{}.Write(&buf, flatSchema(), slices.Values([]domain.Row(nil)))
	require.NoError(t, err)
	require.Equal(t, 0, stats.Rows)
	require.Equal(t, "Parent,Child,Shipped,Level,Top\n", buf.String())
}

func TestXLSXWriter(t *testing.T) {
	var buf bytes.Buffer
	stats, err := XLSXWriter{}.Write(&buf, flatSchema(), flatRows())
	require.NoError(t, err)
	require.Equal(t, 2, stats.Rows)
	require.Equal(t, int64(buf.Len()), stats.Bytes)

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	require.Equal(t, []string{"bom"}, f.GetSheetList())
	rows, err := f.GetRows("bom")
	require.NoError(t, err)
	require.Len(t, rows, 3)
	require.Equal(t, []string{"Parent", "Child", "Shipped", "Level", "Top"}, rows[0])
	require.Equal(t, "bike", rows[1][1])
	require.Equal(t, "wheel, front", rows[2][1])
	require.Equal(t, "1", rows[2][3])
}

func TestFormatValue(t *testing.T) {
	require.Equal(t, "", formatValue(nil))
	require.Equal(t, "2024-01-01T00:00:00Z", formatValue(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)))
	require.Equal(t, "true", formatValue(true))
	require.Equal(t, "2.5", formatValue(2.5))
	require.Equal(t, `{"a":1}`, formatValue(map[string]any{"a": 1}))
	require.Equal(t, `[1,"x"]`, formatValue([]any{1, "x"}))
}

func TestSheetName(t *testing.T) {
	require.Equal(t, "flattened", sheetName("", ""))
	require.Equal(t, "a_b", sheetName("a/b", "ignored"))
	require.Equal(t, strings.Repeat("x", 31), sheetName("", strings.Repeat("x", 40)))
}

func TestFileName(t *testing.T) {
	require.Equal(t, "bill-of-materials-flattened.csv", FileName("uploads/Bill of Materials.csv", ".csv"))
	require.Equal(t, "public-bom-flattened.xlsx", FileName("public.bom", ".xlsx"))
	require.Equal(t, "export-flattened.csv", FileName("", ".csv"))
	require.Equal(t, FormatXLSX, FormatForFile("OUT.XLSX"))
	require.Equal(t, FormatCSV, FormatForFile("out.txt"))
}
