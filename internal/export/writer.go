// Package export writes flattened rows as CSV or XLSX files.
package export

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"strings"
	"time"

	"github.com/rpattn/hierflat/internal/domain"

	"github.com/xuri/excelize/v2"
)

// Supported output formats.
const (
	FormatCSV  = "csv"
	FormatXLSX = "xlsx"
)

// ErrUnsupportedFormat is returned by NewWriter for unknown formats.
var ErrUnsupportedFormat = errors.New("unsupported export format")

// Stats reports what a writer produced.
type Stats struct {
	Rows  int   `json:"rows"`
	Bytes int64 `json:"bytes"`
}

// Writer renders a schema header followed by every row in order.
type Writer interface {
	Write(w io.Writer, schema domain.Schema, rows iter.Seq[domain.Row]) (Stats, error)
	ContentType() string
	Extension() string
}

// NewWriter picks a writer by format name. A blank format means CSV.
func NewWriter(format string) (Writer, error) {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", FormatCSV:
		return CSVWriter{}, nil
	case FormatXLSX:
		return XLSXWriter{}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}
}

// FormatForFile returns the writer format matching fileName's extension,
// defaulting to CSV.
func FormatForFile(fileName string) string {
	if strings.HasSuffix(strings.ToLower(fileName), ".xlsx") {
		return FormatXLSX
	}
	return FormatCSV
}

// CSVWriter streams rows through encoding/csv.
type CSVWriter struct{}

func (CSVWriter) ContentType() string { return "text/csv" }
func (CSVWriter) Extension() string   { return ".csv" }

func (CSVWriter) Write(w io.Writer, schema domain.Schema, rows iter.Seq[domain.Row]) (Stats, error) {
	buffered := bufio.NewWriterSize(w, 1<<20)
	counter := &countingWriter{writer: buffered}
	csvWriter := csv.NewWriter(counter)

	headers := schema.Names()
	if err := csvWriter.Write(headers); err != nil {
		return Stats{}, fmt.Errorf("write header: %w", err)
	}

	stats := Stats{}
	record := make([]string, len(headers))
	for row := range rows {
		for i, field := range headers {
			record[i] = formatValue(row.Value(field))
		}
		if err := csvWriter.Write(record); err != nil {
			return stats, fmt.Errorf("write row %s: %w", row.NodeID, err)
		}
		stats.Rows++
	}

	csvWriter.Flush()
	if err := csvWriter.Error(); err != nil {
		return stats, fmt.Errorf("flush rows: %w", err)
	}
	if err := buffered.Flush(); err != nil {
		return stats, fmt.Errorf("flush buffered rows: %w", err)
	}
	stats.Bytes = counter.count
	return stats, nil
}

// XLSXWriter writes a single sheet workbook with excelize's stream writer.
type XLSXWriter struct {
	// SheetName defaults to the schema name.
	SheetName string
}

func (XLSXWriter) ContentType() string {
	return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
}
func (XLSXWriter) Extension() string { return ".xlsx" }

func (x XLSXWriter) Write(w io.Writer, schema domain.Schema, rows iter.Seq[domain.Row]) (Stats, error) {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	sheet := sheetName(x.SheetName, schema.Name)
	defaultSheet := f.GetSheetName(0)
	if sheet != defaultSheet {
		if err := f.SetSheetName(defaultSheet, sheet); err != nil {
			return Stats{}, fmt.Errorf("name sheet: %w", err)
		}
	}

	stream, err := f.NewStreamWriter(sheet)
	if err != nil {
		return Stats{}, fmt.Errorf("open sheet stream: %w", err)
	}

	headers := schema.Names()
	headerCells := make([]any, len(headers))
	for i, header := range headers {
		headerCells[i] = header
	}
	if err := stream.SetRow("A1", headerCells); err != nil {
		return Stats{}, fmt.Errorf("write header: %w", err)
	}

	stats := Stats{}
	for row := range rows {
		cells := make([]any, len(headers))
		for i, field := range headers {
			cells[i] = cellValue(row.Value(field))
		}
		cell, err := excelize.CoordinatesToCellName(1, stats.Rows+2)
		if err != nil {
			return stats, err
		}
		if err := stream.SetRow(cell, cells); err != nil {
			return stats, fmt.Errorf("write row %s: %w", row.NodeID, err)
		}
		stats.Rows++
	}
	if err := stream.Flush(); err != nil {
		return stats, fmt.Errorf("flush sheet: %w", err)
	}

	counter := &countingWriter{writer: bufio.NewWriter(w)}
	if _, err := f.WriteTo(counter); err != nil {
		return stats, fmt.Errorf("write workbook: %w", err)
	}
	if err := counter.writer.Flush(); err != nil {
		return stats, fmt.Errorf("flush workbook: %w", err)
	}
	stats.Bytes = counter.count
	return stats, nil
}

// sheetName applies Excel's 31 character limit and forbidden characters.
func sheetName(preferred, fallback string) string {
	name := strings.TrimSpace(preferred)
	if name == "" {
		name = strings.TrimSpace(fallback)
	}
	name = strings.Map(func(r rune) rune {
		switch r {
		case ':', '\\', '/', '?', '*', '[', ']':
			return '_'
		}
		return r
	}, name)
	if name == "" {
		name = "flattened"
	}
	if runes := []rune(name); len(runes) > 31 {
		name = string(runes[:31])
	}
	return name
}

// cellValue keeps numbers, booleans and times native so spreadsheets can
// sort and filter them.
func cellValue(value any) any {
	switch v := value.(type) {
	case nil:
		return nil
	case string, bool, int, int32, int64, float32, float64:
		return v
	case time.Time:
		return v.UTC()
	default:
		return formatValue(v)
	}
}

// FileName builds a download name from a source file or table name.
func FileName(source, extension string) string {
	base := source
	if idx := strings.LastIndexAny(base, `/\`); idx >= 0 {
		base = base[idx+1:]
	}
	for _, ext := range []string{".csv", ".xlsx"} {
		if strings.HasSuffix(strings.ToLower(base), ext) {
			base = base[:len(base)-len(ext)]
		}
	}
	return sanitizeFileComponent(base) + "-flattened" + extension
}

func sanitizeFileComponent(value string) string {
	value = strings.ToLower(strings.TrimSpace(value))
	if value == "" {
		return "export"
	}
	builder := strings.Builder{}
	for _, r := range value {
		switch {
		case r >= 'a' && r <= 'z':
			builder.WriteRune(r)
		case r >= '0' && r <= '9':
			builder.WriteRune(r)
		case r == '-' || r == '_':
			builder.WriteRune(r)
		default:
			builder.WriteRune('-')
		}
	}
	result := strings.Trim(builder.String(), "-")
	if result == "" {
		return "export"
	}
	return result
}

type countingWriter struct {
	writer *bufio.Writer
	count  int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.writer.Write(p)
	c.count += int64(n)
	return n, err
}

func formatValue(value any) string {
	if value == nil {
		return ""
	}
	switch v := value.(type) {
	case string:
		return v
	case time.Time:
		return v.UTC().Format(time.RFC3339)
	case *time.Time:
		if v == nil {
			return ""
		}
		return v.UTC().Format(time.RFC3339)
	case bool:
		if v {
			return "true"
		}
		return "false"
	case json.Number:
		return v.String()
	case fmt.Stringer:
		return v.String()
	case float32, float64, int, int32, int64, uint, uint32, uint64:
		return fmt.Sprintf("%v", v)
	case []byte:
		return string(v)
	case map[string]any, []any:
		encoded, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(encoded)
	default:
		return fmt.Sprintf("%v", v)
	}
}
