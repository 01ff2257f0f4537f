// Package ingestion turns uploaded CSV and XLSX files into typed records.
package ingestion

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rpattn/hierflat/internal/domain"

	"github.com/xuri/excelize/v2"
)

var (
	// ErrUnsupportedFormat is returned when an uploaded file is not supported.
	ErrUnsupportedFormat = errors.New("unsupported file format")

	byteOrderMark = []byte{0xEF, 0xBB, 0xBF}

	timeLayouts = []string{
		time.RFC3339,
		time.RFC3339Nano,
		"2006-01-02",
		"2006-01-02 15:04:05",
		"2006-01-02 15:04:05.000",
		"2006-01-02 15:04:05.000000",
		"2006-01-02 15:04:05.000000000",
		"2006/01/02",
		"01/02/2006",
		"02/01/2006",
	}
)

// CellError reports a value that does not fit its column type.
type CellError struct {
	Row    int
	Column string
	Err    error
}

func (e *CellError) Error() string {
	return fmt.Sprintf("row %d, field %s: %v", e.Row, e.Column, e.Err)
}

func (e *CellError) Unwrap() error { return e.Err }

// Request describes one file to parse.
type Request struct {
	FileName        string
	HeaderRowIndex  *int
	ColumnOverrides map[string]domain.FieldType
	Data            io.Reader
}

// Table is a parsed file: the profiled schema and one record per data row.
type Table struct {
	Schema  domain.Schema
	Records []domain.Record
	// RowNumbers holds the 1-based source row of each record.
	RowNumbers []int
}

// PreviewHeader summarizes column level metadata for previews.
type PreviewHeader struct {
	Name          string `json:"name"`
	OriginalLabel string `json:"originalLabel"`
	DetectedType  string `json:"detectedType"`
	EffectiveType string `json:"effectiveType"`
	Nullable      bool   `json:"nullable"`
	Overridden    bool   `json:"overridden"`
}

// HeaderCandidate represents a potential header row option.
type HeaderCandidate struct {
	Index   int      `json:"index"`
	Values  []string `json:"values"`
	Current bool     `json:"current"`
}

// PreviewResult returns preview metadata back to clients.
type PreviewResult struct {
	TotalRows        int               `json:"totalRows"`
	Headers          []PreviewHeader   `json:"headers"`
	HeaderCandidates []HeaderCandidate `json:"headerCandidates"`
}

type tableData struct {
	headers        []string
	rawHeaders     []string
	rows           [][]string
	rowNumbers     []int
	headerRowIndex int
}

// Parse reads the file, profiles every column and coerces each cell. The
// first cell that cannot be coerced fails the whole parse.
func Parse(req Request) (Table, error) {
	table, _, err := readTable(req)
	if err != nil {
		return Table{}, err
	}

	fields := applyOverrides(inferFields(table), req.ColumnOverrides)
	schema := domain.NewSchema(schemaName(req.FileName), fields)

	records := make([]domain.Record, 0, len(table.rows))
	for rowIdx, row := range table.rows {
		record := make(domain.Record, len(fields))
		for colIdx, field := range fields {
			raw := strings.TrimSpace(row[colIdx])
			if raw == "" {
				record[field.Name] = nil
				continue
			}
			coerced, err := coerceValue(field.Type, raw)
			if err != nil {
				return Table{}, &CellError{Row: table.rowNumbers[rowIdx], Column: field.Name, Err: err}
			}
			record[field.Name] = coerced
		}
		records = append(records, record)
	}

	return Table{Schema: schema, Records: records, RowNumbers: table.rowNumbers}, nil
}

// Preview describes the detected columns without coercing any data.
func Preview(req Request) (PreviewResult, error) {
	result := PreviewResult{
		Headers:          []PreviewHeader{},
		HeaderCandidates: []HeaderCandidate{},
	}

	table, records, err := readTable(req)
	if err != nil {
		return result, err
	}
	result.HeaderCandidates = buildHeaderCandidates(records, 10, table.headerRowIndex)
	result.TotalRows = len(table.rows)

	detected := inferFields(table)
	effective := applyOverrides(detected, req.ColumnOverrides)
	for idx, field := range effective {
		header := PreviewHeader{
			Name:          field.Name,
			DetectedType:  string(detected[idx].Type),
			EffectiveType: string(field.Type),
			Nullable:      field.Nullable,
			Overridden:    req.ColumnOverrides[field.Name] != "",
		}
		if idx < len(table.rawHeaders) {
			header.OriginalLabel = table.rawHeaders[idx]
		}
		result.Headers = append(result.Headers, header)
	}
	return result, nil
}

func readTable(req Request) (tableData, [][]string, error) {
	if req.Data == nil {
		return tableData{}, nil, errors.New("data reader is required")
	}
	payload, err := io.ReadAll(req.Data)
	if err != nil {
		return tableData{}, nil, fmt.Errorf("failed to read upload: %w", err)
	}
	if len(payload) == 0 {
		return tableData{}, nil, errors.New("file is empty")
	}

	table, records, err := parseTable(req.FileName, payload, req.HeaderRowIndex)
	if err != nil {
		return tableData{}, nil, err
	}
	if len(table.headers) == 0 {
		return tableData{}, nil, errors.New("no header row detected")
	}
	return table, records, nil
}

func schemaName(fileName string) string {
	base := filepath.Base(fileName)
	name := strings.TrimSuffix(base, filepath.Ext(base))
	if name == "" || name == "." {
		return "record"
	}
	return name
}

// IsSupported reports whether fileName has an extension Parse understands.
func IsSupported(fileName string) bool {
	switch strings.ToLower(filepath.Ext(fileName)) {
	case ".csv", ".xlsx":
		return true
	default:
		return false
	}
}

func parseTable(fileName string, payload []byte, headerRowIndex *int) (tableData, [][]string, error) {
	ext := strings.ToLower(filepath.Ext(fileName))
	switch ext {
	case ".csv":
		return parseCSV(payload, headerRowIndex)
	case ".xlsx":
		return parseExcel(payload, headerRowIndex)
	default:
		return tableData{}, nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, ext)
	}
}

func parseCSV(payload []byte, headerRowIndex *int) (tableData, [][]string, error) {
	reader := bufio.NewReader(bytes.NewReader(payload))
	if prefix, err := reader.Peek(len(byteOrderMark)); err == nil && bytes.Equal(prefix, byteOrderMark) {
		_, _ = reader.Discard(len(byteOrderMark))
	}

	csvReader := csv.NewReader(reader)
	csvReader.TrimLeadingSpace = true
	csvReader.FieldsPerRecord = -1

	records, err := csvReader.ReadAll()
	if err != nil {
		return tableData{}, nil, fmt.Errorf("failed to read csv: %w", err)
	}

	table, err := normalizeTable(records, headerRowIndex)
	if err != nil {
		return tableData{}, nil, err
	}
	return table, records, nil
}

func parseExcel(payload []byte, headerRowIndex *int) (tableData, [][]string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(payload))
	if err != nil {
		return tableData{}, nil, fmt.Errorf("failed to open xlsx: %w", err)
	}
	defer func() { _ = f.Close() }()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return tableData{}, nil, errors.New("excel file has no sheets")
	}

	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return tableData{}, nil, fmt.Errorf("failed to read rows from xlsx: %w", err)
	}

	table, err := normalizeTable(rows, headerRowIndex)
	if err != nil {
		return tableData{}, nil, err
	}
	return table, rows, nil
}

func normalizeTable(records [][]string, headerRowIndex *int) (tableData, error) {
	if len(records) == 0 {
		return tableData{}, errors.New("no rows found in file")
	}

	var headerRow []string
	var dataRows [][]string
	var rowNumbers []int
	headerIndex := -1

	start := 0
	if headerRowIndex != nil {
		if *headerRowIndex < 0 || *headerRowIndex >= len(records) {
			return tableData{}, fmt.Errorf("header row index %d out of range", *headerRowIndex)
		}
		if len(cleanRow(records[*headerRowIndex])) == 0 {
			return tableData{}, fmt.Errorf("selected header row %d is empty", *headerRowIndex+1)
		}
		headerRow = records[*headerRowIndex]
		headerIndex = *headerRowIndex
		start = *headerRowIndex + 1
	}

	for idx := start; idx < len(records); idx++ {
		row := records[idx]
		if len(cleanRow(row)) == 0 {
			continue
		}
		if headerRow == nil {
			headerRow = row
			headerIndex = idx
			continue
		}
		dataRows = append(dataRows, row)
		rowNumbers = append(rowNumbers, idx+1)
	}

	if headerRow == nil {
		return tableData{}, errors.New("header row could not be detected")
	}

	headers := sanitizeHeaders(headerRow)
	rawHeaders := make([]string, len(headerRow))
	for i, value := range headerRow {
		rawHeaders[i] = strings.TrimSpace(value)
	}

	for i := range dataRows {
		dataRows[i] = padRow(dataRows[i], len(headers))
	}

	return tableData{
		headers:        headers,
		rawHeaders:     rawHeaders,
		rows:           dataRows,
		rowNumbers:     rowNumbers,
		headerRowIndex: headerIndex,
	}, nil
}

func buildHeaderCandidates(records [][]string, limit int, currentIndex int) []HeaderCandidate {
	if limit <= 0 {
		limit = 10
	}

	candidates := make([]HeaderCandidate, 0, limit)
	for idx, row := range records {
		if len(cleanRow(row)) == 0 {
			continue
		}

		values := make([]string, len(row))
		for i, cell := range row {
			values[i] = strings.TrimSpace(cell)
		}

		candidates = append(candidates, HeaderCandidate{
			Index:   idx,
			Values:  values,
			Current: idx == currentIndex,
		})

		if len(candidates) >= limit {
			break
		}
	}

	return candidates
}

func cleanRow(row []string) []string {
	var cleaned []string
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			cleaned = append(cleaned, cell)
		}
	}
	return cleaned
}

func sanitizeHeaders(raw []string) []string {
	headers := make([]string, len(raw))
	seen := make(map[string]int)

	for idx, value := range raw {
		name := strings.TrimSpace(value)
		name = strings.ReplaceAll(name, " ", "_")
		name = strings.ReplaceAll(name, ".", "_")
		name = strings.ReplaceAll(name, "-", "_")
		name = strings.Trim(name, "_")
		if name == "" {
			name = fmt.Sprintf("column_%d", idx+1)
		}

		base := name
		count := seen[base]
		if count > 0 {
			name = fmt.Sprintf("%s_%d", base, count+1)
		}
		seen[base] = count + 1

		headers[idx] = name
	}

	return headers
}

func padRow(row []string, length int) []string {
	if len(row) >= length {
		return row[:length]
	}
	padded := make([]string, length)
	copy(padded, row)
	return padded
}

func inferFields(table tableData) []domain.Field {
	fields := make([]domain.Field, 0, len(table.headers))
	for idx, header := range table.headers {
		fieldType, nullable := profileColumn(idx, table.rows)
		fields = append(fields, domain.Field{
			Name:     header,
			Type:     fieldType,
			Nullable: nullable,
		})
	}
	return fields
}

func applyOverrides(fields []domain.Field, overrides map[string]domain.FieldType) []domain.Field {
	if len(fields) == 0 || len(overrides) == 0 {
		return fields
	}
	overridden := make([]domain.Field, len(fields))
	for idx, field := range fields {
		if override, ok := overrides[field.Name]; ok && override != "" {
			field.Type = override
		}
		overridden[idx] = field
	}
	return overridden
}

// profileColumn picks the narrowest type that fits every non-blank cell.
// A column is nullable when any cell is blank or it has no values at all.
func profileColumn(col int, rows [][]string) (domain.FieldType, bool) {
	isBool := true
	isInt := true
	isFloat := true
	isTimestamp := true
	allPresent := true
	hasValue := false

	for _, row := range rows {
		if col >= len(row) {
			allPresent = false
			continue
		}

		value := strings.TrimSpace(row[col])
		if value == "" {
			allPresent = false
			continue
		}

		hasValue = true

		if !looksLikeBool(value) {
			isBool = false
		}
		if !looksLikeInt(value) {
			isInt = false
		}
		if !looksLikeFloat(value) {
			isFloat = false
		}
		if !looksLikeTimestamp(value) {
			isTimestamp = false
		}
	}

	nullable := !(allPresent && hasValue)
	switch {
	case isBool && hasValue:
		return domain.FieldTypeBoolean, nullable
	case isInt && hasValue:
		return domain.FieldTypeInteger, nullable
	case isFloat && hasValue:
		return domain.FieldTypeFloat, nullable
	case isTimestamp && hasValue:
		return domain.FieldTypeTimestamp, nullable
	default:
		return domain.FieldTypeString, nullable
	}
}

// looksLikeBool only accepts words; 0/1 columns are usually keys.
func looksLikeBool(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "true", "false", "yes", "no":
		return true
	default:
		return false
	}
}

// maxExactFloatInt is the largest integer a float64 holds exactly.
const maxExactFloatInt = 1 << 53

// looksLikeInt accepts only what ParseInt reads exactly. Zero padded codes
// such as 007 stay text.
func looksLikeInt(value string) bool {
	if hasLeadingZero(value) {
		return false
	}
	_, err := strconv.ParseInt(value, 10, 64)
	return err == nil
}

func looksLikeFloat(value string) bool {
	if hasLeadingZero(value) {
		return false
	}
	// Digit runs wider than int64 are ids, not measurements.
	if isDigits(strings.TrimLeft(value, "+-")) {
		_, err := strconv.ParseInt(value, 10, 64)
		return err == nil
	}
	_, err := strconv.ParseFloat(value, 64)
	return err == nil
}

func hasLeadingZero(value string) bool {
	digits := strings.TrimLeft(value, "+-")
	return len(digits) > 1 && digits[0] == '0' && digits[1] != '.'
}

func isDigits(value string) bool {
	if value == "" {
		return false
	}
	for _, r := range value {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func looksLikeTimestamp(value string) bool {
	_, err := parseTimestamp(value)
	return err == nil
}

func coerceValue(fieldType domain.FieldType, raw string) (any, error) {
	switch fieldType {
	case domain.FieldTypeString:
		return raw, nil
	case domain.FieldTypeInteger:
		if i, err := strconv.ParseInt(raw, 10, 64); err == nil {
			return i, nil
		}
		if isDigits(strings.TrimLeft(raw, "+-")) {
			return nil, fmt.Errorf("integer %q out of range", raw)
		}
		if f, err := strconv.ParseFloat(raw, 64); err == nil && math.Mod(f, 1) == 0 && math.Abs(f) <= maxExactFloatInt {
			return int64(f), nil
		}
		return nil, fmt.Errorf("unable to coerce %q to integer", raw)
	case domain.FieldTypeFloat:
		if f, err := strconv.ParseFloat(raw, 64); err == nil {
			return f, nil
		}
		return nil, fmt.Errorf("unable to coerce %q to float", raw)
	case domain.FieldTypeBoolean:
		value := strings.ToLower(strings.TrimSpace(raw))
		switch value {
		case "1", "yes", "y":
			return true, nil
		case "0", "no", "n":
			return false, nil
		}
		boolVal, err := strconv.ParseBool(value)
		if err != nil {
			return nil, fmt.Errorf("unable to coerce %q to boolean", raw)
		}
		return boolVal, nil
	case domain.FieldTypeTimestamp:
		ts, err := parseTimestamp(raw)
		if err != nil {
			return nil, fmt.Errorf("unable to coerce %q to timestamp: %w", raw, err)
		}
		return ts, nil
	case domain.FieldTypeJSON:
		var out any
		if err := json.Unmarshal([]byte(raw), &out); err != nil {
			return nil, fmt.Errorf("invalid json payload: %w", err)
		}
		return out, nil
	default:
		return raw, nil
	}
}

func parseTimestamp(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	for _, layout := range timeLayouts {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp format")
}
