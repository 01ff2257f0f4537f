package ingestion

import (
	"bytes"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rpattn/hierflat/internal/domain"

	"github.com/xuri/excelize/v2"
)

func TestParseCSVProfilesColumns(t *testing.T) {
	data := "\xEF\xBB\xBFParent,Child,Cost,Active,Shipped\n" +
		",bike,100.5,yes,2024-01-02\n" +
		"bike,wheel,20,no,\n" +
		"wheel,spoke,1,yes,2024-01-03\n"

	table, err := Parse(Request{FileName: "bom.csv", Data: strings.NewReader(data)})
	if err != nil {
		t.Fatalf("parse returned error: %v", err)
	}

	if table.Schema.Name != "bom" {
		t.Fatalf("expected schema name bom, got %q", table.Schema.Name)
	}
	if got := strings.Join(table.Schema.Names(), ","); got != "Parent,Child,Cost,Active,Shipped" {
		t.Fatalf("unexpected headers %s", got)
	}

	expected := map[string]domain.Field{
		"Parent":  {Name: "Parent", Type: domain.FieldTypeString, Nullable: true},
		"Child":   {Name: "Child", Type: domain.FieldTypeString},
		"Cost":    {Name: "Cost", Type: domain.FieldTypeFloat},
		"Active":  {Name: "Active", Type: domain.FieldTypeBoolean},
		"Shipped": {Name: "Shipped", Type: domain.FieldTypeTimestamp, Nullable: true},
	}
	for _, field := range table.Schema.Fields {
		if field != expected[field.Name] {
			t.Fatalf("unexpected field %+v", field)
		}
	}

	if len(table.Records) != 3 {
		t.Fatalf("expected 3 records, got %d", len(table.Records))
	}
	first := table.Records[0]
	if first["Parent"] != nil {
		t.Fatalf("expected blank parent to be nil, got %#v", first["Parent"])
	}
	if first["Cost"] != 100.5 {
		t.Fatalf("expected cost 100.5, got %#v", first["Cost"])
	}
	if first["Active"] != true {
		t.Fatalf("expected active true, got %#v", first["Active"])
	}
	if shipped, ok := first["Shipped"].(time.Time); !ok || shipped.Day() != 2 {
		t.Fatalf("expected timestamp, got %#v", first["Shipped"])
	}
	if table.RowNumbers[2] != 4 {
		t.Fatalf("expected third record on line 4, got %d", table.RowNumbers[2])
	}
}

func TestParseNumericKeysStayIntegers(t *testing.T) {
	data := "id,parent\n0,\n1,0\n"

	table, err := Parse(Request{FileName: "ids.csv", Data: strings.NewReader(data)})
	if err != nil {
		t.Fatalf("parse returned error: %v", err)
	}
	field, _ := table.Schema.Field("id")
	if field.Type != domain.FieldTypeInteger {
		t.Fatalf("expected integer ids, got %s", field.Type)
	}
	if table.Records[1]["parent"] != int64(0) {
		t.Fatalf("expected parent 0, got %#v", table.Records[1]["parent"])
	}
}

func TestParseKeepsZeroPaddedCodesAsText(t *testing.T) {
	data := "part,parent\n007,\n008,007\n"

	table, err := Parse(Request{FileName: "parts.csv", Data: strings.NewReader(data)})
	if err != nil {
		t.Fatalf("parse returned error: %v", err)
	}
	field, _ := table.Schema.Field("part")
	if field.Type != domain.FieldTypeString {
		t.Fatalf("expected string part codes, got %s", field.Type)
	}
	if table.Records[1]["part"] != "008" || table.Records[1]["parent"] != "007" {
		t.Fatalf("zero padding lost: %#v", table.Records[1])
	}
}

func TestParseKeepsWideIntegersAsText(t *testing.T) {
	data := "id,parent\n10000000000000000001,\n10000000000000000002,10000000000000000001\n"

	table, err := Parse(Request{FileName: "ids.csv", Data: strings.NewReader(data)})
	if err != nil {
		t.Fatalf("parse returned error: %v", err)
	}
	field, _ := table.Schema.Field("id")
	if field.Type != domain.FieldTypeString {
		t.Fatalf("expected string ids, got %s", field.Type)
	}
	if table.Records[1]["parent"] != "10000000000000000001" {
		t.Fatalf("unexpected parent %#v", table.Records[1]["parent"])
	}
}

func TestCoerceIntegerRejectsInexactValues(t *testing.T) {
	for _, raw := range []string{"10000000000000000001", "-99999999999999999999", "1e300", "12.5"} {
		if got, err := coerceValue(domain.FieldTypeInteger, raw); err == nil {
			t.Fatalf("expected %q to be rejected, got %#v", raw, got)
		}
	}
	got, err := coerceValue(domain.FieldTypeInteger, "12.0")
	if err != nil || got != int64(12) {
		t.Fatalf("expected 12, got %#v (%v)", got, err)
	}
}

func TestParsePadsRaggedRowsAndSkipsBlankLines(t *testing.T) {
	data := "name,parent,extra\nroot\n,,\nleaf,root,x\n"

	table, err := Parse(Request{FileName: "ragged.csv", Data: strings.NewReader(data)})
	if err != nil {
		t.Fatalf("parse returned error: %v", err)
	}
	if len(table.Records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(table.Records))
	}
	if table.Records[0]["extra"] != nil || table.Records[0]["parent"] != nil {
		t.Fatalf("expected padded cells to be nil: %#v", table.Records[0])
	}
	if table.RowNumbers[0] != 2 || table.RowNumbers[1] != 4 {
		t.Fatalf("unexpected row numbers %v", table.RowNumbers)
	}
}

func TestParseOverrideFailsOnUncoercibleCell(t *testing.T) {
	data := "id,parent,qty\nA,,1\nB,A,many\n"

	_, err := Parse(Request{
		FileName:        "items.csv",
		Data:            strings.NewReader(data),
		ColumnOverrides: map[string]domain.FieldType{"qty": domain.FieldTypeInteger},
	})

	var cellErr *CellError
	if !errors.As(err, &cellErr) {
		t.Fatalf("expected cell error, got %v", err)
	}
	if cellErr.Row != 3 || cellErr.Column != "qty" {
		t.Fatalf("unexpected cell error %+v", cellErr)
	}
}

func TestParseHeaderRowIndex(t *testing.T) {
	data := "report generated today\nid,parent\nA,\n"
	index := 1

	table, err := Parse(Request{FileName: "report.csv", HeaderRowIndex: &index, Data: strings.NewReader(data)})
	if err != nil {
		t.Fatalf("parse returned error: %v", err)
	}
	if got := strings.Join(table.Schema.Names(), ","); got != "id,parent" {
		t.Fatalf("unexpected headers %s", got)
	}

	index = 9
	if _, err := Parse(Request{FileName: "report.csv", HeaderRowIndex: &index, Data: strings.NewReader(data)}); err == nil {
		t.Fatalf("expected out of range header index to fail")
	}
}

func TestParseSanitizesHeaders(t *testing.T) {
	data := "Part No., Part No.,,sub-assembly\n1,2,3,4\n"

	table, err := Parse(Request{FileName: "parts.csv", Data: strings.NewReader(data)})
	if err != nil {
		t.Fatalf("parse returned error: %v", err)
	}
	if got := strings.Join(table.Schema.Names(), ","); got != "Part_No,Part_No_2,column_3,sub_assembly" {
		t.Fatalf("unexpected headers %s", got)
	}
}

func TestParseRejectsUnsupportedFormat(t *testing.T) {
	_, err := Parse(Request{FileName: "tree.json", Data: strings.NewReader("{}")})
	if !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("expected unsupported format, got %v", err)
	}
	if _, err := Parse(Request{FileName: "empty.csv", Data: strings.NewReader("")}); err == nil {
		t.Fatalf("expected empty file to fail")
	}
}

func TestParseExcel(t *testing.T) {
	f := excelize.NewFile()
	sheet := f.GetSheetName(0)
	rows := [][]any{
		{"id", "parent", "weight"},
		{"A", "", 1.5},
		{"B", "A", 2},
	}
	for i, row := range rows {
		cell, _ := excelize.CoordinatesToCellName(1, i+1)
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			t.Fatalf("failed to write row: %v", err)
		}
	}
	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		t.Fatalf("failed to write workbook: %v", err)
	}

	table, err := Parse(Request{FileName: "tree.xlsx", Data: &buf})
	if err != nil {
		t.Fatalf("parse returned error: %v", err)
	}
	if len(table.Records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(table.Records))
	}
	weight, _ := table.Schema.Field("weight")
	if weight.Type != domain.FieldTypeFloat {
		t.Fatalf("expected float weight, got %s", weight.Type)
	}
	if table.Records[1]["parent"] != "A" {
		t.Fatalf("unexpected parent %#v", table.Records[1]["parent"])
	}
}

func TestPreviewReportsOverrides(t *testing.T) {
	data := "id,parent,qty\nA,,1\nB,A,2\n"

	result, err := Preview(Request{
		FileName:        "items.csv",
		Data:            strings.NewReader(data),
		ColumnOverrides: map[string]domain.FieldType{"qty": domain.FieldTypeString},
	})
	if err != nil {
		t.Fatalf("preview returned error: %v", err)
	}
	if result.TotalRows != 2 || len(result.Headers) != 3 {
		t.Fatalf("unexpected preview %+v", result)
	}
	qty := result.Headers[2]
	if qty.DetectedType != "integer" || qty.EffectiveType != "string" || !qty.Overridden {
		t.Fatalf("unexpected qty header %+v", qty)
	}
	if len(result.HeaderCandidates) != 3 || !result.HeaderCandidates[0].Current {
		t.Fatalf("unexpected header candidates %+v", result.HeaderCandidates)
	}
}

func TestParseColumnOverrides(t *testing.T) {
	overrides, err := ParseColumnOverrides(" qty = int ; ; id=string")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if overrides["qty"] != domain.FieldTypeInteger || overrides["id"] != domain.FieldTypeString {
		t.Fatalf("unexpected overrides %#v", overrides)
	}
	if _, err := ParseColumnOverrides("qty=decimal"); err == nil {
		t.Fatalf("expected unknown type to fail")
	}
	if _, err := ParseColumnOverrides("qty"); err == nil {
		t.Fatalf("expected malformed pair to fail")
	}
}

func TestHandlerRejectsGet(t *testing.T) {
	rec := httptest.NewRecorder()
	NewHTTPHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ingest/preview", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}
