package ingestion

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/rpattn/hierflat/internal/domain"
)

// Handler exposes file previews as an HTTP endpoint.
type Handler struct{}

// NewHTTPHandler returns the POST /ingest/preview endpoint.
func NewHTTPHandler() http.Handler {
	return &Handler{}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		http.Error(w, fmt.Sprintf("invalid form data: %v", err), http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, fmt.Sprintf("file required: %v", err), http.StatusBadRequest)
		return
	}
	defer file.Close()

	req, err := RequestFromForm(r, header.Filename)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	req.Data = file

	result, err := Preview(req)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	WriteJSON(w, http.StatusOK, result)
}

// RequestFromForm reads the optional headerRowIndex and columnOverrides
// form values. columnOverrides is "column=type;column=type".
func RequestFromForm(r *http.Request, fileName string) (Request, error) {
	req := Request{FileName: fileName}

	if raw := strings.TrimSpace(r.FormValue("headerRowIndex")); raw != "" {
		index, err := strconv.Atoi(raw)
		if err != nil {
			return Request{}, fmt.Errorf("invalid headerRowIndex: %v", err)
		}
		req.HeaderRowIndex = &index
	}

	overrides, err := ParseColumnOverrides(r.FormValue("columnOverrides"))
	if err != nil {
		return Request{}, err
	}
	req.ColumnOverrides = overrides
	return req, nil
}

// ParseColumnOverrides parses "column=type;column=type".
func ParseColumnOverrides(raw string) (map[string]domain.FieldType, error) {
	overrides := map[string]domain.FieldType{}
	for _, pair := range strings.Split(raw, ";") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		column, typeName, ok := strings.Cut(pair, "=")
		if !ok || strings.TrimSpace(column) == "" {
			return nil, errors.New("columnOverrides must be column=type pairs")
		}
		fieldType, err := domain.ParseFieldType(typeName)
		if err != nil {
			return nil, fmt.Errorf("column %s: %w", strings.TrimSpace(column), err)
		}
		overrides[strings.TrimSpace(column)] = fieldType
	}
	return overrides, nil
}

// WriteJSON encodes payload with the given status.
func WriteJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(payload)
}
