package flatten

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/rpattn/hierflat/internal/config"
	"github.com/rpattn/hierflat/internal/domain"
	"github.com/rpattn/hierflat/internal/export"
	"github.com/rpattn/hierflat/internal/hierarchy"
	"github.com/rpattn/hierflat/internal/ingestion"
)

// Response headers set on a successful file flatten.
const (
	HeaderRunID    = "X-Flatten-Run-ID"
	HeaderNodes    = "X-Flatten-Nodes"
	HeaderMaxLevel = "X-Flatten-Max-Level"
)

type Handler struct {
	service *Service
}

// NewHTTPHandler serves POST /flatten, POST /flatten/table and
// GET /flatten/runs.
func NewHTTPHandler(service *Service) http.Handler {
	return &Handler{service: service}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimSuffix(r.URL.Path, "/")
	switch {
	case r.Method == http.MethodPost && path == "/flatten/table":
		h.handleFlattenTable(w, r)
	case r.Method == http.MethodGet && path == "/flatten/runs":
		h.handleListRuns(w, r)
	case r.Method == http.MethodPost && path == "/flatten":
		h.handleFlattenFile(w, r)
	default:
		http.Error(w, "not found", http.StatusNotFound)
	}
}

func (h *Handler) handleFlattenFile(w http.ResponseWriter, r *http.Request) {
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

	ingestReq, err := ingestion.RequestFromForm(r, header.Filename)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	req := FileRequest{
		FileName:        header.Filename,
		Data:            file,
		HeaderRowIndex:  ingestReq.HeaderRowIndex,
		ColumnOverrides: ingestReq.ColumnOverrides,
		Options:         optionsFromForm(r),
		Format:          r.FormValue("format"),
	}

	var buf bytes.Buffer
	summary, err := h.service.FlattenFile(r.Context(), req, &buf)
	if err != nil {
		writeError(w, err)
		return
	}

	writer, _ := export.NewWriter(req.Format)
	w.Header().Set("Content-Type", writer.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", export.FileName(header.Filename, writer.Extension())))
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.Header().Set(HeaderRunID, summary.RunID.String())
	w.Header().Set(HeaderNodes, strconv.Itoa(summary.Stats.Nodes))
	w.Header().Set(HeaderMaxLevel, strconv.Itoa(summary.Stats.MaxLevel))
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}

func (h *Handler) handleFlattenTable(w http.ResponseWriter, r *http.Request) {
	var req TableRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("invalid payload: %v", err), http.StatusBadRequest)
		return
	}
	req.SourceTable = strings.TrimSpace(req.SourceTable)
	req.TargetTable = strings.TrimSpace(req.TargetTable)
	if req.SourceTable == "" {
		http.Error(w, "sourceTable is required", http.StatusBadRequest)
		return
	}

	summary, err := h.service.FlattenTable(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	ingestion.WriteJSON(w, http.StatusOK, summary)
}

func (h *Handler) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit, err := parseIntParam(r, "limit", 50)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	offset, err := parseIntParam(r, "offset", 0)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	runs, err := h.service.ListRuns(r.Context(), limit, offset)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	ingestion.WriteJSON(w, http.StatusOK, runs)
}

func optionsFromForm(r *http.Request) config.FlattenOptions {
	return config.FlattenOptions{
		ParentField:        r.FormValue(config.PropertyParentField),
		ChildField:         r.FormValue(config.PropertyChildField),
		ParentChildMapping: r.FormValue(config.PropertyParentChildMapping),
		LevelField:         r.FormValue(config.PropertyLevelField),
		TopField:           r.FormValue(config.PropertyTopField),
		BottomField:        r.FormValue(config.PropertyBottomField),
		TrueValue:          r.FormValue(config.PropertyTrueValue),
		FalseValue:         r.FormValue(config.PropertyFalseValue),
		MaxDepth:           r.FormValue(config.PropertyMaxDepth),
	}
}

func parseIntParam(r *http.Request, name string, fallback int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return fallback, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		return 0, fmt.Errorf("invalid %s: %q", name, raw)
	}
	return value, nil
}

// ErrorResponse is the JSON body returned for rejected runs.
type ErrorResponse struct {
	Error    string           `json:"error"`
	Kind     string           `json:"kind"`
	Stage    string           `json:"stage,omitempty"`
	NodeIDs  []string         `json:"nodeIds,omitempty"`
	Failures []config.Failure `json:"failures,omitempty"`
}

// Error kinds reported in ErrorResponse.
const (
	KindConfiguration = "configuration"
	KindInput         = "input"
	KindExtraction    = "extraction"
	KindStructural    = "structural"
	KindDepth         = "depth"
	KindInternal      = "internal"
)

// Classify maps a run error onto its HTTP status and response body.
func Classify(err error) (int, ErrorResponse) {
	resp := ErrorResponse{Error: err.Error()}
	if stage := hierarchy.StageOf(err); stage != hierarchy.StageFailed {
		resp.Stage = string(stage)
	}

	var validationErr *config.ValidationError
	var cellErr *ingestion.CellError
	switch {
	case errors.As(err, &validationErr):
		resp.Kind = KindConfiguration
		resp.Failures = validationErr.Failures
		return http.StatusBadRequest, resp
	case errors.Is(err, export.ErrUnsupportedFormat),
		errors.Is(err, ingestion.ErrUnsupportedFormat),
		errors.Is(err, ErrTargetRequired),
		hierarchy.StageOf(err) == hierarchy.StageDeriveSchema:
		resp.Kind = KindConfiguration
		return http.StatusBadRequest, resp
	case errors.Is(err, domain.ErrStructural):
		resp.Kind = KindStructural
		resp.NodeIDs = domain.ErrorNodeIDs(err)
		return http.StatusUnprocessableEntity, resp
	case errors.Is(err, domain.ErrDepth):
		resp.Kind = KindDepth
		resp.NodeIDs = domain.ErrorNodeIDs(err)
		return http.StatusUnprocessableEntity, resp
	case errors.Is(err, domain.ErrExtraction):
		resp.Kind = KindExtraction
		return http.StatusUnprocessableEntity, resp
	case errors.As(err, &cellErr), hierarchy.StageOf(err) == hierarchy.StageIngest:
		resp.Kind = KindInput
		return http.StatusUnprocessableEntity, resp
	case errors.Is(err, ErrSourceUnavailable):
		resp.Kind = KindInternal
		return http.StatusServiceUnavailable, resp
	default:
		resp.Kind = KindInternal
		return http.StatusInternalServerError, resp
	}
}

func writeError(w http.ResponseWriter, err error) {
	status, resp := Classify(err)
	ingestion.WriteJSON(w, status, resp)
}
