package processor

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ehr/docproc/internal/domain/categorize"
	"github.com/ehr/docproc/internal/domain/runs"
)

func postProcess(t *testing.T, h *Handler, body string) (*httptest.ResponseRecorder, error) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/documents/process", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	return rec, h.Process(e.NewContext(req, rec))
}

func TestHandler_Process(t *testing.T) {
	f := newFixture()
	h := NewHandler(f.svc)

	rec, err := postProcess(t, h, `{"id":"doc-1","content_url":"https://files/doc-1.pdf"}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body struct {
		RunID   string           `json:"run_id"`
		Status  string           `json:"status"`
		Effects []map[string]any `json:"effects"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.RunID == "" || body.Status != "completed" || len(body.Effects) != 4 {
		t.Errorf("unexpected body %+v", body)
	}
	payload, _ := body.Effects[0]["payload"].(map[string]any)
	if payload["source_protocol"] != "extend_ai_document_processor" {
		t.Errorf("unexpected payload %v", payload)
	}
}

func TestHandler_Process_Errors(t *testing.T) {
	tests := []struct {
		name   string
		setup  func(f *fixture) *Handler
		body   string
		status int
	}{
		{
			name:   "missing url",
			setup:  func(f *fixture) *Handler { return NewHandler(f.svc) },
			body:   `{"id":"doc-1"}`,
			status: http.StatusBadRequest,
		},
		{
			name: "missing credentials",
			setup: func(f *fixture) *Handler {
				return NewHandler(NewService(nil, f.match, nil, f.ledger, zerolog.Nop()))
			},
			body:   `{"id":"doc-1","content_url":"https://files/doc-1.pdf"}`,
			status: http.StatusServiceUnavailable,
		},
		{
			name:   "bad json",
			setup:  func(f *fixture) *Handler { return NewHandler(f.svc) },
			body:   `{"id":`,
			status: http.StatusBadRequest,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := tt.setup(newFixture())
			_, err := postProcess(t, h, tt.body)
			httpErr, ok := err.(*echo.HTTPError)
			if !ok || httpErr.Code != tt.status {
				t.Errorf("expected %d, got %v", tt.status, err)
			}
		})
	}
}

func TestHandler_Process_CategorizationFailure(t *testing.T) {
	f := newFixture()
	f.cat.result = &categorize.Result{Err: "Extend.ai: status=400 | code=INVALID_FILE"}
	h := NewHandler(f.svc)

	rec, err := postProcess(t, h, `{"id":"doc-1","content_url":"https://files/doc-1.pdf"}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rec.Code)
	}
	var body map[string]any
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body["status"] != "failed" || !strings.Contains(body["error"].(string), "INVALID_FILE") {
		t.Errorf("unexpected body %v", body)
	}
	if effects, ok := body["effects"].([]any); !ok || len(effects) != 0 {
		t.Errorf("expected empty effects list, got %v", body["effects"])
	}
}

func TestHandler_GetRun(t *testing.T) {
	f := newFixture()
	h := NewHandler(f.svc)
	e := echo.New()

	run := runs.Start("doc-9")
	run.Finish("")
	f.ledger.Create(context.Background(), run)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/runs/"+run.ID, nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(run.ID)
	if err := h.GetRun(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var got runs.Run
	json.Unmarshal(rec.Body.Bytes(), &got)
	if got.DocumentID != "doc-9" || got.Status != runs.StatusCompleted {
		t.Errorf("unexpected run %+v", got)
	}

	c = e.NewContext(httptest.NewRequest(http.MethodGet, "/api/v1/runs/nope", nil), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues("nope")
	httpErr, ok := h.GetRun(c).(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %v", httpErr)
	}
}

func TestHandler_ListRuns(t *testing.T) {
	f := newFixture()
	h := NewHandler(f.svc)
	for i := 0; i < 3; i++ {
		postProcess(t, h, `{"id":"doc-1","content_url":"https://files/doc-1.pdf"}`)
	}

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/runs?limit=2", nil)
	rec := httptest.NewRecorder()
	if err := h.ListRuns(e.NewContext(req, rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var body struct {
		Data    []map[string]any `json:"data"`
		Total   int              `json:"total"`
		HasMore bool             `json:"has_more"`
	}
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body.Total != 3 || len(body.Data) != 2 || !body.HasMore {
		t.Errorf("unexpected page %+v", body)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/documents/doc-1/runs", nil)
	rec = httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues("doc-1")
	if err := h.DocumentRuns(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var byDoc struct {
		Total int `json:"total"`
	}
	json.Unmarshal(rec.Body.Bytes(), &byDoc)
	if byDoc.Total != 3 {
		t.Errorf("expected 3 runs for doc-1, got %d", byDoc.Total)
	}
}
