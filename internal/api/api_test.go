package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/LexForge/ClauseFlow/internal/flow"
	"github.com/LexForge/ClauseFlow/internal/models"
	"github.com/LexForge/ClauseFlow/internal/store"
	"github.com/LexForge/ClauseFlow/internal/testutil"
)

func newTestServer(t *testing.T) (*Server, *store.InMemoryStore) {
	t.Helper()
	st := store.NewInMemoryStore()
	t.Cleanup(func() { st.Close() })
	engine := flow.NewEngine(st)
	return NewServer(st, engine, nil, nil, "memory"), st
}

func doRequest(t *testing.T, srv *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	req := testutil.CreateHTTPRequest(t, method, path, body)
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)
	return rr
}

type apiEnvelope struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Result  json.RawMessage `json:"result"`
}

func decodeEnvelope(t *testing.T, rr *httptest.ResponseRecorder) apiEnvelope {
	t.Helper()
	var env apiEnvelope
	testutil.MustUnmarshalJSON(t, rr.Body.Bytes(), &env)
	return env
}

func decodeResult(t *testing.T, env apiEnvelope, out interface{}) {
	t.Helper()
	testutil.MustUnmarshalJSON(t, env.Result, out)
}

// startDocument drives POST /documents/start and returns the decoded result.
func startDocument(t *testing.T, srv *Server, userID, templateID string) models.StartResult {
	t.Helper()
	rr := doRequest(t, srv, http.MethodPost, "/documents/start",
		models.StartDocumentRequest{UserID: userID, TemplateID: templateID})
	if rr.Code != http.StatusCreated {
		t.Fatalf("start returned %d: %s", rr.Code, rr.Body.String())
	}
	var res models.StartResult
	decodeResult(t, decodeEnvelope(t, rr), &res)
	return res
}

func TestStartDocumentCreates(t *testing.T) {
	srv, st := newTestServer(t)
	testutil.SeedNDATemplate(t, st)

	rr := doRequest(t, srv, http.MethodPost, "/documents/start",
		models.StartDocumentRequest{UserID: "user_1", TemplateID: "nda_a"})

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("expected application/json, got %q", ct)
	}
	env := decodeEnvelope(t, rr)
	if env.Status != "ok" || env.Message != "Document started" {
		t.Errorf("unexpected envelope: %+v", env)
	}
	var res models.StartResult
	decodeResult(t, env, &res)
	if res.Document == nil || res.Prompt == nil {
		t.Fatalf("expected document and prompt, got %+v", res)
	}
	if res.Prompt.SectionName != "Parties" || res.Prompt.Position != 1 || res.Prompt.Total != 2 {
		t.Errorf("unexpected first prompt: %+v", res.Prompt)
	}

	doc, err := st.GetDocument(res.Document.ID)
	if err != nil || doc == nil {
		t.Fatalf("document not persisted: %v", err)
	}
}

func TestStartDocumentResumes(t *testing.T) {
	srv, st := newTestServer(t)
	testutil.SeedNDATemplate(t, st)
	first := startDocument(t, srv, "user_1", "nda_a")

	rr := doRequest(t, srv, http.MethodPost, "/documents/start",
		models.StartDocumentRequest{UserID: "user_1", TemplateID: "nda_a"})

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 for resume, got %d: %s", rr.Code, rr.Body.String())
	}
	env := decodeEnvelope(t, rr)
	if env.Message != "Document resumed" {
		t.Errorf("expected resume message, got %q", env.Message)
	}
	var res models.StartResult
	decodeResult(t, env, &res)
	if !res.Resumed {
		t.Error("expected resumed flag")
	}
	if res.Document.ID != first.Document.ID {
		t.Errorf("expected the same document, got %s and %s", first.Document.ID, res.Document.ID)
	}
}

func TestStartDocumentValidation(t *testing.T) {
	srv, _ := newTestServer(t)

	rr := doRequest(t, srv, http.MethodPost, "/documents/start",
		models.StartDocumentRequest{TemplateID: "nda_a"})

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	if env := decodeEnvelope(t, rr); env.Status != "error" {
		t.Errorf("expected error status, got %+v", env)
	}
}

func TestStartDocumentInvalidJSON(t *testing.T) {
	srv, _ := newTestServer(t)

	req := testutil.CreateJSONRequest(t, http.MethodPost, "/documents/start", "{not json")
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	if env := decodeEnvelope(t, rr); env.Message != "Invalid JSON format" {
		t.Errorf("unexpected message: %q", env.Message)
	}
}

func TestStartDocumentTemplateNotFound(t *testing.T) {
	srv, _ := newTestServer(t)

	rr := doRequest(t, srv, http.MethodPost, "/documents/start",
		models.StartDocumentRequest{UserID: "user_1", TemplateID: "missing"})

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", rr.Code, rr.Body.String())
	}
	env := decodeEnvelope(t, rr)
	var res models.StartResult
	decodeResult(t, env, &res)
	if res.Outcome != models.OutcomeNotFound {
		t.Errorf("expected not_found outcome in result, got %s", res.Outcome)
	}
}

func TestStartDocumentMethodNotAllowed(t *testing.T) {
	srv, _ := newTestServer(t)

	rr := doRequest(t, srv, http.MethodGet, "/documents/start", nil)

	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rr.Code)
	}
	if allow := rr.Header().Get("Allow"); allow != http.MethodPost {
		t.Errorf("expected Allow: POST, got %q", allow)
	}
}

func TestAnswerAdvancesToNextClause(t *testing.T) {
	srv, st := newTestServer(t)
	testutil.SeedNDATemplate(t, st)
	start := startDocument(t, srv, "user_1", "nda_a")

	rr := doRequest(t, srv, http.MethodPost, "/documents/"+start.Document.ID+"/answer",
		models.AnswerRequest{Answer: "Acme Corp and Jane Smith"})

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	env := decodeEnvelope(t, rr)
	if env.Message != "Answer accepted" {
		t.Errorf("unexpected message: %q", env.Message)
	}
	var res models.AnswerResult
	decodeResult(t, env, &res)
	if res.Prompt == nil || res.Prompt.SectionName != "NonCompete" {
		t.Errorf("expected NonCompete prompt, got %+v", res.Prompt)
	}
	if res.Document.Content["Parties"] != "Acme Corp and Jane Smith" {
		t.Errorf("answer not recorded: %+v", res.Document.Content)
	}
}

func TestAnswerRejectedByRules(t *testing.T) {
	srv, st := newTestServer(t)
	testutil.SeedNDATemplate(t, st)
	start := startDocument(t, srv, "user_1", "nda_a")
	doRequest(t, srv, http.MethodPost, "/documents/"+start.Document.ID+"/answer",
		models.AnswerRequest{Answer: "Acme Corp and Jane Smith"})

	// NonCompete requires at least 20 characters.
	rr := doRequest(t, srv, http.MethodPost, "/documents/"+start.Document.ID+"/answer",
		models.AnswerRequest{Answer: "none"})

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rr.Code, rr.Body.String())
	}
	env := decodeEnvelope(t, rr)
	if env.Status != "error" {
		t.Errorf("expected error status, got %q", env.Status)
	}
	var res models.AnswerResult
	decodeResult(t, env, &res)
	if res.Outcome != models.OutcomeInvalidAnswer {
		t.Errorf("expected invalid_answer, got %s", res.Outcome)
	}
}

func TestAnswerUnknownDocument(t *testing.T) {
	srv, _ := newTestServer(t)

	rr := doRequest(t, srv, http.MethodPost, "/documents/doc_missing/answer",
		models.AnswerRequest{Answer: "anything"})

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestSkipMandatoryClause(t *testing.T) {
	srv, st := newTestServer(t)
	testutil.SeedNDATemplate(t, st)
	start := startDocument(t, srv, "user_1", "nda_a")

	rr := doRequest(t, srv, http.MethodPost, "/documents/"+start.Document.ID+"/skip",
		models.SkipRequest{SectionName: "Parties"})

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", rr.Code, rr.Body.String())
	}
	if env := decodeEnvelope(t, rr); !strings.Contains(env.Message, "mandatory") {
		t.Errorf("unexpected message: %q", env.Message)
	}
}

func TestSkipOptionalClause(t *testing.T) {
	srv, st := newTestServer(t)
	testutil.SeedNDATemplate(t, st)
	start := startDocument(t, srv, "user_1", "nda_a")
	doRequest(t, srv, http.MethodPost, "/documents/"+start.Document.ID+"/answer",
		models.AnswerRequest{Answer: "Acme Corp and Jane Smith"})

	rr := doRequest(t, srv, http.MethodPost, "/documents/"+start.Document.ID+"/skip",
		models.SkipRequest{SectionName: "NonCompete"})

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	env := decodeEnvelope(t, rr)
	if env.Message != "Clause skipped" {
		t.Errorf("unexpected message: %q", env.Message)
	}
	var res models.SkipResult
	decodeResult(t, env, &res)
	if !res.AllClausesVisited {
		t.Error("expected all clauses visited after skipping the last clause")
	}
}

func TestSkipSectionMismatch(t *testing.T) {
	srv, st := newTestServer(t)
	testutil.SeedNDATemplate(t, st)
	start := startDocument(t, srv, "user_1", "nda_a")
	doRequest(t, srv, http.MethodPost, "/documents/"+start.Document.ID+"/answer",
		models.AnswerRequest{Answer: "Acme Corp and Jane Smith"})

	rr := doRequest(t, srv, http.MethodPost, "/documents/"+start.Document.ID+"/skip",
		models.SkipRequest{SectionName: "Term"})

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409 for stale section name, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestFinalizeIncomplete(t *testing.T) {
	srv, st := newTestServer(t)
	testutil.SeedNDATemplate(t, st)
	start := startDocument(t, srv, "user_1", "nda_a")

	rr := doRequest(t, srv, http.MethodPost, "/documents/"+start.Document.ID+"/finalize", nil)

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", rr.Code, rr.Body.String())
	}
	env := decodeEnvelope(t, rr)
	var res models.FinalizeResult
	decodeResult(t, env, &res)
	if res.Outcome != models.OutcomeIncompleteDocument {
		t.Errorf("expected incomplete_document, got %s", res.Outcome)
	}
	if len(res.MissingSections) != 1 || res.MissingSections[0] != "Parties" {
		t.Errorf("expected missing [Parties], got %v", res.MissingSections)
	}
}

func TestFinalizeCompletes(t *testing.T) {
	srv, st := newTestServer(t)
	testutil.SeedNDATemplate(t, st)
	start := startDocument(t, srv, "user_1", "nda_a")
	doRequest(t, srv, http.MethodPost, "/documents/"+start.Document.ID+"/answer",
		models.AnswerRequest{Answer: "Acme Corp and Jane Smith"})
	doRequest(t, srv, http.MethodPost, "/documents/"+start.Document.ID+"/skip",
		models.SkipRequest{SectionName: "NonCompete"})

	rr := doRequest(t, srv, http.MethodPost, "/documents/"+start.Document.ID+"/finalize", nil)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	env := decodeEnvelope(t, rr)
	if env.Message != "Document completed" {
		t.Errorf("unexpected message: %q", env.Message)
	}
	var res models.FinalizeResult
	decodeResult(t, env, &res)
	if res.Document.Status != models.DocumentStatusCompleted {
		t.Errorf("expected completed status, got %s", res.Document.Status)
	}
	if !strings.Contains(res.Rendered, "Acme Corp and Jane Smith") {
		t.Errorf("rendered document missing answer: %q", res.Rendered)
	}
	if strings.Contains(res.Rendered, "NonCompete") {
		t.Errorf("skipped section must not render: %q", res.Rendered)
	}
}

func TestPreview(t *testing.T) {
	srv, st := newTestServer(t)
	testutil.SeedNDATemplate(t, st)
	start := startDocument(t, srv, "user_1", "nda_a")
	doRequest(t, srv, http.MethodPost, "/documents/"+start.Document.ID+"/answer",
		models.AnswerRequest{Answer: "Acme Corp and Jane Smith"})

	rr := doRequest(t, srv, http.MethodGet, "/documents/"+start.Document.ID+"/preview", nil)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var res models.PreviewResult
	decodeResult(t, decodeEnvelope(t, rr), &res)
	if !strings.Contains(res.Preview, "Acme Corp and Jane Smith") {
		t.Errorf("preview missing answer: %q", res.Preview)
	}
}

func TestProgress(t *testing.T) {
	srv, st := newTestServer(t)
	testutil.SeedNDATemplate(t, st)
	start := startDocument(t, srv, "user_1", "nda_a")
	doRequest(t, srv, http.MethodPost, "/documents/"+start.Document.ID+"/answer",
		models.AnswerRequest{Answer: "Acme Corp and Jane Smith"})

	rr := doRequest(t, srv, http.MethodGet, "/documents/"+start.Document.ID+"/progress", nil)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var res models.ProgressResult
	decodeResult(t, decodeEnvelope(t, rr), &res)
	if res.Progress == nil {
		t.Fatal("expected progress payload")
	}
	if res.Progress.CompletedClauses != 1 || res.Progress.TotalClauses != 2 || res.Progress.Percentage != 50 {
		t.Errorf("unexpected progress: %+v", res.Progress)
	}
}

func TestPauseAndResume(t *testing.T) {
	srv, st := newTestServer(t)
	testutil.SeedNDATemplate(t, st)
	start := startDocument(t, srv, "user_1", "nda_a")

	rr := doRequest(t, srv, http.MethodPost, "/documents/"+start.Document.ID+"/pause", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("pause returned %d: %s", rr.Code, rr.Body.String())
	}
	if env := decodeEnvelope(t, rr); env.Message != "Document paused" {
		t.Errorf("unexpected pause message: %q", env.Message)
	}

	// Answers are rejected while paused.
	rr = doRequest(t, srv, http.MethodPost, "/documents/"+start.Document.ID+"/answer",
		models.AnswerRequest{Answer: "Acme Corp and Jane Smith"})
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409 while paused, got %d: %s", rr.Code, rr.Body.String())
	}

	rr = doRequest(t, srv, http.MethodPost, "/documents/"+start.Document.ID+"/resume", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("resume returned %d: %s", rr.Code, rr.Body.String())
	}
	env := decodeEnvelope(t, rr)
	if env.Message != "Document resumed" {
		t.Errorf("unexpected resume message: %q", env.Message)
	}
	var res models.StatusChangeResult
	decodeResult(t, env, &res)
	if res.Prompt == nil || res.Prompt.SectionName != "Parties" {
		t.Errorf("expected the pending Parties prompt after resume, got %+v", res.Prompt)
	}
}

func TestGetDocument(t *testing.T) {
	srv, st := newTestServer(t)
	testutil.SeedNDATemplate(t, st)
	start := startDocument(t, srv, "user_1", "nda_a")

	rr := doRequest(t, srv, http.MethodGet, "/documents/"+start.Document.ID, nil)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var doc models.Document
	decodeResult(t, decodeEnvelope(t, rr), &doc)
	if doc.ID != start.Document.ID || doc.UserID != "user_1" {
		t.Errorf("unexpected document: %+v", doc)
	}
}

func TestGetDocumentNotFound(t *testing.T) {
	srv, _ := newTestServer(t)

	rr := doRequest(t, srv, http.MethodGet, "/documents/doc_missing", nil)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
	if env := decodeEnvelope(t, rr); env.Message != "Document not found" {
		t.Errorf("unexpected message: %q", env.Message)
	}
}

func TestUnknownDocumentEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	rr := doRequest(t, srv, http.MethodPost, "/documents/doc_1/frobnicate", nil)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
	if env := decodeEnvelope(t, rr); env.Message != "Unknown document endpoint" {
		t.Errorf("unexpected message: %q", env.Message)
	}
}

func TestUserDocuments(t *testing.T) {
	srv, st := newTestServer(t)
	testutil.SeedNDATemplate(t, st)
	startDocument(t, srv, "user_1", "nda_a")

	rr := doRequest(t, srv, http.MethodGet, "/users/user_1/documents", nil)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var docs []models.Document
	decodeResult(t, decodeEnvelope(t, rr), &docs)
	if len(docs) != 1 || docs[0].UserID != "user_1" {
		t.Errorf("unexpected documents: %+v", docs)
	}
	testutil.AssertDocumentCount(t, st, "user_1", 1, "after start")

	rr = doRequest(t, srv, http.MethodGet, "/users/user_2/documents", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 for empty list, got %d", rr.Code)
	}
}

func TestUserDocumentsUnknownPath(t *testing.T) {
	srv, _ := newTestServer(t)

	rr := doRequest(t, srv, http.MethodGet, "/users/user_1/settings", nil)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}

func TestListTemplates(t *testing.T) {
	srv, st := newTestServer(t)
	testutil.SeedNDATemplate(t, st)
	testutil.SeedTemplate(t, st,
		models.Template{ID: "retired", Name: "Retired NDA", Active: false},
		[]models.Clause{
			{ID: "r1", TemplateID: "retired", OrderNum: 1, SectionName: "Parties", Kind: models.ClauseKindMandatory, SystemPrompt: "Name the parties."},
		})

	rr := doRequest(t, srv, http.MethodGet, "/templates", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var active []models.Template
	decodeResult(t, decodeEnvelope(t, rr), &active)
	if len(active) != 1 || active[0].ID != "nda_a" {
		t.Errorf("expected only the active template, got %+v", active)
	}

	rr = doRequest(t, srv, http.MethodGet, "/templates?all=true", nil)
	var all []models.Template
	decodeResult(t, decodeEnvelope(t, rr), &all)
	if len(all) != 2 {
		t.Errorf("expected both templates with all=true, got %+v", all)
	}
}

func TestGetTemplate(t *testing.T) {
	srv, st := newTestServer(t)
	testutil.SeedNDATemplate(t, st)

	rr := doRequest(t, srv, http.MethodGet, "/templates/nda_a", nil)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var res struct {
		Template models.Template `json:"template"`
		Clauses  []models.Clause `json:"clauses"`
	}
	decodeResult(t, decodeEnvelope(t, rr), &res)
	if res.Template.ID != "nda_a" {
		t.Errorf("unexpected template: %+v", res.Template)
	}
	if len(res.Clauses) != 2 || res.Clauses[0].SectionName != "Parties" {
		t.Errorf("unexpected clauses: %+v", res.Clauses)
	}
}

func TestGetTemplateNotFound(t *testing.T) {
	srv, _ := newTestServer(t)

	rr := doRequest(t, srv, http.MethodGet, "/templates/missing", nil)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
	if env := decodeEnvelope(t, rr); env.Message != "Template not found" {
		t.Errorf("unexpected message: %q", env.Message)
	}
}

func TestHealth(t *testing.T) {
	srv, st := newTestServer(t)
	testutil.SeedNDATemplate(t, st)

	rr := doRequest(t, srv, http.MethodGet, "/health", nil)

	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "health")
	health := testutil.AssertJSONResponse(t, rr, "healthy")
	if health["backend"] != "memory" {
		t.Errorf("expected memory backend, got %v", health["backend"])
	}
	if health["templates"] != float64(1) {
		t.Errorf("expected 1 template, got %v", health["templates"])
	}
	if health["timestamp"] == nil {
		t.Error("expected a timestamp")
	}
}

func TestStatusForOutcome(t *testing.T) {
	cases := []struct {
		outcome models.OutcomeKind
		want    int
	}{
		{models.OutcomeOK, http.StatusOK},
		{models.OutcomeNotFound, http.StatusNotFound},
		{models.OutcomeInvalidAnswer, http.StatusBadRequest},
		{models.OutcomeIllegalTransition, http.StatusConflict},
		{models.OutcomeIncompleteDocument, http.StatusConflict},
		{models.OutcomeKind("bogus"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := statusForOutcome(tc.outcome); got != tc.want {
			t.Errorf("statusForOutcome(%s) = %d, want %d", tc.outcome, got, tc.want)
		}
	}
}
