package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/LexForge/ClauseFlow/internal/models"
)

// requireMethod enforces the allowed HTTP method, answering 405 with an
// Allow header otherwise.
func requireMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		slog.Warn("Server: method not allowed", "method", r.Method, "path", r.URL.Path, "allowed", method)
		w.Header().Set("Allow", method)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return false
	}
	return true
}

// startDocumentHandler handles POST /documents/start. Starting is idempotent
// per (user, template): an in-progress document is resumed with 200 instead
// of creating a duplicate with 201.
func (s *Server) startDocumentHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	slog.Debug("Server.startDocumentHandler: processing start request", "method", r.Method, "path", r.URL.Path)
	if !requireMethod(w, r, http.MethodPost) {
		return
	}

	var req models.StartDocumentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.startDocumentHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if err := req.Validate(); err != nil {
		slog.Warn("Server.startDocumentHandler: validation failed", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}

	res, err := s.engine.Start(r.Context(), req.UserID, req.TemplateID)
	if err != nil {
		slog.Error("Server.startDocumentHandler: failed to start document", "error", err, "userID", req.UserID, "templateID", req.TemplateID)
		writeStoreError(w)
		return
	}
	if res.Outcome != models.OutcomeOK {
		writeJSONResponse(w, statusForOutcome(res.Outcome), models.ErrorWithResult(res.Message, res))
		return
	}

	if res.Resumed {
		slog.Info("Server.startDocumentHandler: document resumed", "documentID", res.Document.ID, "userID", req.UserID)
		writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Document resumed", res))
		return
	}
	slog.Info("Server.startDocumentHandler: document started", "documentID", res.Document.ID, "userID", req.UserID, "templateID", req.TemplateID)
	writeJSONResponse(w, http.StatusCreated, models.SuccessWithMessage("Document started", res))
}

// documentsRouter dispatches /documents/{id} and /documents/{id}/{op}
// requests to the matching handler.
func (s *Server) documentsRouter(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/documents/")
	segments := strings.Split(path, "/")

	if segments[0] == "" {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Unknown document endpoint"))
		return
	}
	docID := segments[0]

	if len(segments) == 1 {
		if !requireMethod(w, r, http.MethodGet) {
			return
		}
		s.getDocumentHandler(w, r, docID)
		return
	}

	if len(segments) == 2 {
		switch segments[1] {
		case "answer":
			if requireMethod(w, r, http.MethodPost) {
				s.answerHandler(w, r, docID)
			}
		case "skip":
			if requireMethod(w, r, http.MethodPost) {
				s.skipHandler(w, r, docID)
			}
		case "preview":
			if requireMethod(w, r, http.MethodGet) {
				s.previewHandler(w, r, docID)
			}
		case "finalize":
			if requireMethod(w, r, http.MethodPost) {
				s.finalizeHandler(w, r, docID)
			}
		case "progress":
			if requireMethod(w, r, http.MethodGet) {
				s.progressHandler(w, r, docID)
			}
		case "pause":
			if requireMethod(w, r, http.MethodPost) {
				s.pauseHandler(w, r, docID)
			}
		case "resume":
			if requireMethod(w, r, http.MethodPost) {
				s.resumeHandler(w, r, docID)
			}
		default:
			writeJSONResponse(w, http.StatusNotFound, models.Error("Unknown document endpoint"))
		}
		return
	}

	writeJSONResponse(w, http.StatusNotFound, models.Error("Unknown document endpoint"))
}

// getDocumentHandler handles GET /documents/{id}.
func (s *Server) getDocumentHandler(w http.ResponseWriter, r *http.Request, docID string) {
	slog.Debug("Server.getDocumentHandler: retrieving document", "documentID", docID)

	doc, err := s.st.GetDocument(docID)
	if err != nil {
		slog.Error("Server.getDocumentHandler: failed to get document", "error", err, "documentID", docID)
		writeStoreError(w)
		return
	}
	if doc == nil {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Document not found"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(doc))
}

// answerHandler handles POST /documents/{id}/answer.
func (s *Server) answerHandler(w http.ResponseWriter, r *http.Request, docID string) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	slog.Debug("Server.answerHandler: processing answer", "documentID", docID)

	var req models.AnswerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.answerHandler: failed to decode JSON", "error", err, "documentID", docID)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if err := req.Validate(); err != nil {
		slog.Warn("Server.answerHandler: validation failed", "error", err, "documentID", docID)
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}

	res, err := s.engine.SubmitAnswer(r.Context(), docID, req.Answer)
	if err != nil {
		slog.Error("Server.answerHandler: failed to submit answer", "error", err, "documentID", docID)
		writeStoreError(w)
		return
	}
	if res.Outcome != models.OutcomeOK {
		writeJSONResponse(w, statusForOutcome(res.Outcome), models.ErrorWithResult(res.Message, res))
		return
	}

	slog.Info("Server.answerHandler: answer accepted", "documentID", docID, "allVisited", res.AllClausesVisited)
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Answer accepted", res))
}

// skipHandler handles POST /documents/{id}/skip.
func (s *Server) skipHandler(w http.ResponseWriter, r *http.Request, docID string) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	slog.Debug("Server.skipHandler: processing skip", "documentID", docID)

	var req models.SkipRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.skipHandler: failed to decode JSON", "error", err, "documentID", docID)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if err := req.Validate(); err != nil {
		slog.Warn("Server.skipHandler: validation failed", "error", err, "documentID", docID)
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}

	res, err := s.engine.Skip(r.Context(), docID, req.SectionName)
	if err != nil {
		slog.Error("Server.skipHandler: failed to skip clause", "error", err, "documentID", docID)
		writeStoreError(w)
		return
	}
	if res.Outcome != models.OutcomeOK {
		writeJSONResponse(w, statusForOutcome(res.Outcome), models.ErrorWithResult(res.Message, res))
		return
	}

	slog.Info("Server.skipHandler: clause skipped", "documentID", docID, "section", req.SectionName)
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Clause skipped", res))
}

// previewHandler handles GET /documents/{id}/preview.
func (s *Server) previewHandler(w http.ResponseWriter, r *http.Request, docID string) {
	slog.Debug("Server.previewHandler: rendering preview", "documentID", docID)

	res, err := s.engine.Preview(r.Context(), docID)
	if err != nil {
		slog.Error("Server.previewHandler: failed to render preview", "error", err, "documentID", docID)
		writeStoreError(w)
		return
	}
	if res.Outcome != models.OutcomeOK {
		writeJSONResponse(w, statusForOutcome(res.Outcome), models.ErrorWithResult(res.Message, res))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(res))
}

// finalizeHandler handles POST /documents/{id}/finalize.
func (s *Server) finalizeHandler(w http.ResponseWriter, r *http.Request, docID string) {
	slog.Debug("Server.finalizeHandler: finalizing document", "documentID", docID)

	res, err := s.engine.Finalize(r.Context(), docID)
	if err != nil {
		slog.Error("Server.finalizeHandler: failed to finalize document", "error", err, "documentID", docID)
		writeStoreError(w)
		return
	}
	if res.Outcome != models.OutcomeOK {
		writeJSONResponse(w, statusForOutcome(res.Outcome), models.ErrorWithResult(res.Message, res))
		return
	}

	slog.Info("Server.finalizeHandler: document completed", "documentID", docID)
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Document completed", res))
}

// progressHandler handles GET /documents/{id}/progress.
func (s *Server) progressHandler(w http.ResponseWriter, r *http.Request, docID string) {
	slog.Debug("Server.progressHandler: computing progress", "documentID", docID)

	res, err := s.engine.Progress(r.Context(), docID)
	if err != nil {
		slog.Error("Server.progressHandler: failed to compute progress", "error", err, "documentID", docID)
		writeStoreError(w)
		return
	}
	if res.Outcome != models.OutcomeOK {
		writeJSONResponse(w, statusForOutcome(res.Outcome), models.ErrorWithResult(res.Message, res))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(res))
}

// pauseHandler handles POST /documents/{id}/pause.
func (s *Server) pauseHandler(w http.ResponseWriter, r *http.Request, docID string) {
	slog.Debug("Server.pauseHandler: pausing document", "documentID", docID)

	res, err := s.engine.Pause(r.Context(), docID)
	if err != nil {
		slog.Error("Server.pauseHandler: failed to pause document", "error", err, "documentID", docID)
		writeStoreError(w)
		return
	}
	if res.Outcome != models.OutcomeOK {
		writeJSONResponse(w, statusForOutcome(res.Outcome), models.ErrorWithResult(res.Message, res))
		return
	}

	slog.Info("Server.pauseHandler: document paused", "documentID", docID)
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage(res.Message, res))
}

// resumeHandler handles POST /documents/{id}/resume.
func (s *Server) resumeHandler(w http.ResponseWriter, r *http.Request, docID string) {
	slog.Debug("Server.resumeHandler: resuming document", "documentID", docID)

	res, err := s.engine.Resume(r.Context(), docID)
	if err != nil {
		slog.Error("Server.resumeHandler: failed to resume document", "error", err, "documentID", docID)
		writeStoreError(w)
		return
	}
	if res.Outcome != models.OutcomeOK {
		writeJSONResponse(w, statusForOutcome(res.Outcome), models.ErrorWithResult(res.Message, res))
		return
	}

	slog.Info("Server.resumeHandler: document resumed", "documentID", docID)
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage(res.Message, res))
}

// userDocumentsHandler handles GET /users/{id}/documents.
func (s *Server) userDocumentsHandler(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/users/")
	segments := strings.Split(path, "/")
	if len(segments) != 2 || segments[0] == "" || segments[1] != "documents" {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Unknown user endpoint"))
		return
	}
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	userID := segments[0]
	slog.Debug("Server.userDocumentsHandler: listing documents", "userID", userID)

	docs, err := s.st.ListUserDocuments(userID)
	if err != nil {
		slog.Error("Server.userDocumentsHandler: failed to list documents", "error", err, "userID", userID)
		writeStoreError(w)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(docs))
}

// listTemplatesHandler handles GET /templates. Inactive templates are
// included only when ?all=true is given.
func (s *Server) listTemplatesHandler(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	activeOnly := r.URL.Query().Get("all") != "true"
	slog.Debug("Server.listTemplatesHandler: listing templates", "activeOnly", activeOnly)

	templates, err := s.st.ListTemplates(activeOnly)
	if err != nil {
		slog.Error("Server.listTemplatesHandler: failed to list templates", "error", err)
		writeStoreError(w)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(templates))
}

// getTemplateHandler handles GET /templates/{id}, returning the template
// together with its ordered clauses.
func (s *Server) getTemplateHandler(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	templateID := strings.TrimPrefix(r.URL.Path, "/templates/")
	if templateID == "" || strings.Contains(templateID, "/") {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Unknown template endpoint"))
		return
	}
	slog.Debug("Server.getTemplateHandler: retrieving template", "templateID", templateID)

	tmpl, err := s.st.GetTemplate(templateID)
	if err != nil {
		slog.Error("Server.getTemplateHandler: failed to get template", "error", err, "templateID", templateID)
		writeStoreError(w)
		return
	}
	if tmpl == nil {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Template not found"))
		return
	}
	clauses, err := s.st.GetTemplateClauses(templateID)
	if err != nil {
		slog.Error("Server.getTemplateHandler: failed to get clauses", "error", err, "templateID", templateID)
		writeStoreError(w)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(map[string]interface{}{
		"template": tmpl,
		"clauses":  clauses,
	}))
}

// healthHandler handles GET /health. The store is probed with a template
// listing; a failure reports degraded with 503 so load balancers rotate the
// instance out.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}

	healthData := map[string]interface{}{
		"status":    "healthy",
		"backend":   s.backend,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}

	templates, err := s.st.ListTemplates(false)
	if err != nil {
		slog.Warn("Server.healthHandler: store probe failed", "error", err)
		healthData["status"] = "degraded"
		healthData["error"] = "Store is unreachable"
	} else {
		healthData["templates"] = len(templates)
	}

	statusCode := http.StatusOK
	if healthData["status"] == "degraded" {
		statusCode = http.StatusServiceUnavailable
	}
	writeJSONResponse(w, statusCode, healthData)
}
