// Package testutil provides common test utilities and helpers for ClauseFlow tests.
package testutil

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"

	"github.com/LexForge/ClauseFlow/internal/models"
	"github.com/LexForge/ClauseFlow/internal/store"
)

// TestingT is the subset of testing.T the helpers need. Tests of the helpers
// themselves substitute a mock to observe failures.
type TestingT interface {
	Helper()
	Error(args ...interface{})
	Errorf(format string, args ...interface{})
	Fatal(args ...interface{})
	Fatalf(format string, args ...interface{})
}

// SeedTemplate compiles every clause's validation rules and saves the
// template, failing the test on any error.
func SeedTemplate(t TestingT, st store.Store, tmpl models.Template, clauses []models.Clause) {
	t.Helper()
	for i := range clauses {
		if err := models.CompileRules(clauses[i].Rules); err != nil {
			t.Fatalf("failed to compile rules for clause %s: %v", clauses[i].SectionName, err)
		}
	}
	if err := st.SaveTemplate(tmpl, clauses); err != nil {
		t.Fatalf("failed to save template %s: %v", tmpl.ID, err)
	}
}

// SeedNDATemplate installs the standard two-clause fixture: a mandatory
// Parties clause and an optional NonCompete clause requiring at least 20
// characters.
func SeedNDATemplate(t TestingT, st store.Store) {
	t.Helper()
	SeedTemplate(t, st,
		models.Template{ID: "nda_a", Name: "NDA-A", Active: true},
		[]models.Clause{
			{
				ID: "cl_parties", TemplateID: "nda_a", OrderNum: 1,
				SectionName: "Parties", Kind: models.ClauseKindMandatory,
				SystemPrompt: "Name the disclosing and receiving parties.",
			},
			{
				ID: "cl_noncompete", TemplateID: "nda_a", OrderNum: 2,
				SectionName: "NonCompete", Kind: models.ClauseKindOptional,
				SystemPrompt: "Describe the non-compete restrictions.",
				Rules:        []models.ValidationRule{{Kind: models.RuleMinLength, Min: 20}},
			},
		})
}

// AssertHTTPStatus checks the HTTP status code and fails the test if it doesn't match.
func AssertHTTPStatus(t TestingT, expected, actual int, context string) {
	t.Helper()
	if actual != expected {
		t.Errorf("%s: expected status %d, got %d", context, expected, actual)
	}
}

// AssertJSONResponse decodes JSON response and validates the status field.
func AssertJSONResponse(t TestingT, rr *httptest.ResponseRecorder, expectedStatus string) map[string]interface{} {
	t.Helper()
	var response map[string]interface{}
	if err := json.NewDecoder(rr.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode JSON response: %v", err)
	}

	if status, ok := response["status"].(string); ok {
		if status != expectedStatus {
			t.Errorf("expected status '%s', got '%s'", expectedStatus, status)
		}
	} else {
		t.Error("response missing or invalid 'status' field")
	}

	return response
}

// CreateHTTPRequest creates an HTTP request with optional JSON body for testing.
func CreateHTTPRequest(t TestingT, method, url string, body interface{}) *http.Request {
	t.Helper()
	var reqBody *bytes.Buffer
	if body != nil {
		reqBody = bytes.NewBuffer(MustMarshalJSON(t, body))
	} else {
		reqBody = bytes.NewBuffer(nil)
	}

	req, err := http.NewRequest(method, url, reqBody)
	if err != nil {
		t.Fatalf("failed to create HTTP request: %v", err)
	}
	return req
}

// CreateJSONRequest creates an HTTP request carrying a raw JSON string body,
// which may be deliberately malformed.
func CreateJSONRequest(t TestingT, method, url, jsonBody string) *http.Request {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(jsonBody))
	if err != nil {
		t.Fatalf("failed to create HTTP request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return req
}

// AssertDocumentCount validates the number of documents stored for a user.
func AssertDocumentCount(t TestingT, st store.Store, userID string, expected int, context string) {
	t.Helper()
	docs, err := st.ListUserDocuments(userID)
	if err != nil {
		t.Fatalf("%s: failed to list documents: %v", context, err)
	}
	if len(docs) != expected {
		t.Errorf("%s: expected %d documents, got %d", context, expected, len(docs))
	}
}

// MustMarshalJSON marshals an object to JSON and fails test on error.
func MustMarshalJSON(t TestingT, v interface{}) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("failed to marshal JSON: %v", err)
	}
	return data
}

// MustUnmarshalJSON unmarshals JSON data into target and fails test on error.
func MustUnmarshalJSON(t TestingT, data []byte, target interface{}) {
	t.Helper()
	if err := json.Unmarshal(data, target); err != nil {
		t.Fatalf("failed to unmarshal JSON: %v", err)
	}
}
