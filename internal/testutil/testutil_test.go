package testutil

import (
	"fmt"
	"net/http/httptest"
	"testing"

	"github.com/LexForge/ClauseFlow/internal/models"
	"github.com/LexForge/ClauseFlow/internal/store"
)

func TestSeedNDATemplate(t *testing.T) {
	st := store.NewInMemoryStore()
	defer st.Close()

	SeedNDATemplate(t, st)

	tmpl, err := st.GetTemplate("nda_a")
	if err != nil || tmpl == nil {
		t.Fatalf("template not seeded: %v", err)
	}
	clauses, err := st.GetTemplateClauses("nda_a")
	if err != nil {
		t.Fatalf("failed to get clauses: %v", err)
	}
	if len(clauses) != 2 {
		t.Fatalf("expected 2 clauses, got %d", len(clauses))
	}
	// Rules arrive compiled and ready for validation.
	if clauses[1].Rules[0].Kind != models.RuleMinLength {
		t.Errorf("unexpected rule: %+v", clauses[1].Rules[0])
	}
}

func TestAssertHTTPStatus(t *testing.T) {
	tests := []struct {
		name       string
		expected   int
		actual     int
		shouldFail bool
	}{
		{name: "matching status codes", expected: 200, actual: 200, shouldFail: false},
		{name: "different status codes", expected: 200, actual: 404, shouldFail: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockT := &mockTestingT{}

			AssertHTTPStatus(mockT, tt.expected, tt.actual, "test context")

			if tt.shouldFail && !mockT.failed {
				t.Error("Expected test to fail but it passed")
			}
			if !tt.shouldFail && mockT.failed {
				t.Error("Expected test to pass but it failed")
			}
		})
	}
}

func TestAssertJSONResponse(t *testing.T) {
	tests := []struct {
		name           string
		jsonBody       string
		expectedStatus string
		shouldFail     bool
	}{
		{
			name:           "valid JSON with matching status",
			jsonBody:       `{"status":"ok","result":"test"}`,
			expectedStatus: "ok",
			shouldFail:     false,
		},
		{
			name:           "valid JSON with different status",
			jsonBody:       `{"status":"error","result":"test"}`,
			expectedStatus: "ok",
			shouldFail:     true,
		},
		{
			name:           "invalid JSON",
			jsonBody:       `{"status":}`,
			expectedStatus: "ok",
			shouldFail:     true,
		},
		{
			name:           "missing status field",
			jsonBody:       `{"result":"test"}`,
			expectedStatus: "ok",
			shouldFail:     true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockT := &mockTestingT{}
			rr := httptest.NewRecorder()
			rr.Body.WriteString(tt.jsonBody)

			// Fatalf on the mock panics to stop the helper like a real Fatal.
			defer func() {
				if r := recover(); r != nil && !tt.shouldFail {
					t.Errorf("Unexpected panic: %v", r)
				}
			}()

			response := AssertJSONResponse(mockT, rr, tt.expectedStatus)

			if tt.shouldFail && !mockT.failed {
				t.Error("Expected test to fail but it passed")
			}
			if !tt.shouldFail && mockT.failed {
				t.Errorf("Expected test to pass but it failed: %s", mockT.errorMsg)
			}
			if !tt.shouldFail && response == nil {
				t.Error("Expected response map to be returned")
			}
		})
	}
}

func TestCreateHTTPRequest(t *testing.T) {
	tests := []struct {
		name   string
		method string
		url    string
		body   interface{}
	}{
		{name: "GET request with no body", method: "GET", url: "/templates", body: nil},
		{name: "POST request with map body", method: "POST", url: "/documents/start", body: map[string]string{"user_id": "user_1"}},
		{
			name:   "POST request with struct body",
			method: "POST",
			url:    "/documents/start",
			body:   models.StartDocumentRequest{UserID: "user_1", TemplateID: "nda_a"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := CreateHTTPRequest(t, tt.method, tt.url, tt.body)

			if req == nil {
				t.Fatal("Expected request to be created, got nil")
			}
			if req.Method != tt.method {
				t.Errorf("Expected method %s, got %s", tt.method, req.Method)
			}
			if req.URL.Path != tt.url {
				t.Errorf("Expected URL %s, got %s", tt.url, req.URL.Path)
			}
		})
	}
}

func TestCreateJSONRequest(t *testing.T) {
	req := CreateJSONRequest(t, "POST", "/chat", `{"user_id":"user_1","message":"hi"}`)

	if req.Method != "POST" || req.URL.Path != "/chat" {
		t.Errorf("unexpected request: %s %s", req.Method, req.URL.Path)
	}
	if ct := req.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("expected application/json, got %q", ct)
	}
}

func TestAssertDocumentCount(t *testing.T) {
	st := store.NewInMemoryStore()
	defer st.Close()

	mockT := &mockTestingT{}
	AssertDocumentCount(mockT, st, "user_1", 0, "empty store")
	if mockT.failed {
		t.Errorf("Expected test to pass for empty store, but got: %s", mockT.errorMsg)
	}

	doc := models.Document{
		ID: "doc_1", UserID: "user_1", TemplateID: "nda_a",
		Status: models.DocumentStatusInProgress, Content: map[string]string{},
	}
	if err := st.CreateDocument(doc); err != nil {
		t.Fatalf("Failed to create document: %v", err)
	}

	mockT = &mockTestingT{}
	AssertDocumentCount(mockT, st, "user_1", 1, "one document")
	if mockT.failed {
		t.Errorf("Expected test to pass for one document, but got: %s", mockT.errorMsg)
	}

	mockT = &mockTestingT{}
	AssertDocumentCount(mockT, st, "user_1", 2, "wrong count")
	if !mockT.failed {
		t.Error("Expected test to fail for wrong count")
	}
}

func TestMustMarshalJSON(t *testing.T) {
	result := MustMarshalJSON(t, map[string]interface{}{"key1": "value1", "key2": 123})
	if len(result) == 0 {
		t.Error("Expected non-empty JSON data")
	}
}

func TestMustUnmarshalJSON(t *testing.T) {
	var target map[string]interface{}

	MustUnmarshalJSON(t, []byte(`{"key":"value","number":123}`), &target)

	if target["key"] != "value" {
		t.Errorf("Expected key to be 'value', got %v", target["key"])
	}
	if target["number"].(float64) != 123 {
		t.Errorf("Expected number to be 123, got %v", target["number"])
	}
}

// mockTestingT implements TestingT for testing our test helpers.
type mockTestingT struct {
	failed   bool
	errorMsg string
	helper   bool
}

func (m *mockTestingT) Helper() {
	m.helper = true
}

func (m *mockTestingT) Errorf(format string, args ...interface{}) {
	m.failed = true
	m.errorMsg = fmt.Sprintf(format, args...)
}

func (m *mockTestingT) Error(args ...interface{}) {
	m.failed = true
	if len(args) > 0 {
		m.errorMsg = fmt.Sprintf("%v", args[0])
	}
}

func (m *mockTestingT) Fatalf(format string, args ...interface{}) {
	m.failed = true
	m.errorMsg = fmt.Sprintf(format, args...)
	panic("test failed")
}

func (m *mockTestingT) Fatal(args ...interface{}) {
	m.failed = true
	if len(args) > 0 {
		m.errorMsg = fmt.Sprintf("%v", args[0])
	}
	panic("test failed")
}
