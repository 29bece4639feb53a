package util

import (
	"strings"
	"testing"
)

func TestGenerateRandomID(t *testing.T) {
	tests := []struct {
		name       string
		prefix     string
		hexLength  int
		wantPrefix string
		wantLength int // expected total length: prefix + hexLength
	}{
		{
			name:       "document ID format",
			prefix:     "doc_",
			hexLength:  32,
			wantPrefix: "doc_",
			wantLength: 36, // 4 + 32
		},
		{
			name:       "clause ID format",
			prefix:     "cl_",
			hexLength:  32,
			wantPrefix: "cl_",
			wantLength: 35, // 3 + 32
		},
		{
			name:       "custom prefix",
			prefix:     "test_",
			hexLength:  16,
			wantPrefix: "test_",
			wantLength: 21, // 5 + 16
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := GenerateRandomID(tt.prefix, tt.hexLength)

			if !strings.HasPrefix(got, tt.wantPrefix) {
				t.Errorf("GenerateRandomID() = %v, want prefix %v", got, tt.wantPrefix)
			}

			if len(got) != tt.wantLength {
				t.Errorf("GenerateRandomID() length = %v, want %v", len(got), tt.wantLength)
			}

			// Check that the hex part is valid
			hexPart := got[len(tt.wantPrefix):]
			if !isValidHex(hexPart) {
				t.Errorf("GenerateRandomID() hex part = %v is not valid hex", hexPart)
			}
		})
	}
}

func TestGenerateRandomHex(t *testing.T) {
	tests := []struct {
		name   string
		length int
		want   int
	}{
		{"zero length", 0, 0},
		{"negative length", -1, 0},
		{"small length", 8, 8},
		{"medium length", 16, 16},
		{"large length", 64, 64},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := GenerateRandomHex(tt.length)

			if len(got) != tt.want {
				t.Errorf("GenerateRandomHex() length = %v, want %v", len(got), tt.want)
			}

			if tt.want > 0 && !isValidHex(got) {
				t.Errorf("GenerateRandomHex() = %v is not valid hex", got)
			}
		})
	}
}

func TestGenerateRandomAlphaNumeric(t *testing.T) {
	tests := []struct {
		name   string
		length int
		want   int
	}{
		{"zero length", 0, 0},
		{"negative length", -1, 0},
		{"small length", 8, 8},
		{"medium length", 16, 16},
		{"large length", 64, 64},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := GenerateRandomAlphaNumeric(tt.length)

			if len(got) != tt.want {
				t.Errorf("GenerateRandomAlphaNumeric() length = %v, want %v", len(got), tt.want)
			}

			if tt.want > 0 && !isValidAlphaNumeric(got) {
				t.Errorf("GenerateRandomAlphaNumeric() = %v is not valid alphanumeric", got)
			}
		})
	}
}

func TestGenerateDocumentID(t *testing.T) {
	got := GenerateDocumentID()

	if !strings.HasPrefix(got, "doc_") {
		t.Errorf("GenerateDocumentID() = %v, want prefix doc_", got)
	}

	if len(got) != 36 { // "doc_" + 32 hex chars
		t.Errorf("GenerateDocumentID() length = %v, want 36", len(got))
	}

	hexPart := got[4:] // Remove "doc_" prefix
	if !isValidHex(hexPart) {
		t.Errorf("GenerateDocumentID() hex part = %v is not valid hex", hexPart)
	}
}

func TestGenerateClauseID(t *testing.T) {
	got := GenerateClauseID()

	if !strings.HasPrefix(got, "cl_") {
		t.Errorf("GenerateClauseID() = %v, want prefix cl_", got)
	}

	if len(got) != 35 { // "cl_" + 32 hex chars
		t.Errorf("GenerateClauseID() length = %v, want 35", len(got))
	}
}

func TestGenerateNotificationID(t *testing.T) {
	got := GenerateNotificationID()

	if !strings.HasPrefix(got, "ntf_") {
		t.Errorf("GenerateNotificationID() = %v, want prefix ntf_", got)
	}

	if len(got) != 36 { // "ntf_" + 32 hex chars
		t.Errorf("GenerateNotificationID() length = %v, want 36", len(got))
	}
}

func TestRandomIDUniqueness(t *testing.T) {
	const iterations = 1000
	seen := make(map[string]bool)

	for i := 0; i < iterations; i++ {
		id := GenerateRandomID("test_", 16)
		if seen[id] {
			t.Errorf("GenerateRandomID() generated duplicate: %v", id)
		}
		seen[id] = true
	}
}

func TestRandomHexUniqueness(t *testing.T) {
	const iterations = 1000
	seen := make(map[string]bool)

	for i := 0; i < iterations; i++ {
		hex := GenerateRandomHex(16)
		if seen[hex] {
			t.Errorf("GenerateRandomHex() generated duplicate: %v", hex)
		}
		seen[hex] = true
	}
}

// Helper function to validate hex strings
func isValidHex(s string) bool {
	for _, c := range s {
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')) {
			return false
		}
	}
	return true
}

// Helper function to validate alphanumeric strings
func isValidAlphaNumeric(s string) bool {
	for _, c := range s {
		if !((c >= '0' && c <= '9') || (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z')) {
			return false
		}
	}
	return true
}
