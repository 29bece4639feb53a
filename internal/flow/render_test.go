package flow

import (
	"strings"
	"testing"

	"github.com/LexForge/ClauseFlow/internal/models"
)

func TestRenderClausePrompt_Mandatory(t *testing.T) {
	clause := models.Clause{
		SectionName:  "Parties",
		Kind:         models.ClauseKindMandatory,
		SystemPrompt: "Name the disclosing and receiving parties.",
	}
	out := RenderClausePrompt(clause, 1, 4)

	if !strings.HasPrefix(out, "Clause 1/4: Parties\n") {
		t.Errorf("missing position line; got %q", out)
	}
	if !strings.Contains(out, "Type: Mandatory\n") {
		t.Errorf("missing kind marker; got %q", out)
	}
	if strings.Contains(out, "This clause is optional") {
		t.Errorf("mandatory prompt must not carry the inclusion question; got %q", out)
	}
	if !strings.Contains(out, "Name the disclosing and receiving parties.") {
		t.Errorf("missing system prompt; got %q", out)
	}
	if strings.Contains(out, "Suggestions:") || strings.Contains(out, "Alternative options:") {
		t.Errorf("empty lists must not render headers; got %q", out)
	}
}

func TestRenderClausePrompt_OptionalWithLists(t *testing.T) {
	clause := models.Clause{
		SectionName:  "Term",
		Kind:         models.ClauseKindOptional,
		SystemPrompt: "How long should confidentiality obligations last?",
		Suggestions: []models.LabeledText{
			{Label: "Standard", Text: "Two years from disclosure"},
			{Label: "Extended", Text: "Five years from disclosure"},
		},
		TypeAlternatives: []models.LabeledText{
			{Label: "Perpetual", Text: "Obligations survive indefinitely"},
		},
	}
	out := RenderClausePrompt(clause, 3, 5)

	if !strings.HasPrefix(out, "Clause 3/5: Term\n") {
		t.Errorf("missing position line; got %q", out)
	}
	if !strings.Contains(out, "Type: Optional\nThis clause is optional. Would you like to include it? (yes/no)\n") {
		t.Errorf("optional marker and inclusion question missing or out of order; got %q", out)
	}
	// Inclusion question must precede the prompt body.
	if strings.Index(out, "Would you like to include it?") > strings.Index(out, "How long should") {
		t.Errorf("inclusion question must come before the prompt body; got %q", out)
	}
	if !strings.Contains(out, "Suggestions:\n- Standard: Two years from disclosure\n- Extended: Five years from disclosure\n") {
		t.Errorf("suggestions not rendered in order; got %q", out)
	}
	if !strings.Contains(out, "Alternative options:\n- Perpetual: Obligations survive indefinitely\n") {
		t.Errorf("alternatives not rendered; got %q", out)
	}
}

func TestRenderPreview_Markers(t *testing.T) {
	tmpl := models.Template{Name: "Mutual NDA"}
	clauses := []models.Clause{
		{OrderNum: 1, SectionName: "Parties"},
		{OrderNum: 2, SectionName: "Definition"},
		{OrderNum: 3, SectionName: "Term"},
	}
	doc := models.Document{
		Content:            map[string]string{"Parties": "Acme Corp and Beta LLC"},
		CurrentClauseOrder: 2,
	}

	out := RenderPreview(tmpl, clauses, doc)
	want := "# Mutual NDA\n" +
		"\n## Parties\nAcme Corp and Beta LLC\n" +
		"\n## Definition\nin progress\n" +
		"\n## Term\npending\n"
	if out != want {
		t.Errorf("preview mismatch:\ngot:\n%q\nwant:\n%q", out, want)
	}
}

func TestRenderPreview_Deterministic(t *testing.T) {
	tmpl := models.Template{Name: "Mutual NDA"}
	clauses := []models.Clause{
		{OrderNum: 1, SectionName: "Parties"},
		{OrderNum: 2, SectionName: "Term"},
	}
	doc := models.Document{
		Content:            map[string]string{"Parties": "Acme Corp and Beta LLC", "Term": "Two years"},
		CurrentClauseOrder: 3,
	}

	first := RenderPreview(tmpl, clauses, doc)
	for i := 0; i < 10; i++ {
		if got := RenderPreview(tmpl, clauses, doc); got != first {
			t.Fatalf("render not deterministic on call %d:\n%q\nvs\n%q", i, got, first)
		}
	}
}

func TestRenderFinal_OmitsSkippedSections(t *testing.T) {
	tmpl := models.Template{Name: "Mutual NDA"}
	clauses := []models.Clause{
		{OrderNum: 1, SectionName: "Parties"},
		{OrderNum: 2, SectionName: "NonCompete"},
		{OrderNum: 3, SectionName: "Term"},
	}
	content := map[string]string{
		"Parties": "Acme Corp and Beta LLC",
		"Term":    "Two years from the effective date",
	}

	out := RenderFinal(tmpl, clauses, content)
	want := "# Mutual NDA\n" +
		"\n## Parties\nAcme Corp and Beta LLC\n" +
		"\n## Term\nTwo years from the effective date\n"
	if out != want {
		t.Errorf("final render mismatch:\ngot:\n%q\nwant:\n%q", out, want)
	}
	if strings.Contains(out, "NonCompete") {
		t.Errorf("skipped section must be omitted; got %q", out)
	}
}

func TestRenderFinal_ClauseOrderNotInsertionOrder(t *testing.T) {
	tmpl := models.Template{Name: "Mutual NDA"}
	clauses := []models.Clause{
		{OrderNum: 1, SectionName: "Parties"},
		{OrderNum: 2, SectionName: "Term"},
	}
	// Content map order is irrelevant; the render follows clause order.
	content := map[string]string{
		"Term":    "Two years",
		"Parties": "Acme Corp and Beta LLC",
	}

	out := RenderFinal(tmpl, clauses, content)
	if strings.Index(out, "## Parties") > strings.Index(out, "## Term") {
		t.Errorf("sections must follow clause order; got %q", out)
	}
}
