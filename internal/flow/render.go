// Package flow provides the prompt, preview, and final document renderers.
package flow

import (
	"fmt"
	"strings"

	"github.com/LexForge/ClauseFlow/internal/models"
)

// Markers emitted by the live preview for sections without stored content.
const (
	markerInProgress = "in progress"
	markerPending    = "pending"
)

// RenderClausePrompt renders the user-facing prompt for one clause at the
// given 1-based position out of total. Deterministic: identical inputs
// produce byte-identical output.
func RenderClausePrompt(clause models.Clause, position, total int) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Clause %d/%d: %s\n", position, total, clause.SectionName)
	if clause.Kind == models.ClauseKindOptional {
		b.WriteString("Type: Optional\n")
		b.WriteString("This clause is optional. Would you like to include it? (yes/no)\n")
	} else {
		b.WriteString("Type: Mandatory\n")
	}

	b.WriteString("\n")
	b.WriteString(clause.SystemPrompt)
	b.WriteString("\n")

	if len(clause.Suggestions) > 0 {
		b.WriteString("\nSuggestions:\n")
		for _, s := range clause.Suggestions {
			fmt.Fprintf(&b, "- %s: %s\n", s.Label, s.Text)
		}
	}
	if len(clause.TypeAlternatives) > 0 {
		b.WriteString("\nAlternative options:\n")
		for _, a := range clause.TypeAlternatives {
			fmt.Fprintf(&b, "- %s: %s\n", a.Label, a.Text)
		}
	}

	return b.String()
}

// RenderPreview renders the live document preview: every clause appears in
// order_num order with its stored content, the "in progress" marker when it
// sits under the cursor, or the "pending" marker when not yet reached.
func RenderPreview(tmpl models.Template, clauses []models.Clause, doc models.Document) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n", tmpl.Name)
	for _, c := range clauses {
		fmt.Fprintf(&b, "\n## %s\n", c.SectionName)
		switch text, ok := doc.Content[c.SectionName]; {
		case ok:
			b.WriteString(text)
			b.WriteString("\n")
		case c.OrderNum == doc.CurrentClauseOrder:
			b.WriteString(markerInProgress)
			b.WriteString("\n")
		default:
			b.WriteString(markerPending)
			b.WriteString("\n")
		}
	}
	return b.String()
}

// RenderFinal renders the completed document: only sections with stored
// content appear, in clause order. Skipped optional clauses are omitted.
func RenderFinal(tmpl models.Template, clauses []models.Clause, content map[string]string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n", tmpl.Name)
	for _, c := range clauses {
		text, ok := content[c.SectionName]
		if !ok {
			continue
		}
		fmt.Fprintf(&b, "\n## %s\n%s\n", c.SectionName, text)
	}
	return b.String()
}
