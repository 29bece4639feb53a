// Package catalog loads document templates from YAML definition files and
// seeds them into the store at startup. Template files are authored by legal
// staff, so every validation failure names the offending file and clause.
package catalog

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/LexForge/ClauseFlow/internal/models"
	"github.com/LexForge/ClauseFlow/internal/store"
)

// LoadedTemplate pairs a parsed template with its ordered clause set and the
// file it came from.
type LoadedTemplate struct {
	Template models.Template
	Clauses  []models.Clause
	Source   string
}

// templateFile is the YAML document shape for one template definition.
type templateFile struct {
	ID          string       `yaml:"id"`
	Name        string       `yaml:"name"`
	Description string       `yaml:"description"`
	Active      *bool        `yaml:"active"`
	Clauses     []clauseFile `yaml:"clauses"`
}

type clauseFile struct {
	Order           int                               `yaml:"order"`
	Section         string                            `yaml:"section"`
	Kind            string                            `yaml:"kind"`
	Prompt          string                            `yaml:"prompt"`
	ContentTemplate string                            `yaml:"content_template"`
	Suggestions     []models.LabeledText              `yaml:"suggestions"`
	Alternatives    []models.LabeledText              `yaml:"alternatives"`
	Rules           []models.ValidationRule           `yaml:"rules"`
	Placeholders    map[string]models.PlaceholderSpec `yaml:"placeholders"`
}

// LoadDir parses every .yaml/.yml file in dir. Subdirectories and other file
// types are ignored. The first invalid file aborts the load so a bad catalog
// never half-seeds.
func LoadDir(dir string) ([]LoadedTemplate, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read template directory: %w", err)
	}

	var templates []LoadedTemplate
	seenIDs := make(map[string]string)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		loaded, err := LoadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, err
		}
		if prev, dup := seenIDs[loaded.Template.ID]; dup {
			return nil, fmt.Errorf("%s: template %q already defined in %s", entry.Name(), loaded.Template.ID, prev)
		}
		seenIDs[loaded.Template.ID] = entry.Name()
		templates = append(templates, *loaded)
	}

	slog.Debug("catalog.LoadDir: templates parsed", "dir", dir, "count", len(templates))
	return templates, nil
}

// LoadFile parses and validates a single template definition file.
func LoadFile(path string) (*LoadedTemplate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read template file: %w", err)
	}

	var file templateFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("%s: invalid YAML: %w", filepath.Base(path), err)
	}

	loaded, err := buildTemplate(file)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	loaded.Source = filepath.Base(path)
	return loaded, nil
}

func buildTemplate(file templateFile) (*LoadedTemplate, error) {
	if file.ID == "" {
		return nil, fmt.Errorf("template id is required")
	}
	if file.Name == "" {
		return nil, fmt.Errorf("template %q: name is required", file.ID)
	}
	if len(file.Clauses) == 0 {
		return nil, fmt.Errorf("template %q: at least one clause is required", file.ID)
	}

	active := true
	if file.Active != nil {
		active = *file.Active
	}

	seenOrders := make(map[int]string)
	seenSections := make(map[string]bool)
	clauses := make([]models.Clause, 0, len(file.Clauses))
	for i := range file.Clauses {
		cf := &file.Clauses[i]
		if cf.Section == "" {
			return nil, fmt.Errorf("clause %d: section is required", i+1)
		}
		if cf.Order <= 0 {
			return nil, fmt.Errorf("clause %q: order must be a positive integer, got %d", cf.Section, cf.Order)
		}
		if cf.Prompt == "" {
			return nil, fmt.Errorf("clause %q: prompt is required", cf.Section)
		}
		if other, dup := seenOrders[cf.Order]; dup {
			return nil, fmt.Errorf("clause %q: order %d already used by %q", cf.Section, cf.Order, other)
		}
		seenOrders[cf.Order] = cf.Section
		if seenSections[cf.Section] {
			return nil, fmt.Errorf("clause %q: duplicate section name", cf.Section)
		}
		seenSections[cf.Section] = true

		kind := models.ClauseKind(cf.Kind)
		if cf.Kind == "" {
			kind = models.ClauseKindMandatory
		}
		if !models.IsValidClauseKind(kind) {
			return nil, fmt.Errorf("clause %q: invalid kind %q", cf.Section, cf.Kind)
		}
		if err := models.CompileRules(cf.Rules); err != nil {
			return nil, fmt.Errorf("clause %q: %w", cf.Section, err)
		}

		clauses = append(clauses, models.Clause{
			ID:               fmt.Sprintf("%s_c%02d", file.ID, cf.Order),
			TemplateID:       file.ID,
			OrderNum:         cf.Order,
			SectionName:      cf.Section,
			Kind:             kind,
			SystemPrompt:     cf.Prompt,
			ContentTemplate:  cf.ContentTemplate,
			Suggestions:      cf.Suggestions,
			TypeAlternatives: cf.Alternatives,
			Rules:            cf.Rules,
			Placeholders:     cf.Placeholders,
		})
	}

	sort.Slice(clauses, func(i, j int) bool { return clauses[i].OrderNum < clauses[j].OrderNum })

	return &LoadedTemplate{
		Template: models.Template{
			ID:          file.ID,
			Name:        file.Name,
			Description: file.Description,
			Active:      active,
		},
		Clauses: clauses,
	}, nil
}

// Seed upserts the loaded templates into the store and returns how many were
// written. A template with in-progress documents is skipped so active
// traversals keep the clause set they started with; store failures abort the
// seed immediately.
func Seed(st store.Store, templates []LoadedTemplate) (int, error) {
	seeded := 0
	for i := range templates {
		lt := &templates[i]

		busy, err := st.HasActiveDocumentsForTemplate(lt.Template.ID)
		if err != nil {
			return seeded, fmt.Errorf("failed to check documents for template %s: %w", lt.Template.ID, err)
		}
		if busy {
			slog.Warn("catalog.Seed: template has in-progress documents, skipping",
				"templateID", lt.Template.ID, "source", lt.Source)
			continue
		}

		now := time.Now()
		tmpl := lt.Template
		tmpl.CreatedAt = now
		tmpl.UpdatedAt = now
		clauses := make([]models.Clause, len(lt.Clauses))
		copy(clauses, lt.Clauses)
		for j := range clauses {
			clauses[j].CreatedAt = now
			clauses[j].UpdatedAt = now
		}

		if err := st.SaveTemplate(tmpl, clauses); err != nil {
			return seeded, fmt.Errorf("failed to seed template %s: %w", tmpl.ID, err)
		}
		seeded++
		slog.Info("catalog.Seed: template seeded",
			"templateID", tmpl.ID, "clauses", len(clauses), "source", lt.Source)
	}
	return seeded, nil
}
