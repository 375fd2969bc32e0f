package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/dlegrain/EVAL-COSEP/internal/domain"
)

// LegalQuestion is the rubric for one legal free-text question.
type LegalQuestion struct {
	ID       string   `yaml:"id"`
	Title    string   `yaml:"title"`
	Expected []string `yaml:"expected"`
	Snippet  string   `yaml:"snippet"`
}

// LegalRubric is the grading reference for the legal exercise.
type LegalRubric struct {
	Context   string          `yaml:"context"`
	Questions []LegalQuestion `yaml:"questions"`
	Scale     []string        `yaml:"scale"`
}

// Question returns the rubric entry for id.
func (r LegalRubric) Question(id string) (LegalQuestion, bool) {
	for _, q := range r.Questions {
		if q.ID == id {
			return q, true
		}
	}
	return LegalQuestion{}, false
}

// Catalog is the read-only reference data loaded once at start-up.
type Catalog struct {
	References []domain.ReferenceEntry
	Legal      LegalRubric
}

// LoadCatalog reads the extraction reference and the legal rubric from YAML files.
func LoadCatalog(referencePath, rubricPath string) (*Catalog, error) {
	refData, err := readConfigFile(referencePath)
	if err != nil {
		return nil, fmt.Errorf("op=config.LoadCatalog: %w", err)
	}
	refs, err := ParseReferences(refData)
	if err != nil {
		return nil, fmt.Errorf("op=config.LoadCatalog: %s: %w", referencePath, err)
	}
	rubricData, err := readConfigFile(rubricPath)
	if err != nil {
		return nil, fmt.Errorf("op=config.LoadCatalog: %w", err)
	}
	rubric, err := ParseLegalRubric(rubricData)
	if err != nil {
		return nil, fmt.Errorf("op=config.LoadCatalog: %s: %w", rubricPath, err)
	}
	return &Catalog{References: refs, Legal: rubric}, nil
}

func readConfigFile(filePath string) ([]byte, error) {
	absPath, err := filepath.Abs(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to get absolute path: %w", err)
	}
	// #nosec G304 -- Configuration files are expected to be safe
	content, err := os.ReadFile(absPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", absPath)
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return content, nil
}

// ParseReferences decodes an ordered reference mapping. Each key is a section
// label; its value is either the expected text or a mapping holding "value"
// plus any number of extra expected sub-fields. Document order is preserved.
func ParseReferences(data []byte) ([]domain.ReferenceEntry, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if len(doc.Content) == 0 {
		return nil, fmt.Errorf("reference file is empty")
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("reference root must be a mapping, got %s", kindName(root.Kind))
	}
	out := make([]domain.ReferenceEntry, 0, len(root.Content)/2)
	seen := make(map[string]struct{}, len(root.Content)/2)
	for i := 0; i+1 < len(root.Content); i += 2 {
		section := strings.TrimSpace(root.Content[i].Value)
		if section == "" {
			return nil, fmt.Errorf("line %d: empty section label", root.Content[i].Line)
		}
		if _, dup := seen[section]; dup {
			return nil, fmt.Errorf("line %d: duplicate section %q", root.Content[i].Line, section)
		}
		seen[section] = struct{}{}
		entry, err := parseReferenceValue(section, root.Content[i+1])
		if err != nil {
			return nil, err
		}
		out = append(out, entry)
	}
	return out, nil
}

func parseReferenceValue(section string, n *yaml.Node) (domain.ReferenceEntry, error) {
	entry := domain.ReferenceEntry{Section: section}
	switch n.Kind {
	case yaml.ScalarNode:
		if n.Tag != "!!null" {
			entry.Expected = n.Value
		}
	case yaml.MappingNode:
		for j := 0; j+1 < len(n.Content); j += 2 {
			k, v := n.Content[j], n.Content[j+1]
			if v.Kind != yaml.ScalarNode {
				return entry, fmt.Errorf("line %d: %s.%s must be a scalar", v.Line, section, k.Value)
			}
			val := v.Value
			if v.Tag == "!!null" {
				val = ""
			}
			if k.Value == "value" {
				entry.Expected = val
				continue
			}
			entry.Extras = append(entry.Extras, domain.Extra{Key: k.Value, Value: val})
		}
	default:
		return entry, fmt.Errorf("line %d: section %q must be a string or a mapping", n.Line, section)
	}
	return entry, nil
}

// EncodeReferences renders entries in the format read by ParseReferences.
func EncodeReferences(entries []domain.ReferenceEntry) ([]byte, error) {
	root := &yaml.Node{Kind: yaml.MappingNode}
	for _, e := range entries {
		key := &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: e.Section}
		if len(e.Extras) == 0 {
			root.Content = append(root.Content, key, strNode(e.Expected))
			continue
		}
		m := &yaml.Node{Kind: yaml.MappingNode}
		m.Content = append(m.Content, strNode("value"), strNode(e.Expected))
		for _, x := range e.Extras {
			m.Content = append(m.Content, strNode(x.Key), strNode(x.Value))
		}
		root.Content = append(root.Content, key, m)
	}
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(&yaml.Node{Kind: yaml.DocumentNode, Content: []*yaml.Node{root}}); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func strNode(v string) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: v}
}

func kindName(k yaml.Kind) string {
	switch k {
	case yaml.SequenceNode:
		return "sequence"
	case yaml.ScalarNode:
		return "scalar"
	case yaml.AliasNode:
		return "alias"
	default:
		return "node"
	}
}

// ParseLegalRubric decodes the legal rubric and checks that Q1..Q3 are present.
func ParseLegalRubric(data []byte) (LegalRubric, error) {
	var r LegalRubric
	if err := yaml.Unmarshal(data, &r); err != nil {
		return LegalRubric{}, fmt.Errorf("failed to parse YAML: %w", err)
	}
	for _, id := range domain.LegalQuestions {
		if _, ok := r.Question(id); !ok {
			return LegalRubric{}, fmt.Errorf("legal rubric is missing question %s", id)
		}
	}
	return r, nil
}
