package vocab

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// Type is one registered relationship type. Name is uppercase snake case;
// synonyms normalize to the same name. Category lives here, not on edges.
type Type struct {
	Name     string   `yaml:"name" json:"name"`
	Category string   `yaml:"category,omitempty" json:"category,omitempty"`
	Synonyms []string `yaml:"synonyms,omitempty" json:"synonyms,omitempty"`
}

// Snapshot is an immutable view of the registered vocabulary. The
// normalization cascade is a pure function over it.
type Snapshot struct {
	Types []Type
}

type seedFile struct {
	Types []Type `yaml:"types"`
}

// LoadFile reads a YAML vocabulary seed.
func LoadFile(path string) (Snapshot, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Snapshot{}, fmt.Errorf("vocab seed read: %w", err)
	}
	var f seedFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return Snapshot{}, fmt.Errorf("vocab seed parse: %w", err)
	}
	snap := Snapshot{Types: f.Types}
	for i := range snap.Types {
		snap.Types[i].Name = Canonicalize(snap.Types[i].Name)
		for j := range snap.Types[i].Synonyms {
			snap.Types[i].Synonyms[j] = Canonicalize(snap.Types[i].Synonyms[j])
		}
	}
	return snap, nil
}

// Default is the built-in vocabulary used when no seed file is configured.
func Default() Snapshot {
	return Snapshot{Types: []Type{
		{Name: "IMPLIES", Category: "logical", Synonyms: []string{"ENTAILS"}},
		{Name: "SUPPORTS", Category: "epistemic", Synonyms: []string{"CORROBORATES"}},
		{Name: "CONTRADICTS", Category: "epistemic", Synonyms: []string{"REFUTES"}},
		{Name: "RELATES_TO", Category: "associative", Synonyms: []string{"ASSOCIATED_WITH"}},
		{Name: "PART_OF", Category: "structural", Synonyms: []string{"COMPONENT_OF"}},
		{Name: "CAUSES", Category: "causal", Synonyms: []string{"LEADS_TO"}},
		{Name: "CONTRASTS_WITH", Category: "associative"},
	}}
}

func (s Snapshot) Names() []string {
	out := make([]string, 0, len(s.Types))
	for _, t := range s.Types {
		out = append(out, t.Name)
	}
	return out
}

func (s Snapshot) Lookup(name string) (Type, bool) {
	name = Canonicalize(name)
	for _, t := range s.Types {
		if t.Name == name {
			return t, true
		}
	}
	return Type{}, false
}

var nonTypeChars = regexp.MustCompile(`[^A-Z0-9_]+`)

// Canonicalize maps an extracted type string into uppercase snake case.
func Canonicalize(raw string) string {
	up := strings.ToUpper(strings.TrimSpace(raw))
	up = strings.NewReplacer(" ", "_", "-", "_").Replace(up)
	up = nonTypeChars.ReplaceAllString(up, "")
	up = strings.Trim(up, "_")
	for strings.Contains(up, "__") {
		up = strings.ReplaceAll(up, "__", "_")
	}
	return up
}
