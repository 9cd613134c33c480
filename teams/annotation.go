package teams

import (
	"encoding/json"
	"strings"

	"github.com/ethereum-optimism/infra/op-summarizer/types"
)

// AnnotationKind discriminates the variants of an owner annotation
type AnnotationKind int

const (
	AnnotationAbsent AnnotationKind = iota
	AnnotationPlain
	AnnotationStructured
)

// Annotation is the parsed form of a test's owner annotation. Exactly one
// variant is populated, selected by Kind.
type Annotation struct {
	Kind   AnnotationKind
	Team   string   // AnnotationStructured
	Emails []string // AnnotationStructured
	Value  string   // AnnotationPlain
}

type structuredAnnotation struct {
	Team   string   `json:"team"`
	Name   string   `json:"name"`
	Emails []string `json:"emails"`
}

// ParseAnnotation parses an owner annotation that is either a JSON object
// ({"team": "...", "emails": [...]}) or a plain team name.
func ParseAnnotation(raw string) Annotation {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Annotation{Kind: AnnotationAbsent}
	}

	if strings.HasPrefix(raw, "{") {
		var s structuredAnnotation
		if err := json.Unmarshal([]byte(raw), &s); err == nil {
			team := s.Team
			if team == "" {
				team = s.Name
			}
			if strings.TrimSpace(team) != "" {
				return Annotation{Kind: AnnotationStructured, Team: team, Emails: s.Emails}
			}
			return Annotation{Kind: AnnotationAbsent}
		}
	}

	// Runners sometimes pass JSON-encoded strings through verbatim
	var quoted string
	if strings.HasPrefix(raw, `"`) && json.Unmarshal([]byte(raw), &quoted) == nil {
		raw = strings.TrimSpace(quoted)
		if raw == "" {
			return Annotation{Kind: AnnotationAbsent}
		}
	}
	return Annotation{Kind: AnnotationPlain, Value: raw}
}

// IsAbsent reports whether no owner was given
func (a Annotation) IsAbsent() bool {
	return a.Kind == AnnotationAbsent
}

// TeamName is the single normalization of an annotation into a team identity
func (a Annotation) TeamName() string {
	var name string
	switch a.Kind {
	case AnnotationStructured:
		name = a.Team
	case AnnotationPlain:
		name = a.Value
	}
	name = strings.Join(strings.Fields(name), " ")
	if name == "" {
		return types.UnknownTeam
	}
	return name
}
