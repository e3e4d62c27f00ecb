package personas

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/aiox-platform/personachat/internal/prompt"
)

const StatusActive = "active"

type Persona struct {
	ID                uuid.UUID `json:"id"`
	CreatorID         uuid.UUID `json:"creator_id"`
	Name              string    `json:"name"`
	Description       string    `json:"description"`
	Bio               string    `json:"bio"`
	PersonalityTraits []string  `json:"personality_traits,omitempty"`
	LanguageStyle     string    `json:"language_style"`
	Expertise         []string  `json:"expertise,omitempty"`
	Status            string    `json:"status"`
	ConversationCount int       `json:"conversation_count"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// PersonaRow is the database representation with JSONB fields as raw bytes
// and nullable text columns as pointers.
type PersonaRow struct {
	ID                uuid.UUID
	CreatorID         uuid.UUID
	Name              string
	Description       *string
	Bio               *string
	PersonalityTraits []byte
	LanguageStyle     *string
	Expertise         []byte
	Status            string
	ConversationCount int
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

type KnowledgeRow struct {
	SourceType string
	SourceName *string
	Content    string
	Status     string
}

func (r *PersonaRow) toPersona() *Persona {
	return &Persona{
		ID:                r.ID,
		CreatorID:         r.CreatorID,
		Name:              r.Name,
		Description:       deref(r.Description),
		Bio:               deref(r.Bio),
		PersonalityTraits: decodeList(r.PersonalityTraits),
		LanguageStyle:     deref(r.LanguageStyle),
		Expertise:         decodeList(r.Expertise),
		Status:            r.Status,
		ConversationCount: r.ConversationCount,
		CreatedAt:         r.CreatedAt,
		UpdatedAt:         r.UpdatedAt,
	}
}

// PromptSource combines the persona with its knowledge entries.
func (p *Persona) PromptSource(knowledge []KnowledgeRow) *prompt.Source {
	src := &prompt.Source{
		Name:              p.Name,
		Bio:               p.Bio,
		Description:       p.Description,
		PersonalityTraits: p.PersonalityTraits,
		LanguageStyle:     p.LanguageStyle,
		Expertise:         p.Expertise,
	}
	for _, k := range knowledge {
		src.Knowledge = append(src.Knowledge, prompt.KnowledgeEntry{
			SourceType: k.SourceType,
			SourceName: deref(k.SourceName),
			Content:    k.Content,
			Status:     k.Status,
		})
	}
	return src
}

// decodeList accepts a JSON array of strings or a single JSON string.
// Anything else decodes to nil.
func decodeList(raw []byte) []string {
	if len(raw) == 0 {
		return nil
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		return list
	}
	var single string
	if err := json.Unmarshal(raw, &single); err == nil && single != "" {
		return []string{single}
	}
	return nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
