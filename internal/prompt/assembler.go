// Package prompt turns a persona and prior conversation turns into provider input.
package prompt

import (
	"sort"
	"strings"
	"time"

	"github.com/aiox-platform/personachat/internal/llm"
)

// GreetingSentinel is the user message that asks the persona to open a session.
const GreetingSentinel = "[GREETING]"

const (
	greetingInstruction = "Please introduce yourself in character. Give a brief, engaging greeting that shows your personality."
	closingInstruction  = "Respond to the user's messages while staying in character and using the knowledge provided above. " +
		"Keep replies concise unless the user explicitly asks for more detail."

	// SenderUser is the sender type of turns written by the human side.
	SenderUser = "user"

	knowledgeActive = "active"
)

// Source is the read-only persona view a system prompt is built from.
type Source struct {
	Name              string
	Bio               string
	Description       string
	PersonalityTraits []string
	LanguageStyle     string
	Expertise         []string
	Knowledge         []KnowledgeEntry
}

// KnowledgeEntry is one knowledge-base snippet attached to a persona.
type KnowledgeEntry struct {
	SourceType string
	SourceName string
	Content    string
	Status     string
}

func (e KnowledgeEntry) label() string {
	if e.SourceName != "" {
		return e.SourceName
	}
	return e.SourceType
}

func (e KnowledgeEntry) usable() bool {
	return e.Status == knowledgeActive && strings.TrimSpace(e.Content) != ""
}

// Turn is one stored chat message as supplied by the caller.
type Turn struct {
	SenderType string    `json:"sender_type"`
	Text       string    `json:"text"`
	CreatedAt  time.Time `json:"created_at"`
}

// Build renders the system prompt. Sections without data are left out and
// the output depends only on src.
func Build(src *Source) string {
	parts := []string{"You are " + src.Name + "."}

	if src.Bio != "" {
		parts = append(parts, "Bio: "+src.Bio)
	}
	if src.Description != "" {
		parts = append(parts, "Description: "+src.Description)
	}
	if traits := joinNonEmpty(src.PersonalityTraits); traits != "" {
		parts = append(parts, "Personality traits: "+traits)
	}
	if src.LanguageStyle != "" {
		parts = append(parts, "Communication style: "+src.LanguageStyle)
	}
	if expertise := joinNonEmpty(src.Expertise); expertise != "" {
		parts = append(parts, "Areas of expertise: "+expertise)
	}

	var knowledge []string
	for _, e := range src.Knowledge {
		if e.usable() {
			knowledge = append(knowledge, "--- "+e.label()+" ---\n"+e.Content)
		}
	}
	if len(knowledge) > 0 {
		parts = append(parts, "Knowledge Base:")
		parts = append(parts, knowledge...)
	}

	parts = append(parts, closingInstruction)
	return strings.Join(parts, "\n\n")
}

// BuildHistory keeps the most recent limit turns in chronological order and
// maps them onto provider roles. A non-positive limit keeps nothing.
func BuildHistory(turns []Turn, limit int) []llm.Message {
	if limit <= 0 || len(turns) == 0 {
		return nil
	}

	sorted := make([]Turn, len(turns))
	copy(sorted, turns)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].CreatedAt.Before(sorted[j].CreatedAt)
	})
	if len(sorted) > limit {
		sorted = sorted[len(sorted)-limit:]
	}

	history := make([]llm.Message, 0, len(sorted))
	for _, t := range sorted {
		role := llm.RoleAssistant
		if t.SenderType == SenderUser {
			role = llm.RoleUser
		}
		history = append(history, llm.Message{Role: role, Content: t.Text})
	}
	return history
}

// Prepare returns the history and the user text to send. The greeting
// sentinel drops the history and asks for an in-character introduction.
func Prepare(userText string, turns []Turn, limit int) ([]llm.Message, string) {
	if IsGreeting(userText) {
		return nil, greetingInstruction
	}
	return BuildHistory(turns, limit), userText
}

func IsGreeting(userText string) bool {
	return strings.TrimSpace(userText) == GreetingSentinel
}

func joinNonEmpty(items []string) string {
	kept := make([]string, 0, len(items))
	for _, it := range items {
		if it = strings.TrimSpace(it); it != "" {
			kept = append(kept, it)
		}
	}
	return strings.Join(kept, ", ")
}
