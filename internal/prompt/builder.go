package prompt

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ashureev/ammora/internal/domain"
	"github.com/ashureev/ammora/internal/llm"
)

// Builder renders system prompts for a persona.
type Builder struct {
	persona Persona
}

// NewBuilder creates a builder for the given persona.
func NewBuilder(persona Persona) *Builder {
	return &Builder{persona: persona}
}

// DefaultPreferences returns the preference set used when a user has none.
func (b *Builder) DefaultPreferences() domain.Preferences {
	return b.persona.DefaultPreferences()
}

// SystemPrompt describes the user and how the assistant should treat them.
// A nil prefs uses the persona defaults.
func (b *Builder) SystemPrompt(user *domain.User, prefs *domain.Preferences) string {
	p := b.DefaultPreferences()
	if prefs != nil {
		p = prefs.WithDefaults(p)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "You are %s, %s.\n\n", b.persona.Name, b.persona.Description)

	sb.WriteString("About the user:\n")
	fmt.Fprintf(&sb, "- Name: %s\n", user.DisplayName())
	if user != nil && user.Age > 0 {
		fmt.Fprintf(&sb, "- Age: %d\n", user.Age)
	}
	if user != nil && user.Gender != "" {
		fmt.Fprintf(&sb, "- Gender: %s\n", user.Gender)
	}
	fmt.Fprintf(&sb, "- Relationship status: %s\n", p.RelationshipStatus)
	if p.Occupation != "" {
		fmt.Fprintf(&sb, "- Occupation: %s\n", p.Occupation)
	}
	if len(p.Hobbies) > 0 {
		fmt.Fprintf(&sb, "- Hobbies: %s\n", strings.Join(p.Hobbies, ", "))
	}
	if p.SleepSchedule != "" {
		fmt.Fprintf(&sb, "- Sleep schedule: %s\n", p.SleepSchedule)
	}
	if p.Location != "" {
		fmt.Fprintf(&sb, "- Location: %s\n", p.Location)
	}
	for _, key := range sortedKeys(p.Extra) {
		fmt.Fprintf(&sb, "- %s: %s\n", key, p.Extra[key])
	}

	sb.WriteString("\nHow to talk with them:\n")
	fmt.Fprintf(&sb, "- Act as a %s.\n", strings.ToLower(p.SupportType))
	fmt.Fprintf(&sb, "- Keep your tone %s.\n", strings.ToLower(p.ConversationTone))
	if topics := nonEmpty(p.TopicsToAvoid); len(topics) > 0 {
		fmt.Fprintf(&sb, "- Avoid these topics: %s.\n", strings.Join(topics, ", "))
	}

	if len(b.persona.Rules) > 0 {
		sb.WriteString("\nRules:\n")
		for _, rule := range b.persona.Rules {
			fmt.Fprintf(&sb, "- %s\n", rule)
		}
	}

	return strings.TrimRight(sb.String(), "\n")
}

// FormatHistory converts stored turns into provider messages, dropping empty ones.
func FormatHistory(turns []domain.Turn) []llm.Message {
	messages := make([]llm.Message, 0, len(turns))
	for _, turn := range turns {
		text := strings.TrimSpace(turn.Text)
		if text == "" {
			continue
		}
		role := "user"
		if turn.Role == domain.RoleAssistant {
			role = "assistant"
		}
		messages = append(messages, llm.Message{Role: role, Content: text})
	}
	return messages
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k, v := range m {
		if strings.TrimSpace(v) != "" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

func nonEmpty(values []string) []string {
	var out []string
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
