// Package prompt turns user profiles and preferences into the natural-language
// context the assistant sees, and converts stored turns into provider messages.
package prompt

import (
	"fmt"
	"os"
	"strings"

	"github.com/ashureev/ammora/internal/domain"
	"gopkg.in/yaml.v3"
)

// Persona describes the assistant's character and the defaults applied to
// users who have not stored preferences.
type Persona struct {
	Name        string             `yaml:"name"`
	Description string             `yaml:"description"`
	Rules       []string           `yaml:"rules"`
	Defaults    PersonaPreferences `yaml:"default_preferences"`
}

// PersonaPreferences is the YAML form of the default preference set.
type PersonaPreferences struct {
	SupportType        string   `yaml:"support_type"`
	ConversationTone   string   `yaml:"conversation_tone"`
	RelationshipStatus string   `yaml:"relationship_status"`
	TopicsToAvoid      []string `yaml:"topics_to_avoid"`
}

// DefaultPersona returns the built-in persona.
func DefaultPersona() Persona {
	d := domain.DefaultPreferences()
	return Persona{
		Name:        "Ammora",
		Description: "a warm, supportive AI companion who remembers what matters to the people they talk with",
		Rules: []string{
			"Keep replies conversational and concise, usually two to four sentences.",
			"Never claim to be human, and never give medical, legal or financial diagnoses.",
			"If the user mentions self-harm, respond with care and encourage reaching out to local emergency services or a crisis line.",
			"Do not bring up topics the user asked to avoid.",
		},
		Defaults: PersonaPreferences{
			SupportType:        d.SupportType,
			ConversationTone:   d.ConversationTone,
			RelationshipStatus: d.RelationshipStatus,
		},
	}
}

// LoadPersona reads a persona from a YAML file. Fields missing from the
// file keep their built-in values.
func LoadPersona(path string) (Persona, error) {
	persona := DefaultPersona()
	data, err := os.ReadFile(path)
	if err != nil {
		return persona, fmt.Errorf("read persona file: %w", err)
	}
	return parsePersona(data, persona)
}

func parsePersona(data []byte, base Persona) (Persona, error) {
	var loaded Persona
	if err := yaml.Unmarshal(data, &loaded); err != nil {
		return base, fmt.Errorf("parse persona: %w", err)
	}

	if strings.TrimSpace(loaded.Name) != "" {
		base.Name = strings.TrimSpace(loaded.Name)
	}
	if strings.TrimSpace(loaded.Description) != "" {
		base.Description = strings.TrimSpace(loaded.Description)
	}
	if len(loaded.Rules) > 0 {
		base.Rules = loaded.Rules
	}
	base.Defaults = mergeDefaults(loaded.Defaults, base.Defaults)
	return base, nil
}

func mergeDefaults(p, fallback PersonaPreferences) PersonaPreferences {
	if p.SupportType == "" {
		p.SupportType = fallback.SupportType
	}
	if p.ConversationTone == "" {
		p.ConversationTone = fallback.ConversationTone
	}
	if p.RelationshipStatus == "" {
		p.RelationshipStatus = fallback.RelationshipStatus
	}
	if len(p.TopicsToAvoid) == 0 {
		p.TopicsToAvoid = fallback.TopicsToAvoid
	}
	return p
}

// DefaultPreferences returns the persona defaults as a preference set.
func (p Persona) DefaultPreferences() domain.Preferences {
	return domain.Preferences{
		SupportType:        p.Defaults.SupportType,
		ConversationTone:   p.Defaults.ConversationTone,
		RelationshipStatus: p.Defaults.RelationshipStatus,
		TopicsToAvoid:      append([]string(nil), p.Defaults.TopicsToAvoid...),
	}
}
