package domain

import (
	"time"
)

// Default preference values applied when a user has none stored.
const (
	DefaultConversationTone   = "Gentle"
	DefaultSupportType        = "Supportive Friend"
	DefaultRelationshipStatus = "Unknown"
)

// Preferences describes how a user wants the assistant to talk to them.
type Preferences struct {
	UserID             string            `json:"user_id,omitempty"`
	SupportType        string            `json:"support_type"`
	ConversationTone   string            `json:"conversation_tone"`
	RelationshipStatus string            `json:"relationship_status"`
	TopicsToAvoid      []string          `json:"topics_to_avoid"`
	Occupation         string            `json:"occupation,omitempty"`
	Hobbies            []string          `json:"hobbies,omitempty"`
	SleepSchedule      string            `json:"sleep_schedule,omitempty"`
	Location           string            `json:"location,omitempty"`
	Extra              map[string]string `json:"extra,omitempty"`
	UpdatedAt          time.Time         `json:"updated_at,omitempty"`
}

// DefaultPreferences returns the neutral preference set.
func DefaultPreferences() Preferences {
	return Preferences{
		SupportType:        DefaultSupportType,
		ConversationTone:   DefaultConversationTone,
		RelationshipStatus: DefaultRelationshipStatus,
	}
}

// WithDefaults fills empty core fields from d.
func (p Preferences) WithDefaults(d Preferences) Preferences {
	if p.SupportType == "" {
		p.SupportType = d.SupportType
	}
	if p.ConversationTone == "" {
		p.ConversationTone = d.ConversationTone
	}
	if p.RelationshipStatus == "" {
		p.RelationshipStatus = d.RelationshipStatus
	}
	if len(p.TopicsToAvoid) == 0 {
		p.TopicsToAvoid = d.TopicsToAvoid
	}
	return p
}
