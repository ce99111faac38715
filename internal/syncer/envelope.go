package syncer

import (
	"encoding/json"
	"fmt"

	"github.com/example/event-checkin/internal/persistence"
)

// Envelope is the wire form of a mutation exchanged between peers.
type Envelope struct {
	Kind             persistence.MutationKind     `json:"kind"`
	Collection       string                       `json:"collection,omitempty"`
	OriginID         string                       `json:"originId"`
	LogicalTimestamp int64                        `json:"logicalTimestamp"`
	Attendees        []persistence.Attendee       `json:"attendees,omitempty"`
	Surveys          []persistence.SurveyResponse `json:"surveys,omitempty"`
}

// NewEnvelope wraps m for transmission.
func NewEnvelope(m persistence.Mutation, originID string, ts int64) Envelope {
	return Envelope{
		Kind:             m.Kind,
		Collection:       m.Collection,
		OriginID:         originID,
		LogicalTimestamp: ts,
		Attendees:        persistence.CloneAttendees(m.Attendees),
		Surveys:          persistence.CloneSurveys(m.Surveys),
	}
}

// Mutation returns the mutation carried by the envelope.
func (e Envelope) Mutation() persistence.Mutation {
	return persistence.Mutation{
		Kind:       e.Kind,
		Collection: e.Collection,
		Attendees:  persistence.CloneAttendees(e.Attendees),
		Surveys:    persistence.CloneSurveys(e.Surveys),
	}
}

// Encode renders the envelope as JSON.
func (e Envelope) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// DecodeEnvelope parses and checks an inbound payload.
func DecodeEnvelope(payload []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	if !env.Kind.Valid() {
		return Envelope{}, fmt.Errorf("decode envelope: unknown kind %q", env.Kind)
	}
	if env.OriginID == "" {
		return Envelope{}, fmt.Errorf("decode envelope: originId is required")
	}
	if len(env.Mutation().Collections()) == 0 {
		return Envelope{}, fmt.Errorf("decode envelope: %s without collection", env.Kind)
	}
	return env, nil
}
