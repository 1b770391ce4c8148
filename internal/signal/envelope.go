// Package signal maintains the WebSocket signaling channel to the meeting
// endpoint: presence events, relayed offer/answer/ICE payloads, media-state
// announcements, and chat.
package signal

import "huddle/client/internal/domain"

// EventType identifies the kind of signaling envelope.
type EventType string

// Inbound event types.
const (
	EventParticipantJoined EventType = "participant-joined"
	EventParticipantLeft   EventType = "participant-left"
	EventMeetingEnded      EventType = "meeting-ended"
	EventKeepAliveAck      EventType = "keep-alive-ack"
)

// Types used in both directions.
const (
	EventSignal            EventType = "signal"
	EventMediaStateChanged EventType = "media-state-changed"
	EventChatMessage       EventType = "chat-message"
	EventKeepAlive         EventType = "keep-alive"
)

// Envelope is the JSON structure exchanged over the WebSocket. Only the
// fields relevant to a given Type are populated.
type Envelope struct {
	Type            EventType             `json:"type"`
	ParticipantID   string                `json:"participantId,omitempty"`
	FromParticipant string                `json:"fromParticipant,omitempty"`
	ToParticipant   string                `json:"toParticipant,omitempty"`
	Payload         *domain.SignalPayload `json:"payload,omitempty"`
	Media           *domain.MediaState    `json:"media,omitempty"`
	Chat            *domain.ChatMessage   `json:"chat,omitempty"`
}
