package app

import (
	"encoding/json"

	"github.com/rs/zerolog/log"

	"reviewdeck/api/internal/store"
)

// EventType enumerates everything the workspace event stream can carry.
// The set is closed: consumers switch on it exhaustively.
type EventType string

const (
	EventConversationCreated     EventType = "conversation_created"
	EventMessageAdded            EventType = "message_added"
	EventConversationResolved    EventType = "conversation_resolved"
	EventConversationUnresolved  EventType = "conversation_unresolved"
	EventMessageDeleted          EventType = "message_deleted"
	EventConversationDeleted     EventType = "conversation_deleted"
	EventConversationAutoDeleted EventType = "conversation_auto_deleted"
	EventRefresh                 EventType = "refresh"
)

// Event is one entry on a workspace's stream. Mutation events carry the
// full hydrated conversation; deletion events carry only the id, since the
// row is already gone; refresh carries nothing and tells the client to
// reload its state.
type Event struct {
	Type           EventType                       `json:"type"`
	Conversation   *store.ConversationWithMessages `json:"conversation,omitempty"`
	ConversationID string                          `json:"conversation_id,omitempty"`
}

func conversationEvent(eventType EventType, conversation store.ConversationWithMessages) Event {
	return Event{Type: eventType, Conversation: &conversation}
}

func deletionEvent(eventType EventType, conversationID string) Event {
	return Event{Type: eventType, ConversationID: conversationID}
}

func refreshEvent() Event {
	return Event{Type: EventRefresh}
}

// publish encodes the event and fans it out to the workspace's subscribers.
// Broadcast failures must never fail the mutation that triggered them.
func (s *Service) publish(workspaceID string, event Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Str("event", string(event.Type)).Msg("encode event")
		return
	}
	s.events.Publish(workspaceID, payload)
}
