// Package conversation holds the data model for a live chat session: an
// ordered, append-only message log with the system message at index 0.
package conversation

import (
	"encoding/json"

	"github.com/pkg/errors"
)

// Conversation is the in-memory message log for one chat session. Ordering is
// append order. When a system message is present it sits at index 0 and is
// exempt from trimming.
type Conversation []*Message

// NewConversation returns a conversation seeded with the given system prompt,
// or an empty one if systemPrompt is empty.
func NewConversation(systemPrompt string) Conversation {
	if systemPrompt == "" {
		return Conversation{}
	}
	return Conversation{NewSystemMessage(systemPrompt)}
}

func (c Conversation) Append(msgs ...*Message) Conversation {
	return append(c, msgs...)
}

// HasSystemMessage reports whether index 0 holds a system message.
func (c Conversation) HasSystemMessage() bool {
	return len(c) > 0 && c[0].Role == RoleSystem
}

// FirstUserMessage returns the earliest user message, or nil. Chat titles are
// derived from it on first persistence.
func (c Conversation) FirstUserMessage() *Message {
	for _, m := range c {
		if m.Role == RoleUser {
			return m
		}
	}
	return nil
}

// Clone returns a shallow copy of the log. Messages themselves are immutable,
// so sharing them is safe.
func (c Conversation) Clone() Conversation {
	out := make(Conversation, len(c))
	copy(out, c)
	return out
}

// ToJSON serializes the log into the {role, content, timestamp} array form
// used by the store.
func (c Conversation) ToJSON() ([]byte, error) {
	data, err := json.Marshal([]*Message(c))
	if err != nil {
		return nil, errors.Wrap(err, "marshalling conversation")
	}
	return data, nil
}

// FromJSON parses the stored array form back into a conversation.
func FromJSON(data []byte) (Conversation, error) {
	var msgs []*Message
	if err := json.Unmarshal(data, &msgs); err != nil {
		return nil, errors.Wrap(err, "unmarshalling conversation")
	}
	return msgs, nil
}
