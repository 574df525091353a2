package conversation

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is one of the closed set of roles. Messages with
// other roles are rejected at the serialization boundary rather than carried
// along silently.
func (r Role) Valid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant:
		return true
	}
	return false
}

// Message is a single entry in a conversation. Messages are immutable once
// appended; trimming drops whole messages, never edits their content.
//
// The ID is in-memory identity only. The wire and storage form is
// {role, content, timestamp}, which round-trips losslessly.
type Message struct {
	ID      uuid.UUID `json:"-"`
	Role    Role      `json:"role"`
	Content string    `json:"content"`
	Time    time.Time `json:"timestamp"`
}

func NewMessage(role Role, content string) *Message {
	return &Message{
		ID:      uuid.New(),
		Role:    role,
		Content: content,
		Time:    time.Now(),
	}
}

func NewSystemMessage(content string) *Message {
	return NewMessage(RoleSystem, content)
}

func NewUserMessage(content string) *Message {
	return NewMessage(RoleUser, content)
}

func NewAssistantMessage(content string) *Message {
	return NewMessage(RoleAssistant, content)
}

func (m *Message) String() string {
	return fmt.Sprintf("[%s]: %s", m.Role, strings.TrimRight(m.Content, "\n"))
}

// UnmarshalJSON validates the role on the way in so a stored chat with a
// corrupted role surfaces as an error instead of an unclassifiable message.
func (m *Message) UnmarshalJSON(data []byte) error {
	type plain Message
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	if !Role(p.Role).Valid() {
		return fmt.Errorf("invalid message role %q", p.Role)
	}
	*m = Message(p)
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	return nil
}
