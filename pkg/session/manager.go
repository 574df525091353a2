// Package session orchestrates a live conversation: it owns the in-memory
// message log, applies the budget policy before each request, dispatches the
// inference call and synchronizes completed exchanges into the store.
package session

import (
	"context"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/prattle/pkg/conversation"
	"github.com/go-go-golems/prattle/pkg/dispatch"
	"github.com/go-go-golems/prattle/pkg/inference"
	"github.com/go-go-golems/prattle/pkg/store"
	"github.com/go-go-golems/prattle/pkg/tokens"
)

// titleLength is the display length a chat title is truncated to when
// derived from the first user message.
const titleLength = 18

var (
	// ErrBusy is returned by Send while a previous send is still in
	// flight. The caller disables input while the session is sending.
	ErrBusy = errors.New("session is already sending")

	// ErrEmptyInput is returned for blank or whitespace-only input, which
	// never reaches the dispatcher.
	ErrEmptyInput = errors.New("message is empty")
)

type State int

const (
	StateIdle State = iota
	StateSending
)

func (s State) String() string {
	if s == StateSending {
		return "sending"
	}
	return "idle"
}

// ChatStore is the slice of the conversation store the session needs to
// persist completed exchanges.
type ChatStore interface {
	SaveChat(ctx context.Context, title string, msgs conversation.Conversation, modelName string, folderID *int64) (int64, error)
	UpdateChat(ctx context.Context, id int64, msgs conversation.Conversation) error
	GetChat(ctx context.Context, id int64) (*store.Chat, error)
}

// Result is delivered to the caller after each send completes.
type Result struct {
	// Reply is the assistant message appended on success, nil on failure.
	Reply *conversation.Message
	// Err is the inference failure, if any. The user message stays in the
	// conversation so a retry does not require retyping.
	Err error
	// ChatID is the persisted chat id once the first exchange completed.
	ChatID int64
	// SaveErr reports a persistence failure. The in-memory conversation is
	// not rolled back: losing a completed exchange is worse than a missed
	// save, and the caller may retry the save.
	SaveErr error
}

// Config carries the injected collaborators. Nothing is read from ambient
// state.
type Config struct {
	SystemPrompt string
	ModelName    string
	Options      inference.Options

	Policy     *tokens.Policy
	Dispatcher *dispatch.Dispatcher
	Store      ChatStore
}

// Manager owns one live conversation. At most one send is in flight at a
// time; the manager mirrors the dispatcher's two-state machine and adds
// persistence on completion.
type Manager struct {
	policy     *tokens.Policy
	dispatcher *dispatch.Dispatcher
	store      ChatStore
	modelName  string
	options    inference.Options

	mu     sync.Mutex
	state  State
	conv   conversation.Conversation
	chatID int64
}

// NewManager validates the system prompt against the budget and seeds the
// conversation with it.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.Policy == nil {
		return nil, errors.New("session: policy is required")
	}
	if cfg.Dispatcher == nil {
		return nil, errors.New("session: dispatcher is required")
	}

	if cfg.SystemPrompt != "" {
		if err := cfg.Policy.FitsSystemPrompt(cfg.SystemPrompt); err != nil {
			return nil, err
		}
	}

	return &Manager{
		policy:     cfg.Policy,
		dispatcher: cfg.Dispatcher,
		store:      cfg.Store,
		modelName:  cfg.ModelName,
		options:    cfg.Options,
		conv:       conversation.NewConversation(cfg.SystemPrompt),
	}, nil
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Conversation returns a copy of the live message log. The log itself is
// owned exclusively by the manager.
func (m *Manager) Conversation() conversation.Conversation {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conv.Clone()
}

// ChatID returns the persisted chat id, or 0 before the first completed
// exchange. A chat is created lazily: opening a new session persists
// nothing until the first exchange completes.
func (m *Manager) ChatID() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.chatID
}

// Send validates the input, appends it, trims the conversation to budget and
// dispatches the inference call. It returns immediately; onResult is invoked
// on the dispatcher's executor once the exchange completes or fails.
func (m *Manager) Send(ctx context.Context, text string, onResult func(Result)) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyInput
	}

	m.mu.Lock()
	if m.state == StateSending {
		m.mu.Unlock()
		return ErrBusy
	}

	if err := m.policy.FitsInput(text); err != nil {
		m.mu.Unlock()
		return err
	}

	m.conv = m.conv.Append(conversation.NewUserMessage(text))
	m.conv = m.policy.Trim(m.conv)
	m.state = StateSending
	outbound := m.conv.Clone()
	m.mu.Unlock()

	err := m.dispatcher.Submit(ctx, outbound, m.options, func(reply string, err error) {
		m.onComplete(ctx, reply, err, onResult)
	})
	if err != nil {
		// The dispatcher raced us to busy; roll our state back but keep
		// the user message so a retry does not retype it.
		m.mu.Lock()
		m.state = StateIdle
		m.mu.Unlock()
		return err
	}

	return nil
}

func (m *Manager) onComplete(ctx context.Context, reply string, inferErr error, onResult func(Result)) {
	if inferErr != nil {
		m.mu.Lock()
		m.state = StateIdle
		m.mu.Unlock()

		log.Warn().Err(inferErr).Msg("inference failed, conversation retained for retry")
		if onResult != nil {
			onResult(Result{Err: inferErr})
		}
		return
	}

	msg := conversation.NewAssistantMessage(reply)

	m.mu.Lock()
	m.conv = m.conv.Append(msg)
	m.state = StateIdle
	snapshot := m.conv.Clone()
	chatID := m.chatID
	m.mu.Unlock()

	result := Result{Reply: msg, ChatID: chatID}

	// Persist strictly after the in-memory append.
	if m.store != nil {
		if chatID == 0 {
			id, err := m.store.SaveChat(ctx, deriveTitle(snapshot), snapshot, m.modelName, nil)
			if err != nil {
				result.SaveErr = errors.Wrap(err, "saving chat")
			} else {
				m.mu.Lock()
				m.chatID = id
				m.mu.Unlock()
				result.ChatID = id
			}
		} else {
			if err := m.store.UpdateChat(ctx, chatID, snapshot); err != nil {
				result.SaveErr = errors.Wrap(err, "updating chat")
			}
		}
		if result.SaveErr != nil {
			log.Warn().Err(result.SaveErr).Msg("persisting exchange failed")
		}
	}

	if onResult != nil {
		onResult(result)
	}
}

// Reset drops the conversation back to the system message and detaches from
// any persisted chat, the "new chat" operation. Rejected while sending.
func (m *Manager) Reset() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == StateSending {
		return ErrBusy
	}

	var systemPrompt string
	if m.conv.HasSystemMessage() {
		systemPrompt = m.conv[0].Content
	}
	m.conv = conversation.NewConversation(systemPrompt)
	m.chatID = 0
	return nil
}

// LoadChat replaces the live conversation with a persisted chat, binding the
// session to its id so further exchanges update it. Rejected while sending.
func (m *Manager) LoadChat(ctx context.Context, id int64) error {
	if m.store == nil {
		return errors.New("session: no store configured")
	}

	m.mu.Lock()
	if m.state == StateSending {
		m.mu.Unlock()
		return ErrBusy
	}
	m.mu.Unlock()

	chat, err := m.store.GetChat(ctx, id)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == StateSending {
		return ErrBusy
	}
	m.conv = chat.Messages.Clone()
	m.chatID = chat.ID
	if chat.ModelName != "" {
		m.modelName = chat.ModelName
	}
	return nil
}

// deriveTitle truncates the first user message to a fixed display length,
// marking truncation with an ellipsis.
func deriveTitle(conv conversation.Conversation) string {
	first := conv.FirstUserMessage()
	if first == nil {
		return "New Chat"
	}
	title := strings.TrimSpace(first.Content)
	if utf8.RuneCountInString(title) <= titleLength {
		return title
	}
	runes := []rune(title)
	return string(runes[:titleLength]) + "..."
}
