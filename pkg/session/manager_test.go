package session

import (
	"context"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/prattle/pkg/conversation"
	"github.com/go-go-golems/prattle/pkg/dispatch"
	"github.com/go-go-golems/prattle/pkg/inference"
	"github.com/go-go-golems/prattle/pkg/store"
	"github.com/go-go-golems/prattle/pkg/tokens"
)

// fakeEngine returns a canned reply (or error) and records what it was sent.
type fakeEngine struct {
	reply   string
	err     error
	calls   int64
	lastMsg atomic.Value // conversation.Conversation
	block   chan struct{}
}

func (e *fakeEngine) Complete(ctx context.Context, msgs conversation.Conversation, opts inference.Options) (string, error) {
	atomic.AddInt64(&e.calls, 1)
	e.lastMsg.Store(msgs)
	if e.block != nil {
		<-e.block
	}
	return e.reply, e.err
}

func (e *fakeEngine) ListModels(ctx context.Context) []string { return []string{"llama2"} }
func (e *fakeEngine) Preload(ctx context.Context) error       { return nil }

func (e *fakeEngine) callCount() int64 { return atomic.LoadInt64(&e.calls) }

func (e *fakeEngine) sentMessages() conversation.Conversation {
	v, _ := e.lastMsg.Load().(conversation.Conversation)
	return v
}

// fakeStore is an in-memory ChatStore.
type fakeStore struct {
	chats    map[int64]*store.Chat
	nextID   int64
	saveErr  error
	saves    int
	updates  int
	updateID int64
}

func newFakeStore() *fakeStore {
	return &fakeStore{chats: map[int64]*store.Chat{}, nextID: 1}
}

func (s *fakeStore) SaveChat(ctx context.Context, title string, msgs conversation.Conversation, modelName string, folderID *int64) (int64, error) {
	if s.saveErr != nil {
		return 0, s.saveErr
	}
	id := s.nextID
	s.nextID++
	s.saves++
	s.chats[id] = &store.Chat{ID: id, Title: title, ModelName: modelName, Messages: msgs.Clone()}
	return id, nil
}

func (s *fakeStore) UpdateChat(ctx context.Context, id int64, msgs conversation.Conversation) error {
	if s.saveErr != nil {
		return s.saveErr
	}
	chat, ok := s.chats[id]
	if !ok {
		return store.ErrNotFound
	}
	s.updates++
	s.updateID = id
	chat.Messages = msgs.Clone()
	return nil
}

func (s *fakeStore) GetChat(ctx context.Context, id int64) (*store.Chat, error) {
	chat, ok := s.chats[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return chat, nil
}

type testSession struct {
	manager  *Manager
	engine   *fakeEngine
	store    *fakeStore
	executor *dispatch.ChanExecutor
}

func newTestSession(t *testing.T, engine *fakeEngine, budget tokens.Budget) *testSession {
	t.Helper()

	executor := dispatch.NewChanExecutor(1)
	st := newFakeStore()

	manager, err := NewManager(Config{
		SystemPrompt: "S",
		ModelName:    "llama2",
		Options:      inference.Options{Temperature: 0.7, TopP: 0.9},
		Policy:       tokens.NewPolicy(wordCounter{}, budget),
		Dispatcher:   dispatch.NewDispatcher(engine, executor),
		Store:        st,
	})
	require.NoError(t, err)

	return &testSession{manager: manager, engine: engine, store: st, executor: executor}
}

// send runs one full exchange, draining the executor so the completion has
// been delivered when it returns.
func (ts *testSession) send(t *testing.T, text string) Result {
	t.Helper()
	var result Result
	require.NoError(t, ts.manager.Send(context.Background(), text, func(r Result) {
		result = r
	}))
	require.True(t, ts.executor.DrainOne())
	return result
}

// wordCounter counts whitespace-separated words, one token each.
type wordCounter struct{}

func (wordCounter) Count(text string) int { return len(strings.Fields(text)) }

func defaultBudget() tokens.Budget {
	return tokens.Budget{
		MaxInputTokens:        100,
		MaxSystemPromptTokens: 100,
		MaxContextTokens:      1000,
		TokenPadding:          10,
	}
}

func TestSendAppendsExchangeAndPersistsLazily(t *testing.T) {
	engine := &fakeEngine{reply: "the answer"}
	ts := newTestSession(t, engine, defaultBudget())

	assert.Zero(t, ts.manager.ChatID(), "no chat is created before the first exchange")

	result := ts.send(t, "what is the question")
	require.NoError(t, result.Err)
	require.NotNil(t, result.Reply)
	assert.Equal(t, "the answer", result.Reply.Content)

	conv := ts.manager.Conversation()
	require.Len(t, conv, 3)
	assert.Equal(t, conversation.RoleSystem, conv[0].Role)
	assert.Equal(t, "what is the question", conv[1].Content)
	assert.Equal(t, "the answer", conv[2].Content)

	// First completed exchange created the chat.
	assert.Equal(t, 1, ts.store.saves)
	assert.NotZero(t, result.ChatID)
	assert.Equal(t, result.ChatID, ts.manager.ChatID())
	assert.Equal(t, StateIdle, ts.manager.State())
}

func TestSecondExchangeUpdatesInsteadOfSaving(t *testing.T) {
	engine := &fakeEngine{reply: "ok"}
	ts := newTestSession(t, engine, defaultBudget())

	first := ts.send(t, "first message")
	ts.send(t, "second message")

	assert.Equal(t, 1, ts.store.saves)
	assert.Equal(t, 1, ts.store.updates)
	assert.Equal(t, first.ChatID, ts.store.updateID)

	chat, err := ts.store.GetChat(context.Background(), first.ChatID)
	require.NoError(t, err)
	assert.Len(t, chat.Messages, 5)
}

func TestTitleDerivedFromFirstUserMessage(t *testing.T) {
	engine := &fakeEngine{reply: "ok"}
	ts := newTestSession(t, engine, defaultBudget())

	result := ts.send(t, "please explain how garbage collection works")

	chat, err := ts.store.GetChat(context.Background(), result.ChatID)
	require.NoError(t, err)
	assert.Equal(t, "please explain how...", chat.Title)
}

func TestShortTitleIsNotTruncated(t *testing.T) {
	engine := &fakeEngine{reply: "ok"}
	ts := newTestSession(t, engine, defaultBudget())

	result := ts.send(t, "hi there")

	chat, err := ts.store.GetChat(context.Background(), result.ChatID)
	require.NoError(t, err)
	assert.Equal(t, "hi there", chat.Title)
}

func TestSendRejectsBlankInput(t *testing.T) {
	engine := &fakeEngine{reply: "x"}
	ts := newTestSession(t, engine, defaultBudget())

	for _, input := range []string{"", "   ", "\n\t"} {
		err := ts.manager.Send(context.Background(), input, nil)
		require.ErrorIs(t, err, ErrEmptyInput)
	}

	// Nothing reached the dispatcher or the engine.
	assert.Zero(t, engine.callCount())
	assert.Len(t, ts.manager.Conversation(), 1)
}

func TestSendRejectsOverBudgetInput(t *testing.T) {
	engine := &fakeEngine{reply: "x"}
	budget := defaultBudget()
	budget.MaxInputTokens = 3
	ts := newTestSession(t, engine, budget)

	err := ts.manager.Send(context.Background(), "one two three four five", nil)

	var budgetErr *tokens.BudgetError
	require.ErrorAs(t, err, &budgetErr)
	assert.Equal(t, 5, budgetErr.Tokens)

	// Conversation unchanged, engine never called.
	assert.Len(t, ts.manager.Conversation(), 1)
	assert.Zero(t, engine.callCount())
	assert.Equal(t, StateIdle, ts.manager.State())
}

func TestSendWhileSendingIsRejected(t *testing.T) {
	engine := &fakeEngine{reply: "slow answer", block: make(chan struct{})}
	ts := newTestSession(t, engine, defaultBudget())

	require.NoError(t, ts.manager.Send(context.Background(), "first", func(Result) {}))
	assert.Equal(t, StateSending, ts.manager.State())

	err := ts.manager.Send(context.Background(), "second", nil)
	require.ErrorIs(t, err, ErrBusy)

	close(engine.block)
	require.True(t, ts.executor.DrainOne())

	assert.Equal(t, int64(1), engine.callCount())
	assert.Equal(t, StateIdle, ts.manager.State())
}

func TestFailedSendKeepsUserMessageForRetry(t *testing.T) {
	engine := &fakeEngine{err: &inference.ServerError{StatusCode: 500, Status: "500 Internal Server Error"}}
	ts := newTestSession(t, engine, defaultBudget())

	result := ts.send(t, "doomed request")

	var serverErr *inference.ServerError
	require.ErrorAs(t, result.Err, &serverErr)
	assert.Nil(t, result.Reply)

	// The user message survives so retry does not require retyping; no
	// assistant message was appended and nothing was persisted.
	conv := ts.manager.Conversation()
	require.Len(t, conv, 2)
	assert.Equal(t, "doomed request", conv[1].Content)
	assert.Zero(t, ts.store.saves)
	assert.Zero(t, ts.manager.ChatID())
	assert.Equal(t, StateIdle, ts.manager.State())

	// The session is usable again.
	engine.err = nil
	engine.reply = "recovered"
	retry := ts.send(t, "doomed request again")
	require.NoError(t, retry.Err)
}

func TestSaveFailureSurfacesButKeepsConversation(t *testing.T) {
	engine := &fakeEngine{reply: "worth keeping"}
	ts := newTestSession(t, engine, defaultBudget())
	ts.store.saveErr = errors.New("disk full")

	result := ts.send(t, "important question")

	require.NoError(t, result.Err)
	require.Error(t, result.SaveErr)

	// The completed exchange is not rolled back.
	conv := ts.manager.Conversation()
	require.Len(t, conv, 3)
	assert.Equal(t, "worth keeping", conv[2].Content)
	assert.Zero(t, ts.manager.ChatID())

	// Once the store recovers, the next exchange persists the whole log.
	ts.store.saveErr = nil
	next := ts.send(t, "try again")
	require.NoError(t, next.SaveErr)
	assert.NotZero(t, next.ChatID)
}

func TestTrimAppliedBeforeSubmit(t *testing.T) {
	engine := &fakeEngine{reply: "ok"}
	budget := defaultBudget()
	// Room for the system message and roughly two exchanges.
	budget.MaxContextTokens = 20
	budget.TokenPadding = 2
	ts := newTestSession(t, engine, budget)

	ts.send(t, "one two three four five six")
	ts.send(t, "seven eight nine ten eleven twelve")
	ts.send(t, "thirteen fourteen fifteen sixteen seventeen eighteen")

	// The third send pushes the log over the 18-token limit; the oldest
	// user message is dropped before the request goes out.
	sent := engine.sentMessages()
	require.Len(t, sent, 5)
	assert.Equal(t, conversation.RoleSystem, sent[0].Role)
	assert.Equal(t, "ok", sent[1].Content)
	assert.LessOrEqual(t, tokens.NewPolicy(wordCounter{}, budget).ConversationTokens(sent), 18)
}

func TestResetStartsNewChat(t *testing.T) {
	engine := &fakeEngine{reply: "ok"}
	ts := newTestSession(t, engine, defaultBudget())

	first := ts.send(t, "first chat message")
	require.NotZero(t, first.ChatID)

	require.NoError(t, ts.manager.Reset())
	conv := ts.manager.Conversation()
	require.Len(t, conv, 1)
	assert.Equal(t, conversation.RoleSystem, conv[0].Role)
	assert.Equal(t, "S", conv[0].Content)
	assert.Zero(t, ts.manager.ChatID())

	// The next exchange creates a fresh chat.
	second := ts.send(t, "second chat message")
	assert.NotEqual(t, first.ChatID, second.ChatID)
	assert.Equal(t, 2, ts.store.saves)
}

func TestLoadChat(t *testing.T) {
	engine := &fakeEngine{reply: "ok"}
	ts := newTestSession(t, engine, defaultBudget())

	first := ts.send(t, "remember this")

	require.NoError(t, ts.manager.Reset())
	require.NoError(t, ts.manager.LoadChat(context.Background(), first.ChatID))

	assert.Equal(t, first.ChatID, ts.manager.ChatID())
	conv := ts.manager.Conversation()
	require.Len(t, conv, 3)
	assert.Equal(t, "remember this", conv[1].Content)

	// Further exchanges update the loaded chat.
	ts.send(t, "a continuation")
	assert.Equal(t, first.ChatID, ts.store.updateID)

	require.ErrorIs(t, ts.manager.LoadChat(context.Background(), 9999), store.ErrNotFound)
}

func TestNewManagerRejectsOversizedSystemPrompt(t *testing.T) {
	budget := defaultBudget()
	budget.MaxSystemPromptTokens = 1

	_, err := NewManager(Config{
		SystemPrompt: "far too many words for this prompt budget",
		Policy:       tokens.NewPolicy(wordCounter{}, budget),
		Dispatcher:   dispatch.NewDispatcher(&fakeEngine{}, dispatch.SyncExecutor{}),
	})

	var budgetErr *tokens.BudgetError
	require.ErrorAs(t, err, &budgetErr)
}
