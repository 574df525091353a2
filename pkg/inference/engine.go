// Package inference defines the contract against the remote model server and
// the error taxonomy callers branch on. The package holds no retry logic;
// retry policy belongs to the caller.
package inference

import (
	"context"

	"github.com/go-go-golems/prattle/pkg/conversation"
)

// Options are the per-request sampling parameters.
type Options struct {
	Temperature float64
	TopP        float64
}

// Engine issues chat completion requests against the model server. One
// request per Complete call, blocking until the server answers or the
// configured timeout elapses.
type Engine interface {
	// Complete sends the messages and returns the assistant's reply text.
	// Fails with *ConnectionError, *ServerError, *ProtocolError or
	// *TimeoutError.
	Complete(ctx context.Context, msgs conversation.Conversation, opts Options) (string, error)

	// ListModels returns the model identifiers the server advertises. Model
	// discovery is advisory: on failure a non-empty fallback list is
	// returned instead of an error.
	ListModels(ctx context.Context) []string

	// Preload asks the server to load the model into memory ahead of the
	// first completion. Errors are returned but callers typically treat
	// them as advisory.
	Preload(ctx context.Context) error
}
