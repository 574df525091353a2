package tokens

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/prattle/pkg/conversation"
)

// Budget is the token ceiling configuration governing validation and
// trimming. All limits are positive and MaxContextTokens must leave room for
// the padding.
type Budget struct {
	MaxInputTokens        int `yaml:"max_input_tokens"`
	MaxSystemPromptTokens int `yaml:"max_system_prompt_tokens"`
	MaxContextTokens      int `yaml:"max_context_tokens"`
	TokenPadding          int `yaml:"token_padding"`
}

func (b Budget) Validate() error {
	if b.MaxInputTokens <= 0 {
		return errors.New("max_input_tokens must be positive")
	}
	if b.MaxSystemPromptTokens <= 0 {
		return errors.New("max_system_prompt_tokens must be positive")
	}
	if b.MaxContextTokens <= 0 {
		return errors.New("max_context_tokens must be positive")
	}
	if b.TokenPadding <= 0 {
		return errors.New("token_padding must be positive")
	}
	if b.MaxContextTokens <= b.TokenPadding {
		return errors.New("max_context_tokens must be greater than token_padding")
	}
	return nil
}

// ContextLimit is the effective conversation ceiling after padding.
func (b Budget) ContextLimit() int {
	return b.MaxContextTokens - b.TokenPadding
}

// BudgetError reports text that exceeds a configured token limit. It is
// recoverable: the caller shortens the text and retries, conversation state
// is unaffected.
type BudgetError struct {
	What   string
	Tokens int
	Limit  int
}

func (e *BudgetError) Error() string {
	return fmt.Sprintf("%s too long (%d tokens). Maximum is %d tokens.", e.What, e.Tokens, e.Limit)
}

// Policy decides whether text fits the configured limits and how to shrink a
// conversation that does not.
type Policy struct {
	counter Counter
	budget  Budget
}

func NewPolicy(counter Counter, budget Budget) *Policy {
	return &Policy{counter: counter, budget: budget}
}

func (p *Policy) Budget() Budget {
	return p.budget
}

// FitsInput returns a *BudgetError when text exceeds the single-message
// input limit.
func (p *Policy) FitsInput(text string) error {
	count := p.counter.Count(text)
	if count > p.budget.MaxInputTokens {
		return &BudgetError{What: "Message", Tokens: count, Limit: p.budget.MaxInputTokens}
	}
	return nil
}

// FitsSystemPrompt returns a *BudgetError when text exceeds the system
// prompt limit.
func (p *Policy) FitsSystemPrompt(text string) error {
	count := p.counter.Count(text)
	if count > p.budget.MaxSystemPromptTokens {
		return &BudgetError{What: "System prompt", Tokens: count, Limit: p.budget.MaxSystemPromptTokens}
	}
	return nil
}

// ConversationTokens sums the content token counts of every message.
func (p *Policy) ConversationTokens(conv conversation.Conversation) int {
	total := 0
	for _, m := range conv {
		total += p.counter.Count(m.Content)
	}
	return total
}

// Trim drops the oldest non-system messages (scanning from index 1) until the
// conversation fits within MaxContextTokens - TokenPadding, or only the
// message at index 0 plus one other remain. The system message at index 0 is
// never removed. Trim is deterministic and idempotent; a conversation already
// under budget is returned unchanged.
//
// A single remaining message whose own count exceeds the budget is retained
// as-is: the policy drops whole messages, it never truncates content.
func (p *Policy) Trim(conv conversation.Conversation) conversation.Conversation {
	limit := p.budget.ContextLimit()
	if p.ConversationTokens(conv) <= limit {
		return conv
	}

	trimmed := conv.Clone()
	dropped := 0
	for len(trimmed) > 2 && p.ConversationTokens(trimmed) > limit {
		idx := -1
		for i := 1; i < len(trimmed); i++ {
			if trimmed[i].Role != conversation.RoleSystem {
				idx = i
				break
			}
		}
		if idx < 0 {
			break
		}
		trimmed = append(trimmed[:idx], trimmed[idx+1:]...)
		dropped++
	}

	if dropped > 0 {
		log.Debug().
			Int("dropped", dropped).
			Int("remaining", len(trimmed)).
			Int("tokens", p.ConversationTokens(trimmed)).
			Int("limit", limit).
			Msg("trimmed conversation to fit context budget")
	}

	return trimmed
}
