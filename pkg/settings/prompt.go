package settings

import (
	"fmt"
	"strings"
)

// EffectiveSystemPrompt returns the system prompt the session should be
// seeded with: the hand-written prompt in custom mode, or one rendered from
// the agent and user-context fields in template mode.
func (s *Settings) EffectiveSystemPrompt() string {
	if s.AgentMode != AgentModeTemplate {
		if s.SystemPrompt == "" {
			return DefaultSystemPrompt
		}
		return s.SystemPrompt
	}

	name := "You are an AI assistant"
	if s.AgentName != "" {
		name = fmt.Sprintf("Your name is %s", s.AgentName)
	}

	var userContext strings.Builder
	if s.UserName != "" || s.UserBackground != "" || s.UserGoals != "" {
		userContext.WriteString("\nUSER CONTEXT:")
		if s.UserName != "" {
			fmt.Fprintf(&userContext, "\n- Name: %s", s.UserName)
		}
		if s.UserBackground != "" {
			fmt.Fprintf(&userContext, "\n- Background: %s", s.UserBackground)
		}
		if s.UserGoals != "" {
			fmt.Fprintf(&userContext, "\n- Goals: %s", s.UserGoals)
		}
		userContext.WriteString("\n")
	}

	return fmt.Sprintf(
		"%s | Your Role is: %s | Personality: %s | Output Protocol: %s\n\n"+
			"You are optimized for %s, with a personality calibrated to %s and "+
			"communication aligned to %s output.%s",
		name, s.SelectedRole, s.SelectedPersonality, s.SelectedWritingStyle,
		s.SelectedRole, s.SelectedPersonality, s.SelectedWritingStyle,
		userContext.String(),
	)
}
