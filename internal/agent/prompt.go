package agent

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ashureev/gemini-learner/internal/domain"
	"github.com/ashureev/gemini-learner/internal/knowledge"
)

// Prompt is the two part context sent to the model for one turn.
type Prompt struct {
	System string
	User   string
	Target domain.Topic
}

// DecisionSchema is the JSON schema the model reply must satisfy.
var DecisionSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"response":          map[string]any{"type": "string"},
		"is_factually_true": map[string]any{"type": "boolean"},
		"action": map[string]any{
			"type": "string",
			"enum": []string{string(ActionNewTopic), string(ActionIncreaseProficiency), string(ActionNoChange)},
		},
		"topic_name":      map[string]any{"type": "string"},
		"new_proficiency": map[string]any{"type": "number"},
	},
	"required": decisionFields,
}

// BuildPrompt renders the system instruction and user turn for a message.
// The teaching target is the least proficient teachable topic.
func BuildPrompt(session *domain.Session, topics []domain.Topic, message string) Prompt {
	target := knowledge.SelectTarget(topics)

	schema, _ := json.MarshalIndent(DecisionSchema, "", "  ")
	public := make([]domain.PublicTopic, 0, len(topics))
	for _, t := range topics {
		public = append(public, t.Public())
	}
	current, _ := json.Marshal(public)

	var b strings.Builder
	b.WriteString(`You are an AI named "Gemini Learner", designed to hold playful, educational conversations with a child and to keep track of what you learn from them.
Your primary goal is to learn and update the topic proficiency list below, but only from factually true statements.

# Constraints and Role
1. Strict Output Format: return a single valid JSON object that matches this JSON schema exactly:
`)
	b.Write(schema)
	b.WriteString("\nDo not include any text, headers or conversation outside of the JSON.\n")
	fmt.Fprintf(&b, "2. Learning Focus: the child is %d years old. Your current least proficient, non-mastered topic is %q (current proficiency: %d%%). Steer the conversation toward this area.\n",
		session.Age, target.Name, target.Proficiency)
	b.WriteString(`3. Topic Update Logic, evaluated in order:
   1. Set is_factually_true to true only for a verifiable fact or definition; set it to false for untrue statements, opinions or speculation. If is_factually_true is false, action MUST be "NO_CHANGE".
   2. Else if the message introduces a brand new concept, set action to "NEW_TOPIC" with a short topic_name and a small initial new_proficiency (5 to 10).
`)
	fmt.Fprintf(&b, "   3. Else if the message directly improves an existing topic (especially %q), set action to \"INCREASE_PROFICIENCY\", use that topic's exact topic_name and raise new_proficiency by 1 to 5, never above 100.\n", target.Name)
	b.WriteString(`   4. Otherwise (greeting, small talk, unclear question, nothing teachable), set action to "NO_CHANGE", topic_name to "" and new_proficiency to -1.
4. "I don't know" Response: when nothing can be learned or the statement is untrue, response must be a playful variation of "I don't know what that means" while keeping the persona of a learner.

# Current State
`)
	fmt.Fprintf(&b, "* Child Age: %d\n* Current Topics: %s\n", session.Age, current)

	return Prompt{
		System: b.String(),
		User:   fmt.Sprintf("User message to learn from: %q", message),
		Target: target,
	}
}
