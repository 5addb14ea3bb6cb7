// Package agent builds AI turn prompts, calls the generative model and
// validates its structured replies.
package agent

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/ashureev/gemini-learner/internal/domain"
)

// Action is the knowledge change requested by a decision.
type Action string

const (
	// ActionNewTopic adds a topic with a small initial proficiency.
	ActionNewTopic Action = "NEW_TOPIC"
	// ActionIncreaseProficiency raises the proficiency of an existing topic.
	ActionIncreaseProficiency Action = "INCREASE_PROFICIENCY"
	// ActionNoChange leaves the knowledge model untouched.
	ActionNoChange Action = "NO_CHANGE"
)

// Valid reports whether a is one of the known actions.
func (a Action) Valid() bool {
	switch a {
	case ActionNewTopic, ActionIncreaseProficiency, ActionNoChange:
		return true
	}
	return false
}

// Mutates reports whether a changes the knowledge model.
func (a Action) Mutates() bool {
	return a == ActionNewTopic || a == ActionIncreaseProficiency
}

// ErrInvalidDecision is returned when a model reply does not match the decision schema.
var ErrInvalidDecision = errors.New("invalid decision")

// Decision is a validated model reply.
type Decision struct {
	Response        string `json:"response"`
	IsFactuallyTrue bool   `json:"is_factually_true"`
	Action          Action `json:"action"`
	TopicName       string `json:"topic_name"`
	NewProficiency  int    `json:"new_proficiency"`
}

// Effective returns the action to apply. Statements judged untrue never
// change the knowledge model, whatever action the model declared.
func (d Decision) Effective() Action {
	if !d.IsFactuallyTrue {
		return ActionNoChange
	}
	return d.Action
}

var decisionFields = []string{"response", "is_factually_true", "action", "topic_name", "new_proficiency"}

// ParseDecision decodes a raw model reply. The reply must be a single JSON
// object carrying every decision field with the right type; markdown code
// fences around it are tolerated.
func ParseDecision(raw string) (Decision, error) {
	payload := stripCodeFence(raw)
	if payload == "" {
		return Decision{}, fmt.Errorf("%w: empty reply", ErrInvalidDecision)
	}

	dec := json.NewDecoder(strings.NewReader(payload))
	dec.UseNumber()
	var fields map[string]json.RawMessage
	if err := dec.Decode(&fields); err != nil {
		return Decision{}, fmt.Errorf("%w: %v", ErrInvalidDecision, err)
	}
	if fields == nil {
		return Decision{}, fmt.Errorf("%w: reply is not an object", ErrInvalidDecision)
	}
	if dec.More() {
		return Decision{}, fmt.Errorf("%w: trailing data after object", ErrInvalidDecision)
	}

	for _, name := range decisionFields {
		if _, ok := fields[name]; !ok {
			return Decision{}, fmt.Errorf("%w: missing field %q", ErrInvalidDecision, name)
		}
	}

	var d Decision
	var action string
	var proficiency float64
	if err := decodeField(fields, "response", &d.Response); err != nil {
		return Decision{}, err
	}
	if err := decodeField(fields, "is_factually_true", &d.IsFactuallyTrue); err != nil {
		return Decision{}, err
	}
	if err := decodeField(fields, "action", &action); err != nil {
		return Decision{}, err
	}
	if err := decodeField(fields, "topic_name", &d.TopicName); err != nil {
		return Decision{}, err
	}
	if err := decodeField(fields, "new_proficiency", &proficiency); err != nil {
		return Decision{}, err
	}

	d.Action = Action(action)
	d.TopicName = strings.TrimSpace(d.TopicName)
	d.NewProficiency = int(math.Round(proficiency))

	if !d.Action.Valid() {
		return Decision{}, fmt.Errorf("%w: unknown action %q", ErrInvalidDecision, action)
	}
	if strings.TrimSpace(d.Response) == "" {
		return Decision{}, fmt.Errorf("%w: empty response", ErrInvalidDecision)
	}
	// Untrue statements never mutate, so their companion fields are not checked.
	if d.IsFactuallyTrue && d.Action.Mutates() {
		if d.TopicName == "" {
			return Decision{}, fmt.Errorf("%w: %s requires topic_name", ErrInvalidDecision, d.Action)
		}
		if d.NewProficiency < domain.MinProficiency || d.NewProficiency > domain.MaxProficiency {
			return Decision{}, fmt.Errorf("%w: new_proficiency %d out of range", ErrInvalidDecision, d.NewProficiency)
		}
	}

	return d, nil
}

// decodeField unmarshals one field and rejects JSON null and type mismatches.
func decodeField(fields map[string]json.RawMessage, name string, dst any) error {
	raw := bytes.TrimSpace(fields[name])
	if bytes.Equal(raw, []byte("null")) {
		return fmt.Errorf("%w: field %q is null", ErrInvalidDecision, name)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("%w: field %q: %v", ErrInvalidDecision, name, err)
	}
	return nil
}

// stripCodeFence removes a surrounding ``` or ```json fence.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	} else {
		s = strings.TrimPrefix(s, "json")
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
