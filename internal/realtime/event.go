package realtime

import (
	"github.com/ashureev/gemini-learner/internal/domain"
)

// Event RPC names.
const (
	RPCWelcome            = "welcome"
	RPCAddMessage         = "addMessage"
	RPCAddSessionTopic    = "addSessionTopic"
	RPCUpdateSessionTopic = "updateSessionTopic"
	RPCPong               = "pong"
)

// Event is a JSON message pushed to a client.
type Event struct {
	RPC     string          `json:"rpc"`
	Text    string          `json:"text,omitempty"`
	Session *SessionState   `json:"session,omitempty"`
	Message *domain.Message `json:"message,omitempty"`
	Topic   *TopicPayload   `json:"topic,omitempty"`
}

// SessionState is the session part of an addMessage event.
type SessionState struct {
	Busy bool `json:"is_busy"`
}

// TopicPayload describes a topic change.
type TopicPayload struct {
	InsertID    int64  `json:"insertId,omitempty"`
	Name        string `json:"topic_name"`
	Proficiency int    `json:"proficiency"`
}

// WelcomeEvent greets a freshly admitted connection.
func WelcomeEvent() Event {
	return Event{RPC: RPCWelcome, Text: "Connected to Gemini Learner"}
}

// AddMessageEvent announces a new AI message. busy is true while further
// turns for the session are still pending.
func AddMessageEvent(msg *domain.Message, busy bool) Event {
	return Event{
		RPC:     RPCAddMessage,
		Session: &SessionState{Busy: busy},
		Message: msg,
	}
}

// AddTopicEvent announces a newly learned topic.
func AddTopicEvent(id int64, name string, proficiency int) Event {
	return Event{
		RPC:   RPCAddSessionTopic,
		Topic: &TopicPayload{InsertID: id, Name: name, Proficiency: proficiency},
	}
}

// UpdateTopicEvent announces a proficiency change.
func UpdateTopicEvent(name string, proficiency int) Event {
	return Event{
		RPC:   RPCUpdateSessionTopic,
		Topic: &TopicPayload{Name: name, Proficiency: proficiency},
	}
}
