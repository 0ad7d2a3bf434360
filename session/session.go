package session

import (
	"github.com/google/uuid"
	"github.com/m4xw311/docchat/tools"
)

// Session owns the conversation history and the tool catalog of one logical
// conversation. History only grows; nothing is persisted.
type Session struct {
	ID       string
	messages []Message
	tools    []tools.Declaration
}

// New creates an empty session that declares the given tools to the model.
func New(catalog []tools.Declaration) *Session {
	return &Session{
		ID:    uuid.NewString(),
		tools: append([]tools.Declaration(nil), catalog...),
	}
}

// AddMessage appends a message to the session history.
func (s *Session) AddMessage(msg Message) {
	msg.Content = append([]Block(nil), msg.Content...)
	s.messages = append(s.messages, msg)
}

// Messages returns a copy of the history in chronological order.
func (s *Session) Messages() []Message {
	return append([]Message(nil), s.messages...)
}

// Len returns the number of messages in the history.
func (s *Session) Len() int {
	return len(s.messages)
}

// Last returns the most recent message, if any.
func (s *Session) Last() (Message, bool) {
	if len(s.messages) == 0 {
		return Message{}, false
	}
	return s.messages[len(s.messages)-1], true
}

// Tools returns the tool catalog fixed at session start.
func (s *Session) Tools() []tools.Declaration {
	return append([]tools.Declaration(nil), s.tools...)
}
