package llm

import (
	"context"
	"errors"
	"sync"
)

// ErrScriptExhausted is returned when a ScriptedModel runs out of replies.
var ErrScriptExhausted = errors.New("scripted model has no replies left")

// Reply is one scripted model turn.
type Reply struct {
	Text string
	Err  error
}

// ScriptedModel replays fixed replies in order and records every call.
// It is safe for concurrent use.
type ScriptedModel struct {
	mu      sync.Mutex
	replies []Reply
	calls   [][]Message
}

// NewScriptedModel returns a model that answers with texts in order.
func NewScriptedModel(texts ...string) *ScriptedModel {
	m := &ScriptedModel{}
	for _, t := range texts {
		m.replies = append(m.replies, Reply{Text: t})
	}
	return m
}

// Push appends replies to the script.
func (m *ScriptedModel) Push(replies ...Reply) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.replies = append(m.replies, replies...)
}

// Chat returns the next scripted reply.
func (m *ScriptedModel) Chat(ctx context.Context, messages []Message) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, append([]Message(nil), messages...))
	if len(m.replies) == 0 {
		return "", ErrScriptExhausted
	}
	r := m.replies[0]
	m.replies = m.replies[1:]
	return r.Text, r.Err
}

// Calls returns a copy of the conversations received so far.
func (m *ScriptedModel) Calls() [][]Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]Message(nil), m.calls...)
}

// CallCount returns the number of Chat calls.
func (m *ScriptedModel) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}
