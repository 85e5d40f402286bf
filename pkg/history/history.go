// Package history keeps the dialogue of one agent session.
package history

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/harunnryd/closer/pkg/llm"
)

type ItemType string

const (
	ItemMessage            ItemType = "message"
	ItemFunctionCall       ItemType = "function_call"
	ItemFunctionCallOutput ItemType = "function_call_output"
)

// Item is one dialogue entry. Message items use Role and Content; function
// call items use CallID, Name and Arguments; outputs use CallID, Name, Output
// and IsError.
type Item struct {
	ID          string    `json:"id"`
	Type        ItemType  `json:"type"`
	Role        llm.Role  `json:"role,omitempty"`
	Content     []string  `json:"content,omitempty"`
	Interrupted bool      `json:"interrupted,omitempty"`
	CallID      string    `json:"call_id,omitempty"`
	Name        string    `json:"name,omitempty"`
	Arguments   string    `json:"arguments,omitempty"`
	Output      string    `json:"output,omitempty"`
	IsError     bool      `json:"is_error,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Document is the exported form of a History.
type Document struct {
	Items []Item `json:"items"`
}

// ErrClosed is returned by Export after the history has been discarded.
var ErrClosed = errors.New("history: closed")

// History is a concurrency-safe, append-only dialogue log.
type History struct {
	mu     sync.RWMutex
	items  []Item
	closed bool
	now    func() time.Time
}

func New() *History {
	return &History{now: time.Now}
}

func (h *History) AddMessage(role llm.Role, text string) Item {
	return h.add(Item{Type: ItemMessage, Role: role, Content: []string{text}})
}

func (h *History) AddFunctionCall(call llm.ToolCall) Item {
	args, err := json.Marshal(call.Arguments)
	if err != nil || call.Arguments == nil {
		args = []byte("{}")
	}
	return h.add(Item{Type: ItemFunctionCall, CallID: call.ID, Name: call.Name, Arguments: string(args)})
}

func (h *History) AddFunctionOutput(callID, name, output string, isError bool) Item {
	return h.add(Item{Type: ItemFunctionCallOutput, CallID: callID, Name: name, Output: output, IsError: isError})
}

func (h *History) add(it Item) Item {
	h.mu.Lock()
	defer h.mu.Unlock()
	it.ID = "item_" + uuid.NewString()
	it.CreatedAt = h.now().UTC()
	h.items = append(h.items, it)
	return it
}

func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.items)
}

func (h *History) Items() []Item {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return append([]Item(nil), h.items...)
}

// Export returns a copy of the dialogue suitable for JSON serialization.
func (h *History) Export() (any, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return nil, ErrClosed
	}
	return Document{Items: append([]Item{}, h.items...)}, nil
}

// Close discards the dialogue. Further Export calls fail with ErrClosed.
func (h *History) Close() {
	h.mu.Lock()
	h.items = nil
	h.closed = true
	h.mu.Unlock()
}

// Messages renders the last maxItems entries as model messages. Consecutive
// function calls fold into one assistant message, and the window never starts
// with an orphaned function output. maxItems <= 0 means no limit.
func (h *History) Messages(maxItems int) []llm.Message {
	items := h.Items()
	if maxItems > 0 && len(items) > maxItems {
		items = items[len(items)-maxItems:]
	}
	for len(items) > 0 && items[0].Type == ItemFunctionCallOutput {
		items = items[1:]
	}
	out := make([]llm.Message, 0, len(items))
	for _, it := range items {
		switch it.Type {
		case ItemMessage:
			text := ""
			if len(it.Content) > 0 {
				text = it.Content[0]
			}
			out = append(out, llm.Message{Role: it.Role, Content: text})
		case ItemFunctionCall:
			call := llm.ToolCall{ID: it.CallID, Name: it.Name}
			_ = json.Unmarshal([]byte(it.Arguments), &call.Arguments)
			if n := len(out); n > 0 && out[n-1].Role == llm.RoleAssistant && len(out[n-1].ToolCalls) > 0 && out[n-1].Content == "" {
				out[n-1].ToolCalls = append(out[n-1].ToolCalls, call)
				continue
			}
			out = append(out, llm.Message{Role: llm.RoleAssistant, ToolCalls: []llm.ToolCall{call}})
		case ItemFunctionCallOutput:
			out = append(out, llm.Message{Role: llm.RoleTool, Content: it.Output, ToolCallID: it.CallID})
		}
	}
	return out
}
