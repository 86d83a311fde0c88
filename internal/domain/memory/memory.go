// Package memory defines the conversational memory kept per agent.
package memory

import (
	"errors"
	"strings"
	"time"
)

// Role identifies who produced a memory entry.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	}
	return false
}

// Entry is one remembered message.
type Entry struct {
	ID        string    `json:"id"`
	AgentID   string    `json:"agent_id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// TaskSummary formats the memory line recorded after a task run.
func TaskSummary(prompt, output string) string {
	return "Task: " + prompt + "\nResult: " + output
}

// ChatRequest is the input for chatting with an agent.
type ChatRequest struct {
	Message string `json:"message"`
}

// Validate requires a non-blank message.
func (r *ChatRequest) Validate() error {
	r.Message = strings.TrimSpace(r.Message)
	if r.Message == "" {
		return errors.New("message is required")
	}
	return nil
}

// ChatResponse carries the agent reply.
type ChatResponse struct {
	Response string `json:"response"`
}
