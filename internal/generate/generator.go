// Package generate drives the text generator and turns its replies into
// candidate formulas, retrying with corrective feedback until a reply
// yields something new.
package generate

import (
	"context"
	"strings"
)

// Role identifies the speaker of a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn of the conversation sent to the generator.
type Message struct {
	Role    Role   `json:"role" yaml:"role"`
	Content string `json:"content" yaml:"content"`
}

// Generator produces free-form text from a message history.
// Any returned error is treated as transient.
type Generator interface {
	Generate(ctx context.Context, messages []Message, temperature float64) (string, error)
}

// GeneratorFunc adapts a function to the Generator interface.
type GeneratorFunc func(ctx context.Context, messages []Message, temperature float64) (string, error)

// Generate implements Generator.
func (f GeneratorFunc) Generate(ctx context.Context, messages []Message, temperature float64) (string, error) {
	return f(ctx, messages, temperature)
}

// AppendToLast concatenates text onto the content of the last message in
// place. It does nothing for an empty history.
func AppendToLast(messages []Message, text string) {
	if len(messages) == 0 {
		return
	}
	last := &messages[len(messages)-1]
	if last.Content != "" && !strings.HasSuffix(last.Content, " ") && !strings.HasSuffix(last.Content, "\n") {
		last.Content += " "
	}
	last.Content += text
}
