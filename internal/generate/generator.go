// Package generate turns a prompt template and a Go struct schema into a
// schema-conforming value, repairing malformed model output along the way.
package generate

import (
	"context"
	"fmt"

	"github.com/jmsrpp/btp-cap-genai-rag/internal/llm"
	"go.uber.org/zap"
)

const repairTemplate = `Instructions:
--------------
{instructions}
--------------
Completion:
--------------
{completion}
--------------

Above, the Completion did not satisfy the constraints given in the Instructions.
Error:
--------------
{error}
--------------

Please try again. Please only respond with an answer that satisfies the constraints laid out in the Instructions:`

// Generator runs structured generations against a chat model. It holds no
// per-call state and is safe for concurrent use.
type Generator struct {
	model      llm.ChatModel
	maxRepairs int
	logger     *zap.Logger
}

// Option configures a Generator.
type Option func(*Generator)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(g *Generator) {
		g.logger = logger
	}
}

// WithMaxRepairs sets how many repair calls follow a malformed reply.
func WithMaxRepairs(n int) Option {
	return func(g *Generator) {
		if n >= 0 {
			g.maxRepairs = n
		}
	}
}

// New creates a generator over model with one repair attempt.
func New(model llm.ChatModel, opts ...Option) *Generator {
	g := &Generator{model: model, maxRepairs: 1, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Request is one structured generation.
type Request struct {
	Template Template
	Schema   *Schema
	Slots    map[string]string
	// Context documents are stuffed into the {context} slot.
	Context []string
	// Prepare rewrites the raw reply before parsing.
	Prepare func(string) string
}

// Generate renders the request, calls the model and parses the reply into T.
// A reply that fails to parse is sent back once per allowed repair together
// with the parse error. Transport failures are returned as is; output that
// never conforms yields a *GenerationError.
func Generate[T any](ctx context.Context, g *Generator, req Request) (T, error) {
	var zero T
	messages, instructions, err := g.prompt(req)
	if err != nil {
		return zero, err
	}

	reply, err := g.model.Chat(ctx, messages)
	if err != nil {
		return zero, fmt.Errorf("%s: %w", req.Schema.Name, err)
	}
	for attempt := 0; ; attempt++ {
		text := reply
		if req.Prepare != nil {
			text = req.Prepare(text)
		}
		out, perr := parse[T](text)
		if perr == nil {
			return out, nil
		}
		if attempt >= g.maxRepairs {
			return zero, &GenerationError{Schema: req.Schema.Name, Attempts: attempt + 1, Output: reply, Err: perr}
		}
		g.logger.Debug("repairing malformed output",
			zap.String("schema", req.Schema.Name),
			zap.Int("attempt", attempt+1),
			zap.Error(perr))

		fix, err := render(repairTemplate, map[string]string{
			"instructions": instructions,
			"completion":   reply,
			"error":        perr.Error(),
		})
		if err != nil {
			return zero, err
		}
		reply, err = g.model.Chat(ctx, []llm.Message{{Role: llm.RoleUser, Content: fix}})
		if err != nil {
			return zero, fmt.Errorf("%s repair: %w", req.Schema.Name, err)
		}
	}
}

func (g *Generator) prompt(req Request) ([]llm.Message, string, error) {
	if req.Schema == nil {
		return nil, "", fmt.Errorf("generation request without schema")
	}
	instructions := req.Schema.FormatInstructions()
	slots := make(map[string]string, len(req.Slots)+2)
	for k, v := range req.Slots {
		slots[k] = v
	}
	slots[SlotFormatInstructions] = instructions
	slots[SlotContext] = stuff(req.Context)

	system, err := render(req.Template.System, slots)
	if err != nil {
		return nil, "", fmt.Errorf("%s system prompt: %w", req.Schema.Name, err)
	}
	human, err := render(req.Template.Human, slots)
	if err != nil {
		return nil, "", fmt.Errorf("%s human prompt: %w", req.Schema.Name, err)
	}
	return []llm.Message{
		{Role: llm.RoleSystem, Content: system},
		{Role: llm.RoleUser, Content: human},
	}, instructions, nil
}
