package schema

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/mohammad-safakhou/veritas/internal/llm"
)

// ParseError is returned once local parsing and the fix-up attempts are
// exhausted.
type ParseError struct {
	Schema string
	Raw    string
	Err    error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s output: %v", e.Schema, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Parser turns LLM response text into typed records. On failure it asks a
// cheap fix-up model to reformat the text against the schema's format
// instructions, up to attempts times.
type Parser struct {
	gateway     llm.Gateway
	repairModel string
	attempts    int
	logger      *log.Logger
}

// NewParser creates a parser. repairModel may be empty to disable repair.
func NewParser(gateway llm.Gateway, repairModel string, attempts int, logger *log.Logger) *Parser {
	if attempts <= 0 {
		attempts = 3
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[PARSER] ", log.LstdFlags)
	}
	return &Parser{gateway: gateway, repairModel: repairModel, attempts: attempts, logger: logger}
}

// Parse decodes text against def into out, repairing via the fix-up model
// when the local decode or validation fails.
func (p *Parser) Parse(ctx context.Context, text string, def Definition, out interface{}) error {
	if err := decode(text, def, out); err == nil {
		return nil
	} else if p.gateway == nil || p.repairModel == "" {
		return &ParseError{Schema: def.Name, Raw: text, Err: err}
	}

	var lastErr error
	current := text
	for attempt := 1; attempt <= p.attempts; attempt++ {
		fixed, err := p.repair(ctx, current, def)
		if err != nil {
			lastErr = err
			continue
		}
		if err := decode(fixed, def, out); err == nil {
			p.logger.Printf("repaired %s output on attempt %d", def.Name, attempt)
			return nil
		} else {
			lastErr = err
			current = fixed
		}
	}
	return &ParseError{Schema: def.Name, Raw: text, Err: lastErr}
}

// InvokeStructured performs a chat completion and decodes the reply against
// def, repairing on failure. The raw reply text is returned for callers that
// meter token usage.
func (p *Parser) InvokeStructured(ctx context.Context, gw llm.Gateway, model string, msgs []llm.Message, def Definition, out interface{}) (string, error) {
	msg, err := gw.Invoke(ctx, model, msgs)
	if err != nil {
		return "", err
	}
	return msg.Content, p.Parse(ctx, msg.Content, def, out)
}

func (p *Parser) repair(ctx context.Context, text string, def Definition) (string, error) {
	prompt := fmt.Sprintf(
		"The following text was supposed to be a JSON object but does not conform.\n%s\nOriginal text:\n%s\nReturn the corrected JSON object and nothing else.",
		def.FormatInstructions(), text)
	msg, err := p.gateway.Invoke(ctx, p.repairModel, []llm.Message{{Role: llm.RoleUser, Content: prompt}})
	if err != nil {
		return "", err
	}
	return msg.Content, nil
}

func decode(text string, def Definition, out interface{}) error {
	raw := ExtractJSON(text)
	var probe map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &probe); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	if err := def.Validate(probe); err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return fmt.Errorf("decode into target: %w", err)
	}
	return nil
}

// ExtractJSON finds the first top-level JSON object in a string, tolerating
// surrounding prose and markdown fences.
func ExtractJSON(s string) string {
	start := -1
	depth := 0
	inString := false
	escaped := false
	for i, ch := range s {
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			if depth > 0 {
				inString = true
			}
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			if depth > 0 {
				depth--
			}
			if depth == 0 && start != -1 {
				return s[start : i+1]
			}
		}
	}
	return s
}
