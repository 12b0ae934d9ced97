// Package commitmsg suggests a commit message for the staged changes of a
// repository using the Claude Messages API.
package commitmsg

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/gitdeck/gitdeck/internal/config"
	"github.com/gitdeck/gitdeck/internal/gateway"
	"github.com/gitdeck/gitdeck/internal/vcs"
)

// DefaultModel is used when the settings name none
const DefaultModel = "claude-3-5-haiku-latest"

// maxDiffBytes bounds the diff sent with a request
const maxDiffBytes = 24 * 1024

var (
	// ErrDisabled is returned when AI assistance is turned off
	ErrDisabled = errors.New("AI commit messages are disabled")

	// ErrNothingStaged is returned when there is no staged change to describe
	ErrNothingStaged = errors.New("no staged changes")
)

const systemPrompt = `You write git commit messages. Reply with a single line of at most 72 characters in the imperative mood describing the change. No quotes, no trailing period, no body.`

// DiffSource reads the staged changes of a repository. *gateway.Gateway implements it.
type DiffSource interface {
	Status(ctx context.Context, path string) (gateway.Result[[]vcs.FileChange], error)
	FileDiff(ctx context.Context, path, file string, staged bool) (gateway.Result[string], error)
}

// Generator produces commit messages
type Generator struct {
	client anthropic.Client
	model  string
	logger *log.Logger
}

// New creates a generator from the AI settings. Extra request options are
// passed to the API client.
func New(settings config.AISettings, logger *log.Logger, opts ...option.RequestOption) (*Generator, error) {
	if !settings.Enabled {
		return nil, ErrDisabled
	}
	key := settings.APIKey
	if key == "" {
		key = os.Getenv("ANTHROPIC_API_KEY")
	}
	if key == "" {
		return nil, fmt.Errorf("AI commit messages need an API key (settings ai.apiKey or ANTHROPIC_API_KEY)")
	}
	if logger == nil {
		logger = log.New(os.Stderr, "[commitmsg] ", log.LstdFlags)
	}
	model := settings.Model
	if model == "" {
		model = DefaultModel
	}

	opts = append([]option.RequestOption{option.WithAPIKey(key)}, opts...)
	return &Generator{
		client: anthropic.NewClient(opts...),
		model:  model,
		logger: logger,
	}, nil
}

// Generate suggests a subject line for the staged changes of the repository at path
func (g *Generator) Generate(ctx context.Context, src DiffSource, path string) gateway.Result[string] {
	diff, err := stagedDiff(ctx, src, path)
	if err != nil {
		return gateway.Fail[string](err)
	}

	msg, err := g.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(g.model),
		MaxTokens: 128,
		System:    []anthropic.TextBlockParam{{Text: systemPrompt}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock("Staged changes:\n\n" + diff)),
		},
	})
	if err != nil {
		g.logger.Printf("message request failed: %v", err)
		return gateway.Fail[string](fmt.Errorf("failed to generate commit message: %w", err))
	}

	var text strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	subject := Subject(text.String())
	if subject == "" {
		return gateway.Fail[string](errors.New("empty commit message suggestion"))
	}
	return gateway.OK(subject)
}

// stagedDiff concatenates the staged diffs of every staged file, truncated
// to maxDiffBytes.
func stagedDiff(ctx context.Context, src DiffSource, path string) (string, error) {
	res, err := src.Status(ctx, path)
	if err == nil {
		err = res.Err()
	}
	if err != nil {
		return "", err
	}

	var b strings.Builder
	for _, fc := range res.Data {
		if !fc.Staged {
			continue
		}
		d, err := src.FileDiff(ctx, path, fc.Path, true)
		if err == nil {
			err = d.Err()
		}
		if err != nil {
			return "", err
		}
		fmt.Fprintf(&b, "--- %s (%s)\n%s\n", fc.Path, fc.Kind, d.Data)
		if b.Len() >= maxDiffBytes {
			break
		}
	}
	if b.Len() == 0 {
		return "", ErrNothingStaged
	}

	out := b.String()
	if len(out) > maxDiffBytes {
		out = out[:maxDiffBytes] + "\n[diff truncated]"
	}
	return out, nil
}

// Subject reduces a model reply to a one-line subject
func Subject(reply string) string {
	line := strings.TrimSpace(reply)
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = strings.TrimSpace(line[:i])
	}
	line = strings.Trim(line, "\"'`")
	line = strings.TrimSuffix(line, ".")
	return strings.TrimSpace(line)
}
