// Package chat answers questions about the site from the indexed content.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/openai/openai-go"

	"github.com/bull/csa-content-sync/internal/observability"
	"github.com/bull/csa-content-sync/internal/storage"
)

const (
	// DefaultModel is the chat model used when none is configured.
	DefaultModel = "gpt-4o-mini"
	// DefaultTopK is the number of chunks retrieved per question.
	DefaultTopK = 5
	// DefaultMaxContextTokens bounds the retrieved context sent to the model.
	DefaultMaxContextTokens = 16000
)

// NoContextAnswer is returned when retrieval finds nothing.
const NoContextAnswer = "I couldn't find anything about that on our site. Please try rephrasing your question."

const systemPrompt = `You are the assistant on a community organization's website.
Answer using only the site content provided below. If the content does not
cover the question, say so briefly. When you mention a page, link it with
markdown using the source URL it came from. Keep answers short and friendly.`

// QueryEmbedder embeds a single query text.
type QueryEmbedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Config holds Responder dependencies.
type Config struct {
	Client           *openai.Client
	Embedder         QueryEmbedder
	Index            storage.VectorIndex
	Model            string
	TopK             int
	MaxContextTokens int
	Logger           *slog.Logger
}

// Responder retrieves relevant chunks and asks the chat model to answer from them.
type Responder struct {
	client    *openai.Client
	embedder  QueryEmbedder
	index     storage.VectorIndex
	model     string
	topK      int
	maxTokens int
	log       *slog.Logger
}

// NewResponder creates a responder. Client may be nil for search-only use.
func NewResponder(cfg Config) *Responder {
	r := &Responder{
		client:    cfg.Client,
		embedder:  cfg.Embedder,
		index:     cfg.Index,
		model:     cfg.Model,
		topK:      cfg.TopK,
		maxTokens: cfg.MaxContextTokens,
		log:       cfg.Logger,
	}
	if r.model == "" {
		r.model = DefaultModel
	}
	if r.topK <= 0 {
		r.topK = DefaultTopK
	}
	if r.maxTokens <= 0 {
		r.maxTokens = DefaultMaxContextTokens
	}
	if r.log == nil {
		r.log = slog.Default()
	}
	return r
}

// SearchOptions narrows a search.
type SearchOptions struct {
	Namespace string
	Filter    storage.Filter
	TopK      int
	MinScore  float64
}

// Search returns the chunks most similar to query, best first.
func (r *Responder) Search(ctx context.Context, query string, opts SearchOptions) ([]storage.Match, error) {
	if strings.TrimSpace(query) == "" {
		return nil, errors.New("empty query")
	}
	topK := opts.TopK
	if topK <= 0 {
		topK = r.topK
	}

	vec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	matches, err := r.index.Query(ctx, vec, topK, opts.Namespace, opts.Filter)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	out := matches[:0]
	for _, m := range matches {
		if m.Score >= opts.MinScore {
			out = append(out, m)
		}
	}
	return out, nil
}

// Answer is a chat reply.
type Answer struct {
	// Text is the model's markdown answer.
	Text string `json:"text"`
	// HTML is Text with markdown links rewritten as anchors.
	HTML    string   `json:"html"`
	Sources []string `json:"sources"`
}

// Answer answers question from the content retrieved for it.
func (r *Responder) Answer(ctx context.Context, question string, opts SearchOptions) (ans *Answer, err error) {
	if r.client == nil {
		return nil, errors.New("chat model not configured")
	}

	ctx, span := observability.StartSpan(ctx, "chat.Answer")
	defer func() { observability.EndSpan(span, err) }()

	matches, err := r.Search(ctx, question, opts)
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return &Answer{Text: NoContextAnswer, HTML: NoContextAnswer, Sources: []string{}}, nil
	}

	prompt, sources := r.buildPrompt(question, matches)
	resp, err := r.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(prompt),
		},
		Model:       openai.ChatModel(r.model),
		Temperature: openai.Float(0.2),
	})
	if err != nil {
		return nil, fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("chat completion returned no choices")
	}

	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	return &Answer{Text: text, HTML: ConvertMarkdownLinks(text), Sources: sources}, nil
}

// buildPrompt lays the matches out as sourced context, dropping matches
// once the context budget is spent.
func (r *Responder) buildPrompt(question string, matches []storage.Match) (string, []string) {
	// Rough estimate: 1 token ≈ 4 characters
	budget := r.maxTokens * 4

	var b strings.Builder
	b.WriteString("Site content:\n\n")
	seen := make(map[string]bool)
	sources := []string{}
	for _, m := range matches {
		block := fmt.Sprintf("Source: %s\n%s\n\n", m.Chunk.Source, m.Chunk.Text)
		if b.Len()+len(block) > budget {
			r.log.Warn("truncating chat context", "kept", len(sources), "matches", len(matches))
			break
		}
		b.WriteString(block)
		if !seen[m.Chunk.Source] {
			seen[m.Chunk.Source] = true
			sources = append(sources, m.Chunk.Source)
		}
	}
	fmt.Fprintf(&b, "Question: %s", question)
	return b.String(), sources
}
