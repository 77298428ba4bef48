package reindex

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/SLU-IT-arkitektur/slu-docbot/internal/store"
)

// TokenCounter measures section bodies against the model's tokenizer.
// *tokens.Codec satisfies it.
type TokenCounter interface {
	Count(text string) int
}

// FileSource reads pre-extracted sections from a JSON file and enriches
// them with token counts and embeddings. Extraction of sections out of the
// handbook itself happens upstream; this file is the handover format.
type FileSource struct {
	path     string
	embedder Embedder
	codec    TokenCounter
	logger   *slog.Logger
}

type rawSection struct {
	Header    string `json:"header"`
	Body      string `json:"body"`
	AnchorURL string `json:"anchor_url"`
}

func NewFileSource(path string, embedder Embedder, codec TokenCounter, logger *slog.Logger) *FileSource {
	if logger == nil {
		logger = slog.Default()
	}
	return &FileSource{path: path, embedder: embedder, codec: codec, logger: logger}
}

// Sections loads, validates and embeds every section in the file.
func (s *FileSource) Sections(ctx context.Context) ([]store.Section, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("reading section file: %w", err)
	}

	var raw []rawSection
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing section file %s: %w", s.path, err)
	}

	sections := make([]store.Section, 0, len(raw))
	seen := make(map[string]bool, len(raw))
	for i, r := range raw {
		if r.Header == "" || r.Body == "" {
			return nil, fmt.Errorf("section %d in %s is missing header or body", i, s.path)
		}
		if seen[r.Header] {
			return nil, fmt.Errorf("duplicate section header %q in %s", r.Header, s.path)
		}
		seen[r.Header] = true

		embedding, err := s.embedder.Embed(ctx, r.Header+"\n"+r.Body)
		if err != nil {
			return nil, fmt.Errorf("embedding section %q: %w", r.Header, err)
		}

		sections = append(sections, store.Section{
			Header:    r.Header,
			Body:      r.Body,
			AnchorURL: r.AnchorURL,
			NumTokens: s.codec.Count(r.Body),
			Embedding: embedding,
		})
	}

	s.logger.Info("sections loaded and embedded", "file", s.path, "count", len(sections))
	return sections, nil
}

// LoadQAPairs reads the quality-gate probe set from a JSON file.
func LoadQAPairs(path string) ([]QAPair, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading qa file: %w", err)
	}
	var pairs []QAPair
	if err := json.Unmarshal(data, &pairs); err != nil {
		return nil, fmt.Errorf("parsing qa file %s: %w", path, err)
	}
	for i, p := range pairs {
		if p.Question == "" || p.Answer == "" {
			return nil, fmt.Errorf("qa pair %d in %s is missing question or answer", i, path)
		}
	}
	return pairs, nil
}
