package answer

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/SLU-IT-arkitektur/slu-docbot/internal/store"
)

// buildPrompt assembles the completion prompt from retrieved sections.
// ok is false when the surviving context is too thin to answer from.
//
// The instructions go last so that instructions smuggled into section text
// or the question are overridden by the real ones.
func (h *Handler) buildPrompt(logger *slog.Logger, query string, matches []store.SectionMatch) (prompt string, refs []store.SectionRef, ok bool) {
	budget := modelWindowTokens - responseReserveTokens - h.instructionTokens - h.codec.Count(query) - promptMarginTokens

	context, used := h.assembleContext(logger, matches, budget)
	if used < minContextTokens {
		logger.Info("insufficient context to answer", "context_tokens", used, "matches", len(matches))
		return "", nil, false
	}

	for _, m := range matches {
		refs = append(refs, store.SectionRef{Header: m.Header, AnchorURL: m.AnchorURL})
	}

	prompt = fmt.Sprintf("context: \"\"\"%s\"\"\"\n\nquestion: \"\"\"%s\"\"\"\n\nprompt: \"\"\"%s\"\"\"\n\nanswer: ",
		context, query, h.instructions)
	return prompt, refs, true
}

// assembleContext concatenates section texts in similarity order, skipping
// sections below the similarity floor. When the running token total passes
// the budget, the context is cut to exactly the budget on a token boundary
// and assembly stops.
func (h *Handler) assembleContext(logger *slog.Logger, matches []store.SectionMatch, budget int) (string, int) {
	var b strings.Builder
	used := 0

	for _, m := range matches {
		if m.Similarity < h.sectionMinSimilarity {
			logger.Debug("section below similarity floor",
				"header", m.Header,
				"similarity", m.Similarity)
			continue
		}

		cost := m.NumTokens
		if cost == 0 {
			cost = h.codec.Count(m.Body)
		}

		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(m.Header)
		b.WriteString("\n")
		b.WriteString(m.Body)
		used += cost

		if used > budget {
			logger.Debug("context truncated to token budget",
				"header", m.Header,
				"total", used,
				"budget", budget)
			return h.codec.Truncate(b.String(), budget), budget
		}
	}

	return b.String(), used
}
