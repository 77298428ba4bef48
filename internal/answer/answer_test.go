package answer

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/goleak"

	"github.com/SLU-IT-arkitektur/slu-docbot/internal/i18n"
	"github.com/SLU-IT-arkitektur/slu-docbot/internal/llm"
	"github.com/SLU-IT-arkitektur/slu-docbot/internal/log"
	"github.com/SLU-IT-arkitektur/slu-docbot/internal/store"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeStorage struct {
	active       store.Generation
	matches      []store.SectionMatch
	searchErr    error
	version      string
	interactions []store.Interaction

	searchedGen store.Generation
	feedbackID  uuid.UUID
	feedbackVal string
	feedbackErr error
}

func (f *fakeStorage) SearchSections(_ context.Context, gen store.Generation, _ []float32, _ int) ([]store.SectionMatch, error) {
	f.searchedGen = gen
	return f.matches, f.searchErr
}

func (f *fakeStorage) ActiveGeneration(_ context.Context) (store.Generation, error) {
	return f.active, nil
}

func (f *fakeStorage) PassiveGeneration(_ context.Context) (store.Generation, error) {
	return f.active.Passive(), nil
}

func (f *fakeStorage) EmbeddingsVersion(_ context.Context) (string, error) {
	return f.version, nil
}

func (f *fakeStorage) SaveInteraction(_ context.Context, it store.Interaction) error {
	f.interactions = append(f.interactions, it)
	return nil
}

func (f *fakeStorage) SetFeedback(_ context.Context, id uuid.UUID, feedback, _ string) error {
	f.feedbackID = id
	f.feedbackVal = feedback
	return f.feedbackErr
}

type fakeCache struct {
	hit       *store.CacheHit
	lookupErr error

	lookups int
	stored  bool
}

func (f *fakeCache) Lookup(_ context.Context, _ string) (*store.CacheHit, error) {
	f.lookups++
	return f.hit, f.lookupErr
}

func (f *fakeCache) Store(_ context.Context, _, _ string, _ []store.SectionRef) error {
	f.stored = true
	return nil
}

type fakeEmbedder struct {
	err error
}

func (f *fakeEmbedder) Embed(_ context.Context, _ string) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []float32{0.1, 0.2, 0.3}, nil
}

type fakeCompleter struct {
	text   string
	err    error
	block  bool
	prompt string
	calls  int
}

func (f *fakeCompleter) Complete(ctx context.Context, prompt string) (string, error) {
	f.calls++
	f.prompt = prompt
	if f.block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	return f.text, f.err
}

// wordCounter stands in for the tiktoken codec so tests stay offline.
// One word is one token.
type wordCounter struct{}

func (wordCounter) Count(text string) int { return len(strings.Fields(text)) }

func (wordCounter) Truncate(text string, maxTokens int) string {
	words := strings.Fields(text)
	if len(words) <= maxTokens {
		return text
	}
	return strings.Join(words[:maxTokens], " ")
}

func goodMatches() []store.SectionMatch {
	return []store.SectionMatch{
		{Section: store.Section{Header: "1. Kursplan", Body: "En kursplan beskriver kursens mål.", AnchorURL: "https://example.se/#kursplan", NumTokens: 200}, Similarity: 0.91},
		{Section: store.Section{Header: "2. Betyg", Body: "Betyg sätts efter avslutad kurs.", NumTokens: 150}, Similarity: 0.85},
	}
}

type testEnv struct {
	storage   *fakeStorage
	cache     *fakeCache
	completer *fakeCompleter
	handler   *Handler
}

func newTestEnv(t *testing.T, mutate func(*Config)) *testEnv {
	t.Helper()

	env := &testEnv{
		storage:   &fakeStorage{active: store.Blue, matches: goodMatches(), version: "2026-08-30"},
		cache:     &fakeCache{},
		completer: &fakeCompleter{text: "En kursplan beskriver kursens mål och innehåll."},
	}

	cfg := Config{
		Storage:              env.storage,
		Cache:                env.cache,
		Embedder:             &fakeEmbedder{},
		Completer:            env.completer,
		Codec:                wordCounter{},
		Translator:           i18n.New("sv"),
		Logger:               log.NewNop(),
		PromptInstructions:   "Svara endast utifrån kontexten.",
		SectionMinSimilarity: 0.8,
		CompletionTimeout:    time.Second,
	}
	if mutate != nil {
		mutate(&cfg)
	}

	h, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	env.handler = h
	return env
}

func TestHandleQueryValidation(t *testing.T) {
	env := newTestEnv(t, nil)

	tests := []struct {
		name  string
		query string
	}{
		{"empty query", ""},
		{"query too long", strings.Repeat("å", 81)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.handler.HandleQuery(context.Background(), tt.query)
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("HandleQuery() error = %v, want ValidationError", err)
			}
		})
	}
	if len(env.storage.interactions) != 0 {
		t.Error("rejected input must not record an interaction")
	}
}

func TestHandleQueryMaxLengthAccepted(t *testing.T) {
	env := newTestEnv(t, nil)
	query := strings.Repeat("å", 80)
	if _, err := env.handler.HandleQuery(context.Background(), query); err != nil {
		t.Fatalf("HandleQuery() with 80-char query error: %v", err)
	}
}

func TestHandleQuerySuccess(t *testing.T) {
	env := newTestEnv(t, nil)

	reply, err := env.handler.HandleQuery(context.Background(), "Vad är en kursplan?")
	if err != nil {
		t.Fatalf("HandleQuery() error: %v", err)
	}

	if reply.Message != env.completer.text {
		t.Errorf("reply message = %q", reply.Message)
	}
	if reply.FromCache {
		t.Error("fresh answer flagged as cached")
	}
	if reply.EmbeddingsVersion != "2026-08-30" {
		t.Errorf("embeddings version = %q", reply.EmbeddingsVersion)
	}
	if len(reply.Sections) != 2 {
		t.Fatalf("sections = %d, want 2", len(reply.Sections))
	}
	if reply.Sections[0].AnchorURL != "https://example.se/#kursplan" {
		t.Errorf("anchor url = %q", reply.Sections[0].AnchorURL)
	}
	if _, err := uuid.Parse(reply.InteractionID); err != nil {
		t.Errorf("interaction id %q is not a uuid", reply.InteractionID)
	}

	if len(env.storage.interactions) != 1 {
		t.Fatalf("interactions recorded = %d, want 1", len(env.storage.interactions))
	}
	it := env.storage.interactions[0]
	if it.Reply != env.completer.text || it.FromCache {
		t.Errorf("interaction = %+v", it)
	}
	if !env.cache.stored {
		t.Error("successful reply should be cached")
	}
	if env.storage.searchedGen != store.Blue {
		t.Errorf("searched generation = %q, want blue", env.storage.searchedGen)
	}
}

func TestHandleQueryPromptShape(t *testing.T) {
	env := newTestEnv(t, nil)

	if _, err := env.handler.HandleQuery(context.Background(), "Vad är en kursplan?"); err != nil {
		t.Fatalf("HandleQuery() error: %v", err)
	}

	prompt := env.completer.prompt
	ctxIdx := strings.Index(prompt, `context: """`)
	qIdx := strings.Index(prompt, `question: """`)
	instIdx := strings.Index(prompt, `prompt: """Svara endast utifrån kontexten."""`)
	if ctxIdx < 0 || qIdx < 0 || instIdx < 0 {
		t.Fatalf("prompt missing parts:\n%s", prompt)
	}
	if !(ctxIdx < qIdx && qIdx < instIdx) {
		t.Error("instructions must come after context and question")
	}
	if !strings.HasSuffix(prompt, "answer: ") {
		t.Errorf("prompt should end with the answer cue, got %q", prompt[len(prompt)-20:])
	}
	if !strings.Contains(prompt, "En kursplan beskriver kursens mål.") {
		t.Error("prompt missing section body")
	}
}

func TestHandleQueryCacheHit(t *testing.T) {
	env := newTestEnv(t, nil)
	env.cache.hit = &store.CacheHit{
		Query:      "Vad är en kursplan?",
		Reply:      "En kursplan beskriver kursen.",
		Sections:   []store.SectionRef{{Header: "1. Kursplan"}},
		Similarity: 0.99,
	}

	reply, err := env.handler.HandleQuery(context.Background(), "Vad är kursplaner?")
	if err != nil {
		t.Fatalf("HandleQuery() error: %v", err)
	}
	if !reply.FromCache {
		t.Fatal("reply should be marked from cache")
	}
	if reply.OriginalQuery != "Vad är en kursplan?" {
		t.Errorf("original query = %q", reply.OriginalQuery)
	}
	if env.completer.calls != 0 {
		t.Error("cache hit must not call the model")
	}

	if len(env.storage.interactions) != 1 {
		t.Fatalf("interactions recorded = %d, want 1", len(env.storage.interactions))
	}
	it := env.storage.interactions[0]
	if !it.FromCache || it.CompletionDuration != 0 {
		t.Errorf("cached interaction = %+v", it)
	}
}

func TestHandleQueryCacheFailureFallsThrough(t *testing.T) {
	env := newTestEnv(t, nil)
	env.cache.lookupErr = errors.New("cache unavailable")

	reply, err := env.handler.HandleQuery(context.Background(), "Vad är en kursplan?")
	if err != nil {
		t.Fatalf("HandleQuery() error: %v", err)
	}
	if reply.FromCache {
		t.Error("failed lookup must degrade to a miss")
	}
	if env.completer.calls != 1 {
		t.Error("model should have been called")
	}
}

func TestHandleQueryWithoutCache(t *testing.T) {
	env := newTestEnv(t, nil)
	env.cache.hit = &store.CacheHit{Reply: "cached", Similarity: 1}

	reply, err := env.handler.HandleQuery(context.Background(), "Vad är en kursplan?", WithoutCache())
	if err != nil {
		t.Fatalf("HandleQuery() error: %v", err)
	}
	if reply.FromCache || env.cache.lookups != 0 || env.cache.stored {
		t.Error("WithoutCache() must bypass the cache entirely")
	}
}

func TestHandleQueryPassiveGeneration(t *testing.T) {
	env := newTestEnv(t, nil)

	if _, err := env.handler.HandleQuery(context.Background(), "Vad är en kursplan?", WithPassiveGeneration()); err != nil {
		t.Fatalf("HandleQuery() error: %v", err)
	}
	if env.storage.searchedGen != store.Green {
		t.Errorf("searched generation = %q, want green (passive of blue)", env.storage.searchedGen)
	}
}

func TestHandleQueryInsufficientContext(t *testing.T) {
	tr := i18n.New("sv")

	tests := []struct {
		name   string
		mutate func(*fakeStorage, *fakeEmbedder)
	}{
		{"no matches", func(s *fakeStorage, _ *fakeEmbedder) { s.matches = nil }},
		{"all below similarity floor", func(s *fakeStorage, _ *fakeEmbedder) {
			for i := range s.matches {
				s.matches[i].Similarity = 0.5
			}
		}},
		{"search unavailable", func(s *fakeStorage, _ *fakeEmbedder) {
			s.searchErr = store.ErrSearchUnavailable
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			embedder := &fakeEmbedder{}
			env := newTestEnv(t, func(c *Config) { c.Embedder = embedder })
			tt.mutate(env.storage, embedder)

			reply, err := env.handler.HandleQuery(context.Background(), "Vad är en kursplan?")
			if err != nil {
				t.Fatalf("HandleQuery() error: %v", err)
			}
			if reply.Message != tr.T("no_answer_found") {
				t.Errorf("message = %q", reply.Message)
			}
			if env.completer.calls != 0 {
				t.Error("model must not be called without context")
			}
			if len(env.storage.interactions) != 1 {
				t.Error("insufficient context should still record an interaction")
			}
		})
	}
}

func TestHandleQueryContextTruncatedToBudget(t *testing.T) {
	env := newTestEnv(t, nil)
	env.storage.matches = []store.SectionMatch{{
		Section: store.Section{
			Header: "1. Kursplan",
			Body:   strings.TrimSpace(strings.Repeat("ord ", 15000)),
		},
		Similarity: 0.91,
	}}

	query := "Vad är en kursplan?"
	if _, err := env.handler.HandleQuery(context.Background(), query); err != nil {
		t.Fatalf("HandleQuery() error: %v", err)
	}
	if env.completer.calls != 1 {
		t.Fatal("truncated context should still reach the model")
	}

	codec := wordCounter{}
	budget := modelWindowTokens - responseReserveTokens -
		codec.Count("Svara endast utifrån kontexten.") - codec.Count(query) - promptMarginTokens

	prompt := env.completer.prompt
	start := strings.Index(prompt, `context: """`)
	if start < 0 {
		t.Fatalf("prompt missing context part:\n%.80s", prompt)
	}
	start += len(`context: """`)
	end := strings.Index(prompt[start:], `"""`)
	if end < 0 {
		t.Fatal("prompt context is unterminated")
	}
	if got := codec.Count(prompt[start : start+end]); got != budget {
		t.Errorf("context tokens = %d, want exactly the budget %d", got, budget)
	}
}

func TestHandleQueryEmbedderDownDegrades(t *testing.T) {
	env := newTestEnv(t, func(c *Config) {
		c.Embedder = &fakeEmbedder{err: llm.ErrEmbeddingUnavailable}
		c.Cache = nil
	})

	reply, err := env.handler.HandleQuery(context.Background(), "Vad är en kursplan?")
	if err != nil {
		t.Fatalf("HandleQuery() error: %v", err)
	}
	if reply.Message != i18n.New("sv").T("no_answer_found") {
		t.Errorf("message = %q", reply.Message)
	}
}

func TestHandleQueryCompletionTimeout(t *testing.T) {
	env := newTestEnv(t, func(c *Config) {
		c.CompletionTimeout = 30 * time.Millisecond
	})
	env.completer.block = true

	reply, err := env.handler.HandleQuery(context.Background(), "Vad är en kursplan?")
	if !errors.Is(err, llm.ErrCompletionTimeout) {
		t.Fatalf("HandleQuery() error = %v, want ErrCompletionTimeout", err)
	}
	if reply == nil {
		t.Fatal("timeout must still produce a reply")
	}
	if reply.Message != i18n.New("sv").T("completion_timeout") {
		t.Errorf("message = %q", reply.Message)
	}
	if len(env.storage.interactions) != 1 {
		t.Error("timeout should still record an interaction")
	}
	if env.cache.stored {
		t.Error("timed-out reply must not be cached")
	}
}

func TestHandleQueryCompletionFailure(t *testing.T) {
	env := newTestEnv(t, nil)
	env.completer.err = llm.ErrCompletionFailed

	reply, err := env.handler.HandleQuery(context.Background(), "Vad är en kursplan?")
	if !errors.Is(err, llm.ErrCompletionFailed) {
		t.Fatalf("HandleQuery() error = %v, want ErrCompletionFailed", err)
	}
	if reply.Message != i18n.New("sv").T("something_went_wrong") {
		t.Errorf("message = %q", reply.Message)
	}
	if env.cache.stored {
		t.Error("failed reply must not be cached")
	}
}

func TestHandleFeedback(t *testing.T) {
	tr := i18n.New("sv")
	id := uuid.New()

	t.Run("success", func(t *testing.T) {
		env := newTestEnv(t, nil)
		ack, err := env.handler.HandleFeedback(context.Background(), id.String(), store.FeedbackThumbsUp, "bra svar")
		if err != nil {
			t.Fatalf("HandleFeedback() error: %v", err)
		}
		if ack.Message != tr.T("feedback_thanks") {
			t.Errorf("ack = %q", ack.Message)
		}
		if env.storage.feedbackID != id || env.storage.feedbackVal != store.FeedbackThumbsUp {
			t.Errorf("recorded feedback = %v %q", env.storage.feedbackID, env.storage.feedbackVal)
		}
	})

	t.Run("invalid value", func(t *testing.T) {
		env := newTestEnv(t, nil)
		_, err := env.handler.HandleFeedback(context.Background(), id.String(), "meh", "")
		var verr *ValidationError
		if !errors.As(err, &verr) {
			t.Fatalf("error = %v, want ValidationError", err)
		}
	})

	t.Run("comment too long", func(t *testing.T) {
		env := newTestEnv(t, nil)
		_, err := env.handler.HandleFeedback(context.Background(), id.String(), store.FeedbackThumbsDown, strings.Repeat("x", 301))
		var verr *ValidationError
		if !errors.As(err, &verr) {
			t.Fatalf("error = %v, want ValidationError", err)
		}
	})

	t.Run("malformed id", func(t *testing.T) {
		env := newTestEnv(t, nil)
		_, err := env.handler.HandleFeedback(context.Background(), "not-a-uuid", store.FeedbackThumbsUp, "")
		var nf *NotFoundError
		if !errors.As(err, &nf) {
			t.Fatalf("error = %v, want NotFoundError", err)
		}
	})

	t.Run("expired interaction", func(t *testing.T) {
		env := newTestEnv(t, nil)
		env.storage.feedbackErr = store.ErrNotFound
		_, err := env.handler.HandleFeedback(context.Background(), id.String(), store.FeedbackThumbsUp, "")
		var nf *NotFoundError
		if !errors.As(err, &nf) {
			t.Fatalf("error = %v, want NotFoundError", err)
		}
	})
}
