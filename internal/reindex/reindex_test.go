package reindex

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/SLU-IT-arkitektur/slu-docbot/internal/answer"
	"github.com/SLU-IT-arkitektur/slu-docbot/internal/log"
	"github.com/SLU-IT-arkitektur/slu-docbot/internal/store"
)

type fakeStorage struct {
	passive store.Generation

	deletedGen  store.Generation
	putGen      store.Generation
	putSections []store.Section
	activatedTo store.Generation
	versionDay  time.Time
}

func (f *fakeStorage) PassiveGeneration(_ context.Context) (store.Generation, error) {
	return f.passive, nil
}

func (f *fakeStorage) DeleteAllSections(_ context.Context, gen store.Generation) error {
	f.deletedGen = gen
	return nil
}

func (f *fakeStorage) PutSections(_ context.Context, gen store.Generation, sections []store.Section) error {
	f.putGen = gen
	f.putSections = sections
	return nil
}

func (f *fakeStorage) SetActiveGeneration(_ context.Context, gen store.Generation) error {
	f.activatedTo = gen
	return nil
}

func (f *fakeStorage) SetEmbeddingsVersion(_ context.Context, day time.Time) error {
	f.versionDay = day
	return nil
}

type fakeCache struct {
	flushed bool
}

func (f *fakeCache) InvalidateAll(_ context.Context) error {
	f.flushed = true
	return nil
}

type fakeAnswerer struct {
	replies map[string]string
	err     error

	sawPassive bool
	sawNoCache bool
}

func (f *fakeAnswerer) HandleQuery(_ context.Context, query string, opts ...answer.QueryOption) (*answer.Reply, error) {
	// The options are opaque; count them to confirm both probes options
	// were passed.
	f.sawPassive = len(opts) >= 1
	f.sawNoCache = len(opts) >= 2
	if f.err != nil {
		return nil, f.err
	}
	return &answer.Reply{Message: f.replies[query]}, nil
}

// mapEmbedder returns a fixed vector per text so similarities are exact.
type mapEmbedder struct {
	vectors map[string][]float32
}

func (m *mapEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	v, ok := m.vectors[text]
	if !ok {
		return nil, errors.New("no vector registered for text")
	}
	return v, nil
}

type fakeSource struct {
	sections []store.Section
	err      error
}

func (f *fakeSource) Sections(_ context.Context) ([]store.Section, error) {
	return f.sections, f.err
}

func testSections() []store.Section {
	return []store.Section{
		{Header: "1. Kursplan", Body: "text", NumTokens: 2, Embedding: []float32{1, 0}},
	}
}

func TestRunPromotesAfterPassingGate(t *testing.T) {
	storage := &fakeStorage{passive: store.Green}
	cache := &fakeCache{}
	answerer := &fakeAnswerer{replies: map[string]string{"Vad är en kurs?": "En kurs är en del av ett program."}}
	embedder := &mapEmbedder{vectors: map[string][]float32{
		"En kurs är en del av ett program.": {1, 0},
		"En kurs ingår i ett program.":      {0.99, 0.14},
	}}

	c, err := New(Config{
		Storage:  storage,
		Cache:    cache,
		Answerer: answerer,
		Embedder: embedder,
		Source:   &fakeSource{sections: testSections()},
		QAPairs:  []QAPair{{Question: "Vad är en kurs?", Answer: "En kurs ingår i ett program."}},
		Logger:   log.NewNop(),
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	if err := c.Run(context.Background()); err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	if storage.deletedGen != store.Green || storage.putGen != store.Green {
		t.Errorf("rebuild touched %q/%q, want the passive green generation", storage.deletedGen, storage.putGen)
	}
	if storage.activatedTo != store.Green {
		t.Errorf("activated %q, want green", storage.activatedTo)
	}
	if !cache.flushed {
		t.Error("cache must be flushed after the swap")
	}
	if storage.versionDay.Format("2006-01-02") != time.Now().Format("2006-01-02") {
		t.Errorf("embeddings version day = %v", storage.versionDay)
	}
	if !answerer.sawPassive || !answerer.sawNoCache {
		t.Error("probes must run against the passive generation without cache")
	}
}

func TestRunAbortsOnGateFailure(t *testing.T) {
	storage := &fakeStorage{passive: store.Green}
	cache := &fakeCache{}
	answerer := &fakeAnswerer{replies: map[string]string{"fråga": "helt fel svar"}}
	embedder := &mapEmbedder{vectors: map[string][]float32{
		"helt fel svar": {1, 0},
		"rätt svar":     {0, 1},
	}}

	c, err := New(Config{
		Storage:  storage,
		Cache:    cache,
		Answerer: answerer,
		Embedder: embedder,
		Source:   &fakeSource{sections: testSections()},
		QAPairs:  []QAPair{{Question: "fråga", Answer: "rätt svar"}},
		Logger:   log.NewNop(),
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	if err := c.Run(context.Background()); !errors.Is(err, ErrQualityGateFailed) {
		t.Fatalf("Run() error = %v, want ErrQualityGateFailed", err)
	}
	if storage.activatedTo != "" {
		t.Error("failed gate must not promote the generation")
	}
	if cache.flushed {
		t.Error("failed gate must not flush the cache")
	}
	if !storage.versionDay.IsZero() {
		t.Error("failed gate must not bump the embeddings version")
	}
}

func TestRunGateIsStrictlyGreaterThan(t *testing.T) {
	// cos([4,3], [1,0]) is exactly 0.8, landing right on the configured
	// threshold, which must fail.
	storage := &fakeStorage{passive: store.Blue}
	answerer := &fakeAnswerer{replies: map[string]string{"fråga": "svar"}}
	embedder := &mapEmbedder{vectors: map[string][]float32{
		"svar":  {4, 3},
		"facit": {1, 0},
	}}

	c, err := New(Config{
		Storage:             storage,
		Cache:               &fakeCache{},
		Answerer:            answerer,
		Embedder:            embedder,
		Source:              &fakeSource{sections: testSections()},
		QAPairs:             []QAPair{{Question: "fråga", Answer: "facit"}},
		MinAnswerSimilarity: 0.8,
		Logger:              log.NewNop(),
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	if err := c.Run(context.Background()); !errors.Is(err, ErrQualityGateFailed) {
		t.Fatalf("Run() error = %v, want ErrQualityGateFailed at exactly the threshold", err)
	}
}

func TestRunAbortsOnProbeError(t *testing.T) {
	storage := &fakeStorage{passive: store.Green}
	c, err := New(Config{
		Storage:  storage,
		Cache:    &fakeCache{},
		Answerer: &fakeAnswerer{err: errors.New("model down")},
		Embedder: &mapEmbedder{},
		Source:   &fakeSource{sections: testSections()},
		QAPairs:  []QAPair{{Question: "fråga", Answer: "svar"}},
		Logger:   log.NewNop(),
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	if err := c.Run(context.Background()); !errors.Is(err, ErrQualityGateFailed) {
		t.Fatalf("Run() error = %v, want ErrQualityGateFailed", err)
	}
	if storage.activatedTo != "" {
		t.Error("probe error must not promote the generation")
	}
}

func TestRunRejectsEmptySource(t *testing.T) {
	c, err := New(Config{
		Storage:  &fakeStorage{passive: store.Green},
		Cache:    &fakeCache{},
		Answerer: &fakeAnswerer{},
		Embedder: &mapEmbedder{},
		Source:   &fakeSource{sections: nil},
		QAPairs:  []QAPair{{Question: "fråga", Answer: "svar"}},
		Logger:   log.NewNop(),
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if err := c.Run(context.Background()); err == nil {
		t.Fatal("Run() should fail on an empty section source")
	}
}

type countingCodec struct{}

func (countingCodec) Count(text string) int { return len(strings.Fields(text)) }

func TestFileSourceSections(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sections.json")
	content := `[
		{"header": "1. Kursplan", "body": "En kursplan beskriver kursen.", "anchor_url": "https://example.se/#1"},
		{"header": "2. Betyg", "body": "Betyg sätts efter kursen."}
	]`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	embedder := &mapEmbedder{vectors: map[string][]float32{
		"1. Kursplan\nEn kursplan beskriver kursen.": {1, 0},
		"2. Betyg\nBetyg sätts efter kursen.":        {0, 1},
	}}

	src := NewFileSource(path, embedder, countingCodec{}, log.NewNop())
	sections, err := src.Sections(context.Background())
	if err != nil {
		t.Fatalf("Sections() error: %v", err)
	}
	if len(sections) != 2 {
		t.Fatalf("sections = %d, want 2", len(sections))
	}
	if sections[0].AnchorURL != "https://example.se/#1" {
		t.Errorf("anchor url = %q", sections[0].AnchorURL)
	}
	if sections[0].NumTokens != 4 {
		t.Errorf("num tokens = %d, want 4", sections[0].NumTokens)
	}
	if len(sections[1].Embedding) != 2 {
		t.Errorf("embedding length = %d", len(sections[1].Embedding))
	}
}

func TestFileSourceRejectsDuplicates(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sections.json")
	content := `[
		{"header": "1. Kursplan", "body": "a"},
		{"header": "1. Kursplan", "body": "b"}
	]`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	embedder := &mapEmbedder{vectors: map[string][]float32{
		"1. Kursplan\na": {1},
		"1. Kursplan\nb": {1},
	}}
	src := NewFileSource(path, embedder, countingCodec{}, log.NewNop())
	if _, err := src.Sections(context.Background()); err == nil {
		t.Fatal("Sections() should reject duplicate headers")
	}
}

func TestLoadQAPairs(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "qa.json")
	content := `[{"question": "Vad är en kurs?", "answer": "En kurs ingår i ett program."}]`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	pairs, err := LoadQAPairs(path)
	if err != nil {
		t.Fatalf("LoadQAPairs() error: %v", err)
	}
	if len(pairs) != 1 || pairs[0].Question != "Vad är en kurs?" {
		t.Errorf("pairs = %+v", pairs)
	}

	bad := filepath.Join(dir, "bad.json")
	if err := os.WriteFile(bad, []byte(`[{"question": "", "answer": "x"}]`), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadQAPairs(bad); err == nil {
		t.Fatal("LoadQAPairs() should reject an empty question")
	}
}
