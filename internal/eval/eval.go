// Package eval measures retrieval quality against a labeled dataset with
// recall@k and precision@k (binary relevance, order unaware) and nDCG@k
// (graded relevance, order aware).
package eval

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"os"
	"sort"

	"github.com/SLU-IT-arkitektur/slu-docbot/internal/store"
)

// RelevantSection labels one section as relevant to a query, with a graded
// relevance for rank-aware scoring.
type RelevantSection struct {
	Title    string  `json:"title"`
	RelGrade float64 `json:"rel_grade"`
}

// Item is one labeled query in the evaluation dataset.
type Item struct {
	Query            string            `json:"query"`
	RelevantSections []RelevantSection `json:"relevant_section_headers"`
}

// Searcher is the retrieval surface under evaluation.
type Searcher interface {
	SearchSections(ctx context.Context, gen store.Generation, embedding []float32, k int) ([]store.SectionMatch, error)
}

// Embedder turns dataset queries into vectors.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// RecallAtK reports how many of the labeled relevant sections appear among
// the retrieved headers, rounded to two decimals.
func RecallAtK(retrieved []string, item Item) float64 {
	if len(item.RelevantSections) == 0 {
		return 0
	}
	return round2(float64(countRelevant(retrieved, item)) / float64(len(item.RelevantSections)))
}

// PrecisionAtK reports how many of the retrieved headers are labeled
// relevant, rounded to two decimals.
func PrecisionAtK(retrieved []string, item Item) float64 {
	if len(retrieved) == 0 {
		return 0
	}
	return round2(float64(countRelevant(retrieved, item)) / float64(len(retrieved)))
}

// NDCGAtK compares the discounted cumulative gain of the retrieved order
// against the ideal order of the labeled sections. Unlabeled retrieved
// sections score zero gain.
func NDCGAtK(retrieved []string, item Item) float64 {
	idcg := idealDCG(item, len(retrieved))
	if idcg == 0 {
		return 0
	}
	return dcg(retrieved, item) / idcg
}

func countRelevant(retrieved []string, item Item) int {
	labeled := make(map[string]bool, len(item.RelevantSections))
	for _, r := range item.RelevantSections {
		labeled[r.Title] = true
	}
	n := 0
	for _, header := range retrieved {
		if labeled[header] {
			n++
		}
	}
	return n
}

func dcg(retrieved []string, item Item) float64 {
	grades := make(map[string]float64, len(item.RelevantSections))
	for _, r := range item.RelevantSections {
		grades[r.Title] = r.RelGrade
	}
	sum := 0.0
	for i, header := range retrieved {
		rank := float64(i + 1)
		sum += grades[header] / math.Log2(rank+1)
	}
	return sum
}

// idealDCG is the DCG of the labeled sections sorted by descending grade,
// the best any ranking could score.
func idealDCG(item Item, k int) float64 {
	grades := make([]float64, 0, len(item.RelevantSections))
	for _, r := range item.RelevantSections {
		grades = append(grades, r.RelGrade)
	}
	sort.Sort(sort.Reverse(sort.Float64Slice(grades)))
	if len(grades) > k {
		grades = grades[:k]
	}
	sum := 0.0
	for i, g := range grades {
		rank := float64(i + 1)
		sum += g / math.Log2(rank+1)
	}
	return sum
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// ItemResult holds the per-query scores, each rounded to two decimals.
type ItemResult struct {
	Query     string  `json:"query"`
	Recall    float64 `json:"recall"`
	Precision float64 `json:"precision"`
	NDCG      float64 `json:"ndcg"`
}

// Result aggregates an evaluation run.
type Result struct {
	K            int          `json:"k"`
	AvgRecall    float64      `json:"avg_recall"`
	AvgPrecision float64      `json:"avg_precision"`
	AvgNDCG      float64      `json:"avg_ndcg"`
	Details      []ItemResult `json:"details"`
}

// Evaluator scores the live retrieval pipeline over a dataset.
type Evaluator struct {
	searcher Searcher
	embedder Embedder
	k        int
	logger   *slog.Logger
}

func New(searcher Searcher, embedder Embedder, k int, logger *slog.Logger) (*Evaluator, error) {
	if searcher == nil || embedder == nil {
		return nil, fmt.Errorf("eval: searcher and embedder are required")
	}
	if k <= 0 {
		return nil, fmt.Errorf("eval: k must be positive")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Evaluator{searcher: searcher, embedder: embedder, k: k, logger: logger}, nil
}

// Run embeds each dataset query, retrieves top-k once and scores all three
// metrics on the same ranking.
func (e *Evaluator) Run(ctx context.Context, gen store.Generation, items []Item) (*Result, error) {
	if len(items) == 0 {
		return nil, fmt.Errorf("eval: dataset is empty")
	}

	result := &Result{K: e.k}
	var totalRecall, totalPrecision, totalNDCG float64

	for _, item := range items {
		embedding, err := e.embedder.Embed(ctx, item.Query)
		if err != nil {
			return nil, fmt.Errorf("embedding query %q: %w", item.Query, err)
		}
		matches, err := e.searcher.SearchSections(ctx, gen, embedding, e.k)
		if err != nil {
			return nil, fmt.Errorf("searching for %q: %w", item.Query, err)
		}

		retrieved := make([]string, len(matches))
		for i, m := range matches {
			retrieved[i] = m.Header
		}

		recall := RecallAtK(retrieved, item)
		precision := PrecisionAtK(retrieved, item)
		ndcg := NDCGAtK(retrieved, item)
		totalRecall += recall
		totalPrecision += precision
		totalNDCG += ndcg

		result.Details = append(result.Details, ItemResult{
			Query:     item.Query,
			Recall:    recall,
			Precision: precision,
			NDCG:      round2(ndcg),
		})
		e.logger.Debug("evaluated query",
			"query", item.Query,
			"recall", recall,
			"precision", precision,
			"ndcg", ndcg)
	}

	n := float64(len(items))
	result.AvgRecall = round2(totalRecall / n)
	result.AvgPrecision = round2(totalPrecision / n)
	result.AvgNDCG = round2(totalNDCG / n)
	return result, nil
}

// LoadDataset reads a labeled evaluation dataset from a JSON file.
func LoadDataset(path string) ([]Item, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading evaluation dataset: %w", err)
	}
	var items []Item
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("parsing evaluation dataset %s: %w", path, err)
	}
	for i, item := range items {
		if item.Query == "" {
			return nil, fmt.Errorf("dataset item %d has no query", i)
		}
	}
	return items, nil
}
