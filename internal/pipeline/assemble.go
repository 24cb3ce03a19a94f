package pipeline

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/angusf777/CrowdInsight/internal/globaltime"
)

const DefaultAssembleWorkers = 4

// Fallback reasons reported per assembled field.
const (
	fallbackEmptyText       = "empty_text"
	fallbackServiceError    = "service_error"
	fallbackNoKnownTokens   = "no_known_tokens"
	fallbackUnknownCategory = "unknown_category"
)

// AssembleStats is the assemble stage artifact.
type AssembleStats struct {
	RunID             string                    `json:"run_id"`
	TotalInput        int                       `json:"total_input"`
	Assembled         int                       `json:"assembled"`
	Fallbacks         map[string]map[string]int `json:"fallbacks"`
	VocabularySize    int                       `json:"vocabulary_size"`
	VocabularyVersion string                    `json:"vocabulary_version"`
	DurationMS        int64                     `json:"duration_ms"`
	AnalysisTimestamp string                    `json:"analysis_timestamp"`
}

type AssembleOptions struct {
	Input              string
	Output             string
	StatsPath          string
	VocabPath          string
	WordVectorFile     string
	EmbedEndpoint      string
	WordVectorEndpoint string
	WordVectorDims     int
	BatchSize          int
	Workers            int
	RequestTimeout     time.Duration
	Store              bool
}

type AssembleResult struct {
	TotalInput int
	Assembled  int
	Fallbacks  int
}

func normalizeAssembleOptions(opts AssembleOptions) AssembleOptions {
	normalized := opts
	if normalized.WordVectorDims <= 0 {
		normalized.WordVectorDims = DefaultWordVectorDimensions
	}
	if normalized.BatchSize <= 0 {
		normalized.BatchSize = DefaultEmbeddingBatchSize
	}
	if normalized.Workers <= 0 {
		normalized.Workers = DefaultAssembleWorkers
	}
	if normalized.RequestTimeout <= 0 {
		normalized.RequestTimeout = DefaultEmbeddingRequestTimeout
	}
	return normalized
}

// logDecade compresses a non-negative amount as log1p(x)/ln(10).
func logDecade(x float64) float64 {
	return math.Log1p(x) / math.Ln10
}

type recordFallback struct {
	Field  string
	Reason string
}

type assembledRecord struct {
	record    FeatureRecord
	fallbacks []recordFallback
}

// assembler carries the per-run collaborators shared by the workers.
type assembler struct {
	embed       *EmbeddingClient
	vocab       *CategoryVocabulary
	wordVectors map[string][]float64
	wvDims      int
	wvFailed    bool
}

func (a *assembler) embedField(ctx context.Context, kind, text string) ([]float64, *recordFallback, error) {
	dims, err := EmbeddingDimensions(kind)
	if err != nil {
		return nil, nil, err
	}
	if strings.TrimSpace(text) == "" {
		return zeroVector(dims), &recordFallback{Reason: fallbackEmptyText}, nil
	}
	vectors, err := a.embed.Embed(ctx, kind, []string{text})
	if err != nil {
		if ctx.Err() != nil {
			return nil, nil, ctx.Err()
		}
		return zeroVector(dims), &recordFallback{Reason: fallbackServiceError}, nil
	}
	return vectors[0], nil, nil
}

func (a *assembler) wordVectorField(text string) ([]float64, *recordFallback) {
	tokens := wordTokens(text)
	if len(tokens) == 0 {
		return zeroVector(a.wvDims), &recordFallback{Reason: fallbackEmptyText}
	}
	if a.wvFailed {
		return zeroVector(a.wvDims), &recordFallback{Reason: fallbackServiceError}
	}
	vec, matched := averageWordVector(a.wordVectors, tokens, a.wvDims)
	if !matched {
		return vec, &recordFallback{Reason: fallbackNoKnownTokens}
	}
	return vec, nil
}

// assembleRecord builds one feature row. Every field either resolves or
// falls back to its zero value; the row itself is always produced.
func (a *assembler) assembleRecord(ctx context.Context, id int64, rec PreInputRecord) (assembledRecord, error) {
	out := assembledRecord{}
	note := func(field string, fb *recordFallback) {
		if fb != nil {
			out.fallbacks = append(out.fallbacks, recordFallback{Field: field, Reason: fb.Reason})
		}
	}

	description, fb, err := a.embedField(ctx, KindLongForm, rec.Description)
	if err != nil {
		return out, err
	}
	note("description_embedding", fb)

	blurb, fb, err := a.embedField(ctx, KindShortForm, rec.Blurb)
	if err != nil {
		return out, err
	}
	note("blurb_embedding", fb)

	risk, fb, err := a.embedField(ctx, KindShortForm, rec.Risk)
	if err != nil {
		return out, err
	}
	note("risk_embedding", fb)

	category, ok := a.vocab.Encode(rec.Category)
	if !ok {
		note("category_embedding", &recordFallback{Reason: fallbackUnknownCategory})
	}

	subcategory, fb := a.wordVectorField(rec.Subcategory)
	note("subcategory_embedding", fb)

	country, fb := a.wordVectorField(rec.Country)
	note("country_embedding", fb)

	out.record = FeatureRecord{
		ID:                     id,
		DescriptionEmbedding:   description,
		DescriptionLength:      DescriptionLength(rec.Description),
		BlurbEmbedding:         blurb,
		RiskEmbedding:          risk,
		CategoryEmbedding:      category,
		SubcategoryEmbedding:   subcategory,
		CountryEmbedding:       country,
		FundingGoalLog:         logDecade(rec.FundingGoal),
		ImageCount:             rec.ImageCount,
		VideoCount:             rec.VideoCount,
		CampaignDuration:       rec.CampaignDuration,
		PreviousProjectsCount:  rec.PreviousProjects,
		PreviousSuccessRate:    SuccessRate(rec.PreviousSuccessful, rec.PreviousProjects),
		PreviousPledgedLog:     logDecade(rec.AveragePledged),
		PreviousFundingGoalLog: logDecade(rec.AverageFundingGoal),
		State:                  rec.State,
	}
	return out, nil
}

// Assemble turns enriched records into fixed-schema feature rows. Records
// are processed by id ascending by a bounded worker pool; the output keeps
// that order. Collaborator failures degrade single fields, never the batch.
func (s *Service) Assemble(ctx context.Context, options AssembleOptions) (AssembleResult, error) {
	if s == nil {
		return AssembleResult{}, fmt.Errorf("pipeline service is not initialized")
	}
	opts := normalizeAssembleOptions(options)
	if strings.TrimSpace(opts.Input) == "" || strings.TrimSpace(opts.Output) == "" {
		return AssembleResult{}, fmt.Errorf("assemble requires input and output paths")
	}

	started := globaltime.Now()
	meta := newRunMeta()
	logger := s.logger.With().Str("stage", "assemble").Str("run_id", meta.RunID).Logger()

	var input map[int64]PreInputRecord
	if err := readJSONFile(opts.Input, &input); err != nil {
		return AssembleResult{}, fmt.Errorf("read enriched records %s: %w", opts.Input, err)
	}

	ids := make([]int64, 0, len(input))
	for id := range input {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	ordered := make([]PreInputRecord, len(ids))
	for i, id := range ids {
		ordered[i] = input[id]
	}

	var vocab *CategoryVocabulary
	if opts.VocabPath != "" {
		loaded, err := LoadCategoryVocabulary(opts.VocabPath)
		if err != nil {
			return AssembleResult{}, err
		}
		vocab = loaded
	} else {
		vocab = DeriveCategoryVocabulary(ordered)
	}

	var source WordVectorSource
	if opts.WordVectorFile != "" {
		table, err := LoadWordVectorTable(opts.WordVectorFile, opts.WordVectorDims)
		if err != nil {
			return AssembleResult{}, err
		}
		source = table
	} else {
		source = NewWordVectorClient(opts.WordVectorEndpoint, opts.WordVectorDims, opts.RequestTimeout)
	}

	asm := &assembler{
		embed:  NewEmbeddingClient(opts.EmbedEndpoint, opts.BatchSize, opts.RequestTimeout),
		vocab:  vocab,
		wvDims: source.Dimensions(),
	}

	tokens := collectWordTokens(ordered)
	if len(tokens) > 0 {
		vectors, err := source.Vectors(ctx, tokens)
		if err != nil {
			if ctx.Err() != nil {
				return AssembleResult{}, ctx.Err()
			}
			logger.Error().Err(err).Msg("word-vector lookup failed, falling back to zero vectors")
			asm.wvFailed = true
		} else {
			asm.wordVectors = vectors
		}
	}

	results := make([]assembledRecord, len(ids))
	g, groupCtx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Workers)
	for i := range ids {
		i := i
		g.Go(func() error {
			assembled, err := asm.assembleRecord(groupCtx, ids[i], ordered[i])
			if err != nil {
				return err
			}
			results[i] = assembled
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return AssembleResult{}, err
	}

	result := AssembleResult{TotalInput: len(ids)}
	stats := AssembleStats{
		RunID:             meta.RunID,
		TotalInput:        len(ids),
		Fallbacks:         map[string]map[string]int{},
		VocabularySize:    vocab.Size(),
		VocabularyVersion: vocab.Version,
		AnalysisTimestamp: meta.AnalysisTimestamp,
	}
	records := make([]FeatureRecord, 0, len(results))
	for _, assembled := range results {
		records = append(records, assembled.record)
		result.Assembled++
		for _, fb := range assembled.fallbacks {
			result.Fallbacks++
			byReason := stats.Fallbacks[fb.Field]
			if byReason == nil {
				byReason = map[string]int{}
				stats.Fallbacks[fb.Field] = byReason
			}
			byReason[fb.Reason]++
			logger.Debug().Int64("id", assembled.record.ID).Str("field", fb.Field).Str("reason", fb.Reason).Msg("field fell back to zero value")
		}
	}
	stats.Assembled = result.Assembled
	stats.DurationMS = globaltime.Since(started).Milliseconds()

	if err := writeJSONFile(opts.Output, records); err != nil {
		return result, err
	}
	if opts.StatsPath != "" {
		if err := writeJSONFile(opts.StatsPath, stats); err != nil {
			return result, err
		}
	}

	if opts.Store && s.hasStore() {
		if err := s.storeFeatureRecords(ctx, records, vocab.Version); err != nil {
			return result, fmt.Errorf("store feature records: %w", err)
		}
		counters := map[string]any{
			"total_input": result.TotalInput,
			"assembled":   result.Assembled,
			"fallbacks":   result.Fallbacks,
		}
		if err := s.recordRun(ctx, meta.RunID, "assemble", counters); err != nil {
			logger.Warn().Err(err).Msg("failed to record assemble run")
		}
	}

	logger.Info().
		Int("total", result.TotalInput).
		Int("assembled", result.Assembled).
		Int("fallbacks", result.Fallbacks).
		Int("vocabulary_size", vocab.Size()).
		Dur("elapsed", globaltime.Since(started)).
		Msg("assemble completed")

	return result, nil
}

// collectWordTokens gathers the distinct word-vector tokens of a batch so
// the lookup service is asked once per run.
func collectWordTokens(records []PreInputRecord) []string {
	seen := make(map[string]struct{})
	for _, rec := range records {
		for _, token := range wordTokens(rec.Subcategory) {
			seen[token] = struct{}{}
		}
		for _, token := range wordTokens(rec.Country) {
			seen[token] = struct{}{}
		}
	}
	tokens := make([]string, 0, len(seen))
	for token := range seen {
		tokens = append(tokens, token)
	}
	sort.Strings(tokens)
	return tokens
}
