// Package pipeline answers a lookup query end to end: search, optional page
// fan-out, aggregation and model extraction.
package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sells-group/lookup-bot/internal/config"
	"github.com/sells-group/lookup-bot/internal/extract"
	"github.com/sells-group/lookup-bot/internal/fetcher"
	"github.com/sells-group/lookup-bot/internal/model"
	"github.com/sells-group/lookup-bot/internal/resilience"
	"github.com/sells-group/lookup-bot/internal/search"
)

// Mode selects how the corpus is obtained.
type Mode string

const (
	// ModeNone means no search service is configured.
	ModeNone Mode = ""
	// ModeDirect uses the assistant's text answer as the corpus.
	ModeDirect Mode = "direct"
	// ModeLinks fetches and cleans the pages returned by link search.
	ModeLinks Mode = "links"
)

// ModeFor picks the mode for a search configuration. The assistant wins
// when both services are configured.
func ModeFor(cfg config.SearchConfig) Mode {
	switch {
	case cfg.AssistantURL != "":
		return ModeDirect
	case cfg.LinksURL != "":
		return ModeLinks
	default:
		return ModeNone
	}
}

// Extractor turns a corpus into a structured answer.
type Extractor interface {
	Extract(ctx context.Context, query, corpus string) resilience.Result[model.Extraction]
}

// ProgressFunc is notified once when the slow phase of a run begins.
type ProgressFunc func(ctx context.Context) error

// Options configures a Pipeline.
type Options struct {
	Mode Mode
	// ArtifactsDir enables per-run debug artifacts when non-empty.
	ArtifactsDir string
}

// Pipeline orchestrates a single lookup.
type Pipeline struct {
	search    search.Client
	fetcher   *fetcher.Fetcher
	extractor Extractor
	opts      Options
}

// New creates a Pipeline. fetch is only used in ModeLinks and may be nil
// otherwise.
func New(sc search.Client, fetch *fetcher.Fetcher, ex Extractor, opts Options) *Pipeline {
	return &Pipeline{
		search:    sc,
		fetcher:   fetch,
		extractor: ex,
		opts:      opts,
	}
}

// Mode returns the configured mode.
func (p *Pipeline) Mode() Mode { return p.opts.Mode }

// Run answers query. The only error it returns is a KindConfig error when no
// search service is configured; every other failure degrades to an empty
// Result. onProgress may be nil.
func (p *Pipeline) Run(ctx context.Context, query string, onProgress ProgressFunc) (*Result, error) {
	if p.opts.Mode == ModeNone {
		return nil, resilience.Errorf(resilience.KindConfig, "pipeline: run", "no search service configured")
	}

	started := time.Now()
	res := &Result{
		RunID: uuid.NewString(),
		Mode:  p.opts.Mode,
		Query: query,
	}
	log := zap.L().With(
		zap.String("run_id", res.RunID),
		zap.String("mode", string(res.Mode)),
	)
	log.Info("pipeline: starting", zap.Int("query_len", len([]rune(query))))

	progress := p.progressOnce(log, onProgress)
	artifacts := p.artifactWriter(log, res.RunID)

	switch p.opts.Mode {
	case ModeDirect:
		p.runDirect(ctx, log, res, progress)
	case ModeLinks:
		p.runLinks(ctx, log, res, progress, artifacts)
	}

	if artifacts != nil {
		res.ArtifactsDir = artifacts.Dir()
		if res.Corpus != "" {
			writeArtifact(log, artifacts, fetcher.CombinedFile, res.Corpus)
		}
		if res.Answer != "" {
			writeArtifact(log, artifacts, fetcher.AnswerFile, res.Answer)
		}
	}

	res.Elapsed = time.Since(started)
	log.Info("pipeline: complete",
		zap.Bool("ok", res.OK()),
		zap.Int("corpus_len", len([]rune(res.Corpus))),
		zap.Int("answer_len", len([]rune(res.Answer))),
		zap.Duration("total", res.Elapsed),
	)
	return res, nil
}

func (p *Pipeline) runDirect(ctx context.Context, log *zap.Logger, res *Result, progress func(context.Context)) {
	progress(ctx)

	phase := time.Now()
	ans := p.search.Ask(ctx, res.Query)
	log.Info("pipeline: search phase", zap.String("status", ans.Status.String()), zap.Duration("elapsed", time.Since(phase)))
	if ans.Status == resilience.StatusFailed {
		log.Warn("pipeline: assistant failed", zap.Stringer("kind", ans.Kind()), zap.Error(ans.Err))
	}

	res.Corpus = ans.OrZero()
	res.Fallback = res.Corpus
	p.extract(ctx, log, res)
}

func (p *Pipeline) runLinks(ctx context.Context, log *zap.Logger, res *Result, progress func(context.Context), artifacts *fetcher.ArtifactWriter) {
	phase := time.Now()
	links := p.search.Search(ctx, res.Query)
	log.Info("pipeline: search phase", zap.String("status", links.Status.String()), zap.Duration("elapsed", time.Since(phase)))
	switch links.Status {
	case resilience.StatusFailed:
		log.Warn("pipeline: link search failed", zap.Stringer("kind", links.Kind()), zap.Error(links.Err))
		return
	case resilience.StatusEmpty:
		log.Info("pipeline: no links found")
		return
	}
	res.Links = links.Value

	f := p.fetcher
	if f == nil {
		f = fetcher.New(nil, fetcher.Options{})
	}
	if artifacts != nil {
		f = f.WithArtifacts(artifacts)
	}
	batch := f.FetchAll(ctx, res.Links)
	res.Counts = batch.Counts()
	res.Corpus = fetcher.Aggregate(batch.Documents())
	log.Info("pipeline: fetch phase",
		zap.Int("links", len(res.Links)),
		zap.Int("ok", res.Counts.OK),
		zap.Int("corpus_len", len([]rune(res.Corpus))),
		zap.Duration("elapsed", batch.Elapsed),
	)

	progress(ctx)
	p.extract(ctx, log, res)
}

func (p *Pipeline) extract(ctx context.Context, log *zap.Logger, res *Result) {
	if p.extractor == nil {
		return
	}
	phase := time.Now()
	ex := p.extractor.Extract(ctx, res.Query, res.Corpus)
	log.Info("pipeline: llm phase", zap.String("status", ex.Status.String()), zap.Duration("elapsed", time.Since(phase)))
	if ex.Status == resilience.StatusFailed {
		log.Warn("pipeline: extraction failed", zap.Stringer("kind", ex.Kind()), zap.Error(ex.Err))
	}
	res.Extraction = ex.OrZero()
	res.Answer = extract.Format(res.Extraction)
}

// progressOnce wraps fn so it runs at most once and its error is only logged.
func (p *Pipeline) progressOnce(log *zap.Logger, fn ProgressFunc) func(context.Context) {
	var once sync.Once
	return func(ctx context.Context) {
		if fn == nil {
			return
		}
		once.Do(func() {
			if err := fn(ctx); err != nil {
				log.Warn("pipeline: progress callback failed", zap.Error(err))
			}
		})
	}
}

func (p *Pipeline) artifactWriter(log *zap.Logger, runID string) *fetcher.ArtifactWriter {
	if p.opts.ArtifactsDir == "" {
		return nil
	}
	w, err := fetcher.NewArtifactWriter(p.opts.ArtifactsDir, runID)
	if err != nil {
		log.Warn("pipeline: artifacts disabled for run", zap.Error(err))
		return nil
	}
	return w
}

func writeArtifact(log *zap.Logger, w *fetcher.ArtifactWriter, name, content string) {
	if err := w.WriteFile(name, content); err != nil {
		log.Warn("pipeline: write artifact", zap.String("file", name), zap.Error(err))
	}
}
