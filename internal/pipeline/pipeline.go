package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"screentest-backend/internal/llm"
	"screentest-backend/internal/model"
	"screentest-backend/pkg/logger"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// Completer is the completion client the pipeline calls. *llm.Client implements it.
type Completer interface {
	Complete(ctx context.Context, req llm.CompletionRequest) (string, error)
	ProviderName() string
}

// ImageLoader resolves a page file reference to image bytes.
type ImageLoader interface {
	Load(ctx context.Context, ref string) (data []byte, mimeType string, err error)
}

// Progress stages reported to an Observer.
const (
	StageValidated  = "validated"
	StageCacheHit   = "cache_hit"
	StageJoined     = "joined"
	StageLoading    = "loading_images"
	StageGenerating = "generating"
	StageNormalized = "normalized"
)

// Observer receives progress notifications. It may be called from a goroutine other than
// the caller's and must not block.
type Observer func(stage string, data map[string]interface{})

type Options struct {
	Model                 string
	MinTestCases          int
	MaxTokens             int
	Temperature           float32
	RegenerateTemperature float32
	MaxPages              int
	ImageConcurrency      int
	JSONMode              bool
}

// Outcome is the result of one Run plus how it was obtained.
type Outcome struct {
	Result      *model.GenerationResult
	Fingerprint string
	CacheHit    bool
	Regenerated bool
	// Shared is set when the result came from a concurrent identical request.
	Shared bool
	Report *Report
}

// Pipeline turns screenshots into normalized test cases: fingerprint, cache lookup,
// prompt, completion, normalization, cache store.
type Pipeline struct {
	client  Completer
	loader  ImageLoader
	cache   *ResultCache
	prompts *PromptBuilder
	opts    Options
	flights singleflight.Group
}

func New(client Completer, loader ImageLoader, cache *ResultCache, opts Options) *Pipeline {
	if cache == nil {
		cache = NewResultCache(0)
	}
	if opts.ImageConcurrency <= 0 {
		opts.ImageConcurrency = 4
	}
	if opts.RegenerateTemperature == 0 {
		opts.RegenerateTemperature = opts.Temperature
	}
	return &Pipeline{
		client:  client,
		loader:  loader,
		cache:   cache,
		prompts: NewPromptBuilder(opts.MinTestCases),
		opts:    opts,
	}
}

// Cache exposes the result cache, mainly for inspection.
func (p *Pipeline) Cache() *ResultCache {
	return p.cache
}

func (p *Pipeline) ProviderName() string {
	return p.client.ProviderName()
}

func (p *Pipeline) Model() string {
	return p.opts.Model
}

// Generate runs the pipeline and returns only the result.
func (p *Pipeline) Generate(ctx context.Context, req model.GenerationRequest) (*model.GenerationResult, error) {
	out, err := p.Run(ctx, req, nil)
	if err != nil {
		return nil, err
	}
	return out.Result, nil
}

// GenerateWithCorrections is Generate with the given element corrections injected into
// the prompt. They replace any corrections already on req.
func (p *Pipeline) GenerateWithCorrections(ctx context.Context, req model.GenerationRequest, corrections []model.ElementCorrection) (*model.GenerationResult, error) {
	req.Corrections = corrections
	return p.Generate(ctx, req)
}

// Run executes one generation. Identical concurrent requests share one upstream call;
// each caller still stops waiting when its own ctx is done.
func (p *Pipeline) Run(ctx context.Context, req model.GenerationRequest, observe Observer) (*Outcome, error) {
	if observe == nil {
		observe = func(string, map[string]interface{}) {}
	}

	pages, err := p.validate(req)
	if err != nil {
		return nil, err
	}
	fp := Fingerprint(pages, req.Corrections)
	log := logger.WithFields(map[string]interface{}{
		"fingerprint": shortFingerprint(fp),
		"pages":       len(pages),
		"force":       req.ForceRegenerate,
	})
	observe(StageValidated, map[string]interface{}{"fingerprint": fp, "pages": len(pages)})

	if !req.ForceRegenerate {
		if result, ok := p.cache.Get(fp); ok {
			log.Info("result cache hit")
			observe(StageCacheHit, nil)
			return &Outcome{Result: result, Fingerprint: fp, CacheHit: true}, nil
		}
	}

	key := fp
	if req.ForceRegenerate {
		key += "|force"
	}
	leader := false
	ch := p.flights.DoChan(key, func() (interface{}, error) {
		leader = true
		// the shared call outlives any single caller
		return p.generate(context.WithoutCancel(ctx), pages, req, fp, observe, log)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		out := *res.Val.(*Outcome)
		out.Result = out.Result.Clone()
		out.Shared = res.Shared && !leader
		if out.Shared {
			observe(StageJoined, nil)
		}
		return &out, nil
	}
}

func (p *Pipeline) generate(ctx context.Context, pages []model.PageInput, req model.GenerationRequest, fp string, observe Observer, log *logrus.Entry) (*Outcome, error) {
	if !req.ForceRegenerate {
		// a flight for the same key may have finished between Get and DoChan
		if result, ok := p.cache.Get(fp); ok {
			return &Outcome{Result: result, Fingerprint: fp, CacheHit: true}, nil
		}
	}

	observe(StageLoading, map[string]interface{}{"images": countRefs(pages)})
	loaded, err := p.loadImages(ctx, pages)
	if err != nil {
		return nil, err
	}

	prompt := p.prompts.Build(loaded, req.Corrections)
	temperature := p.opts.Temperature
	if req.ForceRegenerate {
		temperature = p.opts.RegenerateTemperature
	}

	observe(StageGenerating, map[string]interface{}{"provider": p.client.ProviderName(), "images": prompt.ImageCount()})
	log.Infof("requesting completion from %s (%d images, temperature %.2f)", p.client.ProviderName(), prompt.ImageCount(), temperature)

	raw, err := p.client.Complete(ctx, llm.CompletionRequest{
		Model:       p.opts.Model,
		Prompt:      prompt,
		Temperature: temperature,
		MaxTokens:   p.opts.MaxTokens,
		JSONMode:    p.opts.JSONMode,
	})
	if err != nil {
		log.Errorf("completion failed: %v", err)
		return nil, err
	}

	result, report, err := Normalize(raw)
	if err != nil {
		var pe *ParseError
		if errors.As(err, &pe) {
			log.Warnf("unparseable model response (%v): %s", pe.Err, pe.Snippet)
		}
		return nil, err
	}
	if len(report.Warnings) > 0 {
		log.Warnf("normalized %d test cases with %d repairs, %d dropped", len(result.AllTestCases), len(report.Warnings), report.Dropped)
		for _, w := range report.Warnings {
			log.Debug(w)
		}
	} else {
		log.Infof("normalized %d test cases", len(result.AllTestCases))
	}
	observe(StageNormalized, map[string]interface{}{"testCases": len(result.AllTestCases), "repairs": len(report.Warnings)})

	p.cache.Put(fp, result)

	return &Outcome{
		Result:      result,
		Fingerprint: fp,
		Regenerated: req.ForceRegenerate,
		Report:      report,
	}, nil
}

// validate checks the request and returns its pages in sequence order.
func (p *Pipeline) validate(req model.GenerationRequest) ([]model.PageInput, error) {
	if len(req.Pages) == 0 {
		return nil, fmt.Errorf("%w: at least one page is required", ErrInvalidRequest)
	}
	if p.opts.MaxPages > 0 && len(req.Pages) > p.opts.MaxPages {
		return nil, fmt.Errorf("%w: %d pages exceeds the limit of %d", ErrInvalidRequest, len(req.Pages), p.opts.MaxPages)
	}

	pages := make([]model.PageInput, len(req.Pages))
	copy(pages, req.Pages)
	sort.SliceStable(pages, func(i, j int) bool {
		return pages[i].Index < pages[j].Index
	})

	indices := make(map[int]struct{}, len(pages))
	for _, pg := range pages {
		if pg.Index < 0 {
			return nil, fmt.Errorf("%w: page %q has negative index %d", ErrInvalidRequest, pg.Name, pg.Index)
		}
		if _, dup := indices[pg.Index]; dup {
			return nil, fmt.Errorf("%w: duplicate page index %d", ErrInvalidRequest, pg.Index)
		}
		indices[pg.Index] = struct{}{}
		if !pg.HasImage() && strings.TrimSpace(pg.OCRText) == "" {
			return nil, fmt.Errorf("%w: page %d has neither an image nor OCR text", ErrInvalidRequest, pg.Index)
		}
	}

	for i, c := range req.Corrections {
		if _, ok := indices[c.PageIndex]; !ok {
			return nil, fmt.Errorf("%w: correction %d refers to unknown page index %d", ErrInvalidRequest, i, c.PageIndex)
		}
		if strings.TrimSpace(c.Label) == "" {
			return nil, fmt.Errorf("%w: correction %d has an empty label", ErrInvalidRequest, i)
		}
	}
	return pages, nil
}

// loadImages resolves file references concurrently. The input slice is not modified.
func (p *Pipeline) loadImages(ctx context.Context, pages []model.PageInput) ([]model.PageInput, error) {
	if countRefs(pages) > 0 && p.loader == nil {
		return nil, fmt.Errorf("%w: pages reference image files but no image loader is configured", ErrInvalidRequest)
	}
	loaded := make([]model.PageInput, len(pages))
	copy(loaded, pages)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.opts.ImageConcurrency)
	for i := range loaded {
		pg := &loaded[i]
		if len(pg.Image) > 0 || pg.FileRef == "" {
			continue
		}
		g.Go(func() error {
			data, mimeType, err := p.loader.Load(gctx, pg.FileRef)
			if err != nil {
				return fmt.Errorf("%w: page %d: %v", ErrInvalidRequest, pg.Index, err)
			}
			pg.Image = data
			if pg.MIMEType == "" {
				pg.MIMEType = mimeType
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return loaded, nil
}

func countRefs(pages []model.PageInput) int {
	n := 0
	for _, pg := range pages {
		if len(pg.Image) == 0 && pg.FileRef != "" {
			n++
		}
	}
	return n
}

func shortFingerprint(fp string) string {
	if len(fp) > 12 {
		return fp[:12]
	}
	return fp
}
