// Package gloss is the annotation engine facade. It ties together
// tokenization, batching, the concurrent annotation pipeline, frequency
// statistics and persistence behind a small resumable API: every run loads
// whatever progress exists on disk, skips finished batches, and saves after
// each integration, so interrupting and restarting never loses work.
package gloss

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/oklog/ulid/v2"

	"github.com/cognicore/gloss/pkg/gloss/annotate"
	"github.com/cognicore/gloss/pkg/gloss/batch"
	"github.com/cognicore/gloss/pkg/gloss/config"
	"github.com/cognicore/gloss/pkg/gloss/document"
	"github.com/cognicore/gloss/pkg/gloss/faillog"
	"github.com/cognicore/gloss/pkg/gloss/stats"
	"github.com/cognicore/gloss/pkg/gloss/token"
)

// Options configures an Engine. Client is required unless the engine is only
// used for initialization, status and clearing.
type Options struct {
	// DocumentPath is where annotation state is persisted. When the file
	// exists it is loaded and its text is authoritative; otherwise
	// SourceText starts a fresh document.
	DocumentPath string
	SourceText   string

	Client   annotate.Client
	Failures faillog.Log
	Config   config.Config

	// Template overrides the built-in prompt template.
	Template string

	Logger *log.Logger
}

// Engine drives annotation runs over one document.
type Engine struct {
	docPath  string
	tokens   []token.Token
	words    int
	batches  []batch.Batch
	in       *annotate.Integrator
	client   annotate.Client
	failures faillog.Log
	cfg      config.Config
	template string
	logger   *log.Logger
	runID    string
}

// New loads or creates the document and computes its batch layout.
func New(opts Options) (*Engine, error) {
	if opts.Config.Batching.TargetWords == 0 {
		opts.Config = config.Default()
	}
	if err := opts.Config.Validate(); err != nil {
		return nil, err
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}

	doc, err := loadOrCreate(opts.DocumentPath, opts.SourceText)
	if err != nil {
		return nil, err
	}

	tokens, words := token.Tokenize(doc.InputText)
	doc.EnsureEntries(tokens)
	splits := batch.FindSplitPoints(tokens, words, batch.Params{
		TargetWords:   opts.Config.Batching.TargetWords,
		BackwardRange: opts.Config.Batching.BackwardRange,
		ForwardRange:  opts.Config.Batching.ForwardRange,
	})

	return &Engine{
		docPath:  opts.DocumentPath,
		tokens:   tokens,
		words:    words,
		batches:  batch.Boundaries(tokens, splits),
		in:       annotate.NewIntegrator(doc),
		client:   opts.Client,
		failures: opts.Failures,
		cfg:      opts.Config,
		template: opts.Template,
		logger:   opts.Logger,
		runID:    ulid.MustNew(ulid.Now(), ulid.Monotonic(rand.Reader, 0)).String(),
	}, nil
}

func loadOrCreate(path, sourceText string) (*document.Document, error) {
	if path != "" {
		doc, err := document.Load(path)
		if err == nil {
			return doc, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
	}
	if sourceText == "" {
		return nil, fmt.Errorf("no document at %q and no source text given", path)
	}
	return document.New(sourceText), nil
}

// RunID identifies this engine instance in failure log records.
func (e *Engine) RunID() string { return e.runID }

// Batches returns the computed batch layout.
func (e *Engine) Batches() []batch.Batch { return e.batches }

// Save recomputes frequency statistics and persists the document.
func (e *Engine) Save() error {
	if e.docPath == "" {
		return nil
	}
	var err error
	e.in.With(func(d *document.Document) {
		stats.Recalculate(d)
		err = d.Save(e.docPath)
	})
	return err
}

// BatchStatus is one batch's position in the resume cycle.
type BatchStatus struct {
	Index     int
	SegmentID string
	StartWord int
	EndWord   int
	Processed bool
}

// Status describes overall progress.
type Status struct {
	TotalWords     int
	AnnotatedWords int
	Batches        []BatchStatus
}

// Processed returns how many batches are fully annotated.
func (s Status) Processed() int {
	n := 0
	for _, b := range s.Batches {
		if b.Processed {
			n++
		}
	}
	return n
}

// Status reports per-batch and per-word progress.
func (e *Engine) Status() Status {
	st := Status{TotalWords: e.words}
	e.in.With(func(d *document.Document) {
		for _, entry := range d.WordDatabase {
			if entry.Annotated() {
				st.AnnotatedWords++
			}
		}
	})
	for _, b := range e.batches {
		st.Batches = append(st.Batches, BatchStatus{
			Index:     b.Index,
			SegmentID: b.SegmentID,
			StartWord: b.StartWordKey,
			EndWord:   b.EndWordKey,
			Processed: e.in.BatchProcessed(b),
		})
	}
	return st
}

// RunOptions selects which batches a run covers. Zero value means all.
type RunOptions struct {
	// UpToBatch stops after this many batches from the start (1-based
	// count). Zero means no limit.
	UpToBatch int
	// Batches selects specific batch indexes. Empty means all.
	Batches []int
}

// Run annotates the selected batches and persists progress. Batches already
// annotated are skipped. The document is saved even when some batches fail,
// so partial progress always survives.
func (e *Engine) Run(ctx context.Context, opts RunOptions) (annotate.Summary, error) {
	if e.client == nil {
		return annotate.Summary{}, errors.New("gloss: no annotation client configured")
	}

	selected, err := e.selectBatches(opts)
	if err != nil {
		return annotate.Summary{}, err
	}

	p, err := e.pipeline()
	if err != nil {
		return annotate.Summary{}, err
	}

	sum := p.Run(ctx, selected)
	if err := e.Save(); err != nil {
		return sum, fmt.Errorf("save document: %w", err)
	}
	if sum.Failed > 0 {
		return sum, fmt.Errorf("%d of %d batches failed", sum.Failed, len(selected))
	}
	return sum, nil
}

// Reprocess re-annotates the word range [start, end] and persists the result.
func (e *Engine) Reprocess(ctx context.Context, start, end int) error {
	if e.client == nil {
		return errors.New("gloss: no annotation client configured")
	}
	p, err := e.pipeline()
	if err != nil {
		return err
	}
	win := annotate.Window{
		MinRange:     e.cfg.Reprocess.MinRangeForContext,
		ContextWords: e.cfg.Reprocess.ContextWordWindow,
	}
	if err := p.Reprocess(ctx, start, end, win); err != nil {
		return err
	}
	return e.Save()
}

// ClearBatch resets a batch's word annotations and segment translations so
// the next run reprocesses it. The batch index is 1-based.
func (e *Engine) ClearBatch(index int) error {
	var target *batch.Batch
	for i := range e.batches {
		if e.batches[i].Index == index {
			target = &e.batches[i]
			break
		}
	}
	if target == nil {
		return fmt.Errorf("batch %d does not exist (document has %d batches)", index, len(e.batches))
	}
	e.in.With(func(d *document.Document) {
		d.ClearWords(target.WordKeys)
		d.ClearSegmentTranslations(target.SegmentID, target.StartWordKey, target.EndWordKey)
		d.DeleteIdiomsIn(target.StartWordKey, target.EndWordKey)
	})
	return e.Save()
}

// ClearRange resets annotations for the word range [start, end].
func (e *Engine) ClearRange(start, end int) error {
	if start < 1 || end > e.words || start > end {
		return fmt.Errorf("word range %d-%d out of bounds (document has %d words)", start, end, e.words)
	}
	keys := make([]int, 0, end-start+1)
	for k := start; k <= end; k++ {
		keys = append(keys, k)
	}
	e.in.With(func(d *document.Document) {
		d.ClearWords(keys)
		d.ClearSegmentTranslations(batch.SegmentID(start, end), start, end)
		d.DeleteIdiomsIn(start, end)
	})
	return e.Save()
}

func (e *Engine) selectBatches(opts RunOptions) ([]batch.Batch, error) {
	selected := e.batches
	if len(opts.Batches) > 0 {
		byIndex := make(map[int]batch.Batch, len(e.batches))
		for _, b := range e.batches {
			byIndex[b.Index] = b
		}
		selected = make([]batch.Batch, 0, len(opts.Batches))
		for _, idx := range opts.Batches {
			b, ok := byIndex[idx]
			if !ok {
				return nil, fmt.Errorf("batch %d does not exist (document has %d batches)", idx, len(e.batches))
			}
			selected = append(selected, b)
		}
	}
	if opts.UpToBatch > 0 && opts.UpToBatch < len(selected) {
		selected = selected[:opts.UpToBatch]
	}
	return selected, nil
}

func (e *Engine) pipeline() (*annotate.Pipeline, error) {
	checkpoint := func(d *document.Document) error {
		if e.docPath == "" {
			return nil
		}
		stats.Recalculate(d)
		return d.Save(e.docPath)
	}
	return annotate.NewPipeline(annotate.PipelineOptions{
		Client:      e.client,
		Integrator:  e.in,
		Tokens:      e.tokens,
		Concurrency: e.cfg.Concurrency,
		Transport: annotate.RetryPolicy{
			MaxAttempts: e.cfg.TransportRetry.MaxAttempts,
			BaseDelay:   e.cfg.TransportRetry.BaseDelay.Std(),
			Exponential: e.cfg.TransportRetry.Exponential,
		},
		Validation: annotate.RetryPolicy{
			MaxAttempts: e.cfg.ValidationRetry.MaxAttempts,
			BaseDelay:   e.cfg.ValidationRetry.BaseDelay.Std(),
			Exponential: e.cfg.ValidationRetry.Exponential,
		},
		Template:   e.template,
		Failures:   e.failures,
		RunID:      e.runID,
		Checkpoint: checkpoint,
		Logger:     e.logger,
	})
}
