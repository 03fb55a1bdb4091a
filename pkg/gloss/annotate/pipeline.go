// Package annotate drives the annotation service: it dispatches batches with
// bounded concurrency, retries transient failures, validates replies, and
// integrates them into the document through the Integrator.
package annotate

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/cognicore/gloss/pkg/gloss/batch"
	"github.com/cognicore/gloss/pkg/gloss/document"
	"github.com/cognicore/gloss/pkg/gloss/faillog"
	"github.com/cognicore/gloss/pkg/gloss/token"
)

// Client is the annotation service. Implementations send one prompt and
// return the raw reply text; transient failures are reported as retryable
// TransportErrors.
type Client interface {
	Annotate(ctx context.Context, prompt string) (string, error)
}

// RetryPolicy bounds one class of retries.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	// Exponential doubles the delay after each failed attempt. Fixed-delay
	// policies always wait BaseDelay.
	Exponential bool
}

func (p RetryPolicy) delay(attempt int) time.Duration {
	d := p.BaseDelay
	if !p.Exponential {
		return d
	}
	for i := 1; i < attempt; i++ {
		d *= 2
	}
	return d
}

// Summary is the outcome of a run over a set of batches.
type Summary struct {
	Succeeded int
	Failed    int
	Skipped   int
}

// PipelineOptions configures a Pipeline. Client and Integrator are required.
type PipelineOptions struct {
	Client     Client
	Integrator *Integrator
	Tokens     []token.Token

	// Concurrency caps in-flight service calls. Zero means 5.
	Concurrency int

	// Transport governs network-level retries (exponential backoff).
	// Validation governs structurally-invalid-reply retries (fixed delay).
	Transport  RetryPolicy
	Validation RetryPolicy

	// Template is the prompt template; empty means DefaultTemplate.
	Template string

	// Failures receives a record for every batch that exhausts its retries.
	// Nil disables failure logging.
	Failures faillog.Log
	RunID    string

	// Checkpoint, when set, runs under the document lock after every
	// successful integration. Used to persist partial progress.
	Checkpoint func(*document.Document) error

	Logger *log.Logger
}

// Pipeline annotates batches concurrently against a shared document.
type Pipeline struct {
	client     Client
	integrator *Integrator
	tokens     []token.Token
	sem        chan struct{}
	transport  RetryPolicy
	validation RetryPolicy
	template   string
	failures   faillog.Log
	runID      string
	checkpoint func(*document.Document) error
	logger     *log.Logger
}

// NewPipeline validates options and builds a pipeline.
func NewPipeline(opts PipelineOptions) (*Pipeline, error) {
	if opts.Client == nil {
		return nil, errors.New("annotate: client is required")
	}
	if opts.Integrator == nil {
		return nil, errors.New("annotate: integrator is required")
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 5
	}
	if opts.Transport.MaxAttempts <= 0 {
		opts.Transport = RetryPolicy{MaxAttempts: 3, BaseDelay: 10 * time.Second, Exponential: true}
	}
	if opts.Validation.MaxAttempts <= 0 {
		opts.Validation = RetryPolicy{MaxAttempts: 6, BaseDelay: 5 * time.Second}
	}
	if opts.Template == "" {
		opts.Template = DefaultTemplate
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	return &Pipeline{
		client:     opts.Client,
		integrator: opts.Integrator,
		tokens:     opts.Tokens,
		sem:        make(chan struct{}, opts.Concurrency),
		transport:  opts.Transport,
		validation: opts.Validation,
		template:   opts.Template,
		failures:   opts.Failures,
		runID:      opts.RunID,
		checkpoint: opts.Checkpoint,
		logger:     opts.Logger,
	}, nil
}

// Run processes the given batches concurrently. Already-annotated batches are
// skipped without a service call. One batch failing never stops the others;
// the summary reports how each batch ended.
func (p *Pipeline) Run(ctx context.Context, batches []batch.Batch) Summary {
	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		sum Summary
	)
	for _, b := range batches {
		if b.Empty() || p.integrator.BatchProcessed(b) {
			p.logger.Printf("batch %d (%s): already annotated, skipping", b.Index, b.SegmentID)
			sum.Skipped++
			continue
		}
		wg.Add(1)
		go func(b batch.Batch) {
			defer wg.Done()
			err := p.processBatch(ctx, b)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				sum.Failed++
			} else {
				sum.Succeeded++
			}
		}(b)
	}
	wg.Wait()
	return sum
}

// processBatch runs one batch to completion: snapshot, prompt, call, parse,
// integrate. Structurally invalid replies re-issue the call under the
// validation budget; replies that fail typed decoding abort immediately.
func (p *Pipeline) processBatch(ctx context.Context, b batch.Batch) error {
	req := p.integrator.SnapshotBatch(b, p.tokens)
	prompt, err := req.Prompt(p.template)
	if err != nil {
		p.logger.Printf("batch %d: %v", b.Index, err)
		p.recordFailure(ctx, b.Index, "prompt_error", req, "")
		return err
	}

	var (
		lastErr error
		lastRaw string
	)
	for attempt := 1; attempt <= p.validation.MaxAttempts; attempt++ {
		raw, err := p.callService(ctx, prompt)
		if err != nil {
			p.logger.Printf("batch %d: service call failed: %v", b.Index, err)
			p.recordFailure(ctx, b.Index, "transport_error", req, lastRaw)
			return err
		}
		lastRaw = raw

		resp, perr := ParseResponse(raw)
		if perr == nil {
			counts := p.integrator.ApplyBatch(resp, b)
			p.logger.Printf("batch %d (%s): integrated %d words, %d/%d segments, %d/%d idioms",
				b.Index, b.SegmentID, counts.WordsUpdated,
				counts.SegmentsUpdated, counts.SegmentsAdded,
				counts.IdiomsUpdated, counts.IdiomsAdded)
			p.runCheckpoint(b.Index)
			return nil
		}
		lastErr = perr

		var verr *ValidationError
		if !errors.As(perr, &verr) {
			p.logger.Printf("batch %d: %v", b.Index, perr)
			p.recordFailure(ctx, b.Index, "integration_error", req, lastRaw)
			return perr
		}
		p.logger.Printf("batch %d: attempt %d/%d: %v", b.Index, attempt, p.validation.MaxAttempts, perr)
		if attempt < p.validation.MaxAttempts {
			if err := sleepCtx(ctx, p.validation.delay(attempt)); err != nil {
				return err
			}
		}
	}

	p.recordFailure(ctx, b.Index, "validation_exhausted", req, lastRaw)
	return fmt.Errorf("batch %d: validation retries exhausted: %w", b.Index, lastErr)
}

// callService holds a concurrency slot for the duration of the call,
// including transport retries and their backoff.
func (p *Pipeline) callService(ctx context.Context, prompt string) (string, error) {
	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	defer func() { <-p.sem }()

	var last error
	for attempt := 1; attempt <= p.transport.MaxAttempts; attempt++ {
		raw, err := p.client.Annotate(ctx, prompt)
		if err == nil {
			return raw, nil
		}
		var te *TransportError
		if !errors.As(err, &te) || !te.Retryable {
			return "", err
		}
		last = err
		if attempt == p.transport.MaxAttempts {
			break
		}
		if err := sleepCtx(ctx, p.transport.delay(attempt)); err != nil {
			return "", err
		}
	}
	return "", fmt.Errorf("transport retries exhausted: %w", last)
}

func (p *Pipeline) runCheckpoint(batchIndex int) {
	if p.checkpoint == nil {
		return
	}
	p.integrator.With(func(d *document.Document) {
		if err := p.checkpoint(d); err != nil {
			p.logger.Printf("batch %d: checkpoint: %v", batchIndex, err)
		}
	})
}

func (p *Pipeline) recordFailure(ctx context.Context, batchIndex int, status string, req Request, lastRaw string) {
	if p.failures == nil {
		return
	}
	payload, err := req.ContextJSON()
	if err != nil {
		payload = ""
	}
	rec := faillog.Record{
		RunID:        p.runID,
		BatchIndex:   batchIndex,
		Status:       status,
		InputPayload: payload,
		LastResponse: lastRaw,
	}
	if err := p.failures.Append(ctx, rec); err != nil {
		p.logger.Printf("batch %d: failure log append: %v", batchIndex, err)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
