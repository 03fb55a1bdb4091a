package annotate

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cognicore/gloss/pkg/gloss/batch"
	"github.com/cognicore/gloss/pkg/gloss/document"
	"github.com/cognicore/gloss/pkg/gloss/faillog/memlog"
	"github.com/cognicore/gloss/pkg/gloss/token"
)

// fakeClient scripts replies per call and records every prompt it saw.
type fakeClient struct {
	mu      sync.Mutex
	prompts []string
	reply   func(call int, prompt string) (string, error)
}

func (f *fakeClient) Annotate(ctx context.Context, prompt string) (string, error) {
	f.mu.Lock()
	f.prompts = append(f.prompts, prompt)
	call := len(f.prompts)
	f.mu.Unlock()
	return f.reply(call, prompt)
}

func (f *fakeClient) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.prompts)
}

func fastPolicies() (RetryPolicy, RetryPolicy) {
	transport := RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond, Exponential: true}
	validation := RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond}
	return transport, validation
}

func newTestPipeline(t *testing.T, text string, target int, client Client) (*Pipeline, *Integrator, []batch.Batch, *memlog.Log) {
	t.Helper()
	doc := document.New(text)
	tokens, words := token.Tokenize(text)
	splits := batch.FindSplitPoints(tokens, words, batch.Params{TargetWords: target, BackwardRange: 2, ForwardRange: 2})
	batches := batch.Boundaries(tokens, splits)

	in := NewIntegrator(doc)
	failures := memlog.New()
	transport, validation := fastPolicies()
	p, err := NewPipeline(PipelineOptions{
		Client:      client,
		Integrator:  in,
		Tokens:      tokens,
		Concurrency: 2,
		Transport:   transport,
		Validation:  validation,
		Failures:    failures,
		RunID:       "run-test",
		Logger:      log.New(io.Discard, "", 0),
	})
	if err != nil {
		t.Fatalf("NewPipeline: %v", err)
	}
	return p, in, batches, failures
}

// validReply builds a reply annotating every word position the prompt's
// context mentions, within [start, end].
func validReply(start, end int, segmentID string) string {
	words := map[string]WordAnnotation{}
	for k := start; k <= end; k++ {
		words[fmt.Sprint(k)] = WordAnnotation{
			Word:            "echoed",
			PartOfSpeech:    "noun",
			Lemma:           fmt.Sprintf("lemma%d", k),
			BestTranslation: fmt.Sprintf("tr%d", k),
		}
	}
	resp := Response{
		WordData:    words,
		SegmentData: map[string]SegmentAnnotation{segmentID: {ID: segmentID, StartWordKey: start, EndWordKey: end, Translations: map[string]string{"it": "prova"}}},
		Idioms:      []IdiomAnnotation{},
	}
	b, _ := json.Marshal(resp)
	return string(b)
}

func TestRunIntegratesBatches(t *testing.T) {
	client := &fakeClient{}
	client.reply = func(call int, prompt string) (string, error) {
		switch {
		case strings.Contains(prompt, "Hello world."):
			return validReply(1, 2, "seg-1-2"), nil
		default:
			return validReply(3, 4, "seg-3-4"), nil
		}
	}

	p, in, batches, _ := newTestPipeline(t, "Hello world. Goodbye now.", 2, client)
	if len(batches) != 2 {
		t.Fatalf("got %d batches, want 2", len(batches))
	}

	sum := p.Run(context.Background(), batches)
	if sum.Succeeded != 2 || sum.Failed != 0 || sum.Skipped != 0 {
		t.Fatalf("summary = %+v, want 2 succeeded", sum)
	}

	in.With(func(d *document.Document) {
		for pos := 1; pos <= 4; pos++ {
			e := d.WordDatabase[pos]
			if !e.Annotated() {
				t.Errorf("word %d not annotated: %+v", pos, e)
			}
		}
		// Surface casing comes from the document, never from the reply.
		if d.WordDatabase[1].SurfaceForm != "Hello" {
			t.Errorf("surface form overwritten: %q", d.WordDatabase[1].SurfaceForm)
		}
		if len(d.Segments) != 2 {
			t.Errorf("got %d segments, want 2", len(d.Segments))
		}
	})
}

func TestRunSkipsAnnotatedBatches(t *testing.T) {
	client := &fakeClient{}
	client.reply = func(call int, prompt string) (string, error) {
		return validReply(3, 4, "seg-3-4"), nil
	}

	p, in, batches, _ := newTestPipeline(t, "Hello world. Goodbye now.", 2, client)
	in.With(func(d *document.Document) {
		for pos := 1; pos <= 2; pos++ {
			e := d.WordDatabase[pos]
			e.PartOfSpeech = "noun"
			e.Lemma = "x"
			e.BestTranslation = "y"
		}
	})

	sum := p.Run(context.Background(), batches)
	if sum.Skipped != 1 || sum.Succeeded != 1 {
		t.Fatalf("summary = %+v, want 1 skipped 1 succeeded", sum)
	}
	if client.calls() != 1 {
		t.Fatalf("client called %d times, want 1", client.calls())
	}
}

func TestTransportRetryThenSuccess(t *testing.T) {
	client := &fakeClient{}
	client.reply = func(call int, prompt string) (string, error) {
		if call < 3 {
			return "", &TransportError{Status: 503, Retryable: true, Err: fmt.Errorf("overloaded")}
		}
		return validReply(1, 2, "seg-1-2"), nil
	}

	p, _, batches, failures := newTestPipeline(t, "Hello world.", 5, client)
	sum := p.Run(context.Background(), batches)
	if sum.Succeeded != 1 {
		t.Fatalf("summary = %+v, want success after retries", sum)
	}
	if client.calls() != 3 {
		t.Fatalf("client called %d times, want 3", client.calls())
	}
	if got := failures.All(); len(got) != 0 {
		t.Fatalf("unexpected failure records: %+v", got)
	}
}

func TestNonRetryableTransportFailsImmediately(t *testing.T) {
	client := &fakeClient{}
	client.reply = func(call int, prompt string) (string, error) {
		return "", &TransportError{Status: 401, Retryable: false, Err: fmt.Errorf("bad key")}
	}

	p, _, batches, failures := newTestPipeline(t, "Hello world.", 5, client)
	sum := p.Run(context.Background(), batches)
	if sum.Failed != 1 {
		t.Fatalf("summary = %+v, want 1 failed", sum)
	}
	if client.calls() != 1 {
		t.Fatalf("client called %d times, want 1", client.calls())
	}
	recs := failures.All()
	if len(recs) != 1 || recs[0].Status != "transport_error" {
		t.Fatalf("failure records = %+v, want one transport_error", recs)
	}
}

func TestValidationRetryThenSuccess(t *testing.T) {
	client := &fakeClient{}
	client.reply = func(call int, prompt string) (string, error) {
		if call == 1 {
			return "definitely not json", nil
		}
		return validReply(1, 2, "seg-1-2"), nil
	}

	p, _, batches, _ := newTestPipeline(t, "Hello world.", 5, client)
	sum := p.Run(context.Background(), batches)
	if sum.Succeeded != 1 {
		t.Fatalf("summary = %+v, want success after validation retry", sum)
	}
	if client.calls() != 2 {
		t.Fatalf("client called %d times, want 2", client.calls())
	}
}

func TestValidationExhaustedRecordsFailure(t *testing.T) {
	client := &fakeClient{}
	client.reply = func(call int, prompt string) (string, error) {
		return `{"wordData":{}}`, nil
	}

	p, in, batches, failures := newTestPipeline(t, "Hello world.", 5, client)
	sum := p.Run(context.Background(), batches)
	if sum.Failed != 1 {
		t.Fatalf("summary = %+v, want 1 failed", sum)
	}
	if client.calls() != 3 {
		t.Fatalf("client called %d times, want validation budget of 3", client.calls())
	}

	recs := failures.All()
	if len(recs) != 1 {
		t.Fatalf("got %d failure records, want 1", len(recs))
	}
	rec := recs[0]
	if rec.Status != "validation_exhausted" || rec.RunID != "run-test" {
		t.Errorf("record = %+v", rec)
	}
	if rec.InputPayload == "" || rec.LastResponse != `{"wordData":{}}` {
		t.Errorf("record payload/response not captured: %+v", rec)
	}

	in.With(func(d *document.Document) {
		if d.WordDatabase[1].Annotated() {
			t.Error("failed batch must not mutate the document")
		}
	})
}

func TestIntegrationErrorNotRetried(t *testing.T) {
	client := &fakeClient{}
	client.reply = func(call int, prompt string) (string, error) {
		// Top-level shape is fine but the word record is malformed.
		return `{"wordData":{"1":{"pos":7}},"segmentData":{},"idioms":[]}`, nil
	}

	p, _, batches, failures := newTestPipeline(t, "Hello world.", 5, client)
	sum := p.Run(context.Background(), batches)
	if sum.Failed != 1 {
		t.Fatalf("summary = %+v, want 1 failed", sum)
	}
	if client.calls() != 1 {
		t.Fatalf("client called %d times, want 1 (no retry)", client.calls())
	}
	recs := failures.All()
	if len(recs) != 1 || recs[0].Status != "integration_error" {
		t.Fatalf("failure records = %+v, want one integration_error", recs)
	}
}

func TestOneFailureDoesNotStopSiblings(t *testing.T) {
	client := &fakeClient{}
	client.reply = func(call int, prompt string) (string, error) {
		if strings.Contains(prompt, "Hello world.") {
			return "", &TransportError{Status: 400, Retryable: false, Err: fmt.Errorf("rejected")}
		}
		return validReply(3, 4, "seg-3-4"), nil
	}

	p, in, batches, _ := newTestPipeline(t, "Hello world. Goodbye now.", 2, client)
	sum := p.Run(context.Background(), batches)
	if sum.Failed != 1 || sum.Succeeded != 1 {
		t.Fatalf("summary = %+v, want 1 failed 1 succeeded", sum)
	}
	in.With(func(d *document.Document) {
		if !d.WordDatabase[3].Annotated() || !d.WordDatabase[4].Annotated() {
			t.Error("sibling batch was not integrated")
		}
	})
}

func TestCheckpointRunsAfterIntegration(t *testing.T) {
	client := &fakeClient{}
	client.reply = func(call int, prompt string) (string, error) {
		return validReply(1, 2, "seg-1-2"), nil
	}

	doc := document.New("Hello world.")
	tokens, words := token.Tokenize("Hello world.")
	splits := batch.FindSplitPoints(tokens, words, batch.Params{TargetWords: 5, BackwardRange: 2, ForwardRange: 2})
	batches := batch.Boundaries(tokens, splits)

	var mu sync.Mutex
	saved := 0
	transport, validation := fastPolicies()
	p, err := NewPipeline(PipelineOptions{
		Client:     client,
		Integrator: NewIntegrator(doc),
		Tokens:     tokens,
		Transport:  transport,
		Validation: validation,
		Checkpoint: func(d *document.Document) error {
			mu.Lock()
			defer mu.Unlock()
			saved++
			if !d.WordDatabase[1].Annotated() {
				t.Error("checkpoint ran before integration")
			}
			return nil
		},
		Logger: log.New(io.Discard, "", 0),
	})
	if err != nil {
		t.Fatalf("NewPipeline: %v", err)
	}

	if sum := p.Run(context.Background(), batches); sum.Succeeded != 1 {
		t.Fatalf("run failed: %+v", sum)
	}
	if saved != 1 {
		t.Fatalf("checkpoint ran %d times, want 1", saved)
	}
}

func TestRunHonorsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	client := &fakeClient{}
	client.reply = func(call int, prompt string) (string, error) {
		cancel()
		return "", &TransportError{Status: 503, Retryable: true, Err: fmt.Errorf("overloaded")}
	}

	p, _, batches, _ := newTestPipeline(t, "Hello world.", 5, client)
	p.transport.BaseDelay = time.Minute

	done := make(chan Summary, 1)
	go func() { done <- p.Run(ctx, batches) }()
	select {
	case sum := <-done:
		if sum.Failed != 1 {
			t.Fatalf("summary = %+v, want 1 failed", sum)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("run did not stop after cancellation")
	}
}
