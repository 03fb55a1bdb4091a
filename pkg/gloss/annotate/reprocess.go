package annotate

import (
	"context"
	"errors"
	"fmt"

	"github.com/cognicore/gloss/pkg/gloss/batch"
	"github.com/cognicore/gloss/pkg/gloss/token"
)

// Window controls context widening for narrow reprocess ranges. A range
// spanning fewer than MinRange words is sent with ContextWords extra words on
// each side so the service sees enough surrounding text, but only the
// original range is ever overwritten.
type Window struct {
	MinRange     int
	ContextWords int
}

// Reprocess re-annotates the word range [start, end]. The service call goes
// through the same transport and validation retry budgets as a normal batch;
// on success the reply is merged scoped to the original range.
func (p *Pipeline) Reprocess(ctx context.Context, start, end int, win Window) error {
	totalWords := 0
	for _, t := range p.tokens {
		if t.WordPos > totalWords {
			totalWords = t.WordPos
		}
	}
	if start < 1 || end > totalWords || start > end {
		return fmt.Errorf("word range %d-%d out of bounds (document has %d words)", start, end, totalWords)
	}

	ctxStart, ctxEnd := start, end
	if end-start+1 < win.MinRange {
		ctxStart = start - win.ContextWords
		ctxEnd = end + win.ContextWords
		if ctxStart < 1 {
			ctxStart = 1
		}
		if ctxEnd > totalWords {
			ctxEnd = totalWords
		}
	}

	contextText := p.rangeText(ctxStart, ctxEnd)
	contextKeys := make([]int, 0, ctxEnd-ctxStart+1)
	for k := ctxStart; k <= ctxEnd; k++ {
		contextKeys = append(contextKeys, k)
	}

	segmentID := batch.SegmentID(start, end)
	req := p.integrator.SnapshotRange(contextText, contextKeys, segmentID, start, end)
	prompt, err := req.Prompt(p.template)
	if err != nil {
		return err
	}

	var (
		lastErr error
		lastRaw string
	)
	for attempt := 1; attempt <= p.validation.MaxAttempts; attempt++ {
		raw, err := p.callService(ctx, prompt)
		if err != nil {
			p.recordFailure(ctx, -1, "transport_error", req, lastRaw)
			return err
		}
		lastRaw = raw

		resp, perr := ParseResponse(raw)
		if perr == nil {
			counts := p.integrator.ApplyRange(resp, segmentID, start, end)
			p.logger.Printf("reprocess %d-%d (context %d-%d): %d words updated, %d idioms removed, %d added",
				start, end, ctxStart, ctxEnd,
				counts.WordsUpdated, counts.IdiomsRemoved, counts.IdiomsAdded)
			p.runCheckpoint(-1)
			return nil
		}
		lastErr = perr

		var verr *ValidationError
		if !errors.As(perr, &verr) {
			p.recordFailure(ctx, -1, "integration_error", req, lastRaw)
			return perr
		}
		p.logger.Printf("reprocess %d-%d: attempt %d/%d: %v", start, end, attempt, p.validation.MaxAttempts, perr)
		if attempt < p.validation.MaxAttempts {
			if err := sleepCtx(ctx, p.validation.delay(attempt)); err != nil {
				return err
			}
		}
	}

	p.recordFailure(ctx, -1, "validation_exhausted", req, lastRaw)
	return fmt.Errorf("reprocess %d-%d: validation retries exhausted: %w", start, end, lastErr)
}

// rangeText joins the tokens spanning the words [start, end], from the first
// token of the start word through the last token of the end word.
func (p *Pipeline) rangeText(start, end int) string {
	first, last := -1, -1
	for i, t := range p.tokens {
		if t.WordPos == 0 {
			continue
		}
		if t.WordPos >= start && first == -1 {
			first = i
		}
		if t.WordPos <= end {
			last = i
		}
	}
	if first == -1 || last < first {
		return ""
	}
	return token.Join(p.tokens, first, last)
}
