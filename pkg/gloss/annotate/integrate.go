package annotate

import (
	"strconv"
	"sync"

	"github.com/cognicore/gloss/pkg/gloss/batch"
	"github.com/cognicore/gloss/pkg/gloss/document"
	"github.com/cognicore/gloss/pkg/gloss/token"
)

// Integrator is the single owner of the shared document during a run. Every
// read and write of document state goes through its mutex, which is held only
// while applying or snapshotting — never across a network call or backoff.
type Integrator struct {
	mu  sync.Mutex
	doc *document.Document
}

// NewIntegrator wraps a document for exclusive access.
func NewIntegrator(doc *document.Document) *Integrator {
	return &Integrator{doc: doc}
}

// With runs fn under the lock. Used for stats passes and persistence between
// or after batch integrations.
func (in *Integrator) With(fn func(*document.Document)) {
	in.mu.Lock()
	defer in.mu.Unlock()
	fn(in.doc)
}

// BatchProcessed applies the skip rule: every owned word position is fully
// annotated, so the batch needs no service call.
func (in *Integrator) BatchProcessed(b batch.Batch) bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.doc.RangeProcessed(b.WordKeys)
}

// SnapshotBatch builds the request payload for a batch from the state as of
// dispatch time.
func (in *Integrator) SnapshotBatch(b batch.Batch, tokens []token.Token) Request {
	in.mu.Lock()
	defer in.mu.Unlock()

	req := Request{
		BatchText:   b.Text(tokens),
		WordData:    make(map[string]WordAnnotation, len(b.WordKeys)),
		SegmentData: make(map[string]SegmentAnnotation, 1),
		Idioms:      []IdiomAnnotation{},
	}
	for _, key := range b.WordKeys {
		if e, ok := in.doc.WordDatabase[key]; ok {
			req.WordData[strconv.Itoa(key)] = toWireWord(e)
		}
	}

	seg := SegmentAnnotation{
		ID:           b.SegmentID,
		StartWordKey: b.StartWordKey,
		EndWordKey:   b.EndWordKey,
		Translations: map[string]string{},
	}
	if existing, ok := in.doc.FindSegment(b.SegmentID); ok {
		seg = toWireSegment(existing)
	}
	req.SegmentData[b.SegmentID] = seg

	for _, idiom := range in.doc.Idioms {
		if idiom.ContainedIn(b.StartWordKey, b.EndWordKey) {
			req.Idioms = append(req.Idioms, toWireIdiom(idiom))
		}
	}
	return req
}

// SnapshotRange builds the request payload for a reprocess call: word data
// for the (possibly widened) context window, a synthetic segment for the
// original range, and no idioms.
func (in *Integrator) SnapshotRange(contextText string, contextKeys []int, segmentID string, start, end int) Request {
	in.mu.Lock()
	defer in.mu.Unlock()

	req := Request{
		BatchText:   contextText,
		WordData:    make(map[string]WordAnnotation, len(contextKeys)),
		SegmentData: make(map[string]SegmentAnnotation, 1),
		Idioms:      []IdiomAnnotation{},
	}
	for _, key := range contextKeys {
		if e, ok := in.doc.WordDatabase[key]; ok {
			req.WordData[strconv.Itoa(key)] = toWireWord(e)
		}
	}
	req.SegmentData[segmentID] = SegmentAnnotation{
		ID:           segmentID,
		StartWordKey: start,
		EndWordKey:   end,
		Translations: map[string]string{},
	}
	return req
}

// ApplyCounts reports what an integration changed. The counts are for
// observability only; control flow never depends on them.
type ApplyCounts struct {
	WordsUpdated    int
	SegmentsUpdated int
	SegmentsAdded   int
	IdiomsUpdated   int
	IdiomsAdded     int
	IdiomsRemoved   int
}

// ApplyBatch merges a validated response into the document. Word updates are
// accepted only for positions the batch owns; the stored surface form always
// wins over whatever the service echoed back.
func (in *Integrator) ApplyBatch(resp *Response, b batch.Batch) ApplyCounts {
	in.mu.Lock()
	defer in.mu.Unlock()

	var counts ApplyCounts
	counts.WordsUpdated = in.applyWords(resp.WordData, b.StartWordKey, b.EndWordKey)

	for id, seg := range resp.SegmentData {
		if seg.ID == "" {
			seg.ID = id
		}
		existing, ok := in.doc.FindSegment(seg.ID)
		if ok {
			// Merge only when the incoming record carries a usable
			// translations map.
			if seg.Translations != nil {
				*existing = fromWireSegment(seg)
				counts.SegmentsUpdated++
			}
			continue
		}
		added := fromWireSegment(seg)
		in.doc.Segments = append(in.doc.Segments, &added)
		counts.SegmentsAdded++
	}

	for _, idiom := range resp.Idioms {
		if idiom.ID == "" || idiom.Text == "" {
			continue
		}
		if existing, ok := in.doc.FindIdiom(idiom.ID); ok {
			*existing = fromWireIdiom(idiom)
			counts.IdiomsUpdated++
			continue
		}
		added := fromWireIdiom(idiom)
		in.doc.Idioms = append(in.doc.Idioms, &added)
		counts.IdiomsAdded++
	}

	return counts
}

// ApplyRange merges a reprocess response. Only word positions inside the
// original [start,end] range may be overwritten, the synthetic segment is
// upserted with its identity forced, and idioms fully contained in the range
// are replaced wholesale by the in-range idioms of the response.
func (in *Integrator) ApplyRange(resp *Response, segmentID string, start, end int) ApplyCounts {
	in.mu.Lock()
	defer in.mu.Unlock()

	var counts ApplyCounts
	counts.WordsUpdated = in.applyWords(resp.WordData, start, end)

	if seg, ok := resp.SegmentData[segmentID]; ok && seg.Translations != nil {
		seg.ID = segmentID
		seg.StartWordKey = start
		seg.EndWordKey = end
		if existing, found := in.doc.FindSegment(segmentID); found {
			*existing = fromWireSegment(seg)
			counts.SegmentsUpdated++
		} else {
			added := fromWireSegment(seg)
			in.doc.Segments = append(in.doc.Segments, &added)
			counts.SegmentsAdded++
		}
	}

	counts.IdiomsRemoved = in.doc.DeleteIdiomsIn(start, end)
	for _, idiom := range resp.Idioms {
		if idiom.ID == "" || idiom.Text == "" {
			continue
		}
		if idiom.StartWordKey >= start && idiom.EndWordKey <= end {
			added := fromWireIdiom(idiom)
			in.doc.Idioms = append(in.doc.Idioms, &added)
			counts.IdiomsAdded++
		}
	}

	return counts
}

// applyWords overwrites annotation fields for known positions inside
// [start,end]. Unknown positions are ignored, never inserted. Callers hold
// the lock.
func (in *Integrator) applyWords(wordData map[string]WordAnnotation, start, end int) int {
	updated := 0
	for key, ann := range wordData {
		pos, err := strconv.Atoi(key)
		if err != nil || pos < start || pos > end {
			continue
		}
		entry, ok := in.doc.WordDatabase[pos]
		if !ok {
			continue
		}
		surface := entry.SurfaceForm
		entry.PartOfSpeech = ann.PartOfSpeech
		entry.Lemma = ann.Lemma
		entry.BestTranslation = ann.BestTranslation
		entry.PossibleTranslations = ann.PossibleTranslations
		entry.Details = ann.Details
		entry.LemmaTranslations = ann.LemmaTranslations
		entry.SurfaceForm = surface
		updated++
	}
	return updated
}

func toWireWord(e *document.WordEntry) WordAnnotation {
	return WordAnnotation{
		Word:                 e.SurfaceForm,
		PartOfSpeech:         e.PartOfSpeech,
		Lemma:                e.Lemma,
		BestTranslation:      e.BestTranslation,
		PossibleTranslations: e.PossibleTranslations,
		Details:              e.Details,
		LemmaTranslations:    e.LemmaTranslations,
	}
}

func toWireSegment(s *document.Segment) SegmentAnnotation {
	return SegmentAnnotation{
		ID:           s.ID,
		StartWordKey: s.StartWordKey,
		EndWordKey:   s.EndWordKey,
		Translations: s.Translations,
	}
}

func fromWireSegment(s SegmentAnnotation) document.Segment {
	if s.Translations == nil {
		s.Translations = map[string]string{}
	}
	return document.Segment{
		ID:           s.ID,
		StartWordKey: s.StartWordKey,
		EndWordKey:   s.EndWordKey,
		Translations: s.Translations,
	}
}

func toWireIdiom(i *document.Idiom) IdiomAnnotation {
	return IdiomAnnotation{ID: i.ID, Text: i.Text, StartWordKey: i.StartWordKey, EndWordKey: i.EndWordKey}
}

func fromWireIdiom(i IdiomAnnotation) document.Idiom {
	return document.Idiom{ID: i.ID, Text: i.Text, StartWordKey: i.StartWordKey, EndWordKey: i.EndWordKey}
}
