// Package document defines the persisted annotation state: the word database
// keyed by word position, segment and idiom lists, and the source text they
// all refer to.
//
// A Document is a plain data structure with no internal locking; concurrent
// mutation is the annotate.Integrator's responsibility.
package document

import (
	"encoding/json"
	"sort"
	"strings"

	"github.com/cognicore/gloss/pkg/gloss/token"
)

// WordEntry is the annotation record for one word position. Annotation fields
// use the empty string as the pending zero value; a field is resolved once the
// annotation service has supplied a non-empty value for it.
type WordEntry struct {
	// SurfaceForm always reflects the original text at this position. The
	// service may echo the word back with different casing; that echo is
	// discarded on merge.
	SurfaceForm string `json:"word"`

	PartOfSpeech    string `json:"pos"`
	Lemma           string `json:"lemma"`
	BestTranslation string `json:"best_translation"`

	PossibleTranslations []string          `json:"possible_translations"`
	Details              map[string]string `json:"details"`

	Frequency         int  `json:"freq"`
	FrequencyUpToHere int  `json:"freq_till_now"`
	IsFirstOccurrence bool `json:"first_inst"`

	LemmaTranslations []string `json:"lemma_translations"`
	MostFrequentLemma string   `json:"most_frequent_lemma"`
}

// Annotated reports whether the fields that matter for skip detection are all
// resolved: part of speech, lemma, and best translation.
func (e WordEntry) Annotated() bool {
	return e.PartOfSpeech != "" && e.Lemma != "" && e.BestTranslation != ""
}

// ClearAnnotation resets every annotation field back to pending, keeping the
// surface form and the frequency statistics (those are recomputed by the
// stats pass anyway).
func (e *WordEntry) ClearAnnotation() {
	e.PartOfSpeech = ""
	e.Lemma = ""
	e.BestTranslation = ""
	e.PossibleTranslations = nil
	e.Details = nil
	e.LemmaTranslations = nil
	e.MostFrequentLemma = ""
}

// LowerSurface returns the lowercased surface form, the grouping key side
// used by the stats pass.
func (e WordEntry) LowerSurface() string { return strings.ToLower(e.SurfaceForm) }

// Segment is a named, bounded word range carrying translations for the span
// as a whole. At most one segment exists per ID.
type Segment struct {
	ID           string            `json:"id"`
	StartWordKey int               `json:"startWordKey"`
	EndWordKey   int               `json:"endWordKey"`
	Translations map[string]string `json:"translations"`
}

// Idiom is a bounded word range flagged as a multi-word expression.
type Idiom struct {
	ID           string `json:"id"`
	Text         string `json:"text"`
	StartWordKey int    `json:"startWordKey"`
	EndWordKey   int    `json:"endWordKey"`
}

// ContainedIn reports whether the idiom's range lies fully inside [start,end].
func (i Idiom) ContainedIn(start, end int) bool {
	return i.StartWordKey >= start && i.EndWordKey <= end
}

// Document is the persisted unit: source text plus all annotation state.
// KnownWords is owned by an external collaborator and round-trips untouched.
type Document struct {
	InputText    string
	WordDatabase map[int]*WordEntry
	Segments     []*Segment
	Idioms       []*Idiom
	KnownWords   []json.RawMessage
}

// New creates a fresh document from a source text: every word token gets a
// pending entry whose surface form is the exact original text.
func New(text string) *Document {
	d := &Document{
		InputText:    text,
		WordDatabase: make(map[int]*WordEntry),
	}
	tokens, _ := token.Tokenize(text)
	d.EnsureEntries(tokens)
	return d
}

// EnsureEntries creates a pending entry for every word token that has none,
// and refreshes SurfaceForm on existing entries to match the current token
// text exactly, preserving their annotation fields.
func (d *Document) EnsureEntries(tokens []token.Token) {
	if d.WordDatabase == nil {
		d.WordDatabase = make(map[int]*WordEntry)
	}
	for _, t := range tokens {
		if !t.IsWord() {
			continue
		}
		if e, ok := d.WordDatabase[t.WordPos]; ok {
			e.SurfaceForm = t.Text
			continue
		}
		d.WordDatabase[t.WordPos] = &WordEntry{SurfaceForm: t.Text}
	}
}

// WordCount returns the number of entries in the word database.
func (d *Document) WordCount() int { return len(d.WordDatabase) }

// RangeProcessed reports whether every given word position has a fully
// annotated entry. An empty key set is vacuously processed, which is what
// makes punctuation-only trailing batches free.
func (d *Document) RangeProcessed(keys []int) bool {
	for _, k := range keys {
		e, ok := d.WordDatabase[k]
		if !ok || !e.Annotated() {
			return false
		}
	}
	return true
}

// FindSegment returns the segment with the given ID, if any.
func (d *Document) FindSegment(id string) (*Segment, bool) {
	for _, s := range d.Segments {
		if s.ID == id {
			return s, true
		}
	}
	return nil, false
}

// FindIdiom returns the idiom with the given ID, if any.
func (d *Document) FindIdiom(id string) (*Idiom, bool) {
	for _, i := range d.Idioms {
		if i.ID == id {
			return i, true
		}
	}
	return nil, false
}

// ClearWords resets the annotation fields of the given positions to pending.
// Entries that do not exist are skipped. Returns the number of entries reset.
func (d *Document) ClearWords(keys []int) int {
	cleared := 0
	for _, k := range keys {
		if e, ok := d.WordDatabase[k]; ok {
			e.ClearAnnotation()
			cleared++
		}
	}
	return cleared
}

// ClearSegmentTranslations empties the translations of the segment with the
// given ID and removes any other segment whose range matches [minKey,maxKey]
// exactly (custom reprocess segments that shadow the batch).
func (d *Document) ClearSegmentTranslations(id string, minKey, maxKey int) {
	kept := d.Segments[:0]
	for _, s := range d.Segments {
		if s.ID == id {
			s.Translations = map[string]string{}
			kept = append(kept, s)
			continue
		}
		if s.StartWordKey == minKey && s.EndWordKey == maxKey {
			continue
		}
		kept = append(kept, s)
	}
	d.Segments = kept
}

// DeleteIdiomsIn removes every idiom fully contained in [start,end] and
// returns how many were removed.
func (d *Document) DeleteIdiomsIn(start, end int) int {
	kept := d.Idioms[:0]
	removed := 0
	for _, i := range d.Idioms {
		if i.ContainedIn(start, end) {
			removed++
			continue
		}
		kept = append(kept, i)
	}
	d.Idioms = kept
	return removed
}

// SortedPositions returns the word positions in ascending order.
func (d *Document) SortedPositions() []int {
	keys := make([]int, 0, len(d.WordDatabase))
	for k := range d.WordDatabase {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}
