package annotate

import (
	"encoding/json"
	"fmt"
	"strings"
)

// The wire contract is deliberately decoupled from the persisted document:
// these types describe what travels to and from the annotation service, and
// the Integrator converts between them and document state. The service
// contract can evolve without touching the on-disk format.

// WordAnnotation is one word's data as exchanged with the service.
type WordAnnotation struct {
	Word                 string            `json:"word"`
	PartOfSpeech         string            `json:"pos,omitempty"`
	Lemma                string            `json:"lemma,omitempty"`
	BestTranslation      string            `json:"best_translation,omitempty"`
	PossibleTranslations []string          `json:"possible_translations,omitempty"`
	Details              map[string]string `json:"details,omitempty"`
	LemmaTranslations    []string          `json:"lemma_translations,omitempty"`
}

// SegmentAnnotation is a segment record as exchanged with the service.
type SegmentAnnotation struct {
	ID           string            `json:"id"`
	StartWordKey int               `json:"startWordKey"`
	EndWordKey   int               `json:"endWordKey"`
	Translations map[string]string `json:"translations"`
}

// IdiomAnnotation is an idiom record as exchanged with the service.
type IdiomAnnotation struct {
	ID           string `json:"id"`
	Text         string `json:"text"`
	StartWordKey int    `json:"startWordKey"`
	EndWordKey   int    `json:"endWordKey"`
}

// Request is the structured context for one service call: the exact batch
// text plus the word/segment/idiom state as of dispatch time.
type Request struct {
	BatchText   string                       `json:"-"`
	WordData    map[string]WordAnnotation    `json:"wordData"`
	SegmentData map[string]SegmentAnnotation `json:"segmentData"`
	Idioms      []IdiomAnnotation            `json:"idioms"`
}

// Placeholders the prompt template must contain.
const (
	PlaceholderBatchText = "{{BATCH_TEXT}}"
	PlaceholderBatchData = "{{BATCH_DATA}}"
)

// DefaultTemplate is a minimal built-in prompt. Production deployments
// supply their own template file; only the placeholder mechanism is part of
// this module.
const DefaultTemplate = `Annotate every word of the text below with part of speech, lemma and
translations, translate the segment as a whole, and flag idioms. Respond with
a single JSON object with keys "wordData" (object keyed by word position),
"segmentData" (object keyed by segment id) and "idioms" (array).

Text:
{{BATCH_TEXT}}

Current data:
{{BATCH_DATA}}
`

// Prompt renders the request into the given template. The template must
// reference both placeholders.
func (r Request) Prompt(template string) (string, error) {
	if !strings.Contains(template, PlaceholderBatchText) || !strings.Contains(template, PlaceholderBatchData) {
		return "", fmt.Errorf("prompt template must contain %s and %s", PlaceholderBatchText, PlaceholderBatchData)
	}
	data, err := r.ContextJSON()
	if err != nil {
		return "", err
	}
	prompt := strings.ReplaceAll(template, PlaceholderBatchText, strings.TrimSpace(r.BatchText))
	prompt = strings.ReplaceAll(prompt, PlaceholderBatchData, data)
	return prompt, nil
}

// ContextJSON returns the structured context block embedded into the prompt,
// and also recorded verbatim in failure-log records.
func (r Request) ContextJSON() (string, error) {
	b, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal request context: %w", err)
	}
	return string(b), nil
}

// Response is the validated service reply.
type Response struct {
	WordData    map[string]WordAnnotation    `json:"wordData"`
	SegmentData map[string]SegmentAnnotation `json:"segmentData"`
	Idioms      []IdiomAnnotation            `json:"idioms"`
}

// ParseResponse checks the reply in two stages. Top-level problems (not an
// object, missing containers, wrong container kinds) are ValidationErrors and
// worth a retry: the service often produces a well-formed reply on a second
// attempt. A reply whose containers hold records of the wrong shape fails
// with an IntegrationError and is not retried.
func ParseResponse(text string) (*Response, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil, &ValidationError{Reason: "empty response"}
	}

	var top map[string]json.RawMessage
	if err := json.Unmarshal([]byte(trimmed), &top); err != nil {
		return nil, &ValidationError{Reason: "not a JSON object: " + err.Error()}
	}
	if err := requireContainer(top, "wordData", '{'); err != nil {
		return nil, err
	}
	if err := requireContainer(top, "segmentData", '{'); err != nil {
		return nil, err
	}
	if err := requireContainer(top, "idioms", '['); err != nil {
		return nil, err
	}

	var resp Response
	if err := json.Unmarshal([]byte(trimmed), &resp); err != nil {
		return nil, &IntegrationError{Reason: "record shape mismatch", Err: err}
	}
	return &resp, nil
}

func requireContainer(top map[string]json.RawMessage, key string, open byte) error {
	raw, ok := top[key]
	if !ok {
		return &ValidationError{Reason: "missing key " + key}
	}
	val := strings.TrimSpace(string(raw))
	if len(val) == 0 || val[0] != open {
		kind := "object"
		if open == '[' {
			kind = "array"
		}
		return &ValidationError{Reason: key + " is not an " + kind}
	}
	return nil
}
