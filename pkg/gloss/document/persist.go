package document

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/cognicore/gloss/pkg/gloss/internalerr"
)

// diskDocument is the on-disk shape: word positions become decimal string
// keys because the textual format requires string object keys.
type diskDocument struct {
	InputText    string               `json:"inputText"`
	WordDatabase map[string]WordEntry `json:"wordDatabase"`
	Segments     []*Segment           `json:"segments"`
	Idioms       []*Idiom             `json:"idioms"`
	KnownWords   []json.RawMessage    `json:"knownWords"`
}

var requiredKeys = []string{"inputText", "wordDatabase", "segments", "idioms", "knownWords"}

// Load reads a persisted document. A file missing any required top-level key
// fails with internalerr.ErrInvalidInput: resuming from a partial or foreign
// file must be an explicit error, not a silent fresh start.
func Load(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read document: %w", err)
	}
	return Decode(data)
}

// Decode parses a persisted document from its JSON encoding.
func Decode(data []byte) (*Document, error) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(data, &top); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	for _, key := range requiredKeys {
		if _, ok := top[key]; !ok {
			return nil, fmt.Errorf("document missing key %q: %w", key, internalerr.ErrInvalidInput)
		}
	}

	var disk diskDocument
	if err := json.Unmarshal(data, &disk); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	if disk.InputText == "" {
		return nil, fmt.Errorf("document has empty inputText: %w", internalerr.ErrInvalidInput)
	}

	d := &Document{
		InputText:    disk.InputText,
		WordDatabase: make(map[int]*WordEntry, len(disk.WordDatabase)),
		Segments:     disk.Segments,
		Idioms:       disk.Idioms,
		KnownWords:   disk.KnownWords,
	}
	for key, entry := range disk.WordDatabase {
		pos, err := strconv.Atoi(key)
		if err != nil || pos <= 0 {
			continue
		}
		e := entry
		d.WordDatabase[pos] = &e
	}
	return d, nil
}

// Encode serializes the document to its on-disk JSON form.
func (d *Document) Encode() ([]byte, error) {
	disk := diskDocument{
		InputText:    d.InputText,
		WordDatabase: make(map[string]WordEntry, len(d.WordDatabase)),
		Segments:     d.Segments,
		Idioms:       d.Idioms,
		KnownWords:   d.KnownWords,
	}
	if disk.Segments == nil {
		disk.Segments = []*Segment{}
	}
	if disk.Idioms == nil {
		disk.Idioms = []*Idiom{}
	}
	if disk.KnownWords == nil {
		disk.KnownWords = []json.RawMessage{}
	}
	for pos, entry := range d.WordDatabase {
		disk.WordDatabase[strconv.Itoa(pos)] = *entry
	}
	return json.MarshalIndent(disk, "", "  ")
}

// Save writes the document atomically: encode to a temp file in the target
// directory, then rename over the destination.
func (d *Document) Save(path string) error {
	data, err := d.Encode()
	if err != nil {
		return fmt.Errorf("encode document: %w", err)
	}

	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create document dir: %w", err)
		}
	}

	tmp, err := os.CreateTemp(dir, ".gloss-*.json")
	if err != nil {
		return fmt.Errorf("create temp document: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write document: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close document: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace document: %w", err)
	}
	return nil
}
