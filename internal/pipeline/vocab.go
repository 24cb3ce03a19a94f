package pipeline

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// CategoryVocabulary fixes the one-hot slot order for campaign categories.
// A versioned vocabulary file keeps feature vectors comparable across runs;
// deriving from the batch is the fallback for one-off runs.
type CategoryVocabulary struct {
	Version    string   `yaml:"version"`
	Categories []string `yaml:"categories"`

	index map[string]int
}

// LoadCategoryVocabulary reads a vocabulary file. Slot order is the file
// order; duplicates are rejected.
func LoadCategoryVocabulary(path string) (*CategoryVocabulary, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read vocabulary file %s: %w", path, err)
	}
	var vocab CategoryVocabulary
	if err := yaml.Unmarshal(raw, &vocab); err != nil {
		return nil, fmt.Errorf("decode vocabulary file %s: %w", path, err)
	}
	if len(vocab.Categories) == 0 {
		return nil, fmt.Errorf("vocabulary file %s lists no categories", path)
	}
	if strings.TrimSpace(vocab.Version) == "" {
		return nil, fmt.Errorf("vocabulary file %s has no version", path)
	}
	vocab.index = make(map[string]int, len(vocab.Categories))
	for i, category := range vocab.Categories {
		if _, ok := vocab.index[category]; ok {
			return nil, fmt.Errorf("vocabulary file %s repeats category %q", path, category)
		}
		vocab.index[category] = i
	}
	return &vocab, nil
}

// DeriveCategoryVocabulary freezes the sorted distinct categories of the
// batch before any record is assembled.
func DeriveCategoryVocabulary(records []PreInputRecord) *CategoryVocabulary {
	seen := make(map[string]struct{})
	for _, r := range records {
		seen[r.Category] = struct{}{}
	}
	categories := make([]string, 0, len(seen))
	for category := range seen {
		categories = append(categories, category)
	}
	sort.Strings(categories)

	index := make(map[string]int, len(categories))
	for i, category := range categories {
		index[category] = i
	}
	return &CategoryVocabulary{
		Version:    "derived",
		Categories: categories,
		index:      index,
	}
}

func (v *CategoryVocabulary) Size() int {
	if v == nil {
		return 0
	}
	return len(v.Categories)
}

// Encode one-hot encodes a category. Categories outside the vocabulary
// yield the all-zeros vector and ok=false.
func (v *CategoryVocabulary) Encode(category string) ([]int, bool) {
	encoding := make([]int, v.Size())
	if v == nil {
		return encoding, false
	}
	i, ok := v.index[category]
	if !ok {
		return encoding, false
	}
	encoding[i] = 1
	return encoding, true
}
