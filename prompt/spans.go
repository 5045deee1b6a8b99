package prompt

import "strings"

// Span is a contiguous labeled run of characters.
type Span struct {
	Start int
	Chars []string
	Tags  []string
}

// Spans segments a labeled sequence into maximal runs of non-default tags.
//
// A run ends at a default tag, at a "B-" tag (which starts the next run), or where the tag category changes.
// labels must have (at least) the length of text.
func Spans(text, labels []string, defaultTag string) []Span {
	var (
		spans   []Span
		current *Span
	)
	flush := func() {
		if current != nil {
			spans = append(spans, *current)
			current = nil
		}
	}
	for ii, ch := range text {
		label := labels[ii]
		if label == defaultTag || label == "" {
			flush()
			continue
		}
		if current != nil && (strings.HasPrefix(label, "B-") || Category(label) != Category(current.Tags[0])) {
			flush()
		}
		if current == nil {
			current = &Span{Start: ii}
		}
		current.Chars = append(current.Chars, ch)
		current.Tags = append(current.Tags, label)
	}
	flush()
	return spans
}
