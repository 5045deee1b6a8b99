package vocab

import (
	"bufio"
	"os"
	"strings"

	"github.com/pkg/errors"
)

// Label maps BIO-style tag strings (e.g. "B-LOC", "I-LOC", "O") to ids, with one designated default
// ("no tag") id.
type Label struct {
	tagToID    map[string]int
	idToTag    []string
	defaultTag string
	defaultID  int
}

// NewLabel creates a Label vocabulary with ids in the order of tags. Repeated tags and blank strings are ignored.
// The defaultTag must be one of the tags.
func NewLabel(tags []string, defaultTag string) (*Label, error) {
	v := &Label{
		tagToID:    make(map[string]int, len(tags)),
		defaultTag: defaultTag,
	}
	for _, tag := range tags {
		tag = strings.TrimSpace(tag)
		if tag == "" {
			continue
		}
		if _, found := v.tagToID[tag]; found {
			continue
		}
		v.tagToID[tag] = len(v.idToTag)
		v.idToTag = append(v.idToTag, tag)
	}
	id, found := v.tagToID[defaultTag]
	if !found {
		return nil, errors.Errorf("default tag %q is not in the tag list %v", defaultTag, v.idToTag)
	}
	v.defaultID = id
	return v, nil
}

// LoadLabelFile creates a Label vocabulary from a file with one tag per line.
func LoadLabelFile(path, defaultTag string) (*Label, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open tag file %q", path)
	}
	defer func() { _ = f.Close() }()

	var tags []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		tags = append(tags, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrapf(err, "failed reading tag file %q", path)
	}
	v, err := NewLabel(tags, defaultTag)
	if err != nil {
		return nil, errors.WithMessagef(err, "tag file %q", path)
	}
	return v, nil
}

// Len returns the number of tags.
func (v *Label) Len() int { return len(v.idToTag) }

// DefaultTag returns the "no tag" tag.
func (v *Label) DefaultTag() string { return v.defaultTag }

// DefaultID returns the id of the default tag.
func (v *Label) DefaultID() int { return v.defaultID }

// Contains returns whether tag is part of the label space.
func (v *Label) Contains(tag string) bool {
	_, found := v.tagToID[tag]
	return found
}

// Tags returns the tags in id order. The returned slice must not be modified.
func (v *Label) Tags() []string { return v.idToTag }

// TokenToID returns the id of tag, or the default id for tags outside the label space.
func (v *Label) TokenToID(tag string) int {
	if id, found := v.tagToID[tag]; found {
		return id
	}
	return v.defaultID
}

// TokensToIDs converts each of the tags with TokenToID.
func (v *Label) TokensToIDs(tags []string) []int {
	ids := make([]int, len(tags))
	for ii, tag := range tags {
		ids[ii] = v.TokenToID(tag)
	}
	return ids
}

// IDToToken returns the tag for id, or "" if id is out of range.
func (v *Label) IDToToken(id int) string {
	if id < 0 || id >= len(v.idToTag) {
		return ""
	}
	return v.idToTag[id]
}

// IDsToTokens converts each of the ids with IDToToken.
func (v *Label) IDsToTokens(ids []int) []string {
	tags := make([]string, len(ids))
	for ii, id := range ids {
		tags[ii] = v.IDToToken(id)
	}
	return tags
}
