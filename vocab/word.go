// Package vocab implements the vocabularies used when encoding examples:
//
//   - Word: dictionary words with their semantic tags, mapped to ids with reserved padding and
//     "unknown" buckets for words absent from the vocabulary.
//   - Label: the output label space, BIO-style tag strings mapped to ids.
//
// Both are read-only after construction and safe for concurrent use.
package vocab

import (
	"fmt"
	"hash/fnv"
	"slices"
)

const (
	// PadToken is the token of the padding id (always 0) of a Word vocabulary.
	PadToken = "<pad>"

	// PadID is the id of PadToken.
	PadID = 0

	// DefaultUnknownCount is the default number of unknown buckets.
	DefaultUnknownCount = 5
)

// WordTags associates a word with its tags.
type WordTags struct {
	Word string
	Tags []string
}

// Word is a vocabulary of dictionary words, each with a non-empty ordered set of tags.
//
// Ids are assigned as: PadID (0) for PadToken, then 1..UnknownCount() for the unknown buckets,
// then one id per distinct word in insertion order.
type Word struct {
	wordToID     map[string]int
	idToWord     []string
	tags         [][]string // indexed by id
	unknownCount int
	defaultTag   string
}

// NewWord creates a Word vocabulary from the given entries, in order.
//
// Repeated words merge their tags, keeping the first-seen order. Entries without tags get the defaultTag.
// unknownCount is the number of reserved ids for unknown words, it is at least 1.
func NewWord(entries []WordTags, unknownCount int, defaultTag string) *Word {
	if unknownCount < 1 {
		unknownCount = 1
	}
	v := &Word{
		wordToID:     make(map[string]int, len(entries)),
		idToWord:     make([]string, 0, 1+unknownCount+len(entries)),
		tags:         make([][]string, 0, 1+unknownCount+len(entries)),
		unknownCount: unknownCount,
		defaultTag:   defaultTag,
	}
	v.idToWord = append(v.idToWord, PadToken)
	v.tags = append(v.tags, []string{defaultTag})
	for ii := range unknownCount {
		v.idToWord = append(v.idToWord, UnknownToken(ii))
		v.tags = append(v.tags, []string{defaultTag})
	}
	for _, entry := range entries {
		if entry.Word == "" || entry.Word == PadToken {
			continue
		}
		id, found := v.wordToID[entry.Word]
		if !found {
			id = len(v.idToWord)
			v.wordToID[entry.Word] = id
			v.idToWord = append(v.idToWord, entry.Word)
			v.tags = append(v.tags, nil)
		}
		for _, tag := range entry.Tags {
			if tag != "" && !slices.Contains(v.tags[id], tag) {
				v.tags[id] = append(v.tags[id], tag)
			}
		}
	}
	for id := 1 + unknownCount; id < len(v.tags); id++ {
		if len(v.tags[id]) == 0 {
			v.tags[id] = []string{defaultTag}
		}
	}
	return v
}

// UnknownToken returns the token representing the unknown bucket ii.
func UnknownToken(ii int) string {
	return fmt.Sprintf("<unk:%d>", ii)
}

// UnknownHash is the hash used to assign unknown words to buckets: 32-bit FNV-1a over the word's UTF-8 bytes.
func UnknownHash(word string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(word))
	return h.Sum32()
}

// Len returns the total number of ids, including padding and unknown buckets.
func (v *Word) Len() int { return len(v.idToWord) }

// NumWords returns the number of known words.
func (v *Word) NumWords() int { return len(v.wordToID) }

// UnknownCount returns the number of unknown buckets.
func (v *Word) UnknownCount() int { return v.unknownCount }

// DefaultTag returns the tag of unknown words.
func (v *Word) DefaultTag() string { return v.defaultTag }

// Contains returns whether word is a known word.
func (v *Word) Contains(word string) bool {
	_, found := v.wordToID[word]
	return found
}

// IsUnknownID returns whether id is one of the unknown buckets.
func (v *Word) IsUnknownID(id int) bool {
	return id >= 1 && id <= v.unknownCount
}

// Tags returns the tags of word. Unknown words return a list with only the default tag.
// The returned slice must not be modified.
func (v *Word) Tags(word string) []string {
	if id, found := v.wordToID[word]; found {
		return v.tags[id]
	}
	return []string{v.defaultTag}
}

// TagsOf returns the tags of each of the words.
func (v *Word) TagsOf(words []string) [][]string {
	tags := make([][]string, len(words))
	for ii, word := range words {
		tags[ii] = v.Tags(word)
	}
	return tags
}

// TokenToID returns the id of token: its own id if known, PadID for PadToken, or the unknown bucket
// chosen by UnknownHash otherwise. The same unknown token always maps to the same id.
func (v *Word) TokenToID(token string) int {
	if id, found := v.wordToID[token]; found {
		return id
	}
	if token == PadToken {
		return PadID
	}
	return 1 + int(UnknownHash(token)%uint32(v.unknownCount))
}

// TokensToIDs converts each of the tokens with TokenToID.
func (v *Word) TokensToIDs(tokens []string) []int {
	ids := make([]int, len(tokens))
	for ii, token := range tokens {
		ids[ii] = v.TokenToID(token)
	}
	return ids
}

// IDToToken returns the token for id: the word, PadToken, or the UnknownToken of the bucket.
// It returns "" for out of range ids.
func (v *Word) IDToToken(id int) string {
	if id < 0 || id >= len(v.idToWord) {
		return ""
	}
	return v.idToWord[id]
}

// IDsToTokens converts each of the ids with IDToToken.
func (v *Word) IDsToTokens(ids []int) []string {
	tokens := make([]string, len(ids))
	for ii, id := range ids {
		tokens[ii] = v.IDToToken(id)
	}
	return tokens
}

// Entries returns the known words with their tags, in id order.
func (v *Word) Entries() []WordTags {
	entries := make([]WordTags, 0, v.NumWords())
	for id := 1 + v.unknownCount; id < len(v.idToWord); id++ {
		entries = append(entries, WordTags{Word: v.idToWord[id], Tags: v.tags[id]})
	}
	return entries
}

// Restrict returns a new vocabulary with only the given words (known or not), in the given order,
// with the tags they have in v.
func (v *Word) Restrict(words []string, unknownCount int) *Word {
	entries := make([]WordTags, len(words))
	for ii, word := range words {
		entries[ii] = WordTags{Word: word, Tags: v.Tags(word)}
	}
	return NewWord(entries, unknownCount, v.defaultTag)
}
