// Package lexicon implements the lexicon tree: a prefix tree (trie) over dictionary words, used to find every
// dictionary word that starts at every position of a text.
//
// A Trie is built once (see BuildFromWordFiles) and is read-only afterwards, so it can be shared by
// concurrent readers.
package lexicon

import (
	"iter"
	"slices"
	"unicode/utf8"
)

// node of the trie. Children are keyed by rune; terminal nodes store the word they complete.
type node struct {
	children map[rune]*node
	end      bool
	word     string
}

func (n *node) child(r rune) *node {
	if n.children == nil {
		return nil
	}
	return n.children[r]
}

// Trie is a prefix tree over dictionary words.
type Trie struct {
	root node
	size int
}

// New returns an empty Trie.
func New() *Trie {
	return &Trie{}
}

// Insert adds word to the trie. Inserting a word twice is a no-op, and empty words are ignored.
func (t *Trie) Insert(word string) {
	if word == "" {
		return
	}
	cur := &t.root
	for _, r := range word {
		next := cur.child(r)
		if next == nil {
			if cur.children == nil {
				cur.children = make(map[rune]*node)
			}
			next = &node{}
			cur.children[r] = next
		}
		cur = next
	}
	if !cur.end {
		cur.end = true
		cur.word = word
		t.size++
	}
}

// Contains returns whether word was inserted in the trie.
func (t *Trie) Contains(word string) bool {
	if word == "" {
		return false
	}
	cur := &t.root
	for _, r := range word {
		cur = cur.child(r)
		if cur == nil {
			return false
		}
	}
	return cur.end
}

// Len returns the number of distinct words in the trie.
func (t *Trie) Len() int {
	return t.size
}

// MatchesAt returns the dictionary words that start at text[pos], following text[pos], text[pos+1], ...
//
// Each element of text is walked rune by rune, and a word only matches if it ends at an element
// boundary. Words are returned shortest first, at most maxWords of them (maxWords <= 0 means no limit).
func (t *Trie) MatchesAt(text []string, pos, maxWords int) []string {
	var matches []string
	cur := &t.root
	for _, elem := range text[pos:] {
		for _, r := range elem {
			cur = cur.child(r)
			if cur == nil {
				return matches
			}
		}
		if elem == "" {
			// Empty elements can't extend a word.
			return matches
		}
		if cur.end {
			matches = append(matches, cur.word)
			if maxWords > 0 && len(matches) >= maxWords {
				return matches
			}
		}
	}
	return matches
}

// MatchesAtEachPosition returns, for every position of text, the words returned by MatchesAt.
// The result is aligned 1:1 with text: positions without matches have an empty (nil) list.
func (t *Trie) MatchesAtEachPosition(text []string, maxWords int) [][]string {
	all := make([][]string, len(text))
	for pos := range text {
		all[pos] = t.MatchesAt(text, pos, maxWords)
	}
	return all
}

// Words iterates over all words in the trie, in lexicographic rune order.
func (t *Trie) Words() iter.Seq[string] {
	return func(yield func(string) bool) {
		t.root.walk(yield)
	}
}

// walk visits the words under n in order, it returns false if the iteration was interrupted.
func (n *node) walk(yield func(string) bool) bool {
	if n.end && !yield(n.word) {
		return false
	}
	keys := make([]rune, 0, len(n.children))
	for r := range n.children {
		keys = append(keys, r)
	}
	slices.Sort(keys)
	for _, r := range keys {
		if !n.children[r].walk(yield) {
			return false
		}
	}
	return true
}

// Split returns the characters of word as separate strings, the form used for texts.
func Split(word string) []string {
	chars := make([]string, 0, utf8.RuneCountInString(word))
	for _, r := range word {
		chars = append(chars, string(r))
	}
	return chars
}
