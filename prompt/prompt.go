// Package prompt converts tagged spans and tagged dictionary words into "prompts": auxiliary token
// sequences appended to an example to surface the category of a span (or word) to the downstream model.
//
// A prompt for the word "北京" tagged "LOC", with the rule LOC → "地点" and the default template, is:
//
//	tokens: 北    京    是  地  点  。
//	mask:   1     1     0   1   1   0
//	tags:   B-LOC I-LOC O   O   O   O
package prompt

import (
	"crypto/sha256"
	"encoding/binary"
	"strings"

	"github.com/pkg/errors"
)

// Prompt is a sequence of tokens, with a parallel mask (1 for tokens to predict, 0 for template
// tokens) and the parallel tag labels. All three have the same length.
type Prompt struct {
	Tokens []string
	Mask   []int
	Tags   []string
}

// Len returns the number of tokens in the prompt.
func (p Prompt) Len() int { return len(p.Tokens) }

// Digest is a content digest of a prompt.
type Digest [sha256.Size]byte

// Digest returns the SHA-256 of the canonical (token, tag) sequence of the prompt: each token and tag
// is length-prefixed, so the digest doesn't depend on any textual rendering.
func (p Prompt) Digest() Digest {
	h := sha256.New()
	var lenBuf [binary.MaxVarintLen64]byte
	write := func(s string) {
		n := binary.PutUvarint(lenBuf[:], uint64(len(s)))
		_, _ = h.Write(lenBuf[:n])
		_, _ = h.Write([]byte(s))
	}
	for ii, token := range p.Tokens {
		write(token)
		write(p.Tags[ii])
	}
	var d Digest
	copy(d[:], h.Sum(nil))
	return d
}

// Deduper tracks the digests of prompts already emitted for one example.
// It is not safe for concurrent use, use one per example.
type Deduper struct {
	seen map[Digest]struct{}
}

// NewDeduper returns an empty Deduper.
func NewDeduper() *Deduper {
	return &Deduper{seen: make(map[Digest]struct{})}
}

// Add returns true if p's content was not seen before, and records it.
func (d *Deduper) Add(p Prompt) bool {
	digest := p.Digest()
	if _, found := d.seen[digest]; found {
		return false
	}
	d.seen[digest] = struct{}{}
	return true
}

// Rules maps an entity category code (e.g. "ORG", "LOC") to the human-readable phrase used in prompts.
type Rules map[string]string

// Template defines the fixed tokens around the category phrase: word + Connector + phrase + Terminator.
// Connector and Terminator are split into one token per character; either may be empty.
type Template struct {
	Connector  string
	Terminator string
}

// DefaultTemplate renders prompts as "<word>是<phrase>。".
var DefaultTemplate = Template{Connector: "是", Terminator: "。"}

// Converter converts tags into prompts. It is read-only after creation and safe for concurrent use.
type Converter struct {
	rules      Rules
	defaultTag string
	template   Template
}

// NewConverter creates a Converter with the given rules, default ("no tag") tag and template.
func NewConverter(rules Rules, defaultTag string, template Template) (*Converter, error) {
	if len(rules) == 0 {
		return nil, errors.New("prompt rules can't be empty")
	}
	for code, phrase := range rules {
		if code == "" || phrase == "" {
			return nil, errors.Errorf("invalid prompt rule %q -> %q", code, phrase)
		}
	}
	return &Converter{rules: rules, defaultTag: defaultTag, template: template}, nil
}

// DefaultTag returns the "no tag" tag.
func (c *Converter) DefaultTag() string { return c.defaultTag }

// Category returns the entity category of a tag, stripping any BIO prefix: "B-LOC" → "LOC".
func Category(tag string) string {
	if idx := strings.LastIndexByte(tag, '-'); idx >= 0 {
		return tag[idx+1:]
	}
	return tag
}

// Phrase returns the rule phrase for tag's category. It returns false for the default tag and for
// categories without a rule.
func (c *Converter) Phrase(tag string) (string, bool) {
	if tag == "" || tag == c.defaultTag {
		return "", false
	}
	phrase, found := c.rules[Category(tag)]
	return phrase, found
}

// TagToPrompt converts the tagged span (or dictionary word) given by its characters into a prompt.
// The category is taken from the first tag.
//
// The word tokens are tagged B-<category>, I-<category>, ...; template and phrase tokens get the default tag.
// It returns false, and no prompt, if the tag is the default tag, has no rule, or the word is empty.
func (c *Converter) TagToPrompt(tags []string, wordChars []string) (Prompt, bool) {
	if len(tags) == 0 || len(wordChars) == 0 {
		return Prompt{}, false
	}
	phrase, ok := c.Phrase(tags[0])
	if !ok {
		return Prompt{}, false
	}
	category := Category(tags[0])

	size := len(wordChars) + len(c.template.Connector) + len(phrase) + len(c.template.Terminator)
	p := Prompt{
		Tokens: make([]string, 0, size),
		Mask:   make([]int, 0, size),
		Tags:   make([]string, 0, size),
	}
	for ii, ch := range wordChars {
		tag := "I-" + category
		if ii == 0 {
			tag = "B-" + category
		}
		p.append(ch, 1, tag)
	}
	for _, r := range c.template.Connector {
		p.append(string(r), 0, c.defaultTag)
	}
	for _, r := range phrase {
		p.append(string(r), 1, c.defaultTag)
	}
	for _, r := range c.template.Terminator {
		p.append(string(r), 0, c.defaultTag)
	}
	return p, true
}

func (p *Prompt) append(token string, mask int, tag string) {
	p.Tokens = append(p.Tokens, token)
	p.Mask = append(p.Mask, mask)
	p.Tags = append(p.Tags, tag)
}
