package lexicon

import (
	"io"

	"github.com/gomlx/lexprompt/internal/cachefile"
	"github.com/pkg/errors"
	"google.golang.org/protobuf/encoding/protowire"
)

// CacheKind identifies trie caches.
const CacheKind = "lexicon.trie"

const wordField protowire.Number = 1

// Save writes the trie to w in the cache format read by Load.
func (t *Trie) Save(w io.Writer) error {
	var payload []byte
	for word := range t.Words() {
		payload = protowire.AppendTag(payload, wordField, protowire.BytesType)
		payload = protowire.AppendString(payload, word)
	}
	return cachefile.Encode(w, CacheKind, payload)
}

// Load reads a trie written by Trie.Save.
func Load(r io.Reader) (*Trie, error) {
	payload, err := cachefile.Decode(r, CacheKind)
	if err != nil {
		return nil, err
	}
	t := New()
	for len(payload) > 0 {
		num, typ, n := protowire.ConsumeTag(payload)
		if n < 0 {
			return nil, errors.Wrap(protowire.ParseError(n), "corrupt lexicon cache")
		}
		payload = payload[n:]
		if num == wordField && typ == protowire.BytesType {
			var word string
			word, n = protowire.ConsumeString(payload)
			if n >= 0 {
				t.Insert(word)
			}
		} else {
			n = protowire.ConsumeFieldValue(num, typ, payload)
		}
		if n < 0 {
			return nil, errors.Wrap(protowire.ParseError(n), "corrupt lexicon cache")
		}
		payload = payload[n:]
	}
	return t, nil
}

// LoadOrBuild returns the trie cached in cachePath, or builds it with BuildFromWordFiles and saves it
// to cachePath before returning. An empty cachePath always builds.
func LoadOrBuild(cachePath string, wordFiles []string, scanLimit int) (*Trie, error) {
	return cachefile.LoadOrBuild(cachePath, Load,
		func() (*Trie, error) { return BuildFromWordFiles(wordFiles, scanLimit) },
		func(w io.Writer, t *Trie) error { return t.Save(w) })
}
