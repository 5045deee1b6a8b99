package vocab

import (
	"io"

	"github.com/gomlx/lexprompt/internal/cachefile"
	"github.com/pkg/errors"
	"google.golang.org/protobuf/encoding/protowire"
)

// WordCacheKind identifies word vocabulary caches.
const WordCacheKind = "vocab.word"

// Payload fields, protowire encoded.
const (
	unknownCountField protowire.Number = 1
	defaultTagField   protowire.Number = 2
	entryField        protowire.Number = 3

	// Fields of an entry.
	entryWordField protowire.Number = 1
	entryTagField  protowire.Number = 2
)

// Save writes the vocabulary to w in the cache format read by LoadWord.
// Entries are saved in id order, so a restored vocabulary has identical ids.
func (v *Word) Save(w io.Writer) error {
	var payload []byte
	payload = protowire.AppendTag(payload, unknownCountField, protowire.VarintType)
	payload = protowire.AppendVarint(payload, uint64(v.unknownCount))
	payload = protowire.AppendTag(payload, defaultTagField, protowire.BytesType)
	payload = protowire.AppendString(payload, v.defaultTag)
	for _, entry := range v.Entries() {
		var msg []byte
		msg = protowire.AppendTag(msg, entryWordField, protowire.BytesType)
		msg = protowire.AppendString(msg, entry.Word)
		for _, tag := range entry.Tags {
			msg = protowire.AppendTag(msg, entryTagField, protowire.BytesType)
			msg = protowire.AppendString(msg, tag)
		}
		payload = protowire.AppendTag(payload, entryField, protowire.BytesType)
		payload = protowire.AppendBytes(payload, msg)
	}
	return cachefile.Encode(w, WordCacheKind, payload)
}

// LoadWord reads a vocabulary written by Word.Save.
func LoadWord(r io.Reader) (*Word, error) {
	payload, err := cachefile.Decode(r, WordCacheKind)
	if err != nil {
		return nil, err
	}
	var (
		unknownCount uint64
		defaultTag   string
		entries      []WordTags
	)
	err = consumeFields(payload, func(num protowire.Number, typ protowire.Type, b []byte) int {
		switch {
		case num == unknownCountField && typ == protowire.VarintType:
			var n int
			unknownCount, n = protowire.ConsumeVarint(b)
			return n
		case num == defaultTagField && typ == protowire.BytesType:
			var n int
			defaultTag, n = protowire.ConsumeString(b)
			return n
		case num == entryField && typ == protowire.BytesType:
			msg, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return n
			}
			entry, err := parseEntry(msg)
			if err != nil {
				return -1
			}
			entries = append(entries, entry)
			return n
		}
		return protowire.ConsumeFieldValue(num, typ, b)
	})
	if err != nil {
		return nil, err
	}
	if unknownCount == 0 {
		return nil, errors.New("corrupt word vocabulary cache: missing unknown bucket count")
	}
	return NewWord(entries, int(unknownCount), defaultTag), nil
}

func parseEntry(msg []byte) (WordTags, error) {
	var entry WordTags
	err := consumeFields(msg, func(num protowire.Number, typ protowire.Type, b []byte) int {
		if typ != protowire.BytesType {
			return protowire.ConsumeFieldValue(num, typ, b)
		}
		value, n := protowire.ConsumeString(b)
		switch num {
		case entryWordField:
			entry.Word = value
		case entryTagField:
			entry.Tags = append(entry.Tags, value)
		}
		return n
	})
	return entry, err
}

// consumeFields calls fn for each field of the protowire message b. fn consumes the field value
// and returns the number of bytes consumed, or a negative value on error.
func consumeFields(b []byte, fn func(num protowire.Number, typ protowire.Type, b []byte) int) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return errors.Wrap(protowire.ParseError(n), "corrupt word vocabulary cache")
		}
		b = b[n:]
		n = fn(num, typ, b)
		if n < 0 {
			return errors.Wrap(protowire.ParseError(n), "corrupt word vocabulary cache")
		}
		b = b[n:]
	}
	return nil
}

// ErrStaleCache is returned when a cached vocabulary was built with a different default tag or number of
// unknown buckets than requested.
var ErrStaleCache = errors.New("word vocabulary cache built with different settings")

// LoadOrBuildWord returns the word vocabulary cached in cachePath, or builds it from the word-with-tag files
// (with LoadWordTags and NewWord) and saves it to cachePath before returning. An empty cachePath always builds.
//
// A cache built with another defaultTag or unknownCount is stale: it is rebuilt and overwritten.
func LoadOrBuildWord(cachePath string, wordTagFiles []string, maxScan, unknownCount int, defaultTag string) (*Word, error) {
	load := func(r io.Reader) (*Word, error) {
		v, err := LoadWord(r)
		if err != nil {
			return nil, err
		}
		if v.defaultTag != defaultTag || v.unknownCount != max(unknownCount, 1) {
			return nil, errors.Wrapf(ErrStaleCache, "cached default tag %q and %d unknown buckets, want %q and %d",
				v.defaultTag, v.unknownCount, defaultTag, unknownCount)
		}
		return v, nil
	}
	return cachefile.LoadOrBuild(cachePath, load,
		func() (*Word, error) {
			entries, err := LoadWordTags(wordTagFiles, maxScan)
			if err != nil {
				return nil, err
			}
			return NewWord(entries, unknownCount, defaultTag), nil
		},
		func(w io.Writer, v *Word) error { return v.Save(w) })
}
