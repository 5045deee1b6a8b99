// Package encoder converts labeled records into fixed-shape examples, enriched with prompts built from
// the lexicon matches and the labeled spans of each record.
//
// For each record the encoder:
//
//  1. Converts each labeled span to a prompt (see package prompt), deduplicated by content digest.
//  2. Truncates text and label to SeqLen-2, and wraps them with the begin and end tokens.
//  3. Matches the lexicon trie at each position of the wrapped text, and converts every matched word
//     with a non-default tag to a prompt, deduplicated along with the span prompts.
//  4. Appends the prompts, in order, while the total length stays within SeqLen: prompts that
//     don't fit are dropped whole.
//  5. Converts tokens to ids with the tokenizer and labels to ids with the label vocabulary.
//  6. Builds the attention mask from the prompt mask, so template tokens are hidden, and the masked-token
//     targets: template tokens (mask 0) target their own token id, all other positions IgnoreTarget.
//  7. Fills the matched-word rows: word ids, presence mask and the ids of the words' category phrases.
//  8. Validates the shapes of all arrays.
package encoder

import (
	"github.com/gomlx/lexprompt/config"
	"github.com/gomlx/lexprompt/lexicon"
	"github.com/gomlx/lexprompt/prompt"
	"github.com/gomlx/lexprompt/records"
	"github.com/gomlx/lexprompt/tokenizers/api"
	"github.com/gomlx/lexprompt/vocab"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// IgnoreTarget is the value of Example.Targets for positions that are not reconstruction targets.
const IgnoreTarget = -100

// Example is one encoded record. It is immutable after creation.
//
// InputIDs, TokenTypeIDs, AttentionMask, LabelIDs and Targets have SeqLen elements.
// The MatchedWord* arrays are [SeqLen, WordNum] matrices stored in row-major order, see Rows.
type Example struct {
	SeqLen, WordNum int

	// Length is the number of tokens (wrapped text plus prompts), the rest is padding.
	Length int

	// OriginalLength is the number of tokens of the wrapped text, before the prompts.
	OriginalLength int

	// NumPrompts is the number of prompts appended.
	NumPrompts int

	InputIDs      []int32
	TokenTypeIDs  []int32 // 0 for the wrapped text, 1 for prompts and padding.
	AttentionMask []int32 // Prompt mask over the tokens (0 for template tokens), 1 for padding.
	LabelIDs      []int32
	Targets       []int32

	MatchedWordIDs      []int32
	MatchedWordMask     []int32
	MatchedWordLabelIDs []int32
}

// Rows splits one of the flat [SeqLen, WordNum] matched-word arrays of the example into its SeqLen rows.
// The rows share the storage of flat.
func (e *Example) Rows(flat []int32) [][]int32 {
	rows := make([][]int32, e.SeqLen)
	for ii := range rows {
		rows[ii] = flat[ii*e.WordNum : (ii+1)*e.WordNum]
	}
	return rows
}

// validate checks the fixed shapes of the example.
func (e *Example) validate() error {
	for _, a := range []struct {
		name string
		data []int32
	}{
		{"input_ids", e.InputIDs},
		{"token_type_ids", e.TokenTypeIDs},
		{"attention_mask", e.AttentionMask},
		{"label_ids", e.LabelIDs},
		{"targets", e.Targets},
	} {
		if len(a.data) != e.SeqLen {
			return errors.Wrapf(ErrShapeInvariant, "%s has length %d, wanted %d", a.name, len(a.data), e.SeqLen)
		}
	}
	for _, a := range []struct {
		name string
		data []int32
	}{
		{"matched_word_ids", e.MatchedWordIDs},
		{"matched_word_mask", e.MatchedWordMask},
		{"matched_word_label_ids", e.MatchedWordLabelIDs},
	} {
		if len(a.data) != e.SeqLen*e.WordNum {
			return errors.Wrapf(ErrShapeInvariant, "%s has %d elements, wanted [%d, %d]",
				a.name, len(a.data), e.SeqLen, e.WordNum)
		}
	}
	if e.Length > e.SeqLen || e.OriginalLength > e.Length {
		return errors.Wrapf(ErrShapeInvariant, "example length %d (original %d) exceeds %d",
			e.Length, e.OriginalLength, e.SeqLen)
	}
	return nil
}

// Encoder converts records into examples. Implementations are safe for concurrent use.
//
// There are two variants, selected by New: the training encoder, and the prediction encoder,
// whose Encode always fails with ErrUnsupported.
type Encoder interface {
	// Encode one record.
	Encode(rec *records.Record) (*Example, error)

	// RecordOptions are the options used to read records for this encoder.
	RecordOptions() records.Options

	// SeqLen and WordNum are the fixed dimensions of the examples.
	SeqLen() int
	WordNum() int
}

// New returns the Encoder for the configuration: the prediction encoder if cfg.DoPredict is set,
// the training encoder otherwise.
func New(cfg *config.Config, res *Resources) Encoder {
	base := baseEncoder{
		seqLen:     cfg.MaxSeqLength,
		wordNum:    cfg.MaxWordNum,
		defaultTag: cfg.DefaultTag,
		beginToken: cfg.BeginToken,
		endToken:   cfg.EndToken,
		res:        res,
	}
	if cfg.DoPredict {
		return &predictionEncoder{base}
	}
	return &trainingEncoder{base}
}

type baseEncoder struct {
	seqLen, wordNum      int
	defaultTag           string
	beginToken, endToken string
	res                  *Resources
}

func (e *baseEncoder) SeqLen() int  { return e.seqLen }
func (e *baseEncoder) WordNum() int { return e.wordNum }

// predictionEncoder is the encoder for do_predict: not supported.
type predictionEncoder struct {
	baseEncoder
}

// RecordOptions implements Encoder: labels are not required.
func (e *predictionEncoder) RecordOptions() records.Options {
	return records.Options{}
}

// Encode implements Encoder, it always returns ErrUnsupported.
func (e *predictionEncoder) Encode(rec *records.Record) (*Example, error) {
	return nil, errors.Wrapf(ErrUnsupported, "%s:%d: encoding for prediction (do_predict)", rec.Source, rec.Position)
}

type trainingEncoder struct {
	baseEncoder
}

// RecordOptions implements Encoder: labels are required.
func (e *trainingEncoder) RecordOptions() records.Options {
	return records.Options{RequireLabel: true}
}

// sequence accumulates the parallel tokens, tags and prompt mask of an example.
type sequence struct {
	tokens []string
	tags   []string
	mask   []int
}

func (s *sequence) append(tokens, tags []string, mask []int) {
	s.tokens = append(s.tokens, tokens...)
	s.tags = append(s.tags, tags...)
	s.mask = append(s.mask, mask...)
}

// Encode implements Encoder.
func (e *trainingEncoder) Encode(rec *records.Record) (*Example, error) {
	if len(rec.Label) != len(rec.Text) {
		return nil, errors.Wrapf(records.ErrLengthMismatch, "%s:%d: text has %d elements, label has %d",
			rec.Source, rec.Position, len(rec.Text), len(rec.Label))
	}
	res := e.res
	dedup := prompt.NewDeduper()
	var prompts []prompt.Prompt
	addPrompt := func(p prompt.Prompt, ok bool) {
		if ok && dedup.Add(p) {
			prompts = append(prompts, p)
		}
	}

	// Prompts for the labeled spans.
	for _, span := range prompt.Spans(rec.Text, rec.Label, e.defaultTag) {
		addPrompt(res.Converter.TagToPrompt(span.Tags, span.Chars))
	}

	// Truncate and wrap.
	n := min(len(rec.Text), e.seqLen-2)
	seq := &sequence{
		tokens: make([]string, 0, e.seqLen),
		tags:   make([]string, 0, e.seqLen),
		mask:   make([]int, 0, e.seqLen),
	}
	seq.append([]string{e.beginToken}, []string{e.defaultTag}, []int{1})
	for ii := range n {
		seq.append(rec.Text[ii:ii+1], rec.Label[ii:ii+1], []int{1})
	}
	seq.append([]string{e.endToken}, []string{e.defaultTag}, []int{1})
	originalLength := len(seq.tokens)

	// Prompts for the tagged dictionary words.
	matches := res.Trie.MatchesAtEachPosition(seq.tokens, e.wordNum)
	for _, words := range matches {
		for _, word := range words {
			tags := res.Words.Tags(word)
			if tags[0] == e.defaultTag {
				continue
			}
			addPrompt(res.Converter.TagToPrompt(tags, lexicon.Split(word)))
		}
	}

	// First-fit: append prompts while they fit.
	numPrompts := 0
	for _, p := range prompts {
		if len(seq.tokens)+p.Len() > e.seqLen {
			klog.V(3).Infof("%s:%d: dropped prompt %v, %d tokens don't fit", rec.Source, rec.Position, p.Tokens, p.Len())
			continue
		}
		seq.append(p.Tokens, p.Tags, p.Mask)
		numPrompts++
	}

	tokenIDs, err := api.ConvertTokensToIDs(res.Tokenizer, seq.tokens)
	if err != nil {
		return nil, errors.WithMessagef(err, "%s:%d", rec.Source, rec.Position)
	}
	labelIDs := res.Labels.TokensToIDs(seq.tags)

	ex := &Example{
		SeqLen:              e.seqLen,
		WordNum:             e.wordNum,
		Length:              len(seq.tokens),
		OriginalLength:      originalLength,
		NumPrompts:          numPrompts,
		InputIDs:            make([]int32, e.seqLen),
		TokenTypeIDs:        make([]int32, e.seqLen),
		AttentionMask:       make([]int32, e.seqLen),
		LabelIDs:            make([]int32, e.seqLen),
		Targets:             make([]int32, e.seqLen),
		MatchedWordIDs:      make([]int32, e.seqLen*e.wordNum),
		MatchedWordMask:     make([]int32, e.seqLen*e.wordNum),
		MatchedWordLabelIDs: make([]int32, e.seqLen*e.wordNum),
	}
	for ii := range e.seqLen {
		if ii >= originalLength {
			ex.TokenTypeIDs[ii] = 1
		}
		if ii >= len(tokenIDs) {
			ex.AttentionMask[ii] = 1
			ex.Targets[ii] = IgnoreTarget
			continue
		}
		ex.InputIDs[ii] = int32(tokenIDs[ii])
		ex.AttentionMask[ii] = int32(seq.mask[ii])
		ex.LabelIDs[ii] = int32(labelIDs[ii])
		if seq.mask[ii] == 0 {
			ex.Targets[ii] = int32(tokenIDs[ii])
		} else {
			ex.Targets[ii] = IgnoreTarget
		}
	}

	// Matched words rows, one per position of the wrapped text.
	for ii, words := range matches {
		if len(words) > e.wordNum {
			words = words[:e.wordNum]
		}
		offset := ii * e.wordNum
		for jj, word := range words {
			ex.MatchedWordIDs[offset+jj] = int32(res.Words.TokenToID(word))
			ex.MatchedWordMask[offset+jj] = 1
			ex.MatchedWordLabelIDs[offset+jj] = int32(res.Words.TokenToID(e.tagPhrase(res.Words.Tags(word)[0])))
		}
	}

	if err := ex.validate(); err != nil {
		return nil, errors.WithMessagef(err, "%s:%d", rec.Source, rec.Position)
	}
	return ex, nil
}

// tagPhrase returns the category phrase of a word tag, looked up in the word vocabulary for the
// matched-word label ids. The default tag, or a tag without a rule, maps to vocab.PadToken.
func (e *trainingEncoder) tagPhrase(tag string) string {
	phrase, ok := e.res.Converter.Phrase(tag)
	if !ok {
		return vocab.PadToken
	}
	return phrase
}
