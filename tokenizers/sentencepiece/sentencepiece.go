// Package sentencepiece implements an api.TokenConverter based on a SentencePiece model.
package sentencepiece

import (
	esentencepiece "github.com/eliben/go-sentencepiece"
	"github.com/gomlx/lexprompt/tokenizers/api"
	"github.com/pkg/errors"
)

// WordBoundary is the piece SentencePiece uses to mark the start of a word ("▁", U+2581).
const WordBoundary = "▁"

// NewFromFile creates a SentencePiece tokenizer from a "tokenizer.model" file, which must be a
// SentencePiece Model proto.
func NewFromFile(path string) (*Tokenizer, error) {
	proc, err := esentencepiece.NewProcessorFromPath(path)
	if err != nil {
		return nil, errors.Wrapf(err, "can't create sentencepiece tokenizer from %q", path)
	}
	return &Tokenizer{
		Processor: proc,
		Info:      proc.ModelInfo(),
	}, nil
}

// Tokenizer implements api.TokenConverter based on SentencePiece tokenizer by Google.
type Tokenizer struct {
	*esentencepiece.Processor
	Info *esentencepiece.ModelInfo
}

// Compile time assert that sentencepiece.Tokenizer implements api.TokenConverter.
var _ api.TokenConverter = &Tokenizer{}

// TokenToID returns the id of a single token (typically one character).
//
// SentencePiece prefixes the first piece with WordBoundary, which is dropped if it comes as a piece
// of its own. The token is only found if it encodes to exactly one known piece.
func (p *Tokenizer) TokenToID(token string) (int, bool) {
	if token == "" {
		return 0, false
	}
	tokens := p.Processor.Encode(token)
	if len(tokens) > 1 && tokens[0].Text == WordBoundary {
		tokens = tokens[1:]
	}
	if len(tokens) != 1 || tokens[0].ID == p.Info.UnknownID {
		return 0, false
	}
	return tokens[0].ID, true
}

// SpecialTokenID returns the token for the given symbol, or an error if not known.
func (p *Tokenizer) SpecialTokenID(token api.SpecialToken) (int, error) {
	var id int
	switch token {
	case api.TokUnknown:
		id = p.Info.UnknownID
	case api.TokPad:
		id = p.Info.PadID
	case api.TokBeginningOfSentence, api.TokClassification:
		id = p.Info.BeginningOfSentenceID
	case api.TokEndOfSentence:
		id = p.Info.EndOfSentenceID
	default:
		return 0, errors.Errorf("unknown special token: %s (%d)", token, int(token))
	}
	if id < 0 {
		return 0, errors.Errorf("special token %s not defined in the sentencepiece model", token)
	}
	return id, nil
}
