// Package api defines the tokenizer API used by the example encoder.
// It's kept separate from the implementations so they can be imported independently.
package api

import (
	"fmt"

	"github.com/pkg/errors"
)

// TokenConverter converts already split tokens (e.g. one token per character) to ids, the way
// the example encoder needs it.
//
// It also allows mapping of special tokens: tokens with a common semantic (like padding) but that
// may map to different ids (int) for different tokenizers.
type TokenConverter interface {
	// TokenToID returns the id of token, and false if the token is not in the vocabulary.
	TokenToID(token string) (int, bool)

	// SpecialTokenID returns ID for given special token if registered, or an error if not.
	SpecialTokenID(token SpecialToken) (int, error)
}

// ConvertTokensToIDs converts each token with conv.TokenToID, using the TokUnknown id for tokens
// not in the vocabulary. It fails if there are unknown tokens and conv has no TokUnknown.
func ConvertTokensToIDs(conv TokenConverter, tokens []string) ([]int, error) {
	ids := make([]int, len(tokens))
	unkID := -1
	for ii, token := range tokens {
		id, found := conv.TokenToID(token)
		if !found {
			if unkID < 0 {
				var err error
				unkID, err = conv.SpecialTokenID(TokUnknown)
				if err != nil {
					return nil, errors.WithMessagef(err, "token %q not in vocabulary, and no unknown token", token)
				}
			}
			id = unkID
		}
		ids[ii] = id
	}
	return ids, nil
}

// Config holds the special token strings of a tokenizer, used to resolve the special token ids.
// Empty fields are ignored.
type Config struct {
	UnkToken  string
	PadToken  string
	ClsToken  string
	SepToken  string
	MaskToken string
	BosToken  string
	EosToken  string
}

// SpecialToken is an enum of commonly used special tokens.
type SpecialToken int

const (
	TokBeginningOfSentence SpecialToken = iota
	TokEndOfSentence
	TokUnknown
	TokPad
	TokMask
	TokClassification
	TokSpecialTokensCount
)

var specialTokenNames = [...]string{
	TokBeginningOfSentence: "beginning_of_sentence",
	TokEndOfSentence:       "end_of_sentence",
	TokUnknown:             "unknown",
	TokPad:                 "pad",
	TokMask:                "mask",
	TokClassification:      "classification",
}

// String implements fmt.Stringer.
func (t SpecialToken) String() string {
	if t >= 0 && t < TokSpecialTokensCount {
		return specialTokenNames[t]
	}
	return fmt.Sprintf("SpecialToken(%d)", int(t))
}
