// Package hftokenizer converts already split tokens (e.g. one per Chinese character) to the ids of a
// WordPiece (BERT style) vocabulary, read from HuggingFace's tokenizer.json format or from a plain BERT
// vocab.txt file. It implements api.TokenConverter for the example encoder.
package hftokenizer

import (
	"bufio"
	"encoding/json"
	"os"
	"strings"
	"unicode"

	"github.com/gomlx/lexprompt/tokenizers/api"
	lru "github.com/hashicorp/golang-lru"
	"github.com/pkg/errors"
	"golang.org/x/text/unicode/norm"
)

// TokenizerJSON represents the parts of HuggingFace's tokenizer.json file used here.
type TokenizerJSON struct {
	Version     string       `json:"version"`
	AddedTokens []AddedToken `json:"added_tokens"`
	Normalizer  *Normalizer  `json:"normalizer"`
	Model       Model        `json:"model"`
}

// AddedToken represents a special token added to the vocabulary.
type AddedToken struct {
	ID      int    `json:"id"`
	Content string `json:"content"`
	Special bool   `json:"special"`
}

// Normalizer represents the normalizer configuration.
type Normalizer struct {
	Type         string       `json:"type"`
	Lowercase    bool         `json:"lowercase"`
	StripAccents *bool        `json:"strip_accents"`
	Normalizers  []Normalizer `json:"normalizers"`
}

// Model represents the tokenizer model vocabulary.
type Model struct {
	Type     string         `json:"type"`
	Vocab    map[string]int `json:"vocab"`
	UnkToken string         `json:"unk_token"`
}

// LookupCacheSize is the number of normalized token lookups memoized by each Tokenizer.
var LookupCacheSize = 8192

// Tokenizer implements api.TokenConverter for WordPiece vocabularies.
type Tokenizer struct {
	config    *api.Config
	tokenizer *TokenizerJSON

	// Special token IDs, -1 if not set.
	unkID  int
	padID  int
	bosID  int
	eosID  int
	clsID  int
	sepID  int
	maskID int

	// Added tokens lookup (content -> id)
	addedTokens map[string]int

	// lookups memoizes normalized token lookups: token -> lookupResult.
	lookups *lru.Cache
}

type lookupResult struct {
	id    int
	found bool
}

// Compile time assert that Tokenizer implements api.TokenConverter.
var _ api.TokenConverter = &Tokenizer{}

// BertConfig is the api.Config of BERT vocabularies.
var BertConfig = &api.Config{
	UnkToken:  "[UNK]",
	PadToken:  "[PAD]",
	ClsToken:  "[CLS]",
	SepToken:  "[SEP]",
	MaskToken: "[MASK]",
}

// NewFromFile creates a tokenizer from a local tokenizer.json file path.
// The config may be nil.
func NewFromFile(config *api.Config, filePath string) (*Tokenizer, error) {
	content, err := os.ReadFile(filePath)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read tokenizer.json file %q", filePath)
	}
	return NewFromContent(config, content)
}

// NewFromContent creates a tokenizer from tokenizer.json content.
// Only WordPiece models are supported.
func NewFromContent(config *api.Config, content []byte) (*Tokenizer, error) {
	var tj TokenizerJSON
	if err := json.Unmarshal(content, &tj); err != nil {
		return nil, errors.Wrapf(err, "failed to parse tokenizer.json")
	}
	if tj.Model.Type != "" && tj.Model.Type != "WordPiece" {
		return nil, errors.Errorf("unsupported tokenizer model type %q, only WordPiece is supported", tj.Model.Type)
	}
	return newTokenizer(config, &tj)
}

// NewFromVocabFile creates a tokenizer from a BERT vocab.txt file, one token per line, where the line
// number (0-based) is the token id. If config is nil, BertConfig is used.
func NewFromVocabFile(config *api.Config, filePath string) (*Tokenizer, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open vocab file %q", filePath)
	}
	defer func() { _ = f.Close() }()

	if config == nil {
		config = BertConfig
	}
	tj := &TokenizerJSON{
		Model: Model{Type: "WordPiece", Vocab: make(map[string]int), UnkToken: config.UnkToken},
		Normalizer: &Normalizer{Type: "BertNormalizer", Lowercase: true},
	}
	scanner := bufio.NewScanner(f)
	id := 0
	for scanner.Scan() {
		token := strings.TrimRight(scanner.Text(), "\r\n")
		if _, found := tj.Model.Vocab[token]; !found {
			tj.Model.Vocab[token] = id
		}
		id++
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrapf(err, "failed reading vocab file %q", filePath)
	}
	if id == 0 {
		return nil, errors.Errorf("vocab file %q is empty", filePath)
	}
	return newTokenizer(config, tj)
}

func newTokenizer(config *api.Config, tj *TokenizerJSON) (*Tokenizer, error) {
	lookups, err := lru.New(LookupCacheSize)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create token lookup cache")
	}
	t := &Tokenizer{
		config:      config,
		tokenizer:   tj,
		addedTokens: make(map[string]int),
		lookups:     lookups,
		unkID:       -1,
		padID:       -1,
		bosID:       -1,
		eosID:       -1,
		clsID:       -1,
		sepID:       -1,
		maskID:      -1,
	}
	for _, at := range tj.AddedTokens {
		t.addedTokens[at.Content] = at.ID
	}
	t.resolveSpecialTokens()
	return t, nil
}

// resolveSpecialTokens maps special tokens from the model, the added tokens and the config to their IDs.
func (t *Tokenizer) resolveSpecialTokens() {
	if unk := t.tokenizer.Model.UnkToken; unk != "" {
		if id, ok := t.exactTokenToID(unk); ok {
			t.unkID = id
		}
	}
	for _, at := range t.tokenizer.AddedTokens {
		if !at.Special {
			continue
		}
		switch at.Content {
		case "[UNK]", "<unk>":
			t.unkID = at.ID
		case "[PAD]", "<pad>":
			t.padID = at.ID
		case "[CLS]", "<s>":
			t.clsID = at.ID
		case "[SEP]", "</s>":
			t.sepID = at.ID
		case "[MASK]", "<mask>":
			t.maskID = at.ID
		}
	}
	if t.config == nil {
		return
	}
	for _, special := range []struct {
		token string
		id    *int
	}{
		{t.config.UnkToken, &t.unkID},
		{t.config.PadToken, &t.padID},
		{t.config.ClsToken, &t.clsID},
		{t.config.SepToken, &t.sepID},
		{t.config.MaskToken, &t.maskID},
		{t.config.BosToken, &t.bosID},
		{t.config.EosToken, &t.eosID},
	} {
		if *special.id != -1 || special.token == "" {
			continue
		}
		if id, ok := t.exactTokenToID(special.token); ok {
			*special.id = id
		}
	}
}

// exactTokenToID looks up token without normalization.
func (t *Tokenizer) exactTokenToID(token string) (int, bool) {
	if id, ok := t.addedTokens[token]; ok {
		return id, true
	}
	id, ok := t.tokenizer.Model.Vocab[token]
	return id, ok
}

// TokenToID converts a token string to its ID.
//
// Tokens not found verbatim are looked up again after NFKC, and then after the normalizer declared by
// the tokenizer (e.g. BertNormalizer lower-cases and strips accents), so "Ａ" or "A" resolve to "a" in
// an uncased vocabulary. Normalized lookups are memoized.
func (t *Tokenizer) TokenToID(token string) (int, bool) {
	if id, ok := t.exactTokenToID(token); ok {
		return id, true
	}
	if cached, ok := t.lookups.Get(token); ok {
		r := cached.(lookupResult)
		return r.id, r.found
	}
	var r lookupResult
	compat := norm.NFKC.String(token)
	for _, candidate := range []string{compat, t.normalize(compat)} {
		if id, ok := t.exactTokenToID(candidate); ok {
			r = lookupResult{id: id, found: true}
			break
		}
	}
	t.lookups.Add(token, r)
	return r.id, r.found
}

// normalize applies the normalizer configured in the tokenizer to a single token.
func (t *Tokenizer) normalize(token string) string {
	n := t.tokenizer.Normalizer
	if n == nil {
		return token
	}
	return applyNormalizer(token, n)
}

// applyNormalizer implements the token level part of the HuggingFace normalizers: text cleanup and
// CJK padding of BertNormalizer don't change a single token and are skipped.
func applyNormalizer(token string, n *Normalizer) string {
	switch n.Type {
	case "Lowercase":
		return strings.ToLower(token)
	case "NFD":
		return norm.NFD.String(token)
	case "NFC":
		return norm.NFC.String(token)
	case "NFKC":
		return norm.NFKC.String(token)
	case "StripAccents":
		return removeAccents(norm.NFD.String(token))
	case "BertNormalizer":
		if !n.Lowercase {
			return token
		}
		result := strings.ToLower(token)
		if n.StripAccents == nil || *n.StripAccents {
			result = removeAccents(norm.NFD.String(result))
		}
		return result
	case "Sequence":
		result := token
		for ii := range n.Normalizers {
			result = applyNormalizer(result, &n.Normalizers[ii])
		}
		return result
	default:
		return token
	}
}

// SpecialTokenID returns the ID for a given special token.
func (t *Tokenizer) SpecialTokenID(token api.SpecialToken) (int, error) {
	switch token {
	case api.TokUnknown:
		if t.unkID >= 0 {
			return t.unkID, nil
		}
	case api.TokPad:
		if t.padID >= 0 {
			return t.padID, nil
		}
	case api.TokBeginningOfSentence:
		if t.bosID >= 0 {
			return t.bosID, nil
		}
		// Fall back to CLS for BERT-style models
		if t.clsID >= 0 {
			return t.clsID, nil
		}
	case api.TokEndOfSentence:
		if t.eosID >= 0 {
			return t.eosID, nil
		}
		// Fall back to SEP for BERT-style models
		if t.sepID >= 0 {
			return t.sepID, nil
		}
	case api.TokMask:
		if t.maskID >= 0 {
			return t.maskID, nil
		}
	case api.TokClassification:
		if t.clsID >= 0 {
			return t.clsID, nil
		}
	}
	return 0, errors.Errorf("special token %s not found", token)
}

// removeAccents drops the nonspacing marks of an NFD decomposed text.
func removeAccents(text string) string {
	var result strings.Builder
	for _, r := range text {
		if !unicode.Is(unicode.Mn, r) {
			result.WriteRune(r)
		}
	}
	return result.String()
}
