package encoder

import (
	"github.com/gomlx/lexprompt/config"
	"github.com/gomlx/lexprompt/lexicon"
	"github.com/gomlx/lexprompt/prompt"
	"github.com/gomlx/lexprompt/tokenizers/api"
	"github.com/gomlx/lexprompt/vocab"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Resources holds everything an Encoder needs, built (or loaded from the caches) once and read-only
// afterwards, so they can be shared by concurrent encoders.
type Resources struct {
	// Trie of the dictionary words.
	Trie *lexicon.Trie

	// MatchedWords are the dictionary words occurring in the data files, sorted.
	MatchedWords []string

	// Words is the word vocabulary restricted to MatchedWords.
	Words *vocab.Word

	// Labels is the output label space.
	Labels *vocab.Label

	Converter *prompt.Converter
	Tokenizer api.TokenConverter
}

// Prepare builds the Resources for the configuration:
//
//   - The lexicon trie, from the word vocab file, or from its cache.
//   - The words of the trie matched in the data files (train, eval and test).
//   - The word vocabulary from the word-with-tag file (or its cache), restricted to the matched words.
//   - The label vocabulary from the tag file, and the prompt converter from the tag rules.
func Prepare(cfg *config.Config, tok api.TokenConverter) (*Resources, error) {
	if tok == nil {
		return nil, errors.New("a tokenizer is required to prepare the encoding resources")
	}
	res := &Resources{Tokenizer: tok}
	var err error
	res.Trie, err = lexicon.LoadOrBuild(cfg.LexiconTreeCachePath, []string{cfg.WordVocabFile}, cfg.MaxScanNum)
	if err != nil {
		return nil, err
	}
	klog.V(1).Infof("lexicon trie with %d words", res.Trie.Len())

	res.MatchedWords, err = lexicon.CollectMatchedWords(cfg.DataFiles(), res.Trie)
	if err != nil {
		return nil, err
	}
	klog.V(1).Infof("%d dictionary words matched in the data files", len(res.MatchedWords))

	allWords, err := vocab.LoadOrBuildWord(cfg.WordVocabCachePath, []string{cfg.WordVocabFileWithTag},
		cfg.MaxScanNum, cfg.UnknownBucketCount, cfg.DefaultTag)
	if err != nil {
		return nil, err
	}
	res.Words = allWords.Restrict(res.MatchedWords, cfg.UnknownBucketCount)
	klog.V(1).Infof("word vocabulary: %d of %d words", res.Words.NumWords(), allWords.NumWords())

	res.Labels, err = vocab.LoadLabelFile(cfg.TagFile, cfg.DefaultTag)
	if err != nil {
		return nil, err
	}
	res.Converter, err = prompt.NewConverter(cfg.TagRules, cfg.DefaultTag, cfg.Template())
	if err != nil {
		return nil, errors.WithMessage(err, "invalid tag_rules")
	}
	return res, nil
}
