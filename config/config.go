// Package config defines the configuration of the lexicon prompt encoding pipeline, loaded from YAML.
//
// Example:
//
//	max_seq_length: 150
//	word_vocab_file: ./data/tencent/tencent_vocab.txt
//	word_vocab_file_with_tag: ./data/tencent/tencent_vocab_with_tag.json
//	tag_file: ./data/SuperNER/tags_list.txt
//	train_file: ./data/SuperNER/pre_train.json
//	tag_rules:
//	  ORG: 组织
//	  LOC: 地点
//
// Unknown keys are rejected, and missing required keys are reported by Validate.
package config

import (
	"bytes"
	"io"
	"os"
	"strings"

	"github.com/gomlx/lexprompt/prompt"
	"github.com/gomlx/lexprompt/vocab"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// ErrInvalid is returned (wrapped) for configurations that fail validation.
var ErrInvalid = errors.New("invalid configuration")

// Defaults.
const (
	DefaultMaxSeqLength = 256
	DefaultMaxWordNum   = 5
	DefaultMaxScanNum   = 1_000_000
	DefaultTag          = "O"
	DefaultBeginToken   = "[CLS]"
	DefaultEndToken     = "[SEP]"
)

// Config of the pipeline. Use New or Load to get one with defaults filled in.
type Config struct {
	// MaxSeqLength is the total token budget per example, including begin/end markers and prompts.
	MaxSeqLength int `yaml:"max_seq_length"`

	// MaxWordNum is the number of lexicon matches retained per position.
	MaxWordNum int `yaml:"max_word_num"`

	// MaxScanNum caps the number of dictionary words read when building the lexicon tree and the
	// word vocabulary. Values <= 0 mean no cap.
	MaxScanNum int `yaml:"max_scan_num"`

	// DefaultTag is the "no entity" tag.
	DefaultTag string `yaml:"default_tag"`

	// UnknownBucketCount is the number of reserved word vocabulary ids for unknown words.
	UnknownBucketCount int `yaml:"unknown_bucket_count"`

	DoShuffle   bool  `yaml:"do_shuffle"`
	ShuffleSeed int64 `yaml:"shuffle_seed"`

	// DoPredict selects the prediction encoder, which is not supported.
	DoPredict bool `yaml:"do_predict"`

	// UseTest loads the test file instead of the train (and eval) files.
	UseTest bool `yaml:"use_test"`

	// OutputEval loads the eval file along with the train file. Defaults to true.
	OutputEval *bool `yaml:"output_eval"`

	// Parallelism is the number of records encoded concurrently. Defaults to 1.
	Parallelism int `yaml:"parallelism"`

	// Cache paths, optional: when empty the lexicon tree and the word vocabulary are always rebuilt.
	LexiconTreeCachePath string `yaml:"lexicon_tree_cache_path"`
	WordVocabCachePath   string `yaml:"word_vocab_cache_path"`

	WordVocabFile        string `yaml:"word_vocab_file"`
	WordVocabFileWithTag string `yaml:"word_vocab_file_with_tag"`
	TagFile              string `yaml:"tag_file"`
	TrainFile            string `yaml:"train_file"`
	EvalFile             string `yaml:"eval_file"`
	TestFile             string `yaml:"test_file"`

	// TokenizerFile is a tokenizer.json, a BERT vocab.txt or a SentencePiece .model file.
	TokenizerFile string `yaml:"tokenizer_file"`

	// TagRules maps entity category codes to the phrase used in prompts.
	TagRules prompt.Rules `yaml:"tag_rules"`

	BeginToken       string  `yaml:"begin_token"`
	EndToken         string  `yaml:"end_token"`
	PromptConnector  *string `yaml:"prompt_connector"`
	PromptTerminator *string `yaml:"prompt_terminator"`
}

// New returns a Config with all defaults set.
func New() *Config {
	c := &Config{}
	c.setDefaults()
	return c
}

// Load reads and validates the YAML configuration at path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open configuration %q", path)
	}
	defer func() { _ = f.Close() }()
	c, err := Parse(f)
	if err != nil {
		return nil, errors.WithMessagef(err, "configuration %q", path)
	}
	return c, nil
}

// Parse reads and validates a YAML configuration.
func Parse(r io.Reader) (*Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read configuration")
	}
	c := New()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && err != io.EOF {
		return nil, errors.Wrapf(ErrInvalid, "%v", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) setDefaults() {
	c.MaxSeqLength = DefaultMaxSeqLength
	c.MaxWordNum = DefaultMaxWordNum
	c.MaxScanNum = DefaultMaxScanNum
	c.DefaultTag = DefaultTag
	c.UnknownBucketCount = vocab.DefaultUnknownCount
	c.Parallelism = 1
	c.BeginToken = DefaultBeginToken
	c.EndToken = DefaultEndToken
}

// Validate checks the configuration, returning an error wrapping ErrInvalid listing all the problems found.
func (c *Config) Validate() error {
	var problems []string
	addf := func(format string, args ...any) {
		problems = append(problems, errors.Errorf(format, args...).Error())
	}
	if c.MaxSeqLength <= 2 {
		addf("max_seq_length must be > 2, got %d", c.MaxSeqLength)
	}
	if c.MaxWordNum <= 0 {
		addf("max_word_num must be > 0, got %d", c.MaxWordNum)
	}
	if c.UnknownBucketCount <= 0 {
		addf("unknown_bucket_count must be > 0, got %d", c.UnknownBucketCount)
	}
	if c.Parallelism <= 0 {
		addf("parallelism must be > 0, got %d", c.Parallelism)
	}
	if c.DefaultTag == "" {
		addf("default_tag can't be empty")
	}
	if c.BeginToken == "" || c.EndToken == "" {
		addf("begin_token and end_token can't be empty")
	}
	required := []struct{ key, value string }{
		{"word_vocab_file", c.WordVocabFile},
		{"word_vocab_file_with_tag", c.WordVocabFileWithTag},
		{"tag_file", c.TagFile},
	}
	if c.UseTest {
		required = append(required, struct{ key, value string }{"test_file", c.TestFile})
	} else {
		required = append(required, struct{ key, value string }{"train_file", c.TrainFile})
		if c.ShouldOutputEval() {
			required = append(required, struct{ key, value string }{"eval_file", c.EvalFile})
		}
	}
	for _, r := range required {
		if r.value == "" {
			addf("%s is required", r.key)
		}
	}
	if len(c.TagRules) == 0 {
		addf("tag_rules is required")
	}
	for code, phrase := range c.TagRules {
		if code == "" || phrase == "" {
			addf("tag_rules: invalid rule %q -> %q", code, phrase)
		}
	}
	if len(problems) > 0 {
		return errors.Wrap(ErrInvalid, strings.Join(problems, "; "))
	}
	return nil
}

// ShouldOutputEval returns whether the eval dataset is loaded along with the train dataset.
func (c *Config) ShouldOutputEval() bool {
	return c.OutputEval == nil || *c.OutputEval
}

// Template returns the prompt template, with the defaults for unset fields.
func (c *Config) Template() prompt.Template {
	t := prompt.DefaultTemplate
	if c.PromptConnector != nil {
		t.Connector = *c.PromptConnector
	}
	if c.PromptTerminator != nil {
		t.Terminator = *c.PromptTerminator
	}
	return t
}

// DataFiles returns the train, eval and test files, in this order. Unset files are empty strings.
func (c *Config) DataFiles() []string {
	return []string{c.TrainFile, c.EvalFile, c.TestFile}
}
