// lexprompt prepares the lexicon caches for a configuration, encodes its datasets and prints a summary.
//
// Usage:
//
//	lexprompt -config=config.yaml [-tokenizer=vocab.txt] [-export_dir=./encoded] [-v=1]
//
// The tokenizer file (flag, or tokenizer_file in the configuration) can be a HuggingFace tokenizer.json,
// a BERT vocab.txt or a SentencePiece .model file.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/gomlx/lexprompt/config"
	"github.com/gomlx/lexprompt/encoder"
	"github.com/gomlx/lexprompt/tokenizers/api"
	"github.com/gomlx/lexprompt/tokenizers/hftokenizer"
	"github.com/gomlx/lexprompt/tokenizers/sentencepiece"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

var (
	flagConfig    = flag.String("config", "config.yaml", "YAML configuration file.")
	flagTokenizer = flag.String("tokenizer", "", "Tokenizer file, overrides tokenizer_file in the configuration.")
	flagExportDir = flag.String("export_dir", "", "If set, the encoded datasets are saved as <dataset>.safetensors in this directory.")
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	keyStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Width(20)
	boxStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()
	if err := run(ctx); err != nil {
		klog.Exitf("lexprompt failed: %+v", err)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.Load(*flagConfig)
	if err != nil {
		return err
	}
	if *flagTokenizer != "" {
		cfg.TokenizerFile = *flagTokenizer
	}
	tok, err := loadTokenizer(cfg.TokenizerFile)
	if err != nil {
		return err
	}
	res, err := encoder.Prepare(cfg, tok)
	if err != nil {
		return err
	}
	ds, err := encoder.LoadDatasets(ctx, cfg, encoder.New(cfg, res))
	if err != nil {
		return err
	}

	var blocks []string
	blocks = append(blocks, summaryBox("Resources", [][2]string{
		{"lexicon words", fmt.Sprint(res.Trie.Len())},
		{"matched words", fmt.Sprint(len(res.MatchedWords))},
		{"word vocabulary", fmt.Sprint(res.Words.Len())},
		{"labels", fmt.Sprint(res.Labels.Len())},
		{"max_seq_length", fmt.Sprint(cfg.MaxSeqLength)},
		{"max_word_num", fmt.Sprint(cfg.MaxWordNum)},
	}))
	for _, c := range []struct {
		name   string
		corpus *encoder.Corpus
	}{{"Train", ds.Train}, {"Eval", ds.Eval}, {"Test", ds.Test}} {
		if c.corpus == nil {
			continue
		}
		blocks = append(blocks, corpusSummary(c.name, c.corpus))
		if *flagExportDir != "" {
			if err := os.MkdirAll(*flagExportDir, 0755); err != nil {
				return errors.Wrapf(err, "failed to create export directory %q", *flagExportDir)
			}
			path := filepath.Join(*flagExportDir, strings.ToLower(c.name)+".safetensors")
			if err := c.corpus.WriteSafetensors(path); err != nil {
				return err
			}
			klog.Infof("%s dataset saved to %s", c.name, path)
		}
	}
	fmt.Println(lipgloss.JoinHorizontal(lipgloss.Top, blocks...))
	return nil
}

// loadTokenizer selects the tokenizer implementation by the file extension.
func loadTokenizer(path string) (api.TokenConverter, error) {
	if path == "" {
		return nil, errors.New("no tokenizer file given: set tokenizer_file in the configuration or use -tokenizer")
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return hftokenizer.NewFromFile(hftokenizer.BertConfig, path)
	case ".model":
		return sentencepiece.NewFromFile(path)
	default:
		return hftokenizer.NewFromVocabFile(nil, path)
	}
}

func corpusSummary(name string, c *encoder.Corpus) string {
	var tokens, prompts, maxLength int
	for _, ex := range c.All() {
		tokens += ex.Length
		prompts += ex.NumPrompts
		maxLength = max(maxLength, ex.Length)
	}
	mean := func(total int) string {
		if c.Len() == 0 {
			return "-"
		}
		return fmt.Sprintf("%.1f", float64(total)/float64(c.Len()))
	}
	return summaryBox(name, [][2]string{
		{"file", filepath.Base(c.Path())},
		{"examples", fmt.Sprint(c.Len())},
		{"mean length", mean(tokens)},
		{"max length", fmt.Sprint(maxLength)},
		{"mean prompts", mean(prompts)},
	})
}

func summaryBox(title string, rows [][2]string) string {
	lines := []string{titleStyle.Render(title)}
	for _, row := range rows {
		lines = append(lines, keyStyle.Render(row[0])+row[1])
	}
	return boxStyle.Render(lipgloss.JoinVertical(lipgloss.Left, lines...))
}
