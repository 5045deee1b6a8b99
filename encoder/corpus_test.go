package encoder

import (
	"context"
	"encoding/binary"
	"fmt"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/gomlx/gomlx/pkg/core/dtypes"
	"github.com/gomlx/lexprompt/config"
	"github.com/gomlx/lexprompt/internal/cachefile"
	"github.com/gomlx/lexprompt/safetensors"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// manyRecords returns n distinct records, varying which characters are labeled.
func manyRecords(n int) []string {
	texts := [][]string{
		{"北", "京", "欢", "迎", "你"},
		{"张", "三", "在", "北", "京"},
		{"你", "好", "北", "京", "市"},
	}
	var lines []string
	for ii := range n {
		text := texts[ii%len(texts)]
		labels := make([]string, len(text))
		for jj := range labels {
			labels[jj] = "O"
		}
		labels[ii%len(text)] = "B-LOC"
		lines = append(lines, fmt.Sprintf(`{"text": ["%s"], "label": ["%s"]}`,
			strings.Join(text, `","`), strings.Join(labels, `","`)))
	}
	return lines
}

type corpusFixture struct {
	cfg *config.Config
	enc Encoder
}

func newCorpusFixture(t *testing.T, numRecords int) *corpusFixture {
	t.Helper()
	cfg := newTestConfig(t, fixture{
		words:    []string{"北京", "北京市", "张三", "欢迎"},
		wordTags: `{"北京": "LOC", "北京市": ["LOC"], "张三": "PER", "欢迎": "O"}`,
		records:  manyRecords(numRecords),
	})
	res, err := Prepare(cfg, newFakeTokenizer())
	require.NoError(t, err)
	return &corpusFixture{cfg: cfg, enc: New(cfg, res)}
}

func TestLoadCorpusDeterministic(t *testing.T) {
	fx := newCorpusFixture(t, 20)
	ctx := context.Background()
	sequential, err := LoadCorpus(ctx, fx.cfg.TrainFile, fx.enc, CorpusOptions{})
	require.NoError(t, err)
	require.Equal(t, 20, sequential.Len())
	for ii := range sequential.Len() {
		assert.Equal(t, ii, sequential.perm[ii], "identity permutation when not shuffled")
	}

	again, err := LoadCorpus(ctx, fx.cfg.TrainFile, fx.enc, CorpusOptions{})
	require.NoError(t, err)
	parallel, err := LoadCorpus(ctx, fx.cfg.TrainFile, fx.enc, CorpusOptions{Parallelism: 4})
	require.NoError(t, err)
	for ii := range sequential.Len() {
		assert.Equal(t, sequential.At(ii), again.At(ii), "example %d", ii)
		assert.Equal(t, sequential.At(ii), parallel.At(ii), "example %d", ii)
		assert.LessOrEqual(t, sequential.At(ii).Length, sequential.At(ii).SeqLen)
	}
}

func TestLoadCorpusShuffle(t *testing.T) {
	fx := newCorpusFixture(t, 20)
	ctx := context.Background()
	plain, err := LoadCorpus(ctx, fx.cfg.TrainFile, fx.enc, CorpusOptions{})
	require.NoError(t, err)
	opts := CorpusOptions{Shuffle: true, Seed: 42, Parallelism: 2}
	shuffled, err := LoadCorpus(ctx, fx.cfg.TrainFile, fx.enc, opts)
	require.NoError(t, err)
	again, err := LoadCorpus(ctx, fx.cfg.TrainFile, fx.enc, opts)
	require.NoError(t, err)

	assert.Equal(t, shuffled.perm, again.perm, "same seed, same order")
	sorted := slices.Clone(shuffled.perm)
	slices.Sort(sorted)
	assert.Equal(t, plain.perm, sorted, "shuffled order is a permutation")
	for ii := range shuffled.Len() {
		assert.Equal(t, plain.At(shuffled.perm[ii]), shuffled.At(ii))
	}

	count := 0
	for ii, ex := range shuffled.All() {
		assert.Same(t, shuffled.At(ii), ex)
		count++
	}
	assert.Equal(t, shuffled.Len(), count)
}

func TestLoadCorpusCancelled(t *testing.T) {
	fx := newCorpusFixture(t, 5)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := LoadCorpus(ctx, fx.cfg.TrainFile, fx.enc, CorpusOptions{Parallelism: 2})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestBatch(t *testing.T) {
	fx := newCorpusFixture(t, 3)
	c, err := LoadCorpus(context.Background(), fx.cfg.TrainFile, fx.enc, CorpusOptions{})
	require.NoError(t, err)

	b, err := c.Batch([]int{2, 0})
	require.NoError(t, err)
	assert.Equal(t, 2, b.Size)
	seqLen, wordNum := fx.enc.SeqLen(), fx.enc.WordNum()
	assert.Equal(t, []int{2, seqLen}, b.InputIDs.Shape().Dimensions)
	assert.Equal(t, []int{2, seqLen}, b.Targets.Shape().Dimensions)
	assert.Equal(t, dtypes.Int32, b.InputIDs.Shape().DType)
	assert.Equal(t, []int{2, seqLen, wordNum}, b.MatchedWordIDs.Shape().Dimensions)
	assert.Equal(t, []int{2, seqLen, wordNum}, b.MatchedWordLabelIDs.Shape().Dimensions)

	_, err = c.Batch(nil)
	assert.Error(t, err)
	_, err = c.Batch([]int{0, 3})
	assert.Error(t, err)
}

func TestLoadDatasets(t *testing.T) {
	cfg := newTestConfig(t, fixture{
		words:    []string{"北京"},
		wordTags: `{"北京": "LOC"}`,
		records:  manyRecords(4),
	})
	dir := filepath.Dir(cfg.TrainFile)
	cfg.EvalFile = writeFile(t, dir, "dev.jsonl", strings.Join(manyRecords(2), "\n"))
	cfg.TestFile = writeFile(t, dir, "test.jsonl", strings.Join(manyRecords(3), "\n"))
	res, err := Prepare(cfg, newFakeTokenizer())
	require.NoError(t, err)
	enc := New(cfg, res)
	ctx := context.Background()

	ds, err := LoadDatasets(ctx, cfg, enc)
	require.NoError(t, err)
	assert.Equal(t, 4, ds.Train.Len())
	assert.Nil(t, ds.Eval, "output_eval is false")
	assert.Nil(t, ds.Test)

	outputEval := true
	cfg.OutputEval = &outputEval
	ds, err = LoadDatasets(ctx, cfg, enc)
	require.NoError(t, err)
	require.NotNil(t, ds.Eval)
	assert.Equal(t, 2, ds.Eval.Len())

	cfg.UseTest = true
	ds, err = LoadDatasets(ctx, cfg, enc)
	require.NoError(t, err)
	assert.Nil(t, ds.Train)
	require.NotNil(t, ds.Test)
	assert.Equal(t, 3, ds.Test.Len())
}

func TestPrepareCaches(t *testing.T) {
	cfg := newTestConfig(t, fixture{
		words:    []string{"北京", "欢迎"},
		wordTags: `{"北京": ["LOC"], "欢迎": "O"}`,
		records:  []string{beijingRecord},
	})
	dir := t.TempDir()
	cfg.LexiconTreeCachePath = filepath.Join(dir, "trie.cache")
	cfg.WordVocabCachePath = filepath.Join(dir, "vocab.cache")

	first, err := Prepare(cfg, newFakeTokenizer())
	require.NoError(t, err)
	assert.True(t, cachefile.Exists(cfg.LexiconTreeCachePath))
	assert.True(t, cachefile.Exists(cfg.WordVocabCachePath))
	assert.Equal(t, []string{"北京", "欢迎"}, first.MatchedWords)

	// Second run loads from the caches, with identical ids.
	second, err := Prepare(cfg, newFakeTokenizer())
	require.NoError(t, err)
	assert.Equal(t, first.Trie.Len(), second.Trie.Len())
	assert.Equal(t, first.Words.Entries(), second.Words.Entries())
	for _, word := range []string{"北京", "欢迎", "上海"} {
		assert.Equal(t, first.Words.TokenToID(word), second.Words.TokenToID(word), "word %q", word)
	}

	_, err = Prepare(cfg, nil)
	assert.Error(t, err)
}

func TestWriteSafetensors(t *testing.T) {
	fx := newCorpusFixture(t, 4)
	c, err := LoadCorpus(context.Background(), fx.cfg.TrainFile, fx.enc, CorpusOptions{Shuffle: true, Seed: 7})
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "train.safetensors")
	require.NoError(t, c.WriteSafetensors(path))

	r, err := safetensors.Open(path)
	require.NoError(t, err)
	defer func() { _ = r.Close() }()
	assert.Equal(t, "4", r.Header.Metadata["examples"])
	assert.Equal(t, []string{
		InputIDsName, TokenTypeIDsName, AttentionMaskName, LabelIDsName, TargetsName,
		MatchedWordIDsName, MatchedWordMaskName, MatchedWordLabelIDsName,
	}, r.Names())

	seqLen, wordNum := fx.enc.SeqLen(), fx.enc.WordNum()
	inputIDs, err := r.ReadTensor(InputIDsName)
	require.NoError(t, err)
	assert.Equal(t, []int{4, seqLen}, inputIDs.Shape().Dimensions)
	inputIDs.MutableBytes(func(data []byte) {
		if !assert.Len(t, data, 4*seqLen*4) {
			return
		}
		// First int32 of the first exported example, in permutation order, is its [CLS] id.
		first := int32(binary.LittleEndian.Uint32(data))
		assert.Equal(t, c.At(0).InputIDs[0], first)
	})
	words, err := r.ReadTensor(MatchedWordMaskName)
	require.NoError(t, err)
	assert.Equal(t, []int{4, seqLen, wordNum}, words.Shape().Dimensions)

	empty := &Corpus{path: "empty"}
	assert.Error(t, empty.WriteSafetensors(filepath.Join(t.TempDir(), "empty.safetensors")))
}
