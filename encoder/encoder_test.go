package encoder

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/gomlx/lexprompt/config"
	"github.com/gomlx/lexprompt/prompt"
	"github.com/gomlx/lexprompt/records"
	"github.com/gomlx/lexprompt/tokenizers/api"
	"github.com/gomlx/lexprompt/vocab"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeTokenizer maps each token of a fixed list to its index.
type fakeTokenizer struct {
	ids map[string]int
}

var fakeTokens = []string{
	"[PAD]", "[UNK]", "[CLS]", "[SEP]", "北", "京", "欢", "迎", "你", "是", "地", "点", "。", "张", "三", "人", "市",
}

func newFakeTokenizer() *fakeTokenizer {
	tok := &fakeTokenizer{ids: make(map[string]int)}
	for ii, token := range fakeTokens {
		tok.ids[token] = ii
	}
	return tok
}

func (f *fakeTokenizer) TokenToID(token string) (int, bool) {
	id, ok := f.ids[token]
	return id, ok
}

func (f *fakeTokenizer) SpecialTokenID(token api.SpecialToken) (int, error) {
	if token == api.TokUnknown {
		return 1, nil
	}
	return 0, errors.Errorf("no %s token", token)
}

func tokenID(token string) int32 {
	return int32(slices.Index(fakeTokens, token))
}

// fixture describes the input files of a test.
type fixture struct {
	words    []string // Dictionary words.
	wordTags string   // Word-with-tag JSON.
	records  []string // JSON lines of the train file.
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func newTestConfig(t *testing.T, fx fixture) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.New()
	cfg.MaxSeqLength = 16
	cfg.MaxWordNum = 3
	cfg.WordVocabFile = writeFile(t, dir, "words.txt", strings.Join(fx.words, "\n")+"\n")
	cfg.WordVocabFileWithTag = writeFile(t, dir, "words_with_tag.json", fx.wordTags)
	cfg.TagFile = writeFile(t, dir, "tags.txt", "O\nB-LOC\nI-LOC\nB-PER\nI-PER\n")
	cfg.TrainFile = writeFile(t, dir, "train.jsonl", strings.Join(fx.records, "\n")+"\n")
	cfg.TagRules = prompt.Rules{"LOC": "地点", "PER": "人"}
	outputEval := false
	cfg.OutputEval = &outputEval
	require.NoError(t, cfg.Validate())
	return cfg
}

// encodeTrain prepares the resources for cfg and encodes its train file.
func encodeTrain(t *testing.T, cfg *config.Config) (*Resources, []*Example) {
	t.Helper()
	res, err := Prepare(cfg, newFakeTokenizer())
	require.NoError(t, err)
	enc := New(cfg, res)
	recs, err := records.ReadAll(cfg.TrainFile, enc.RecordOptions())
	require.NoError(t, err)
	examples := make([]*Example, len(recs))
	for ii, rec := range recs {
		examples[ii], err = enc.Encode(rec)
		require.NoError(t, err)
		assert.LessOrEqual(t, examples[ii].Length, cfg.MaxSeqLength)
	}
	return res, examples
}

const beijingRecord = `{"text": ["北","京","欢","迎","你"], "label": ["B-LOC","I-LOC","O","O","O"]}`

func TestEncodeSpanAndMatchDeduplicated(t *testing.T) {
	cfg := newTestConfig(t, fixture{
		words:    []string{"北京", "欢迎"},
		wordTags: `{"北京": ["LOC"], "欢迎": "O"}`,
		records:  []string{beijingRecord},
	})
	res, examples := encodeTrain(t, cfg)
	require.Len(t, examples, 1)
	ex := examples[0]

	// [CLS] 北 京 欢 迎 你 [SEP] + one prompt: 北 京 是 地 点 。
	assert.Equal(t, 1, ex.NumPrompts)
	assert.Equal(t, 7, ex.OriginalLength)
	assert.Equal(t, 13, ex.Length)
	var wantIDs []int32
	for _, token := range []string{"[CLS]", "北", "京", "欢", "迎", "你", "[SEP]", "北", "京", "是", "地", "点", "。"} {
		wantIDs = append(wantIDs, tokenID(token))
	}
	wantIDs = append(wantIDs, 0, 0, 0)
	assert.Equal(t, wantIDs, ex.InputIDs)
	assert.Equal(t, []int32{0, 0, 0, 0, 0, 0, 0, 1, 1, 1, 1, 1, 1, 1, 1, 1}, ex.TokenTypeIDs)
	assert.Equal(t, []int32{1, 1, 1, 1, 1, 1, 1, 1, 1, 0, 1, 1, 0, 1, 1, 1}, ex.AttentionMask,
		"template tokens hidden, padding attended")
	assert.Equal(t, []int32{0, 1, 2, 0, 0, 0, 0, 1, 2, 0, 0, 0, 0, 0, 0, 0}, ex.LabelIDs)
	ignore := int32(IgnoreTarget)
	assert.Equal(t, []int32{
		ignore, ignore, ignore, ignore, ignore, ignore, ignore, ignore, ignore,
		tokenID("是"), ignore, ignore, tokenID("。"),
		ignore, ignore, ignore,
	}, ex.Targets)

	// Matched words: "北京" at position 1 (after [CLS]), "欢迎" at position 3.
	beijingID := int32(res.Words.TokenToID("北京"))
	assert.False(t, res.Words.IsUnknownID(int(beijingID)))
	ids := ex.Rows(ex.MatchedWordIDs)
	mask := ex.Rows(ex.MatchedWordMask)
	labels := ex.Rows(ex.MatchedWordLabelIDs)
	require.Len(t, ids, cfg.MaxSeqLength)
	assert.Equal(t, []int32{beijingID, 0, 0}, ids[1])
	assert.Equal(t, []int32{1, 0, 0}, mask[1])
	assert.Equal(t, []int32{int32(res.Words.TokenToID("地点")), 0, 0}, labels[1])
	assert.Equal(t, []int32{int32(res.Words.TokenToID("欢迎")), 0, 0}, ids[3])
	assert.Equal(t, []int32{1, 0, 0}, mask[3])
	assert.Equal(t, []int32{vocab.PadID, 0, 0}, labels[3], "untagged words have the <pad> label")
	for _, pos := range []int{0, 2, 4, 5, 6, 7, 15} {
		assert.Equal(t, []int32{0, 0, 0}, mask[pos], "position %d", pos)
	}
}

func TestEncodeRepeatedWordPromptedOnce(t *testing.T) {
	cfg := newTestConfig(t, fixture{
		words:    []string{"北京", "欢迎"},
		wordTags: `{"北京": ["LOC"], "欢迎": "O"}`,
		records:  []string{`{"text": ["北","京","欢","迎","北","京"], "label": ["O","O","O","O","O","O"]}`},
	})
	res, examples := encodeTrain(t, cfg)
	require.Len(t, examples, 1)
	ex := examples[0]

	// [CLS] 北 京 欢 迎 北 京 [SEP] + 北 京 是 地 点 。
	assert.Equal(t, 1, ex.NumPrompts)
	assert.Equal(t, 8, ex.OriginalLength)
	assert.Equal(t, 14, ex.Length)

	// Both occurrences are still matched words.
	beijingID := int32(res.Words.TokenToID("北京"))
	ids := ex.Rows(ex.MatchedWordIDs)
	assert.Equal(t, []int32{beijingID, 0, 0}, ids[1])
	assert.Equal(t, []int32{beijingID, 0, 0}, ids[5])
}

func TestEncodeMaxWordNum(t *testing.T) {
	cfg := newTestConfig(t, fixture{
		words:    []string{"北", "北京", "北京市"},
		wordTags: `{"北": "LOC", "北京": "LOC", "北京市": "LOC"}`,
		records:  []string{`{"text": ["北","京","市"], "label": ["B-LOC","I-LOC","I-LOC"]}`},
	})
	cfg.MaxSeqLength = 32
	cfg.MaxWordNum = 2
	res, examples := encodeTrain(t, cfg)
	ex := examples[0]

	row := ex.Rows(ex.MatchedWordIDs)[1]
	assert.Equal(t, []int32{int32(res.Words.TokenToID("北")), int32(res.Words.TokenToID("北京"))}, row,
		"the two shortest matches are kept")
	assert.Equal(t, []int32{1, 1}, ex.Rows(ex.MatchedWordMask)[1])

	// Span prompt (北京市是地点。) and one prompt per kept match (北是地点。, 北京是地点。).
	assert.Equal(t, 3, ex.NumPrompts)
	assert.Equal(t, 5+7+5+6, ex.Length)
}

func TestEncodeDropsOverflowingPrompts(t *testing.T) {
	cfg := newTestConfig(t, fixture{
		words:    []string{"北京", "京"},
		wordTags: `{"北京": "LOC", "京": "LOC"}`,
		records:  []string{`{"text": ["张","三","北","京"], "label": ["B-PER","I-PER","B-LOC","I-LOC"]}`},
	})
	_, examples := encodeTrain(t, cfg)
	ex := examples[0]

	// Wrapped text has 6 tokens; 张三是人。 fits (11), 北京是地点。 doesn't (17), 京是地点。 still fits (16).
	assert.Equal(t, 2, ex.NumPrompts)
	assert.Equal(t, 16, ex.Length)
	var want []int32
	for _, token := range []string{"[CLS]", "张", "三", "北", "京", "[SEP]", "张", "三", "是", "人", "。", "京", "是", "地", "点", "。"} {
		want = append(want, tokenID(token))
	}
	assert.Equal(t, want, ex.InputIDs)

	// No room for any prompt.
	cfg.MaxSeqLength = 8
	_, examples = encodeTrain(t, cfg)
	ex = examples[0]
	assert.Equal(t, 0, ex.NumPrompts)
	assert.Equal(t, 6, ex.Length)
	assert.Equal(t, []int32{0, 0}, ex.InputIDs[6:])
}

func TestEncodeTruncates(t *testing.T) {
	cfg := newTestConfig(t, fixture{
		words:    []string{"北京"},
		wordTags: `{"北京": "LOC"}`,
		records:  []string{beijingRecord},
	})
	cfg.MaxSeqLength = 4
	_, examples := encodeTrain(t, cfg)
	ex := examples[0]
	assert.Equal(t, 4, ex.Length)
	assert.Equal(t, 0, ex.NumPrompts)
	assert.Equal(t, []int32{tokenID("[CLS]"), tokenID("北"), tokenID("京"), tokenID("[SEP]")}, ex.InputIDs)
	assert.Equal(t, []int32{0, 1, 2, 0}, ex.LabelIDs)
}

func TestEncodeUnknownTokens(t *testing.T) {
	cfg := newTestConfig(t, fixture{
		words:    []string{"北京"},
		wordTags: `{"北京": "LOC"}`,
		records:  []string{`{"text": ["好"], "label": ["O"]}`},
	})
	_, examples := encodeTrain(t, cfg)
	assert.Equal(t, []int32{tokenID("[CLS]"), 1, tokenID("[SEP]")}, examples[0].InputIDs[:3])
}

func TestPredictionUnsupported(t *testing.T) {
	cfg := newTestConfig(t, fixture{
		words:    []string{"北京"},
		wordTags: `{"北京": "LOC"}`,
		records:  []string{beijingRecord},
	})
	cfg.DoPredict = true
	res, err := Prepare(cfg, newFakeTokenizer())
	require.NoError(t, err)
	enc := New(cfg, res)
	assert.False(t, enc.RecordOptions().RequireLabel)
	_, err = LoadCorpus(context.Background(), cfg.TrainFile, enc, CorpusOptions{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnsupported))
	assert.False(t, errors.Is(err, ErrShapeInvariant))
}

func TestMissingLabel(t *testing.T) {
	cfg := newTestConfig(t, fixture{
		words:    []string{"北京"},
		wordTags: `{"北京": "LOC"}`,
		records:  []string{beijingRecord, `{"text": ["北","京"]}`},
	})
	res, err := Prepare(cfg, newFakeTokenizer())
	require.NoError(t, err)
	_, err = LoadCorpus(context.Background(), cfg.TrainFile, New(cfg, res), CorpusOptions{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, records.ErrMissingField))
	assert.Contains(t, err.Error(), `"北"`)
}

func TestExampleValidate(t *testing.T) {
	ex := &Example{SeqLen: 2, WordNum: 1,
		InputIDs: make([]int32, 2), TokenTypeIDs: make([]int32, 2), AttentionMask: make([]int32, 2),
		LabelIDs: make([]int32, 2), Targets: make([]int32, 2),
		MatchedWordIDs: make([]int32, 2), MatchedWordMask: make([]int32, 2), MatchedWordLabelIDs: make([]int32, 2),
	}
	require.NoError(t, ex.validate())
	ex.Targets = ex.Targets[:1]
	assert.True(t, errors.Is(ex.validate(), ErrShapeInvariant))
	ex.Targets = make([]int32, 2)
	ex.MatchedWordMask = nil
	assert.True(t, errors.Is(ex.validate(), ErrShapeInvariant))
}
