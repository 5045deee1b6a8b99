package vocab

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testEntries() []WordTags {
	return []WordTags{
		{Word: "北京", Tags: []string{"LOC"}},
		{Word: "腾讯", Tags: []string{"ORG", "company"}},
		{Word: "你好", Tags: []string{"O"}},
		{Word: "北京", Tags: []string{"government", "LOC"}},
		{Word: "无标签"},
	}
}

func TestWordIDs(t *testing.T) {
	v := NewWord(testEntries(), 5, "O")
	assert.Equal(t, 1+5+4, v.Len())
	assert.Equal(t, 4, v.NumWords())
	assert.Equal(t, PadID, v.TokenToID(PadToken))
	assert.Equal(t, PadToken, v.IDToToken(PadID))
	assert.Equal(t, 6, v.TokenToID("北京"), "words start after padding and unknown buckets")
	assert.Equal(t, 7, v.TokenToID("腾讯"))
	assert.Equal(t, UnknownToken(0), v.IDToToken(1))
	assert.Equal(t, "", v.IDToToken(-1))
	assert.Equal(t, "", v.IDToToken(v.Len()))

	for _, entry := range testEntries() {
		assert.Equal(t, entry.Word, v.IDToToken(v.TokenToID(entry.Word)))
	}
	words := []string{"腾讯", "北京", "你好"}
	assert.Equal(t, words, v.IDsToTokens(v.TokensToIDs(words)))
}

func TestWordTags(t *testing.T) {
	v := NewWord(testEntries(), 5, "O")
	assert.Equal(t, []string{"LOC", "government"}, v.Tags("北京"), "tags are merged in first-seen order")
	assert.Equal(t, []string{"ORG", "company"}, v.Tags("腾讯"))
	assert.Equal(t, []string{"O"}, v.Tags("无标签"))
	assert.Equal(t, []string{"O"}, v.Tags("不存在"), "unknown words get the default tag")
	assert.Equal(t, [][]string{{"LOC", "government"}, {"O"}}, v.TagsOf([]string{"北京", "不存在"}))
}

func TestWordUnknown(t *testing.T) {
	v := NewWord(testEntries(), 5, "O")
	for _, word := range []string{"不存在", "上海", "x", "", "<unk:0>", "组织"} {
		id := v.TokenToID(word)
		assert.True(t, v.IsUnknownID(id), "word %q got id %d", word, id)
		assert.Equal(t, id, v.TokenToID(word), "unknown words map to a stable id")
		assert.Equal(t, 1+int(UnknownHash(word)%5), id)
	}
	assert.False(t, v.IsUnknownID(v.TokenToID("北京")))
	assert.False(t, v.IsUnknownID(PadID))

	// FNV-1a 32 reference values.
	assert.Equal(t, uint32(0x811c9dc5), UnknownHash(""))
	assert.Equal(t, uint32(0xe40c292c), UnknownHash("a"))

	v = NewWord(nil, 0, "O")
	assert.Equal(t, 1, v.UnknownCount())
	assert.Equal(t, 1, v.TokenToID("anything"))
}

func TestWordRestrict(t *testing.T) {
	full := NewWord(testEntries(), 5, "O")
	restricted := full.Restrict([]string{"腾讯", "上海"}, 3)
	assert.Equal(t, 2, restricted.NumWords())
	assert.Equal(t, 4, restricted.TokenToID("腾讯"))
	assert.Equal(t, 5, restricted.TokenToID("上海"))
	assert.Equal(t, []string{"ORG", "company"}, restricted.Tags("腾讯"))
	assert.Equal(t, []string{"O"}, restricted.Tags("上海"))
	assert.True(t, restricted.IsUnknownID(restricted.TokenToID("北京")))
}

func TestWordCacheRoundTrip(t *testing.T) {
	v := NewWord(testEntries(), 5, "O")
	var buf bytes.Buffer
	require.NoError(t, v.Save(&buf))
	restored, err := LoadWord(&buf)
	require.NoError(t, err)

	assert.Equal(t, v.Len(), restored.Len())
	assert.Equal(t, v.UnknownCount(), restored.UnknownCount())
	assert.Equal(t, v.DefaultTag(), restored.DefaultTag())
	assert.Equal(t, v.Entries(), restored.Entries())
	for _, word := range []string{"北京", "腾讯", "你好", "无标签", "不存在", PadToken} {
		assert.Equal(t, v.TokenToID(word), restored.TokenToID(word), "word %q", word)
		assert.Equal(t, v.Tags(word), restored.Tags(word), "word %q", word)
	}

	var first, second bytes.Buffer
	require.NoError(t, v.Save(&first))
	require.NoError(t, restored.Save(&second))
	assert.Equal(t, first.Bytes(), second.Bytes())
}

func TestLoadWordTags(t *testing.T) {
	dir := t.TempDir()
	f1 := filepath.Join(dir, "tags1.json")
	require.NoError(t, os.WriteFile(f1, []byte(`{"北京": ["LOC"], "腾讯": "ORG"}
{"你好": ["O"]}
`), 0644))
	f2 := filepath.Join(dir, "tags2.json")
	require.NoError(t, os.WriteFile(f2, []byte(`{
  "上海": ["LOC", "scene"]
}`), 0644))

	entries, err := LoadWordTags([]string{f1, f2}, 0)
	require.NoError(t, err)
	assert.Equal(t, []WordTags{
		{Word: "北京", Tags: []string{"LOC"}},
		{Word: "腾讯", Tags: []string{"ORG"}},
		{Word: "你好", Tags: []string{"O"}},
		{Word: "上海", Tags: []string{"LOC", "scene"}},
	}, entries)

	entries, err = LoadWordTags([]string{f1, f2}, 2)
	require.NoError(t, err)
	assert.Len(t, entries, 2)

	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte(`{"北京": 3}`), 0644))
	_, err = LoadWordTags([]string{bad}, 0)
	assert.Error(t, err)

	require.NoError(t, os.WriteFile(bad, []byte(`["北京"]`), 0644))
	_, err = LoadWordTags([]string{bad}, 0)
	assert.Error(t, err)
}

func TestLoadOrBuildWord(t *testing.T) {
	dir := t.TempDir()
	tagFile := filepath.Join(dir, "tags.json")
	require.NoError(t, os.WriteFile(tagFile, []byte(`{"北京": ["LOC"], "腾讯": "ORG"}`), 0644))
	cachePath := filepath.Join(dir, "vocab.cache")

	built, err := LoadOrBuildWord(cachePath, []string{tagFile}, 0, 5, "O")
	require.NoError(t, err)
	require.FileExists(t, cachePath)

	require.NoError(t, os.Remove(tagFile))
	restored, err := LoadOrBuildWord(cachePath, []string{tagFile}, 0, 5, "O")
	require.NoError(t, err, "served from the cache even though the input is gone")
	assert.Equal(t, built.Entries(), restored.Entries())
}

func TestLabel(t *testing.T) {
	v, err := NewLabel([]string{"O", "B-LOC", "I-LOC", "", "B-ORG", "I-ORG", "B-LOC"}, "O")
	require.NoError(t, err)
	assert.Equal(t, 5, v.Len())
	assert.Equal(t, 0, v.DefaultID())
	assert.Equal(t, 1, v.TokenToID("B-LOC"))
	assert.Equal(t, []int{0, 1, 2, 0}, v.TokensToIDs([]string{"O", "B-LOC", "I-LOC", "B-PER"}),
		"tags outside the label space map to the default id")
	assert.Equal(t, []string{"B-ORG", "I-ORG", ""}, v.IDsToTokens([]int{3, 4, 9}))
	assert.True(t, v.Contains("I-ORG"))
	assert.False(t, v.Contains("B-PER"))

	_, err = NewLabel([]string{"B-LOC"}, "O")
	assert.Error(t, err)
}

func TestLoadLabelFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tags.txt")
	require.NoError(t, os.WriteFile(path, []byte("B-LOC\nI-LOC\nO\n"), 0644))
	v, err := LoadLabelFile(path, "O")
	require.NoError(t, err)
	assert.Equal(t, 2, v.DefaultID())
	assert.Equal(t, []string{"B-LOC", "I-LOC", "O"}, v.Tags())

	_, err = LoadLabelFile(path, "X")
	assert.Error(t, err)
	_, err = LoadLabelFile(filepath.Join(t.TempDir(), "missing.txt"), "O")
	assert.Error(t, err)
}

func TestLoadOrBuildWordStaleCache(t *testing.T) {
	dir := t.TempDir()
	tagFile := filepath.Join(dir, "tags.json")
	require.NoError(t, os.WriteFile(tagFile, []byte(`{"北京": ["LOC"], "无标签": []}`), 0644))
	cachePath := filepath.Join(dir, "vocab.cache")

	built, err := LoadOrBuildWord(cachePath, []string{tagFile}, 0, 5, "O")
	require.NoError(t, err)
	assert.Equal(t, []string{"O"}, built.Tags("无标签"))

	// Another default tag rebuilds the vocabulary, and overwrites the cache.
	rebuilt, err := LoadOrBuildWord(cachePath, []string{tagFile}, 0, 5, "NONE")
	require.NoError(t, err)
	assert.Equal(t, "NONE", rebuilt.DefaultTag())
	assert.Equal(t, []string{"NONE"}, rebuilt.Tags("无标签"))
	assert.Equal(t, []string{"NONE"}, rebuilt.Tags("上海"))

	require.NoError(t, os.Remove(tagFile))
	restored, err := LoadOrBuildWord(cachePath, []string{tagFile}, 0, 5, "NONE")
	require.NoError(t, err)
	assert.Equal(t, rebuilt.Entries(), restored.Entries())

	// A different number of unknown buckets can't be served from the cache either: the input is gone,
	// so the rebuild fails.
	_, err = LoadOrBuildWord(cachePath, []string{tagFile}, 0, 3, "NONE")
	assert.Error(t, err)
}
