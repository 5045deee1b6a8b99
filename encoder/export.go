package encoder

import (
	"strconv"

	"github.com/gomlx/lexprompt/safetensors"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Tensor names used by WriteSafetensors.
const (
	InputIDsName            = "input_ids"
	TokenTypeIDsName        = "token_type_ids"
	AttentionMaskName       = "attention_mask"
	LabelIDsName            = "label_ids"
	TargetsName             = "labels"
	MatchedWordIDsName      = "matched_word_ids"
	MatchedWordMaskName     = "matched_word_mask"
	MatchedWordLabelIDsName = "matched_word_label_ids"
)

// WriteSafetensors saves all the examples of the corpus, in permutation order, to a .safetensors file,
// as int32 tensors shaped [Len, SeqLen] and [Len, SeqLen, WordNum].
func (c *Corpus) WriteSafetensors(path string) error {
	if c.Len() == 0 {
		return errors.Errorf("corpus %q has no examples to export", c.path)
	}
	positions := make([]int, c.Len())
	for ii := range positions {
		positions[ii] = ii
	}
	b, err := c.Batch(positions)
	if err != nil {
		return err
	}
	named := []safetensors.NamedTensor{
		{Name: InputIDsName, Tensor: b.InputIDs},
		{Name: TokenTypeIDsName, Tensor: b.TokenTypeIDs},
		{Name: AttentionMaskName, Tensor: b.AttentionMask},
		{Name: LabelIDsName, Tensor: b.LabelIDs},
		{Name: TargetsName, Tensor: b.Targets},
		{Name: MatchedWordIDsName, Tensor: b.MatchedWordIDs},
		{Name: MatchedWordMaskName, Tensor: b.MatchedWordMask},
		{Name: MatchedWordLabelIDsName, Tensor: b.MatchedWordLabelIDs},
	}
	metadata := map[string]string{
		"source":         c.path,
		"examples":       strconv.Itoa(c.Len()),
		"max_seq_length": strconv.Itoa(c.seqLen),
		"max_word_num":   strconv.Itoa(c.wordNum),
	}
	if err := safetensors.Write(path, named, metadata); err != nil {
		return errors.WithMessagef(err, "failed to export corpus %q", c.path)
	}
	klog.V(1).Infof("exported %d examples from %q to %q", c.Len(), c.path, path)
	return nil
}
