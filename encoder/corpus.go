package encoder

import (
	"context"
	"iter"
	"math/rand/v2"

	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/lexprompt/config"
	"github.com/gomlx/lexprompt/records"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
	"k8s.io/klog/v2"
)

// CorpusOptions configures LoadCorpus.
type CorpusOptions struct {
	// Shuffle the order of the examples, with a permutation generated from Seed.
	Shuffle bool
	Seed    int64

	// Parallelism is the number of records encoded concurrently. Values <= 1 encode sequentially.
	Parallelism int
}

// Corpus holds the encoded examples of one records file, in file order, accessed through an index
// permutation (identity if not shuffled).
type Corpus struct {
	path            string
	seqLen, wordNum int
	examples        []*Example
	perm            []int
}

// LoadCorpus reads all the records of the file at path and encodes them with enc.
//
// Any record failing to read or encode fails the whole load, and nothing is retried.
// The encoded examples are in file order regardless of opts.Parallelism.
func LoadCorpus(ctx context.Context, path string, enc Encoder, opts CorpusOptions) (*Corpus, error) {
	recs, err := records.ReadAll(path, enc.RecordOptions())
	if err != nil {
		return nil, err
	}
	c := &Corpus{
		path:     path,
		seqLen:   enc.SeqLen(),
		wordNum:  enc.WordNum(),
		examples: make([]*Example, len(recs)),
	}

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(max(opts.Parallelism, 1))
	for ii, rec := range recs {
		if gCtx.Err() != nil {
			break
		}
		g.Go(func() error {
			ex, err := enc.Encode(rec)
			if err != nil {
				return err
			}
			c.examples[ii] = ex
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, errors.WithMessagef(err, "failed to encode %q", path)
	}
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrapf(err, "loading %q interrupted", path)
	}

	if opts.Shuffle {
		rng := rand.New(rand.NewPCG(uint64(opts.Seed), uint64(opts.Seed)))
		c.perm = rng.Perm(len(c.examples))
	} else {
		c.perm = make([]int, len(c.examples))
		for ii := range c.perm {
			c.perm[ii] = ii
		}
	}
	klog.V(1).Infof("encoded %d examples from %q (shuffle=%v)", len(c.examples), path, opts.Shuffle)
	return c, nil
}

// Path of the records file of the corpus.
func (c *Corpus) Path() string { return c.path }

// Len returns the number of examples.
func (c *Corpus) Len() int { return len(c.examples) }

// At returns the example at position i of the permutation. It panics if i is out of range.
func (c *Corpus) At(i int) *Example {
	return c.examples[c.perm[i]]
}

// All iterates over the examples in permutation order.
func (c *Corpus) All() iter.Seq2[int, *Example] {
	return func(yield func(int, *Example) bool) {
		for ii := range c.perm {
			if !yield(ii, c.At(ii)) {
				return
			}
		}
	}
}

// Batch of examples as int32 tensors, with the batch as the leading axis.
type Batch struct {
	Size int

	// Shaped [Size, SeqLen].
	InputIDs, TokenTypeIDs, AttentionMask, LabelIDs, Targets *tensors.Tensor

	// Shaped [Size, SeqLen, WordNum].
	MatchedWordIDs, MatchedWordMask, MatchedWordLabelIDs *tensors.Tensor
}

// Batch returns the examples at the given positions (of the permutation) as a Batch.
func (c *Corpus) Batch(positions []int) (*Batch, error) {
	if len(positions) == 0 {
		return nil, errors.New("empty batch")
	}
	for _, pos := range positions {
		if pos < 0 || pos >= c.Len() {
			return nil, errors.Errorf("batch position %d out of range for corpus %q with %d examples", pos, c.path, c.Len())
		}
	}
	size := len(positions)
	gather := func(field func(*Example) []int32, width int) []int32 {
		flat := make([]int32, 0, size*width)
		for _, pos := range positions {
			flat = append(flat, field(c.At(pos))...)
		}
		return flat
	}
	seq := func(field func(*Example) []int32) *tensors.Tensor {
		return tensors.FromFlatDataAndDimensions(gather(field, c.seqLen), size, c.seqLen)
	}
	words := func(field func(*Example) []int32) *tensors.Tensor {
		return tensors.FromFlatDataAndDimensions(gather(field, c.seqLen*c.wordNum), size, c.seqLen, c.wordNum)
	}
	return &Batch{
		Size:                size,
		InputIDs:            seq(func(e *Example) []int32 { return e.InputIDs }),
		TokenTypeIDs:        seq(func(e *Example) []int32 { return e.TokenTypeIDs }),
		AttentionMask:       seq(func(e *Example) []int32 { return e.AttentionMask }),
		LabelIDs:            seq(func(e *Example) []int32 { return e.LabelIDs }),
		Targets:             seq(func(e *Example) []int32 { return e.Targets }),
		MatchedWordIDs:      words(func(e *Example) []int32 { return e.MatchedWordIDs }),
		MatchedWordMask:     words(func(e *Example) []int32 { return e.MatchedWordMask }),
		MatchedWordLabelIDs: words(func(e *Example) []int32 { return e.MatchedWordLabelIDs }),
	}, nil
}

// Datasets holds the corpora selected by the configuration.
type Datasets struct {
	// Train and Eval are loaded unless use_test is set; Eval only if output_eval is set.
	Train, Eval *Corpus

	// Test is loaded only if use_test is set.
	Test *Corpus
}

// LoadDatasets loads the corpora selected by cfg (use_test, output_eval), encoded with enc.
// Only the training corpus is shuffled, if do_shuffle is set.
func LoadDatasets(ctx context.Context, cfg *config.Config, enc Encoder) (*Datasets, error) {
	opts := CorpusOptions{Seed: cfg.ShuffleSeed, Parallelism: cfg.Parallelism}
	ds := &Datasets{}
	var err error
	if cfg.UseTest {
		ds.Test, err = LoadCorpus(ctx, cfg.TestFile, enc, opts)
		if err != nil {
			return nil, err
		}
		return ds, nil
	}
	trainOpts := opts
	trainOpts.Shuffle = cfg.DoShuffle
	ds.Train, err = LoadCorpus(ctx, cfg.TrainFile, enc, trainOpts)
	if err != nil {
		return nil, err
	}
	if cfg.ShouldOutputEval() {
		ds.Eval, err = LoadCorpus(ctx, cfg.EvalFile, enc, opts)
		if err != nil {
			return nil, err
		}
	}
	return ds, nil
}
