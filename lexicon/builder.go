package lexicon

import (
	"bufio"
	"bytes"
	"os"
	"slices"

	"github.com/edsrzf/mmap-go"
	"github.com/gomlx/lexprompt/records"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// BuildFromWordFiles builds a Trie from word list files: one word per line, blank lines ignored.
//
// It stops after scanLimit words were read across all files (scanLimit <= 0 means no limit), which
// bounds memory and build time on very large dictionaries.
func BuildFromWordFiles(paths []string, scanLimit int) (*Trie, error) {
	t := New()
	scanned := 0
	for _, path := range paths {
		if scanLimit > 0 && scanned >= scanLimit {
			break
		}
		err := scanWordFile(path, func(word string) bool {
			t.Insert(word)
			scanned++
			return scanLimit <= 0 || scanned < scanLimit
		})
		if err != nil {
			return nil, err
		}
	}
	klog.V(1).Infof("Built lexicon tree with %d words (%d scanned) from %v", t.Len(), scanned, paths)
	return t, nil
}

// scanWordFile calls fn for each non-blank line of the file at path, with surrounding spaces trimmed,
// until fn returns false.
//
// The file is memory-mapped, dictionaries can be large.
func scanWordFile(path string, fn func(word string) bool) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "failed to open word file %q", path)
	}
	defer func() { _ = f.Close() }()
	info, err := f.Stat()
	if err != nil {
		return errors.Wrapf(err, "failed to stat word file %q", path)
	}
	if info.Size() == 0 {
		// Empty files can't be mapped.
		return nil
	}

	m, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		return errors.Wrapf(err, "failed to mmap word file %q", path)
	}
	defer func() {
		if err := m.Unmap(); err != nil {
			klog.Warningf("Failed to unmap word file %q: %v", path, err)
		}
	}()

	scanner := bufio.NewScanner(bytes.NewReader(m))
	scanner.Buffer(make([]byte, 0, 4096), 1024*1024)
	for scanner.Scan() {
		word := bytes.TrimSpace(scanner.Bytes())
		if len(word) == 0 {
			continue
		}
		if !fn(string(word)) {
			return nil
		}
	}
	if err := scanner.Err(); err != nil {
		return errors.Wrapf(err, "failed reading word file %q", path)
	}
	return nil
}

// CollectMatchedWords returns the set of dictionary words found (with MatchesAtEachPosition) in the text of
// every record of the given record files. Empty paths are skipped.
//
// It is used to restrict a large general dictionary to the words relevant to a corpus.
// The result is sorted, so it is deterministic.
func CollectMatchedWords(recordFiles []string, t *Trie) ([]string, error) {
	set := make(map[string]struct{})
	for _, path := range recordFiles {
		if path == "" {
			continue
		}
		count := 0
		for rec, err := range records.Iter(path, records.Options{}) {
			if err != nil {
				return nil, errors.WithMessagef(err, "while collecting matched words")
			}
			for _, words := range t.MatchesAtEachPosition(rec.Text, 0) {
				for _, word := range words {
					set[word] = struct{}{}
				}
			}
			count++
		}
		klog.V(1).Infof("Scanned %d records of %q for lexicon matches", count, path)
	}
	words := make([]string, 0, len(set))
	for word := range set {
		words = append(words, word)
	}
	slices.Sort(words)
	return words, nil
}
