package vocab

import (
	"bufio"
	"encoding/json"
	"io"
	"os"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// LoadWordTags reads word-with-tag files: a JSON object (or a sequence of JSON objects, e.g. one per line)
// mapping each word to a tag string or a list of tag strings:
//
//	{"北京": ["LOC"], "腾讯": "ORG"}
//	{"你好": ["O"]}
//
// Words are returned in file order. Reading stops after maxScan words (maxScan <= 0 means no limit).
func LoadWordTags(paths []string, maxScan int) ([]WordTags, error) {
	var entries []WordTags
	for _, path := range paths {
		if maxScan > 0 && len(entries) >= maxScan {
			break
		}
		var err error
		entries, err = loadWordTagsFile(path, entries, maxScan)
		if err != nil {
			return nil, err
		}
	}
	klog.V(1).Infof("Loaded %d tagged words from %v", len(entries), paths)
	return entries, nil
}

func loadWordTagsFile(path string, entries []WordTags, maxScan int) ([]WordTags, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open word-with-tag file %q", path)
	}
	defer func() { _ = f.Close() }()

	// Objects are read token by token to preserve the order of the keys.
	dec := json.NewDecoder(bufio.NewReader(f))
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			return entries, nil
		}
		if err != nil {
			return nil, errors.Wrapf(err, "failed to parse word-with-tag file %q", path)
		}
		if delim, ok := tok.(json.Delim); !ok || delim != '{' {
			return nil, errors.Errorf("word-with-tag file %q: expected a JSON object, got %v at offset %d",
				path, tok, dec.InputOffset())
		}
		for dec.More() {
			keyTok, err := dec.Token()
			if err != nil {
				return nil, errors.Wrapf(err, "failed to parse word-with-tag file %q", path)
			}
			word, _ := keyTok.(string)
			var raw json.RawMessage
			if err := dec.Decode(&raw); err != nil {
				return nil, errors.Wrapf(err, "word-with-tag file %q: failed to parse tags of %q", path, word)
			}
			tags, err := parseTags(raw)
			if err != nil {
				return nil, errors.WithMessagef(err, "word-with-tag file %q: word %q", path, word)
			}
			entries = append(entries, WordTags{Word: word, Tags: tags})
			if maxScan > 0 && len(entries) >= maxScan {
				return entries, nil
			}
		}
		if _, err := dec.Token(); err != nil {
			return nil, errors.Wrapf(err, "failed to parse word-with-tag file %q", path)
		}
	}
}

// parseTags accepts either a single tag string or a list of them.
func parseTags(raw json.RawMessage) ([]string, error) {
	var single string
	if err := json.Unmarshal(raw, &single); err == nil {
		return []string{single}, nil
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, errors.Errorf("tags must be a string or a list of strings, got %s", raw)
	}
	return list, nil
}
