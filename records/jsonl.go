package records

import (
	"bufio"
	"bytes"
	"encoding/json"
	"iter"
	"os"

	"github.com/pkg/errors"
)

// MaxLineSize is the largest JSON line accepted in a records file.
var MaxLineSize = 64 * 1024 * 1024

type jsonLinesSource struct {
	path string
}

// jsonRecord uses pointers to tell absent keys from empty lists.
type jsonRecord struct {
	Text  *[]string `json:"text"`
	Label *[]string `json:"label"`
}

func (s *jsonLinesSource) Path() string { return s.path }

func (s *jsonLinesSource) Records(opts Options) iter.Seq2[*Record, error] {
	return func(yield func(*Record, error) bool) {
		f, err := os.Open(s.path)
		if err != nil {
			yield(nil, errors.Wrapf(err, "failed to open records file %q", s.path))
			return
		}
		defer func() { _ = f.Close() }()

		scanner := bufio.NewScanner(f)
		scanner.Buffer(make([]byte, 0, 64*1024), MaxLineSize)
		lineNum := 0
		for scanner.Scan() {
			lineNum++
			line := bytes.TrimSpace(scanner.Bytes())
			if len(line) == 0 {
				continue
			}
			var raw jsonRecord
			if err := json.Unmarshal(line, &raw); err != nil {
				yield(nil, errors.Wrapf(err, "%s:%d: failed to parse record", s.path, lineNum))
				return
			}
			rec := &Record{Source: s.path, Position: lineNum}
			if raw.Text != nil {
				rec.Text = *raw.Text
			}
			if raw.Label != nil {
				rec.Label = *raw.Label
			}
			if err := rec.validate(raw.Text != nil, raw.Label != nil, opts, string(line)); err != nil {
				yield(nil, err)
				return
			}
			if !yield(rec, nil) {
				return
			}
		}
		if err := scanner.Err(); err != nil {
			yield(nil, errors.Wrapf(err, "failed reading records file %q", s.path))
		}
	}
}
