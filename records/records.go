// Package records reads labeled training records: an ordered sequence of characters ("text") and an
// equal-length sequence of tag strings ("label").
//
// Two file formats are supported, selected by the file extension: JSON lines (one JSON object per
// line, the default) and Parquet (".parquet", with "text" and "label" string-list columns).
//
// Example:
//
//	for rec, err := range records.Iter("train.json", records.Options{RequireLabel: true}) {
//		if err != nil {
//			return err
//		}
//		fmt.Println(rec.Text, rec.Label)
//	}
package records

import (
	"iter"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

var (
	// ErrMissingField is returned when a record lacks the "text" key, or the "label" key when labels are required.
	ErrMissingField = errors.New("record is missing a required field")

	// ErrLengthMismatch is returned when a record's text and label have different lengths.
	ErrLengthMismatch = errors.New("record text and label lengths differ")
)

// Record is one labeled example.
type Record struct {
	Text  []string
	Label []string

	// Source file and 1-based position (line for JSON lines, row for Parquet) of the record.
	Source   string
	Position int
}

// Options configures how records are read and validated.
type Options struct {
	// RequireLabel makes the absence of the "label" key an error, and enforces len(Text) == len(Label).
	RequireLabel bool
}

// Format of a records file.
type Format int

const (
	FormatJSONLines Format = iota
	FormatParquet
)

// String implements fmt.Stringer.
func (f Format) String() string {
	switch f {
	case FormatJSONLines:
		return "jsonl"
	case FormatParquet:
		return "parquet"
	default:
		return "unknown"
	}
}

// DetectFormat returns the format for the given file path, based on its extension.
func DetectFormat(path string) Format {
	if strings.EqualFold(filepath.Ext(path), ".parquet") {
		return FormatParquet
	}
	return FormatJSONLines
}

// Source is a file of records in one of the supported formats.
type Source interface {
	// Path of the underlying file.
	Path() string

	// Records iterates over the records of the file, in file order.
	// Iteration stops at the first error, which is yielded with a nil record.
	Records(opts Options) iter.Seq2[*Record, error]
}

// Open returns the Source for the given path, selected by DetectFormat.
// The file is only opened when iterating.
func Open(path string) Source {
	switch DetectFormat(path) {
	case FormatParquet:
		return &parquetSource{path: path}
	default:
		return &jsonLinesSource{path: path}
	}
}

// Iter is a shortcut for Open(path).Records(opts).
func Iter(path string, opts Options) iter.Seq2[*Record, error] {
	return Open(path).Records(opts)
}

// ReadAll reads all the records of the file at path.
func ReadAll(path string, opts Options) ([]*Record, error) {
	var all []*Record
	for rec, err := range Iter(path, opts) {
		if err != nil {
			return nil, err
		}
		all = append(all, rec)
	}
	return all, nil
}

// validate checks the record invariants, the content is used to describe the offending record.
func (r *Record) validate(hasText, hasLabel bool, opts Options, content string) error {
	if !hasText {
		return errors.Wrapf(ErrMissingField, "%s:%d: key \"text\" not in record %s", r.Source, r.Position, content)
	}
	if !opts.RequireLabel {
		return nil
	}
	if !hasLabel {
		return errors.Wrapf(ErrMissingField, "%s:%d: key \"label\" not in record %s", r.Source, r.Position, content)
	}
	if len(r.Text) != len(r.Label) {
		return errors.Wrapf(ErrLengthMismatch, "%s:%d: text has %d elements, label has %d",
			r.Source, r.Position, len(r.Text), len(r.Label))
	}
	return nil
}
