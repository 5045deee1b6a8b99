package records

import (
	"fmt"
	"io"
	"iter"
	"os"

	"github.com/parquet-go/parquet-go"
	"github.com/pkg/errors"
)

// ParquetRecord is the row layout of Parquet records files.
type ParquetRecord struct {
	Text  []string `parquet:"text,list"`
	Label []string `parquet:"label,list"`
}

// parquetReadBatch is the number of rows read at a time.
const parquetReadBatch = 256

type parquetSource struct {
	path string
}

func (s *parquetSource) Path() string { return s.path }

func (s *parquetSource) Records(opts Options) iter.Seq2[*Record, error] {
	return func(yield func(*Record, error) bool) {
		f, err := os.Open(s.path)
		if err != nil {
			yield(nil, errors.Wrapf(err, "failed to open records file %q", s.path))
			return
		}
		defer func() { _ = f.Close() }()
		info, err := f.Stat()
		if err != nil {
			yield(nil, errors.Wrapf(err, "failed to stat records file %q", s.path))
			return
		}
		pf, err := parquet.OpenFile(f, info.Size())
		if err != nil {
			yield(nil, errors.Wrapf(err, "failed to open parquet file %q", s.path))
			return
		}
		var hasText, hasLabel bool
		for _, field := range pf.Schema().Fields() {
			switch field.Name() {
			case "text":
				hasText = true
			case "label":
				hasLabel = true
			}
		}
		if !hasText || (opts.RequireLabel && !hasLabel) {
			// Rows can't be decoded without the columns: report against the file schema.
			rec := &Record{Source: s.path, Position: 1}
			yield(nil, rec.validate(hasText, hasLabel, opts, fmt.Sprint(pf.Schema())))
			return
		}

		if hasLabel {
			readRows(f, func(row ParquetRecord) *Record {
				return &Record{Text: row.Text, Label: row.Label}
			}, s.path, hasText, hasLabel, opts, yield)
		} else {
			readRows(f, func(row parquetTextRecord) *Record {
				return &Record{Text: row.Text}
			}, s.path, hasText, hasLabel, opts, yield)
		}
	}
}

// parquetTextRecord is used for files without a "label" column.
type parquetTextRecord struct {
	Text []string `parquet:"text,list"`
}

// readRows reads all rows of type T from f, converting them to records and yielding them.
func readRows[T any](f io.ReaderAt, convert func(T) *Record, path string, hasText, hasLabel bool,
	opts Options, yield func(*Record, error) bool) {
	reader := parquet.NewGenericReader[T](f)
	defer func() { _ = reader.Close() }()
	rows := make([]T, parquetReadBatch)
	position := 0
	for {
		n, readErr := reader.Read(rows)
		for _, row := range rows[:n] {
			position++
			rec := convert(row)
			rec.Source, rec.Position = path, position
			if err := rec.validate(hasText, hasLabel, opts, fmt.Sprintf("%+v", row)); err != nil {
				yield(nil, err)
				return
			}
			if !yield(rec, nil) {
				return
			}
		}
		if readErr == io.EOF {
			return
		}
		if readErr != nil {
			yield(nil, errors.Wrapf(readErr, "failed reading parquet file %q", path))
			return
		}
	}
}

// WriteParquet writes records to path in the Parquet layout read by this package.
func WriteParquet(path string, recs []*Record) error {
	rows := make([]ParquetRecord, len(recs))
	for ii, rec := range recs {
		rows[ii] = ParquetRecord{Text: rec.Text, Label: rec.Label}
	}
	if err := parquet.WriteFile(path, rows); err != nil {
		return errors.Wrapf(err, "failed to write parquet file %q", path)
	}
	return nil
}
