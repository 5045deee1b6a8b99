package cachefile

import (
	"bytes"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/pkg/errors"
	"google.golang.org/protobuf/encoding/protowire"
)

// FormatVersion of the cache file framing. Files written with another version are rejected with ErrVersion.
const FormatVersion = 1

var magic = []byte("LXPC")

var (
	// ErrVersion is returned when a cache file was written with an incompatible format version.
	ErrVersion = errors.New("incompatible cache format version")

	// ErrKind is returned when a cache file holds a different kind of artifact than requested.
	ErrKind = errors.New("unexpected cache artifact kind")
)

// Header fields, protowire encoded.
const (
	headerVersionField protowire.Number = 1
	headerKindField    protowire.Number = 2
)

// Encode writes payload to w, framed with the magic bytes, a header with FormatVersion and kind,
// and the zstd compressed payload.
func Encode(w io.Writer, kind string, payload []byte) error {
	var header []byte
	header = protowire.AppendTag(header, headerVersionField, protowire.VarintType)
	header = protowire.AppendVarint(header, FormatVersion)
	header = protowire.AppendTag(header, headerKindField, protowire.BytesType)
	header = protowire.AppendString(header, kind)

	buf := make([]byte, 0, len(magic)+protowire.SizeVarint(uint64(len(header)))+len(header))
	buf = append(buf, magic...)
	buf = protowire.AppendVarint(buf, uint64(len(header)))
	buf = append(buf, header...)

	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return errors.Wrap(err, "failed to create zstd encoder")
	}
	buf = enc.EncodeAll(payload, buf)
	if err := enc.Close(); err != nil {
		return errors.Wrap(err, "failed to close zstd encoder")
	}

	if _, err := w.Write(buf); err != nil {
		return errors.Wrapf(err, "failed to write %s cache", kind)
	}
	return nil
}

// Decode reads a payload written by Encode, checking the format version and the kind.
func Decode(r io.Reader, kind string) ([]byte, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read %s cache", kind)
	}
	if !bytes.HasPrefix(data, magic) {
		return nil, errors.Errorf("not a cache file: missing magic bytes %q", magic)
	}
	data = data[len(magic):]

	headerLen, n := protowire.ConsumeVarint(data)
	if n < 0 || uint64(len(data)-n) < headerLen {
		return nil, errors.New("truncated cache header")
	}
	header := data[n : n+int(headerLen)]
	body := data[n+int(headerLen):]

	var (
		version  uint64
		fileKind string
	)
	for len(header) > 0 {
		num, typ, n := protowire.ConsumeTag(header)
		if n < 0 {
			return nil, errors.Wrap(protowire.ParseError(n), "invalid cache header")
		}
		header = header[n:]
		switch {
		case num == headerVersionField && typ == protowire.VarintType:
			version, n = protowire.ConsumeVarint(header)
		case num == headerKindField && typ == protowire.BytesType:
			fileKind, n = protowire.ConsumeString(header)
		default:
			n = protowire.ConsumeFieldValue(num, typ, header)
		}
		if n < 0 {
			return nil, errors.Wrap(protowire.ParseError(n), "invalid cache header")
		}
		header = header[n:]
	}
	if version != FormatVersion {
		return nil, errors.Wrapf(ErrVersion, "cache has version %d, want %d", version, FormatVersion)
	}
	if fileKind != kind {
		return nil, errors.Wrapf(ErrKind, "cache holds %q, want %q", fileKind, kind)
	}

	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create zstd decoder")
	}
	defer dec.Close()
	payload, err := dec.DecodeAll(body, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to decompress %s cache", kind)
	}
	return payload, nil
}
