package safetensors

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"io"

	"github.com/gomlx/lexprompt/internal/cachefile"
	"github.com/pkg/errors"
)

// Write saves the tensors, in the given order, and the optional metadata to a .safetensors file.
// The file is written atomically: readers never see a partially written file.
func Write(path string, named []NamedTensor, metadata map[string]string) error {
	header := make(map[string]any, len(named)+1)
	if len(metadata) > 0 {
		header[metadataKey] = metadata
	}
	var offset int64
	for _, nt := range named {
		if _, found := header[nt.Name]; found || nt.Name == "" {
			return errors.Errorf("invalid or duplicate tensor name %q", nt.Name)
		}
		shape := nt.Tensor.Shape()
		dtype, err := dtypeToSafetensors(shape.DType)
		if err != nil {
			return errors.WithMessagef(err, "tensor %q", nt.Name)
		}
		size := int64(shape.Size()) * int64(shape.DType.Size())
		header[nt.Name] = &TensorMetadata{
			Dtype:       dtype,
			Shape:       shape.Dimensions,
			DataOffsets: [2]int64{offset, offset + size},
		}
		offset += size
	}
	headerBytes, err := json.Marshal(header)
	if err != nil {
		return errors.Wrap(err, "failed to encode safetensors header")
	}
	if pad := (8 - len(headerBytes)%8) % 8; pad > 0 {
		headerBytes = append(headerBytes, bytes.Repeat([]byte{' '}, pad)...)
	}

	return cachefile.WriteAtomic(path, func(w io.Writer) error {
		if err := binary.Write(w, binary.LittleEndian, uint64(len(headerBytes))); err != nil {
			return err
		}
		if _, err := w.Write(headerBytes); err != nil {
			return err
		}
		for _, nt := range named {
			var writeErr error
			// Only reads the data.
			nt.Tensor.MutableBytes(func(data []byte) {
				_, writeErr = w.Write(data)
			})
			if writeErr != nil {
				return errors.Wrapf(writeErr, "failed to write tensor %q", nt.Name)
			}
		}
		return nil
	})
}
