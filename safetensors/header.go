// Package safetensors writes and reads .safetensors files: the encoded corpora are exported in this
// format for the downstream model, and read back as GoMLX tensors.
//
// File layout:
//
//	[8 bytes: header size as little-endian u64]
//	[header_size bytes: JSON header, padded with spaces to a multiple of 8]
//	[remaining bytes: tensor data, little-endian]
package safetensors

import (
	"encoding/binary"
	"encoding/json"
	"io"
	"strings"

	"github.com/gomlx/gomlx/pkg/core/dtypes"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/pkg/errors"
)

// MaxHeaderSize is a sanity limit on the size of the JSON header.
const MaxHeaderSize = 100 * 1024 * 1024

const metadataKey = "__metadata__"

// Header represents the JSON header of a safetensors file.
type Header struct {
	Tensors  map[string]*TensorMetadata // Tensor name -> metadata
	Metadata map[string]string          // Optional __metadata__ field
}

// TensorMetadata represents metadata for a single tensor in a safetensors file.
type TensorMetadata struct {
	Name        string   `json:"-"`            // Tensor name (from map key)
	Dtype       string   `json:"dtype"`        // Data type: F32, F64, I32, I64, etc.
	Shape       []int    `json:"shape"`        // Tensor dimensions
	DataOffsets [2]int64 `json:"data_offsets"` // [start, end) byte offsets in the data section
}

// NamedTensor holds a tensor name and its GoMLX tensor.
type NamedTensor struct {
	Name   string
	Tensor *tensors.Tensor
}

// ParseHeader reads the header from the start of a safetensors file, and returns it along with the
// offset of the data section.
func ParseHeader(r io.Reader) (*Header, int64, error) {
	var headerSize uint64
	if err := binary.Read(r, binary.LittleEndian, &headerSize); err != nil {
		return nil, 0, errors.Wrap(err, "failed to read header size")
	}
	if headerSize > MaxHeaderSize {
		return nil, 0, errors.Errorf("header size too large: %d bytes", headerSize)
	}
	headerBytes := make([]byte, headerSize)
	if _, err := io.ReadFull(r, headerBytes); err != nil {
		return nil, 0, errors.Wrap(err, "failed to read header JSON")
	}

	var rawHeader map[string]json.RawMessage
	if err := json.Unmarshal(headerBytes, &rawHeader); err != nil {
		return nil, 0, errors.Wrap(err, "failed to parse header JSON")
	}
	header := &Header{
		Tensors:  make(map[string]*TensorMetadata, len(rawHeader)),
		Metadata: make(map[string]string),
	}
	for key, value := range rawHeader {
		if key == metadataKey {
			if err := json.Unmarshal(value, &header.Metadata); err != nil {
				return nil, 0, errors.Wrap(err, "failed to parse __metadata__")
			}
			continue
		}
		var tm TensorMetadata
		if err := json.Unmarshal(value, &tm); err != nil {
			return nil, 0, errors.Wrapf(err, "failed to parse tensor metadata for %s", key)
		}
		if tm.DataOffsets[0] < 0 || tm.DataOffsets[1] < tm.DataOffsets[0] {
			return nil, 0, errors.Errorf("tensor %s has invalid data offsets %v", key, tm.DataOffsets)
		}
		tm.Name = key
		header.Tensors[key] = &tm
	}
	return header, int64(8 + headerSize), nil
}

// dtypeNames maps the supported GoMLX dtypes to their safetensors names.
var dtypeNames = map[dtypes.DType]string{
	dtypes.Bool:    "BOOL",
	dtypes.Int8:    "I8",
	dtypes.Int16:   "I16",
	dtypes.Int32:   "I32",
	dtypes.Int64:   "I64",
	dtypes.Uint8:   "U8",
	dtypes.Float32: "F32",
	dtypes.Float64: "F64",
}

func dtypeToSafetensors(dtype dtypes.DType) (string, error) {
	name, found := dtypeNames[dtype]
	if !found {
		return "", errors.Errorf("dtype %s not supported", dtype)
	}
	return name, nil
}

func dtypeToGoMLX(stDtype string) (dtypes.DType, error) {
	for dtype, name := range dtypeNames {
		if strings.EqualFold(name, stDtype) {
			return dtype, nil
		}
	}
	return dtypes.InvalidDType, errors.Errorf("dtype %q not supported", stDtype)
}
