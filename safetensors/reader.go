package safetensors

import (
	"bytes"
	"iter"
	"os"
	"slices"

	"github.com/edsrzf/mmap-go"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/pkg/errors"
)

// Reader provides access to the tensors of a memory-mapped .safetensors file.
type Reader struct {
	Header *Header

	path       string
	file       *os.File
	data       mmap.MMap
	dataOffset int64
}

// Open memory-maps the .safetensors file and parses its header. Close it when done.
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open %s", path)
	}
	data, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		_ = f.Close()
		return nil, errors.Wrapf(err, "failed to mmap %s", path)
	}
	r := &Reader{path: path, file: f, data: data}
	r.Header, r.dataOffset, err = ParseHeader(bytes.NewReader(data))
	if err != nil {
		_ = r.Close()
		return nil, errors.WithMessagef(err, "safetensors file %s", path)
	}
	for name, meta := range r.Header.Tensors {
		if r.dataOffset+meta.DataOffsets[1] > int64(len(data)) {
			_ = r.Close()
			return nil, errors.Errorf("safetensors file %s: tensor %s data beyond the end of the file", path, name)
		}
	}
	return r, nil
}

// Close unmaps and closes the underlying file.
func (r *Reader) Close() error {
	err := r.data.Unmap()
	if closeErr := r.file.Close(); err == nil {
		err = closeErr
	}
	return err
}

// Names returns the tensor names sorted by their offset in the file.
func (r *Reader) Names() []string {
	names := make([]string, 0, len(r.Header.Tensors))
	for name := range r.Header.Tensors {
		names = append(names, name)
	}
	slices.SortFunc(names, func(a, b string) int {
		offsetA, offsetB := r.Header.Tensors[a].DataOffsets[0], r.Header.Tensors[b].DataOffsets[0]
		switch {
		case offsetA < offsetB:
			return -1
		case offsetA > offsetB:
			return 1
		default:
			return 0
		}
	})
	return names
}

// ReadTensor reads a tensor by name, copying it from the memory-mapped file.
func (r *Reader) ReadTensor(tensorName string) (*tensors.Tensor, error) {
	meta, ok := r.Header.Tensors[tensorName]
	if !ok {
		return nil, errors.Errorf("tensor %s not found in %s", tensorName, r.path)
	}
	dtype, err := dtypeToGoMLX(meta.Dtype)
	if err != nil {
		return nil, errors.WithMessagef(err, "tensor %s", tensorName)
	}
	t := tensors.FromShape(shapes.Make(dtype, meta.Shape...))
	src := r.data[r.dataOffset+meta.DataOffsets[0] : r.dataOffset+meta.DataOffsets[1]]
	var readErr error
	t.MutableBytes(func(data []byte) {
		if len(data) != len(src) {
			readErr = errors.Errorf("tensor %s with shape %s expected %d bytes, but file has %d bytes",
				tensorName, t.Shape(), len(data), len(src))
			return
		}
		copy(data, src)
	})
	if readErr != nil {
		return nil, readErr
	}
	return t, nil
}

// All iterates over all tensors, in file order.
func (r *Reader) All() iter.Seq2[NamedTensor, error] {
	return func(yield func(NamedTensor, error) bool) {
		for _, name := range r.Names() {
			t, err := r.ReadTensor(name)
			if err != nil {
				yield(NamedTensor{}, err)
				return
			}
			if !yield(NamedTensor{Name: name, Tensor: t}, nil) {
				return
			}
		}
	}
}
