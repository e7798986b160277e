package vector

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"

	"github.com/hyperjump/dermamatch/internal/models"
)

// indexHeaderSize is the dimension and count prefix of an index file.
const indexHeaderSize = 8

// writeIndexFile persists vectors to path. Directory is created if needed. Format: dimension (4), n (4),
// then per vector: idLen (4), id bytes, vector (dimension*4 bytes), all little-endian.
func writeIndexFile(path string, dimensions int, ids []string, vectorAt func(i int) []float32) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create index dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create index file: %w", err)
	}
	defer f.Close()
	w := bufio.NewWriter(f)
	if err := binary.Write(w, binary.LittleEndian, uint32(dimensions)); err != nil {
		return fmt.Errorf("write dimensions: %w", err)
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(len(ids))); err != nil {
		return fmt.Errorf("write count: %w", err)
	}
	for i, id := range ids {
		idBytes := []byte(id)
		if err := binary.Write(w, binary.LittleEndian, uint32(len(idBytes))); err != nil {
			return fmt.Errorf("write id len: %w", err)
		}
		if _, err := w.Write(idBytes); err != nil {
			return fmt.Errorf("write id: %w", err)
		}
		if _, err := w.Write(Float32SliceToBytes(vectorAt(i))); err != nil {
			return fmt.Errorf("write vector: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("flush index file: %w", err)
	}
	return nil
}

// readIndexFile reads an index file written by writeIndexFile. A missing file yields (nil, nil, nil).
func readIndexFile(path string, dimensions int) ([]string, [][]float32, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, nil
		}
		return nil, nil, fmt.Errorf("open index file: %w", err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return nil, nil, fmt.Errorf("stat index file: %w", err)
	}
	r := bufio.NewReader(f)
	var dim, n uint32
	if err := binary.Read(r, binary.LittleEndian, &dim); err != nil {
		return nil, nil, fmt.Errorf("read dimensions: %w", err)
	}
	if int(dim) != dimensions {
		return nil, nil, fmt.Errorf("%w: file has %d, index expects %d", models.ErrDimensionMismatch, dim, dimensions)
	}
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return nil, nil, fmt.Errorf("read count: %w", err)
	}
	// remaining bounds every length read from the file before it is allocated.
	remaining := info.Size() - indexHeaderSize
	vecBytes := int64(dimensions) * 4
	if int64(n) > remaining/(4+vecBytes) {
		return nil, nil, fmt.Errorf("corrupt index file: %d vectors do not fit in %d bytes", n, remaining)
	}
	ids := make([]string, 0, n)
	vectors := make([][]float32, 0, n)
	buf := make([]byte, vecBytes)
	for i := uint32(0); i < n; i++ {
		var idLen uint32
		if err := binary.Read(r, binary.LittleEndian, &idLen); err != nil {
			return nil, nil, fmt.Errorf("read id len: %w", err)
		}
		remaining -= 4
		if int64(idLen) > remaining-vecBytes {
			return nil, nil, fmt.Errorf("corrupt index file: id length %d exceeds remaining %d bytes", idLen, remaining)
		}
		idBytes := make([]byte, idLen)
		if _, err := io.ReadFull(r, idBytes); err != nil {
			return nil, nil, fmt.Errorf("read id: %w", err)
		}
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, nil, fmt.Errorf("read vector: %w", err)
		}
		remaining -= int64(idLen) + vecBytes
		ids = append(ids, string(idBytes))
		vectors = append(vectors, BytesToFloat32Slice(buf))
	}
	return ids, vectors, nil
}

// Float32SliceToBytes encodes s as little-endian IEEE-754 single precision.
func Float32SliceToBytes(s []float32) []byte {
	const size = 4
	out := make([]byte, len(s)*size)
	for i, v := range s {
		binary.LittleEndian.PutUint32(out[i*size:(i+1)*size], math.Float32bits(v))
	}
	return out
}

// BytesToFloat32Slice decodes a buffer produced by Float32SliceToBytes.
func BytesToFloat32Slice(b []byte) []float32 {
	const size = 4
	out := make([]float32, len(b)/size)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*size : (i+1)*size]))
	}
	return out
}

func dimensionError(got, want int) error {
	return fmt.Errorf("%w: got %d, expected %d", models.ErrDimensionMismatch, got, want)
}
