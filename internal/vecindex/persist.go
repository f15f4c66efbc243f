package vecindex

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/amishk599/jobharvest/internal/model"
)

var indexMagic = [4]byte{'J', 'H', 'V', 'I'}

const indexVersion uint32 = 1

type indexHeader struct {
	Magic   [4]byte
	Version uint32
	Dim     uint32
	Count   uint32
}

// persist writes the index then the metadata, each to a temp file renamed
// into place. A crash between the two renames leaves a new index next to
// old metadata; Search drops rows that have no document.
func (ix *Index) persist() error {
	if err := writeAtomic(ix.paths.Index, func(w io.Writer) error {
		return writeIndex(w, ix.dim, ix.vectors)
	}); err != nil {
		return fmt.Errorf("write vector index: %w", err)
	}
	if err := writeAtomic(ix.paths.Metadata, func(w io.Writer) error {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		docs := ix.docs
		if docs == nil {
			docs = []model.IndexedDocument{}
		}
		return enc.Encode(docs)
	}); err != nil {
		return fmt.Errorf("write index metadata: %w", err)
	}
	return nil
}

func writeIndex(w io.Writer, dim int, vectors [][]float32) error {
	h := indexHeader{Magic: indexMagic, Version: indexVersion, Dim: uint32(dim), Count: uint32(len(vectors))}
	if err := binary.Write(w, binary.LittleEndian, h); err != nil {
		return err
	}
	for _, v := range vectors {
		if err := binary.Write(w, binary.LittleEndian, v); err != nil {
			return err
		}
	}
	return nil
}

func readIndex(path string) (int, [][]float32, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, nil, err
	}
	defer f.Close()
	r := bufio.NewReader(f)

	var h indexHeader
	if err := binary.Read(r, binary.LittleEndian, &h); err != nil {
		return 0, nil, fmt.Errorf("read index header: %w", err)
	}
	if h.Magic != indexMagic {
		return 0, nil, errors.New("not a vector index file")
	}
	if h.Version != indexVersion {
		return 0, nil, fmt.Errorf("unsupported index version %d", h.Version)
	}
	if h.Dim == 0 {
		return 0, nil, errors.New("index has zero dimension")
	}

	vectors := make([][]float32, h.Count)
	for i := range vectors {
		v := make([]float32, h.Dim)
		if err := binary.Read(r, binary.LittleEndian, v); err != nil {
			return 0, nil, fmt.Errorf("read vector %d: %w", i, err)
		}
		vectors[i] = v
	}
	return int(h.Dim), vectors, nil
}

func readMetadata(path string) ([]model.IndexedDocument, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var docs []model.IndexedDocument
	if err := json.Unmarshal(data, &docs); err != nil {
		return nil, fmt.Errorf("parse index metadata: %w", err)
	}
	return docs, nil
}

func writeAtomic(path string, write func(io.Writer) error) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	bw := bufio.NewWriter(tmp)
	if err := write(bw); err != nil {
		tmp.Close()
		return err
	}
	if err := bw.Flush(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
