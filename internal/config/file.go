package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// WatermarkKey is the top-level key holding the Miniflux polling watermark.
const WatermarkKey = "last_miniflux_fetch"

// Source yields a fresh configuration snapshot.
type Source interface {
	Load() (*Config, error)
}

// WatermarkSaver persists the polling watermark of a watermark-based provider.
type WatermarkSaver interface {
	SaveWatermark(ts string) error
}

// File is a Source backed by a YAML file on disk.
type File struct {
	Path string

	mu sync.Mutex
}

// NewFile returns a File for path.
func NewFile(path string) *File {
	return &File{Path: path}
}

// Load reads the file and returns a new snapshot.
func (f *File) Load() (*Config, error) {
	return Load(f.Path)
}

// SaveWatermark stores ts under last_miniflux_fetch. Only that key is touched:
// comments, ordering and unexpanded ${VAR} references survive. The watermark
// never moves backwards; an older or equal ts is a no-op.
func (f *File) SaveWatermark(ts string) error {
	if ts == "" {
		return nil
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := os.ReadFile(f.Path)
	if err != nil {
		return fmt.Errorf("read config for watermark: %w", err)
	}

	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parse config for watermark: %w", err)
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 || doc.Content[0].Kind != yaml.MappingNode {
		return fmt.Errorf("config %s: top level is not a mapping", f.Path)
	}

	root := doc.Content[0]
	var value *yaml.Node
	for i := 0; i+1 < len(root.Content); i += 2 {
		if root.Content[i].Value == WatermarkKey {
			value = root.Content[i+1]
			break
		}
	}

	if value == nil {
		root.Content = append(root.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: WatermarkKey},
			&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: ts, Style: yaml.DoubleQuotedStyle},
		)
	} else {
		if !After(ts, value.Value) {
			return nil
		}
		value.Kind = yaml.ScalarNode
		value.Tag = "!!str"
		value.Value = ts
		value.Style = yaml.DoubleQuotedStyle
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(&doc); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	return writeFileAtomic(f.Path, buf.Bytes())
}

// After reports whether watermark a is strictly newer than b. RFC 3339 values
// are compared as instants, so offsets and fractional seconds do not matter.
// Anything unparseable falls back to lexical order.
func After(a, b string) bool {
	ta, errA := time.Parse(time.RFC3339Nano, a)
	tb, errB := time.Parse(time.RFC3339Nano, b)
	if errA != nil || errB != nil {
		return a > b
	}
	return ta.After(tb)
}

func writeFileAtomic(path string, data []byte) error {
	mode := os.FileMode(0o644)
	if fi, err := os.Stat(path); err == nil {
		mode = fi.Mode().Perm()
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp config: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp config: %w", err)
	}
	if err := os.Chmod(tmp.Name(), mode); err != nil {
		return fmt.Errorf("chmod temp config: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace config: %w", err)
	}
	return nil
}
