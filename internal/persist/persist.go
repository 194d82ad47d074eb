// Package persist stores whole record sets as versioned JSON documents.
// Every save rewrites the file atomically; readers never see a partial
// write.
package persist

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"
)

// SchemaVersion is written into every envelope. Files without an envelope
// are treated as version 0 (a bare record map).
const SchemaVersion = 1

var ErrUnsupportedVersion = errors.New("unsupported schema version")

type Compression string

const (
	CompressionNone Compression = "none"
	CompressionZstd Compression = "zstd"
)

func ParseCompression(s string) (Compression, error) {
	switch Compression(strings.ToLower(strings.TrimSpace(s))) {
	case "", CompressionNone:
		return CompressionNone, nil
	case CompressionZstd:
		return CompressionZstd, nil
	}
	return "", fmt.Errorf("unknown compression %q", s)
}

var zstdMagic = []byte{0x28, 0xB5, 0x2F, 0xFD}

// zstd.Encoder and zstd.Decoder are safe for concurrent use.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("persist: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("persist: zstd decoder initialization failed: " + err.Error())
	}
}

// Document is a loaded file. Records holds the raw record set for the
// caller to decode with its own defaults.
type Document struct {
	SchemaVersion int             `json:"schema_version"`
	SavedAt       time.Time       `json:"saved_at"`
	Records       json.RawMessage `json:"records"`
}

type File struct {
	Path        string
	Compression Compression
	Now         func() time.Time
}

func (f File) now() time.Time {
	if f.Now != nil {
		return f.Now().UTC()
	}
	return time.Now().UTC()
}

// Save serializes records inside an envelope and writes it atomically. The
// parent directory is created when missing.
func (f File) Save(records any) error {
	raw, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("marshal records for %s: %w", f.Path, err)
	}
	data, err := json.MarshalIndent(Document{
		SchemaVersion: SchemaVersion,
		SavedAt:       f.now(),
		Records:       raw,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal envelope for %s: %w", f.Path, err)
	}
	data = append(data, '\n')

	if f.Compression == CompressionZstd {
		data = zstdEncoder.EncodeAll(data, nil)
	}
	if err := os.MkdirAll(filepath.Dir(f.Path), 0o755); err != nil {
		return fmt.Errorf("create directory for %s: %w", f.Path, err)
	}
	return writeAtomic(f.Path, data)
}

// Load reads the file. A missing file returns an error wrapping
// os.ErrNotExist. Compressed files are detected by their frame magic, so a
// store can switch compression without migrating existing files.
func (f File) Load() (Document, error) {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return Document{}, err
	}
	if bytes.HasPrefix(data, zstdMagic) {
		data, err = zstdDecoder.DecodeAll(data, nil)
		if err != nil {
			return Document{}, fmt.Errorf("decompress %s: %w", f.Path, err)
		}
	}
	return decode(f.Path, data)
}

func decode(path string, data []byte) (Document, error) {
	var head map[string]json.RawMessage
	if err := json.Unmarshal(data, &head); err != nil {
		return Document{}, fmt.Errorf("parse %s: %w", path, err)
	}
	if _, ok := head["schema_version"]; !ok {
		return Document{SchemaVersion: 0, Records: json.RawMessage(data)}, nil
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return Document{}, fmt.Errorf("parse envelope %s: %w", path, err)
	}
	if doc.SchemaVersion > SchemaVersion || doc.SchemaVersion < 0 {
		return Document{}, fmt.Errorf("%s: version %d: %w", path, doc.SchemaVersion, ErrUnsupportedVersion)
	}
	if len(doc.Records) == 0 || string(doc.Records) == "null" {
		doc.Records = json.RawMessage("{}")
	}
	return doc, nil
}

// Remove deletes the file. A missing file is not an error.
func (f File) Remove() error {
	if err := os.Remove(f.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove %s: %w", f.Path, err)
	}
	return nil
}

func writeAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	file, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("create temporary file for %s: %w", path, err)
	}
	if _, err := file.Write(data); err != nil {
		file.Close()
		os.Remove(tmp)
		return fmt.Errorf("write temporary file for %s: %w", path, err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(tmp)
		return fmt.Errorf("sync temporary file for %s: %w", path, err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close temporary file for %s: %w", path, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename %s into place: %w", path, err)
	}
	if dir, err := os.Open(filepath.Dir(path)); err == nil {
		dir.Sync()
		dir.Close()
	}
	return nil
}
