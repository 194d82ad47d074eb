package persist

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type rec struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func TestSaveLoadRoundTrip(t *testing.T) {
	for _, c := range []Compression{CompressionNone, CompressionZstd} {
		t.Run(string(c), func(t *testing.T) {
			saved := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
			f := File{
				Path:        filepath.Join(t.TempDir(), "nested", "records.json"),
				Compression: c,
				Now:         func() time.Time { return saved },
			}
			in := map[string]rec{"1": {Name: "a", Count: 2}}
			require.NoError(t, f.Save(in))

			doc, err := f.Load()
			require.NoError(t, err)
			assert.Equal(t, SchemaVersion, doc.SchemaVersion)
			assert.True(t, doc.SavedAt.Equal(saved))

			var out map[string]rec
			require.NoError(t, json.Unmarshal(doc.Records, &out))
			assert.Equal(t, in, out)

			_, err = os.Stat(f.Path + ".tmp")
			assert.True(t, errors.Is(err, os.ErrNotExist), "temporary file is renamed away")
		})
	}
}

func TestZstdFilesAreDetectedRegardlessOfSetting(t *testing.T) {
	path := filepath.Join(t.TempDir(), "records.json")
	require.NoError(t, File{Path: path, Compression: CompressionZstd}.Save(map[string]int{"x": 1}))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, zstdMagic, raw[:4])

	doc, err := File{Path: path}.Load()
	require.NoError(t, err)
	assert.JSONEq(t, `{"x":1}`, string(doc.Records))
}

func TestLoadLegacyBareMap(t *testing.T) {
	path := filepath.Join(t.TempDir(), "legacy.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"12": {"name": "old", "count": 1}}`), 0o644))

	doc, err := File{Path: path}.Load()
	require.NoError(t, err)
	assert.Equal(t, 0, doc.SchemaVersion)

	var out map[string]rec
	require.NoError(t, json.Unmarshal(doc.Records, &out))
	assert.Equal(t, "old", out["12"].Name)
}

func TestLoadRejectsNewerVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "future.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"schema_version": 99, "records": {}}`), 0o644))

	_, err := File{Path: path}.Load()
	assert.ErrorIs(t, err, ErrUnsupportedVersion)
}

func TestLoadCorruptAndMissing(t *testing.T) {
	dir := t.TempDir()

	_, err := File{Path: filepath.Join(dir, "absent.json")}.Load()
	assert.ErrorIs(t, err, os.ErrNotExist)

	path := filepath.Join(dir, "corrupt.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"1": {`), 0o644))
	_, err = File{Path: path}.Load()
	assert.Error(t, err)

	bad := filepath.Join(dir, "badframe.json")
	require.NoError(t, os.WriteFile(bad, append(append([]byte{}, zstdMagic...), 1, 2, 3), 0o644))
	_, err = File{Path: bad}.Load()
	assert.Error(t, err)
}

func TestEnvelopeWithNullRecords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "null.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"schema_version": 1, "records": null}`), 0o644))

	doc, err := File{Path: path}.Load()
	require.NoError(t, err)
	assert.JSONEq(t, `{}`, string(doc.Records))
}

func TestRemove(t *testing.T) {
	f := File{Path: filepath.Join(t.TempDir(), "r.json")}
	require.NoError(t, f.Remove())
	require.NoError(t, f.Save(map[string]int{}))
	require.NoError(t, f.Remove())
	_, err := os.Stat(f.Path)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestParseCompression(t *testing.T) {
	c, err := ParseCompression("")
	require.NoError(t, err)
	assert.Equal(t, CompressionNone, c)

	c, err = ParseCompression(" ZSTD ")
	require.NoError(t, err)
	assert.Equal(t, CompressionZstd, c)

	_, err = ParseCompression("gzip")
	assert.Error(t, err)
}
