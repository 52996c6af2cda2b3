package dfupkg

import (
	"archive/zip"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeZip(t *testing.T, entries map[string][]byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fw.zip")
	f, err := os.Create(path)
	require.NoError(t, err)
	w := zip.NewWriter(f)
	for name, data := range entries {
		e, err := w.Create(name)
		require.NoError(t, err)
		_, err = e.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	require.NoError(t, f.Close())
	return path
}

func TestLoadManifestPackage(t *testing.T) {
	path := writeZip(t, map[string][]byte{
		"manifest.json": []byte(`{"manifest":{"application":{"bin_file":"app.bin","dat_file":"app.dat"}}}`),
		"app.bin":       []byte{0xde, 0xad, 0xbe, 0xef},
		"app.dat":       []byte{0x01, 0x02},
	})

	pkg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xde, 0xad, 0xbe, 0xef}, pkg.Image)
	assert.Equal(t, []byte{0x01, 0x02}, pkg.InitPacket)
	assert.Equal(t, "manifest", pkg.Source)
}

func TestLoadLegacyPackage(t *testing.T) {
	path := writeZip(t, map[string][]byte{
		"sd_application_v2.bin": []byte{0xaa},
		"sd_application_v2.dat": []byte{0xbb},
		"readme.txt":            []byte("notes"),
	})

	pkg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xaa}, pkg.Image)
	assert.Equal(t, []byte{0xbb}, pkg.InitPacket)
	assert.Equal(t, "legacy", pkg.Source)
}

func TestLoadManifestWithoutApplication(t *testing.T) {
	path := writeZip(t, map[string][]byte{
		"manifest.json": []byte(`{"manifest":{}}`),
	})

	_, err := Load(path)
	assert.ErrorIs(t, err, ErrMissingApplication)
}

func TestLoadLegacyWithoutFirmware(t *testing.T) {
	path := writeZip(t, map[string][]byte{
		"bootloader.bin": []byte{0x01},
	})

	_, err := Load(path)
	assert.ErrorIs(t, err, ErrMissingApplication)
}

func TestLoadManifestPointsAtMissingEntry(t *testing.T) {
	path := writeZip(t, map[string][]byte{
		"manifest.json": []byte(`{"manifest":{"application":{"bin_file":"gone.bin","dat_file":"app.dat"}}}`),
		"app.dat":       []byte{0x01},
	})

	_, err := Load(path)
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestLoadEmptyImage(t *testing.T) {
	path := writeZip(t, map[string][]byte{
		"manifest.json": []byte(`{"manifest":{"application":{"bin_file":"app.bin","dat_file":"app.dat"}}}`),
		"app.bin":       {},
		"app.dat":       []byte{0x01},
	})

	_, err := Load(path)
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestLoadBadManifestJSON(t *testing.T) {
	path := writeZip(t, map[string][]byte{
		"manifest.json": []byte("{not json"),
	})

	_, err := Load(path)
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestLoadNotAZip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "garbage.zip")
	require.NoError(t, os.WriteFile(path, []byte("not a zip archive"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.zip"))
	assert.ErrorIs(t, err, fs.ErrNotExist)
}
