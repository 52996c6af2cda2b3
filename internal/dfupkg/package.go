package dfupkg

import (
	"archive/zip"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

var (
	// ErrMissingApplication is reported when the package carries no
	// application firmware entry.
	ErrMissingApplication = errors.New("package has no application firmware entry")

	// ErrMalformed is reported for containers that open but cannot be
	// decoded into a usable package.
	ErrMalformed = errors.New("malformed firmware package")
)

// Manifest mirrors the manifest.json layout inside a DFU zip.
type Manifest struct {
	Manifest struct {
		Application *struct {
			BinFile string `json:"bin_file"`
			DatFile string `json:"dat_file"`
		} `json:"application"`
	} `json:"manifest"`
}

// Package is a decoded firmware package: the binary image plus its init
// metadata blob. Both are non-empty after a successful load and never
// mutated afterwards.
type Package struct {
	Image      []byte
	InitPacket []byte

	// Source records how the entries were located: "manifest" or
	// "legacy" (name-based auto-detection for zips without a manifest).
	Source string
}

// Load reads a firmware package from a zip file. A missing file
// surfaces as an fs.ErrNotExist-wrapping error from the opener.
func Load(path string) (*Package, error) {
	z, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("open package: %w", err)
	}
	defer z.Close()
	return read(&z.Reader)
}

func read(z *zip.Reader) (*Package, error) {
	if f := fileByName(z, "manifest.json"); f != nil {
		return readManifest(z, f)
	}
	return readLegacy(z)
}

func readManifest(z *zip.Reader, f *zip.File) (*Package, error) {
	data, err := readFile(f)
	if err != nil {
		return nil, fmt.Errorf("%w: manifest: %v", ErrMalformed, err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: manifest: %v", ErrMalformed, err)
	}
	app := m.Manifest.Application
	if app == nil || app.BinFile == "" || app.DatFile == "" {
		return nil, ErrMissingApplication
	}
	return assemble(z, app.BinFile, app.DatFile, "manifest")
}

// readLegacy auto-detects the firmware entries by name in zips that
// predate the manifest format.
func readLegacy(z *zip.Reader) (*Package, error) {
	var binName, datName string
	for _, f := range z.File {
		lower := strings.ToLower(f.Name)
		if binName == "" && strings.HasSuffix(lower, ".bin") && strings.Contains(lower, "application") {
			binName = f.Name
		}
		if datName == "" && strings.HasSuffix(lower, ".dat") && strings.Contains(lower, "application") {
			datName = f.Name
		}
	}
	if binName == "" || datName == "" {
		return nil, fmt.Errorf("%w: could not auto-detect firmware files", ErrMissingApplication)
	}
	return assemble(z, binName, datName, "legacy")
}

func assemble(z *zip.Reader, binName, datName, source string) (*Package, error) {
	image, err := readEntry(z, binName)
	if err != nil {
		return nil, err
	}
	initPacket, err := readEntry(z, datName)
	if err != nil {
		return nil, err
	}
	return &Package{Image: image, InitPacket: initPacket, Source: source}, nil
}

func readEntry(z *zip.Reader, name string) ([]byte, error) {
	f := fileByName(z, name)
	if f == nil {
		return nil, fmt.Errorf("%w: missing entry %q", ErrMalformed, name)
	}
	data, err := readFile(f)
	if err != nil {
		return nil, fmt.Errorf("%w: entry %q: %v", ErrMalformed, name, err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: entry %q is empty", ErrMalformed, name)
	}
	return data, nil
}

func fileByName(z *zip.Reader, name string) *zip.File {
	for _, f := range z.File {
		if f.Name == name {
			return f
		}
	}
	return nil
}

func readFile(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}
