package operator

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/pelletier/go-toml/v2"
)

// Manifest is a protocol's colink.toml, naming how to run it and
// optionally where to fetch it from if it isn't present locally yet.
// Field names follow the original Rust implementation's TOML layout
// directly (package.entrypoint, source.git.{url,commit}, binary.<os-arch>).
type Manifest struct {
	Package Package           `toml:"package"`
	Source  *Source           `toml:"source"`
	Binary  map[string]Binary `toml:"binary"`
}

type Package struct {
	Entrypoint string `toml:"entrypoint"`
}

type Source struct {
	Git     *GitSource `toml:"git"`
	Archive *Archive   `toml:"archive"`
}

type GitSource struct {
	URL    string `toml:"url"`
	Commit string `toml:"commit"`
}

// Archive names an archive-based source; original_source leaves this
// unimplemented (a TODO in fetch_protocol_from_inventory), and so do we.
type Archive struct{}

type Binary struct {
	Path string `toml:"path"`
}

// hostPlatform is the binary.<os>-<arch> key for the running process,
// matching std::env::consts::OS/ARCH in the original implementation.
func hostPlatform() string {
	return fmt.Sprintf("%s-%s", runtime.GOOS, runtime.GOARCH)
}

func loadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	var m Manifest
	if err := toml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	return &m, nil
}

func manifestPath(colinkHome, protocolName string) string {
	return filepath.Join(colinkHome, "protocols", protocolName, "colink.toml")
}

func protocolDir(colinkHome, protocolName string) string {
	return filepath.Join(colinkHome, "protocols", protocolName)
}
