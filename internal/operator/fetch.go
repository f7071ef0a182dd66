package operator

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// protocolInventoryURL mirrors original_source's PROTOCOL_INVENTORY constant.
const protocolInventoryURL = "https://raw.githubusercontent.com/CoLearn-Dev/colink-protocol-inventory/main/protocols"

// fetchFromInventory downloads protocolName's manifest from the public
// inventory and materializes its source (currently: git only — archive
// sources are left unimplemented, same as the original implementation's
// TODO) under colinkHome/protocols/<name>.
func fetchFromInventory(ctx context.Context, protocolName, colinkHome string) error {
	url := fmt.Sprintf("%s/%s.toml", protocolInventoryURL, protocolName)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("build inventory request: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("fetch inventory manifest: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("protocol %q not found in inventory (status %d)", protocolName, resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read inventory manifest: %w", err)
	}

	var m Manifest
	if err := toml.Unmarshal(body, &m); err != nil {
		return fmt.Errorf("parse inventory manifest: %w", err)
	}

	dir := protocolDir(colinkHome, protocolName)

	if bin, ok := m.Binary[hostPlatform()]; ok && bin.Path != "" {
		// Unimplemented, matching original_source's binary-install TODO:
		// no platform-specific binary distribution channel exists yet.
		return fmt.Errorf("binary distribution for protocol %q is not implemented", protocolName)
	}

	if m.Source != nil && m.Source.Archive != nil {
		return fmt.Errorf("archive source for protocol %q is not implemented", protocolName)
	}

	if m.Source == nil || m.Source.Git == nil {
		return fmt.Errorf("the inventory manifest for protocol %q is damaged", protocolName)
	}

	if err := cloneAt(ctx, m.Source.Git.URL, m.Source.Git.Commit, dir); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(manifestPath(colinkHome, protocolName)), 0o755); err != nil {
		return fmt.Errorf("create protocol directory: %w", err)
	}
	return os.WriteFile(manifestPath(colinkHome, protocolName), body, 0o644)
}

func cloneAt(ctx context.Context, url, commit, dir string) error {
	cloneCtx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()
	clone := exec.CommandContext(cloneCtx, "git", "clone", "--recursive", url, dir)
	if out, err := clone.CombinedOutput(); err != nil {
		return fmt.Errorf("git clone %s: %w: %s", url, err, out)
	}

	checkout := exec.CommandContext(ctx, "git", "checkout", commit)
	checkout.Dir = dir
	if out, err := checkout.CombinedOutput(); err != nil {
		return fmt.Errorf("git checkout %s: %w: %s", commit, err, out)
	}
	return nil
}
