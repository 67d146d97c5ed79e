package oracle

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
)

//go:embed domain_bridge.py
var embeddedBridge []byte

// extractEmbeddedBridge writes the embedded bridge script to a new temp dir.
// The caller owns dir and removes it.
func extractEmbeddedBridge() (dir, path string, err error) {
	if len(embeddedBridge) == 0 {
		return "", "", fmt.Errorf("embedded domain_bridge.py is empty")
	}

	dir, err = os.MkdirTemp("", "chatbattery-oracle-*")
	if err != nil {
		return "", "", fmt.Errorf("create temp dir: %w", err)
	}

	path = filepath.Join(dir, "domain_bridge.py")
	if err := os.WriteFile(path, embeddedBridge, 0644); err != nil {
		os.RemoveAll(dir)
		return "", "", fmt.Errorf("write domain_bridge.py: %w", err)
	}

	return dir, path, nil
}
