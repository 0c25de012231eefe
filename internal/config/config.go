// Package config loads the two on-disk JSON documents the node needs at
// startup: which local identities to bring up, and where the UI bridge
// should listen. Configuration loading from disk is named out of scope
// for the core's semantics in the specification, but a node still needs
// something to load it with — this is deliberately the thinnest possible
// reader, following the teacher's own encoding/json-based config style
// rather than introducing an ungrounded TOML/YAML dependency.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// AddressEntry names one local identity to load from baseDir/incoming.
type AddressEntry struct {
	Name string `json:"name"`
}

// Addresses is the shape of data/config/addresses.json.
type Addresses struct {
	Addresses []AddressEntry `json:"addresses"`
}

// Bridge is the shape of data/config/bridge.json.
type Bridge struct {
	Listen string `json:"listen"`
}

// LoadAddresses reads <configDir>/addresses.json.
func LoadAddresses(configDir string) (Addresses, error) {
	var a Addresses
	if err := loadJSON(filepath.Join(configDir, "addresses.json"), &a); err != nil {
		return Addresses{}, err
	}
	return a, nil
}

// LoadBridge reads <configDir>/bridge.json.
func LoadBridge(configDir string) (Bridge, error) {
	var b Bridge
	if err := loadJSON(filepath.Join(configDir, "bridge.json"), &b); err != nil {
		return Bridge{}, err
	}
	if b.Listen == "" {
		b.Listen = "127.0.0.1:8080"
	}
	return b, nil
}

func loadJSON(path string, v any) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	if err := json.NewDecoder(f).Decode(v); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}
