package node

import (
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
)

// Config is the full set of knobs a budlumd process needs to start: network
// identity, storage location, transport binding, and the consensus regime
// this node runs.
type Config struct {
	Network  string   `json:"network"`
	ChainID  uint64   `json:"chain_id"`
	DataDir  string   `json:"data_dir"`
	BindAddr string   `json:"bind_addr"`
	LogLevel string   `json:"log_level"`
	Peers    []string `json:"peers"`
	MaxPeers int      `json:"max_peers"`

	// Engine selects the consensus regime: "pow", "pos", or "poa".
	Engine string `json:"engine"`

	// AuthoritySet is consulted only when Engine == "poa": hex-encoded
	// 32-byte addresses in round-robin order.
	AuthoritySet []string `json:"authority_set,omitempty"`

	// ValidatorKeyHex, if set, is this node's hex-encoded Ed25519 private
	// key; a non-empty value makes this node a candidate block producer.
	ValidatorKeyHex string `json:"validator_key_hex,omitempty"`

	// BLSKeyHex, if set, is this node's hex-encoded BLS12-381 secret key,
	// used only for PoS finality voting.
	BLSKeyHex string `json:"bls_key_hex,omitempty"`
}

var allowedLogLevels = map[string]struct{}{
	"debug": {},
	"info":  {},
	"warn":  {},
	"error": {},
}

var allowedEngines = map[string]struct{}{
	"pow": {},
	"pos": {},
	"poa": {},
}

func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return ".budlum"
	}
	return filepath.Join(home, ".budlum")
}

func DefaultConfig() Config {
	return Config{
		Network:  "devnet",
		ChainID:  1337,
		DataDir:  DefaultDataDir(),
		BindAddr: "0.0.0.0:29111",
		Peers:    nil,
		LogLevel: "info",
		MaxPeers: 64,
		Engine:   "pow",
	}
}

func NormalizePeers(raw ...string) []string {
	out := make([]string, 0, len(raw))
	seen := make(map[string]struct{}, len(raw))
	for _, token := range raw {
		for _, p := range strings.Split(token, ",") {
			p = strings.TrimSpace(p)
			if p == "" {
				continue
			}
			if _, ok := seen[p]; ok {
				continue
			}
			seen[p] = struct{}{}
			out = append(out, p)
		}
	}
	return out
}

func ValidateConfig(cfg Config) error {
	if strings.TrimSpace(cfg.Network) == "" {
		return errors.New("network is required")
	}
	if cfg.ChainID == 0 {
		return errors.New("chain_id must be non-zero")
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		return errors.New("data_dir is required")
	}
	if err := validateAddr(cfg.BindAddr); err != nil {
		return fmt.Errorf("invalid bind_addr: %w", err)
	}
	for _, peer := range cfg.Peers {
		if err := validatePeerAddr(peer); err != nil {
			return fmt.Errorf("invalid peer %q: %w", peer, err)
		}
	}
	logLevel := strings.ToLower(strings.TrimSpace(cfg.LogLevel))
	if _, ok := allowedLogLevels[logLevel]; !ok {
		return fmt.Errorf("invalid log_level %q", cfg.LogLevel)
	}
	if cfg.MaxPeers <= 0 {
		return errors.New("max_peers must be > 0")
	}
	if cfg.MaxPeers > 4096 {
		return errors.New("max_peers must be <= 4096")
	}
	engine := strings.ToLower(strings.TrimSpace(cfg.Engine))
	if _, ok := allowedEngines[engine]; !ok {
		return fmt.Errorf("invalid engine %q: must be pow, pos, or poa", cfg.Engine)
	}
	if engine == "poa" {
		if len(cfg.AuthoritySet) == 0 {
			return errors.New("authority_set is required when engine=poa")
		}
		for _, addr := range cfg.AuthoritySet {
			if _, err := decodeAddr(addr); err != nil {
				return fmt.Errorf("invalid authority_set entry %q: %w", addr, err)
			}
		}
	}
	if cfg.ValidatorKeyHex != "" {
		if _, err := hex.DecodeString(cfg.ValidatorKeyHex); err != nil {
			return fmt.Errorf("invalid validator_key_hex: %w", err)
		}
	}
	if cfg.BLSKeyHex != "" {
		if _, err := hex.DecodeString(cfg.BLSKeyHex); err != nil {
			return fmt.Errorf("invalid bls_key_hex: %w", err)
		}
	}
	return nil
}

func decodeAddr(s string) ([32]byte, error) {
	var out [32]byte
	b, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return out, err
	}
	if len(b) != 32 {
		return out, fmt.Errorf("address must be 32 bytes, got %d", len(b))
	}
	copy(out[:], b)
	return out, nil
}

func validateAddr(addr string) error {
	if strings.TrimSpace(addr) == "" {
		return errors.New("empty address")
	}
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return err
	}
	if strings.TrimSpace(port) == "" {
		return errors.New("missing port")
	}
	if strings.Contains(host, " ") {
		return errors.New("invalid host")
	}
	return nil
}

func validatePeerAddr(addr string) error {
	if err := validateAddr(addr); err != nil {
		return err
	}
	host, _, _ := net.SplitHostPort(addr)
	if strings.TrimSpace(host) == "" {
		return errors.New("missing host")
	}
	return nil
}
