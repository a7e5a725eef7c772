// Command budlumd runs a Budlum Core node: it loads or initializes a
// chain, wires the selected consensus engine into the chain manager, and
// drives the mempool/ban-list maintenance tickers until a shutdown signal
// arrives. The P2P transport, wire codec, and CLI config parsing beyond
// what is listed here are external collaborators (see the core's design
// notes); this binary exists to exercise the core end to end, not to be a
// production network client.
package main

import (
	"context"
	"encoding/hex"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/budlum/core/consensus"
	"github.com/budlum/core/node"
	"github.com/budlum/core/node/peer"
	"github.com/budlum/core/node/store"
)

type multiStringFlag []string

func (m *multiStringFlag) String() string {
	if m == nil {
		return ""
	}
	return strings.Join(*m, ",")
}

func (m *multiStringFlag) Set(value string) error {
	*m = append(*m, value)
	return nil
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// Exit codes per the CLI surface: 0 normal, 1 config error, 2 corruption
// detected, 3 network bind failure. This binary never actually binds a
// socket (transport is out of scope), so 3 is reserved but unused here.
const (
	exitOK            = 0
	exitConfigError   = 1
	exitCorruption    = 2
	exitNetworkFailed = 3
)

func run(args []string, stdout, stderr io.Writer) int {
	defaults := node.DefaultConfig()
	cfg := defaults
	var peersFlag multiStringFlag
	var authorityFlag multiStringFlag

	fs := flag.NewFlagSet("budlumd", flag.ContinueOnError)
	fs.SetOutput(stderr)

	fs.StringVar(&cfg.Network, "network", defaults.Network, "network name (devnet/testnet/mainnet)")
	chainID := fs.Uint64("chain-id", defaults.ChainID, "chain id")
	fs.StringVar(&cfg.DataDir, "db-path", defaults.DataDir, "node data directory")
	fs.StringVar(&cfg.BindAddr, "port", defaults.BindAddr, "bind address host:port")
	fs.StringVar(&cfg.LogLevel, "log-level", defaults.LogLevel, "log level: debug|info|warn|error")
	fs.IntVar(&cfg.MaxPeers, "max-peers", defaults.MaxPeers, "max connected peers")
	fs.StringVar(&cfg.Engine, "consensus", defaults.Engine, "consensus engine: pow|pos|poa")
	difficulty := fs.Uint("difficulty", 20, "initial PoW difficulty (pow engine only)")
	minStake := fs.Uint64("min-stake", consensus.MinStake, "minimum validator stake (pos engine only)")
	fs.StringVar(&cfg.ValidatorKeyHex, "validator-address", defaults.ValidatorKeyHex, "hex-encoded local validator/producer private key")
	fs.Var(&peersFlag, "bootstrap", "bootstrap peer multiaddr (repeatable)")
	validatorsFile := fs.String("validators-file", "", "path to a newline-delimited authority set file (poa engine only)")
	fs.Var(&authorityFlag, "authority", "hex-encoded poa authority address (repeatable, overrides --validators-file)")
	dryRun := fs.Bool("dry-run", false, "validate configuration and exit")
	if err := fs.Parse(args); err != nil {
		return exitConfigError
	}

	cfg.ChainID = *chainID
	cfg.Peers = node.NormalizePeers(peersFlag...)
	if len(authorityFlag) > 0 {
		cfg.AuthoritySet = authorityFlag
	} else if *validatorsFile != "" {
		lines, err := readValidatorsFile(*validatorsFile)
		if err != nil {
			fmt.Fprintf(stderr, "validators-file: %v\n", err)
			return exitConfigError
		}
		cfg.AuthoritySet = lines
	}

	if err := node.ValidateConfig(cfg); err != nil {
		fmt.Fprintf(stderr, "invalid config: %v\n", err)
		return exitConfigError
	}

	logger := newLogger(stdout, cfg.LogLevel)
	if *dryRun {
		logger.Info("dry run", "network", cfg.Network, "chain_id", cfg.ChainID, "engine", cfg.Engine)
		return exitOK
	}

	db, err := store.Open(cfg.DataDir, fmt.Sprintf("%016x", cfg.ChainID))
	if err != nil {
		logger.Error("storage open failed", "error", err)
		return exitCorruption
	}
	defer db.Close()

	if db.Manifest() == nil {
		// A fixed genesis timestamp keeps the genesis hash the same on every
		// node of the network.
		if err := node.InitGenesis(db, cfg, nil, 0); err != nil {
			logger.Error("genesis init failed", "error", err)
			return exitCorruption
		}
		logger.Info("genesis initialized", "chain_id", cfg.ChainID)
	}

	engine, err := buildEngine(cfg, *difficulty, *minStake)
	if err != nil {
		fmt.Fprintf(stderr, "engine init: %v\n", err)
		return exitConfigError
	}

	mempool := consensus.NewMempool()
	chain, err := node.NewChainManager(db, engine, mempool, cfg.ChainID)
	if err != nil {
		logger.Error("chain manager init failed", "error", err)
		return exitCorruption
	}
	chain.OnFinalize = func(height uint64, hash [32]byte) {
		logger.Info("finality advanced", "height", height, "hash", hex.EncodeToString(hash[:]))
	}

	peers := peer.NewTable()

	logger.Info("node started",
		"network", cfg.Network,
		"chain_id", cfg.ChainID,
		"engine", engine.Name(),
		"tip_height", chain.TipHeight(),
		"finalized_height", chain.FinalizedHeight(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runMaintenanceLoops(ctx, logger, mempool, peers)

	logger.Info("node stopped")
	return exitOK
}

// runMaintenanceLoops drives the background maintenance tickers described
// in the concurrency model: mempool GC every 30s, peer ban cleanup every
// 60s. It blocks until ctx is cancelled, then lets both tickers drain their
// current tick before returning.
func runMaintenanceLoops(ctx context.Context, logger *slog.Logger, mempool *consensus.Mempool, peers *peer.Table) {
	gcTicker := time.NewTicker(consensus.MempoolGCIntervalSec * time.Second)
	defer gcTicker.Stop()
	banTicker := time.NewTicker(60 * time.Second)
	defer banTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case t := <-gcTicker.C:
			mempool.GC(uint64(t.UnixMilli()))
		case t := <-banTicker.C:
			cleared := peers.CleanupExpiredBans(uint64(t.UnixMilli()))
			if cleared > 0 {
				logger.Debug("ban list cleaned", "cleared", cleared)
			}
		}
	}
}

func buildEngine(cfg node.Config, difficulty uint, minStake uint64) (consensus.Engine, error) {
	_ = minStake // validator-side MinStake is a package constant; kept as a flag for operator visibility only.
	switch strings.ToLower(cfg.Engine) {
	case "pow":
		return consensus.NewPoWEngine(difficulty), nil
	case "pos":
		var seed [32]byte
		return consensus.NewPoSEngine(seed), nil
	case "poa":
		addrs := make([][32]byte, 0, len(cfg.AuthoritySet))
		for _, a := range cfg.AuthoritySet {
			addr, err := decodeHexAddr(a)
			if err != nil {
				return nil, fmt.Errorf("authority set entry %q: %w", a, err)
			}
			addrs = append(addrs, addr)
		}
		return consensus.NewPoAEngine(addrs), nil
	default:
		return nil, fmt.Errorf("unknown engine %q", cfg.Engine)
	}
}

func decodeHexAddr(s string) ([32]byte, error) {
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

func readValidatorsFile(path string) ([]string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, line := range strings.Split(string(b), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, line)
	}
	return out, nil
}

func newLogger(w io.Writer, level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl})
	return slog.New(handler)
}
