package main

import (
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"lendchain/config"
	"lendchain/core"
	"lendchain/core/state"
	"lendchain/observability/logging"
	"lendchain/rpc"
	"lendchain/storage"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Seeds for the deterministic fallback accounts used when the config leaves
// ModuleAddress or FeeToken empty (single-node and development setups).
const (
	moduleAddressSeed = "lendchain/module/account"
	feeTokenSeed      = "lendchain/module/fee-token"
)

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("LENDCHAIN_ENV"))
	cfg, err := config.Load(*configFile)
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}
	if env == "" {
		env = cfg.Environment
	}
	logger := logging.Setup("lendchaind", env)

	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		panic(fmt.Sprintf("Failed to open database: %v", err))
	}
	defer db.Close()

	moduleAddr, err := resolveAddress(cfg.ModuleAddress, moduleAddressSeed)
	if err != nil {
		logger.Error("Failed to resolve module address", slog.Any("error", err))
		os.Exit(1)
	}
	feeToken, err := resolveAddress(cfg.FeeToken, feeTokenSeed)
	if err != nil {
		logger.Error("Failed to resolve fee token", slog.Any("error", err))
		os.Exit(1)
	}

	manager := state.NewManager(db)
	node := core.NewNode(manager, moduleAddr, feeToken)

	for _, raw := range cfg.RevenueTokens {
		token, err := config.DecodedAddress(raw)
		if err != nil {
			logger.Error("Invalid revenue token in config", slog.String("token", raw), slog.Any("error", err))
			os.Exit(1)
		}
		if err := node.AllowRevenueToken(token); err != nil {
			logger.Error("Failed to seed revenue token allow-list", slog.String("token", raw), slog.Any("error", err))
			os.Exit(1)
		}
	}
	if err := node.SetPaused("lending", cfg.PauseLending); err != nil {
		logger.Error("Failed to apply pause switch", slog.Any("error", err))
		os.Exit(1)
	}

	rpcServer := rpc.NewServer(node, cfg.RPCToken)
	rpcErrCh := make(chan error, 1)
	go func() {
		rpcErrCh <- rpcServer.Start(cfg.RPCAddress)
		close(rpcErrCh)
	}()

	if strings.TrimSpace(cfg.MetricsAddress) != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			if err := http.ListenAndServe(cfg.MetricsAddress, mux); err != nil {
				logger.Error("Metrics server terminated", slog.Any("error", err))
			}
		}()
	}

	logger.Info("Lendchain node initialised and running",
		slog.String("rpc", cfg.RPCAddress),
		slog.Bool("paused", cfg.PauseLending))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-rpcErrCh:
		if err != nil {
			logger.Error("RPC server terminated", slog.Any("error", err))
			os.Exit(1)
		}
	case sig := <-sigCh:
		logger.Info("Shutting down", slog.String("signal", sig.String()))
	}
}

// resolveAddress decodes the configured bech32 value, deriving a
// deterministic account from seed when the value is empty.
func resolveAddress(value, seed string) ([20]byte, error) {
	decoded, err := config.DecodedAddress(value)
	if err != nil {
		return [20]byte{}, err
	}
	if decoded != ([20]byte{}) {
		return decoded, nil
	}
	var derived [20]byte
	copy(derived[:], ethcrypto.Keccak256([]byte(seed))[12:])
	return derived, nil
}
