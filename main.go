package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/tangle-network/anchor-sync/chain"
	"github.com/tangle-network/anchor-sync/handlers"
	"github.com/tangle-network/anchor-sync/relayer"
	"github.com/tangle-network/anchor-sync/service"
)

func main() {
	config := LoadConfig()

	rootCmd := &cobra.Command{
		Use:   "anchor-sync",
		Short: "Commitment tree sync and withdrawal proof assembly for anchor bridges",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return setupLogging(config.LogLevel)
		},
		SilenceUsage: true,
	}
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.PersistentFlags().StringVar(&config.DBPath, "db", config.DBPath, "Leaf cache database path")
	rootCmd.PersistentFlags().StringVar(&config.LogLevel, "log-level", config.LogLevel, "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().IntVar(&config.Sync.Height, "height", config.Sync.Height, "Commitment tree height")
	rootCmd.PersistentFlags().StringVar(&config.Sync.Hasher, "hasher", config.Sync.Hasher, "Tree hash function (poseidon, keccak256, sha256, mimc-bn254)")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the proof API over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(config)
		},
	}
	serveCmd.Flags().IntVar(&config.Port, "port", config.Port, "HTTP listen port")

	var (
		chainID    uint64
		contract   string
		commitment string
		useRelayer bool
	)
	proofCmd := &cobra.Command{
		Use:   "proof",
		Short: "Sync one tree and print the inclusion path of a commitment",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !common.IsHexAddress(contract) {
				return fmt.Errorf("invalid contract address %q", contract)
			}
			return withService(cmd.Context(), config, func(svc *service.ProofService) error {
				key := service.CacheKey{ChainID: chainID, Contract: common.HexToAddress(contract)}
				path, err := svc.Proof(cmd.Context(), key, common.HexToHash(commitment), useRelayer)
				if err != nil {
					return err
				}
				return printJSON(path)
			})
		},
	}
	proofCmd.Flags().Uint64Var(&chainID, "chain", 0, "Chain id of the anchor")
	proofCmd.Flags().StringVar(&contract, "contract", "", "Anchor contract address")
	proofCmd.Flags().StringVar(&commitment, "commitment", "", "Deposit commitment")
	proofCmd.Flags().BoolVar(&useRelayer, "relayer", false, "Try relayer leaves before syncing from chain logs")

	relayersCmd := &cobra.Command{
		Use:   "relayers",
		Short: "Query configured relayers and print their capabilities",
		RunE: func(cmd *cobra.Command, args []string) error {
			registry := relayer.BuildRegistry(cmd.Context(), config.Relayers, relayer.StaticChainNames(config.ChainNames),
				relayer.WithBridgeResolver(config.Bridges))
			return printJSON(registry.All())
		},
	}

	rootCmd.AddCommand(serveCmd, proofCmd, relayersCmd)
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func setupLogging(level string) error {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}
	log.SetDefault(log.NewLogger(log.NewTerminalHandlerWithLevel(os.Stderr, lvl, true)))
	return nil
}

// withService opens the cache, dials every configured chain and discovers
// relayers, then runs fn.
func withService(ctx context.Context, config *Config, fn func(*service.ProofService) error) error {
	if err := os.MkdirAll(filepath.Dir(config.DBPath), 0755); err != nil {
		return err
	}
	storage, err := service.NewStorage(config.DBPath)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer storage.Close()

	chains := make(map[uint64]service.ChainReader, len(config.ChainRPCs))
	for id, url := range config.ChainRPCs {
		reader, client, err := chain.Dial(ctx, url)
		if err != nil {
			return fmt.Errorf("chain %d: %w", id, err)
		}
		defer client.Close()
		chains[id] = reader
	}

	registry := relayer.BuildRegistry(ctx, config.Relayers, relayer.StaticChainNames(config.ChainNames),
		relayer.WithBridgeResolver(config.Bridges))
	svc, err := service.NewProofService(storage, config.Sync, chains,
		service.WithRegistry(registry),
		service.WithStartBlocks(config.StartBlocks),
	)
	if err != nil {
		return err
	}
	return fn(svc)
}

func serve(config *Config) error {
	if os.Getenv("GIN_MODE") == "" {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return withService(ctx, config, func(svc *service.ProofService) error {
		h := handlers.NewHandler(svc)

		router := gin.New()
		router.Use(gin.Logger(), gin.Recovery())
		h.Register(router)

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", config.Port),
			Handler: router,
		}

		errc := make(chan error, 1)
		go func() {
			log.Info("Server starting", "port", config.Port)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errc <- err
			}
		}()

		select {
		case err := <-errc:
			return fmt.Errorf("server failed: %w", err)
		case <-ctx.Done():
		}

		log.Info("Shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("forced shutdown: %w", err)
		}

		log.Info("Bye")
		return nil
	})
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
