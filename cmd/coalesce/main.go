package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"coalesce/pkg/blob"
	"coalesce/pkg/config"
	"coalesce/pkg/engine"
	"coalesce/pkg/store"
	"coalesce/pkg/transport"
	"coalesce/pkg/types"
)

const version = "0.3.0"

var (
	configFile string
	verbose    bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "coalesce",
		Short: "Distributed file synchronization engine",
		Long: `An eventually-consistent file synchronization engine. Peers create, edit,
move, lock and co-view shared documents and converge without a central
arbiter; concurrent edits surface as explicit conflicts.`,
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose logging")

	rootCmd.AddCommand(
		runCmd(),
		statusCmd(),
		createCmd(),
		updateCmd(),
		lsCmd(),
		resolveCmd(),
		exportCmd(),
		importCmd(),
		demoCmd(),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newLogger() (*zap.Logger, error) {
	cfg := zap.NewDevelopmentConfig()
	if !verbose {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	} else {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	return cfg.Build()
}

func loadConfig() (*config.Config, error) {
	if configFile != "" {
		return config.LoadConfig(configFile)
	}
	cfg := config.LoadFromEnv()
	if cfg.NodeID == "" || cfg.UserID == "" {
		return nil, fmt.Errorf("set COALESCE_NODE_ID and COALESCE_USER_ID or pass --config")
	}
	return cfg, nil
}

// openEngine wires an engine from config over the given transport.
func openEngine(cfg *config.Config, tr transport.Transport, logger *zap.Logger) (*engine.Engine, error) {
	var kv store.KV
	if cfg.DataDir != "" {
		var err error
		kv, err = store.OpenBadger(cfg.DataDir)
		if err != nil {
			return nil, err
		}
	}

	eng, err := engine.New(engine.Options{
		NodeID:       types.NodeID(cfg.NodeID),
		UserID:       types.UserID(cfg.UserID),
		Transport:    tr,
		Store:        kv,
		Blobs:        blob.NewMemory(),
		Logger:       logger,
		SyncInterval: cfg.SyncInterval(),
	})
	if err != nil {
		return nil, err
	}

	for _, ch := range cfg.Channels {
		if err := eng.Subscribe(ch); err != nil {
			logger.Warn("channel subscribe failed", zap.String("channel", ch), zap.Error(err))
		}
	}
	return eng, nil
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the sync engine until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger, err := newLogger()
			if err != nil {
				return err
			}
			defer logger.Sync()

			// Single-process bus; a networked transport plugs in here.
			bus := transport.NewBus()
			eng, err := openEngine(cfg, bus.Endpoint(types.NodeID(cfg.NodeID)), logger)
			if err != nil {
				return err
			}
			eng.Start()
			defer eng.Stop()

			logger.Info("engine running",
				zap.String("node", cfg.NodeID),
				zap.String("user", cfg.UserID),
				zap.String("data_dir", cfg.DataDir))

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			<-sigCh
			logger.Info("shutting down")
			return nil
		},
	}
}

func resolveCmd() *cobra.Command {
	var keep string
	cmd := &cobra.Command{
		Use:   "resolve <conflict-id>",
		Short: "Resolve a pending conflict by choosing one of its versions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger, err := newLogger()
			if err != nil {
				return err
			}
			defer logger.Sync()

			bus := transport.NewBus()
			eng, err := openEngine(cfg, bus.Endpoint(types.NodeID(cfg.NodeID)), logger)
			if err != nil {
				return err
			}
			defer eng.Stop()

			id := types.ConflictID(args[0])
			c, err := eng.Conflict(id)
			if err != nil {
				return err
			}

			var content []byte
			for _, v := range c.Versions {
				if v.VersionID == keep {
					content = v.Content
				}
			}
			if content == nil {
				return fmt.Errorf("conflict %s has no version %q", id, keep)
			}

			if err := eng.ResolveConflict(id, types.ConflictResolution{
				Type:    "keep_version",
				Content: content,
			}); err != nil {
				return err
			}
			// Give the echo a moment to settle the local store.
			time.Sleep(100 * time.Millisecond)
			fmt.Printf("Resolved %s with version %s\n", id, keep)
			return nil
		},
	}
	cmd.Flags().StringVar(&keep, "keep", "", "version id to keep (required)")
	cmd.MarkFlagRequired("keep")
	return cmd
}

func exportCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export all synchronized files to an interchange blob",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger, err := newLogger()
			if err != nil {
				return err
			}
			defer logger.Sync()

			bus := transport.NewBus()
			eng, err := openEngine(cfg, bus.Endpoint(types.NodeID(cfg.NodeID)), logger)
			if err != nil {
				return err
			}
			defer eng.Stop()

			data, err := eng.Export()
			if err != nil {
				return err
			}
			if out == "" {
				fmt.Println(string(data))
				return nil
			}
			if err := os.WriteFile(out, data, 0o644); err != nil {
				return fmt.Errorf("failed to write export: %w", err)
			}
			fmt.Printf("Exported %d file(s) to %s\n", len(eng.Files()), out)
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "output", "o", "", "write to file instead of stdout")
	return cmd
}

func importCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <blob-file>",
		Short: "Import files from an interchange blob",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger, err := newLogger()
			if err != nil {
				return err
			}
			defer logger.Sync()

			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read blob: %w", err)
			}

			bus := transport.NewBus()
			eng, err := openEngine(cfg, bus.Endpoint(types.NodeID(cfg.NodeID)), logger)
			if err != nil {
				return err
			}
			defer eng.Stop()

			n, err := eng.Import(data)
			if err != nil {
				return err
			}
			time.Sleep(100 * time.Millisecond)
			fmt.Printf("Imported %d file(s)\n", n)
			return nil
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("coalesce %s\n", version)
		},
	}
}
