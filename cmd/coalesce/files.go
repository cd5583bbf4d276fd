package main

import (
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"coalesce/pkg/engine"
	"coalesce/pkg/transport"
	"coalesce/pkg/types"
)

// withEngine loads config, opens an engine over a local bus, runs fn, and
// tears everything down. Shared by the one-shot file commands.
func withEngine(fn func(*engine.Engine) error) error {
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

	if err := fn(eng); err != nil {
		return err
	}
	// Let synchronous echoes settle before the store closes.
	time.Sleep(100 * time.Millisecond)
	return nil
}

func createCmd() *cobra.Command {
	var dir string
	var public bool
	cmd := &cobra.Command{
		Use:   "create <local-file>",
		Short: "Create a synchronized file from a local file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			content, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", args[0], err)
			}
			name := filepath.Base(args[0])
			mimeType := mime.TypeByExtension(filepath.Ext(name))
			if mimeType == "" {
				mimeType = "application/octet-stream"
			}

			return withEngine(func(eng *engine.Engine) error {
				f, err := eng.CreateFile(name, content, mimeType,
					types.FilePermissions{Public: public}, dir)
				if err != nil {
					return err
				}
				fmt.Printf("Created %s (%s)\n", f.Path, f.ID)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&dir, "dir", "d", "/", "parent directory path")
	cmd.Flags().BoolVar(&public, "public", false, "make the file publicly readable")
	return cmd
}

func updateCmd() *cobra.Command {
	var reason string
	return &cobra.Command{
		Use:   "update <file-id> <local-file>",
		Short: "Replace a synchronized file's content",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			content, err := os.ReadFile(args[1])
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", args[1], err)
			}
			return withEngine(func(eng *engine.Engine) error {
				if err := eng.UpdateFile(types.FileID(args[0]), content, reason); err != nil {
					return err
				}
				fmt.Printf("Update queued for %s\n", args[0])
				return nil
			})
		},
	}
}

func lsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ls",
		Short: "List synchronized files",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(func(eng *engine.Engine) error {
				renderFiles(eng)
				return nil
			})
		},
	}
}

func demoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "demo",
		Short: "Run a two-node convergence and conflict demo in-process",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := newLogger()
			if err != nil {
				return err
			}
			defer logger.Sync()
			return runDemo(logger)
		},
	}
}

// runDemo drives two engines over one memory bus through the canonical
// concurrent-edit flow: create, converge, partition, diverge, conflict,
// resolve.
func runDemo(logger *zap.Logger) error {
	bus := transport.NewBus()

	alice, err := engine.New(engine.Options{
		NodeID:    "node-alice",
		UserID:    "alice",
		Transport: bus.Endpoint("node-alice"),
		Logger:    logger.Named("alice"),
	})
	if err != nil {
		return err
	}
	defer alice.Stop()

	bob, err := engine.New(engine.Options{
		NodeID:    "node-bob",
		UserID:    "bob",
		Transport: bus.Endpoint("node-bob"),
		Logger:    logger.Named("bob"),
	})
	if err != nil {
		return err
	}
	defer bob.Stop()

	fmt.Println(titleStyle.Render("1. Alice creates a public document"))
	doc, err := alice.CreateFile("notes.md", []byte("v1"), "text/markdown",
		types.FilePermissions{Public: true, PublicAccess: types.AccessWrite}, "/shared")
	if err != nil {
		return err
	}
	fmt.Printf("   %s created as %s\n", doc.Path, shortID(string(doc.ID)))

	if seen, err := bob.File(doc.ID); err == nil {
		fmt.Printf("   Bob sees it with content %q\n", seen.Content)
	}

	fmt.Println(titleStyle.Render("2. Bob drops off the network; both edit"))
	bus.Partition("node-bob")
	if err := alice.UpdateFile(doc.ID, []byte("v2-alice"), "alice edit"); err != nil {
		return err
	}
	if err := bob.UpdateFile(doc.ID, []byte("v2-bob"), "bob edit"); err != nil {
		return err
	}

	fmt.Println(titleStyle.Render("3. Bob reconnects; the divergent edits cross"))
	bus.Heal("node-bob")
	alice.Tick()
	bob.Tick()

	conflicts := alice.Conflicts()
	if len(conflicts) == 0 {
		return fmt.Errorf("expected a conflict after concurrent edits")
	}
	c := conflicts[0]
	fmt.Printf("   Conflict %s with %d divergent versions\n",
		shortID(string(c.ID)), len(c.Versions))
	for _, v := range c.Versions {
		fmt.Printf("     %s by %s: %q\n", shortID(v.VersionID), v.Author, v.Content)
	}

	fmt.Println(titleStyle.Render("4. Alice resolves by merging both edits"))
	merged := []byte("v2-alice\nv2-bob")
	if err := alice.ResolveConflict(c.ID, types.ConflictResolution{
		Type:    "merge",
		Content: merged,
	}); err != nil {
		return err
	}

	af, _ := alice.File(doc.ID)
	bf, _ := bob.File(doc.ID)
	fmt.Printf("   Alice: %q (%s)  Bob: %q (%s)\n",
		af.Content, af.Status, bf.Content, bf.Status)
	fmt.Println(accentValueStyle.Render("   Converged."))
	return nil
}
