package commands

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	sshpkg "golang.org/x/crypto/ssh"

	"github.com/rosiehq/rosie/pkg/config"
	"github.com/rosiehq/rosie/pkg/engine"
	"github.com/rosiehq/rosie/pkg/inventory"
	"github.com/rosiehq/rosie/pkg/stores"
)

func newInitCommand() *cobra.Command {
	var (
		force       bool
		generateKey bool
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize a Rosie workspace",
		Long: `Initialize a Rosie workspace with a default configuration, the result
database, the backup directory and empty inventory snapshots.

The default configuration enables the legacy adequacy term starting today,
so that no pre-existing resource is deleted during the first 90 days.`,
		Example: `  # Initialize in the current directory
  rosie init

  # Initialize with a CUE configuration and an SFTP key pair
  rosie init --config ./rosie.cue --generate-key`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			path := config.ResolvePath(configPath)
			dir := filepath.Dir(path)

			log.Info().Str("config", path).Bool("force", force).Msg("Initializing workspace")

			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists, use --force to overwrite", path)
			}

			format, err := config.FormatOf(path)
			if err != nil {
				return err
			}
			doc := config.Default(time.Now())

			// Step 1: Create directory structure
			dirs := []string{
				dir,
				relativeTo(path, doc.Backup.Path),
				relativeTo(path, doc.Inventory.Path),
			}
			for _, d := range dirs {
				if err := os.MkdirAll(d, 0o750); err != nil {
					return fmt.Errorf("failed to create directory %s: %w", d, err)
				}
				fmt.Printf("✓ Created directory: %s\n", d)
			}

			// Step 2: Initialize the result database
			dbPath := relativeTo(path, doc.Runtime.DatabasePath)
			if err := initDatabase(ctx, dbPath); err != nil {
				return err
			}
			fmt.Printf("✓ Initialized result database: %s\n", dbPath)

			// Step 3: Write empty inventory snapshots
			invDir := relativeTo(path, doc.Inventory.Path)
			for _, kind := range engine.Kinds() {
				if inventory.SnapshotPath(invDir, kind) != "" {
					continue
				}
				p := filepath.Join(invDir, string(kind)+".yaml")
				if err := inventory.WriteSnapshot(p, kind, nil); err != nil {
					return err
				}
				fmt.Printf("✓ Created inventory snapshot: %s\n", p)
			}

			// Step 4: Write the configuration
			content, err := config.Marshal(doc, format)
			if err != nil {
				return err
			}
			if err := os.WriteFile(path, content, 0o640); err != nil {
				return fmt.Errorf("failed to write config file: %w", err)
			}
			fmt.Printf("✓ Created config file: %s\n", path)

			// Step 5: Optionally generate an SSH key pair for the SFTP backup store
			if generateKey {
				keyPath := filepath.Join(dir, "keys", "rosie-ed25519")
				created, err := generateKeyPair(keyPath)
				if err != nil {
					return err
				}
				if created {
					fmt.Printf("✓ Generated SSH keypair: %s\n", keyPath)
				} else {
					fmt.Printf("✓ SSH keypair already exists: %s\n", keyPath)
				}
			}

			fmt.Printf("\n✅ Workspace initialized successfully!\n\n")
			fmt.Printf("Next steps:\n")
			fmt.Printf("  1. Export the account inventory into %s\n\n", invDir)
			fmt.Printf("  2. Evaluate the resources:\n")
			fmt.Printf("     rosie evaluate\n\n")
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing configuration file")
	cmd.Flags().BoolVar(&generateKey, "generate-key", false, "generate an ed25519 key pair for the sftp backup store")

	return cmd
}

func initDatabase(ctx context.Context, path string) error {
	sink, err := stores.NewSQLiteSink(stores.Config{Path: path})
	if err != nil {
		return fmt.Errorf("failed to create result sink: %w", err)
	}
	if err := sink.Init(ctx); err != nil {
		return fmt.Errorf("failed to initialize result sink: %w", err)
	}
	defer func() { _ = sink.Close() }()

	if err := sink.Migrate(ctx); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// generateKeyPair writes an OpenSSH ed25519 key pair at keyPath unless one
// already exists.
func generateKeyPair(keyPath string) (bool, error) {
	if _, err := os.Stat(keyPath); err == nil {
		return false, nil
	}
	if err := os.MkdirAll(filepath.Dir(keyPath), 0o700); err != nil {
		return false, fmt.Errorf("failed to create key directory: %w", err)
	}

	pubKey, privKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return false, fmt.Errorf("failed to generate keypair: %w", err)
	}

	privKeyBytes, err := sshpkg.MarshalPrivateKey(privKey, "rosie backups")
	if err != nil {
		return false, fmt.Errorf("failed to marshal private key: %w", err)
	}
	if err := os.WriteFile(keyPath, pem.EncodeToMemory(privKeyBytes), 0o600); err != nil {
		return false, fmt.Errorf("failed to write private key: %w", err)
	}

	sshPubKey, err := sshpkg.NewPublicKey(pubKey)
	if err != nil {
		return false, fmt.Errorf("failed to create SSH public key: %w", err)
	}
	if err := os.WriteFile(keyPath+".pub", sshpkg.MarshalAuthorizedKey(sshPubKey), 0o644); err != nil {
		return false, fmt.Errorf("failed to write public key: %w", err)
	}
	return true, nil
}
