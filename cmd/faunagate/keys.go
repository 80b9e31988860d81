package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	authkeys "github.com/artpar/faunagate/adapters/auth"
)

var (
	seedKeysCount  int
	seedKeysOutput string
	seedKeysForce  bool
)

var seedKeysCmd = &cobra.Command{
	Use:   "seed-keys",
	Short: "Create the session token key file",
	Long: `Generate signing and encryption keys for session tokens.

Tokens are signed by one key of the ring picked at random; every key in the
file verifies. Add keys to rotate, then remove old ones once their tokens
have expired.

Examples:
  faunagate seed-keys
  faunagate seed-keys --count 3 --output /etc/faunagate/keys.json`,
	RunE: runSeedKeys,
}

func init() {
	rootCmd.AddCommand(seedKeysCmd)

	seedKeysCmd.Flags().IntVarP(&seedKeysCount, "count", "n", 1, "number of keys")
	seedKeysCmd.Flags().StringVarP(&seedKeysOutput, "output", "o", "", "key file (default: auth.keys_file)")
	seedKeysCmd.Flags().BoolVar(&seedKeysForce, "force", false, "overwrite an existing key file")
}

func runSeedKeys(cmd *cobra.Command, args []string) error {
	if seedKeysCount < 1 {
		return errors.New("count must be at least 1")
	}

	path := seedKeysOutput
	if path == "" {
		path = "keys.json"
		if cfg, err := loadConfig(); err == nil {
			path = cfg.Auth.KeysFile
		}
	}
	if _, err := os.Stat(path); err == nil && !seedKeysForce {
		return fmt.Errorf("%s exists, use --force to overwrite", path)
	}

	keys := make([]authkeys.Key, seedKeysCount)
	for i := range keys {
		k, err := authkeys.GenerateKey()
		if err != nil {
			return fmt.Errorf("generate key: %w", err)
		}
		keys[i] = k
	}
	if err := authkeys.WriteKeys(path, keys); err != nil {
		return fmt.Errorf("write keys: %w", err)
	}

	fmt.Printf("Wrote %d key(s) to %s\n", len(keys), path)
	for _, k := range keys {
		fmt.Printf("  %s\n", k.ID)
	}
	return nil
}
