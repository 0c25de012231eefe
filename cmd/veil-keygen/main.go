// Command veil-keygen generates a fresh node identity: an Ed25519 seed
// expanded into the on-disk hs_ed25519_secret_key form, plus its hostname
// file, the same layout the node and its listener supervisor consume.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/veilmesh/veil/internal/identity"
)

func main() {
	var baseDir string

	cmd := &cobra.Command{
		Use:   "veil-keygen <name>",
		Short: "Generate a new onion identity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			addr, err := identity.Generate(baseDir, name)
			if err != nil {
				return fmt.Errorf("generate identity: %w", err)
			}
			fmt.Printf("identity %q written under %s\n", name, baseDir)
			fmt.Printf("onion address: %s\n", addr.PublicKey.Onion())
			return nil
		},
	}

	cmd.Flags().StringVar(&baseDir, "base-dir", "data/incoming", "directory identities are written under")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
