package cmd

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func newKeysCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keys",
		Short: "Generate ENCRYPT_KEY, SESSION_HASH_KEY and SESSION_BLOCK_KEY values (base64)",
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, name := range []string{"ENCRYPT_KEY", "SESSION_HASH_KEY", "SESSION_BLOCK_KEY"} {
				key := make([]byte, 32)
				if _, err := rand.Read(key); err != nil {
					return err
				}
				fmt.Fprintf(os.Stdout, "export %s=%s\n", name, base64.StdEncoding.EncodeToString(key))
			}
			return nil
		},
	}
}
