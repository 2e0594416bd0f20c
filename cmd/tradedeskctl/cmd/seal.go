package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/alanyoungcy/tradedesk/internal/crypto"
)

var (
	sealOut      string
	sealPassword string
)

var sealCmd = &cobra.Command{
	Use:   "seal-secret",
	Short: "Encrypt a secret for midtrans.encrypted_server_key_path",
	Long: `Read a secret from stdin and write it encrypted with a password-derived key.

Example:
  echo -n "$MIDTRANS_SERVER_KEY" | tradedeskctl seal-secret -o midtrans.key -p "$KEY_PASSWORD"`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return fmt.Errorf("read secret: %w", err)
		}
		secret := strings.TrimSpace(string(raw))
		if secret == "" {
			return errors.New("no secret on stdin")
		}
		sealed, err := crypto.SealSecret(secret, sealPassword)
		if err != nil {
			return err
		}
		if err := os.WriteFile(sealOut, sealed, 0o600); err != nil {
			return fmt.Errorf("write %s: %w", sealOut, err)
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "sealed secret written to %s\n", sealOut)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(sealCmd)
	sealCmd.Flags().StringVarP(&sealOut, "out", "o", "", "output file (required)")
	sealCmd.Flags().StringVarP(&sealPassword, "password", "p", "", "password the secret is sealed with (required)")
	_ = sealCmd.MarkFlagRequired("out")
	_ = sealCmd.MarkFlagRequired("password")
}
