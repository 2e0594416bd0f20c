package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/alanyoungcy/tradedesk/internal/crypto"
)

var tokenTTL time.Duration

var tokenCmd = &cobra.Command{
	Use:   "token <user-id>",
	Short: "Issue an API session token",
	Long:  `Issue a signed bearer token for a user, valid for auth.token_ttl unless --ttl is given.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		ttl := cfg.Auth.TokenTTL.Duration
		if tokenTTL > 0 {
			ttl = tokenTTL
		}
		sessions, err := crypto.NewSessions(cfg.Auth.SessionSecret, ttl)
		if err != nil {
			return err
		}
		token, err := sessions.Issue(args[0])
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(tokenCmd)
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 0, "token lifetime (overrides auth.token_ttl)")
}
