package cmd

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pliu/friends/internal/auth"
	"github.com/pliu/friends/internal/config"
)

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the local identity",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		id, err := auth.LoadOrCreate(cfg.IdentityFile)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "username:   %s\n", cfg.DisplayName(id.ShortID()))
		fmt.Fprintf(out, "signed:     %t\n", cfg.Signed())
		fmt.Fprintf(out, "public key: %s\n", id.PublicKey())
		fmt.Fprintf(out, "config:     %s\n", cfg.File)
		return nil
	},
}

var setUsernameCmd = &cobra.Command{
	Use:   "set-username <name>",
	Short: "Set the name messages are sent under",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := strings.TrimSpace(args[0])
		if name == "" {
			return errors.New("empty username")
		}
		if err := config.PersistUsername(cfg.File, name); err != nil {
			return fmt.Errorf("error writing username to %s: %w", cfg.File, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Now chatting as %s\n", name)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(whoamiCmd, setUsernameCmd)
}
