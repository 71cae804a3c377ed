package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/matheus3301/chatsync/internal/session"
	"github.com/spf13/cobra"
)

func init() {
	tokenCmd.AddCommand(tokenSetCmd)
	tokenCmd.AddCommand(tokenClearCmd)
	rootCmd.AddCommand(tokenCmd)
}

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Manage the session's bearer token",
	Long: "The token is read from $" + session.TokenEnv + " or the session's token file on every\n" +
		"connection attempt, so a running engine picks up a new token on its next reconnect.",
}

var tokenSetCmd = &cobra.Command{
	Use:   "set [token]",
	Short: "Store a token (reads stdin when no argument is given)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name, _, err := session.Resolve(sessionFlag)
		if err != nil {
			return err
		}
		var tok string
		if len(args) == 1 {
			tok = args[0]
		} else {
			line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
			if err != nil && line == "" {
				return fmt.Errorf("read token: %w", err)
			}
			tok = line
		}
		tok = strings.TrimSpace(tok)
		if tok == "" {
			return errors.New("empty token")
		}
		if err := session.SaveToken(name, tok); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Token saved for session %q.\n", name)
		return nil
	},
}

var tokenClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove the stored token",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		name, _, err := session.Resolve(sessionFlag)
		if err != nil {
			return err
		}
		if err := os.Remove(session.TokenPath(name)); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Token removed for session %q.\n", name)
		return nil
	},
}
