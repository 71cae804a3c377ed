package main

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/matheus3301/chatsync/internal/config"
	"github.com/matheus3301/chatsync/internal/session"
	"github.com/spf13/cobra"
)

var (
	configInitAPIURL string
	configInitWSURL  string
	configInitForce  bool
)

func init() {
	configInitCmd.Flags().StringVar(&configInitAPIURL, "api-url", "", "REST base URL of the chat server")
	configInitCmd.Flags().StringVar(&configInitWSURL, "ws-url", "", "realtime endpoint of the chat server")
	configInitCmd.Flags().BoolVar(&configInitForce, "force", false, "overwrite the session's existing profile")

	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configInitCmd)
	rootCmd.AddCommand(configCmd)
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or create the config file",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective profile of the session",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		t, err := resolve()
		if err != nil {
			return err
		}
		if jsonOutput {
			return outputJSON(t.profile)
		}
		fmt.Printf("# session %q, from %s\n", t.name, session.ConfigPath())
		return toml.NewEncoder(os.Stdout).Encode(t.profile)
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a profile for the session into the config file",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		name, cfg, err := session.Resolve(sessionFlag)
		if err != nil {
			return err
		}
		if cfg == nil {
			cfg = &config.Config{DefaultSession: name}
		}
		if cfg.Sessions == nil {
			cfg.Sessions = make(map[string]config.Profile)
		}
		if _, exists := cfg.Sessions[name]; exists && !configInitForce {
			return fmt.Errorf("session %q already has a profile (use --force to replace it)", name)
		}

		prof := config.Profile{APIURL: configInitAPIURL, WSURL: configInitWSURL}
		cfg.Sessions[name] = prof
		if err := cfg.Profile(name).Validate(); err != nil {
			return err
		}
		if err := config.Save(session.ConfigPath(), cfg); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Profile for session %q written to %s\n", name, session.ConfigPath())
		return nil
	},
}
