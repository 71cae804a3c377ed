package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/matheus3301/chatsync/internal/api"
	"github.com/matheus3301/chatsync/internal/config"
	"github.com/matheus3301/chatsync/internal/session"
	"github.com/spf13/cobra"
)

var (
	sessionFlag string
	jsonOutput  bool
)

var rootCmd = &cobra.Command{
	Use:   "chatctl",
	Short: "chatsync command-line client",
	Long: "One-shot commands against a chatsync session: inspect local state, manage the token\n" +
		"and config, and call the chat server's REST API directly.",
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&sessionFlag, "session", "", "session name (overrides $"+session.SessionEnv+" and config default)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// target is the session a command runs against.
type target struct {
	name    string
	config  *config.Config
	profile config.Profile
}

func resolve() (target, error) {
	name, cfg, err := session.Resolve(sessionFlag)
	if err != nil {
		return target{}, err
	}
	prof := cfg.Profile(name)
	if err := prof.Validate(); err != nil {
		return target{}, fmt.Errorf("session %q: %w", name, err)
	}
	return target{name: name, config: cfg, profile: prof}, nil
}

// newClient builds a REST client for the session. The returned cancel stops
// the client's cache janitor.
func newClient(historyLimit int) (*api.Client, target, context.CancelFunc, error) {
	t, err := resolve()
	if err != nil {
		return nil, target{}, nil, err
	}
	if _, err := session.Token(t.name); err != nil {
		return nil, target{}, nil, fmt.Errorf("%w (set one with: chatctl token set)", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := api.New(ctx, t.profile.APIURL, session.TokenSource(t.name),
		api.WithTimeout(t.profile.RequestTimeout.Duration),
		api.WithHistoryLimit(historyLimit),
	)
	return c, t, cancel, nil
}

func requestContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 30*time.Second)
}

func outputJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func valueOrDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
