package session

import (
	"errors"
	"fmt"
	"os"
	"strings"
)

// TokenEnv, when set, takes precedence over the token file.
const TokenEnv = "CHATSYNC_TOKEN"

// ErrNoToken means neither the environment nor the token file has a token.
var ErrNoToken = errors.New("no session token")

// Token returns the current bearer token of a session.
func Token(name string) (string, error) {
	if tok := strings.TrimSpace(os.Getenv(TokenEnv)); tok != "" {
		return tok, nil
	}
	data, err := os.ReadFile(TokenPath(name))
	if os.IsNotExist(err) {
		return "", fmt.Errorf("%w for session %q", ErrNoToken, name)
	}
	if err != nil {
		return "", fmt.Errorf("read token: %w", err)
	}
	tok := strings.TrimSpace(string(data))
	if tok == "" {
		return "", fmt.Errorf("%w for session %q", ErrNoToken, name)
	}
	return tok, nil
}

// TokenSource returns a function that re-reads the token on every call, so
// a token rewritten by the credential owner is used on the next reconnect.
func TokenSource(name string) func() string {
	return func() string {
		tok, _ := Token(name)
		return tok
	}
}

// SaveToken writes the token file with owner-only permissions.
func SaveToken(name, token string) error {
	if err := EnsureDir(name); err != nil {
		return err
	}
	return os.WriteFile(TokenPath(name), []byte(strings.TrimSpace(token)+"\n"), 0600)
}
