// Package session locates a named chat session's files: its token, lock and logs.
package session

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"regexp"

	"github.com/matheus3301/chatsync/internal/config"
)

const (
	DefaultSessionName = "main"
	// SessionEnv selects the session when no flag is given.
	SessionEnv = "CHATSYNC_SESSION"
)

var nameRegexp = regexp.MustCompile(`^[a-z0-9_-]{1,64}$`)

// ValidateName checks that name is usable as a directory name.
func ValidateName(name string) error {
	if !nameRegexp.MatchString(name) {
		return fmt.Errorf("invalid session name %q: must match ^[a-z0-9_-]{1,64}$", name)
	}
	return nil
}

// Resolve picks the session name, first match wins: flagOverride,
// $CHATSYNC_SESSION, default_session from config.toml, "main". It also
// returns the loaded config, nil when the file is absent.
func Resolve(flagOverride string) (string, *config.Config, error) {
	cfg, err := config.Load(ConfigPath())
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return "", nil, fmt.Errorf("load %s: %w", ConfigPath(), err)
		}
		cfg = nil
	}

	name := flagOverride
	if name == "" {
		name = os.Getenv(SessionEnv)
	}
	if name == "" && cfg != nil {
		name = cfg.DefaultSession
	}
	if name == "" {
		name = DefaultSessionName
	}
	if err := ValidateName(name); err != nil {
		return "", nil, err
	}
	return name, cfg, nil
}
