// Package password resolves the gateway password for commands that talk to
// a running gateway.
package password

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// EnvPassword supplies the password without a prompt.
const EnvPassword = "RECAP_PASSWORD"

// ErrNoPassword is returned when no password is given and stdin is not a
// terminal to prompt on.
var ErrNoPassword = errors.New("no password: set --password or $" + EnvPassword)

// Resolve returns the flag value, then $RECAP_PASSWORD, then prompts on the
// terminal without echo.
func Resolve(flagValue string, out io.Writer) (string, error) {
	if flagValue != "" {
		return flagValue, nil
	}
	if env := os.Getenv(EnvPassword); env != "" {
		return env, nil
	}

	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", ErrNoPassword
	}

	fmt.Fprint(out, "Password: ")
	secret, err := term.ReadPassword(fd)
	fmt.Fprintln(out)
	if err != nil {
		return "", fmt.Errorf("reading password: %w", err)
	}

	pw := strings.TrimSpace(string(secret))
	if pw == "" {
		return "", ErrNoPassword
	}
	return pw, nil
}
