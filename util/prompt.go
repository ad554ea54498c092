package util

import (
	"fmt"
	"os"

	"golang.org/x/term"
)

// PromptFunc asks the user for a secret.  Tests substitute their own.
type PromptFunc func(prompt string) (string, error)

// ReadPassword prints prompt to stderr and reads a line from the
// controlling terminal without echo.
func ReadPassword(prompt string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", fmt.Errorf("cannot prompt for %q: stdin is not a terminal", prompt)
	}
	fmt.Fprint(os.Stderr, prompt)
	pass, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading password: %w", err)
	}
	return string(pass), nil
}
