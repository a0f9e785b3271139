package main

import (
	"fmt"
	"io"
	"os"

	"golang.org/x/term"
)

// Test seams for the terminal.
var (
	readPassword = term.ReadPassword
	isTerminal   = func() bool { return term.IsTerminal(int(os.Stdin.Fd())) }
)

// getPassword prompts on w and reads a password without echo.
func getPassword(w io.Writer, login string) ([]byte, error) {
	if _, err := fmt.Fprintf(w, "XDM password for %s: ", login); err != nil {
		return nil, err
	}
	pw, err := readPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(w)
	if err != nil {
		return nil, err
	}
	return pw, nil
}
