// Package secret resolves the sudo password a work item needs for its
// activate/confirm SSH sessions: interactively from the terminal, from a
// sops-encrypted secret store, or from the local encrypted cache
// (SPEC_FULL.md §4.3 expansion).
package secret

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/term"
)

// PromptPassword asks the user for a sudo password on the controlling
// terminal with echo disabled, the way the sudo(1) prompt itself does.
// It fails fast if stdin is not a terminal rather than hanging on a read
// that can never produce the expected newline-terminated input.
func PromptPassword(prompt string, args ...interface{}) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", fmt.Errorf("not in a terminal, sudo password prompt cannot be shown")
	}

	oldState, err := term.MakeRaw(fd)
	if err != nil {
		return "", fmt.Errorf("setting terminal raw mode: %w", err)
	}
	defer func() {
		_ = term.Restore(fd, oldState)
		fmt.Println()
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigs)
	go func() {
		if _, ok := <-sigs; ok {
			_ = term.Restore(fd, oldState)
			fmt.Println()
			os.Exit(1)
		}
	}()

	fmt.Printf(prompt, args...)
	pw, err := term.ReadPassword(fd)
	if err != nil {
		return "", fmt.Errorf("reading sudo password: %w", err)
	}
	return string(pw), nil
}
