package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"
	"syscall"

	"golang.org/x/term"

	"github.com/illarion/privkeep/internal/crypto"
)

const passwordEnv = "PRIVKEEP_PASSWORD"

var errPasswordMismatch = errors.New("passwords do not match")

// stdin is shared so prompts and the shell read from one buffer
var stdin = bufio.NewReader(os.Stdin)

// ReadPassword reads a password from the terminal without echoing
func ReadPassword(prompt string) ([]byte, error) {
	fmt.Fprint(os.Stderr, prompt)

	if !term.IsTerminal(int(syscall.Stdin)) {
		line, err := stdin.ReadString('\n')
		if err != nil && line == "" {
			return nil, fmt.Errorf("failed to read password: %w", err)
		}
		return []byte(strings.TrimRight(line, "\r\n")), nil
	}

	password, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("failed to read password: %w", err)
	}
	return password, nil
}

// ReadPasswordConfirm reads a password twice and ensures they match
func ReadPasswordConfirm(prompt string) ([]byte, error) {
	password1, err := ReadPassword(prompt)
	if err != nil {
		return nil, err
	}
	defer crypto.ClearBytes(password1)

	password2, err := ReadPassword("Confirm password: ")
	if err != nil {
		return nil, err
	}
	defer crypto.ClearBytes(password2)

	if !crypto.ConstantTimeCompare(password1, password2) {
		return nil, errPasswordMismatch
	}

	result := make([]byte, len(password1))
	copy(result, password1)
	return result, nil
}

// PasswordFromEnv reads the master password from PRIVKEEP_PASSWORD
func PasswordFromEnv() []byte {
	password := os.Getenv(passwordEnv)
	if password == "" {
		return nil
	}
	return []byte(password)
}

// GetPassword returns the master password from the environment or a prompt.
// The caller clears the returned slice.
func GetPassword(prompt string) ([]byte, error) {
	if password := PasswordFromEnv(); password != nil {
		return password, nil
	}
	return ReadPassword(prompt)
}

// GetNewPassword is GetPassword with confirmation when prompting
func GetNewPassword(prompt string) ([]byte, error) {
	if password := PasswordFromEnv(); password != nil {
		return password, nil
	}
	return ReadPasswordConfirm(prompt)
}

// Confirm asks a yes/no question, defaulting to no
func Confirm(question string) bool {
	fmt.Fprintf(os.Stderr, "%s [y/N]: ", question)
	line, err := stdin.ReadString('\n')
	if err != nil && line == "" {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true
	}
	return false
}
