package main

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"syscall"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/term"
)

const minPasswordLength = 8

var (
	errPasswordMismatch = errors.New("passwords do not match")
	errPasswordTooShort = fmt.Errorf("password must be at least %d characters", minPasswordLength)
	errPasswordTooLong  = errors.New("password must be at most 72 bytes")
)

// passwordReader reads one secret. The terminal reader disables echo.
type passwordReader func(prompt string) ([]byte, error)

func main() {
	if len(os.Args) < 2 {
		printUsage(os.Stdout)
		os.Exit(1)
	}

	read := lineReader(os.Stdin, os.Stderr)
	if term.IsTerminal(int(syscall.Stdin)) {
		read = terminalReader
	}

	switch command := os.Args[1]; command {
	case "hash":
		hash, err := hashCommand(read, bcrypt.DefaultCost)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(hash)
	case "verify":
		hash := os.Getenv("AUTH_PASSWORD_HASH")
		if len(os.Args) > 2 {
			hash = os.Args[2]
		}
		if err := verifyCommand(read, hash); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("Password matches.")
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", sanitizeCommand(command)) //nolint:gosec // G705 - only [a-zA-Z0-9_-] pass sanitizeCommand
		printUsage(os.Stdout)
		os.Exit(1)
	}
}

// sanitizeCommand returns a safe representation of a command string for display.
// Any character that is not alphanumeric, a hyphen, or an underscore becomes '_'.
func sanitizeCommand(cmd string) string {
	var b strings.Builder
	b.Grow(len(cmd))
	for _, r := range cmd {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '-' || r == '_' {
			b.WriteRune(r)
		} else {
			b.WriteRune('_')
		}
	}
	return b.String()
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "WhatsApp Video Helper Password Tool")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Usage: hashpw <command>")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  hash            - Read a password and print its bcrypt hash")
	fmt.Fprintln(w, "  verify [hash]   - Check a password against a hash")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Environment:")
	fmt.Fprintln(w, "  AUTH_PASSWORD_HASH - Hash checked by verify when none is given")
}

func terminalReader(prompt string) ([]byte, error) {
	fmt.Fprint(os.Stderr, prompt)
	password, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr)
	return password, err
}

// lineReader reads newline-separated secrets, for piped input.
func lineReader(r io.Reader, prompts io.Writer) passwordReader {
	scanner := bufio.NewScanner(r)
	return func(prompt string) ([]byte, error) {
		fmt.Fprint(prompts, prompt)
		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				return nil, err
			}
			return nil, io.ErrUnexpectedEOF
		}
		return bytes.TrimRight(scanner.Bytes(), "\r"), nil
	}
}

func validatePassword(password, confirm []byte) error {
	if !bytes.Equal(password, confirm) {
		return errPasswordMismatch
	}
	if len(password) < minPasswordLength {
		return errPasswordTooShort
	}
	// bcrypt ignores everything past 72 bytes.
	if len(password) > 72 {
		return errPasswordTooLong
	}
	return nil
}

func hashCommand(read passwordReader, cost int) (string, error) {
	password, err := read("New Password: ")
	if err != nil {
		return "", fmt.Errorf("reading password: %w", err)
	}
	password = bytes.Clone(password)

	confirm, err := read("Confirm Password: ")
	if err != nil {
		return "", fmt.Errorf("reading password: %w", err)
	}

	if err := validatePassword(password, confirm); err != nil {
		return "", err
	}

	hash, err := bcrypt.GenerateFromPassword(password, cost)
	if err != nil {
		return "", fmt.Errorf("hashing password: %w", err)
	}
	return string(hash), nil
}

func verifyCommand(read passwordReader, hash string) error {
	if hash == "" {
		return errors.New("no hash given and AUTH_PASSWORD_HASH is not set")
	}
	if _, err := bcrypt.Cost([]byte(hash)); err != nil {
		return fmt.Errorf("invalid hash: %w", err)
	}

	password, err := read("Password: ")
	if err != nil {
		return fmt.Errorf("reading password: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), password); err != nil {
		return errors.New("password does not match")
	}
	return nil
}
