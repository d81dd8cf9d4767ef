package oracle

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"golang.org/x/term"
)

// PasswordEnv is checked when no password command is configured.
const PasswordEnv = "ORACLE_PASSWORD"

// passwordCommandTimeout bounds the configured password command.
const passwordCommandTimeout = 5 * time.Second

// readPassword is replaced in tests.
var readPassword = promptForPassword

// GetPassword retrieves the target password using the following precedence:
// 1. Execute password_command if configured
// 2. Use ORACLE_PASSWORD environment variable if set
// 3. Prompt interactively for password
func GetPassword(passwordCommand string) (string, error) {
	if passwordCommand != "" {
		password, err := executePasswordCommand(passwordCommand)
		if err != nil {
			return "", fmt.Errorf("password command failed: %w", err)
		}
		return password, nil
	}

	// Set but empty still counts
	if password, exists := os.LookupEnv(PasswordEnv); exists {
		return password, nil
	}

	password, err := readPassword()
	if err != nil {
		return "", fmt.Errorf("interactive password prompt failed: %w", err)
	}
	return password, nil
}

// executePasswordCommand runs the configured password command and returns
// its trimmed stdout.
func executePasswordCommand(command string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), passwordCommandTimeout)
	defer cancel()

	// Split on spaces; no shell quoting.
	parts := strings.Fields(command)
	if len(parts) == 0 {
		return "", fmt.Errorf("empty password command")
	}

	cmd := exec.CommandContext(ctx, parts[0], parts[1:]...)

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return "", fmt.Errorf("command timed out after %s", passwordCommandTimeout)
		}
		return "", fmt.Errorf("command failed: %w (stderr: %s)", err, strings.TrimSpace(stderr.String()))
	}

	password := strings.TrimSpace(stdout.String())
	if password == "" {
		return "", fmt.Errorf("command returned empty password")
	}
	return password, nil
}

// promptForPassword prompts on stderr with hidden input.
func promptForPassword() (string, error) {
	if !term.IsTerminal(int(syscall.Stdin)) {
		return "", fmt.Errorf("stdin is not a terminal; set %s or target.password_command", PasswordEnv)
	}

	fmt.Fprint(os.Stderr, "Enter target database password: ")

	passwordBytes, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}

	fmt.Fprintln(os.Stderr)

	password := string(passwordBytes)
	if password == "" {
		return "", fmt.Errorf("empty password entered")
	}
	return password, nil
}
