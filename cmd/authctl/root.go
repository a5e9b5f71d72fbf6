package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mcpauth/delegate/internal/coordinator"
	"github.com/mcpauth/delegate/internal/storage"
	"github.com/mcpauth/delegate/pkg/oauth"
)

// Exit codes, following the same convention the teacher documents for its
// own auth subcommands.
const (
	ExitCodeSuccess    = 0
	ExitCodeError      = 1
	ExitCodeAuthFailed = 2
)

var (
	serverURL   string
	storagePath string
	scope       string
	appName     string
)

var rootCmd = &cobra.Command{
	Use:   "authctl",
	Short: "Authenticate a local client against an OAuth-protected MCP server",
	Long: `authctl drives the Auth Coordinator's Local profile: a browser-based
authorization-code flow against one MCP server, with tokens persisted on
disk between invocations.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "MCP server URL to authenticate against (required)")
	rootCmd.PersistentFlags().StringVar(&storagePath, "storage-path", "", "Directory for persisted tokens (default: "+storage.DefaultStorageDir+" under $HOME)")
	rootCmd.PersistentFlags().StringVar(&scope, "scope", "", "OAuth scope to request")
	rootCmd.PersistentFlags().StringVar(&appName, "app-name", oauth.DefaultClientName, "client_name sent on dynamic client registration")

	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(logoutCmd)
}

// Execute runs the root command and translates a failed authorization
// attempt into ExitCodeAuthFailed rather than the generic ExitCodeError.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		var authFailed *authFailedError
		if errors.As(err, &authFailed) {
			os.Exit(ExitCodeAuthFailed)
		}
		os.Exit(ExitCodeError)
	}
}

type authFailedError struct{ cause error }

func (e *authFailedError) Error() string { return fmt.Sprintf("authentication failed: %v", e.cause) }
func (e *authFailedError) Unwrap() error { return e.cause }

// requireServerURL validates the one flag every subcommand needs.
func requireServerURL() error {
	if serverURL == "" {
		return fmt.Errorf("--server is required")
	}
	return nil
}

// newCoordinator builds a single-context Coordinator backed by a
// file-persisted store, so tokens survive between authctl invocations
// the way a real CLI session would expect (§4.4 "Token lifecycle").
func newCoordinator() (*coordinator.Coordinator, error) {
	store, err := storage.NewFileStore(storagePath)
	if err != nil {
		return nil, fmt.Errorf("open token storage: %w", err)
	}
	return coordinator.New(coordinator.Config{
		ContextID:   "authctl",
		Store:       store,
		OAuthClient: oauth.NewClient(),
		AppName:     appName,
		Scope:       scope,
	}), nil
}
