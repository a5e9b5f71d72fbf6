package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/mcpauth/delegate/internal/coordinator"
)

var (
	loginPort            int
	loginSuppressBrowser bool
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Authenticate to an MCP server",
	Long: `Authenticate to an MCP server using OAuth.

This command probes the server, and if it requires authentication, opens
a browser to complete an authorization-code flow. It blocks until the
flow finishes or fails.

Examples:
  authctl login --server https://mcp.example.com
  authctl login --server https://mcp.example.com --no-browser`,
	RunE: runLogin,
}

func init() {
	loginCmd.Flags().IntVar(&loginPort, "port", coordinator.DefaultCallbackPort, "loopback callback port (0 picks any free port)")
	loginCmd.Flags().BoolVar(&loginSuppressBrowser, "no-browser", false, "print the authorization URL instead of opening a browser")
}

func runLogin(cmd *cobra.Command, args []string) error {
	if err := requireServerURL(); err != nil {
		return err
	}
	ctx := cmd.Context()

	c, err := newCoordinator()
	if err != nil {
		return err
	}
	defer c.Close()

	session, err := c.EnsureConnected(ctx, serverURL)
	if err != nil {
		return &authFailedError{cause: err}
	}

	switch {
	case session.State().IsOperational():
		fmt.Printf("Already authenticated to %s.\n", session.ServerURL())
		return nil
	case !session.State().RequiresUserAction():
		return fmt.Errorf("unexpected session state %s after probing %s", session.State(), session.ServerURL())
	}

	fmt.Printf("Authentication required for %s.\n", session.ServerURL())

	if !loginSuppressBrowser {
		if err := c.Authenticate(ctx, session.ServerURL(), coordinator.LocalOptions{
			Port:               loginPort,
			BlockUntilCallback: true,
		}); err != nil {
			return &authFailedError{cause: err}
		}
		fmt.Printf("Authenticated to %s.\n", session.ServerURL())
		return nil
	}

	// --no-browser: start the flow without blocking so the authorization
	// URL is available to print before the callback arrives, then poll
	// GetAuthPending as local.go documents.
	if err := c.Authenticate(ctx, session.ServerURL(), coordinator.LocalOptions{
		Port:               loginPort,
		SuppressBrowser:    true,
		BlockUntilCallback: false,
	}); err != nil {
		return &authFailedError{cause: err}
	}
	fmt.Printf("Open this URL to continue: %s\n", session.AuthURL())

	for c.GetAuthPending(session.ServerURL()) {
		select {
		case <-ctx.Done():
			return &authFailedError{cause: ctx.Err()}
		case <-time.After(500 * time.Millisecond):
		}
	}
	if err := session.LastError(); err != nil {
		return &authFailedError{cause: err}
	}

	fmt.Printf("Authenticated to %s.\n", session.ServerURL())
	return nil
}
