package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Clear the stored token for an MCP server",
	Long: `Clear stored OAuth tokens for an MCP server, requiring re-authentication
on the next login.

Examples:
  authctl logout --server https://mcp.example.com`,
	RunE: runLogout,
}

func runLogout(cmd *cobra.Command, args []string) error {
	if err := requireServerURL(); err != nil {
		return err
	}
	ctx := cmd.Context()

	c, err := newCoordinator()
	if err != nil {
		return err
	}
	defer c.Close()

	if err := c.ClearToken(ctx, serverURL); err != nil {
		return fmt.Errorf("failed to logout: %w", err)
	}
	fmt.Printf("Logged out from %s.\n", serverURL)
	return nil
}
