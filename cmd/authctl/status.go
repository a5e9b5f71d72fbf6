package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mcpauth/delegate/internal/coordinator"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show authentication status for an MCP server",
	Long: `Show the current authentication status for an MCP server, probing it
if no session has been established yet in this process.

Examples:
  authctl status --server https://mcp.example.com`,
	RunE: runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	if err := requireServerURL(); err != nil {
		return err
	}
	ctx := cmd.Context()

	c, err := newCoordinator()
	if err != nil {
		return err
	}
	defer c.Close()

	session, _ := c.EnsureConnected(ctx, serverURL)
	printStatus(session)
	return nil
}

func printStatus(session *coordinator.Session) {
	fmt.Printf("Server:  %s\n", session.ServerURL())
	fmt.Printf("State:   %s\n", session.State())

	switch {
	case session.State().IsOperational():
		fmt.Println("Status:  Authenticated")
	case session.State().RequiresUserAction():
		fmt.Println("Status:  Not authenticated")
		fmt.Println("Action:  Run: authctl login --server " + session.ServerURL())
		if challenge := session.Challenge(); challenge != nil && challenge.GetIssuer() != "" {
			fmt.Printf("Issuer:  %s\n", challenge.GetIssuer())
		}
	case session.State().IsFailed():
		fmt.Println("Status:  Connection failed")
		if lastErr := session.LastError(); lastErr != nil {
			fmt.Printf("Error:   %s\n", lastErr)
		}
	default:
		fmt.Printf("Status:  %s\n", session.State())
	}
}
