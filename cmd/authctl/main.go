// Command authctl is a demonstration CLI for the Auth Coordinator's Local
// profile (§4.4): it drives a browser-based authorization-code flow
// against one MCP server at a time and reports on the resulting Session,
// grounded on the teacher's own `auth login`/`auth status`/`auth logout`
// subcommands.
package main

func main() {
	Execute()
}
