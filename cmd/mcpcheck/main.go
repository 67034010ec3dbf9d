// Command mcpcheck checks MCP servers for protocol compliance.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/mcpcheck/internal/cli"
)

func main() {
	err := cli.NewRootCommand().Execute()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
	}
	os.Exit(cli.GetExitCode(err))
}
