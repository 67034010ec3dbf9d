package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/mcpcheck/internal/harness"
)

// VersionInfo is printed by the version command.
type VersionInfo struct {
	Version         string `json:"version"`
	ProtocolVersion string `json:"protocolVersion"`
}

func (v VersionInfo) String() string {
	return fmt.Sprintf("mcpcheck %s (MCP %s)", v.Version, v.ProtocolVersion)
}

// NewVersionCommand creates the version command.
func NewVersionCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the mcpcheck version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return newFormatter(rootOpts, cmd).Success(VersionInfo{
				Version:         harness.Version,
				ProtocolVersion: harness.DefaultProtocolVersion,
			})
		},
	}
}
