package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/mcpcheck/internal/reference"
)

// NewReferenceCommand creates the reference command.
func NewReferenceCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "reference",
		Short: "Serve the reference MCP server on stdio",
		Long: `Serve a small MCP server built on the official Go SDK over stdin/stdout.
It exposes a ping and an echo tool, one text resource and a greet prompt,
and is the known-good target for "mcpcheck run".

Example:
  mcpcheck run mcpcheck -- reference`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			parentCtx := cmd.Context()
			if parentCtx == nil {
				parentCtx = context.Background()
			}
			ctx, stop := signal.NotifyContext(parentCtx, os.Interrupt, syscall.SIGTERM)
			defer stop()

			// stdout carries the protocol; logs go to stderr
			logger := newLogger(rootOpts, cmd.ErrOrStderr())
			if err := reference.RunStdio(ctx, logger); err != nil && ctx.Err() == nil {
				return WrapExitError(ExitFailure, "reference server", err)
			}
			return nil
		},
	}
}
