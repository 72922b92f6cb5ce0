package cli

import (
	"context"

	"github.com/spf13/cobra"
	"github.com/tansive/instant-example/pkg/instant"
)

// newCreateCmd creates and returns the create command
func newCreateCmd() *cobra.Command {
	var field string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Start a new collaboration session",
		Long: `Ask the backend for a new Instant collaboration session and print the
document identifier, access token and the link others can use to join.

Examples:
  instant-example create
  instant-example create --field url`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := requestDocument(cmd.Context(), GetConfig(), func(ctx context.Context, c *instant.Client, done instant.CompletionHandler) {
				c.CreateSession(ctx, done)
			})
			if err != nil {
				return err
			}
			return printDocument(cmd.OutOrStdout(), doc, field)
		},
	}
	cmd.Flags().StringVar(&field, "field", "", "Print only this field of the JSON output (gjson path)")
	return cmd
}
