package cli

import (
	"context"
	"fmt"
	"net/url"

	"github.com/spf13/cobra"
	"github.com/tansive/instant-example/pkg/instant"
)

// newResolveCmd creates and returns the resolve command
func newResolveCmd() *cobra.Command {
	var field string
	cmd := &cobra.Command{
		Use:   "resolve URL",
		Short: "Join an existing collaboration session from its link",
		Long: `Look up an existing Instant collaboration session from the link shared by
another participant and print the document identifier and access token.

Examples:
  instant-example resolve https://web-examples.pspdfkit.com/instant/abcdef`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			u, err := url.Parse(args[0])
			if err != nil || !u.IsAbs() || u.Host == "" {
				return fmt.Errorf("invalid session URL: %q", args[0])
			}
			doc, err := requestDocument(cmd.Context(), GetConfig(), func(ctx context.Context, c *instant.Client, done instant.CompletionHandler) {
				c.ResolveSessionURL(ctx, u, done)
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
