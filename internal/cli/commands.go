package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/tansive/instant-example/internal/common/logtrace"
)

var (
	// Global flags
	jsonOutput bool
	configFile string
	logLevel   string
	prettyLogs bool
)

var okLabel = color.New(color.FgGreen)
var errorLabel = color.New(color.FgRed)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "instant-example [command] [flags]",
	Short: "Create or join PSPDFKit Instant example sessions",
	Long: `instant-example talks to the PSPDFKit web-examples backend to start a new
Instant collaboration session or to look up an existing one from its link.
It prints the document identifier and the access token needed to open the
shared document.

Examples:
  # Start a new collaboration session
  instant-example create

  # Join an existing session from its shared link
  instant-example resolve https://web-examples.pspdfkit.com/instant/abcdef

  # Print only the token as plain text
  instant-example create --json --field token`,
	PersistentPreRunE: preRunHandlePersistents,
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

func init() {
	// Set up persistent flags
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "", "", "Path to configuration file to override default")
	rootCmd.PersistentFlags().BoolVarP(&jsonOutput, "json", "j", false, "Output in JSON format")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&prettyLogs, "pretty-logs", false, "Write human readable logs instead of JSON")

	// Add commands
	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newCreateCmd())
	rootCmd.AddCommand(newResolveCmd())
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute(ctx context.Context) {
	rootCmd.SilenceErrors = true // Prevent Cobra from printing the error
	rootCmd.SilenceUsage = true  // Prevent Cobra from printing usage on error

	err := rootCmd.ExecuteContext(ctx)
	if err != nil {
		if jsonOutput {
			kv := map[string]string{
				"error": err.Error(),
			}
			printJSON(os.Stdout, kv)
		} else {
			errorLabel.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}

// preRunHandlePersistents sets up logging and loads the configuration before command execution
func preRunHandlePersistents(cmd *cobra.Command, args []string) error {
	level, err := logtrace.ParseLevel(logLevel)
	if err != nil {
		return fmt.Errorf("invalid --log-level: %w", err)
	}
	logtrace.InitLogger(level, prettyLogs)

	if cmd.Name() == "version" {
		return nil
	}
	return LoadConfig(configFile)
}

// newVersionCmd creates and returns a new version command
func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version number of instant-example",
		Run: func(cmd *cobra.Command, args []string) {
			configPath, err := GetDefaultConfigPath()
			if err != nil {
				configPath = "unknown"
			}

			if jsonOutput {
				kv := map[string]string{
					"version":     getCLIVersion(),
					"config_file": configPath,
				}
				printJSON(cmd.OutOrStdout(), kv)
			} else {
				cmd.Printf("instant-example %s\n", getCLIVersion())
				cmd.Printf("Config file: %s\n", configPath)
			}
		},
	}
}

// printJSON writes the given value as indented JSON
func printJSON(w io.Writer, data any) {
	jsonData, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Fprintln(w, string(jsonData))
}

// getCLIVersion returns the current CLI version
func getCLIVersion() string {
	return "v0.1.0"
}
