package cmd

import (
	"github.com/spf13/cobra"

	"github.com/itsmostafa/runpad/internal/transport/mcp"
	"github.com/itsmostafa/runpad/internal/version"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve runpad as MCP tools over stdio",
	Long: `Serve the run, install_package, uninstall_package and list_packages tools
to an MCP client over stdin and stdout. Logs go to stderr.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		sess, err := newSession()
		if err != nil {
			return err
		}
		defer sess.Close()

		return mcp.NewServer(sess, version.Version, logger).Run(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}
