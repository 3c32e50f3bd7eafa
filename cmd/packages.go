package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/itsmostafa/runpad/internal/render"
)

var installCmd = &cobra.Command{
	Use:   "install <package>...",
	Short: "Install npm packages into the dependency store",
	Long: `Install one or more npm packages (name or name@version) into the
dependency store so scripts can require them.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sess, err := newSession()
		if err != nil {
			return err
		}
		defer sess.Close()

		p := render.NewPrinter(cmd.OutOrStdout())
		failed := 0
		for _, name := range args {
			resp := sess.InstallPackage(cmd.Context(), name)
			p.Package("installed", name, resp)
			if !resp.Success {
				failed++
			}
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d installs failed", failed, len(args))
		}
		return nil
	},
}

var uninstallCmd = &cobra.Command{
	Use:     "uninstall <package>...",
	Aliases: []string{"remove", "rm"},
	Short:   "Remove npm packages from the dependency store",
	Args:    cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sess, err := newSession()
		if err != nil {
			return err
		}
		defer sess.Close()

		p := render.NewPrinter(cmd.OutOrStdout())
		failed := 0
		for _, name := range args {
			resp := sess.UninstallPackage(cmd.Context(), name)
			p.Package("uninstalled", name, resp)
			if !resp.Success {
				failed++
			}
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d uninstalls failed", failed, len(args))
		}
		return nil
	},
}

var packagesCmd = &cobra.Command{
	Use:     "packages",
	Aliases: []string{"ls", "list"},
	Short:   "List installed packages",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		sess, err := newSession()
		if err != nil {
			return err
		}
		defer sess.Close()

		resp := sess.GetPackages(cmd.Context())
		if !resp.Success {
			return errors.New(resp.Error)
		}
		render.NewPrinter(cmd.OutOrStdout()).Packages(resp.Packages)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(installCmd)
	rootCmd.AddCommand(uninstallCmd)
	rootCmd.AddCommand(packagesCmd)
}
