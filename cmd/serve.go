package cmd

import (
	"context"
	"errors"
	"time"

	"github.com/spf13/cobra"

	"github.com/itsmostafa/runpad/internal/render"
	"github.com/itsmostafa/runpad/internal/transport/ws"
)

const shutdownTimeout = 5 * time.Second

var addr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP and WebSocket API",
	Long: `Serve runs, package management and the live consoleOutput stream over
HTTP (/api/...) and a WebSocket (/ws) for editor front ends.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Flags().Changed("addr") {
			cfg.Addr = addr
		}

		sess, err := newSession()
		if err != nil {
			return err
		}
		defer sess.Close()

		srv := ws.NewServer(cfg.Addr, ws.NewMux(ws.NewHandler(sess, logger)), logger)
		render.NewPrinter(cmd.ErrOrStderr()).Header("runpad server",
			"Listening on "+cfg.Addr,
			"Store: "+cfg.StoreDir,
		)

		errCh := make(chan error, 1)
		go func() {
			errCh <- srv.Start()
		}()

		select {
		case err := <-errCh:
			return err
		case <-cmd.Context().Done():
		}

		// Stop in-flight runs first so Shutdown does not wait on them
		sess.Close()
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		return <-errCh
	},
}

func init() {
	serveCmd.Flags().StringVar(&addr, "addr", "", "Listen address (env RUNPAD_ADDR, default 127.0.0.1:7357)")

	rootCmd.AddCommand(serveCmd)
}
