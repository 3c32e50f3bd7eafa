package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/itsmostafa/runpad/internal/render"
	"github.com/itsmostafa/runpad/internal/session"
)

const (
	watchPoll     = 200 * time.Millisecond
	watchDebounce = time.Second
)

var errRunFailed = errors.New("script failed")

var watch bool

var runCmd = &cobra.Command{
	Use:   "run [file]",
	Short: "Run a script and print its output inline",
	Long: `Run a JavaScript file, or stdin when no file is given, and print each
console call under the line that made it. The value of the last expression
is shown on the last non-blank line.

With --watch the file is re-run one second after it stops changing, and a
run still going is cancelled when a newer one starts.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sess, err := newSession()
		if err != nil {
			return err
		}
		defer sess.Close()

		var collected render.Collector
		defer sess.Subscribe(collected.Add)()

		p := render.NewPrinter(cmd.OutOrStdout())

		if watch {
			if len(args) == 0 || args[0] == "-" {
				return errors.New("--watch needs a file")
			}
			return watchFile(cmd.Context(), sess, &collected, p, args[0])
		}

		source, err := readSource(cmd.InOrStdin(), args)
		if err != nil {
			return err
		}
		resp := runAndPrint(cmd.Context(), sess, &collected, p, source)
		if !resp.Success {
			return errRunFailed
		}
		return nil
	},
}

func init() {
	runCmd.Flags().BoolVarP(&watch, "watch", "w", false, "Re-run the file whenever it changes")

	rootCmd.AddCommand(runCmd)
}

func readSource(stdin io.Reader, args []string) (string, error) {
	if len(args) == 0 || args[0] == "-" {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return "", fmt.Errorf("failed to read stdin: %w", err)
		}
		return string(data), nil
	}
	data, err := os.ReadFile(args[0])
	if err != nil {
		return "", fmt.Errorf("failed to read script: %w", err)
	}
	return string(data), nil
}

func runAndPrint(ctx context.Context, sess *session.Session, collected *render.Collector, p *render.Printer, source string) session.RunResponse {
	resp := sess.Run(ctx, source)
	p.Inline(source, render.Entries(collected.Take(resp.RunID), resp))
	return resp
}

// watchFile polls path and re-runs it once its content has been stable for
// watchDebounce. Superseded runs print nothing.
func watchFile(ctx context.Context, sess *session.Session, collected *render.Collector, p *render.Printer, path string) error {
	var (
		printMu   sync.Mutex
		wg        sync.WaitGroup
		last      string
		pending   string
		changedAt time.Time
		dirty     bool
	)
	defer wg.Wait()

	start := func(source string) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp := sess.Run(ctx, source)
			outputs := collected.Take(resp.RunID)
			if resp.Superseded || ctx.Err() != nil {
				return
			}
			printMu.Lock()
			defer printMu.Unlock()
			p.Clear()
			p.Header(path, time.Now().Format(time.TimeOnly))
			p.Inline(source, render.Entries(outputs, resp))
			p.Status(resp)
		}()
	}

	initial, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read script: %w", err)
	}
	last = string(initial)
	start(last)

	ticker := time.NewTicker(watchPoll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			data, err := os.ReadFile(path)
			if err != nil {
				logger.Warn("failed to read watched file", "path", path, "error", err)
				continue
			}
			switch current := string(data); {
			case current == last:
				pending, dirty = "", false
			case current != pending:
				pending, changedAt, dirty = current, now, true
			}
			if dirty && now.Sub(changedAt) >= watchDebounce {
				last, dirty = pending, false
				start(last)
			}
		}
	}
}
