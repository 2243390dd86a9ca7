package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"typing-assistant/src/config"
	"typing-assistant/src/pipeline"
	"typing-assistant/src/singleinstance"
)

type stressOptions struct {
	n        int
	overlay  bool
	deadline time.Duration
}

type counts struct {
	ok, busy, failed, absent int32
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	opts := &stressOptions{}
	cmd := newRootCmd(opts)
	return cmd.Execute()
}

func newRootCmd(opts *stressOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "stress-generate",
		Short:         "Fire concurrent delegated generations at the resident",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			client := singleinstance.NewClient(singleinstance.PortRange{Start: cfg.PortStart, End: cfg.PortEnd})
			c := runWithOptions(cmd.Context(), *opts, client)
			report(os.Stdout, *opts, c)
			return nil
		},
	}

	cmd.Flags().IntVar(&opts.n, "n", 50, "number of clients to launch")
	cmd.Flags().BoolVar(&opts.overlay, "overlay", false, "send overlay-triggered requests")
	cmd.Flags().DurationVar(&opts.deadline, "deadline", 5*time.Second, "per-client timeout")

	return cmd
}

// runWithOptions launches n concurrent delegations. All but one are expected
// to be rejected as busy while a run holds the clipboard.
func runWithOptions(ctx context.Context, opts stressOptions, client singleinstance.Client) counts {
	if ctx == nil {
		ctx = context.Background()
	}
	var c counts
	var g errgroup.Group
	for i := 0; i < opts.n; i++ {
		g.Go(func() error {
			cctx, cancel := context.WithTimeout(ctx, opts.deadline)
			defer cancel()
			delegated, _, err := client.TryGenerate(cctx, opts.overlay)
			switch {
			case !delegated && err == nil:
				atomic.AddInt32(&c.absent, 1)
			case err != nil && strings.Contains(err.Error(), pipeline.BusyMessage):
				atomic.AddInt32(&c.busy, 1)
			case err != nil:
				atomic.AddInt32(&c.failed, 1)
			default:
				atomic.AddInt32(&c.ok, 1)
			}
			return nil
		})
	}
	_ = g.Wait()
	return c
}

func report(w io.Writer, opts stressOptions, c counts) {
	fmt.Fprintf(w, "launched=%d ok=%d busy=%d err=%d no_resident=%d\n", opts.n, c.ok, c.busy, c.failed, c.absent)
}
