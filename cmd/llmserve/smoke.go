package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"llmserve/internal/smoke"
)

func newSmokeCmd(opts *rootOptions) *cobra.Command {
	var (
		addr    string
		model   string
		prompt  string
		wait    time.Duration
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:     "smoke",
		Short:   "Send one prompt to a running server and check the reply shape",
		Example: "  llmserve smoke --model llama3 --wait 5m",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			c := smoke.NewClient(addr)
			c.Logger = opts.log
			if wait > 0 {
				if err := c.WaitReady(ctx, wait, time.Second); err != nil {
					return err
				}
			}
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}
			text, err := smoke.Run(ctx, c, model, prompt)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), text)
			return err
		},
	}
	f := cmd.Flags()
	f.StringVar(&addr, "addr", envOr("LLMSERVE_SMOKE_ADDR", "127.0.0.1:8000"), "Server address (host:port or URL)")
	f.StringVar(&model, "model", "", "Model name")
	f.StringVar(&prompt, "prompt", smoke.DefaultPrompt, "Prompt to send")
	f.DurationVar(&wait, "wait", 0, "Poll readiness for up to this long before sending (0 skips)")
	f.DurationVar(&timeout, "timeout", 10*time.Minute, "Timeout for the generation request")
	_ = cmd.MarkFlagRequired("model")
	return cmd
}
