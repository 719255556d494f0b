package main

import (
	"bytes"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"llmserve/internal/common/fsutil"
	"llmserve/internal/modelconfig"
)

func newRenderCmd() *cobra.Command {
	var write bool
	cmd := &cobra.Command{
		Use:     "render <config.yaml>",
		Short:   "Validate a model config and print it as config.pbtxt",
		Example: "  llmserve config render ~/models/llmserve/llama3/config.yaml --write",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := fsutil.ExpandHome(args[0])
			if err != nil {
				return err
			}
			cfg, err := modelconfig.Load(path)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
			out, err := modelconfig.RenderPBTXT(cfg)
			if err != nil {
				return err
			}
			if !write {
				_, err = fmt.Fprint(cmd.OutOrStdout(), out)
				return err
			}
			dest := filepath.Join(filepath.Dir(path), "config.pbtxt")
			if _, err := fsutil.WriteFileAtomic(dest, bytes.NewBufferString(out)); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), dest)
			return nil
		},
	}
	cmd.Flags().BoolVar(&write, "write", false, "Write config.pbtxt next to the input instead of printing it")
	return cmd
}
