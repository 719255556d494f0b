package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"llmserve/internal/llm"
	"llmserve/internal/modelconfig"
	"llmserve/internal/prepare"
)

func newPrepareCmd(root *rootOptions) *cobra.Command {
	var (
		opts         prepare.Options
		instanceKind string
		timeout      time.Duration
	)
	cmd := &cobra.Command{
		Use:   "prepare",
		Short: "Lay out a model version in the repository and fetch its weights",
		Example: "  llmserve prepare --model llama3 --source hf://meta-llama/Meta-Llama-3-8B-Instruct-GGUF --include '*Q4_K_M.gguf'\n" +
			"  llmserve prepare --model mistral --backend ollama --source ollama://mistral",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}
			opts.InstanceKind = modelconfig.InstanceKind(instanceKind)
			opts.Logger = root.log
			opts.Fetch.Logger = root.log
			res, err := prepare.Run(ctx, opts)
			if err != nil {
				return fmt.Errorf("prepare %s: %w", opts.Model, err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "model:   %s (version %d, backend %s)\n", res.Config.Name, res.Layout.Version, res.Config.Backend)
			fmt.Fprintf(out, "config:  %s\n", res.Layout.ConfigPath())
			fmt.Fprintf(out, "handler: %s\n", res.Layout.HandlerPath())
			if len(res.Fetched.Files) > 0 {
				fmt.Fprintf(out, "weights: %d files, %d bytes\n", len(res.Fetched.Files), res.Fetched.Bytes)
			}
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.Repo, "repo", envOr("LLMSERVE_REPO", "~/models/llmserve"), "Model repository root")
	f.StringVar(&opts.Model, "model", "", "Model name (directory under the repository)")
	f.Int64Var(&opts.Version, "version", 1, "Model version")
	f.StringVar(&opts.Backend, "backend", llm.KindLlamaServer, "Backend: llama|llama_server|ollama")
	f.StringVar(&opts.Source, "source", "", "Weights source: hf://org/repo[@rev], gs://bucket/prefix, ollama://name or a local path")
	f.StringSliceVar(&opts.Include, "include", nil, "Glob patterns selecting files to fetch (default *.gguf)")
	f.IntVar(&opts.MaxBatchSize, "max-batch-size", 0, "Maximum rows per batch")
	f.IntSliceVar(&opts.PreferredBatchSizes, "preferred-batch-sizes", nil, "Batch sizes dispatched without waiting")
	f.DurationVar(&opts.MaxQueueDelay, "max-queue-delay", 0, "Longest a partial batch waits for more rows")
	f.IntVar(&opts.InstanceCount, "instances", 0, "Handler instances per version")
	f.StringVar(&instanceKind, "instance-kind", string(modelconfig.KindGPU), "KIND_GPU or KIND_CPU")
	f.IntVar(&opts.ContextSize, "ctx-size", 0, "Context window in tokens")
	f.IntVar(&opts.Threads, "threads", 0, "CPU threads per instance")
	f.IntVar(&opts.GPULayers, "gpu-layers", 0, "Layers offloaded to the GPU")
	f.BoolVar(&opts.WritePBTXT, "pbtxt", false, "Also write config.pbtxt")
	f.BoolVar(&opts.Overwrite, "overwrite", false, "Replace an existing config.yaml")
	f.IntVar(&opts.Fetch.Concurrency, "concurrency", 0, "Parallel file downloads")
	f.StringVar(&opts.Fetch.HFEndpoint, "hf-endpoint", envOr("HF_ENDPOINT", ""), "Hugging Face hub base URL")
	f.StringVar(&opts.Fetch.OllamaHost, "ollama-host", "", "Ollama daemon address (defaults OLLAMA_HOST)")
	f.DurationVar(&timeout, "timeout", 0, "Abort if preparation takes longer (0 disables)")
	_ = cmd.MarkFlagRequired("model")
	return cmd
}
