package main

import (
	"context"
	"fmt"
	"io"
	"iter"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cortexshell/cortex/pkg/models"
)

type chatOptions struct {
	model       string
	temperature float64
	topP        float64
	system      string
	cache       bool
	noCache     bool
	noStream    bool
}

func newChatCmd(root *rootOptions) *cobra.Command {
	opts := &chatOptions{}

	cmd := &cobra.Command{
		Use:   "chat [prompt...]",
		Short: "Send a prompt and stream the answer, using the response cache",
		Long: "Send a prompt and stream the answer. The prompt is read from the arguments,\n" +
			"or from stdin when no arguments are given. Repeated prompts are answered\n" +
			"from the cache unless --no-cache is set.",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(root, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			prompt, err := readPrompt(args, cmd.InOrStdin())
			if err != nil {
				return err
			}

			req := opts.request(a.cfg.Defaults.Model, a.cfg.Defaults.Stream, prompt)
			if !cmd.Flags().Changed("temperature") {
				req.Temperature = a.cfg.Defaults.Temperature
			}
			if !cmd.Flags().Changed("top-p") {
				req.TopP = a.cfg.Defaults.TopProbability
			}

			caching := a.cfg.Cache.Enabled
			if opts.cache {
				caching = true
			}
			if opts.noCache {
				caching = false
			}

			client, err := a.client()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return writeStream(ctx, cmd.OutOrStdout(), client.Complete(ctx, req, caching))
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.model, "model", "m", "", "model to use (default from config)")
	f.Float64VarP(&opts.temperature, "temperature", "t", 0, "sampling temperature")
	f.Float64Var(&opts.topP, "top-p", 0, "nucleus sampling threshold")
	f.StringVarP(&opts.system, "system", "s", "", "system prompt")
	f.BoolVar(&opts.cache, "cache", false, "cache completion results")
	f.BoolVar(&opts.noCache, "no-cache", false, "do not read or write the cache")
	f.BoolVar(&opts.noStream, "no-stream", false, "request the whole answer at once")
	cmd.MarkFlagsMutuallyExclusive("cache", "no-cache")
	return cmd
}

func (o *chatOptions) request(defaultModel string, defaultStream bool, prompt string) models.ChatCompletionRequest {
	req := models.ChatCompletionRequest{
		Model:       o.model,
		Temperature: o.temperature,
		TopP:        o.topP,
		Stream:      defaultStream && !o.noStream,
	}
	if req.Model == "" {
		req.Model = defaultModel
	}
	if o.system != "" {
		req.Messages = append(req.Messages, models.ChatMessage{Role: models.RoleSystem, Content: o.system})
	}
	req.Messages = append(req.Messages, models.ChatMessage{Role: models.RoleUser, Content: prompt})
	return req
}

func readPrompt(args []string, stdin io.Reader) (string, error) {
	if len(args) > 0 && !(len(args) == 1 && args[0] == "-") {
		return strings.Join(args, " "), nil
	}
	data, err := io.ReadAll(stdin)
	if err != nil {
		return "", fmt.Errorf("read prompt: %w", err)
	}
	prompt := strings.TrimSpace(string(data))
	if prompt == "" {
		return "", fmt.Errorf("no prompt given")
	}
	return prompt, nil
}

// writeStream prints chunks as they arrive and ends the output with a newline.
func writeStream(ctx context.Context, w io.Writer, seq iter.Seq2[string, error]) error {
	var last string
	for chunk, err := range seq {
		if err != nil {
			if ctx.Err() != nil {
				fmt.Fprintln(w)
				return fmt.Errorf("interrupted: %w", err)
			}
			return err
		}
		if _, err := io.WriteString(w, chunk); err != nil {
			return err
		}
		if chunk != "" {
			last = chunk
		}
	}
	if !strings.HasSuffix(last, "\n") {
		fmt.Fprintln(w)
	}
	return nil
}
