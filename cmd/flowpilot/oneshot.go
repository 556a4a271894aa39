package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"flowpilot-go/application/session"
	"flowpilot-go/domain/generation"
)

func newGenerateCmd(flags *globalFlags) *cobra.Command {
	var (
		images    []string
		outDir    string
		timeoutMs int
	)

	cmd := &cobra.Command{
		Use:   "generate <prompt>",
		Short: "Generate images for a prompt and save them as PNG files",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			a, err := newApp(ctx, cmd, flags)
			if err != nil {
				return err
			}
			defer a.close()

			if err := a.start(ctx); err != nil {
				return err
			}

			start := time.Now()
			result, err := a.coord.GenerateRequest(ctx, generation.Request{
				Prompt:          args[0],
				ReferenceImages: images,
				TimeoutMs:       timeoutMs,
			})
			if err != nil {
				return err
			}

			paths, err := session.SaveImages(outDir, "generated", result.Images)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Generated %d image(s) in %s\n", len(paths), time.Since(start).Round(time.Millisecond))
			for _, p := range paths {
				fmt.Fprintln(out, p)
			}
			return nil
		},
	}
	cmd.Flags().StringArrayVarP(&images, "image", "i", nil, "reference image to upload (repeatable, in order)")
	cmd.Flags().StringVarP(&outDir, "out", "o", "out", "directory for the generated PNG files")
	cmd.Flags().IntVar(&timeoutMs, "timeout-ms", 0, "result wait bound in milliseconds (0 uses config)")
	return cmd
}

func newUpscaleCmd(flags *globalFlags) *cobra.Command {
	var (
		outDir string
		scale  string
	)

	cmd := &cobra.Command{
		Use:   "upscale <prompt> <index>",
		Short: "Download an upscaled version of a generated image",
		Long: `Finds the index-th result image whose alt text contains the prompt
and downloads it through the export menu at the requested scale.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			index, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("index must be an integer: %w", err)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			a, err := newApp(ctx, cmd, flags)
			if err != nil {
				return err
			}
			defer a.close()

			if err := a.start(ctx); err != nil {
				return err
			}
			if err := generateFirst(ctx, a, args[0]); err != nil {
				return err
			}

			data, err := a.coord.Upscale(ctx, args[0], index, scale)
			if err != nil {
				return err
			}

			if err := os.MkdirAll(outDir, 0755); err != nil {
				return err
			}
			path := filepath.Join(outDir, fmt.Sprintf("upscaled_%s_%d.png", scale, index))
			if err := os.WriteFile(path, data, 0644); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Upscaled image saved to %s (%d bytes)\n", path, len(data))
			return nil
		},
	}
	cmd.Flags().StringVarP(&outDir, "out", "o", "out", "directory for the upscaled PNG")
	cmd.Flags().StringVarP(&scale, "scale", "s", string(generation.Scale2K), "upscale size: 1K, 2K or 4K")
	return cmd
}

// generateFirst creates results for prompt in the fresh session so there is
// something to upscale; a new browser profile shows no earlier results.
func generateFirst(ctx context.Context, a *app, prompt string) error {
	if _, err := a.coord.Generate(ctx, prompt, nil); err != nil {
		return fmt.Errorf("failed to generate images to upscale: %w", err)
	}
	return nil
}
