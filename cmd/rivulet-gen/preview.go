package main

import (
	"context"
	"fmt"
	"mime"
	"os"
	"path/filepath"

	"github.com/pingcap/errors"
	"github.com/spf13/cobra"

	"github.com/Tsinling0525/rivulet-gen/plugin"
)

type previewOptions struct {
	prompt string
	image  string
	out    string
}

func newPreviewCmd(g *globalOptions) *cobra.Command {
	o := &previewOptions{}
	cmd := &cobra.Command{
		Use:   "preview",
		Short: "Ask the preview provider for a quick result",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return o.run(cmd.Context(), g)
		},
	}
	cmd.Flags().StringVar(&o.prompt, "prompt", "", "text prompt")
	cmd.Flags().StringVar(&o.image, "image", "", "optional input image")
	cmd.Flags().StringVar(&o.out, "out", "preview.png", "where to write an image answer")
	_ = cmd.MarkFlagRequired("prompt")
	return cmd
}

func (o *previewOptions) run(ctx context.Context, g *globalOptions) error {
	app, err := g.app(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = app.Close(context.Background()) }()
	if app.Preview == nil {
		return errors.Annotate(app.PreviewErr, "preview provider")
	}

	req := plugin.Request{Prompt: o.prompt}
	if o.image != "" {
		req.Image, err = os.ReadFile(o.image)
		if err != nil {
			return errors.Trace(err)
		}
		req.ImageType = mime.TypeByExtension(filepath.Ext(o.image))
	}
	resp, err := app.Preview.Preview(ctx, req)
	if err != nil {
		return err
	}

	if resp.Degraded {
		fmt.Fprintf(os.Stderr, "warning: %s unavailable after %d attempts, showing offline preview\n",
			app.Config.Preview.Provider, resp.Attempts)
	}
	if resp.Text != "" {
		fmt.Println(resp.Text)
	}
	if len(resp.Image) > 0 {
		if err := os.WriteFile(o.out, resp.Image, 0o644); err != nil {
			return errors.Trace(err)
		}
		fmt.Printf("image written to %s\n", o.out)
	}
	return nil
}
