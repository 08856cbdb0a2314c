package main

import (
	"context"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/pingcap/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Tsinling0525/rivulet-gen/engine"
)

type runOptions struct {
	image    string
	prompt   string
	template string
	out      string
	count    int
}

func newRunCmd(g *globalOptions) *cobra.Command {
	o := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Upload an image, run the workflow and save the result",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return o.run(cmd.Context(), g)
		},
	}
	cmd.Flags().StringVar(&o.image, "image", "", "input image path")
	cmd.Flags().StringVar(&o.prompt, "prompt", "", "text prompt")
	cmd.Flags().StringVar(&o.template, "template", "", "workflow template (defaults to workflow.template)")
	cmd.Flags().StringVar(&o.out, "out", "", "output file; with --count > 1 an index is appended")
	cmd.Flags().IntVar(&o.count, "count", 1, "number of variations to run concurrently")
	_ = cmd.MarkFlagRequired("image")
	_ = cmd.MarkFlagRequired("prompt")
	return cmd
}

func (o *runOptions) run(ctx context.Context, g *globalOptions) error {
	if o.count < 1 {
		return errors.Errorf("--count must be at least 1, got %d", o.count)
	}
	data, err := os.ReadFile(o.image)
	if err != nil {
		return errors.Trace(err)
	}
	app, err := g.app(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = app.Close(context.Background()) }()

	req := engine.Request{
		Image:        data,
		ImageName:    filepath.Base(o.image),
		ContentType:  mime.TypeByExtension(filepath.Ext(o.image)),
		Prompt:       o.prompt,
		TemplatePath: o.template,
	}

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(app.Config.Jobs.MaxConcurrent)
	for i := 0; i < o.count; i++ {
		i := i
		eg.Go(func() error {
			res, err := app.Orchestrator.RunJob(egCtx, req)
			if err != nil {
				app.Logger.Error("job failed", zap.Int("variation", i), zap.Error(err))
				return err
			}
			dest, err := o.save(egCtx, app.Files, i, res)
			if err != nil {
				return err
			}
			fmt.Printf("%s\t%s\t%s\n", res.JobID, res.Artifact.Filename, dest)
			return nil
		})
	}
	return eg.Wait()
}

type putter interface {
	Put(ctx context.Context, jobID, filename string, contents []byte, mediaType string) (string, error)
}

func (o *runOptions) save(ctx context.Context, files putter, i int, res *engine.Result) (string, error) {
	if o.out == "" {
		id, err := files.Put(ctx, string(res.JobID), res.Artifact.Filename, res.Data, res.ContentType)
		if err != nil {
			return "", err
		}
		return "store:" + string(res.JobID) + "/" + id, nil
	}
	dest := o.out
	if o.count > 1 {
		ext := filepath.Ext(dest)
		dest = fmt.Sprintf("%s_%d%s", strings.TrimSuffix(dest, ext), i, ext)
	}
	if err := os.WriteFile(dest, res.Data, 0o644); err != nil {
		return "", errors.Trace(err)
	}
	return dest, nil
}
