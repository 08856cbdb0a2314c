package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/pingcap/errors"
	"github.com/spf13/cobra"
)

// jobs subcommands talk to a running `rivulet-gen serve`.

type jobsOptions struct {
	api string
}

func newJobsCmd(_ *globalOptions) *cobra.Command {
	o := &jobsOptions{}
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect and submit jobs on a running API server",
	}
	cmd.PersistentFlags().StringVar(&o.api, "api", apiBase(), "API base URL")

	var image, prompt string
	submit := &cobra.Command{
		Use:   "submit",
		Short: "Submit a job",
		RunE: func(*cobra.Command, []string) error {
			data, err := o.submit(image, prompt)
			if err != nil {
				return err
			}
			fmt.Printf("submitted job: %s (state=%v)\n", data["id"], data["state"])
			return nil
		},
	}
	submit.Flags().StringVar(&image, "image", "", "input image path")
	submit.Flags().StringVar(&prompt, "prompt", "", "text prompt")
	_ = submit.MarkFlagRequired("image")

	ps := &cobra.Command{
		Use:   "ps",
		Short: "List jobs",
		RunE: func(*cobra.Command, []string) error {
			data, err := o.httpJSON(http.MethodGet, "/jobs", nil)
			if err != nil {
				return err
			}
			jobs, _ := data["jobs"].([]any)
			for _, it := range jobs {
				m, _ := it.(map[string]any)
				fmt.Printf("%s\t%s\t%v\t%v\n", m["id"], m["state"], m["created_at"], m["error"])
			}
			return nil
		},
	}

	get := &cobra.Command{
		Use:   "get ID",
		Short: "Show one job",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			data, err := o.httpJSON(http.MethodGet, "/jobs/"+args[0], nil)
			if err != nil {
				return err
			}
			out, _ := json.MarshalIndent(data["job"], "", "  ")
			fmt.Println(string(out))
			return nil
		},
	}

	logs := &cobra.Command{
		Use:   "logs ID",
		Short: "Print a job's log lines",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			data, err := o.httpJSON(http.MethodGet, "/jobs/"+args[0]+"/logs", nil)
			if err != nil {
				return err
			}
			lines, _ := data["logs"].([]any)
			for _, l := range lines {
				fmt.Println(l)
			}
			return nil
		},
	}

	cancel := &cobra.Command{
		Use:   "cancel ID",
		Short: "Cancel a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			_, err := o.httpJSON(http.MethodPost, "/jobs/"+args[0]+"/cancel", nil)
			return err
		},
	}

	cmd.AddCommand(submit, ps, get, logs, cancel)
	return cmd
}

func apiBase() string {
	if v := os.Getenv("RIVGEN_API"); v != "" {
		return v
	}
	port := os.Getenv("RIVGEN_SERVER_PORT")
	if port == "" {
		port = "8080"
	}
	return "http://127.0.0.1:" + port
}

var apiClient = &http.Client{Timeout: 30 * time.Second}

func (o *jobsOptions) httpJSON(method, path string, payload any) (map[string]any, error) {
	var body io.Reader = http.NoBody
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, errors.Trace(err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, o.api+path, body)
	if err != nil {
		return nil, errors.Trace(err)
	}
	req.Header.Set("Content-Type", "application/json")
	return o.do(req)
}

func (o *jobsOptions) submit(image, prompt string) (map[string]any, error) {
	data, err := os.ReadFile(image)
	if err != nil {
		return nil, errors.Trace(err)
	}
	var b bytes.Buffer
	mw := multipart.NewWriter(&b)
	fw, err := mw.CreateFormFile("image", filepath.Base(image))
	if err != nil {
		return nil, errors.Trace(err)
	}
	if _, err := fw.Write(data); err != nil {
		return nil, errors.Trace(err)
	}
	_ = mw.WriteField("prompt", prompt)
	if err := mw.Close(); err != nil {
		return nil, errors.Trace(err)
	}
	req, err := http.NewRequest(http.MethodPost, o.api+"/jobs", &b)
	if err != nil {
		return nil, errors.Trace(err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return o.do(req)
}

func (o *jobsOptions) do(req *http.Request) (map[string]any, error) {
	resp, err := apiClient.Do(req)
	if err != nil {
		return nil, errors.Trace(err)
	}
	defer resp.Body.Close()
	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, errors.Annotatef(err, "%s %s: status %d", req.Method, req.URL.Path, resp.StatusCode)
	}
	if ok, _ := out["success"].(bool); !ok {
		if msg, _ := out["error"].(string); msg != "" {
			return nil, errors.New(msg)
		}
		return nil, errors.Errorf("request failed: status %d", resp.StatusCode)
	}
	if data, _ := out["data"].(map[string]any); data != nil {
		return data, nil
	}
	return out, nil
}
