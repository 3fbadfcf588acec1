package main

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
)

func buildRunCmd() *cobra.Command {
	var (
		workspace string
		specPath  string
		url       string
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start a run for a spec",
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(specPath) == "" {
				return errors.New("--spec is required")
			}
			wsAbs, err := filepath.Abs(workspace)
			if err != nil {
				return err
			}
			specAbs, err := filepath.Abs(specPath)
			if err != nil {
				return err
			}
			var resp struct {
				RunID string `json:"run_id"`
			}
			if err := newClient(url).doJSON("POST", "/v1/runs", map[string]string{
				"workspace_path": wsAbs,
				"spec_path":      specAbs,
			}, &resp); err != nil {
				return err
			}
			fmt.Println(resp.RunID)
			return nil
		},
	}
	cmd.Flags().StringVar(&workspace, "workspace", ".", "workspace path")
	cmd.Flags().StringVar(&specPath, "spec", "", "spec file path")
	cmd.Flags().StringVar(&url, "url", "", "agentd base url")
	return cmd
}

func buildAttachCmd() *cobra.Command {
	var url string
	cmd := &cobra.Command{
		Use:   "attach <run_id>",
		Short: "Tail a run's event stream",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return newClient(url).tailEvents("/v1/runs/" + args[0] + "/events")
		},
	}
	cmd.Flags().StringVar(&url, "url", "", "agentd base url")
	return cmd
}

func buildApproveCmd() *cobra.Command {
	var (
		step string
		url  string
	)
	cmd := &cobra.Command{
		Use:   "approve <run_id>",
		Short: "Approve a pending run step",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(step) == "" {
				return errors.New("--step is required")
			}
			if err := newClient(url).doJSON("POST", "/v1/runs/"+args[0]+"/approve", map[string]string{
				"step_id": step,
			}, nil); err != nil {
				return err
			}
			fmt.Println("ok")
			return nil
		},
	}
	cmd.Flags().StringVar(&step, "step", "", "step id to approve")
	cmd.Flags().StringVar(&url, "url", "", "agentd base url")
	return cmd
}

func buildCancelCmd() *cobra.Command {
	var url string
	cmd := &cobra.Command{
		Use:   "cancel <run_id>",
		Short: "Request cancellation of a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := newClient(url).doJSON("POST", "/v1/runs/"+args[0]+"/cancel", nil, nil); err != nil {
				return err
			}
			fmt.Println("ok")
			return nil
		},
	}
	cmd.Flags().StringVar(&url, "url", "", "agentd base url")
	return cmd
}

func buildListCmd() *cobra.Command {
	var url string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			var runs []map[string]any
			if err := newClient(url).doJSON("GET", "/v1/runs", nil, &runs); err != nil {
				return err
			}
			for _, r := range runs {
				fmt.Printf("%s  %-18s  %s\n", r["id"], r["status"], r["spec_path"])
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&url, "url", "", "agentd base url")
	return cmd
}

func buildExportCmd() *cobra.Command {
	var (
		out string
		url string
	)
	cmd := &cobra.Command{
		Use:   "export <run_id>",
		Short: "Export a run as a zip archive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(out) == "" {
				return errors.New("--out is required")
			}
			if err := newClient(url).download("/v1/runs/"+args[0]+"/export", out); err != nil {
				return err
			}
			fmt.Printf("wrote %s\n", out)
			return nil
		},
	}
	cmd.Flags().StringVar(&out, "out", "", "output zip path")
	cmd.Flags().StringVar(&url, "url", "", "agentd base url")
	return cmd
}
