package main

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
)

func buildInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Scaffold AGENTS.md, specs/, and diagram sources in the current directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			cwd, err := os.Getwd()
			if err != nil {
				return err
			}
			write := func(rel, content string) error {
				path := filepath.Join(cwd, rel)
				if !force {
					if _, err := os.Stat(path); err == nil {
						fmt.Printf("[init] exists, skipping: %s\n", rel)
						return nil
					}
				}
				if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
					return err
				}
				return os.WriteFile(path, []byte(content), 0o644)
			}

			agents := `# AGENTS.md

Project-specific instructions for coding agents.

## Build
- go test ./...

## Safety
- Destructive commands require approval.
`
			if err := write("AGENTS.md", agents); err != nil {
				return err
			}
			if err := write("docs/diagrams/README.md", "Diagram sources (.mmd/.dac) and exported PNGs live here.\n"); err != nil {
				return err
			}
			if err := write("docs/diagrams/agent-harness.mmd", "flowchart LR\n  A[spec]-->B[agent]\n"); err != nil {
				return err
			}
			if err := write("specs/README.md", "# Specs\n\nSpecs live in specs/<name>/spec.md\n"); err != nil {
				return err
			}
			if err := write("specs/example/spec.md", "# Example spec\n\nDescribe the goal + acceptance tests.\n"); err != nil {
				return err
			}
			fmt.Println("[init] done")
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite existing files")
	return cmd
}

func buildSpecCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "spec",
		Short: "Create and generate specs",
	}
	cmd.AddCommand(buildSpecNewCmd(), buildSpecPromptCmd())
	return cmd
}

func buildSpecNewCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "new <name>",
		Short: "Scaffold a spec under specs/<name>/",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			cwd, err := os.Getwd()
			if err != nil {
				return err
			}
			dir := filepath.Join(cwd, "specs", name)
			if err := os.MkdirAll(filepath.Join(dir, "diagrams"), 0o755); err != nil {
				return err
			}
			specPath := filepath.Join(dir, "spec.md")
			if _, err := os.Stat(specPath); err == nil {
				fmt.Printf("[spec] exists: %s\n", specPath)
				return nil
			}

			content := fmt.Sprintf(`---
name: %s
status: draft
---

# Goal

Describe what you want built.

# Constraints / nuances

- Destructive commands require approval.

# Acceptance tests

- go test ./...
`, name)
			if err := os.WriteFile(specPath, []byte(content), 0o644); err != nil {
				return err
			}
			mmd := "flowchart LR\n  A[idea]-->B[done]\n"
			if err := os.WriteFile(filepath.Join(dir, "diagrams", "diagram.mmd"), []byte(mmd), 0o644); err != nil {
				return err
			}
			fmt.Printf("[spec] created: %s\n", specPath)
			return nil
		},
	}
	return cmd
}

func buildSpecPromptCmd() *cobra.Command {
	var (
		prompt     string
		promptFile string
		workspace  string
		overwrite  bool
		printSpec  bool
		url        string
	)
	cmd := &cobra.Command{
		Use:   "prompt <name>",
		Short: "Generate a spec from a prompt via the daemon",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			promptText := strings.TrimSpace(prompt)
			if promptText == "" && strings.TrimSpace(promptFile) != "" {
				b, err := os.ReadFile(promptFile)
				if err != nil {
					return err
				}
				promptText = strings.TrimSpace(string(b))
			}
			if promptText == "" {
				return errors.New("prompt text is required")
			}
			wsAbs, err := filepath.Abs(workspace)
			if err != nil {
				return err
			}
			var resp struct {
				SpecPath string `json:"spec_path"`
				Content  string `json:"content"`
			}
			if err := newClient(url).doJSON("POST", "/v1/specs/generate", map[string]any{
				"workspace_path": wsAbs,
				"spec_name":      args[0],
				"prompt":         promptText,
				"overwrite":      overwrite,
			}, &resp); err != nil {
				return err
			}
			fmt.Println(resp.SpecPath)
			if printSpec {
				fmt.Println(resp.Content)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&prompt, "prompt", "", "prompt text")
	cmd.Flags().StringVar(&promptFile, "prompt-file", "", "path to prompt text")
	cmd.Flags().StringVar(&workspace, "workspace", ".", "workspace path")
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "overwrite existing spec")
	cmd.Flags().BoolVar(&printSpec, "print", false, "print generated spec")
	cmd.Flags().StringVar(&url, "url", "", "agentd base url")
	return cmd
}

func buildModelsCmd() *cobra.Command {
	var url string
	cmd := &cobra.Command{
		Use:   "models",
		Short: "List available models and the routing policy",
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp struct {
				Models []map[string]any `json:"models"`
				Policy map[string]any   `json:"policy"`
			}
			if err := newClient(url).doJSON("GET", "/v1/models", nil, &resp); err != nil {
				return err
			}
			for _, m := range resp.Models {
				fmt.Printf("%-40s  tools=%v vision=%v\n", m["id"], m["supports_tools"], m["supports_vision"])
			}
			fmt.Printf("policy: %v\n", resp.Policy)
			return nil
		},
	}
	cmd.Flags().StringVar(&url, "url", "", "agentd base url")
	return cmd
}

func buildDoctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check for external tools the harness shells out to",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println("doctor:")
			check("git")
			check("rg (ripgrep)")
			check("mmdc (mermaid-cli)")
			check("awsdac (diagram-as-code)")
			fmt.Println("notes:")
			fmt.Println("- For Mermaid diagrams, you can also use `npx -y @mermaid-js/mermaid-cli`.")
			fmt.Println("- For remote access, prefer an authenticated tunnel.")
			return nil
		},
	}
}

func check(tool string) {
	name := strings.Split(tool, " ")[0]
	path, err := exec.LookPath(name)
	if err != nil {
		fmt.Printf("  - %-18s MISSING\n", tool)
		return
	}
	fmt.Printf("  - %-18s OK (%s)\n", tool, path)
}
