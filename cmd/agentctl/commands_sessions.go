package main

import (
	"encoding/base64"
	"errors"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
)

func buildSessionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Manage chat and spec sessions",
	}
	cmd.AddCommand(
		buildSessionNewCmd(),
		buildSessionMessageCmd(),
		buildSessionAttachCmd(),
		buildSessionApproveCmd(),
		buildSessionCancelCmd(),
		buildSessionEventsCmd(),
	)
	return cmd
}

func buildSessionNewCmd() *cobra.Command {
	var (
		workspace string
		system    string
		mode      string
		specPath  string
		url       string
	)
	cmd := &cobra.Command{
		Use:   "new",
		Short: "Create a session",
		RunE: func(cmd *cobra.Command, args []string) error {
			wsAbs, err := filepath.Abs(workspace)
			if err != nil {
				return err
			}
			var resp struct {
				SessionID string `json:"session_id"`
				SpecPath  string `json:"spec_path"`
			}
			if err := newClient(url).doJSON("POST", "/v1/sessions", map[string]string{
				"workspace_path": wsAbs,
				"system_prompt":  system,
				"mode":           mode,
				"spec_path":      strings.TrimSpace(specPath),
			}, &resp); err != nil {
				return err
			}
			fmt.Println(resp.SessionID)
			if resp.SpecPath != "" {
				fmt.Println(resp.SpecPath)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&workspace, "workspace", ".", "workspace path")
	cmd.Flags().StringVar(&system, "system", "", "system prompt")
	cmd.Flags().StringVar(&mode, "mode", "chat", "session mode (chat|spec)")
	cmd.Flags().StringVar(&specPath, "spec", "", "spec path (optional for spec mode)")
	cmd.Flags().StringVar(&url, "url", "", "agentd base url")
	return cmd
}

func buildSessionMessageCmd() *cobra.Command {
	var (
		text     string
		ref      string
		partType string
		mimeType string
		role     string
		autoRun  bool
		url      string
	)
	cmd := &cobra.Command{
		Use:   "message <session_id>",
		Short: "Append a message and start a turn",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			type part struct {
				Type     string `json:"type"`
				Text     string `json:"text,omitempty"`
				Ref      string `json:"ref,omitempty"`
				MimeType string `json:"mime_type,omitempty"`
			}
			var parts []part
			if strings.TrimSpace(text) != "" {
				parts = append(parts, part{Type: "text", Text: text})
			}
			if strings.TrimSpace(ref) != "" {
				typ := strings.TrimSpace(partType)
				if typ == "" {
					if strings.HasPrefix(mimeType, "image/") {
						typ = "image"
					} else {
						typ = "file"
					}
				}
				parts = append(parts, part{Type: typ, Ref: ref, MimeType: mimeType})
			}
			if len(parts) == 0 {
				return errors.New("message requires --text or --ref")
			}
			var resp struct {
				MessageID string `json:"message_id"`
				TurnID    string `json:"turn_id"`
			}
			if err := newClient(url).doJSON("POST", "/v1/sessions/"+args[0]+"/messages", map[string]any{
				"role":     role,
				"parts":    parts,
				"auto_run": autoRun,
			}, &resp); err != nil {
				return err
			}
			fmt.Printf("%s %s\n", resp.MessageID, resp.TurnID)
			return nil
		},
	}
	cmd.Flags().StringVar(&text, "text", "", "message text")
	cmd.Flags().StringVar(&ref, "ref", "", "attachment ref")
	cmd.Flags().StringVar(&partType, "type", "", "part type (text|image|audio|file)")
	cmd.Flags().StringVar(&mimeType, "mime", "", "mime type for ref")
	cmd.Flags().StringVar(&role, "role", "user", "message role")
	cmd.Flags().BoolVar(&autoRun, "auto-run", true, "start a turn automatically")
	cmd.Flags().StringVar(&url, "url", "", "agentd base url")
	return cmd
}

func buildSessionAttachCmd() *cobra.Command {
	var (
		filePath string
		name     string
		mimeType string
		url      string
	)
	cmd := &cobra.Command{
		Use:   "attach <session_id>",
		Short: "Upload an attachment to a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(filePath) == "" {
				return errors.New("--file is required")
			}
			content, err := os.ReadFile(filePath)
			if err != nil {
				return err
			}
			filename := strings.TrimSpace(name)
			if filename == "" {
				filename = filepath.Base(filePath)
			}
			mt := strings.TrimSpace(mimeType)
			if mt == "" {
				mt = detectMime(filename)
			}
			var resp struct {
				Ref      string `json:"ref"`
				MimeType string `json:"mime_type"`
			}
			if err := newClient(url).doJSON("POST", "/v1/sessions/"+args[0]+"/attachments", map[string]string{
				"name":           filename,
				"mime_type":      mt,
				"content_base64": base64.StdEncoding.EncodeToString(content),
			}, &resp); err != nil {
				return err
			}
			fmt.Printf("%s %s\n", resp.Ref, resp.MimeType)
			return nil
		},
	}
	cmd.Flags().StringVar(&filePath, "file", "", "file path")
	cmd.Flags().StringVar(&name, "name", "", "attachment name")
	cmd.Flags().StringVar(&mimeType, "mime", "", "mime type")
	cmd.Flags().StringVar(&url, "url", "", "agentd base url")
	return cmd
}

func buildSessionApproveCmd() *cobra.Command {
	var (
		callID string
		turnID string
		deny   bool
		reason string
		url    string
	)
	cmd := &cobra.Command{
		Use:   "approve <session_id>",
		Short: "Approve or deny a pending tool call",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(callID) == "" {
				return errors.New("--call is required")
			}
			action := "approve"
			if deny {
				action = "deny"
			}
			if err := newClient(url).doJSON("POST", "/v1/sessions/"+args[0]+"/approve", map[string]string{
				"turn_id":      turnID,
				"tool_call_id": callID,
				"action":       action,
				"reason":       reason,
			}, nil); err != nil {
				return err
			}
			fmt.Println("ok")
			return nil
		},
	}
	cmd.Flags().StringVar(&callID, "call", "", "tool call id")
	cmd.Flags().StringVar(&turnID, "turn", "", "turn id")
	cmd.Flags().BoolVar(&deny, "deny", false, "deny instead of approve")
	cmd.Flags().StringVar(&reason, "reason", "", "approval reason")
	cmd.Flags().StringVar(&url, "url", "", "agentd base url")
	return cmd
}

func buildSessionCancelCmd() *cobra.Command {
	var url string
	cmd := &cobra.Command{
		Use:   "cancel <session_id>",
		Short: "Request cancellation of the active turn",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := newClient(url).doJSON("POST", "/v1/sessions/"+args[0]+"/cancel", nil, nil); err != nil {
				return err
			}
			fmt.Println("ok")
			return nil
		},
	}
	cmd.Flags().StringVar(&url, "url", "", "agentd base url")
	return cmd
}

func buildSessionEventsCmd() *cobra.Command {
	var url string
	cmd := &cobra.Command{
		Use:   "events <session_id>",
		Short: "Tail a session's event stream",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return newClient(url).tailEvents("/v1/sessions/" + args[0] + "/events")
		},
	}
	cmd.Flags().StringVar(&url, "url", "", "agentd base url")
	return cmd
}

func detectMime(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	if ext == "" {
		return "application/octet-stream"
	}
	if mt := mime.TypeByExtension(ext); mt != "" {
		return mt
	}
	return "application/octet-stream"
}
