// Package symbols builds and queries a ctags-backed symbol index for a
// workspace. The index lives under .agent-harness-cache/ and is rebuilt
// only when the workspace fingerprint changes.
package symbols

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	osexec "os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/Volpestyle/vuhlp-code/internal/cancel"
)

const cacheDirName = ".agent-harness-cache"

// Entry is one indexed symbol.
type Entry struct {
	File     string `json:"file"`
	Line     int    `json:"line"`
	Name     string `json:"name"`
	Kind     string `json:"kind"`
	Language string `json:"language,omitempty"`
}

// BuildRepoMap returns a formatted symbol listing for the given files,
// grouped by file and capped at maxSymbols entries.
func BuildRepoMap(workspace string, files []string, maxSymbols int, token *cancel.Token) (string, error) {
	entries, err := loadOrBuildIndex(workspace, files, token)
	if err != nil {
		return "", err
	}
	sortEntries(entries)
	if maxSymbols > 0 && len(entries) > maxSymbols {
		entries = entries[:maxSymbols]
	}
	return formatEntries(entries), nil
}

// Query filters the index by substring, glob, kind, and language,
// returning at most maxResults entries in (file, line, name) order.
func Query(workspace string, files []string, query, glob, kind, language string, maxResults int, token *cancel.Token) ([]Entry, error) {
	entries, err := loadOrBuildIndex(workspace, files, token)
	if err != nil {
		return nil, err
	}
	return filterEntries(entries, query, glob, kind, language, maxResults), nil
}

func filterEntries(entries []Entry, query, glob, kind, language string, maxResults int) []Entry {
	if maxResults <= 0 {
		maxResults = 50
	}
	needle := strings.ToLower(strings.TrimSpace(query))
	kind = strings.ToLower(strings.TrimSpace(kind))
	language = strings.ToLower(strings.TrimSpace(language))
	sortEntries(entries)

	var filtered []Entry
	for _, e := range entries {
		if glob != "" {
			ok, err := filepath.Match(glob, e.File)
			if err != nil || !ok {
				continue
			}
		}
		if kind != "" && strings.ToLower(e.Kind) != kind {
			continue
		}
		if language != "" && strings.ToLower(e.Language) != language {
			continue
		}
		if needle != "" && !strings.Contains(strings.ToLower(e.Name), needle) && !strings.Contains(strings.ToLower(e.File), needle) {
			continue
		}
		filtered = append(filtered, e)
		if len(filtered) >= maxResults {
			break
		}
	}
	return filtered
}

func loadOrBuildIndex(workspace string, files []string, token *cancel.Token) ([]Entry, error) {
	abs, err := filepath.Abs(workspace)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace: %w", err)
	}
	if _, err := osexec.LookPath("ctags"); err != nil {
		return nil, fmt.Errorf("ctags is required; install universal-ctags and ensure it is on PATH")
	}
	cacheDir := filepath.Join(abs, cacheDirName)
	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	indexPath := filepath.Join(cacheDir, "symbols.jsonl")
	metaPath := filepath.Join(cacheDir, "symbols.meta.json")

	fingerprint := computeFingerprint(abs, files)
	if meta := loadMeta(metaPath); meta != nil && meta.Fingerprint == fingerprint {
		if entries := loadIndexEntries(indexPath); entries != nil {
			return entries, nil
		}
	}

	entries, err := buildCtagsIndex(abs, files, token)
	if err != nil {
		return nil, err
	}
	if err := writeIndexEntries(indexPath, entries); err != nil {
		return nil, err
	}
	if err := writeMeta(metaPath, fingerprint); err != nil {
		return nil, err
	}
	return entries, nil
}

type indexMeta struct {
	Fingerprint string `json:"fingerprint"`
	Source      string `json:"source"`
	GeneratedAt string `json:"generated_at"`
}

// computeFingerprint hashes (relpath, mtime_ns, size) for every file in
// sorted order. Files that vanish mid-scan are skipped.
func computeFingerprint(workspace string, files []string) string {
	sorted := append([]string(nil), files...)
	sort.Strings(sorted)
	h := sha256.New()
	for _, rel := range sorted {
		info, err := os.Stat(filepath.Join(workspace, rel))
		if err != nil {
			continue
		}
		h.Write([]byte(rel))
		h.Write([]byte(strconv.FormatInt(info.ModTime().UnixNano(), 10)))
		h.Write([]byte(strconv.FormatInt(info.Size(), 10)))
	}
	return hex.EncodeToString(h.Sum(nil))
}

func loadMeta(path string) *indexMeta {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	var meta indexMeta
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil
	}
	return &meta
}

func writeMeta(path, fingerprint string) error {
	meta := indexMeta{
		Fingerprint: fingerprint,
		Source:      "ctags",
		GeneratedAt: time.Now().UTC().Format("2006-01-02T15:04:05Z"),
	}
	raw, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(raw, '\n'), 0o644)
}

func loadIndexEntries(path string) []Entry {
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()

	entries := []Entry{}
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var e Entry
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			continue
		}
		if e.File != "" && e.Name != "" {
			entries = append(entries, e)
		}
	}
	if scanner.Err() != nil {
		return nil
	}
	return entries
}

func writeIndexEntries(path string, entries []Entry) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("write symbol index: %w", err)
	}
	defer f.Close()
	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	for _, e := range entries {
		if err := enc.Encode(e); err != nil {
			return err
		}
	}
	return w.Flush()
}

func buildCtagsIndex(workspace string, files []string, token *cancel.Token) ([]Entry, error) {
	if len(files) == 0 {
		return nil, nil
	}
	listPath := filepath.Join(workspace, cacheDirName, "symbols.files")
	var list strings.Builder
	for i, rel := range files {
		if i > 0 {
			list.WriteByte('\n')
		}
		list.WriteString(filepath.Join(workspace, rel))
	}
	if err := os.WriteFile(listPath, []byte(list.String()), 0o644); err != nil {
		return nil, fmt.Errorf("write file list: %w", err)
	}

	cmd := osexec.Command("ctags",
		"--output-format=json",
		"--fields=+n",
		"--excmd=number",
		"--sort=no",
		"-f", "-",
		"-L", listPath,
	)
	cmd.Dir = workspace
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	var stderr strings.Builder
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start ctags: %w", err)
	}

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-token.Done():
			if cmd.Process != nil {
				_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
			}
		case <-stop:
		}
	}()

	var entries []Entry
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if e, ok := parseCtagsLine(line, workspace); ok {
			entries = append(entries, e)
		}
	}

	if err := cmd.Wait(); err != nil {
		detail := strings.TrimSpace(stderr.String())
		if detail != "" {
			return nil, fmt.Errorf("ctags failed: %s", detail)
		}
		return nil, fmt.Errorf("ctags failed: %w", err)
	}
	return entries, nil
}

func parseCtagsLine(raw, workspace string) (Entry, bool) {
	var data struct {
		Type     string `json:"_type"`
		Name     string `json:"name"`
		Path     string `json:"path"`
		Kind     string `json:"kind"`
		KindLong string `json:"kind_long"`
		Line     int    `json:"line"`
		Language string `json:"language"`
	}
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		return Entry{}, false
	}
	if data.Type != "" && data.Type != "tag" {
		return Entry{}, false
	}
	if data.Name == "" || data.Path == "" {
		return Entry{}, false
	}
	file := data.Path
	if abs, err := filepath.Abs(data.Path); err == nil {
		if rel, err := filepath.Rel(workspace, abs); err == nil && !strings.HasPrefix(rel, "..") {
			file = filepath.ToSlash(rel)
		}
	}
	kind := data.KindLong
	if kind == "" {
		kind = data.Kind
	}
	return Entry{File: file, Line: data.Line, Name: data.Name, Kind: kind, Language: data.Language}, true
}

func sortEntries(entries []Entry) {
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].File != entries[j].File {
			return entries[i].File < entries[j].File
		}
		if entries[i].Line != entries[j].Line {
			return entries[i].Line < entries[j].Line
		}
		return entries[i].Name < entries[j].Name
	})
}

func formatEntries(entries []Entry) string {
	var out []string
	lastFile := ""
	for _, e := range entries {
		if e.File != lastFile {
			if lastFile != "" {
				out = append(out, "")
			}
			out = append(out, e.File+":")
			lastFile = e.File
		}
		label := e.Kind
		if e.Language != "" {
			label = fmt.Sprintf("%s [%s]", label, e.Language)
		}
		out = append(out, fmt.Sprintf("  - %s %s (line %d)", label, e.Name, e.Line))
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}
