package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

const defaultBaseURL = "http://127.0.0.1:8787"

// client is a thin HTTP wrapper around the agentd v1 API.
type client struct {
	baseURL string
	token   string
	http    *http.Client
	// stream has no timeout; SSE attachments run until canceled.
	stream *http.Client
}

func newClient(flagURL string) *client {
	base := strings.TrimSpace(flagURL)
	if base == "" {
		base = strings.TrimSpace(os.Getenv("HARNESS_URL"))
	}
	if base == "" {
		base = defaultBaseURL
	}
	return &client{
		baseURL: strings.TrimRight(base, "/"),
		token:   strings.TrimSpace(os.Getenv("HARNESS_AUTH_TOKEN")),
		http:    &http.Client{Timeout: 60 * time.Second},
		stream:  &http.Client{},
	}
}

func (c *client) doJSON(method, path string, body any, out any) error {
	var buf io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		buf = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, c.baseURL+path, buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return httpError(resp)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// tailEvents streams SSE from path and prints one line per event until
// the server closes the stream.
func (c *client) tailEvents(path string) error {
	req, err := http.NewRequest(http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	c.authorize(req)

	resp, err := c.stream.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return httpError(resp)
	}

	sc := bufio.NewScanner(resp.Body)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		line := sc.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		payload := strings.TrimPrefix(line, "data: ")
		var ev map[string]any
		if err := json.Unmarshal([]byte(payload), &ev); err != nil {
			fmt.Println(payload)
			continue
		}
		printEvent(ev)
	}
	return sc.Err()
}

// download fetches path and writes the body to out.
func (c *client) download(path, out string) error {
	req, err := http.NewRequest(http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return httpError(resp)
	}

	f, err := os.Create(out)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(f, resp.Body)
	return err
}

func (c *client) authorize(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

func httpError(resp *http.Response) error {
	b, _ := io.ReadAll(resp.Body)
	return fmt.Errorf("http %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
}

func printEvent(ev map[string]any) {
	ts, _ := ev["ts"].(string)
	typ, _ := ev["type"].(string)
	msg, _ := ev["message"].(string)
	if msg == "" {
		msg = "-"
	}
	fmt.Printf("%s  %-22s  %s\n", ts, typ, msg)
}
