package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
)

// apiClient is the thin HTTP client the subcommands share. The base URL
// comes from --url or FRIDAY_URL; credentials come from FRIDAY_API_KEY
// (sent as X-API-Key) or FRIDAY_TOKEN (sent as a bearer token).
type apiClient struct {
	baseURL string
	apiKey  string
	token   string
	json    bool
	http    *http.Client
	stdout  io.Writer
	stderr  io.Writer
}

// newFlagSet builds a flag set carrying the global flags every subcommand
// accepts. Parse, then call client() for the configured transport.
type globalFlags struct {
	fs   *flag.FlagSet
	url  *string
	json *bool
}

func newFlagSet(name string, stderr io.Writer) globalFlags {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	return globalFlags{
		fs:   fs,
		url:  fs.String("url", "", "server base URL (default http://localhost:8080)"),
		json: fs.Bool("json", false, "print raw JSON instead of tables"),
	}
}

func (g globalFlags) client(stdout, stderr io.Writer) *apiClient {
	base := *g.url
	if base == "" {
		base = os.Getenv("FRIDAY_URL")
	}
	if base == "" {
		base = "http://localhost:8080"
	}
	return &apiClient{
		baseURL: base,
		apiKey:  os.Getenv("FRIDAY_API_KEY"),
		token:   os.Getenv("FRIDAY_TOKEN"),
		json:    *g.json,
		http:    &http.Client{Timeout: 60 * time.Second},
		stdout:  stdout,
		stderr:  stderr,
	}
}

func (c *apiClient) do(method, path string, body any) (int, []byte, error) {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return 0, nil, err
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, c.baseURL+path, reader)
	if err != nil {
		return 0, nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	} else if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, raw, nil
}

// get runs the request and handles the error surface uniformly: transport
// errors and non-2xx responses print to stderr and return a nonzero code.
func (c *apiClient) call(method, path string, body any, out any) int {
	status, raw, err := c.do(method, path, body)
	if err != nil {
		fmt.Fprintf(c.stderr, "Error: %v\n", err)
		return 1
	}
	if status < 200 || status > 299 {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(raw, &apiErr) == nil && apiErr.Error != "" {
			fmt.Fprintf(c.stderr, "Error (%d): %s\n", status, apiErr.Error)
		} else {
			fmt.Fprintf(c.stderr, "Error: HTTP %d\n", status)
		}
		return 1
	}
	if out != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			fmt.Fprintf(c.stderr, "Error: malformed response: %v\n", err)
			return 1
		}
	}
	if c.json {
		c.printRaw(raw)
	}
	return 0
}

func (c *apiClient) printRaw(raw []byte) {
	var buf bytes.Buffer
	if json.Indent(&buf, raw, "", "  ") == nil {
		fmt.Fprintln(c.stdout, buf.String())
	} else {
		fmt.Fprintln(c.stdout, string(raw))
	}
}
