package main

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/secureyeoman/secureyeoman/pkg/auth"
)

const envFile = ".env"

func randomSecret() string {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		panic(err)
	}
	return hex.EncodeToString(buf)
}

// runInit prepares a fresh install: data directory plus a generated .env.
func runInit(args []string, stdout, stderr io.Writer) int {
	g := newFlagSet("init", stderr)
	dataDir := g.fs.String("data-dir", "data", "data directory")
	if g.fs.Parse(args) != nil {
		return 2
	}
	if err := os.MkdirAll(*dataDir, 0750); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	if _, err := os.Stat(envFile); err == nil {
		fmt.Fprintf(stdout, "%s already exists, keeping it\n", envFile)
		return 0
	}
	return writeEnv(*dataDir, stdout, stderr)
}

func runSecurity(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(stderr, "Usage: secureyeoman security <setup|teardown|update|status> [args]")
		return 2
	}
	sub, rest := args[0], args[1:]
	g := newFlagSet("security "+sub, stderr)

	switch sub {
	case "setup":
		dataDir := g.fs.String("data-dir", "data", "data directory")
		force := g.fs.Bool("force", false, "overwrite an existing .env")
		if g.fs.Parse(rest) != nil {
			return 2
		}
		if _, err := os.Stat(envFile); err == nil && !*force {
			fmt.Fprintf(stderr, "Error: %s exists; re-run with --force to replace it\n", envFile)
			return 1
		}
		return writeEnv(*dataDir, stdout, stderr)

	case "teardown":
		dataDir := g.fs.String("data-dir", "data", "data directory")
		yes := g.fs.Bool("yes", false, "confirm removal")
		if g.fs.Parse(rest) != nil {
			return 2
		}
		if !*yes {
			fmt.Fprintln(stderr, "Error: teardown deletes all local state; re-run with --yes to confirm")
			return 1
		}
		if err := os.RemoveAll(*dataDir); err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		if err := os.Remove(envFile); err != nil && !os.IsNotExist(err) {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		fmt.Fprintln(stdout, "Removed local data and secrets")
		return 0

	case "update":
		if g.fs.Parse(rest) != nil {
			return 2
		}
		return rotateTokenSecret(stdout, stderr)

	case "status":
		if g.fs.Parse(rest) != nil {
			return 2
		}
		c := g.client(stdout, stderr)
		var res struct {
			Valid          bool   `json:"valid"`
			EntriesChecked int    `json:"entriesChecked"`
			Error          string `json:"error,omitempty"`
		}
		if code := c.call(http.MethodPost, "/api/v1/audit/verify", nil, &res); code != 0 {
			return code
		}
		if !c.json {
			if res.Valid {
				fmt.Fprintf(stdout, "Audit chain valid (%d entries)\n", res.EntriesChecked)
			} else {
				fmt.Fprintf(stdout, "Audit chain BROKEN: %s\n", res.Error)
			}
		}
		if !res.Valid {
			return 1
		}
		return 0
	}
	fmt.Fprintf(stderr, "Unknown security subcommand: %s\n", sub)
	return 2
}

// writeEnv generates fresh secrets and an admin password, prints the
// password once, and persists only its hash.
func writeEnv(dataDir string, stdout, stderr io.Writer) int {
	adminPassword := randomSecret()[:24]
	hash, err := auth.HashPassword(adminPassword)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	var b strings.Builder
	fmt.Fprintf(&b, "FRIDAY_SIGNING_KEY=%s\n", randomSecret())
	fmt.Fprintf(&b, "FRIDAY_TOKEN_SECRET=%s\n", randomSecret())
	fmt.Fprintf(&b, "FRIDAY_ENCRYPTION_KEY=%s\n", randomSecret())
	fmt.Fprintf(&b, "FRIDAY_ADMIN_PASSWORD_HASH=%s\n", hash)
	fmt.Fprintf(&b, "FRIDAY_DATA_DIR=%s\n", dataDir)

	if err := os.WriteFile(envFile, []byte(b.String()), 0600); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	fmt.Fprintf(stdout, "Wrote %s\n", envFile)
	fmt.Fprintf(stdout, "Admin password: %s  (shown once, store it now)\n", adminPassword)
	return 0
}

func rotateTokenSecret(stdout, stderr io.Writer) int {
	raw, err := os.ReadFile(envFile)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v (run security setup first)\n", err)
		return 1
	}
	lines := strings.Split(string(raw), "\n")
	rotated := false
	for i, line := range lines {
		if strings.HasPrefix(line, "FRIDAY_TOKEN_SECRET=") {
			lines[i] = "FRIDAY_TOKEN_SECRET=" + randomSecret()
			rotated = true
		}
	}
	if !rotated {
		lines = append(lines, "FRIDAY_TOKEN_SECRET="+randomSecret())
	}
	if err := os.WriteFile(envFile, []byte(strings.Join(lines, "\n")), 0600); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	fmt.Fprintln(stdout, "Rotated token secret; all existing sessions are invalid")
	return 0
}
