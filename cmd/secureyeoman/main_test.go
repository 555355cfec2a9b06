package main

import (
	"bytes"
	"io"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func runCLI(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := Run(append([]string{"secureyeoman"}, args...), &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestRunNoArgsPrintsUsage(t *testing.T) {
	code, out, _ := runCLI(t)
	assert.Equal(t, 0, code)
	assert.Contains(t, out, "USAGE")
	assert.Contains(t, out, "secureyeoman <command>")
}

func TestRunUnknownCommand(t *testing.T) {
	code, _, errOut := runCLI(t, "frobnicate")
	assert.Equal(t, 2, code)
	assert.Contains(t, errOut, "Unknown command: frobnicate")
}

func TestRunVersion(t *testing.T) {
	code, out, _ := runCLI(t, "version")
	assert.Equal(t, 0, code)
	assert.Contains(t, out, "secureyeoman "+version)
}

func TestRunStartDispatchesToServer(t *testing.T) {
	orig := startServer
	t.Cleanup(func() { startServer = orig })

	called := 0
	startServer = func(io.Writer) int {
		called++
		return 0
	}

	for _, alias := range []string{"start", "server", "serve"} {
		code, _, _ := runCLI(t, alias)
		assert.Equal(t, 0, code)
	}
	assert.Equal(t, 3, called)
}

func TestInitWritesEnvAndDataDir(t *testing.T) {
	t.Chdir(t.TempDir())

	code, out, _ := runCLI(t, "init", "--data-dir", "state")
	require.Equal(t, 0, code)
	assert.Contains(t, out, "Wrote .env")
	assert.Contains(t, out, "Admin password:")

	info, err := os.Stat("state")
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	raw, err := os.ReadFile(".env")
	require.NoError(t, err)
	env := string(raw)
	assert.Contains(t, env, "FRIDAY_SIGNING_KEY=")
	assert.Contains(t, env, "FRIDAY_TOKEN_SECRET=")
	assert.Contains(t, env, "FRIDAY_ENCRYPTION_KEY=")
	assert.Contains(t, env, "FRIDAY_ADMIN_PASSWORD_HASH=")
	assert.NotContains(t, env, "FRIDAY_ADMIN_PASSWORD=", "plaintext password must not be persisted")
}

func TestInitKeepsExistingEnv(t *testing.T) {
	t.Chdir(t.TempDir())
	require.NoError(t, os.WriteFile(".env", []byte("FRIDAY_TOKEN_SECRET=keep\n"), 0600))

	code, out, _ := runCLI(t, "init")
	assert.Equal(t, 0, code)
	assert.Contains(t, out, "already exists")

	raw, _ := os.ReadFile(".env")
	assert.Equal(t, "FRIDAY_TOKEN_SECRET=keep\n", string(raw))
}

func TestSecuritySetupRefusesOverwriteWithoutForce(t *testing.T) {
	t.Chdir(t.TempDir())
	require.NoError(t, os.WriteFile(".env", []byte("FRIDAY_TOKEN_SECRET=keep\n"), 0600))

	code, _, errOut := runCLI(t, "security", "setup")
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "--force")

	code, _, _ = runCLI(t, "security", "setup", "--force")
	assert.Equal(t, 0, code)
	raw, _ := os.ReadFile(".env")
	assert.NotContains(t, string(raw), "keep")
}

func TestSecurityTeardownRequiresConfirmation(t *testing.T) {
	t.Chdir(t.TempDir())
	require.Equal(t, 0, func() int { c, _, _ := runCLI(t, "init", "--data-dir", "state"); return c }())

	code, _, errOut := runCLI(t, "security", "teardown", "--data-dir", "state")
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "--yes")

	code, _, _ = runCLI(t, "security", "teardown", "--data-dir", "state", "--yes")
	assert.Equal(t, 0, code)
	_, err := os.Stat(".env")
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat("state")
	assert.True(t, os.IsNotExist(err))
}

func TestSecurityUpdateRotatesTokenSecret(t *testing.T) {
	t.Chdir(t.TempDir())
	runCLI(t, "init")

	before, err := os.ReadFile(".env")
	require.NoError(t, err)

	code, out, _ := runCLI(t, "security", "update")
	assert.Equal(t, 0, code)
	assert.Contains(t, out, "Rotated token secret")

	after, err := os.ReadFile(".env")
	require.NoError(t, err)
	assert.NotEqual(t, extractLine(string(before), "FRIDAY_TOKEN_SECRET="),
		extractLine(string(after), "FRIDAY_TOKEN_SECRET="))
	// Everything else survives rotation.
	assert.Equal(t, extractLine(string(before), "FRIDAY_SIGNING_KEY="),
		extractLine(string(after), "FRIDAY_SIGNING_KEY="))
}

func TestGeneratedAdminPasswordVerifies(t *testing.T) {
	t.Chdir(t.TempDir())

	_, out, _ := runCLI(t, "init")
	var password string
	for _, line := range strings.Split(out, "\n") {
		if strings.HasPrefix(line, "Admin password: ") {
			password = strings.Fields(strings.TrimPrefix(line, "Admin password: "))[0]
		}
	}
	require.NotEmpty(t, password)

	raw, err := os.ReadFile(".env")
	require.NoError(t, err)
	hash := extractLine(string(raw), "FRIDAY_ADMIN_PASSWORD_HASH=")
	require.NotEmpty(t, hash)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)))
}

func extractLine(env, prefix string) string {
	for _, line := range strings.Split(env, "\n") {
		if strings.HasPrefix(line, prefix) {
			return strings.TrimPrefix(line, prefix)
		}
	}
	return ""
}
