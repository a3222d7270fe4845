package integration

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/cookiejar"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const (
	binaryPath     = "../cmd/authbridge/authbridge"
	authbridgePort = "18080"
	authbridgeURL  = "http://localhost:" + authbridgePort
	fakeGitHubPort = "9092"
	fakeGitHubURL  = "http://localhost:" + fakeGitHubPort
)

const testSessionSecret = "integration-session-secret-0123456789abcdef"

// testConfig returns a config pointing the classic provider at the fake
// GitHub. The session secret and client secret come from the environment
// passed by startAuthbridge.
func testConfig() map[string]any {
	return map[string]any{
		"version":       "v1",
		"addr":          ":" + authbridgePort,
		"clientOrigin":  authbridgeURL,
		"sessionSecret": map[string]string{"$env": "SESSION_SECRET"},
		"sessionTtl":    "1h",
		"storage":       map[string]any{"kind": "memory"},
		"classic": map[string]any{
			"clientId":     "test-github-client-id",
			"clientSecret": map[string]string{"$env": "GITHUB_CLIENT_SECRET"},
			"apiBaseUrl":   fakeGitHubURL,
			"authBaseUrl":  fakeGitHubURL,
		},
	}
}

// writeTestConfig writes a config map to a temporary JSON file and returns its path.
func writeTestConfig(t *testing.T, cfg map[string]any) string {
	t.Helper()
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		t.Fatalf("Failed to marshal test config: %v", err)
	}
	f, err := os.CreateTemp(t.TempDir(), "config-*.json")
	if err != nil {
		t.Fatalf("Failed to create temp config file: %v", err)
	}
	if _, err := f.Write(data); err != nil {
		t.Fatalf("Failed to write temp config: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("Failed to close temp config: %v", err)
	}
	return f.Name()
}

func trace(t *testing.T, format string, args ...any) {
	if os.Getenv("AUTHBRIDGE_TEST_TRACE") != "" {
		t.Logf("TRACE: "+format, args...)
	}
}

// startAuthbridge runs the binary in development mode so cookies work over
// plain http. extraEnv entries override the defaults.
func startAuthbridge(t *testing.T, configPath string, extraEnv ...string) {
	t.Helper()
	cmd := exec.Command(binaryPath, "-config", configPath)

	cmd.Env = append(os.Environ(),
		"AUTHBRIDGE_ENV=dev",
		"SESSION_SECRET="+testSessionSecret,
		"GITHUB_CLIENT_SECRET=test-github-client-secret",
	)
	cmd.Env = append(cmd.Env, extraEnv...)

	if logFile := os.Getenv("AUTHBRIDGE_TEST_LOG_FILE"); logFile != "" {
		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err == nil {
			cmd.Stderr = f
			cmd.Stdout = f
			t.Cleanup(func() { f.Close() })
		}
	}

	if err := cmd.Start(); err != nil {
		t.Fatalf("Failed to start authbridge: %v", err)
	}
	t.Cleanup(func() {
		stopAuthbridge(cmd)
	})
}

func stopAuthbridge(cmd *exec.Cmd) {
	if cmd == nil || cmd.Process == nil {
		return
	}

	if err := cmd.Process.Signal(syscall.SIGINT); err != nil {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		return
	}

	done := make(chan error, 1)
	go func() {
		done <- cmd.Wait()
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
	}
}

func waitForAuthbridge(t *testing.T) {
	t.Helper()
	for range 20 {
		resp, err := http.Get(authbridgeURL + "/health")
		if err == nil && resp.StatusCode == http.StatusOK {
			resp.Body.Close()
			return
		}
		if resp != nil {
			resp.Body.Close()
		}
		time.Sleep(500 * time.Millisecond)
	}
	t.Fatal("authbridge failed to become ready after 10 seconds")
}

// browser is a cookie-keeping client that stops at every redirect so tests
// can follow the hops between authbridge and the fake GitHub themselves.
type browser struct {
	t      *testing.T
	client *http.Client
}

func newBrowser(t *testing.T) *browser {
	t.Helper()
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return &browser{
		t: t,
		client: &http.Client{
			Jar:     jar,
			Timeout: 10 * time.Second,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

func (b *browser) do(method, target, body string) *http.Response {
	b.t.Helper()
	if strings.HasPrefix(target, "/") {
		target = authbridgeURL + target
	}
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, target, reader)
	require.NoError(b.t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := b.client.Do(req)
	require.NoError(b.t, err)
	b.t.Cleanup(func() { resp.Body.Close() })
	trace(b.t, "%s %s -> %d %s", method, target, resp.StatusCode, resp.Header.Get("Location"))
	return resp
}

// follow walks absolute redirects and returns the first response that is
// not a redirect to another server, which is where authbridge hands the
// browser back to the app.
func (b *browser) follow(resp *http.Response) *http.Response {
	b.t.Helper()
	for range 5 {
		location := resp.Header.Get("Location")
		if resp.StatusCode != http.StatusFound || !strings.HasPrefix(location, "http") {
			return resp
		}
		resp = b.do(http.MethodGet, location, "")
	}
	b.t.Fatal("too many redirects")
	return nil
}

func decodeJSON[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}
