package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/fatih/color"

	"github.com/jvreagan/cloud-ship/pkg/credentials"
	"github.com/jvreagan/cloud-ship/pkg/manifest"
)

const testToken = "csk_test"

func TestMain(m *testing.M) {
	color.NoColor = true
	os.Exit(m.Run())
}

// platform is a fake deployment API.
type platform struct {
	*httptest.Server

	mu       sync.Mutex
	requests []string
	uploads  int
	logQuery string
}

func (p *platform) record(r *http.Request) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests = append(p.requests, r.Method+" "+r.URL.Path)
}

func (p *platform) saw(req string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, r := range p.requests {
		if r == req {
			return true
		}
	}
	return false
}

func (p *platform) uploadCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.uploads
}

func (p *platform) lastLogQuery() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.logQuery
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func newPlatform(t *testing.T) *platform {
	t.Helper()
	p := &platform{}
	mux := http.NewServeMux()

	app := map[string]string{"id": "app_1", "slug": "billing-api", "team_id": "team_1",
		"dashboard_url": "https://dash.example.com/apps/app_1"}
	deployment := func(status string) map[string]string {
		return map[string]string{"id": "dep_1", "app_id": "app_1", "status": status,
			"dashboard_url": "https://dash.example.com/deployments/dep_1", "url": "https://billing-api.example.app"}
	}

	mux.HandleFunc("GET /apps/{id}", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("id") != "app_1" {
			writeJSON(w, http.StatusNotFound, map[string]string{"detail": "App not found"})
			return
		}
		writeJSON(w, http.StatusOK, app)
	})
	mux.HandleFunc("GET /apps/{$}", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("team_id") != "team_1" {
			writeJSON(w, http.StatusOK, map[string]any{"data": []any{}})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"data": []any{app}})
	})
	mux.HandleFunc("POST /apps/{$}", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		writeJSON(w, http.StatusCreated, map[string]string{"id": "app_2", "slug": body["name"], "team_id": body["team_id"]})
	})
	mux.HandleFunc("GET /teams/{$}", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"data": []map[string]string{
			{"id": "team_1", "slug": "payments", "name": "Payments"},
		}})
	})
	mux.HandleFunc("POST /apps/app_1/deployments/{$}", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusCreated, deployment("waiting_upload"))
	})
	mux.HandleFunc("GET /apps/app_1/deployments/dep_1", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, deployment("success"))
	})
	mux.HandleFunc("POST /deployments/dep_1/upload", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"url":    p.URL + "/storage",
			"fields": map[string]string{"key": "uploads/dep_1.tar.gz"},
		})
	})
	mux.HandleFunc("POST /deployments/dep_1/upload-complete", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("GET /deployments/dep_1/build-logs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/x-ndjson")
		fmt.Fprintln(w, `{"id":"1","type":"message","message":"Installing dependencies"}`)
		fmt.Fprintln(w, `{"id":null,"type":"heartbeat"}`)
		fmt.Fprintln(w, `{"id":"2","type":"message","message":"Build finished"}`)
		fmt.Fprintln(w, `{"id":"3","type":"complete"}`)
	})
	mux.HandleFunc("GET /apps/app_1/logs/stream", func(w http.ResponseWriter, r *http.Request) {
		p.mu.Lock()
		p.logQuery = r.URL.RawQuery
		p.mu.Unlock()
		fmt.Fprintln(w, `{"timestamp":"2026-10-19T08:00:00Z","message":"GET / 200","level":"info"}`)
		fmt.Fprintln(w, `{"type":"heartbeat"}`)
		fmt.Fprintln(w, `{"timestamp":"2026-10-19T08:00:01Z","message":"db timeout","level":"error"}`)
	})

	p.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p.record(r)
		if r.URL.Path == "/storage" {
			if r.Header.Get("Authorization") != "" {
				http.Error(w, "unexpected credentials", http.StatusBadRequest)
				return
			}
			_, _ = io.Copy(io.Discard, r.Body)
			p.mu.Lock()
			p.uploads++
			p.mu.Unlock()
			w.WriteHeader(http.StatusNoContent)
			return
		}
		if r.Header.Get("Authorization") != "Bearer "+testToken {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "Invalid token"})
			return
		}
		mux.ServeHTTP(w, r)
	}))
	t.Cleanup(p.Close)
	return p
}

// env isolates configuration and points the CLI at p.
func env(t *testing.T, p *platform) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("XDG_CONFIG_HOME", home)
	t.Setenv("CLOUD_SHIP_API_URL", p.URL)
	t.Setenv("CLOUD_SHIP_TOKEN", testToken)
	t.Setenv("CLOUD_SHIP_DEBUG", "")
	return home
}

func linkedProject(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "main.py"), []byte("print('hi')\n"), 0644); err != nil {
		t.Fatal(err)
	}
	m := &manifest.Manifest{App: manifest.AppRef{ID: "app_1", Slug: "billing-api"}}
	if err := m.Save(root); err != nil {
		t.Fatal(err)
	}
	return root
}

func runCLI(t *testing.T, ctx context.Context, stdin string, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(ctx, args, strings.NewReader(stdin), &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestVersion(t *testing.T) {
	code, out, _ := runCLI(t, context.Background(), "", "version")
	if code != 0 {
		t.Fatalf("exit code = %d", code)
	}
	if !strings.Contains(out, "cloud-ship version dev") || !strings.Contains(out, "cloud-ship/dev") {
		t.Errorf("output = %q", out)
	}
}

func TestDeployFollowsBuild(t *testing.T) {
	p := newPlatform(t)
	home := env(t, p)
	root := linkedProject(t)
	metricsFile := filepath.Join(home, "cloud-ship.prom")

	code, out, errOut := runCLI(t, context.Background(), "", "deploy", root, "--metrics-file", metricsFile)
	if code != 0 {
		t.Fatalf("exit code = %d, stderr: %s", code, errOut)
	}
	for _, want := range []string{
		"Packaged 1 files",
		"Created deployment dep_1",
		"Upload complete",
		"Installing dependencies",
		"Build finished",
		"Status: Success",
		"Deployment successful!",
		"https://billing-api.example.app",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if n := p.uploadCount(); n != 1 {
		t.Errorf("uploads = %d, want 1", n)
	}

	m, err := manifest.Find(root)
	if err != nil {
		t.Fatal(err)
	}
	if id, _ := m.LastDeployment(); id != "dep_1" {
		t.Errorf("last deployment = %q", id)
	}

	data, err := os.ReadFile(metricsFile)
	if err != nil {
		t.Fatalf("metrics file: %v", err)
	}
	if !strings.Contains(string(data), `cloudship_deployments_total{outcome="success"} 1`) {
		t.Errorf("metrics file:\n%s", data)
	}
}

func TestDeployNoWait(t *testing.T) {
	p := newPlatform(t)
	env(t, p)
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "index.js"), []byte("console.log(1)\n"), 0644); err != nil {
		t.Fatal(err)
	}

	code, out, errOut := runCLI(t, context.Background(), "", "deploy", dir, "--app", "app_1", "--no-wait")
	if code != 0 {
		t.Fatalf("exit code = %d, stderr: %s", code, errOut)
	}
	if !strings.Contains(out, "Follow it at https://dash.example.com/deployments/dep_1") {
		t.Errorf("output = %q", out)
	}
	if p.saw("GET /deployments/dep_1/build-logs") {
		t.Error("build logs streamed with --no-wait")
	}
}

func TestDeployErrors(t *testing.T) {
	tests := []struct {
		name     string
		args     func(dir string) []string
		errorMsg string
	}{
		{
			name:     "not linked",
			args:     func(dir string) []string { return []string{"deploy", dir} },
			errorMsg: "project is not linked",
		},
		{
			name:     "unknown app",
			args:     func(dir string) []string { return []string{"deploy", dir, "--app", "app_404"} },
			errorMsg: "application not found: app_404",
		},
		{
			name:     "missing directory",
			args:     func(dir string) []string { return []string{"deploy", filepath.Join(dir, "nope"), "--app", "app_1"} },
			errorMsg: "failed to read project directory",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newPlatform(t)
			env(t, p)
			code, _, errOut := runCLI(t, context.Background(), "", tt.args(t.TempDir())...)
			if code != 1 {
				t.Errorf("exit code = %d, want 1", code)
			}
			if !strings.Contains(errOut, "Error: "+tt.errorMsg) {
				t.Errorf("stderr = %q, want containing %q", errOut, tt.errorMsg)
			}
		})
	}
}

func TestUnauthorizedClearsStoredToken(t *testing.T) {
	p := newPlatform(t)
	home := env(t, p)
	t.Setenv("CLOUD_SHIP_TOKEN", "")
	root := linkedProject(t)

	code, _, errOut := runCLI(t, context.Background(), "", "login", "--token", "csk_revoked")
	if code != 0 {
		t.Fatalf("login exit code = %d: %s", code, errOut)
	}
	credFile := filepath.Join(home, "cloud-ship", "credentials.yaml")

	code, _, errOut = runCLI(t, context.Background(), "", "deploy", root)
	if code != 1 || !strings.Contains(errOut, "invalid or expired API token") {
		t.Fatalf("exit code = %d, stderr = %q", code, errOut)
	}
	if _, err := credentials.NewFileStore(credFile).Token(context.Background()); !errors.Is(err, credentials.ErrNoToken) {
		t.Errorf("stored token after 401: err = %v, want ErrNoToken", err)
	}
	if p.saw("POST /apps/app_1/deployments/") {
		t.Error("deployment created with a rejected token")
	}
}

func TestInterruptExitCode(t *testing.T) {
	p := newPlatform(t)
	env(t, p)
	root := linkedProject(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	code, _, _ := runCLI(t, ctx, "", "deploy", root)
	if code != exitInterrupted {
		t.Errorf("exit code = %d, want %d", code, exitInterrupted)
	}
}

func TestLogs(t *testing.T) {
	p := newPlatform(t)
	env(t, p)
	t.Chdir(linkedProject(t))

	code, out, errOut := runCLI(t, context.Background(), "", "logs", "--tail", "5", "--since", "1h")
	if code != 0 {
		t.Fatalf("exit code = %d, stderr: %s", code, errOut)
	}
	want := "2026-10-19T08:00:00Z INFO  GET / 200\n2026-10-19T08:00:01Z ERROR db timeout\n"
	if out != want {
		t.Errorf("output = %q, want %q", out, want)
	}
	if q := p.lastLogQuery(); q != "follow=false&since=1h&tail=5" {
		t.Errorf("query = %q", q)
	}
}

func TestStatus(t *testing.T) {
	p := newPlatform(t)
	env(t, p)
	root := linkedProject(t)
	t.Chdir(root)

	code, _, errOut := runCLI(t, context.Background(), "", "status")
	if code != 1 || !strings.Contains(errOut, "no deployment recorded") {
		t.Fatalf("exit code = %d, stderr = %q", code, errOut)
	}

	m, err := manifest.Find(root)
	if err != nil {
		t.Fatal(err)
	}
	if err := m.RecordDeployment("dep_1"); err != nil {
		t.Fatal(err)
	}
	code, out, errOut := runCLI(t, context.Background(), "", "status", "--wait")
	if code != 0 {
		t.Fatalf("exit code = %d, stderr: %s", code, errOut)
	}
	if !strings.Contains(out, "Status: Success") || !strings.Contains(out, "ID: dep_1") {
		t.Errorf("output = %q", out)
	}
}

func TestLinkAndList(t *testing.T) {
	p := newPlatform(t)
	env(t, p)
	root := t.TempDir()

	code, out, errOut := runCLI(t, context.Background(), "", "link", "--app", "app_1", "--team", "payments", "--dir", root)
	if code != 0 {
		t.Fatalf("link exit code = %d, stderr: %s", code, errOut)
	}
	if !strings.Contains(out, "Linked") {
		t.Errorf("output = %q", out)
	}
	m, err := manifest.Load(manifest.PathIn(root))
	if err != nil {
		t.Fatal(err)
	}
	if m.App.ID != "app_1" || m.App.Slug != "billing-api" || m.Team.ID != "team_1" || m.Team.Slug != "payments" {
		t.Errorf("link file = %+v", m)
	}

	t.Chdir(root)
	code, out, errOut = runCLI(t, context.Background(), "", "apps", "list")
	if code != 0 {
		t.Fatalf("apps list exit code = %d, stderr: %s", code, errOut)
	}
	if !strings.Contains(out, "app_1") || !strings.Contains(out, "billing-api") {
		t.Errorf("apps output = %q", out)
	}

	code, out, _ = runCLI(t, context.Background(), "", "teams", "list")
	if code != 0 || !strings.Contains(out, "payments") || !strings.Contains(out, "Payments") {
		t.Errorf("teams list = %d %q", code, out)
	}
}

func TestLinkCreate(t *testing.T) {
	p := newPlatform(t)
	env(t, p)
	root := t.TempDir()

	code, _, errOut := runCLI(t, context.Background(), "", "link", "--create", "new-api", "--team", "team_1", "--dir", root)
	if code != 0 {
		t.Fatalf("exit code = %d, stderr: %s", code, errOut)
	}
	m, err := manifest.Load(manifest.PathIn(root))
	if err != nil {
		t.Fatal(err)
	}
	if m.App.ID != "app_2" || m.App.Slug != "new-api" || m.Team.Slug != "payments" {
		t.Errorf("link file = %+v", m)
	}

	code, _, errOut = runCLI(t, context.Background(), "", "link", "--create", "x")
	if code != 1 || !strings.Contains(errOut, "--team is required") {
		t.Errorf("exit code = %d, stderr = %q", code, errOut)
	}
}

func TestLoginFromStdinAndLogout(t *testing.T) {
	p := newPlatform(t)
	home := env(t, p)
	t.Setenv("CLOUD_SHIP_TOKEN", "")
	credFile := filepath.Join(home, "cloud-ship", "credentials.yaml")

	code, out, errOut := runCLI(t, context.Background(), testToken+"\n", "login")
	if code != 0 {
		t.Fatalf("exit code = %d, stderr: %s", code, errOut)
	}
	if !strings.Contains(out, credFile) {
		t.Errorf("output = %q", out)
	}

	code, out, errOut = runCLI(t, context.Background(), "", "teams", "list")
	if code != 0 || !strings.Contains(out, "team_1") {
		t.Fatalf("teams list with stored token = %d %q %q", code, out, errOut)
	}

	code, _, _ = runCLI(t, context.Background(), "", "logout")
	if code != 0 {
		t.Fatalf("logout exit code = %d", code)
	}
	code, _, errOut = runCLI(t, context.Background(), "", "teams", "list")
	if code != 1 || !strings.Contains(errOut, "no API token configured") {
		t.Errorf("after logout = %d %q", code, errOut)
	}
}

func TestInvalidConfig(t *testing.T) {
	p := newPlatform(t)
	env(t, p)
	code, _, errOut := runCLI(t, context.Background(), "", "teams", "list", "--log-format", "xml")
	if code != 1 || !strings.Contains(errOut, "log.format must be text or json") {
		t.Errorf("exit code = %d, stderr = %q", code, errOut)
	}
}
