package statuscmd

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"

	"github.com/roseeng/SyncTrayzor/cmd/syncwatch/cmdutil"
	"github.com/roseeng/SyncTrayzor/config"
	"github.com/roseeng/SyncTrayzor/internal/adapter/rest"
	"github.com/roseeng/SyncTrayzor/internal/adapter/sqlite"
)

type request struct {
	limit  string
	apiKey string
}

func daemon(t *testing.T, code int, body string) (*httptest.Server, *request) {
	t.Helper()
	got := &request{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got.limit = r.URL.Query().Get("limit")
		got.apiKey = r.Header.Get("X-API-Key")
		w.WriteHeader(code)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv, got
}

func TestProbeHeadReturnsNewestID(t *testing.T) {
	tests := []struct {
		name string
		body string
		want int64
	}{
		{name: "newest event", body: `[{"id": 57, "type": "Ping", "time": "2026-10-19T10:00:00Z", "data": null}]`, want: 57},
		{name: "empty log", body: `[]`, want: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, req := daemon(t, http.StatusOK, tt.body)
			cfg := config.Default()
			cfg.Address = srv.URL
			cfg.APIKey = "secret"

			head, err := probeHead(context.Background(), cfg)
			if err != nil {
				t.Fatalf("probeHead() error: %v", err)
			}
			if head != tt.want {
				t.Fatalf("probeHead() = %d, want %d", head, tt.want)
			}
			if req.limit != "1" {
				t.Errorf("limit = %q, want 1", req.limit)
			}
			if req.apiKey != "secret" {
				t.Errorf("X-API-Key = %q", req.apiKey)
			}
		})
	}
}

func TestProbeHeadRejectedKey(t *testing.T) {
	srv, _ := daemon(t, http.StatusForbidden, "CSRF Error")
	cfg := config.Default()
	cfg.Address = srv.URL

	_, err := probeHead(context.Background(), cfg)
	if !rest.IsUnauthorized(err) {
		t.Fatalf("probeHead() error = %v, want unauthorized", err)
	}
}

func TestRenderBehindColumn(t *testing.T) {
	lipgloss.SetColorProfile(termenv.Ascii)

	cfg := config.Default()
	cfg.Address = "http://127.0.0.1:8384"
	updated := time.Date(2026, 10, 19, 10, 0, 0, 0, time.UTC)
	cursors := []sqlite.Cursor{
		{Name: "laptop", EventID: 50, UpdatedAt: updated},
		{Name: "nas", EventID: 57, UpdatedAt: updated},
	}

	tests := []struct {
		name       string
		head       int64
		wantBehind map[string]string
	}{
		{name: "probed", head: 57, wantBehind: map[string]string{"laptop": "7", "nas": "0"}},
		{name: "not probed", head: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			render(&out, cfg, cursors, tt.head)

			text := out.String()
			if got := strings.Contains(text, "BEHIND"); got != (tt.head > 0) {
				t.Fatalf("BEHIND column shown = %v, want %v:\n%s", got, tt.head > 0, text)
			}
			for name, want := range tt.wantBehind {
				fields := rowFields(text, name)
				if len(fields) == 0 {
					t.Fatalf("no row for %s:\n%s", name, text)
				}
				if got := fields[len(fields)-1]; got != want {
					t.Errorf("%s behind = %q, want %q", name, got, want)
				}
			}
		})
	}
}

// rowFields returns the cells of the table row that starts with name.
func rowFields(table, name string) []string {
	for _, line := range strings.Split(table, "\n") {
		fields := strings.Fields(strings.ReplaceAll(line, "│", " "))
		if len(fields) > 0 && fields[0] == name {
			return fields
		}
	}
	return nil
}

func TestStatusProbeRejectedKeyFails(t *testing.T) {
	srv, _ := daemon(t, http.StatusUnauthorized, "Not Authorized")

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := "address: " + srv.URL + "\nstate_dir: " + filepath.Join(dir, "state") + "\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	cmd := Cmd(&cmdutil.Options{ConfigPath: path, NoColor: true})
	cmd.SetArgs([]string{"--probe"})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})

	err := cmd.ExecuteContext(context.Background())
	if err == nil || !strings.Contains(err.Error(), "rejected the API key") {
		t.Fatalf("Execute() error = %v, want rejected API key", err)
	}
}
