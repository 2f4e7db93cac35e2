package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/spf13/viper"
)

func TestTruncate(t *testing.T) {
	tests := []struct {
		in   string
		max  int
		want string
	}{
		{"short", 10, "short"},
		{"exactly-ten", 11, "exactly-ten"},
		{"this is a longer string", 10, "this is..."},
		{"abc", 2, "ab"},
	}
	for _, tt := range tests {
		if got := truncate(tt.in, tt.max); got != tt.want {
			t.Errorf("truncate(%q, %d) = %q, want %q", tt.in, tt.max, got, tt.want)
		}
	}
}

func TestFormatWhen(t *testing.T) {
	if got := formatWhen("not a timestamp"); got != "not a timestamp" {
		t.Errorf("formatWhen passthrough = %q", got)
	}
	got := formatWhen("2026-08-31T09:30:00.123456789Z")
	if len(got) != len("2006-01-02 15:04") {
		t.Errorf("formatWhen(%q) = %q, want compact form", "2026-08-31T09:30:00.123456789Z", got)
	}
}

func TestClient_SendsProjectAndPrincipalHeaders(t *testing.T) {
	var gotProject, gotPrincipal string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotProject = r.Header.Get("X-Project-ID")
		gotPrincipal = r.Header.Get("X-User-Principal")
		_ = json.NewEncoder(w).Encode(map[string]any{})
	}))
	defer srv.Close()

	viper.Set("server", srv.URL)
	viper.Set("project", "proj-1")
	principal = "alice"
	defer func() {
		viper.Set("server", "")
		viper.Set("project", "")
		principal = ""
	}()

	client, err := newClient()
	if err != nil {
		t.Fatalf("newClient: %v", err)
	}
	var out map[string]any
	if err := client.getJSON("/api/v1/requirements", &out); err != nil {
		t.Fatalf("getJSON: %v", err)
	}

	if gotProject != "proj-1" {
		t.Errorf("project header = %q, want proj-1", gotProject)
	}
	if gotPrincipal != "alice" {
		t.Errorf("principal header = %q, want alice", gotPrincipal)
	}
}

func TestClient_RequiresProject(t *testing.T) {
	viper.Set("project", "")
	if _, err := newClient(); err == nil {
		t.Fatal("expected error when project is unset")
	}
}
