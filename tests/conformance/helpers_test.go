package conformance

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/go-chi/chi/v5"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/reqboard/reqboard/pkg/baseline"
	"github.com/reqboard/reqboard/pkg/changecontrol"
	"github.com/reqboard/reqboard/pkg/history"
	"github.com/reqboard/reqboard/pkg/identifier"
	"github.com/reqboard/reqboard/pkg/requirements"
	"github.com/reqboard/reqboard/pkg/scope"
	"github.com/reqboard/reqboard/pkg/trace"
)

// newTestServer assembles the full API surface against an in-memory
// database, the way the server binary wires it.
func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open test DB: %v", err)
	}

	ids := identifier.NewAllocator(db)
	ledger := history.NewLedger(db)
	reqStore := requirements.NewStore(db, ids, ledger)
	baselineMgr := baseline.NewManager(db, reqStore, ledger)
	engine := changecontrol.NewEngine(db, ids, ledger)
	traceStore := trace.NewStore(db, reqStore)
	reqStore.SetChangeRequestChecker(engine)

	for _, migrate := range []func() error{
		ids.AutoMigrate, ledger.AutoMigrate, reqStore.AutoMigrate,
		baselineMgr.AutoMigrate, engine.AutoMigrate, traceStore.AutoMigrate,
	} {
		if err := migrate(); err != nil {
			t.Fatalf("failed to migrate: %v", err)
		}
	}

	r := chi.NewRouter()
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(scope.Middleware(scope.HeaderResolver{Actor: scope.HeaderActorExtractor}))
		r.Mount("/requirements", requirements.NewRouter(reqStore, ledger,
			baseline.RegisterRoutes(baselineMgr),
			changecontrol.RequirementSubroutes(engine),
			trace.RequirementSubroutes(traceStore),
		))
		r.Mount("/changerequests", changecontrol.NewRouter(engine, ledger))
		r.Mount("/trace", trace.NewRouter(traceStore))
	})

	ts := httptest.NewServer(r)
	t.Cleanup(ts.Close)
	return ts
}

// call sends a JSON request with project and principal headers and decodes
// the response into out (when non-nil). Returns the status code.
func call(t *testing.T, ts *httptest.Server, method, path, project, actor string, body any, out any) int {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, ts.URL+path, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if project != "" {
		req.Header.Set("X-Project-ID", project)
	}
	if actor != "" {
		req.Header.Set("X-User-Principal", actor)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s failed: %v", method, path, err)
	}
	defer resp.Body.Close()

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil && err != io.EOF {
			t.Fatalf("decode %s %s response: %v", method, path, err)
		}
	}
	return resp.StatusCode
}

func createRequirement(t *testing.T, ts *httptest.Server, project, title string) requirements.Requirement {
	t.Helper()
	var req requirements.Requirement
	status := call(t, ts, http.MethodPost, "/api/v1/requirements", project, "alice",
		requirements.CreateInput{Title: title, Kind: requirements.KindFunctional}, &req)
	if status != http.StatusCreated {
		t.Fatalf("create requirement: expected 201, got %d", status)
	}
	return req
}
