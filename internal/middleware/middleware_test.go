package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

// dummyHandler is a placeholder that records if it was called.
type dummyHandler struct {
	called bool
}

func (d *dummyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	d.called = true
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func TestRequireState(t *testing.T) {
	tests := []struct {
		name     string
		expected string
		target   string
		wantCode int
		wantNext bool
	}{
		{name: "matching state", expected: "abc", target: "/callback?state=abc&code=1", wantCode: http.StatusOK, wantNext: true},
		{name: "missing state", expected: "abc", target: "/callback?code=1", wantCode: http.StatusBadRequest},
		{name: "foreign state", expected: "abc", target: "/callback?state=abd&code=1", wantCode: http.StatusBadRequest},
		{name: "empty expectation", expected: "", target: "/callback?state=", wantCode: http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dummy := &dummyHandler{}
			h := RequireState(tt.expected)(dummy)
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.target, nil))

			if rec.Code != tt.wantCode {
				t.Errorf("expected %d, got %d", tt.wantCode, rec.Code)
			}
			if dummy.called != tt.wantNext {
				t.Errorf("next called = %v, want %v", dummy.called, tt.wantNext)
			}
		})
	}
}

func TestWithRequestLogging(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	dummy := &dummyHandler{}
	h := WithRequestLogging(zap.New(core))(dummy)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/callback?code=secret", nil))

	if !dummy.called {
		t.Fatal("expected next handler to be called")
	}
	if logs.Len() != 1 {
		t.Fatalf("expected 1 log entry, got %d", logs.Len())
	}
	fields := logs.All()[0].ContextMap()
	if fields["path"] != "/callback" {
		t.Errorf("unexpected path field %v", fields["path"])
	}
	if fields["status"] != int64(http.StatusOK) {
		t.Errorf("unexpected status field %v", fields["status"])
	}
	if fields["size"] != int64(2) {
		t.Errorf("unexpected size field %v", fields["size"])
	}
	for _, v := range fields {
		if s, ok := v.(string); ok && s == "secret" {
			t.Error("query string leaked into the log")
		}
	}
}
