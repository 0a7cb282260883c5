package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atinyakov/freshtrio/internal/models"
)

// fakeShop serves the backend API and the identity endpoints.
type fakeShop struct {
	mu       sync.Mutex
	orders   []models.OrderRequest
	logouts  int
	profile  models.Profile
	updates  []models.ProfileUpdate
	idpEdits []map[string]any
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

var ribeye = map[string]any{"id": "ribeye", "name": "Ribeye Steak", "price": 12.5, "category": "beef", "unit": "kg"}

func (f *fakeShop) router() http.Handler {
	r := chi.NewRouter()
	r.Route("/api", func(r chi.Router) {
		r.Get("/products", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, map[string]any{"content": []any{ribeye}, "totalElements": 1, "totalPages": 1})
		})
		r.Get("/products/categories", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, []string{"beef", "lamb"})
		})
		r.Get("/products/{id}", func(w http.ResponseWriter, r *http.Request) {
			if chi.URLParam(r, "id") != "ribeye" {
				writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
				return
			}
			writeJSON(w, http.StatusOK, ribeye)
		})
		r.Post("/auth/{provider}", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, map[string]any{
				"accessToken":  "access-1",
				"refreshToken": "refresh-1",
				"user":         map[string]any{"id": "backend-42", "email": "ann@example.com", "role": "customer"},
			})
		})
		r.Post("/auth/logout", func(w http.ResponseWriter, _ *http.Request) {
			f.mu.Lock()
			f.logouts++
			f.mu.Unlock()
			w.WriteHeader(http.StatusNoContent)
		})
		r.Post("/orders", func(w http.ResponseWriter, r *http.Request) {
			var req models.OrderRequest
			_ = json.NewDecoder(r.Body).Decode(&req)
			f.mu.Lock()
			f.orders = append(f.orders, req)
			f.mu.Unlock()
			writeJSON(w, http.StatusCreated, map[string]any{
				"id": "o-1", "status": "pending", "totalAmount": req.TotalAmount, "deliveryDate": req.DeliveryDate,
			})
		})
		r.Get("/users/profile", func(w http.ResponseWriter, _ *http.Request) {
			f.mu.Lock()
			defer f.mu.Unlock()
			writeJSON(w, http.StatusOK, f.profileLocked())
		})
		r.Put("/users/profile", func(w http.ResponseWriter, r *http.Request) {
			var upd models.ProfileUpdate
			_ = json.NewDecoder(r.Body).Decode(&upd)
			f.mu.Lock()
			defer f.mu.Unlock()
			f.updates = append(f.updates, upd)
			p := f.profileLocked()
			p.FirstName = cmpOr(upd.FirstName, p.FirstName)
			p.LastName = cmpOr(upd.LastName, p.LastName)
			p.Phone = cmpOr(upd.Phone, p.Phone)
			p.Address = cmpOr(upd.Address, p.Address)
			f.profile = p
			writeJSON(w, http.StatusOK, p)
		})
		r.Get("/orders", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, []any{map[string]any{"id": "o-1", "status": "confirmed", "totalAmount": 25, "deliveryDate": "2099-01-02"}})
		})
	})
	r.Post("/v1/*", func(w http.ResponseWriter, r *http.Request) {
		switch chi.URLParam(r, "*") {
		case "accounts:signInWithPassword":
			writeJSON(w, http.StatusOK, map[string]any{
				"idToken": "id-1", "refreshToken": "prov-refresh", "expiresIn": "3600",
				"localId": "uid-1", "email": "ann@example.com", "displayName": "Ann",
			})
		case "accounts:signUp":
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": map[string]any{"message": "EMAIL_EXISTS"}})
		case "accounts:update":
			var body map[string]any
			_ = json.NewDecoder(r.Body).Decode(&body)
			f.mu.Lock()
			f.idpEdits = append(f.idpEdits, body)
			f.mu.Unlock()
			writeJSON(w, http.StatusOK, map[string]any{"localId": "uid-1"})
		case "accounts:lookup":
			writeJSON(w, http.StatusOK, map[string]any{"users": []any{map[string]any{"localId": "uid-1", "email": "ann@example.com", "displayName": "Ann"}}})
		default:
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": map[string]any{"message": "OPERATION_NOT_ALLOWED"}})
		}
	})
	r.Post("/st/token", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"id_token": "id-2", "refresh_token": "prov-refresh", "expires_in": "3600"})
	})
	return r
}

func (f *fakeShop) profileLocked() models.Profile {
	if f.profile.ID == "" {
		f.profile = models.Profile{ID: "backend-42", Email: "ann@example.com", FirstName: "Ann", Role: "customer"}
	}
	return f.profile
}

type testEnv struct {
	shop *fakeShop
	args []string
}

func newTestEnv(t *testing.T, storageArgs ...string) *testEnv {
	t.Helper()
	shop := &fakeShop{}
	srv := httptest.NewServer(shop.router())
	t.Cleanup(srv.Close)
	if len(storageArgs) == 0 {
		storageArgs = []string{"--storage", "memory"}
	}
	args := append([]string{
		"--config", "",
		"--api-url", srv.URL + "/api",
		"--identity-url", srv.URL + "/v1",
		"--secure-token-url", srv.URL + "/st",
		"--firebase-api-key", "test-key",
		"--log-level", "error",
	}, storageArgs...)
	return &testEnv{shop: shop, args: args}
}

// cliSession is one CLI process with scripted input.
type cliSession struct {
	env *testEnv
	cli *cli
	out *bytes.Buffer
}

func (e *testEnv) start(t *testing.T, input string) *cliSession {
	t.Helper()
	out := &bytes.Buffer{}
	c := newCLI(strings.NewReader(input), out)
	t.Cleanup(c.close)
	return &cliSession{env: e, cli: c, out: out}
}

// run executes one command and returns what it printed.
func (s *cliSession) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	s.out.Reset()
	root := s.cli.rootCmd()
	root.SetArgs(append(append([]string{}, args...), s.env.args...))
	err := root.ExecuteContext(context.Background())
	return s.out.String(), err
}

func (s *cliSession) mustRun(t *testing.T, args ...string) string {
	t.Helper()
	out, err := s.run(t, args...)
	require.NoError(t, err, out)
	return out
}

func TestVersion(t *testing.T) {
	env := newTestEnv(t)
	out := env.start(t, "").mustRun(t, "version")
	assert.Contains(t, out, "FreshTrio Client")
	assert.Contains(t, out, "Version: N/A")
}

func TestCatalogAndCart(t *testing.T) {
	env := newTestEnv(t)
	s := env.start(t, "")

	out := s.mustRun(t, "products")
	assert.Contains(t, out, "Categories: beef, lamb")
	assert.Contains(t, out, "Ribeye Steak")
	assert.Contains(t, out, "£12.50/kg")

	out = s.mustRun(t, "cart", "add", "ribeye", "2")
	assert.Contains(t, out, "Added 2 × Ribeye Steak (2 items in cart)")
	s.mustRun(t, "cart", "add", "ribeye")

	out = s.mustRun(t, "cart", "show")
	assert.Contains(t, out, "£37.50")

	s.mustRun(t, "cart", "set", "ribeye", "0")
	assert.Contains(t, s.mustRun(t, "cart"), "Your cart is empty")

	_, err := s.run(t, "cart", "add", "ribeye", "0")
	assert.Error(t, err)
	_, err = s.run(t, "cart", "add", "ghost")
	assert.Error(t, err)
}

func TestCheckoutRequiresLogin(t *testing.T) {
	env := newTestEnv(t)
	s := env.start(t, "")
	s.mustRun(t, "cart", "add", "ribeye")

	_, err := s.run(t, "checkout", "--yes", "--date", "2099-01-02", "--street", "1 Market St", "--city", "York", "--postal-code", "YO1")
	assert.ErrorIs(t, err, errNotSignedIn)
}

func TestLoginCheckoutLogout(t *testing.T) {
	env := newTestEnv(t)
	s := env.start(t, "secret1\n")

	out := s.mustRun(t, "login", "ann@example.com")
	assert.Contains(t, out, "Signed in as Ann")

	out = s.mustRun(t, "whoami")
	assert.Contains(t, out, "backend-42")
	assert.Contains(t, out, "customer")

	s.mustRun(t, "cart", "add", "ribeye", "2")
	out = s.mustRun(t, "checkout", "--yes", "--date", "2099-01-02", "--street", "1 Market St", "--city", "York", "--postal-code", "YO1 7HH")
	assert.Contains(t, out, "Order o-1 placed")

	env.shop.mu.Lock()
	require.Len(t, env.shop.orders, 1)
	assert.Equal(t, "ribeye", env.shop.orders[0].Items[0].ProductID)
	assert.Equal(t, "cash_on_delivery", env.shop.orders[0].PaymentMethod)
	env.shop.mu.Unlock()

	assert.Contains(t, s.mustRun(t, "cart"), "Your cart is empty")
	assert.Contains(t, s.mustRun(t, "orders", "list"), "confirmed")

	s.mustRun(t, "cart", "add", "ribeye")
	assert.Contains(t, s.mustRun(t, "logout"), "Signed out")
	assert.Contains(t, s.mustRun(t, "whoami"), "Not signed in")
	assert.Contains(t, s.mustRun(t, "cart"), "Your cart is empty", "sign-out clears the cart")

	env.shop.mu.Lock()
	assert.Equal(t, 1, env.shop.logouts)
	env.shop.mu.Unlock()
}

func TestProfileUpdate(t *testing.T) {
	env := newTestEnv(t)
	s := env.start(t, "secret1\n")

	_, err := s.run(t, "profile", "update", "--phone", "0123")
	assert.ErrorIs(t, err, errNotSignedIn)

	s.mustRun(t, "login", "ann@example.com")
	assert.Contains(t, s.mustRun(t, "profile"), "Ann")

	_, err = s.run(t, "profile", "update")
	assert.ErrorIs(t, err, errNothingToUpdate)

	out := s.mustRun(t, "profile", "update", "--last-name", "Lee", "--phone", "0123", "--photo", "https://img.example.com/ann.png")
	assert.Contains(t, out, "Profile updated")
	assert.Contains(t, out, "Ann Lee")
	assert.Contains(t, out, "0123")

	env.shop.mu.Lock()
	require.Len(t, env.shop.updates, 1)
	assert.Equal(t, models.ProfileUpdate{LastName: "Lee", Phone: "0123"}, env.shop.updates[0])
	require.Len(t, env.shop.idpEdits, 1)
	assert.Equal(t, "Ann Lee", env.shop.idpEdits[0]["displayName"])
	assert.Equal(t, "https://img.example.com/ann.png", env.shop.idpEdits[0]["photoUrl"])
	env.shop.mu.Unlock()

	assert.Contains(t, s.mustRun(t, "whoami"), "Ann Lee")

	// A photo-only change skips the backend write.
	s.mustRun(t, "profile", "update", "--photo", "https://img.example.com/ann2.png")
	env.shop.mu.Lock()
	assert.Len(t, env.shop.updates, 1)
	assert.Len(t, env.shop.idpEdits, 2)
	env.shop.mu.Unlock()
}

func TestProviderErrorIsShownVerbatim(t *testing.T) {
	env := newTestEnv(t)
	s := env.start(t, "ann@example.com\nsecret1\n")

	_, err := s.run(t, "signup")
	require.Error(t, err)
	assert.Equal(t, "An account with this email already exists.", err.Error())
}

func TestCartPersistsAcrossProcesses(t *testing.T) {
	for _, driver := range []string{"file", "sqlite"} {
		t.Run(driver, func(t *testing.T) {
			dir := t.TempDir()
			env := newTestEnv(t, "--storage", driver, "--data-dir", dir)

			first := env.start(t, "")
			first.mustRun(t, "cart", "add", "ribeye", "3")
			first.cli.close()

			second := env.start(t, "")
			out := second.mustRun(t, "cart")
			assert.Contains(t, out, "Ribeye Steak")
			assert.Contains(t, out, "£37.50")

			assert.FileExists(t, filepath.Join(dir, "secure.key"))
		})
	}
}

func TestShell(t *testing.T) {
	env := newTestEnv(t)
	script := strings.Join([]string{
		"help",
		"products",
		"add ribeye 2",
		"set ribeye 5",
		"cart",
		"bogus",
		"add",
		"remove ribeye",
		"cart",
		"exit",
	}, "\n") + "\n"
	s := env.start(t, script)

	out := s.mustRun(t, "shell")
	assert.Contains(t, out, "Available commands")
	assert.Contains(t, out, "Ribeye Steak")
	assert.Contains(t, out, "Added 2 × Ribeye Steak")
	assert.Contains(t, out, "£62.50")
	assert.Contains(t, out, `Error: unknown command "bogus"`)
	assert.Contains(t, out, "Error: usage: add <id> [qty]")
	assert.Contains(t, out, "Your cart is empty")
	assert.Contains(t, out, "Bye")
}

func TestShellEndsOnEOF(t *testing.T) {
	env := newTestEnv(t)
	s := env.start(t, "cart\n")
	out := s.mustRun(t, "shell")
	assert.Contains(t, out, "Your cart is empty")
	assert.NotContains(t, out, "Bye")
}
