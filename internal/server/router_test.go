package server

import (
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"testing"
)

func TestBasicRouter(t *testing.T) {
	var order []string
	mark := func(name string) Middleware {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}

	router := NewBasicRouter()
	router.Use(mark("outer"), mark("inner"))
	router.Handle("get", "/items/{id}", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(r.PathValue("id")))
	}))
	router.Handler(HealthHandler{})

	t.Run("Path Values And Middleware Order", func(t *testing.T) {
		order = nil
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/items/42", nil))

		if rec.Code != http.StatusOK || rec.Body.String() != "42" {
			t.Errorf("unexpected response %d %q", rec.Code, rec.Body.String())
		}
		if !slices.Equal(order, []string{"outer", "inner"}) {
			t.Errorf("middleware order = %v", order)
		}
	})

	t.Run("Method Not Allowed", func(t *testing.T) {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/items/42", nil))
		if rec.Code != http.StatusMethodNotAllowed {
			t.Errorf("expected 405, got %d", rec.Code)
		}
	})

	t.Run("Method Not Allowed Lists Allowed Methods", func(t *testing.T) {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/items/7", nil))
		if allow := rec.Header().Get("Allow"); !strings.Contains(allow, http.MethodGet) {
			t.Errorf("expected Allow to include GET, got %q", allow)
		}
	})

	t.Run("Routes", func(t *testing.T) {
		got := router.Routes()
		if !slices.Contains(got, "GET /items/{id}") {
			t.Errorf("expected GET /items/{id} in %v", got)
		}
		if !slices.IsSorted(got) {
			t.Errorf("expected sorted routes, got %v", got)
		}
	})

	t.Run("Custom Handler", func(t *testing.T) {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
		if rec.Code != http.StatusOK {
			t.Errorf("expected 200, got %d", rec.Code)
		}
	})
}
