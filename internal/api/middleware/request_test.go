package middleware

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
)

func TestDeadline(t *testing.T) {
	var deadline time.Time
	var ok bool
	handler := Deadline(time.Second)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		deadline, ok = r.Context().Deadline()
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	if !ok || time.Until(deadline) > time.Second {
		t.Errorf("дедлайн не установлен: %v %v", deadline, ok)
	}

	handler = Deadline(0)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, ok = r.Context().Deadline()
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	if ok {
		t.Error("нулевой таймаут не должен устанавливать дедлайн")
	}
}

func TestIdempotencyKey(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/applications", nil)
	if IdempotencyKey(req) != "" {
		t.Error("ожидался пустой ключ")
	}
	req.Header.Set(HeaderIdempotencyKey, "k-1")
	if IdempotencyKey(req) != "k-1" {
		t.Errorf("ключ = %q", IdempotencyKey(req))
	}
}

func TestRequestLogger_Levels(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	handler := RequestLogger(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/replayed" {
			w.Header().Set(HeaderReplayed, "true")
		}
		switch r.URL.Path {
		case "/missing":
			w.WriteHeader(http.StatusNotFound)
		case "/broken":
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_, _ = w.Write([]byte("ok"))
	}))

	tests := []struct {
		path  string
		level string
	}{
		{"/ok", "level=INFO"},
		{"/missing", "level=WARN"},
		{"/broken", "level=ERROR"},
		{"/replayed", "replayed=true"},
	}
	for _, tt := range tests {
		buf.Reset()
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, tt.path, nil))
		if !strings.Contains(buf.String(), tt.level) {
			t.Errorf("%s: в логе нет %q: %s", tt.path, tt.level, buf.String())
		}
	}
	if !strings.Contains(buf.String(), "bytes=2") {
		t.Errorf("размер ответа не залогирован: %s", buf.String())
	}
}

func TestRoutePattern(t *testing.T) {
	var pattern string
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			next.ServeHTTP(w, req)
			pattern = routePattern(req)
		})
	})
	r.Get("/applications/{applicationId}", func(w http.ResponseWriter, _ *http.Request) {})

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/applications/3f1c", nil))
	if pattern != "/applications/{applicationId}" {
		t.Errorf("шаблон = %q", pattern)
	}

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/nowhere", nil))
	if pattern != "unmatched" {
		t.Errorf("шаблон для неизвестного пути = %q, ожидается unmatched", pattern)
	}
}
