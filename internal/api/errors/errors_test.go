package errors

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/bigkaa/loandesk/internal/service"
)

type body struct {
	Error struct {
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Details map[string]any `json:"details"`
	} `json:"error"`
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) body {
	t.Helper()
	var b body
	if err := json.NewDecoder(rec.Body).Decode(&b); err != nil {
		t.Fatalf("ошибка разбора тела: %v", err)
	}
	return b
}

func TestWriteError(t *testing.T) {
	rec := httptest.NewRecorder()
	Unauthorized(rec, "нет токена")

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("статус = %d, ожидается 401", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
	b := decode(t, rec)
	if b.Error.Code != CodeUnauthorized || b.Error.Message != "нет токена" {
		t.Errorf("тело = %+v", b.Error)
	}
}

func TestFromService(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{
			name:   "доменная ошибка с деталями",
			err:    service.ErrMissingDocuments.WithDetails(map[string]any{"missing": []string{"passport"}}),
			status: http.StatusBadRequest,
			code:   service.CodeMissingDocuments,
		},
		{
			name:   "обёрнутая доменная ошибка",
			err:    fmt.Errorf("переход: %w", service.ErrStageConflict),
			status: http.StatusConflict,
			code:   service.CodeStageConflict,
		},
		{
			name:   "неизвестная ошибка",
			err:    fmt.Errorf("dial tcp: connection refused"),
			status: http.StatusServiceUnavailable,
			code:   service.CodeServiceUnavailable,
		},
		{
			name:   "истёк дедлайн",
			err:    fmt.Errorf("запрос: %w", context.DeadlineExceeded),
			status: http.StatusGatewayTimeout,
			code:   service.CodeGatewayTimeout,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			FromService(rec, tt.err)
			if rec.Code != tt.status {
				t.Errorf("статус = %d, ожидается %d", rec.Code, tt.status)
			}
			if b := decode(t, rec); b.Error.Code != tt.code {
				t.Errorf("код = %s, ожидается %s", b.Error.Code, tt.code)
			}
		})
	}
}

func TestFromService_Details(t *testing.T) {
	rec := httptest.NewRecorder()
	FromService(rec, service.ErrMissingDocuments.WithDetails(map[string]any{"missing": []string{"passport"}}))
	b := decode(t, rec)
	missing, ok := b.Error.Details["missing"].([]any)
	if !ok || len(missing) != 1 || missing[0] != "passport" {
		t.Errorf("details = %v", b.Error.Details)
	}
}
