package lender

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/bigkaa/loandesk/internal/domain/model"
)

// testLogger создаёт logger для тестов.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// setupMockLender создаёт mock HTTP-сервер кредитора.
func setupMockLender(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return server
}

func apiLender(endpoint string) *model.Lender {
	return &model.Lender{ID: "lender-1", Name: "API Bank", SubmissionMethod: model.MethodAPI, APIEndpoint: &endpoint}
}

func testPackage() Package {
	return Package{
		SubmissionID:   "sub-1",
		IdempotencyKey: "key-1",
		Payload: model.SubmissionPayload{
			ApplicationID: "app-1",
			ProductName:   "Term 5y",
			Method:        "API",
			Attachments: []model.Attachment{
				{DocumentID: "doc-1", DocumentType: "id_document", Version: 1, FileName: "passport.pdf",
					ContentType: "application/pdf", BlobKey: "applications/app-1/aaa", Checksum: "aaa"},
			},
		},
	}
}

func TestAPITransmitter_Success(t *testing.T) {
	server := setupMockLender(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if got := r.Header.Get("Idempotency-Key"); got != "key-1" {
			t.Errorf("Idempotency-Key = %q, ожидается key-1", got)
		}
		var payload model.SubmissionPayload
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("тело запроса не JSON: %v", err)
		}
		if payload.ApplicationID != "app-1" || len(payload.Attachments) != 1 {
			t.Errorf("payload = %+v", payload)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"reference":"LND-42"}`))
	})

	tr, err := NewAPITransmitter("", testLogger())
	if err != nil {
		t.Fatal(err)
	}

	receipt, err := tr.Transmit(context.Background(), apiLender(server.URL), testPackage())
	if err != nil {
		t.Fatalf("Transmit() ошибка: %v", err)
	}
	if receipt.ExternalReference != "LND-42" {
		t.Errorf("ExternalReference = %q, ожидается LND-42", receipt.ExternalReference)
	}
}

func TestAPITransmitter_EmptyBody(t *testing.T) {
	server := setupMockLender(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	tr, _ := NewAPITransmitter("", testLogger())
	receipt, err := tr.Transmit(context.Background(), apiLender(server.URL), testPackage())
	if err != nil {
		t.Fatalf("Transmit() ошибка: %v", err)
	}
	if receipt.ExternalReference != "" {
		t.Errorf("ExternalReference = %q, ожидается пустой", receipt.ExternalReference)
	}
}

func TestAPITransmitter_Rejected(t *testing.T) {
	for _, status := range []int{http.StatusBadRequest, http.StatusConflict, http.StatusInternalServerError} {
		server := setupMockLender(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
			_, _ = w.Write([]byte(`{"error":"nope"}`))
		})

		tr, _ := NewAPITransmitter("", testLogger())
		_, err := tr.Transmit(context.Background(), apiLender(server.URL), testPackage())
		if !errors.Is(err, ErrRejected) {
			t.Errorf("статус %d: ошибка = %v, ожидается ErrRejected", status, err)
		}
	}
}

func TestAPITransmitter_MissingEndpoint(t *testing.T) {
	tr, _ := NewAPITransmitter("", testLogger())
	l := &model.Lender{ID: "lender-1", SubmissionMethod: model.MethodAPI}
	if _, err := tr.Transmit(context.Background(), l, testPackage()); !errors.Is(err, ErrRejected) {
		t.Errorf("ошибка = %v, ожидается ErrRejected", err)
	}
}

func TestDispatcher_Timeout(t *testing.T) {
	release := make(chan struct{})
	server := setupMockLender(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	t.Cleanup(func() { close(release) })

	tr, _ := NewAPITransmitter("", testLogger())
	d := NewDispatcher(50*time.Millisecond, testLogger())
	d.Register(model.MethodAPI, tr)

	_, err := d.Dispatch(context.Background(), apiLender(server.URL), testPackage())
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("ошибка = %v, ожидается ErrTimeout", err)
	}
}

func TestDispatcher_UnsupportedMethod(t *testing.T) {
	d := NewDispatcher(time.Second, testLogger())
	l := &model.Lender{ID: "lender-1", SubmissionMethod: model.MethodPortal}

	if _, err := d.Dispatch(context.Background(), l, testPackage()); !errors.Is(err, ErrUnsupportedMethod) {
		t.Errorf("ошибка = %v, ожидается ErrUnsupportedMethod", err)
	}
}

type stubTransmitter struct {
	err error
}

func (s stubTransmitter) Transmit(context.Context, *model.Lender, Package) (Receipt, error) {
	return Receipt{ExternalReference: "ok"}, s.err
}

func TestDispatcher_Classify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"дедлайн контекста", context.DeadlineExceeded, ErrTimeout},
		{"уже ErrTimeout", ErrTimeout, ErrTimeout},
		{"произвольная ошибка", errors.New("connection refused"), ErrRejected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewDispatcher(0, testLogger())
			d.Register(model.MethodAPI, stubTransmitter{err: tt.err})
			_, err := d.Dispatch(context.Background(), apiLender("http://unused"), testPackage())
			if !errors.Is(err, tt.want) {
				t.Errorf("ошибка = %v, ожидается %v", err, tt.want)
			}
		})
	}
}
