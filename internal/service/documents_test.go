package service

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/bigkaa/loandesk/internal/domain/model"
)

// TestUpload_Versions проверяет нумерацию версий и адресацию по содержимому.
func TestUpload_Versions(t *testing.T) {
	f := newFixture(t)
	app := f.createApp(t, "auto", "")

	v1 := f.upload(t, app.ID, "Passport ", "same-bytes")
	v2 := f.upload(t, app.ID, "passport", "same-bytes")
	v3 := f.upload(t, app.ID, "passport", "other-bytes")

	if v1.DocumentType != "passport" {
		t.Errorf("documentType = %q, ожидается нормализованный passport", v1.DocumentType)
	}
	if v1.Version != 1 || v2.Version != 2 || v3.Version != 3 {
		t.Errorf("версии = %d, %d, %d; ожидается 1, 2, 3", v1.Version, v2.Version, v3.Version)
	}
	if v1.DocumentID != v2.DocumentID || v2.DocumentID != v3.DocumentID {
		t.Error("версии одного типа попали в разные документы")
	}
	if v1.Checksum != v2.Checksum || v1.Checksum == v3.Checksum {
		t.Error("контрольные суммы не соответствуют содержимому")
	}
	if f.blobs.puts != 2 {
		t.Errorf("записей в хранилище = %d, ожидается 2 (одинаковые байты пишутся один раз)", f.blobs.puts)
	}

	st := f.store.snapshot()
	if n := st.countAudit(model.ActionDocumentUploaded, true); n != 3 {
		t.Errorf("событий загрузки = %d, ожидается 3", n)
	}
	if got := f.stage(t, app.ID); got != "RECEIVED" {
		t.Errorf("загрузка изменила стадию: %s", got)
	}
}

func TestUpload_Replay(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	app := f.createApp(t, "auto", "")
	k := key()
	in := UploadInput{DocumentType: "passport", FileName: "p.pdf", ContentType: "application/pdf", Data: []byte("scan")}

	first, err := f.docs.Upload(ctx, borrower, k, app.ID, in)
	if err != nil {
		t.Fatalf("Upload() error: %v", err)
	}
	second, err := f.docs.Upload(ctx, borrower, k, app.ID, in)
	if err != nil {
		t.Fatalf("повторный Upload() error: %v", err)
	}
	if !second.Replayed || string(second.Body) != string(first.Body) {
		t.Error("повтор загрузки не воспроизвёл ответ")
	}
	if n := len(f.store.snapshot().versions); n != 1 {
		t.Errorf("версий = %d, ожидается 1", n)
	}

	in.Data = []byte("другой скан")
	_, err = f.docs.Upload(ctx, borrower, k, app.ID, in)
	requireCode(t, err, CodeIdempotencyConflict)
}

func TestUpload_Rejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	app := f.createApp(t, "auto", "")
	valid := UploadInput{DocumentType: "passport", Data: []byte("scan")}

	_, err := f.docs.Upload(ctx, borrower, key(), app.ID, UploadInput{DocumentType: "passport"})
	requireCode(t, err, CodeValidation)

	_, err = f.docs.Upload(ctx, borrower, key(), app.ID, UploadInput{Data: []byte("scan")})
	requireCode(t, err, CodeValidation)

	_, err = f.docs.Upload(ctx, Actor{Subject: "stranger"}, key(), app.ID, valid)
	requireCode(t, err, CodeForbidden)
	if f.blobs.puts != 0 {
		t.Error("байты записаны до проверки прав")
	}

	_, err = f.docs.Upload(ctx, borrower, key(), "3c2b1a00-0000-4000-8000-000000000000", valid)
	requireCode(t, err, CodeNotFound)

	f.blobs.headErr = errors.New("connection refused")
	_, err = f.docs.Upload(ctx, borrower, key(), app.ID, valid)
	requireCode(t, err, CodeServiceUnavailable)
}

// TestUpload_TerminalApplication проверяет, что в закрытую заявку загрузить нельзя.
func TestUpload_TerminalApplication(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	app := f.createApp(t, "auto", "")
	if _, err := f.pipeline.Transition(ctx, admin, key(), app.ID, TransitionInput{State: "DECLINED", Override: true, Reason: "дубль"}); err != nil {
		t.Fatalf("Transition() error: %v", err)
	}

	resp, err := f.docs.Upload(ctx, borrower, key(), app.ID, UploadInput{DocumentType: "passport", Data: []byte("scan")})
	if err != nil {
		t.Fatalf("Upload() error: %v", err)
	}
	requireStoredCode(t, resp, http.StatusBadRequest, CodeValidation)
	if n := len(f.store.snapshot().versions); n != 0 {
		t.Errorf("версий = %d, ожидается 0", n)
	}
}

func TestApplicationAudit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.requireDocs(t, "personal", "passport")
	app := f.createApp(t, "personal", "")
	f.accept(t, f.upload(t, app.ID, "passport", "scan"))

	events, err := f.apps.Audit(ctx, staff, app.ID, 0)
	if err != nil {
		t.Fatalf("Audit() error: %v", err)
	}
	want := []string{
		model.ActionPipelineTransition, // REQUIRES_DOCS → UNDER_REVIEW
		model.ActionDocumentReviewed,
		model.ActionDocumentUploaded,
		model.ActionPipelineTransition, // RECEIVED → REQUIRES_DOCS
		model.ActionApplicationCreated,
	}
	if len(events) != len(want) {
		t.Fatalf("событий = %d, ожидается %d", len(events), len(want))
	}
	for i, e := range events {
		if e.Action != want[i] {
			t.Errorf("событие %d = %s, ожидается %s", i, e.Action, want[i])
		}
	}

	_, err = f.apps.Audit(ctx, Actor{Subject: "stranger"}, app.ID, 10)
	requireCode(t, err, CodeForbidden)
}
