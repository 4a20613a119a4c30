// fixture_test.go — общий стенд unit-тестов сервисов: хранилище в памяти,
// фейковые кредитор и объектное хранилище, справочник кредиторов.
package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/bigkaa/loandesk/internal/blobstore"
	"github.com/bigkaa/loandesk/internal/domain/model"
	"github.com/bigkaa/loandesk/internal/domain/rbac"
	"github.com/bigkaa/loandesk/internal/lender"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

var (
	staff    = Actor{Subject: "staff-1", Role: rbac.RoleStaff}
	staff2   = Actor{Subject: "staff-2", Role: rbac.RoleStaff}
	admin    = Actor{Subject: "admin-1", Role: rbac.RoleAdmin}
	readonly = Actor{Subject: "auditor-1", Role: rbac.RoleReadonly}
	borrower = Actor{Subject: "borrower-1"}
)

// fakeDispatcher — кредитор: очередь ошибок, затем успех.
type fakeDispatcher struct {
	mu    sync.Mutex
	calls []lender.Package
	errs  []error
	ref   string
}

func (d *fakeDispatcher) Dispatch(_ context.Context, _ *model.Lender, p lender.Package) (lender.Receipt, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, p)
	if len(d.errs) > 0 {
		err := d.errs[0]
		d.errs = d.errs[1:]
		if err != nil {
			return lender.Receipt{}, err
		}
	}
	return lender.Receipt{ExternalReference: d.ref}, nil
}

func (d *fakeDispatcher) callCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.calls)
}

// fakeBlobs — объектное хранилище в памяти.
type fakeBlobs struct {
	mu      sync.Mutex
	objects map[string][]byte
	puts    int
	headErr error
}

func (b *fakeBlobs) Head(_ context.Context, key string) (blobstore.ObjectInfo, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.headErr != nil {
		return blobstore.ObjectInfo{}, b.headErr
	}
	data, ok := b.objects[key]
	if !ok {
		return blobstore.ObjectInfo{}, blobstore.ErrNotFound
	}
	return blobstore.ObjectInfo{Size: int64(len(data))}, nil
}

func (b *fakeBlobs) Put(_ context.Context, key, _ string, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects[key] = data
	b.puts++
	return nil
}

// fixture — собранные сервисы поверх одного хранилища.
type fixture struct {
	store       *memStore
	dispatcher  *fakeDispatcher
	blobs       *fakeBlobs
	cache       *LenderCache
	apps        *ApplicationService
	docs        *DocumentService
	reviews     *ReviewService
	pipeline    *PipelineService
	submissions *SubmissionService
	lenders     *LenderAdminService
	clock       time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := testLogger()
	store := newMemStore()
	exec := NewExecutor(store, logger)
	f := &fixture{
		store:      store,
		dispatcher: &fakeDispatcher{ref: "EXT-1"},
		blobs:      &fakeBlobs{objects: map[string][]byte{}},
		cache:      NewLenderCache(16, time.Minute),
		clock:      time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	f.pipeline = NewPipelineService(store, exec, logger)
	f.apps = NewApplicationService(store, exec, "startup", logger)
	f.docs = NewDocumentService(store, exec, f.blobs, logger)
	f.reviews = NewReviewService(exec, f.pipeline, logger)
	f.lenders = NewLenderAdminService(store, f.cache, logger)
	f.submissions = NewSubmissionService(store, exec, f.dispatcher, f.cache,
		RetryPolicy{BaseDelay: time.Minute, MaxAttempts: 3}, logger)
	f.submissions.now = func() time.Time { return f.clock }
	return f
}

func key() string { return uuid.New().String() }

func decode[T any](t *testing.T, resp Response) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(resp.Body, &v); err != nil {
		t.Fatalf("ошибка разбора ответа %s: %v", resp.Body, err)
	}
	return v
}

// requireCode проверяет код доменной ошибки.
func requireCode(t *testing.T, err error, code string) *Error {
	t.Helper()
	if err == nil {
		t.Fatalf("ожидалась ошибка %s, получено nil", code)
	}
	se, ok := AsError(err)
	if !ok {
		t.Fatalf("ожидалась *Error с кодом %s, получено %T: %v", code, err, err)
	}
	if se.Code != code {
		t.Fatalf("код ошибки = %s, ожидается %s (%s)", se.Code, code, se.Message)
	}
	return se
}

// requireStoredCode проверяет код ошибки в сохранённом теле ответа.
func requireStoredCode(t *testing.T, resp Response, status int, code string) map[string]any {
	t.Helper()
	if resp.Status != status {
		t.Fatalf("статус = %d, ожидается %d (%s)", resp.Status, status, resp.Body)
	}
	var body struct {
		Error struct {
			Code    string         `json:"code"`
			Details map[string]any `json:"details"`
		} `json:"error"`
	}
	if err := json.Unmarshal(resp.Body, &body); err != nil {
		t.Fatalf("ошибка разбора тела ошибки %s: %v", resp.Body, err)
	}
	if body.Error.Code != code {
		t.Fatalf("код = %s, ожидается %s", body.Error.Code, code)
	}
	return body.Error.Details
}

// seedLender добавляет кредитора с продуктом через администрирование.
func (f *fixture) seedLender(t *testing.T, method string, email *string, category string) (lenderID, productID string) {
	t.Helper()
	ctx := context.Background()
	lenderID, productID = uuid.New().String(), uuid.New().String()
	in := LenderInput{Name: "Банк " + method, SubmissionMethod: method, SubmissionEmail: email}
	if method == string(model.MethodAPI) {
		endpoint := "https://lender.example.com/applications"
		in.APIEndpoint = &endpoint
	}
	if _, err := f.lenders.UpsertLender(ctx, admin, lenderID, in); err != nil {
		t.Fatalf("UpsertLender() error: %v", err)
	}
	if _, err := f.lenders.UpsertProduct(ctx, admin, lenderID, productID, ProductInput{Name: "Продукт", Category: category}); err != nil {
		t.Fatalf("UpsertProduct() error: %v", err)
	}
	return lenderID, productID
}

// requireDocs добавляет базовое требование категории.
func (f *fixture) requireDocs(t *testing.T, category string, types ...string) {
	t.Helper()
	for _, dt := range types {
		if _, err := f.lenders.AddRequirement(context.Background(), admin, RequirementInput{
			ProductCategory: category,
			DocumentType:    dt,
		}); err != nil {
			t.Fatalf("AddRequirement(%s) error: %v", dt, err)
		}
	}
}

// createApp создаёт заявку от имени заёмщика.
func (f *fixture) createApp(t *testing.T, category string, amount string) ApplicationView {
	t.Helper()
	in := CreateApplicationInput{ProductCategory: category}
	if amount != "" {
		d := decimal.RequireFromString(amount)
		in.RequestedAmount = &d
	}
	resp, err := f.apps.Create(context.Background(), borrower, key(), in)
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	return decode[ApplicationView](t, resp)
}

// upload загружает документ от имени заёмщика.
func (f *fixture) upload(t *testing.T, appID, docType, content string) DocumentVersionView {
	t.Helper()
	resp, err := f.docs.Upload(context.Background(), borrower, key(), appID, UploadInput{
		DocumentType: docType,
		FileName:     docType + ".pdf",
		ContentType:  "application/pdf",
		Data:         []byte(content),
	})
	if err != nil {
		t.Fatalf("Upload(%s) error: %v", docType, err)
	}
	return decode[DocumentVersionView](t, resp)
}

// accept принимает версию документа от имени staff.
func (f *fixture) accept(t *testing.T, v DocumentVersionView) {
	t.Helper()
	resp, err := f.reviews.Decide(context.Background(), staff, key(), v.ApplicationID, v.DocumentID, v.VersionID,
		model.DecisionAccepted, ReviewInput{})
	if err != nil {
		t.Fatalf("Decide(accepted) error: %v", err)
	}
	if resp.Status != 200 {
		t.Fatalf("Decide(accepted) статус = %d: %s", resp.Status, resp.Body)
	}
}

func (f *fixture) stage(t *testing.T, appID string) string {
	t.Helper()
	app, ok := f.store.snapshot().apps[appID]
	if !ok {
		t.Fatalf("заявка %s не найдена", appID)
	}
	return app.Stage.String()
}
