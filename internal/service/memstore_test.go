// memstore_test.go — хранилище в памяти для unit-тестов сервисов.
//
// Транзакции сериализуются мьютексом: RunInTx работает с копией состояния
// и публикует её только при успехе fn. Этого достаточно, чтобы проверять
// атомарность мутаций и откат записи идемпотентности.
package service

import (
	"context"
	"errors"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bigkaa/loandesk/internal/domain/model"
	"github.com/bigkaa/loandesk/internal/domain/pipeline"
	"github.com/bigkaa/loandesk/internal/repository"
)

type memState struct {
	apps        map[string]model.Application
	docs        map[string]model.Document
	versions    map[string]model.DocumentVersion
	reviews     map[string]model.Review
	idem        map[string]model.IdempotencyRecord
	lenders     map[string]model.Lender
	products    map[string]model.LenderProduct
	reqs        []model.DocumentRequirement
	subs        map[string]model.LenderSubmission
	retries     map[string]model.SubmissionRetry
	audit       []model.AuditEvent
	grants      map[string]model.RoleGrant
	nextAuditID int64
}

func newMemState() *memState {
	return &memState{
		apps:     map[string]model.Application{},
		docs:     map[string]model.Document{},
		versions: map[string]model.DocumentVersion{},
		reviews:  map[string]model.Review{},
		idem:     map[string]model.IdempotencyRecord{},
		lenders:  map[string]model.Lender{},
		products: map[string]model.LenderProduct{},
		subs:     map[string]model.LenderSubmission{},
		retries:  map[string]model.SubmissionRetry{},
		grants:   map[string]model.RoleGrant{},
	}
}

func (s *memState) clone() *memState {
	return &memState{
		apps:        maps.Clone(s.apps),
		docs:        maps.Clone(s.docs),
		versions:    maps.Clone(s.versions),
		reviews:     maps.Clone(s.reviews),
		idem:        maps.Clone(s.idem),
		lenders:     maps.Clone(s.lenders),
		products:    maps.Clone(s.products),
		reqs:        slices.Clone(s.reqs),
		subs:        maps.Clone(s.subs),
		retries:     maps.Clone(s.retries),
		audit:       slices.Clone(s.audit),
		grants:      maps.Clone(s.grants),
		nextAuditID: s.nextAuditID,
	}
}

// memStore — реализация Store в памяти.
type memStore struct {
	mu    sync.Mutex
	state *memState

	// failAudit — ошибка, которую вернёт следующая вставка аудита с этим действием.
	failAudit map[string]error
	// readErrors — сколько следующих чтений заявки вне транзакции завершатся ошибкой.
	readErrors int
}

func newMemStore() *memStore {
	return &memStore{state: newMemState(), failAudit: map[string]error{}}
}

func (m *memStore) Repos() repository.Repositories {
	return m.repos(func() func() {
		m.mu.Lock()
		return m.mu.Unlock
	}, func() *memState { return m.state }, true)
}

func (m *memStore) RunInTx(_ context.Context, fn func(r repository.Repositories) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	work := m.state.clone()
	if err := fn(m.repos(func() func() { return func() {} }, func() *memState { return work }, false)); err != nil {
		return err
	}
	m.state = work
	return nil
}

func (m *memStore) repos(lock func() func(), st func() *memState, outside bool) repository.Repositories {
	v := &memView{store: m, lock: lock, st: st, outside: outside}
	return repository.Repositories{
		Applications: memApps{v},
		Documents:    memDocs{v},
		Reviews:      memReviews{v},
		Idempotency:  memIdem{v},
		Lenders:      memLenders{v},
		Submissions:  memSubs{v},
		Audit:        memAudit{v},
		RoleGrants:   memGrants{v},
	}
}

// snapshot возвращает зафиксированное состояние (для проверок в тестах).
func (m *memStore) snapshot() *memState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.clone()
}

// auditActions — действия аудита в порядке записи.
func (s *memState) auditActions() []string {
	out := make([]string, 0, len(s.audit))
	for _, e := range s.audit {
		out = append(out, e.Action)
	}
	return out
}

func (s *memState) countAudit(action string, success bool) int {
	n := 0
	for _, e := range s.audit {
		if e.Action == action && e.Success == success {
			n++
		}
	}
	return n
}

type memView struct {
	store   *memStore
	lock    func() func()
	st      func() *memState
	outside bool
}

// ---- applications ----

type memApps struct{ v *memView }

func (r memApps) Create(_ context.Context, app *model.Application) error {
	defer r.v.lock()()
	st := r.v.st()
	if _, ok := st.apps[app.ID]; ok {
		return repository.ErrConflict
	}
	now := time.Now()
	app.CreatedAt, app.UpdatedAt = now, now
	st.apps[app.ID] = *app
	return nil
}

func (r memApps) GetByID(_ context.Context, id string) (*model.Application, error) {
	defer r.v.lock()()
	if r.v.outside && r.v.store.readErrors > 0 {
		r.v.store.readErrors--
		return nil, errors.New("connection reset by peer")
	}
	app, ok := r.v.st().apps[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &app, nil
}

func (r memApps) GetForUpdate(ctx context.Context, id string) (*model.Application, error) {
	return r.GetByID(ctx, id)
}

func (r memApps) CompareAndSetStage(_ context.Context, id string, from, to pipeline.Stage) (bool, error) {
	defer r.v.lock()()
	st := r.v.st()
	app, ok := st.apps[id]
	if !ok || app.Stage != from {
		return false, nil
	}
	app.Stage = to
	app.UpdatedAt = time.Now()
	st.apps[id] = app
	return true, nil
}

func (r memApps) AssignLender(_ context.Context, id, lenderID, productID string) error {
	defer r.v.lock()()
	st := r.v.st()
	app, ok := st.apps[id]
	if !ok {
		return repository.ErrNotFound
	}
	app.LenderID, app.LenderProductID = &lenderID, &productID
	st.apps[id] = app
	return nil
}

// ---- documents ----

type memDocs struct{ v *memView }

func (r memDocs) AddVersion(_ context.Context, applicationID, documentType string, v *model.DocumentVersion) (*model.Document, error) {
	defer r.v.lock()()
	st := r.v.st()
	var doc model.Document
	found := false
	for _, d := range st.docs {
		if d.ApplicationID == applicationID && d.DocumentType == documentType {
			doc, found = d, true
			break
		}
	}
	now := time.Now()
	if !found {
		doc = model.Document{ID: uuid.New().String(), ApplicationID: applicationID, DocumentType: documentType, CreatedAt: now}
	}
	doc.CurrentVersion++
	doc.UpdatedAt = now
	st.docs[doc.ID] = doc

	if v.ID == "" {
		v.ID = uuid.New().String()
	}
	v.DocumentID = doc.ID
	v.Version = doc.CurrentVersion
	v.CreatedAt = now
	st.versions[v.ID] = *v
	return &doc, nil
}

func (r memDocs) GetVersion(_ context.Context, applicationID, documentID, versionID string) (*model.Document, *model.DocumentVersion, error) {
	defer r.v.lock()()
	st := r.v.st()
	v, ok := st.versions[versionID]
	if !ok || v.DocumentID != documentID {
		return nil, nil, repository.ErrNotFound
	}
	d, ok := st.docs[documentID]
	if !ok || d.ApplicationID != applicationID {
		return nil, nil, repository.ErrNotFound
	}
	return &d, &v, nil
}

func (r memDocs) ListStatuses(_ context.Context, applicationID string) ([]model.DocumentStatus, error) {
	defer r.v.lock()()
	st := r.v.st()
	var out []model.DocumentStatus
	for _, d := range st.docs {
		if d.ApplicationID != applicationID {
			continue
		}
		s := model.DocumentStatus{DocumentID: d.ID, DocumentType: d.DocumentType, CurrentVersion: d.CurrentVersion}
		for _, v := range st.versions {
			if v.DocumentID != d.ID {
				continue
			}
			rv, ok := st.reviews[v.ID]
			if !ok {
				continue
			}
			if v.Version == d.CurrentVersion {
				dec := rv.Decision
				s.CurrentDecision = &dec
			}
			if rv.Decision == model.DecisionAccepted {
				s.AcceptedVersions++
			}
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DocumentType < out[j].DocumentType })
	return out, nil
}

func (r memDocs) ListAcceptedCurrent(_ context.Context, applicationID string) ([]model.AcceptedDocument, error) {
	defer r.v.lock()()
	st := r.v.st()
	var out []model.AcceptedDocument
	for _, d := range st.docs {
		if d.ApplicationID != applicationID {
			continue
		}
		for _, v := range st.versions {
			if v.DocumentID != d.ID || v.Version != d.CurrentVersion {
				continue
			}
			if rv, ok := st.reviews[v.ID]; ok && rv.Decision == model.DecisionAccepted {
				out = append(out, model.AcceptedDocument{Document: d, Version: v})
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Document.DocumentType < out[j].Document.DocumentType })
	return out, nil
}

// ---- reviews ----

type memReviews struct{ v *memView }

func (r memReviews) Insert(_ context.Context, review *model.Review) (bool, error) {
	defer r.v.lock()()
	st := r.v.st()
	if _, ok := st.reviews[review.DocumentVersionID]; ok {
		return false, nil
	}
	if review.ID == "" {
		review.ID = uuid.New().String()
	}
	review.CreatedAt = time.Now()
	st.reviews[review.DocumentVersionID] = *review
	return true, nil
}

// ---- idempotency ----

type memIdem struct{ v *memView }

func idemKey(key, scope string) string { return key + "\x00" + scope }

func (r memIdem) Insert(_ context.Context, rec *model.IdempotencyRecord) (bool, error) {
	defer r.v.lock()()
	st := r.v.st()
	k := idemKey(rec.Key, rec.Scope)
	if _, ok := st.idem[k]; ok {
		return false, nil
	}
	rec.Status = model.IdempotencyPending
	rec.CreatedAt, rec.UpdatedAt = time.Now(), time.Now()
	st.idem[k] = *rec
	return true, nil
}

func (r memIdem) Get(_ context.Context, key, scope string) (*model.IdempotencyRecord, error) {
	defer r.v.lock()()
	rec, ok := r.v.st().idem[idemKey(key, scope)]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &rec, nil
}

func (r memIdem) AdoptPending(_ context.Context, key, scope, fingerprint string) (bool, error) {
	defer r.v.lock()()
	rec, ok := r.v.st().idem[idemKey(key, scope)]
	return ok && rec.Fingerprint == fingerprint && rec.Status == model.IdempotencyPending, nil
}

func (r memIdem) Complete(_ context.Context, key, scope string, status model.IdempotencyStatus, responseStatus int, body []byte) error {
	defer r.v.lock()()
	st := r.v.st()
	k := idemKey(key, scope)
	rec, ok := st.idem[k]
	if !ok || rec.Status != model.IdempotencyPending {
		return repository.ErrNotFound
	}
	rec.Status, rec.ResponseStatus, rec.ResponseBody = status, responseStatus, body
	rec.UpdatedAt = time.Now()
	st.idem[k] = rec
	return nil
}

// ---- lenders ----

type memLenders struct{ v *memView }

func (r memLenders) GetLender(_ context.Context, id string) (*model.Lender, error) {
	defer r.v.lock()()
	l, ok := r.v.st().lenders[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &l, nil
}

func (r memLenders) GetProduct(_ context.Context, id string) (*model.LenderProduct, error) {
	defer r.v.lock()()
	p, ok := r.v.st().products[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &p, nil
}

func (r memLenders) ListRequirements(_ context.Context, category string, productID *string) ([]model.DocumentRequirement, error) {
	defer r.v.lock()()
	var out []model.DocumentRequirement
	for _, req := range r.v.st().reqs {
		if req.ProductCategory != category {
			continue
		}
		if req.LenderProductID != nil && (productID == nil || *req.LenderProductID != *productID) {
			continue
		}
		out = append(out, req)
	}
	return out, nil
}

func (r memLenders) UpsertLender(_ context.Context, l *model.Lender) error {
	defer r.v.lock()()
	st := r.v.st()
	now := time.Now()
	if prev, ok := st.lenders[l.ID]; ok {
		l.CreatedAt = prev.CreatedAt
	} else {
		l.CreatedAt = now
	}
	l.UpdatedAt = now
	st.lenders[l.ID] = *l
	return nil
}

func (r memLenders) UpsertProduct(_ context.Context, p *model.LenderProduct) error {
	defer r.v.lock()()
	st := r.v.st()
	now := time.Now()
	if prev, ok := st.products[p.ID]; ok {
		if prev.LenderID != p.LenderID {
			return repository.ErrConflict
		}
		p.CreatedAt = prev.CreatedAt
	} else {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	st.products[p.ID] = *p
	return nil
}

func (r memLenders) CreateRequirement(_ context.Context, req *model.DocumentRequirement) error {
	defer r.v.lock()()
	st := r.v.st()
	if req.ID == "" {
		req.ID = uuid.New().String()
	}
	req.CreatedAt = time.Now()
	st.reqs = append(st.reqs, *req)
	return nil
}

// ---- submissions ----

type memSubs struct{ v *memView }

func (r memSubs) Create(_ context.Context, s *model.LenderSubmission) error {
	defer r.v.lock()()
	st := r.v.st()
	for _, other := range st.subs {
		if other.CreatedBy == s.CreatedBy && other.IdempotencyKey == s.IdempotencyKey {
			return repository.ErrConflict
		}
	}
	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	now := time.Now()
	s.CreatedAt, s.UpdatedAt = now, now
	st.subs[s.ID] = *s
	return nil
}

func (r memSubs) GetByID(_ context.Context, id string) (*model.LenderSubmission, error) {
	defer r.v.lock()()
	s, ok := r.v.st().subs[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &s, nil
}

func (r memSubs) GetForUpdate(ctx context.Context, id string) (*model.LenderSubmission, error) {
	return r.GetByID(ctx, id)
}

func (r memSubs) GetByIdempotencyKey(_ context.Context, createdBy, key string) (*model.LenderSubmission, error) {
	defer r.v.lock()()
	for _, s := range r.v.st().subs {
		if s.CreatedBy == createdBy && s.IdempotencyKey == key {
			return &s, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r memSubs) UpdateOutcome(_ context.Context, s *model.LenderSubmission) error {
	defer r.v.lock()()
	st := r.v.st()
	prev, ok := st.subs[s.ID]
	if !ok {
		return repository.ErrNotFound
	}
	prev.Status, prev.FailureReason = s.Status, s.FailureReason
	prev.ExternalReference, prev.Payload = s.ExternalReference, s.Payload
	prev.UpdatedAt = time.Now()
	st.subs[s.ID] = prev
	*s = prev
	return nil
}

func (r memSubs) UpsertRetry(_ context.Context, rt *model.SubmissionRetry) error {
	defer r.v.lock()()
	st := r.v.st()
	now := time.Now()
	if prev, ok := st.retries[rt.SubmissionID]; ok {
		rt.ID, rt.CreatedAt = prev.ID, prev.CreatedAt
	} else {
		if rt.ID == "" {
			rt.ID = uuid.New().String()
		}
		rt.CreatedAt = now
	}
	rt.UpdatedAt = now
	st.retries[rt.SubmissionID] = *rt
	return nil
}

func (r memSubs) GetRetry(_ context.Context, submissionID string) (*model.SubmissionRetry, error) {
	defer r.v.lock()()
	rt, ok := r.v.st().retries[submissionID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &rt, nil
}

func (r memSubs) ListDueRetries(_ context.Context, now time.Time, limit int) ([]*model.SubmissionRetry, error) {
	defer r.v.lock()()
	var out []*model.SubmissionRetry
	for _, rt := range r.v.st().retries {
		if rt.Status == model.RetryPending && rt.NextAttemptAt != nil && !rt.NextAttemptAt.After(now) {
			out = append(out, &rt)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NextAttemptAt.Before(*out[j].NextAttemptAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r memSubs) CancelPendingRetries(_ context.Context, applicationID, reason string) (int64, error) {
	defer r.v.lock()()
	st := r.v.st()
	var n int64
	for id, rt := range st.retries {
		if rt.Status != model.RetryPending || st.subs[rt.SubmissionID].ApplicationID != applicationID {
			continue
		}
		rt.Status = model.RetryCanceled
		rt.NextAttemptAt = nil
		rt.LastError = &reason
		st.retries[id] = rt
		n++
	}
	return n, nil
}

// ---- audit ----

type memAudit struct{ v *memView }

func (r memAudit) Insert(_ context.Context, e *model.AuditEvent) error {
	defer r.v.lock()()
	if err, ok := r.v.store.failAudit[e.Action]; ok {
		delete(r.v.store.failAudit, e.Action)
		return err
	}
	st := r.v.st()
	st.nextAuditID++
	e.ID = st.nextAuditID
	e.CreatedAt = time.Now()
	st.audit = append(st.audit, *e)
	return nil
}

func (r memAudit) ListByApplication(_ context.Context, applicationID string, limit int) ([]*model.AuditEvent, error) {
	defer r.v.lock()()
	var out []*model.AuditEvent
	events := r.v.st().audit
	for i := len(events) - 1; i >= 0 && len(out) < limit; i-- {
		e := events[i]
		if (e.TargetType == model.TargetApplication && e.TargetID == applicationID) || e.Metadata["applicationId"] == applicationID {
			out = append(out, &e)
		}
	}
	return out, nil
}

func (r memAudit) ListUnpublished(_ context.Context, limit int) ([]*model.AuditEvent, error) {
	defer r.v.lock()()
	var out []*model.AuditEvent
	for _, e := range r.v.st().audit {
		if e.PublishedAt == nil && len(out) < limit {
			out = append(out, &e)
		}
	}
	return out, nil
}

func (r memAudit) MarkPublished(_ context.Context, ids []int64, at time.Time) error {
	defer r.v.lock()()
	st := r.v.st()
	for i := range st.audit {
		if slices.Contains(ids, st.audit[i].ID) {
			st.audit[i].PublishedAt = &at
		}
	}
	return nil
}

// ---- role grants ----

type memGrants struct{ v *memView }

func (r memGrants) Upsert(_ context.Context, g *model.RoleGrant) error {
	defer r.v.lock()()
	now := time.Now()
	g.CreatedAt, g.UpdatedAt = now, now
	r.v.st().grants[g.Subject] = *g
	return nil
}

func (r memGrants) Get(_ context.Context, subject string) (*model.RoleGrant, error) {
	defer r.v.lock()()
	g, ok := r.v.st().grants[subject]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &g, nil
}

func (r memGrants) Delete(_ context.Context, subject string) error {
	defer r.v.lock()()
	st := r.v.st()
	if _, ok := st.grants[subject]; !ok {
		return repository.ErrNotFound
	}
	delete(st.grants, subject)
	return nil
}
