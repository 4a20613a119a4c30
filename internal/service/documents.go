// documents.go — загрузка версий документов заявки.
//
// Содержимое адресуется по SHA-256: ключ объекта applications/{id}/{sha256}.
// Повторная загрузка тех же байтов не пишет объект заново (HEAD перед PUT).
// Загрузка не меняет стадию заявки и не запускает рассмотрение.
package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/bigkaa/loandesk/internal/blobstore"
	"github.com/bigkaa/loandesk/internal/domain/model"
	"github.com/bigkaa/loandesk/internal/repository"
)

// BlobWriter — запись содержимого документов в объектное хранилище.
type BlobWriter interface {
	Head(ctx context.Context, key string) (blobstore.ObjectInfo, error)
	Put(ctx context.Context, key, contentType string, data []byte) error
}

// DocumentService — загрузка документов.
type DocumentService struct {
	store  Store
	exec   *Executor
	blobs  BlobWriter
	logger *slog.Logger
}

// NewDocumentService создаёт сервис документов.
func NewDocumentService(store Store, exec *Executor, blobs BlobWriter, logger *slog.Logger) *DocumentService {
	return &DocumentService{
		store:  store,
		exec:   exec,
		blobs:  blobs,
		logger: logger.With(slog.String("component", "documents")),
	}
}

// UploadInput — загружаемый файл.
type UploadInput struct {
	DocumentType string
	FileName     string
	ContentType  string
	Data         []byte
}

// Upload сохраняет новую версию документа заявки.
// Первая загрузка типа создаёт документ, повторная — следующую версию.
func (s *DocumentService) Upload(ctx context.Context, actor Actor, key, applicationID string, in UploadInput) (Response, error) {
	if err := requireKey(key); err != nil {
		return Response{}, err
	}
	in.DocumentType = strings.ToLower(strings.TrimSpace(in.DocumentType))
	if in.DocumentType == "" {
		return Response{}, validationError("documentType обязателен")
	}
	if len(in.Data) == 0 {
		return Response{}, validationError("файл пуст")
	}
	if in.FileName == "" {
		in.FileName = in.DocumentType
	}
	if in.ContentType == "" {
		in.ContentType = "application/octet-stream"
	}
	sum := sha256.Sum256(in.Data)
	checksum := hex.EncodeToString(sum[:])
	blobKey := blobstore.Key(applicationID, checksum)

	fp, err := Fingerprint(map[string]any{
		"applicationId": applicationID,
		"documentType":  in.DocumentType,
		"fileName":      in.FileName,
		"contentType":   in.ContentType,
		"checksum":      checksum,
	})
	if err != nil {
		return Response{}, validationError(err.Error())
	}

	// Права проверяются до записи байтов в хранилище
	if _, err := readWithRetry(ctx, s.logger, func(ctx context.Context) (*model.Application, error) {
		app, err := s.store.Repos().Applications.GetByID(ctx, applicationID)
		if err != nil {
			return nil, err
		}
		if !actor.canWrite(app) {
			return nil, ErrForbidden
		}
		return app, nil
	}); err != nil {
		return Response{}, err
	}

	if err := s.storeBlob(ctx, blobKey, in.ContentType, in.Data); err != nil {
		return Response{}, err
	}

	var uploaded *DocumentVersionView
	resp, err := s.exec.Execute(ctx, operation{
		Key:         key,
		Scope:       scopeFor("documents.upload", actor),
		Fingerprint: fp,
		Run: func(ctx context.Context, r repository.Repositories) (int, any, error) {
			app, err := r.Applications.GetByID(ctx, applicationID)
			if err != nil {
				return 0, nil, err
			}
			if app.Stage.IsTerminal() {
				return 0, nil, validationError(fmt.Sprintf("заявка в терминальной стадии %s", app.Stage))
			}

			v := &model.DocumentVersion{
				BlobKey:     blobKey,
				FileName:    in.FileName,
				ContentType: in.ContentType,
				SizeBytes:   int64(len(in.Data)),
				Checksum:    checksum,
				UploadedBy:  actor.Subject,
			}
			doc, err := r.Documents.AddVersion(ctx, app.ID, in.DocumentType, v)
			if err != nil {
				return 0, nil, err
			}
			if err := record(ctx, r, actor, model.ActionDocumentUploaded, model.TargetDocument, v.ID, true,
				map[string]any{
					"applicationId": app.ID,
					"documentId":    doc.ID,
					"documentType":  doc.DocumentType,
					"version":       v.Version,
					"checksum":      checksum,
				}); err != nil {
				return 0, nil, err
			}

			view := DocumentVersionView{
				ApplicationID: app.ID,
				DocumentID:    doc.ID,
				VersionID:     v.ID,
				DocumentType:  doc.DocumentType,
				Version:       v.Version,
				FileName:      v.FileName,
				ContentType:   v.ContentType,
				SizeBytes:     v.SizeBytes,
				Checksum:      v.Checksum,
				UploadedBy:    v.UploadedBy,
				CreatedAt:     v.CreatedAt,
			}
			uploaded = &view
			return http.StatusCreated, view, nil
		},
	})
	if err != nil {
		return Response{}, err
	}
	if !resp.Replayed && uploaded != nil {
		s.logger.Info("Версия документа загружена",
			slog.String("application_id", applicationID),
			slog.String("document_type", uploaded.DocumentType),
			slog.Int("version", uploaded.Version),
			slog.Int64("size", uploaded.SizeBytes),
		)
	}
	return resp, nil
}

// storeBlob записывает содержимое, если объекта с таким ключом ещё нет.
func (s *DocumentService) storeBlob(ctx context.Context, key, contentType string, data []byte) error {
	_, err := s.blobs.Head(ctx, key)
	if err == nil {
		return nil
	}
	if !errors.Is(err, blobstore.ErrNotFound) {
		s.logger.Error("Объектное хранилище недоступно",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
		return classify(err)
	}
	if err := s.blobs.Put(ctx, key, contentType, data); err != nil {
		s.logger.Error("Ошибка записи документа в хранилище",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
		return classify(err)
	}
	return nil
}
