package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/loandesk/internal/domain/model"
)

// DocumentRepository — доступ к таблицам documents и document_versions.
type DocumentRepository interface {
	// AddVersion добавляет версию документа типа documentType.
	// Документ создаётся при первой загрузке, затем current_version растёт на 1.
	// Заполняет v.ID, v.DocumentID, v.Version, v.CreatedAt.
	AddVersion(ctx context.Context, applicationID, documentType string, v *model.DocumentVersion) (*model.Document, error)
	// GetVersion возвращает документ и его версию с проверкой принадлежности заявке.
	GetVersion(ctx context.Context, applicationID, documentID, versionID string) (*model.Document, *model.DocumentVersion, error)
	// ListStatuses возвращает сводку по документам заявки для проверки требований.
	ListStatuses(ctx context.Context, applicationID string) ([]model.DocumentStatus, error)
	// ListAcceptedCurrent возвращает документы, текущая версия которых принята.
	ListAcceptedCurrent(ctx context.Context, applicationID string) ([]model.AcceptedDocument, error)
}

type documentRepo struct {
	db DBTX
}

// NewDocumentRepository создаёт репозиторий документов.
func NewDocumentRepository(db DBTX) DocumentRepository {
	return &documentRepo{db: db}
}

const versionColumns = `v.id, v.document_id, v.version, v.blob_key, v.file_name, v.content_type,
	v.size_bytes, v.checksum, v.uploaded_by, v.created_at`

func (r *documentRepo) AddVersion(ctx context.Context, applicationID, documentType string, v *model.DocumentVersion) (*model.Document, error) {
	doc := &model.Document{ApplicationID: applicationID, DocumentType: documentType}

	// Upsert блокирует строку документа: параллельные загрузки одного типа
	// получают последовательные номера версий.
	err := r.db.QueryRow(ctx, `
		INSERT INTO documents (id, application_id, document_type, current_version)
		VALUES ($1, $2, $3, 1)
		ON CONFLICT (application_id, document_type) DO UPDATE SET
			current_version = documents.current_version + 1,
			updated_at = now()
		RETURNING id, current_version, created_at, updated_at`,
		uuid.New().String(), applicationID, documentType,
	).Scan(&doc.ID, &doc.CurrentVersion, &doc.CreatedAt, &doc.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("ошибка регистрации документа: %w", err)
	}

	if v.ID == "" {
		v.ID = uuid.New().String()
	}
	v.DocumentID = doc.ID
	v.Version = doc.CurrentVersion

	err = r.db.QueryRow(ctx, `
		INSERT INTO document_versions
			(id, document_id, version, blob_key, file_name, content_type, size_bytes, checksum, uploaded_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at`,
		v.ID, v.DocumentID, v.Version, v.BlobKey, v.FileName, v.ContentType,
		v.SizeBytes, v.Checksum, v.UploadedBy,
	).Scan(&v.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: версия %d документа %s", ErrConflict, v.Version, doc.ID)
		}
		return nil, fmt.Errorf("ошибка создания версии документа: %w", err)
	}

	return doc, nil
}

func (r *documentRepo) GetVersion(ctx context.Context, applicationID, documentID, versionID string) (*model.Document, *model.DocumentVersion, error) {
	query := fmt.Sprintf(`
		SELECT d.id, d.application_id, d.document_type, d.current_version, d.created_at, d.updated_at,
			%s
		FROM document_versions v
		JOIN documents d ON d.id = v.document_id
		WHERE d.application_id = $1 AND d.id = $2 AND v.id = $3`, versionColumns)

	doc := &model.Document{}
	v := &model.DocumentVersion{}
	err := r.db.QueryRow(ctx, query, applicationID, documentID, versionID).Scan(
		&doc.ID, &doc.ApplicationID, &doc.DocumentType, &doc.CurrentVersion, &doc.CreatedAt, &doc.UpdatedAt,
		&v.ID, &v.DocumentID, &v.Version, &v.BlobKey, &v.FileName, &v.ContentType,
		&v.SizeBytes, &v.Checksum, &v.UploadedBy, &v.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil, ErrNotFound
		}
		return nil, nil, fmt.Errorf("ошибка получения версии документа: %w", err)
	}
	return doc, v, nil
}

func (r *documentRepo) ListStatuses(ctx context.Context, applicationID string) ([]model.DocumentStatus, error) {
	rows, err := r.db.Query(ctx, `
		SELECT d.id, d.document_type, d.current_version,
			(SELECT rv.decision
			   FROM document_versions v
			   JOIN document_version_reviews rv ON rv.document_version_id = v.id
			  WHERE v.document_id = d.id AND v.version = d.current_version),
			(SELECT COUNT(*)
			   FROM document_versions v
			   JOIN document_version_reviews rv ON rv.document_version_id = v.id
			  WHERE v.document_id = d.id AND rv.decision = 'accepted')
		FROM documents d
		WHERE d.application_id = $1
		ORDER BY d.document_type`, applicationID)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения статусов документов: %w", err)
	}
	defer rows.Close()

	var result []model.DocumentStatus
	for rows.Next() {
		var st model.DocumentStatus
		if err := rows.Scan(&st.DocumentID, &st.DocumentType, &st.CurrentVersion,
			&st.CurrentDecision, &st.AcceptedVersions); err != nil {
			return nil, fmt.Errorf("ошибка сканирования статуса документа: %w", err)
		}
		result = append(result, st)
	}
	return result, rows.Err()
}

func (r *documentRepo) ListAcceptedCurrent(ctx context.Context, applicationID string) ([]model.AcceptedDocument, error) {
	query := fmt.Sprintf(`
		SELECT d.id, d.application_id, d.document_type, d.current_version, d.created_at, d.updated_at,
			%s
		FROM documents d
		JOIN document_versions v ON v.document_id = d.id AND v.version = d.current_version
		JOIN document_version_reviews rv ON rv.document_version_id = v.id
		WHERE d.application_id = $1 AND rv.decision = 'accepted'
		ORDER BY d.document_type`, versionColumns)

	rows, err := r.db.Query(ctx, query, applicationID)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения принятых документов: %w", err)
	}
	defer rows.Close()

	var result []model.AcceptedDocument
	for rows.Next() {
		var a model.AcceptedDocument
		d, v := &a.Document, &a.Version
		if err := rows.Scan(
			&d.ID, &d.ApplicationID, &d.DocumentType, &d.CurrentVersion, &d.CreatedAt, &d.UpdatedAt,
			&v.ID, &v.DocumentID, &v.Version, &v.BlobKey, &v.FileName, &v.ContentType,
			&v.SizeBytes, &v.Checksum, &v.UploadedBy, &v.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("ошибка сканирования документа: %w", err)
		}
		result = append(result, a)
	}
	return result, rows.Err()
}
