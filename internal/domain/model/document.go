package model

import "time"

// Document — документ заявки. Один на пару (заявка, тип документа);
// повторная загрузка создаёт новую версию и сдвигает CurrentVersion.
type Document struct {
	ID             string
	ApplicationID  string
	DocumentType   string
	CurrentVersion int
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// DocumentVersion — неизменяемая версия документа.
// Содержимое лежит в объектном хранилище под BlobKey.
type DocumentVersion struct {
	ID          string
	DocumentID  string
	Version     int
	BlobKey     string
	FileName    string
	ContentType string
	SizeBytes   int64
	// Checksum — SHA-256 содержимого (hex)
	Checksum   string
	UploadedBy string
	CreatedAt  time.Time
}

// ReviewDecision — решение по версии документа.
type ReviewDecision string

const (
	DecisionAccepted ReviewDecision = "accepted"
	DecisionRejected ReviewDecision = "rejected"
)

// Review — решение по версии документа. Не более одного на версию.
type Review struct {
	ID                string
	DocumentVersionID string
	Decision          ReviewDecision
	ReviewerID        string
	Reason            *string
	CreatedAt         time.Time
}

// DocumentStatus — сводка по документу для проверки требований.
type DocumentStatus struct {
	DocumentID     string
	DocumentType   string
	CurrentVersion int
	// CurrentDecision — решение по текущей версии (nil — ещё не рассмотрена)
	CurrentDecision *ReviewDecision
	// AcceptedVersions — количество принятых версий документа
	AcceptedVersions int
}

// AcceptedDocument — текущая принятая версия документа (для пакета отправки).
type AcceptedDocument struct {
	Document Document
	Version  DocumentVersion
}
