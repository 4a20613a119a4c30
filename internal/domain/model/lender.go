package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// SubmissionMethod — канал отправки заявки кредитору.
type SubmissionMethod string

const (
	MethodEmail  SubmissionMethod = "EMAIL"
	MethodAPI    SubmissionMethod = "API"
	MethodPortal SubmissionMethod = "PORTAL"
)

// IsValid проверяет, что метод входит в перечень.
func (m SubmissionMethod) IsValid() bool {
	switch m {
	case MethodEmail, MethodAPI, MethodPortal:
		return true
	}
	return false
}

// Lender — кредитор-партнёр.
type Lender struct {
	ID               string
	Name             string
	SubmissionMethod SubmissionMethod
	// SubmissionEmail — адрес для метода EMAIL
	SubmissionEmail *string
	// APIEndpoint — URL приёма заявок для метода API
	APIEndpoint *string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// LenderProduct — кредитный продукт кредитора.
type LenderProduct struct {
	ID        string
	LenderID  string
	Name      string
	Category  string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// DocumentRequirement — правило обязательного документа.
// LenderProductID == nil — базовое правило категории.
// MinAmount/MaxAmount — условие по запрошенной сумме (границы включительно).
type DocumentRequirement struct {
	ID              string
	ProductCategory string
	LenderProductID *string
	DocumentType    string
	// MinCount — сколько принятых версий нужно (например, N месяцев выписок)
	MinCount  int
	MinAmount *decimal.Decimal
	MaxAmount *decimal.Decimal
	CreatedAt time.Time
}
