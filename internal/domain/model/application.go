// Пакет model — доменные модели LoanDesk.
package model

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/bigkaa/loandesk/internal/domain/pipeline"
)

// Application — заявка на кредит.
// Хранится в таблице applications. Стадия меняется только через конвейер,
// жёсткое удаление не предусмотрено.
type Application struct {
	// ID — UUID заявки
	ID string
	// OwnerID — sub владельца (или "public:<submissionKey>" для анонимной подачи)
	OwnerID string
	// ProductCategory — категория продукта (определяет требования к документам)
	ProductCategory string
	// Stage — текущая стадия конвейера
	Stage pipeline.Stage
	// LenderID — назначенный кредитор (после отправки)
	LenderID *string
	// LenderProductID — продукт кредитора (после отправки)
	LenderProductID *string
	// RequestedAmount — запрошенная сумма (может отсутствовать)
	RequestedAmount *decimal.Decimal
	// Metadata — непрозрачные дополнительные поля клиента
	Metadata map[string]any
	CreatedAt time.Time
	UpdatedAt time.Time
}
