// Пакет requirements — проверка удовлетворённости требований к документам.
//
// Требование к типу T с MinCount = N удовлетворено, если текущая версия
// документа типа T принята и принятых версий этого типа не меньше N.
// Условные требования (диапазон суммы) применяются, только если сумма
// попадает в диапазон (границы включительно) или неизвестна.
package requirements

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/bigkaa/loandesk/internal/domain/model"
)

// Item — состояние одного обязательного типа документа.
type Item struct {
	DocumentType string `json:"documentType"`
	// MinCount — сколько принятых версий требуется
	MinCount int `json:"minCount"`
	// AcceptedVersions — сколько версий принято
	AcceptedVersions int `json:"acceptedVersions"`
	// CurrentAccepted — текущая версия документа принята
	CurrentAccepted bool `json:"currentAccepted"`
	Satisfied       bool `json:"satisfied"`
}

// Satisfaction — результат проверки.
type Satisfaction struct {
	Satisfied bool   `json:"satisfied"`
	Items     []Item `json:"items"`
}

// Missing возвращает неудовлетворённые типы документов.
func (s Satisfaction) Missing() []string {
	var out []string
	for _, it := range s.Items {
		if !it.Satisfied {
			out = append(out, it.DocumentType)
		}
	}
	return out
}

// Requires — входит ли тип документа в список обязательных.
func (s Satisfaction) Requires(documentType string) bool {
	for _, it := range s.Items {
		if it.DocumentType == documentType {
			return true
		}
	}
	return false
}

// Applies проверяет, применимо ли правило к запрошенной сумме.
func Applies(r model.DocumentRequirement, amount *decimal.Decimal) bool {
	if amount == nil {
		return true
	}
	if r.MinAmount != nil && amount.LessThan(*r.MinAmount) {
		return false
	}
	if r.MaxAmount != nil && amount.GreaterThan(*r.MaxAmount) {
		return false
	}
	return true
}

// Required сворачивает применимые правила в набор тип → MinCount.
// Несколько правил для одного типа дают максимальный MinCount.
func Required(reqs []model.DocumentRequirement, amount *decimal.Decimal) map[string]int {
	out := make(map[string]int)
	for _, r := range reqs {
		if !Applies(r, amount) {
			continue
		}
		n := r.MinCount
		if n < 1 {
			n = 1
		}
		if n > out[r.DocumentType] {
			out[r.DocumentType] = n
		}
	}
	return out
}

// Evaluate вычисляет удовлетворённость требований по состоянию документов.
// Пустой набор требований считается удовлетворённым.
func Evaluate(reqs []model.DocumentRequirement, amount *decimal.Decimal, statuses []model.DocumentStatus) Satisfaction {
	required := Required(reqs, amount)

	byType := make(map[string]model.DocumentStatus, len(statuses))
	for _, st := range statuses {
		byType[st.DocumentType] = st
	}

	types := make([]string, 0, len(required))
	for t := range required {
		types = append(types, t)
	}
	sort.Strings(types)

	result := Satisfaction{Satisfied: true, Items: make([]Item, 0, len(types))}
	for _, t := range types {
		item := Item{DocumentType: t, MinCount: required[t]}
		if st, ok := byType[t]; ok {
			item.AcceptedVersions = st.AcceptedVersions
			item.CurrentAccepted = st.CurrentDecision != nil && *st.CurrentDecision == model.DecisionAccepted
		}
		item.Satisfied = item.CurrentAccepted && item.AcceptedVersions >= item.MinCount
		if !item.Satisfied {
			result.Satisfied = false
		}
		result.Items = append(result.Items, item)
	}
	return result
}
