// Пакет pipeline — конечный автомат стадий заявки.
//
// Основной путь:
//
//	RECEIVED → [STARTUP] → REQUIRES_DOCS → UNDER_REVIEW → LENDER_SUBMITTED → {ACCEPTED, DECLINED}
//
// STARTUP вставляется перед REQUIRES_DOCS для стартап-категории продукта.
// Единственный обратный переход: UNDER_REVIEW → REQUIRES_DOCS (отзыв
// удовлетворённости требований при отклонении документа).
// ACCEPTED и DECLINED — терминальные стадии, выход из них невозможен даже с override.
//
// Состояние хранится в БД, пакет не держит его в памяти: все функции чистые.
package pipeline

import (
	"fmt"
	"strings"
)

// Stage — стадия заявки в конвейере.
type Stage string

const (
	StageReceived        Stage = "RECEIVED"
	StageStartup         Stage = "STARTUP"
	StageRequiresDocs    Stage = "REQUIRES_DOCS"
	StageUnderReview     Stage = "UNDER_REVIEW"
	StageLenderSubmitted Stage = "LENDER_SUBMITTED"
	StageAccepted        Stage = "ACCEPTED"
	StageDeclined        Stage = "DECLINED"
)

// Trigger — источник перехода (лейбл метрик и поле аудита).
type Trigger string

const (
	TriggerCreate     Trigger = "create"
	TriggerReview     Trigger = "review"
	TriggerExplicit   Trigger = "explicit"
	TriggerOverride   Trigger = "override"
	TriggerSubmission Trigger = "submission"
)

// allStages — живой перечень допустимых стадий в порядке конвейера.
var allStages = []Stage{
	StageReceived,
	StageStartup,
	StageRequiresDocs,
	StageUnderReview,
	StageLenderSubmitted,
	StageAccepted,
	StageDeclined,
}

// legacyAliases — устаревшие имена стадий, принимаемые только на входе.
var legacyAliases = map[string]Stage{
	"DOCUMENTS_REQUIRED": StageRequiresDocs,
	"IN_REVIEW":          StageUnderReview,
	"SENT_TO_LENDER":     StageLenderSubmitted,
}

// validTransitions — матрица допустимых переходов.
// Ключ — текущая стадия, значение — набор допустимых целевых стадий.
var validTransitions = map[Stage]map[Stage]bool{
	StageReceived:        {StageRequiresDocs: true, StageStartup: true},
	StageStartup:         {StageRequiresDocs: true},
	StageRequiresDocs:    {StageUnderReview: true},
	StageUnderReview:     {StageRequiresDocs: true, StageLenderSubmitted: true},
	StageLenderSubmitted: {StageAccepted: true, StageDeclined: true},
	StageAccepted:        {},
	StageDeclined:        {},
}

// reviewGated — целевые стадии, вход в которые требует удовлетворения
// требований к документам (без override).
var reviewGated = map[Stage]bool{
	StageUnderReview:     true,
	StageLenderSubmitted: true,
}

// Stages возвращает копию перечня допустимых стадий.
func Stages() []Stage {
	out := make([]Stage, len(allStages))
	copy(out, allStages)
	return out
}

// stageList — перечень стадий через запятую для сообщений об ошибках.
func stageList() string {
	names := make([]string, 0, len(allStages))
	for _, st := range Stages() {
		names = append(names, string(st))
	}
	return strings.Join(names, ", ")
}

// ParseStage разбирает имя стадии (регистр не важен).
// Устаревшие имена приводятся к каноническим.
func ParseStage(s string) (Stage, error) {
	name := strings.ToUpper(strings.TrimSpace(s))
	if alias, ok := legacyAliases[name]; ok {
		return alias, nil
	}
	st := Stage(name)
	if !IsValid(st) {
		return "", fmt.Errorf("неизвестная стадия: %q", s)
	}
	return st, nil
}

// IsValid проверяет, входит ли стадия в перечень.
func IsValid(s Stage) bool {
	_, ok := validTransitions[s]
	return ok
}

// IsTerminal — ACCEPTED или DECLINED.
func (s Stage) IsTerminal() bool {
	return s == StageAccepted || s == StageDeclined
}

// String реализует fmt.Stringer.
func (s Stage) String() string {
	return string(s)
}

// CanTransition проверяет, есть ли ребро current → target.
// Неизвестная стадия с любой стороны — всегда false.
func CanTransition(current, target Stage) bool {
	transitions, ok := validTransitions[current]
	if !ok || !IsValid(target) {
		return false
	}
	return transitions[target]
}

// IsReviewGated — требует ли вход в стадию удовлетворённых требований к документам.
func IsReviewGated(target Stage) bool {
	return reviewGated[target]
}

// InitialStage определяет стадию заявки сразу после создания.
// Стартап-категория уходит в STARTUP, категория с известными требованиями —
// в REQUIRES_DOCS, иначе заявка остаётся в RECEIVED.
func InitialStage(category, startupCategory string, requirementsKnown bool) Stage {
	switch {
	case startupCategory != "" && strings.EqualFold(category, startupCategory):
		return StageStartup
	case requirementsKnown:
		return StageRequiresDocs
	default:
		return StageReceived
	}
}

// ReviewOutcome — входные данные автоматического перехода после решения по документу.
type ReviewOutcome struct {
	// Accepted — решение "accepted" (иначе "rejected").
	Accepted bool
	// RequiredType — тип документа входит в список обязательных.
	RequiredType bool
	// CurrentVersion — решение принято по текущей версии документа.
	CurrentVersion bool
	// Satisfied — все обязательные типы удовлетворены после решения.
	Satisfied bool
}

// AutoAdvance вычисляет автоматический переход после решения по документу.
// Возвращает целевую стадию и true, если переход нужен.
func AutoAdvance(current Stage, o ReviewOutcome) (Stage, bool) {
	if !o.RequiredType {
		return current, false
	}
	if o.Accepted {
		if current == StageRequiresDocs && o.Satisfied {
			return StageUnderReview, true
		}
		return current, false
	}
	// Отклонение текущей версии обязательного типа отзывает удовлетворённость,
	// даже если остальные типы по-прежнему удовлетворены.
	if current == StageUnderReview && o.CurrentVersion {
		return StageRequiresDocs, true
	}
	return current, false
}

// Request — явный запрос перехода.
type Request struct {
	Target   Stage
	Override bool
	// Privileged — у инициатора есть роль staff или admin.
	Privileged bool
	// Satisfied — требования к документам удовлетворены.
	Satisfied bool
}

// Plan — результат проверки явного перехода.
type Plan struct {
	From Stage
	To   Stage
	// Forced — переход выполнен в обход правил (ребра нет или не удовлетворены документы).
	Forced bool
}

// Коды ошибок переходов.
const (
	CodeInvalidTransition = "invalid_transition"
	CodeMissingDocuments  = "missing_documents"
	CodeForbidden         = "forbidden"
)

// TransitionError — ошибка проверки перехода.
type TransitionError struct {
	Code    string
	Message string
}

// Error реализует интерфейс error.
func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Evaluate проверяет явный переход из current по запросу req.
//
// Ошибки:
//   - invalid_transition — неизвестная стадия, выход из терминальной стадии,
//     переход в ту же стадию или отсутствие ребра без override
//   - missing_documents — вход в review-gated стадию без удовлетворённых требований
//   - forbidden — override без роли staff/admin
func Evaluate(current Stage, req Request) (Plan, error) {
	plan := Plan{From: current, To: req.Target}

	if !IsValid(req.Target) {
		return plan, &TransitionError{
			Code:    CodeInvalidTransition,
			Message: fmt.Sprintf("недопустимая целевая стадия: %q, допустимы: %s", req.Target, stageList()),
		}
	}
	if req.Override && !req.Privileged {
		return plan, &TransitionError{
			Code:    CodeForbidden,
			Message: "override требует роли staff или admin",
		}
	}
	if current.IsTerminal() {
		return plan, &TransitionError{
			Code:    CodeInvalidTransition,
			Message: fmt.Sprintf("стадия %s терминальная", current),
		}
	}
	if current == req.Target {
		return plan, &TransitionError{
			Code:    CodeInvalidTransition,
			Message: fmt.Sprintf("заявка уже в стадии %s", current),
		}
	}

	if !CanTransition(current, req.Target) {
		if !req.Override {
			return plan, &TransitionError{
				Code:    CodeInvalidTransition,
				Message: fmt.Sprintf("переход %s → %s недопустим", current, req.Target),
			}
		}
		plan.Forced = true
	}

	if IsReviewGated(req.Target) && !req.Satisfied {
		if !req.Override {
			return plan, &TransitionError{
				Code:    CodeMissingDocuments,
				Message: fmt.Sprintf("для перехода в %s требуются принятые документы", req.Target),
			}
		}
		plan.Forced = true
	}

	return plan, nil
}
