package requirements

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/bigkaa/loandesk/internal/domain/model"
)

func dec(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func decision(d model.ReviewDecision) *model.ReviewDecision {
	return &d
}

func req(docType string, minCount int, minAmount, maxAmount *decimal.Decimal) model.DocumentRequirement {
	return model.DocumentRequirement{
		ProductCategory: "sme_term_loan",
		DocumentType:    docType,
		MinCount:        minCount,
		MinAmount:       minAmount,
		MaxAmount:       maxAmount,
	}
}

func TestApplies(t *testing.T) {
	r := req("audited_financials", 1, dec("100000"), dec("500000"))

	tests := []struct {
		name   string
		amount *decimal.Decimal
		want   bool
	}{
		{"сумма неизвестна", nil, true},
		{"ниже диапазона", dec("99999.99"), false},
		{"нижняя граница включительно", dec("100000"), true},
		{"внутри", dec("250000"), true},
		{"верхняя граница включительно", dec("500000.00"), true},
		{"выше диапазона", dec("500000.01"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Applies(r, tt.amount); got != tt.want {
				t.Errorf("Applies() = %v, ожидается %v", got, tt.want)
			}
		})
	}

	open := req("guarantee", 1, dec("1000"), nil)
	if !Applies(open, dec("1000000000")) {
		t.Error("правило без верхней границы должно применяться к большой сумме")
	}
}

func TestRequired_MergesToMaxMinCount(t *testing.T) {
	reqs := []model.DocumentRequirement{
		req("bank_statement", 3, nil, nil),
		req("bank_statement", 6, dec("1000000"), nil),
		req("id_document", 0, nil, nil),
	}

	got := Required(reqs, dec("2000000"))
	if got["bank_statement"] != 6 {
		t.Errorf("bank_statement = %d, ожидается 6", got["bank_statement"])
	}
	if got["id_document"] != 1 {
		t.Errorf("id_document = %d, ожидается 1 (минимум)", got["id_document"])
	}

	got = Required(reqs, dec("500"))
	if got["bank_statement"] != 3 {
		t.Errorf("bank_statement при малой сумме = %d, ожидается 3", got["bank_statement"])
	}
}

func TestEvaluate(t *testing.T) {
	reqs := []model.DocumentRequirement{
		req("id_document", 1, nil, nil),
		req("bank_statement", 3, nil, nil),
	}

	tests := []struct {
		name     string
		statuses []model.DocumentStatus
		want     bool
		missing  int
	}{
		{
			name:    "документов нет",
			want:    false,
			missing: 2,
		},
		{
			name: "всё принято",
			statuses: []model.DocumentStatus{
				{DocumentType: "id_document", CurrentVersion: 1, CurrentDecision: decision(model.DecisionAccepted), AcceptedVersions: 1},
				{DocumentType: "bank_statement", CurrentVersion: 3, CurrentDecision: decision(model.DecisionAccepted), AcceptedVersions: 3},
			},
			want: true,
		},
		{
			name: "выписок меньше нужного",
			statuses: []model.DocumentStatus{
				{DocumentType: "id_document", CurrentVersion: 1, CurrentDecision: decision(model.DecisionAccepted), AcceptedVersions: 1},
				{DocumentType: "bank_statement", CurrentVersion: 2, CurrentDecision: decision(model.DecisionAccepted), AcceptedVersions: 2},
			},
			want:    false,
			missing: 1,
		},
		{
			name: "текущая версия отклонена",
			statuses: []model.DocumentStatus{
				{DocumentType: "id_document", CurrentVersion: 2, CurrentDecision: decision(model.DecisionRejected), AcceptedVersions: 1},
				{DocumentType: "bank_statement", CurrentVersion: 3, CurrentDecision: decision(model.DecisionAccepted), AcceptedVersions: 3},
			},
			want:    false,
			missing: 1,
		},
		{
			name: "текущая версия не рассмотрена",
			statuses: []model.DocumentStatus{
				{DocumentType: "id_document", CurrentVersion: 2, AcceptedVersions: 1},
				{DocumentType: "bank_statement", CurrentVersion: 3, CurrentDecision: decision(model.DecisionAccepted), AcceptedVersions: 3},
			},
			want:    false,
			missing: 1,
		},
		{
			name: "необязательный тип не влияет",
			statuses: []model.DocumentStatus{
				{DocumentType: "id_document", CurrentVersion: 1, CurrentDecision: decision(model.DecisionAccepted), AcceptedVersions: 1},
				{DocumentType: "bank_statement", CurrentVersion: 3, CurrentDecision: decision(model.DecisionAccepted), AcceptedVersions: 3},
				{DocumentType: "photo", CurrentVersion: 1, CurrentDecision: decision(model.DecisionRejected)},
			},
			want: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Evaluate(reqs, nil, tt.statuses)
			if got.Satisfied != tt.want {
				t.Errorf("Satisfied = %v, ожидается %v (items=%+v)", got.Satisfied, tt.want, got.Items)
			}
			if len(got.Missing()) != tt.missing {
				t.Errorf("Missing() = %v, ожидается %d типов", got.Missing(), tt.missing)
			}
			if len(got.Items) != 2 {
				t.Errorf("Items = %d, ожидается 2", len(got.Items))
			}
		})
	}
}

func TestEvaluate_ConditionalRequirement(t *testing.T) {
	reqs := []model.DocumentRequirement{
		req("id_document", 1, nil, nil),
		req("audited_financials", 1, dec("500000"), nil),
	}
	statuses := []model.DocumentStatus{
		{DocumentType: "id_document", CurrentVersion: 1, CurrentDecision: decision(model.DecisionAccepted), AcceptedVersions: 1},
	}

	if got := Evaluate(reqs, dec("100000"), statuses); !got.Satisfied {
		t.Errorf("малая сумма: ожидается удовлетворено, items=%+v", got.Items)
	}
	got := Evaluate(reqs, dec("750000"), statuses)
	if got.Satisfied {
		t.Error("крупная сумма: audited_financials обязателен")
	}
	if !got.Requires("audited_financials") {
		t.Error("Requires(audited_financials) = false для крупной суммы")
	}
	if got := Evaluate(reqs, nil, statuses); got.Satisfied {
		t.Error("сумма неизвестна: условное требование применяется")
	}
}

func TestEvaluate_NoRequirements(t *testing.T) {
	got := Evaluate(nil, nil, nil)
	if !got.Satisfied {
		t.Error("пустой набор требований должен считаться удовлетворённым")
	}
	if got.Requires("id_document") {
		t.Error("Requires() = true при пустом наборе")
	}
}
