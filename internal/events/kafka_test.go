package events

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/bigkaa/loandesk/internal/domain/model"
)

func TestToMessage(t *testing.T) {
	created := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	e := &model.AuditEvent{
		ID:         42,
		Actor:      "staff-1",
		Action:     model.ActionAdminOverride,
		TargetType: model.TargetApplication,
		TargetID:   "app-1",
		Success:    true,
		Metadata:   map[string]any{"from": "RECEIVED", "to": "ACCEPTED"},
		CreatedAt:  created,
	}

	msg, err := toMessage("loandesk.audit", e)
	if err != nil {
		t.Fatalf("toMessage() ошибка: %v", err)
	}
	if msg.Topic != "loandesk.audit" {
		t.Errorf("Topic = %q", msg.Topic)
	}
	if string(msg.Key) != "app-1" {
		t.Errorf("Key = %q, ожидается ID цели", msg.Key)
	}
	if !msg.Time.Equal(created) {
		t.Errorf("Time = %v", msg.Time)
	}

	var decoded AuditMessage
	if err := json.Unmarshal(msg.Value, &decoded); err != nil {
		t.Fatalf("значение не JSON: %v", err)
	}
	if decoded.ID != 42 || decoded.Action != model.ActionAdminOverride || decoded.Metadata["to"] != "ACCEPTED" {
		t.Errorf("событие = %+v", decoded)
	}

	headers := map[string]string{}
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	if headers["event-id"] != "42" || headers["action"] != model.ActionAdminOverride {
		t.Errorf("заголовки = %v", headers)
	}
}
