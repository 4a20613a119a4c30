package service

import (
	"context"
	"testing"

	"github.com/bigkaa/loandesk/internal/domain/model"
)

func TestRoleGrants(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	grants := NewRoleGrantService(f.store, testLogger())

	role, err := grants.GetRoleGrant(ctx, "user-1")
	if err != nil || role != nil {
		t.Fatalf("GetRoleGrant() без выдачи = %v, %v; ожидается nil, nil", role, err)
	}

	v, err := grants.Grant(ctx, admin, "user-1", RoleGrantInput{Role: " Staff "})
	if err != nil {
		t.Fatalf("Grant() error: %v", err)
	}
	if v.Role != "staff" || v.GrantedBy != admin.Subject {
		t.Errorf("выдача = %+v", v)
	}

	role, err = grants.GetRoleGrant(ctx, "user-1")
	if err != nil || role == nil || *role != "staff" {
		t.Fatalf("GetRoleGrant() = %v, %v; ожидается staff", role, err)
	}

	got, err := grants.Get(ctx, admin, "user-1")
	if err != nil || got.Role != "staff" {
		t.Errorf("Get() = %+v, %v", got, err)
	}

	if err := grants.Revoke(ctx, admin, "user-1"); err != nil {
		t.Fatalf("Revoke() error: %v", err)
	}
	err = grants.Revoke(ctx, admin, "user-1")
	requireCode(t, err, CodeNotFound)

	st := f.store.snapshot()
	if st.countAudit(model.ActionRoleGranted, true) != 1 || st.countAudit(model.ActionRoleRevoked, true) != 1 {
		t.Errorf("аудит выдачи ролей: %v", st.auditActions())
	}
}

func TestRoleGrants_Rejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	grants := NewRoleGrantService(f.store, testLogger())

	_, err := grants.Grant(ctx, staff, "user-1", RoleGrantInput{Role: "admin"})
	requireCode(t, err, CodeForbidden)

	_, err = grants.Grant(ctx, admin, "user-1", RoleGrantInput{Role: "root"})
	requireCode(t, err, CodeValidation)

	_, err = grants.Grant(ctx, admin, " ", RoleGrantInput{Role: "staff"})
	requireCode(t, err, CodeValidation)

	_, err = grants.Get(ctx, readonly, "user-1")
	requireCode(t, err, CodeForbidden)

	_, err = grants.Get(ctx, admin, "user-1")
	requireCode(t, err, CodeNotFound)
}
