package domain

import (
	"errors"
	"testing"
)

func TestEffectivePermissionsIgnoresOrderAndDuplicates(t *testing.T) {
	reader := Role{Name: "reader", Permissions: PermAccountsRead | PermAccountsSelf}
	admin := Role{Name: "admin", Permissions: PermAccountsWrite | PermAccountsUnlock | PermRolesManage}

	base := EffectivePermissions([]Role{reader, admin})
	variants := [][]Role{
		{admin, reader},
		{reader, admin, reader},
		{admin, admin, reader, reader},
	}
	for i, roles := range variants {
		if got := EffectivePermissions(roles); got != base {
			t.Fatalf("variant %d: expected %s, got %s", i, base, got)
		}
	}
	if !base.Has(PermAccountsRead | PermRolesManage) {
		t.Fatal("expected union to contain both roles' flags")
	}
	if base.Has(PermTokensRevoke) {
		t.Fatal("unexpected permission")
	}
}

func TestParsePermissions(t *testing.T) {
	set, err := ParsePermissions([]string{"accounts:read", " Tokens:Revoke "})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if set != PermAccountsRead|PermTokensRevoke {
		t.Fatalf("unexpected set %s", set)
	}
	if _, err := ParsePermission("accounts:fly"); !errors.Is(err, ErrUnknownPermission) {
		t.Fatalf("expected unknown permission, got %v", err)
	}
	if got := set.String(); got != "accounts:read,tokens:revoke" {
		t.Fatalf("unexpected names %q", got)
	}
	if missing := set.Missing(PermAccountsRead | PermCodesIssue); missing != PermCodesIssue {
		t.Fatalf("unexpected missing set %s", missing)
	}
}
