package auth

import (
	"strings"
	"testing"

	"github.com/artpar/faunagate/core/resource"
	"github.com/artpar/faunagate/core/schema"
	"github.com/artpar/faunagate/core/sdl"
)

func TestModels(t *testing.T) {
	reg := schema.NewRegistry()
	if err := Declare(reg); err != nil {
		t.Fatalf("Declare: %v", err)
	}
	if err := reg.Resolve(); err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	doc, err := User.New(map[string]any{FieldUsername: "test", FieldEmail: "test@example.com"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if got := doc.Get(FieldAccountStatus); got != StatusInactive {
		t.Errorf("account_status = %v, want %s", got, StatusInactive)
	}

	doc.Data[FieldVerificationKey] = "secret"
	if _, ok := doc.Public()[FieldVerificationKey]; ok {
		t.Error("verification key should not be public")
	}

	if got := schema.AllIndexName(UserGroups); got != "all_usergroups" {
		t.Errorf("AllIndexName = %s", got)
	}
}

func TestRenderedSchema(t *testing.T) {
	out := sdl.Render(Models(), nil)
	for _, want := range []string{
		"enum AccountStatus {",
		"username: String! @unique",
		`groups: [Group] @relation(name: "usergroups")`,
		"userID: User!",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("schema missing %q:\n%s", want, out)
		}
	}
}

func TestResources(t *testing.T) {
	var names []string
	for _, v := range Resources() {
		switch r := v.(type) {
		case resource.Collection:
			for _, res := range r.Resources() {
				names = append(names, string(res.Kind())+":"+res.Name())
			}
		case resource.Resource:
			names = append(names, string(r.Kind())+":"+r.Name())
		}
	}
	want := []string{
		"index:users_by_verification_key",
		"index:users_by_reset_key",
		"role:user_self",
		"index:usergroups_by_group_and_user",
		"index:usergroups_by_user",
		"function:login",
		"function:update_password",
	}
	if strings.Join(names, ",") != strings.Join(want, ",") {
		t.Errorf("resources = %v, want %v", names, want)
	}
}

func TestPermissions(t *testing.T) {
	house := schema.MustDefine("House", schema.String("address"))
	groups := []resource.PermissionGroup{
		{Model: house},
		{Model: User, Actions: []resource.Action{resource.ActionRead}},
	}

	got := Permissions("power-users", groups...)
	want := []string{
		"power-users-house-create", "power-users-house-read",
		"power-users-house-write", "power-users-house-delete",
		"power-users-user-read",
	}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("Permissions = %v, want %v", got, want)
	}

	if got := Unscoped(groups...); len(got) != 5 || got[4] != "user-read" {
		t.Errorf("Unscoped = %v", got)
	}
}

func TestValidateSignup(t *testing.T) {
	tests := []struct {
		name   string
		req    SignupRequest
		fields []string
	}{
		{"valid", SignupRequest{Username: "test", Password: "Passw0rd!"}, nil},
		{"short password", SignupRequest{Username: "test", Password: "Pa1"}, []string{"password"}},
		{"weak password", SignupRequest{Username: "test", Password: "password1"}, []string{"password"}},
		{"no username", SignupRequest{Password: "Passw0rd!"}, []string{FieldUsername}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateSignup(tt.req)
			if len(tt.fields) == 0 {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			ve, ok := schema.AsValidationError(err)
			if !ok {
				t.Fatalf("want ValidationError, got %v", err)
			}
			for _, f := range tt.fields {
				if _, ok := ve.Fields()[f]; !ok {
					t.Errorf("missing error for %s: %v", f, ve)
				}
			}
		})
	}
}

func TestValidateChangePassword(t *testing.T) {
	if err := ValidateChangePassword(ChangePasswordRequest{CurrentPassword: "Old1pass", NewPassword: "New1pass"}); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	err := ValidateChangePassword(ChangePasswordRequest{CurrentPassword: "Same1pass", NewPassword: "Same1pass"})
	if ve, ok := schema.AsValidationError(err); !ok || ve.Fields()["new_password"] == "" {
		t.Errorf("want new_password error, got %v", err)
	}
	if err := ValidateResetPassword("", "weak"); err == nil {
		t.Error("want error for empty key and weak password")
	}
}

func TestHashKey(t *testing.T) {
	a, b := HashKey("key-1"), HashKey("key-2")
	if a == b || len(a) != 64 {
		t.Errorf("HashKey: %s %s", a, b)
	}
	if HashKey("key-1") != a {
		t.Error("HashKey is not deterministic")
	}
}

func TestPasswordStrength(t *testing.T) {
	tests := []struct {
		password string
		want     int
	}{
		{"abc", 0},
		{"abcdefgh", 1},
		{"Abcdefgh", 2},
		{"Abcdefgh1234!", 4},
	}
	for _, tt := range tests {
		if got := PasswordStrength(tt.password); got != tt.want {
			t.Errorf("PasswordStrength(%q) = %d, want %d", tt.password, got, tt.want)
		}
	}
}
