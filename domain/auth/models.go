// Package auth declares the built-in user, group and membership models and
// the resources that log users in and check their permissions.
package auth

import (
	"github.com/artpar/faunagate/core/resource"
	"github.com/artpar/faunagate/core/schema"
)

// Account statuses.
const (
	StatusActive   = "ACTIVE"
	StatusInactive = "INACTIVE"
)

// AccountStatus is the enum of user account states.
var AccountStatus = schema.NewEnum("AccountStatus", StatusActive, StatusInactive)

// Relation is the many-to-many relation between users and groups.
const Relation = "usergroups"

// Field names of the built-in models.
const (
	FieldUsername        = "username"
	FieldEmail           = "email"
	FieldAccountStatus   = "account_status"
	FieldVerificationKey = "verification_key"
	FieldResetKey        = "reset_key"
	FieldUser            = "userID"
	FieldGroup           = "groupID"
	FieldPermissions     = "permissions"
)

var (
	// User is a person who can log in.
	User = schema.MustDefine("User",
		schema.String(FieldUsername, schema.Required(), schema.Unique()),
		schema.Email(FieldEmail, schema.Required(), schema.Unique()),
		schema.String("first_name"),
		schema.String("last_name"),
		schema.EnumOf(FieldAccountStatus, AccountStatus, schema.Default(StatusInactive)),
		schema.String(FieldVerificationKey, schema.Internal()),
		schema.String(FieldResetKey, schema.Internal()),
		schema.ManyToMany("groups", "Group", Relation),
	).Display(FieldUsername)

	// Group is a named set of users.
	Group = schema.MustDefine("Group",
		schema.String("name", schema.Required()),
		schema.Slug("slug", schema.Required(), schema.Unique()),
		schema.ManyToMany("users", "User", Relation),
	).Display("name")

	// UserGroups is the membership row of a user in a group and the
	// permission tokens it grants.
	UserGroups = schema.MustDefine("UserGroups",
		schema.Reference(FieldUser, "User", schema.Required()),
		schema.Reference(FieldGroup, "Group", schema.Required()),
		schema.List(FieldPermissions),
	).Plural("usergroups")
)

// Membership indexes.
var (
	// ByGroupAndUser finds the membership row of a user in a group. Group
	// based roles read permissions through it.
	ByGroupAndUser = schema.Index{
		Name:   "usergroups_by_group_and_user",
		Source: UserGroups.CollectionName(),
		Terms:  []string{FieldGroup, FieldUser},
	}
	// ByUser lists the membership rows of a user.
	ByUser = schema.Index{
		Name:   "usergroups_by_user",
		Source: UserGroups.CollectionName(),
		Terms:  []string{FieldUser},
	}

	// ByVerificationKey and ByResetKey find a user by the hash of a key
	// sent by email.
	ByVerificationKey = schema.Index{
		Name:   "users_by_verification_key",
		Source: User.CollectionName(),
		Terms:  []string{FieldVerificationKey},
	}
	ByResetKey = schema.Index{
		Name:   "users_by_reset_key",
		Source: User.CollectionName(),
		Terms:  []string{FieldResetKey},
	}
)

// Declare adds the built-in models to reg.
func Declare(reg *schema.Registry) error {
	return reg.Declare(User, Group, UserGroups)
}

// Models returns the built-in models.
func Models() []*schema.Model {
	return []*schema.Model{User, Group, UserGroups}
}

// Resources returns everything a project publishes for authentication:
// the models, the membership indexes, the login and update_password
// functions and the role letting users manage their own document.
func Resources() []any {
	return []any{
		AccountStatus,
		resource.Collection{
			Model:   User,
			Roles:   []resource.RoleFactory{resource.Self()},
			Indexes: []schema.Index{ByVerificationKey, ByResetKey},
		},
		resource.Collection{Model: Group},
		resource.Collection{Model: UserGroups, Indexes: []schema.Index{ByGroupAndUser, ByUser}},
		resource.Login{UserModel: User},
		resource.UpdatePassword{},
	}
}

// Permissions returns the group-scoped tokens of every permission group.
func Permissions(slug string, groups ...resource.PermissionGroup) []string {
	var out []string
	for _, g := range groups {
		out = append(out, g.Scoped(slug)...)
	}
	return out
}

// Unscoped returns the plain tokens of every permission group, the form
// stored in membership rows and checked by group based roles.
func Unscoped(groups ...resource.PermissionGroup) []string {
	var out []string
	for _, g := range groups {
		out = append(out, g.Permissions()...)
	}
	return out
}
