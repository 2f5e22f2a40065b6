package models

import (
	"strings"
	"time"
)

type Role string

const (
	RoleUser       Role = "user"
	RoleAdmin      Role = "admin"
	RoleSuperAdmin Role = "super-admin"
)

func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAdmin, RoleSuperAdmin:
		return true
	}
	return false
}

// Account is the user document the credential core authenticates against.
// Tokens issued before CredentialsChangedAt are rejected.
type Account struct {
	ID                   string     `json:"id" dynamodbav:"id" bson:"_id"`
	Email                string     `json:"email" dynamodbav:"email" bson:"email"`
	UserName             string     `json:"user_name,omitempty" dynamodbav:"user_name,omitempty" bson:"user_name,omitempty"`
	PasswordHash         string     `json:"-" dynamodbav:"password_hash" bson:"password_hash"`
	Role                 Role       `json:"role" dynamodbav:"role" bson:"role"`
	CredentialsChangedAt time.Time  `json:"-" dynamodbav:"credentials_changed_at" bson:"credentials_changed_at"`
	ConfirmedAt          *time.Time `json:"confirmed_at,omitempty" dynamodbav:"confirmed_at,omitempty" bson:"confirmed_at,omitempty"`
	FrozenAt             *time.Time `json:"frozen_at,omitempty" dynamodbav:"frozen_at,omitempty" bson:"frozen_at,omitempty"`
	FrozenBy             string     `json:"frozen_by,omitempty" dynamodbav:"frozen_by,omitempty" bson:"frozen_by,omitempty"`
	CreatedAt            time.Time  `json:"created_at" dynamodbav:"created_at" bson:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at" dynamodbav:"updated_at" bson:"updated_at"`
}

func (a *Account) Confirmed() bool {
	return a.ConfirmedAt != nil
}

func (a *Account) Frozen() bool {
	return a.FrozenAt != nil
}

func (a *Account) GetPK() string {
	return "USER#" + a.ID
}

func (a *Account) GetSK() string {
	return "METADATA"
}

// AccountFilter selects a single account. Empty fields are ignored. The
// state conditions let stores apply guarded updates in one atomic write.
type AccountFilter struct {
	ID    string
	Email string

	Confirmed   *bool
	Frozen      *bool
	NotFrozenBy string
	RoleNotIn   []Role
}

// Matches reports whether a satisfies every condition of f.
func (f AccountFilter) Matches(a *Account) bool {
	if a == nil {
		return false
	}
	if f.ID != "" && a.ID != f.ID {
		return false
	}
	if f.Email != "" && !strings.EqualFold(a.Email, f.Email) {
		return false
	}
	if f.Confirmed != nil && a.Confirmed() != *f.Confirmed {
		return false
	}
	if f.Frozen != nil && a.Frozen() != *f.Frozen {
		return false
	}
	if f.NotFrozenBy != "" && a.FrozenBy == f.NotFrozenBy {
		return false
	}
	for _, role := range f.RoleNotIn {
		if a.Role == role {
			return false
		}
	}
	return true
}

// AccountPatch lists the fields an update may touch. Nil fields are left
// alone. Unfreeze clears FrozenAt and FrozenBy.
type AccountPatch struct {
	PasswordHash         *string
	Role                 *Role
	CredentialsChangedAt *time.Time
	ConfirmedAt          *time.Time
	FrozenAt             *time.Time
	FrozenBy             *string
	Unfreeze             bool
}

func (p AccountPatch) Empty() bool {
	return p.PasswordHash == nil && p.Role == nil && p.CredentialsChangedAt == nil &&
		p.ConfirmedAt == nil && p.FrozenAt == nil && p.FrozenBy == nil && !p.Unfreeze
}

// Apply writes the patch onto a.
func (p AccountPatch) Apply(a *Account) {
	if p.PasswordHash != nil {
		a.PasswordHash = *p.PasswordHash
	}
	if p.Role != nil {
		a.Role = *p.Role
	}
	if p.CredentialsChangedAt != nil {
		a.CredentialsChangedAt = *p.CredentialsChangedAt
	}
	if p.ConfirmedAt != nil {
		confirmed := *p.ConfirmedAt
		a.ConfirmedAt = &confirmed
	}
	if p.FrozenAt != nil {
		frozen := *p.FrozenAt
		a.FrozenAt = &frozen
	}
	if p.FrozenBy != nil {
		a.FrozenBy = *p.FrozenBy
	}
	if p.Unfreeze {
		a.FrozenAt = nil
		a.FrozenBy = ""
	}
}
