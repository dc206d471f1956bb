package models

import (
	"fmt"
	"strings"

	"github.com/elithrar/simple-scrypt"
)

// Permissions consumed by the CFP pipeline
const (
	PermCFPAdmin      = "cfp_admin"
	PermCFPReviewer   = "cfp_reviewer"
	PermCFPAnonymiser = "cfp_anonymiser"
	PermCFPSchedule   = "cfp_schedule"
)

// User is an already known person interacting with the CFP: author, reviewer, anonymiser or admin
type User struct {
	// Internal user ID
	ID uint `db:"id" json:"id"`
	// The e-mail address, also used to log in
	Email string `db:"email" json:"email"`
	// The full user name for display reasons
	Name string `db:"name" json:"name"`
	// The hashed password for authentication
	PasswordHash string `db:"passwordHash" json:"-"`
	// Comma separated permission names
	PermissionsText string `db:"permissions" json:"-"`
	// Proposal types this reviewer may review. Empty means all reviewable types.
	ReviewTypesText string `db:"reviewTypes" json:"-"`
	// Tags the user is interested in
	Tags []string `db:"-" json:"tags,omitempty"`
}

// Permissions returns the list of permission names this user has
func (u *User) Permissions() []string {
	var ret []string
	for _, p := range strings.Split(u.PermissionsText, ",") {
		if p = strings.TrimSpace(p); p != "" {
			ret = append(ret, p)
		}
	}
	return ret
}

// HasPermission checks if the user has been granted the given permission. Admins implicitly have every cfp_
// permission.
func (u *User) HasPermission(name string) bool {
	for _, p := range u.Permissions() {
		if p == name || (p == PermCFPAdmin && strings.HasPrefix(name, "cfp_")) {
			return true
		}
	}
	return false
}

// GrantPermission adds the permission to the user if missing
func (u *User) GrantPermission(name string) {
	if u.HasPermission(name) {
		return
	}
	u.PermissionsText = strings.Join(append(u.Permissions(), name), ",")
}

// MayReview checks if the user is a reviewer for the given proposal type
func (u *User) MayReview(t ProposalType) bool {
	if !u.HasPermission(PermCFPReviewer) {
		return false
	}
	types := splitTypes(u.ReviewTypesText)
	if len(types) == 0 {
		return true
	}
	for _, rt := range types {
		if rt == t {
			return true
		}
	}
	return false
}

// SetPassword sets a new password creating a password hash from the incoming password and storing it in the user's
// PasswordHash property
func (u *User) SetPassword(pass string) error {
	hash, err := scrypt.GenerateFromPassword([]byte(pass), scrypt.DefaultParams)
	if err != nil {
		return fmt.Errorf("SetPassword: Error during password hashing: %v", err)
	}
	u.PasswordHash = string(hash)
	return nil
}

// CheckPassword checks if the given password corresponds to the hash stored in the user struct.
// Users without a password (imported or external) can never log in.
func (u *User) CheckPassword(pass string) error {
	if u.PasswordHash == "" {
		return scrypt.ErrMismatchedHashAndPassword
	}
	return scrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(pass))
}
