package model

import (
	"regexp"
	"strings"
	"time"

	"github.com/relabs-tech/geocatalog/core"
)

// User is an account
type User struct {
	Base
	Email        string     `db:"email" json:"email"`
	Username     string     `db:"username" json:"username"`
	Name         string     `db:"name" json:"name"`
	Role         core.Role  `db:"role" json:"role"`
	Organization *string    `db:"organization" json:"organization"`
	IsActive     bool       `db:"is_active" json:"is_active"`
	LastLogin    *time.Time `db:"last_login" json:"last_login"`
	PasswordHash string     `db:"password_hash" json:"-"`
}

// IsAdmin returns true if the user has the ADMIN role
func (u *User) IsAdmin() bool {
	return u.Role == core.RoleAdmin
}

// InUTC moves the timestamps into UTC
func (u *User) InUTC() {
	u.Base.InUTC()
	if u.LastLogin != nil {
		t := u.LastLogin.UTC()
		u.LastLogin = &t
	}
}

// MinPasswordLength is the minimum length of account passwords
const MinPasswordLength = 8

// NormalizeEmail trims and lower-cases an email address. Addresses are compared in
// this form, which makes them unique regardless of case.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

var usernameStrip = regexp.MustCompile(`[^a-z0-9._-]+`)

// UsernameBase derives the username candidate from the local part of an email address
func UsernameBase(email string) string {
	local := NormalizeEmail(email)
	if i := strings.Index(local, "@"); i >= 0 {
		local = local[:i]
	}
	local = usernameStrip.ReplaceAllString(local, "")
	if local == "" {
		local = "user"
	}
	return local
}
