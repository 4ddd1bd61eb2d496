package store

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/relabs-tech/geocatalog/core"
	"github.com/relabs-tech/geocatalog/core/model"
)

const userColumns = `id, email, username, name, role, organization, is_active, last_login, password_hash, created_at, updated_at`

// UserFilter restricts a user listing
type UserFilter struct {
	// OnlyID restricts the listing to a single account
	OnlyID *uuid.UUID
	Role   *core.Role
}

// CreateUser inserts a new user
func CreateUser(ctx context.Context, q sqlx.ExtContext, user *model.User) error {
	_, err := sqlx.NamedExecContext(ctx, q, `INSERT INTO users (`+userColumns+`) VALUES
(:id, :email, :username, :name, :role, :organization, :is_active, :last_login, :password_hash, :created_at, :updated_at)`, user)
	return classify(err)
}

// GetUser returns the user with id
func GetUser(ctx context.Context, q sqlx.ExtContext, id uuid.UUID) (*model.User, error) {
	var user model.User
	err := sqlx.GetContext(ctx, q, &user, q.Rebind(`SELECT `+userColumns+` FROM users WHERE id = ?`), id)
	if err != nil {
		return nil, classify(err)
	}
	afterRead(&user)
	return &user, nil
}

// GetUserByEmail returns the user with the normalized email
func GetUserByEmail(ctx context.Context, q sqlx.ExtContext, email string) (*model.User, error) {
	var user model.User
	err := sqlx.GetContext(ctx, q, &user, q.Rebind(`SELECT `+userColumns+` FROM users WHERE email = ?`),
		model.NormalizeEmail(email))
	if err != nil {
		return nil, classify(err)
	}
	afterRead(&user)
	return &user, nil
}

// ListUsers returns one page of users matching filter, ordered by creation time
// descending, and the total number of matching users
func ListUsers(ctx context.Context, q sqlx.ExtContext, filter UserFilter, page Page) ([]model.User, int, error) {
	where := "1 = 1"
	var args []interface{}
	if filter.OnlyID != nil {
		where += " AND id = ?"
		args = append(args, *filter.OnlyID)
	}
	if filter.Role != nil {
		where += " AND role = ?"
		args = append(args, string(*filter.Role))
	}

	var total int
	if err := sqlx.GetContext(ctx, q, &total, q.Rebind(`SELECT count(*) FROM users WHERE `+where), args...); err != nil {
		return nil, 0, classify(err)
	}
	users := []model.User{}
	err := sqlx.SelectContext(ctx, q, &users,
		q.Rebind(`SELECT `+userColumns+` FROM users WHERE `+where+` ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`),
		append(args, page.Limit(), page.Offset())...)
	if err != nil {
		return nil, 0, classify(err)
	}
	for i := range users {
		afterRead(&users[i])
	}
	return users, total, nil
}

// UpdateUser writes all mutable fields of user
func UpdateUser(ctx context.Context, q sqlx.ExtContext, user *model.User) error {
	res, err := sqlx.NamedExecContext(ctx, q, `UPDATE users SET
email = :email, username = :username, name = :name, role = :role, organization = :organization,
is_active = :is_active, last_login = :last_login, password_hash = :password_hash, updated_at = :updated_at
WHERE id = :id`, user)
	return expectOne(res, err)
}

// TouchLastLogin sets the last login time of a user
func TouchLastLogin(ctx context.Context, q sqlx.ExtContext, id uuid.UUID, at time.Time) error {
	res, err := q.ExecContext(ctx, q.Rebind(`UPDATE users SET last_login = ? WHERE id = ?`), at, id)
	return expectOne(res, err)
}

// DeleteUser deletes a user together with all metadata records the user owns and their
// sub-records. It must run inside a transaction to be atomic.
func DeleteUser(ctx context.Context, q sqlx.ExtContext, id uuid.UUID) error {
	for _, t := range SubrecordTables {
		_, err := q.ExecContext(ctx, q.Rebind(`DELETE FROM `+t.Name+
			` WHERE metadata_id IN (SELECT id FROM metadata WHERE owner_id = ?)`), id)
		if err != nil {
			return fmt.Errorf("cascade %s: %w", t.Name, classify(err))
		}
	}
	if _, err := q.ExecContext(ctx, q.Rebind(`DELETE FROM metadata WHERE owner_id = ?`), id); err != nil {
		return fmt.Errorf("cascade metadata: %w", classify(err))
	}
	res, err := q.ExecContext(ctx, q.Rebind(`DELETE FROM users WHERE id = ?`), id)
	return expectOne(res, err)
}

// CountAdmins returns the number of active ADMIN accounts
func CountAdmins(ctx context.Context, q sqlx.ExtContext) (int, error) {
	var n int
	err := sqlx.GetContext(ctx, q, &n, q.Rebind(`SELECT count(*) FROM users WHERE role = ? AND is_active = ?`),
		string(core.RoleAdmin), true)
	return n, classify(err)
}

// UniqueUsername returns base if no user has it as username yet, otherwise base followed
// by the smallest counter which makes it unique
func UniqueUsername(ctx context.Context, q sqlx.ExtContext, base string, excludeID uuid.UUID) (string, error) {
	var taken []string
	err := sqlx.SelectContext(ctx, q, &taken,
		q.Rebind(`SELECT username FROM users WHERE (username = ? OR username LIKE ?) AND id <> ?`),
		base, base+"%", excludeID)
	if err != nil {
		return "", classify(err)
	}
	used := make(map[string]bool, len(taken))
	for _, t := range taken {
		used[t] = true
	}
	candidate := base
	for counter := 1; used[candidate]; counter++ {
		candidate = base + strconv.Itoa(counter)
	}
	return candidate, nil
}
