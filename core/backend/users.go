package backend

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/relabs-tech/geocatalog/core"
	"github.com/relabs-tech/geocatalog/core/access"
	"github.com/relabs-tech/geocatalog/core/apierr"
	"github.com/relabs-tech/geocatalog/core/model"
	"github.com/relabs-tech/geocatalog/core/outbox"
	"github.com/relabs-tech/geocatalog/core/store"
)

const userResource = "user"

// userInput is the writable part of a user document
type userInput struct {
	Email        string     `json:"email"`
	Name         string     `json:"name"`
	Password     *string    `json:"password"`
	Role         *core.Role `json:"role"`
	Organization *string    `json:"organization"`
	IsActive     *bool      `json:"is_active"`
}

// user fields which are never taken from a request
var userReadOnlyFields = append([]string{"username", "last_login"}, readOnlyFields...)

func (b *Backend) handleUsers() {
	b.handle("/api/users/", b.listUsers, http.MethodGet)
	b.handle("/api/users/", b.createUser, http.MethodPost)
	item := "/api/users/{id}/"
	b.handle(item, b.readUser, http.MethodGet)
	b.handle(item, func(w http.ResponseWriter, r *http.Request) error {
		return b.updateUser(w, r, false)
	}, http.MethodPut)
	b.handle(item, func(w http.ResponseWriter, r *http.Request) error {
		return b.updateUser(w, r, true)
	}, http.MethodPatch)
	b.handle(item, b.deleteUser, http.MethodDelete)
}

func (b *Backend) listUsers(w http.ResponseWriter, r *http.Request) error {
	auth, err := access.RequireAuthorization(r)
	if err != nil {
		return err
	}
	if err := access.AuthorizeAccount(auth.Role, false, core.OperationList); err != nil {
		return err
	}
	page, query, err := b.listQuery(r, "role")
	if err != nil {
		return err
	}
	filter := store.UserFilter{}
	if v := query.Get("role"); v != "" {
		role := core.Role(v)
		if !role.Valid() {
			return apierr.FieldError("role", "must be ADMIN or USER")
		}
		filter.Role = &role
	}
	if !auth.IsAdmin() {
		filter.OnlyID = &auth.UserID
	}
	users, total, err := store.ListUsers(r.Context(), b.db, filter, page)
	if err != nil {
		return internalError(r, err, 4240, "list users")
	}
	return writeList(w, r, page, total, users)
}

// visibleUser returns the account with id if the caller may see it
func visibleUser(ctx context.Context, q sqlx.ExtContext, auth *access.Authorization, id uuid.UUID) (*model.User, error) {
	if !access.CanViewAccount(auth.Role, auth.UserID == id) {
		return nil, apierr.NotFound()
	}
	return store.GetUser(ctx, q, id)
}

func (b *Backend) readUser(w http.ResponseWriter, r *http.Request) error {
	auth, err := access.RequireAuthorization(r)
	if err != nil {
		return err
	}
	id, err := pathID(r)
	if err != nil {
		return err
	}
	user, err := visibleUser(r.Context(), b.db, auth, id)
	if err != nil {
		return failure(r, err, 4241, "read user")
	}
	return writeItem(w, r, user)
}

func (b *Backend) createUser(w http.ResponseWriter, r *http.Request) error {
	auth, err := access.RequireAuthorization(r)
	if err != nil {
		return err
	}
	if err := access.AuthorizeAccount(auth.Role, false, core.OperationCreate); err != nil {
		return err
	}
	doc, err := readObject(w, r)
	if err != nil {
		return err
	}
	var input userInput
	if err := decodeDocument(b.validator, "user", without(doc, userReadOnlyFields...), &input); err != nil {
		return err
	}

	user := &model.User{
		Email:        model.NormalizeEmail(input.Email),
		Name:         input.Name,
		Role:         core.RoleUser,
		Organization: input.Organization,
		IsActive:     true,
	}
	if input.Role != nil {
		user.Role = *input.Role
	}
	if input.IsActive != nil {
		user.IsActive = *input.IsActive
	}
	if user.PasswordHash, err = access.HashPassword(*input.Password); err != nil {
		return internalError(r, err, 4242, "hash password")
	}
	user.Stamp(model.Now())

	err = b.store.InTransaction(r.Context(), func(tx *sqlx.Tx) error {
		return b.insertUser(r.Context(), tx, user)
	})
	if err != nil {
		return failure(r, err, 4243, "create user")
	}
	return writeJSON(w, http.StatusCreated, user)
}

func (b *Backend) insertUser(ctx context.Context, tx *sqlx.Tx, user *model.User) error {
	username, err := store.UniqueUsername(ctx, tx, model.UsernameBase(user.Email), user.ID)
	if err != nil {
		return err
	}
	user.Username = username
	if err := store.CreateUser(ctx, tx, user); err != nil {
		return err
	}
	return outbox.Append(ctx, tx, userResource, core.OperationCreate, "", user.ID, user)
}

func (b *Backend) updateUser(w http.ResponseWriter, r *http.Request, merge bool) error {
	auth, err := access.RequireAuthorization(r)
	if err != nil {
		return err
	}
	id, err := pathID(r)
	if err != nil {
		return err
	}
	doc, err := readObject(w, r)
	if err != nil {
		return err
	}
	doc = without(doc, userReadOnlyFields...)

	ctx := r.Context()
	var updated *model.User
	err = b.store.InTransaction(ctx, func(tx *sqlx.Tx) error {
		current, err := visibleUser(ctx, tx, auth, id)
		if err != nil {
			return err
		}
		self := auth.UserID == id
		if err := access.AuthorizeAccount(auth.Role, self, core.OperationUpdate); err != nil {
			return err
		}

		fields := doc
		if merge {
			if fields, err = merged(current, doc); err != nil {
				return err
			}
			fields = without(fields, userReadOnlyFields...)
		}
		var input userInput
		if err := decodeDocument(b.validator, "user-update", fields, &input); err != nil {
			return err
		}

		next := *current
		next.Email = model.NormalizeEmail(input.Email)
		next.Name = input.Name
		next.Organization = input.Organization
		if input.Role != nil {
			next.Role = *input.Role
		}
		if input.IsActive != nil {
			next.IsActive = *input.IsActive
		}
		if !auth.IsAdmin() && (next.Role != current.Role || next.IsActive != current.IsActive) {
			return apierr.Permission("only an ADMIN may change role or is_active")
		}
		if err := b.keepAnAdmin(ctx, tx, current, next.Role == core.RoleAdmin && next.IsActive); err != nil {
			return err
		}
		if input.Password != nil {
			if next.PasswordHash, err = access.HashPassword(*input.Password); err != nil {
				return err
			}
		}
		if next.Email != current.Email {
			if next.Username, err = store.UniqueUsername(ctx, tx, model.UsernameBase(next.Email), next.ID); err != nil {
				return err
			}
		}
		next.Stamp(model.Now())
		if err := store.UpdateUser(ctx, tx, &next); err != nil {
			return err
		}
		updated = &next
		return outbox.Append(ctx, tx, userResource, core.OperationUpdate, "", next.ID, &next)
	})
	if err != nil {
		return failure(r, err, 4244, "update user")
	}
	return writeJSON(w, http.StatusOK, updated)
}

// keepAnAdmin refuses to demote, deactivate or delete the last active ADMIN
func (b *Backend) keepAnAdmin(ctx context.Context, tx *sqlx.Tx, current *model.User, staysAdmin bool) error {
	if !current.IsAdmin() || !current.IsActive || staysAdmin {
		return nil
	}
	admins, err := store.CountAdmins(ctx, tx)
	if err != nil {
		return err
	}
	if admins <= 1 {
		return apierr.FieldError("role", "the last active ADMIN cannot be removed")
	}
	return nil
}

func (b *Backend) deleteUser(w http.ResponseWriter, r *http.Request) error {
	auth, err := access.RequireAuthorization(r)
	if err != nil {
		return err
	}
	id, err := pathID(r)
	if err != nil {
		return err
	}

	ctx := r.Context()
	err = b.store.InTransaction(ctx, func(tx *sqlx.Tx) error {
		user, err := visibleUser(ctx, tx, auth, id)
		if err != nil {
			return err
		}
		if err := access.AuthorizeAccount(auth.Role, auth.UserID == id, core.OperationDelete); err != nil {
			return err
		}
		if err := b.keepAnAdmin(ctx, tx, user, false); err != nil {
			return err
		}
		owned, err := store.MetadataIDsByOwner(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := store.DeleteUser(ctx, tx, id); err != nil {
			return err
		}
		for _, metadataID := range owned {
			if err := b.deleteSnapshot(ctx, tx, metadataID); err != nil {
				return err
			}
		}
		return outbox.Append(ctx, tx, userResource, core.OperationDelete, "", id, user)
	})
	if err != nil {
		return failure(r, err, 4245, "delete user")
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}

// EnsureAdmin creates an active ADMIN account for email unless an account with this email
// exists. It returns true if the account was created.
func (b *Backend) EnsureAdmin(ctx context.Context, email, password string) (bool, error) {
	email = model.NormalizeEmail(email)
	if len(password) < model.MinPasswordLength {
		return false, fmt.Errorf("admin password must have at least %d characters", model.MinPasswordLength)
	}
	_, err := store.GetUserByEmail(ctx, b.db, email)
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return false, err
	}

	hash, err := access.HashPassword(password)
	if err != nil {
		return false, err
	}
	user := &model.User{
		Email:        email,
		Name:         "Administrator",
		Role:         core.RoleAdmin,
		IsActive:     true,
		PasswordHash: hash,
	}
	user.Stamp(model.Now())
	err = b.store.InTransaction(ctx, func(tx *sqlx.Tx) error {
		return b.insertUser(ctx, tx, user)
	})
	return err == nil, err
}
