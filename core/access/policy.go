package access

import (
	"fmt"

	"github.com/relabs-tech/geocatalog/core"
	"github.com/relabs-tech/geocatalog/core/apierr"
)

// Authorize decides whether a caller with role may perform op on a metadata record or
// one of its sub-records. owner tells whether the caller owns the record.
//
// ADMIN may do everything. USER may create and list, and may read, update and delete
// only what they own. Reading records of other users is governed by CanView.
func Authorize(role core.Role, owner bool, op core.Operation) error {
	switch role {
	case core.RoleAdmin:
		return nil
	case core.RoleUser:
		switch op {
		case core.OperationCreate, core.OperationList:
			return nil
		case core.OperationRead, core.OperationUpdate, core.OperationDelete:
			if owner {
				return nil
			}
			return apierr.Permission(fmt.Sprintf("only the owner or an ADMIN may %s this record", op))
		}
	}
	return apierr.Permission(fmt.Sprintf("role %q may not %s this record", role, op))
}

// CanView decides whether a metadata record in state status is visible to a caller.
// PUBLISHED records are visible to everybody, DRAFT and ARCHIVED records only to
// the owner and ADMIN.
func CanView(role core.Role, owner bool, status core.Status) bool {
	if role == core.RoleAdmin || owner {
		return true
	}
	return role == core.RoleUser && status == core.StatusPublished
}

// AuthorizeAccount decides whether a caller with role may perform op on a user account.
// self tells whether the account is the caller's own.
//
// ADMIN may do everything. USER may list (which yields only the own account), and read
// and update the own account.
func AuthorizeAccount(role core.Role, self bool, op core.Operation) error {
	switch role {
	case core.RoleAdmin:
		return nil
	case core.RoleUser:
		switch op {
		case core.OperationList:
			return nil
		case core.OperationRead, core.OperationUpdate:
			if self {
				return nil
			}
		}
		return apierr.Permission(fmt.Sprintf("only an ADMIN may %s this account", op))
	}
	return apierr.Permission(fmt.Sprintf("role %q may not %s accounts", role, op))
}

// CanViewAccount decides whether an account is visible to a caller
func CanViewAccount(role core.Role, self bool) bool {
	return role == core.RoleAdmin || self
}
