package core

import (
	"fmt"

	"github.com/goccy/go-json"
)

// Operation represents a backend storage operation, one of Create, Read, Update, Delete, List
type Operation string

// all supported operations
const (
	OperationCreate Operation = "create"
	OperationRead   Operation = "read"
	OperationUpdate Operation = "update"
	OperationDelete Operation = "delete"
	OperationList   Operation = "list"
)

// UnmarshalJSON is a custom JSON unmarshaller
func (o *Operation) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*o = Operation(s)
	switch *o {
	case OperationCreate, OperationRead, OperationUpdate, OperationDelete, OperationList:
		return nil
	default:
		return fmt.Errorf("%s is not valid Operation", s)
	}
}

// Role is the role of an account
type Role string

// the two account roles
const (
	RoleAdmin Role = "ADMIN"
	RoleUser  Role = "USER"
)

// Valid returns true if r is a known role
func (r Role) Valid() bool {
	return r == RoleAdmin || r == RoleUser
}

// Status is the lifecycle state of a metadata record
type Status string

// lifecycle states
const (
	StatusDraft     Status = "DRAFT"
	StatusPublished Status = "PUBLISHED"
	StatusArchived  Status = "ARCHIVED"
)

// Statuses lists all lifecycle states in lifecycle order
var Statuses = []Status{StatusDraft, StatusPublished, StatusArchived}

// Valid returns true if s is a known lifecycle state
func (s Status) Valid() bool {
	switch s {
	case StatusDraft, StatusPublished, StatusArchived:
		return true
	}
	return false
}

// CanTransition reports whether a record in state s may move to state to.
//
// Transitions are forward only: DRAFT to PUBLISHED, PUBLISHED to ARCHIVED and
// DRAFT to ARCHIVED. Staying in the same state is always accepted.
func (s Status) CanTransition(to Status) bool {
	if !to.Valid() {
		return false
	}
	if s == to {
		return true
	}
	switch s {
	case StatusDraft:
		return to == StatusPublished || to == StatusArchived
	case StatusPublished:
		return to == StatusArchived
	}
	return false
}
