package models

import (
	"fmt"
	"strconv"
	"strings"
)

// UserID is the canonical identifier of a directory user. Approver ids,
// requester ids and acting user ids all use this type so comparisons never
// depend on how an id was transported.
type UserID int64

// ParseUserID parses the textual form of a user id (as found in headers or
// JWT claims).
func ParseUserID(s string) (UserID, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid user id %q", s)
	}
	return UserID(id), nil
}

// String returns the decimal form of the id
func (id UserID) String() string {
	return strconv.FormatInt(int64(id), 10)
}

// Ptr returns a pointer to a copy of id
func (id UserID) Ptr() *UserID {
	return &id
}

// OrgUnitID identifies an organizational unit (department)
type OrgUnitID int64

// RoleID identifies an organizational role
type RoleID string

// RoleOrgUnitHead is the sentinel role marking a level whose approver is the
// head of the requester's organizational unit rather than a role holder.
const RoleOrgUnitHead RoleID = "org_unit_head"

// GlobalScope is the policy scope used as every tenant's fallback
const GlobalScope = "global"
