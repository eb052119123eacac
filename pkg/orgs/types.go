package orgs

import (
	"errors"
	"time"
)

var (
	// ErrSlugTaken means the requested slug already belongs to another
	// organization
	ErrSlugTaken = errors.New("slug already taken")
	// ErrNotFound means the organization does not exist
	ErrNotFound = errors.New("organization not found")
	// ErrNotMember means the user has no membership in the organization
	ErrNotMember = errors.New("not a member of this organization")
	// ErrInvitationInvalid means the invitation token is unknown, expired
	// or already accepted
	ErrInvitationInvalid = errors.New("invitation is invalid or expired")
)

// Organization represents a tenant
type Organization struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Slug      string    `json:"slug"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Role is a member's role within an organization. The set is closed;
// switches over Role must be exhaustive.
type Role string

const (
	RoleOwner  Role = "owner"
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
)

// Valid reports whether the role is one of the known values
func (r Role) Valid() bool {
	switch r {
	case RoleOwner, RoleAdmin, RoleMember:
		return true
	}
	return false
}

// CanManageBilling reports whether the role may mutate the organization's
// subscription. Unknown roles deny.
func (r Role) CanManageBilling() bool {
	switch r {
	case RoleOwner, RoleAdmin:
		return true
	case RoleMember:
		return false
	}
	return false
}

// CanInvite reports whether the role may invite new members. Plain members
// cannot grant memberships, otherwise any member could mint an owner and
// walk around the role checks. Unknown roles deny.
func (r Role) CanInvite() bool {
	switch r {
	case RoleOwner, RoleAdmin:
		return true
	case RoleMember:
		return false
	}
	return false
}

// Member links a user to an organization with a role
type Member struct {
	ID             string    `json:"id"`
	OrganizationID string    `json:"organization_id"`
	UserID         string    `json:"user_id"`
	Role           Role      `json:"role"`
	CreatedAt      time.Time `json:"created_at"`
}

// Invitation is a pending offer of membership, redeemed by token
type Invitation struct {
	ID             string     `json:"id"`
	OrganizationID string     `json:"organization_id"`
	Email          string     `json:"email"`
	Role           Role       `json:"role"`
	Token          string     `json:"-"`
	ExpiresAt      time.Time  `json:"expires_at"`
	AcceptedAt     *time.Time `json:"accepted_at,omitempty"`
	AcceptedBy     *string    `json:"accepted_by,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// CreateOrganizationRequest is the input for organization creation
type CreateOrganizationRequest struct {
	Name string `json:"name"`
	Slug string `json:"slug,omitempty"`
}

// Validate returns per-field validation messages; an empty map means valid
func (r *CreateOrganizationRequest) Validate() map[string]string {
	fieldErrors := make(map[string]string)
	if r.Name == "" {
		fieldErrors["name"] = "name is required"
	} else if len(r.Name) > 100 {
		fieldErrors["name"] = "name must be at most 100 characters"
	}
	if r.Slug != "" && !validSlug(r.Slug) {
		fieldErrors["slug"] = "slug may contain only lowercase letters, digits and hyphens"
	}
	return fieldErrors
}
