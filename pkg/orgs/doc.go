// Package orgs implements organizations, memberships and invitations.
//
// An organization and its creator's owner membership are created in one
// SQL transaction; a failure in either leaves no partial state behind.
// Slugs are unique at creation time, enforced by the database constraint
// rather than a read-then-write check.
package orgs
