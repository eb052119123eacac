package orgs

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DefaultInvitationTTL is how long an invitation stays redeemable
const DefaultInvitationTTL = 7 * 24 * time.Hour

// CreateInvitation creates a pending invitation for an email address.
// The caller is responsible for checking that the inviter may invite.
func (s *PostgresService) CreateInvitation(ctx context.Context, orgID, email string, role Role) (*Invitation, error) {
	if !role.Valid() {
		return nil, fmt.Errorf("invalid role: %s", role)
	}

	tokenBytes := make([]byte, 32)
	if _, err := rand.Read(tokenBytes); err != nil {
		return nil, fmt.Errorf("failed to generate invitation token: %w", err)
	}

	now := time.Now().UTC()
	inv := &Invitation{
		ID:             uuid.NewString(),
		OrganizationID: orgID,
		Email:          strings.ToLower(strings.TrimSpace(email)),
		Role:           role,
		Token:          hex.EncodeToString(tokenBytes),
		ExpiresAt:      now.Add(DefaultInvitationTTL),
		CreatedAt:      now,
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO organization_invitations (id, organization_id, email, role, token, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, inv.ID, inv.OrganizationID, inv.Email, inv.Role, inv.Token, inv.ExpiresAt, inv.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create invitation: %w", err)
	}

	return inv, nil
}

// AcceptInvitation redeems an invitation token for a user. The membership
// insert and the accepted_at stamp happen in one transaction; a token can
// only be redeemed once. The user's email must match the invitation.
func (s *PostgresService) AcceptInvitation(ctx context.Context, token, userID, userEmail string) (*Member, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	inv := &Invitation{}
	err = tx.QueryRowContext(ctx, `
		SELECT id, organization_id, email, role, expires_at, accepted_at
		FROM organization_invitations
		WHERE token = $1
	`, token).Scan(&inv.ID, &inv.OrganizationID, &inv.Email, &inv.Role, &inv.ExpiresAt, &inv.AcceptedAt)
	if err == sql.ErrNoRows {
		return nil, ErrInvitationInvalid
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load invitation: %w", err)
	}

	if inv.AcceptedAt != nil || now.After(inv.ExpiresAt) {
		return nil, ErrInvitationInvalid
	}
	if inv.Email != strings.ToLower(strings.TrimSpace(userEmail)) {
		return nil, ErrInvitationInvalid
	}

	member := &Member{
		ID:             uuid.NewString(),
		OrganizationID: inv.OrganizationID,
		UserID:         userID,
		Role:           inv.Role,
		CreatedAt:      now,
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO organization_members (id, organization_id, user_id, role, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, member.ID, member.OrganizationID, member.UserID, member.Role, member.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("already a member of this organization")
		}
		return nil, fmt.Errorf("failed to create membership: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE organization_invitations
		SET accepted_at = $1, accepted_by = $2
		WHERE id = $3
	`, now, userID, inv.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to mark invitation accepted: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit invitation acceptance: %w", err)
	}

	return member, nil
}

// ListInvitations lists pending invitations for an organization
func (s *PostgresService) ListInvitations(ctx context.Context, orgID string) ([]*Invitation, error) {
	query := `
		SELECT id, organization_id, email, role, expires_at, accepted_at, accepted_by, created_at
		FROM organization_invitations
		WHERE organization_id = $1 AND accepted_at IS NULL
		ORDER BY created_at DESC
	`
	rows, err := s.db.QueryContext(ctx, query, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to list invitations: %w", err)
	}
	defer rows.Close()

	invitations := make([]*Invitation, 0)
	for rows.Next() {
		inv := &Invitation{}
		if err := rows.Scan(&inv.ID, &inv.OrganizationID, &inv.Email, &inv.Role,
			&inv.ExpiresAt, &inv.AcceptedAt, &inv.AcceptedBy, &inv.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan invitation: %w", err)
		}
		invitations = append(invitations, inv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate invitations: %w", err)
	}

	return invitations, nil
}

// CleanupExpiredInvitations deletes unaccepted invitations past their
// expiry. Returns the number of rows removed.
func (s *PostgresService) CleanupExpiredInvitations(ctx context.Context) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM organization_invitations
		WHERE accepted_at IS NULL AND expires_at < $1
	`, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup invitations: %w", err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count cleaned invitations: %w", err)
	}

	return deleted, nil
}
