//go:build integration

package orgs

import (
	"context"
	"database/sql"
	"io"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/betterorg/betterorg/pkg/observability"
	"github.com/betterorg/betterorg/pkg/storage"
)

// setupPostgres starts a throwaway PostgreSQL container and migrates it.
// Skips when Docker is not available.
func setupPostgres(t *testing.T) *sql.DB {
	t.Helper()
	ctx := context.Background()

	provider, err := testcontainers.ProviderDocker.GetProvider()
	if err != nil {
		t.Skip("Docker not available, skipping integration tests")
	}
	defer provider.Close()

	container, err := postgres.Run(ctx, "postgres:15-alpine",
		postgres.WithDatabase("betterorg_test"),
		postgres.WithUsername("betterorg"),
		postgres.WithPassword("betterorg_test_password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
		postgres.BasicWaitStrategies(),
	)
	if err != nil {
		t.Skipf("Failed to start PostgreSQL container: %v", err)
	}
	t.Cleanup(func() {
		cleanupCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := container.Terminate(cleanupCtx); err != nil {
			t.Errorf("Failed to terminate container: %v", err)
		}
	})

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := sql.Open("postgres", connStr)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.Ping())

	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)
	require.NoError(t, storage.Migrate(ctx, db, logger))
	return db
}

func TestCreateOrganizationPostgres(t *testing.T) {
	db := setupPostgres(t)
	svc := NewPostgresService(db)
	ctx := context.Background()

	org, err := svc.CreateOrganization(ctx, "user-1", &CreateOrganizationRequest{
		Name: "Acme Corp",
		Slug: "acme",
	})
	require.NoError(t, err)
	assert.Equal(t, "acme", org.Slug)

	member, err := svc.GetMember(ctx, org.ID, "user-1")
	require.NoError(t, err)
	assert.Equal(t, RoleOwner, member.Role)

	// Unique violation maps through the real pq error code
	_, err = svc.CreateOrganization(ctx, "user-2", &CreateOrganizationRequest{
		Name: "Other Acme",
		Slug: "acme",
	})
	assert.ErrorIs(t, err, ErrSlugTaken)
}

func TestCreateOrganizationAtomicPostgres(t *testing.T) {
	db := setupPostgres(t)
	svc := NewPostgresService(db)
	ctx := context.Background()

	// Break the member insert so the whole transaction rolls back
	_, err := db.Exec(`ALTER TABLE organization_members DROP COLUMN role`)
	require.NoError(t, err)

	_, err = svc.CreateOrganization(ctx, "user-1", &CreateOrganizationRequest{
		Name: "Acme Corp",
		Slug: "acme",
	})
	require.Error(t, err)

	var count int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM organizations`).Scan(&count))
	assert.Equal(t, 0, count, "organization row must not survive a failed member insert")
}

func TestInvitationLifecyclePostgres(t *testing.T) {
	db := setupPostgres(t)
	svc := NewPostgresService(db)
	ctx := context.Background()

	org, err := svc.CreateOrganization(ctx, "user-1", &CreateOrganizationRequest{
		Name: "Acme Corp",
		Slug: "acme",
	})
	require.NoError(t, err)

	invitation, err := svc.CreateInvitation(ctx, org.ID, "bob@example.com", RoleMember)
	require.NoError(t, err)
	require.NotEmpty(t, invitation.Token)

	member, err := svc.AcceptInvitation(ctx, invitation.Token, "user-2", "bob@example.com")
	require.NoError(t, err)
	assert.Equal(t, RoleMember, member.Role)

	// Accepted invitations cannot be replayed
	_, err = svc.AcceptInvitation(ctx, invitation.Token, "user-3", "bob@example.com")
	assert.ErrorIs(t, err, ErrInvitationInvalid)
}
