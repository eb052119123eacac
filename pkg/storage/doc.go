// Package storage opens the backing stores and owns the database schema.
// Migrations are plain SQL applied in version order and tracked in a
// schema_migrations table, so startup is idempotent.
package storage
