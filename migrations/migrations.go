// Package migrations embeds SQL migration files for supported databases.
//
// Separate embed.FS per database type allows driver-specific SQL while
// keeping the migration runner generic. Files apply in lexicographic order;
// see internal/queue/migrate.go for execution.
package migrations

import "embed"

// SqliteMigrations contains SQLite-specific migration files.
//
//go:embed sqlite/*.sql
var SqliteMigrations embed.FS

// PostgresMigrations contains PostgreSQL-specific migration files.
//
//go:embed postgres/*.sql
var PostgresMigrations embed.FS
