// Package migration applies versioned schema migrations to the SQL backed
// stores.
//
// Migration files are read from an fs.FS (usually an embed.FS owned by the
// store package) and must follow the naming convention
// {version}_{description}.sql, for example 001_initial_schema.sql. Applied
// versions are tracked in the schema_migrations table so every file runs at
// most once per database.
package migration
