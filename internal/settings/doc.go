// Package settings stores per-user client settings for Seedgate.
//
// Every user gets an isolated SQLite file at
// <root>/<userID>/settings/settings.db holding one row per setting id. Rows
// are upserted, so there is at most one entry per (user, id). Handles are
// opened on first use and cached for the life of the process by a
// HandleManager.
//
// Reads pass through MigrateLegacyKeys, which rewrites field names used by
// older clients to their current names. Stored data is never rewritten.
package settings
