// Package storage persists tracked accounts, captured posts, chats and
// subscriptions in a single SQLite database.
//
// The connection pool is capped at one open connection, so every write is
// serialized; combined with WAL mode this gives the pipeline and the command
// layer a simple read-committed view without explicit row locking.
package storage
