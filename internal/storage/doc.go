// Package storage persists the recipient directory, pending approvals,
// scheduled broadcasts, and the audit log in a single SQLite database.
package storage
