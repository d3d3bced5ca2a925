// Package stores provides the persistence layer for provisor.
// It includes SQLite-based storage with WAL mode, connection pooling,
// embedded migrations, and CRUD operations for entity state records
// and the invocation log.
package stores
