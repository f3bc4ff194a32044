// Package storage defines the persistence contract for synced contact
// data. Adapters exist for SQLite and PostgreSQL; both use upsert-by-
// natural-key semantics so repeated sync passes converge on the same
// rows instead of duplicating them.
package storage

import (
	"context"
	"time"

	"contact-sync/internal/models"
)

// Storage is the persistence collaborator used by the reconcilers.
//
// Natural keys: address books conflict on (remote URL, connection id),
// contacts on their identifier, groups on (identifier, address book),
// membership rows on the (member, group, address book) triple.
type Storage interface {
	Close() error
	Health(ctx context.Context) error

	// Connections.
	CreateConnection(ctx context.Context, conn *models.Connection) error
	GetConnection(ctx context.Context, id string) (*models.Connection, error)
	ListConnections(ctx context.Context) ([]*models.Connection, error)
	// SetConnectionStatus records a status transition; lastError is
	// cleared on non-error states.
	SetConnectionStatus(ctx context.Context, id string, status models.ConnectionStatus, lastError string) error
	// MarkConnectionSynced records a successful pass: status connected,
	// last-synced stamp and total person count.
	MarkConnectionSynced(ctx context.Context, id string, at time.Time, contactCount int) error

	// Address books.
	UpsertAddressBook(ctx context.Context, book *models.AddressBook) (string, error)
	ListAddressBooks(ctx context.Context, connectionID string) ([]*models.AddressBook, error)

	// Persons. UpsertPersons writes one batch atomically: it either
	// lands entirely or not at all.
	UpsertPersons(ctx context.Context, persons []models.Person) error
	// ListPersons returns persons of one connection, optionally
	// restricted to an explicit identifier list.
	ListPersons(ctx context.Context, connectionID string, uids []string) ([]models.Person, error)
	CountPersons(ctx context.Context, connectionID string) (int, error)

	// Groups and memberships. Membership rows reference person
	// identifiers, so callers persist persons first.
	UpsertGroup(ctx context.Context, group *models.Group) error
	ReplaceMemberships(ctx context.Context, group *models.Group) error
	ListGroups(ctx context.Context, addressBookID string) ([]*models.Group, error)
}

// Config selects and configures a storage adapter.
type Config struct {
	// Type is "sqlite" or "postgres".
	Type string
	// Path is the SQLite database file path.
	Path string
	// DSN is the PostgreSQL connection string.
	DSN string
}
