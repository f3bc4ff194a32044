// Package models defines the domain types shared by the codec,
// reconcilers and storage adapters: persons, contact groups, address
// books and sync connections.
//
// The types are plain values. Mutation happens by constructing an
// updated copy (see WithUpdatedAt) rather than through setters, so
// nothing touches timestamps behind the caller's back.
package models

import (
	"fmt"
	"strings"
	"time"

	"contact-sync/internal/vcard"
)

// UnknownBirthYear is the placeholder year stored for birthdays whose
// year the directory server does not know. The wire format renders such
// dates with a two-character sentinel in place of the year.
const UnknownBirthYear = 1604

// ConnectionStatus is the lifecycle state of a sync connection.
type ConnectionStatus string

const (
	StatusConnected ConnectionStatus = "connected"
	StatusSyncing   ConnectionStatus = "syncing"
	StatusError     ConnectionStatus = "error"
)

// Connection is one configured remote directory-server account.
type Connection struct {
	ID        string
	Name      string
	ServerURL string
	Username  string
	Password  string

	Status       ConnectionStatus
	LastError    string
	LastSyncedAt *time.Time
	ContactCount int
	CreatedAt    time.Time
}

// AddressBook is a named container of persons and groups owned by one
// remote connection. The (RemoteURL, ConnectionID) pair is its natural
// key, so repeated syncs converge on the same row.
type AddressBook struct {
	ID           string
	DisplayName  string
	RemoteURL    string
	ConnectionID string
	CreatedAt    time.Time
}

// Photo is either an embedded binary payload with its media type or a
// remote URL reference, never both, plus a derived low-resolution
// placeholder.
type Photo struct {
	Data        []byte
	URL         string
	MediaType   string
	Placeholder string
}

// Embedded reports whether the photo carries an inline payload.
func (p Photo) Embedded() bool {
	return len(p.Data) > 0
}

// Validate enforces the exactly-one-of invariant.
func (p Photo) Validate() error {
	if p.Embedded() == (p.URL != "") {
		return fmt.Errorf("photo must carry exactly one of embedded payload or remote URL")
	}
	return nil
}

// Person is the domain projection of a card classified as an
// individual. Address, email and phone properties are kept raw; callers
// interpret TYPE parameters downstream.
type Person struct {
	// UID is the record identifier, normalized to lowercase. UIDUpper
	// remembers that the server spelled it uppercased, so case-sensitive
	// servers round-trip exactly; see WireUID.
	UID      string
	UIDUpper bool

	FullName  string
	Addresses []*vcard.Property
	Emails    []*vcard.Property
	Phones    []*vcard.Property
	Photos    []Photo

	Organization string
	Title        string
	Role         string

	// LinkedInRef is the cross-reference to an external
	// professional-network profile, e.g. "in/alovelace".
	LinkedInRef string

	// Birthday uses UnknownBirthYear when only month and day are known.
	// The zero value means no birthday.
	Birthday time.Time

	UpdatedAt     time.Time
	AddressBookID string
	ConnectionID  string
}

// WireUID returns the identifier as the server spelled it.
func (p Person) WireUID() string {
	if p.UIDUpper {
		return strings.ToUpper(p.UID)
	}
	return p.UID
}

// WithUpdatedAt returns a copy with the modification stamp set.
func (p Person) WithUpdatedAt(now time.Time) Person {
	p.UpdatedAt = now
	return p
}

// NormalizeUID lowercases an identifier and reports whether the
// original spelling was uppercase.
func NormalizeUID(raw string) (string, bool) {
	upper := raw != "" && raw == strings.ToUpper(raw) && raw != strings.ToLower(raw)
	return strings.ToLower(raw), upper
}

// protectedGroupUIDs are well-known collection identifiers that are
// never mutated locally, such as the VIP list.
var protectedGroupUIDs = map[string]bool{
	"vip":       true,
	"favorites": true,
}

// ProtectedGroupUID reports whether a group identifier belongs to the
// read-only allow-list, compared case-insensitively.
func ProtectedGroupUID(uid string) bool {
	return protectedGroupUIDs[strings.ToLower(uid)]
}

// Group is a directory-server-level contact group: an ordered member
// list referencing Person identifiers. Distinct from the wire-grouping
// label mechanism inside a single card.
type Group struct {
	UID         string
	Name        string
	Description string
	MemberUIDs  []string
	ReadOnly    bool

	AddressBookID string
	ConnectionID  string
	UpdatedAt     time.Time
}

// WithUpdatedAt returns a copy with the modification stamp set.
func (g Group) WithUpdatedAt(now time.Time) Group {
	g.UpdatedAt = now
	return g
}
