// Package carddav talks to remote directory servers: listing address
// books, streaming raw contact records, pushing edits back, and
// converting between wire cards and domain models.
package carddav

import (
	"context"
)

// RemoteAddressBook is one address-book collection on the server.
type RemoteAddressBook struct {
	URL         string
	DisplayName string
}

// RemoteObject is one raw record on the server.
type RemoteObject struct {
	URL  string
	Raw  string
	ETag string
}

// UpdateResult reports the outcome of a single record push.
type UpdateResult struct {
	OK     bool
	Status int
}

// ObjectIter is a lazy, finite sequence of remote records. The caller
// drives it one object at a time; cancellation is simply not calling
// Next again. Iterators restart only from the beginning, by requesting
// a fresh one.
type ObjectIter interface {
	// Next returns the next record, or io.EOF when the sequence is
	// exhausted.
	Next(ctx context.Context) (*RemoteObject, error)
}

// Client is the directory-server collaborator contract. The wire text
// format of RemoteObject.Raw is exactly what the vcard package codecs.
type Client interface {
	ListAddressBooks(ctx context.Context) ([]RemoteAddressBook, error)
	Objects(addressBookURL string) ObjectIter
	Put(ctx context.Context, obj RemoteObject) (UpdateResult, error)
}
