package sync

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"

	"contact-sync/internal/carddav"
	"contact-sync/internal/common/logging"
	"contact-sync/internal/contentstore"
	"contact-sync/internal/models"
	"contact-sync/internal/storage"
	"contact-sync/internal/vcard"
)

// DefaultBatchSize is the number of persons persisted per upsert batch.
// Batching bounds peak memory and statement size, not correctness.
const DefaultBatchSize = 50

// Puller imports one connection's remote address books into local
// storage. A pass is sequential: the remote protocol is only assumed
// safe under serialized access.
type Puller struct {
	client    carddav.Client
	store     storage.Storage
	photos    *contentstore.Store
	converter *carddav.Converter
	logger    logging.Logger
	batchSize int
}

// NewPuller wires a pull reconciler. The photo store may be nil, in
// which case photos stay embedded in the persisted person.
func NewPuller(client carddav.Client, store storage.Storage, photos *contentstore.Store, logger logging.Logger) *Puller {
	return &Puller{
		client:    client,
		store:     store,
		photos:    photos,
		converter: carddav.NewConverter(logger),
		logger:    logger,
		batchSize: DefaultBatchSize,
	}
}

// Sync runs one full pull pass for the connection. On any unrecovered
// error the connection is marked errored and the pass stops; prior
// persisted batches stay. On success the connection is stamped with the
// sync time and person count.
func (p *Puller) Sync(ctx context.Context, conn *models.Connection) (*Summary, error) {
	summary := &Summary{}
	if err := p.store.SetConnectionStatus(ctx, conn.ID, models.StatusSyncing, ""); err != nil {
		return summary, fmt.Errorf("failed to mark connection syncing: %w", err)
	}

	books, err := p.client.ListAddressBooks(ctx)
	if err != nil {
		return summary, p.fail(ctx, conn, summary, fmt.Errorf("failed to list address books: %w", err))
	}
	p.logger.Info("pull pass started",
		logging.String("connection", conn.ID),
		logging.Int("address_books", len(books)))

	for _, book := range books {
		if err := ctx.Err(); err != nil {
			return summary, p.fail(ctx, conn, summary, err)
		}
		bookID, err := p.store.UpsertAddressBook(ctx, &models.AddressBook{
			ID:           uuid.NewString(),
			DisplayName:  book.DisplayName,
			RemoteURL:    book.URL,
			ConnectionID: conn.ID,
		})
		if err != nil {
			return summary, p.fail(ctx, conn, summary, err)
		}
		if err := p.syncBook(ctx, conn, bookID, book, summary); err != nil {
			return summary, p.fail(ctx, conn, summary, err)
		}
	}

	count, err := p.store.CountPersons(ctx, conn.ID)
	if err != nil {
		return summary, p.fail(ctx, conn, summary, err)
	}
	if err := p.store.MarkConnectionSynced(ctx, conn.ID, time.Now().UTC(), count); err != nil {
		return summary, fmt.Errorf("failed to mark connection synced: %w", err)
	}
	p.logger.Info("pull pass finished",
		logging.String("connection", conn.ID),
		logging.Int("persons", summary.OKCount()),
		logging.Int("skipped", summary.SkippedCount()))
	return summary, nil
}

// syncBook drives one address book: parse and classify every remote
// record, persist persons in batches, then persist groups and their
// membership rows. Membership rows reference person identifiers, so the
// ordering is load-bearing.
func (p *Puller) syncBook(ctx context.Context, conn *models.Connection, bookID string, book carddav.RemoteAddressBook, summary *Summary) error {
	now := time.Now().UTC()
	var persons []models.Person
	var groups []models.Group
	seen := map[string]bool{}

	iter := p.client.Objects(book.URL)
	for {
		obj, err := iter.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to list records of %s: %w", book.URL, err)
		}
		for _, card := range vcard.Parse(obj.Raw) {
			kind, err := vcard.Classify(card)
			if err != nil {
				p.logger.Warn("skipping unclassifiable record",
					logging.String("url", obj.URL), logging.Err(err))
				summary.skip("", "unclassifiable record", err)
				continue
			}
			switch kind {
			case vcard.KindContactGroup:
				group, err := p.converter.ToGroup(card)
				if err != nil {
					p.logger.Warn("skipping malformed group",
						logging.String("url", obj.URL), logging.Err(err))
					summary.skip("", "malformed group", err)
					continue
				}
				group.AddressBookID = bookID
				group.ConnectionID = conn.ID
				groups = append(groups, group.WithUpdatedAt(now))
			case vcard.KindPerson:
				person, err := p.converter.ToPerson(ctx, card)
				if err != nil {
					p.logger.Warn("skipping malformed record",
						logging.String("url", obj.URL), logging.Err(err))
					summary.skip("", "malformed record", err)
					continue
				}
				if seen[person.UID] {
					// Data-quality signal, not an error.
					p.logger.Warn("duplicate person identifier in address book",
						logging.String("uid", person.UID),
						logging.String("address_book", book.URL))
				}
				seen[person.UID] = true
				person.AddressBookID = bookID
				person.ConnectionID = conn.ID
				p.storePhotos(ctx, conn, &person)
				persons = append(persons, person)
			}
		}
	}

	for start := 0; start < len(persons); start += p.batchSize {
		if err := ctx.Err(); err != nil {
			return err
		}
		end := start + p.batchSize
		if end > len(persons) {
			end = len(persons)
		}
		batch := persons[start:end]
		if err := p.store.UpsertPersons(ctx, batch); err != nil {
			summary.fatal("", err)
			return fmt.Errorf("failed to persist batch of %d persons: %w", len(batch), err)
		}
		for _, person := range batch {
			summary.ok(person.UID)
		}
	}

	for i := range groups {
		group := &groups[i]
		if err := p.store.UpsertGroup(ctx, group); err != nil {
			summary.fatal(group.UID, err)
			return fmt.Errorf("failed to persist group %s: %w", group.UID, err)
		}
		if err := p.store.ReplaceMemberships(ctx, group); err != nil {
			summary.fatal(group.UID, err)
			return fmt.Errorf("failed to persist memberships of %s: %w", group.UID, err)
		}
		summary.ok(group.UID)
	}
	return nil
}

// storePhotos uploads every embedded photo payload through the content
// store and backfills missing placeholders. A single photo failure is
// logged and skipped, never aborts the person.
func (p *Puller) storePhotos(ctx context.Context, conn *models.Connection, person *models.Person) {
	if p.photos == nil {
		return
	}
	for i := range person.Photos {
		photo := &person.Photos[i]
		if !photo.Embedded() {
			continue
		}
		if photo.Placeholder == "" {
			photo.Placeholder = contentstore.Thumbnail(photo.Data)
		}
		key := photoKey(conn.ID, person.UID, i)
		contentType := photo.MediaType
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		stored, err := p.photos.EnsureStored(ctx, key, photo.Data, contentType)
		if err != nil {
			p.logger.Warn("failed to store photo",
				logging.String("uid", person.UID),
				logging.String("key", key),
				logging.Err(err))
			continue
		}
		if stored {
			p.logger.Debug("photo uploaded",
				logging.String("uid", person.UID), logging.String("key", key))
		}
		// The payload now lives in the blob store; the persisted person
		// keeps only the reference and the placeholder.
		photo.URL = key
		photo.Data = nil
	}
}

func photoKey(connectionID, uid string, index int) string {
	return fmt.Sprintf("contacts/%s/%s/photo-%d", connectionID, strings.ToLower(uid), index)
}

// fail marks the connection errored, keeping whatever already landed.
func (p *Puller) fail(ctx context.Context, conn *models.Connection, summary *Summary, cause error) error {
	p.logger.Error("pull pass aborted", cause, logging.String("connection", conn.ID))
	// The status write must land even when the pass died of cancellation.
	ctx = context.WithoutCancel(ctx)
	if err := p.store.SetConnectionStatus(ctx, conn.ID, models.StatusError, cause.Error()); err != nil {
		p.logger.Error("failed to mark connection errored", err,
			logging.String("connection", conn.ID))
	}
	return cause
}
