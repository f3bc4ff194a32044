package sync

import (
	"context"
	"fmt"
	"strings"

	"contact-sync/internal/carddav"
	"contact-sync/internal/common/logging"
	"contact-sync/internal/contentstore"
	"contact-sync/internal/models"
	"contact-sync/internal/storage"
	"contact-sync/internal/vcard"
)

// Pusher exports local person edits back to the remote directory
// server. Push is best effort: a failed item is logged and the loop
// moves on, there is no retry and no batch abort.
type Pusher struct {
	client    carddav.Client
	store     storage.Storage
	photos    *contentstore.Store
	converter *carddav.Converter
	logger    logging.Logger
}

// NewPusher wires a push reconciler. The photo store resolves photos
// whose payload was offloaded to blob storage during a pull; it may be
// nil when no store is configured.
func NewPusher(client carddav.Client, store storage.Storage, photos *contentstore.Store, logger logging.Logger) *Pusher {
	return &Pusher{
		client:    client,
		store:     store,
		photos:    photos,
		converter: carddav.NewConverter(logger),
		logger:    logger,
	}
}

// Push writes the connection's local persons to the server, optionally
// restricted to an explicit identifier list.
func (p *Pusher) Push(ctx context.Context, conn *models.Connection, uids []string) (*Summary, error) {
	summary := &Summary{}

	persons, err := p.store.ListPersons(ctx, conn.ID, uids)
	if err != nil {
		return summary, fmt.Errorf("failed to read local persons: %w", err)
	}
	bookURLs, err := p.bookURLs(ctx, conn.ID)
	if err != nil {
		return summary, err
	}

	for i := range persons {
		person := &persons[i]
		remoteURL, ok := bookURLs[person.AddressBookID]
		if !ok {
			p.logger.Warn("person has no known address book, skipping",
				logging.String("uid", person.UID))
			summary.skip(person.UID, "unknown address book", nil)
			continue
		}
		p.resolvePhotos(ctx, person)
		card := p.converter.FromPerson(*person)
		obj := carddav.RemoteObject{
			URL: recordURL(remoteURL, person.WireUID()),
			Raw: vcard.Serialize(card),
		}
		result, err := p.client.Put(ctx, obj)
		if err != nil {
			p.logger.Warn("failed to push person, continuing",
				logging.String("uid", person.UID), logging.Err(err))
			summary.skip(person.UID, "remote write failed", err)
			continue
		}
		if !result.OK {
			p.logger.Warn("remote rejected person, continuing",
				logging.String("uid", person.UID),
				logging.Int("status", result.Status))
			summary.skip(person.UID, fmt.Sprintf("remote returned %d", result.Status), nil)
			continue
		}
		summary.ok(person.UID)
	}

	p.logger.Info("push pass finished",
		logging.String("connection", conn.ID),
		logging.Int("pushed", summary.OKCount()),
		logging.Int("skipped", summary.SkippedCount()))
	return summary, nil
}

func (p *Pusher) bookURLs(ctx context.Context, connectionID string) (map[string]string, error) {
	books, err := p.store.ListAddressBooks(ctx, connectionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list address books: %w", err)
	}
	urls := make(map[string]string, len(books))
	for _, book := range books {
		urls[book.ID] = book.RemoteURL
	}
	return urls, nil
}

// resolvePhotos re-embeds photos whose payload was offloaded to blob
// storage during a pull, so the wire record never carries an internal
// storage key. A photo that cannot be resolved is dropped from the
// outgoing card rather than leaked.
func (p *Pusher) resolvePhotos(ctx context.Context, person *models.Person) {
	resolved := make([]models.Photo, 0, len(person.Photos))
	for _, photo := range person.Photos {
		if photo.Embedded() || isRemoteURL(photo.URL) {
			resolved = append(resolved, photo)
			continue
		}
		if p.photos == nil {
			p.logger.Warn("no photo store to resolve stored photo, dropping from record",
				logging.String("uid", person.UID), logging.String("key", photo.URL))
			continue
		}
		data, err := p.photos.Download(ctx, photo.URL)
		if err != nil {
			p.logger.Warn("failed to resolve stored photo, dropping from record",
				logging.String("uid", person.UID),
				logging.String("key", photo.URL), logging.Err(err))
			continue
		}
		photo.Data = data
		photo.URL = ""
		resolved = append(resolved, photo)
	}
	person.Photos = resolved
}

func isRemoteURL(value string) bool {
	lower := strings.ToLower(value)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}

func recordURL(bookURL, wireUID string) string {
	return strings.TrimSuffix(bookURL, "/") + "/" + wireUID + ".vcf"
}
