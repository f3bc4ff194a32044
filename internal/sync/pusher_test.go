package sync

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"contact-sync/internal/carddav"
	"contact-sync/internal/contentstore"
	"contact-sync/internal/models"
)

const remoteBookURL = "https://dav.example.com/dav/addressbooks/user/default/"

func seedPushFixtures(store *fakeStorage, uids ...string) {
	store.books = []*models.AddressBook{{
		ID:           "book-1",
		RemoteURL:    remoteBookURL,
		ConnectionID: "conn-1",
	}}
	for _, uid := range uids {
		store.persons[uid] = models.Person{
			UID:           uid,
			FullName:      "Person " + uid,
			UpdatedAt:     time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC),
			AddressBookID: "book-1",
			ConnectionID:  "conn-1",
		}
	}
}

func TestPushWritesSerializedRecords(t *testing.T) {
	client := &fakeClient{}
	store := newFakeStorage()
	seedPushFixtures(store, "uid-ada")
	pusher := NewPusher(client, store, nil, &recLogger{})

	summary, err := pusher.Push(context.Background(), testConnection(), []string{"uid-ada"})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.OKCount())

	require.Len(t, client.putCalls, 1)
	obj := client.putCalls[0]
	assert.Equal(t, remoteBookURL+"uid-ada.vcf", obj.URL)
	assert.True(t, strings.HasPrefix(obj.Raw, "BEGIN:VCARD\r\n"))
	assert.Contains(t, obj.Raw, "UID:uid-ada\r\n")
	assert.Contains(t, obj.Raw, "FN:Person uid-ada\r\n")
	assert.True(t, strings.HasSuffix(obj.Raw, "END:VCARD\r\n"))
}

func TestPushContinuesPastFailedItem(t *testing.T) {
	client := &fakeClient{
		putFail: map[string]carddav.UpdateResult{
			remoteBookURL + "uid-2.vcf": {OK: false, Status: 500},
		},
	}
	store := newFakeStorage()
	seedPushFixtures(store, "uid-1", "uid-2", "uid-3")
	pusher := NewPusher(client, store, nil, &recLogger{})

	summary, err := pusher.Push(context.Background(), testConnection(), []string{"uid-1", "uid-2", "uid-3"})
	require.NoError(t, err)

	// The failed second item never stops the third.
	require.Len(t, client.putCalls, 3)
	assert.Equal(t, remoteBookURL+"uid-3.vcf", client.putCalls[2].URL)
	assert.Equal(t, 2, summary.OKCount())
	assert.Equal(t, 1, summary.SkippedCount())
	assert.False(t, summary.Failed())
}

func TestPushContinuesPastTransportError(t *testing.T) {
	client := &fakeClient{
		putErr: map[string]error{
			remoteBookURL + "uid-2.vcf": fmt.Errorf("connection reset"),
		},
	}
	store := newFakeStorage()
	seedPushFixtures(store, "uid-1", "uid-2", "uid-3")
	pusher := NewPusher(client, store, nil, &recLogger{})

	summary, err := pusher.Push(context.Background(), testConnection(), []string{"uid-1", "uid-2", "uid-3"})
	require.NoError(t, err)
	assert.Len(t, client.putCalls, 3)
	assert.Equal(t, 2, summary.OKCount())
	assert.Equal(t, 1, summary.SkippedCount())
}

func TestPushReadFailureAborts(t *testing.T) {
	client := &fakeClient{}
	store := newFakeStorage()
	store.listErr = fmt.Errorf("database is locked")
	pusher := NewPusher(client, store, nil, &recLogger{})

	_, err := pusher.Push(context.Background(), testConnection(), nil)
	require.Error(t, err)
	assert.Empty(t, client.putCalls)
}

func TestPushReembedsStoredPhotos(t *testing.T) {
	client := &fakeClient{}
	store := newFakeStorage()
	seedPushFixtures(store, "uid-photo")

	key := "contacts/conn-1/uid-photo/photo-0"
	person := store.persons["uid-photo"]
	person.Photos = []models.Photo{{URL: key, MediaType: "image/jpeg"}}
	store.persons["uid-photo"] = person

	blobs := newMemBlobStore()
	blobs.data[key] = []byte("hello")
	photos := contentstore.New(blobs, &recLogger{})
	pusher := NewPusher(client, store, photos, &recLogger{})

	summary, err := pusher.Push(context.Background(), testConnection(), []string{"uid-photo"})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.OKCount())

	require.Len(t, client.putCalls, 1)
	raw := client.putCalls[0].Raw
	assert.Contains(t, raw, "PHOTO;ENCODING=b;MEDIATYPE=image/jpeg:aGVsbG8=\r\n")
	assert.NotContains(t, raw, "contacts/")
}

func TestPushRemotePhotoURLPassesThrough(t *testing.T) {
	client := &fakeClient{}
	store := newFakeStorage()
	seedPushFixtures(store, "uid-photo")

	person := store.persons["uid-photo"]
	person.Photos = []models.Photo{{URL: "https://photos.example.com/ada.jpg", MediaType: "image/jpeg"}}
	store.persons["uid-photo"] = person
	pusher := NewPusher(client, store, nil, &recLogger{})

	_, err := pusher.Push(context.Background(), testConnection(), []string{"uid-photo"})
	require.NoError(t, err)
	require.Len(t, client.putCalls, 1)
	assert.Contains(t, client.putCalls[0].Raw, "https://photos.example.com/ada.jpg")
}

func TestPushDropsStoredPhotoWithoutStore(t *testing.T) {
	client := &fakeClient{}
	store := newFakeStorage()
	seedPushFixtures(store, "uid-photo")

	person := store.persons["uid-photo"]
	person.Photos = []models.Photo{{URL: "contacts/conn-1/uid-photo/photo-0", MediaType: "image/jpeg"}}
	store.persons["uid-photo"] = person

	logger := &recLogger{}
	pusher := NewPusher(client, store, nil, logger)

	summary, err := pusher.Push(context.Background(), testConnection(), []string{"uid-photo"})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.OKCount())

	require.Len(t, client.putCalls, 1)
	raw := client.putCalls[0].Raw
	assert.NotContains(t, raw, "PHOTO")
	assert.NotContains(t, raw, "contacts/")
	assert.True(t, logger.warned("no photo store to resolve stored photo, dropping from record"))
}

func TestPushUppercaseIdentifierRoundTrips(t *testing.T) {
	client := &fakeClient{}
	store := newFakeStorage()
	store.books = []*models.AddressBook{{ID: "book-1", RemoteURL: remoteBookURL, ConnectionID: "conn-1"}}
	store.persons["uid-ada"] = models.Person{
		UID:           "uid-ada",
		UIDUpper:      true,
		FullName:      "Ada",
		AddressBookID: "book-1",
		ConnectionID:  "conn-1",
	}
	pusher := NewPusher(client, store, nil, &recLogger{})

	_, err := pusher.Push(context.Background(), testConnection(), []string{"uid-ada"})
	require.NoError(t, err)
	require.Len(t, client.putCalls, 1)
	assert.Equal(t, remoteBookURL+"UID-ADA.vcf", client.putCalls[0].URL)
	assert.Contains(t, client.putCalls[0].Raw, "UID:UID-ADA\r\n")
}
