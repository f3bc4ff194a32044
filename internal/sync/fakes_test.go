package sync

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"contact-sync/internal/carddav"
	"contact-sync/internal/common/logging"
	"contact-sync/internal/models"
)

// recLogger records log messages for assertions.
type recLogger struct {
	mu    sync.Mutex
	warns []string
}

func (l *recLogger) Debug(msg string, fields ...logging.Field) {}
func (l *recLogger) Info(msg string, fields ...logging.Field)  {}
func (l *recLogger) Warn(msg string, fields ...logging.Field) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.warns = append(l.warns, msg)
}
func (l *recLogger) Error(msg string, err error, fields ...logging.Field) {}
func (l *recLogger) WithFields(fields ...logging.Field) logging.Logger    { return l }

func (l *recLogger) warned(msg string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, w := range l.warns {
		if w == msg {
			return true
		}
	}
	return false
}

// sliceIter replays a fixed object list.
type sliceIter struct {
	objects []carddav.RemoteObject
	pos     int
}

func (it *sliceIter) Next(ctx context.Context) (*carddav.RemoteObject, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if it.pos >= len(it.objects) {
		return nil, io.EOF
	}
	obj := it.objects[it.pos]
	it.pos++
	return &obj, nil
}

// fakeClient is an in-memory directory server.
type fakeClient struct {
	books    []carddav.RemoteAddressBook
	objects  map[string][]carddav.RemoteObject
	listErr  error
	putCalls []carddav.RemoteObject
	putFail  map[string]carddav.UpdateResult // record URL -> forced result
	putErr   map[string]error
}

func (c *fakeClient) ListAddressBooks(ctx context.Context) ([]carddav.RemoteAddressBook, error) {
	if c.listErr != nil {
		return nil, c.listErr
	}
	return c.books, nil
}

func (c *fakeClient) Objects(addressBookURL string) carddav.ObjectIter {
	return &sliceIter{objects: c.objects[addressBookURL]}
}

func (c *fakeClient) Put(ctx context.Context, obj carddav.RemoteObject) (carddav.UpdateResult, error) {
	c.putCalls = append(c.putCalls, obj)
	if err, ok := c.putErr[obj.URL]; ok {
		return carddav.UpdateResult{}, err
	}
	if res, ok := c.putFail[obj.URL]; ok {
		return res, nil
	}
	return carddav.UpdateResult{OK: true, Status: 204}, nil
}

// fakeStorage is an in-memory storage adapter that records batch sizes
// and status transitions, with injectable batch failures.
type fakeStorage struct {
	statusLog   []models.ConnectionStatus
	lastError   string
	syncedAt    time.Time
	syncedCount int

	books   []*models.AddressBook
	persons map[string]models.Person
	groups  map[string]*models.Group

	batchSizes  []int
	failOnBatch int // 1-based batch ordinal to fail, 0 = never
	listErr     error
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{
		persons: map[string]models.Person{},
		groups:  map[string]*models.Group{},
	}
}

func (s *fakeStorage) Close() error                     { return nil }
func (s *fakeStorage) Health(ctx context.Context) error { return nil }

func (s *fakeStorage) CreateConnection(ctx context.Context, conn *models.Connection) error {
	return nil
}

func (s *fakeStorage) GetConnection(ctx context.Context, id string) (*models.Connection, error) {
	return nil, fmt.Errorf("connection %s not found", id)
}

func (s *fakeStorage) ListConnections(ctx context.Context) ([]*models.Connection, error) {
	return nil, nil
}

func (s *fakeStorage) SetConnectionStatus(ctx context.Context, id string, status models.ConnectionStatus, lastError string) error {
	s.statusLog = append(s.statusLog, status)
	s.lastError = lastError
	return nil
}

func (s *fakeStorage) MarkConnectionSynced(ctx context.Context, id string, at time.Time, contactCount int) error {
	s.statusLog = append(s.statusLog, models.StatusConnected)
	s.syncedAt = at
	s.syncedCount = contactCount
	return nil
}

func (s *fakeStorage) UpsertAddressBook(ctx context.Context, book *models.AddressBook) (string, error) {
	for _, b := range s.books {
		if b.RemoteURL == book.RemoteURL && b.ConnectionID == book.ConnectionID {
			b.DisplayName = book.DisplayName
			return b.ID, nil
		}
	}
	s.books = append(s.books, book)
	return book.ID, nil
}

func (s *fakeStorage) ListAddressBooks(ctx context.Context, connectionID string) ([]*models.AddressBook, error) {
	return s.books, nil
}

func (s *fakeStorage) UpsertPersons(ctx context.Context, persons []models.Person) error {
	s.batchSizes = append(s.batchSizes, len(persons))
	if s.failOnBatch > 0 && len(s.batchSizes) == s.failOnBatch {
		return fmt.Errorf("forced batch failure")
	}
	for _, p := range persons {
		s.persons[p.UID] = p
	}
	return nil
}

func (s *fakeStorage) ListPersons(ctx context.Context, connectionID string, uids []string) ([]models.Person, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	var out []models.Person
	if len(uids) > 0 {
		for _, uid := range uids {
			if p, ok := s.persons[uid]; ok {
				out = append(out, p)
			}
		}
		return out, nil
	}
	for _, p := range s.persons {
		out = append(out, p)
	}
	return out, nil
}

func (s *fakeStorage) CountPersons(ctx context.Context, connectionID string) (int, error) {
	return len(s.persons), nil
}

func (s *fakeStorage) UpsertGroup(ctx context.Context, group *models.Group) error {
	if len(s.persons) == 0 && len(s.batchSizes) == 0 {
		// Groups may never land before persons do.
		return fmt.Errorf("group persisted before persons")
	}
	s.groups[group.UID] = group
	return nil
}

func (s *fakeStorage) ReplaceMemberships(ctx context.Context, group *models.Group) error {
	s.groups[group.UID] = group
	return nil
}

func (s *fakeStorage) ListGroups(ctx context.Context, addressBookID string) ([]*models.Group, error) {
	var out []*models.Group
	for _, g := range s.groups {
		out = append(out, g)
	}
	return out, nil
}
