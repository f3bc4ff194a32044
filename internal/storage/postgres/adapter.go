// Package postgres implements the storage contract on PostgreSQL via
// pgx. Schema mirrors the sqlite adapter; structured properties live in
// JSONB columns.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"contact-sync/internal/models"
	"contact-sync/internal/vcard"
)

const schema = `
CREATE TABLE IF NOT EXISTS connections (
	id             TEXT PRIMARY KEY,
	name           TEXT NOT NULL,
	server_url     TEXT NOT NULL,
	username       TEXT NOT NULL,
	password       TEXT NOT NULL,
	status         TEXT NOT NULL DEFAULT 'connected',
	last_error     TEXT NOT NULL DEFAULT '',
	last_synced_at TIMESTAMPTZ,
	contact_count  INTEGER NOT NULL DEFAULT 0,
	created_at     TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS address_books (
	id            TEXT PRIMARY KEY,
	display_name  TEXT NOT NULL,
	remote_url    TEXT NOT NULL,
	connection_id TEXT NOT NULL REFERENCES connections(id),
	created_at    TIMESTAMPTZ NOT NULL,
	UNIQUE (remote_url, connection_id)
);

CREATE TABLE IF NOT EXISTS contacts (
	uid             TEXT PRIMARY KEY,
	uid_upper       BOOLEAN NOT NULL DEFAULT FALSE,
	full_name       TEXT NOT NULL,
	addresses       JSONB NOT NULL DEFAULT '[]',
	emails          JSONB NOT NULL DEFAULT '[]',
	phones          JSONB NOT NULL DEFAULT '[]',
	photos          JSONB NOT NULL DEFAULT '[]',
	organization    TEXT NOT NULL DEFAULT '',
	title           TEXT NOT NULL DEFAULT '',
	role            TEXT NOT NULL DEFAULT '',
	linkedin_ref    TEXT NOT NULL DEFAULT '',
	birthday        TIMESTAMPTZ,
	updated_at      TIMESTAMPTZ NOT NULL,
	address_book_id TEXT NOT NULL,
	connection_id   TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_contacts_connection ON contacts(connection_id);

CREATE TABLE IF NOT EXISTS contact_groups (
	uid             TEXT NOT NULL,
	address_book_id TEXT NOT NULL,
	name            TEXT NOT NULL,
	description     TEXT NOT NULL DEFAULT '',
	read_only       BOOLEAN NOT NULL DEFAULT FALSE,
	connection_id   TEXT NOT NULL,
	updated_at      TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (uid, address_book_id)
);

CREATE TABLE IF NOT EXISTS memberships (
	member_uid      TEXT NOT NULL,
	group_uid       TEXT NOT NULL,
	address_book_id TEXT NOT NULL,
	PRIMARY KEY (member_uid, group_uid, address_book_id)
);
`

// Adapter is the PostgreSQL-backed storage implementation.
type Adapter struct {
	pool *pgxpool.Pool
}

// NewAdapter connects to the database and applies the schema.
func NewAdapter(ctx context.Context, dsn string) (*Adapter, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return &Adapter{pool: pool}, nil
}

func (a *Adapter) Close() error {
	a.pool.Close()
	return nil
}

func (a *Adapter) Health(ctx context.Context) error {
	return a.pool.Ping(ctx)
}

func (a *Adapter) CreateConnection(ctx context.Context, conn *models.Connection) error {
	if conn.CreatedAt.IsZero() {
		conn.CreatedAt = time.Now().UTC()
	}
	if conn.Status == "" {
		conn.Status = models.StatusConnected
	}
	_, err := a.pool.Exec(ctx, `
		INSERT INTO connections (id, name, server_url, username, password, status, last_error, contact_count, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		conn.ID, conn.Name, conn.ServerURL, conn.Username, conn.Password,
		string(conn.Status), conn.LastError, conn.ContactCount, conn.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create connection: %w", err)
	}
	return nil
}

func (a *Adapter) GetConnection(ctx context.Context, id string) (*models.Connection, error) {
	row := a.pool.QueryRow(ctx, `
		SELECT id, name, server_url, username, password, status, last_error, last_synced_at, contact_count, created_at
		FROM connections WHERE id = $1`, id)
	conn, err := scanConnection(row)
	if err == pgx.ErrNoRows {
		return nil, fmt.Errorf("connection %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get connection: %w", err)
	}
	return conn, nil
}

func (a *Adapter) ListConnections(ctx context.Context) ([]*models.Connection, error) {
	rows, err := a.pool.Query(ctx, `
		SELECT id, name, server_url, username, password, status, last_error, last_synced_at, contact_count, created_at
		FROM connections ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to list connections: %w", err)
	}
	defer rows.Close()

	var conns []*models.Connection
	for rows.Next() {
		conn, err := scanConnection(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan connection: %w", err)
		}
		conns = append(conns, conn)
	}
	return conns, rows.Err()
}

func (a *Adapter) SetConnectionStatus(ctx context.Context, id string, status models.ConnectionStatus, lastError string) error {
	if status != models.StatusError {
		lastError = ""
	}
	tag, err := a.pool.Exec(ctx, `
		UPDATE connections SET status = $1, last_error = $2 WHERE id = $3`,
		string(status), lastError, id)
	if err != nil {
		return fmt.Errorf("failed to set connection status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("connection %s not found", id)
	}
	return nil
}

func (a *Adapter) MarkConnectionSynced(ctx context.Context, id string, at time.Time, contactCount int) error {
	_, err := a.pool.Exec(ctx, `
		UPDATE connections
		SET status = $1, last_error = '', last_synced_at = $2, contact_count = $3
		WHERE id = $4`,
		string(models.StatusConnected), at.UTC(), contactCount, id)
	if err != nil {
		return fmt.Errorf("failed to mark connection synced: %w", err)
	}
	return nil
}

func (a *Adapter) UpsertAddressBook(ctx context.Context, book *models.AddressBook) (string, error) {
	if book.CreatedAt.IsZero() {
		book.CreatedAt = time.Now().UTC()
	}
	var id string
	err := a.pool.QueryRow(ctx, `
		INSERT INTO address_books (id, display_name, remote_url, connection_id, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (remote_url, connection_id) DO UPDATE SET display_name = EXCLUDED.display_name
		RETURNING id`,
		book.ID, book.DisplayName, book.RemoteURL, book.ConnectionID, book.CreatedAt).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("failed to upsert address book: %w", err)
	}
	return id, nil
}

func (a *Adapter) ListAddressBooks(ctx context.Context, connectionID string) ([]*models.AddressBook, error) {
	rows, err := a.pool.Query(ctx, `
		SELECT id, display_name, remote_url, connection_id, created_at
		FROM address_books WHERE connection_id = $1 ORDER BY display_name`, connectionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list address books: %w", err)
	}
	defer rows.Close()

	var books []*models.AddressBook
	for rows.Next() {
		var b models.AddressBook
		if err := rows.Scan(&b.ID, &b.DisplayName, &b.RemoteURL, &b.ConnectionID, &b.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan address book: %w", err)
		}
		books = append(books, &b)
	}
	return books, rows.Err()
}

func (a *Adapter) UpsertPersons(ctx context.Context, persons []models.Person) error {
	if len(persons) == 0 {
		return nil
	}
	tx, err := a.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	for i := range persons {
		p := &persons[i]
		addresses, emails, phones, photos, err := marshalPersonJSON(p)
		if err != nil {
			return err
		}
		var birthday interface{}
		if !p.Birthday.IsZero() {
			birthday = p.Birthday.UTC()
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO contacts (uid, uid_upper, full_name, addresses, emails, phones, photos,
				organization, title, role, linkedin_ref, birthday, updated_at, address_book_id, connection_id)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
			ON CONFLICT (uid) DO UPDATE SET
				uid_upper = EXCLUDED.uid_upper,
				full_name = EXCLUDED.full_name,
				addresses = EXCLUDED.addresses,
				emails = EXCLUDED.emails,
				phones = EXCLUDED.phones,
				photos = EXCLUDED.photos,
				organization = EXCLUDED.organization,
				title = EXCLUDED.title,
				role = EXCLUDED.role,
				linkedin_ref = EXCLUDED.linkedin_ref,
				birthday = EXCLUDED.birthday,
				updated_at = EXCLUDED.updated_at,
				address_book_id = EXCLUDED.address_book_id,
				connection_id = EXCLUDED.connection_id`,
			p.UID, p.UIDUpper, p.FullName, addresses, emails, phones, photos,
			p.Organization, p.Title, p.Role, p.LinkedInRef, birthday,
			p.UpdatedAt.UTC(), p.AddressBookID, p.ConnectionID)
		if err != nil {
			return fmt.Errorf("failed to upsert contact %s: %w", p.UID, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit contact batch: %w", err)
	}
	return nil
}

func (a *Adapter) ListPersons(ctx context.Context, connectionID string, uids []string) ([]models.Person, error) {
	query := `
		SELECT uid, uid_upper, full_name, addresses, emails, phones, photos,
			organization, title, role, linkedin_ref, birthday, updated_at, address_book_id, connection_id
		FROM contacts WHERE connection_id = $1`
	args := []interface{}{connectionID}
	if len(uids) > 0 {
		lowered := make([]string, len(uids))
		for i, uid := range uids {
			lowered[i] = strings.ToLower(uid)
		}
		query += " AND uid = ANY($2)"
		args = append(args, lowered)
	}
	query += " ORDER BY uid"

	rows, err := a.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list contacts: %w", err)
	}
	defer rows.Close()

	var persons []models.Person
	for rows.Next() {
		p, err := scanPerson(rows)
		if err != nil {
			return nil, err
		}
		persons = append(persons, p)
	}
	return persons, rows.Err()
}

func (a *Adapter) CountPersons(ctx context.Context, connectionID string) (int, error) {
	var n int
	err := a.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM contacts WHERE connection_id = $1`, connectionID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count contacts: %w", err)
	}
	return n, nil
}

func (a *Adapter) UpsertGroup(ctx context.Context, group *models.Group) error {
	_, err := a.pool.Exec(ctx, `
		INSERT INTO contact_groups (uid, address_book_id, name, description, read_only, connection_id, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (uid, address_book_id) DO UPDATE SET
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			read_only = EXCLUDED.read_only,
			connection_id = EXCLUDED.connection_id,
			updated_at = EXCLUDED.updated_at`,
		group.UID, group.AddressBookID, group.Name, group.Description,
		group.ReadOnly, group.ConnectionID, group.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to upsert group %s: %w", group.UID, err)
	}
	return nil
}

func (a *Adapter) ReplaceMemberships(ctx context.Context, group *models.Group) error {
	tx, err := a.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		DELETE FROM memberships WHERE group_uid = $1 AND address_book_id = $2`,
		group.UID, group.AddressBookID)
	if err != nil {
		return fmt.Errorf("failed to clear memberships: %w", err)
	}
	for _, member := range group.MemberUIDs {
		_, err = tx.Exec(ctx, `
			INSERT INTO memberships (member_uid, group_uid, address_book_id)
			VALUES ($1, $2, $3) ON CONFLICT DO NOTHING`,
			member, group.UID, group.AddressBookID)
		if err != nil {
			return fmt.Errorf("failed to insert membership: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit memberships: %w", err)
	}
	return nil
}

func (a *Adapter) ListGroups(ctx context.Context, addressBookID string) ([]*models.Group, error) {
	rows, err := a.pool.Query(ctx, `
		SELECT uid, address_book_id, name, description, read_only, connection_id, updated_at
		FROM contact_groups WHERE address_book_id = $1 ORDER BY name`, addressBookID)
	if err != nil {
		return nil, fmt.Errorf("failed to list groups: %w", err)
	}
	defer rows.Close()

	var groups []*models.Group
	for rows.Next() {
		var g models.Group
		if err := rows.Scan(&g.UID, &g.AddressBookID, &g.Name, &g.Description, &g.ReadOnly, &g.ConnectionID, &g.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan group: %w", err)
		}
		groups = append(groups, &g)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, g := range groups {
		members, err := a.listMembers(ctx, g.UID, g.AddressBookID)
		if err != nil {
			return nil, err
		}
		g.MemberUIDs = members
	}
	return groups, nil
}

func (a *Adapter) listMembers(ctx context.Context, groupUID, addressBookID string) ([]string, error) {
	rows, err := a.pool.Query(ctx, `
		SELECT member_uid FROM memberships
		WHERE group_uid = $1 AND address_book_id = $2 ORDER BY member_uid`,
		groupUID, addressBookID)
	if err != nil {
		return nil, fmt.Errorf("failed to list memberships: %w", err)
	}
	defer rows.Close()

	var members []string
	for rows.Next() {
		var m string
		if err := rows.Scan(&m); err != nil {
			return nil, fmt.Errorf("failed to scan membership: %w", err)
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanConnection(row rowScanner) (*models.Connection, error) {
	var c models.Connection
	var status string
	var syncedAt *time.Time
	err := row.Scan(&c.ID, &c.Name, &c.ServerURL, &c.Username, &c.Password,
		&status, &c.LastError, &syncedAt, &c.ContactCount, &c.CreatedAt)
	if err != nil {
		return nil, err
	}
	c.Status = models.ConnectionStatus(status)
	c.LastSyncedAt = syncedAt
	return &c, nil
}

func scanPerson(row rowScanner) (models.Person, error) {
	var p models.Person
	var addresses, emails, phones, photos []byte
	var birthday *time.Time
	err := row.Scan(&p.UID, &p.UIDUpper, &p.FullName, &addresses, &emails, &phones, &photos,
		&p.Organization, &p.Title, &p.Role, &p.LinkedInRef, &birthday,
		&p.UpdatedAt, &p.AddressBookID, &p.ConnectionID)
	if err != nil {
		return p, fmt.Errorf("failed to scan contact: %w", err)
	}
	if birthday != nil {
		p.Birthday = *birthday
	}
	if err := json.Unmarshal(addresses, &p.Addresses); err != nil {
		return p, fmt.Errorf("failed to decode addresses for %s: %w", p.UID, err)
	}
	if err := json.Unmarshal(emails, &p.Emails); err != nil {
		return p, fmt.Errorf("failed to decode emails for %s: %w", p.UID, err)
	}
	if err := json.Unmarshal(phones, &p.Phones); err != nil {
		return p, fmt.Errorf("failed to decode phones for %s: %w", p.UID, err)
	}
	if err := json.Unmarshal(photos, &p.Photos); err != nil {
		return p, fmt.Errorf("failed to decode photos for %s: %w", p.UID, err)
	}
	return p, nil
}

func marshalPersonJSON(p *models.Person) (addresses, emails, phones, photos []byte, err error) {
	enc := func(v interface{}) ([]byte, error) {
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("failed to encode contact %s: %w", p.UID, err)
		}
		return b, nil
	}
	if addresses, err = enc(emptyProps(p.Addresses)); err != nil {
		return
	}
	if emails, err = enc(emptyProps(p.Emails)); err != nil {
		return
	}
	if phones, err = enc(emptyProps(p.Phones)); err != nil {
		return
	}
	if p.Photos == nil {
		photos = []byte("[]")
		return
	}
	photos, err = enc(p.Photos)
	return
}

func emptyProps(props []*vcard.Property) []*vcard.Property {
	if props == nil {
		return []*vcard.Property{}
	}
	return props
}
