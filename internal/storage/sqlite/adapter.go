// Package sqlite implements the storage contract on an embedded SQLite
// database. Structured card properties and photos are stored as JSON
// columns; everything queryable gets its own column.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

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
	last_synced_at TIMESTAMP,
	contact_count  INTEGER NOT NULL DEFAULT 0,
	created_at     TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS address_books (
	id            TEXT PRIMARY KEY,
	display_name  TEXT NOT NULL,
	remote_url    TEXT NOT NULL,
	connection_id TEXT NOT NULL REFERENCES connections(id),
	created_at    TIMESTAMP NOT NULL,
	UNIQUE (remote_url, connection_id)
);

CREATE TABLE IF NOT EXISTS contacts (
	uid             TEXT PRIMARY KEY,
	uid_upper       INTEGER NOT NULL DEFAULT 0,
	full_name       TEXT NOT NULL,
	addresses       TEXT NOT NULL DEFAULT '[]',
	emails          TEXT NOT NULL DEFAULT '[]',
	phones          TEXT NOT NULL DEFAULT '[]',
	photos          TEXT NOT NULL DEFAULT '[]',
	organization    TEXT NOT NULL DEFAULT '',
	title           TEXT NOT NULL DEFAULT '',
	role            TEXT NOT NULL DEFAULT '',
	linkedin_ref    TEXT NOT NULL DEFAULT '',
	birthday        TIMESTAMP,
	updated_at      TIMESTAMP NOT NULL,
	address_book_id TEXT NOT NULL,
	connection_id   TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_contacts_connection ON contacts(connection_id);

CREATE TABLE IF NOT EXISTS contact_groups (
	uid             TEXT NOT NULL,
	address_book_id TEXT NOT NULL,
	name            TEXT NOT NULL,
	description     TEXT NOT NULL DEFAULT '',
	read_only       INTEGER NOT NULL DEFAULT 0,
	connection_id   TEXT NOT NULL,
	updated_at      TIMESTAMP NOT NULL,
	PRIMARY KEY (uid, address_book_id)
);

CREATE TABLE IF NOT EXISTS memberships (
	member_uid      TEXT NOT NULL,
	group_uid       TEXT NOT NULL,
	address_book_id TEXT NOT NULL,
	PRIMARY KEY (member_uid, group_uid, address_book_id)
);
`

// Adapter is the SQLite-backed storage implementation.
type Adapter struct {
	db *sql.DB
}

// NewAdapter opens (or creates) the database file and applies the
// schema.
func NewAdapter(path string) (*Adapter, error) {
	if path == "" {
		path = "contact-sync.db"
	}
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single writer keeps SQLITE_BUSY out of the picture.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return &Adapter{db: db}, nil
}

func (a *Adapter) Close() error {
	return a.db.Close()
}

func (a *Adapter) Health(ctx context.Context) error {
	return a.db.PingContext(ctx)
}

func (a *Adapter) CreateConnection(ctx context.Context, conn *models.Connection) error {
	if conn.CreatedAt.IsZero() {
		conn.CreatedAt = time.Now().UTC()
	}
	if conn.Status == "" {
		conn.Status = models.StatusConnected
	}
	_, err := a.db.ExecContext(ctx, `
		INSERT INTO connections (id, name, server_url, username, password, status, last_error, contact_count, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		conn.ID, conn.Name, conn.ServerURL, conn.Username, conn.Password,
		string(conn.Status), conn.LastError, conn.ContactCount, conn.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create connection: %w", err)
	}
	return nil
}

func (a *Adapter) GetConnection(ctx context.Context, id string) (*models.Connection, error) {
	row := a.db.QueryRowContext(ctx, `
		SELECT id, name, server_url, username, password, status, last_error, last_synced_at, contact_count, created_at
		FROM connections WHERE id = ?`, id)
	conn, err := scanConnection(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("connection %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get connection: %w", err)
	}
	return conn, nil
}

func (a *Adapter) ListConnections(ctx context.Context) ([]*models.Connection, error) {
	rows, err := a.db.QueryContext(ctx, `
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
	res, err := a.db.ExecContext(ctx, `
		UPDATE connections SET status = ?, last_error = ? WHERE id = ?`,
		string(status), lastError, id)
	if err != nil {
		return fmt.Errorf("failed to set connection status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("connection %s not found", id)
	}
	return nil
}

func (a *Adapter) MarkConnectionSynced(ctx context.Context, id string, at time.Time, contactCount int) error {
	_, err := a.db.ExecContext(ctx, `
		UPDATE connections
		SET status = ?, last_error = '', last_synced_at = ?, contact_count = ?
		WHERE id = ?`,
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
	_, err := a.db.ExecContext(ctx, `
		INSERT INTO address_books (id, display_name, remote_url, connection_id, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (remote_url, connection_id) DO UPDATE SET display_name = excluded.display_name`,
		book.ID, book.DisplayName, book.RemoteURL, book.ConnectionID, book.CreatedAt)
	if err != nil {
		return "", fmt.Errorf("failed to upsert address book: %w", err)
	}
	var id string
	err = a.db.QueryRowContext(ctx, `
		SELECT id FROM address_books WHERE remote_url = ? AND connection_id = ?`,
		book.RemoteURL, book.ConnectionID).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("failed to resolve address book id: %w", err)
	}
	return id, nil
}

func (a *Adapter) ListAddressBooks(ctx context.Context, connectionID string) ([]*models.AddressBook, error) {
	rows, err := a.db.QueryContext(ctx, `
		SELECT id, display_name, remote_url, connection_id, created_at
		FROM address_books WHERE connection_id = ? ORDER BY display_name`, connectionID)
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
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO contacts (uid, uid_upper, full_name, addresses, emails, phones, photos,
			organization, title, role, linkedin_ref, birthday, updated_at, address_book_id, connection_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (uid) DO UPDATE SET
			uid_upper = excluded.uid_upper,
			full_name = excluded.full_name,
			addresses = excluded.addresses,
			emails = excluded.emails,
			phones = excluded.phones,
			photos = excluded.photos,
			organization = excluded.organization,
			title = excluded.title,
			role = excluded.role,
			linkedin_ref = excluded.linkedin_ref,
			birthday = excluded.birthday,
			updated_at = excluded.updated_at,
			address_book_id = excluded.address_book_id,
			connection_id = excluded.connection_id`)
	if err != nil {
		return fmt.Errorf("failed to prepare upsert: %w", err)
	}
	defer stmt.Close()

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
		_, err = stmt.ExecContext(ctx,
			p.UID, p.UIDUpper, p.FullName, addresses, emails, phones, photos,
			p.Organization, p.Title, p.Role, p.LinkedInRef, birthday,
			p.UpdatedAt.UTC(), p.AddressBookID, p.ConnectionID)
		if err != nil {
			return fmt.Errorf("failed to upsert contact %s: %w", p.UID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit contact batch: %w", err)
	}
	return nil
}

func (a *Adapter) ListPersons(ctx context.Context, connectionID string, uids []string) ([]models.Person, error) {
	query := `
		SELECT uid, uid_upper, full_name, addresses, emails, phones, photos,
			organization, title, role, linkedin_ref, birthday, updated_at, address_book_id, connection_id
		FROM contacts WHERE connection_id = ?`
	args := []interface{}{connectionID}
	if len(uids) > 0 {
		query += " AND uid IN (?" + strings.Repeat(", ?", len(uids)-1) + ")"
		for _, uid := range uids {
			args = append(args, strings.ToLower(uid))
		}
	}
	query += " ORDER BY uid"

	rows, err := a.db.QueryContext(ctx, query, args...)
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
	err := a.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM contacts WHERE connection_id = ?`, connectionID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count contacts: %w", err)
	}
	return n, nil
}

func (a *Adapter) UpsertGroup(ctx context.Context, group *models.Group) error {
	_, err := a.db.ExecContext(ctx, `
		INSERT INTO contact_groups (uid, address_book_id, name, description, read_only, connection_id, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (uid, address_book_id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			read_only = excluded.read_only,
			connection_id = excluded.connection_id,
			updated_at = excluded.updated_at`,
		group.UID, group.AddressBookID, group.Name, group.Description,
		group.ReadOnly, group.ConnectionID, group.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to upsert group %s: %w", group.UID, err)
	}
	return nil
}

func (a *Adapter) ReplaceMemberships(ctx context.Context, group *models.Group) error {
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		DELETE FROM memberships WHERE group_uid = ? AND address_book_id = ?`,
		group.UID, group.AddressBookID)
	if err != nil {
		return fmt.Errorf("failed to clear memberships: %w", err)
	}
	for _, member := range group.MemberUIDs {
		_, err = tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO memberships (member_uid, group_uid, address_book_id) VALUES (?, ?, ?)`,
			member, group.UID, group.AddressBookID)
		if err != nil {
			return fmt.Errorf("failed to insert membership: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit memberships: %w", err)
	}
	return nil
}

func (a *Adapter) ListGroups(ctx context.Context, addressBookID string) ([]*models.Group, error) {
	rows, err := a.db.QueryContext(ctx, `
		SELECT uid, address_book_id, name, description, read_only, connection_id, updated_at
		FROM contact_groups WHERE address_book_id = ? ORDER BY name`, addressBookID)
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
		members, err := a.listMembers(ctx, g.UID, g.AddressBookID)
		if err != nil {
			return nil, err
		}
		g.MemberUIDs = members
		groups = append(groups, &g)
	}
	return groups, rows.Err()
}

func (a *Adapter) listMembers(ctx context.Context, groupUID, addressBookID string) ([]string, error) {
	rows, err := a.db.QueryContext(ctx, `
		SELECT member_uid FROM memberships
		WHERE group_uid = ? AND address_book_id = ? ORDER BY member_uid`,
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
	var syncedAt sql.NullTime
	err := row.Scan(&c.ID, &c.Name, &c.ServerURL, &c.Username, &c.Password,
		&status, &c.LastError, &syncedAt, &c.ContactCount, &c.CreatedAt)
	if err != nil {
		return nil, err
	}
	c.Status = models.ConnectionStatus(status)
	if syncedAt.Valid {
		t := syncedAt.Time
		c.LastSyncedAt = &t
	}
	return &c, nil
}

func scanPerson(row rowScanner) (models.Person, error) {
	var p models.Person
	var addresses, emails, phones, photos string
	var birthday sql.NullTime
	err := row.Scan(&p.UID, &p.UIDUpper, &p.FullName, &addresses, &emails, &phones, &photos,
		&p.Organization, &p.Title, &p.Role, &p.LinkedInRef, &birthday,
		&p.UpdatedAt, &p.AddressBookID, &p.ConnectionID)
	if err != nil {
		return p, fmt.Errorf("failed to scan contact: %w", err)
	}
	if birthday.Valid {
		p.Birthday = birthday.Time
	}
	if err := json.Unmarshal([]byte(addresses), &p.Addresses); err != nil {
		return p, fmt.Errorf("failed to decode addresses for %s: %w", p.UID, err)
	}
	if err := json.Unmarshal([]byte(emails), &p.Emails); err != nil {
		return p, fmt.Errorf("failed to decode emails for %s: %w", p.UID, err)
	}
	if err := json.Unmarshal([]byte(phones), &p.Phones); err != nil {
		return p, fmt.Errorf("failed to decode phones for %s: %w", p.UID, err)
	}
	if err := json.Unmarshal([]byte(photos), &p.Photos); err != nil {
		return p, fmt.Errorf("failed to decode photos for %s: %w", p.UID, err)
	}
	return p, nil
}

func marshalPersonJSON(p *models.Person) (addresses, emails, phones, photos string, err error) {
	enc := func(v interface{}) (string, error) {
		b, err := json.Marshal(v)
		if err != nil {
			return "", fmt.Errorf("failed to encode contact %s: %w", p.UID, err)
		}
		return string(b), nil
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
		photos = "[]"
		return
	}
	photos, err = enc(p.Photos)
	return
}

// emptyProps keeps nil slices out of the JSON columns so reads scan
// back "[]" rather than "null".
func emptyProps(props []*vcard.Property) []*vcard.Property {
	if props == nil {
		return []*vcard.Property{}
	}
	return props
}
