// Package db wraps the SQLite-compatible store shared by the scraper and
// publisher loops: events, documents, images, guild settings, threads, and
// approval requests.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"time"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"github.com/ortdev/fianotify/internal/model"
)

// DB wraps a sql.DB connection to the SQLite database.
type DB struct {
	conn *sql.DB
}

// Open creates a new DB connection and runs all pending migrations.
func Open(path string) (*DB, error) {
	conn, err := sql.Open("sqlite", path+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	conn.SetMaxOpenConns(1)

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	migrationsFS, err := fs.Sub(MigrationFS, "migrations")
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("migrations sub-fs: %w", err)
	}

	provider, err := goose.NewProvider(goose.DialectSQLite3, conn, migrationsFS)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("create migration provider: %w", err)
	}

	if _, err := provider.Up(context.Background()); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("apply migrations: %w", err)
	}

	return &DB{conn: conn}, nil
}

// Close closes the database connection.
func (d *DB) Close() error {
	return d.conn.Close()
}

// Conn returns the underlying *sql.DB for use by other packages if needed.
func (d *DB) Conn() *sql.DB {
	return d.conn
}

// --- Event methods ---

const eventColumns = `id, title, year, series, status, created_at`

func scanEvent(scanner interface{ Scan(...any) error }, e *model.Event) error {
	var series, status, createdAt string
	if err := scanner.Scan(&e.ID, &e.Title, &e.Year, &series, &status, &createdAt); err != nil {
		return err
	}
	e.Series = model.Series(series)
	e.Status = model.EventStatus(status)
	t, err := time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return fmt.Errorf("parse event created_at: %w", err)
	}
	e.CreatedAt = t
	return nil
}

// InsertEvent creates a new event row and returns its ID.
func (d *DB) InsertEvent(e *model.Event) (int64, error) {
	res, err := d.conn.Exec(
		`INSERT INTO events (title, year, series, status, created_at) VALUES (?, ?, ?, ?, ?)`,
		e.Title, e.Year, string(e.Series), string(e.Status), e.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return 0, fmt.Errorf("insert event: %w", err)
	}
	return res.LastInsertId()
}

// FindEvent looks up an event by its (series, year, title) uniqueness key.
func (d *DB) FindEvent(series model.Series, year int, title string) (*model.Event, error) {
	e := &model.Event{}
	row := d.conn.QueryRow(
		`SELECT `+eventColumns+` FROM events WHERE series = ? AND year = ? AND title = ?`,
		string(series), year, title,
	)
	if err := scanEvent(row, e); err == sql.ErrNoRows {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("find event: %w", err)
	}
	return e, nil
}

// GetEvent retrieves a single event by ID.
func (d *DB) GetEvent(id int64) (*model.Event, error) {
	e := &model.Event{}
	row := d.conn.QueryRow(`SELECT `+eventColumns+` FROM events WHERE id = ?`, id)
	if err := scanEvent(row, e); err == sql.ErrNoRows {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("get event %d: %w", id, err)
	}
	return e, nil
}

// ListEventsByStatus returns events with the given status, oldest first.
func (d *DB) ListEventsByStatus(status model.EventStatus) ([]model.Event, error) {
	rows, err := d.conn.Query(`SELECT `+eventColumns+` FROM events WHERE status = ? ORDER BY created_at ASC`, string(status))
	if err != nil {
		return nil, fmt.Errorf("list events by status: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	var events []model.Event
	for rows.Next() {
		var e model.Event
		if err := scanEvent(rows, &e); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// UpdateEventStatus updates an event's lifecycle status.
func (d *DB) UpdateEventStatus(id int64, status model.EventStatus) error {
	_, err := d.conn.Exec(`UPDATE events SET status = ? WHERE id = ?`, string(status), id)
	if err != nil {
		return fmt.Errorf("update event status %d: %w", id, err)
	}
	return nil
}

// --- Document methods ---

const documentColumns = `id, event_id, title, href, mirror, status, created_at`

func scanDocument(scanner interface{ Scan(...any) error }, doc *model.Document) error {
	var status, createdAt string
	if err := scanner.Scan(&doc.ID, &doc.EventID, &doc.Title, &doc.Href, &doc.Mirror, &status, &createdAt); err != nil {
		return err
	}
	doc.Status = model.DocumentStatus(status)
	t, err := time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return fmt.Errorf("parse document created_at: %w", err)
	}
	doc.CreatedAt = t
	return nil
}

// InsertDocument creates a new document row and returns its ID.
func (d *DB) InsertDocument(doc *model.Document) (int64, error) {
	res, err := d.conn.Exec(
		`INSERT INTO documents (event_id, title, href, mirror, status, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		doc.EventID, doc.Title, doc.Href, doc.Mirror, string(doc.Status), doc.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return 0, fmt.Errorf("insert document: %w", err)
	}
	return res.LastInsertId()
}

// FindDocumentByHref looks up a document by its unique source href. A
// cached href means the document has already been mirrored.
func (d *DB) FindDocumentByHref(href string) (*model.Document, error) {
	doc := &model.Document{}
	row := d.conn.QueryRow(`SELECT `+documentColumns+` FROM documents WHERE href = ?`, href)
	if err := scanDocument(row, doc); err == sql.ErrNoRows {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("find document by href: %w", err)
	}
	return doc, nil
}

// ListDocumentsByEventAndStatus returns an event's documents with the given
// status, oldest first. Used where delivery order doesn't matter (the
// scraper's cache population only checks href membership).
func (d *DB) ListDocumentsByEventAndStatus(eventID int64, status model.DocumentStatus) ([]model.Document, error) {
	return queryDocumentsByEventAndStatus(d, eventID, status, "ASC")
}

// ListDocumentsForDelivery returns an event's documents with the given
// status, newest first — the order the publisher fans out documents in.
func (d *DB) ListDocumentsForDelivery(eventID int64, status model.DocumentStatus) ([]model.Document, error) {
	return queryDocumentsByEventAndStatus(d, eventID, status, "DESC")
}

func queryDocumentsByEventAndStatus(d *DB, eventID int64, status model.DocumentStatus, order string) ([]model.Document, error) {
	rows, err := d.conn.Query(
		`SELECT `+documentColumns+` FROM documents WHERE event_id = ? AND status = ? ORDER BY created_at `+order,
		eventID, string(status),
	)
	if err != nil {
		return nil, fmt.Errorf("list documents by event and status: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	var docs []model.Document
	for rows.Next() {
		var doc model.Document
		if err := scanDocument(rows, &doc); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// UpdateDocumentStatus updates a document's delivery status.
func (d *DB) UpdateDocumentStatus(id int64, status model.DocumentStatus) error {
	_, err := d.conn.Exec(`UPDATE documents SET status = ? WHERE id = ?`, string(status), id)
	if err != nil {
		return fmt.Errorf("update document status %d: %w", id, err)
	}
	return nil
}

// --- Image methods ---

// InsertImage creates a new image row for a document page and returns its ID.
func (d *DB) InsertImage(img *model.Image) (int64, error) {
	res, err := d.conn.Exec(
		`INSERT INTO images (document_id, page_number, url, created_at) VALUES (?, ?, ?, ?)`,
		img.DocumentID, img.PageNumber, img.URL, img.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return 0, fmt.Errorf("insert image: %w", err)
	}
	return res.LastInsertId()
}

// ListImagesByDocument returns a document's rendered pages ordered by page number.
func (d *DB) ListImagesByDocument(documentID int64) ([]model.Image, error) {
	rows, err := d.conn.Query(
		`SELECT id, document_id, page_number, url, created_at FROM images WHERE document_id = ? ORDER BY page_number ASC`,
		documentID,
	)
	if err != nil {
		return nil, fmt.Errorf("list images by document: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	var images []model.Image
	for rows.Next() {
		var img model.Image
		var createdAt string
		if err := rows.Scan(&img.ID, &img.DocumentID, &img.PageNumber, &img.URL, &createdAt); err != nil {
			return nil, fmt.Errorf("scan image: %w", err)
		}
		t, err := time.Parse(time.RFC3339, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parse image created_at: %w", err)
		}
		img.CreatedAt = t
		images = append(images, img)
	}
	return images, rows.Err()
}

// --- Guild methods ---

func scanGuild(scanner interface{ Scan(...any) error }, g *model.Guild) error {
	var joinedAt string
	var f1Channel, f1Role, f2Channel, f2Role, f3Channel, f3Role *string
	var f1Threads, f2Threads, f3Threads int
	if err := scanner.Scan(
		&g.ID, &g.DiscordID, &g.Name, &joinedAt,
		&f1Channel, &f1Threads, &f1Role,
		&f2Channel, &f2Threads, &f2Role,
		&f3Channel, &f3Threads, &f3Role,
	); err != nil {
		return err
	}
	t, err := time.Parse(time.RFC3339, joinedAt)
	if err != nil {
		return fmt.Errorf("parse guild joined_at: %w", err)
	}
	g.JoinedAt = t
	g.F1 = model.SeriesSettings{Channel: f1Channel, Threads: f1Threads == 1, Role: f1Role}
	g.F2 = model.SeriesSettings{Channel: f2Channel, Threads: f2Threads == 1, Role: f2Role}
	g.F3 = model.SeriesSettings{Channel: f3Channel, Threads: f3Threads == 1, Role: f3Role}
	return nil
}

const guildColumns = `id, discord_id, name, joined_at,
	f1_channel, f1_threads, f1_role,
	f2_channel, f2_threads, f2_role,
	f3_channel, f3_threads, f3_role`

// InsertGuild registers a new guild the bot has joined. Only DiscordID,
// Name and JoinedAt are stored: every series starts with no channel and no
// role, and with threads enabled.
func (d *DB) InsertGuild(g *model.Guild) (int64, error) {
	res, err := d.conn.Exec(
		`INSERT INTO guilds (discord_id, name, joined_at, f1_threads, f2_threads, f3_threads)
		 VALUES (?, ?, ?, 1, 1, 1)`,
		g.DiscordID, g.Name, g.JoinedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return 0, fmt.Errorf("insert guild: %w", err)
	}
	return res.LastInsertId()
}

// FindGuildByDiscordID looks up a guild by its chat-platform ID.
func (d *DB) FindGuildByDiscordID(discordID string) (*model.Guild, error) {
	g := &model.Guild{}
	row := d.conn.QueryRow(`SELECT `+guildColumns+` FROM guilds WHERE discord_id = ?`, discordID)
	if err := scanGuild(row, g); err == sql.ErrNoRows {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("find guild by discord id: %w", err)
	}
	return g, nil
}

// ListGuildsSubscribedTo returns guilds with a configured channel for the given series.
func (d *DB) ListGuildsSubscribedTo(s model.Series) ([]model.Guild, error) {
	col := seriesChannelColumn(s)
	rows, err := d.conn.Query(`SELECT ` + guildColumns + ` FROM guilds WHERE ` + col + ` IS NOT NULL`)
	if err != nil {
		return nil, fmt.Errorf("list guilds subscribed to %s: %w", s, err)
	}
	defer rows.Close() //nolint:errcheck

	var guilds []model.Guild
	for rows.Next() {
		var g model.Guild
		if err := scanGuild(rows, &g); err != nil {
			return nil, fmt.Errorf("scan guild: %w", err)
		}
		guilds = append(guilds, g)
	}
	return guilds, rows.Err()
}

func seriesChannelColumn(s model.Series) string {
	switch s {
	case model.SeriesF1:
		return "f1_channel"
	case model.SeriesF2:
		return "f2_channel"
	case model.SeriesF3:
		return "f3_channel"
	default:
		return "f1_channel"
	}
}

// UpdateGuildName renames a guild, as reported by a guild-update event.
func (d *DB) UpdateGuildName(discordID, name string) error {
	_, err := d.conn.Exec(`UPDATE guilds SET name = ? WHERE discord_id = ?`, name, discordID)
	if err != nil {
		return fmt.Errorf("update guild name: %w", err)
	}
	return nil
}

// SetSeriesChannel sets or clears the notification channel for one series.
func (d *DB) SetSeriesChannel(discordID string, s model.Series, channel *string) error {
	col := seriesChannelColumn(s)
	_, err := d.conn.Exec(`UPDATE guilds SET `+col+` = ? WHERE discord_id = ?`, channel, discordID)
	if err != nil {
		return fmt.Errorf("set series channel: %w", err)
	}
	return nil
}

// SetSeriesRole sets or clears the mention role for one series.
func (d *DB) SetSeriesRole(discordID string, s model.Series, role *string) error {
	col := seriesRoleColumn(s)
	_, err := d.conn.Exec(`UPDATE guilds SET `+col+` = ? WHERE discord_id = ?`, role, discordID)
	if err != nil {
		return fmt.Errorf("set series role: %w", err)
	}
	return nil
}

func seriesRoleColumn(s model.Series) string {
	switch s {
	case model.SeriesF1:
		return "f1_role"
	case model.SeriesF2:
		return "f2_role"
	case model.SeriesF3:
		return "f3_role"
	default:
		return "f1_role"
	}
}

// ClearGuildSettings clears a guild's channel and role for one series, used by
// the publisher's permission-error auto-remediation.
func (d *DB) ClearGuildSettings(discordID string, s model.Series) error {
	if err := d.SetSeriesChannel(discordID, s, nil); err != nil {
		return err
	}
	return d.SetSeriesRole(discordID, s, nil)
}

// DeleteGuild removes a guild the bot is no longer a member of.
func (d *DB) DeleteGuild(discordID string) error {
	_, err := d.conn.Exec(`DELETE FROM guilds WHERE discord_id = ?`, discordID)
	if err != nil {
		return fmt.Errorf("delete guild: %w", err)
	}
	return nil
}

// --- Thread methods ---

// InsertThread records a created thread for a (guild, event) pair.
func (d *DB) InsertThread(th *model.Thread) (int64, error) {
	res, err := d.conn.Exec(
		`INSERT INTO threads (discord_id, channel_id, event_id, guild_id, created_at) VALUES (?, ?, ?, ?, ?)`,
		th.DiscordID, th.ChannelID, th.EventID, th.GuildID, th.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return 0, fmt.Errorf("insert thread: %w", err)
	}
	return res.LastInsertId()
}

// FindThread looks up a previously created thread for a (guild, event) pair.
func (d *DB) FindThread(guildID, eventID int64) (*model.Thread, error) {
	th := &model.Thread{}
	var createdAt string
	row := d.conn.QueryRow(
		`SELECT id, discord_id, channel_id, event_id, guild_id, created_at FROM threads WHERE guild_id = ? AND event_id = ?`,
		guildID, eventID,
	)
	err := row.Scan(&th.ID, &th.DiscordID, &th.ChannelID, &th.EventID, &th.GuildID, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find thread: %w", err)
	}
	t, err := time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return nil, fmt.Errorf("parse thread created_at: %w", err)
	}
	th.CreatedAt = t
	return th, nil
}

// --- Allow request methods ---

func scanAllowRequest(scanner interface{ Scan(...any) error }, ar *model.AllowRequest) error {
	var response, createdAt string
	var approvedAt *string
	if err := scanner.Scan(&ar.ID, &ar.EventID, &response, &createdAt, &ar.ApprovedBy, &approvedAt); err != nil {
		return err
	}
	ar.Response = model.AllowRequestStatus(response)
	t, err := time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return fmt.Errorf("parse allow request created_at: %w", err)
	}
	ar.CreatedAt = t
	if approvedAt != nil {
		at, err := time.Parse(time.RFC3339, *approvedAt)
		if err != nil {
			return fmt.Errorf("parse allow request approved_at: %w", err)
		}
		ar.ApprovedAt = &at
	}
	return nil
}

const allowRequestColumns = `id, event_id, response, created_at, approved_by, approved_at`

// InsertAllowRequest creates a new approval request for an event.
func (d *DB) InsertAllowRequest(ar *model.AllowRequest) (int64, error) {
	res, err := d.conn.Exec(
		`INSERT INTO allow_requests (event_id, response, created_at) VALUES (?, ?, ?)`,
		ar.EventID, string(ar.Response), ar.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return 0, fmt.Errorf("insert allow request: %w", err)
	}
	return res.LastInsertId()
}

// FindAllowRequestByEvent looks up the (unique) allow request for an event.
func (d *DB) FindAllowRequestByEvent(eventID int64) (*model.AllowRequest, error) {
	ar := &model.AllowRequest{}
	row := d.conn.QueryRow(`SELECT `+allowRequestColumns+` FROM allow_requests WHERE event_id = ?`, eventID)
	if err := scanAllowRequest(row, ar); err == sql.ErrNoRows {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("find allow request by event: %w", err)
	}
	return ar, nil
}

// FindAllowRequestByID looks up an allow request by its own ID, the value
// encoded in the approval gate's allow-{id}/deny-{id} button custom IDs.
func (d *DB) FindAllowRequestByID(id int64) (*model.AllowRequest, error) {
	ar := &model.AllowRequest{}
	row := d.conn.QueryRow(`SELECT `+allowRequestColumns+` FROM allow_requests WHERE id = ?`, id)
	if err := scanAllowRequest(row, ar); err == sql.ErrNoRows {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("find allow request by id: %w", err)
	}
	return ar, nil
}

// ResolveAllowRequest atomically records the operator's decision and moves
// the event to Allowed or Denied, so a crash between the two updates never
// leaves the event and its request in disagreeing states.
func (d *DB) ResolveAllowRequest(eventID int64, approved bool, approvedBy string, approvedAt time.Time) error {
	tx, err := d.conn.Begin()
	if err != nil {
		return fmt.Errorf("begin resolve allow request: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	requestStatus := model.AllowRequestDenied
	eventStatus := model.EventDenied
	if approved {
		requestStatus = model.AllowRequestAllowed
		eventStatus = model.EventAllowed
	}

	if _, err := tx.Exec(
		`UPDATE allow_requests SET response = ?, approved_by = ?, approved_at = ? WHERE event_id = ?`,
		string(requestStatus), approvedBy, approvedAt.UTC().Format(time.RFC3339), eventID,
	); err != nil {
		return fmt.Errorf("update allow request: %w", err)
	}

	if _, err := tx.Exec(`UPDATE events SET status = ? WHERE id = ?`, string(eventStatus), eventID); err != nil {
		return fmt.Errorf("update event status: %w", err)
	}

	return tx.Commit()
}
