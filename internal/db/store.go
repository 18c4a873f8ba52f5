package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/tombdbad/sw5e-campaign-server/internal/debrief"
	"github.com/tombdbad/sw5e-campaign-server/internal/game"
)

// Supported drivers
const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
)

// DB wraps database operations. Entities are stored as JSON documents keyed
// by id, so schema changes in the domain types never need migrations.
type DB struct {
	conn   *sql.DB
	driver string
	mu     sync.RWMutex
}

// NewDB opens a connection for the given driver and runs migrations
func NewDB(driver, dsn string) (*DB, error) {
	if driver != DriverSQLite && driver != DriverPostgres {
		return nil, fmt.Errorf("unsupported driver '%s'", driver)
	}

	conn, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, err
	}
	if err := conn.Ping(); err != nil {
		return nil, err
	}

	db := &DB{conn: conn, driver: driver}
	if err := db.migrate(); err != nil {
		return nil, err
	}
	return db, nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.conn.Close()
}

// rebind rewrites ? placeholders to $n for postgres
func (db *DB) rebind(query string) string {
	if db.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// migrate runs database migrations. The DDL sticks to types both drivers
// accept.
func (db *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS characters (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		version INTEGER NOT NULL,
		data TEXT NOT NULL,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS campaigns (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		version INTEGER NOT NULL,
		data TEXT NOT NULL,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS debriefs (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		request_type TEXT NOT NULL,
		data TEXT NOT NULL,
		response TEXT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		responded_at TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS sync_log (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		entity_type TEXT NOT NULL,
		entity_id TEXT NOT NULL,
		action TEXT NOT NULL,
		payload TEXT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS session_ownership (
		session_id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_characters_session_id ON characters(session_id);
	CREATE INDEX IF NOT EXISTS idx_campaigns_session_id ON campaigns(session_id);
	CREATE INDEX IF NOT EXISTS idx_debriefs_session_id ON debriefs(session_id);
	CREATE INDEX IF NOT EXISTS idx_sync_log_session_id ON sync_log(session_id);
	CREATE INDEX IF NOT EXISTS idx_session_ownership_user_id ON session_ownership(user_id);
	`

	_, err := db.conn.Exec(schema)
	return err
}

// SaveSessionOwnership records which user owns a session
func (db *DB) SaveSessionOwnership(ctx context.Context, sessionID, userID string) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	_, err := db.conn.ExecContext(ctx, db.rebind(`
		INSERT INTO session_ownership (session_id, user_id)
		VALUES (?, ?)
		ON CONFLICT(session_id) DO UPDATE SET user_id = excluded.user_id
	`), sessionID, userID)
	return err
}

// GetSessionOwner returns the owner of a session
func (db *DB) GetSessionOwner(ctx context.Context, sessionID string) (string, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	var userID string
	err := db.conn.QueryRowContext(ctx, db.rebind(`
		SELECT user_id FROM session_ownership WHERE session_id = ?
	`), sessionID).Scan(&userID)
	if err != nil {
		return "", err
	}
	return userID, nil
}

// GetUserSessions returns all session ids owned by a user
func (db *DB) GetUserSessions(ctx context.Context, userID string) ([]string, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	rows, err := db.conn.QueryContext(ctx, db.rebind(`
		SELECT session_id FROM session_ownership WHERE user_id = ? ORDER BY created_at DESC
	`), userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// SaveCharacter upserts a character document
func (db *DB) SaveCharacter(ctx context.Context, sessionID string, c *game.Character) error {
	return db.saveEntity(ctx, "characters", sessionID, c.ID, c.Version, c)
}

// LoadCharacters returns all characters stored for a session
func (db *DB) LoadCharacters(ctx context.Context, sessionID string) ([]*game.Character, error) {
	docs, err := db.loadEntities(ctx, "characters", sessionID)
	if err != nil {
		return nil, err
	}

	result := make([]*game.Character, 0, len(docs))
	for _, doc := range docs {
		var c game.Character
		if err := json.Unmarshal(doc, &c); err != nil {
			return nil, err
		}
		result = append(result, &c)
	}
	return result, nil
}

// DeleteCharacter removes a character document
func (db *DB) DeleteCharacter(ctx context.Context, id string) error {
	return db.deleteEntity(ctx, "characters", id)
}

// SaveCampaign upserts a campaign document
func (db *DB) SaveCampaign(ctx context.Context, sessionID string, c *game.Campaign) error {
	return db.saveEntity(ctx, "campaigns", sessionID, c.ID, c.Version, c)
}

// LoadCampaigns returns all campaigns stored for a session
func (db *DB) LoadCampaigns(ctx context.Context, sessionID string) ([]*game.Campaign, error) {
	docs, err := db.loadEntities(ctx, "campaigns", sessionID)
	if err != nil {
		return nil, err
	}

	result := make([]*game.Campaign, 0, len(docs))
	for _, doc := range docs {
		var c game.Campaign
		if err := json.Unmarshal(doc, &c); err != nil {
			return nil, err
		}
		result = append(result, &c)
	}
	return result, nil
}

// DeleteCampaign removes a campaign document
func (db *DB) DeleteCampaign(ctx context.Context, id string) error {
	return db.deleteEntity(ctx, "campaigns", id)
}

// SaveDebrief persists a compiled debrief envelope
func (db *DB) SaveDebrief(ctx context.Context, e *debrief.Envelope) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	data, err := json.Marshal(e)
	if err != nil {
		return err
	}

	_, err = db.conn.ExecContext(ctx, db.rebind(`
		INSERT INTO debriefs (id, session_id, request_type, data)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET data = excluded.data
	`), e.ID, e.SessionID, string(e.RequestType), string(data))
	return err
}

// SetDebriefResponse attaches a reconciliation result to a stored envelope
func (db *DB) SetDebriefResponse(ctx context.Context, id string, result *debrief.Result) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	response, err := json.Marshal(result)
	if err != nil {
		return err
	}

	res, err := db.conn.ExecContext(ctx, db.rebind(`
		UPDATE debriefs SET response = ?, responded_at = CURRENT_TIMESTAMP WHERE id = ?
	`), string(response), id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("debrief %s not found", id)
	}
	return nil
}

// GetDebrief loads one envelope, with its response when one was recorded
func (db *DB) GetDebrief(ctx context.Context, id string) (*debrief.Envelope, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	var data string
	var response sql.NullString
	var respondedAt sql.NullTime
	err := db.conn.QueryRowContext(ctx, db.rebind(`
		SELECT data, response, responded_at FROM debriefs WHERE id = ?
	`), id).Scan(&data, &response, &respondedAt)
	if err != nil {
		return nil, err
	}

	var e debrief.Envelope
	if err := json.Unmarshal([]byte(data), &e); err != nil {
		return nil, err
	}
	if response.Valid {
		var result debrief.Result
		if err := json.Unmarshal([]byte(response.String), &result); err != nil {
			return nil, err
		}
		e.Response = &result
	}
	if respondedAt.Valid {
		t := respondedAt.Time
		e.RespondedAt = &t
	}
	return &e, nil
}

// ListDebriefs returns all envelope ids for a session, newest first
func (db *DB) ListDebriefs(ctx context.Context, sessionID string) ([]string, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	rows, err := db.conn.QueryContext(ctx, db.rebind(`
		SELECT id FROM debriefs WHERE session_id = ? ORDER BY created_at DESC
	`), sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// AppendSyncLog records one store mutation in the append-only log
func (db *DB) AppendSyncLog(ctx context.Context, op *SyncOp) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	_, err := db.conn.ExecContext(ctx, db.rebind(`
		INSERT INTO sync_log (id, session_id, entity_type, entity_id, action, payload)
		VALUES (?, ?, ?, ?, ?, ?)
	`), op.ID, op.SessionID, op.EntityType, op.EntityID, op.Action, string(op.Payload))
	return err
}

// SyncLogSince returns log entries for a session created after a timestamp
func (db *DB) SyncLogSince(ctx context.Context, sessionID string, since time.Time) ([]*SyncOp, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	rows, err := db.conn.QueryContext(ctx, db.rebind(`
		SELECT id, session_id, entity_type, entity_id, action, payload
		FROM sync_log
		WHERE session_id = ? AND created_at > ?
		ORDER BY created_at ASC
	`), sessionID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ops []*SyncOp
	for rows.Next() {
		op := &SyncOp{}
		var payload sql.NullString
		if err := rows.Scan(&op.ID, &op.SessionID, &op.EntityType, &op.EntityID, &op.Action, &payload); err != nil {
			return nil, err
		}
		if payload.Valid {
			op.Payload = json.RawMessage(payload.String)
		}
		ops = append(ops, op)
	}
	return ops, rows.Err()
}

func (db *DB) saveEntity(ctx context.Context, table, sessionID, id string, version int, entity interface{}) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	data, err := json.Marshal(entity)
	if err != nil {
		return err
	}

	_, err = db.conn.ExecContext(ctx, db.rebind(fmt.Sprintf(`
		INSERT INTO %s (id, session_id, version, data, updated_at)
		VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(id) DO UPDATE SET
			version = excluded.version,
			data = excluded.data,
			updated_at = CURRENT_TIMESTAMP
	`, table)), id, sessionID, version, string(data))
	return err
}

func (db *DB) loadEntities(ctx context.Context, table, sessionID string) ([]json.RawMessage, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	rows, err := db.conn.QueryContext(ctx, db.rebind(fmt.Sprintf(`
		SELECT data FROM %s WHERE session_id = ? ORDER BY updated_at DESC
	`, table)), sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []json.RawMessage
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		docs = append(docs, json.RawMessage(data))
	}
	return docs, rows.Err()
}

func (db *DB) deleteEntity(ctx context.Context, table, id string) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	_, err := db.conn.ExecContext(ctx, db.rebind(fmt.Sprintf("DELETE FROM %s WHERE id = ?", table)), id)
	return err
}
