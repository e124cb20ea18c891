package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/nescampos/coralmultichannel/pkg/logger"
	_ "modernc.org/sqlite"
)

// Turn is one persisted conversation turn for a channel identity.
type Turn struct {
	ID        int64
	Channel   string
	Identity  string
	Role      string
	Content   string
	CreatedAt time.Time
}

// MCPServer is a persisted capability-server record.
type MCPServer struct {
	ID        int64
	Name      string
	URL       string
	Version   string
	Enabled   bool
	CreatedAt time.Time
}

// Store persists conversation history and MCP server records in a
// single sqlite database.
type Store struct {
	db *sql.DB
}

func New(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	s := &Store{db: db}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	logger.InfoCF("store", "Database initialized", map[string]interface{}{"path": path})
	return s, nil
}

func (s *Store) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			channel TEXT NOT NULL,
			identity TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at DATETIME NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_messages_channel_identity
			ON messages(channel, identity, id);

		CREATE TABLE IF NOT EXISTS mcp_servers (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL UNIQUE,
			url TEXT NOT NULL,
			version TEXT NOT NULL DEFAULT '',
			enabled INTEGER NOT NULL DEFAULT 1,
			created_at DATETIME NOT NULL
		);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *Store) Close() error {
	return s.db.Close()
}

// AppendMessage records one conversation turn.
func (s *Store) AppendMessage(ctx context.Context, channel, identity, role, content string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (channel, identity, role, content, created_at) VALUES (?, ?, ?, ?, ?)`,
		channel, identity, role, content, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("append message: %w", err)
	}
	return nil
}

// RecentMessages returns up to limit turns for a channel identity,
// newest first.
func (s *Store) RecentMessages(ctx context.Context, channel, identity string, limit int) ([]Turn, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, channel, identity, role, content, created_at
		 FROM messages WHERE channel = ? AND identity = ?
		 ORDER BY id DESC LIMIT ?`,
		channel, identity, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent messages: %w", err)
	}
	defer rows.Close()

	var turns []Turn
	for rows.Next() {
		var t Turn
		if err := rows.Scan(&t.ID, &t.Channel, &t.Identity, &t.Role, &t.Content, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}
		turns = append(turns, t)
	}
	return turns, rows.Err()
}

// ListServers returns every MCP server record.
func (s *Store) ListServers(ctx context.Context) ([]MCPServer, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, url, version, enabled, created_at FROM mcp_servers ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list mcp servers: %w", err)
	}
	defer rows.Close()

	var servers []MCPServer
	for rows.Next() {
		var srv MCPServer
		if err := rows.Scan(&srv.ID, &srv.Name, &srv.URL, &srv.Version, &srv.Enabled, &srv.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan mcp server row: %w", err)
		}
		servers = append(servers, srv)
	}
	return servers, rows.Err()
}

func (s *Store) GetServer(ctx context.Context, id int64) (*MCPServer, error) {
	var srv MCPServer
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, url, version, enabled, created_at FROM mcp_servers WHERE id = ?`, id).
		Scan(&srv.ID, &srv.Name, &srv.URL, &srv.Version, &srv.Enabled, &srv.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get mcp server %d: %w", id, err)
	}
	return &srv, nil
}

func (s *Store) AddServer(ctx context.Context, name, url, version string) (*MCPServer, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO mcp_servers (name, url, version, enabled, created_at) VALUES (?, ?, ?, 1, ?)`,
		name, url, version, time.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("add mcp server %s: %w", name, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return s.GetServer(ctx, id)
}

func (s *Store) UpdateServer(ctx context.Context, id int64, name, url, version string, enabled bool) (*MCPServer, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE mcp_servers SET name = ?, url = ?, version = ?, enabled = ? WHERE id = ?`,
		name, url, version, enabled, id)
	if err != nil {
		return nil, fmt.Errorf("update mcp server %d: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, nil
	}
	return s.GetServer(ctx, id)
}

// DeleteServer removes a record. Deleting an unknown id is a no-op.
func (s *Store) DeleteServer(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM mcp_servers WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete mcp server %d: %w", id, err)
	}
	return nil
}

// SeedServers inserts the given records when the table is empty, so a
// fresh install starts with a usable server list.
func (s *Store) SeedServers(ctx context.Context, defaults []MCPServer) error {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM mcp_servers`).Scan(&count); err != nil {
		return fmt.Errorf("count mcp servers: %w", err)
	}
	if count > 0 {
		return nil
	}
	for _, d := range defaults {
		if _, err := s.AddServer(ctx, d.Name, d.URL, d.Version); err != nil {
			return err
		}
	}
	if len(defaults) > 0 {
		logger.InfoCF("store", "Seeded default MCP servers",
			map[string]interface{}{"count": len(defaults)})
	}
	return nil
}
