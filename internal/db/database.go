package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	_ "modernc.org/sqlite"

	"github.com/manpreetbhatti/lattice-sync/internal/persist"
)

var ErrPageNotFound = errors.New("page not found")

type Database struct {
	db *sql.DB
}

// Page is the durable document a room is rendered into.
type Page struct {
	ID        int64     `json:"id"`
	Title     string    `json:"title"`
	Content   string    `json:"content,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func New(dbPath string) (*Database, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}

	// WAL lets the API read while the scheduler writes
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, err
	}

	if err := createTables(db); err != nil {
		db.Close()
		return nil, err
	}

	slog.Info("database initialized", "path", dbPath)
	return &Database{db: db}, nil
}

func createTables(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS pages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		title TEXT NOT NULL DEFAULT '',
		content TEXT NOT NULL DEFAULT '',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_pages_updated_at ON pages(updated_at DESC);
	`

	_, err := db.Exec(schema)
	return err
}

func (d *Database) Close() error {
	return d.db.Close()
}

// Page operations

func (d *Database) CreatePage(ctx context.Context, title string) (*Page, error) {
	result, err := d.db.ExecContext(ctx, "INSERT INTO pages (title) VALUES (?)", title)
	if err != nil {
		return nil, err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, err
	}
	return d.GetPage(ctx, id)
}

func (d *Database) GetPage(ctx context.Context, id int64) (*Page, error) {
	row := d.db.QueryRowContext(ctx,
		"SELECT id, title, content, created_at, updated_at FROM pages WHERE id = ?",
		id,
	)

	var p Page
	err := row.Scan(&p.ID, &p.Title, &p.Content, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", ErrPageNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// ListPages returns pages newest first, without their content.
func (d *Database) ListPages(ctx context.Context, limit, offset int) ([]Page, error) {
	rows, err := d.db.QueryContext(ctx,
		"SELECT id, title, created_at, updated_at FROM pages ORDER BY updated_at DESC, id DESC LIMIT ? OFFSET ?",
		limit, offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pages []Page
	for rows.Next() {
		var p Page
		if err := rows.Scan(&p.ID, &p.Title, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		pages = append(pages, p)
	}
	return pages, rows.Err()
}

func (d *Database) DeletePage(ctx context.Context, id int64) error {
	_, err := d.db.ExecContext(ctx, "DELETE FROM pages WHERE id = ?", id)
	return err
}

// ResolveDocument maps a room id onto an existing page. Rooms are named
// after the decimal page id.
func (d *Database) ResolveDocument(ctx context.Context, roomID string) (int64, error) {
	id, err := strconv.ParseInt(roomID, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: room %q is not a page id", persist.ErrDocumentNotFound, roomID)
	}

	var exists bool
	err = d.db.QueryRowContext(ctx, "SELECT EXISTS(SELECT 1 FROM pages WHERE id = ?)", id).Scan(&exists)
	if err != nil {
		return 0, err
	}
	if !exists {
		return 0, fmt.Errorf("%w: %w: %d", persist.ErrDocumentNotFound, ErrPageNotFound, id)
	}
	return id, nil
}

// UpdateContent replaces the page content and bumps updated_at.
func (d *Database) UpdateContent(ctx context.Context, id int64, content string) error {
	result, err := d.db.ExecContext(ctx,
		"UPDATE pages SET content = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?",
		content, id,
	)
	if err != nil {
		return err
	}

	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %d", ErrPageNotFound, id)
	}
	return nil
}

// Stats

func (d *Database) GetStats(ctx context.Context) (map[string]interface{}, error) {
	stats := make(map[string]interface{})

	var pageCount int
	if err := d.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM pages").Scan(&pageCount); err != nil {
		return nil, err
	}
	stats["page_count"] = pageCount

	var contentBytes int64
	if err := d.db.QueryRowContext(ctx, "SELECT COALESCE(SUM(LENGTH(content)), 0) FROM pages").Scan(&contentBytes); err != nil {
		return nil, err
	}
	stats["content_bytes"] = contentBytes

	return stats, nil
}
