// Package state persists per-disc resume settings (last track, repeat
// mode, shuffle) in SQLite under the XDG data directory, keyed by the
// disc's TOC-derived ID.
package state

import (
	"database/sql"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/adrg/xdg"
	_ "modernc.org/sqlite" // SQLite driver
)

const (
	appName      = "ramcd"
	dbFileName   = "ramcd.db"
	saveDebounce = 500 * time.Millisecond
)

type Manager struct {
	db        *sql.DB
	saveMu    sync.Mutex
	saveTimer *time.Timer
	pending   *Resume
}

func Open() (*Manager, error) {
	dbPath, err := xdg.DataFile(filepath.Join(appName, dbFileName))
	if err != nil {
		return nil, err
	}
	return OpenAt(dbPath)
}

// OpenAt opens the database at an explicit path.
func OpenAt(dbPath string) (*Manager, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}

	if err := initSchema(db); err != nil {
		db.Close()
		return nil, err
	}

	return &Manager{db: db}, nil
}

func (m *Manager) Close() error {
	m.saveMu.Lock()
	if m.saveTimer != nil {
		m.saveTimer.Stop()
	}
	pending := m.pending
	m.pending = nil
	m.saveMu.Unlock()

	// Flush pending state
	if pending != nil {
		_ = saveResume(m.db, *pending)
	}

	return m.db.Close()
}

func (m *Manager) GetResume(discID string) (*Resume, error) {
	return getResume(m.db, discID)
}

// SaveResume records the disc's resume state, debounced so rapid
// track changes do not hammer the database.
func (m *Manager) SaveResume(r Resume) {
	m.saveMu.Lock()
	defer m.saveMu.Unlock()

	m.pending = &r

	if m.saveTimer != nil {
		m.saveTimer.Stop()
	}

	m.saveTimer = time.AfterFunc(saveDebounce, func() {
		m.saveMu.Lock()
		pending := m.pending
		m.pending = nil
		m.saveMu.Unlock()

		if pending != nil {
			_ = saveResume(m.db, *pending)
		}
	})
}
