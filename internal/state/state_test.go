package state

import (
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	_ "modernc.org/sqlite"
)

// setupTestDB creates an in-memory SQLite database with the schema initialized.
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("failed to open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := initSchema(db); err != nil {
		t.Fatalf("failed to init schema: %v", err)
	}
	return db
}

func TestGetResume_UnseenDisc(t *testing.T) {
	db := setupTestDB(t)

	r, err := getResume(db, "deadbeefdeadbeef")
	if err != nil {
		t.Fatalf("getResume failed: %v", err)
	}
	if r != nil {
		t.Errorf("expected nil resume for an unseen disc, got %+v", r)
	}
}

func TestSaveAndGetResume(t *testing.T) {
	db := setupTestDB(t)

	in := Resume{
		DiscID:     "deadbeefdeadbeef",
		Title:      "Kind of Blue",
		Artist:     "Miles Davis",
		LastTrack:  3,
		RepeatMode: 2,
		Shuffle:    true,
	}
	if err := saveResume(db, in); err != nil {
		t.Fatalf("saveResume failed: %v", err)
	}

	out, err := getResume(db, in.DiscID)
	if err != nil {
		t.Fatalf("getResume failed: %v", err)
	}
	if out == nil {
		t.Fatal("expected a resume record")
	}
	if out.LastTrack != 3 || out.RepeatMode != 2 || !out.Shuffle {
		t.Errorf("round trip mismatch: %+v", out)
	}
	if out.Title != "Kind of Blue" || out.Artist != "Miles Davis" {
		t.Errorf("metadata mismatch: %+v", out)
	}
	if out.SavedAt.IsZero() {
		t.Error("SavedAt not populated")
	}
}

func TestSaveResume_KeepsCallerTimestamp(t *testing.T) {
	db := setupTestDB(t)

	savedAt := time.Date(2026, time.March, 14, 9, 26, 53, 0, time.UTC)
	in := Resume{DiscID: "abc", LastTrack: 2, SavedAt: savedAt}
	if err := saveResume(db, in); err != nil {
		t.Fatalf("saveResume failed: %v", err)
	}

	out, err := getResume(db, "abc")
	if err != nil {
		t.Fatalf("getResume failed: %v", err)
	}
	if !out.SavedAt.Equal(savedAt) {
		t.Errorf("SavedAt = %v, want %v", out.SavedAt, savedAt)
	}
}

func TestSaveResume_Upserts(t *testing.T) {
	db := setupTestDB(t)

	if err := saveResume(db, Resume{DiscID: "abc", LastTrack: 1}); err != nil {
		t.Fatalf("saveResume failed: %v", err)
	}
	if err := saveResume(db, Resume{DiscID: "abc", LastTrack: 7, Shuffle: true}); err != nil {
		t.Fatalf("saveResume failed: %v", err)
	}

	out, err := getResume(db, "abc")
	if err != nil {
		t.Fatalf("getResume failed: %v", err)
	}
	if out.LastTrack != 7 || !out.Shuffle {
		t.Errorf("expected the second save to win, got %+v", out)
	}

	var count int
	if err := db.QueryRow(`SELECT COUNT(*) FROM disc_resume`).Scan(&count); err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != 1 {
		t.Errorf("expected one row per disc, got %d", count)
	}
}

func TestManager_DebouncedSaveFlushesOnClose(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "ramcd.db")
	m, err := OpenAt(dbPath)
	if err != nil {
		t.Fatalf("OpenAt failed: %v", err)
	}

	// Close before the debounce timer fires: the pending save must
	// still land.
	m.SaveResume(Resume{DiscID: "abc", LastTrack: 5})
	if err := m.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	m2, err := OpenAt(dbPath)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer m2.Close()

	out, err := m2.GetResume("abc")
	if err != nil {
		t.Fatalf("GetResume failed: %v", err)
	}
	if out == nil || out.LastTrack != 5 {
		t.Errorf("pending save lost on close: %+v", out)
	}
}

func TestManager_DebouncedSaveCoalesces(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "ramcd.db")
	m, err := OpenAt(dbPath)
	if err != nil {
		t.Fatalf("OpenAt failed: %v", err)
	}
	defer m.Close()

	for i := 0; i < 10; i++ {
		m.SaveResume(Resume{DiscID: "abc", LastTrack: i})
	}
	time.Sleep(saveDebounce + 200*time.Millisecond)

	out, err := m.GetResume("abc")
	if err != nil {
		t.Fatalf("GetResume failed: %v", err)
	}
	if out == nil || out.LastTrack != 9 {
		t.Errorf("expected the last save to win, got %+v", out)
	}
}
