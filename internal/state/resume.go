package state

import (
	"database/sql"
	"errors"
	"time"
)

// Resume is the remembered position and mode for one disc.
type Resume struct {
	DiscID     string
	Title      string
	Artist     string
	LastTrack  int // 0-based index
	RepeatMode int
	Shuffle    bool
	SavedAt    time.Time
}

func getResume(db *sql.DB, discID string) (*Resume, error) {
	var r Resume
	var shuffle int
	var savedAt int64

	err := db.QueryRow(`
		SELECT disc_id, title, artist, last_track, repeat_mode, shuffle, saved_at
		FROM disc_resume WHERE disc_id = ?
	`, discID).Scan(&r.DiscID, &r.Title, &r.Artist, &r.LastTrack, &r.RepeatMode, &shuffle, &savedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil //nolint:nilnil // nil resume means an unseen disc, not an error
	}
	if err != nil {
		return nil, err
	}

	r.Shuffle = shuffle != 0
	r.SavedAt = time.Unix(savedAt, 0)
	return &r, nil
}

func saveResume(db *sql.DB, r Resume) error {
	shuffle := 0
	if r.Shuffle {
		shuffle = 1
	}
	savedAt := r.SavedAt
	if savedAt.IsZero() {
		savedAt = time.Now()
	}
	_, err := db.Exec(`
		INSERT INTO disc_resume (disc_id, title, artist, last_track, repeat_mode, shuffle, saved_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(disc_id) DO UPDATE SET
			title = excluded.title,
			artist = excluded.artist,
			last_track = excluded.last_track,
			repeat_mode = excluded.repeat_mode,
			shuffle = excluded.shuffle,
			saved_at = excluded.saved_at
	`, r.DiscID, r.Title, r.Artist, r.LastTrack, r.RepeatMode, shuffle, savedAt.Unix())
	return err
}
