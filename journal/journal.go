package journal

import (
	"database/sql"
	"sync"
	"time"

	_ "github.com/glebarez/go-sqlite"
)

// Journal records every request the proxy answers, for operational
// visibility. It sits outside the request pipeline's correctness path:
// callers are expected to log and ignore journal errors.
type Journal struct {
	db         *sql.DB
	writeMutex *sync.Mutex
}

// Entry is one answered request.
type Entry struct {
	At          time.Time
	Method      string
	URL         string
	Status      int
	CacheStatus string
	Duration    time.Duration
}

// Stats are aggregate counts over all journaled requests.
type Stats struct {
	Total  int64 `json:"total"`
	Hits   int64 `json:"hits"`
	Misses int64 `json:"misses"`
}

// Open opens the journal with the given filename as the db.
// If the file name is empty, a new in-memory db is opened.
func Open(filename string) (*Journal, error) {
	if filename == "" {
		filename = "file::memory:?cache=shared"
	}
	db, err := sql.Open("sqlite", filename)
	if err != nil {
		return nil, err
	}
	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS requests (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		at INTEGER,
		method TEXT,
		url TEXT,
		status INTEGER,
		cache_status TEXT,
		duration_ms INTEGER
	)`)
	if err != nil {
		return nil, err
	}
	_, err = db.Exec("CREATE INDEX IF NOT EXISTS cache_status_idx ON requests (cache_status)")
	if err != nil {
		return nil, err
	}
	_, err = db.Exec("PRAGMA journal_mode=WAL")
	if err != nil {
		return nil, err
	}
	return &Journal{
		db:         db,
		writeMutex: &sync.Mutex{},
	}, nil
}

func (j *Journal) Record(e Entry) error {
	j.writeMutex.Lock()
	defer j.writeMutex.Unlock()
	_, err := j.db.Exec(`INSERT INTO requests
		(at, method, url, status, cache_status, duration_ms) VALUES (?, ?, ?, ?, ?, ?)`,
		e.At.Unix(), e.Method, e.URL, e.Status, e.CacheStatus, e.Duration.Milliseconds())
	return err
}

func (j *Journal) Stats() (Stats, error) {
	var stats Stats
	err := j.db.QueryRow(`SELECT
		COUNT(*),
		COALESCE(SUM(CASE WHEN cache_status = 'HIT' THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN cache_status = 'MISS' THEN 1 ELSE 0 END), 0)
		FROM requests`).Scan(&stats.Total, &stats.Hits, &stats.Misses)
	return stats, err
}

func (j *Journal) Close() error {
	return j.db.Close()
}
