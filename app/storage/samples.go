package storage

import (
	"context"
	"fmt"
	"io"
	"iter"
	"log"

	"github.com/umputun/mail-spam/app/corpus"
	"github.com/umputun/mail-spam/app/storage/engine"
	"github.com/umputun/mail-spam/lib/bayes"
)

// Samples is a storage for labeled email samples. It keeps both preset
// samples imported from the corpus directory and samples added by users at
// runtime; the full set feeds retraining.
type Samples struct {
	*engine.SQL
	engine.RWLocker
}

// samples-related command constants
const (
	cmdCreateSamplesTable engine.DBCmd = iota + 100
	cmdCreateSamplesIndexes
	cmdAddSample
)

var samplesQueries = engine.NewQueryMap().
	Add(cmdCreateSamplesTable, engine.Query{
		Sqlite: `CREATE TABLE IF NOT EXISTS samples (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            timestamp DATETIME DEFAULT CURRENT_TIMESTAMP,
            class TEXT CHECK (class IN ('ham', 'spam')),
            origin TEXT CHECK (origin IN ('preset', 'user')),
            message TEXT NOT NULL UNIQUE
        )`,
		Postgres: `CREATE TABLE IF NOT EXISTS samples (
            id SERIAL PRIMARY KEY,
            timestamp TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
            class TEXT CHECK (class IN ('ham', 'spam')),
            origin TEXT CHECK (origin IN ('preset', 'user')),
            message TEXT NOT NULL UNIQUE
        )`,
	}).
	AddSame(cmdCreateSamplesIndexes,
		`CREATE INDEX IF NOT EXISTS idx_samples_class_origin ON samples(class, origin)`).
	Add(cmdAddSample, engine.Query{
		Sqlite: `INSERT OR REPLACE INTO samples (class, origin, message) VALUES (?, ?, ?)`,
		Postgres: `INSERT INTO samples (class, origin, message) VALUES ($1, $2, $3)
                  ON CONFLICT (message) DO UPDATE SET class = EXCLUDED.class, origin = EXCLUDED.origin`,
	})

// NewSamples creates a new samples storage
func NewSamples(ctx context.Context, db *engine.SQL) (*Samples, error) {
	if db == nil {
		return nil, fmt.Errorf("db connection is nil")
	}
	res := &Samples{SQL: db, RWLocker: db.MakeLock()}
	cfg := engine.TableConfig{
		Name:          "samples",
		CreateTable:   cmdCreateSamplesTable,
		CreateIndexes: cmdCreateSamplesIndexes,
		Queries:       samplesQueries,
	}
	if err := engine.InitTable(ctx, db, cfg); err != nil {
		return nil, fmt.Errorf("failed to init samples storage: %w", err)
	}
	return res, nil
}

// Add adds a sample to the storage, replacing an already known message
func (s *Samples) Add(ctx context.Context, class bayes.Class, origin Origin, message string) error {
	dbgMsg := message
	if len(dbgMsg) > 1024 {
		dbgMsg = dbgMsg[:1024] + "..."
	}
	log.Printf("[DEBUG] adding sample: %s, %s, %q", class, origin, dbgMsg)

	if !class.Valid() {
		return fmt.Errorf("invalid sample class %q", class)
	}
	if err := origin.Validate(); err != nil {
		return err
	}
	if origin == OriginAny {
		return fmt.Errorf("can't add sample with origin 'any'")
	}
	if message == "" {
		return fmt.Errorf("message can't be empty")
	}

	s.Lock()
	defer s.Unlock()

	query, err := samplesQueries.Pick(s.Type(), cmdAddSample)
	if err != nil {
		return fmt.Errorf("failed to get query: %w", err)
	}
	if _, err := s.ExecContext(ctx, query, class, origin, message); err != nil {
		return fmt.Errorf("failed to add sample: %w", err)
	}
	return nil
}

// DeleteMessage removes a sample from the storage by its message
func (s *Samples) DeleteMessage(ctx context.Context, message string) error {
	s.Lock()
	defer s.Unlock()

	result, err := s.ExecContext(ctx, s.Adopt(`DELETE FROM samples WHERE message = ?`), message)
	if err != nil {
		return fmt.Errorf("failed to remove sample: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("sample not found")
	}
	return nil
}

// Read returns all sample messages for the given class and origin, ordered by id.
// OriginAny matches both preset and user samples.
func (s *Samples) Read(ctx context.Context, class bayes.Class, origin Origin) ([]string, error) {
	if !class.Valid() {
		return nil, fmt.Errorf("invalid sample class %q", class)
	}
	if err := origin.Validate(); err != nil {
		return nil, err
	}

	s.RLock()
	defer s.RUnlock()

	res := []string{}
	if origin == OriginAny {
		err := s.SelectContext(ctx, &res, s.Adopt(`SELECT message FROM samples WHERE class = ? ORDER BY id`), class)
		if err != nil {
			return nil, fmt.Errorf("failed to read samples: %w", err)
		}
		return res, nil
	}
	err := s.SelectContext(ctx, &res,
		s.Adopt(`SELECT message FROM samples WHERE class = ? AND origin = ? ORDER BY id`), class, origin)
	if err != nil {
		return nil, fmt.Errorf("failed to read samples: %w", err)
	}
	return res, nil
}

// Iterator returns an iterator of sample messages for the given class and origin
func (s *Samples) Iterator(ctx context.Context, class bayes.Class, origin Origin) (iter.Seq[string], error) {
	messages, err := s.Read(ctx, class, origin)
	if err != nil {
		return nil, err
	}
	return func(yield func(string) bool) {
		for _, msg := range messages {
			if !yield(msg) {
				return
			}
		}
	}, nil
}

// All returns every stored sample as a labeled training set
func (s *Samples) All(ctx context.Context) ([]bayes.Sample, error) {
	s.RLock()
	defer s.RUnlock()

	rows := []struct {
		Class   bayes.Class `db:"class"`
		Message string      `db:"message"`
	}{}
	if err := s.SelectContext(ctx, &rows, `SELECT class, message FROM samples ORDER BY id`); err != nil {
		return nil, fmt.Errorf("failed to read samples: %w", err)
	}

	res := make([]bayes.Sample, 0, len(rows))
	for _, row := range rows {
		res = append(res, bayes.Sample{Text: row.Message, Class: row.Class})
	}
	return res, nil
}

// Import adds all samples from the reader, one message per line.
// Returns the number of imported samples.
func (s *Samples) Import(ctx context.Context, class bayes.Class, origin Origin, r io.Reader) (int, error) {
	count := 0
	for message := range corpus.Lines(r) {
		if err := s.Add(ctx, class, origin, message); err != nil {
			return count, fmt.Errorf("failed to import sample: %w", err)
		}
		count++
	}
	log.Printf("[INFO] imported %d %s samples, origin %s", count, class, origin)
	return count, nil
}

// Stats holds per class and origin sample counts
type Stats struct {
	PresetSpam int `db:"preset_spam"`
	PresetHam  int `db:"preset_ham"`
	UserSpam   int `db:"user_spam"`
	UserHam    int `db:"user_ham"`
}

func (st *Stats) String() string {
	return fmt.Sprintf("spam: %d (preset: %d, user: %d), ham: %d (preset: %d, user: %d)",
		st.PresetSpam+st.UserSpam, st.PresetSpam, st.UserSpam,
		st.PresetHam+st.UserHam, st.PresetHam, st.UserHam)
}

// Stats returns sample counts per class and origin
func (s *Samples) Stats(ctx context.Context) (*Stats, error) {
	s.RLock()
	defer s.RUnlock()

	res := &Stats{}
	err := s.GetContext(ctx, res, `
        SELECT
            COALESCE(SUM(CASE WHEN class = 'spam' AND origin = 'preset' THEN 1 ELSE 0 END), 0) AS preset_spam,
            COALESCE(SUM(CASE WHEN class = 'ham'  AND origin = 'preset' THEN 1 ELSE 0 END), 0) AS preset_ham,
            COALESCE(SUM(CASE WHEN class = 'spam' AND origin = 'user' THEN 1 ELSE 0 END), 0) AS user_spam,
            COALESCE(SUM(CASE WHEN class = 'ham'  AND origin = 'user' THEN 1 ELSE 0 END), 0) AS user_ham
        FROM samples`)
	if err != nil {
		return nil, fmt.Errorf("failed to get stats: %w", err)
	}
	return res, nil
}
