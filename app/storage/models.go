package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"github.com/umputun/mail-spam/app/storage/engine"
	"github.com/umputun/mail-spam/lib/bayes"
)

// Models is a storage for fitted models, serialized to json. The byte layout
// is owned by the bayes package marshaler; this store only keeps named blobs.
type Models struct {
	*engine.SQL
	engine.RWLocker
}

// ErrModelNotFound returned by Load when no model is stored under the name
var ErrModelNotFound = errors.New("model not found")

// models-related command constants
const (
	cmdCreateModelsTable engine.DBCmd = iota + 200
	cmdCreateModelsIndexes
	cmdSaveModel
)

var modelsQueries = engine.NewQueryMap().
	Add(cmdCreateModelsTable, engine.Query{
		Sqlite: `CREATE TABLE IF NOT EXISTS models (
            name TEXT PRIMARY KEY,
            timestamp DATETIME DEFAULT CURRENT_TIMESTAMP,
            data TEXT NOT NULL
        )`,
		Postgres: `CREATE TABLE IF NOT EXISTS models (
            name TEXT PRIMARY KEY,
            timestamp TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
            data TEXT NOT NULL
        )`,
	}).
	AddSame(cmdCreateModelsIndexes,
		`CREATE INDEX IF NOT EXISTS idx_models_timestamp ON models(timestamp)`).
	Add(cmdSaveModel, engine.Query{
		Sqlite: `INSERT OR REPLACE INTO models (name, data) VALUES (?, ?)`,
		Postgres: `INSERT INTO models (name, data) VALUES ($1, $2)
                  ON CONFLICT (name) DO UPDATE SET data = EXCLUDED.data, timestamp = CURRENT_TIMESTAMP`,
	})

// NewModels creates a new models storage
func NewModels(ctx context.Context, db *engine.SQL) (*Models, error) {
	if db == nil {
		return nil, fmt.Errorf("db connection is nil")
	}
	res := &Models{SQL: db, RWLocker: db.MakeLock()}
	cfg := engine.TableConfig{
		Name:          "models",
		CreateTable:   cmdCreateModelsTable,
		CreateIndexes: cmdCreateModelsIndexes,
		Queries:       modelsQueries,
	}
	if err := engine.InitTable(ctx, db, cfg); err != nil {
		return nil, fmt.Errorf("failed to init models storage: %w", err)
	}
	return res, nil
}

// Save stores the fitted model under the given name, replacing an older one
func (m *Models) Save(ctx context.Context, name string, model *bayes.Model) error {
	if name == "" {
		return fmt.Errorf("model name can't be empty")
	}
	data, err := json.Marshal(model)
	if err != nil {
		return fmt.Errorf("failed to marshal model: %w", err)
	}

	m.Lock()
	defer m.Unlock()

	query, err := modelsQueries.Pick(m.Type(), cmdSaveModel)
	if err != nil {
		return fmt.Errorf("failed to get query: %w", err)
	}
	if _, err := m.ExecContext(ctx, query, name, string(data)); err != nil {
		return fmt.Errorf("failed to save model %s: %w", name, err)
	}
	log.Printf("[INFO] model %q saved, %s", name, model)
	return nil
}

// Load reads the fitted model stored under the given name
func (m *Models) Load(ctx context.Context, name string) (*bayes.Model, error) {
	m.RLock()
	defer m.RUnlock()

	var data string
	err := m.GetContext(ctx, &data, m.Adopt(`SELECT data FROM models WHERE name = ?`), name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrModelNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load model %s: %w", name, err)
	}

	res := &bayes.Model{}
	if err := json.Unmarshal([]byte(data), res); err != nil {
		return nil, fmt.Errorf("failed to unmarshal model %s: %w", name, err)
	}
	return res, nil
}

// List returns names of all stored models, most recent first
func (m *Models) List(ctx context.Context) ([]string, error) {
	m.RLock()
	defer m.RUnlock()

	res := []string{}
	if err := m.SelectContext(ctx, &res, `SELECT name FROM models ORDER BY timestamp DESC, name`); err != nil {
		return nil, fmt.Errorf("failed to list models: %w", err)
	}
	return res, nil
}

// Delete removes the model stored under the given name
func (m *Models) Delete(ctx context.Context, name string) error {
	m.Lock()
	defer m.Unlock()

	result, err := m.ExecContext(ctx, m.Adopt(`DELETE FROM models WHERE name = ?`), name)
	if err != nil {
		return fmt.Errorf("failed to delete model %s: %w", name, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", ErrModelNotFound, name)
	}
	return nil
}
