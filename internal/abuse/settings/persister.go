package settings

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"warden/internal/abuse/models"
)

// NopPersister keeps nothing. Settings live only in the running process.
type NopPersister struct{}

func (NopPersister) Load(context.Context) (*models.SecuritySettings, error) { return nil, nil }

func (NopPersister) Save(context.Context, models.SecuritySettings) error { return nil }

// FilePersister stores settings as a YAML document.
type FilePersister struct {
	path string
}

func NewFilePersister(path string) *FilePersister {
	return &FilePersister{path: path}
}

// Load decodes the file onto the defaults so omitted keys keep their default
// values. A missing file means nothing was saved.
func (p *FilePersister) Load(_ context.Context) (*models.SecuritySettings, error) {
	data, err := os.ReadFile(p.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading settings file: %w", err)
	}
	s := models.DefaultSecuritySettings()
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parsing settings file %s: %w", p.path, err)
	}
	return &s, nil
}

// Save writes through a temp file and rename so readers never see a partial
// document.
func (p *FilePersister) Save(_ context.Context, s models.SecuritySettings) error {
	data, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("encoding settings: %w", err)
	}
	dir := filepath.Dir(p.path)
	tmp, err := os.CreateTemp(dir, ".security-settings-*")
	if err != nil {
		return fmt.Errorf("creating temp settings file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing settings file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing settings file: %w", err)
	}
	if err := os.Rename(tmp.Name(), p.path); err != nil {
		return fmt.Errorf("replacing settings file: %w", err)
	}
	return nil
}

// PostgresPersister keeps settings as a single JSONB row.
type PostgresPersister struct {
	db    *sql.DB
	clock func() time.Time
}

func NewPostgresPersister(db *sql.DB) *PostgresPersister {
	return &PostgresPersister{db: db, clock: time.Now}
}

func (p *PostgresPersister) Load(ctx context.Context) (*models.SecuritySettings, error) {
	var raw []byte
	err := p.db.QueryRowContext(ctx, `SELECT settings FROM security_settings WHERE id = 1`).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading security settings: %w", err)
	}
	s := models.DefaultSecuritySettings()
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("decoding security settings: %w", err)
	}
	return &s, nil
}

func (p *PostgresPersister) Save(ctx context.Context, s models.SecuritySettings) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encoding security settings: %w", err)
	}
	_, err = p.db.ExecContext(ctx, `
		INSERT INTO security_settings (id, settings, updated_at)
		VALUES (1, $1, $2)
		ON CONFLICT (id) DO UPDATE SET settings = EXCLUDED.settings, updated_at = EXCLUDED.updated_at
	`, raw, p.clock())
	if err != nil {
		return fmt.Errorf("saving security settings: %w", err)
	}
	return nil
}
