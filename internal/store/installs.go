package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/metatypedev/ghjk/internal/ir"
)

// InstallsDB is the persistent record of install progress, keyed by install id.
type InstallsDB interface {
	All(ctx context.Context) ([]ir.InstallRow, error)
	Get(ctx context.Context, id string) (*ir.InstallRow, error)
	Set(ctx context.Context, row ir.InstallRow) error
	Delete(ctx context.Context, id string) error
}

var _ InstallsDB = (*Store)(nil)

// All returns every row ordered by install id.
func (s *Store) All(ctx context.Context) ([]ir.InstallRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, config, manifest, download_artifacts, install_artifacts, progress
		FROM installs
		ORDER BY id ASC COLLATE BINARY
	`)
	if err != nil {
		return nil, fmt.Errorf("query installs: %w", err)
	}
	defer rows.Close()

	var out []ir.InstallRow
	for rows.Next() {
		row, err := scanInstall(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate installs: %w", err)
	}
	return out, nil
}

// Get returns the row for id, or nil if there is none.
func (s *Store) Get(ctx context.Context, id string) (*ir.InstallRow, error) {
	row, err := scanInstall(s.db.QueryRowContext(ctx, `
		SELECT id, config, manifest, download_artifacts, install_artifacts, progress
		FROM installs
		WHERE id = ?
	`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get install %s: %w", id, err)
	}
	return row, nil
}

// Set inserts or replaces the row for row.InstallID.
func (s *Store) Set(ctx context.Context, row ir.InstallRow) error {
	if row.InstallID == "" {
		return errors.New("install row has no id")
	}
	config, err := marshalColumn("config", row.Config)
	if err != nil {
		return err
	}
	manifest, err := marshalColumn("manifest", row.Manifest)
	if err != nil {
		return err
	}
	download, err := marshalNullable("download_artifacts", row.DownloadArtifacts)
	if err != nil {
		return err
	}
	install, err := marshalNullable("install_artifacts", row.InstallArtifacts)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO installs (id, port, config, manifest, download_artifacts, install_artifacts, progress)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			port = excluded.port,
			config = excluded.config,
			manifest = excluded.manifest,
			download_artifacts = excluded.download_artifacts,
			install_artifacts = excluded.install_artifacts,
			progress = excluded.progress
	`, row.InstallID, row.Config.Port, config, manifest, download, install, string(row.Progress))
	if err != nil {
		return fmt.Errorf("set install %s: %w", row.InstallID, err)
	}
	return nil
}

// Delete removes the row for id. Deleting a missing row is not an error.
func (s *Store) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM installs WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete install %s: %w", id, err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanInstall(sc scanner) (*ir.InstallRow, error) {
	var (
		row               ir.InstallRow
		config, manifest  string
		download, install sql.NullString
		progress          string
	)
	if err := sc.Scan(&row.InstallID, &config, &manifest, &download, &install, &progress); err != nil {
		return nil, err
	}
	if err := unmarshalColumn("config", config, &row.Config); err != nil {
		return nil, err
	}
	if err := unmarshalColumn("manifest", manifest, &row.Manifest); err != nil {
		return nil, err
	}
	var err error
	if row.DownloadArtifacts, err = unmarshalNullable[ir.DownloadArtifacts]("download_artifacts", download); err != nil {
		return nil, err
	}
	if row.InstallArtifacts, err = unmarshalNullable[ir.InstallArtifacts]("install_artifacts", install); err != nil {
		return nil, err
	}
	row.Progress = ir.InstallProgress(progress)
	return &row, nil
}
