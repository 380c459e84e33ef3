package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/lib/pq"

	"github.com/soypete/alttext/pkg/assets"
)

// ErrDuplicate is returned when a unique constraint rejects a write.
var ErrDuplicate = errors.New("already exists")

// AssetStore provides database operations for assets and sites. File
// contents live on the Volume.
type AssetStore struct {
	db     *sql.DB
	volume *Volume
}

// NewAssetStore creates a new asset store.
func NewAssetStore(db *sql.DB, volume *Volume) *AssetStore {
	return &AssetStore{db: db, volume: volume}
}

const assetColumns = `a.id, s.site_id, a.filename, s.title, a.kind, a.mime_type, a.width, a.height, a.size,
	a.path, a.url, s.alt, a.checksum, a.created_at, a.updated_at`

// Get returns an asset scoped to a site.
func (s *AssetStore) Get(ctx context.Context, id, siteID int64) (*assets.Asset, error) {
	query := `SELECT ` + assetColumns + `
		FROM assets a JOIN asset_sites s ON s.asset_id = a.id
		WHERE a.id = $1 AND s.site_id = $2`

	a := &assets.Asset{}
	var url, checksum sql.NullString
	err := s.db.QueryRowContext(ctx, query, id, siteID).Scan(
		&a.ID,
		&a.SiteID,
		&a.Filename,
		&a.Title,
		&a.Kind,
		&a.MimeType,
		&a.Width,
		&a.Height,
		&a.Size,
		&a.Path,
		&url,
		&a.Alt,
		&checksum,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("asset %d in site %d: %w", id, siteID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	a.URL = url.String
	a.Checksum = checksum.String
	return a, nil
}

// Save writes the site-scoped title and alt text. With PropagateToAllSites the
// alt text is copied to every other site of the asset in the same transaction.
func (s *AssetStore) Save(ctx context.Context, a *assets.Asset, opts assets.SaveOptions) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	now := time.Now()
	result, err := tx.ExecContext(ctx,
		`UPDATE asset_sites SET title = $3, alt = $4, updated_at = $5 WHERE asset_id = $1 AND site_id = $2`,
		a.ID, a.SiteID, a.Title, a.Alt, now)
	if err != nil {
		return fmt.Errorf("failed to save asset %d: %w", a.ID, err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("asset %d in site %d: %w", a.ID, a.SiteID, ErrNotFound)
	}

	if opts.PropagateToAllSites {
		if _, err := tx.ExecContext(ctx,
			`UPDATE asset_sites SET alt = $3, updated_at = $4 WHERE asset_id = $1 AND site_id <> $2`,
			a.ID, a.SiteID, a.Alt, now); err != nil {
			return fmt.Errorf("failed to propagate alt text for asset %d: %w", a.ID, err)
		}
	}

	if _, err := tx.ExecContext(ctx, `UPDATE assets SET updated_at = $2 WHERE id = $1`, a.ID, now); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	a.UpdatedAt = now
	return nil
}

// Create inserts an asset and a row for every site, each starting with title
// and an empty alt text.
func (s *AssetStore) Create(ctx context.Context, a *assets.Asset) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	now := time.Now()
	err = tx.QueryRowContext(ctx, `
		INSERT INTO assets (filename, kind, mime_type, width, height, size, path, url, checksum, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)
		RETURNING id`,
		a.Filename, a.Kind, a.MimeType, a.Width, a.Height, a.Size, a.Path,
		nullString(a.URL), nullString(a.Checksum), now,
	).Scan(&a.ID)
	if err != nil {
		return fmt.Errorf("failed to insert asset: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO asset_sites (asset_id, site_id, title, alt, updated_at)
		SELECT $1, id, $2, '', $3 FROM sites`,
		a.ID, a.Title, now); err != nil {
		return fmt.Errorf("failed to insert asset sites: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	a.CreatedAt = now
	a.UpdatedAt = now
	return nil
}

// Import stores a file on the volume and creates the asset for it.
func (s *AssetStore) Import(ctx context.Context, src io.Reader, filename, title string, siteID int64) (*assets.Asset, error) {
	info, err := s.volume.Import(src, filename)
	if err != nil {
		return nil, err
	}
	a := &assets.Asset{
		SiteID:   siteID,
		Filename: info.Filename,
		Title:    title,
		Kind:     assets.KindFromMime(info.MimeType),
		MimeType: info.MimeType,
		Width:    info.Width,
		Height:   info.Height,
		Size:     info.Size,
		Path:     info.Path,
		URL:      info.URL,
		Checksum: info.Checksum,
	}
	if a.Title == "" {
		a.Title = info.Filename
	}
	if err := s.Create(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

// Contents returns the bytes of the asset's file.
func (s *AssetStore) Contents(ctx context.Context, a *assets.Asset) ([]byte, error) {
	if s.volume == nil {
		return nil, errors.New("no volume configured")
	}
	return s.volume.Read(a.Path)
}

// Rename renames the asset's file and records the new filename, path and URL.
func (s *AssetStore) Rename(ctx context.Context, a *assets.Asset, filename string) error {
	info, err := s.volume.Rename(a.Path, filename)
	if err != nil {
		return err
	}
	now := time.Now()
	if _, err := s.db.ExecContext(ctx,
		`UPDATE assets SET filename = $2, path = $3, url = $4, updated_at = $5 WHERE id = $1`,
		a.ID, info.Filename, info.Path, nullString(info.URL), now); err != nil {
		return fmt.Errorf("failed to rename asset %d: %w", a.ID, err)
	}
	a.Filename = info.Filename
	a.Path = info.Path
	a.URL = info.URL
	a.UpdatedAt = now
	return nil
}

// Sites returns all sites in display order.
func (s *AssetStore) Sites(ctx context.Context) ([]assets.Site, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, handle, name, language, is_primary, sort_order FROM sites ORDER BY sort_order, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sites []assets.Site
	for rows.Next() {
		var site assets.Site
		if err := rows.Scan(&site.ID, &site.Handle, &site.Name, &site.Language, &site.Primary, &site.SortOrder); err != nil {
			return nil, err
		}
		sites = append(sites, site)
	}
	return sites, rows.Err()
}

// CreateSite inserts a site and adds an empty row for it to every existing asset.
func (s *AssetStore) CreateSite(ctx context.Context, site *assets.Site) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	err = tx.QueryRowContext(ctx, `
		INSERT INTO sites (handle, name, language, is_primary, sort_order)
		VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		site.Handle, site.Name, site.Language, site.Primary, site.SortOrder,
	).Scan(&site.ID)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return fmt.Errorf("site %q: %w", site.Handle, ErrDuplicate)
		}
		return fmt.Errorf("failed to insert site: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO asset_sites (asset_id, site_id, title, alt, updated_at)
		SELECT a.id, $1, a.filename, '', now() FROM assets a`, site.ID); err != nil {
		return fmt.Errorf("failed to backfill asset sites: %w", err)
	}
	return tx.Commit()
}

// ListImageIDs returns image asset ids in id order. Callers page with
// AfterID set to the last id of the previous page.
func (s *AssetStore) ListImageIDs(ctx context.Context, opts assets.ListOptions) ([]int64, error) {
	query := `SELECT a.id FROM assets a JOIN asset_sites s ON s.asset_id = a.id
		WHERE a.kind = $1 AND s.site_id = $2`
	args := []interface{}{assets.KindImage, opts.SiteID}
	argIdx := 3

	if opts.MissingOnly {
		query += " AND s.alt = ''"
	}
	if opts.AfterID > 0 {
		query += fmt.Sprintf(" AND a.id > $%d", argIdx)
		args = append(args, opts.AfterID)
		argIdx++
	}
	query += " ORDER BY a.id"
	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Stats returns per-site alt text coverage for image assets. An empty siteIDs
// slice means all sites.
func (s *AssetStore) Stats(ctx context.Context, siteIDs []int64) ([]assets.SiteStats, error) {
	query := `
		SELECT si.id, si.handle, si.name,
			COUNT(a.id) AS total,
			COUNT(a.id) FILTER (WHERE s.alt <> '') AS with_alt
		FROM sites si
		LEFT JOIN asset_sites s ON s.site_id = si.id
		LEFT JOIN assets a ON a.id = s.asset_id AND a.kind = $1
		WHERE cardinality($2::bigint[]) = 0 OR si.id = ANY($2::bigint[])
		GROUP BY si.id, si.handle, si.name, si.sort_order
		ORDER BY si.sort_order, si.id`

	if siteIDs == nil {
		siteIDs = []int64{}
	}
	rows, err := s.db.QueryContext(ctx, query, assets.KindImage, pq.Array(siteIDs))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stats []assets.SiteStats
	for rows.Next() {
		var st assets.SiteStats
		if err := rows.Scan(&st.SiteID, &st.Handle, &st.Name, &st.Total, &st.WithAlt); err != nil {
			return nil, err
		}
		stats = append(stats, st)
	}
	return stats, rows.Err()
}
