package store

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/lib/pq"
	_ "modernc.org/sqlite"

	"metagen/server/internal/model"
)

//go:embed schema.sql
var schema string

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// SQLStore persists records through database/sql on Postgres or SQLite.
// Timestamps are stored as unix milliseconds so both dialects agree.
type SQLStore struct {
	db     *sql.DB
	driver string
}

func OpenSQL(ctx context.Context, driver, dsn string) (*SQLStore, error) {
	if driver != DriverPostgres && driver != DriverSQLite {
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}
	if driver == DriverSQLite {
		// One writer keeps in-memory databases on a single connection.
		db.SetMaxOpenConns(1)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	s := &SQLStore{db: db, driver: driver}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLStore) migrate(ctx context.Context) error {
	for _, stmt := range strings.Split(schema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func (s *SQLStore) Close() error { return s.db.Close() }

// rebind turns ? placeholders into $n for Postgres.
func (s *SQLStore) rebind(query string) string {
	if s.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *SQLStore) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	res, err := s.db.ExecContext(ctx, s.rebind(query), args...)
	if err != nil && isUniqueViolation(err) {
		return nil, fmt.Errorf("%w: %v", ErrConflict, err)
	}
	return res, err
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func millis(t time.Time) int64 { return t.UnixMilli() }

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

func (s *SQLStore) CreateUser(ctx context.Context, u model.User) error {
	_, err := s.exec(ctx, `INSERT INTO users (id, email, password_hash, role, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		u.ID, strings.ToLower(u.Email), u.PasswordHash, string(u.Role), u.Status, millis(u.CreatedAt), millis(u.UpdatedAt))
	return err
}

func (s *SQLStore) getUser(ctx context.Context, where string, arg any) (model.User, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT id, email, password_hash, role, status, created_at, updated_at
		FROM users WHERE `+where+` = ?`), arg)
	var (
		u                model.User
		role             string
		created, updated int64
	)
	if err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &role, &u.Status, &created, &updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.User{}, ErrNotFound
		}
		return model.User{}, err
	}
	u.Role = model.UserRole(role)
	u.CreatedAt, u.UpdatedAt = fromMillis(created), fromMillis(updated)
	return u, nil
}

func (s *SQLStore) GetUserByEmail(ctx context.Context, email string) (model.User, error) {
	return s.getUser(ctx, "email", strings.ToLower(email))
}

func (s *SQLStore) GetUserByID(ctx context.Context, id string) (model.User, error) {
	return s.getUser(ctx, "id", id)
}

func (s *SQLStore) SaveRefreshToken(ctx context.Context, tok model.RefreshToken) error {
	_, err := s.exec(ctx, `INSERT INTO refresh_tokens (id, user_id, token_hash, expires_at, revoked_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		tok.ID, tok.UserID, tok.TokenHash, millis(tok.ExpiresAt), nullMillis(tok.RevokedAt), millis(tok.CreatedAt))
	return err
}

func (s *SQLStore) GetRefreshToken(ctx context.Context, id string) (model.RefreshToken, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT id, user_id, token_hash, expires_at, revoked_at, created_at
		FROM refresh_tokens WHERE id = ?`), id)
	var (
		tok              model.RefreshToken
		expires, created int64
		revoked          sql.NullInt64
	)
	if err := row.Scan(&tok.ID, &tok.UserID, &tok.TokenHash, &expires, &revoked, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.RefreshToken{}, ErrNotFound
		}
		return model.RefreshToken{}, err
	}
	tok.ExpiresAt, tok.CreatedAt = fromMillis(expires), fromMillis(created)
	if revoked.Valid {
		t := fromMillis(revoked.Int64)
		tok.RevokedAt = &t
	}
	return tok, nil
}

func (s *SQLStore) RevokeRefreshToken(ctx context.Context, id string, revokedAt time.Time) error {
	res, err := s.exec(ctx, `UPDATE refresh_tokens SET revoked_at = ? WHERE id = ?`, millis(revokedAt), id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func nullMillis(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: millis(*t), Valid: true}
}

func (s *SQLStore) CreateAsset(ctx context.Context, a model.Asset) error {
	meta, err := json.Marshal(a.Metadata)
	if err != nil {
		return fmt.Errorf("encode asset metadata: %w", err)
	}
	var duration sql.NullFloat64
	if a.DurationSec != nil {
		duration = sql.NullFloat64{Float64: *a.DurationSec, Valid: true}
	}
	_, err = s.exec(ctx, `INSERT INTO assets (id, user_id, kind, file_name, file_type, file_size, storage_key, url, duration_sec, metadata, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.UserID, string(a.Kind), a.FileName, a.FileType, a.FileSize, a.StorageKey, a.URL, duration, string(meta), a.Status, millis(a.CreatedAt))
	return err
}

const assetColumns = `id, user_id, kind, file_name, file_type, file_size, storage_key, url, duration_sec, metadata, status, created_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanAsset(row scanner) (model.Asset, error) {
	var (
		a        model.Asset
		kind     string
		duration sql.NullFloat64
		meta     string
		created  int64
	)
	if err := row.Scan(&a.ID, &a.UserID, &kind, &a.FileName, &a.FileType, &a.FileSize, &a.StorageKey, &a.URL, &duration, &meta, &a.Status, &created); err != nil {
		return model.Asset{}, err
	}
	a.Kind = model.AssetKind(kind)
	a.CreatedAt = fromMillis(created)
	if duration.Valid {
		d := duration.Float64
		a.DurationSec = &d
	}
	if meta != "" {
		if err := json.Unmarshal([]byte(meta), &a.Metadata); err != nil {
			return model.Asset{}, fmt.Errorf("decode asset metadata: %w", err)
		}
	}
	return a, nil
}

func (s *SQLStore) GetAsset(ctx context.Context, id string) (model.Asset, error) {
	a, err := scanAsset(s.db.QueryRowContext(ctx, s.rebind(`SELECT `+assetColumns+` FROM assets WHERE id = ?`), id))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Asset{}, ErrNotFound
	}
	return a, err
}

func (s *SQLStore) ListAssets(ctx context.Context, userID string, kind model.AssetKind, page, pageSize int) ([]model.Asset, int, error) {
	page, pageSize = normalizePage(page, pageSize)
	where := `user_id = ?`
	args := []any{userID}
	if kind != "" {
		where += ` AND kind = ?`
		args = append(args, string(kind))
	}

	var total int
	if err := s.db.QueryRowContext(ctx, s.rebind(`SELECT COUNT(*) FROM assets WHERE `+where), args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := s.db.QueryContext(ctx, s.rebind(`SELECT `+assetColumns+` FROM assets WHERE `+where+
		` ORDER BY created_at DESC LIMIT ? OFFSET ?`), append(args, pageSize, (page-1)*pageSize)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	out := []model.Asset{}
	for rows.Next() {
		a, err := scanAsset(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, a)
	}
	return out, total, rows.Err()
}

func (s *SQLStore) CreateThumbnail(ctx context.Context, t model.GeneratedThumbnail) error {
	_, err := s.exec(ctx, `INSERT INTO generated_thumbnails (id, user_id, asset_id, image_url, hook_text, tone, readability, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.UserID, t.AssetID, t.ImageURL, t.HookText, string(t.Tone), string(t.Readability), millis(t.CreatedAt))
	return err
}

func (s *SQLStore) ListThumbnails(ctx context.Context, userID string, page, pageSize int) ([]model.GeneratedThumbnail, int, error) {
	page, pageSize = normalizePage(page, pageSize)
	var total int
	if err := s.db.QueryRowContext(ctx, s.rebind(`SELECT COUNT(*) FROM generated_thumbnails WHERE user_id = ?`), userID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := s.db.QueryContext(ctx, s.rebind(`SELECT id, user_id, asset_id, image_url, hook_text, tone, readability, created_at
		FROM generated_thumbnails WHERE user_id = ? ORDER BY created_at DESC LIMIT ? OFFSET ?`), userID, pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	out := []model.GeneratedThumbnail{}
	for rows.Next() {
		var (
			t                 model.GeneratedThumbnail
			tone, readability string
			created           int64
		)
		if err := rows.Scan(&t.ID, &t.UserID, &t.AssetID, &t.ImageURL, &t.HookText, &tone, &readability, &created); err != nil {
			return nil, 0, err
		}
		t.Tone, t.Readability = model.Tone(tone), model.Readability(readability)
		t.CreatedAt = fromMillis(created)
		out = append(out, t)
	}
	return out, total, rows.Err()
}
