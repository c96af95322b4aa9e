package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/go4it/marketplace/internal/model"
)

// DB defines the database operations used by the Postgres store.
// *pgxpool.Pool satisfies this interface.
type DB interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const orgAppColumns = `org_id, app_id, status, status_message, deployed_version, latest_version, hostname,
	access_member_ids, generated_app_id, machine_id, url, attempt_id, attempt_version, attempt_mode,
	version, added_at, deployed_at, last_progress_at, updated_at`

const draftColumns = `generated_app_id, user_id, status, status_message, preview_url, instance_id,
	expires_at, created_at, updated_at, version`

type scanner interface {
	Scan(dest ...any) error
}

// Postgres is the Store backed by the core database.
type Postgres struct {
	db DB
}

func NewPostgres(db DB) *Postgres {
	return &Postgres{db: db}
}

var _ Store = (*Postgres)(nil)

func scanOrgApp(row scanner) (*model.OrgApp, error) {
	var a model.OrgApp
	err := row.Scan(&a.OrgID, &a.AppID, &a.Status, &a.StatusMessage, &a.DeployedVersion, &a.LatestVersion,
		&a.Hostname, &a.AccessMemberIDs, &a.GeneratedAppID, &a.MachineID, &a.URL, &a.AttemptID,
		&a.AttemptVersion, &a.AttemptMode, &a.Version, &a.AddedAt, &a.DeployedAt, &a.LastProgressAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if a.AccessMemberIDs == nil {
		a.AccessMemberIDs = []string{}
	}
	return &a, nil
}

func (s *Postgres) GetOrgApp(ctx context.Context, orgID, appID string) (*model.OrgApp, error) {
	a, err := scanOrgApp(s.db.QueryRow(ctx,
		`SELECT `+orgAppColumns+` FROM org_apps WHERE org_id = $1 AND app_id = $2`, orgID, appID))
	if err != nil {
		return nil, fmt.Errorf("get org app %s/%s: %w", orgID, appID, mapPostgresError(err))
	}
	return a, nil
}

func (s *Postgres) queryOrgApps(ctx context.Context, what string, sql string, args ...any) ([]model.OrgApp, error) {
	rows, err := s.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", what, mapPostgresError(err))
	}
	defer rows.Close()

	var apps []model.OrgApp
	for rows.Next() {
		a, err := scanOrgApp(rows)
		if err != nil {
			return nil, fmt.Errorf("scan org app: %w", err)
		}
		apps = append(apps, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate org apps: %w", err)
	}
	return apps, nil
}

func (s *Postgres) ListOrgAppsByOrg(ctx context.Context, orgID string) ([]model.OrgApp, error) {
	return s.queryOrgApps(ctx, "list org apps for org "+orgID,
		`SELECT `+orgAppColumns+` FROM org_apps WHERE org_id = $1 ORDER BY added_at, app_id`, orgID)
}

func (s *Postgres) ListStaleDeploying(ctx context.Context, before time.Time) ([]model.OrgApp, error) {
	return s.queryOrgApps(ctx, "list stale deploying org apps",
		`SELECT `+orgAppColumns+` FROM org_apps
		 WHERE status = $1 AND COALESCE(last_progress_at, updated_at) < $2
		 ORDER BY org_id, app_id`, model.StatusDeploying, before)
}

func (s *Postgres) CreateOrgApp(ctx context.Context, app *model.OrgApp) error {
	if app.AccessMemberIDs == nil {
		app.AccessMemberIDs = []string{}
	}
	app.Version = 1
	_, err := s.db.Exec(ctx,
		`INSERT INTO org_apps (org_id, app_id, status, status_message, deployed_version, latest_version, hostname,
		   access_member_ids, generated_app_id, machine_id, url, attempt_id, attempt_version, attempt_mode,
		   version, added_at, deployed_at, last_progress_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)`,
		app.OrgID, app.AppID, app.Status, app.StatusMessage, app.DeployedVersion, app.LatestVersion, app.Hostname,
		app.AccessMemberIDs, app.GeneratedAppID, app.MachineID, app.URL, app.AttemptID, app.AttemptVersion,
		app.AttemptMode, app.Version, app.AddedAt, app.DeployedAt, app.LastProgressAt, app.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert org app %s/%s: %w", app.OrgID, app.AppID, mapPostgresError(err))
	}
	return nil
}

func (s *Postgres) UpdateOrgApp(ctx context.Context, app *model.OrgApp) error {
	if app.AccessMemberIDs == nil {
		app.AccessMemberIDs = []string{}
	}
	var newVersion int64
	var updatedAt time.Time
	err := s.db.QueryRow(ctx,
		`UPDATE org_apps SET status = $3, status_message = $4, deployed_version = $5, latest_version = $6,
		   hostname = $7, access_member_ids = $8, generated_app_id = $9, machine_id = $10, url = $11,
		   attempt_id = $12, attempt_version = $13, attempt_mode = $14, deployed_at = $15, last_progress_at = $16,
		   version = version + 1, updated_at = now()
		 WHERE org_id = $1 AND app_id = $2 AND version = $17
		 RETURNING version, updated_at`,
		app.OrgID, app.AppID, app.Status, app.StatusMessage, app.DeployedVersion, app.LatestVersion,
		app.Hostname, app.AccessMemberIDs, app.GeneratedAppID, app.MachineID, app.URL,
		app.AttemptID, app.AttemptVersion, app.AttemptMode, app.DeployedAt, app.LastProgressAt,
		app.Version,
	).Scan(&newVersion, &updatedAt)
	if err == nil {
		app.Version = newVersion
		app.UpdatedAt = updatedAt
		return nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("update org app %s/%s: %w", app.OrgID, app.AppID, mapPostgresError(err))
	}
	return s.missOrConflict(ctx, "update", app.OrgID, app.AppID, app.Version)
}

// missOrConflict tells apart a CAS miss caused by a concurrent write from one
// caused by the row being gone.
func (s *Postgres) missOrConflict(ctx context.Context, op, orgID, appID string, expected int64) error {
	var current int64
	err := s.db.QueryRow(ctx,
		`SELECT version FROM org_apps WHERE org_id = $1 AND app_id = $2`, orgID, appID,
	).Scan(&current)
	if err != nil {
		return fmt.Errorf("%s org app %s/%s: %w", op, orgID, appID, mapPostgresError(err))
	}
	return fmt.Errorf("%s org app %s/%s: expected version %d, found %d: %w", op, orgID, appID, expected, current, ErrConflict)
}

func (s *Postgres) DeleteOrgApp(ctx context.Context, orgID, appID string, version int64) error {
	tag, err := s.db.Exec(ctx,
		`DELETE FROM org_apps WHERE org_id = $1 AND app_id = $2 AND version = $3`, orgID, appID, version)
	if err != nil {
		return fmt.Errorf("delete org app %s/%s: %w", orgID, appID, mapPostgresError(err))
	}
	if tag.RowsAffected() == 0 {
		return s.missOrConflict(ctx, "delete", orgID, appID, version)
	}
	return nil
}

func (s *Postgres) SetLatestVersion(ctx context.Context, appID, version string) (int64, error) {
	tag, err := s.db.Exec(ctx,
		`UPDATE org_apps SET latest_version = $2, version = version + 1, updated_at = now()
		 WHERE app_id = $1 AND latest_version <> $2`, appID, version)
	if err != nil {
		return 0, fmt.Errorf("set latest version for app %s: %w", appID, mapPostgresError(err))
	}
	return tag.RowsAffected(), nil
}

func (s *Postgres) ClaimHostname(ctx context.Context, hostname, orgID, appID string) error {
	tag, err := s.db.Exec(ctx,
		`INSERT INTO hostnames (hostname, org_id, app_id, created_at) VALUES ($1, $2, $3, now())
		 ON CONFLICT (hostname) DO UPDATE SET hostname = EXCLUDED.hostname
		 WHERE hostnames.org_id = EXCLUDED.org_id AND hostnames.app_id = EXCLUDED.app_id`,
		hostname, orgID, appID)
	if err != nil {
		return fmt.Errorf("claim hostname %s: %w", hostname, mapPostgresError(err))
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("claim hostname %s: %w", hostname, ErrHostnameTaken)
	}
	return nil
}

func (s *Postgres) ReleaseHostname(ctx context.Context, hostname, orgID, appID string) error {
	_, err := s.db.Exec(ctx,
		`DELETE FROM hostnames WHERE hostname = $1 AND org_id = $2 AND app_id = $3`, hostname, orgID, appID)
	if err != nil {
		return fmt.Errorf("release hostname %s: %w", hostname, mapPostgresError(err))
	}
	return nil
}

func (s *Postgres) GetOrganization(ctx context.Context, orgID string) (*model.Organization, error) {
	var o model.Organization
	err := s.db.QueryRow(ctx,
		`SELECT id, name, slug FROM organizations WHERE id = $1`, orgID,
	).Scan(&o.ID, &o.Name, &o.Slug)
	if err != nil {
		return nil, fmt.Errorf("get organization %s: %w", orgID, mapPostgresError(err))
	}
	return &o, nil
}

func (s *Postgres) ListMembers(ctx context.Context, orgID string) ([]model.Member, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, org_id, user_id, role FROM members WHERE org_id = $1 ORDER BY id`, orgID)
	if err != nil {
		return nil, fmt.Errorf("list members for org %s: %w", orgID, mapPostgresError(err))
	}
	defer rows.Close()

	var members []model.Member
	for rows.Next() {
		var m model.Member
		if err := rows.Scan(&m.ID, &m.OrgID, &m.UserID, &m.Role); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		members = append(members, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate members: %w", err)
	}
	return members, nil
}

func (s *Postgres) GetApplication(ctx context.Context, appID string) (*model.Application, error) {
	var a model.Application
	err := s.db.QueryRow(ctx,
		`SELECT id, name, latest_version, creator_org_id, generated_app_id, updated_at
		 FROM applications WHERE id = $1`, appID,
	).Scan(&a.ID, &a.Name, &a.LatestVersion, &a.CreatorOrgID, &a.GeneratedAppID, &a.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("get application %s: %w", appID, mapPostgresError(err))
	}
	return &a, nil
}

func (s *Postgres) UpdateApplicationVersion(ctx context.Context, appID, version string) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE applications SET latest_version = $2, updated_at = now() WHERE id = $1`, appID, version)
	if err != nil {
		return fmt.Errorf("update application %s version: %w", appID, mapPostgresError(err))
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update application %s version: %w", appID, ErrNotFound)
	}
	return nil
}

func (s *Postgres) GetGeneratedApp(ctx context.Context, id string) (*model.GeneratedApp, error) {
	var g model.GeneratedApp
	err := s.db.QueryRow(ctx,
		`SELECT id, org_id, source_id, created_at FROM generated_apps WHERE id = $1`, id,
	).Scan(&g.ID, &g.OrgID, &g.SourceID, &g.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("get generated app %s: %w", id, mapPostgresError(err))
	}
	return &g, nil
}

func (s *Postgres) CreateGeneratedApp(ctx context.Context, ga *model.GeneratedApp) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO generated_apps (id, org_id, source_id, created_at) VALUES ($1, $2, $3, $4)`,
		ga.ID, ga.OrgID, ga.SourceID, ga.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert generated app %s: %w", ga.ID, mapPostgresError(err))
	}
	return nil
}

func scanDraft(row scanner) (*model.DraftPreview, error) {
	var d model.DraftPreview
	err := row.Scan(&d.GeneratedAppID, &d.UserID, &d.Status, &d.StatusMessage, &d.PreviewURL, &d.InstanceID,
		&d.ExpiresAt, &d.CreatedAt, &d.UpdatedAt, &d.Version)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (s *Postgres) GetDraftPreview(ctx context.Context, generatedAppID string) (*model.DraftPreview, error) {
	d, err := scanDraft(s.db.QueryRow(ctx,
		`SELECT `+draftColumns+` FROM draft_previews WHERE generated_app_id = $1`, generatedAppID))
	if err != nil {
		return nil, fmt.Errorf("get draft preview %s: %w", generatedAppID, mapPostgresError(err))
	}
	return d, nil
}

func (s *Postgres) CreateDraftPreview(ctx context.Context, d *model.DraftPreview) error {
	d.Version = 1
	tag, err := s.db.Exec(ctx,
		`INSERT INTO draft_previews (generated_app_id, user_id, status, status_message, preview_url, instance_id,
		   expires_at, created_at, updated_at, version)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now(), 1)
		 ON CONFLICT (generated_app_id) DO NOTHING`,
		d.GeneratedAppID, d.UserID, d.Status, d.StatusMessage, d.PreviewURL, d.InstanceID, d.ExpiresAt, d.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert draft preview %s: %w", d.GeneratedAppID, mapPostgresError(err))
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("insert draft preview %s: %w", d.GeneratedAppID, ErrAlreadyExists)
	}
	return nil
}

func (s *Postgres) UpdateDraftPreview(ctx context.Context, d *model.DraftPreview) error {
	var newVersion int64
	var updatedAt time.Time
	err := s.db.QueryRow(ctx,
		`UPDATE draft_previews SET user_id = $2, status = $3, status_message = $4, preview_url = $5,
		   instance_id = $6, expires_at = $7, version = version + 1, updated_at = now()
		 WHERE generated_app_id = $1 AND version = $8
		 RETURNING version, updated_at`,
		d.GeneratedAppID, d.UserID, d.Status, d.StatusMessage, d.PreviewURL, d.InstanceID, d.ExpiresAt, d.Version,
	).Scan(&newVersion, &updatedAt)
	if err == nil {
		d.Version = newVersion
		d.UpdatedAt = updatedAt
		return nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("update draft preview %s: %w", d.GeneratedAppID, mapPostgresError(err))
	}

	var current int64
	err = s.db.QueryRow(ctx,
		`SELECT version FROM draft_previews WHERE generated_app_id = $1`, d.GeneratedAppID,
	).Scan(&current)
	if err != nil {
		return fmt.Errorf("update draft preview %s: %w", d.GeneratedAppID, mapPostgresError(err))
	}
	return fmt.Errorf("update draft preview %s: expected version %d, found %d: %w",
		d.GeneratedAppID, d.Version, current, ErrConflict)
}

func (s *Postgres) queryDrafts(ctx context.Context, what, sql string, args ...any) ([]model.DraftPreview, error) {
	rows, err := s.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", what, mapPostgresError(err))
	}
	defer rows.Close()

	var drafts []model.DraftPreview
	for rows.Next() {
		d, err := scanDraft(rows)
		if err != nil {
			return nil, fmt.Errorf("scan draft preview: %w", err)
		}
		drafts = append(drafts, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate draft previews: %w", err)
	}
	return drafts, nil
}

func (s *Postgres) ListDraftPreviewsByUser(ctx context.Context, userID string) ([]model.DraftPreview, error) {
	return s.queryDrafts(ctx, "list draft previews for user "+userID,
		`SELECT `+draftColumns+` FROM draft_previews WHERE user_id = $1 ORDER BY created_at DESC`, userID)
}

func (s *Postgres) ListExpiredDraftPreviews(ctx context.Context, now time.Time) ([]model.DraftPreview, error) {
	return s.queryDrafts(ctx, "list expired draft previews",
		`SELECT `+draftColumns+` FROM draft_previews WHERE expires_at <= $1 ORDER BY expires_at`, now)
}

func (s *Postgres) DeleteDraftPreview(ctx context.Context, generatedAppID string) error {
	_, err := s.db.Exec(ctx, `DELETE FROM draft_previews WHERE generated_app_id = $1`, generatedAppID)
	if err != nil {
		return fmt.Errorf("delete draft preview %s: %w", generatedAppID, mapPostgresError(err))
	}
	return nil
}
