package core

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/go4it/marketplace/internal/model"
	"github.com/go4it/marketplace/internal/store"
)

// VersionTracker keeps each OrgApp's copy of its Application's latest
// published version and derives whether an update is available.
type VersionTracker struct {
	store  store.Store
	logger zerolog.Logger
}

func NewVersionTracker(d Deps) *VersionTracker {
	return &VersionTracker{
		store:  d.Store,
		logger: d.Logger.With().Str("component", "version-tracker").Logger(),
	}
}

// Annotate refreshes LatestVersion from the catalog and sets NeedsUpdate on
// each app. Nothing is written back.
func (v *VersionTracker) Annotate(ctx context.Context, apps ...*model.OrgApp) error {
	latest := make(map[string]string)
	for _, app := range apps {
		version, ok := latest[app.AppID]
		if !ok {
			application, err := v.store.GetApplication(ctx, app.AppID)
			if err != nil {
				return fmt.Errorf("get application %s: %w", app.AppID, fromStore(err))
			}
			version = application.LatestVersion
			latest[app.AppID] = version
		}
		app.LatestVersion = version
		app.NeedsUpdate = app.Drifted()
	}
	return nil
}

// Latest returns the current published version of app's Application.
func (v *VersionTracker) Latest(ctx context.Context, app *model.OrgApp) (string, error) {
	application, err := v.store.GetApplication(ctx, app.AppID)
	if err != nil {
		return "", err
	}
	return application.LatestVersion, nil
}

// Publish records a new latest version for an Application and propagates it
// to every OrgApp of that Application. Versions are opaque strings.
func (v *VersionTracker) Publish(ctx context.Context, appID, version string) (int64, error) {
	version = strings.TrimSpace(version)
	if version == "" {
		return 0, fmt.Errorf("publish app %s: %w", appID, ErrInvalidVersion)
	}
	if err := v.store.UpdateApplicationVersion(ctx, appID, version); err != nil {
		return 0, fmt.Errorf("publish app %s: %w", appID, fromStore(err))
	}
	n, err := v.store.SetLatestVersion(ctx, appID, version)
	if err != nil {
		return 0, fmt.Errorf("propagate version %s of app %s: %w", version, appID, fromStore(err))
	}
	v.logger.Info().Str("app_id", appID).Str("version", version).Int64("org_apps", n).Msg("published new version")
	return n, nil
}
