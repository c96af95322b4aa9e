package core

import (
	"context"
	"fmt"
	"sort"

	"github.com/rs/zerolog"

	"github.com/go4it/marketplace/internal/model"
	"github.com/go4it/marketplace/internal/store"
)

// AccessAssigner maintains which members may use an OrgApp. Access gates new
// launches only; emptying the set never stops a running instance.
type AccessAssigner struct {
	store  store.Store
	logger zerolog.Logger
}

func NewAccessAssigner(d Deps) *AccessAssigner {
	return &AccessAssigner{
		store:  d.Store,
		logger: d.Logger.With().Str("component", "access-assigner").Logger(),
	}
}

// SetAccess replaces the access set. Every id must belong to a current member
// of the organization; the roster is re-read on a retried write so a member
// removed concurrently is not granted access.
func (a *AccessAssigner) SetAccess(ctx context.Context, orgID, appID string, memberIDs []string) (*model.OrgApp, error) {
	ids := dedupe(memberIDs)

	var app *model.OrgApp
	err := retryOnConflict(func() error {
		members, err := a.store.ListMembers(ctx, orgID)
		if err != nil {
			return err
		}
		roster := make(map[string]struct{}, len(members))
		for _, m := range members {
			roster[m.ID] = struct{}{}
		}
		for _, id := range ids {
			if _, ok := roster[id]; !ok {
				return fmt.Errorf("%w: %s", ErrInvalidMember, id)
			}
		}

		cur, err := a.store.GetOrgApp(ctx, orgID, appID)
		if err != nil {
			return err
		}
		cur.AccessMemberIDs = ids
		if err := a.store.UpdateOrgApp(ctx, cur); err != nil {
			return err
		}
		app = cur
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("set access for %s/%s: %w", orgID, appID, err)
	}

	a.logger.Info().Str("org_id", orgID).Str("app_id", appID).Int("members", len(ids)).Msg("access updated")
	return app, nil
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok || id == "" {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
