package core

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/rs/zerolog"

	"github.com/go4it/marketplace/internal/config"
	"github.com/go4it/marketplace/internal/model"
	"github.com/go4it/marketplace/internal/platform"
	"github.com/go4it/marketplace/internal/store"
)

var subdomainRe = regexp.MustCompile(`^[a-z0-9-]{1,30}$`)

// SubdomainAllocator hands out globally unique hostnames under the base
// domain. The hostname index is the source of truth for uniqueness; the
// OrgApp record only mirrors the reservation it holds.
type SubdomainAllocator struct {
	store  store.Store
	policy config.Policy
	logger zerolog.Logger
}

func NewSubdomainAllocator(d Deps) *SubdomainAllocator {
	return &SubdomainAllocator{
		store:  d.Store,
		policy: d.Policy,
		logger: d.Logger.With().Str("component", "subdomain-allocator").Logger(),
	}
}

// NormalizeSubdomain trims and lower-cases candidate and checks its format.
func NormalizeSubdomain(candidate string) (string, error) {
	label := strings.ToLower(strings.TrimSpace(candidate))
	if !subdomainRe.MatchString(label) {
		return "", fmt.Errorf("%w: %q", ErrInvalidFormat, candidate)
	}
	return label, nil
}

// Reserve assigns the subdomain candidate to the OrgApp. Re-reserving the
// hostname the OrgApp already holds succeeds; one held by any other OrgApp
// fails with ErrAlreadyTaken. A previously held hostname is released once the
// new one is committed.
func (s *SubdomainAllocator) Reserve(ctx context.Context, orgID, appID, candidate string) (*model.OrgApp, error) {
	label, err := NormalizeSubdomain(candidate)
	if err != nil {
		return nil, err
	}
	if s.policy.IsReserved(label) {
		return nil, fmt.Errorf("%w: %q is reserved", ErrAlreadyTaken, label)
	}
	hostname := platform.AppHostname(label, s.policy.BaseDomain)

	existing, err := s.store.GetOrgApp(ctx, orgID, appID)
	if err != nil {
		return nil, fmt.Errorf("reserve %s for %s/%s: %w", hostname, orgID, appID, fromStore(err))
	}
	if existing.Hostname != nil && *existing.Hostname == hostname {
		return existing, nil
	}

	if err := s.store.ClaimHostname(ctx, hostname, orgID, appID); err != nil {
		if errors.Is(err, store.ErrHostnameTaken) {
			return nil, fmt.Errorf("%w: %s", ErrAlreadyTaken, hostname)
		}
		return nil, fmt.Errorf("reserve %s for %s/%s: %w", hostname, orgID, appID, fromStore(err))
	}

	var app *model.OrgApp
	var previous *string
	err = retryOnConflict(func() error {
		cur, err := s.store.GetOrgApp(ctx, orgID, appID)
		if err != nil {
			return err
		}
		if cur.Hostname != nil && *cur.Hostname == hostname {
			app, previous = cur, nil
			return nil
		}
		previous = clone(cur.Hostname)
		cur.Hostname = &hostname
		if cur.Status == model.StatusRunning {
			u := platform.HTTPSURL(hostname)
			cur.URL = &u
		}
		if err := s.store.UpdateOrgApp(ctx, cur); err != nil {
			return err
		}
		app = cur
		return nil
	})
	if err != nil {
		if rerr := s.store.ReleaseHostname(context.WithoutCancel(ctx), hostname, orgID, appID); rerr != nil {
			s.logger.Error().Err(rerr).Str("hostname", hostname).Msg("release hostname after failed reservation")
		}
		return nil, fmt.Errorf("reserve %s for %s/%s: %w", hostname, orgID, appID, err)
	}

	if previous != nil {
		if err := s.store.ReleaseHostname(ctx, *previous, orgID, appID); err != nil {
			s.logger.Warn().Err(err).Str("hostname", *previous).Msg("release previous hostname")
		}
	}
	s.logger.Info().Str("org_id", orgID).Str("app_id", appID).Str("hostname", hostname).Msg("hostname reserved")
	return app, nil
}
