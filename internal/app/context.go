package app

import (
	"context"
	"fmt"

	"osrsbingo/internal/domain"
	"osrsbingo/internal/repo"
)

// ResolveCompetition picks the active competition. It prefers the override,
// then the only competition in the database.
func ResolveCompetition(ctx context.Context, r repo.Repo, override string) (domain.Competition, error) {
	if override != "" {
		c, err := r.GetCompetition(ctx, override)
		if err != nil {
			return domain.Competition{}, fmt.Errorf("competition %s: %w", override, err)
		}
		return c, nil
	}
	all, err := r.ListCompetitions(ctx)
	if err != nil {
		return domain.Competition{}, err
	}
	switch len(all) {
	case 0:
		return domain.Competition{}, fmt.Errorf("no competition imported yet; run `bingo competition import`")
	case 1:
		return all[0], nil
	}
	return domain.Competition{}, fmt.Errorf("%d competitions found; use --competition", len(all))
}
