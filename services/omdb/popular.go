package omdb

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// PopularLister lists pages of popular movies.
type PopularLister interface {
	PopularMovies(ctx context.Context, page int) (*SearchResult, error)
}

// PopularIDs fetches the given pages concurrently, one request per page, and
// returns the movie IDs in page order without duplicates. It fails if any
// page fails.
func PopularIDs(ctx context.Context, lister PopularLister, pages ...int) ([]string, error) {
	if len(pages) == 0 {
		pages = []int{1, 2}
	}

	results := make([]*SearchResult, len(pages))
	g, ctx := errgroup.WithContext(ctx)
	for i, page := range pages {
		g.Go(func() error {
			result, err := lister.PopularMovies(ctx, page)
			if err != nil {
				return err
			}
			results[i] = result
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var ids []string
	for _, result := range results {
		for _, movie := range result.Movies {
			if movie.ID == "" || seen[movie.ID] {
				continue
			}
			seen[movie.ID] = true
			ids = append(ids, movie.ID)
		}
	}
	return ids, nil
}
