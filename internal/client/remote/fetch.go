package remote

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dmitrijs2005/attendkeeper/internal/models"
	"golang.org/x/sync/errgroup"
)

// FetchAll selects every table of userID concurrently. The first failure
// cancels the other fetches.
func FetchAll(ctx context.Context, r Remote, userID string) (models.Tables, error) {
	raws := make([][]json.RawMessage, len(models.AllTables))

	g, gctx := errgroup.WithContext(ctx)
	for i, table := range models.AllTables {
		i, table := i, table
		g.Go(func() error {
			rows, err := r.Select(gctx, table, userID)
			if err != nil {
				return fmt.Errorf("select %s: %w", table, err)
			}
			raws[i] = rows
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return models.Tables{}, err
	}

	var out models.Tables
	for i, table := range models.AllTables {
		if err := out.SetRows(table, raws[i]); err != nil {
			return models.Tables{}, err
		}
	}
	out.Normalize()
	return out, nil
}
