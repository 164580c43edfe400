package deletion

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/hourledger/hourledger/internal/shared"
)

// verifyOwnership loads every requested record and checks it belongs to owner.
// Categories are loaded concurrently; ids within a category in chunks of batch.
func verifyOwnership(ctx context.Context, repo Repository, owner string, req Request, batch int) (Verified, []Rejection, error) {
	verified := make([][]Item, len(Categories))
	rejected := make([][]Rejection, len(Categories))

	g, gctx := errgroup.WithContext(ctx)
	for i, category := range Categories {
		ids := req.IDs(category)
		if len(ids) == 0 {
			continue
		}
		g.Go(func() error {
			ok, bad, err := verifyCategory(gctx, repo, category, owner, ids, batch)
			if err != nil {
				return err
			}
			verified[i], rejected[i] = ok, bad
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	out := Verified{}
	var rejections []Rejection
	for i, category := range Categories {
		if len(verified[i]) > 0 {
			out[category] = verified[i]
		}
		rejections = append(rejections, rejected[i]...)
	}
	return out, rejections, nil
}

func verifyCategory(ctx context.Context, repo Repository, category Category, owner string, ids []string, batch int) ([]Item, []Rejection, error) {
	var (
		verified []Item
		rejected []Rejection
	)
	for chunk := range slices.Chunk(ids, batch) {
		items, err := repo.Load(ctx, category, chunk)
		if err != nil {
			return nil, nil, err
		}
		found := make(map[string]Item, len(items))
		for _, it := range items {
			found[it.ID] = it
		}
		for _, id := range chunk {
			it, ok := found[id]
			switch {
			case !ok:
				rejected = append(rejected, Rejection{ID: id, Category: category, Reason: ReasonNotFound})
			case !strings.EqualFold(strings.TrimSpace(it.Owner), owner):
				rejected = append(rejected, Rejection{ID: id, Category: category, Reason: ReasonOwnedByOther, ActualOwner: it.Owner})
			default:
				verified = append(verified, it)
			}
		}
	}
	return verified, rejected, nil
}

// ownershipError lists every rejected id, plus the owned ids withheld because
// the batch as a whole was refused.
func ownershipError(owner string, verified Verified, rejected []Rejection) error {
	var withheld []Rejection
	for _, category := range Categories {
		for _, it := range verified[category] {
			withheld = append(withheld, Rejection{ID: it.ID, Category: category, Reason: ReasonBatchRejected})
		}
	}
	return shared.PermissionDenied(
		fmt.Sprintf("ownership check failed: %d items do not belong to %s", len(rejected), owner),
		map[string]any{
			"targetOwner": owner,
			"rejected":    rejected,
			"withheld":    withheld,
		},
	)
}
