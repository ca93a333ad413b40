package recommend

import (
	"context"

	"fleetwatch/internal/domain"
)

// maxCandidates caps the candidate center set for one recommendation.
const maxCandidates = 20

// CenterCatalog abstracts the "nearest N active centers within R km" query.
// The storage-backed implementation uses the store's geo lookup; tests use
// an in-memory snapshot.
type CenterCatalog interface {
	NearestCenters(loc domain.GeoPoint, radiusKM float64, limit int) ([]*domain.ServiceCenter, error)
	ListActiveCenters(limit int) ([]*domain.ServiceCenter, error)
}

// FetchCandidates resolves the candidate set for scoring. With an owner
// location it takes the nearest active centers within the radius; without
// one it takes up to the cap in catalog order.
func FetchCandidates(ctx context.Context, catalog CenterCatalog, loc *domain.GeoPoint, radiusKM float64) ([]*domain.ServiceCenter, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if loc != nil {
		return catalog.NearestCenters(*loc, radiusKM, maxCandidates)
	}
	return catalog.ListActiveCenters(maxCandidates)
}
