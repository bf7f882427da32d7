// Package geo maintains customer area subscriptions and answers, for a given
// vendor location, which connections should be notified.
package geo

import (
	"math"
	"sort"
	"sync"

	"beacon/internal/domain/entity"

	"github.com/paulmach/orb"
	orbgeo "github.com/paulmach/orb/geo"
)

const (
	kmPerDegree = 111.32

	// Cell size bounds keep the grid useful for both dense urban radii and
	// the occasional wide-area subscription.
	minCellSizeKm = 0.5
	maxCellSizeKm = 25.0
)

type cellKey struct {
	latCell int
	lonCell int
}

// Registry owns all area subscriptions, one per connection, bucketed into a
// coarse grid so matching a point inspects only nearby subscriptions instead
// of scanning everything. Candidates from the grid are still radius-checked
// with great-circle distance before inclusion.
type Registry struct {
	mu          sync.RWMutex
	subs        map[string]*entity.AreaSubscription
	grid        map[cellKey]map[string]struct{}
	cellSizeKm  float64
	sizeAtBuild int
}

// NewRegistry creates a registry seeded with the given grid cell size. The
// cell size is later re-derived from the median subscribed radius as the
// population grows or shrinks.
func NewRegistry(defaultCellSizeKm float64) *Registry {
	if defaultCellSizeKm <= 0 {
		defaultCellSizeKm = 2.0
	}

	return &Registry{
		subs:       make(map[string]*entity.AreaSubscription),
		grid:       make(map[cellKey]map[string]struct{}),
		cellSizeKm: clampCellSize(defaultCellSizeKm),
	}
}

// Subscribe registers or replaces the area for a connection. A connection is
// never registered twice: the old bucket membership is removed first.
func (r *Registry) Subscribe(connectionID string, lat, lon, radiusKm float64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if old, ok := r.subs[connectionID]; ok {
		r.removeFromGrid(old)
	}

	sub := &entity.AreaSubscription{
		ConnectionID: connectionID,
		CenterLat:    lat,
		CenterLon:    lon,
		RadiusKm:     radiusKm,
	}
	r.subs[connectionID] = sub
	r.insertIntoGrid(sub)

	r.maybeRebuild()
}

// Unsubscribe removes a connection's subscription. Idempotent: unsubscribing
// a connection with no active subscription is a no-op.
func (r *Registry) Unsubscribe(connectionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sub, ok := r.subs[connectionID]
	if !ok {
		return
	}
	r.removeFromGrid(sub)
	delete(r.subs, connectionID)

	r.maybeRebuild()
}

// FindMatching returns the connections whose area contains the point.
func (r *Registry) FindMatching(lat, lon float64) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	key := r.cellFor(lat, lon)
	bucket, ok := r.grid[key]
	if !ok {
		return nil
	}

	point := orb.Point{lon, lat}
	matched := make([]string, 0, len(bucket))
	for connID := range bucket {
		sub := r.subs[connID]
		if sub == nil {
			continue
		}
		center := orb.Point{sub.CenterLon, sub.CenterLat}
		if orbgeo.Distance(point, center) <= sub.RadiusKm*1000 {
			matched = append(matched, connID)
		}
	}

	return matched
}

// Contains reports whether a connection's current area contains the point.
func (r *Registry) Contains(connectionID string, lat, lon float64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sub, ok := r.subs[connectionID]
	if !ok {
		return false
	}

	return orbgeo.Distance(orb.Point{lon, lat}, orb.Point{sub.CenterLon, sub.CenterLat}) <= sub.RadiusKm*1000
}

// Area returns the active subscription for a connection.
func (r *Registry) Area(connectionID string) (entity.AreaSubscription, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sub, ok := r.subs[connectionID]
	if !ok {
		return entity.AreaSubscription{}, false
	}

	return *sub, true
}

// Size returns the number of active subscriptions.
func (r *Registry) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.subs)
}

// CellSizeKm returns the current grid cell size.
func (r *Registry) CellSizeKm() float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.cellSizeKm
}

// cellFor maps a point to its grid cell. Cells are squares in degree space so
// the mapping is identical for insertion and lookup at any latitude.
func (r *Registry) cellFor(lat, lon float64) cellKey {
	cellDeg := r.cellSizeKm / kmPerDegree

	return cellKey{
		latCell: int(math.Floor(lat / cellDeg)),
		lonCell: int(math.Floor(lon / cellDeg)),
	}
}

// insertIntoGrid adds the subscription to every cell its circle's bounding
// box overlaps, so a point lookup needs only the single cell containing it.
func (r *Registry) insertIntoGrid(sub *entity.AreaSubscription) {
	for _, key := range r.coveredCells(sub) {
		bucket, ok := r.grid[key]
		if !ok {
			bucket = make(map[string]struct{})
			r.grid[key] = bucket
		}
		bucket[sub.ConnectionID] = struct{}{}
	}
}

func (r *Registry) removeFromGrid(sub *entity.AreaSubscription) {
	for _, key := range r.coveredCells(sub) {
		if bucket, ok := r.grid[key]; ok {
			delete(bucket, sub.ConnectionID)
			if len(bucket) == 0 {
				delete(r.grid, key)
			}
		}
	}
}

func (r *Registry) coveredCells(sub *entity.AreaSubscription) []cellKey {
	latDelta := sub.RadiusKm / kmPerDegree
	lonDelta := latDelta
	if cosLat := math.Cos(sub.CenterLat * math.Pi / 180); cosLat > 0.01 {
		lonDelta = sub.RadiusKm / (kmPerDegree * cosLat)
	}

	minCell := r.cellFor(sub.CenterLat-latDelta, sub.CenterLon-lonDelta)
	maxCell := r.cellFor(sub.CenterLat+latDelta, sub.CenterLon+lonDelta)

	cells := make([]cellKey, 0, (maxCell.latCell-minCell.latCell+1)*(maxCell.lonCell-minCell.lonCell+1))
	for latCell := minCell.latCell; latCell <= maxCell.latCell; latCell++ {
		for lonCell := minCell.lonCell; lonCell <= maxCell.lonCell; lonCell++ {
			cells = append(cells, cellKey{latCell: latCell, lonCell: lonCell})
		}
	}

	return cells
}

// maybeRebuild re-derives the cell size from the median subscribed radius
// once the population doubles or halves since the last build. Caller must
// hold the write lock.
func (r *Registry) maybeRebuild() {
	n := len(r.subs)
	if n == 0 {
		r.sizeAtBuild = 0

		return
	}
	if r.sizeAtBuild > 0 && n < r.sizeAtBuild*2 && n > r.sizeAtBuild/2 {
		return
	}

	radii := make([]float64, 0, n)
	for _, sub := range r.subs {
		radii = append(radii, sub.RadiusKm)
	}
	sort.Float64s(radii)
	median := radii[len(radii)/2]

	newSize := clampCellSize(median)
	r.sizeAtBuild = n
	if newSize == r.cellSizeKm {
		return
	}

	r.cellSizeKm = newSize
	r.grid = make(map[cellKey]map[string]struct{}, len(r.grid))
	for _, sub := range r.subs {
		r.insertIntoGrid(sub)
	}
}

func clampCellSize(sizeKm float64) float64 {
	return math.Min(maxCellSizeKm, math.Max(minCellSizeKm, sizeKm))
}
