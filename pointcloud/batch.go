/*
Copyright © 2024 the CityRaster authors.
This file is part of CityRaster.

CityRaster is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

CityRaster is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with CityRaster.  If not, see <http://www.gnu.org/licenses/>.
*/

package pointcloud

import (
	"context"
	"runtime"
	"sync"

	"github.com/spatialmodel/cityraster"
)

// TileResult reports the outcome of one tile job.
type TileResult struct {
	TileID string
	Err    error
}

// ProcessTiles rasterizes tiles concurrently with the given number of
// workers (GOMAXPROCS if workers < 1). Tiles are independent units of
// work with no shared mutable state besides the filesystem, so per-tile
// failures are isolated: every tile is attempted, and results are
// returned in input order.
func (r *Rasterizer) ProcessTiles(ctx context.Context, tiles []cityraster.TileFootprint, workers int) []TileResult {
	if workers < 1 {
		workers = runtime.GOMAXPROCS(0)
	}
	results := make([]TileResult, len(tiles))
	idx := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range idx {
				results[i] = TileResult{
					TileID: tiles[i].ID,
					Err:    r.ProcessTile(ctx, tiles[i]),
				}
			}
		}()
	}
	for i := range tiles {
		idx <- i
	}
	close(idx)
	wg.Wait()
	return results
}

// Summarize splits results into successes, skipped invalid geometries,
// and failures. Invalid geometries are counted separately because they
// are excluded rather than treated as tile failures.
func Summarize(results []TileResult) (ok int, invalid int, failed []TileResult) {
	for _, res := range results {
		switch {
		case res.Err == nil:
			ok++
		case cityraster.IsInvalidGeometry(res.Err):
			invalid++
		default:
			failed = append(failed, res)
		}
	}
	return ok, invalid, failed
}
