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

// Package zonal overlays cadastral parcel polygons on a city mosaic and
// computes per-parcel raster statistics in bounded-memory chunks.
package zonal

import (
	"context"
	"encoding/gob"
	"fmt"
	"math"
	"runtime"
	"sort"
	"sync"

	"github.com/GaryBoone/GoStats/stats"
	"github.com/ctessum/geom"
	"github.com/ctessum/requestcache"
	"gonum.org/v1/gonum/stat"

	"github.com/spatialmodel/cityraster"
	"github.com/spatialmodel/cityraster/internal/hash"
)

func init() {
	gob.Register([]Stats{})
	gob.Register(geom.Polygon{})
	gob.Register(geom.MultiPolygon{})
}

// DefaultChunkSize is the number of parcels processed per chunk when
// the caller does not choose one.
const DefaultChunkSize = 1000

// Parcel is one cadastral polygon to aggregate over.
type Parcel struct {
	ID   string
	Geom geom.Polygonal
}

// Stats holds the aggregation result for one parcel. The theoretical
// pixel count CountTotal derives solely from the polygon area and the
// pixel area, independent of raster content; CountValid counts the
// overlapped pixels that survived the validity mask.
type Stats struct {
	ID   string
	Geom geom.Polygonal

	Area       float64
	CountTotal int
	CountValid int

	Min, Max, Sum, Mean, Median, Std float64

	ValidFrac  float64
	NoDataFrac float64
	ValidArea  float64

	Year            int
	RasterKind      string
	HeightThreshold float64
}

// chunkRange identifies one chunk of the parcel list.
type chunkRange struct {
	Start, End int
}

// Aggregator computes chunked zonal statistics over a masked city
// raster band. Pixels at or below HeightThreshold and pixels equal to
// the band's nodata value are invalid for every parcel of the run.
//
// The canonical overlap policy, applied identically to every parcel, is
// that a pixel belongs to a parcel when the pixel's center is inside or
// on the boundary of the parcel polygon.
type Aggregator struct {
	// Band is the fully loaded mosaic band.
	Band *cityraster.Band

	// Source names the mosaic the band was loaded from; it keys the
	// chunk cache so results from different mosaics never mix.
	Source string

	HeightThreshold float64

	// ChunkSize bounds the peak memory of the statistics computation
	// (DefaultChunkSize if < 1).
	ChunkSize int

	// Workers is the number of chunks processed concurrently
	// (GOMAXPROCS if < 1). Each chunk's result is cached independently.
	Workers int

	// CacheDir, if non-empty, holds chunk results on disk keyed by
	// (source, kind, year, threshold, chunk range), so a failed run can
	// resume from its completed chunks instead of restarting.
	CacheDir string

	// Year and Kind are attached to every output record.
	Year int
	Kind cityraster.Product

	parcels   []Parcel
	cache     *requestcache.Cache
	cacheOnce sync.Once
	maskOnce  sync.Once
}

// Aggregate computes statistics for every parcel, preserving parcel
// order and identity across chunks. It returns the results together
// with the count of degenerate or null parcels that were excluded from
// the output. Any chunk failure aborts the whole run.
func (a *Aggregator) Aggregate(ctx context.Context, parcels []Parcel) ([]Stats, int, error) {
	if a.Band == nil {
		return nil, 0, fmt.Errorf("zonal: no raster band loaded")
	}
	chunkSize := a.ChunkSize
	if chunkSize < 1 {
		chunkSize = DefaultChunkSize
	}
	a.maskOnce.Do(func() { a.Band.MaskBelow(a.HeightThreshold) })

	valid := make([]Parcel, 0, len(parcels))
	skipped := 0
	for _, p := range parcels {
		if degenerate(p) {
			skipped++
			continue
		}
		valid = append(valid, p)
	}
	a.parcels = valid
	a.cacheOnce.Do(a.initCache)

	out := make([]Stats, 0, len(valid))
	for start := 0; start < len(valid); start += chunkSize {
		end := start + chunkSize
		if end > len(valid) {
			end = len(valid)
		}
		req := a.cache.NewRequest(ctx, chunkRange{Start: start, End: end}, a.chunkKey(start, end))
		resultI, err := req.Result()
		if err != nil {
			return nil, skipped, fmt.Errorf("zonal: parcels %d-%d: %v", start, end, err)
		}
		out = append(out, resultI.([]Stats)...)
	}
	return out, skipped, nil
}

func degenerate(p Parcel) bool {
	if p.Geom == nil {
		return true
	}
	b := p.Geom.Bounds()
	if b == nil || b.Empty() {
		return true
	}
	return p.Geom.Area() <= 0
}

func (a *Aggregator) initCache() {
	workers := a.Workers
	if workers < 1 {
		workers = runtime.GOMAXPROCS(0)
	}
	if a.CacheDir == "" {
		a.cache = requestcache.NewCache(a.chunkWorker, workers,
			requestcache.Deduplicate(), requestcache.Memory(4))
		return
	}
	a.cache = requestcache.NewCache(a.chunkWorker, workers,
		requestcache.Deduplicate(), requestcache.Memory(4),
		requestcache.Disk(a.CacheDir, requestcache.MarshalGob, requestcache.UnmarshalGob))
}

func (a *Aggregator) chunkKey(start, end int) string {
	return fmt.Sprintf("zonal_%s_%s_%d_%g_%d_%d_of_%d",
		hash.Hash(a.Source), a.Kind, a.Year, a.HeightThreshold, start, end, len(a.parcels))
}

// chunkWorker computes the statistics for one chunk of parcels.
func (a *Aggregator) chunkWorker(ctx context.Context, request interface{}) (interface{}, error) {
	rng := request.(chunkRange)
	out := make([]Stats, 0, rng.End-rng.Start)
	for _, p := range a.parcels[rng.Start:rng.End] {
		out = append(out, a.parcelStats(p))
	}
	return out, nil
}

// parcelStats aggregates the masked band over one parcel polygon.
func (a *Aggregator) parcelStats(p Parcel) Stats {
	pixelArea := a.Band.PixelArea()
	area := p.Geom.Area()
	s := Stats{
		ID:              p.ID,
		Geom:            p.Geom,
		Area:            area,
		CountTotal:      int(math.Round(area / pixelArea)),
		Year:            a.Year,
		RasterKind:      string(a.Kind),
		HeightThreshold: a.HeightThreshold,
	}

	var acc stats.Stats
	var values []float64
	r0, r1, c0, c1 := a.Band.PixelRange(p.Geom.Bounds())
	for row := r0; row < r1; row++ {
		for col := c0; col < c1; col++ {
			v := a.Band.Data.Get(row, col)
			if math.IsNaN(v) {
				continue
			}
			if a.Band.CellCenter(row, col).Within(p.Geom) == geom.Outside {
				continue
			}
			acc.Update(v)
			values = append(values, v)
		}
	}
	s.CountValid = acc.Count()
	if len(values) > 0 {
		sort.Float64s(values)
		s.Min = acc.Min()
		s.Max = acc.Max()
		s.Sum = acc.Sum()
		s.Mean = acc.Mean()
		s.Std = acc.PopulationStandardDeviation()
		s.Median = stat.Quantile(0.5, stat.Empirical, values, nil)
	}
	if s.CountTotal > 0 {
		s.ValidFrac = float64(s.CountValid) / float64(s.CountTotal)
		s.NoDataFrac = 1 - s.ValidFrac
	}
	s.ValidArea = float64(s.CountValid) * pixelArea
	return s
}
