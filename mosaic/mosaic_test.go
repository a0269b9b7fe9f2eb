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

package mosaic

import (
	"context"
	"io/ioutil"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"testing"

	"github.com/spatialmodel/cityraster"
)

// fakeEngine answers projection queries with canned metadata and
// records every other invocation.
type fakeEngine struct {
	calls [][]string
	// wkt maps tile paths to their embedded coordinate reference; tiles
	// not listed report an empty one.
	wkt map[string]string
}

func (e *fakeEngine) Run(ctx context.Context, stdin []byte, name string, arg ...string) ([]byte, error) {
	e.calls = append(e.calls, append([]string{name}, arg...))
	if name == "gdalinfo" {
		path := arg[len(arg)-1]
		return []byte(`{"coordinateSystem": {"wkt": "` + e.wkt[path] + `"}}`), nil
	}
	return nil, nil
}

// commands returns the names of the invoked programs in order.
func (e *fakeEngine) commands() []string {
	var names []string
	for _, c := range e.calls {
		names = append(names, c[0])
	}
	return names
}

func writeTiles(t *testing.T, base string, product cityraster.Product, year int, ids []string) []string {
	dir := filepath.Join(base, strconv.Itoa(year), product.TileDir())
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	var paths []string
	for _, id := range ids {
		p := filepath.Join(dir, product.TileFileName(id))
		if err := ioutil.WriteFile(p, []byte("raster"), 0644); err != nil {
			t.Fatal(err)
		}
		paths = append(paths, p)
	}
	return paths
}

func testAssembler(e cityraster.Engine, base, out string) *Assembler {
	return &Assembler{
		Engine:    e,
		TileBase:  base,
		OutputDir: out,
		SRS:       "EPSG:31983",
		NoData:    cityraster.DefaultNoData,
	}
}

func TestTilePaths(t *testing.T) {
	dir, err := ioutil.TempDir("", "cityrastertest")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)
	want := writeTiles(t, dir, cityraster.Surface, 2017, []string{"0102", "0101"})

	a := testAssembler(&fakeEngine{}, dir, dir)
	got, err := a.TilePaths(cityraster.Surface, 2017)
	if err != nil {
		t.Fatal(err)
	}
	// Sorted for reproducible mosaics.
	if !reflect.DeepEqual(got, []string{want[1], want[0]}) {
		t.Errorf("got %v; want %v", got, []string{want[1], want[0]})
	}

	if _, err := a.TilePaths(cityraster.HeightAboveGround, 2017); !os.IsNotExist(err) {
		t.Errorf("got %v; want a not exist error", err)
	}
}

func TestAssemble(t *testing.T) {
	base, err := ioutil.TempDir("", "cityrastertest")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(base)
	out := filepath.Join(base, "mosaics")
	tiles := writeTiles(t, base, cityraster.HeightAboveGround, 2017, []string{"0101", "0102", "0103"})

	// Tile 0102 carries no projection and must be stamped; the others
	// must be left alone.
	e := &fakeEngine{wkt: map[string]string{
		tiles[0]: "PROJCS",
		tiles[2]: "PROJCS",
	}}
	a := testAssembler(e, base, out)
	m, err := a.Assemble(context.Background(), cityraster.HeightAboveGround, 2017, tiles)
	if err != nil {
		t.Fatal(err)
	}

	want := []string{
		"gdalinfo", "gdalinfo", "gdal_edit.py", "gdalinfo",
		"gdalbuildvrt", "gdal_translate", "gdalwarp",
	}
	if !reflect.DeepEqual(e.commands(), want) {
		t.Errorf("command sequence %v; want %v", e.commands(), want)
	}
	for _, c := range e.calls {
		if c[0] == "gdal_edit.py" {
			if !reflect.DeepEqual(c[1:], []string{"-a_srs", "EPSG:31983", tiles[1]}) {
				t.Errorf("projection stamp %v; want tile %s", c, tiles[1])
			}
		}
	}

	if m.Path != StandardizedPath(out, cityraster.HeightAboveGround, 2017) {
		t.Errorf("mosaic path %q", m.Path)
	}
	if m.FilledPath != "" {
		t.Errorf("gap filling ran without being enabled: %q", m.FilledPath)
	}

	// The tile list travels through an indirection file, not arguments.
	listFile := filepath.Join(out, "hag_2017_tiles.txt")
	b, err := ioutil.ReadFile(listFile)
	if err != nil {
		t.Fatal(err)
	}
	if got := strings.Split(strings.TrimSpace(string(b)), "\n"); !reflect.DeepEqual(got, tiles) {
		t.Errorf("tile list %v; want %v", got, tiles)
	}
	for _, c := range e.calls {
		if c[0] == "gdalbuildvrt" {
			if !contains(c, listFile) || !contains(c, "-input_file_list") {
				t.Errorf("virtual index build %v does not use the tile list file", c)
			}
			for _, tile := range tiles {
				if contains(c, tile) {
					t.Errorf("virtual index build %v names tiles directly", c)
				}
			}
		}
		if c[0] == "gdalwarp" {
			if !contains(c, "-dstnodata") || !contains(c, "-9999") {
				t.Errorf("nodata standardization %v does not set the sentinel", c)
			}
		}
	}
}

func TestAssemble_fill(t *testing.T) {
	base, err := ioutil.TempDir("", "cityrastertest")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(base)
	out := filepath.Join(base, "mosaics")
	tiles := writeTiles(t, base, cityraster.Surface, 2017, []string{"0101"})

	e := &fakeEngine{wkt: map[string]string{tiles[0]: "PROJCS"}}
	a := testAssembler(e, base, out)
	a.Fill = true
	a.FillMaxDistance = 50
	a.FillSmoothIterations = 2
	m, err := a.Assemble(context.Background(), cityraster.Surface, 2017, tiles)
	if err != nil {
		t.Fatal(err)
	}
	if m.FilledPath != FilledPath(out, cityraster.Surface, 2017) {
		t.Errorf("filled path %q", m.FilledPath)
	}
	last := e.calls[len(e.calls)-1]
	if last[0] != "gdal_fillnodata.py" || !contains(last, "-md") || !contains(last, "50") ||
		!contains(last, "-si") || !contains(last, "2") {
		t.Errorf("gap fill invocation %v", last)
	}
}

func TestAssembleAll_skipsMissing(t *testing.T) {
	base, err := ioutil.TempDir("", "cityrastertest")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(base)
	out := filepath.Join(base, "mosaics")
	tiles := writeTiles(t, base, cityraster.Surface, 2017, []string{"0101"})

	e := &fakeEngine{wkt: map[string]string{tiles[0]: "PROJCS"}}
	a := testAssembler(e, base, out)
	// Height above ground has no tiles at all; 2018 has no directory.
	mosaics, err := a.AssembleAll(context.Background(),
		[]cityraster.Product{cityraster.Surface, cityraster.HeightAboveGround},
		[]int{2017, 2018})
	if err != nil {
		t.Fatal(err)
	}
	if len(mosaics) != 1 {
		t.Fatalf("got %d mosaics; want 1", len(mosaics))
	}
	if mosaics[0].Product != cityraster.Surface || mosaics[0].Year != 2017 {
		t.Errorf("got mosaic %+v; want surface 2017", mosaics[0])
	}
}

func contains(s []string, v string) bool {
	for _, x := range s {
		if x == v {
			return true
		}
	}
	return false
}
