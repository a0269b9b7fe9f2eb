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

package zonal

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/Knetic/govaluate"
	"github.com/ctessum/geom/encoding/shp"
	goshp "github.com/jonas-p/go-shp"
	"github.com/tealeg/xlsx"
)

// Outputter writes per-parcel statistics tables. Besides the built-in
// columns, callers may request extra columns defined as expressions
// over the built-in ones (for example "built" -> "valid_area / area").
type Outputter struct {
	fileName  string
	extraVars map[string]string
	exprs     map[string]*govaluate.EvaluableExpression
	extraKeys []string
}

// builtinColumns maps expression variable names to shapefile field
// names (at most 10 characters) in output order.
var builtinColumns = []struct {
	variable string
	field    string
}{
	{"area", "area"},
	{"count_total", "count_tot"},
	{"count_valid", "count_val"},
	{"min", "min"},
	{"max", "max"},
	{"sum", "sum"},
	{"mean", "mean"},
	{"median", "median"},
	{"std", "std"},
	{"valid_frac", "valid_frac"},
	{"nodata_frac", "nodata_frc"},
	{"valid_area", "valid_area"},
	{"height_threshold", "hgt_thresh"},
}

// NewOutputter initializes an Outputter writing to fileName (the .shp
// extension is substituted for spreadsheet output). extraVars maps
// additional column names to expressions; names must satisfy shapefile
// field-name constraints.
func NewOutputter(fileName string, extraVars map[string]string) (*Outputter, error) {
	o := &Outputter{
		fileName:  fileName,
		extraVars: extraVars,
		exprs:     make(map[string]*govaluate.EvaluableExpression),
	}
	funcs := map[string]govaluate.ExpressionFunction{
		"exp": func(arg ...interface{}) (interface{}, error) {
			if len(arg) != 1 {
				return nil, fmt.Errorf("zonal: got %d arguments for function 'exp', but needs 1", len(arg))
			}
			return math.Exp(arg[0].(float64)), nil
		},
		"log": func(arg ...interface{}) (interface{}, error) {
			if len(arg) != 1 {
				return nil, fmt.Errorf("zonal: got %d arguments for function 'log', but needs 1", len(arg))
			}
			return math.Log(arg[0].(float64)), nil
		},
		"sqrt": func(arg ...interface{}) (interface{}, error) {
			if len(arg) != 1 {
				return nil, fmt.Errorf("zonal: got %d arguments for function 'sqrt', but needs 1", len(arg))
			}
			return math.Sqrt(arg[0].(float64)), nil
		},
	}
	for name, expression := range extraVars {
		if err := checkOutputName(name); err != nil {
			return nil, err
		}
		expr, err := govaluate.NewEvaluableExpressionWithFunctions(expression, funcs)
		if err != nil {
			return nil, fmt.Errorf("zonal: output variable %q: %v", name, err)
		}
		o.exprs[name] = expr
		o.extraKeys = append(o.extraKeys, name)
	}
	sort.Strings(o.extraKeys)
	return o, nil
}

// checkOutputName checks that an output variable name fits in a
// shapefile field: at most 10 characters, starting with a letter, and
// containing only letters, digits, and underscores.
func checkOutputName(name string) error {
	if len(name) > 10 {
		return fmt.Errorf("zonal: output variable name %q exceeds 10 characters", name)
	}
	ok, err := regexp.MatchString(`^[A-Za-z]\w*$`, name)
	if err != nil {
		panic(err)
	}
	if !ok {
		return fmt.Errorf("zonal: output variable name %q includes unsupported characters", name)
	}
	return nil
}

// params exposes a record's built-in columns to expressions.
func params(s Stats) map[string]interface{} {
	return map[string]interface{}{
		"area":             s.Area,
		"count_total":      float64(s.CountTotal),
		"count_valid":      float64(s.CountValid),
		"min":              s.Min,
		"max":              s.Max,
		"sum":              s.Sum,
		"mean":             s.Mean,
		"median":           s.Median,
		"std":              s.Std,
		"valid_frac":       s.ValidFrac,
		"nodata_frac":      s.NoDataFrac,
		"valid_area":       s.ValidArea,
		"year":             float64(s.Year),
		"height_threshold": s.HeightThreshold,
	}
}

func (o *Outputter) extras(s Stats) ([]float64, error) {
	out := make([]float64, len(o.extraKeys))
	p := params(s)
	for i, name := range o.extraKeys {
		v, err := o.exprs[name].Evaluate(p)
		if err != nil {
			return nil, fmt.Errorf("zonal: evaluating output variable %q: %v", name, err)
		}
		f, ok := v.(float64)
		if !ok {
			return nil, fmt.Errorf("zonal: output variable %q is not numeric", name)
		}
		out[i] = f
	}
	return out, nil
}

// WriteShapefile writes the statistics records with their geometries.
// prj, if non-empty, is written alongside as the projection definition.
func (o *Outputter) WriteShapefile(results []Stats, prj string) error {
	fileBase := strings.TrimSuffix(o.fileName, filepath.Ext(o.fileName))
	fileName := fileBase + ".shp"

	fields := []goshp.Field{
		goshp.StringField("id", 32),
	}
	for _, c := range builtinColumns {
		fields = append(fields, goshp.FloatField(c.field, 14, 8))
	}
	fields = append(fields,
		goshp.NumberField("year", 10),
		goshp.StringField("raster", 16))
	for _, name := range o.extraKeys {
		fields = append(fields, goshp.FloatField(name, 14, 8))
	}

	shape, err := shp.NewEncoderFromFields(fileName, goshp.POLYGON, fields...)
	if err != nil {
		return fmt.Errorf("zonal: creating output shapefile: %v", err)
	}
	for _, s := range results {
		p := params(s)
		row := []interface{}{s.ID}
		for _, c := range builtinColumns {
			row = append(row, p[c.variable])
		}
		row = append(row, s.Year, s.RasterKind)
		extras, err := o.extras(s)
		if err != nil {
			return err
		}
		for _, v := range extras {
			row = append(row, v)
		}
		if err := shape.EncodeFields(s.Geom, row...); err != nil {
			return fmt.Errorf("zonal: writing output shapefile: %v", err)
		}
	}
	shape.Close()

	if prj != "" {
		f, err := os.Create(fileBase + ".prj")
		if err != nil {
			return fmt.Errorf("zonal: creating output prj file: %v", err)
		}
		fmt.Fprint(f, prj)
		f.Close()
	}
	return nil
}

// WriteXLSX writes the attribute table (without geometries) as a
// spreadsheet next to the shapefile output.
func (o *Outputter) WriteXLSX(results []Stats) error {
	fileBase := strings.TrimSuffix(o.fileName, filepath.Ext(o.fileName))
	f := xlsx.NewFile()
	sheet, err := f.AddSheet("zonal_stats")
	if err != nil {
		return fmt.Errorf("zonal: creating spreadsheet: %v", err)
	}

	header := sheet.AddRow()
	header.AddCell().SetString("id")
	for _, c := range builtinColumns {
		header.AddCell().SetString(c.variable)
	}
	header.AddCell().SetString("year")
	header.AddCell().SetString("raster")
	for _, name := range o.extraKeys {
		header.AddCell().SetString(name)
	}

	for _, s := range results {
		p := params(s)
		row := sheet.AddRow()
		row.AddCell().SetString(s.ID)
		for _, c := range builtinColumns {
			row.AddCell().SetFloat(p[c.variable].(float64))
		}
		row.AddCell().SetInt(s.Year)
		row.AddCell().SetString(s.RasterKind)
		extras, err := o.extras(s)
		if err != nil {
			return err
		}
		for _, v := range extras {
			row.AddCell().SetFloat(v)
		}
	}
	if err := f.Save(fileBase + ".xlsx"); err != nil {
		return fmt.Errorf("zonal: saving spreadsheet: %v", err)
	}
	return nil
}
