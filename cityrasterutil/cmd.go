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

// Package cityrasterutil holds the configuration and command glue for
// the cityraster command-line tool.
package cityrasterutil

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/lnashier/viper"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/spatialmodel/cityraster"
	"github.com/spatialmodel/cityraster/mosaic"
	"github.com/spatialmodel/cityraster/pointcloud"
	"github.com/spatialmodel/cityraster/zonal"
)

// Cfg holds configuration information.
var Cfg *viper.Viper

var options []struct {
	name, usage, shorthand string
	defaultVal             interface{}
	flagsets               []*pflag.FlagSet
}

func init() {
	// Options are the configuration options available to CityRaster.
	options = []struct {
		name, usage, shorthand string
		defaultVal             interface{}
		flagsets               []*pflag.FlagSet
	}{
		{
			name: "config",
			usage: `
              config specifies the configuration file location.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{Root.PersistentFlags()},
		},
		{
			name: "SRS",
			usage: `
              SRS specifies the authoritative coordinate reference system
              for all rasters, in a form the raster engine understands
              (for example "EPSG:31983").`,
			defaultVal: "EPSG:31983",
			flagsets:   []*pflag.FlagSet{Root.PersistentFlags()},
		},
		{
			name: "Resolution",
			usage: `
              Resolution specifies the raster cell edge length, in the
              units of the coordinate reference system.`,
			defaultVal: cityraster.DefaultResolution,
			flagsets:   []*pflag.FlagSet{Root.PersistentFlags()},
		},
		{
			name: "NoData",
			usage: `
              NoData specifies the sentinel value marking cells with no
              valid elevation.`,
			defaultVal: cityraster.DefaultNoData,
			flagsets:   []*pflag.FlagSet{Root.PersistentFlags()},
		},
		{
			name: "DataDir",
			usage: `
              DataDir specifies the base directory for per-tile rasters.
              Per-year product directories are created underneath it.`,
			defaultVal: ".",
			flagsets:   []*pflag.FlagSet{Root.PersistentFlags()},
		},
		{
			name: "MosaicDir",
			usage: `
              MosaicDir specifies the directory receiving city mosaics.`,
			defaultVal: ".",
			flagsets:   []*pflag.FlagSet{Root.PersistentFlags()},
		},
		{
			name: "ZonalDir",
			usage: `
              ZonalDir specifies the directory receiving zonal statistics
              tables.`,
			defaultVal: ".",
			flagsets:   []*pflag.FlagSet{Root.PersistentFlags()},
		},
		{
			name: "ExcludedClasses",
			usage: `
              ExcludedClasses specifies the point classification codes
              excluded from both raster products. An empty list keeps
              every class.`,
			defaultVal: []int{3, 4, 5, 19},
			flagsets:   []*pflag.FlagSet{Root.PersistentFlags()},
		},
		{
			name: "EngineTimeout",
			usage: `
              EngineTimeout bounds each external engine invocation, as a
              duration string (for example "2h"). Empty means no limit.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{Root.PersistentFlags()},
		},
		{
			name: "Year",
			usage: `
              Year specifies the survey vintage to process. For the mosaic
              command, zero means every configured vintage.`,
			shorthand:  "y",
			defaultVal: 0,
			flagsets:   []*pflag.FlagSet{rasterizeCmd.Flags(), mosaicCmd.Flags(), zonalCmd.Flags()},
		},
		{
			name: "Tile",
			usage: `
              Tile restricts rasterization to the single tile with this
              identifier. Empty processes every tile in the vintage index.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{rasterizeCmd.Flags()},
		},
		{
			name: "Overwrite",
			usage: `
              Overwrite re-rasterizes tiles whose outputs already exist
              instead of skipping them.`,
			defaultVal: false,
			flagsets:   []*pflag.FlagSet{rasterizeCmd.Flags()},
		},
		{
			name: "Workers",
			usage: `
              Workers specifies how many tiles or parcel chunks are
              processed concurrently. Zero uses one worker per CPU.`,
			defaultVal: 0,
			flagsets:   []*pflag.FlagSet{rasterizeCmd.Flags(), zonalCmd.Flags()},
		},
		{
			name: "Products",
			usage: `
              Products specifies which raster products to mosaic
              ("surface", "hag").`,
			defaultVal: []string{"surface", "hag"},
			flagsets:   []*pflag.FlagSet{mosaicCmd.Flags()},
		},
		{
			name: "Fill",
			usage: `
              Fill enables interpolation of nodata gaps in the mosaic as
              an additional output.`,
			defaultVal: false,
			flagsets:   []*pflag.FlagSet{mosaicCmd.Flags(), zonalCmd.Flags()},
		},
		{
			name: "FillMaxDistance",
			usage: `
              FillMaxDistance bounds the gap-fill interpolation search
              distance, in pixels.`,
			defaultVal: 50,
			flagsets:   []*pflag.FlagSet{mosaicCmd.Flags()},
		},
		{
			name: "FillSmoothIterations",
			usage: `
              FillSmoothIterations specifies the number of smoothing
              passes applied after gap filling.`,
			defaultVal: 2,
			flagsets:   []*pflag.FlagSet{mosaicCmd.Flags()},
		},
		{
			name: "Raster",
			usage: `
              Raster specifies the mosaic product to aggregate over
              ("surface" or "hag").`,
			defaultVal: "hag",
			flagsets:   []*pflag.FlagSet{zonalCmd.Flags()},
		},
		{
			name: "HeightThreshold",
			usage: `
              HeightThreshold specifies the value at or below which
              pixels are treated as invalid during aggregation.`,
			defaultVal: 2.0,
			flagsets:   []*pflag.FlagSet{zonalCmd.Flags()},
		},
		{
			name: "ChunkSize",
			usage: `
              ChunkSize specifies the number of parcels aggregated per
              chunk, bounding peak memory use.`,
			defaultVal: zonal.DefaultChunkSize,
			flagsets:   []*pflag.FlagSet{zonalCmd.Flags()},
		},
		{
			name: "Limit",
			usage: `
              Limit caps the number of parcels read, for test runs. Zero
              reads everything.`,
			defaultVal: 0,
			flagsets:   []*pflag.FlagSet{zonalCmd.Flags()},
		},
		{
			name: "ParcelFile",
			usage: `
              ParcelFile specifies the cadastral parcel shapefile. It may
              be a local path, an HTTP address, or a blob-storage address
              (gs://, s3://, file://).`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{zonalCmd.Flags()},
		},
		{
			name: "ParcelIDColumns",
			usage: `
              ParcelIDColumns specifies the attribute columns concatenated
              to form each parcel identifier.`,
			defaultVal: []string{"id"},
			flagsets:   []*pflag.FlagSet{zonalCmd.Flags()},
		},
		{
			name: "ParcelIDPad",
			usage: `
              ParcelIDPad left-pads each identifier column value with
              zeros to this width before concatenation. Zero disables
              padding.`,
			defaultVal: 0,
			flagsets:   []*pflag.FlagSet{zonalCmd.Flags()},
		},
		{
			name: "OutputFile",
			usage: `
              OutputFile specifies the path to the zonal statistics
              output shapefile.`,
			shorthand:  "o",
			defaultVal: "cityraster_zonal.shp",
			flagsets:   []*pflag.FlagSet{zonalCmd.Flags()},
		},
		{
			name: "Xlsx",
			usage: `
              Xlsx additionally writes the zonal statistics attribute
              table as a spreadsheet next to the shapefile.`,
			defaultVal: false,
			flagsets:   []*pflag.FlagSet{zonalCmd.Flags()},
		},
		{
			name: "CacheDir",
			usage: `
              CacheDir specifies a directory holding completed parcel
              chunk results, so an interrupted run can resume instead of
              restarting. Empty disables the on-disk cache.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{zonalCmd.Flags()},
		},
		{
			name: "OutputVariables",
			usage: `
              OutputVariables specifies additional output columns as
              expressions over the built-in ones, for example
              {"built": "valid_area / area"}.`,
			defaultVal: map[string]string{},
			flagsets:   []*pflag.FlagSet{zonalCmd.Flags()},
		},
	}

	Cfg = viper.New()

	// Set the prefix for configuration environment variables.
	Cfg.SetEnvPrefix("CITYRASTER")

	for _, option := range options {
		for i, set := range option.flagsets {
			if i != 0 { // We don't want to create the same flag twice.
				set.AddFlag(option.flagsets[0].Lookup(option.name))
				continue
			}
			switch option.defaultVal.(type) {
			case string:
				if option.shorthand == "" {
					set.String(option.name, option.defaultVal.(string), option.usage)
				} else {
					set.StringP(option.name, option.shorthand, option.defaultVal.(string), option.usage)
				}
			case []string:
				if option.shorthand == "" {
					set.StringSlice(option.name, option.defaultVal.([]string), option.usage)
				} else {
					set.StringSliceP(option.name, option.shorthand, option.defaultVal.([]string), option.usage)
				}
			case bool:
				if option.shorthand == "" {
					set.Bool(option.name, option.defaultVal.(bool), option.usage)
				} else {
					set.BoolP(option.name, option.shorthand, option.defaultVal.(bool), option.usage)
				}
			case int:
				if option.shorthand == "" {
					set.Int(option.name, option.defaultVal.(int), option.usage)
				} else {
					set.IntP(option.name, option.shorthand, option.defaultVal.(int), option.usage)
				}
			case []int:
				if option.shorthand == "" {
					set.IntSlice(option.name, option.defaultVal.([]int), option.usage)
				} else {
					set.IntSliceP(option.name, option.shorthand, option.defaultVal.([]int), option.usage)
				}
			case float64:
				if option.shorthand == "" {
					set.Float64(option.name, option.defaultVal.(float64), option.usage)
				} else {
					set.Float64P(option.name, option.shorthand, option.defaultVal.(float64), option.usage)
				}
			case map[string]string:
				b := bytes.NewBuffer(nil)
				e := json.NewEncoder(b)
				e.Encode(option.defaultVal)
				s := string(b.Bytes())
				if option.shorthand == "" {
					set.String(option.name, s, option.usage)
				} else {
					set.StringP(option.name, option.shorthand, s, option.usage)
				}
			default:
				panic("invalid argument type")
			}
			Cfg.BindPFlag(option.name, set.Lookup(option.name))
		}
	}
}

func init() {
	// Link the commands together.
	Root.AddCommand(versionCmd)
	Root.AddCommand(rasterizeCmd)
	Root.AddCommand(mosaicCmd)
	Root.AddCommand(zonalCmd)
}

// setConfig finds and reads in the configuration file, if there is one.
func setConfig() error {
	if cfgpath := Cfg.GetString("config"); cfgpath != "" {
		Cfg.SetConfigFile(cfgpath)
		if err := Cfg.ReadInConfig(); err != nil {
			return fmt.Errorf("cityraster: problem reading configuration file: %v", err)
		}
	}
	return nil
}

// engine returns the external process engine configured by the
// EngineTimeout option.
func engine() (cityraster.Engine, error) {
	s := Cfg.GetString("EngineTimeout")
	if s == "" {
		return cityraster.ExecEngine{}, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return nil, &cityraster.ConfigurationError{
			Reason: fmt.Sprintf("EngineTimeout %q: %v", s, err)}
	}
	return cityraster.ExecEngine{Timeout: d}, nil
}

// Root is the main command.
var Root = &cobra.Command{
	Use:   "cityraster",
	Short: "A city-scale elevation raster pipeline.",
	Long: `CityRaster turns airborne point-cloud surveys into city-wide elevation
rasters and per-parcel statistics. Use the subcommands specified below to
access the pipeline stages.

Refer to the subcommand documentation for configuration options and default
settings. Configuration can be changed by using a configuration file (and
providing the path to the file using the --config flag), by using
command-line arguments, or by setting environment variables in the format
'CITYRASTER_var' where 'var' is the name of the variable to be set. Many
configuration variables are additionally allowed to contain environment
variables within them.
Refer to https://github.com/spf13/viper for additional configuration
information.`,
	DisableAutoGenTag: true,
	PersistentPreRunE: func(*cobra.Command, []string) error { return setConfig() },
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Long:  "version prints the version number of this version of CityRaster.",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("CityRaster v%s\n", cityraster.Version)
	},
	DisableAutoGenTag: true,
}

// rasterizeCmd rasterizes the point-cloud tiles of one survey vintage.
var rasterizeCmd = &cobra.Command{
	Use:   "rasterize",
	Short: "Rasterize point-cloud tiles.",
	Long: `rasterize reads the tile index of one survey vintage and produces, for
each tile, a surface elevation raster and a height-above-ground raster on a
shared resolution-aligned grid. Tiles whose outputs already exist are skipped
unless --Overwrite is set, so an interrupted run can be restarted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		config, err := LoadConfig(Cfg)
		if err != nil {
			return err
		}
		year := Cfg.GetInt("Year")
		rule, err := config.Rule(year)
		if err != nil {
			return err
		}
		rule.IndexFile, err = maybeDownload(context.Background(), rule.IndexFile)
		if err != nil {
			return err
		}
		tiles, err := cityraster.LoadFootprints(rule, year)
		if err != nil {
			return err
		}
		if tileID := Cfg.GetString("Tile"); tileID != "" {
			tiles, err = cityraster.SelectTile(tiles, tileID)
			if err != nil {
				return err
			}
		}
		e, err := engine()
		if err != nil {
			return err
		}
		r := &pointcloud.Rasterizer{
			Engine:    e,
			OutputDir: config.DataDir,
			Opts: pointcloud.Options{
				Resolution: config.Resolution,
				NoData:     config.NoData,
				SRS:        config.SRS,
				Filter:     pointcloud.NewClassFilter(config.ExcludedClasses...),
			},
			Overwrite: Cfg.GetBool("Overwrite"),
		}
		results := r.ProcessTiles(context.Background(), tiles, Cfg.GetInt("Workers"))
		ok, invalid, failed := pointcloud.Summarize(results)
		logrus.WithFields(logrus.Fields{
			"year":      year,
			"succeeded": ok,
			"invalid":   invalid,
			"failed":    len(failed),
		}).Info("rasterization finished")
		for _, f := range failed {
			logrus.WithField("tile", f.TileID).Error(f.Err)
		}
		if len(failed) > 0 {
			return fmt.Errorf("cityraster: %d of %d tiles failed", len(failed), len(tiles))
		}
		return nil
	},
	DisableAutoGenTag: true,
}

// mosaicCmd assembles per-tile rasters into city mosaics.
var mosaicCmd = &cobra.Command{
	Use:   "mosaic",
	Short: "Assemble tile rasters into city mosaics.",
	Long: `mosaic assembles the per-tile rasters of one or every survey vintage
into a single city-wide raster per product, with a uniform coordinate
reference and nodata sentinel, optionally followed by gap filling.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		config, err := LoadConfig(Cfg)
		if err != nil {
			return err
		}
		var products []cityraster.Product
		for _, s := range Cfg.GetStringSlice("Products") {
			p, err := cityraster.ParseProduct(s)
			if err != nil {
				return err
			}
			products = append(products, p)
		}
		years := config.Years()
		if year := Cfg.GetInt("Year"); year != 0 {
			if _, err := config.Rule(year); err != nil {
				return err
			}
			years = []int{year}
		}
		e, err := engine()
		if err != nil {
			return err
		}
		a := &mosaic.Assembler{
			Engine:               e,
			TileBase:             config.DataDir,
			OutputDir:            config.MosaicDir,
			SRS:                  config.SRS,
			NoData:               config.NoData,
			Fill:                 Cfg.GetBool("Fill"),
			FillMaxDistance:      Cfg.GetInt("FillMaxDistance"),
			FillSmoothIterations: Cfg.GetInt("FillSmoothIterations"),
		}
		mosaics, err := a.AssembleAll(context.Background(), products, years)
		if err != nil {
			return err
		}
		for _, m := range mosaics {
			logrus.WithFields(logrus.Fields{
				"product": m.Product,
				"year":    m.Year,
				"path":    m.Path,
			}).Info("mosaic assembled")
		}
		return nil
	},
	DisableAutoGenTag: true,
}

// zonalCmd aggregates a city mosaic over cadastral parcels.
var zonalCmd = &cobra.Command{
	Use:   "zonal",
	Short: "Compute per-parcel statistics over a city mosaic.",
	Long: `zonal overlays cadastral parcel polygons on a city mosaic and computes
per-parcel statistics of the pixels whose centers fall inside each polygon,
after masking pixels at or below the height threshold. Results are written as
a shapefile, and optionally as a spreadsheet.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		config, err := LoadConfig(Cfg)
		if err != nil {
			return err
		}
		year := Cfg.GetInt("Year")
		if _, err := config.Rule(year); err != nil {
			return err
		}
		kind, err := cityraster.ParseProduct(Cfg.GetString("Raster"))
		if err != nil {
			return err
		}
		parcelFile := os.ExpandEnv(Cfg.GetString("ParcelFile"))
		if parcelFile == "" {
			return &cityraster.ConfigurationError{Reason: "ParcelFile is not set"}
		}
		parcelFile, err = maybeDownload(ctx, parcelFile)
		if err != nil {
			return err
		}
		parcels, prj, err := zonal.LoadParcels(zonal.ParcelSource{
			Path:      parcelFile,
			IDColumns: Cfg.GetStringSlice("ParcelIDColumns"),
			PadWidth:  Cfg.GetInt("ParcelIDPad"),
			Limit:     Cfg.GetInt("Limit"),
		})
		if err != nil {
			return err
		}

		mosaicFile := mosaic.StandardizedPath(config.MosaicDir, kind, year)
		if Cfg.GetBool("Fill") {
			mosaicFile = mosaic.FilledPath(config.MosaicDir, kind, year)
		}
		e, err := engine()
		if err != nil {
			return err
		}
		logrus.WithField("mosaic", mosaicFile).Info("loading mosaic band")
		band, err := cityraster.LoadBand(ctx, e, mosaicFile)
		if err != nil {
			return err
		}

		agg := &zonal.Aggregator{
			Band:            band,
			Source:          mosaicFile,
			HeightThreshold: Cfg.GetFloat64("HeightThreshold"),
			ChunkSize:       Cfg.GetInt("ChunkSize"),
			Workers:         Cfg.GetInt("Workers"),
			CacheDir:        Cfg.GetString("CacheDir"),
			Year:            year,
			Kind:            kind,
		}
		results, skipped, err := agg.Aggregate(ctx, parcels)
		if err != nil {
			return err
		}
		logrus.WithFields(logrus.Fields{
			"parcels": len(results),
			"skipped": skipped,
		}).Info("aggregation finished")

		outputFile := os.ExpandEnv(Cfg.GetString("OutputFile"))
		if !filepath.IsAbs(outputFile) && config.ZonalDir != "" {
			outputFile = filepath.Join(config.ZonalDir, outputFile)
		}
		if err := os.MkdirAll(filepath.Dir(outputFile), 0755); err != nil {
			return fmt.Errorf("cityraster: creating output directory: %v", err)
		}
		o, err := zonal.NewOutputter(outputFile,
			GetStringMapString("OutputVariables", Cfg))
		if err != nil {
			return err
		}
		if err := o.WriteShapefile(results, prj); err != nil {
			return err
		}
		if Cfg.GetBool("Xlsx") {
			return o.WriteXLSX(results)
		}
		return nil
	},
	DisableAutoGenTag: true,
}
