package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"
	"github.com/spf13/cobra"

	"github.com/joeblew999/plat-esri/internal/catalog"
	"github.com/joeblew999/plat-esri/internal/config"
	"github.com/joeblew999/plat-esri/internal/mapstate"
	"github.com/joeblew999/plat-esri/pkg/esri"
	"github.com/joeblew999/plat-esri/pkg/maplibre"
	"github.com/joeblew999/plat-esri/pkg/tasks"
)

func taskOptions(cmd *cobra.Command) []tasks.Option {
	var opts []tasks.Option
	if token, _ := cmd.Flags().GetString("token"); token != "" {
		opts = append(opts, tasks.WithToken(token))
	}
	if post, _ := cmd.Flags().GetBool("post"); post {
		opts = append(opts, tasks.WithPOST())
	}
	return opts
}

func commonFlags(cmd *cobra.Command) {
	cmd.Flags().String("token", "", "ArcGIS token")
	cmd.Flags().Bool("post", false, "Send parameters in a POST body")
	cmd.Flags().BoolP("yaml", "y", false, "Output as YAML instead of JSON")
	cmd.Flags().Duration("timeout", 30*time.Second, "Request timeout")
}

func timeoutContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	d, _ := cmd.Flags().GetDuration("timeout")
	return context.WithTimeout(cmd.Context(), d)
}

func queryCmd() *cobra.Command {
	var (
		where     string
		outFields []string
		orderBy   string
		limit     int
		count     bool
		bbox      []float64
	)
	cmd := &cobra.Command{
		Use:   "query <layer-url>",
		Short: "Query a feature layer and print GeoJSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := tasks.NewQuery(args[0], taskOptions(cmd)...)
			if err != nil {
				return err
			}
			q.Where(where)
			if len(outFields) > 0 {
				q.OutFields(outFields...)
			}
			if orderBy != "" {
				q.OrderBy(orderBy, "")
			}
			if limit > 0 {
				q.Limit(limit)
			}
			if len(bbox) > 0 {
				if len(bbox) != 4 {
					return errors.New("--bbox needs west,south,east,north")
				}
				q.Intersects(esri.Bounds{
					SouthWest: esri.LngLat{Lng: bbox[0], Lat: bbox[1]},
					NorthEast: esri.LngLat{Lng: bbox[2], Lat: bbox[3]},
				})
			}

			ctx, cancel := timeoutContext(cmd)
			defer cancel()
			if count {
				n, err := q.Count(ctx)
				if err != nil {
					return err
				}
				return printOut(cmd, map[string]int{"count": n})
			}
			fc, err := q.Run(ctx)
			if err != nil {
				return err
			}
			return printOut(cmd, fc)
		},
	}
	cmd.Flags().StringVarP(&where, "where", "w", "1=1", "SQL where clause")
	cmd.Flags().StringSliceVar(&outFields, "fields", nil, "Fields to return")
	cmd.Flags().StringVar(&orderBy, "order-by", "", "Field to sort by")
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "Maximum features")
	cmd.Flags().BoolVar(&count, "count", false, "Print only the feature count")
	cmd.Flags().Float64SliceVar(&bbox, "bbox", nil, "west,south,east,north filter")
	commonFlags(cmd)
	return cmd
}

func findCmd() *cobra.Command {
	var (
		text   string
		fields []string
		layers []int
	)
	cmd := &cobra.Command{
		Use:   "find <mapserver-url>",
		Short: "Search map service attributes for text",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := tasks.NewFind(args[0], taskOptions(cmd)...)
			if err != nil {
				return err
			}
			f.SearchText(text)
			if len(fields) > 0 {
				f.SearchFields(fields...)
			}
			if len(layers) > 0 {
				f.Layers(layers...)
			}
			ctx, cancel := timeoutContext(cmd)
			defer cancel()
			fc, err := f.Run(ctx)
			if err != nil {
				return err
			}
			return printOut(cmd, fc)
		},
	}
	cmd.Flags().StringVarP(&text, "text", "t", "", "Text to search for")
	cmd.Flags().StringSliceVar(&fields, "fields", nil, "Fields to search")
	cmd.Flags().IntSliceVar(&layers, "layers", nil, "Layer ids to search")
	cmd.MarkFlagRequired("text")
	commonFlags(cmd)
	return cmd
}

func identifyCmd() *cobra.Command {
	var (
		lng, lat, zoom float64
		layers         []int
		tolerance      int
	)
	cmd := &cobra.Command{
		Use:   "identify <mapserver-url>",
		Short: "Identify features at a point",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			task, err := tasks.NewIdentifyFeatures(args[0], taskOptions(cmd)...)
			if err != nil {
				return err
			}
			m := maplibre.NewMemoryMap(orb.Point{lng, lat}, zoom, 1024, 768)
			task.On(m).At(esri.LngLat{Lng: lng, Lat: lat}).Tolerance(tolerance)
			if len(layers) > 0 {
				task.Layers(layers...)
			}
			ctx, cancel := timeoutContext(cmd)
			defer cancel()
			fc, err := task.Run(ctx)
			if err != nil {
				return err
			}
			return printOut(cmd, fc)
		},
	}
	cmd.Flags().Float64Var(&lng, "lng", 0, "Longitude")
	cmd.Flags().Float64Var(&lat, "lat", 0, "Latitude")
	cmd.Flags().Float64VarP(&zoom, "zoom", "z", 12, "Zoom used for the map extent")
	cmd.Flags().IntSliceVar(&layers, "layers", nil, "Visible layer ids")
	cmd.Flags().IntVar(&tolerance, "tolerance", 3, "Pixel tolerance")
	cmd.MarkFlagRequired("lng")
	cmd.MarkFlagRequired("lat")
	commonFlags(cmd)
	return cmd
}

// sourceCmd mounts one service on a scratch map and prints the resulting
// style, optionally with the tile URLs the renderer would request.
func sourceCmd() *cobra.Command {
	var (
		lng, lat, zoom float64
		showTiles      bool
	)
	cmd := &cobra.Command{
		Use:   "source <dynamic|tiled|image|feature|vectortile> <url>",
		Short: "Print the MapLibre style for an ArcGIS service",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			token, _ := cmd.Flags().GetString("token")
			entry := catalog.Entry{ID: "esri", Name: "esri", Type: args[0], URL: args[1], Token: token}
			if err := catalog.Validate(entry); err != nil {
				return err
			}

			state := mapstate.New(config.View{Center: [2]float64{lng, lat}, Zoom: zoom, Width: 1024, Height: 768}, nil)
			defer state.Close()
			if err := state.Mount(entry); err != nil {
				return err
			}
			svc, _ := state.Service(entry.ID)

			ctx, cancel := timeoutContext(cmd)
			defer cancel()
			if err := svc.Ready(ctx); err != nil {
				return err
			}
			if dl, ok := svc.(interface {
				AddDefaultLayer(ctx context.Context, beforeID string) error
			}); ok {
				if err := dl.AddDefaultLayer(ctx, ""); err != nil {
					return err
				}
			}

			style, err := state.Style(ctx, false)
			if err != nil {
				return err
			}
			if !showTiles {
				return printOut(cmd, style)
			}
			src := style.Sources[entry.ID]
			if src == nil || len(src.Tiles) == 0 {
				return fmt.Errorf("source %q has no tile template", entry.ID)
			}
			var urls []string
			for _, t := range maplibre.TilesInBounds(state.Map().GetBounds(), maptile.Zoom(zoom)) {
				urls = append(urls, maplibre.ExpandTileURL(src.Tiles[0], t))
			}
			return printOut(cmd, map[string]any{"source": src, "tiles": urls})
		},
	}
	cmd.Flags().Float64Var(&lng, "lng", 0, "View longitude")
	cmd.Flags().Float64Var(&lat, "lat", 0, "View latitude")
	cmd.Flags().Float64VarP(&zoom, "zoom", "z", 2, "View zoom")
	cmd.Flags().BoolVar(&showTiles, "tiles", false, "List the tile URLs covering the view")
	commonFlags(cmd)
	return cmd
}
