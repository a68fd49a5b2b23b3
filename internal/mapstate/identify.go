package mapstate

import (
	"context"
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/joeblew999/plat-esri/pkg/esri"
	"github.com/joeblew999/plat-esri/pkg/services"
)

// Identify asks the mounted service id what is at point. Image services
// answer with one feature per pixel result, located at the identified
// point.
func (s *State) Identify(ctx context.Context, id string, point esri.LngLat) (*esri.FeatureCollection, error) {
	svc, ok := s.Service(id)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotMounted, id)
	}
	if err := svc.Ready(ctx); err != nil {
		return nil, err
	}
	switch v := svc.(type) {
	case *services.DynamicMapService:
		return v.Identify(ctx, point, true)
	case *services.TiledMapService:
		return v.Identify(ctx, point, true)
	case *services.FeatureService:
		return v.Identify(ctx, point, true)
	case *services.ImageService:
		res, err := v.Identify(ctx, point)
		if err != nil {
			return nil, err
		}
		loc := point
		if res.Location != nil {
			loc = *res.Location
		}
		fc := esri.NewFeatureCollection()
		for _, r := range res.Results {
			f := esri.NewFeature(geojson.NewGeometry(orb.Point{loc.Lng, loc.Lat}))
			f.Properties["value"] = r.Value
			for k, val := range r.Attributes {
				f.Properties[k] = val
			}
			fc.Append(f)
		}
		return fc, nil
	}
	return nil, fmt.Errorf("service %q does not support identify", id)
}
