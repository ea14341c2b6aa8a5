// Package geocode resolves a company's address into a territory polygon
// looked up from a locally-loaded shapefile, used by the firmographic
// enrichment step. It intentionally does not call any external geocoding
// API: the address string is expected to already carry approximate
// coordinates or a postal code the caller resolves before calling Lookup,
// keeping this package's only external dependency the shapefile format
// itself.
package geocode

import (
	"context"
	"sync"

	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/xy"
)

// Territory is one named polygon loaded from a shapefile, e.g. a sales
// region or chapter boundary.
type Territory struct {
	Name   string
	Fields map[string]string
	Ring   *geom.Polygon
}

// Point is a WGS84 coordinate to resolve against loaded territories.
type Point struct {
	Latitude  float64
	Longitude float64
}

// Client resolves points to the territory containing them.
type Client interface {
	// Lookup returns the first loaded Territory containing pt, or ok=false
	// if pt falls outside every loaded polygon.
	Lookup(ctx context.Context, pt Point) (t Territory, ok bool)
}

type shapefileClient struct {
	mu          sync.RWMutex
	territories []Territory
}

// NewClient loads polygons from a .shp file (with its sibling .dbf for
// attribute fields) and returns a Client that resolves points against them.
func NewClient(shpPath string) (Client, error) {
	c := &shapefileClient{}
	if err := c.load(shpPath); err != nil {
		return nil, eris.Wrap(err, "geocode: load shapefile")
	}
	return c, nil
}

func (c *shapefileClient) load(shpPath string) error {
	reader, err := shp.Open(shpPath)
	if err != nil {
		return eris.Wrapf(err, "open %s", shpPath)
	}
	defer reader.Close()

	fields := reader.Fields()
	var loaded []Territory

	for reader.Next() {
		idx, shape := reader.Shape()
		poly, ok := shape.(*shp.Polygon)
		if !ok {
			continue
		}

		ring := polygonFromShp(poly)
		t := Territory{Ring: ring, Fields: make(map[string]string, len(fields))}
		for i, f := range fields {
			t.Fields[f.String()] = reader.ReadAttribute(idx, i)
		}
		if name, ok := t.Fields["NAME"]; ok {
			t.Name = name
		}
		loaded = append(loaded, t)
	}
	if err := reader.Err(); err != nil {
		return eris.Wrap(err, "read shapefile records")
	}

	c.mu.Lock()
	c.territories = loaded
	c.mu.Unlock()
	return nil
}

func (c *shapefileClient) Lookup(ctx context.Context, pt Point) (Territory, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, t := range c.territories {
		if polygonContains(t.Ring, pt) {
			return t, true
		}
	}
	return Territory{}, false
}

// polygonFromShp converts a go-shp polygon (one outer ring, WGS84 X/Y) into
// a go-geom polygon usable with xy.IsPointInRing.
func polygonFromShp(p *shp.Polygon) *geom.Polygon {
	flat := make([]float64, 0, len(p.Points)*2)
	for _, pt := range p.Points {
		flat = append(flat, pt.X, pt.Y)
	}
	g := geom.NewPolygonFlat(geom.XY, flat, []int{len(flat)})
	return g
}

func polygonContains(poly *geom.Polygon, pt Point) bool {
	if poly == nil {
		return false
	}
	ring := poly.LinearRing(0)
	return xy.IsPointInRing(ring.Layout(), geom.Coord{pt.Longitude, pt.Latitude}, ring.FlatCoords())
}
