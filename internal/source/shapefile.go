package source

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/overlap-cli/internal/geometry"
	"github.com/sells-group/overlap-cli/internal/layer"
)

// Shapefile reads an ESRI shapefile and its .dbf, .prj and .cpg sidecars.
type Shapefile struct {
	path    string
	name    string
	srs     geometry.SRS
	hasSRS  bool
	srsErr  error
	fields  []layer.Field
	decoder attrDecoder
}

var _ layer.Source = (*Shapefile)(nil)

// OpenShapefile validates the shapefile at path and reads its metadata.
func OpenShapefile(path string) (*Shapefile, error) {
	if !strings.EqualFold(filepath.Ext(path), ".shp") {
		return nil, eris.Errorf("source: %s is not a .shp file", path)
	}
	if _, err := os.Stat(path); err != nil {
		return nil, eris.Wrapf(err, "source: open shapefile %s", path)
	}
	base := strings.TrimSuffix(path, filepath.Ext(path))

	s := &Shapefile{path: path, name: filepath.Base(base)}

	var err error
	s.srs, s.hasSRS, err = readPRJ(base + ".prj")
	if err != nil {
		if !eris.Is(err, geometry.ErrUnsupportedSRS) {
			return nil, err
		}
		s.srsErr = err
	}
	s.decoder, err = readCPG(base + ".cpg")
	if err != nil {
		return nil, err
	}

	reader, err := shp.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "source: open shapefile %s", path)
	}
	defer func() { _ = reader.Close() }()

	if hasDBF(base) {
		for _, f := range reader.Fields() {
			s.fields = append(s.fields, layer.Field{Name: f.String(), Type: dbfType(f.Fieldtype)})
		}
	}
	return s, nil
}

func hasDBF(base string) bool {
	_, err := os.Stat(base + ".dbf")
	return err == nil
}

func dbfType(t byte) string {
	switch t {
	case 'C':
		return "string"
	case 'N', 'F':
		return "number"
	case 'D':
		return "date"
	case 'L':
		return "bool"
	}
	return string(t)
}

func (s *Shapefile) Name() string { return s.name }

func (s *Shapefile) SRS() (geometry.SRS, bool) { return s.srs, s.hasSRS }

// SRSError reports a .prj naming a reference system outside the registry.
func (s *Shapefile) SRSError() error { return s.srsErr }

func (s *Shapefile) Fields() []layer.Field { return s.fields }

// Scan reads the file from the start on every call.
func (s *Shapefile) Scan(ctx context.Context, fn func(layer.Feature) error) error {
	reader, err := shp.Open(s.path)
	if err != nil {
		return eris.Wrapf(err, "source: open shapefile %s", s.path)
	}
	defer func() { _ = reader.Close() }()

	var skipped int
	for reader.Next() {
		if err := ctx.Err(); err != nil {
			return err
		}
		idx, shape := reader.Shape()

		attrs := make(map[string]layer.Value, len(s.fields))
		for i, f := range s.fields {
			raw := strings.TrimSpace(strings.TrimRight(reader.Attribute(i), "\x00"))
			attrs[f.Name] = layer.StringValue(s.decoder.decode(raw))
		}

		g := shapeGeom(shape)
		if g == nil {
			skipped++
		}
		if err := fn(layer.Feature{ID: int64(idx + 1), Attributes: attrs, Geometry: g}); err != nil {
			return err
		}
	}
	if err := reader.Err(); err != nil {
		return eris.Wrapf(err, "source: read shapefile %s", s.path)
	}

	if skipped > 0 {
		zap.L().Debug("source: shapefile records without usable geometry",
			zap.String("layer", s.name),
			zap.Int("skipped", skipped),
		)
	}
	return nil
}

func (s *Shapefile) Close() error { return nil }
