package source

import (
	"context"
	"database/sql"
	"strings"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/overlap-cli/internal/geometry"
	"github.com/sells-group/overlap-cli/internal/layer"
)

// GeoPackage reads one feature table of an OGC GeoPackage.
type GeoPackage struct {
	db      *sql.DB
	path    string
	table   string
	geomCol string
	pkCol   string
	srs     geometry.SRS
	hasSRS  bool
	srsErr  error
	fields  []layer.Field
}

var _ layer.Source = (*GeoPackage)(nil)

// OpenGeoPackage opens path read-only. An empty table selects the only
// feature table in the package.
func OpenGeoPackage(ctx context.Context, path, table string) (*GeoPackage, error) {
	db, err := sql.Open("sqlite", "file:"+path+"?mode=ro")
	if err != nil {
		return nil, eris.Wrap(err, "gpkg: open")
	}
	g := &GeoPackage{db: db, path: path, table: table}
	if err := g.init(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return g, nil
}

func (g *GeoPackage) init(ctx context.Context) error {
	if g.table == "" {
		tables, err := g.featureTables(ctx)
		if err != nil {
			return err
		}
		if len(tables) != 1 {
			return eris.Errorf("gpkg: %s has %d feature tables %v, set a layer", g.path, len(tables), tables)
		}
		g.table = tables[0]
	}

	var srsID int64
	err := g.db.QueryRowContext(ctx,
		`SELECT column_name, srs_id FROM gpkg_geometry_columns WHERE table_name = ?`, g.table,
	).Scan(&g.geomCol, &srsID)
	if err == sql.ErrNoRows {
		return eris.Errorf("gpkg: %s has no feature table %q", g.path, g.table)
	}
	if err != nil {
		return eris.Wrapf(err, "gpkg: geometry column of %s", g.table)
	}

	if err := g.resolveSRS(ctx, srsID); err != nil {
		return err
	}
	return g.loadColumns(ctx)
}

func (g *GeoPackage) featureTables(ctx context.Context) ([]string, error) {
	rows, err := g.db.QueryContext(ctx,
		`SELECT table_name FROM gpkg_contents WHERE data_type = 'features' ORDER BY table_name`)
	if err != nil {
		return nil, eris.Wrapf(err, "gpkg: list contents of %s", g.path)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, eris.Wrap(err, "gpkg: scan contents")
		}
		out = append(out, name)
	}
	return out, rows.Err()
}

// resolveSRS resolves a gpkg_spatial_ref_sys entry through PROJ. The
// reserved ids 0 and -1 mean undefined.
func (g *GeoPackage) resolveSRS(ctx context.Context, srsID int64) error {
	if srsID == 0 || srsID == -1 {
		return nil
	}
	var org, definition string
	var orgID int64
	err := g.db.QueryRowContext(ctx,
		`SELECT organization, organization_coordsys_id, definition FROM gpkg_spatial_ref_sys WHERE srs_id = ?`, srsID,
	).Scan(&org, &orgID, &definition)
	if err != nil {
		return eris.Wrapf(err, "gpkg: spatial reference %d", srsID)
	}

	var s geometry.SRS
	if strings.EqualFold(org, "EPSG") {
		s, err = geometry.LookupSRS(int(orgID))
	} else {
		s, err = geometry.ParseSRS(definition)
	}
	if err != nil {
		if !eris.Is(err, geometry.ErrUnsupportedSRS) {
			return eris.Wrapf(err, "gpkg: %s", g.table)
		}
		g.srsErr = eris.Wrapf(err, "gpkg: %s", g.table)
		return nil
	}
	g.srs, g.hasSRS = s, true
	return nil
}

func (g *GeoPackage) loadColumns(ctx context.Context) error {
	rows, err := g.db.QueryContext(ctx, `SELECT name, type, pk FROM pragma_table_info(?)`, g.table)
	if err != nil {
		return eris.Wrapf(err, "gpkg: columns of %s", g.table)
	}
	defer rows.Close()

	for rows.Next() {
		var name, typ string
		var pk int
		if err := rows.Scan(&name, &typ, &pk); err != nil {
			return eris.Wrap(err, "gpkg: scan column")
		}
		switch {
		case strings.EqualFold(name, g.geomCol):
		case pk == 1 && g.pkCol == "":
			g.pkCol = name
		default:
			g.fields = append(g.fields, layer.Field{Name: name, Type: strings.ToLower(typ)})
		}
	}
	return rows.Err()
}

func (g *GeoPackage) Name() string { return g.table }

func (g *GeoPackage) SRS() (geometry.SRS, bool) { return g.srs, g.hasSRS }

// SRSError reports a spatial reference outside the registry.
func (g *GeoPackage) SRSError() error { return g.srsErr }

func (g *GeoPackage) Fields() []layer.Field { return g.fields }

func (g *GeoPackage) Scan(ctx context.Context, fn func(layer.Feature) error) error {
	cols := []string{"rowid", quoteIdent(g.geomCol)}
	if g.pkCol != "" {
		cols[0] = quoteIdent(g.pkCol)
	}
	for _, f := range g.fields {
		cols = append(cols, quoteIdent(f.Name))
	}
	query := "SELECT " + strings.Join(cols, ", ") + " FROM " + quoteIdent(g.table) + " ORDER BY 1"

	rows, err := g.db.QueryContext(ctx, query)
	if err != nil {
		return eris.Wrapf(err, "gpkg: query %s", g.table)
	}
	defer rows.Close()

	for rows.Next() {
		var id int64
		var blob []byte
		vals := make([]sql.NullString, len(g.fields))
		dest := []any{&id, &blob}
		for i := range vals {
			dest = append(dest, &vals[i])
		}
		if err := rows.Scan(dest...); err != nil {
			return eris.Wrapf(err, "gpkg: scan %s", g.table)
		}

		feat := layer.Feature{ID: id, Attributes: make(map[string]layer.Value, len(g.fields))}
		for i, f := range g.fields {
			if vals[i].Valid {
				feat.Attributes[f.Name] = layer.StringValue(vals[i].String)
			} else {
				feat.Attributes[f.Name] = layer.NullValue()
			}
		}
		if len(blob) > 0 {
			feat.Geometry, _, err = decodeGPKGBlob(blob)
			if err != nil {
				return eris.Wrapf(err, "gpkg: %s feature %d", g.table, id)
			}
		}
		if err := fn(feat); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return eris.Wrapf(err, "gpkg: read %s", g.table)
	}
	return nil
}

func (g *GeoPackage) Close() error { return g.db.Close() }

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
