package source

import (
	"context"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom/encoding/wkb"

	"github.com/sells-group/overlap-cli/internal/db"
	"github.com/sells-group/overlap-cli/internal/geometry"
	"github.com/sells-group/overlap-cli/internal/layer"
)

// PostGIS reads a table with a geometry column from PostgreSQL.
type PostGIS struct {
	pool    db.Pool
	schema  string
	table   string
	geomCol string
	srs     geometry.SRS
	hasSRS  bool
	srsErr  error
	fields  []layer.Field
}

var _ layer.Source = (*PostGIS)(nil)

// OpenPostGIS resolves the SRID and attribute columns of [schema.]table.
func OpenPostGIS(ctx context.Context, pool db.Pool, qualified, geomCol string) (*PostGIS, error) {
	schema, table := "public", qualified
	if i := strings.IndexByte(qualified, '.'); i >= 0 {
		schema, table = qualified[:i], qualified[i+1:]
	}
	if table == "" {
		return nil, eris.New("postgis: table name is required")
	}
	if geomCol == "" {
		geomCol = "geom"
	}
	p := &PostGIS{pool: pool, schema: schema, table: table, geomCol: geomCol}

	var srid int
	if err := pool.QueryRow(ctx, `SELECT Find_SRID($1, $2, $3)`, schema, table, geomCol).Scan(&srid); err != nil {
		return nil, eris.Wrapf(err, "postgis: find srid of %s", p.Name())
	}
	if srid > 0 {
		s, err := geometry.LookupSRS(srid)
		if err != nil {
			p.srsErr = eris.Wrapf(err, "postgis: %s", p.Name())
		} else {
			p.srs, p.hasSRS = s, true
		}
	}

	rows, err := pool.Query(ctx, `SELECT column_name, data_type
		FROM information_schema.columns
		WHERE table_schema = $1 AND table_name = $2 AND column_name <> $3
		ORDER BY ordinal_position`, schema, table, geomCol)
	if err != nil {
		return nil, eris.Wrapf(err, "postgis: columns of %s", p.Name())
	}
	defer rows.Close()
	for rows.Next() {
		var f layer.Field
		if err := rows.Scan(&f.Name, &f.Type); err != nil {
			return nil, eris.Wrap(err, "postgis: scan column")
		}
		p.fields = append(p.fields, f)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrapf(err, "postgis: columns of %s", p.Name())
	}
	return p, nil
}

func (p *PostGIS) Name() string { return p.schema + "." + p.table }

func (p *PostGIS) SRS() (geometry.SRS, bool) { return p.srs, p.hasSRS }

// SRSError reports an SRID outside the registry.
func (p *PostGIS) SRSError() error { return p.srsErr }

func (p *PostGIS) Fields() []layer.Field { return p.fields }

func (p *PostGIS) selectSQL() string {
	cols := []string{"ST_AsBinary(" + pgx.Identifier{p.geomCol}.Sanitize() + ")"}
	for _, f := range p.fields {
		cols = append(cols, pgx.Identifier{f.Name}.Sanitize()+"::text")
	}
	return "SELECT " + strings.Join(cols, ", ") + " FROM " + pgx.Identifier{p.schema, p.table}.Sanitize()
}

// Scan streams the table. Row order follows the server's physical order.
func (p *PostGIS) Scan(ctx context.Context, fn func(layer.Feature) error) error {
	rows, err := p.pool.Query(ctx, p.selectSQL())
	if err != nil {
		return eris.Wrapf(err, "postgis: query %s", p.Name())
	}
	defer rows.Close()

	var n int64
	for rows.Next() {
		var blob []byte
		vals := make([]*string, len(p.fields))
		dest := []any{&blob}
		for i := range vals {
			dest = append(dest, &vals[i])
		}
		if err := rows.Scan(dest...); err != nil {
			return eris.Wrapf(err, "postgis: scan %s", p.Name())
		}
		n++

		feat := layer.Feature{ID: n, Attributes: make(map[string]layer.Value, len(p.fields))}
		for i, f := range p.fields {
			if vals[i] == nil {
				feat.Attributes[f.Name] = layer.NullValue()
			} else {
				feat.Attributes[f.Name] = layer.StringValue(*vals[i])
			}
		}
		if len(blob) > 0 {
			feat.Geometry, err = wkb.Unmarshal(blob)
			if err != nil {
				return eris.Wrapf(err, "postgis: %s row %d", p.Name(), n)
			}
		}
		if err := fn(feat); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return eris.Wrapf(err, "postgis: read %s", p.Name())
	}
	return nil
}

// Close is a no-op; the pool is owned by the caller.
func (p *PostGIS) Close() error { return nil }
