package layer

import (
	"context"

	"github.com/sells-group/overlap-cli/internal/geometry"
)

// Field describes one attribute column.
type Field struct {
	Name string `json:"name" yaml:"name"`
	Type string `json:"type" yaml:"type"`
}

// Source is a vector dataset provider. Scan must visit features in dataset
// order and stop at the first error returned by fn.
type Source interface {
	Name() string
	SRS() (geometry.SRS, bool)
	Fields() []Field
	Scan(ctx context.Context, fn func(Feature) error) error
	Close() error
}
