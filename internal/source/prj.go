package source

import (
	"os"

	"github.com/rotisserie/eris"

	"github.com/sells-group/overlap-cli/internal/geometry"
)

// readPRJ loads the .prj sidecar and resolves its WKT through PROJ. ok is
// false when the file does not exist.
func readPRJ(path string) (geometry.SRS, bool, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return geometry.SRS{}, false, nil
	}
	if err != nil {
		return geometry.SRS{}, false, eris.Wrapf(err, "source: read %s", path)
	}
	s, err := geometry.ParseSRS(string(data))
	if err != nil {
		return geometry.SRS{}, false, eris.Wrapf(err, "source: %s", path)
	}
	return s, true, nil
}
