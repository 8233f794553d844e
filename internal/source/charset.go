package source

import (
	"os"
	"strings"
	"unicode/utf8"

	"github.com/rotisserie/eris"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/htmlindex"
)

// attrDecoder converts raw DBF bytes to UTF-8.
type attrDecoder struct {
	dec *encoding.Decoder
}

// decode returns s as UTF-8. Without a declared code page, valid UTF-8 is
// kept and anything else is read as Windows-1252.
func (d attrDecoder) decode(s string) string {
	if d.dec != nil {
		if out, err := d.dec.String(s); err == nil {
			return out
		}
		return s
	}
	if utf8.ValidString(s) {
		return s
	}
	out, err := charmap.Windows1252.NewDecoder().String(s)
	if err != nil {
		return s
	}
	return out
}

// readCPG loads the .cpg code page sidecar if present.
func readCPG(path string) (attrDecoder, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return attrDecoder{}, nil
	}
	if err != nil {
		return attrDecoder{}, eris.Wrapf(err, "source: read %s", path)
	}
	return codePageDecoder(string(data))
}

// codePageDecoder resolves a code page name such as "UTF-8", "1252" or
// "ISO-8859-1".
func codePageDecoder(name string) (attrDecoder, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return attrDecoder{}, nil
	}
	if isDigits(name) {
		name = "windows-" + name
	}
	enc, err := htmlindex.Get(name)
	if err != nil {
		return attrDecoder{}, eris.Wrapf(err, "source: unsupported code page %q", name)
	}
	if n, _ := htmlindex.Name(enc); n == "utf-8" {
		return attrDecoder{}, nil
	}
	return attrDecoder{dec: enc.NewDecoder()}, nil
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}
