package nanohttp

import (
	"bufio"
	"bytes"
	_ "embed"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// DefaultMimeType is returned for file names with an unknown extension.
const DefaultMimeType = "application/octet-stream"

//go:embed mimetypes/default-mimetypes.properties
var defaultMimeProperties []byte

// MimeTypes maps lowercase file extensions (without the dot) to MIME types.
//
// A table is immutable once built and may be shared by pointer between any
// number of servers and goroutines.
type MimeTypes struct {
	byExt map[string]string
}

var defaultMimeTypes = func() *MimeTypes {
	m := make(map[string]string)
	if err := parseMimeProperties(m, defaultMimeProperties); err != nil {
		panic(errors.Wrap(err, "BUG: cannot parse embedded mime types"))
	}
	return &MimeTypes{byExt: m}
}()

// DefaultMimeTypes returns the table built from the embedded default mapping.
func DefaultMimeTypes() *MimeTypes {
	return defaultMimeTypes
}

// LoadMimeTypes returns a new table holding the default mapping extended by
// the given files. Later files override earlier entries.
//
// Files ending in .yaml or .yml hold a mapping of extension to type, every
// other file is read as "ext=type" lines with '#' comments.
func LoadMimeTypes(paths ...string) (*MimeTypes, error) {
	m := make(map[string]string, len(defaultMimeTypes.byExt))
	for k, v := range defaultMimeTypes.byExt {
		m[k] = v
	}
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrap(err, "cannot read mime types")
		}
		switch strings.ToLower(filepath.Ext(path)) {
		case ".yaml", ".yml":
			err = parseMimeYAML(m, data)
		default:
			err = parseMimeProperties(m, data)
		}
		if err != nil {
			return nil, errors.Wrapf(err, "cannot parse mime types from %q", path)
		}
	}
	return &MimeTypes{byExt: m}, nil
}

func parseMimeProperties(dst map[string]string, data []byte) error {
	s := bufio.NewScanner(bytes.NewReader(data))
	lineNo := 0
	for s.Scan() {
		lineNo++
		line := strings.TrimSpace(s.Text())
		if line == "" || line[0] == '#' || line[0] == '!' {
			continue
		}
		ext, typ, ok := strings.Cut(line, "=")
		if !ok {
			return errors.Errorf("line %d: missing '='", lineNo)
		}
		ext = normalizeExt(ext)
		typ = strings.TrimSpace(typ)
		if ext == "" || typ == "" {
			return errors.Errorf("line %d: empty extension or type", lineNo)
		}
		dst[ext] = typ
	}
	return s.Err()
}

func parseMimeYAML(dst map[string]string, data []byte) error {
	var m map[string]string
	if err := yaml.Unmarshal(data, &m); err != nil {
		return err
	}
	for ext, typ := range m {
		ext = normalizeExt(ext)
		typ = strings.TrimSpace(typ)
		if ext == "" || typ == "" {
			return errors.Errorf("empty extension or type for %q", ext)
		}
		dst[ext] = typ
	}
	return nil
}

func normalizeExt(ext string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
}

// Lookup returns the MIME type registered for ext, with or without the dot.
func (mt *MimeTypes) Lookup(ext string) (string, bool) {
	typ, ok := mt.byExt[normalizeExt(ext)]
	return typ, ok
}

// MimeTypeForFile returns the MIME type of name by its extension, or
// DefaultMimeType.
func (mt *MimeTypes) MimeTypeForFile(name string) string {
	dot := strings.LastIndexByte(name, '.')
	if dot < 0 || dot == len(name)-1 {
		return DefaultMimeType
	}
	if typ, ok := mt.byExt[strings.ToLower(name[dot+1:])]; ok {
		return typ
	}
	return DefaultMimeType
}

// Len returns the number of known extensions.
func (mt *MimeTypes) Len() int {
	return len(mt.byExt)
}

// MimeTypeForFile resolves name against the default table.
func MimeTypeForFile(name string) string {
	return defaultMimeTypes.MimeTypeForFile(name)
}
