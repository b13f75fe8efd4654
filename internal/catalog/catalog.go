package catalog

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// ErrCatalogUnavailable marks failures that prevent enumerating packages.
var ErrCatalogUnavailable = errors.New("catalog unavailable")

// Atom identifies a package ("app-misc/foo") or a package version
// ("app-misc/foo-1.0").
type Atom string

// FetchMap maps a distfile name to its candidate source URIs, in order.
type FetchMap map[string][]string

// Clone returns a deep copy.
func (fm FetchMap) Clone() FetchMap {
	out := make(FetchMap, len(fm))
	for name, uris := range fm {
		out[name] = append([]string(nil), uris...)
	}
	return out
}

// Names returns the filenames in sorted order.
func (fm FetchMap) Names() []string {
	names := make([]string, 0, len(fm))
	for name := range fm {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Source is the package catalog the scan runs against.
type Source interface {
	ListPackages() ([]Atom, error)
	ListVersions(pkg Atom) ([]Atom, error)
	FetchMap(atom Atom) (FetchMap, error)
}

// MirrorSource is implemented by catalogs that also carry a mirror registry.
type MirrorSource interface {
	Mirrors() map[string][]string
}

// document is the YAML catalog layout:
//
//	mirrors:
//	  gentoo: [http://a/, http://b/]
//	packages:
//	  app-misc/foo:
//	    "1.0":
//	      foo-1.0-fix.patch.bz2: [mirror://gentoo/foo-1.0-fix.patch.bz2]
type document struct {
	Mirrors  map[string][]string                       `yaml:"mirrors"`
	Packages map[string]map[string]map[string][]string `yaml:"packages"`
}

// FileSource is a catalog loaded from a YAML document.
type FileSource struct {
	mirrors  map[string][]string
	packages map[Atom][]Atom
	fetch    map[Atom]FetchMap
}

// LoadFile reads a YAML catalog from path.
func LoadFile(path string) (*FileSource, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: opening %s: %v", ErrCatalogUnavailable, path, err)
	}
	defer file.Close()

	return Parse(file)
}

// Parse reads a YAML catalog.
func Parse(r io.Reader) (*FileSource, error) {
	var doc document
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: parsing catalog: %v", ErrCatalogUnavailable, err)
	}

	src := &FileSource{
		mirrors:  doc.Mirrors,
		packages: make(map[Atom][]Atom),
		fetch:    make(map[Atom]FetchMap),
	}
	if src.mirrors == nil {
		src.mirrors = make(map[string][]string)
	}

	for pkg, versions := range doc.Packages {
		var atoms []Atom
		for version, files := range versions {
			atom := Atom(pkg + "-" + version)
			fm := make(FetchMap, len(files))
			for name, uris := range files {
				fm[name] = uris
			}
			src.fetch[atom] = fm
			atoms = append(atoms, atom)
		}
		sort.Slice(atoms, func(i, j int) bool { return atoms[i] < atoms[j] })
		src.packages[Atom(pkg)] = atoms
	}

	return src, nil
}

// ListPackages returns every package, sorted.
func (s *FileSource) ListPackages() ([]Atom, error) {
	pkgs := make([]Atom, 0, len(s.packages))
	for pkg := range s.packages {
		pkgs = append(pkgs, pkg)
	}
	sort.Slice(pkgs, func(i, j int) bool { return pkgs[i] < pkgs[j] })
	return pkgs, nil
}

// ListVersions returns the version atoms of pkg. Unknown packages have none.
func (s *FileSource) ListVersions(pkg Atom) ([]Atom, error) {
	return append([]Atom(nil), s.packages[pkg]...), nil
}

// FetchMap returns a fresh copy of the fetch map for a version atom, so
// callers may filter and rewrite it in place.
func (s *FileSource) FetchMap(atom Atom) (FetchMap, error) {
	fm, ok := s.fetch[atom]
	if !ok {
		return FetchMap{}, nil
	}
	return fm.Clone(), nil
}

// Mirrors returns the mirror registry declared in the document.
func (s *FileSource) Mirrors() map[string][]string {
	return s.mirrors
}
