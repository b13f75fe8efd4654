package mirror

import (
	"bufio"
	"fmt"
	"io"
	"math/rand/v2"
	"os"
	"strings"

	"github.com/frederic-klein/distsqueeze/internal/catalog"
)

// Scheme prefixes URIs that name a mirror set instead of a host.
const Scheme = "mirror://"

// DefaultFallbackBase is tried for every file after all mirrors.
const DefaultFallbackBase = "http://distfiles.gentoo.org/distfiles/"

// Registry maps a mirror-set name to its base addresses, in order.
type Registry map[string][]string

// LoadThirdPartyMirrors reads a registry in the profiles/thirdpartymirrors
// format from path.
func LoadThirdPartyMirrors(path string) (Registry, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening mirrors file: %w", err)
	}
	defer file.Close()

	return ParseThirdPartyMirrors(file)
}

// ParseThirdPartyMirrors reads lines of the form
//
//	name  http://base/one/  ftp://base/two/
//
// Blank lines and lines starting with '#' are skipped. A repeated name
// appends to the existing set.
func ParseThirdPartyMirrors(r io.Reader) (Registry, error) {
	reg := make(Registry)
	scanner := bufio.NewScanner(r)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		reg[fields[0]] = append(reg[fields[0]], fields[1:]...)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading mirrors: %w", err)
	}
	return reg, nil
}

// Merge adds every set in other to r. Sets already in r keep their
// addresses and gain the new ones after them.
func (r Registry) Merge(other map[string][]string) {
	for name, bases := range other {
		r[name] = append(r[name], bases...)
	}
}

// ParseReference splits "mirror://name/path" into its set name and path.
func ParseReference(uri string) (name, path string, ok bool) {
	if !strings.HasPrefix(uri, Scheme) {
		return "", "", false
	}
	rest := uri[len(Scheme):]
	i := strings.Index(rest, "/")
	if i <= 0 {
		return "", "", false
	}
	return rest[:i], strings.TrimLeft(rest[i+1:], "/"), true
}

// Join concatenates a base address and a path with exactly one separator.
func Join(base, path string) string {
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(path, "/")
}

// ExpandURI turns a mirror reference into one URI per base address in its
// set. Direct URIs are returned unchanged. Malformed references and
// unknown sets expand to nothing.
func (r Registry) ExpandURI(uri string) []string {
	name, path, ok := ParseReference(uri)
	if !ok {
		if strings.HasPrefix(uri, Scheme) {
			return nil
		}
		return []string{uri}
	}

	bases := r[name]
	out := make([]string, 0, len(bases))
	for _, base := range bases {
		out = append(out, Join(base, path))
	}
	return out
}

// Resolver rewrites fetch maps into concrete, shuffled URI lists. It is not
// safe for concurrent use.
type Resolver struct {
	registry     Registry
	fallbackBase string
	rng          *rand.Rand
}

// NewResolver creates a resolver. A nil rng uses a randomly seeded source.
func NewResolver(reg Registry, fallbackBase string, rng *rand.Rand) *Resolver {
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &Resolver{registry: reg, fallbackBase: fallbackBase, rng: rng}
}

// Fallback returns the last-resort URI for filename.
func (r *Resolver) Fallback(filename string) string {
	return Join(r.fallbackBase, filename)
}

// Expand rewrites every URI list in fm in place: mirror references are
// expanded, the list is shuffled, and the fallback URI is appended last.
func (r *Resolver) Expand(fm catalog.FetchMap) catalog.FetchMap {
	for _, name := range fm.Names() {
		var uris []string
		for _, uri := range fm[name] {
			uris = append(uris, r.registry.ExpandURI(uri)...)
		}

		r.rng.Shuffle(len(uris), func(i, j int) {
			uris[i], uris[j] = uris[j], uris[i]
		})

		fm[name] = append(uris, r.Fallback(name))
	}
	return fm
}
