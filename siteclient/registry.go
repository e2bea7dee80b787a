package siteclient

import (
	"fmt"
	"regexp"
	"sync"
)

// Constructor builds an unauthenticated Client for a base site name (never
// the "<site>_ct_<id>" form — contest scoping is applied by the factory
// via contestID). Concrete adapters register themselves in their init().
type Constructor func(contestID string) Client

var (
	registryMu sync.Mutex
	registry   = map[string]Constructor{}
)

// Register makes a site's constructor available to the client factory.
// Called from each adapter package's init().
func Register(site string, ctor Constructor) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[site] = ctor
}

// cloneNamePattern matches the clone-name invariant from spec.md §3.
var cloneNamePattern = regexp.MustCompile(`^(.*?)_ct_([0-9]+)$`)

// ParseOJName splits an oj_name into its base site and, if present, the
// contest id it is scoped to.
func ParseOJName(ojName string) (site string, contestID string, isContest bool) {
	m := cloneNamePattern.FindStringSubmatch(ojName)
	if m == nil {
		return ojName, "", false
	}
	return m[1], m[2], true
}

// New constructs an unauthenticated client for ojName using the
// registered constructor for its base site.
func New(ojName string) (Client, error) {
	site, contestID, _ := ParseOJName(ojName)
	registryMu.Lock()
	ctor, ok := registry[site]
	registryMu.Unlock()
	if !ok {
		return nil, fmt.Errorf("siteclient: no adapter registered for site %q", site)
	}
	return ctor(contestID), nil
}
