package push

import (
	"errors"
	"fmt"
	"maps"
	"os"
	"slices"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/target/fleetpush/internal/domain/model"
)

// Provider names.
const (
	ProviderFCM       = "fcm"
	ProviderAPNs      = "apns"
	ProviderWNS       = "wns"
	ProviderTopic     = "topic"
	ProviderSimulated = "simulated"
	// ProviderNone is recorded for targets whose platform has no route.
	ProviderNone = "none"
)

// RouteTable maps a platform to its ordered provider chain. The first entry is the primary.
type RouteTable map[model.Platform][]string

// DefaultRoutes returns direct push with topic fallback for every real platform.
func DefaultRoutes() RouteTable {
	return RouteTable{
		model.PlatformAndroid:   {ProviderFCM, ProviderTopic},
		model.PlatformIOS:       {ProviderAPNs, ProviderTopic},
		model.PlatformWindows:   {ProviderWNS, ProviderTopic},
		model.PlatformLinux:     {ProviderTopic},
		model.PlatformSimulated: {ProviderSimulated},
	}
}

// ParseRoutes parses "android=fcm>topic;ios=apns>topic". Separators may be ';' or ','
// between entries and '>' or '|' between providers.
func ParseRoutes(spec string) (RouteTable, error) {
	rt := RouteTable{}
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return rt, nil
	}
	entries := strings.FieldsFunc(spec, func(r rune) bool { return r == ';' || r == ',' })
	for _, entry := range entries {
		platform, chain, ok := strings.Cut(entry, "=")
		if !ok {
			return nil, fmt.Errorf("route %q: expected platform=provider>provider", strings.TrimSpace(entry))
		}
		var p model.Platform
		if err := p.UnmarshalText([]byte(platform)); err != nil {
			return nil, fmt.Errorf("route %q: %w", strings.TrimSpace(entry), err)
		}
		providers := strings.FieldsFunc(chain, func(r rune) bool { return r == '>' || r == '|' })
		if err := rt.set(p, providers); err != nil {
			return nil, err
		}
	}
	return rt, nil
}

type routesFile struct {
	Routes map[string][]string `yaml:"routes"`
}

// LoadRoutesFile reads a YAML file of the form
//
//	routes:
//	  android: [fcm, topic]
func LoadRoutesFile(path string) (RouteTable, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read routes file: %w", err)
	}
	var f routesFile
	if err = yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse routes file %s: %w", path, err)
	}
	rt := RouteTable{}
	for platform, chain := range f.Routes {
		var p model.Platform
		if err = p.UnmarshalText([]byte(platform)); err != nil {
			return nil, fmt.Errorf("routes file %s: %w", path, err)
		}
		if err = rt.set(p, chain); err != nil {
			return nil, err
		}
	}
	return rt, nil
}

func (rt RouteTable) set(p model.Platform, providers []string) error {
	chain := make([]string, 0, len(providers))
	for _, name := range providers {
		name = strings.ToLower(strings.TrimSpace(name))
		if name == "" {
			continue
		}
		if slices.Contains(chain, name) {
			return fmt.Errorf("route %s: provider %s listed twice", p, name)
		}
		chain = append(chain, name)
	}
	if len(chain) == 0 {
		return fmt.Errorf("route %s: empty provider chain", p)
	}
	rt[p] = chain
	return nil
}

// Merge returns a copy of rt with entries from override replacing whole chains.
func (rt RouteTable) Merge(override RouteTable) RouteTable {
	out := make(RouteTable, len(rt)+len(override))
	for p, chain := range rt {
		out[p] = slices.Clone(chain)
	}
	for p, chain := range override {
		out[p] = slices.Clone(chain)
	}
	return out
}

// Chain returns the provider chain for a platform, or nil when unrouted.
func (rt RouteTable) Chain(p model.Platform) []string {
	return rt[p]
}

// Restrict drops providers that are not configured and returns the names that were dropped.
func (rt RouteTable) Restrict(available map[string]Provider) (RouteTable, []string) {
	out := make(RouteTable, len(rt))
	dropped := map[string]struct{}{}
	for p, chain := range rt {
		var kept []string
		for _, name := range chain {
			if _, ok := available[name]; ok {
				kept = append(kept, name)
			} else {
				dropped[name] = struct{}{}
			}
		}
		if len(kept) > 0 {
			out[p] = kept
		}
	}
	names := slices.Collect(maps.Keys(dropped))
	sort.Strings(names)
	return out, names
}

// String renders the table in ParseRoutes syntax, platforms sorted.
func (rt RouteTable) String() string {
	platforms := make([]string, 0, len(rt))
	for p := range rt {
		platforms = append(platforms, string(p))
	}
	sort.Strings(platforms)
	parts := make([]string, 0, len(platforms))
	for _, p := range platforms {
		parts = append(parts, p+"="+strings.Join(rt[model.Platform(p)], ">"))
	}
	return strings.Join(parts, ";")
}

// ErrNoRoutes is returned by NewGateway when no platform has a usable chain.
var ErrNoRoutes = errors.New("push: no platform has a configured provider")
