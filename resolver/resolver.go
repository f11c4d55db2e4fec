// Package resolver turns a user-supplied, possibly fuzzy or
// locale-scoped service name into the set of registered services it
// denotes. Resolution is pure over a registry snapshot: the same inputs
// against the same snapshot always produce the same result.
//
// Matching runs layered strategies in order, stopping at the first
// non-empty result: exact canonical name, locale-agnostic base name,
// then substring containment. A locale argument narrows the candidate
// pool before any strategy runs. When nothing matches, Suggest produces
// "did you mean" candidates for the caller to surface; suggestions are
// never applied silently.
package resolver

import (
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/sahilm/fuzzy"

	"github.com/elis-salobehaj/log-ai/registry"
)

// DefaultMaxSuggestions bounds the "did you mean" list.
const DefaultMaxSuggestions = 5

// Substring matching is skipped for very short queries: a two-letter
// fragment is contained in too many unrelated names to be a useful
// signal. Exact and base-name matching are unaffected.
const minSubstringQuery = 3

// Resolve maps a query name, optionally scoped to a locale, onto the
// services it denotes. An empty result means "not found"; the caller
// decides whether to surface suggestions.
func Resolve(snap *registry.Snapshot, name, locale string) []registry.ServiceDefinition {
	if snap == nil || name == "" {
		return nil
	}

	query := normalize(name)
	queryBase := stripLocalePrefix(query)

	candidates := filterByLocale(snap.Services, locale)

	// Strategy 1: exact canonical name.
	var exact []registry.ServiceDefinition
	for _, svc := range candidates {
		if normalize(svc.Name) == query {
			exact = append(exact, svc)
		}
	}
	if len(exact) > 0 {
		return exact
	}

	// Strategy 2: locale-agnostic base name. "auth" matches every
	// regional hub-*-auth variant.
	var base []registry.ServiceDefinition
	for _, svc := range candidates {
		if stripLocalePrefix(normalize(svc.Name)) == queryBase {
			base = append(base, svc)
		}
	}
	if len(base) > 0 {
		return base
	}

	// Strategy 3: substring containment on the compact (separator-free)
	// forms, so "edrproxy" and "edr_proxy" both reach
	// "hub-ca-edr-proxy-service".
	if utf8.RuneCountInString(queryBase) < minSubstringQuery {
		return nil
	}
	compactQuery := compact(queryBase)
	var partial []registry.ServiceDefinition
	for _, svc := range candidates {
		normalized := normalize(svc.Name)
		if strings.Contains(compact(normalized), compactQuery) ||
			strings.Contains(compact(stripLocalePrefix(normalized)), compactQuery) {
			partial = append(partial, svc)
		}
	}
	return partial
}

// Suggest returns up to max candidate names overlapping the query as a
// substring in either direction, ranked by fuzzy match quality. Purely
// advisory output for "not found" responses.
func Suggest(snap *registry.Snapshot, name string, max int) []string {
	if snap == nil || name == "" {
		return nil
	}
	if max <= 0 {
		max = DefaultMaxSuggestions
	}

	query := compact(normalize(name))
	if query == "" {
		return nil
	}

	overlap := make(map[string]struct{})
	for _, svc := range snap.Services {
		candidate := compact(normalize(svc.Name))
		if strings.Contains(candidate, query) || strings.Contains(query, candidate) {
			overlap[svc.Name] = struct{}{}
		}
	}

	names := snap.Names()
	ranked := fuzzy.Find(name, names)

	// Fuzzy ranking first, then any substring overlaps it missed, in
	// registry order for stability.
	var out []string
	seen := make(map[string]struct{})
	add := func(n string) {
		if _, dup := seen[n]; dup || len(out) >= max {
			return
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}

	for _, match := range ranked {
		add(match.Str)
	}

	remaining := make([]string, 0, len(overlap))
	for n := range overlap {
		remaining = append(remaining, n)
	}
	sort.Strings(remaining)
	for _, n := range remaining {
		add(n)
	}

	return out
}

// filterByLocale narrows the candidate pool before any matching
// strategy runs. A service qualifies by its explicit locale tag or by
// carrying one of the locale's name-prefix tokens.
func filterByLocale(services []registry.ServiceDefinition, locale string) []registry.ServiceDefinition {
	locale = strings.ToLower(strings.TrimSpace(locale))
	if locale == "" {
		return services
	}

	tokens := prefixesForLocale(locale)

	var out []registry.ServiceDefinition
	for _, svc := range services {
		if strings.ToLower(svc.Locale) == locale {
			out = append(out, svc)
			continue
		}
		normalized := normalize(svc.Name)
		for _, token := range tokens {
			if strings.HasPrefix(normalized, token) {
				out = append(out, svc)
				break
			}
		}
	}
	return out
}

// normalize lowercases and unifies separators to hyphens.
func normalize(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	name = strings.ReplaceAll(name, "_", "-")
	name = strings.Join(strings.Fields(name), "-")
	return name
}

// compact drops separators entirely for containment comparisons.
func compact(normalized string) string {
	return strings.ReplaceAll(normalized, "-", "")
}
