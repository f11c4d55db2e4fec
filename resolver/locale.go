package resolver

import "strings"

// localePrefix binds one naming-convention token to the locale it
// implies. The same table drives both base-name stripping and locale
// filtering so the two behaviors cannot drift apart; a locale may own
// several tokens.
type localePrefix struct {
	Token  string
	Locale string
}

// Ordered: longer or more specific tokens first, so stripping is
// deterministic when tokens share a prefix.
var localePrefixes = []localePrefix{
	{Token: "hub-ca-", Locale: "ca"},
	{Token: "hub-us-", Locale: "us"},
	{Token: "hub-na-", Locale: "na"},
}

// prefixesForLocale returns every token implying the given locale.
func prefixesForLocale(locale string) []string {
	locale = strings.ToLower(strings.TrimSpace(locale))
	var tokens []string
	for _, p := range localePrefixes {
		if p.Locale == locale {
			tokens = append(tokens, p.Token)
		}
	}
	return tokens
}

// stripLocalePrefix removes the first matching locale token from an
// already-normalized name, yielding its locale-agnostic base form.
func stripLocalePrefix(normalized string) string {
	for _, p := range localePrefixes {
		if strings.HasPrefix(normalized, p.Token) {
			return normalized[len(p.Token):]
		}
	}
	return normalized
}
