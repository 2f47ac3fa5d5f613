package middleware

import (
	"context"
	"net"
	"net/http"
	"strings"

	"golang.org/x/text/language"
)

type localeContextKey struct{}
type countryContextKey struct{}

var (
	LocaleKey  = localeContextKey{}
	CountryKey = countryContextKey{}
)

// LocaleCookie remembers a locale picked with the lang query parameter.
const LocaleCookie = "tryon_locale"

// CountryLookup resolves ISO country codes for an IP address.
type CountryLookup func(ip string) (string, error)

// LocaleMatcher picks the best supported locale for a list of preferences.
type LocaleMatcher interface {
	Match(prefs ...string) language.Tag
}

// I18N stores the negotiated locale and the resolved country on the request
// context. Precedence: lang query, locale cookie, X-Locale, Accept-Language,
// country, then the matcher's default.
func I18N(matcher LocaleMatcher, lookup CountryLookup) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if v := strings.TrimSpace(r.URL.Query().Get("lang")); v != "" {
				http.SetCookie(w, &http.Cookie{
					Name:     LocaleCookie,
					Value:    baseOf(matcher.Match(v)),
					Path:     "/",
					HttpOnly: true,
					SameSite: http.SameSiteLaxMode,
				})
			}
			country := ResolveCountry(r, lookup)
			locale := detectLocale(r, matcher, country)
			ctx := context.WithValue(r.Context(), LocaleKey, locale)
			if country != "" {
				ctx = context.WithValue(ctx, CountryKey, strings.ToUpper(country))
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func detectLocale(r *http.Request, matcher LocaleMatcher, country string) string {
	if v := strings.TrimSpace(r.URL.Query().Get("lang")); v != "" {
		return baseOf(matcher.Match(v))
	}
	if c, err := r.Cookie(LocaleCookie); err == nil && c.Value != "" {
		return baseOf(matcher.Match(c.Value))
	}
	if v := r.Header.Get("X-Locale"); v != "" {
		return baseOf(matcher.Match(v))
	}
	if v := r.Header.Get("Accept-Language"); v != "" {
		return baseOf(matcher.Match(v))
	}
	if strings.EqualFold(country, "ID") {
		return baseOf(matcher.Match("id"))
	}
	return baseOf(matcher.Match())
}

func baseOf(tag language.Tag) string {
	base, _ := tag.Base()
	return base.String()
}

// firstLanguage returns the primary language subtag of the highest weighted
// entry of an Accept-Language style header.
func firstLanguage(header string) string {
	tags, _, err := language.ParseAcceptLanguage(header)
	if err != nil || len(tags) == 0 {
		return ""
	}
	return baseOf(tags[0])
}

// ClientIP returns the best-effort client IP address for the request.
func ClientIP(r *http.Request) string {
	if r == nil {
		return ""
	}
	if xf := r.Header.Get("X-Forwarded-For"); xf != "" {
		parts := strings.Split(xf, ",")
		if len(parts) > 0 {
			return strings.TrimSpace(parts[0])
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func LocaleFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(LocaleKey).(string); ok {
		return v
	}
	return "en"
}

// CountryFromContext returns the ISO country code stored in the request context.
func CountryFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(CountryKey).(string); ok {
		return v
	}
	return ""
}

// ResolveCountry resolves a best-effort ISO country code for the given request.
func ResolveCountry(r *http.Request, lookup CountryLookup) string {
	if r == nil {
		return ""
	}
	headerHints := []string{"X-Country-Code", "X-IP-Country", "CF-IPCountry", "X-Appengine-Country"}
	for _, key := range headerHints {
		if val := strings.TrimSpace(r.Header.Get(key)); val != "" {
			return strings.ToUpper(val)
		}
	}
	if region := localeRegion(r.Header.Get("X-Locale")); region != "" {
		return region
	}
	if region := localeRegion(r.Header.Get("Accept-Language")); region != "" {
		return region
	}
	if firstLanguage(r.Header.Get("X-Locale")) == "id" || firstLanguage(r.Header.Get("Accept-Language")) == "id" {
		return "ID"
	}
	if lookup != nil {
		if ip := ClientIP(r); ip != "" {
			if country, err := lookup(ip); err == nil && country != "" {
				return strings.ToUpper(country)
			}
		}
	}
	return ""
}

func localeRegion(accept string) string {
	for _, part := range strings.Split(accept, ",") {
		token := strings.TrimSpace(strings.Split(part, ";")[0])
		if token == "" {
			continue
		}
		if idx := strings.IndexAny(token, "-_"); idx > 0 && idx < len(token)-1 {
			return strings.ToUpper(token[idx+1:])
		}
	}
	return ""
}
