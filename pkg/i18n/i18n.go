// Package i18n renders user-facing messages from embedded JSON catalogs.
//
// Keys use dot notation ("inventory.errors.insufficient_stock") and may
// contain {param} placeholders.
package i18n

import (
	"context"
	"embed"
	"encoding/json"
	"sort"
	"strings"
	"sync"
)

//go:embed messages/*.json
var messagesFS embed.FS

// Supported locales
const (
	LocaleEnglish = "en"
	LocaleGerman  = "de"
	DefaultLocale = LocaleEnglish
)

type localeKey struct{}

var (
	catalogs     map[string]map[string]string
	catalogsOnce sync.Once
)

// loadCatalogs reads every messages/<locale>.json and flattens it to dot keys.
func loadCatalogs() {
	catalogsOnce.Do(func() {
		catalogs = make(map[string]map[string]string)

		entries, err := messagesFS.ReadDir("messages")
		if err != nil {
			return
		}
		for _, e := range entries {
			locale := strings.TrimSuffix(e.Name(), ".json")
			data, err := messagesFS.ReadFile("messages/" + e.Name())
			if err != nil {
				continue
			}
			var tree map[string]any
			if err := json.Unmarshal(data, &tree); err != nil {
				continue
			}
			flat := make(map[string]string)
			flatten("", tree, flat)
			catalogs[locale] = flat
		}
	})
}

func flatten(prefix string, tree map[string]any, out map[string]string) {
	for k, v := range tree {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		switch val := v.(type) {
		case string:
			out[key] = val
		case map[string]any:
			flatten(key, val, out)
		}
	}
}

// Locales returns the locales with a loaded catalog, sorted.
func Locales() []string {
	loadCatalogs()
	out := make([]string, 0, len(catalogs))
	for l := range catalogs {
		out = append(out, l)
	}
	sort.Strings(out)
	return out
}

func supported(locale string) bool {
	loadCatalogs()
	_, ok := catalogs[locale]
	return ok
}

// Localizer handles message localization for one locale
type Localizer struct {
	locale string
}

// NewLocalizer creates a localizer; unknown locales fall back to English.
func NewLocalizer(locale string) *Localizer {
	if !supported(locale) {
		locale = DefaultLocale
	}
	return &Localizer{locale: locale}
}

// LocalizerFromContext creates a localizer from the locale stored in ctx
func LocalizerFromContext(ctx context.Context) *Localizer {
	return NewLocalizer(GetLocaleFromContext(ctx))
}

// T translates a message key, falling back to English and then to the key itself.
func (l *Localizer) T(key string, params ...map[string]string) string {
	loadCatalogs()

	msg, ok := catalogs[l.locale][key]
	if !ok {
		msg, ok = catalogs[DefaultLocale][key]
	}
	if !ok {
		return key
	}

	if len(params) > 0 {
		for k, v := range params[0] {
			msg = strings.ReplaceAll(msg, "{"+k+"}", v)
		}
	}
	return msg
}

// GetLocale returns the localizer's locale
func (l *Localizer) GetLocale() string {
	return l.locale
}

// WithLocale adds locale to context
func WithLocale(ctx context.Context, locale string) context.Context {
	return context.WithValue(ctx, localeKey{}, locale)
}

// GetLocaleFromContext retrieves locale from context
func GetLocaleFromContext(ctx context.Context) string {
	if ctx == nil {
		return DefaultLocale
	}
	if locale, ok := ctx.Value(localeKey{}).(string); ok && locale != "" {
		return locale
	}
	return DefaultLocale
}

// ParseAcceptLanguage returns the first supported language listed in an
// Accept-Language header. Quality values are ignored; browsers list
// languages in preference order already.
func ParseAcceptLanguage(header string) string {
	for _, part := range strings.Split(header, ",") {
		tag := strings.TrimSpace(strings.SplitN(part, ";", 2)[0])
		base := strings.ToLower(strings.SplitN(tag, "-", 2)[0])
		if base != "" && supported(base) {
			return base
		}
	}
	return DefaultLocale
}

// T translates using the default locale
func T(key string, params ...map[string]string) string {
	return NewLocalizer(DefaultLocale).T(key, params...)
}

// TFromContext translates using locale from context
func TFromContext(ctx context.Context, key string, params ...map[string]string) string {
	return LocalizerFromContext(ctx).T(key, params...)
}
