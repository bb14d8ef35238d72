// internal/i18n/i18n.go
package i18n

import (
	"embed"
	"encoding/json"
	"fmt"
	"path"
	"strings"
	"sync"

	"golang.org/x/text/language"
)

//go:embed locales/*.json
var localeFS embed.FS

type I18n struct {
	mu           sync.RWMutex
	translations map[string]map[string]string
	defaultLang  string
	matcher      language.Matcher
	tags         []string
}

var instance *I18n
var once sync.Once

// Initialize loads the embedded locales. defaultLang is used when neither the
// requested language nor a close match has a translation.
func Initialize(defaultLang string) error {
	var err error
	once.Do(func() {
		instance, err = New(defaultLang)
	})
	return err
}

func New(defaultLang string) (*I18n, error) {
	i := &I18n{
		translations: make(map[string]map[string]string),
		defaultLang:  defaultLang,
	}
	if err := i.LoadTranslations(); err != nil {
		return nil, err
	}
	if _, ok := i.translations[defaultLang]; !ok {
		return nil, fmt.Errorf("no locale file for default language %q", defaultLang)
	}
	return i, nil
}

func (i *I18n) LoadTranslations() error {
	entries, err := localeFS.ReadDir("locales")
	if err != nil {
		return fmt.Errorf("failed to list locales: %w", err)
	}

	// The default language goes first so the matcher falls back to it.
	tags := []language.Tag{language.Make(i.defaultLang)}
	names := []string{i.defaultLang}
	for _, entry := range entries {
		lang := strings.TrimSuffix(entry.Name(), ".json")
		data, err := localeFS.ReadFile(path.Join("locales", entry.Name()))
		if err != nil {
			return fmt.Errorf("failed to read locale file %s: %w", entry.Name(), err)
		}

		var translations map[string]string
		if err := json.Unmarshal(data, &translations); err != nil {
			return fmt.Errorf("failed to unmarshal locale file %s: %w", entry.Name(), err)
		}

		i.mu.Lock()
		i.translations[lang] = translations
		i.mu.Unlock()

		if lang != i.defaultLang {
			tags = append(tags, language.Make(lang))
			names = append(names, lang)
		}
	}

	i.matcher = language.NewMatcher(tags)
	i.tags = names
	return nil
}

// Match picks the supported language closest to an Accept-Language header.
func (i *I18n) Match(acceptLanguage string) string {
	prefs, _, err := language.ParseAcceptLanguage(acceptLanguage)
	if err != nil || len(prefs) == 0 {
		return i.defaultLang
	}
	_, index, confidence := i.matcher.Match(prefs...)
	if confidence == language.No {
		return i.defaultLang
	}
	return i.tags[index]
}

func (i *I18n) T(lang, key string, args ...interface{}) string {
	i.mu.RLock()
	defer i.mu.RUnlock()

	if text, ok := i.lookup(lang, key); ok {
		return format(text, args)
	}
	if lang != i.defaultLang {
		if text, ok := i.lookup(i.defaultLang, key); ok {
			return format(text, args)
		}
	}

	// Return key if no translation found
	return key
}

func (i *I18n) lookup(lang, key string) (string, bool) {
	translations, ok := i.translations[lang]
	if !ok {
		return "", false
	}
	text, ok := translations[key]
	return text, ok
}

func format(text string, args []interface{}) string {
	if len(args) > 0 {
		return fmt.Sprintf(text, args...)
	}
	return text
}

// Global functions
func T(lang, key string, args ...interface{}) string {
	if instance != nil {
		return instance.T(lang, key, args...)
	}
	return key
}

func Match(acceptLanguage string) string {
	if instance == nil {
		return "fr"
	}
	return instance.Match(acceptLanguage)
}

func DefaultLanguage() string {
	if instance == nil {
		return "fr"
	}
	return instance.defaultLang
}

// StatusLabel is the human-readable name of a purchase request status.
func StatusLabel(lang, status string) string {
	key := KeyRequestStatusPrefix + status
	if label := T(lang, key); label != key {
		return label
	}
	return status
}
