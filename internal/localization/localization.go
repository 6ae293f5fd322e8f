// Package localization provides functionality for internationalization (i18n).
// It loads translation strings from JSON files and renders them with
// text/template so messages can interpolate response data.
package localization

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path"
	"strings"
	"sync"
	"text/template"
)

// DefaultLanguage is used when a key is missing in the requested language.
const DefaultLanguage = "en"

//go:embed locales/*.json
var bundled embed.FS

// Localizer manages the translations for the application.
// It holds a map of languages, each with its own map of translation keys and values.
type Localizer struct {
	translations map[string]map[string]string
	templates    map[string]*template.Template
	mu           sync.RWMutex
}

// NewLocalizer loads the translations compiled into the binary.
func NewLocalizer() (*Localizer, error) {
	sub, err := fs.Sub(bundled, "locales")
	if err != nil {
		return nil, err
	}
	return load(sub)
}

// NewLocalizerFromDir loads every <lang>.json file in dir.
func NewLocalizerFromDir(dir string) (*Localizer, error) {
	return load(os.DirFS(dir))
}

func load(fsys fs.FS) (*Localizer, error) {
	l := &Localizer{
		translations: make(map[string]map[string]string),
		templates:    make(map[string]*template.Template),
	}

	files, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("failed to read localization directory: %w", err)
	}

	for _, file := range files {
		if file.IsDir() || !strings.HasSuffix(file.Name(), ".json") {
			continue
		}

		lang := strings.TrimSuffix(file.Name(), ".json")
		data, err := fs.ReadFile(fsys, path.Clean(file.Name()))
		if err != nil {
			return nil, fmt.Errorf("failed to read localization file %s: %w", file.Name(), err)
		}

		var translations map[string]string
		if err := json.Unmarshal(data, &translations); err != nil {
			return nil, fmt.Errorf("failed to parse localization file %s: %w", file.Name(), err)
		}

		for key, value := range translations {
			if !strings.Contains(value, "{{") {
				continue
			}
			tpl, err := template.New(lang + "/" + key).Option("missingkey=zero").Parse(value)
			if err != nil {
				return nil, fmt.Errorf("bad template %s in %s: %w", key, file.Name(), err)
			}
			l.templates[lang+"/"+key] = tpl
		}
		l.translations[lang] = translations
	}

	return l, nil
}

// GetString returns the localized string for a given key and language.
// If the language or the key is not found, it returns the key itself as a fallback.
func (l *Localizer) GetString(lang, key string) string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, value := l.lookup(lang, key)
	return value
}

// Render returns the localized string with data interpolated.
func (l *Localizer) Render(lang, key string, data map[string]any) string {
	l.mu.RLock()
	defer l.mu.RUnlock()

	resolved, value := l.lookup(lang, key)
	tpl, ok := l.templates[resolved+"/"+key]
	if !ok {
		return value
	}
	var buf bytes.Buffer
	if err := tpl.Execute(&buf, data); err != nil {
		return value
	}
	return buf.String()
}

// lookup returns the language the key was found in and its raw value.
func (l *Localizer) lookup(lang, key string) (string, string) {
	if langTranslations, ok := l.translations[lang]; ok {
		if value, ok := langTranslations[key]; ok {
			return lang, value
		}
	}

	// Fallback to a default language if the key is not found in the specified language
	if lang != DefaultLanguage {
		if enTranslations, ok := l.translations[DefaultLanguage]; ok {
			if value, ok := enTranslations[key]; ok {
				return DefaultLanguage, value
			}
		}
	}

	return "", key
}
