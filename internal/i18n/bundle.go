// Package i18n localizes the labels shown in change lists: entity names,
// attribute labels and modification kinds.
package i18n

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"sort"

	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"

	"github.com/rpattn/changetrack/internal/domain"
)

// ModificationKey is the label key of a modification kind.
func ModificationKey(m domain.Modification) string {
	return "modification." + string(m)
}

// AttributeKey is the label key of an entity attribute.
func AttributeKey(entity, attribute string) string {
	return entity + "." + attribute
}

var builtin = map[string]map[string]string{
	"en": {
		"modification.create": "Create",
		"modification.update": "Update",
		"modification.delete": "Delete",
	},
	"de": {
		"modification.create": "Erstellen",
		"modification.update": "Ändern",
		"modification.delete": "Löschen",
	},
	"fr": {
		"modification.create": "Création",
		"modification.update": "Modification",
		"modification.delete": "Suppression",
	},
}

// Bundle holds label translations per language.
type Bundle struct {
	tags    []language.Tag
	labels  map[language.Tag]map[string]string
	matcher language.Matcher
}

type bundleFile struct {
	Default string                       `yaml:"default"`
	Locales map[string]map[string]string `yaml:"locales"`
}

// Default returns a bundle with the built-in modification labels, English
// first.
func Default() *Bundle {
	b, _ := build("en", builtin)
	return b
}

// Load reads a YAML bundle and merges it over the built-in labels.
func Load(r io.Reader) (*Bundle, error) {
	var file bundleFile
	if err := yaml.NewDecoder(r).Decode(&file); err != nil && err != io.EOF {
		return nil, fmt.Errorf("failed to decode label bundle: %w", err)
	}
	merged := make(map[string]map[string]string, len(builtin)+len(file.Locales))
	for locale, labels := range builtin {
		merged[locale] = copyLabels(labels)
	}
	for locale, labels := range file.Locales {
		if merged[locale] == nil {
			merged[locale] = map[string]string{}
		}
		for key, text := range labels {
			merged[locale][key] = text
		}
	}
	if file.Default == "" {
		file.Default = "en"
	}
	return build(file.Default, merged)
}

// LoadFile reads a YAML bundle from disk.
func LoadFile(path string) (*Bundle, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read label bundle %s: %w", path, err)
	}
	return Load(bytes.NewReader(data))
}

func build(def string, locales map[string]map[string]string) (*Bundle, error) {
	defTag, err := language.Parse(def)
	if err != nil {
		return nil, fmt.Errorf("invalid default locale %q: %w", def, err)
	}
	b := &Bundle{
		tags:   []language.Tag{defTag},
		labels: map[language.Tag]map[string]string{},
	}
	names := make([]string, 0, len(locales))
	for locale := range locales {
		names = append(names, locale)
	}
	sort.Strings(names)
	for _, locale := range names {
		tag, err := language.Parse(locale)
		if err != nil {
			return nil, fmt.Errorf("invalid locale %q: %w", locale, err)
		}
		b.labels[tag] = locales[locale]
		if tag != defTag {
			b.tags = append(b.tags, tag)
		}
	}
	b.matcher = language.NewMatcher(b.tags)
	return b, nil
}

func copyLabels(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// Localizer translates labels for one requested locale.
type Localizer struct {
	tag    language.Tag
	bundle *Bundle
}

// Localizer matches an Accept-Language style locale string against the
// bundle's languages. Unknown or empty locales use the default language.
func (b *Bundle) Localizer(locale string) Localizer {
	tag := b.tags[0]
	if locale != "" {
		if prefs, _, err := language.ParseAcceptLanguage(locale); err == nil && len(prefs) > 0 {
			_, index, confidence := b.matcher.Match(prefs...)
			if confidence != language.No {
				tag = b.tags[index]
			}
		}
	}
	return Localizer{tag: tag, bundle: b}
}

// Language returns the matched language.
func (l Localizer) Language() language.Tag { return l.tag }

// Text returns the translation of key, falling back to the default language
// and then to fallback.
func (l Localizer) Text(key, fallback string) string {
	if l.bundle == nil {
		return fallback
	}
	if text, ok := l.bundle.labels[l.tag][key]; ok && text != "" {
		return text
	}
	if text, ok := l.bundle.labels[l.bundle.tags[0]][key]; ok && text != "" {
		return text
	}
	return fallback
}

// Modification returns the label of a modification kind.
func (l Localizer) Modification(m domain.Modification) string {
	return l.Text(ModificationKey(m), string(m))
}
