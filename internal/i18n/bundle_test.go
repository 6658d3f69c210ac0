package i18n

import (
	"strings"
	"testing"

	"github.com/rpattn/changetrack/internal/domain"
)

const labels = `
default: en
locales:
  en:
    shop.Books: Book
    shop.Books.title: Title
  de:
    shop.Books: Buch
    shop.Books.title: Titel
`

func TestLocalizerMatchesLanguages(t *testing.T) {
	bundle, err := Load(strings.NewReader(labels))
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	tests := []struct {
		locale string
		key    string
		want   string
	}{
		{locale: "de-DE", key: "shop.Books.title", want: "Titel"},
		{locale: "de-CH,de;q=0.9,en;q=0.5", key: "shop.Books", want: "Buch"},
		{locale: "en", key: "shop.Books.title", want: "Title"},
		{locale: "ja", key: "shop.Books.title", want: "Title"},
		{locale: "", key: "shop.Books", want: "Book"},
		{locale: "de", key: "shop.Books.stock", want: "stock"},
	}
	for _, tt := range tests {
		if got := bundle.Localizer(tt.locale).Text(tt.key, "stock"); got != tt.want {
			t.Fatalf("Text(%q) for %q = %q, want %q", tt.key, tt.locale, got, tt.want)
		}
	}
}

func TestBuiltinModificationLabels(t *testing.T) {
	bundle := Default()
	if got := bundle.Localizer("de").Modification(domain.ModificationDelete); got != "Löschen" {
		t.Fatalf("unexpected german label %q", got)
	}
	if got := bundle.Localizer("fr-FR").Modification(domain.ModificationCreate); got != "Création" {
		t.Fatalf("unexpected french label %q", got)
	}
	if got := bundle.Localizer("").Modification(domain.ModificationUpdate); got != "Update" {
		t.Fatalf("unexpected default label %q", got)
	}
}

func TestLoadRejectsBadLocale(t *testing.T) {
	if _, err := Load(strings.NewReader("locales:\n  \"not a locale!\": {}\n")); err == nil {
		t.Fatalf("expected invalid locale to fail")
	}
}
