// Package modeltest provides a small annotated model shared by package tests.
package modeltest

import (
	"testing"

	"github.com/rpattn/changetrack/internal/model"
)

// Bookshop is a store/book/chapter composition with code lists, a struct
// element, personal data and a composite-key root.
const Bookshop = `
namespace: shop
changelog:
  view: changelog.ChangeView
entities:
  - name: Authors
    changelog: [firstName, lastName]
    elements:
      - {name: ID, type: UUID, key: true}
      - {name: firstName, changelog: true}
      - {name: lastName, changelog: true}
      - {name: dateOfBirth, type: Date, changelog: true}
      - {name: email, personalData: true, changelog: true}
      - {name: nickname}
  - name: Genres
    codeList: true
    elements:
      - {name: code, key: true}
      - {name: name}
  - name: BookStores
    label: Book Store
    changelog: [name]
    elements:
      - {name: ID, type: UUID, key: true}
      - {name: name, changelog: true}
      - name: address
        changelog: true
        elements:
          - {name: street}
          - {name: city}
      - {name: manager, target: Authors, changelog: [manager.lastName]}
      - {name: owner, personalData: true, changelog: true}
      - {name: phone}
      - {name: books, kind: composition, target: Books, backlink: store}
  - name: Books
    changelog: [title]
    elements:
      - {name: ID, type: UUID, key: true}
      - {name: title}
      - {name: stock, type: Integer}
      - {name: price, type: Decimal}
      - {name: published, type: Date}
      - {name: author, target: Authors}
      - {name: genre, target: Genres}
      - {name: store, target: BookStores}
      - {name: internalNote, changelog: false}
      - {name: chapters, kind: composition, target: Chapters, backlink: book}
  - name: Chapters
    changelog: [title]
    elements:
      - {name: ID, type: UUID, key: true}
      - {name: title}
      - {name: pages, type: Integer}
      - {name: book, target: Books}
  - name: Prices
    changelog: [region, currency]
    elements:
      - {name: region, key: true}
      - {name: currency, key: true}
      - {name: amount, type: Decimal}
  - name: Customers
    elements:
      - {name: ID, type: UUID, key: true}
      - {name: name}
`

// Load parses the bookshop model or fails the test.
func Load(t testing.TB) *model.Model {
	t.Helper()
	m, err := model.Parse(Bookshop)
	if err != nil {
		t.Fatalf("failed to parse bookshop model: %v", err)
	}
	return m
}
