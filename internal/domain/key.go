package domain

import (
	"fmt"
	"sort"
	"strings"
)

// KeyPart is one attribute of a (possibly composite) primary key.
type KeyPart struct {
	Attribute string
	Value     any
}

// EntityKey identifies an entity instance. Parts are kept in declaration order;
// the serialized form is independent of that order.
type EntityKey []KeyPart

// KeyFromRow extracts the key attributes from a row. It reports false when an
// attribute is missing or nil.
func KeyFromRow(attributes []string, row Row) (EntityKey, bool) {
	if len(attributes) == 0 || row == nil {
		return nil, false
	}
	key := make(EntityKey, 0, len(attributes))
	for _, attribute := range attributes {
		value, ok := row[attribute]
		if !ok || value == nil {
			return nil, false
		}
		key = append(key, KeyPart{Attribute: attribute, Value: value})
	}
	return key, true
}

// Value returns the value of the named key attribute.
func (k EntityKey) Value(attribute string) (any, bool) {
	for _, part := range k {
		if part.Attribute == attribute {
			return part.Value, true
		}
	}
	return nil, false
}

// Attributes returns the key attribute names in declaration order.
func (k EntityKey) Attributes() []string {
	names := make([]string, len(k))
	for i, part := range k {
		names[i] = part.Attribute
	}
	return names
}

// Row returns the key as a row of attribute values.
func (k EntityKey) Row() Row {
	row := make(Row, len(k))
	for _, part := range k {
		row[part.Attribute] = part.Value
	}
	return row
}

// Equal compares two keys by their serialized form.
func (k EntityKey) Equal(other EntityKey) bool {
	return k.String() == other.String()
}

// String serializes the key as attr=value pairs sorted by attribute name and
// joined by ';'. Reserved characters are escaped with a backslash.
func (k EntityKey) String() string {
	if len(k) == 0 {
		return ""
	}
	parts := make([]KeyPart, len(k))
	copy(parts, k)
	sort.SliceStable(parts, func(i, j int) bool {
		return parts[i].Attribute < parts[j].Attribute
	})
	var b strings.Builder
	for i, part := range parts {
		if i > 0 {
			b.WriteByte(';')
		}
		b.WriteString(escapeKeyToken(part.Attribute))
		b.WriteByte('=')
		b.WriteString(escapeKeyToken(FormatScalar(part.Value)))
	}
	return b.String()
}

// ParseEntityKey parses the output of EntityKey.String. Values come back as
// strings; callers needing typed values coerce them against the model.
func ParseEntityKey(serialized string) (EntityKey, error) {
	if strings.TrimSpace(serialized) == "" {
		return nil, fmt.Errorf("empty entity key")
	}
	var (
		key       EntityKey
		buf       strings.Builder
		attribute string
		inValue   bool
		escaped   bool
	)
	flush := func() error {
		if !inValue {
			return fmt.Errorf("malformed entity key %q: missing '='", serialized)
		}
		if attribute == "" {
			return fmt.Errorf("malformed entity key %q: empty attribute", serialized)
		}
		key = append(key, KeyPart{Attribute: attribute, Value: buf.String()})
		buf.Reset()
		attribute = ""
		inValue = false
		return nil
	}
	for _, r := range serialized {
		switch {
		case escaped:
			buf.WriteRune(r)
			escaped = false
		case r == '\\':
			escaped = true
		case r == '=' && !inValue:
			attribute = buf.String()
			buf.Reset()
			inValue = true
		case r == ';':
			if err := flush(); err != nil {
				return nil, err
			}
		default:
			buf.WriteRune(r)
		}
	}
	if escaped {
		return nil, fmt.Errorf("malformed entity key %q: dangling escape", serialized)
	}
	if err := flush(); err != nil {
		return nil, err
	}
	return key, nil
}

func escapeKeyToken(value string) string {
	if !strings.ContainsAny(value, `\;=`) {
		return value
	}
	var b strings.Builder
	for _, r := range value {
		if r == '\\' || r == ';' || r == '=' {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
