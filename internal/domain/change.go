package domain

import (
	"time"

	"github.com/google/uuid"
)

// ChangeRecord is one persisted change of a single attribute of an entity
// instance. Records are immutable once written.
type ChangeRecord struct {
	ID               uuid.UUID    `json:"id"`
	ChangeSetID      uuid.UUID    `json:"changeSetId"`
	Entity           string       `json:"entity"`
	EntityKey        string       `json:"entityKey"`
	RootEntity       string       `json:"rootEntity"`
	RootEntityKey    string       `json:"rootEntityKey"`
	ParentEntity     string       `json:"parentEntity,omitempty"`
	ParentEntityKey  string       `json:"parentEntityKey,omitempty"`
	Attribute        string       `json:"attribute"`
	AttributeLabel   string       `json:"attributeLabel"`
	ValueDataType    string       `json:"valueDataType"`
	Modification     Modification `json:"modification"`
	ValueChangedFrom string       `json:"valueChangedFrom"`
	ValueChangedTo   string       `json:"valueChangedTo"`
	ObjectID         string       `json:"objectId"`
	ParentObjectID   string       `json:"parentObjectId,omitempty"`
	Actor            string       `json:"actor"`
	Timestamp        time.Time    `json:"timestamp"`
	Ordinal          int          `json:"ordinal"`
}

// DisplayChangeEntry is the flattened, display-ready view of a change record.
type DisplayChangeEntry struct {
	Entity           string    `json:"entity"`
	EntityLabel      string    `json:"entityLabel"`
	EntityKey        string    `json:"entityKey"`
	ObjectID         string    `json:"objectId"`
	ParentObjectID   string    `json:"parentObjectId,omitempty"`
	Attribute        string    `json:"attribute"`
	Modification     string    `json:"modification"`
	ValueChangedFrom string    `json:"valueChangedFrom"`
	ValueChangedTo   string    `json:"valueChangedTo"`
	Actor            string    `json:"actor"`
	Timestamp        time.Time `json:"timestamp"`
}

// ChangeFilter narrows a change log query. Empty fields do not filter.
type ChangeFilter struct {
	Entity        string
	EntityKey     string
	RootEntity    string
	RootEntityKey string
	Attribute     string
	Modification  Modification
	Limit         int
	Offset        int
}

// Change log columns addressable by filters and the derived association.
const (
	ColumnEntity        = "entity"
	ColumnEntityKey     = "entity_key"
	ColumnRootEntity    = "root_entity"
	ColumnRootEntityKey = "root_entity_key"
	ColumnAttribute     = "attribute"
	ColumnModification  = "modification"
	ColumnChangeSetID   = "change_set_id"
)

// Column returns the value of a change log column, for in-memory filtering.
func (c ChangeRecord) Column(name string) (any, bool) {
	switch name {
	case ColumnEntity:
		return c.Entity, true
	case ColumnEntityKey:
		return c.EntityKey, true
	case ColumnRootEntity:
		return c.RootEntity, true
	case ColumnRootEntityKey:
		return c.RootEntityKey, true
	case ColumnAttribute:
		return c.Attribute, true
	case ColumnModification:
		return string(c.Modification), true
	case ColumnChangeSetID:
		return c.ChangeSetID.String(), true
	}
	return nil, false
}
