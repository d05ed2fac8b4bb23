package cache

import (
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
)

// TempPrefix marks ids of optimistic placeholders.
const TempPrefix = "temp-"

// ListID is the tag id that stands for a whole collection.
const ListID = "LIST"

// Entity is a cacheable record.
type Entity interface {
	EntityID() string
	LastModified() time.Time
}

// Tag names cached data for invalidation.
type Tag struct {
	Type string `json:"type"`
	ID   string `json:"id,omitempty"`
}

// Matches reports whether invalidating t covers the provided tag p. An
// empty id covers every tag of the type.
func (t Tag) Matches(p Tag) bool {
	return t.Type == p.Type && (t.ID == "" || t.ID == p.ID)
}

// ListTags returns one tag per item plus the list tag.
func ListTags[T Entity](tagType string, items []T) []Tag {
	tags := make([]Tag, 0, len(items)+1)
	for _, it := range items {
		tags = append(tags, Tag{Type: tagType, ID: it.EntityID()})
	}
	return append(tags, Tag{Type: tagType, ID: ListID})
}

// Fields names the JSON fields the cache writes into placeholders.
type Fields struct {
	ID        string
	CreatedAt string
	UpdatedAt string
}

// DefaultFields matches the usual id/createdAt/updatedAt shape.
var DefaultFields = Fields{ID: "id", CreatedAt: "createdAt", UpdatedAt: "updatedAt"}

// NewTempID returns a fresh placeholder id.
func NewTempID() string {
	return TempPrefix + uuid.NewString()
}

// IsTempID reports whether id belongs to an optimistic placeholder.
func IsTempID(id string) bool {
	return strings.HasPrefix(id, TempPrefix)
}

func indexOf[T Entity](items []T, id string) int {
	return slices.IndexFunc(items, func(it T) bool { return it.EntityID() == id })
}

// sortByLastModified orders newest first, keeping ties stable.
func sortByLastModified[T Entity](items []T) {
	slices.SortStableFunc(items, func(a, b T) int {
		return b.LastModified().Compare(a.LastModified())
	})
}
