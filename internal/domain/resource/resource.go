// Package resource defines the cached-resource data model shared by the
// memory cache, the local store and the cache coordinator.
package resource

import (
	"encoding/json"
	"fmt"
	"time"
)

// Type partitions the resource key space.
type Type string

const (
	TypeTemplate     Type = "template"
	TypeCategory     Type = "category"
	TypeIcon         Type = "icon"
	TypeCategoryIcon Type = "category_icon"
)

// knownTypes is the set of types the coordinator has network routes
// for. Anything else fails fast with UNSUPPORTED_TYPE.
var knownTypes = map[Type]struct{}{
	TypeTemplate:     {},
	TypeCategory:     {},
	TypeIcon:         {},
	TypeCategoryIcon: {},
}

// ParseType validates a raw type string.
func ParseType(s string) (Type, error) {
	t := Type(s)
	if _, ok := knownTypes[t]; !ok {
		return "", fmt.Errorf("unknown resource type %q", s)
	}
	return t, nil
}

// Known reports whether t has a registered route.
func (t Type) Known() bool {
	_, ok := knownTypes[t]
	return ok
}

// Types returns all registered resource types.
func Types() []Type {
	return []Type{TypeTemplate, TypeCategory, TypeIcon, TypeCategoryIcon}
}

// CachePrefix is the memory-cache key prefix for this type.
func (t Type) CachePrefix() string {
	return string(t) + ":"
}

// CacheKey builds the memory-cache key for a (type, key) pair.
func CacheKey(t Type, key string) string {
	return t.CachePrefix() + key
}

// Ref renders the canonical "type:key" reference used in logs and
// error context.
func Ref(t Type, key string) string {
	return string(t) + ":" + key
}

// Entity is one cached resource row.
//
// (Type, Key) is a unique composite key. An Entity with empty Data is
// invalid and must trigger a network re-fetch, never be surfaced as a
// successful result.
type Entity struct {
	Type           Type
	Key            string
	Data           json.RawMessage
	Metadata       map[string]string
	ETag           string
	LastUpdated    time.Time
	ExpirationTime time.Time
	Stale          bool
}

// NewEntity builds an entity from a successful network fetch.
func NewEntity(t Type, key string, data json.RawMessage, etag string, expiration time.Time) *Entity {
	return &Entity{
		Type:           t,
		Key:            key,
		Data:           data,
		ETag:           etag,
		LastUpdated:    time.Now().UTC(),
		ExpirationTime: expiration,
	}
}

// IsExpired reports whether the entity has passed its expiration time.
func (e *Entity) IsExpired(now time.Time) bool {
	return !e.ExpirationTime.IsZero() && now.After(e.ExpirationTime)
}

// Usable reports whether the entity may be served without
// revalidation: it has data, is not stale and has not expired.
func (e *Entity) Usable(now time.Time) bool {
	return len(e.Data) > 0 && !e.Stale && !e.IsExpired(now)
}

// HasData reports whether the entity carries a payload at all. Rows
// without data exist only as ETag holders and must never be surfaced.
func (e *Entity) HasData() bool {
	return len(e.Data) > 0
}

// Refresh updates the entity in place after a successful fetch or a
// 304 revalidation, advancing LastUpdated and clearing the stale flag.
func (e *Entity) Refresh(data json.RawMessage, etag string, expiration time.Time) {
	if len(data) > 0 {
		e.Data = data
	}
	if etag != "" {
		e.ETag = etag
	}
	if !expiration.IsZero() {
		e.ExpirationTime = expiration
	}
	e.LastUpdated = time.Now().UTC()
	e.Stale = false
}

// Ref renders the entity's canonical reference.
func (e *Entity) Ref() string {
	return Ref(e.Type, e.Key)
}
