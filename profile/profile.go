// Package profile holds the TTL profiles that drive caching per read family.
package profile

import (
	"context"
	"fmt"
	"time"
)

// ID names a logical family of reads. The set is closed.
type ID string

const (
	Featured      ID = "featured"
	Products      ID = "products"
	ProductDetail ID = "product-detail"
	Events        ID = "events"
	Categories    ID = "categories"
)

// IDs lists every profile, ordered by id.
var IDs = []ID{Categories, Events, Featured, ProductDetail, Products}

func (id ID) Valid() bool {
	switch id {
	case Featured, Products, ProductDetail, Events, Categories:
		return true
	}
	return false
}

func (id ID) String() string { return string(id) }

// ParseID returns the profile id named s, or an UNKNOWN_PROFILE error.
func ParseID(s string) (ID, error) {
	id := ID(s)
	if !id.Valid() {
		return "", &Error{Kind: KindConfiguration, Code: CodeUnknownProfile, Message: fmt.Sprintf("unknown cache profile %q", s)}
	}
	return id, nil
}

// TTL is the (stale, revalidate, expire) triple in whole seconds.
//
//	[0, stale)           serve cached, fresh
//	[stale, revalidate)  serve cached, refresh in background
//	[revalidate, expire) recompute before answering
//	>= expire            absent
type TTL struct {
	Stale      int `json:"stale" yaml:"stale"`
	Revalidate int `json:"revalidate" yaml:"revalidate"`
	Expire     int `json:"expire" yaml:"expire"`
}

// Validate enforces 0 <= stale <= revalidate <= expire.
func (t TTL) Validate() error {
	if t.Stale < 0 || t.Revalidate < 0 || t.Expire < 0 {
		return fmt.Errorf("ttl values must be non-negative: %+v", t)
	}
	if t.Stale > t.Revalidate {
		return fmt.Errorf("stale (%d) must not exceed revalidate (%d)", t.Stale, t.Revalidate)
	}
	if t.Revalidate > t.Expire {
		return fmt.Errorf("revalidate (%d) must not exceed expire (%d)", t.Revalidate, t.Expire)
	}
	return nil
}

func (t TTL) StaleAfter() time.Duration      { return time.Duration(t.Stale) * time.Second }
func (t TTL) RevalidateAfter() time.Duration { return time.Duration(t.Revalidate) * time.Second }
func (t TTL) ExpireAfter() time.Duration     { return time.Duration(t.Expire) * time.Second }

// Profile is a TTL triple bound to a read family.
type Profile struct {
	ID        ID        `json:"profile"`
	Label     string    `json:"label"`
	TTL       TTL       `json:"ttl"`
	UpdatedAt time.Time `json:"updatedAt,omitzero"`
}

// Repository persists profile rows. Implementations return ErrNotFound for a
// profile that was never configured and wrap ErrStorageUnavailable when the
// backing schema cannot be used.
type Repository interface {
	GetProfile(ctx context.Context, id ID) (Profile, error)
	ListProfiles(ctx context.Context) ([]Profile, error)
	UpsertProfile(ctx context.Context, p Profile) error
}
