package profile

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Defaults maps every profile to its built-in label and TTL.
type Defaults map[ID]Profile

// BuiltinDefaults returns a fresh copy of the built-in defaults.
func BuiltinDefaults() Defaults {
	return Defaults{
		Featured:      {ID: Featured, Label: "Featured products", TTL: TTL{Stale: 120, Revalidate: 180, Expire: 3600}},
		Products:      {ID: Products, Label: "Product list", TTL: TTL{Stale: 60, Revalidate: 120, Expire: 1800}},
		ProductDetail: {ID: ProductDetail, Label: "Product detail", TTL: TTL{Stale: 120, Revalidate: 300, Expire: 3600}},
		Events:        {ID: Events, Label: "Events", TTL: TTL{Stale: 60, Revalidate: 300, Expire: 3600}},
		Categories:    {ID: Categories, Label: "Categories", TTL: TTL{Stale: 300, Revalidate: 300, Expire: 86400}},
	}
}

// fileProfile uses pointers so absent keys keep the built-in value.
type fileProfile struct {
	Label      string `yaml:"label"`
	Stale      *int   `yaml:"stale"`
	Revalidate *int   `yaml:"revalidate"`
	Expire     *int   `yaml:"expire"`
}

func (fp fileProfile) overlay(p Profile) Profile {
	if fp.Label != "" {
		p.Label = fp.Label
	}
	if fp.Stale != nil {
		p.TTL.Stale = *fp.Stale
	}
	if fp.Revalidate != nil {
		p.TTL.Revalidate = *fp.Revalidate
	}
	if fp.Expire != nil {
		p.TTL.Expire = *fp.Expire
	}
	return p
}

// LoadDefaults reads YAML of the form
//
//	featured:
//	  label: Featured products
//	  stale: 120
//	  revalidate: 180
//	  expire: 3600
//
// and overlays it on BuiltinDefaults. Profiles absent from the file keep their
// built-in values, and so does every key a profile leaves out. The merged
// TTL must be valid.
func LoadDefaults(path string) (Defaults, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("profile defaults: %w", err)
	}
	return ParseDefaults(raw)
}

// ParseDefaults is LoadDefaults over an in-memory document.
func ParseDefaults(raw []byte) (Defaults, error) {
	var file map[string]fileProfile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("profile defaults: %w", err)
	}
	out := BuiltinDefaults()
	for name, fp := range file {
		id, err := ParseID(name)
		if err != nil {
			return nil, fmt.Errorf("profile defaults: %w", err)
		}
		p := fp.overlay(out[id])
		if err := p.TTL.Validate(); err != nil {
			return nil, fmt.Errorf("profile defaults: %s: %w", name, err)
		}
		out[id] = p
	}
	return out, nil
}
