package notifications

import (
	"bytes"
	"context"
	_ "embed"
	"fmt"
	"io"
	"slices"

	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var defaultCatalog []byte

// CatalogType describes a notification type in catalog files.
type CatalogType struct {
	Code       string     `yaml:"code"`
	Name       string     `yaml:"name"`
	Inbox      string     `yaml:"inbox"`
	Importance Importance `yaml:"importance"`
	Channels   []Channel  `yaml:"channels"`
	Fallback   *Fallback  `yaml:"fallback"`
}

// Catalog is the reference data for inboxes and types together with their
// built-in templates.
type Catalog struct {
	Inboxes []Inbox       `yaml:"inboxes"`
	Types   []CatalogType `yaml:"types"`
}

// DefaultCatalog returns the embedded catalog.
func DefaultCatalog() (*Catalog, error) {
	return LoadCatalog(bytes.NewReader(defaultCatalog))
}

// LoadCatalog decodes and validates a catalog.
func LoadCatalog(r io.Reader) (*Catalog, error) {
	var c Catalog
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&c); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Catalog) validate() error {
	inboxes := make(map[string]struct{}, len(c.Inboxes))
	for _, in := range c.Inboxes {
		inboxes[in.Code] = struct{}{}
	}
	seen := make(map[string]struct{}, len(c.Types))
	for _, t := range c.Types {
		if t.Code == "" {
			return fmt.Errorf("%w: empty type code", ErrUnknownType)
		}
		if _, dup := seen[t.Code]; dup {
			return fmt.Errorf("catalog: duplicate type %q", t.Code)
		}
		seen[t.Code] = struct{}{}
		if _, ok := inboxes[t.Inbox]; !ok {
			return fmt.Errorf("%w: type %q, inbox %q", ErrUnknownInbox, t.Code, t.Inbox)
		}
		for _, ch := range t.Channels {
			if !slices.Contains(KnownChannels, ch) {
				return fmt.Errorf("%w: type %q, channel %q", ErrUnknownChannel, t.Code, ch)
			}
		}
	}
	return nil
}

// Fallbacks returns built-in templates keyed by type code.
func (c *Catalog) Fallbacks() map[string]Fallback {
	out := make(map[string]Fallback, len(c.Types))
	for _, t := range c.Types {
		if t.Fallback != nil {
			out[t.Code] = *t.Fallback
		}
	}
	return out
}

// Seed upserts every inbox and type into store. It is safe to run on every
// start.
func (c *Catalog) Seed(ctx context.Context, store CatalogStore) error {
	for _, in := range c.Inboxes {
		if err := store.UpsertInbox(ctx, in); err != nil {
			return fmt.Errorf("seed inbox %s: %w", in.Code, err)
		}
	}
	for _, t := range c.Types {
		_, err := store.UpsertType(ctx, NotificationType{
			Code:            t.Code,
			Name:            t.Name,
			Inbox:           t.Inbox,
			Importance:      t.Importance,
			DefaultChannels: t.Channels,
		})
		if err != nil {
			return fmt.Errorf("seed type %s: %w", t.Code, err)
		}
	}
	return nil
}

// SeedCatalog loads the embedded catalog into store and returns it.
func SeedCatalog(ctx context.Context, store CatalogStore) (*Catalog, error) {
	c, err := DefaultCatalog()
	if err != nil {
		return nil, err
	}
	if err := c.Seed(ctx, store); err != nil {
		return nil, err
	}
	return c, nil
}
