package pricing

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/digkill/SynergyHub/internal/models"
)

//go:embed catalog.yaml
var embeddedCatalog []byte

// Descriptor is everything the service needs to know about a model: who serves it,
// what it costs and whether it accepts input images.
type Descriptor struct {
	ID                 string
	Match              string
	Operation          models.OperationType
	Provider           string
	Credits            decimal.Decimal
	ProviderCost       decimal.Decimal
	SupportsAttachment bool
}

// Catalog maps model identifiers to descriptors. It is immutable after parsing.
type Catalog struct {
	defaults map[models.OperationType]Descriptor
	rules    []Descriptor
}

type rawDescriptor struct {
	ID                 string `yaml:"id"`
	Match              string `yaml:"match"`
	Operation          string `yaml:"operation"`
	Provider           string `yaml:"provider"`
	Credits            string `yaml:"credits"`
	ProviderCost       string `yaml:"provider_cost"`
	SupportsAttachment *bool  `yaml:"supports_attachment"`
}

type rawCatalog struct {
	Defaults map[string]rawDescriptor `yaml:"defaults"`
	Models   []rawDescriptor          `yaml:"models"`
}

var defaultCatalog = mustParse(embeddedCatalog)

// DefaultCatalog returns the catalog compiled into the binary.
func DefaultCatalog() *Catalog {
	return defaultCatalog
}

// LoadCatalog reads a catalog file, falling back to the embedded one when path is empty.
func LoadCatalog(path string) (*Catalog, error) {
	if path == "" {
		return defaultCatalog, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog %s: %w", path, err)
	}
	return ParseCatalog(data)
}

func ParseCatalog(data []byte) (*Catalog, error) {
	var raw rawCatalog
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}

	c := &Catalog{defaults: make(map[models.OperationType]Descriptor)}
	for name, rd := range raw.Defaults {
		op := models.OperationType(name)
		if !op.Valid() {
			return nil, fmt.Errorf("catalog default for unknown operation %q", name)
		}
		rd.Operation = name
		d, err := rd.toDescriptor(Descriptor{Operation: op, SupportsAttachment: true})
		if err != nil {
			return nil, fmt.Errorf("default %s: %w", name, err)
		}
		if d.Provider == "" {
			return nil, fmt.Errorf("default %s: provider is required", name)
		}
		c.defaults[op] = d
	}
	for _, op := range []models.OperationType{
		models.OperationImageGeneration, models.OperationVideoGeneration, models.OperationUpscale,
		models.OperationSkinEnhance, models.OperationInpaint,
	} {
		if _, ok := c.defaults[op]; !ok {
			return nil, fmt.Errorf("catalog has no default for %s", op)
		}
	}

	for i, rd := range raw.Models {
		op := models.OperationType(rd.Operation)
		base, ok := c.defaults[op]
		if !ok {
			return nil, fmt.Errorf("model rule %d: unknown operation %q", i, rd.Operation)
		}
		if rd.ID == "" && rd.Match == "" {
			return nil, fmt.Errorf("model rule %d: id or match is required", i)
		}
		base.ID, base.Match = "", ""
		d, err := rd.toDescriptor(base)
		if err != nil {
			return nil, fmt.Errorf("model rule %d: %w", i, err)
		}
		c.rules = append(c.rules, d)
	}
	return c, nil
}

func mustParse(data []byte) *Catalog {
	c, err := ParseCatalog(data)
	if err != nil {
		panic(fmt.Sprintf("embedded catalog: %v", err))
	}
	return c
}

func (rd rawDescriptor) toDescriptor(base Descriptor) (Descriptor, error) {
	d := base
	d.ID = strings.ToLower(strings.TrimSpace(rd.ID))
	d.Match = strings.ToLower(strings.TrimSpace(rd.Match))
	if rd.Provider != "" {
		d.Provider = rd.Provider
	}
	if rd.Credits != "" {
		v, err := decimal.NewFromString(rd.Credits)
		if err != nil {
			return Descriptor{}, fmt.Errorf("credits %q: %w", rd.Credits, err)
		}
		if v.IsNegative() {
			return Descriptor{}, fmt.Errorf("credits %q must not be negative", rd.Credits)
		}
		d.Credits = v
	}
	if rd.ProviderCost != "" {
		v, err := decimal.NewFromString(rd.ProviderCost)
		if err != nil {
			return Descriptor{}, fmt.Errorf("provider_cost %q: %w", rd.ProviderCost, err)
		}
		d.ProviderCost = v
	}
	if rd.SupportsAttachment != nil {
		d.SupportsAttachment = *rd.SupportsAttachment
	}
	return d, nil
}

// Lookup resolves the descriptor for a model. Unknown models fall through to the
// operation default instead of failing.
func (c *Catalog) Lookup(op models.OperationType, model string) Descriptor {
	id := strings.ToLower(strings.TrimSpace(model))
	for _, d := range c.rules {
		if d.Operation == op && d.ID != "" && d.ID == id {
			return d
		}
	}
	for _, d := range c.rules {
		if d.Operation == op && d.Match != "" && strings.Contains(id, d.Match) {
			return d
		}
	}
	d := c.defaults[op]
	d.ID = id
	return d
}
