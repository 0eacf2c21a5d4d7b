// Package market resolves reference price bands for quote line items and
// normalises them by urban tier.
package market

import (
	_ "embed"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/verifdevis/devis-cli/internal/model"
)

//go:embed data/zones.yaml
var defaultZonesYAML []byte

// DefaultZone is returned for any postal code with no table entry.
var DefaultZone = model.ZoneInfo{Zone: model.ZoneVilleMoyenne, Coefficient: 1.00, IsDefault: true}

type zonesFile struct {
	Coefficients map[model.ZoneType]float64 `yaml:"coefficients"`
	Prefixes     map[string]zoneEntry       `yaml:"prefixes"`
}

type zoneEntry struct {
	Zone        model.ZoneType `yaml:"zone"`
	Coefficient float64        `yaml:"coefficient"`
}

// Zones maps postal-code prefixes to urban tiers. It is read-only after load.
type Zones struct {
	byPrefix map[string]model.ZoneInfo
}

// LoadZones reads the zone table at path, or the embedded table when path is empty.
func LoadZones(path string) (*Zones, error) {
	data := defaultZonesYAML
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, eris.Wrapf(err, "market: read zones %s", path)
		}
		data = b
	}
	return ParseZones(data)
}

// ParseZones builds a zone table from YAML.
func ParseZones(data []byte) (*Zones, error) {
	var f zonesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, eris.Wrap(err, "market: parse zones")
	}

	z := &Zones{byPrefix: make(map[string]model.ZoneInfo, len(f.Prefixes))}
	for prefix, e := range f.Prefixes {
		switch e.Zone {
		case model.ZonePetiteVille, model.ZoneVilleMoyenne, model.ZoneGrandeVille:
		default:
			return nil, eris.Errorf("market: prefix %s has unknown zone %q", prefix, e.Zone)
		}
		coef := e.Coefficient
		if coef == 0 {
			coef = f.Coefficients[e.Zone]
		}
		if coef <= 0 {
			return nil, eris.Errorf("market: prefix %s has no coefficient", prefix)
		}
		z.byPrefix[strings.ToUpper(prefix)] = model.ZoneInfo{Zone: e.Zone, Coefficient: coef}
	}
	return z, nil
}

// Lookup returns the tier for a postal code. Unknown or malformed codes get
// DefaultZone; it never fails.
func (z *Zones) Lookup(postalCode string) model.ZoneInfo {
	prefix := zonePrefix(postalCode)
	if prefix == "" || z == nil {
		return DefaultZone
	}
	if info, ok := z.byPrefix[prefix]; ok {
		return info
	}
	return DefaultZone
}

// zonePrefix extracts the 2-character department prefix. Corsican postal
// codes (20xxx) are split into 2A and 2B.
func zonePrefix(postalCode string) string {
	pc := strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(postalCode), " ", ""))
	if len(pc) < 2 {
		return ""
	}
	prefix := pc[:2]
	if prefix == "20" && len(pc) >= 3 {
		if pc[2] < '2' {
			return "2A"
		}
		return "2B"
	}
	return prefix
}
