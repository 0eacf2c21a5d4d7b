package market

import (
	_ "embed"
	"os"
	"sort"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/verifdevis/devis-cli/internal/model"
)

//go:embed data/references.yaml
var defaultReferencesYAML []byte

// Reference is the base price band of one job type.
type Reference struct {
	Label   string  `yaml:"label"`
	Unit    string  `yaml:"unit"`
	Min     float64 `yaml:"min"`
	Avg     float64 `yaml:"avg"`
	Max     float64 `yaml:"max"`
	Samples int     `yaml:"samples"`
}

// Band returns the min/avg/max triple.
func (r Reference) Band() model.PriceBand {
	return model.PriceBand{Min: r.Min, Avg: r.Avg, Max: r.Max}
}

// References is the reference price table keyed by job type.
type References struct {
	byJob map[string]Reference
}

// LoadReferences reads the table at path, or the embedded table when path is empty.
func LoadReferences(path string) (*References, error) {
	data := defaultReferencesYAML
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, eris.Wrapf(err, "market: read references %s", path)
		}
		data = b
	}
	return ParseReferences(data)
}

// ParseReferences builds the table from YAML. Out-of-order bands are
// re-sorted with a warning rather than rejected.
func ParseReferences(data []byte) (*References, error) {
	var f struct {
		References map[string]Reference `yaml:"references"`
	}
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, eris.Wrap(err, "market: parse references")
	}

	refs := &References{byJob: make(map[string]Reference, len(f.References))}
	for job, r := range f.References {
		if r.Min < 0 || r.Avg < 0 || r.Max < 0 {
			return nil, eris.Errorf("market: reference %s has a negative price", job)
		}
		if r.Min > r.Avg || r.Avg > r.Max {
			zap.L().Warn("market: reference band out of order, re-sorting", zap.String("job_type", job))
			v := []float64{r.Min, r.Avg, r.Max}
			sort.Float64s(v)
			r.Min, r.Avg, r.Max = v[0], v[1], v[2]
		}
		refs.byJob[job] = r
	}
	return refs, nil
}

// Get returns the reference of a job type.
func (r *References) Get(jobType string) (Reference, bool) {
	ref, ok := r.byJob[jobType]
	return ref, ok
}

// JobTypes lists the known job types in alphabetical order.
func (r *References) JobTypes() []string {
	out := make([]string, 0, len(r.byJob))
	for k := range r.byJob {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
