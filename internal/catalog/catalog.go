package catalog

import (
	"embed"
	"errors"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/yungbote/workbook-backend/internal/progress"
)

// CatalogPathEnv points at a YAML file that replaces the embedded catalog.
const CatalogPathEnv = "WORKBOOK_CATALOG_YAML"

//go:embed catalog.yaml
var catalogFS embed.FS

var exerciseIDPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,63}$`)

type yamlCatalog struct {
	Version int         `yaml:"version"`
	Phases  []yamlPhase `yaml:"phases"`
}

type yamlPhase struct {
	Number    int                       `yaml:"number"`
	Title     string                    `yaml:"title"`
	Exercises []progress.ExerciseConfig `yaml:"exercises"`
}

type Phase struct {
	Number    int                       `json:"number"`
	Title     string                    `json:"title"`
	Exercises []progress.ExerciseConfig `json:"exercises"`
}

// Catalog is the static list of exercises per phase. It is read-only once loaded.
type Catalog struct {
	phases map[int]Phase
}

// Load reads the catalog from CatalogPathEnv if set, else from the embedded file.
func Load() (*Catalog, error) {
	data, err := read()
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Catalog, error) {
	var raw yamlCatalog
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	if err := validate(&raw); err != nil {
		return nil, fmt.Errorf("invalid catalog: %w", err)
	}
	c := &Catalog{phases: make(map[int]Phase, len(raw.Phases))}
	for _, p := range raw.Phases {
		c.phases[p.Number] = Phase{
			Number:    p.Number,
			Title:     strings.TrimSpace(p.Title),
			Exercises: append([]progress.ExerciseConfig(nil), p.Exercises...),
		}
	}
	return c, nil
}

// Exercises returns a copy of the exercise list of phase, empty for unknown phases.
func (c *Catalog) Exercises(phase int) []progress.ExerciseConfig {
	if c == nil {
		return []progress.ExerciseConfig{}
	}
	p, ok := c.phases[phase]
	if !ok {
		return []progress.ExerciseConfig{}
	}
	return append([]progress.ExerciseConfig{}, p.Exercises...)
}

func (c *Catalog) Phase(phase int) (Phase, bool) {
	if c == nil {
		return Phase{}, false
	}
	p, ok := c.phases[phase]
	if !ok {
		return Phase{}, false
	}
	p.Exercises = append([]progress.ExerciseConfig{}, p.Exercises...)
	return p, true
}

// Has reports whether worksheetID is an exercise of phase.
func (c *Catalog) Has(phase int, worksheetID string) bool {
	if c == nil {
		return false
	}
	for _, ex := range c.phases[phase].Exercises {
		if ex.ID == worksheetID {
			return true
		}
	}
	return false
}

// Phases lists the configured phase numbers in ascending order.
func (c *Catalog) Phases() []int {
	if c == nil {
		return nil
	}
	out := make([]int, 0, len(c.phases))
	for n := range c.phases {
		out = append(out, n)
	}
	sort.Ints(out)
	return out
}

func read() ([]byte, error) {
	if path := strings.TrimSpace(os.Getenv(CatalogPathEnv)); path != "" {
		return os.ReadFile(path)
	}
	return catalogFS.ReadFile("catalog.yaml")
}

func validate(raw *yamlCatalog) error {
	if raw == nil {
		return errors.New("missing catalog")
	}
	if len(raw.Phases) == 0 {
		return errors.New("no phases defined")
	}
	seen := map[int]bool{}
	for _, p := range raw.Phases {
		if err := progress.ValidatePhase(p.Number); err != nil {
			return err
		}
		if seen[p.Number] {
			return fmt.Errorf("duplicate phase: %d", p.Number)
		}
		seen[p.Number] = true

		ids := map[string]bool{}
		for _, ex := range p.Exercises {
			if !exerciseIDPattern.MatchString(ex.ID) {
				return fmt.Errorf("phase %d: invalid exercise id %q", p.Number, ex.ID)
			}
			if ids[ex.ID] {
				return fmt.Errorf("phase %d: duplicate exercise id %q", p.Number, ex.ID)
			}
			ids[ex.ID] = true
			if strings.TrimSpace(ex.Name) == "" {
				return fmt.Errorf("phase %d: exercise %q has no name", p.Number, ex.ID)
			}
		}
	}
	return nil
}
