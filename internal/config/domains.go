package config

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"

	"github.com/couchcryptid/forecast-grid-etl/internal/domain"
)

//go:embed domains.hcl
var defaultDomains []byte

// hclCatalogFile is the top-level structure of a domain catalog for decoding.
type hclCatalogFile struct {
	Domains []*hclDomain `hcl:"domain,block"`
}

type hclDomain struct {
	Name                string         `hcl:"name,label"`
	Nx                  int            `hcl:"nx"`
	Ny                  int            `hcl:"ny"`
	TimeStepSeconds     int64          `hcl:"time_step_seconds"`
	FileLength          int            `hcl:"file_length"`
	UpdateIntervalHours int            `hcl:"update_interval_hours"`
	AvailabilityDelay   string         `hcl:"availability_delay,optional"`
	TimeStepsMin        int            `hcl:"time_steps_min"`
	TimeStepsMax        int            `hcl:"time_steps_max"`
	RemotePath          string         `hcl:"remote_path"`
	DownloadPath        string         `hcl:"download_path,optional"`
	StorePath           string         `hcl:"store_path,optional"`
	Altitude            string         `hcl:"altitude"`
	LandFraction        string         `hcl:"land_fraction"`
	Variables           []*hclVariable `hcl:"variable,block"`
}

type hclVariable struct {
	Name          string   `hcl:"name,label"`
	RemoteName    string   `hcl:"remote_name"`
	Scale         *float64 `hcl:"scale,optional"`
	Offset        *float64 `hcl:"offset,optional"`
	Accumulated   bool     `hcl:"accumulated,optional"`
	SkipFirstHour bool     `hcl:"skip_first_hour,optional"`
	OutputName    string   `hcl:"output_name,optional"`
	ScaleFactor   *float64 `hcl:"scale_factor,optional"`
	Unit          string   `hcl:"unit,optional"`
}

// Catalog is the set of model domains known to the pipeline.
type Catalog struct {
	grids map[string]domain.Grid
}

// LoadCatalog reads the domain catalog from cfg.DomainsFile, or the embedded
// default when unset. Relative store and download paths resolve against
// cfg.DataDir.
func LoadCatalog(cfg *Config) (*Catalog, error) {
	src, filename := defaultDomains, "domains.hcl"
	if cfg.DomainsFile != "" {
		b, err := os.ReadFile(cfg.DomainsFile)
		if err != nil {
			return nil, fmt.Errorf("read domain catalog: %w", err)
		}
		src, filename = b, cfg.DomainsFile
	}
	return ParseCatalog(src, filename, cfg.DataDir)
}

// ParseCatalog decodes an HCL domain catalog.
func ParseCatalog(src []byte, filename, dataDir string) (*Catalog, error) {
	file, diags := hclparse.NewParser().ParseHCL(src, filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse domain catalog %s: %w", filename, diags)
	}

	var parsed hclCatalogFile
	if diags := gohcl.DecodeBody(file.Body, nil, &parsed); diags.HasErrors() {
		return nil, fmt.Errorf("failed to decode domain catalog %s: %w", filename, diags)
	}

	c := &Catalog{grids: make(map[string]domain.Grid, len(parsed.Domains))}
	for _, d := range parsed.Domains {
		if _, dup := c.grids[d.Name]; dup {
			return nil, fmt.Errorf("domain catalog %s: duplicate domain %q", filename, d.Name)
		}
		grid, err := d.toGrid(dataDir)
		if err != nil {
			return nil, fmt.Errorf("domain catalog %s: %w", filename, err)
		}
		c.grids[d.Name] = grid
	}
	return c, nil
}

// Domain looks up a grid by name. Unknown names yield domain.ErrInvalidArgument.
func (c *Catalog) Domain(name string) (domain.Grid, error) {
	g, ok := c.grids[name]
	if !ok {
		return domain.Grid{}, fmt.Errorf("%w: unknown domain %q (known: %v)", domain.ErrInvalidArgument, name, c.Names())
	}
	return g, nil
}

// Names lists the catalog's domains in sorted order.
func (c *Catalog) Names() []string {
	names := make([]string, 0, len(c.grids))
	for n := range c.grids {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func (d *hclDomain) toGrid(dataDir string) (domain.Grid, error) {
	switch {
	case d.Nx <= 0 || d.Ny <= 0:
		return domain.Grid{}, fmt.Errorf("domain %s: nx and ny must be positive", d.Name)
	case d.TimeStepSeconds <= 0:
		return domain.Grid{}, fmt.Errorf("domain %s: time_step_seconds must be positive", d.Name)
	case d.FileLength <= 0:
		return domain.Grid{}, fmt.Errorf("domain %s: file_length must be positive", d.Name)
	case d.UpdateIntervalHours <= 0 || 24%d.UpdateIntervalHours != 0:
		return domain.Grid{}, fmt.Errorf("domain %s: update_interval_hours must divide 24", d.Name)
	case d.TimeStepsMin <= 0 || d.TimeStepsMin > d.TimeStepsMax:
		return domain.Grid{}, fmt.Errorf("domain %s: invalid time step band [%d, %d]", d.Name, d.TimeStepsMin, d.TimeStepsMax)
	}

	var delay time.Duration
	if d.AvailabilityDelay != "" {
		var err error
		delay, err = time.ParseDuration(d.AvailabilityDelay)
		if err != nil {
			return domain.Grid{}, fmt.Errorf("domain %s: availability_delay: %w", d.Name, err)
		}
	}

	grid := domain.Grid{
		Name:                d.Name,
		Nx:                  d.Nx,
		Ny:                  d.Ny,
		TimeStepSeconds:     d.TimeStepSeconds,
		FileLength:          d.FileLength,
		UpdateIntervalHours: d.UpdateIntervalHours,
		AvailabilityDelay:   delay,
		TimeStepsMin:        d.TimeStepsMin,
		TimeStepsMax:        d.TimeStepsMax,
		RemotePath:          d.RemotePath,
		DownloadPath:        resolvePath(d.DownloadPath, dataDir, "download", d.Name),
		StorePath:           resolvePath(d.StorePath, dataDir, "store", d.Name),
		AltitudeName:        d.Altitude,
		LandFractionName:    d.LandFraction,
	}

	seen := make(map[string]bool, len(d.Variables))
	for _, v := range d.Variables {
		if seen[v.Name] {
			return domain.Grid{}, fmt.Errorf("domain %s: duplicate variable %q", d.Name, v.Name)
		}
		seen[v.Name] = true
		grid.Variables = append(grid.Variables, v.toSpec())
	}
	return grid, nil
}

func (v *hclVariable) toSpec() domain.VariableSpec {
	spec := domain.VariableSpec{
		Name:          v.Name,
		RemoteName:    v.RemoteName,
		Accumulated:   v.Accumulated,
		SkipFirstHour: v.SkipFirstHour,
		OutputName:    v.OutputName,
		ScaleFactor:   1,
		Unit:          v.Unit,
	}
	if spec.OutputName == "" {
		spec.OutputName = v.Name
	}
	if v.ScaleFactor != nil {
		spec.ScaleFactor = float32(*v.ScaleFactor)
	}
	if v.Scale != nil || v.Offset != nil {
		lt := domain.LinearTransform{Scale: 1}
		if v.Scale != nil {
			lt.Scale = float32(*v.Scale)
		}
		if v.Offset != nil {
			lt.Offset = float32(*v.Offset)
		}
		spec.Linear = &lt
	}
	return spec
}

func resolvePath(configured, dataDir, kind, name string) string {
	switch {
	case configured == "":
		return filepath.Join(dataDir, kind, name)
	case filepath.IsAbs(configured):
		return configured
	default:
		return filepath.Join(dataDir, configured)
	}
}
