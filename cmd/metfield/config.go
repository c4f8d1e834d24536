package main

import (
	"os"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/dreamware/metfield/internal/field"
)

// Placement policies accepted in a run file.
const (
	PlacementHash       = "hash"
	PlacementRoundRobin = "round-robin"
)

// RunFile is the YAML description of the profiles a run serves.
type RunFile struct {
	Placement string        `yaml:"placement"`
	CacheDir  string        `yaml:"cache_dir"`
	Profiles  []ProfileSpec `yaml:"profiles"`
}

// VerticalSpec describes a profile's vertical coordinate.
type VerticalSpec struct {
	Quantity string `yaml:"quantity"`
	Units    string `yaml:"units"`
}

// ProfileSpec is one profile of a run file. Server pins the profile to a
// rank; when absent the placement policy decides.
type ProfileSpec struct {
	Name       string            `yaml:"name"`
	Quantity   string            `yaml:"quantity"`
	Units      string            `yaml:"units"`
	Vertical   VerticalSpec      `yaml:"vertical"`
	Levels     []float64         `yaml:"levels"`
	Values     []float64         `yaml:"values"`
	Fill       *float64          `yaml:"fill"`
	Time       float64           `yaml:"time"`
	MetTime    string            `yaml:"met_time"`
	Server     *int              `yaml:"server"`
	Attributes map[string]string `yaml:"attributes"`
	Cacheable  bool              `yaml:"cacheable"`
	ExpiresIn  string            `yaml:"expires_in"`
}

func loadRunFile(path string) (*RunFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "reading run file")
	}
	return parseRunFile(data)
}

func parseRunFile(data []byte) (*RunFile, error) {
	var rf RunFile
	if err := yaml.Unmarshal(data, &rf); err != nil {
		return nil, errors.Wrap(err, "parsing run file")
	}
	if rf.Placement == "" {
		rf.Placement = PlacementHash
	}
	if err := rf.validate(); err != nil {
		return nil, err
	}
	return &rf, nil
}

// validate checks everything a server rank would otherwise discover
// mid-run, after its clients were already waiting on it.
func (rf *RunFile) validate() error {
	switch rf.Placement {
	case PlacementHash, PlacementRoundRobin:
	default:
		return errors.Errorf("unknown placement %q", rf.Placement)
	}
	seen := make(map[string]bool)
	for i := range rf.Profiles {
		ps := &rf.Profiles[i]
		if ps.Name == "" {
			return errors.Errorf("profile %d has no name", i)
		}
		if seen[ps.Name] {
			return errors.Errorf("profile %q listed twice", ps.Name)
		}
		seen[ps.Name] = true
		if _, err := ps.expiresIn(); err != nil {
			return err
		}
		if err := ps.build(field.NewProfile(ps.Name), time.Time{}); err != nil {
			return errors.Wrapf(err, "profile %q", ps.Name)
		}
	}
	return nil
}

func (ps *ProfileSpec) expiresIn() (time.Duration, error) {
	if ps.ExpiresIn == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(ps.ExpiresIn)
	if err != nil {
		return 0, errors.Wrapf(err, "profile %q expires_in", ps.Name)
	}
	return d, nil
}

// build loads ps into p. now anchors expires_in.
func (ps *ProfileSpec) build(p *field.Profile, now time.Time) error {
	p.SetName(ps.Name)
	p.SetQuantity(ps.Quantity)
	p.SetUnits(ps.Units)
	p.SetTime(ps.Time, ps.MetTime)
	if ps.Fill != nil {
		p.SetFillVal(*ps.Fill)
	}
	for k, v := range ps.Attributes {
		p.Set(k, v)
	}
	p.Axis().SetQuantity(ps.Vertical.Quantity)
	p.Axis().SetUnits(ps.Vertical.Units)
	if err := p.Load(ps.Levels, ps.Values, 0); err != nil {
		return err
	}
	if ps.Cacheable {
		p.SetCacheable()
	}
	if d, _ := ps.expiresIn(); d > 0 {
		p.SetExpires(now.Add(d))
	}
	return nil
}

// cacheKey names a profile's record in the field cache.
func (ps *ProfileSpec) cacheKey() string {
	if ps.MetTime == "" {
		return ps.Name
	}
	return ps.Name + "/" + ps.MetTime
}
