package catalog

import (
	"context"
	"sort"
	"strings"

	"github.com/davidroman0O/iflowpipe/errors"
)

// Provider lists the selectable entities
type Provider interface {
	ListPackages(ctx context.Context) ([]Package, error)
	ListIFlowsForPackages(ctx context.Context, packageIDs []string) ([]IFlow, error)
}

// Seed is the raw content of a static catalog
type Seed struct {
	Packages []Package `yaml:"packages" json:"packages"`
	IFlows   []IFlow   `yaml:"iflows" json:"iflows"`
}

// Static is an immutable in-memory catalog
type Static struct {
	packages map[string]Package
	iflows   map[string]IFlow
	byPkg    map[string][]string
}

var _ Provider = (*Static)(nil)

// DependencyID scopes a dependency ID to the iFlow declaring it, so two
// iFlows may both name a dependency "s4hana". Scoped IDs are returned as is.
func DependencyID(iflowID, id string) string {
	if strings.HasPrefix(id, iflowID+"/") {
		return id
	}
	return iflowID + "/" + id
}

// NewStatic indexes a seed, rejecting duplicate IDs and orphaned iFlows
func NewStatic(seed Seed) (*Static, error) {
	s := &Static{
		packages: make(map[string]Package, len(seed.Packages)),
		iflows:   make(map[string]IFlow, len(seed.IFlows)),
		byPkg:    make(map[string][]string),
	}

	for _, p := range seed.Packages {
		if p.ID == "" {
			return nil, errors.New(errors.ErrInvalidInput, "package without id")
		}
		if _, dup := s.packages[p.ID]; dup {
			return nil, errors.Newf(errors.ErrInvalidInput, "duplicate package %s", p.ID)
		}
		p.IFlowCount = 0
		s.packages[p.ID] = p
	}

	for _, f := range seed.IFlows {
		if f.ID == "" {
			return nil, errors.New(errors.ErrInvalidInput, "iflow without id")
		}
		if _, dup := s.iflows[f.ID]; dup {
			return nil, errors.Newf(errors.ErrInvalidInput, "duplicate iflow %s", f.ID)
		}
		pkg, ok := s.packages[f.PackageID]
		if !ok {
			return nil, errors.Newf(errors.ErrInvalidInput, "iflow %s references unknown package %s", f.ID, f.PackageID)
		}
		if f.Complexity == "" {
			f.Complexity = ComplexityMedium
		}
		if !f.Complexity.Valid() {
			return nil, errors.Newf(errors.ErrInvalidInput, "iflow %s has unknown complexity %q", f.ID, f.Complexity)
		}
		if f.Status == "" {
			f.Status = IFlowActive
		}

		f.Artifacts = append([]Artifact(nil), f.Artifacts...)
		for i := range f.Artifacts {
			if f.Artifacts[i].IFlowID == "" {
				f.Artifacts[i].IFlowID = f.ID
			}
		}
		f.Dependencies = append([]DependencySpec(nil), f.Dependencies...)
		seen := make(map[string]bool, len(f.Dependencies))
		for i := range f.Dependencies {
			id := DependencyID(f.ID, f.Dependencies[i].ID)
			if seen[id] {
				return nil, errors.Newf(errors.ErrInvalidInput, "iflow %s declares dependency %s twice", f.ID, f.Dependencies[i].ID)
			}
			seen[id] = true
			f.Dependencies[i].ID = id
		}

		s.iflows[f.ID] = f
		s.byPkg[f.PackageID] = append(s.byPkg[f.PackageID], f.ID)
		pkg.IFlowCount++
		s.packages[f.PackageID] = pkg
	}

	for id := range s.byPkg {
		sort.Strings(s.byPkg[id])
	}
	return s, nil
}

// ListPackages returns every package sorted by ID
func (s *Static) ListPackages(ctx context.Context) ([]Package, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.FromContext(err)
	}
	out := make([]Package, 0, len(s.packages))
	for _, p := range s.packages {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// ListIFlowsForPackages returns the iFlows of the given packages sorted by ID
func (s *Static) ListIFlowsForPackages(ctx context.Context, packageIDs []string) ([]IFlow, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.FromContext(err)
	}

	seen := make(map[string]bool)
	var out []IFlow
	for _, pid := range packageIDs {
		if _, ok := s.packages[pid]; !ok {
			return nil, errors.Newf(errors.ErrNotFound, "package %s not found", pid)
		}
		for _, fid := range s.byPkg[pid] {
			if seen[fid] {
				continue
			}
			seen[fid] = true
			out = append(out, s.iflows[fid].clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Package looks up one package
func (s *Static) Package(id string) (Package, error) {
	p, ok := s.packages[id]
	if !ok {
		return Package{}, errors.Newf(errors.ErrNotFound, "package %s not found", id)
	}
	return p, nil
}

// IFlow looks up one iFlow
func (s *Static) IFlow(id string) (IFlow, error) {
	f, ok := s.iflows[id]
	if !ok {
		return IFlow{}, errors.Newf(errors.ErrNotFound, "iflow %s not found", id)
	}
	return f.clone(), nil
}

// Lookup resolves iFlow IDs against the iFlows of some packages; the result is sorted and deduplicated
func Lookup(ctx context.Context, p Provider, packageIDs, iflowIDs []string) ([]IFlow, error) {
	available, err := p.ListIFlowsForPackages(ctx, packageIDs)
	if err != nil {
		return nil, err
	}
	index := make(map[string]IFlow, len(available))
	for _, f := range available {
		index[f.ID] = f
	}

	seen := make(map[string]bool, len(iflowIDs))
	out := make([]IFlow, 0, len(iflowIDs))
	for _, id := range iflowIDs {
		if seen[id] {
			continue
		}
		seen[id] = true
		f, ok := index[id]
		if !ok {
			return nil, errors.Newf(errors.ErrNotFound, "iflow %s not found in the selected packages", id)
		}
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f IFlow) clone() IFlow {
	f.Artifacts = append([]Artifact(nil), f.Artifacts...)
	f.Dependencies = append([]DependencySpec(nil), f.Dependencies...)
	return f
}
