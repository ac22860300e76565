package pipeline

import (
	"github.com/davidroman0O/gostage/store"

	"github.com/davidroman0O/iflowpipe/dependencies"
	"github.com/davidroman0O/iflowpipe/errors"
	"github.com/davidroman0O/iflowpipe/params"
	"github.com/davidroman0O/iflowpipe/rules"
	"github.com/davidroman0O/iflowpipe/testrun"
	"github.com/davidroman0O/iflowpipe/tracker"
)

// Accumulator keys
const (
	KeySelectedPackages = "selectedPackages"
	KeySelectedIFlows   = "selectedIFlows"
	KeyConfiguration    = "configuration"
	KeyValidation       = "validation"
	KeyDependencies     = "dependencies"
	KeyUpload           = "upload"
	KeyDeployment       = "deployment"
	KeyTests            = "tests"
)

// Configuration is the outcome of stage 3
type Configuration struct {
	Environment string               `json:"environment" yaml:"environment"`
	Params      []params.ConfigParam `json:"params" yaml:"params"`
	// Missing lists required parameters left empty; informational only
	Missing []params.ConfigParam `json:"missing,omitempty" yaml:"missing,omitempty"`
}

// DependencyCheck is the outcome of stage 5
type DependencyCheck struct {
	Dependencies []dependencies.Dependency `json:"dependencies" yaml:"dependencies"`
	Summary      dependencies.Summary      `json:"summary" yaml:"summary"`
}

// Payload is the delta a stage contributes. Nil fields are left
// untouched by the merge; set fields replace the accumulated value.
type Payload struct {
	SelectedPackages []string
	SelectedIFlows   []string
	Configuration    *Configuration
	Validation       *rules.Summary
	Dependencies     *DependencyCheck
	Upload           *tracker.Summary
	Deployment       *tracker.Summary
	Tests            *testrun.Report
}

// View is a read-only copy of the accumulator
type View struct {
	SelectedPackages []string         `json:"selectedPackages,omitempty" yaml:"selectedPackages,omitempty"`
	SelectedIFlows   []string         `json:"selectedIFlows,omitempty" yaml:"selectedIFlows,omitempty"`
	Configuration    *Configuration   `json:"configuration,omitempty" yaml:"configuration,omitempty"`
	Validation       *rules.Summary   `json:"validation,omitempty" yaml:"validation,omitempty"`
	Dependencies     *DependencyCheck `json:"dependencies,omitempty" yaml:"dependencies,omitempty"`
	Upload           *tracker.Summary `json:"upload,omitempty" yaml:"upload,omitempty"`
	Deployment       *tracker.Summary `json:"deployment,omitempty" yaml:"deployment,omitempty"`
	Tests            *testrun.Report  `json:"tests,omitempty" yaml:"tests,omitempty"`
}

// accumulator stores each slot as its own typed KV entry
type accumulator struct {
	kv *store.KVStore
}

func newAccumulator() *accumulator {
	return &accumulator{kv: store.NewKVStore()}
}

func (a *accumulator) merge(p Payload) error {
	puts := []struct {
		key   string
		set   bool
		value interface{}
	}{
		{KeySelectedPackages, p.SelectedPackages != nil, p.SelectedPackages},
		{KeySelectedIFlows, p.SelectedIFlows != nil, p.SelectedIFlows},
		{KeyConfiguration, p.Configuration != nil, derefOrNil(p.Configuration)},
		{KeyValidation, p.Validation != nil, derefOrNil(p.Validation)},
		{KeyDependencies, p.Dependencies != nil, derefOrNil(p.Dependencies)},
		{KeyUpload, p.Upload != nil, derefOrNil(p.Upload)},
		{KeyDeployment, p.Deployment != nil, derefOrNil(p.Deployment)},
		{KeyTests, p.Tests != nil, derefOrNil(p.Tests)},
	}
	for _, put := range puts {
		if !put.set {
			continue
		}
		if err := a.kv.Put(put.key, put.value); err != nil {
			return errors.Wrap(err, errors.ErrInvalidInput, "failed to store "+put.key)
		}
	}
	return nil
}

func derefOrNil[T any](p *T) interface{} {
	if p == nil {
		return nil
	}
	return *p
}

func slot[T any](kv *store.KVStore, key string) (*T, error) {
	v, err := store.Get[T](kv, key)
	if err == store.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrUnknown, "failed to read "+key)
	}
	return &v, nil
}

func (a *accumulator) view() (View, error) {
	var v View
	pkgs, err := store.GetOrDefault[[]string](a.kv, KeySelectedPackages, nil)
	if err != nil {
		return v, errors.Wrap(err, errors.ErrUnknown, "failed to read "+KeySelectedPackages)
	}
	v.SelectedPackages = pkgs
	flows, err := store.GetOrDefault[[]string](a.kv, KeySelectedIFlows, nil)
	if err != nil {
		return v, errors.Wrap(err, errors.ErrUnknown, "failed to read "+KeySelectedIFlows)
	}
	v.SelectedIFlows = flows

	if v.Configuration, err = slot[Configuration](a.kv, KeyConfiguration); err != nil {
		return v, err
	}
	if v.Validation, err = slot[rules.Summary](a.kv, KeyValidation); err != nil {
		return v, err
	}
	if v.Dependencies, err = slot[DependencyCheck](a.kv, KeyDependencies); err != nil {
		return v, err
	}
	if v.Upload, err = slot[tracker.Summary](a.kv, KeyUpload); err != nil {
		return v, err
	}
	if v.Deployment, err = slot[tracker.Summary](a.kv, KeyDeployment); err != nil {
		return v, err
	}
	if v.Tests, err = slot[testrun.Report](a.kv, KeyTests); err != nil {
		return v, err
	}
	return v, nil
}

// payload turns a view back into a full payload for restore
func (v View) payload() Payload {
	return Payload{
		SelectedPackages: v.SelectedPackages,
		SelectedIFlows:   v.SelectedIFlows,
		Configuration:    v.Configuration,
		Validation:       v.Validation,
		Dependencies:     v.Dependencies,
		Upload:           v.Upload,
		Deployment:       v.Deployment,
		Tests:            v.Tests,
	}
}
