package api

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Spec is the submission payload for one training job. It is both the
// JSON body of a submit request and the schema of spec files fed to the
// CLI, hence the double tags.
type Spec struct {
	// EntryPoint is the argv of the training process. The first element
	// may be a local command or a script URI the executor stages.
	EntryPoint []string `json:"entry_point" yaml:"entry_point"`

	// Inputs are the data channel URIs made available to the job.
	Inputs []string `json:"inputs,omitempty" yaml:"inputs"`

	// Hyperparameters are passed to the entry point through the
	// environment (TRAINJOB_HP_<NAME>).
	Hyperparameters map[string]string `json:"hyperparameters,omitempty" yaml:"hyperparameters"`

	Resources Resources `json:"resources" yaml:"resources"`

	// OutputURI is where the job writes its model artifacts.
	OutputURI string `json:"output_uri" yaml:"output_uri"`

	// MetricsURI is an optional auxiliary channel for scalar metrics
	// and log artifacts.
	MetricsURI string `json:"metrics_uri,omitempty" yaml:"metrics_uri"`

	// Env is extra environment for the training process. Reserved
	// TRAINJOB_* names are rejected at validation time.
	Env map[string]string `json:"env,omitempty" yaml:"env"`
}

// Resources is the compute request for a job.
type Resources struct {
	Class string `json:"class" yaml:"class"`
	GPUs  int    `json:"gpus,omitempty" yaml:"gpus"`
	// MemoryGB and DiskGB of zero mean the class default.
	MemoryGB int `json:"memory_gb,omitempty" yaml:"memory_gb"`
	DiskGB   int `json:"disk_gb,omitempty" yaml:"disk_gb"`
}

// ComputeClasses are the classes the service accepts. A spec naming
// anything else fails validation before it leaves the client.
var ComputeClasses = map[string]bool{
	"cpu.small":  true,
	"cpu.medium": true,
	"cpu.large":  true,
	"gpu.t4":     true,
	"gpu.v100":   true,
	"gpu.a100":   true,
}

const envPrefix = "TRAINJOB_"

// Validate checks the spec for the failures a submission would be
// rejected for, so callers get a descriptive error before any remote
// call is dispatched.
func (s *Spec) Validate() error {
	if len(s.EntryPoint) == 0 || strings.TrimSpace(s.EntryPoint[0]) == "" {
		return Errorf(KindValidation, "", "", "entry_point is required")
	}
	if s.OutputURI == "" {
		return Errorf(KindValidation, "", "", "output_uri is required")
	}
	if s.Resources.Class == "" {
		return Errorf(KindValidation, "", "", "resources.class is required")
	}
	if !ComputeClasses[s.Resources.Class] {
		return Errorf(KindValidation, "", "", "unsupported compute class %q", s.Resources.Class)
	}
	if s.Resources.GPUs < 0 {
		return Errorf(KindValidation, "", "", "resources.gpus must not be negative")
	}
	if s.Resources.GPUs > 0 && strings.HasPrefix(s.Resources.Class, "cpu.") {
		return Errorf(KindValidation, "", "", "compute class %q has no GPUs", s.Resources.Class)
	}
	for _, in := range s.Inputs {
		if strings.TrimSpace(in) == "" {
			return Errorf(KindValidation, "", "", "inputs must not contain empty URIs")
		}
	}
	for k := range s.Env {
		if strings.HasPrefix(k, envPrefix) {
			return Errorf(KindValidation, "", "", "env name %q collides with the reserved %s prefix", k, envPrefix)
		}
	}
	return nil
}

// ParseSpecFile loads and validates a YAML spec file.
func ParseSpecFile(path string) (*Spec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, Errorf(KindValidation, "", "", "reading spec file: %v", err)
	}
	var spec Spec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return nil, Errorf(KindValidation, "", "", "parsing %s: %v", path, err)
	}
	if err := spec.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &spec, nil
}
