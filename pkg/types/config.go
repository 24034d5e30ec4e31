package types

import "time"

// GeneratorConfig holds shared settings for content generation backends.
type GeneratorConfig struct {
	// Model is the AI model identifier (e.g. "claude-sonnet-4-5-20250929").
	Model string `json:"model" yaml:"model"`

	// APIKey is the authentication key for the generation API.
	APIKey string `json:"api_key,omitempty" yaml:"api_key,omitempty"`

	// MaxRetries is the number of retry attempts for failed generation calls
	// (default 3). Per prd006-orchestrator R3.4.
	MaxRetries int `json:"max_retries" yaml:"max_retries"`

	// Timeout is the per-call generation deadline.
	Timeout time.Duration `json:"timeout" yaml:"timeout"`
}

// SandboxConfig holds settings for isolated auxiliary code execution.
// Per prd003-sandbox R1.1-R1.5.
type SandboxConfig struct {
	// Image is the container image used to run auxiliary code.
	Image string `json:"image" yaml:"image"`

	// Interpreter is the command run inside the container against the task
	// file (default "python3").
	Interpreter string `json:"interpreter" yaml:"interpreter"`

	// Timeout is the wall-clock limit for one task (default 60s).
	Timeout time.Duration `json:"timeout" yaml:"timeout"`

	// MemoryMB is the memory ceiling in megabytes (default 512).
	MemoryMB int `json:"memory_mb" yaml:"memory_mb"`

	// AllowHosts is the network allow-list. Empty means network denied.
	AllowHosts []string `json:"allow_hosts,omitempty" yaml:"allow_hosts,omitempty"`

	// AllowedImports is the library allow-list enforced by static check
	// before execution.
	AllowedImports []string `json:"allowed_imports,omitempty" yaml:"allowed_imports,omitempty"`

	// WorkRoot is the parent directory for single-use working directories
	// (default os.TempDir()).
	WorkRoot string `json:"work_root,omitempty" yaml:"work_root,omitempty"`
}

// PlacementConfig holds tuning knobs for the element placement engine.
// Per prd005-placement R3.1-R3.3, R7.2.
type PlacementConfig struct {
	// MinFlowWords is the minimum anchor-paragraph word count below which
	// insertion waits for the next paragraph boundary (default 30).
	MinFlowWords int `json:"min_flow_words" yaml:"min_flow_words"`

	// LargeElementLines is the body line count above which an element is
	// pushed to its section boundary (default 20).
	LargeElementLines int `json:"large_element_lines" yaml:"large_element_lines"`

	// CrossSectionPolicy controls elements anchored outside their owning
	// section: "report" (default) records them in CrossSectionRefs,
	// "reject" fails placement.
	CrossSectionPolicy string `json:"cross_section_policy" yaml:"cross_section_policy"`
}

// OrchestratorConfig holds settings for the wave execution loop.
// Per prd006-orchestrator R3.1-R3.5.
type OrchestratorConfig struct {
	// Workers bounds the number of concurrently running section tasks
	// within a wave (default 4).
	Workers int `json:"workers" yaml:"workers"`

	// SectionTimeout is the overall per-section deadline covering generation
	// and sandbox execution (default 10m).
	SectionTimeout time.Duration `json:"section_timeout" yaml:"section_timeout"`

	// CriticalSections lists section IDs whose failure aborts the whole run,
	// cancelling still-running siblings and skipping remaining waves.
	CriticalSections []string `json:"critical_sections,omitempty" yaml:"critical_sections,omitempty"`
}

// PersistenceConfig holds settings for checkpoint storage.
// Per prd007-persistence R1.1.
type PersistenceConfig struct {
	// DBPath is the SQLite database path for checkpoints
	// (default "compose/checkpoints.db").
	DBPath string `json:"db_path" yaml:"db_path"`
}

// EngineConfig groups all component configurations.
type EngineConfig struct {
	Generator    GeneratorConfig    `json:"generator" yaml:"generator"`
	Sandbox      SandboxConfig      `json:"sandbox" yaml:"sandbox"`
	Placement    PlacementConfig    `json:"placement" yaml:"placement"`
	Orchestrator OrchestratorConfig `json:"orchestrator" yaml:"orchestrator"`
	Persistence  PersistenceConfig  `json:"persistence" yaml:"persistence"`
}
