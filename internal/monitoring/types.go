package monitoring

// Config is the user-editable monitoring configuration.
//
// The four select-all toggles opt in every binary_sensor of that class.
// IncludedEntityIDs opts in individual entities regardless of class or
// domain. An entity is critical-eligible iff its (domain, class) pair is
// covered by a toggle or its id is explicitly included.
type Config struct {
	SmokeSelectAll    bool     `json:"smoke_select_all" yaml:"smoke_select_all"`
	MoistureSelectAll bool     `json:"moisture_select_all" yaml:"moisture_select_all"`
	COSelectAll       bool     `json:"co_select_all" yaml:"co_select_all"`
	GasSelectAll      bool     `json:"gas_select_all" yaml:"gas_select_all"`
	IncludedEntityIDs []string `json:"critical_included_entity_ids" yaml:"critical_included_entity_ids"`
}

// coarseDomain is the only domain the class toggles apply to. Explicit
// entity includes are not domain-restricted.
const coarseDomain = "binary_sensor"

// Snapshot is an immutable, versioned view of the configuration.
// Safe for concurrent reads from any number of dispatch workers.
type Snapshot struct {
	version  int64
	cfg      Config
	included map[string]struct{}
}

// NewSnapshot builds a snapshot from a config at the given version.
func NewSnapshot(cfg Config, version int64) *Snapshot {
	included := make(map[string]struct{}, len(cfg.IncludedEntityIDs))
	for _, id := range cfg.IncludedEntityIDs {
		if id != "" {
			included[id] = struct{}{}
		}
	}
	return &Snapshot{version: version, cfg: cfg, included: included}
}

// Version returns the snapshot's monotonically increasing version.
func (s *Snapshot) Version() int64 { return s.version }

// Config returns a copy of the underlying configuration.
func (s *Snapshot) Config() Config {
	cfg := s.cfg
	cfg.IncludedEntityIDs = append([]string(nil), s.cfg.IncludedEntityIDs...)
	return cfg
}

// Eligible reports whether an entity is critical-eligible: covered by a
// class toggle for its (domain, class) pair, or explicitly included by
// entity id.
func (s *Snapshot) Eligible(domain, class, entityID string) bool {
	if _, ok := s.included[entityID]; ok {
		return true
	}
	if domain != coarseDomain {
		return false
	}
	return s.classEnabled(class)
}

// classEnabled maps a sensor class to its select-all toggle.
func (s *Snapshot) classEnabled(class string) bool {
	switch class {
	case "smoke":
		return s.cfg.SmokeSelectAll
	case "moisture":
		return s.cfg.MoistureSelectAll
	case "co":
		return s.cfg.COSelectAll
	case "gas":
		return s.cfg.GasSelectAll
	default:
		return false
	}
}
