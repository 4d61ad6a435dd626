package registry

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/nerrad567/knxlog/internal/bridges/knx"
	"github.com/nerrad567/knxlog/internal/infrastructure/config"
)

// Datapoint describes one recorded group address.
type Datapoint struct {
	Address knx.GroupAddress
	Name    string
	Type    knx.DPT

	// Family is the DPT main number, cached from Type.
	Family int
}

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Registry maps group addresses to their datapoint metadata.
//
// A Registry never changes after New returns, so it needs no locking.
type Registry struct {
	byAddress map[knx.GroupAddress]Datapoint
}

// New builds a Registry from a list of datapoints.
//
// Family is filled in from Type when zero. Returns ErrDuplicateAddress if
// two entries share an address and ErrInvalidRow for an invalid address or
// a missing type.
func New(datapoints []Datapoint) (*Registry, error) {
	r := &Registry{byAddress: make(map[knx.GroupAddress]Datapoint, len(datapoints))}
	for _, dp := range datapoints {
		if !dp.Address.IsValid() {
			return nil, fmt.Errorf("%w: group address %s out of range", ErrInvalidRow, dp.Address)
		}
		if dp.Type == "" {
			return nil, fmt.Errorf("%w: %s has no datapoint type", ErrInvalidRow, dp.Address)
		}
		if dp.Family == 0 {
			dp.Family = dp.Type.Family()
		}
		if existing, ok := r.byAddress[dp.Address]; ok {
			return nil, fmt.Errorf("%w: %s (%q and %q)", ErrDuplicateAddress, dp.Address, existing.Name, dp.Name)
		}
		r.byAddress[dp.Address] = dp
	}
	return r, nil
}

// Lookup returns the datapoint for a group address.
func (r *Registry) Lookup(ga knx.GroupAddress) (Datapoint, bool) {
	dp, ok := r.byAddress[ga]
	return dp, ok
}

// Len returns the number of datapoints.
func (r *Registry) Len() int {
	return len(r.byAddress)
}

// All returns every datapoint ordered by group address.
func (r *Registry) All() []Datapoint {
	out := make([]Datapoint, 0, len(r.byAddress))
	for _, dp := range r.byAddress {
		out = append(out, dp)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Address.ToUint16() < out[j].Address.ToUint16()
	})
	return out
}

// Load reads the address book named by cfg.
//
// The format comes from cfg.Format, or from the file extension when empty
// (".csv", ".yaml", ".yml"). An address book without datapoints is an error.
func Load(cfg config.RegistryConfig, logger Logger) (*Registry, error) {
	format := strings.ToLower(cfg.Format)
	if format == "" {
		switch strings.ToLower(filepath.Ext(cfg.Path)) {
		case ".csv":
			format = "csv"
		case ".yaml", ".yml":
			format = "yaml"
		}
	}

	f, err := os.Open(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("opening address book: %w", err)
	}
	defer f.Close() //nolint:errcheck // read-only

	var r *Registry
	switch format {
	case "csv":
		r, err = LoadCSV(f, cfg.Charset, logger)
	case "yaml":
		r, err = LoadYAML(f)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, cfg.Path)
	}
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", cfg.Path, err)
	}
	if r.Len() == 0 {
		return nil, fmt.Errorf("loading %s: %w", cfg.Path, ErrEmpty)
	}

	if logger != nil {
		logger.Info("address book loaded", "path", cfg.Path, "format", format, "datapoints", r.Len())
	}
	return r, nil
}
