package registry

import (
	"errors"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"github.com/nerrad567/knxlog/internal/bridges/knx"
)

// yamlBook is the on-disk shape of a YAML address book:
//
//	datapoints:
//	  - ga: 5/0/2
//	    name: Living room temperature
//	    dpt: "9.001"
type yamlBook struct {
	Datapoints []yamlDatapoint `yaml:"datapoints"`
}

type yamlDatapoint struct {
	GA   string `yaml:"ga"`
	Name string `yaml:"name"`
	DPT  string `yaml:"dpt"`
}

// LoadYAML parses a YAML address book.
//
// The dpt field accepts "9.001" as well as the ETS forms "DPST-9-1" and
// "DPT-9".
func LoadYAML(r io.Reader) (*Registry, error) {
	var book yamlBook
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&book); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parsing YAML address book: %w", err)
	}

	datapoints := make([]Datapoint, 0, len(book.Datapoints))
	for i, entry := range book.Datapoints {
		ga, err := knx.ParseGroupAddress(entry.GA)
		if err != nil {
			return nil, fmt.Errorf("%w: datapoints[%d]: %w", ErrInvalidRow, i, err)
		}
		dpt, err := parseAnyDPT(entry.DPT)
		if err != nil {
			return nil, fmt.Errorf("%w: datapoints[%d] (%s): %w", ErrInvalidRow, i, ga, err)
		}
		datapoints = append(datapoints, Datapoint{
			Address: ga,
			Name:    entry.Name,
			Type:    dpt,
			Family:  dpt.Family(),
		})
	}
	return New(datapoints)
}

func parseAnyDPT(s string) (knx.DPT, error) {
	if dpt, err := knx.ParseDPT(s); err == nil {
		return dpt, nil
	}
	dpt, _, err := knx.ParseETSDatapointType(s)
	return dpt, err
}
