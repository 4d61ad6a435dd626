package registry

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/transform"

	"github.com/nerrad567/knxlog/internal/bridges/knx"
)

// Column positions in an ETS group address export.
const (
	colMainGroup   = 0
	colMiddleGroup = 1
	colName        = 2
	colAddress     = 3
	colDescription = 6
	colDPT         = 7
)

// defaultCharset matches ETS exports on German Windows installations.
const defaultCharset = "windows-1252"

const utf8BOM = "\ufeff"

// LoadCSV parses an ETS group address export.
//
// charset is a WHATWG encoding label ("windows-1252", "utf-8", ...); empty
// means windows-1252. Rows without a datapoint type are group headers and
// only update the carried main/middle group names. Rows whose type cell is
// not in DPST-x-y or DPT-x notation are skipped with a warning. A malformed
// group address on a datapoint row is an error.
func LoadCSV(r io.Reader, charset string, logger Logger) (*Registry, error) {
	if charset == "" {
		charset = defaultCharset
	}
	enc, err := htmlindex.Get(charset)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCharset, charset)
	}

	reader := csv.NewReader(transform.NewReader(r, enc.NewDecoder()))
	reader.Comma = ';'
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	var (
		datapoints []Datapoint
		mainGroup  string
		midGroup   string
	)
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidRow, err)
		}
		line, _ := reader.FieldPos(0)

		for i := range record {
			record[i] = strings.TrimSpace(strings.TrimPrefix(record[i], utf8BOM))
		}

		if len(record) > colMainGroup && len(record[colMainGroup]) > 1 {
			mainGroup = record[colMainGroup]
		}
		if len(record) > colMiddleGroup && len(record[colMiddleGroup]) > 1 {
			midGroup = record[colMiddleGroup]
		}
		if len(record) <= colDPT || len(record[colDPT]) <= 1 {
			continue
		}

		name := strings.Join([]string{mainGroup, midGroup, record[colName], record[colDescription]}, "-")

		dpt, defaulted, err := knx.ParseETSDatapointType(record[colDPT])
		if err != nil {
			logWarn(logger, "ignoring address book row", "line", line, "ga", record[colAddress], "name", name, "dpt", record[colDPT], "error", err)
			continue
		}
		if defaulted {
			logWarn(logger, "applying default subtype", "line", line, "ga", record[colAddress], "name", name, "dpt", dpt)
		}

		ga, err := knx.ParseGroupAddress(record[colAddress])
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %w", ErrInvalidRow, line, err)
		}

		datapoints = append(datapoints, Datapoint{
			Address: ga,
			Name:    name,
			Type:    dpt,
			Family:  dpt.Family(),
		})
		if logger != nil {
			logger.Debug("added datapoint", "ga", ga.String(), "name", name, "dpt", dpt)
		}
	}

	return New(datapoints)
}

func logWarn(logger Logger, msg string, keysAndValues ...any) {
	if logger != nil {
		logger.Warn(msg, keysAndValues...)
	}
}
