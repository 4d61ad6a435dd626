package persist

import (
	"fmt"

	"github.com/nerrad567/knxlog/internal/bridges/knx"
	"github.com/nerrad567/knxlog/internal/infrastructure/database"
)

const pointTablePrefix = "data_"

// excludedFamily is never written to point tables: switch plus priority
// control carries no measurement.
const excludedFamily = 2

// numericFamilies are the DPT main numbers that get a point table.
var numericFamilies = map[int]bool{
	5: true, 6: true, 7: true, 8: true,
	9: true, 12: true, 13: true, 14: true,
}

// TableName derives the point table for a group address and DPT,
// e.g. 5/0/2 with 9.001 is "data_5_0_2_9_001".
//
// The result is validated against database.ValidIdentifier; a DPT that
// somehow carries other characters yields ErrInvalidTableName.
func TableName(ga knx.GroupAddress, dpt knx.DPT) (string, error) {
	name := pointTablePrefix + ga.StorageIdentifier() + "_" + dpt.StorageIdentifier()
	if !database.ValidIdentifier(name) {
		return "", fmt.Errorf("%w: %q", ErrInvalidTableName, name)
	}
	return name, nil
}

// HasPointTable reports whether events of a DPT family are written to a
// point table.
func HasPointTable(family int) bool {
	return family != excludedFamily && numericFamilies[family]
}
