// Package registry holds the group address book: which group addresses
// knxlog records, what they are called and which datapoint type decodes
// them.
//
// A Registry is built once at startup from an ETS CSV export (LoadCSV) or a
// YAML file (LoadYAML) and is read-only afterwards. It is passed explicitly
// to the components that need it; there is no package-level instance.
//
// # ETS CSV exports
//
// ETS writes one row per group, main and middle groups included, with the
// group names only on their own rows:
//
//	"EG"; ; ;"1/-/-";"";"";"";"";"Auto"
//	 ;"Licht"; ;"1/0/-";"";"";"";"";"Auto"
//	 ; ;"Flur oben - Schalten";"1/0/9";"";"";"Flur Licht Treppe";"DPST-1-1";"Auto"
//
// LoadCSV carries the last seen main and middle group names forward and
// names each datapoint "main-middle-name-description", so the row above
// becomes "EG-Licht-Flur oben - Schalten-Flur Licht Treppe" with DPT 1.001.
//
// # Thread Safety
//
// Lookup, Len and All are safe for concurrent use.
package registry
