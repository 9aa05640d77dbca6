package poster

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"

	"github.com/jackzampolin/folio-import/internal/folio"
)

const (
	fieldVersion             = "_version"
	fieldHRID                = "hrid"
	fieldLastCheckIn         = "lastCheckIn"
	fieldSource              = "source"
	fieldStatisticalCodes    = "statisticalCodeIds"
	fieldAdministrativeNotes = "administrativeNotes"
	fieldTemporaryLocation   = "temporaryLocationId"
	fieldStatus              = "status"
)

// marcControlled are the top-level fields of a MARC-sourced record that
// patching never touches. They are maintained through the MARC record.
var marcControlled = map[string]bool{
	"title":                  true,
	"indexTitle":             true,
	"alternativeTitles":      true,
	"editions":               true,
	"series":                 true,
	"identifiers":            true,
	"contributors":           true,
	"subjects":               true,
	"classifications":        true,
	"publication":            true,
	"publicationFrequency":   true,
	"publicationRange":       true,
	"electronicAccess":       true,
	"instanceTypeId":         true,
	"instanceFormatIds":      true,
	"physicalDescriptions":   true,
	"languages":              true,
	"notes":                  true,
	"modeOfIssuanceId":       true,
	"natureOfContentTermIds": true,
}

var shadowSources = map[string]string{
	"MARC":  "CONSORTIUM-MARC",
	"FOLIO": "CONSORTIUM-FOLIO",
}

// Prepared is an outgoing record and the existing values kept for it.
type Prepared struct {
	Record map[string]any
	// KeepExisting holds the existing value of every preserved field.
	KeepExisting map[string]any
}

// Preparer merges incoming records with their existing remote versions.
type Preparer struct {
	cfg Config
}

// NewPreparer validates cfg and returns a Preparer.
func NewPreparer(cfg Config) (*Preparer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Preparer{cfg: cfg}, nil
}

// Prepare returns the record to submit for incoming. Neither argument is
// modified. With no existing record the result is a copy of incoming.
//
// On update the version stamp, hrid and last check-in always come from
// existing. Preserved list fields are the union of the existing and incoming
// values; other preserved fields take the existing value.
func (p *Preparer) Prepare(incoming, existing map[string]any) (Prepared, error) {
	if existing == nil {
		return Prepared{Record: copyMap(incoming)}, nil
	}

	var out, applied map[string]any
	if p.cfg.PatchExistingRecords {
		patch, err := p.patchDocument(incoming, existing)
		if err != nil {
			return Prepared{}, err
		}
		out = copyMap(existing)
		DeepMerge(out, patch)
		applied = patch
	} else {
		out = copyMap(incoming)
		applied = incoming
	}

	keep := p.preserve(out, existing, applied)
	for _, f := range []string{fieldVersion, fieldHRID, fieldLastCheckIn} {
		if v, ok := existing[f]; ok {
			out[f] = deepCopy(v)
		}
	}
	return Prepared{Record: out, KeepExisting: keep}, nil
}

// patchDocument is the part of incoming allowed onto existing.
func (p *Preparer) patchDocument(incoming, existing map[string]any) (map[string]any, error) {
	marc := IsMARCSource(existing)
	if len(p.cfg.PatchPaths) == 0 {
		doc := copyMap(incoming)
		if marc {
			for k := range doc {
				if marcControlled[k] {
					delete(doc, k)
				}
			}
		}
		return doc, nil
	}

	paths := make([]string, 0, len(p.cfg.PatchPaths))
	for _, path := range p.cfg.PatchPaths {
		if marc && marcControlled[rootField(path)] {
			continue
		}
		paths = append(paths, path)
	}
	doc, err := ExtractPaths(incoming, paths)
	if err != nil {
		return nil, fmt.Errorf("failed to extract patch paths: %w", err)
	}
	return doc, nil
}

func (p *Preparer) preserve(out, existing, applied map[string]any) map[string]any {
	keep := make(map[string]any)

	union := func(field string) {
		prior := asList(existing[field])
		keep[field] = deepCopy(prior)
		if _, ok := applied[field]; !ok {
			out[field] = deepCopy(prior)
			return
		}
		out[field] = unionList(prior, asList(out[field]))
	}
	replace := func(field string) {
		v, ok := existing[field]
		if !ok {
			delete(out, field)
			return
		}
		keep[field] = deepCopy(v)
		out[field] = deepCopy(v)
	}

	if p.cfg.PreserveStatisticalCodes {
		union(fieldStatisticalCodes)
	}
	if p.cfg.PreserveAdministrativeNotes {
		union(fieldAdministrativeNotes)
	}
	if p.cfg.PreserveTemporaryLocations {
		replace(fieldTemporaryLocation)
	}
	if p.cfg.PreserveItemStatus && p.cfg.ObjectType == folio.Items {
		replace(fieldStatus)
	}
	return keep
}

// IsMARCSource reports whether record is maintained through a MARC record.
func IsMARCSource(record map[string]any) bool {
	src, _ := record[fieldSource].(string)
	return src == "MARC" || src == "CONSORTIUM-MARC"
}

// RewriteShadowSource maps the source of a shadow instance to its consortium
// form. Other values and a missing source are left alone.
func RewriteShadowSource(record map[string]any) {
	src, ok := record[fieldSource].(string)
	if !ok {
		return
	}
	if mapped, ok := shadowSources[src]; ok {
		record[fieldSource] = mapped
	}
}

func rootField(path string) string {
	if i := strings.IndexByte(path, '.'); i >= 0 {
		return path[:i]
	}
	return path
}

func asList(v any) []any {
	switch t := v.(type) {
	case []any:
		return t
	case []string:
		out := make([]any, len(t))
		for i, s := range t {
			out[i] = s
		}
		return out
	}
	return []any{}
}

// unionList keeps the order of a then b and drops repeated values.
func unionList(a, b []any) []any {
	out := make([]any, 0, len(a)+len(b))
	for _, list := range [][]any{a, b} {
		for _, v := range list {
			if !containsValue(out, v) {
				out = append(out, deepCopy(v))
			}
		}
	}
	return out
}

func containsValue(list []any, v any) bool {
	for _, item := range list {
		if sameValue(item, v) {
			return true
		}
	}
	return false
}

func sameValue(a, b any) bool {
	if reflect.DeepEqual(a, b) {
		return true
	}
	ja, errA := json.Marshal(a)
	jb, errB := json.Marshal(b)
	return errA == nil && errB == nil && string(ja) == string(jb)
}
