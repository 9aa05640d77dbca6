package marc

import (
	"bytes"
	"fmt"
	"slices"
	"sort"
	"strconv"
	"strings"
)

const subfieldDelimiter = 0x1F

// Record is a decoded record. Fields keep their file order.
type Record struct {
	Leader string
	Fields []Field
}

// Decode splits a framed record into its leader and fields.
func Decode(raw []byte) (*Record, error) {
	if len(raw) < LeaderLen+1 {
		return nil, fmt.Errorf("%w: %d bytes is shorter than a leader", ErrCorruptRecord, len(raw))
	}
	if reason := validate(raw); reason != "" {
		return nil, fmt.Errorf("%w: %s", ErrCorruptRecord, reason)
	}
	base, _ := strconv.Atoi(string(raw[12:17]))
	rec := &Record{Leader: string(raw[:LeaderLen])}
	for off := LeaderLen; off < base-1; off += directoryEntryLen {
		entry := raw[off : off+directoryEntryLen]
		n, _ := strconv.Atoi(string(entry[3:7]))
		start, _ := strconv.Atoi(string(entry[7:12]))
		value := bytes.TrimSuffix(raw[base+start:base+start+n], []byte{FieldTerminator})
		rec.Fields = append(rec.Fields, Field{Tag: string(entry[:3]), Value: string(value)})
	}
	return rec, nil
}

// Encode frames the record again.
func (r *Record) Encode() ([]byte, error) {
	return Encode(r.Leader, r.Fields)
}

// Field returns the first field with tag.
func (r *Record) Field(tag string) (*Field, bool) {
	for i := range r.Fields {
		if r.Fields[i].Tag == tag {
			return &r.Fields[i], true
		}
	}
	return nil, false
}

// FieldsByTag returns every field with tag.
func (r *Record) FieldsByTag(tag string) []Field {
	var out []Field
	for _, f := range r.Fields {
		if f.Tag == tag {
			out = append(out, f)
		}
	}
	return out
}

// AddOrdered inserts f after the last field whose tag sorts at or before it.
func (r *Record) AddOrdered(f Field) {
	i := len(r.Fields)
	for i > 0 && r.Fields[i-1].Tag > f.Tag {
		i--
	}
	r.Fields = slices.Insert(r.Fields, i, f)
}

// Control reports whether f is a control field (tags 001 to 009).
func (f Field) Control() bool {
	return f.Tag < "010"
}

// Indicators returns the two indicator bytes of a data field.
func (f Field) Indicators() string {
	if f.Control() || len(f.Value) < 2 {
		return ""
	}
	return f.Value[:2]
}

// Subfield returns the first value of the subfield with code.
func (f Field) Subfield(code byte) (string, bool) {
	if f.Control() || len(f.Value) < 2 {
		return "", false
	}
	for _, part := range strings.Split(f.Value[2:], string(rune(subfieldDelimiter))) {
		if len(part) > 0 && part[0] == code {
			return part[1:], true
		}
	}
	return "", false
}

// DataField builds a data field from indicators and code/value pairs.
func DataField(tag, indicators string, subfields ...string) Field {
	var b strings.Builder
	b.WriteString(indicators)
	for i := 0; i+1 < len(subfields); i += 2 {
		b.WriteByte(subfieldDelimiter)
		b.WriteString(subfields[i])
		b.WriteString(subfields[i+1])
	}
	return Field{Tag: tag, Value: b.String()}
}

// Preprocessor rewrites a record before it is submitted.
type Preprocessor func(*Record) error

// Pipeline applies preprocessors in order.
type Pipeline []Preprocessor

// Apply runs the pipeline over a raw record and frames the result. An empty
// pipeline returns raw untouched.
func (p Pipeline) Apply(raw []byte) ([]byte, error) {
	if len(p) == 0 {
		return raw, nil
	}
	rec, err := Decode(raw)
	if err != nil {
		return nil, err
	}
	for _, fn := range p {
		if err := fn(rec); err != nil {
			return nil, err
		}
	}
	return rec.Encode()
}

type preprocessorFactory func(args map[string]string) (Preprocessor, error)

var preprocessors = map[string]preprocessorFactory{
	"strip_999_ff_fields": func(map[string]string) (Preprocessor, error) {
		return Strip999FFFields, nil
	},
	"prepend_prefix_001": func(args map[string]string) (Preprocessor, error) {
		prefix := args["prefix"]
		if prefix == "" {
			return nil, fmt.Errorf("prepend_prefix_001 requires a prefix argument")
		}
		return PrependPrefix001(prefix), nil
	},
	"prepend_ppn_prefix_001": func(map[string]string) (Preprocessor, error) {
		return PrependPrefix001("PPN"), nil
	},
	"prepend_abes_prefix_001": func(map[string]string) (Preprocessor, error) {
		return PrependPrefix001("ABES"), nil
	},
	"sudoc_supercede_prep": func(map[string]string) (Preprocessor, error) {
		return SudocSupercedePrep, nil
	},
}

// PreprocessorNames lists the names NewPipeline accepts.
func PreprocessorNames() []string {
	names := make([]string, 0, len(preprocessors))
	for name := range preprocessors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NewPipeline resolves preprocessor names in order. An entry may hold several
// comma separated names. args holds the arguments of each preprocessor by name.
func NewPipeline(names []string, args map[string]map[string]string) (Pipeline, error) {
	var p Pipeline
	for _, entry := range names {
		for _, name := range strings.Split(entry, ",") {
			name = strings.TrimSpace(name)
			if name == "" {
				continue
			}
			factory, ok := preprocessors[name]
			if !ok {
				return nil, fmt.Errorf("unknown preprocessor %q (known: %s)", name, strings.Join(PreprocessorNames(), ", "))
			}
			fn, err := factory(args[name])
			if err != nil {
				return nil, err
			}
			p = append(p, fn)
		}
	}
	return p, nil
}

// Strip999FFFields drops 999 fields with both indicators set to f. The
// platform writes its own identifiers there.
func Strip999FFFields(rec *Record) error {
	rec.Fields = slices.DeleteFunc(rec.Fields, func(f Field) bool {
		return f.Tag == "999" && f.Indicators() == "ff"
	})
	return nil
}

// PrependPrefix001 prefixes the 001 control number with "(prefix)". Records
// without a 001 are left alone.
func PrependPrefix001(prefix string) Preprocessor {
	return func(rec *Record) error {
		if f, ok := rec.Field("001"); ok {
			f.Value = "(" + prefix + ")" + f.Value
		}
		return nil
	}
}

// SudocSupercedePrep prepares SUDOC records to supersede earlier ones: each
// 035 whose $9 is sudoc is copied to a 935 $a with the ABES prefix, and the
// 001 gets the ABES prefix too.
func SudocSupercedePrep(rec *Record) error {
	for _, f := range rec.FieldsByTag("035") {
		source, _ := f.Subfield('9')
		id, ok := f.Subfield('a')
		if !ok || source != "sudoc" {
			continue
		}
		rec.AddOrdered(DataField("935", "ff", "a", "(ABES)"+id))
	}
	return PrependPrefix001("ABES")(rec)
}
