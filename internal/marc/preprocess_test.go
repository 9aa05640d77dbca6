package marc

import (
	"errors"
	"reflect"
	"testing"
)

func decodeFields(t *testing.T, raw []byte) []Field {
	t.Helper()
	rec, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	return rec.Fields
}

func TestDecode(t *testing.T) {
	fields := []Field{
		{Tag: "001", Value: "123456"},
		{Tag: "245", Value: "10\x1faTitle\x1fbSub"},
	}
	raw, err := Encode(testLeader, fields)
	if err != nil {
		t.Fatal(err)
	}
	rec, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if !reflect.DeepEqual(rec.Fields, fields) {
		t.Errorf("fields = %q, want %q", rec.Fields, fields)
	}
	again, err := rec.Encode()
	if err != nil || string(again) != string(raw) {
		t.Errorf("Encode() = %q, %v; want the original bytes", again, err)
	}

	if sub, ok := rec.Fields[1].Subfield('b'); !ok || sub != "Sub" {
		t.Errorf("Subfield(b) = %q, %v", sub, ok)
	}
	if ind := rec.Fields[1].Indicators(); ind != "10" {
		t.Errorf("Indicators() = %q", ind)
	}

	raw[LeaderLen+2*12] = 'X'
	if _, err := Decode(raw); !errors.Is(err, ErrCorruptRecord) {
		t.Errorf("Decode(corrupt) error = %v, want ErrCorruptRecord", err)
	}
}

func TestPreprocessors(t *testing.T) {
	tests := []struct {
		name   string
		args   map[string]map[string]string
		fields []Field
		want   []Field
	}{
		{
			name:   "prepend_ppn_prefix_001",
			fields: []Field{{Tag: "001", Value: "123456"}},
			want:   []Field{{Tag: "001", Value: "(PPN)123456"}},
		},
		{
			name:   "prepend_abes_prefix_001",
			fields: []Field{{Tag: "001", Value: "123456"}},
			want:   []Field{{Tag: "001", Value: "(ABES)123456"}},
		},
		{
			name:   "prepend_prefix_001",
			args:   map[string]map[string]string{"prepend_prefix_001": {"prefix": "TEST"}},
			fields: []Field{{Tag: "001", Value: "123456"}},
			want:   []Field{{Tag: "001", Value: "(TEST)123456"}},
		},
		{
			name:   "strip_999_ff_fields",
			fields: []Field{DataField("999", "ff", "i", "x"), DataField("999", "  ", "a", "keep")},
			want:   []Field{DataField("999", "  ", "a", "keep")},
		},
		{
			name: "sudoc_supercede_prep",
			fields: []Field{
				{Tag: "001", Value: "123456"},
				DataField("035", "  ", "a", "234567", "9", "sudoc"),
				DataField("035", "  ", "a", "345678", "9", "sudoc"),
				DataField("035", "  ", "a", "ocm1"),
				DataField("999", "  ", "a", "local"),
			},
			want: []Field{
				{Tag: "001", Value: "(ABES)123456"},
				DataField("035", "  ", "a", "234567", "9", "sudoc"),
				DataField("035", "  ", "a", "345678", "9", "sudoc"),
				DataField("035", "  ", "a", "ocm1"),
				DataField("935", "ff", "a", "(ABES)234567"),
				DataField("935", "ff", "a", "(ABES)345678"),
				DataField("999", "  ", "a", "local"),
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := NewPipeline([]string{tt.name}, tt.args)
			if err != nil {
				t.Fatalf("NewPipeline() error = %v", err)
			}
			raw, err := Encode(testLeader, tt.fields)
			if err != nil {
				t.Fatal(err)
			}
			out, err := p.Apply(raw)
			if err != nil {
				t.Fatalf("Apply() error = %v", err)
			}
			if got := decodeFields(t, out); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("fields = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestNewPipeline(t *testing.T) {
	t.Run("comma separated names run in order", func(t *testing.T) {
		p, err := NewPipeline([]string{"prepend_ppn_prefix_001, prepend_abes_prefix_001"}, nil)
		if err != nil {
			t.Fatalf("NewPipeline() error = %v", err)
		}
		raw, _ := Encode(testLeader, []Field{{Tag: "001", Value: "1"}})
		out, err := p.Apply(raw)
		if err != nil {
			t.Fatal(err)
		}
		if got := decodeFields(t, out)[0].Value; got != "(ABES)(PPN)1" {
			t.Errorf("001 = %q", got)
		}
	})

	t.Run("empty pipeline leaves bytes alone", func(t *testing.T) {
		p, err := NewPipeline(nil, nil)
		if err != nil {
			t.Fatal(err)
		}
		raw := []byte("not even a record")
		if out, err := p.Apply(raw); err != nil || string(out) != string(raw) {
			t.Errorf("Apply() = %q, %v", out, err)
		}
	})

	t.Run("unknown and incomplete preprocessors are rejected", func(t *testing.T) {
		if _, err := NewPipeline([]string{"shout"}, nil); err == nil {
			t.Error("expected error for unknown name")
		}
		if _, err := NewPipeline([]string{"prepend_prefix_001"}, nil); err == nil {
			t.Error("expected error for missing prefix")
		}
	})

	t.Run("a record without 001 is left alone", func(t *testing.T) {
		p, _ := NewPipeline([]string{"prepend_ppn_prefix_001"}, nil)
		fields := []Field{DataField("245", "10", "a", "Title")}
		raw, _ := Encode(testLeader, fields)
		out, err := p.Apply(raw)
		if err != nil {
			t.Fatal(err)
		}
		if got := decodeFields(t, out); !reflect.DeepEqual(got, fields) {
			t.Errorf("fields = %q", got)
		}
	})
}
