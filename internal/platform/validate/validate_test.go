package validate

import (
	"testing"

	perr "oscartools/internal/platform/errors"
)

type sample struct {
	Workers int    `flag:"workers" validate:"min=1,max=64"`
	Policy  string `flag:"on-malformed" validate:"oneof=abort skip"`
	Tag     string `yaml:"tag" validate:"omitempty,bcp47"`
}

func TestStruct_Table(t *testing.T) {
	tests := []struct {
		name      string
		in        sample
		wantField string
		wantMsg   string
	}{
		{name: "valid", in: sample{Workers: 4, Policy: "skip", Tag: "he"}},
		{name: "valid empty tag", in: sample{Workers: 1, Policy: "abort"}},
		{name: "min", in: sample{Workers: 0, Policy: "skip"}, wantField: "workers", wantMsg: "workers must be at least 1"},
		{name: "max", in: sample{Workers: 65, Policy: "skip"}, wantField: "workers", wantMsg: "workers must be at most 64"},
		{name: "oneof", in: sample{Workers: 2, Policy: "retry"}, wantField: "on-malformed"},
		{name: "bcp47", in: sample{Workers: 2, Policy: "skip", Tag: "not a tag"}, wantField: "tag", wantMsg: "tag must be a BCP-47 language tag"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := Struct(tc.in)
			if tc.wantField == "" {
				if err != nil {
					t.Fatalf("Struct() unexpected error: %v", err)
				}
				return
			}
			if !perr.IsCode(err, perr.ErrorCodeConfiguration) {
				t.Fatalf("Struct() code = %v, want configuration", perr.CodeOf(err))
			}
			e, _ := perr.As(err)
			if e.Field() != tc.wantField {
				t.Fatalf("field = %q, want %q", e.Field(), tc.wantField)
			}
			if tc.wantMsg != "" && e.Error() != tc.wantMsg {
				t.Fatalf("message = %q, want %q", e.Error(), tc.wantMsg)
			}
		})
	}
}

func TestIsBCP47(t *testing.T) {
	for _, ok := range []string{"en", "he", "sr-Latn", "zh-Hant", "gsw"} {
		if !IsBCP47(ok) {
			t.Fatalf("IsBCP47(%q) = false, want true", ok)
		}
	}
	for _, bad := range []string{"", "  ", "en_US_x!", "toolongsubtag123"} {
		if IsBCP47(bad) {
			t.Fatalf("IsBCP47(%q) = true, want false", bad)
		}
	}
}

func TestStruct_InvalidInput(t *testing.T) {
	if err := Struct(42); !perr.IsCode(err, perr.ErrorCodeConfiguration) {
		t.Fatalf("Struct(non-struct) code = %v, want configuration", perr.CodeOf(err))
	}
}
