package format

import (
	"errors"
	"testing"

	"github.com/tessera-ml/tessera/internal/ir"
)

type nullDecoder struct{}

func (nullDecoder) Decode(data []byte) (*ir.Graph, *ir.Provenance, error) {
	return &ir.Graph{}, &ir.Provenance{}, nil
}

func TestRegisterAndResolve(t *testing.T) {
	t.Parallel()

	Register("test-null", nullDecoder{})
	d, err := Resolve("test-null")
	if err != nil {
		t.Fatalf("resolve registered format: %v", err)
	}
	if _, ok := d.(nullDecoder); !ok {
		t.Fatalf("resolved wrong decoder: %T", d)
	}
}

func TestRegisterDuplicatePanics(t *testing.T) {
	t.Parallel()

	Register("test-dup", nullDecoder{})
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on duplicate registration")
		}
	}()
	Register("test-dup", nullDecoder{})
}

func TestResolveUnknown(t *testing.T) {
	t.Parallel()

	_, err := Resolve("no-such-format")
	if !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("got %v, want ErrUnsupportedFormat", err)
	}
}

func TestNormalize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    Format
		wantErr bool
	}{
		{"", TGF, false},
		{"tgf", TGF, false},
		{" TGF ", TGF, false},
		{"graph-json", GraphJSON, false},
		{"onnx", "", true},
	}
	for _, tc := range tests {
		got, err := Normalize(tc.in)
		if tc.wantErr {
			if !errors.Is(err, ErrUnsupportedFormat) {
				t.Errorf("Normalize(%q): got %v, want ErrUnsupportedFormat", tc.in, err)
			}
			continue
		}
		if err != nil || got != tc.want {
			t.Errorf("Normalize(%q): got (%q, %v), want %q", tc.in, got, err, tc.want)
		}
	}
}
