package backend

import (
	"errors"
	"strings"
	"testing"

	"github.com/tessera-ml/tessera/internal/ir"
	"github.com/tessera-ml/tessera/internal/tensor"
)

func TestNormalize(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"", Default, false},
		{"default", Default, false},
		{"cpu", CPU, false},
		{"CPU", CPU, false},
		{"  Gpu  ", GPU, false},
		{"tpu", "", true},
		{"cpu0", "", true},
	}
	for _, tc := range cases {
		got, err := Normalize(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Errorf("Normalize(%q): expected error, got %q", tc.in, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("Normalize(%q): %v", tc.in, err)
			continue
		}
		if got != tc.want {
			t.Errorf("Normalize(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestSelectCPU(t *testing.T) {
	t.Parallel()

	for _, device := range []string{CPU, Default} {
		sel, err := Select(device, false, false)
		if err != nil {
			t.Fatalf("Select(%q): %v", device, err)
		}
		if sel.Backend.Name() != CPU {
			t.Fatalf("Select(%q) chose %q", device, sel.Backend.Name())
		}
		if sel.FellBack {
			t.Fatalf("Select(%q) reported a fallback", device)
		}
		if sel.Backend.Placement() != tensor.Host {
			t.Fatalf("cpu backend placement = %v", sel.Backend.Placement())
		}
	}
}

func TestSelectGPUWithoutBuildTag(t *testing.T) {
	t.Parallel()

	if gpuEnabled {
		t.Skip("gpu backend compiled in")
	}

	_, err := Select(GPU, false, false)
	if !errors.Is(err, ErrBackendUnavailable) {
		t.Fatalf("expected ErrBackendUnavailable, got %v", err)
	}

	sel, err := Select(GPU, false, true)
	if err != nil {
		t.Fatalf("Select with fallback: %v", err)
	}
	if !sel.FellBack {
		t.Fatal("fallback to cpu not recorded")
	}
	if sel.Backend.Name() != CPU {
		t.Fatalf("fallback chose %q", sel.Backend.Name())
	}
}

func TestSelectUnknownDevice(t *testing.T) {
	t.Parallel()

	if _, err := Select("npu", false, true); err == nil {
		t.Fatal("expected error for unknown device")
	}
}

func TestAvailableListsCPU(t *testing.T) {
	t.Parallel()

	devices := strings.Split(Available(), ",")
	if devices[0] != CPU {
		t.Fatalf("Available() = %q", Available())
	}
}

func TestCompileErrorTaxonomy(t *testing.T) {
	t.Parallel()

	sel, err := Select(CPU, false, false)
	if err != nil {
		t.Fatalf("Select: %v", err)
	}

	// An f16 activation slot is not executable on the cpu backend; the
	// adapter must surface that as ErrUnsupportedOp.
	g := &ir.Graph{
		Slots: []ir.SlotDef{
			{DType: ir.F16, Shape: ir.Shape{2}},
			{DType: ir.F16, Shape: ir.Shape{2}},
		},
		Ops: []ir.Op{
			{Code: ir.OpInput, Out: 0},
			{Code: ir.OpRelu, In: []int{0}, Out: 1},
		},
		Inputs:  []ir.Binding{{Name: "x", Slot: 0}},
		Outputs: []ir.Binding{{Name: "y", Slot: 1}},
	}
	if _, err := sel.Backend.Compile(g, Options{}); !errors.Is(err, ErrUnsupportedOp) {
		t.Fatalf("expected ErrUnsupportedOp, got %v", err)
	}
}
