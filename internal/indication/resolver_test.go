package indication_test

import (
	"reflect"
	"testing"

	"github.com/septivank/utility-sync-worker/internal/indication"
	"github.com/septivank/utility-sync-worker/internal/remote"
)

func ptr(f float64) *float64 { return &f }

func threeZoneMeter() *remote.Meter {
	return &remote.Meter{
		Code:        "M1",
		AccountCode: "100",
		Zones: map[string]remote.Zone{
			"t1": {Identifier: "1", LastIndication: ptr(12.5)},
			"t2": {Identifier: "2"},
			"t3": {Identifier: "3", LastIndication: ptr(0)},
		},
	}
}

func TestResolve_FormsAreEquivalent(t *testing.T) {
	meter := threeZoneMeter()
	expected := indication.Values{"t1": 10, "t2": 20, "t3": 30}

	forms := map[string]any{
		"string":      "10,20,30",
		"spaced":      " 10 , 20 ,30 ",
		"sequence":    []float64{10, 20, 30},
		"any-seq":     []any{10.0, 20, "30"},
		"mapping":     map[string]float64{"t1": 10, "t2": 20, "t3": 30},
		"any-mapping": map[string]any{"t1": 10.0, "t2": 20.0, "t3": 30.0},
	}

	for name, form := range forms {
		got, err := indication.Resolve(meter, form, false)
		if err != nil {
			t.Errorf("%s: unexpected error: %v", name, err)
			continue
		}
		if !reflect.DeepEqual(got, expected) {
			t.Errorf("%s: expected %v, got %v", name, expected, got)
		}
	}
}

func TestResolve_Incremental(t *testing.T) {
	meter := threeZoneMeter()

	got, err := indication.Resolve(meter, map[string]float64{"t1": 3.5, "t2": 5}, true)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if got["t1"] != 16.0 {
		t.Errorf("Expected t1 = 16.0, got %v", got["t1"])
	}
	if got["t2"] != 5 {
		t.Errorf("Expected t2 with missing baseline = 5, got %v", got["t2"])
	}
}

func TestResolve_AbsoluteKeepsRequestedValues(t *testing.T) {
	meter := threeZoneMeter()

	got, err := indication.Resolve(meter, map[string]float64{"t1": 100}, false)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if !reflect.DeepEqual(got, indication.Values{"t1": 100}) {
		t.Errorf("Expected {t1: 100}, got %v", got)
	}
}

func TestResolve_UnknownZone(t *testing.T) {
	meter := threeZoneMeter()

	for _, form := range []any{
		map[string]float64{"t4": 1},
		"1,2,3,4",
	} {
		_, err := indication.Resolve(meter, form, false)
		if !indication.IsValidation(err) {
			t.Errorf("Expected validation error for %v, got %v", form, err)
		}
	}
}

func TestResolve_UnavailableMeter(t *testing.T) {
	_, err := indication.Resolve(nil, "1", false)
	if !indication.IsValidation(err) {
		t.Errorf("Expected validation error for missing meter, got %v", err)
	}
}

func TestNormalize_RejectsMalformedInput(t *testing.T) {
	cases := map[string]any{
		"nil":          nil,
		"empty":        "",
		"word":         "ten,20",
		"negative":     []float64{-1},
		"bad-zone-key": map[string]float64{"zone1": 1},
		"unsupported":  struct{}{},
	}

	for name, input := range cases {
		if _, err := indication.Normalize(input); !indication.IsValidation(err) {
			t.Errorf("%s: expected validation error, got %v", name, err)
		}
	}
}

func TestNormalize_SingleNumber(t *testing.T) {
	got, err := indication.Normalize(42.0)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if !reflect.DeepEqual(got, indication.Values{"t1": 42}) {
		t.Errorf("Expected {t1: 42}, got %v", got)
	}
}
