package memory

import "testing"

func TestGetTrait_BaselineFallback(t *testing.T) {
	e := newTestEngine(t)

	v, err := e.GetTrait("curiosity")
	if err != nil {
		t.Fatalf("GetTrait error: %v", err)
	}
	if v != BaselineTrait("curiosity") {
		t.Errorf("curiosity = %v, want baseline %v", v, BaselineTrait("curiosity"))
	}

	// Unknown names fall back to the neutral midpoint.
	v, err = e.GetTrait("never-heard-of-it")
	if err != nil {
		t.Fatalf("GetTrait unknown error: %v", err)
	}
	if v != 0.5 {
		t.Errorf("unknown trait = %v, want 0.5", v)
	}
}

func TestSetTrait_Clamps(t *testing.T) {
	e := newTestEngine(t)

	cases := []struct {
		in, want float64
	}{
		{0.42, 0.42},
		{-3, 0},
		{7.5, 1},
		{0, 0},
		{1, 1},
	}
	for _, tc := range cases {
		if err := e.SetTrait("optimism", tc.in); err != nil {
			t.Fatalf("SetTrait(%v) error: %v", tc.in, err)
		}
		got, err := e.GetTrait("optimism")
		if err != nil {
			t.Fatalf("GetTrait error: %v", err)
		}
		if got != tc.want {
			t.Errorf("SetTrait(%v) read back %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestGetTraits_MergesOverrides(t *testing.T) {
	e := newTestEngine(t)

	if err := e.SetTrait("mischief", 0.9); err != nil {
		t.Fatalf("SetTrait error: %v", err)
	}

	traits, err := e.GetTraits()
	if err != nil {
		t.Fatalf("GetTraits error: %v", err)
	}
	if traits["mischief"] != 0.9 {
		t.Errorf("mischief = %v, want 0.9", traits["mischief"])
	}
	if traits["curiosity"] != BaselineTrait("curiosity") {
		t.Errorf("curiosity = %v, want baseline", traits["curiosity"])
	}
}
