package runware

import "testing"

func TestDimensions(t *testing.T) {
	cases := []struct {
		model        string
		w, h         int
		wantW, wantH int
	}{
		{"runware:100@1", 1000, 770, 1024, 768},
		{"runware:100@1", 50, 5000, 128, 2048},
		{"runware:100@1", 0, 0, 1024, 1024},
		{"bfl:3@1", 1920, 1080, 1392, 752},
		{"bfl:4@1", 1000, 1000, 1024, 1024},
		{"bfl:3@1", 600, 1400, 672, 1568},
		{"openai:1@1", 2048, 2048, 1216, 1216},
		{"openai:1@1", 1536, 1024, 1536, 1024},
	}
	for _, tc := range cases {
		gotW, gotH := lookupQuirk(tc.model).dimensions(tc.w, tc.h)
		if gotW != tc.wantW || gotH != tc.wantH {
			t.Errorf("%s %dx%d -> %dx%d, want %dx%d", tc.model, tc.w, tc.h, gotW, gotH, tc.wantW, tc.wantH)
		}
	}
}

func TestLookupQuirk_Strength(t *testing.T) {
	for model, want := range map[string]bool{
		"google:4@1":    true,
		"openai:1@1":    true,
		"runware:100@1": false,
		"bfl:3@1":       false,
	} {
		if got := lookupQuirk(model).noStrength; got != want {
			t.Errorf("noStrength(%s) = %v, want %v", model, got, want)
		}
	}
}
