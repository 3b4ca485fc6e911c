package approval

import "testing"

func TestResolvePath_table(t *testing.T) {
	tests := []struct {
		severity int
		want     Path
	}{
		{1, Path{BypassValidation: true}},
		{2, Path{BypassValidation: true}},
		{3, Path{RequiresExpertValidation: true}},
		{4, Path{RequiresExpertValidation: true}},
		{5, Path{RequiresExpertValidation: true, RequiresManagerClosure: true}},
	}
	for _, tc := range tests {
		got, err := ResolvePath(tc.severity)
		if err != nil {
			t.Fatalf("ResolvePath(%d) error: %v", tc.severity, err)
		}
		if got != tc.want {
			t.Errorf("ResolvePath(%d) = %+v, want %+v", tc.severity, got, tc.want)
		}
	}
}

func TestResolvePath_outOfRange(t *testing.T) {
	for _, severity := range []int{0, -1, 6, 100} {
		if _, err := ResolvePath(severity); err == nil {
			t.Errorf("ResolvePath(%d) = nil error, want out-of-range error", severity)
		}
	}
}
