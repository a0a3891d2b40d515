package kind

import "testing"

func TestSizes(t *testing.T) {
	cases := []struct {
		k    Kind
		word int
		want int
	}{
		{Boolean, 8, 1},
		{Byte, 8, 1},
		{Short, 8, 2},
		{Char, 8, 2},
		{Int, 8, 4},
		{Float, 8, 4},
		{Long, 8, 8},
		{Double, 8, 8},
		{Ref, 8, 8},
		{Word, 8, 8},
		{Ref, 4, 4},
		{Word, 4, 4},
		{Void, 8, 0},
	}
	for _, tc := range cases {
		if got := tc.k.Size(tc.word); got != tc.want {
			t.Errorf("%s size on %d-byte words = %d, want %d", tc.k, tc.word, got, tc.want)
		}
	}
}

func TestAlignIsNatural(t *testing.T) {
	for _, k := range All() {
		want := k.Size(8)
		if want == 0 {
			want = 1
		}
		if got := k.Align(8); got != want {
			t.Errorf("%s align = %d, want %d", k, got, want)
		}
	}
}

func TestPredicates(t *testing.T) {
	if !Ref.IsRef() || Word.IsRef() || Int.IsRef() {
		t.Error("IsRef misclassifies")
	}
	if Ref.Numeric() || Word.Numeric() || Void.Numeric() {
		t.Error("Numeric misclassifies non-payload kinds")
	}
	if !Boolean.Numeric() || !Double.Numeric() {
		t.Error("Numeric misclassifies payload kinds")
	}
}

func TestStringsAreDistinct(t *testing.T) {
	if len(All()) != Count {
		t.Fatalf("All lists %d kinds, Count is %d", len(All()), Count)
	}
	seen := make(map[string]Kind)
	for _, k := range All() {
		s := k.String()
		if prev, dup := seen[s]; dup {
			t.Errorf("%s and %s share the name %q", prev, k, s)
		}
		seen[s] = k
	}
}
