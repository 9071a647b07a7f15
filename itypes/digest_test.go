package itypes

import "testing"

func TestDigestStability(t *testing.T) {
	args := []Type{U64(), VectorOf(U8())}
	a := InstantiationDigest(3, 7, args)
	b := InstantiationDigest(3, 7, args)
	if a != b {
		t.Errorf("digest not stable: %s != %s", a, b)
	}
	if len(a) != 16 {
		t.Errorf("digest length: got %d, want 16", len(a))
	}
}

func TestDigestDistinguishes(t *testing.T) {
	base := InstantiationDigest(0, 0, []Type{U64()})
	cases := map[string]string{
		"different def":     InstantiationDigest(0, 1, []Type{U64()}),
		"different module":  InstantiationDigest(1, 0, []Type{U64()}),
		"different arg":     InstantiationDigest(0, 0, []Type{U128()}),
		"extra arg":         InstantiationDigest(0, 0, []Type{U64(), U64()}),
		"nested vs flat":    InstantiationDigest(0, 0, []Type{VectorOf(U64())}),
		"ref vs value":      InstantiationDigest(0, 0, []Type{ImmRefTo(U64())}),
		"mut ref vs shared": InstantiationDigest(0, 0, []Type{MutRefTo(U64())}),
	}
	for name, got := range cases {
		if got == base {
			t.Errorf("%s collides with base digest", name)
		}
	}
}

func TestTypesDigestConcatenationAmbiguity(t *testing.T) {
	// vector<vector<u8>> as one arg must differ from vector<u8>, u8 as two.
	a := TypesDigest([]Type{VectorOf(VectorOf(U8()))})
	b := TypesDigest([]Type{VectorOf(U8()), U8()})
	if a == b {
		t.Error("tree shape not encoded in digest")
	}
}
