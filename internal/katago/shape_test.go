package katago

import "testing"

func mustRaw(t *testing.T, s string) *AnalysisRaw {
	t.Helper()
	raw, err := DecodeRaw([]byte(s))
	if err != nil {
		t.Fatalf("DecodeRaw: %v", err)
	}
	return raw
}

func TestProbeShapePriority(t *testing.T) {
	tests := []struct {
		name  string
		body  string
		shape string
		first string
		owner int
	}{
		{
			name:  "rootInfo nested",
			body:  `{"id":"t1","rootInfo":{"winrate":0.5,"moveInfos":[{"move":"D4"}],"ownership":[0.1,0.2]},"moveInfos":[{"move":"Q16"}]}`,
			shape: ShapeRootInfo, first: "D4", owner: 2,
		},
		{
			name:  "root nested",
			body:  `{"id":"t1","root":{"moveInfos":[{"move":"C3"}],"ownership":[0.3]}}`,
			shape: ShapeRoot, first: "C3", owner: 1,
		},
		{
			name:  "flat",
			body:  `{"id":"t1","rootInfo":{"winrate":0.4},"moveInfos":[{"move":"Q4"}],"ownership":[1,1,1]}`,
			shape: ShapeFlat, first: "Q4", owner: 3,
		},
		{
			name:  "turns",
			body:  `{"id":"t1","turns":[{"moveInfos":[{"move":"K10"}],"ownership":[0,0]}]}`,
			shape: ShapeTurns, first: "K10", owner: 2,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			raw := mustRaw(t, tc.body)
			s := ProbeShape(raw)
			if s == nil || s.Name() != tc.shape {
				t.Fatalf("expected shape %s, got %v", tc.shape, s)
			}
			c := ExtractCandidates(raw)
			if len(c) == 0 || c[0].Move != tc.first {
				t.Fatalf("expected first candidate %s, got %+v", tc.first, c)
			}
			if got := len(ExtractOwnership(raw)); got != tc.owner {
				t.Fatalf("expected ownership len %d, got %d", tc.owner, got)
			}
		})
	}
}

func TestExtractFallsBackToEmpty(t *testing.T) {
	raw := mustRaw(t, `{"id":"t1","isDuringSearch":false}`)
	if s := ProbeShape(raw); s != nil {
		t.Fatalf("expected no shape, got %s", s.Name())
	}
	if c := ExtractCandidates(raw); c == nil || len(c) != 0 {
		t.Fatalf("expected empty non-nil candidates, got %#v", c)
	}
	if o := ExtractOwnership(raw); o == nil || len(o) != 0 {
		t.Fatalf("expected empty non-nil ownership, got %#v", o)
	}
	if ExtractCandidates(nil) == nil || ProbeShape(nil) != nil {
		t.Fatalf("nil raw must be handled")
	}
}

func TestExtractRootStripsNestedLists(t *testing.T) {
	raw := mustRaw(t, `{"root":{"winrate":0.7,"scoreMean":-2.5,"moveInfos":[{"move":"D4"}]}}`)
	r := ExtractRoot(raw)
	if r.Winrate == nil || *r.Winrate != 0.7 {
		t.Fatalf("winrate not read: %+v", r)
	}
	if s := r.Score(); s == nil || *s != -2.5 {
		t.Fatalf("score should fall back to scoreMean, got %v", s)
	}
	if len(r.MoveInfos) != 0 {
		t.Fatalf("root copy should not carry candidates")
	}
}

func TestShapeByName(t *testing.T) {
	for _, n := range []string{ShapeRootInfo, ShapeRoot, ShapeFlat, ShapeTurns} {
		s, err := ShapeByName(n)
		if err != nil || s.Name() != n {
			t.Fatalf("ShapeByName(%s) = %v, %v", n, s, err)
		}
	}
	if _, err := ShapeByName("nested"); err == nil {
		t.Fatalf("expected error for unknown shape")
	}
}
