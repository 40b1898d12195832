package ot

import "testing"

func apply(text string, ops []Op) string {
	runes := []rune(text)
	for _, op := range ops {
		switch op.Kind {
		case KindInsert:
			ins := []rune(op.Text)
			pos := op.Pos
			if pos > len(runes) {
				pos = len(runes)
			}
			out := append([]rune{}, runes[:pos]...)
			out = append(out, ins...)
			out = append(out, runes[pos:]...)
			runes = out
		case KindDelete:
			pos, l := op.Pos, op.Len
			if pos > len(runes) {
				pos = len(runes)
			}
			if pos+l > len(runes) {
				l = len(runes) - pos
			}
			out := append([]rune{}, runes[:pos]...)
			out = append(out, runes[pos+l:]...)
			runes = out
		}
	}
	return string(runes)
}

// S1 concurrent insert: "AB" rev0. C1 Insert(1,"X")@0, C2 Insert(1,"Y")@0.
// Tiebreak C1 < C2 so C1's insert wins the tie and C2's shifts right.
func TestScenarioS1ConcurrentInsert(t *testing.T) {
	text := "AB"
	c1 := Insert(1, "X")
	c2 := Insert(1, "Y")

	// C1 applies first at rev 0 -> rev 1.
	text = apply(text, []Op{c1})
	if text != "AXB" {
		t.Fatalf("after c1: %q", text)
	}

	// C2's op transforms against the logged c1 (author "C1" < "C2").
	transformed := TransformOp(c2, c1, "C2", "C1")
	if len(transformed) != 1 || transformed[0].Pos != 2 {
		t.Fatalf("transformed c2 = %+v", transformed)
	}
	text = apply(text, transformed)
	if text != "AXYB" {
		t.Fatalf("final text = %q, want AXYB", text)
	}
}

// S2 insert vs delete: "HELLO". C1 Delete(1,3)@0; C2 Insert(3,"-")@0.
func TestScenarioS2InsertVsDelete(t *testing.T) {
	text := "HELLO"
	c1 := Delete(1, 3)
	c2 := Insert(3, "-")

	text = apply(text, []Op{c1})
	if text != "HO" {
		t.Fatalf("after c1: %q", text)
	}

	transformed := TransformOp(c2, c1, "C2", "C1")
	if len(transformed) != 1 || transformed[0].Pos != 1 {
		t.Fatalf("transformed c2 = %+v", transformed)
	}
	text = apply(text, transformed)
	if text != "H-O" {
		t.Fatalf("final text = %q, want H-O", text)
	}
}

func TestTransformInsertInsertTieBreakByAuthor(t *testing.T) {
	a := Insert(5, "a")
	b := Insert(5, "b")

	// author "alice" < "bob": alice's insert is unaffected, bob's shifts.
	got := TransformOp(a, b, "alice", "bob")
	if got[0].Pos != 5 {
		t.Fatalf("alice vs bob at same pos should stay put, got %+v", got)
	}
	got = TransformOp(b, a, "bob", "alice")
	if got[0].Pos != 6 {
		t.Fatalf("bob should shift past alice's insert, got %+v", got)
	}
}

func TestTransformDeleteInsertSplitsWhenInsertLandsInside(t *testing.T) {
	del := Delete(2, 5) // covers [2,7)
	ins := Insert(4, "XY")

	got := transformDeleteInsert(del, ins)
	if len(got) != 2 {
		t.Fatalf("expected split into 2 deletes, got %+v", got)
	}
	if got[0] != Delete(2, 2) {
		t.Fatalf("left half wrong: %+v", got[0])
	}
	if got[1] != Delete(6, 3) {
		t.Fatalf("right half wrong: %+v", got[1])
	}
}

func TestTransformDeleteDeleteOverlapShrinks(t *testing.T) {
	a := Delete(0, 5) // [0,5)
	b := Delete(2, 10) // [2,12) already applied, removes a's tail
	got := transformDeleteDelete(a, b)
	if len(got) != 1 {
		t.Fatalf("expected 1 op, got %+v", got)
	}
	if got[0].Len != 2 {
		t.Fatalf("expected remaining len 2 (the [0,2) prefix), got %+v", got[0])
	}
}

func TestTransformDeleteDeleteFullOverlapVanishes(t *testing.T) {
	a := Delete(2, 3)
	b := Delete(0, 10)
	got := transformDeleteDelete(a, b)
	if len(got) != 0 {
		t.Fatalf("fully-consumed delete should vanish, got %+v", got)
	}
}

func TestTransformTotalityOnRandomPairs(t *testing.T) {
	// Property 4: for legal ops on a text of length L, transform(a,b)
	// is legal once b has been applied (i.e. indices stay >= 0 and
	// the apply never panics).
	text := "0123456789"
	L := len(text)
	ops := []Op{Insert(0, "x"), Insert(L, "y"), Delete(0, L), Delete(3, 4), Insert(5, "zzz")}
	for _, a := range ops {
		for _, b := range ops {
			afterB := apply(text, []Op{b})
			transformed := TransformOp(a, b, "a1", "a2")
			_ = apply(afterB, transformed) // must not panic
			for _, t2 := range transformed {
				if t2.Pos < 0 {
					t.Fatalf("negative pos after transform: a=%+v b=%+v got=%+v", a, b, t2)
				}
			}
		}
	}
}

func TestTransformOpsAgainstLogFoldsInOrder(t *testing.T) {
	log := []LoggedOp{
		{Rev: 1, Op: Insert(0, "abc"), AuthorID: "other"},
	}
	ops := []Op{Insert(1, "X")}
	got := TransformOpsAgainstLog(ops, 0, log, "me")
	if len(got) != 1 || got[0].Pos != 4 {
		t.Fatalf("got %+v, want pos 4", got)
	}
}

func TestTransformOpsAgainstLogSkipsOldEntries(t *testing.T) {
	log := []LoggedOp{
		{Rev: 1, Op: Insert(0, "abc"), AuthorID: "other"},
		{Rev: 2, Op: Insert(0, "xy"), AuthorID: "other"},
	}
	ops := []Op{Insert(1, "X")}
	got := TransformOpsAgainstLog(ops, 1, log, "me")
	if len(got) != 1 || got[0].Pos != 3 {
		t.Fatalf("got %+v, want only rev-2 entry folded in (pos 3)", got)
	}
}
