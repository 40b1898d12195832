package reconciler

import (
	"testing"

	"github.com/prosemark/server/internal/ot"
)

func TestDiffToOpsProducesAtMostOneDeleteAndOneInsert(t *testing.T) {
	cases := []struct {
		old, new string
	}{
		{"hello world", "hello brave world"},
		{"hello world", "hello wor"},
		{"", "abc"},
		{"abc", ""},
		{"abc", "abc"},
		{"abcdef", "abXYdef"},
	}
	for _, c := range cases {
		ops := DiffToOps(c.old, c.new)
		var deletes, inserts int
		for _, op := range ops {
			if op.Kind == ot.KindDelete {
				deletes++
			} else {
				inserts++
			}
		}
		if deletes > 1 || inserts > 1 {
			t.Fatalf("%q -> %q produced %d deletes, %d inserts", c.old, c.new, deletes, inserts)
		}

		buf := []rune(c.old)
		for _, op := range ops {
			if op.Kind == ot.KindDelete {
				buf = append(buf[:op.Pos], buf[op.Pos+op.Len:]...)
			} else {
				ins := []rune(op.Text)
				tail := append([]rune(nil), buf[op.Pos:]...)
				buf = append(append(buf[:op.Pos], ins...), tail...)
			}
		}
		if string(buf) != c.new {
			t.Fatalf("%q -> %q: replaying ops gave %q", c.old, c.new, string(buf))
		}
	}
}

func TestDiffToOpsNoChange(t *testing.T) {
	if ops := DiffToOps("same", "same"); len(ops) != 0 {
		t.Fatalf("expected no ops for identical text, got %v", ops)
	}
}
