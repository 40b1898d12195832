package proto

import "github.com/prosemark/server/internal/ot"

// ToOp converts a wire OpKind into the engine's Op.
func (k OpKind) ToOp() ot.Op {
	if k.Type == "delete" {
		return ot.Delete(k.Pos, k.Len)
	}
	return ot.Insert(k.Pos, k.Text)
}

// FromOp converts an engine Op back into its wire representation.
func FromOp(op ot.Op) OpKind {
	if op.Kind == ot.KindDelete {
		return OpKind{Type: "delete", Pos: op.Pos, Len: op.Len}
	}
	return OpKind{Type: "insert", Pos: op.Pos, Text: op.Text}
}

// OpsToEngine converts a wire op slice to engine ops.
func OpsToEngine(ops []OpKind) []ot.Op {
	out := make([]ot.Op, len(ops))
	for i, k := range ops {
		out[i] = k.ToOp()
	}
	return out
}

// OpsFromEngine converts engine ops back to wire ops.
func OpsFromEngine(ops []ot.Op) []OpKind {
	out := make([]OpKind, len(ops))
	for i, op := range ops {
		out[i] = FromOp(op)
	}
	return out
}
