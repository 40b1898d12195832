// Package textbuf implements a code-point indexed text buffer.
//
// Positions and lengths are counted in Unicode code points (runes),
// never UTF-8 bytes, so that index semantics match what a browser's
// String.length gives a JavaScript client.
package textbuf

import "github.com/prosemark/server/internal/ot"

// Buffer is a mutable, rune-indexed character sequence.
type Buffer struct {
	runes []rune
}

// New returns a Buffer seeded with the given text.
func New(text string) *Buffer {
	return &Buffer{runes: []rune(text)}
}

// Len returns the number of code points currently stored.
func (b *Buffer) Len() int {
	return len(b.runes)
}

// String renders the buffer back to a UTF-8 string.
func (b *Buffer) String() string {
	return string(b.runes)
}

// clampInsertPos clamps pos into [0, len].
func (b *Buffer) clampInsertPos(pos int) int {
	if pos < 0 {
		return 0
	}
	if pos > len(b.runes) {
		return len(b.runes)
	}
	return pos
}

// Insert inserts text at pos, clamping pos into range rather than
// rejecting it. A transform can legitimately push an operation past
// the current buffer end (§4.1).
func (b *Buffer) Insert(pos int, text string) {
	pos = b.clampInsertPos(pos)
	ins := []rune(text)
	if len(ins) == 0 {
		return
	}
	out := make([]rune, 0, len(b.runes)+len(ins))
	out = append(out, b.runes[:pos]...)
	out = append(out, ins...)
	out = append(out, b.runes[pos:]...)
	b.runes = out
}

// Delete removes len code points starting at pos, clamping both pos
// and len into range.
func (b *Buffer) Delete(pos int, length int) {
	pos = b.clampInsertPos(pos)
	if length < 0 {
		length = 0
	}
	if pos+length > len(b.runes) {
		length = len(b.runes) - pos
	}
	if length <= 0 {
		return
	}
	out := make([]rune, 0, len(b.runes)-length)
	out = append(out, b.runes[:pos]...)
	out = append(out, b.runes[pos+length:]...)
	b.runes = out
}

// ClampOp returns op with Pos (and Len, for Delete) clamped into the
// buffer's current bounds, without mutating the buffer. Callers that
// need to persist the exact op they are about to apply (e.g. a WAL
// record) should clamp first so the persisted op matches what Apply
// actually does.
func (b *Buffer) ClampOp(op ot.Op) ot.Op {
	pos := b.clampInsertPos(op.Pos)
	if op.Kind == ot.KindInsert {
		return ot.Op{Kind: ot.KindInsert, Pos: pos, Text: op.Text}
	}
	length := op.Len
	if length < 0 {
		length = 0
	}
	if pos+length > len(b.runes) {
		length = len(b.runes) - pos
	}
	return ot.Op{Kind: ot.KindDelete, Pos: pos, Len: length}
}

// Apply mutates the buffer by the given op (Insert or Delete).
func (b *Buffer) Apply(op ot.Op) {
	if op.Kind == ot.KindInsert {
		b.Insert(op.Pos, op.Text)
	} else {
		b.Delete(op.Pos, op.Len)
	}
}
