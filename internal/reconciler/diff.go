package reconciler

import "github.com/prosemark/server/internal/ot"

// DiffToOps produces the op pair spec.md §4.7/§8 property 5 requires:
// common-prefix/common-suffix collapse down to at most one delete and
// one insert. Grounded on internal/ot's own code-point op shapes, so
// a client edit round-trips through the same transform rules the
// server applies.
func DiffToOps(oldText, newText string) []ot.Op {
	oldRunes := []rune(oldText)
	newRunes := []rune(newText)

	prefix := 0
	prefixBound := len(oldRunes)
	if len(newRunes) < prefixBound {
		prefixBound = len(newRunes)
	}
	for prefix < prefixBound && oldRunes[prefix] == newRunes[prefix] {
		prefix++
	}

	oldTail := oldRunes[prefix:]
	newTail := newRunes[prefix:]

	suffix := 0
	maxSuffix := len(oldTail)
	if len(newTail) < maxSuffix {
		maxSuffix = len(newTail)
	}
	for suffix < maxSuffix &&
		oldTail[len(oldTail)-1-suffix] == newTail[len(newTail)-1-suffix] {
		suffix++
	}

	oldMid := oldTail[:len(oldTail)-suffix]
	newMid := newTail[:len(newTail)-suffix]

	var ops []ot.Op
	if len(oldMid) > 0 {
		ops = append(ops, ot.Delete(prefix, len(oldMid)))
	}
	if len(newMid) > 0 {
		ops = append(ops, ot.Insert(prefix, string(newMid)))
	}
	return ops
}
