package document

import (
	"testing"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/prosemark/server/internal/apperr"
	"github.com/prosemark/server/internal/ot"
	"github.com/prosemark/server/internal/storage"
)

func testDoc(t *testing.T, slug string) *Doc {
	t.Helper()
	v := storage.NewVault(t.TempDir(), 8*1024*1024, 10_000)
	return New(slug, v, nil, 1024, zap.NewNop())
}

func TestApplyEditAppendsAndIncrementsRev(t *testing.T) {
	d := testDoc(t, "doc")
	author := uuid.New().String()

	res, err := d.ApplyEdit(EditRequest{
		BaseRev:       0,
		Ops:           []ot.Op{ot.Insert(0, "hello")},
		AuthorID:      author,
		OpID:          uuid.New().String(),
		Authenticated: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Rev != 1 {
		t.Fatalf("rev = %d, want 1", res.Rev)
	}

	sub, err := d.Subscribe(uuid.New().String(), "", nil, nil, 0)
	if err != nil {
		t.Fatal(err)
	}
	if sub.Text != "hello" || sub.Rev != 1 {
		t.Fatalf("got text=%q rev=%d", sub.Text, sub.Rev)
	}
}

func TestApplyEditDedupsSameOpID(t *testing.T) {
	d := testDoc(t, "doc")
	author := uuid.New().String()
	opID := uuid.New().String()

	req := EditRequest{
		BaseRev:       0,
		Ops:           []ot.Op{ot.Insert(0, "a")},
		AuthorID:      author,
		OpID:          opID,
		Authenticated: true,
	}
	first, err := d.ApplyEdit(req)
	if err != nil {
		t.Fatal(err)
	}
	second, err := d.ApplyEdit(req)
	if err != nil {
		t.Fatal(err)
	}
	if !second.Duplicate {
		t.Fatal("expected second apply of the same op_id to be reported duplicate")
	}
	if second.Rev != first.Rev {
		t.Fatalf("duplicate apply must not change rev: first=%d second=%d", first.Rev, second.Rev)
	}

	req2 := EditRequest{
		BaseRev:       1,
		Ops:           []ot.Op{ot.Insert(1, "b")},
		AuthorID:      author,
		OpID:          uuid.New().String(),
		Authenticated: true,
	}
	third, err := d.ApplyEdit(req2)
	if err != nil {
		t.Fatal(err)
	}
	if third.Rev != 2 {
		t.Fatalf("rev = %d, want 2", third.Rev)
	}
}

func TestApplyEditDedupReportsTheOriginalRevAfterLaterEditsLand(t *testing.T) {
	d := testDoc(t, "doc")
	author := uuid.New().String()
	opID := uuid.New().String()

	req := EditRequest{
		BaseRev:       0,
		Ops:           []ot.Op{ot.Insert(0, "hi")},
		AuthorID:      author,
		OpID:          opID,
		Authenticated: true,
	}
	first, err := d.ApplyEdit(req)
	if err != nil {
		t.Fatal(err)
	}

	// a different author's edit advances the document's current
	// revision before the first author's ack-resend arrives
	if _, err := d.ApplyEdit(EditRequest{
		BaseRev:       first.Rev,
		Ops:           []ot.Op{ot.Insert(0, "yo")},
		AuthorID:      uuid.New().String(),
		OpID:          uuid.New().String(),
		Authenticated: true,
	}); err != nil {
		t.Fatal(err)
	}

	replay, err := d.ApplyEdit(req)
	if err != nil {
		t.Fatal(err)
	}
	if !replay.Duplicate {
		t.Fatal("expected the resend to be reported duplicate")
	}
	if replay.Rev != first.Rev {
		t.Fatalf("dedup hit rev = %d, want the original application's rev %d (not the document's current rev)", replay.Rev, first.Rev)
	}
	if len(replay.TransformedOps) != len(first.TransformedOps) {
		t.Fatalf("dedup hit ops = %v, want the original application's ops %v", replay.TransformedOps, first.TransformedOps)
	}
}

func TestApplyEditRejectsBaseTooOld(t *testing.T) {
	d := testDoc(t, "doc")
	author := uuid.New().String()
	d.window = 1

	for i := 0; i < 3; i++ {
		if _, err := d.ApplyEdit(EditRequest{
			BaseRev:       uint64(i),
			Ops:           []ot.Op{ot.Insert(0, "x")},
			AuthorID:      author,
			OpID:          uuid.New().String(),
			Authenticated: true,
		}); err != nil {
			t.Fatal(err)
		}
	}

	_, err := d.ApplyEdit(EditRequest{
		BaseRev:       0,
		Ops:           []ot.Op{ot.Insert(0, "y")},
		AuthorID:      author,
		OpID:          uuid.New().String(),
		Authenticated: true,
	})
	if !apperr.As(err, apperr.BaseTooOld) {
		t.Fatalf("expected base_too_old, got %v", err)
	}
}

func TestApplyEditRejectsFutureBaseRev(t *testing.T) {
	d := testDoc(t, "doc")
	_, err := d.ApplyEdit(EditRequest{
		BaseRev:       5,
		Ops:           []ot.Op{ot.Insert(0, "x")},
		AuthorID:      uuid.New().String(),
		OpID:          uuid.New().String(),
		Authenticated: true,
	})
	if !apperr.As(err, apperr.BaseTooOld) {
		t.Fatalf("expected base_too_old for base_rev > rev, got %v", err)
	}
}

func TestSetPasswordGatesSubsequentEdits(t *testing.T) {
	d := testDoc(t, "secret")
	if err := d.SetPassword("", "hunter2"); err != nil {
		t.Fatal(err)
	}

	_, err := d.ApplyEdit(EditRequest{
		BaseRev:       0,
		Ops:           []ot.Op{ot.Insert(0, "x")},
		AuthorID:      uuid.New().String(),
		OpID:          uuid.New().String(),
		Authenticated: false,
	})
	if !apperr.As(err, apperr.Unauthorised) {
		t.Fatalf("expected unauthorised without auth, got %v", err)
	}

	_, err = d.ApplyEdit(EditRequest{
		BaseRev:       0,
		Ops:           []ot.Op{ot.Insert(0, "x")},
		AuthorID:      uuid.New().String(),
		OpID:          uuid.New().String(),
		Authenticated: true,
	})
	if err != nil {
		t.Fatalf("expected authenticated edit to succeed, got %v", err)
	}
}

func TestSubscribeReportsNeedsPasswordThenOkAfterCorrectPassword(t *testing.T) {
	d := testDoc(t, "secret")
	if err := d.SetPassword("", "hunter2"); err != nil {
		t.Fatal(err)
	}

	res, err := d.Subscribe(uuid.New().String(), "", nil, nil, 0)
	if err != nil {
		t.Fatal(err)
	}
	if res.Auth != "needs_password" {
		t.Fatalf("auth = %q, want needs_password", res.Auth)
	}

	res, err = d.Subscribe(uuid.New().String(), "hunter2", nil, nil, 0)
	if err != nil {
		t.Fatal(err)
	}
	if res.Auth != "ok" {
		t.Fatalf("auth = %q, want ok", res.Auth)
	}
}

func TestPeekReturnsTextWithoutRegisteringPresence(t *testing.T) {
	d := testDoc(t, "doc")
	if _, err := d.ApplyEdit(EditRequest{
		BaseRev:       0,
		Ops:           []ot.Op{ot.Insert(0, "hello")},
		AuthorID:      uuid.New().String(),
		OpID:          uuid.New().String(),
		Authenticated: true,
	}); err != nil {
		t.Fatal(err)
	}

	rev, text, err := d.Peek("")
	if err != nil {
		t.Fatal(err)
	}
	if rev != 1 || text != "hello" {
		t.Fatalf("rev=%d text=%q, want rev=1 text=\"hello\"", rev, text)
	}
	if snapshot := d.Presence.Snapshot(); len(snapshot) != 0 {
		t.Fatalf("expected no presence entries from Peek, got %d", len(snapshot))
	}
}

func TestPeekRequiresPasswordWhenSet(t *testing.T) {
	d := testDoc(t, "secret-peek")
	if err := d.SetPassword("", "hunter2"); err != nil {
		t.Fatal(err)
	}

	if _, _, err := d.Peek(""); err == nil {
		t.Fatal("expected Peek without a password to fail")
	}
	if _, _, err := d.Peek("wrong"); err == nil {
		t.Fatal("expected Peek with the wrong password to fail")
	}
	if _, text, err := d.Peek("hunter2"); err != nil || text != "" {
		t.Fatalf("text=%q err=%v, want empty text and no error", text, err)
	}
}

func TestConcurrentEditsFromTwoAuthorsBothApply(t *testing.T) {
	d := testDoc(t, "doc")
	if _, err := d.ApplyEdit(EditRequest{
		BaseRev:       0,
		Ops:           []ot.Op{ot.Insert(0, "AB")},
		AuthorID:      uuid.New().String(),
		OpID:          uuid.New().String(),
		Authenticated: true,
	}); err != nil {
		t.Fatal(err)
	}

	authorLow := "00000000-0000-0000-0000-000000000001"
	authorHigh := "00000000-0000-0000-0000-000000000002"

	done := make(chan ApplyResult, 2)
	go func() {
		r, _ := d.ApplyEdit(EditRequest{BaseRev: 1, Ops: []ot.Op{ot.Insert(1, "X")}, AuthorID: authorLow, OpID: uuid.New().String(), Authenticated: true})
		done <- r
	}()
	go func() {
		r, _ := d.ApplyEdit(EditRequest{BaseRev: 1, Ops: []ot.Op{ot.Insert(1, "Y")}, AuthorID: authorHigh, OpID: uuid.New().String(), Authenticated: true})
		done <- r
	}()
	<-done
	<-done

	sub, err := d.Subscribe(uuid.New().String(), "", nil, nil, 0)
	if err != nil {
		t.Fatal(err)
	}
	if sub.Rev != 3 {
		t.Fatalf("rev = %d, want 3", sub.Rev)
	}
	if sub.Text != "AXYB" {
		t.Fatalf("text = %q, want AXYB (author tie-break order)", sub.Text)
	}
}
