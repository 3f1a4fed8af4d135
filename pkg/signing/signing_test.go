package signing

import (
	"testing"
	"time"

	"github.com/tracechain/tracechain/pkg/record"
	"github.com/tracechain/tracechain/pkg/trace"
)

func newEntry(id, method string) trace.Entry {
	return trace.Entry{ID: id, Method: method, Time: time.Now(), Duration: time.Millisecond}
}

func TestSignProducesGenesisPreviousHash(t *testing.T) {
	ctx, err := Generate(Callbacks{})
	if err != nil {
		t.Fatal(err)
	}
	sr, err := ctx.Sign(newEntry("1", "Widget.Create"))
	if err != nil {
		t.Fatal(err)
	}
	if sr.PreviousHash != record.Genesis {
		t.Fatalf("expected genesis previous hash, got %s", sr.PreviousHash)
	}
	if sr.Anchor.State != record.StatePending {
		t.Fatalf("expected pending state, got %s", sr.Anchor.State)
	}
}

func TestSignChainsHashes(t *testing.T) {
	ctx, err := Generate(Callbacks{})
	if err != nil {
		t.Fatal(err)
	}
	first, err := ctx.Sign(newEntry("1", "A"))
	if err != nil {
		t.Fatal(err)
	}
	second, err := ctx.Sign(newEntry("2", "B"))
	if err != nil {
		t.Fatal(err)
	}
	if second.PreviousHash != first.EntryHash {
		t.Fatalf("expected second.previousHash == first.entryHash")
	}
}

func TestVerifyRecordRoundTrip(t *testing.T) {
	ctx, err := Generate(Callbacks{})
	if err != nil {
		t.Fatal(err)
	}
	sr, err := ctx.Sign(newEntry("1", "A"))
	if err != nil {
		t.Fatal(err)
	}
	if err := VerifyRecord(sr); err != nil {
		t.Fatalf("expected valid signature, got %v", err)
	}
}

func TestVerifyRecordDetectsTamper(t *testing.T) {
	ctx, err := Generate(Callbacks{})
	if err != nil {
		t.Fatal(err)
	}
	sr, err := ctx.Sign(newEntry("1", "A"))
	if err != nil {
		t.Fatal(err)
	}
	sr.Entry.Method = "Widget.Delete"
	if err := VerifyRecord(sr); err == nil {
		t.Fatal("expected tampered record to fail verification")
	}
}

func TestVerifyChain(t *testing.T) {
	ctx, err := Generate(Callbacks{})
	if err != nil {
		t.Fatal(err)
	}
	var records []*record.Signed
	for i := 0; i < 3; i++ {
		sr, err := ctx.Sign(newEntry(string(rune('a'+i)), "M"))
		if err != nil {
			t.Fatal(err)
		}
		records = append(records, sr)
	}
	if err := VerifyChain(records); err != nil {
		t.Fatalf("expected chain valid, got %v", err)
	}

	records[1].PreviousHash = record.Genesis
	if err := VerifyChain(records); err == nil {
		t.Fatal("expected broken chain to be detected")
	}
}

func TestResetAndSetPreviousHash(t *testing.T) {
	ctx, err := Generate(Callbacks{})
	if err != nil {
		t.Fatal(err)
	}
	sr, err := ctx.Sign(newEntry("1", "A"))
	if err != nil {
		t.Fatal(err)
	}
	ctx.SetPreviousHash(sr.EntryHash)
	sr2, err := ctx.Sign(newEntry("2", "B"))
	if err != nil {
		t.Fatal(err)
	}
	if sr2.PreviousHash != sr.EntryHash {
		t.Fatal("expected resumed chain to continue from set hash")
	}
	ctx.Reset()
	sr3, err := ctx.Sign(newEntry("3", "C"))
	if err != nil {
		t.Fatal(err)
	}
	if sr3.PreviousHash != record.Genesis {
		t.Fatal("expected reset chain to restart at genesis")
	}
}
