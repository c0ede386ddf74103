package embeddeddb

import (
	"testing"

	"github.com/edb-project/embeddeddb/internal/base"
)

func TestBatchEncodeDecodeRoundTrip(t *testing.T) {
	b := NewBatch()
	b.Put([]byte("k1"), []byte("v1"))
	b.Delete([]byte("k2"))
	b.Put([]byte("k3"), []byte(""))
	b.SetSequence(42)

	decoded, err := DecodeBatch(b.AsBytes())
	if err != nil {
		t.Fatalf("DecodeBatch: %v", err)
	}
	if decoded.Sequence() != 42 {
		t.Fatalf("Sequence() = %d, want 42", decoded.Sequence())
	}
	if decoded.Count() != 3 {
		t.Fatalf("Count() = %d, want 3", decoded.Count())
	}

	var got []base.InternalKey
	var vals [][]byte
	decoded.applyTo(func(ikey base.InternalKey, value []byte) {
		got = append(got, ikey)
		vals = append(vals, value)
	})
	if len(got) != 3 {
		t.Fatalf("applyTo produced %d entries, want 3", len(got))
	}
	if string(got[0].UserKey) != "k1" || got[0].SeqNum() != 42 || got[0].Kind() != base.InternalKeyKindSet {
		t.Fatalf("entry 0 = %+v, want k1/seq42/Set", got[0])
	}
	if string(vals[0]) != "v1" {
		t.Fatalf("entry 0 value = %q, want v1", vals[0])
	}
	if string(got[1].UserKey) != "k2" || got[1].SeqNum() != 43 || got[1].Kind() != base.InternalKeyKindDelete {
		t.Fatalf("entry 1 = %+v, want k2/seq43/Delete", got[1])
	}
	if string(got[2].UserKey) != "k3" || got[2].SeqNum() != 44 || got[2].Kind() != base.InternalKeyKindSet {
		t.Fatalf("entry 2 = %+v, want k3/seq44/Set", got[2])
	}
	if len(vals[2]) != 0 {
		t.Fatalf("entry 2 value = %v, want empty", vals[2])
	}

	if decoded.lastSequence() != 44 {
		t.Fatalf("lastSequence() = %d, want 44", decoded.lastSequence())
	}
}

func TestDecodeBatchRejectsTruncatedInput(t *testing.T) {
	b := NewBatch()
	b.Put([]byte("key"), []byte("value"))
	b.SetSequence(1)
	encoded := b.AsBytes()

	for n := 0; n < len(encoded); n++ {
		if _, err := DecodeBatch(encoded[:n]); err == nil {
			t.Fatalf("DecodeBatch(truncated to %d bytes) succeeded, want error", n)
		}
	}
}

func TestBatchLastSequenceOfEmptyBatchIsBaseSequence(t *testing.T) {
	b := NewBatch()
	b.SetSequence(7)
	if b.lastSequence() != 7 {
		t.Fatalf("lastSequence() of an empty batch = %d, want 7", b.lastSequence())
	}
}
