package podlog

import (
	"testing"
	"time"
)

var testTime = time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)

func sealChain(t *testing.T, contents ...string) []*Record {
	t.Helper()
	var (
		records []*Record
		head    *StreamHead
	)
	for i, c := range contents {
		r := SealRecord("stream-1", head, RecordDraft{
			ID:        "r" + string(rune('a'+i)),
			Content:   []byte(c),
			UserID:    "alice",
			CreatedAt: testTime.Add(time.Duration(i) * time.Second),
		})
		records = append(records, r)
		head = &StreamHead{Count: int64(i + 1), LastIndex: r.Index(), LastHash: r.Hash()}
	}
	return records
}

func TestContentHash(t *testing.T) {
	// SHA-256 of the empty string.
	const empty = "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"
	if got := ContentHash(nil); got != empty {
		t.Errorf("ContentHash(nil) = %s, want %s", got, empty)
	}
	if ContentHash([]byte("a")) == ContentHash([]byte("b")) {
		t.Error("ContentHash() collides for different content")
	}
}

func TestChainHash(t *testing.T) {
	base := ChainHash("prev", "content", "alice", testTime)
	if base != ChainHash("prev", "content", "alice", testTime) {
		t.Fatal("ChainHash() is not deterministic")
	}

	variants := map[string]string{
		"previous":  ChainHash("other", "content", "alice", testTime),
		"content":   ChainHash("prev", "other", "alice", testTime),
		"user":      ChainHash("prev", "content", "bob", testTime),
		"createdAt": ChainHash("prev", "content", "alice", testTime.Add(time.Millisecond)),
		// Moving a byte across a field boundary must change the hash.
		"boundary": ChainHash("pre", "vcontent", "alice", testTime),
	}
	for name, h := range variants {
		if h == base {
			t.Errorf("ChainHash() ignores %s", name)
		}
	}

	// Sub-millisecond precision is not part of the hash.
	if ChainHash("prev", "content", "alice", testTime.Add(time.Microsecond)) != base {
		t.Error("ChainHash() depends on sub-millisecond time")
	}
}

func TestSealRecord(t *testing.T) {
	records := sealChain(t, "hello", "world")
	first, second := records[0], records[1]

	if first.Index() != 0 || first.PreviousHash() != "" {
		t.Errorf("genesis record index=%d previous=%q", first.Index(), first.PreviousHash())
	}
	if second.Index() != 1 || second.PreviousHash() != first.Hash() {
		t.Errorf("second record index=%d previous=%q, want 1 and %q", second.Index(), second.PreviousHash(), first.Hash())
	}
	if first.ContentType() != "text/plain" {
		t.Errorf("ContentType() = %q, want text/plain", first.ContentType())
	}
	if first.ContentHash() != ContentHash([]byte("hello")) {
		t.Error("ContentHash() not derived from content")
	}
	if first.CreatedAt().Location() != time.UTC {
		t.Error("CreatedAt() not in UTC")
	}
}

func TestRecord_ContentIsCopied(t *testing.T) {
	content := []byte("hello")
	r := SealRecord("s", nil, RecordDraft{Content: content, UserID: "alice", CreatedAt: testTime})

	content[0] = 'J'
	if string(r.Content()) != "hello" {
		t.Error("record shares the caller's content buffer")
	}
	got := r.Content()
	got[0] = 'J'
	if string(r.Content()) != "hello" {
		t.Error("Content() exposes the internal buffer")
	}
}

func TestVerifyRecords(t *testing.T) {
	t.Run("valid chain", func(t *testing.T) {
		report := VerifyRecords("stream-1", sealChain(t, "a", "b", "c"))
		if !report.Valid || report.Checked != 3 || report.Mismatch != nil {
			t.Errorf("VerifyRecords() = %+v, want valid over 3 records", report)
		}
	})

	t.Run("empty stream", func(t *testing.T) {
		report := VerifyRecords("stream-1", nil)
		if !report.Valid || report.Checked != 0 {
			t.Errorf("VerifyRecords(nil) = %+v", report)
		}
	})

	t.Run("tampered content", func(t *testing.T) {
		records := sealChain(t, "a", "b", "c")
		d := records[1].Data()
		d.Content = []byte("B")
		records[1] = NewRecord(d)

		report := VerifyRecords("stream-1", records)
		if report.Valid {
			t.Fatal("VerifyRecords() accepted tampered content")
		}
		if report.Mismatch.Index != 1 || report.Mismatch.Field != "contentHash" {
			t.Errorf("Mismatch = %+v, want contentHash at 1", report.Mismatch)
		}
	})

	t.Run("rewritten author", func(t *testing.T) {
		records := sealChain(t, "a", "b")
		d := records[0].Data()
		d.UserID = "mallory"
		records[0] = NewRecord(d)

		report := VerifyRecords("stream-1", records)
		if report.Valid || report.Mismatch.Field != "hash" || report.Mismatch.Index != 0 {
			t.Errorf("VerifyRecords() = %+v, want hash mismatch at 0", report)
		}
	})

	t.Run("gap", func(t *testing.T) {
		records := sealChain(t, "a", "b", "c")
		report := VerifyRecords("stream-1", []*Record{records[0], records[2]})
		if report.Valid || report.Mismatch.Field != "index" {
			t.Errorf("VerifyRecords() = %+v, want index mismatch", report)
		}
	})

	t.Run("deleted records still count", func(t *testing.T) {
		records := sealChain(t, "a", "b")
		d := records[0].Data()
		d.Deleted, d.Purged = true, true
		records[0] = NewRecord(d)

		if report := VerifyRecords("stream-1", records); !report.Valid {
			t.Errorf("VerifyRecords() = %+v, flags must not affect the chain", report)
		}
	})
}
