package podlog

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"time"
)

// domainChain separates record chain hashes from any other SHA-256 use.
// The version suffix leaves room for a future algorithm change.
const domainChain = "podlog/record/v1"

// ContentHash returns the SHA-256 of content as lowercase hex.
func ContentHash(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// ChainHash links a record to its predecessor:
//
//	SHA256(domain 0x00 previousHash 0x00 contentHash 0x00 userID 0x00 createdAtMillis)
//
// previousHash is "" for the first record of a stream. Null separators keep
// field boundaries unambiguous.
func ChainHash(previousHash, contentHash, userID string, createdAt time.Time) string {
	h := sha256.New()
	for i, part := range []string{
		domainChain,
		previousHash,
		contentHash,
		userID,
		strconv.FormatInt(createdAt.UnixMilli(), 10),
	} {
		if i > 0 {
			h.Write([]byte{0x00})
		}
		h.Write([]byte(part))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// ChainTime truncates t to the precision stored and hashed for records.
func ChainTime(t time.Time) time.Time {
	return time.UnixMilli(t.UnixMilli()).UTC()
}

// SealRecord builds the record that follows head in streamID's chain.
// head is nil or has LastIndex -1 for an empty stream.
func SealRecord(streamID string, head *StreamHead, draft RecordDraft) *Record {
	index := int64(0)
	previous := ""
	if head != nil && head.LastIndex >= 0 {
		index = head.LastIndex + 1
		previous = head.LastHash
	}
	contentType := draft.ContentType
	if contentType == "" {
		contentType = defaultContentType
	}
	createdAt := ChainTime(draft.CreatedAt)
	contentHash := ContentHash(draft.Content)

	return NewRecord(RecordData{
		ID:           draft.ID,
		StreamID:     streamID,
		Index:        index,
		Name:         draft.Name,
		Content:      draft.Content,
		ContentType:  contentType,
		ContentHash:  contentHash,
		Hash:         ChainHash(previous, contentHash, draft.UserID, createdAt),
		PreviousHash: previous,
		UserID:       draft.UserID,
		CreatedAt:    createdAt,
	})
}

// ChainMismatch describes the first record whose chain fields do not verify.
type ChainMismatch struct {
	Index int64  `json:"index"`
	Field string `json:"field"`
	Want  string `json:"want"`
	Got   string `json:"got"`
}

// ChainReport is the outcome of verifying a stream's hash chain.
type ChainReport struct {
	StreamID string         `json:"streamId"`
	Checked  int64          `json:"checked"`
	Valid    bool           `json:"valid"`
	Mismatch *ChainMismatch `json:"mismatch,omitempty"`
}

// VerifyRecords recomputes the chain over records given in index order.
// Deleted and purged records are part of the chain and are checked too.
func VerifyRecords(streamID string, records []*Record) ChainReport {
	report := ChainReport{StreamID: streamID, Valid: true}
	previous := ""
	for i, r := range records {
		report.Checked++
		var m *ChainMismatch
		switch {
		case r.Index() != int64(i):
			m = &ChainMismatch{Field: "index", Want: strconv.Itoa(i), Got: strconv.FormatInt(r.Index(), 10)}
		case r.PreviousHash() != previous:
			m = &ChainMismatch{Field: "previousHash", Want: previous, Got: r.PreviousHash()}
		case r.ContentHash() != ContentHash(r.d.Content):
			m = &ChainMismatch{Field: "contentHash", Want: ContentHash(r.d.Content), Got: r.ContentHash()}
		default:
			want := ChainHash(previous, r.ContentHash(), r.UserID(), r.CreatedAt())
			if r.Hash() != want {
				m = &ChainMismatch{Field: "hash", Want: want, Got: r.Hash()}
			}
		}
		if m != nil {
			m.Index = int64(i)
			report.Valid = false
			report.Mismatch = m
			return report
		}
		previous = r.Hash()
	}
	return report
}
