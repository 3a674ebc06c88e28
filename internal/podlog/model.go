package podlog

import (
	"encoding/json"
	"time"
)

// Pod is a tenant namespace addressed by subdomain or custom domain.
// OwnerID is denormalized; the authoritative owner is the latest record in
// the pod's .config/owner stream.
type Pod struct {
	Name      string    `json:"name"`
	OwnerID   string    `json:"ownerId"`
	Domains   []string  `json:"domains,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Stream is a node in a pod's stream tree.
type Stream struct {
	ID        string    `json:"id"`
	PodName   string    `json:"pod"`
	ParentID  string    `json:"parentId,omitempty"`
	Name      string    `json:"name"`
	Path      string    `json:"path"`
	UserID    string    `json:"userId"`
	Access    Access    `json:"accessPermission"`
	HasSchema bool      `json:"hasSchema"`
	CreatedAt time.Time `json:"createdAt"`
}

// IsRoot reports whether the stream sits directly under the pod.
func (s *Stream) IsRoot() bool { return s.ParentID == "" }

// ParentPath returns the path of the parent stream, or "" for root streams.
func (s *Stream) ParentPath() string { return parentPath(s.Path) }

// RecordDraft is the caller-supplied part of a record before it is sealed
// into the chain.
type RecordDraft struct {
	ID          string
	Content     []byte
	ContentType string
	Name        string
	UserID      string
	CreatedAt   time.Time
}

// RecordData is the plain form of a record used by storage backends to
// rehydrate a Record.
type RecordData struct {
	ID           string
	StreamID     string
	Index        int64
	Name         string
	Content      []byte
	ContentType  string
	ContentHash  string
	Hash         string
	PreviousHash string
	UserID       string
	CreatedAt    time.Time
	Deleted      bool
	Purged       bool
}

// Record is an immutable log entry. Chain fields are only readable.
type Record struct {
	d RecordData
}

// NewRecord rehydrates a record from stored data.
func NewRecord(d RecordData) *Record {
	d.Content = append([]byte(nil), d.Content...)
	return &Record{d: d}
}

func (r *Record) ID() string           { return r.d.ID }
func (r *Record) StreamID() string     { return r.d.StreamID }
func (r *Record) Index() int64         { return r.d.Index }
func (r *Record) Name() string         { return r.d.Name }
func (r *Record) ContentType() string  { return r.d.ContentType }
func (r *Record) ContentHash() string  { return r.d.ContentHash }
func (r *Record) Hash() string         { return r.d.Hash }
func (r *Record) PreviousHash() string { return r.d.PreviousHash }
func (r *Record) UserID() string       { return r.d.UserID }
func (r *Record) CreatedAt() time.Time { return r.d.CreatedAt }
func (r *Record) Deleted() bool        { return r.d.Deleted }
func (r *Record) Purged() bool         { return r.d.Purged }

// Content returns a copy of the record body.
func (r *Record) Content() []byte { return append([]byte(nil), r.d.Content...) }

// Visible reports whether the record shows up in listings.
func (r *Record) Visible() bool { return !r.d.Deleted && !r.d.Purged }

// Data returns a copy of the record's plain fields.
func (r *Record) Data() RecordData {
	d := r.d
	d.Content = r.Content()
	return d
}

type recordJSON struct {
	ID           string    `json:"id"`
	StreamID     string    `json:"streamId"`
	Index        int64     `json:"index"`
	Name         string    `json:"name,omitempty"`
	Content      []byte    `json:"content"`
	ContentType  string    `json:"contentType"`
	ContentHash  string    `json:"contentHash"`
	Hash         string    `json:"hash"`
	PreviousHash *string   `json:"previousHash"`
	UserID       string    `json:"userId"`
	CreatedAt    time.Time `json:"createdAt"`
	Deleted      bool      `json:"deleted,omitempty"`
	Purged       bool      `json:"purged,omitempty"`
}

func (r *Record) MarshalJSON() ([]byte, error) {
	v := recordJSON{
		ID:          r.d.ID,
		StreamID:    r.d.StreamID,
		Index:       r.d.Index,
		Name:        r.d.Name,
		Content:     r.d.Content,
		ContentType: r.d.ContentType,
		ContentHash: r.d.ContentHash,
		Hash:        r.d.Hash,
		UserID:      r.d.UserID,
		CreatedAt:   r.d.CreatedAt,
		Deleted:     r.d.Deleted,
		Purged:      r.d.Purged,
	}
	if r.d.PreviousHash != "" {
		prev := r.d.PreviousHash
		v.PreviousHash = &prev
	}
	return json.Marshal(v)
}

func (r *Record) UnmarshalJSON(b []byte) error {
	var v recordJSON
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	r.d = RecordData{
		ID:          v.ID,
		StreamID:    v.StreamID,
		Index:       v.Index,
		Name:        v.Name,
		Content:     v.Content,
		ContentType: v.ContentType,
		ContentHash: v.ContentHash,
		Hash:        v.Hash,
		UserID:      v.UserID,
		CreatedAt:   v.CreatedAt,
		Deleted:     v.Deleted,
		Purged:      v.Purged,
	}
	if v.PreviousHash != nil {
		r.d.PreviousHash = *v.PreviousHash
	}
	return nil
}

// StreamHead describes the tail of a stream's chain.
type StreamHead struct {
	Count     int64
	LastIndex int64 // -1 when the stream is empty
	LastHash  string
}

// Caller identifies who is performing an operation.
type Caller struct {
	UserID     string
	RemoteAddr string
}

// Anonymous reports whether the caller is unauthenticated.
func (c Caller) Anonymous() bool { return c.UserID == "" }

// Identifier is the rate-limit key for the caller.
func (c Caller) Identifier() string {
	if c.UserID != "" {
		return c.UserID
	}
	return "ip:" + c.RemoteAddr
}

// PermissionGrant is the content of a record in a permission stream.
type PermissionGrant struct {
	ID    string `json:"id"`
	Read  bool   `json:"read"`
	Write bool   `json:"write"`
}

// OwnerRecord is the content of a record in a pod's .config/owner stream.
type OwnerRecord struct {
	ID string `json:"id"`
}
