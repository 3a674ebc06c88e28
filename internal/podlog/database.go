package podlog

import (
	"context"
	"time"
)

// PodInit carries everything needed to create a pod together with its
// reserved .config and .config/owner streams and the first owner record.
type PodInit struct {
	Name           string
	OwnerID        string
	CreatedAt      time.Time
	ConfigStreamID string
	OwnerStreamID  string
	OwnerRecord    RecordDraft
}

// HierarchyRequest describes a stream path to materialize. Missing
// intermediate segments get IntermediateAccess, the leaf gets LeafAccess.
type HierarchyRequest struct {
	PodName            string
	Segments           []string
	UserID             string
	LeafAccess         Access
	IntermediateAccess Access
	CreatedAt          time.Time
	// NewID is called once per stream actually created.
	NewID func() string
}

// Database provides the persistent store behind the service.
// Lookups return (nil, nil) when nothing matches. Every method that touches
// more than one row runs in a single transaction.
type Database interface {
	// Pod operations

	// CreatePod inserts the pod, its reserved streams and first owner record.
	// Returns ErrPodExists if the name is taken.
	CreatePod(ctx context.Context, init PodInit) (*Pod, error)

	GetPod(ctx context.Context, name string) (*Pod, error)

	// GetPodByDomain returns the pod a custom domain is mapped to.
	GetPodByDomain(ctx context.Context, domain string) (*Pod, error)

	ListPodsByOwner(ctx context.Context, ownerID string) ([]*Pod, error)

	// DeletePod removes the pod with all streams, records and domains.
	DeletePod(ctx context.Context, name string) error

	// TransferOwnership appends draft to the pod's owner stream and sets the
	// denormalized owner to newOwnerID in one transaction.
	TransferOwnership(ctx context.Context, podName, newOwnerID string, draft RecordDraft) (*Record, error)

	// SetPodDomains replaces the pod's custom domains and reports which
	// domains were removed and added. Returns ErrNameConflict if a domain
	// belongs to another pod.
	SetPodDomains(ctx context.Context, podName string, domains []string) (removed, added []string, err error)

	// Stream operations

	GetStream(ctx context.Context, id string) (*Stream, error)
	GetStreamByPath(ctx context.Context, podName, path string) (*Stream, error)

	// ListChildStreams returns the direct children of parentID, or the root
	// streams of the pod when parentID is empty.
	ListChildStreams(ctx context.Context, podName, parentID string) ([]*Stream, error)

	// FindSubtree returns every stream whose path equals prefix or is nested
	// under it, ordered by path.
	FindSubtree(ctx context.Context, podName, prefix string) ([]*Stream, error)

	// CreateHierarchy creates the missing streams along req.Segments and
	// returns the streams it created, leaf last. Fails with ErrStreamExists
	// when the leaf already exists and ErrNameConflict when a segment collides
	// with a record name in its parent.
	CreateHierarchy(ctx context.Context, req HierarchyRequest) ([]*Stream, error)

	UpdateStreamAccess(ctx context.Context, id string, access Access) error

	// DeleteStream removes the stream, its descendants and all their records.
	DeleteStream(ctx context.Context, id string) error

	// Record operations

	// AppendRecord seals draft onto the end of the stream's chain. Appends to
	// the same stream are serialized. Returns ErrNameConflict when the record
	// name equals a child stream name.
	AppendRecord(ctx context.Context, streamID string, draft RecordDraft) (*Record, error)

	GetStreamHead(ctx context.Context, streamID string) (*StreamHead, error)

	// GetRecord returns the record at index regardless of its flags.
	GetRecord(ctx context.Context, streamID string, index int64) (*Record, error)

	// GetLatestRecord returns the visible record with the highest index.
	GetLatestRecord(ctx context.Context, streamID string) (*Record, error)

	// GetLatestRecordByName returns the newest visible record named name.
	GetLatestRecordByName(ctx context.Context, streamID, name string) (*Record, error)

	// GetRecordRange returns visible records with start <= index < end.
	GetRecordRange(ctx context.Context, streamID string, start, end int64) ([]*Record, error)

	// ListRecords returns the full chain in index order, flagged records included.
	ListRecords(ctx context.Context, streamID string) ([]*Record, error)

	// ListUniqueRecords returns the latest visible record per distinct name
	// across streamIDs, ordered by (createdAt, index). Unnamed records are
	// each distinct.
	ListUniqueRecords(ctx context.Context, streamIDs []string) ([]*Record, error)

	// SetRecordFlags marks a record deleted and optionally purged.
	SetRecordFlags(ctx context.Context, streamID string, index int64, deleted, purged bool) error

	// Snapshot bookkeeping

	// RecordSnapshot stores a new snapshot row and returns its version.
	RecordSnapshot(ctx context.Context, at time.Time) (int64, error)

	// MaxSnapshotVersion returns the highest recorded version, 0 if none.
	MaxSnapshotVersion(ctx context.Context) (int64, error)

	// BackupTo writes a consistent copy of the store to path.
	BackupTo(ctx context.Context, path string) error

	// Close closes the database connection.
	Close() error
}
