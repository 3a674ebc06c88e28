package podlog_test

import (
	"context"
	"testing"

	"podlog/internal/podlog"
)

func mustCreateStream(t *testing.T, f *fixture, path string, access podlog.Access) *podlog.Stream {
	t.Helper()
	st, err := f.svc.CreateStream(context.Background(), alice, "alice", path, access)
	if err != nil {
		t.Fatalf("CreateStream(%s) error = %v", path, err)
	}
	return st
}

func canRead(t *testing.T, f *fixture, caller podlog.Caller, path string) bool {
	t.Helper()
	st, err := f.svc.ResolveStream(context.Background(), "alice", path)
	if err != nil {
		t.Fatalf("ResolveStream(%s) error = %v", path, err)
	}
	ok, err := f.svc.CanRead(context.Background(), caller, st)
	if err != nil {
		t.Fatalf("CanRead(%s) error = %v", path, err)
	}
	return ok
}

func canWrite(t *testing.T, f *fixture, caller podlog.Caller, path string) bool {
	t.Helper()
	st, err := f.svc.ResolveStream(context.Background(), "alice", path)
	if err != nil {
		t.Fatalf("ResolveStream(%s) error = %v", path, err)
	}
	ok, err := f.svc.CanWrite(context.Background(), caller, st)
	if err != nil {
		t.Fatalf("CanWrite(%s) error = %v", path, err)
	}
	return ok
}

func TestPermissions_Inheritance(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.newPod(t, "alice")

	mustCreateStream(t, f, "open", podlog.Public)
	mustCreateStream(t, f, "open/child", podlog.Inherit)
	mustCreateStream(t, f, "closed", podlog.Private)
	mustCreateStream(t, f, "closed/child", podlog.Inherit)
	mustCreateStream(t, f, "closed/public", podlog.Public)

	tests := []struct {
		path   string
		caller podlog.Caller
		read   bool
		write  bool
	}{
		{"open", anon, true, false},
		{"open", bob, true, true},
		{"open/child", anon, true, false},
		{"open/child", bob, true, true},
		{"closed", bob, false, false},
		{"closed", alice, true, true},
		{"closed/child", bob, false, false},
		{"closed/child", anon, false, false},
		{"closed/child", alice, true, true},
		{"closed/public", anon, true, false},
		{".config", bob, false, false},
		{".config/owner", anon, false, false},
	}
	for _, tt := range tests {
		name := tt.path + " as " + tt.caller.Identifier()
		t.Run(name, func(t *testing.T) {
			if got := canRead(t, f, tt.caller, tt.path); got != tt.read {
				t.Errorf("CanRead() = %v, want %v", got, tt.read)
			}
			if got := canWrite(t, f, tt.caller, tt.path); got != tt.write {
				t.Errorf("CanWrite() = %v, want %v", got, tt.write)
			}
		})
	}

	_, err := f.svc.Read(ctx, bob, "alice", "closed/child", podlog.Selector{})
	wantKind(t, err, podlog.KindForbidden)
	_, err = f.svc.GetStream(ctx, anon, "alice", "closed")
	wantKind(t, err, podlog.KindForbidden)

	roots, err := f.svc.ListChildren(ctx, bob, "alice", "")
	if err != nil {
		t.Fatalf("ListChildren() error = %v", err)
	}
	if len(roots) != 1 || roots[0].Path != "open" {
		t.Errorf("ListChildren(root) for bob = %v, want only open", roots)
	}
}

func TestPermissions_StreamGrants(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.newPod(t, "alice")

	mustCreateStream(t, f, "acl", podlog.Private)
	mustCreateStream(t, f, "shared", podlog.StreamAccess("acl"))
	mustCreateStream(t, f, "team", podlog.Public)
	mustCreateStream(t, f, "team/docs", podlog.StreamAccess("acl"))

	grant := func(content string) {
		t.Helper()
		f.append(t, alice, "alice", "acl", "", content)
	}

	grant(`{"id":"bob","read":true,"write":false}`)
	grant(`not a grant`)
	if !canRead(t, f, bob, "shared") || canWrite(t, f, bob, "shared") {
		t.Errorf("bob after read grant: want read only")
	}
	if canRead(t, f, carol, "shared") {
		t.Errorf("carol without grant can read shared")
	}
	if canRead(t, f, anon, "shared") {
		t.Errorf("anonymous can read shared")
	}
	// No grant defers to the public parent.
	if !canRead(t, f, carol, "team/docs") {
		t.Errorf("carol cannot read team/docs through public parent")
	}
	if canRead(t, f, anon, "team/docs") {
		t.Errorf("anonymous can read team/docs through public parent")
	}

	grant(`{"id":"bob","read":true,"write":true}`)
	if !canWrite(t, f, bob, "shared") {
		t.Errorf("bob cannot write after write grant")
	}
	if _, err := f.svc.Append(ctx, bob, "alice", "shared", podlog.AppendRequest{Content: []byte("hi")}); err != nil {
		t.Errorf("Append() as granted writer error = %v", err)
	}

	// The last grant wins, so a revocation denies even a public parent.
	grant(`{"id":"bob","read":false,"write":false}`)
	if canRead(t, f, bob, "shared") || canRead(t, f, bob, "team/docs") {
		t.Errorf("bob can still read after revocation")
	}

	// Deleting the revocation restores the previous grant.
	if err := f.svc.DeleteRecord(ctx, alice, "alice", "acl", -1, false); err != nil {
		t.Fatalf("DeleteRecord() error = %v", err)
	}
	if !canRead(t, f, bob, "shared") || !canWrite(t, f, bob, "shared") {
		t.Errorf("bob lost access after revocation was deleted")
	}
}

func TestPermissions_MissingGrantStream(t *testing.T) {
	f := newFixture(t)
	f.newPod(t, "alice")
	mustCreateStream(t, f, "dangling", podlog.StreamAccess("no/such/stream"))

	if canRead(t, f, bob, "dangling") {
		t.Errorf("bob can read a stream whose grant stream is missing")
	}
	if !canRead(t, f, alice, "dangling") {
		t.Errorf("owner cannot read dangling")
	}
}

func TestPermissions_AncestryCycle(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.newPod(t, "alice")
	a := mustCreateStream(t, f, "a", podlog.Inherit)
	b := mustCreateStream(t, f, "a/b", podlog.Inherit)

	if _, err := f.db.DB().ExecContext(ctx, "UPDATE streams SET parent_id = ? WHERE id = ?", b.ID, a.ID); err != nil {
		t.Fatalf("creating cycle: %v", err)
	}
	stream, err := f.db.GetStream(ctx, b.ID)
	if err != nil {
		t.Fatalf("GetStream() error = %v", err)
	}

	perms := podlog.NewPermissions(f.db, podlog.NewNopLogger())
	ok, err := perms.CanRead(ctx, stream, "bob")
	if err != nil {
		t.Fatalf("CanRead() error = %v", err)
	}
	if ok {
		t.Errorf("CanRead() on a cyclic ancestry = true, want false")
	}
}

func TestPermissions_PodOwnerFromOwnerStream(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.newPod(t, "alice")

	owner, err := f.svc.Permissions().PodOwner(ctx, "alice")
	if err != nil {
		t.Fatalf("PodOwner() error = %v", err)
	}
	if owner != "alice" {
		t.Errorf("PodOwner() = %s, want alice", owner)
	}

	owner, err = f.svc.Permissions().PodOwner(ctx, "missing")
	if err != nil || owner != "" {
		t.Errorf("PodOwner(missing) = %q, %v; want empty", owner, err)
	}
}
