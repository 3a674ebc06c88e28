package podlog_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"podlog/internal/podlog"
)

func int64p(v int64) *int64 { return &v }

// seedRecords appends a, about=b, c, about=d to alice/blog.
func seedRecords(t *testing.T) *fixture {
	t.Helper()
	f := newFixture(t)
	f.newPod(t, "alice")
	f.append(t, alice, "alice", "blog", "", "a")
	f.append(t, alice, "alice", "blog", "about", "b")
	f.append(t, alice, "alice", "blog", "", "c")
	f.append(t, alice, "alice", "blog", "about", "d")
	return f
}

func TestService_Read(t *testing.T) {
	ctx := context.Background()
	f := seedRecords(t)

	tests := []struct {
		name string
		sel  podlog.Selector
		want string
	}{
		{"latest", podlog.Selector{}, "d"},
		{"absolute index", podlog.Selector{Index: int64p(1)}, "b"},
		{"negative index", podlog.Selector{Index: int64p(-1)}, "d"},
		{"negative index from end", podlog.Selector{Index: int64p(-4)}, "a"},
		{"by name", podlog.Selector{Name: "about"}, "d"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := f.svc.Read(ctx, anon, "alice", "blog", tt.sel)
			if err != nil {
				t.Fatalf("Read() error = %v", err)
			}
			if string(r.Content()) != tt.want {
				t.Errorf("Read() = %s, want %s", r.Content(), tt.want)
			}
		})
	}

	for _, sel := range []podlog.Selector{
		{Index: int64p(4)},
		{Index: int64p(-5)},
		{Name: "missing"},
	} {
		if _, err := f.svc.Read(ctx, anon, "alice", "blog", sel); podlog.KindOf(err) != podlog.KindNotFound {
			t.Errorf("Read(%+v) error = %v, want NOT_FOUND", sel, err)
		}
	}
	if _, err := f.svc.Read(ctx, anon, "alice", "nowhere", podlog.Selector{}); podlog.KindOf(err) != podlog.KindNotFound {
		t.Errorf("Read(nowhere) error = %v, want NOT_FOUND", err)
	}
}

func TestService_ReadRange(t *testing.T) {
	ctx := context.Background()
	f := seedRecords(t)

	tests := []struct {
		name string
		r    podlog.Range
		want string
	}{
		{"all", podlog.Range{}, "[a b c d]"},
		{"last three", podlog.Range{Start: -3}, "[b c d]"},
		{"all but last", podlog.Range{End: int64p(-1)}, "[a b c]"},
		{"middle", podlog.Range{Start: 1, End: int64p(3)}, "[b c]"},
		{"start past end", podlog.Range{Start: 10}, "[]"},
		{"inverted", podlog.Range{Start: 3, End: int64p(1)}, "[]"},
		{"clamped start", podlog.Range{Start: -100, End: int64p(2)}, "[a b]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rs, err := f.svc.ReadRange(ctx, anon, "alice", "blog", tt.r)
			if err != nil {
				t.Fatalf("ReadRange() error = %v", err)
			}
			if got := fmt.Sprint(contents(rs)); got != tt.want {
				t.Errorf("ReadRange() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestService_ListUnique(t *testing.T) {
	ctx := context.Background()
	f := seedRecords(t)

	tests := []struct {
		name string
		opts podlog.ListOptions
		want string
	}{
		{"latest per name", podlog.ListOptions{}, "[a c d]"},
		{"limit", podlog.ListOptions{Limit: 2}, "[a c]"},
		{"after index", podlog.ListOptions{After: int64p(0)}, "[c d]"},
		{"after last", podlog.ListOptions{After: int64p(3)}, "[]"},
		{"last two", podlog.ListOptions{After: int64p(-2)}, "[c d]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rs, err := f.svc.ListUnique(ctx, anon, "alice", "blog", tt.opts)
			if err != nil {
				t.Fatalf("ListUnique() error = %v", err)
			}
			if got := fmt.Sprint(contents(rs)); got != tt.want {
				t.Errorf("ListUnique() = %s, want %s", got, tt.want)
			}
		})
	}

	if _, err := f.svc.ListUnique(ctx, anon, "alice", "blog", podlog.ListOptions{Limit: -1}); podlog.KindOf(err) != podlog.KindInvalidInput {
		t.Errorf("ListUnique(limit -1) error = %v, want INVALID_INPUT", err)
	}
}

func TestService_ListUniqueRecursive(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.newPod(t, "alice")

	f.append(t, alice, "alice", "blog", "", "b1")
	f.clock.Advance(time.Second)
	f.append(t, alice, "alice", "blog/posts", "", "p1")
	f.clock.Advance(time.Second)
	if _, err := f.svc.CreateStream(ctx, alice, "alice", "blog/secret", podlog.Private); err != nil {
		t.Fatalf("CreateStream() error = %v", err)
	}
	f.append(t, alice, "alice", "blog/secret", "", "s1")
	f.clock.Advance(time.Second)
	f.append(t, alice, "alice", "blog", "", "b2")

	list := func(caller podlog.Caller, opts podlog.ListOptions) string {
		opts.Recursive = true
		rs, err := f.svc.ListUnique(ctx, caller, "alice", "blog", opts)
		if err != nil {
			t.Fatalf("ListUnique() error = %v", err)
		}
		return fmt.Sprint(contents(rs))
	}

	if got := list(alice, podlog.ListOptions{}); got != "[b1 p1 s1 b2]" {
		t.Errorf("owner recursive list = %s", got)
	}
	if got := list(anon, podlog.ListOptions{}); got != "[b1 p1 b2]" {
		t.Errorf("anonymous recursive list = %s, want private stream skipped", got)
	}
	if got := list(alice, podlog.ListOptions{After: int64p(1)}); got != "[s1 b2]" {
		t.Errorf("recursive list after position 1 = %s", got)
	}
	if got := list(alice, podlog.ListOptions{After: int64p(-1)}); got != "[b2]" {
		t.Errorf("recursive list last one = %s", got)
	}
}

func TestService_AppendValidation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.newPod(t, "alice")
	f.append(t, alice, "alice", "blog/posts", "", "first")
	f.append(t, alice, "alice", "blog", "about", "about me")

	tests := []struct {
		name   string
		caller podlog.Caller
		pod    string
		path   string
		req    podlog.AppendRequest
		want   podlog.ErrorKind
	}{
		{"record named like child stream", alice, "alice", "blog", podlog.AppendRequest{Name: "posts"}, podlog.KindNameConflict},
		{"record name with slash", alice, "alice", "blog", podlog.AppendRequest{Name: "a/b"}, podlog.KindInvalidInput},
		{"dot-dot segment", alice, "alice", "blog/../x", podlog.AppendRequest{}, podlog.KindInvalidInput},
		{"unknown pod", alice, "nobody", "blog", podlog.AppendRequest{}, podlog.KindNotFound},
		{"non-owner auto-create", bob, "alice", "bobs-stream", podlog.AppendRequest{}, podlog.KindForbidden},
		{"anonymous write to public", anon, "alice", "blog", podlog.AppendRequest{}, podlog.KindForbidden},
		{"owner stream", alice, "alice", ".config/owner", podlog.AppendRequest{Content: []byte(`{"id":"bob"}`)}, podlog.KindForbidden},
		{"config by non-owner", bob, "alice", ".config", podlog.AppendRequest{}, podlog.KindForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Append(ctx, tt.caller, tt.pod, tt.path, tt.req)
			wantKind(t, err, tt.want)
		})
	}

	// A stream cannot take the name of an existing record.
	_, err := f.svc.CreateStream(ctx, alice, "alice", "blog/about", podlog.Public)
	wantKind(t, err, podlog.KindNameConflict)
	_, err = f.svc.CreateStream(ctx, alice, "alice", "blog/posts", podlog.Public)
	wantKind(t, err, podlog.KindStreamExists)
}

func TestService_AppendToPublicStreamByOtherUser(t *testing.T) {
	f := newFixture(t)
	f.newPod(t, "alice")
	f.append(t, alice, "alice", "guestbook", "", "welcome")

	r := f.append(t, bob, "alice", "guestbook", "", "hi from bob")
	if r.UserID() != "bob" || r.Index() != 1 {
		t.Errorf("Append() = user %s index %d, want bob at 1", r.UserID(), r.Index())
	}
}

func TestService_AppendWithAccessAndContentType(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.newPod(t, "alice")

	private := podlog.Private
	r, err := f.svc.Append(ctx, alice, "alice", "diary/2024", podlog.AppendRequest{
		Content:     []byte(`{"mood":"fine"}`),
		ContentType: "application/json",
		Access:      &private,
	})
	if err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if r.ContentType() != "application/json" {
		t.Errorf("ContentType() = %s", r.ContentType())
	}

	leaf, _ := f.svc.ResolveStream(ctx, "alice", "diary/2024")
	parent, _ := f.svc.ResolveStream(ctx, "alice", "diary")
	if leaf.Access != podlog.Private || parent.Access != podlog.Public {
		t.Errorf("access = leaf %v parent %v, want private and public", leaf.Access, parent.Access)
	}

	defaulted := f.append(t, alice, "alice", "notes", "", "plain")
	if defaulted.ContentType() != "text/plain" {
		t.Errorf("default ContentType() = %s, want text/plain", defaulted.ContentType())
	}
}

func TestService_DeleteRecord(t *testing.T) {
	ctx := context.Background()
	f := seedRecords(t)
	f.append(t, bob, "alice", "blog", "", "e")

	if err := f.svc.DeleteRecord(ctx, alice, "alice", "blog", 3, false); err != nil {
		t.Fatalf("DeleteRecord() error = %v", err)
	}

	about, err := f.svc.Read(ctx, anon, "alice", "blog", podlog.Selector{Name: "about"})
	if err != nil {
		t.Fatalf("Read(about) error = %v", err)
	}
	if string(about.Content()) != "b" {
		t.Errorf("Read(about) after delete = %s, want b", about.Content())
	}
	if _, err := f.svc.Read(ctx, anon, "alice", "blog", podlog.Selector{Index: int64p(3)}); podlog.KindOf(err) != podlog.KindNotFound {
		t.Errorf("Read(3) error = %v, want NOT_FOUND", err)
	}
	rs, err := f.svc.ListUnique(ctx, anon, "alice", "blog", podlog.ListOptions{})
	if err != nil {
		t.Fatalf("ListUnique() error = %v", err)
	}
	if got := fmt.Sprint(contents(rs)); got != "[a b c e]" {
		t.Errorf("ListUnique() after delete = %s, want [a b c e]", got)
	}

	// bob may delete his own record but not alice's.
	wantKind(t, f.svc.DeleteRecord(ctx, bob, "alice", "blog", 0, false), podlog.KindForbidden)
	if err := f.svc.DeleteRecord(ctx, bob, "alice", "blog", -1, true); err != nil {
		t.Errorf("DeleteRecord(own, purge) error = %v", err)
	}
	wantKind(t, f.svc.DeleteRecord(ctx, anon, "alice", "blog", 0, false), podlog.KindForbidden)
	wantKind(t, f.svc.DeleteRecord(ctx, alice, "alice", "blog", 99, false), podlog.KindNotFound)

	report, err := f.svc.Verify(ctx, anon, "alice", "blog")
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if !report.Valid || report.Checked != 5 {
		t.Errorf("Verify() = %+v, want valid over 5 records", report)
	}
}
