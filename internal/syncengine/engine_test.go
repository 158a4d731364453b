package syncengine

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noteweave/outlinesync/internal/cache"
	"github.com/noteweave/outlinesync/internal/httpapi"
	"github.com/noteweave/outlinesync/internal/kvstore"
	"github.com/noteweave/outlinesync/internal/outbox"
	"github.com/noteweave/outlinesync/internal/types"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock { return &fakeClock{now: time.Unix(1700000000, 0)} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fakeTransport struct {
	mu sync.Mutex

	compactReqs []httpapi.CompactRequest
	compactFn   func(req httpapi.CompactRequest) (*httpapi.CompactResponse, error)

	structureReqs []httpapi.StructureSnapshotRequest
	structureFn   func(req httpapi.StructureSnapshotRequest) (*httpapi.StructureSnapshotResponse, error)

	saveDocFn func(docJSON json.RawMessage) (*httpapi.SaveDocJSONResponse, error)

	callOrder []string
}

func (f *fakeTransport) Compact(ctx context.Context, articleID string, req httpapi.CompactRequest) (*httpapi.CompactResponse, error) {
	f.mu.Lock()
	f.compactReqs = append(f.compactReqs, req)
	f.callOrder = append(f.callOrder, "compact")
	fn := f.compactFn
	f.mu.Unlock()
	if fn != nil {
		return fn(req)
	}
	resp := &httpapi.CompactResponse{UpdatedAt: "2024-01-02T00:00:00Z"}
	for _, d := range req.Deletes {
		resp.DeleteAcks = append(resp.DeleteAcks, httpapi.DeleteAck{OpID: d.OpID})
	}
	for _, u := range req.Upserts {
		resp.UpsertAcks = append(resp.UpsertAcks, httpapi.UpsertAck{OpID: u.OpID, SectionID: u.SectionID, Result: httpapi.ResultOK})
	}
	return resp, nil
}

func (f *fakeTransport) StructureSnapshot(ctx context.Context, articleID string, req httpapi.StructureSnapshotRequest) (*httpapi.StructureSnapshotResponse, error) {
	f.mu.Lock()
	f.structureReqs = append(f.structureReqs, req)
	f.callOrder = append(f.callOrder, "structure")
	fn := f.structureFn
	f.mu.Unlock()
	if fn != nil {
		return fn(req)
	}
	rev := int64(2)
	return &httpapi.StructureSnapshotResponse{Status: httpapi.StructureOK, NewStructureRev: &rev}, nil
}

func (f *fakeTransport) SaveDocJSON(ctx context.Context, articleID string, docJSON json.RawMessage) (*httpapi.SaveDocJSONResponse, error) {
	if f.saveDocFn != nil {
		return f.saveDocFn(docJSON)
	}
	return &httpapi.SaveDocJSONResponse{UpdatedAt: "2024-01-02T00:00:00Z"}, nil
}

func (f *fakeTransport) TreeOp(ctx context.Context, articleID string, kind httpapi.TreeOpKind, payload json.RawMessage) error {
	return nil
}

func (f *fakeTransport) CreateArticle(ctx context.Context, payload json.RawMessage) (*httpapi.ArticleResponse, error) {
	return &httpapi.ArticleResponse{ID: "new-article"}, nil
}

type recordingEventSink struct {
	mu     sync.Mutex
	events []Event
}

func (s *recordingEventSink) Emit(e Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
}

func (s *recordingEventSink) all() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Event(nil), s.events...)
}

func openTestEngine(t *testing.T) (*SyncEngine, *kvstore.Store, *outbox.Outbox, *cache.Cache, *fakeTransport, *fakeClock, *recordingEventSink) {
	t.Helper()
	store, err := kvstore.Open(context.Background(), t.TempDir(), "alice")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	ob := outbox.New(store)
	c := cache.New(store, ob)
	transport := &fakeTransport{}
	clock := newFakeClock()
	events := &recordingEventSink{}
	engine := New(store, c, ob, transport, events, clock, DefaultOptions())
	return engine, store, ob, c, transport, clock, events
}

func seedArticle(t *testing.T, ctx context.Context, c *cache.Cache, articleID string, docJSON string) {
	t.Helper()
	require.NoError(t, c.CacheArticle(ctx, types.Article{
		ID:        articleID,
		Title:     "Test",
		UpdatedAt: "2024-01-01T00:00:00Z",
		DocJSON:   &docJSON,
	}))
}

const sampleDoc = `{"root":[{"type":"outlineSection","sectionId":"s1","heading":{"content":[{"type":"text","text":"Hello"}]},"body":{"content":[]}}]}`

func TestFlushSendsContentBeforeStructure(t *testing.T) {
	ctx := context.Background()
	engine, _, ob, c, transport, _, _ := openTestEngine(t)
	seedArticle(t, ctx, c, "a1", sampleDoc)

	_, err := ob.EnqueueOp(ctx, types.OpSectionUpsertContent, "a1", marshal(t, types.SectionUpsertContentPayload{
		SectionID: "s1", HeadingJSON: json.RawMessage(`{"content":[]}`), BodyJSON: json.RawMessage(`{"content":[]}`), Seq: 1, OpID: "u1",
	}), "section:s1")
	require.NoError(t, err)
	_, err = ob.EnqueueOp(ctx, types.OpStructureSnapshot, "a1", marshal(t, types.StructureSnapshotPayload{
		Nodes: []types.StructureNode{{SectionID: "s1", ParentID: "", Position: 0}}, OpID: "st1",
	}), "structure:a1")
	require.NoError(t, err)

	require.NoError(t, engine.FlushOutboxOnce(ctx))

	require.Equal(t, []string{"compact", "structure"}, transport.callOrder)
	pending, err := ob.ReadPending(ctx, 0)
	require.NoError(t, err)
	require.Empty(t, pending)
}

func TestDeleteWinsOverPendingUpsertSameSection(t *testing.T) {
	ctx := context.Background()
	engine, _, ob, c, transport, _, _ := openTestEngine(t)
	seedArticle(t, ctx, c, "a1", sampleDoc)

	_, err := ob.EnqueueOp(ctx, types.OpSectionUpsertContent, "a1", marshal(t, types.SectionUpsertContentPayload{
		SectionID: "s1", HeadingJSON: json.RawMessage(`{}`), BodyJSON: json.RawMessage(`{}`), Seq: 1, OpID: "u1",
	}), "section:s1")
	require.NoError(t, err)
	_, err = engine.EnqueueDeleteSections(ctx, "a1", []string{"s1"})
	require.NoError(t, err)

	require.NoError(t, engine.FlushOutboxOnce(ctx))

	require.Len(t, transport.compactReqs, 1)
	require.Empty(t, transport.compactReqs[0].Upserts, "upsert for a deleted section must be dropped")
	require.Len(t, transport.compactReqs[0].Deletes, 1)

	art, found, err := c.GetCachedArticle(ctx, "a1")
	require.NoError(t, err)
	require.True(t, found)
	require.NotContains(t, *art.DocJSON, "s1")
}

func TestConflictAckMaterializesCopySectionAndRequeues(t *testing.T) {
	ctx := context.Background()
	engine, _, ob, c, transport, _, events := openTestEngine(t)
	seedArticle(t, ctx, c, "a1", sampleDoc)

	transport.compactFn = func(req httpapi.CompactRequest) (*httpapi.CompactResponse, error) {
		return &httpapi.CompactResponse{
			UpdatedAt:  "2024-01-02T00:00:00Z",
			UpsertAcks: []httpapi.UpsertAck{{OpID: req.Upserts[0].OpID, SectionID: "s1", Result: httpapi.ResultConflict}},
		}, nil
	}

	_, err := ob.EnqueueOp(ctx, types.OpSectionUpsertContent, "a1", marshal(t, types.SectionUpsertContentPayload{
		SectionID: "s1", HeadingJSON: json.RawMessage(`{"content":[{"type":"text","text":"Local edit"}]}`),
		BodyJSON: json.RawMessage(`{"content":[]}`), Seq: 1, OpID: "u1",
	}), "section:s1")
	require.NoError(t, err)

	require.NoError(t, engine.FlushOutboxOnce(ctx))

	art, found, err := c.GetCachedArticle(ctx, "a1")
	require.NoError(t, err)
	require.True(t, found)
	require.True(t, strings.Contains(*art.DocJSON, "Conflict copy:"))

	var doc types.Doc
	require.NoError(t, json.Unmarshal([]byte(*art.DocJSON), &doc))
	require.Len(t, doc.Root, 2)
	require.Equal(t, "s1", doc.Root[0].SectionID)
	copyID := doc.Root[1].SectionID
	require.NotEqual(t, "s1", copyID)

	pending, err := ob.ReadPending(ctx, 0)
	require.NoError(t, err)
	var sawCopyUpsert, sawStructure bool
	for _, op := range pending {
		if op.Type == types.OpSectionUpsertContent && op.CoalesceKey == "section:"+copyID {
			sawCopyUpsert = true
		}
		if op.Type == types.OpStructureSnapshot {
			sawStructure = true
		}
	}
	require.True(t, sawCopyUpsert, "conflict copy section should have a fresh pending upsert")
	require.True(t, sawStructure, "conflict copy insertion should requeue a structure snapshot")

	found2 := false
	for _, e := range events.all() {
		if e.Kind == EventOutlineSyncConflict && e.ConflictCopySectionID == copyID {
			found2 = true
		}
	}
	require.True(t, found2, "expected an outline-sync-conflict event")
}

func TestPerArticleFlushThrottleSkipsImmediateRetry(t *testing.T) {
	ctx := context.Background()
	engine, _, ob, c, transport, clock, _ := openTestEngine(t)
	seedArticle(t, ctx, c, "a1", sampleDoc)

	_, err := ob.EnqueueOp(ctx, types.OpSectionUpsertContent, "a1", marshal(t, types.SectionUpsertContentPayload{
		SectionID: "s1", HeadingJSON: json.RawMessage(`{}`), BodyJSON: json.RawMessage(`{}`), Seq: 1, OpID: "u1",
	}), "section:s1")
	require.NoError(t, err)
	require.NoError(t, engine.FlushOutboxOnce(ctx))
	require.Len(t, transport.compactReqs, 1)

	_, err = ob.EnqueueOp(ctx, types.OpSectionUpsertContent, "a1", marshal(t, types.SectionUpsertContentPayload{
		SectionID: "s1", HeadingJSON: json.RawMessage(`{}`), BodyJSON: json.RawMessage(`{}`), Seq: 2, OpID: "u2",
	}), "section:s1")
	require.NoError(t, err)
	require.NoError(t, engine.FlushOutboxOnce(ctx))
	require.Len(t, transport.compactReqs, 1, "second flush within the throttle window must not re-send")

	clock.Advance(3 * time.Second)
	require.NoError(t, engine.FlushOutboxOnce(ctx))
	require.Len(t, transport.compactReqs, 2)
}

func TestStructureStaleAckLeavesOpQueued(t *testing.T) {
	ctx := context.Background()
	engine, _, ob, c, transport, _, _ := openTestEngine(t)
	seedArticle(t, ctx, c, "a1", sampleDoc)

	transport.structureFn = func(req httpapi.StructureSnapshotRequest) (*httpapi.StructureSnapshotResponse, error) {
		return &httpapi.StructureSnapshotResponse{Status: httpapi.StructureStale}, nil
	}

	_, err := ob.EnqueueOp(ctx, types.OpStructureSnapshot, "a1", marshal(t, types.StructureSnapshotPayload{
		Nodes: []types.StructureNode{{SectionID: "s1", ParentID: "", Position: 0}}, OpID: "st1",
	}), "structure:a1")
	require.NoError(t, err)

	require.NoError(t, engine.FlushOutboxOnce(ctx))

	pending, err := ob.ReadPending(ctx, 0)
	require.NoError(t, err)
	require.Len(t, pending, 1, "a stale ack must leave the structure_snapshot op queued for later")
}

func marshal(t *testing.T, v interface{}) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}
