package outbox

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noteweave/outlinesync/internal/kvstore"
	"github.com/noteweave/outlinesync/internal/types"
)

func openTestOutbox(t *testing.T) *Outbox {
	t.Helper()
	s, err := kvstore.Open(context.Background(), t.TempDir(), "alice")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return New(s)
}

func TestEnqueueOpCoalescesByTypeArticleCoalesceKey(t *testing.T) {
	ctx := context.Background()
	o := openTestOutbox(t)

	id1, err := o.EnqueueOp(ctx, types.OpSectionUpsertContent, "a1", []byte(`{"v":1}`), "section:s1")
	require.NoError(t, err)
	id2, err := o.EnqueueOp(ctx, types.OpSectionUpsertContent, "a1", []byte(`{"v":2}`), "section:s1")
	require.NoError(t, err)
	require.NotEqual(t, id1, id2)

	ops, err := o.ReadPending(ctx, 0)
	require.NoError(t, err)
	require.Len(t, ops, 1)
	require.Equal(t, id2, ops[0].ID)
}

func TestEnqueueOpWithoutCoalesceKeyDoesNotCollapse(t *testing.T) {
	ctx := context.Background()
	o := openTestOutbox(t)

	_, err := o.EnqueueOp(ctx, types.OpCreateArticle, "a1", nil, "")
	require.NoError(t, err)
	_, err = o.EnqueueOp(ctx, types.OpCreateArticle, "a1", nil, "")
	require.NoError(t, err)

	ops, err := o.ReadPending(ctx, 0)
	require.NoError(t, err)
	require.Len(t, ops, 2)
}

func TestHasOutlineOpsOnlyCountsOutlineTypes(t *testing.T) {
	ctx := context.Background()
	o := openTestOutbox(t)

	has, err := o.HasOutlineOps(ctx, "a1")
	require.NoError(t, err)
	require.False(t, has)

	_, err = o.EnqueueOp(ctx, types.OpMoveArticleUp, "a1", nil, "")
	require.NoError(t, err)
	has, err = o.HasOutlineOps(ctx, "a1")
	require.NoError(t, err)
	require.False(t, has, "structural ops do not count as outline ops")

	_, err = o.EnqueueOp(ctx, types.OpSectionUpsertContent, "a1", nil, "section:s1")
	require.NoError(t, err)
	has, err = o.HasOutlineOps(ctx, "a1")
	require.NoError(t, err)
	require.True(t, has)
}

func TestMarkErrorAndRemove(t *testing.T) {
	ctx := context.Background()
	o := openTestOutbox(t)

	id, err := o.EnqueueOp(ctx, types.OpStructureSnapshot, "a1", nil, "structure:a1")
	require.NoError(t, err)

	require.NoError(t, o.MarkError(ctx, id, "network timeout"))
	ops, err := o.ReadPending(ctx, 0)
	require.NoError(t, err)
	require.Len(t, ops, 1)
	require.Equal(t, 1, ops[0].Attempts)
	require.Equal(t, "network timeout", ops[0].LastError)
	require.NotNil(t, ops[0].LastAttemptAt)

	require.NoError(t, o.Remove(ctx, id))
	ops, err = o.ReadPending(ctx, 0)
	require.NoError(t, err)
	require.Empty(t, ops)
}

func TestReadPendingOrdersByCreatedAtAscAndRespectsLimit(t *testing.T) {
	ctx := context.Background()
	o := openTestOutbox(t)

	for i := 0; i < 5; i++ {
		_, err := o.EnqueueOp(ctx, types.OpCreateArticle, "a1", nil, "")
		require.NoError(t, err)
	}
	ops, err := o.ReadPending(ctx, 2)
	require.NoError(t, err)
	require.Len(t, ops, 2)
	require.LessOrEqual(t, ops[0].CreatedAtMs, ops[1].CreatedAtMs)
}

func TestOutlineOpsForArticleFiltersToOutlineTypes(t *testing.T) {
	ctx := context.Background()
	o := openTestOutbox(t)

	_, err := o.EnqueueOp(ctx, types.OpMoveArticleUp, "a1", nil, "")
	require.NoError(t, err)
	_, err = o.EnqueueOp(ctx, types.OpSectionUpsertContent, "a1", nil, "section:s1")
	require.NoError(t, err)
	_, err = o.EnqueueOp(ctx, types.OpDeleteSections, "a1", nil, "")
	require.NoError(t, err)

	ops, err := o.OutlineOpsForArticle(ctx, "a1")
	require.NoError(t, err)
	require.Len(t, ops, 2)
	for _, op := range ops {
		require.True(t, op.Type.IsOutline())
	}
}
