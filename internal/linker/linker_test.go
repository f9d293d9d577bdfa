package linker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/wigen/internal/apperr"
	"github.com/starford/wigen/internal/models"
	"github.com/starford/wigen/internal/testutil"
)

const (
	parentType = "Request"
	childType  = "Product Backlog Item"
)

func item(id int, typ, tag string) models.Item {
	return models.Item{ID: id, Type: typ, TaskTag: tag, HasTaskTag: tag != "", Title: "item"}
}

func newLinker(t *testing.T, tr Tracker, cp Checkpointer, bound Bound) *Linker {
	t.Helper()
	l, err := New(tr, cp, Options{ParentType: parentType, ChildType: childType, Bound: bound})
	require.NoError(t, err)
	return l
}

type recorder struct{ ids []int }

func (r *recorder) Checkpoint(_ context.Context, id int) error {
	r.ids = append(r.ids, id)
	return nil
}

func TestLink_SkipsMissingAndForeignItems(t *testing.T) {
	tr := testutil.NewTracker(100)
	tr.Put(item(100, parentType, "1111"))
	// 101 missing.
	tr.Put(item(102, childType, "2222"))
	tr.Put(item(103, "Bug", "9001"))
	tr.Put(item(104, parentType, "9001"))
	tr.Put(item(105, "Task", ""))
	tr.Put(item(106, childType, "9001"))

	rec := &recorder{}
	res, err := newLinker(t, tr, rec, Bound{MaxIDDelta: 50}).Link(context.Background(), 100, "9001")
	require.NoError(t, err)

	assert.Equal(t, models.LinkResult{ParentID: 104, ChildID: 106}, res)
	assert.Equal(t, []int{104, 106}, rec.ids)
	require.Len(t, tr.Links, 1)
	assert.Equal(t, testutil.LinkCall{ChildID: 106, ParentID: 104, Comment: DefaultLinkComment}, tr.Links[0])
}

func TestLink_FirstMatchWins(t *testing.T) {
	tr := testutil.NewTracker(10)
	tr.Put(item(10, parentType, "7"))
	tr.Put(item(11, childType, "3"))
	tr.Put(item(15, parentType, "7"))
	tr.Put(item(16, childType, "7"))

	rec := &recorder{}
	res, err := newLinker(t, tr, rec, Bound{MaxIDDelta: 20}).Link(context.Background(), 10, "7")
	require.NoError(t, err)
	assert.Equal(t, 10, res.ParentID)
	assert.Equal(t, 16, res.ChildID)
	// The duplicate parent at 15 is not a new match.
	assert.Equal(t, []int{10, 16}, rec.ids)
}

func TestLink_ChildBeforeParent(t *testing.T) {
	tr := testutil.NewTracker(1)
	tr.Put(item(1, childType, "5"))
	tr.Put(item(2, childType, "5"))
	tr.Put(item(3, parentType, "5"))

	res, err := newLinker(t, tr, nil, Bound{MaxIDDelta: 10}).Link(context.Background(), 1, "5")
	require.NoError(t, err)
	assert.Equal(t, models.LinkResult{ParentID: 3, ChildID: 1}, res)
}

func TestLink_NeverMatchesOtherTags(t *testing.T) {
	tr := testutil.NewTracker(1)
	for id := 1; id <= 30; id++ {
		typ := parentType
		if id%2 == 0 {
			typ = childType
		}
		tr.Put(item(id, typ, "other"))
	}
	rec := &recorder{}
	_, err := newLinker(t, tr, rec, Bound{MaxIDDelta: 30}).Link(context.Background(), 1, "mine")

	var exhausted *ScanExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.ErrorIs(t, err, apperr.ErrScanExhausted)
	assert.Equal(t, 1, exhausted.Start)
	assert.Equal(t, 30, exhausted.Last)
	assert.False(t, exhausted.FoundParent)
	assert.False(t, exhausted.FoundChild)
	// The cursor moves past items that already existed.
	assert.Equal(t, []int{30}, rec.ids)
	assert.Empty(t, tr.Links)
	assert.Len(t, tr.Gets, 30)
}

func TestLink_ExhaustionCheckpointsHighestExistingID(t *testing.T) {
	tr := testutil.NewTracker(1)
	tr.Put(item(3, "Bug", ""))
	tr.Put(item(6, parentType, "other"))
	// 7..10 are not allocated yet and may belong to later messages.

	rec := &recorder{}
	_, err := newLinker(t, tr, rec, Bound{MaxIDDelta: 10}).Link(context.Background(), 1, "mine")
	require.ErrorIs(t, err, apperr.ErrScanExhausted)
	assert.Equal(t, []int{6}, rec.ids)
}

func TestLink_ExhaustionWithNothingExistingKeepsCursor(t *testing.T) {
	rec := &recorder{}
	_, err := newLinker(t, testutil.NewTracker(1), rec, Bound{MaxIDDelta: 5}).Link(context.Background(), 1, "mine")
	require.ErrorIs(t, err, apperr.ErrScanExhausted)
	assert.Empty(t, rec.ids)
}

func TestLink_ExhaustionCheckpointError(t *testing.T) {
	tr := testutil.NewTracker(1)
	tr.Put(item(2, "Bug", ""))
	boom := errors.New("store down")

	_, err := newLinker(t, tr, CheckpointFunc(func(context.Context, int) error { return boom }), Bound{MaxIDDelta: 3}).
		Link(context.Background(), 1, "mine")
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, apperr.ErrScanExhausted)
}

func TestStartFor(t *testing.T) {
	l := newLinker(t, testutil.NewTracker(1), nil, Bound{MaxIDDelta: 20})
	assert.Equal(t, 101, l.StartFor(101, 110, 111), "within reach")
	assert.Equal(t, 500, l.StartFor(101, 500, 501), "seeded past the gap")
	assert.Equal(t, 101, l.StartFor(101, 90, 91), "created below the cursor")

	budgetOnly := newLinker(t, testutil.NewTracker(1), nil, Bound{Budget: time.Second})
	assert.Equal(t, 101, budgetOnly.StartFor(101, 5000, 5001))
}

func TestLink_ExhaustedAfterPartialMatch(t *testing.T) {
	tr := testutil.NewTracker(50)
	tr.Put(item(50, parentType, "8"))

	rec := &recorder{}
	_, err := newLinker(t, tr, rec, Bound{MaxIDDelta: 5}).Link(context.Background(), 50, "8")

	var exhausted *ScanExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.True(t, exhausted.FoundParent)
	assert.False(t, exhausted.FoundChild)
	assert.Equal(t, 54, exhausted.Last)
	// Progress made before exhaustion stays durable.
	assert.Equal(t, []int{50}, rec.ids)
}

func TestLink_Budget(t *testing.T) {
	tr := testutil.NewTracker(1)
	l := newLinker(t, tr, nil, Bound{Budget: 20 * time.Millisecond})

	start := time.Now()
	_, err := l.Link(context.Background(), 1, "never")
	assert.ErrorIs(t, err, apperr.ErrScanExhausted)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestLink_ParentCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newLinker(t, testutil.NewTracker(1), nil, Bound{MaxIDDelta: 10}).Link(ctx, 1, "x")
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, apperr.ErrScanExhausted)
}

func TestLink_TrackerErrorAborts(t *testing.T) {
	tr := testutil.NewTracker(1)
	tr.GetErr[2] = testutil.ErrTransport
	tr.Put(item(3, parentType, "x"))

	_, err := newLinker(t, tr, nil, Bound{MaxIDDelta: 10}).Link(context.Background(), 1, "x")
	assert.ErrorIs(t, err, testutil.ErrTransport)
	assert.Equal(t, []int{1, 2}, tr.Gets)
}

func TestLink_CheckpointErrorAborts(t *testing.T) {
	tr := testutil.NewTracker(1)
	tr.Put(item(1, parentType, "x"))
	tr.Put(item(2, childType, "x"))
	boom := errors.New("store down")

	_, err := newLinker(t, tr, CheckpointFunc(func(context.Context, int) error { return boom }), Bound{MaxIDDelta: 10}).
		Link(context.Background(), 1, "x")
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, tr.Links)
}

func TestLink_ExistingRelationIsNotDuplicated(t *testing.T) {
	tr := testutil.NewTracker(1)
	tr.Put(item(1, parentType, "x"))
	child := item(2, childType, "x")
	child.Relations = []models.Relation{{Rel: models.ParentRelation, TargetID: 1}}
	tr.Put(child)

	res, err := newLinker(t, tr, nil, Bound{MaxIDDelta: 10}).Link(context.Background(), 1, "x")
	require.NoError(t, err)
	assert.True(t, res.Existing)
	assert.Empty(t, tr.Links)
}

func TestLink_LinkFailure(t *testing.T) {
	tr := testutil.NewTracker(1)
	tr.Put(item(1, parentType, "x"))
	tr.Put(item(2, childType, "x"))
	tr.LinkErr = testutil.ErrTransport

	_, err := newLinker(t, tr, nil, Bound{MaxIDDelta: 10}).Link(context.Background(), 1, "x")
	assert.ErrorIs(t, err, testutil.ErrTransport)
}

func TestNew_Validation(t *testing.T) {
	tr := testutil.NewTracker(1)
	_, err := New(tr, nil, Options{ParentType: parentType, ChildType: childType})
	assert.Error(t, err, "unbounded scans are rejected")

	_, err = New(tr, nil, Options{Bound: Bound{MaxIDDelta: 1}})
	assert.Error(t, err)

	_, err = newLinker(t, tr, nil, Bound{MaxIDDelta: 1}).Link(context.Background(), 1, "")
	assert.Error(t, err)
}

func TestKind(t *testing.T) {
	l := newLinker(t, testutil.NewTracker(1), nil, Bound{MaxIDDelta: 1})
	assert.Equal(t, models.KindParent, l.Kind(parentType))
	assert.Equal(t, models.KindChild, l.Kind(childType))
	assert.Equal(t, models.KindOther, l.Kind("Bug"))
}
