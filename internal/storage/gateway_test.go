package storage

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codebuildervaibhav/transcribrr/internal/types"
)

func TestGatewayDo(t *testing.T) {
	g := NewGateway(openTestStore(t))
	ctx := context.Background()

	res, err := g.Do(ctx, Op{Kind: OpCreate, Entity: EntityRecording, Payload: types.Recording{Name: "a", FilePath: "/a"}})
	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.NotEmpty(t, res.OpID)
	rec := res.Data.(*types.Recording)

	text := "processed"
	res, err = g.Do(ctx, Op{Kind: OpUpdate, Entity: EntityRecording, Payload: UpdatePayload{ID: rec.ID, Fields: RecordingUpdate{ProcessedText: &text}}})
	require.NoError(t, err)
	assert.Equal(t, "processed", res.Data.(*types.Recording).ProcessedText)

	res, err = g.Do(ctx, Op{Kind: OpQuery, Entity: EntityRecording, Payload: Query{Path: "/a"}})
	require.NoError(t, err)
	assert.Equal(t, rec.ID, res.Data.(*types.Recording).ID)

	_, err = g.Do(ctx, Op{Kind: OpCreate, Entity: EntityRecording, Payload: types.Recording{Name: "b", FilePath: "/a"}})
	assert.ErrorIs(t, err, ErrDuplicatePath)

	_, err = g.Do(ctx, Op{Kind: OpDelete, Entity: EntityRecording, Payload: "not-an-id"})
	assert.ErrorIs(t, err, types.ErrValidation)

	require.NoError(t, g.Close(ctx))
}

func TestGatewayDeliversOncePerOp(t *testing.T) {
	g := NewGateway(openTestStore(t))

	var mu sync.Mutex
	var order []string
	calls := map[string]int{}
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(1)
		rec := types.Recording{Name: "r", FilePath: "/" + string(rune('a'+i))}
		_, err := g.Submit(Op{Kind: OpCreate, Entity: EntityRecording, Payload: rec}, func(r Result) {
			defer wg.Done()
			mu.Lock()
			defer mu.Unlock()
			order = append(order, r.OpID)
			calls[r.OpID]++
		})
		require.NoError(t, err)
	}
	wg.Wait()
	require.NoError(t, g.Close(context.Background()))

	assert.Len(t, order, 20)
	for id, n := range calls {
		assert.Equal(t, 1, n, "callback for %s", id)
	}
}

func TestGatewayRejectsDuplicateInFlightID(t *testing.T) {
	g := NewGateway(openTestStore(t))
	release := make(chan struct{})

	_, err := g.Submit(Op{ID: "same", Kind: OpQuery, Entity: EntityRecording}, func(Result) { <-release })
	require.NoError(t, err)
	// the first callback blocks delivery, so "same" stays in flight
	_, err = g.Submit(Op{ID: "same", Kind: OpQuery, Entity: EntityRecording}, nil)
	assert.ErrorIs(t, err, types.ErrValidation)

	close(release)
	require.NoError(t, g.Close(context.Background()))
}

func TestGatewayCloseDrains(t *testing.T) {
	store := openTestStore(t)
	g := NewGateway(store)

	delivered := make(chan struct{}, 5)
	for i := 0; i < 5; i++ {
		_, err := g.Submit(Op{Kind: OpCreate, Entity: EntityRecording, Payload: types.Recording{Name: "n", FilePath: "/" + string(rune('a'+i))}},
			func(Result) { delivered <- struct{}{} })
		require.NoError(t, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, g.Close(ctx))
	assert.Len(t, delivered, 5)

	_, err := g.Submit(Op{Kind: OpQuery, Entity: EntityRecording}, nil)
	assert.ErrorIs(t, err, types.ErrPersistence)
}

func TestGatewayCallbackPanicDoesNotStopDelivery(t *testing.T) {
	g := NewGateway(openTestStore(t))
	_, err := g.Submit(Op{Kind: OpQuery, Entity: EntityRecording}, func(Result) { panic("boom") })
	require.NoError(t, err)

	res, err := g.Do(context.Background(), Op{Kind: OpQuery, Entity: EntityRecording})
	require.NoError(t, err)
	assert.True(t, res.OK)
	require.NoError(t, g.Close(context.Background()))
}
