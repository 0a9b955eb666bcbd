package binprot

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func responseFrame(opaque uint32) []byte {
	return BuildResponse(OpGet, StatusOK, opaque, "", []byte("v"), nil)
}

func TestInflight_InOrder(t *testing.T) {
	var q Inflight

	r1 := q.Push(1)
	r2 := q.Push(2)
	assert.Equal(t, 2, q.Len())

	require.NoError(t, q.Resolve(responseFrame(1)))
	require.NoError(t, q.Resolve(responseFrame(2)))

	res := <-r1
	require.NoError(t, res.Err)
	assert.Equal(t, uint32(1), res.Response.Opaque)

	res = <-r2
	require.NoError(t, res.Err)
	assert.Equal(t, uint32(2), res.Response.Opaque)

	assert.Equal(t, 0, q.Len())
}

func TestInflight_SequenceFault(t *testing.T) {
	var q Inflight

	r1 := q.Push(1)
	r2 := q.Push(2)
	r3 := q.Push(3)
	r4 := q.Push(4)

	// Responses for 1 and 2 were lost
	require.NoError(t, q.Resolve(responseFrame(3)))

	for i, ch := range []<-chan Result{r1, r2} {
		res := <-ch
		var seqErr *SequenceError
		require.ErrorAs(t, res.Err, &seqErr)
		assert.Equal(t, uint32(i+1), seqErr.Expected)
		assert.Equal(t, uint32(3), seqErr.Got)
		assert.Nil(t, res.Response)
	}

	res := <-r3
	require.NoError(t, res.Err)
	assert.Equal(t, uint32(3), res.Response.Opaque)

	// Subsequent frames are still matched
	require.NoError(t, q.Resolve(responseFrame(4)))
	res = <-r4
	require.NoError(t, res.Err)
	assert.Equal(t, uint32(4), res.Response.Opaque)
}

func TestInflight_Unsolicited(t *testing.T) {
	var q Inflight

	r1 := q.Push(1)
	err := q.Resolve(responseFrame(9))
	assert.ErrorIs(t, err, ErrUnsolicitedResponse)

	// The queue was drained looking for 9
	res := <-r1
	var seqErr *SequenceError
	assert.ErrorAs(t, res.Err, &seqErr)
	assert.Equal(t, 0, q.Len())
}

func TestInflight_FailAll(t *testing.T) {
	var q Inflight

	r1 := q.Push(1)
	r2 := q.Push(2)

	q.FailAll(ErrConnectionClosed)

	assert.ErrorIs(t, (<-r1).Err, ErrConnectionClosed)
	assert.ErrorIs(t, (<-r2).Err, ErrConnectionClosed)

	// Pushing after a failure fails right away
	r3 := q.Push(3)
	assert.ErrorIs(t, (<-r3).Err, ErrConnectionClosed)
	assert.Equal(t, 0, q.Len())
}

func TestInflight_TruncatedFrameFailsOnlyItsRequest(t *testing.T) {
	var q Inflight

	r1 := q.Push(1)
	r2 := q.Push(2)

	bad := responseFrame(1)
	bad[offExtraLen] = 200
	require.NoError(t, q.Resolve(bad))

	var fe *FramingError
	assert.ErrorAs(t, (<-r1).Err, &fe)

	require.NoError(t, q.Resolve(responseFrame(2)))
	assert.NoError(t, (<-r2).Err)
}
