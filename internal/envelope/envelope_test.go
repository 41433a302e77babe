package envelope

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type payload struct {
	WorkerID int64 `json:"worker_id"`
}

func TestNew_RoundTrip(t *testing.T) {
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.FixedZone("x", 3600))

	env, err := New("worker.online.v1", payload{WorkerID: 7}, at)
	require.NoError(t, err)
	require.NotEmpty(t, env.Meta.ID)
	require.Equal(t, time.UTC, env.Meta.Time.Location())

	b, err := env.Marshal()
	require.NoError(t, err)

	got, err := Decode(b)
	require.NoError(t, err)
	require.Equal(t, env.Meta.ID, got.Meta.ID)
	require.Equal(t, env.Meta.ID, got.Meta.CorrelationID)
	require.Equal(t, "worker.online.v1", got.Meta.Type)
	require.True(t, at.Equal(got.Meta.Time))

	var p payload
	require.NoError(t, got.DecodeData(&p))
	require.Equal(t, int64(7), p.WorkerID)
}

func TestNew_UniqueIDs(t *testing.T) {
	a, err := New("t", 1, time.Now())
	require.NoError(t, err)
	b, err := New("t", 1, time.Now())
	require.NoError(t, err)
	require.NotEqual(t, a.Meta.ID, b.Meta.ID)
}

func TestDecode_Errors(t *testing.T) {
	_, err := Decode([]byte("{"))
	require.Error(t, err)

	_, err = Decode([]byte(`{"meta":{"id":"1"},"data":{}}`))
	require.ErrorIs(t, err, ErrMissingType)

	env, err := Decode([]byte(`{"meta":{"id":"1","type":"t"}}`))
	require.NoError(t, err)
	require.Error(t, env.DecodeData(&payload{}))
}
