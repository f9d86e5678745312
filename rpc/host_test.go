package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	payload := []byte(`{"action":"status"}`)

	require.NoError(t, WriteFrame(&buf, payload))
	got, err := ReadFrame(&buf)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestReadFrameRejectsOversize(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0xFF, 0xFF, 0xFF, 0xFF})

	_, err := ReadFrame(&buf)
	assert.Error(t, err)
}

func TestReadFrameRejectsEmpty(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0, 0, 0, 0})

	_, err := ReadFrame(&buf)
	assert.Error(t, err)
}

func TestHostServesRequests(t *testing.T) {
	var in, out bytes.Buffer

	encode := func(req Request) {
		payload, err := json.Marshal(req)
		require.NoError(t, err)
		require.NoError(t, WriteFrame(&in, payload))
	}
	encode(Request{Action: "status"})
	encode(Request{Action: "nonsense"})

	service := &fakeService{unlocked: true, path: "/tmp/vault"}
	host := NewHost(testDispatcher(service), &in, &out, zerolog.Nop())
	require.NoError(t, host.Run(context.Background()))

	first, err := ReadFrame(&out)
	require.NoError(t, err)
	var status map[string]interface{}
	require.NoError(t, json.Unmarshal(first, &status))
	assert.Equal(t, true, status["ok"])
	assert.Equal(t, true, status["unlocked"])
	assert.Equal(t, "/tmp/vault", status["path"])

	second, err := ReadFrame(&out)
	require.NoError(t, err)
	var failure map[string]interface{}
	require.NoError(t, json.Unmarshal(second, &failure))
	assert.Equal(t, false, failure["ok"])
	assert.Equal(t, ErrUnknownAction.Error(), failure["error"])
}

func TestHostRejectsMalformedJSON(t *testing.T) {
	var in, out bytes.Buffer
	require.NoError(t, WriteFrame(&in, []byte("{not json")))

	host := NewHost(testDispatcher(&fakeService{}), &in, &out, zerolog.Nop())
	require.NoError(t, host.Run(context.Background()))

	frame, err := ReadFrame(&out)
	require.NoError(t, err)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(frame, &resp))
	assert.Equal(t, false, resp["ok"])
	assert.Equal(t, "malformed request", resp["error"])
}

func TestHostHonorsCancelBetweenFrames(t *testing.T) {
	var in, out bytes.Buffer
	payload, err := json.Marshal(Request{Action: "status"})
	require.NoError(t, err)
	require.NoError(t, WriteFrame(&in, payload))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	host := NewHost(testDispatcher(&fakeService{}), &in, &out, zerolog.Nop())
	err = host.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)

	// The pending frame was never consumed or answered.
	assert.NotZero(t, in.Len())
	assert.Zero(t, out.Len())
}
