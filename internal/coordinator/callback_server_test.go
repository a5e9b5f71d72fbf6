package coordinator

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCallbackServer_SuccessfulCallback(t *testing.T) {
	cb := newCallbackServer(0, "")
	redirectURI, err := cb.start(context.Background())
	require.NoError(t, err)
	defer cb.stop()

	go func() {
		_, _ = http.Get(redirectURI + "?code=abc&state=xyz")
	}()

	result, err := cb.waitForCallback(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "abc", result.Code)
	assert.Equal(t, "xyz", result.State)
	assert.False(t, result.isError())
}

func TestCallbackServer_ErrorCallback(t *testing.T) {
	cb := newCallbackServer(0, "")
	redirectURI, err := cb.start(context.Background())
	require.NoError(t, err)
	defer cb.stop()

	go func() {
		_, _ = http.Get(redirectURI + "?error=access_denied&error_description=nope&state=xyz")
	}()

	result, err := cb.waitForCallback(context.Background())
	require.NoError(t, err)
	assert.True(t, result.isError())
	assert.Equal(t, "access_denied", result.Error)
}

func TestCallbackServer_SecondRequestRejected(t *testing.T) {
	cb := newCallbackServer(0, "")
	redirectURI, err := cb.start(context.Background())
	require.NoError(t, err)
	defer cb.stop()

	resp1, err := http.Get(redirectURI + "?code=abc&state=xyz")
	require.NoError(t, err)
	resp1.Body.Close()
	assert.Equal(t, http.StatusOK, resp1.StatusCode)

	resp2, err := http.Get(redirectURI + "?code=def&state=xyz")
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp2.StatusCode)

	result, err := cb.waitForCallback(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "abc", result.Code, "only the first callback is delivered")
}

func TestCallbackServer_WaitForCallback_ContextCancelled(t *testing.T) {
	cb := newCallbackServer(0, "")
	_, err := cb.start(context.Background())
	require.NoError(t, err)
	defer cb.stop()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err = cb.waitForCallback(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCallbackServer_CustomPath(t *testing.T) {
	cb := newCallbackServer(0, "/oauth/finish")
	redirectURI, err := cb.start(context.Background())
	require.NoError(t, err)
	defer cb.stop()
	assert.Contains(t, redirectURI, "/oauth/finish")
}
