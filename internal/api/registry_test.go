package api

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkazm04/course-sub000/internal/upstream"
)

func TestCreateSessionUsesConfiguredPollInterval(t *testing.T) {
	registry := NewSessionRegistry(SessionRegistryConfig{
		PollInterval: 7 * time.Second,
		Upstream:     upstream.NewClient(upstream.Config{ContentBaseURL: "http://127.0.0.1:1"}),
	})
	t.Cleanup(func() { registry.Shutdown(t.Context()) })

	sess, err := registry.Create("biology", 800, 600)
	require.NoError(t, err)
	require.NotNil(t, sess.Poller)
	assert.Equal(t, 7*time.Second, sess.Poller.Interval())
}

func TestCreateSessionWithoutUpstreamHasNoPoller(t *testing.T) {
	registry := NewSessionRegistry(SessionRegistryConfig{})
	t.Cleanup(func() { registry.Shutdown(t.Context()) })

	sess, err := registry.Create("biology", 800, 600)
	require.NoError(t, err)
	assert.Nil(t, sess.Poller)
}

func TestSessionLimit(t *testing.T) {
	registry := NewSessionRegistry(SessionRegistryConfig{MaxSessions: 2})
	t.Cleanup(func() { registry.Shutdown(t.Context()) })

	for i := 0; i < 2; i++ {
		_, err := registry.Create("biology", 800, 600)
		require.NoError(t, err)
	}
	_, err := registry.Create("biology", 800, 600)
	assert.Error(t, err)
	assert.Equal(t, 2, registry.Len())
}
