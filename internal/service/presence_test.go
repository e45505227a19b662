package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPresenceMarkOfflineReportsLastConnection(t *testing.T) {
	presence := NewPresenceCoordinator(3 * time.Second)

	presence.MarkOnline("chat-1", "user-a", "conn-1")
	presence.MarkOnline("chat-1", "user-a", "conn-2")
	require.True(t, presence.IsOnline("chat-1", "user-a"))

	require.False(t, presence.MarkOffline("chat-1", "user-a", "conn-1"))
	require.True(t, presence.IsOnline("chat-1", "user-a"))

	require.True(t, presence.MarkOffline("chat-1", "user-a", "conn-2"))
	require.False(t, presence.IsOnline("chat-1", "user-a"))
}

func TestPresenceScopesOnlineStateByChat(t *testing.T) {
	presence := NewPresenceCoordinator(3 * time.Second)

	presence.MarkOnline("chat-1", "user-a", "conn-1")
	presence.MarkOnline("chat-2", "user-b", "conn-2")

	require.ElementsMatch(t, []string{"user-a"}, presence.OnlineUsers("chat-1"))
	require.ElementsMatch(t, []string{"user-b"}, presence.OnlineUsers("chat-2"))
	require.Empty(t, presence.OnlineUsers("chat-3"))
}

func TestPresenceTypingExpiresAfterWindow(t *testing.T) {
	presence := NewPresenceCoordinator(3 * time.Second)
	current := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	presence.now = func() time.Time { return current }

	presence.SetTyping("chat-1", "user-a")
	require.ElementsMatch(t, []string{"user-a"}, presence.GetTypingUsers("chat-1"))

	current = current.Add(2 * time.Second)
	require.ElementsMatch(t, []string{"user-a"}, presence.GetTypingUsers("chat-1"))

	current = current.Add(2 * time.Second)
	require.Empty(t, presence.GetTypingUsers("chat-1"))
}

func TestPresenceTypingRestartResetsWindow(t *testing.T) {
	presence := NewPresenceCoordinator(3 * time.Second)
	current := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	presence.now = func() time.Time { return current }

	presence.SetTyping("chat-1", "user-a")
	current = current.Add(2 * time.Second)
	presence.SetTyping("chat-1", "user-a")

	// 4s after the first start but only 2s after the restart.
	current = current.Add(2 * time.Second)
	require.ElementsMatch(t, []string{"user-a"}, presence.GetTypingUsers("chat-1"))
}

func TestPresenceClearTypingOnSendAndDisconnect(t *testing.T) {
	presence := NewPresenceCoordinator(3 * time.Second)

	presence.MarkOnline("chat-1", "user-a", "conn-1")
	presence.SetTyping("chat-1", "user-a")

	presence.ClearTyping("chat-1", "user-a")
	require.Empty(t, presence.GetTypingUsers("chat-1"))

	presence.SetTyping("chat-1", "user-a")
	require.True(t, presence.MarkOffline("chat-1", "user-a", "conn-1"))
	require.Empty(t, presence.GetTypingUsers("chat-1"))
}
