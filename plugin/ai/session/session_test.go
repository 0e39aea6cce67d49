package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	errs "github.com/tinychat/tinychat/internal/errors"
)

func TestHandshake(t *testing.T) {
	manager := NewManager(time.Minute)
	defer manager.Close()

	session := manager.Start(1, "chat", "msg", "fork")
	require.NotEmpty(t, session.ID)
	require.Equal(t, StatusPending, session.Status)

	t.Run("finalize before accept is rejected", func(t *testing.T) {
		_, err := manager.Finalize(session.ID)
		require.True(t, errs.IsCode(err, errs.ErrCodeInvalidState))
	})

	t.Run("accept then finalize consumes the session", func(t *testing.T) {
		accepted, err := manager.Accept(session.ID)
		require.NoError(t, err)
		require.Equal(t, StatusAccepted, accepted.Status)

		finalized, err := manager.Finalize(session.ID)
		require.NoError(t, err)
		require.Equal(t, "chat", finalized.ChatID)
		require.Equal(t, "msg", finalized.UntilMessageID)

		_, err = manager.Get(session.ID)
		require.True(t, errs.IsCode(err, errs.ErrCodeNotFound))
	})

	t.Run("double accept is rejected", func(t *testing.T) {
		s := manager.Start(1, "chat", "msg", "")
		_, err := manager.Accept(s.ID)
		require.NoError(t, err)
		_, err = manager.Accept(s.ID)
		require.True(t, errs.IsCode(err, errs.ErrCodeInvalidState))
	})
}

func TestExpiry(t *testing.T) {
	manager := NewManager(10 * time.Millisecond)
	defer manager.Close()

	session := manager.Start(1, "chat", "msg", "")
	time.Sleep(30 * time.Millisecond)

	_, err := manager.Get(session.ID)
	require.True(t, errs.IsCode(err, errs.ErrCodeNotFound))
}
