package auth_test

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voicedesk/assistant/backend/internal/config"
	"github.com/voicedesk/assistant/backend/internal/model/user"
	"github.com/voicedesk/assistant/backend/internal/service/auth"
	"github.com/voicedesk/assistant/backend/internal/storage"
)

func TestGormUserDirectory(t *testing.T) {
	db, err := storage.Open(config.DatabaseConfig{Driver: storage.DriverSQLite, DSN: "file::memory:"}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = storage.Close(db) })
	require.NoError(t, storage.Migrate(db))

	require.NoError(t, db.Create(&user.User{ID: 3, Name: "Bob", Email: "bob@example.com"}).Error)

	dir := auth.NewGormUserDirectory(db)
	got, err := dir.FindByID(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, "Bob", got.Name)

	_, err = dir.FindByID(context.Background(), 4)
	assert.ErrorIs(t, err, auth.ErrUserNotFound)
}
