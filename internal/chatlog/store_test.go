package chatlog_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"

	"github.com/medicore/medicore/internal/chatlog"
	"github.com/medicore/medicore/internal/testutil"
)

func TestNewStore_RequiresPool(t *testing.T) {
	t.Parallel()

	_, err := chatlog.NewStore(nil, testutil.DiscardLogger())
	require.Error(t, err)
}

func TestAppend_RejectsBadInput(t *testing.T) {
	t.Parallel()

	store, err := chatlog.NewStore(&pgxpool.Pool{}, testutil.DiscardLogger())
	require.NoError(t, err)

	id := uuid.New()
	require.Error(t, store.Append(context.Background(), id, "system", "content"),
		"only user and assistant turns are stored")
	require.Error(t, store.Append(context.Background(), id, chatlog.RoleUser, ""))
}
