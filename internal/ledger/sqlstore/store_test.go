package sqlstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/angelmondragon/invite-ledger/internal/ledger"
	"github.com/angelmondragon/invite-ledger/pkg/enums"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		SkipDefaultTransaction: true,
		TranslateError:         true,
	})
	require.NoError(t, err)
	sqlDB, err := conn.DB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	store, err := NewStore(conn)
	require.NoError(t, err)
	require.NoError(t, store.EnsureSchema(context.Background()))
	return store
}

func purchase(email, session string) ledger.Row {
	return ledger.Row{
		CreatedAt:     time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Email:         email,
		Name:          "Ada",
		SourceEventID: session,
		State:         enums.FulfillmentStateUnfulfilled,
	}
}

func TestAppendAndFindByKey(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	stored, err := store.Append(ctx, purchase("a@x.com", "cs_1"))
	require.NoError(t, err)
	assert.NotZero(t, stored.ID)

	found, err := store.FindByKey(ctx, ledger.NewKey("a@x.com", "cs_1"))
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, stored.ID, found.ID)
	assert.Equal(t, "Ada", found.Name)
	assert.Equal(t, enums.FulfillmentStateUnfulfilled, found.State)

	missing, err := store.FindByKey(ctx, ledger.NewKey("a@x.com", "cs_2"))
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestAppendDuplicateKey(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.Append(ctx, purchase("a@x.com", "cs_1"))
	require.NoError(t, err)

	_, err = store.Append(ctx, purchase("a@x.com", "cs_1"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ledger.ErrDuplicate))
}

func TestUpdateFieldsIsOneWay(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	stored, err := store.Append(ctx, purchase("a@x.com", "cs_1"))
	require.NoError(t, err)

	require.NoError(t, store.UpdateFields(ctx, stored.ID, ledger.NewFulfillmentUpdate("tok1", "sent")))

	found, err := store.FindByKey(ctx, stored.Key())
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, enums.FulfillmentStateFulfilled, found.State)
	assert.Equal(t, "tok1", found.InvitationToken)
	assert.Equal(t, "sent", found.FulfillmentNote)
	assert.NoError(t, found.Validate())

	err = store.UpdateFields(ctx, stored.ID, ledger.NewFulfillmentUpdate("tok2", "again"))
	assert.True(t, errors.Is(err, ledger.ErrAlreadyFulfilled))

	found, err = store.FindByKey(ctx, stored.Key())
	require.NoError(t, err)
	assert.Equal(t, "tok1", found.InvitationToken)

	err = store.UpdateFields(ctx, stored.ID, ledger.FulfillmentUpdate{State: enums.FulfillmentStateUnfulfilled})
	assert.True(t, errors.Is(err, ledger.ErrIllegalTransition))
}

func TestUpdateFieldsUnknownRow(t *testing.T) {
	store := newTestStore(t)
	err := store.UpdateFields(context.Background(), 999, ledger.NewFulfillmentUpdate("tok", ""))
	assert.True(t, errors.Is(err, ledger.ErrRowNotFound))
}

func TestListUnfulfilledOrderAndLimit(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	var ids []int64
	for i := 0; i < 5; i++ {
		row, err := store.Append(ctx, purchase(fmt.Sprintf("u%d@x.com", i), fmt.Sprintf("cs_%d", i)))
		require.NoError(t, err)
		ids = append(ids, row.ID)
	}
	require.NoError(t, store.UpdateFields(ctx, ids[1], ledger.NewFulfillmentUpdate("tok", "")))

	rows, err := store.ListUnfulfilled(ctx, 3)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, []int64{ids[0], ids[2], ids[3]}, []int64{rows[0].ID, rows[1].ID, rows[2].ID})

	rows, err = store.ListUnfulfilled(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, rows)
}
