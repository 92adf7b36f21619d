package store_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/221fa04357-prog/connect-pro/internal/domain"
	"github.com/221fa04357-prog/connect-pro/internal/infra/state/memory"
	"github.com/221fa04357-prog/connect-pro/internal/repository"
	"github.com/221fa04357-prog/connect-pro/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthStore_LoginPersistsAndForcesFreePlan(t *testing.T) {
	ctx := context.Background()
	storage := memory.NewDeviceStorage()
	s, err := store.LoadAuthStore(ctx, storage, "device-1")
	require.NoError(t, err)
	assert.False(t, s.State().IsAuthenticated)

	err = s.Login(ctx, domain.User{ID: "u-1", Name: "Ann", Email: "ann@example.com", SubscriptionPlan: domain.PlanEnterprise, PasswordHash: "hash"})
	require.NoError(t, err)

	st := s.State()
	assert.True(t, st.IsAuthenticated)
	assert.Equal(t, domain.PlanFree, st.SubscriptionPlan, "登录总是重置为 free")
	assert.Empty(t, st.User.PasswordHash)

	// 同一设备重新加载得到相同状态
	reloaded, err := store.LoadAuthStore(ctx, storage, "device-1")
	require.NoError(t, err)
	assert.Equal(t, st, reloaded.State())

	// 其他设备不受影响
	other, err := store.LoadAuthStore(ctx, storage, "device-2")
	require.NoError(t, err)
	assert.False(t, other.State().IsAuthenticated)
}

func TestAuthStore_Logout(t *testing.T) {
	ctx := context.Background()
	storage := memory.NewDeviceStorage()
	s, _ := store.LoadAuthStore(ctx, storage, "device-1")
	require.NoError(t, s.Login(ctx, domain.User{ID: "u-1", Name: "Ann"}))

	require.NoError(t, s.Logout(ctx))

	st := s.State()
	assert.False(t, st.IsAuthenticated)
	assert.Nil(t, st.User)
	assert.Empty(t, st.SubscriptionPlan)
	_, err := storage.Get(ctx, "device-1", store.AuthStorageKey)
	assert.ErrorIs(t, err, repository.ErrKeyNotFound, "持久化记录应被删除")
}

func TestAuthStore_SetSubscription(t *testing.T) {
	ctx := context.Background()
	storage := memory.NewDeviceStorage()
	s, _ := store.LoadAuthStore(ctx, storage, "device-1")

	// 未登录时为空操作
	require.NoError(t, s.SetSubscription(ctx, domain.PlanPro))
	assert.Nil(t, s.State().User)

	require.NoError(t, s.Login(ctx, domain.User{ID: "u-1", Name: "Ann"}))
	require.NoError(t, s.SetSubscription(ctx, domain.PlanPro))
	assert.Equal(t, domain.PlanPro, s.State().SubscriptionPlan)

	reloaded, _ := store.LoadAuthStore(ctx, storage, "device-1")
	assert.Equal(t, domain.PlanPro, reloaded.State().SubscriptionPlan)

	assert.ErrorIs(t, s.SetSubscription(ctx, "platinum"), store.ErrInvalidPlan)
}

func TestAuthStore_MalformedRecordMeansLoggedOut(t *testing.T) {
	ctx := context.Background()
	cases := map[string]string{
		"bad json":          `{"user":`,
		"null user":         `{"user":null,"isAuthenticated":true}`,
		"not authenticated": `{"user":{"id":"u-1"},"isAuthenticated":false}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			storage := memory.NewDeviceStorage()
			require.NoError(t, storage.Set(ctx, "d", store.AuthStorageKey, []byte(raw), 0))

			s, err := store.LoadAuthStore(ctx, storage, "d")
			require.NoError(t, err)
			assert.False(t, s.State().IsAuthenticated)
			assert.Nil(t, s.State().User)
		})
	}
}

func TestAuthStore_RecordFormat(t *testing.T) {
	ctx := context.Background()
	storage := memory.NewDeviceStorage()
	s, _ := store.LoadAuthStore(ctx, storage, "d")
	require.NoError(t, s.Login(ctx, domain.User{ID: "u-1", Name: "Ann", Email: "ann@example.com"}))

	raw, err := storage.Get(ctx, "d", store.AuthStorageKey)
	require.NoError(t, err)
	var rec map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(raw, &rec))
	assert.Contains(t, rec, "user")
	assert.JSONEq(t, "true", string(rec["isAuthenticated"]))
}
