package service

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"storefront-payments/internal/apperr"
	"storefront-payments/internal/model"
	"storefront-payments/internal/repository"
)

func TestDiscountResolve(t *testing.T) {
	engine := NewDiscountEngine(nil, nil)
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	yesterday := now.Add(-24 * time.Hour)
	tomorrow := now.Add(24 * time.Hour)

	tests := []struct {
		name     string
		user     *model.User
		subtotal int64
		want     int64
	}{
		{
			name:     "fixed balance larger than subtotal is capped",
			user:     &model.User{DiscountType: model.DiscountFixed, DiscountAmount: decimal.NewFromInt(10), DiscountBalance: 1000},
			subtotal: 800,
			want:     800,
		},
		{
			name:     "fixed balance smaller than subtotal",
			user:     &model.User{DiscountType: model.DiscountFixed, DiscountAmount: decimal.NewFromInt(10), DiscountBalance: 300},
			subtotal: 800,
			want:     300,
		},
		{
			name:     "percentage",
			user:     &model.User{DiscountType: model.DiscountPercentage, DiscountAmount: percent(20), DiscountUsageType: model.UsageOneTime},
			subtotal: 10000,
			want:     2000,
		},
		{
			name:     "percentage rounds half up",
			user:     &model.User{DiscountType: model.DiscountPercentage, DiscountAmount: percent(15)},
			subtotal: 1010,
			want:     152,
		},
		{
			name:     "percentage above 100 is capped at subtotal",
			user:     &model.User{DiscountType: model.DiscountPercentage, DiscountAmount: percent(150)},
			subtotal: 400,
			want:     400,
		},
		{
			name:     "expired",
			user:     &model.User{DiscountType: model.DiscountFixed, DiscountAmount: decimal.NewFromInt(10), DiscountBalance: 1000, DiscountExpiryDate: &yesterday},
			subtotal: 800,
			want:     0,
		},
		{
			name:     "not yet expired",
			user:     &model.User{DiscountType: model.DiscountFixed, DiscountAmount: decimal.NewFromInt(10), DiscountBalance: 1000, DiscountExpiryDate: &tomorrow},
			subtotal: 800,
			want:     800,
		},
		{
			name:     "expiry equal to now counts as expired",
			user:     &model.User{DiscountType: model.DiscountFixed, DiscountAmount: decimal.NewFromInt(10), DiscountBalance: 1000, DiscountExpiryDate: &now},
			subtotal: 800,
			want:     0,
		},
		{
			name:     "below minimum order",
			user:     &model.User{DiscountType: model.DiscountPercentage, DiscountAmount: percent(20), DiscountMinimumOrder: 5000},
			subtotal: 4999,
			want:     0,
		},
		{
			name:     "at minimum order",
			user:     &model.User{DiscountType: model.DiscountPercentage, DiscountAmount: percent(20), DiscountMinimumOrder: 5000},
			subtotal: 5000,
			want:     1000,
		},
		{
			name:     "zero amount",
			user:     &model.User{DiscountType: model.DiscountFixed, DiscountBalance: 1000},
			subtotal: 800,
			want:     0,
		},
		{
			name:     "no user",
			user:     nil,
			subtotal: 800,
			want:     0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := engine.Resolve(tt.user, tt.subtotal, now)
			assert.Equal(t, tt.want, got.Amount)
			assert.Equal(t, tt.want > 0, got.Applied())
		})
	}
}

func TestDiscountCommitFixedBalance(t *testing.T) {
	f := newFixture(t)
	f.addUser(model.User{ID: "u1", DiscountType: model.DiscountFixed, DiscountAmount: decimal.NewFromInt(10), DiscountBalance: 1000})
	engine := NewDiscountEngine(f.userRepo, nil)

	commit := func(applied int64) *model.DiscountEvent {
		var ev *model.DiscountEvent
		err := f.db.Transaction(func(tx *gorm.DB) error {
			var err error
			ev, err = engine.Commit(f.ctx, tx, "u1", "ord_1", model.AppliedDiscount{
				Amount:    applied,
				Type:      model.DiscountFixed,
				UsageType: model.UsagePermanent,
			})
			return err
		})
		require.NoError(t, err)
		return ev
	}

	ev := commit(800)
	require.NotNil(t, ev)
	assert.Equal(t, int64(800), ev.Applied)
	assert.Equal(t, int64(200), ev.Remaining)
	assert.False(t, ev.Cleared)
	assert.Equal(t, int64(200), f.user("u1").DiscountBalance)

	// the next checkout sees the remaining balance
	applied := engine.Resolve(f.user("u1"), 500, f.now)
	assert.Equal(t, int64(200), applied.Amount)

	ev = commit(applied.Amount)
	require.NotNil(t, ev)
	assert.True(t, ev.Cleared)

	u := f.user("u1")
	assert.Equal(t, int64(0), u.DiscountBalance)
	assert.True(t, u.DiscountAmount.IsZero())
	assert.Equal(t, int64(0), engine.Resolve(u, 500, f.now).Amount)
}

func TestDiscountCommitClampsToBalance(t *testing.T) {
	f := newFixture(t)
	f.addUser(model.User{ID: "u1", DiscountType: model.DiscountFixed, DiscountAmount: decimal.NewFromInt(10), DiscountBalance: 300})
	engine := NewDiscountEngine(f.userRepo, nil)

	var ev *model.DiscountEvent
	err := f.db.Transaction(func(tx *gorm.DB) error {
		var err error
		ev, err = engine.Commit(f.ctx, tx, "u1", "ord_1", model.AppliedDiscount{Amount: 800, Type: model.DiscountFixed, UsageType: model.UsagePermanent})
		return err
	})
	require.NoError(t, err)
	require.NotNil(t, ev)
	assert.Equal(t, int64(300), ev.Applied)
	assert.True(t, ev.Cleared)
	assert.Equal(t, int64(0), f.user("u1").DiscountBalance)
}

func TestDiscountCommitOneTimeClearsProfile(t *testing.T) {
	f := newFixture(t)
	expiry := f.now.Add(30 * 24 * time.Hour)
	f.addUser(model.User{
		ID:                   "u1",
		DiscountType:         model.DiscountPercentage,
		DiscountAmount:       percent(20),
		DiscountUsageType:    model.UsageOneTime,
		DiscountMinimumOrder: 1000,
		DiscountExpiryDate:   &expiry,
	})
	engine := NewDiscountEngine(f.userRepo, nil)

	applied := engine.Resolve(f.user("u1"), 10000, f.now)
	require.Equal(t, int64(2000), applied.Amount)

	err := f.db.Transaction(func(tx *gorm.DB) error {
		ev, err := engine.Commit(f.ctx, tx, "u1", "ord_1", applied)
		require.NotNil(t, ev)
		assert.True(t, ev.Cleared)
		return err
	})
	require.NoError(t, err)

	u := f.user("u1")
	assert.True(t, u.DiscountAmount.IsZero())
	assert.Equal(t, model.DiscountFixed, u.DiscountType)
	assert.Equal(t, model.UsagePermanent, u.DiscountUsageType)
	assert.Equal(t, int64(0), u.DiscountMinimumOrder)
	assert.Nil(t, u.DiscountExpiryDate)

	// a second commit for the same one-time discount changes nothing
	err = f.db.Transaction(func(tx *gorm.DB) error {
		ev, err := engine.Commit(f.ctx, tx, "u1", "ord_2", applied)
		assert.Nil(t, ev)
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, int64(0), engine.Resolve(f.user("u1"), 10000, f.now).Amount)
}

func TestDiscountCommitPermanentPercentageIsUnchanged(t *testing.T) {
	f := newFixture(t)
	f.addUser(model.User{ID: "u1", DiscountType: model.DiscountPercentage, DiscountAmount: percent(10), DiscountUsageType: model.UsagePermanent})
	engine := NewDiscountEngine(f.userRepo, nil)
	before := f.user("u1").Version

	err := f.db.Transaction(func(tx *gorm.DB) error {
		ev, err := engine.Commit(f.ctx, tx, "u1", "ord_1", model.AppliedDiscount{Amount: 100, Type: model.DiscountPercentage, Percentage: percent(10), UsageType: model.UsagePermanent})
		assert.Nil(t, ev)
		return err
	})
	require.NoError(t, err)

	u := f.user("u1")
	assert.Equal(t, before, u.Version)
	assert.True(t, u.DiscountAmount.Equal(percent(10)))
}

// racingUserRepo reports a lost version race for the first lose updates.
type racingUserRepo struct {
	repository.UserRepository
	lose    int
	updates int
}

func (r *racingUserRepo) UpdateDiscountProfile(ctx context.Context, tx *gorm.DB, userID string, version int64, updates map[string]interface{}) (bool, error) {
	r.updates++
	if r.updates <= r.lose {
		return false, nil
	}
	return r.UserRepository.UpdateDiscountProfile(ctx, tx, userID, version, updates)
}

func TestDiscountCommitRetriesLostVersionRace(t *testing.T) {
	tests := []struct {
		name        string
		lose        int
		wantUpdates int
		wantBalance int64
		wantErr     bool
	}{
		{name: "one lost race then success", lose: 1, wantUpdates: 2, wantBalance: 200},
		{name: "every attempt lost", lose: maxDiscountCommitAttempts, wantUpdates: maxDiscountCommitAttempts, wantBalance: 1000, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.addUser(model.User{ID: "u1", DiscountType: model.DiscountFixed, DiscountAmount: decimal.NewFromInt(10), DiscountBalance: 1000})
			repo := &racingUserRepo{UserRepository: f.userRepo, lose: tt.lose}
			engine := NewDiscountEngine(repo, nil)

			var ev *model.DiscountEvent
			err := f.db.Transaction(func(tx *gorm.DB) error {
				var err error
				ev, err = engine.Commit(f.ctx, tx, "u1", "ord_1", model.AppliedDiscount{Amount: 800, Type: model.DiscountFixed, UsageType: model.UsagePermanent})
				return err
			})

			assert.Equal(t, tt.wantUpdates, repo.updates)
			assert.Equal(t, tt.wantBalance, f.user("u1").DiscountBalance)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, apperr.IsKind(err, apperr.KindConflict))
				assert.Nil(t, ev)
				return
			}
			require.NoError(t, err)
			require.NotNil(t, ev)
			assert.Equal(t, int64(800), ev.Applied)
		})
	}
}
