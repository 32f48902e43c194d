package situation_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketplace-backend/internal/apperr"
	"marketplace-backend/internal/situation"
	"marketplace-backend/internal/store/storetest"
)

func TestSituationNamesRoundTrip(t *testing.T) {
	for _, s := range situation.All {
		got, ok := situation.Parse(s.String())
		require.True(t, ok, s.String())
		assert.Equal(t, s, got)
	}
	_, ok := situation.Parse("archived")
	assert.False(t, ok)
	assert.True(t, situation.Concluded.Terminal())
	assert.True(t, situation.Declined.Terminal())
	assert.False(t, situation.Pending.Terminal())
}

func TestFromRecordsRequiresEverySituation(t *testing.T) {
	_, err := situation.FromRecords([]situation.Record{
		{ID: 1, Name: "pending"},
		{ID: 2, Name: "concluded"},
	})
	require.Error(t, err)
	assert.Equal(t, apperr.CodeNotFound, apperr.CodeOf(err))
}

func TestRegistryResolvesStoredIDs(t *testing.T) {
	reg, err := situation.FromRecords([]situation.Record{
		{ID: 7, Name: "pending"},
		{ID: 8, Name: "concluded"},
		{ID: 9, Name: "declined"},
	})
	require.NoError(t, err)

	assert.Equal(t, uint(8), reg.ID(situation.Concluded))
	id, err := reg.Resolve("declined")
	require.NoError(t, err)
	assert.Equal(t, uint(9), id)

	s, err := reg.Situation(7)
	require.NoError(t, err)
	assert.Equal(t, situation.Pending, s)

	_, err = reg.Situation(42)
	assert.Equal(t, apperr.CodeNotFound, apperr.CodeOf(err))
	_, err = reg.Resolve("archived")
	assert.Equal(t, apperr.CodeNotFound, apperr.CodeOf(err))
}

func TestLoadSeedIsIdempotent(t *testing.T) {
	st, first := storetest.New(t)

	again, err := situation.Load(context.Background(), st.DB, true)
	require.NoError(t, err)
	for _, s := range situation.All {
		assert.Equal(t, first.ID(s), again.ID(s))
	}

	var n int64
	require.NoError(t, st.DB.Model(&situation.Record{}).Count(&n).Error)
	assert.Equal(t, int64(len(situation.All)), n)
}
