package scenestore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stagehand-live/stagehand/internal/domain"
)

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()

	sc, overrides, err := s.Current(ctx)
	require.NoError(t, err)
	assert.Nil(t, sc, "no scene selected initially")
	assert.Empty(t, overrides)

	require.NoError(t, s.SetScene(ctx, &domain.Scene{Name: "interview", Chat: true}))
	require.NoError(t, s.SetOverride(ctx, domain.SettingChat, domain.OverrideForcedOff))

	sc, overrides, err = s.Current(ctx)
	require.NoError(t, err)
	require.NotNil(t, sc)
	assert.Equal(t, "interview", sc.Name)
	assert.Equal(t, domain.OverrideForcedOff, overrides[domain.SettingChat])

	// Readers get copies, mutating one must not leak back.
	sc.Name = "mutated"
	overrides[domain.SettingChat] = domain.OverrideForcedOn
	sc2, overrides2, err := s.Current(ctx)
	require.NoError(t, err)
	assert.Equal(t, "interview", sc2.Name)
	assert.Equal(t, domain.OverrideForcedOff, overrides2[domain.SettingChat])

	// Deselecting the scene clears it.
	require.NoError(t, s.SetScene(ctx, nil))
	sc, _, err = s.Current(ctx)
	require.NoError(t, err)
	assert.Nil(t, sc)
}
