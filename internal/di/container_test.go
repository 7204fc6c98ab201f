package di

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestore-sync/internal/shared/logger"
	"firestore-sync/internal/sync/config"
)

type closer struct {
	cleaned bool
	err     error
}

func (c *closer) Cleanup(context.Context) error {
	c.cleaned = true
	return c.err
}

func TestContainer_RegisterAndResolve(t *testing.T) {
	c := NewContainer(logger.NewNopLogger())
	svc := &closer{}
	c.Register(svc)

	got, err := GetService[closer](c)
	require.NoError(t, err)
	assert.Same(t, svc, got)

	_, err = GetService[config.SyncConfig](c)
	assert.Error(t, err)
}

func TestContainer_FactoryRunsOnce(t *testing.T) {
	c := NewContainer(logger.NewNopLogger())
	calls := 0
	c.RegisterFactory(reflect.TypeOf(config.SyncConfig{}), func() (interface{}, error) {
		calls++
		return config.DefaultSyncConfig(), nil
	})

	first, err := GetService[config.SyncConfig](c)
	require.NoError(t, err)
	second, err := GetService[config.SyncConfig](c)
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, 1, calls)
}

func TestContainer_FactoryError(t *testing.T) {
	c := NewContainer(logger.NewNopLogger())
	c.RegisterFactory(reflect.TypeOf(config.SyncConfig{}), func() (interface{}, error) {
		return nil, errors.New("boom")
	})

	_, err := c.Resolve(reflect.TypeOf(config.SyncConfig{}))
	assert.ErrorContains(t, err, "boom")
}

func TestContainer_Cleanup(t *testing.T) {
	c := NewContainer(logger.NewNopLogger())
	ok := &closer{}
	c.Register(ok)
	require.NoError(t, c.Close())
	assert.True(t, ok.cleaned)

	failing := &closer{err: errors.New("busy")}
	c.Register(failing)
	assert.Error(t, c.Close())

	_, err := GetService[closer](c)
	assert.Error(t, err, "services are cleared")
}

func TestContainer_InitializeSyncFailsWithoutConfigFile(t *testing.T) {
	c := NewContainer(logger.NewNopLogger())
	cfg := config.DefaultSyncConfig()
	cfg.ConfigFile = "does-not-exist.json"

	err := c.InitializeSync(context.Background(), cfg)
	assert.Error(t, err)
	assert.Nil(t, c.GetSyncModule())
	assert.NoError(t, c.HealthCheck(context.Background()))
}
