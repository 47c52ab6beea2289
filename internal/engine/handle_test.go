package engine_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/book-expert/tts-studio/internal/engine"
)

type closingModel struct {
	closed atomic.Bool
	id     int32
}

func (m *closingModel) Close() error {
	m.closed.Store(true)

	return nil
}

func TestHandle_LoadsOnceForConcurrentCallers(t *testing.T) {
	t.Parallel()

	var loads atomic.Int32

	handle := engine.NewHandle("test", func(context.Context) (*closingModel, error) {
		return &closingModel{id: loads.Add(1)}, nil
	})

	assert.False(t, handle.Loaded())

	var wg sync.WaitGroup

	for range 16 {
		wg.Add(1)

		go func() {
			defer wg.Done()

			model, err := handle.Get(context.Background())
			assert.NoError(t, err)
			assert.Equal(t, int32(1), model.id)
		}()
	}

	wg.Wait()

	assert.Equal(t, int32(1), loads.Load())
	assert.True(t, handle.Loaded())
}

func TestHandle_ReloadAndUnload(t *testing.T) {
	t.Parallel()

	var loads atomic.Int32

	handle := engine.NewHandle("test", func(context.Context) (*closingModel, error) {
		return &closingModel{id: loads.Add(1)}, nil
	})

	first, err := handle.Get(context.Background())
	require.NoError(t, err)

	second, err := handle.Reload(context.Background())
	require.NoError(t, err)
	assert.True(t, first.closed.Load())
	assert.Equal(t, int32(2), second.id)

	handle.Unload()
	assert.False(t, handle.Loaded())
	assert.True(t, second.closed.Load())

	third, err := handle.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(3), third.id)
}

func TestHandle_LoadFailureIsRetried(t *testing.T) {
	t.Parallel()

	errBoom := errors.New("boom")
	fail := true

	handle := engine.NewHandle("flaky", func(context.Context) (int, error) {
		if fail {
			return 0, errBoom
		}

		return 42, nil
	})

	_, err := handle.Get(context.Background())
	require.ErrorIs(t, err, errBoom)
	assert.Contains(t, err.Error(), "flaky")
	assert.False(t, handle.Loaded())

	fail = false

	value, err := handle.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 42, value)
}
