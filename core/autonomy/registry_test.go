package autonomy_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/autonomy/core/autonomy"
)

func TestRegistry_Register(t *testing.T) {
	t.Parallel()

	t.Run("register and get", func(t *testing.T) {
		t.Parallel()

		registry := autonomy.NewRegistry()
		action := autonomy.NewAction("greet", func(ctx context.Context, params map[string]any) (any, error) {
			return "hello", nil
		})

		require.NoError(t, registry.Register(action))

		got, ok := registry.Get("greet")
		require.True(t, ok)
		assert.Equal(t, "greet", got.Name())
		assert.True(t, registry.Has("greet"))
		assert.Equal(t, 1, registry.Len())
	})

	t.Run("nil action", func(t *testing.T) {
		t.Parallel()

		registry := autonomy.NewRegistry()
		assert.ErrorIs(t, registry.Register(nil), autonomy.ErrActionNil)
	})

	t.Run("empty name", func(t *testing.T) {
		t.Parallel()

		registry := autonomy.NewRegistry()
		action := autonomy.NewAction("", func(ctx context.Context, params map[string]any) (any, error) {
			return nil, nil
		})

		assert.ErrorIs(t, registry.Register(action), autonomy.ErrActionNameEmpty)
	})

	t.Run("re-registering replaces", func(t *testing.T) {
		t.Parallel()

		registry := autonomy.NewRegistry()
		first := autonomy.NewAction("greet", func(ctx context.Context, params map[string]any) (any, error) {
			return "first", nil
		})
		second := autonomy.NewAction("greet", func(ctx context.Context, params map[string]any) (any, error) {
			return "second", nil
		})

		require.NoError(t, registry.Register(first))
		require.NoError(t, registry.Register(second))
		assert.Equal(t, 1, registry.Len())

		got, ok := registry.Get("greet")
		require.True(t, ok)
		result, err := got.Execute(context.Background(), nil)
		require.NoError(t, err)
		assert.Equal(t, "second", result)
	})
}

func TestRegistry_RegisterFunc(t *testing.T) {
	t.Parallel()

	t.Run("with metadata", func(t *testing.T) {
		t.Parallel()

		registry := autonomy.NewRegistry()
		err := registry.RegisterFunc("echo", func(ctx context.Context, params map[string]any) (any, error) {
			return params["message"], nil
		},
			autonomy.WithActionDescription("Echo the message parameter."),
			autonomy.WithActionParams(map[string]string{"message": "text to echo"}),
		)
		require.NoError(t, err)

		action, ok := registry.Get("echo")
		require.True(t, ok)

		info := action.Describe()
		assert.Equal(t, "echo", info.Name)
		assert.Equal(t, "Echo the message parameter.", info.Description)
		assert.Equal(t, map[string]string{"message": "text to echo"}, info.Params)
	})

	t.Run("nil function", func(t *testing.T) {
		t.Parallel()

		registry := autonomy.NewRegistry()
		assert.ErrorIs(t, registry.RegisterFunc("echo", nil), autonomy.ErrActionNil)
	})
}

func TestRegistry_List(t *testing.T) {
	t.Parallel()

	registry := autonomy.NewRegistry()
	noop := func(ctx context.Context, params map[string]any) (any, error) { return nil, nil }

	require.NoError(t, registry.RegisterFunc("zeta", noop))
	require.NoError(t, registry.RegisterFunc("alpha", noop))
	require.NoError(t, registry.RegisterFunc("mike", noop))

	infos := registry.List()
	require.Len(t, infos, 3)
	assert.Equal(t, "alpha", infos[0].Name)
	assert.Equal(t, "mike", infos[1].Name)
	assert.Equal(t, "zeta", infos[2].Name)
}

func TestRegistry_Unregister(t *testing.T) {
	t.Parallel()

	registry := autonomy.NewRegistry()
	require.NoError(t, registry.RegisterFunc("greet", func(ctx context.Context, params map[string]any) (any, error) {
		return nil, nil
	}))

	assert.True(t, registry.Unregister("greet"))
	assert.False(t, registry.Has("greet"))
	assert.False(t, registry.Unregister("greet"), "second removal reports absence")
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	t.Parallel()

	registry := autonomy.NewRegistry()
	noop := func(ctx context.Context, params map[string]any) (any, error) { return nil, nil }

	var wg sync.WaitGroup
	for _, name := range []string{"a", "b", "c", "d", "e"} {
		name := name
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = registry.RegisterFunc(name, noop)
			registry.Has(name)
			registry.List()
		}()
	}
	wg.Wait()

	assert.Equal(t, 5, registry.Len())
}

func TestNewTypedAction(t *testing.T) {
	t.Parallel()

	type reportParams struct {
		Subject string `json:"subject"`
		Depth   int    `json:"depth"`
	}

	t.Run("decodes parameter map", func(t *testing.T) {
		t.Parallel()

		action := autonomy.NewTypedAction("report", func(ctx context.Context, params reportParams) (any, error) {
			return params.Subject, nil
		})

		result, err := action.Execute(context.Background(), map[string]any{
			"subject": "weekly summary",
			"depth":   float64(2),
		})
		require.NoError(t, err)
		assert.Equal(t, "weekly summary", result)
	})

	t.Run("derives name from type", func(t *testing.T) {
		t.Parallel()

		action := autonomy.NewTypedAction("", func(ctx context.Context, params reportParams) (any, error) {
			return nil, nil
		})

		assert.Contains(t, action.Name(), "reportParams")
	})

	t.Run("rejects undecodable params", func(t *testing.T) {
		t.Parallel()

		action := autonomy.NewTypedAction("report", func(ctx context.Context, params reportParams) (any, error) {
			return nil, nil
		})

		_, err := action.Execute(context.Background(), map[string]any{"depth": "not a number"})
		assert.Error(t, err)
	})
}

func TestActionDescribe_CopiesParams(t *testing.T) {
	t.Parallel()

	action := autonomy.NewAction("echo", func(ctx context.Context, params map[string]any) (any, error) {
		return nil, nil
	}, autonomy.WithActionParams(map[string]string{"message": "text"}))

	info := action.Describe()
	info.Params["message"] = "mutated"

	assert.Equal(t, "text", action.Describe().Params["message"], "Describe must return a defensive copy")
}
