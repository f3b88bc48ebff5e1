package compositions

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"edcomposer/internal/models"
	"edcomposer/internal/pkg/errors"
)

func TestResolve(t *testing.T) {
	cat := NewStaticCatalog(Builtin()...)
	ctx := context.Background()

	t.Run("explicit composition", func(t *testing.T) {
		req, err := Resolve(ctx, cat, "edcomposer", map[string]any{"prompt": "black holes"})
		require.NoError(t, err)
		assert.Equal(t, "edcomposer", req.CompositionID)
		assert.Equal(t, "black holes", req.InputProps["prompt"])
	})

	t.Run("empty id selects default", func(t *testing.T) {
		req, err := Resolve(ctx, cat, "  ", map[string]any{"prompt": "tides"})
		require.NoError(t, err)
		assert.Equal(t, DefaultID, req.CompositionID)
	})

	t.Run("unknown composition", func(t *testing.T) {
		_, err := Resolve(ctx, cat, "missing", map[string]any{"prompt": "x"})
		require.Error(t, err)
		assert.True(t, errors.IsValidation(err))
		assert.Equal(t, "compositionId", errors.GetFields(err)["field"])
	})

	t.Run("blank required prop", func(t *testing.T) {
		_, err := Resolve(ctx, cat, "edcomposer", map[string]any{"prompt": "   "})
		require.Error(t, err)
		assert.Equal(t, "inputProps.prompt", errors.GetFields(err)["field"])
	})
}

func TestResolve_MergesDefaults(t *testing.T) {
	cat := NewStaticCatalog(models.Composition{
		ID:            "promo",
		DefaultProps:  map[string]any{"voice": "alloy", "prompt": "default topic"},
		RequiredProps: []string{"prompt"},
	})

	req, err := Resolve(context.Background(), cat, "promo", map[string]any{"prompt": "volcanoes"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"voice": "alloy", "prompt": "volcanoes"}, req.InputProps)

	req, err = Resolve(context.Background(), cat, "promo", nil)
	require.NoError(t, err)
	assert.Equal(t, "default topic", req.InputProps["prompt"])
}

func TestFallback(t *testing.T) {
	primary := NewStaticCatalog(models.Composition{ID: "edcomposer", Description: "from db"}, models.Composition{ID: "promo"})
	f := Fallback{Primary: primary, Secondary: NewStaticCatalog(Builtin()...)}
	ctx := context.Background()

	list, err := f.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "from db", list[0].Description)

	got, err := f.Get(ctx, "edcomposer")
	require.NoError(t, err)
	assert.Equal(t, "from db", got.Description)

	empty := Fallback{Primary: NewStaticCatalog(), Secondary: NewStaticCatalog(Builtin()...)}
	got, err = empty.Get(ctx, DefaultID)
	require.NoError(t, err)
	assert.Equal(t, 1920, got.Width)

	_, err = empty.Get(ctx, "nope")
	assert.True(t, errors.IsNotFound(err))
}

func TestBuiltinMetadata(t *testing.T) {
	comp := Builtin()[0]
	assert.Equal(t, 1920, comp.Width)
	assert.Equal(t, 1080, comp.Height)
	assert.Equal(t, 30, comp.FPS)
	assert.Equal(t, 100, comp.DurationInFrames)
	assert.InDelta(t, 3.33, comp.DurationSeconds(), 0.01)
}

func intro() models.Composition {
	return models.Composition{ID: "intro", Width: 1280, Height: 720, FPS: 25, DurationInFrames: 50}
}

func TestStaticCatalog_Edit(t *testing.T) {
	ctx := context.Background()
	cat := NewStaticCatalog(Builtin()...)

	c := intro()
	c.ID = "  intro "
	require.NoError(t, cat.Create(ctx, &c))
	assert.Equal(t, "intro", c.ID)
	assert.False(t, c.CreatedAt.IsZero())

	got, err := cat.Get(ctx, "intro")
	require.NoError(t, err)
	assert.Equal(t, 1280, got.Width)

	dup := intro()
	err = cat.Create(ctx, &dup)
	assert.True(t, errors.IsCode(err, errors.CodeConflict))

	bad := intro()
	bad.ID, bad.FPS = "broken", 0
	err = cat.Create(ctx, &bad)
	assert.True(t, errors.IsValidation(err))

	require.NoError(t, cat.Delete(ctx, "intro"))
	_, err = cat.Get(ctx, "intro")
	assert.True(t, errors.IsNotFound(err))
	assert.True(t, errors.IsNotFound(cat.Delete(ctx, "intro")))
}

// failingStore rejects every Create with err.
type failingStore struct {
	*StaticCatalog
	err error
}

func (f failingStore) Create(context.Context, *models.Composition) error { return f.err }

func TestSeed(t *testing.T) {
	ctx := context.Background()

	t.Run("adds missing and skips existing", func(t *testing.T) {
		cat := NewStaticCatalog(Builtin()...)
		n, err := Seed(ctx, cat, append(Builtin(), intro())...)
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		items, err := cat.List(ctx)
		require.NoError(t, err)
		assert.Len(t, items, 2)

		n, err = Seed(ctx, cat, append(Builtin(), intro())...)
		require.NoError(t, err)
		assert.Zero(t, n)
	})

	t.Run("stops on other errors", func(t *testing.T) {
		store := failingStore{StaticCatalog: NewStaticCatalog(), err: errors.Unavailable("postgres")}
		n, err := Seed(ctx, store, Builtin()...)
		require.Error(t, err)
		assert.Zero(t, n)
		assert.True(t, errors.IsCode(err, errors.CodeUnavailable))
	})

	t.Run("does not modify the seed items", func(t *testing.T) {
		items := []models.Composition{intro()}
		_, err := Seed(ctx, NewStaticCatalog(), items...)
		require.NoError(t, err)
		assert.True(t, items[0].CreatedAt.IsZero())
	})
}
