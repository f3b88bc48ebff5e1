// Package compositions knows which compositions can be rendered and turns a
// user request into a complete render.Request.
package compositions

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"edcomposer/internal/models"
	"edcomposer/internal/pkg/errors"
	"edcomposer/internal/render"
)

// DefaultID is the composition rendered when a request names none.
const DefaultID = "edcomposer"

// Catalog lists compositions. Get returns a NotFound error for unknown ids.
type Catalog interface {
	List(ctx context.Context) ([]models.Composition, error)
	Get(ctx context.Context, id string) (models.Composition, error)
}

// Store is a Catalog that can also be edited.
type Store interface {
	Catalog
	// Create fails with a CodeConflict error when the id is taken.
	Create(ctx context.Context, c *models.Composition) error
	Delete(ctx context.Context, id string) error
}

// ErrExists is returned by Create for an id that is already taken.
var ErrExists = errors.New(errors.CodeConflict, "composition id already exists")

// Seed creates each of items that store does not hold yet and returns how
// many were added.
func Seed(ctx context.Context, store Store, items ...models.Composition) (int, error) {
	added := 0
	for _, it := range items {
		err := store.Create(ctx, &it)
		switch {
		case err == nil:
			added++
		case errors.IsCode(err, errors.CodeConflict):
		default:
			return added, errors.Wrapf(err, "compositions.seed", "seed %s", it.ID)
		}
	}
	return added, nil
}

// Builtin returns the compositions shipped with the service.
func Builtin() []models.Composition {
	return []models.Composition{
		{
			ID:               DefaultID,
			Description:      "Narrated explainer video generated from a topic prompt",
			Width:            1920,
			Height:           1080,
			FPS:              30,
			DurationInFrames: 100,
			DefaultProps:     map[string]any{},
			RequiredProps:    []string{"prompt"},
		},
	}
}

// StaticCatalog keeps compositions in memory.
type StaticCatalog struct {
	mu   sync.RWMutex
	byID map[string]models.Composition
}

func NewStaticCatalog(items ...models.Composition) *StaticCatalog {
	c := &StaticCatalog{byID: make(map[string]models.Composition, len(items))}
	for _, it := range items {
		c.byID[it.ID] = it
	}
	return c
}

func (c *StaticCatalog) List(_ context.Context) ([]models.Composition, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]models.Composition, 0, len(c.byID))
	for _, it := range c.byID {
		out = append(out, it)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (c *StaticCatalog) Get(_ context.Context, id string) (models.Composition, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	it, ok := c.byID[id]
	if !ok {
		return models.Composition{}, errors.NotFound("composition", id)
	}
	return it, nil
}

func (c *StaticCatalog) Create(_ context.Context, it *models.Composition) error {
	if err := it.Validate(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.byID[it.ID]; ok {
		return ErrExists
	}
	if it.CreatedAt.IsZero() {
		it.CreatedAt = time.Now().UTC()
	}
	c.byID[it.ID] = *it
	return nil
}

func (c *StaticCatalog) Delete(_ context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.byID[id]; !ok {
		return errors.NotFound("composition", id)
	}
	delete(c.byID, id)
	return nil
}

// Fallback reads from Primary and falls back to Secondary for ids Primary
// does not know. List merges both, Primary winning on duplicate ids.
type Fallback struct {
	Primary   Catalog
	Secondary Catalog
}

func (f Fallback) List(ctx context.Context) ([]models.Composition, error) {
	primary, err := f.Primary.List(ctx)
	if err != nil {
		return nil, err
	}
	secondary, err := f.Secondary.List(ctx)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(primary))
	out := make([]models.Composition, 0, len(primary)+len(secondary))
	for _, it := range primary {
		seen[it.ID] = true
		out = append(out, it)
	}
	for _, it := range secondary {
		if !seen[it.ID] {
			out = append(out, it)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f Fallback) Get(ctx context.Context, id string) (models.Composition, error) {
	it, err := f.Primary.Get(ctx, id)
	if err == nil || !errors.IsNotFound(err) {
		return it, err
	}
	return f.Secondary.Get(ctx, id)
}

// Resolve validates a user request against the catalog. The composition
// defaults are merged under props and every required prop must be a
// non-blank value afterwards. An empty id selects DefaultID.
func Resolve(ctx context.Context, cat Catalog, id string, props map[string]any) (render.Request, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		id = DefaultID
	}

	comp, err := cat.Get(ctx, id)
	if err != nil {
		if errors.IsNotFound(err) {
			return render.Request{}, errors.ValidationField("compositionId", fmt.Sprintf("unknown composition %q", id))
		}
		return render.Request{}, err
	}

	merged := make(map[string]any, len(comp.DefaultProps)+len(props))
	for k, v := range comp.DefaultProps {
		merged[k] = v
	}
	for k, v := range props {
		merged[k] = v
	}

	for _, key := range comp.RequiredProps {
		if blank(merged[key]) {
			return render.Request{}, errors.ValidationField("inputProps."+key, key+" is required")
		}
	}

	return render.NewRequest(comp.ID, merged), nil
}

func blank(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	default:
		return false
	}
}
