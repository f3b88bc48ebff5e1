package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"edcomposer/internal/compositions"
	"edcomposer/internal/httpapi/handlers"
	"edcomposer/internal/httpkit"
	"edcomposer/internal/pkg/logger"
	"edcomposer/internal/pkg/middleware"
	"edcomposer/internal/ports"
)

type Deps struct {
	Session        handlers.RenderSession
	Compositions   compositions.Store
	Pool           *pgxpool.Pool
	RDB            *redis.Client
	SP             ports.StorageProvider
	RendererURL    string
	AllowedOrigins []string
	Log            *logger.Logger
}

func NewRouter(d Deps) http.Handler {
	log := d.Log
	if log == nil {
		log = logger.NewDefault()
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Logging(log))
	r.Use(middleware.Recovery(log))
	r.Use(httpkit.CORS(httpkit.CORSOptions{
		AllowedOrigins: d.AllowedOrigins,
		ExposedHeaders: []string{middleware.RequestIDHeader},
	}))

	h := handlers.New(handlers.Deps{
		Session:        d.Session,
		Compositions:   d.Compositions,
		Pool:           d.Pool,
		RDB:            d.RDB,
		SP:             d.SP,
		RendererURL:    d.RendererURL,
		AllowedOrigins: d.AllowedOrigins,
		Log:            log,
	})
	wrap := func(fn middleware.HandlerFunc) http.HandlerFunc {
		return middleware.WrapHandler(log, fn)
	}

	// ---- HEALTH ----
	r.Get("/health", h.Health)

	// ---- RENDER ----
	r.Post("/render", wrap(h.StartRender))
	r.Get("/render", wrap(h.GetRender))
	r.Delete("/render", wrap(h.CancelRender))
	r.Get("/render/events", wrap(h.RenderEvents))

	// ---- COMPOSITIONS ----
	r.Get("/compositions", wrap(h.ListCompositions))
	r.Post("/compositions", wrap(h.CreateComposition))
	r.Get("/compositions/{compositionId}", wrap(h.GetComposition))
	r.Delete("/compositions/{compositionId}", wrap(h.DeleteComposition))

	// ---- ARTIFACTS ----
	r.Get("/artifacts/{renderId}", wrap(h.GetArtifact))

	return r
}
