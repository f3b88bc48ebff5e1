package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"edcomposer/internal/artifacts"
	"edcomposer/internal/compositions"
	"edcomposer/internal/events"
	"edcomposer/internal/pkg/logger"
	"edcomposer/internal/ports"
	"edcomposer/internal/render"
)

// RenderSession is the render state the API serves. *session.Session
// implements it.
type RenderSession interface {
	Start(ctx context.Context, compositionID string, props map[string]any) (render.Snapshot, error)
	Cancel() bool
	Snapshot() render.Snapshot
	LastOutcome() (events.Outcome, bool)
	Artifact(renderID string) (artifacts.Stored, bool)
	Catalog() compositions.Catalog
	Subscribe(ctx context.Context) (<-chan events.Event, error)
}

type Deps struct {
	Session RenderSession
	// Compositions is optional; composition writes are unavailable without it.
	Compositions compositions.Store
	// Pool and RDB are optional; health reports them as disabled when nil.
	Pool *pgxpool.Pool
	RDB  *redis.Client
	// SP is optional; artifact downloads are unavailable without it.
	SP             ports.StorageProvider
	RendererURL    string
	AllowedOrigins []string
	Log            *logger.Logger
}

type Handler struct {
	session     RenderSession
	store       compositions.Store
	pool        *pgxpool.Pool
	rdb         *redis.Client
	sp          ports.StorageProvider
	rendererURL string
	log         *logger.Logger
	upgrader    websocket.Upgrader
	startedAt   time.Time
}

func New(d Deps) *Handler {
	log := d.Log
	if log == nil {
		log = logger.NewDefault()
	}
	h := &Handler{
		session:     d.Session,
		store:       d.Compositions,
		pool:        d.Pool,
		rdb:         d.RDB,
		sp:          d.SP,
		rendererURL: d.RendererURL,
		log:         log.WithComponent("httpapi"),
		startedAt:   time.Now(),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     originChecker(d.AllowedOrigins),
	}
	return h
}

// originChecker accepts requests without an Origin header, "*" and listed
// origins.
func originChecker(allowed []string) func(r *http.Request) bool {
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		if o = strings.TrimSpace(o); o != "" {
			set[o] = true
		}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || set["*"] || set[origin]
	}
}
