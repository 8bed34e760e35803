package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"knowledge-engine/internal/capability"
	"knowledge-engine/internal/circuitbreaker"
	"knowledge-engine/internal/config"
	"knowledge-engine/internal/configqueue"
	"knowledge-engine/internal/events"
	"knowledge-engine/internal/logging"
	"knowledge-engine/internal/retrieval"
	"knowledge-engine/internal/session"
	"knowledge-engine/internal/store"
	"knowledge-engine/internal/vectorization"
)

// Router wires every engine subsystem into the chi.Mux serving
// spec.md §6's HTTP surface, grounded on the teacher's Router
// (config + service handles + setupMiddleware/setupRoutes split).
type Router struct {
	cfg     *config.Config
	mux     *chi.Mux
	store   *store.Store
	queue   *configqueue.Queue
	pipe    *vectorization.Pipeline
	router  *capability.Router
	engine  *retrieval.Engine
	coord   *session.Coordinator
	bus     *events.EventBus
	logger  logging.Logger
	breaker *circuitbreaker.CircuitBreaker
}

// Deps collects every constructed subsystem the router dispatches to.
type Deps struct {
	Config       *config.Config
	Store        *store.Store
	Queue        *configqueue.Queue
	Vectorizer   *vectorization.Pipeline
	Capability   *capability.Router
	Retrieval    *retrieval.Engine
	Sessions     *session.Coordinator
	Bus          *events.EventBus
	Logger       logging.Logger
}

// NewRouter builds the full middleware stack and route table.
func NewRouter(d Deps) *Router {
	r := &Router{
		cfg:     d.Config,
		mux:     chi.NewRouter(),
		store:   d.Store,
		queue:   d.Queue,
		pipe:    d.Vectorizer,
		router:  d.Capability,
		engine:  d.Retrieval,
		coord:   d.Sessions,
		bus:     d.Bus,
		logger:  d.Logger,
		breaker: circuitbreaker.New(circuitbreaker.DefaultConfig()),
	}
	r.setupMiddleware()
	r.setupRoutes()
	return r
}

// Handler returns the HTTP handler to pass to http.Server.
func (r *Router) Handler() http.Handler {
	return r.mux
}

// setupMiddleware mirrors the teacher's stack (Recoverer, request
// timeout, CORS, circuit breaker, request-size limit, heartbeat),
// simplified to a local-loopback surface with no version checker or
// auth middleware since spec.md §6 names neither for this engine.
func (r *Router) setupMiddleware() {
	r.mux.Use(chimiddleware.Recoverer)
	r.mux.Use(chimiddleware.Timeout(60 * time.Second))
	r.mux.Use(r.corsMiddleware)
	r.mux.Use(r.circuitBreakerMiddleware)
	r.mux.Use(chimiddleware.RequestSize(10 << 20))
	r.mux.Use(chimiddleware.Heartbeat("/ping"))
}

// corsMiddleware is permissive, grounded on the teacher's
// NewDefaultCORSMiddleware for a localhost-only deployment: the API
// never leaves the loopback interface, so there is no production
// origin list to enforce.
func (r *Router) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if req.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, req)
	})
}

// circuitBreakerMiddleware trips open when the store or vector index
// is failing repeatedly, failing fast with SERVICE_UNAVAILABLE instead
// of piling up timed-out requests behind a dead backend, grounded on
// the teacher's CircuitBreakerManager.Middleware("api"). A handler
// response with a 5xx status counts as a breaker failure.
func (r *Router) circuitBreakerMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		served := false
		err := r.breaker.Execute(req.Context(), func(ctx context.Context) error {
			served = true
			ww := chimiddleware.NewWrapResponseWriter(w, req.ProtoMajor)
			next.ServeHTTP(ww, req.WithContext(ctx))
			if ww.Status() >= http.StatusInternalServerError {
				return fmt.Errorf("api: handler responded %d", ww.Status())
			}
			return nil
		})
		if err != nil && !served {
			writeError(w, http.StatusServiceUnavailable, ErrorCodeUnavailable, "api: circuit open", err.Error())
		}
	})
}

func (r *Router) setupRoutes() {
	r.mux.Route("/api/v1", func(rtr chi.Router) {
		rtr.Route("/folders", func(sub chi.Router) {
			sub.Get("/", r.listFolders)
			sub.Post("/", r.addFolder)
			sub.Put("/{id}/toggle", r.toggleFolder)
			sub.Delete("/{id}", r.deleteFolder)
		})

		rtr.Route("/categories", func(sub chi.Router) {
			sub.Get("/", r.listCategories)
			sub.Post("/", r.addCategory)
		})

		rtr.Route("/extension-mappings", func(sub chi.Router) {
			sub.Post("/", r.upsertExtensionMapping)
		})

		rtr.Route("/filter-rules", func(sub chi.Router) {
			sub.Get("/", r.listFilterRules)
			sub.Post("/", r.addFilterRule)
		})

		rtr.Route("/bundle-extensions", func(sub chi.Router) {
			sub.Get("/", r.listBundleExtensions)
			sub.Post("/", r.addBundleExtension)
		})

		rtr.Route("/providers", func(sub chi.Router) {
			sub.Get("/", r.listProviders)
			sub.Post("/", r.addProvider)
			sub.Get("/{id}/discover", r.discoverModels)
		})

		rtr.Route("/models", func(sub chi.Router) {
			sub.Get("/", r.listModels)
			sub.Post("/", r.addModel)
			sub.Put("/{id}/enabled", r.setModelEnabled)
			sub.Post("/{id}/confirm-capability", r.confirmCapability)
		})

		rtr.Route("/capabilities", func(sub chi.Router) {
			sub.Put("/{capability}", r.setGlobalCapability)
			sub.Get("/{capability}", r.getGlobalCapability)
		})

		rtr.Route("/screening", func(sub chi.Router) {
			sub.Get("/", r.searchScreening)
			sub.Get("/{id}", r.getScreeningResult)
		})

		rtr.Route("/retrieval", func(sub chi.Router) {
			sub.Post("/search", r.retrievalSearch)
		})

		rtr.Route("/sessions", func(sub chi.Router) {
			sub.Post("/", r.createSession)
			sub.Get("/{id}", r.getSession)
			sub.Post("/{id}/pin", r.pinFile)
			sub.Delete("/{id}/pin", r.unpinFile)
			sub.Get("/{id}/pins", r.listPins)
			sub.Put("/{id}/tools/{tool}", r.setToolSelection)
			sub.Post("/{id}/co-reading/enter", r.enterCoReading)
			sub.Post("/{id}/co-reading/exit", r.exitCoReading)
		})

		rtr.Route("/vectorize", func(sub chi.Router) {
			sub.Post("/", r.triggerVectorization)
			sub.Get("/{taskID}", r.getVectorizationTask)
		})

		rtr.Route("/models/builtin", func(sub chi.Router) {
			sub.Post("/init", r.initBuiltinModel)
		})

		rtr.Route("/oauth", func(sub chi.Router) {
			sub.Get("/callback", r.oauthCallback)
		})
	})
}
