// Package webapi provides a web API for the spam classifier: check messages,
// manage samples and reload the model.
package webapi

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/didip/tollbooth/v8"
	cache "github.com/go-pkgz/expirable-cache/v3"
	"github.com/go-pkgz/lgr"
	"github.com/go-pkgz/rest"
	"github.com/go-pkgz/routegroup"

	"github.com/umputun/mail-spam/app/filter"
	"github.com/umputun/mail-spam/lib/bayes"
)

// Server is a web API server
type Server struct {
	Config
	checkCache cache.Cache[string, filter.CheckResult]
}

// Config defines server parameters
type Config struct {
	Version    string     // version to show in /ping and app-info headers
	ListenAddr string     // listen address
	Filter     Filter     // classifier with retraining
	SpamLogger SpamLogger // optional, receives messages detected as spam
	AuthPasswd string     // basic auth password for user "mail-spam"
	Dbg        bool       // debug mode
}

// Filter is a classifier interface, implemented by filter.Filter
type Filter interface {
	Check(text string) filter.CheckResult
	UpdateSpam(ctx context.Context, msg string) error
	UpdateHam(ctx context.Context, msg string) error
	RemoveSample(ctx context.Context, msg string) error
	DynamicSamples(ctx context.Context) (spam, ham []string, err error)
	Reload(ctx context.Context) error
	Model() *bayes.Model
}

// SpamLogger logs messages detected as spam
type SpamLogger interface {
	Save(msg string, res filter.CheckResult)
}

// SpamLoggerFunc adapter to allow the use of ordinary functions as SpamLogger
type SpamLoggerFunc func(msg string, res filter.CheckResult)

// Save calls f(msg, res)
func (f SpamLoggerFunc) Save(msg string, res filter.CheckResult) { f(msg, res) }

// NewServer creates a new web API server
func NewServer(config Config) *Server {
	return &Server{
		Config:     config,
		checkCache: cache.NewCache[string, filter.CheckResult]().WithMaxKeys(1000).WithTTL(5 * time.Minute),
	}
}

// Run starts the server and accepts requests until the context is canceled
func (s *Server) Run(ctx context.Context) error {
	if s.AuthPasswd != "" {
		log.Printf("[INFO] basic auth enabled for webapi server")
	} else {
		log.Printf("[WARN] basic auth disabled, access to webapi is not protected")
	}

	srv := &http.Server{Addr: s.ListenAddr, Handler: s.router(),
		ReadTimeout: 5 * time.Second, WriteTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		if err := srv.Shutdown(ctx); err != nil {
			log.Printf("[WARN] failed to shutdown webapi server: %v", err)
		} else {
			log.Printf("[INFO] webapi server stopped")
		}
	}()

	log.Printf("[INFO] start webapi server on %s", s.ListenAddr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to run server: %w", err)
	}
	return nil
}

func (s *Server) router() *routegroup.Bundle {
	router := routegroup.New(http.NewServeMux())
	router.Use(rest.Recoverer(lgr.Default()))
	router.Use(rest.AppInfo("mail-spam", "umputun", s.Version), rest.Ping)
	router.Use(tollbooth.HTTPMiddleware(tollbooth.NewLimiter(50, nil)))
	router.Use(rest.SizeLimit(1024 * 1024)) // 1M max request size
	router.Use(s.authMiddleware(rest.BasicAuthWithUserPasswd("mail-spam", s.AuthPasswd)))

	router.HandleFunc("POST /check", s.checkHandler)

	router.Mount("/update").Route(func(b *routegroup.Bundle) {
		b.HandleFunc("POST /spam", s.updateSampleHandler(s.Filter.UpdateSpam))
		b.HandleFunc("POST /ham", s.updateSampleHandler(s.Filter.UpdateHam))
	})

	router.HandleFunc("GET /samples", s.getSamplesHandler)
	router.HandleFunc("PUT /samples", s.reloadSamplesHandler)
	router.HandleFunc("POST /delete", s.deleteSampleHandler)

	router.HandleFunc("GET /model", s.modelHandler)
	return router
}

// checkHandler handles POST /check, returns the classification of the message.
// Results are cached by message hash; the cache is dropped on any sample change.
func (s *Server) checkHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Msg string `json:"msg"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		rest.RenderJSON(w, rest.JSON{"error": "can't decode request", "details": err.Error()})
		log.Printf("[WARN] can't decode check request: %v", err)
		return
	}

	key := fmt.Sprintf("%x", sha256.Sum256([]byte(req.Msg)))
	res, found := s.checkCache.Get(key)
	if !found {
		res = s.Filter.Check(req.Msg)
		s.checkCache.Set(key, res, 0)
		if res.Spam && s.SpamLogger != nil {
			s.SpamLogger.Save(req.Msg, res)
		}
	}
	rest.RenderJSON(w, res)
}

// updateSampleHandler handles POST /update/spam and POST /update/ham
func (s *Server) updateSampleHandler(updFn func(ctx context.Context, msg string) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Msg string `json:"msg"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			rest.RenderJSON(w, rest.JSON{"error": "can't decode request", "details": err.Error()})
			return
		}

		if err := updFn(r.Context(), req.Msg); err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			rest.RenderJSON(w, rest.JSON{"error": "can't update samples", "details": err.Error()})
			return
		}
		s.checkCache.Purge()
		rest.RenderJSON(w, rest.JSON{"updated": true, "msg": req.Msg})
	}
}

// deleteSampleHandler handles POST /delete, removes a user sample by message
func (s *Server) deleteSampleHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Msg string `json:"msg"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		rest.RenderJSON(w, rest.JSON{"error": "can't decode request", "details": err.Error()})
		return
	}

	if err := s.Filter.RemoveSample(r.Context(), req.Msg); err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		rest.RenderJSON(w, rest.JSON{"error": "can't delete sample", "details": err.Error()})
		return
	}
	s.checkCache.Purge()
	rest.RenderJSON(w, rest.JSON{"deleted": true, "msg": req.Msg})
}

// getSamplesHandler handles GET /samples, returns user-added samples
func (s *Server) getSamplesHandler(w http.ResponseWriter, r *http.Request) {
	spam, ham, err := s.Filter.DynamicSamples(r.Context())
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		rest.RenderJSON(w, rest.JSON{"error": "can't get samples", "details": err.Error()})
		return
	}
	rest.RenderJSON(w, rest.JSON{"spam": spam, "ham": ham})
}

// reloadSamplesHandler handles PUT /samples, retrains the model from the
// current sample set
func (s *Server) reloadSamplesHandler(w http.ResponseWriter, r *http.Request) {
	if err := s.Filter.Reload(r.Context()); err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		rest.RenderJSON(w, rest.JSON{"error": "can't reload samples", "details": err.Error()})
		return
	}
	s.checkCache.Purge()
	rest.RenderJSON(w, rest.JSON{"reloaded": true})
}

// modelHandler handles GET /model, returns the serialized fitted model
func (s *Server) modelHandler(w http.ResponseWriter, _ *http.Request) {
	model := s.Filter.Model()
	if model == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		rest.RenderJSON(w, rest.JSON{"error": "model is not trained"})
		return
	}
	rest.RenderJSON(w, model)
}

// authMiddleware returns the given auth middleware if the password is set,
// noop otherwise
func (s *Server) authMiddleware(mw func(next http.Handler) http.Handler) func(next http.Handler) http.Handler {
	if s.AuthPasswd == "" {
		return func(next http.Handler) http.Handler { return next }
	}
	return mw
}
