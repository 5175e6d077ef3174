// Package debugserver exposes the tileset layers over HTTP for inspection
// and scripted control of a running viewer.
package debugserver

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/OpticalFlyer/tilestream/layer"
	"github.com/OpticalFlyer/tilestream/log"

	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
)

// Layers is the part of layer.Manager the server drives.
type Layers interface {
	AddTileset(ctx context.Context, cfg layer.Config) (*layer.TilesetLayer, error)
	RemoveTileset(id string) error
	Stats() []layer.Stats
	QueryAtScreenPoint(x, y float64) (layer.Feature, bool)
}

// Server serves the layer endpoints.
type Server struct {
	layers Layers
	lg     *log.Logger
	engine *gin.Engine
}

// New routes the layer endpoints to layers.
func New(layers Layers, lg *log.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	s := &Server{layers: layers, lg: lg, engine: gin.New()}
	s.engine.Use(gin.Recovery(), s.logRequests)

	r := s.engine.Group("/layers")
	{
		r.GET("", s.listLayers)
		r.POST("", s.addLayer)
		r.GET("/:id", s.getLayer)
		r.DELETE("/:id", s.removeLayer)
	}
	s.engine.GET("/query", s.query)
	return s
}

func (s *Server) Handler() http.Handler { return s.engine }

// ListenAndServe serves on addr until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	s.lg.Infof("debug server listening on %s", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) logRequests(c *gin.Context) {
	start := time.Now()
	c.Next()
	s.lg.Debug("debug request",
		"method", c.Request.Method,
		"path", c.Request.URL.Path,
		"status", c.Writer.Status(),
		"elapsed", time.Since(start))
}

func abort(c *gin.Context, status int, err error) {
	c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
}

func (s *Server) listLayers(c *gin.Context) {
	stats := s.layers.Stats()
	if stats == nil {
		stats = []layer.Stats{}
	}
	c.JSON(http.StatusOK, stats)
}

func (s *Server) getLayer(c *gin.Context) {
	id := c.Param("id")
	for _, st := range s.layers.Stats() {
		if st.ID == id {
			c.JSON(http.StatusOK, st)
			return
		}
	}
	abort(c, http.StatusNotFound, layer.ErrNotFound)
}

func (s *Server) addLayer(c *gin.Context) {
	var cfg layer.Config
	dec := json.NewDecoder(c.Request.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		abort(c, http.StatusBadRequest, err)
		return
	}

	_, err := s.layers.AddTileset(c.Request.Context(), cfg)
	switch {
	case errors.Is(err, layer.ErrConfiguration):
		abort(c, http.StatusBadRequest, err)
		return
	case err != nil:
		abort(c, http.StatusInternalServerError, err)
		return
	}
	s.lg.Infof("layer %s added over http", cfg.ID)
	c.JSON(http.StatusCreated, gin.H{"id": cfg.ID})
}

func (s *Server) removeLayer(c *gin.Context) {
	if err := s.layers.RemoveTileset(c.Param("id")); err != nil {
		if errors.Is(err, layer.ErrNotFound) {
			abort(c, http.StatusNotFound, err)
		} else {
			abort(c, http.StatusInternalServerError, err)
		}
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) query(c *gin.Context) {
	x, errX := strconv.ParseFloat(c.Query("x"), 64)
	y, errY := strconv.ParseFloat(c.Query("y"), 64)
	if err := errors.Join(errX, errY); err != nil {
		abort(c, http.StatusBadRequest, err)
		return
	}
	f, ok := s.layers.QueryAtScreenPoint(x, y)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "nothing at point"})
		return
	}
	c.JSON(http.StatusOK, f)
}
