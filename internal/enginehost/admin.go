package enginehost

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/taigalab/taigactl/internal/auth"
	"github.com/taigalab/taigactl/internal/observability"
)

// Admin surface: health, readiness, metrics, and a read-only /api/v1 group
// describing registered engine kinds and active runs.
func (s *Service) adminRouter() *gin.Engine {
	observability.RegisterMetrics()
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestTelemetry(s.cfg.HostID, log.Logger))
	r.Use(cors.New(cors.Config{
		AllowOrigins: normalizeOrigins(s.cfg.CORSOrigins),
		AllowMethods: []string{"GET"},
		AllowHeaders: []string{"Origin", "Content-Type", "Authorization"},
		MaxAge:       12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  time.Since(s.started).String(),
			"host":    s.cfg.HostID,
			"version": "0.0.1",
		})
	})

	r.GET("/readyz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"ready":   true,
			"uptime":  time.Since(s.started).String(),
			"host":    s.cfg.HostID,
			"version": "0.0.1",
		})
	})

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api/v1")
	if s.cfg.AdminToken != "" {
		api.Use(bearerAuth(auth.StaticToken{Token: s.cfg.AdminToken}))
	}

	api.GET("/status", func(c *gin.Context) {
		kinds := s.registry.ListMetadata()
		ids := make([]string, 0, len(kinds))
		for _, meta := range kinds {
			ids = append(ids, meta.ID)
		}
		c.JSON(http.StatusOK, gin.H{
			"host_id":         s.cfg.HostID,
			"uptime":          time.Since(s.started).String(),
			"active_sessions": s.sessionClientCount.Load(),
			"active_runs":     s.runs.Count(),
			"engine_kinds":    ids,
		})
	})

	api.GET("/engines", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"engines": s.registry.ListMetadata(),
		})
	})

	api.GET("/runs", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"runs": s.runs.List(),
		})
	})

	return r
}

// serveAdmin runs the admin HTTP server until ctx cancels.
func (s *Service) serveAdmin(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:    addr,
		Handler: s.adminRouter(),
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.log.Info().Str("addr", addr).Msg("admin listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func bearerAuth(validator auth.Validator) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := auth.BearerFromHeader(c.GetHeader("Authorization"))
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		if err := validator.Validate(token); err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}

func normalizeOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"http://localhost:3000"}
	}
	return origins
}
