// Package status serves a read-only view of a running bot over HTTP.
package status

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/keshon/salabot/internal/plugin"
	"github.com/keshon/salabot/internal/version"
)

// Source is what the status pages read from. *bot.Bot implements it.
type Source interface {
	Catalog() plugin.Catalog
	StartedAt() time.Time
	RunningJobs() []string
}

type pluginView struct {
	Name        string   `json:"name"`
	Kind        string   `json:"kind"`
	Description string   `json:"description"`
	Aliases     []string `json:"aliases,omitempty"`
	Permission  string   `json:"permission"`
	AllowDM     bool     `json:"allow_dm"`
	Usage       string   `json:"usage"`
}

type subscriptionView struct {
	GuildID   string    `json:"guild_id"`
	ChannelID string    `json:"channel_id"`
	Since     time.Time `json:"since"`
}

type taskView struct {
	Name          string             `json:"name"`
	Schedule      string             `json:"schedule"`
	Armed         bool               `json:"armed"`
	Subscriptions []subscriptionView `json:"subscriptions"`
}

type Server struct {
	src    Source
	log    *zap.Logger
	router *gin.Engine
}

func New(src Source, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	gin.SetMode(gin.ReleaseMode)
	s := &Server{src: src, log: log, router: gin.New()}
	s.router.Use(gin.Recovery(), s.accessLog)
	s.router.GET("/healthz", s.health)
	s.router.GET("/plugins", s.plugins)
	s.router.GET("/tasks", s.tasks)
	return s
}

// Handler returns the router.
func (s *Server) Handler() http.Handler { return s.router }

// Run listens on addr until ctx is done.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.router, ReadHeaderTimeout: 5 * time.Second}

	errc := make(chan error, 1)
	go func() {
		s.log.Info("Status server listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		if err != nil {
			return fmt.Errorf("status server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("status server shutdown: %w", err)
	}
	return <-errc
}

func (s *Server) accessLog(c *gin.Context) {
	start := time.Now()
	c.Next()
	s.log.Debug("Status request",
		zap.String("path", c.Request.URL.Path),
		zap.Int("status", c.Writer.Status()),
		zap.Duration("elapsed", time.Since(start)))
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"app":     version.AppName,
		"version": version.Version,
		"uptime":  time.Since(s.src.StartedAt()).Round(time.Second).String(),
		"jobs":    s.src.RunningJobs(),
	})
}

// plugins lists commands and tasks grouped by category.
func (s *Server) plugins(c *gin.Context) {
	cat := s.src.Catalog()
	out := make(map[string][]pluginView)
	for _, category := range cat.Categories() {
		views := []pluginView{}
		for _, name := range cat.Members(category) {
			p, ok := cat.Lookup(name)
			if !ok {
				continue
			}
			h := p.Info()
			views = append(views, pluginView{
				Name:        h.Name,
				Kind:        string(p.Kind()),
				Description: h.Description,
				Aliases:     h.Aliases,
				Permission:  string(h.Permission),
				AllowDM:     h.AllowDM,
				Usage:       h.Usage(),
			})
		}
		out[category] = views
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) tasks(c *gin.Context) {
	out := []taskView{}
	for _, t := range s.src.Catalog().Tasks() {
		v := taskView{Name: t.Name, Schedule: t.Schedule, Subscriptions: []subscriptionView{}}
		if set := t.Subscriptions(); set != nil {
			v.Armed = set.Armed()
			for _, sub := range set.List() {
				v.Subscriptions = append(v.Subscriptions, subscriptionView{
					GuildID:   sub.GuildID,
					ChannelID: sub.ChannelID,
					Since:     sub.CreatedAt,
				})
			}
		}
		out = append(out, v)
	}
	c.JSON(http.StatusOK, out)
}
