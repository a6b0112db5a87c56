package pagegen

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/eringen/pagegen/logfields"
	"github.com/eringen/pagegen/pipeline"
	"github.com/eringen/pagegen/views"
)

func (a *App) setupRoutes() {
	e := a.Echo

	// User's static assets
	e.Static("/public", a.staticDir)
	e.GET("/favicon.svg", a.handleFavicon)
	e.GET("/robots.txt", a.handleRobots)

	// Public routes
	e.GET("/", a.handleIndex)
	e.GET("/sitemap.xml", a.handleSitemap)
	e.GET("/feed.xml", a.handleFeed)
	e.GET("/healthz", a.handleHealth)
	if !a.Config.DisableMetrics {
		e.GET("/metrics", echo.WrapHandler(a.Metrics.Handler()))
	}
	e.POST("/api/revalidate", a.handleRevalidate)

	// Admin routes
	e.GET("/admin/", a.handleAdmin)
	e.POST("/admin/login/", a.handleAdminLogin)
	e.POST("/admin/logout/", handleAdminLogout)

	api := e.Group("/admin/api", requireAdmin)
	api.GET("/templates", a.handleListTemplates)
	api.POST("/templates", a.handleSaveTemplate)
	api.GET("/templates/:id", a.handleGetTemplate)
	api.DELETE("/templates/:id", a.handleDeleteTemplate)
	api.GET("/templates/:id/variables", a.handleTemplateVariables)
	api.POST("/templates/:id/preview", a.handlePreviewTemplate)
	api.GET("/jobs", a.handleListJobs)
	api.POST("/jobs", a.handleCreateJob)
	api.GET("/jobs/:id", a.handleGetJob)
	api.DELETE("/jobs/:id", a.handleDeleteJob)
	api.POST("/jobs/:id/execute", a.handleExecuteJob)
	api.POST("/jobs/:id/queue", a.handleQueueJob)
	api.GET("/pages", a.handleListPages)
	api.POST("/pages/publish", a.handlePublishPage)
	api.DELETE("/pages", a.handleDeletePage)
	api.GET("/states", a.handleListStates)

	// Generated pages own every remaining path.
	e.GET("/*", a.handlePage)
}

func (a *App) site() views.SiteConfig {
	return views.SiteConfig{Name: a.Config.Name, URL: a.Config.URL, Description: a.Config.Description}
}

func (a *App) handleIndex(c echo.Context) error {
	pages, err := a.Cache.ListPages(c.Request().Context())
	if err != nil {
		return err
	}
	links := make([]views.PageLink, 0, len(pages))
	for _, p := range pages {
		links = append(links, views.PageLink{Slug: p.Slug, Title: p.Title, Subtitle: p.Subtitle, UpdatedAt: p.UpdatedAt})
	}
	return Render(c, views.Index(a.site(), links))
}

func (a *App) handlePage(c echo.Context) error {
	slug := strings.Trim(c.Param("*"), "/")
	if slug == "" {
		return echo.ErrNotFound
	}
	ctx := c.Request().Context()
	page, err := a.Cache.GetPage(ctx, slug)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return RenderStatus(c, http.StatusNotFound, views.NotFound())
		}
		return err
	}
	t, err := a.Cache.GetTemplate(ctx, page.TemplateID)
	if err != nil {
		return err
	}
	return Render(c, views.Page(a.site(), a.renderDocument(&page, t)))
}

func (a *App) handleSitemap(c echo.Context) error {
	pages, err := a.Cache.ListPages(c.Request().Context())
	if err != nil {
		return err
	}
	return a.renderSitemap(c, pages)
}

func (a *App) handleFeed(c echo.Context) error {
	pages, err := a.Cache.ListPages(c.Request().Context())
	if err != nil {
		return err
	}
	return a.renderRSS(c, pages)
}

func (a *App) handleHealth(c echo.Context) error {
	if err := a.Store.Ping(); err != nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// handleRevalidate drops a cached path. Downstream copies of this engine use
// it as their revalidation endpoint.
func (a *App) handleRevalidate(c echo.Context) error {
	secret := c.QueryParam("secret")
	if a.Config.RevalidateSecret == "" ||
		subtle.ConstantTimeCompare([]byte(secret), []byte(a.Config.RevalidateSecret)) != 1 {
		return c.JSON(http.StatusUnauthorized, map[string]string{"message": "Invalid token"})
	}
	path := c.QueryParam("path")
	if path == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"message": "Missing path to revalidate"})
	}
	if err := a.Cache.InvalidatePath(c.Request().Context(), path); err != nil {
		return err
	}
	a.Logger.Info("revalidated", logfields.Path(path))
	return c.JSON(http.StatusOK, map[string]any{"revalidated": true, "now": time.Now().UnixMilli()})
}

func (a *App) handleFavicon(c echo.Context) error {
	return c.File(a.staticDir + "/favicon.svg")
}

func (a *App) handleRobots(c echo.Context) error {
	return c.File(a.staticDir + "/robots.txt")
}

func isAPIPath(path string) bool {
	return strings.HasPrefix(path, "/api/") || strings.HasPrefix(path, "/admin/api/")
}

// statusFor maps handler errors to HTTP status codes.
func statusFor(err error) int {
	var he *echo.HTTPError
	switch {
	case errors.As(err, &he):
		return he.Code
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, pipeline.ErrNotStartable),
		errors.Is(err, ErrJobNotProcessing),
		errors.Is(err, ErrTemplateInUse):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (a *App) httpErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	code := statusFor(err)
	if code >= 500 {
		a.Logger.Error("server error", logfields.URI(c.Request().RequestURI), logfields.Error(err))
	}
	if isAPIPath(c.Request().URL.Path) {
		msg := http.StatusText(code)
		var he *echo.HTTPError
		if errors.As(err, &he) {
			if s, ok := he.Message.(string); ok {
				msg = s
			}
		} else if code < 500 {
			msg = err.Error()
		}
		if err := c.JSON(code, map[string]string{"error": msg}); err != nil {
			a.Logger.Warn("write error response", logfields.Error(err))
		}
		return
	}
	switch {
	case code == http.StatusNotFound:
		_ = RenderStatus(c, http.StatusNotFound, views.NotFound())
	case code >= 500:
		_ = RenderStatus(c, code, views.ServerError())
	default:
		a.Echo.DefaultHTTPErrorHandler(err, c)
	}
}
