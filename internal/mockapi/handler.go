package mockapi

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"marko-dashboard/internal/auth"
	"marko-dashboard/internal/models"
	"marko-dashboard/internal/security"
)

// Handler returns the engine's HTTP surface.
func (e *Engine) Handler() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), e.latency(), e.accessLog())
	e.Register(r)
	return r
}

// Register mounts the engine routes on r.
func (e *Engine) Register(r *gin.Engine) {
	v2 := r.Group("/api/v2/strategies")
	v2.GET("", e.listInstances)
	v2.POST("/:id/control", e.controlInstance)
	v2.GET("/:id/telemetry", e.instanceTelemetry)
	v2.GET("/:id/chart", e.instanceChart)

	r.GET("/api/v1/telemetry", e.legacyTelemetry)
	r.GET("/api/chart", e.legacyChart)
	r.GET("/api/v1/events", e.listEvents)

	admin := r.Group("/api/v2/admin")
	admin.POST("/instances", e.createInstanceHandler)
	admin.DELETE("/instances/:id", e.deleteInstanceHandler)
	admin.POST("/strategies/install", e.installHandler)

	catalog := r.Group("/api/v2/catalog/strategies")
	catalog.GET("", e.listCatalog)
	catalog.GET("/:id/schema", e.catalogSchema)
	catalog.GET("/:id/readme", e.catalogReadme)

	authGroup := r.Group("/api/auth")
	authGroup.POST("/login", e.login)
	authGroup.POST("/register", e.register)
	authGroup.GET("/me", e.me)
}

func (e *Engine) latency() gin.HandlerFunc {
	return func(c *gin.Context) {
		if e.cfg.Latency > 0 {
			select {
			case <-c.Request.Context().Done():
			case <-time.After(e.cfg.Latency):
			}
		}
		c.Next()
	}
}

func (e *Engine) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		e.logger.Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Str("request_id", c.GetHeader("X-Request-ID")).
			Msg("Mock request")
	}
}

func fail(c *gin.Context, status int, detail string) {
	c.JSON(status, gin.H{"detail": detail})
}

func respondAction(c *gin.Context, err error, message string) {
	var rej rejection
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"success": true, "message": message})
	case errors.Is(err, errNotFound):
		fail(c, http.StatusNotFound, "instance not found")
	case errors.As(err, &rej):
		c.JSON(http.StatusOK, gin.H{"success": false, "error": string(rej)})
	default:
		fail(c, http.StatusInternalServerError, err.Error())
	}
}

func (e *Engine) listInstances(c *gin.Context) {
	c.JSON(http.StatusOK, e.Instances())
}

func (e *Engine) controlInstance(c *gin.Context) {
	var body struct {
		Action string `json:"action"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		fail(c, http.StatusBadRequest, "invalid body")
		return
	}
	action, ok := models.ParseControlAction(strings.ToLower(body.Action))
	if !ok {
		fail(c, http.StatusBadRequest, "unknown action "+body.Action)
		return
	}
	msg, err := e.control(c.Param("id"), action)
	respondAction(c, err, msg)
}

func (e *Engine) instanceTelemetry(c *gin.Context) {
	e.serveTelemetry(c, c.Param("id"))
}

func (e *Engine) legacyTelemetry(c *gin.Context) {
	e.serveTelemetry(c, "")
}

func (e *Engine) serveTelemetry(c *gin.Context, id string) {
	p, err := e.telemetry(id)
	if err != nil {
		fail(c, http.StatusNotFound, "instance not found")
		return
	}
	c.JSON(http.StatusOK, p)
}

func (e *Engine) instanceChart(c *gin.Context) {
	e.serveChart(c, c.Param("id"))
}

func (e *Engine) legacyChart(c *gin.Context) {
	e.serveChart(c, "")
}

func (e *Engine) serveChart(c *gin.Context, id string) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	p, err := e.chart(id, limit, c.Query("symbol"))
	if err != nil {
		fail(c, http.StatusNotFound, "instance not found")
		return
	}
	c.JSON(http.StatusOK, p)
}

type wireLog struct {
	Timestamp  time.Time `json:"timestamp"`
	Level      string    `json:"level"`
	Message    string    `json:"message"`
	Module     string    `json:"module"`
	InstanceID string    `json:"instance_id,omitempty"`
}

func (e *Engine) listEvents(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit <= 0 {
		limit = 50
	}
	limit = min(limit, 500)
	offset, err := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if err != nil || offset < 0 {
		offset = 0
	}

	page := e.events(models.LogFilter{
		Limit:      limit,
		Offset:     offset,
		Level:      models.ParseLogLevel(c.Query("level")),
		InstanceID: c.Query("instance_id"),
	})
	logs := make([]wireLog, 0, len(page.Logs))
	for _, r := range page.Logs {
		logs = append(logs, wireLog{Timestamp: r.Timestamp, Level: string(r.Level), Message: r.Message, Module: r.Module, InstanceID: r.InstanceID})
	}
	c.JSON(http.StatusOK, gin.H{"total": page.Total, "limit": page.Limit, "offset": page.Offset, "logs": logs})
}

func (e *Engine) createInstanceHandler(c *gin.Context) {
	var req models.CreateInstanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "invalid body")
		return
	}
	if err := security.NewInputValidator().ValidateCreateInstance(req); err != nil {
		fail(c, http.StatusUnprocessableEntity, err.Error())
		return
	}
	respondAction(c, e.createInstance(req), "Instance created (MOCK). Restart required.")
}

func (e *Engine) deleteInstanceHandler(c *gin.Context) {
	respondAction(c, e.deleteInstance(c.Param("id")), "Instance deleted (MOCK). Restart required.")
}

func (e *Engine) installHandler(c *gin.Context) {
	var req models.InstallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "invalid body")
		return
	}
	if req.Version == "" {
		req.Version = "main"
	}
	if err := security.NewInputValidator().ValidateInstall(req); err != nil {
		fail(c, http.StatusUnprocessableEntity, err.Error())
		return
	}
	id := e.install(req)
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Strategy installed successfully (MOCK)", "strategy_id": id})
}

func (e *Engine) listCatalog(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"strategies": e.catalog()})
}

func (e *Engine) catalogSchema(c *gin.Context) {
	d, ok := e.definition(c.Param("id"))
	if !ok {
		fail(c, http.StatusNotFound, "strategy not found")
		return
	}
	fields := make([]gin.H, 0, len(d.fields))
	for _, f := range d.fields {
		fields = append(fields, gin.H{"name": f})
	}
	c.JSON(http.StatusOK, gin.H{"telemetry_fields": fields, "default_params": d.params})
}

func (e *Engine) catalogReadme(c *gin.Context) {
	d, ok := e.definition(c.Param("id"))
	if !ok || d.readme == "" {
		fail(c, http.StatusNotFound, "readme not found")
		return
	}
	c.Data(http.StatusOK, "text/markdown; charset=utf-8", []byte(d.readme))
}

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (e *Engine) login(c *gin.Context) {
	var cred credentials
	if err := c.ShouldBindJSON(&cred); err != nil {
		fail(c, http.StatusBadRequest, "invalid body")
		return
	}
	e.mu.Lock()
	want, ok := e.users[strings.ToLower(cred.Email)]
	e.mu.Unlock()
	if !ok || want != cred.Password {
		fail(c, http.StatusUnauthorized, "Invalid credentials")
		return
	}
	e.issue(c, cred.Email)
}

func (e *Engine) register(c *gin.Context) {
	var cred credentials
	if err := c.ShouldBindJSON(&cred); err != nil || cred.Email == "" || cred.Password == "" {
		fail(c, http.StatusBadRequest, "email and password required")
		return
	}
	email := strings.ToLower(cred.Email)
	e.mu.Lock()
	_, exists := e.users[email]
	if !exists {
		e.users[email] = cred.Password
	}
	e.mu.Unlock()
	if exists {
		fail(c, http.StatusConflict, "Email already registered")
		return
	}
	e.issue(c, email)
}

func (e *Engine) issue(c *gin.Context, email string) {
	token, err := e.Mint(email, 24*time.Hour)
	if err != nil {
		fail(c, http.StatusInternalServerError, err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"access_token": token, "token_type": "bearer"})
}

// Mint signs a local login token for email.
func (e *Engine) Mint(email string, ttl time.Duration) (string, error) {
	now := e.clock.Now()
	username := email
	if i := strings.IndexByte(email, '@'); i > 0 {
		username = email[:i]
	}
	claims := auth.Claims{
		Username: username,
		Role:     "operator",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    auth.LocalIssuer,
			Subject:   strings.ToLower(email),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(e.secret)
}

func (e *Engine) me(c *gin.Context) {
	raw := strings.TrimSpace(strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer "))
	if raw == "" {
		fail(c, http.StatusUnauthorized, "Not authenticated")
		return
	}
	claims := &auth.Claims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (interface{}, error) {
		return e.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(e.clock.Now))
	if err != nil {
		fail(c, http.StatusUnauthorized, "Invalid token")
		return
	}
	profile := models.UserProfile{ID: claims.Subject, Username: claims.Username, Email: claims.Subject, Role: claims.Role}
	if claims.IssuedAt != nil {
		profile.CreatedAt = claims.IssuedAt.Time
	}
	c.JSON(http.StatusOK, profile)
}

// Server is a mock engine listening on a local port.
type Server struct {
	URL string
	srv *http.Server
}

// Listen serves the engine on addr ("127.0.0.1:0" picks a free port).
func Listen(e *Engine, addr string) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	s := &Server{
		URL: "http://" + ln.Addr().String(),
		srv: &http.Server{Handler: e.Handler(), ReadHeaderTimeout: 5 * time.Second},
	}
	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			e.logger.Error().Err(err).Msg("Mock engine stopped")
		}
	}()
	e.logger.Info().Str("url", s.URL).Msg("Mock engine listening")
	return s, nil
}

// Close shuts the server down.
func (s *Server) Close(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
