package api

import (
	"context"
	"crypto/subtle"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-logr/logr"
	gschema "github.com/gorilla/schema"

	"shelly-dtu/config"
	"shelly-dtu/internal/schema"
	"shelly-dtu/internal/shelly"
	"shelly-dtu/internal/storage"
)

// AuthUsername is the only account of the basic authentication.
const AuthUsername = "admin"

// LiveSource provides the current snapshot. *collector.Collector
// implements it.
type LiveSource interface {
	Latest() *schema.LiveData
	IsCollecting() bool
}

type Server struct {
	router     *gin.Engine
	server     *http.Server
	live       LiveSource
	db         *storage.Database
	store      *shelly.Store
	data       *shelly.Data
	port       int
	password   string
	readonly   bool
	saveConfig func(schema.ShellyConfig) error
	log        logr.Logger
	decoder    *gschema.Decoder
	sockets    *sockets
	configMu   sync.Mutex
}

type ServerConfig struct {
	Port     int
	Live     LiveSource
	Database *storage.Database
	Store    *shelly.Store
	Data     *shelly.Data
	// Password protects the config endpoints, and the read endpoints
	// unless AllowReadonly is set.
	Password      string
	AllowReadonly bool
	// ConfigPath receives Shelly config changes. SaveConfig overrides it.
	ConfigPath string
	SaveConfig func(schema.ShellyConfig) error
	Logger     logr.Logger
}

func NewServer(cfg ServerConfig) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	log := cfg.Logger
	if log.GetSink() == nil {
		log = logr.Discard()
	}
	router.Use(requestLogger(log.WithName("http")))

	save := cfg.SaveConfig
	if save == nil {
		path := cfg.ConfigPath
		save = func(c schema.ShellyConfig) error { return config.SaveShelly(path, c) }
	}

	decoder := gschema.NewDecoder()
	decoder.IgnoreUnknownKeys(true)

	s := &Server{
		router:     router,
		live:       cfg.Live,
		db:         cfg.Database,
		store:      cfg.Store,
		data:       cfg.Data,
		port:       cfg.Port,
		password:   cfg.Password,
		readonly:   cfg.AllowReadonly,
		saveConfig: save,
		log:        log,
		decoder:    decoder,
	}
	s.sockets = newSockets(cfg.Live, log.WithName("livedata"))

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.healthHandler)

	read := s.router.Group("/", s.readAuth)
	{
		read.GET("/livedata", s.sockets.handle)
		read.GET("/api/livedata/status", s.statusHandler)
		read.GET("/api/livedata/graph", s.graphHandler)
		read.GET("/api/shelly/history", s.shellyHistoryHandler)
		read.GET("/api/limit/events", s.limitEventsHandler)
		read.GET("/api/readings", s.readingsHandler)
		read.GET("/api/readings/latest", s.latestReadingHandler)
		read.GET("/api/stats/daily", s.dailyStatsHandler)
	}

	admin := s.router.Group("/api", s.requireAuth)
	{
		admin.GET("/shelly/config", s.getShellyConfigHandler)
		admin.POST("/shelly/config", s.postShellyConfigHandler)
		admin.GET("/shelly/backup", s.backupHandler)
	}
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.log.Info("API server starting", "port", s.port)
	return s.server.ListenAndServe()
}

func (s *Server) Stop(ctx context.Context) error {
	s.sockets.closeAll()
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func requestLogger(log logr.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.V(1).Info("Request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start))
	}
}

func (s *Server) authorized(c *gin.Context) bool {
	user, pass, ok := c.Request.BasicAuth()
	if !ok {
		return false
	}
	userOK := subtle.ConstantTimeCompare([]byte(user), []byte(AuthUsername)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(pass), []byte(s.password)) == 1
	return userOK && passOK
}

func (s *Server) requireAuth(c *gin.Context) {
	if s.authorized(c) {
		c.Next()
		return
	}
	c.Header("WWW-Authenticate", `Basic realm="shelly-dtu"`)
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
}

func (s *Server) readAuth(c *gin.Context) {
	if s.readonly {
		c.Next()
		return
	}
	s.requireAuth(c)
}

func (s *Server) healthHandler(c *gin.Context) {
	reachable := false
	if d := s.live.Latest(); d != nil {
		for _, inv := range d.Inverters {
			reachable = reachable || inv.Reachable
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"status":             "healthy",
		"inverter_reachable": reachable,
		"collecting":         s.live.IsCollecting(),
		"websocket_clients":  s.sockets.count(),
		"timestamp":          time.Now(),
	})
}

type statusQuery struct {
	Inv string `schema:"inv"`
}

func (s *Server) statusHandler(c *gin.Context) {
	var q statusQuery
	if err := s.decoder.Decode(&q, c.Request.URL.Query()); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	d := s.live.Latest()
	if d == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "No data available yet"})
		return
	}

	if q.Inv == "" {
		c.JSON(http.StatusOK, d)
		return
	}
	serial, err := strconv.ParseUint(q.Inv, 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid 'inv' serial"})
		return
	}

	filtered := *d
	filtered.Inverters = []schema.Inverter{}
	if inv, ok := d.Inverter(serial); ok {
		filtered.Inverters = append(filtered.Inverters, inv)
	}
	c.JSON(http.StatusOK, filtered)
}
