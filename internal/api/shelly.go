package api

import (
	"bytes"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"shelly-dtu/internal/schema"
)

const (
	maxConfigBody   = 8 << 10
	defaultHistory  = time.Hour
	maxHistoryRows  = 5000
	defaultEventNum = 100
)

func (s *Server) getShellyConfigHandler(c *gin.Context) {
	c.JSON(http.StatusOK, s.store.Get())
}

// configPayload returns the submitted document: the form field "data" of a
// form post, the raw body otherwise.
func configPayload(c *gin.Context) ([]byte, error) {
	ct := c.ContentType()
	if ct == "application/x-www-form-urlencoded" || strings.HasPrefix(ct, "multipart/") {
		return []byte(c.PostForm("data")), nil
	}
	return io.ReadAll(io.LimitReader(c.Request.Body, maxConfigBody))
}

func (s *Server) postShellyConfigHandler(c *gin.Context) {
	payload, err := configPayload(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if len(bytes.TrimSpace(payload)) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No values found"})
		return
	}

	cfg, err := schema.ParseShellyConfig(payload)
	if err != nil {
		resp := gin.H{"error": err.Error()}
		if se, ok := schema.AsSchemaError(err); ok {
			resp["field"] = se.Field
			resp["reason"] = se.Reason
		}
		c.JSON(http.StatusBadRequest, resp)
		return
	}

	s.configMu.Lock()
	defer s.configMu.Unlock()

	previous := s.store.Get()
	s.store.Set(cfg)
	if err := s.saveConfig(cfg); err != nil {
		s.store.Set(previous)
		s.log.Error(err, "Failed to save shelly configuration")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to save configuration: " + err.Error()})
		return
	}

	s.log.Info("Shelly configuration updated",
		"shelly_enable", cfg.ShellyEnable,
		"limit_enable", cfg.LimitEnable,
		"view_option", cfg.ViewOption)
	c.JSON(http.StatusOK, gin.H{
		"message": "Shelly configuration updated successfully",
		"config":  cfg,
	})
}

func (s *Server) backupHandler(c *gin.Context) {
	if s.data == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Shelly data unavailable"})
		return
	}
	var buf bytes.Buffer
	if _, err := s.data.Backup(&buf); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	name := "shelly-backup-" + time.Now().Format("20060102-150405") + ".bin"
	c.Header("Content-Disposition", `attachment; filename="`+name+`"`)
	c.Data(http.StatusOK, "application/octet-stream", buf.Bytes())
}

type historyQuery struct {
	From  string `schema:"from"`
	To    string `schema:"to"`
	Limit int    `schema:"limit"`
}

func (s *Server) shellyHistoryHandler(c *gin.Context) {
	if s.db == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Database disabled"})
		return
	}

	var q historyQuery
	if err := s.decoder.Decode(&q, c.Request.URL.Query()); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	to := time.Now()
	from := to.Add(-defaultHistory)
	var err error
	if q.From != "" {
		if from, err = time.Parse(time.RFC3339, q.From); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid 'from' date format"})
			return
		}
	}
	if q.To != "" {
		if to, err = time.Parse(time.RFC3339, q.To); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid 'to' date format"})
			return
		}
	}
	if q.Limit <= 0 || q.Limit > maxHistoryRows {
		q.Limit = maxHistoryRows
	}

	rows, err := s.db.GetShellyHistory(from, to, q.Limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, rows)
}

type eventsQuery struct {
	Limit int `schema:"limit"`
}

func (s *Server) limitEventsHandler(c *gin.Context) {
	if s.db == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Database disabled"})
		return
	}

	var q eventsQuery
	if err := s.decoder.Decode(&q, c.Request.URL.Query()); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if q.Limit <= 0 || q.Limit > 1000 {
		q.Limit = defaultEventNum
	}

	events, err := s.db.GetLimitEvents(q.Limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, events)
}
