package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"shelly-dtu/internal/schema"
	"shelly-dtu/internal/shelly"
)

const (
	graphInterval        = 2 * time.Second
	graphInitialInterval = 60 * time.Second
)

var (
	diagramPro3EM = []shelly.Series{shelly.Pro3EM, shelly.Pro3EMMin, shelly.Pro3EMMax}
	diagramPlugs  = []shelly.Series{shelly.Plugs, shelly.PlugsMin, shelly.PlugsMax}
	diagramLimit  = []shelly.Series{shelly.CalculatedLimit, shelly.Limit}
	diagramAll    = []shelly.Series{shelly.Pro3EM, shelly.Plugs, shelly.Limit}
)

func graphs(series []shelly.Series) []schema.SingleGraph {
	out := make([]schema.SingleGraph, 0, len(series))
	for _, s := range series {
		out = append(out, s.Graph())
	}
	return out
}

// BuildGraph answers a graph poll. The client passes the timestamp of its
// previous answer; an explicit 0 asks for the last minute, a missing
// timestamp for the last poll interval. Below the diagram view the diagrams
// and series stay empty.
func BuildGraph(cfg schema.ShellyConfig, data *shelly.Data, timestamp *int64) schema.LiveDataGraph {
	var ts int64
	interval := graphInterval
	if timestamp != nil {
		ts = *timestamp
		if ts == 0 {
			interval = graphInitialInterval
		}
	}

	g := schema.LiveDataGraph{
		Timestamp:     strconv.FormatInt(ts+interval.Milliseconds(), 10),
		Interval:      float64(interval.Milliseconds()),
		DiagramPro3EM: []schema.SingleGraph{},
		DiagramPlugs:  []schema.SingleGraph{},
		DiagramLimit:  []schema.SingleGraph{},
		DiagramAll:    []schema.SingleGraph{},
	}
	for _, name := range schema.DataNames {
		g.SetSeries(name, "[]")
	}

	if cfg.ViewOption < schema.ViewDiagramInfo || data == nil {
		return g
	}

	for _, s := range shelly.AllSeries {
		g.SetSeries(s.DataName(), data.SeriesJSON(s, interval))
	}
	g.DiagramPro3EM = graphs(diagramPro3EM)
	g.DiagramPlugs = graphs(diagramPlugs)
	g.DiagramLimit = graphs(diagramLimit)
	g.DiagramAll = graphs(diagramAll)
	return g
}

type graphQuery struct {
	Timestamp *int64 `schema:"timestamp"`
}

func (s *Server) graphHandler(c *gin.Context) {
	var q graphQuery
	if err := s.decoder.Decode(&q, c.Request.URL.Query()); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid 'timestamp'"})
		return
	}

	s.writeGraph(c, BuildGraph(s.store.Get(), s.data, q.Timestamp))
}

// writeGraph sends the answer only when it passes the graph guard.
func (s *Server) writeGraph(c *gin.Context, g schema.LiveDataGraph) {
	if _, err := schema.ValidateLiveDataGraph(g); err != nil {
		s.log.Error(err, "Graph answer rejected")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, g)
}
