package microservice

import (
	"encoding/json"
	"net/http"

	"github.com/illmade-knight/go-markerflow/pkg/listener"
	"github.com/illmade-knight/go-markerflow/pkg/markercache"
	"github.com/peterstace/simplefeatures/geom"
	"github.com/rs/zerolog"
)

// StatsSource reports dispatcher totals. *listener.Dispatcher implements it.
type StatsSource interface {
	Stats() listener.Stats
}

// MarkerStats is the body of GET /markers/stats.
type MarkerStats struct {
	Live       int            `json:"live"`
	Namespaces []string       `json:"namespaces"`
	Dispatch   listener.Stats `json:"dispatch"`
}

// MarkerServer serves the live marker set.
//
//	GET /markers               GeoJSON FeatureCollection, one LineString per segment
//	GET /markers?ns=robots     the same, limited to one namespace
//	GET /markers/stats         MarkerStats as JSON
type MarkerServer struct {
	*BaseServer
	cache *markercache.Cache
	stats StatsSource
}

// NewMarkerServer registers the marker routes on a new BaseServer. stats may
// be nil, in which case dispatch totals are reported as zero.
func NewMarkerServer(logger zerolog.Logger, httpPort string, cache *markercache.Cache, stats StatsSource) *MarkerServer {
	s := &MarkerServer{
		BaseServer: NewBaseServer(logger, httpPort),
		cache:      cache,
		stats:      stats,
	}
	s.Mux().HandleFunc("GET /markers", s.handleMarkers)
	s.Mux().HandleFunc("GET /markers/stats", s.handleStats)
	return s
}

func (s *MarkerServer) handleMarkers(w http.ResponseWriter, r *http.Request) {
	namespace := r.URL.Query().Get("ns")

	collection := geom.GeoJSONFeatureCollection{}
	for _, m := range s.cache.Markers() {
		if namespace != "" && m.Key.Namespace != namespace {
			continue
		}
		for i, segment := range m.Segments {
			line, err := geom.NewLineString(geom.NewSequence(
				[]float64{segment.X1, segment.Y1, segment.X2, segment.Y2}, geom.DimXY,
			))
			if err != nil {
				// Zero-length segments (flat cubes, arrows without a head) have
				// no line geometry.
				s.Logger.Debug().Err(err).Stringer("key", m.Key).Int("segment", i).Msg("Skipping degenerate segment.")
				continue
			}
			collection = append(collection, geom.GeoJSONFeature{
				Geometry: line.AsGeometry(),
				Properties: map[string]any{
					"ns":      m.Key.Namespace,
					"id":      m.Key.ID,
					"segment": i,
					"color":   segment.Color.Hex(),
				},
			})
		}
	}

	w.Header().Set("Content-Type", "application/geo+json")
	if err := json.NewEncoder(w).Encode(&collection); err != nil {
		s.Logger.Error().Err(err).Msg("Failed to encode marker collection.")
	}
}

func (s *MarkerServer) handleStats(w http.ResponseWriter, _ *http.Request) {
	body := MarkerStats{
		Live:       s.cache.Len(),
		Namespaces: s.cache.Namespaces(),
	}
	if body.Namespaces == nil {
		body.Namespaces = []string{}
	}
	if s.stats != nil {
		body.Dispatch = s.stats.Stats()
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.Logger.Error().Err(err).Msg("Failed to encode marker stats.")
	}
}
