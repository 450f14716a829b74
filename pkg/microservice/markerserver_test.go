package microservice_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/illmade-knight/go-markerflow/pkg/listener"
	"github.com/illmade-knight/go-markerflow/pkg/markercache"
	"github.com/illmade-knight/go-markerflow/pkg/microservice"
	"github.com/illmade-knight/go-markerflow/pkg/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedStats listener.Stats

func (f fixedStats) Stats() listener.Stats { return listener.Stats(f) }

type featureCollection struct {
	Type     string `json:"type"`
	Features []struct {
		Geometry struct {
			Type        string      `json:"type"`
			Coordinates [][]float64 `json:"coordinates"`
		} `json:"geometry"`
		Properties map[string]any `json:"properties"`
	} `json:"features"`
}

func newTestServer() (*microservice.MarkerServer, *markercache.Cache) {
	cache := markercache.New(zerolog.Nop())
	cache.Upsert(markercache.Key{Namespace: "zones", ID: 4}, []types.Segment{
		{X1: 0, Y1: 0, X2: 1, Y2: 1, Color: types.Color{R: 255}},
	})
	cache.Upsert(markercache.Key{Namespace: "robots", ID: 1}, []types.Segment{
		{X1: 2, Y1: 0, X2: 3, Y2: 0, Color: types.Color{G: 255}},
		{X1: 3, Y1: 0, X2: 3, Y2: 1, Color: types.Color{G: 255}},
	})
	stats := fixedStats{Received: 3, Dropped: 1}
	return microservice.NewMarkerServer(zerolog.Nop(), ":0", cache, stats), cache
}

func TestMarkerServer_Markers(t *testing.T) {
	server, _ := newTestServer()

	t.Run("all namespaces as geojson", func(t *testing.T) {
		// Arrange
		req := httptest.NewRequest(http.MethodGet, "/markers", nil)
		rec := httptest.NewRecorder()

		// Act
		server.Mux().ServeHTTP(rec, req)

		// Assert
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "application/geo+json", rec.Header().Get("Content-Type"))

		var fc featureCollection
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &fc))
		assert.Equal(t, "FeatureCollection", fc.Type)
		require.Len(t, fc.Features, 3)

		first := fc.Features[0]
		assert.Equal(t, "LineString", first.Geometry.Type)
		assert.Equal(t, [][]float64{{2, 0}, {3, 0}}, first.Geometry.Coordinates)
		assert.Equal(t, "robots", first.Properties["ns"])
		assert.Equal(t, "#00ff00", first.Properties["color"])
		assert.Equal(t, "zones", fc.Features[2].Properties["ns"])
	})

	t.Run("namespace filter", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/markers?ns=zones", nil)
		rec := httptest.NewRecorder()

		server.Mux().ServeHTTP(rec, req)

		var fc featureCollection
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &fc))
		require.Len(t, fc.Features, 1)
		assert.Equal(t, "#ff0000", fc.Features[0].Properties["color"])
	})

	t.Run("zero-length segments are skipped", func(t *testing.T) {
		// Arrange
		server, cache := newTestServer()
		cache.Upsert(markercache.Key{Namespace: "flat", ID: 1}, []types.Segment{
			{X1: 1, Y1: 1, X2: 1, Y2: 1},
			{X1: 1, Y1: 1, X2: 2, Y2: 1},
		})
		rec := httptest.NewRecorder()

		// Act
		server.Mux().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/markers?ns=flat", nil))

		// Assert
		require.Equal(t, http.StatusOK, rec.Code)
		var fc featureCollection
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &fc))
		require.Len(t, fc.Features, 1)
		assert.Equal(t, [][]float64{{1, 1}, {2, 1}}, fc.Features[0].Geometry.Coordinates)
		assert.EqualValues(t, 1, fc.Features[0].Properties["segment"])
	})

	t.Run("post is not allowed", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/markers", nil)
		rec := httptest.NewRecorder()

		server.Mux().ServeHTTP(rec, req)

		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	})
}

func TestMarkerServer_Stats(t *testing.T) {
	server, cache := newTestServer()

	rec := httptest.NewRecorder()
	server.Mux().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/markers/stats", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var stats microservice.MarkerStats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, cache.Len(), stats.Live)
	assert.Equal(t, []string{"robots", "zones"}, stats.Namespaces)
	assert.Equal(t, uint64(3), stats.Dispatch.Received)
	assert.Equal(t, uint64(1), stats.Dispatch.Dropped)
}

func TestBaseServer_Lifecycle(t *testing.T) {
	server := microservice.NewBaseServer(zerolog.Nop(), ":0")
	require.NoError(t, server.Start())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(ctx)
	})

	port := server.GetHTTPPort()
	require.NotEqual(t, ":0", port)

	resp, err := http.Get("http://localhost" + port + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "OK", string(body))
}
