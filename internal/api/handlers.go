package api

import (
	"fmt"
	"net/http"
	"path/filepath"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/sells-group/drastic-cli/internal/model"
	"github.com/sells-group/drastic-cli/internal/publish"
	"github.com/sells-group/drastic-cli/internal/raster"
	"github.com/sells-group/drastic-cli/internal/store"
)

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := pageParams(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	runs, err := s.store.ListRuns(r.Context(), store.RunFilter{
		Status: model.RunStatus(r.URL.Query().Get("status")),
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		s.storeError(w, err)
		return
	}
	if runs == nil {
		runs = []model.Run{}
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.store.GetRun(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.storeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (s *Server) listPhases(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.store.GetRun(r.Context(), id); err != nil {
		s.storeError(w, err)
		return
	}
	phases, err := s.store.ListPhases(r.Context(), id)
	if err != nil {
		s.storeError(w, err)
		return
	}
	if phases == nil {
		phases = []model.RunPhase{}
	}
	writeJSON(w, http.StatusOK, phases)
}

func (s *Server) listLayers(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := pageParams(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	q := r.URL.Query()
	layers, err := s.store.ListLayers(r.Context(), store.LayerFilter{
		RunID:  q.Get("run_id"),
		Name:   q.Get("name"),
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		s.storeError(w, err)
		return
	}
	if layers == nil {
		layers = []model.Layer{}
	}
	writeJSON(w, http.StatusOK, layers)
}

func (s *Server) getLayer(w http.ResponseWriter, r *http.Request) {
	layer, err := s.store.GetLayer(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.storeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, layer)
}

// downloadLayer streams the layer's raster file. A file whose checksum no
// longer matches the registered one is refused with 409.
func (s *Server) downloadLayer(w http.ResponseWriter, r *http.Request) {
	layer, err := s.store.GetLayer(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.storeError(w, err)
		return
	}
	sum, err := raster.Checksum(layer.Path)
	if err != nil {
		s.log.Warn("api: layer file unavailable", zap.String("layer", layer.ID), zap.Error(err))
		writeError(w, http.StatusGone, "layer file unavailable")
		return
	}
	if layer.Checksum != "" && sum != layer.Checksum {
		writeError(w, http.StatusConflict, "layer file changed since registration")
		return
	}
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filepath.Base(layer.Path)))
	w.Header().Set("ETag", strconv.Quote(sum))
	http.ServeFile(w, r, layer.Path)
}

// layerStats computes statistics of the layer's raster, caching them per
// checksum and bin count.
func (s *Server) layerStats(w http.ResponseWriter, r *http.Request) {
	layer, err := s.store.GetLayer(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.storeError(w, err)
		return
	}
	bins := s.opts.HistogramBins
	if v := r.URL.Query().Get("bins"); v != "" {
		n, convErr := strconv.Atoi(v)
		if convErr != nil || n <= 0 || n > 1000 {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid bins %q", v))
			return
		}
		bins = n
	}

	key := fmt.Sprintf("%s|%s|%d", layer.ID, layer.Checksum, bins)
	if st, ok := s.stats.Get(key); ok {
		s.metrics.CacheResult(true)
		w.Header().Set("X-Cache", "hit")
		writeJSON(w, http.StatusOK, st)
		return
	}
	s.metrics.CacheResult(false)

	g, err := raster.Open(layer.Path)
	if err != nil {
		s.log.Warn("api: open layer raster", zap.String("layer", layer.ID), zap.Error(err))
		writeError(w, http.StatusGone, "layer file unavailable")
		return
	}
	st := raster.ComputeStats(g, bins)
	s.stats.Add(key, st)
	w.Header().Set("X-Cache", "miss")
	writeJSON(w, http.StatusOK, st)
}

// tile serves a published layer as a vector tile.
func (s *Server) tile(w http.ResponseWriter, r *http.Request) {
	if s.tiles == nil {
		writeError(w, http.StatusNotFound, "tiles are not enabled")
		return
	}
	layer := chi.URLParam(r, "layer")
	var zxy [3]int
	for i, name := range []string{"z", "x", "y"} {
		v, err := strconv.Atoi(chi.URLParam(r, name))
		if err != nil || v < 0 {
			writeError(w, http.StatusBadRequest, "invalid "+name+" coordinate")
			return
		}
		zxy[i] = v
	}
	z, x, y := zxy[0], zxy[1], zxy[2]
	if z < publish.MinTileZoom || z > publish.MaxTileZoom {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	key := fmt.Sprintf("%s/%d/%d/%d", layer, z, x, y)
	if cached, ok := s.tileCache.Get(key); ok {
		w.Header().Set("Content-Type", "application/vnd.mapbox-vector-tile")
		w.Header().Set("X-Cache", "hit")
		_, _ = w.Write(cached)
		return
	}

	data, err := s.tiles.Tile(r.Context(), layer, z, x, y)
	if err != nil {
		s.log.Error("api: tile generation failed",
			zap.String("layer", layer),
			zap.Int("z", z), zap.Int("x", x), zap.Int("y", y),
			zap.Error(err),
		)
		writeError(w, http.StatusInternalServerError, "tile generation failed")
		return
	}
	s.tileCache.Add(key, data)
	w.Header().Set("Content-Type", "application/vnd.mapbox-vector-tile")
	w.Header().Set("X-Cache", "miss")
	w.Header().Set("Cache-Control", "public, max-age=3600")
	_, _ = w.Write(data)
}
