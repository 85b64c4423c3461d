package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"broadphase/internal/render"
	"broadphase/internal/sim"
	"broadphase/internal/spatial"
)

// boxRequest is the JSON body of the query endpoints
type boxRequest struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
	Unique bool    `json:"unique"`
}

func (b boxRequest) box() spatial.AABB {
	return spatial.AABB{X: b.X, Y: b.Y, Width: b.Width, Height: b.Height}
}

func (h *routerHandlers) handleGetStats(w http.ResponseWriter, r *http.Request) {
	snapshot := h.world.GetSnapshot()
	index := h.world.IndexStats()

	// null until the first body is indexed
	var avg *float64
	if v, err := h.world.AverageOccupancy(); err == nil {
		avg = &v
	}

	writeJSON(w, map[string]interface{}{
		"tick":         snapshot.TickNumber,
		"bodyCount":    snapshot.BodyCount,
		"contactPairs": snapshot.ContactPairs,
		"index": map[string]interface{}{
			"objects":          index.Objects,
			"bucketCount":      index.Buckets,
			"entries":          index.Entries,
			"largestBucket":    index.LargestBucket,
			"averageOccupancy": avg,
			"freeBuckets":      index.FreeBuckets,
		},
	})
}

func (h *routerHandlers) handleGetSparseness(w http.ResponseWriter, r *http.Request) {
	var region spatial.AABB
	fields := []struct {
		name string
		dst  *float64
	}{
		{"x", &region.X},
		{"y", &region.Y},
		{"width", &region.Width},
		{"height", &region.Height},
	}
	for _, f := range fields {
		v, err := strconv.ParseFloat(r.URL.Query().Get(f.name), 64)
		if err != nil {
			writeError(w, fmt.Sprintf("Invalid %s", f.name), http.StatusBadRequest)
			return
		}
		*f.dst = v
	}
	if !region.Valid() {
		writeError(w, "Invalid region", http.StatusBadRequest)
		return
	}

	writeJSON(w, map[string]interface{}{
		"occupiedCells": h.world.Sparseness(region),
	})
}

func (h *routerHandlers) handleListBodies(w http.ResponseWriter, r *http.Request) {
	// Lock-free: serve the last published snapshot
	snapshot := h.world.GetSnapshot()

	limit := len(snapshot.Bodies)
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, "Invalid limit", http.StatusBadRequest)
			return
		}
		limit = min(limit, n)
	}

	writeJSON(w, map[string]interface{}{
		"tick":      snapshot.TickNumber,
		"bodyCount": snapshot.BodyCount,
		"bodies":    snapshot.Bodies[:limit],
	})
}

func (h *routerHandlers) handleAddBody(w http.ResponseWriter, r *http.Request) {
	var opts sim.BodyOptions
	if err := json.NewDecoder(r.Body).Decode(&opts); err != nil {
		writeError(w, "Invalid request", http.StatusBadRequest)
		return
	}

	body, err := h.world.AddBody(opts)
	switch {
	case errors.Is(err, sim.ErrBodyLimit):
		writeError(w, "Body limit reached", http.StatusServiceUnavailable)
		return
	case errors.Is(err, sim.ErrDuplicateBody):
		writeError(w, err.Error(), http.StatusConflict)
		return
	case errors.Is(err, spatial.ErrInvalidBounds):
		writeError(w, "Invalid bounds", http.StatusBadRequest)
		return
	case errors.Is(err, spatial.ErrRangeTooLarge):
		writeError(w, "Body too large", http.StatusBadRequest)
		return
	case err != nil:
		log.Printf("❌ Add body failed: %v", err)
		writeError(w, "Internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(body)
}

func (h *routerHandlers) handleBatchSpawn(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Count int `json:"count"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "Invalid request", http.StatusBadRequest)
		return
	}

	if req.Count <= 0 {
		req.Count = 10 // Default
	}
	if maxBatch := h.world.Limits().MaxBatch; req.Count > maxBatch {
		req.Count = maxBatch // Cap
	}

	count := h.world.SpawnRandom(req.Count)

	writeJSON(w, map[string]interface{}{
		"success": count > 0,
		"count":   count,
		"message": fmt.Sprintf("Spawned %d bodies", count),
	})
}

func (h *routerHandlers) handleGetBody(w http.ResponseWriter, r *http.Request) {
	body, ok := h.world.GetBody(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, "Body not found", http.StatusNotFound)
		return
	}
	writeJSON(w, body)
}

func (h *routerHandlers) handleRemoveBody(w http.ResponseWriter, r *http.Request) {
	err := h.world.RemoveBody(chi.URLParam(r, "id"))
	if errors.Is(err, spatial.ErrNotIndexed) {
		writeError(w, "Body not found", http.StatusNotFound)
		return
	}
	if err != nil {
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]bool{"success": true})
}

func (h *routerHandlers) decodeBox(w http.ResponseWriter, r *http.Request) (boxRequest, bool) {
	var req boxRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "Invalid request", http.StatusBadRequest)
		return req, false
	}
	if !req.box().Valid() {
		writeError(w, "Invalid bounds", http.StatusBadRequest)
		return req, false
	}
	return req, true
}

func (h *routerHandlers) handleQuery(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeBox(w, r)
	if !ok {
		return
	}

	bodies, err := h.world.Query(req.box(), req.Unique)
	if err != nil {
		writeQueryError(w, err)
		return
	}
	total := len(bodies)

	// Cap the response (DoS protection)
	truncated := false
	if maxResults := h.world.Limits().MaxQueryResults; total > maxResults {
		bodies = bodies[:maxResults]
		truncated = true
	}

	writeJSON(w, map[string]interface{}{
		"count":     total,
		"truncated": truncated,
		"unique":    req.Unique,
		"bodies":    bodies,
	})
}

func (h *routerHandlers) handleQueryFirst(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeBox(w, r)
	if !ok {
		return
	}

	body, hit, err := h.world.FirstHit(req.box())
	if err != nil {
		writeQueryError(w, err)
		return
	}
	resp := map[string]interface{}{"hit": hit}
	if hit {
		resp["body"] = body
	}
	writeJSON(w, resp)
}

func writeQueryError(w http.ResponseWriter, err error) {
	if errors.Is(err, sim.ErrQueryTooLarge) {
		writeError(w, "Query region too large", http.StatusBadRequest)
		return
	}
	log.Printf("❌ Query failed: %v", err)
	writeError(w, "Internal error", http.StatusInternalServerError)
}

func (h *routerHandlers) handleHeatmap(w http.ResponseWriter, r *http.Request) {
	opts := render.Options{
		Scale:  1,
		Bodies: r.URL.Query().Get("bodies") != "false",
		Legend: true,
	}
	if v := r.URL.Query().Get("scale"); v != "" {
		scale, err := strconv.ParseFloat(v, 64)
		if err != nil || scale <= 0 {
			writeError(w, "Invalid scale", http.StatusBadRequest)
			return
		}
		opts.Scale = scale
	}

	data, err := render.Heatmap(h.world.GridView(), opts)
	if err != nil {
		log.Printf("❌ Heatmap render failed: %v", err)
		writeError(w, "Render failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.Write(data)
}

// Helper functions (package-level for reuse)

func writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
