package server

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/qkv-io/qkv/lib/coordinator"
	"github.com/qkv-io/qkv/lib/membership"
	"github.com/qkv-io/qkv/lib/resolver"
	"github.com/qkv-io/qkv/lib/ring"
	"github.com/qkv-io/qkv/lib/vclock"
)

// versionVectorHeader carries the causal context between client and server.
// Responses set it to the merged vector of all returned siblings; clients
// echo it back on PUT and DELETE so the write descends what they read.
const versionVectorHeader = "X-Version-Vector"

const maxValueBytes = 1 << 20 // 1 MiB request body limit

// newHTTPServer builds the client-facing REST API of one node. Any node can
// coordinate any key, so the API is identical on every node.
func newHTTPServer(addr string, coord *coordinator.Coordinator, rng *ring.Ring, members *membership.Table) *http.Server {
	api := &httpAPI{coord: coord, ring: rng, members: members}

	mux := http.NewServeMux()
	mux.HandleFunc("PUT /keys/{key}", api.handlePut)
	mux.HandleFunc("GET /keys/{key}", api.handleGet)
	mux.HandleFunc("DELETE /keys/{key}", api.handleDelete)
	mux.HandleFunc("GET /cluster/members", api.handleMembers)
	mux.HandleFunc("GET /metrics", func(w http.ResponseWriter, r *http.Request) {
		metrics.WritePrometheus(w, true)
	})

	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

type httpAPI struct {
	coord   *coordinator.Coordinator
	ring    *ring.Ring
	members *membership.Table
}

// --------------------------------------------------------------------------
// Key Operations
// --------------------------------------------------------------------------

// sibling is the JSON shape of one version in a GET response.
type sibling struct {
	Value     []byte `json:"value,omitempty"`
	Version   string `json:"version"` // base64, echo back as X-Version-Vector
	Tombstone bool   `json:"tombstone,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (api *httpAPI) handlePut(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	if key == "" {
		writeError(w, http.StatusBadRequest, "BadRequest", "key must not be empty")
		return
	}

	value, err := io.ReadAll(io.LimitReader(r.Body, maxValueBytes+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "BadRequest", fmt.Sprintf("read body: %s", err))
		return
	}
	if len(value) > maxValueBytes {
		writeError(w, http.StatusRequestEntityTooLarge, "ValueTooLarge",
			fmt.Sprintf("value exceeds %d bytes", maxValueBytes))
		return
	}

	context, err := parseVector(r.Header.Get(versionVectorHeader))
	if err != nil {
		writeError(w, http.StatusBadRequest, "BadRequest", fmt.Sprintf("invalid %s: %s", versionVectorHeader, err))
		return
	}

	version, err := api.coord.Write(r.Context(), key, value, context)
	if err != nil {
		writeCoordinatorError(w, err)
		return
	}

	w.Header().Set(versionVectorHeader, encodeVector(version))
	w.WriteHeader(http.StatusOK)
}

func (api *httpAPI) handleGet(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")

	result, err := api.coord.Read(r.Context(), key)
	if err != nil {
		writeCoordinatorError(w, err)
		return
	}
	if result.NotFound() {
		writeError(w, http.StatusNotFound, "NotFound", fmt.Sprintf("key %q not found", key))
		return
	}

	w.Header().Set(versionVectorHeader, encodeVector(mergedVector(result)))

	// Concurrent versions are the client's to resolve: return all of them
	// with 300 Multiple Choices. A follow-up PUT carrying the merged vector
	// supersedes them all.
	if result.HasConflict() {
		siblings := make([]sibling, 0, len(result.Siblings))
		for _, s := range result.Siblings {
			siblings = append(siblings, sibling{
				Value:     s.Value,
				Version:   encodeVector(s.Version),
				Tombstone: s.Tombstone,
				Timestamp: s.Timestamp,
			})
		}
		writeJSON(w, http.StatusMultipleChoices, siblings)
		return
	}

	single := result.Siblings[0]
	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	w.Write(single.Value)
}

func (api *httpAPI) handleDelete(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")

	context, err := parseVector(r.Header.Get(versionVectorHeader))
	if err != nil {
		writeError(w, http.StatusBadRequest, "BadRequest", fmt.Sprintf("invalid %s: %s", versionVectorHeader, err))
		return
	}

	version, err := api.coord.Delete(r.Context(), key, context)
	if err != nil {
		writeCoordinatorError(w, err)
		return
	}

	w.Header().Set(versionVectorHeader, encodeVector(version))
	w.WriteHeader(http.StatusNoContent)
}

// --------------------------------------------------------------------------
// Cluster Introspection
// --------------------------------------------------------------------------

type memberInfo struct {
	ID       string `json:"id"`
	Addr     string `json:"addr"`
	Status   string `json:"status"`
	LastSeen string `json:"last_seen"`
}

func (api *httpAPI) handleMembers(w http.ResponseWriter, r *http.Request) {
	snapshot := api.members.Snapshot()
	infos := make([]memberInfo, 0, len(snapshot))
	for _, m := range snapshot {
		infos = append(infos, memberInfo{
			ID:       m.ID,
			Addr:     m.Addr,
			Status:   m.Status.String(),
			LastSeen: m.LastSeen.UTC().Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, struct {
		Epoch   uint64       `json:"ring_epoch"`
		Members []memberInfo `json:"members"`
	}{Epoch: api.ring.Epoch(), Members: infos})
}

// --------------------------------------------------------------------------
// Helpers
// --------------------------------------------------------------------------

func mergedVector(result resolver.Result) vclock.Vector {
	merged := vclock.New()
	for _, s := range result.Siblings {
		merged = merged.Merge(s.Version)
	}
	return merged
}

func parseVector(header string) (vclock.Vector, error) {
	if header == "" {
		return vclock.New(), nil
	}
	raw, err := base64.StdEncoding.DecodeString(header)
	if err != nil {
		return nil, fmt.Errorf("not base64: %w", err)
	}
	var v vclock.Vector
	if err := v.UnmarshalBinary(raw); err != nil {
		return nil, err
	}
	return v, nil
}

func encodeVector(v vclock.Vector) string {
	return base64.StdEncoding.EncodeToString(v.MustMarshal())
}

// writeCoordinatorError maps coordinator failures onto HTTP statuses. Quorum
// and timing failures are retryable 503/504s, a rejected stale write is a
// client-side 409.
func writeCoordinatorError(w http.ResponseWriter, err error) {
	code, ok := coordinator.CodeOf(err)
	if !ok {
		writeError(w, http.StatusInternalServerError, "Internal", err.Error())
		return
	}
	switch code {
	case coordinator.RetCInsufficientQuorum:
		writeError(w, http.StatusServiceUnavailable, "InsufficientQuorum", err.Error())
	case coordinator.RetCTimeout:
		writeError(w, http.StatusGatewayTimeout, "Timeout", err.Error())
	case coordinator.RetCStaleWriteRejected:
		writeError(w, http.StatusConflict, "StaleWriteRejected", err.Error())
	case coordinator.RetCRingInconsistent:
		writeError(w, http.StatusServiceUnavailable, "RingInconsistent", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "Internal", err.Error())
	}
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorBody{Error: code, Message: msg})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		Logger.Errorf("failed to encode http response: %s", err)
	}
}
