package main

import (
	"Go2NetSentry/internal/anomaly"
	"Go2NetSentry/internal/config"
	"Go2NetSentry/internal/model"
	"Go2NetSentry/internal/query"
	"Go2NetSentry/internal/threat"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "Path to the configuration file.")
	flag.Parse()

	// Load configuration
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Find the first enabled ClickHouse writer config
	var chCfg *config.ClickHouseConfig
	for _, writerDef := range cfg.History.Writers {
		if writerDef.Enabled && writerDef.Type == "clickhouse" {
			chCfg = &writerDef.ClickHouse
			break
		}
	}

	if chCfg == nil {
		log.Fatalf("No enabled ClickHouse writer found in config. API server cannot start.")
	}

	// Initialize querier with the found config
	querier, err := query.NewClickHouseQuerier(*chCfg)
	if err != nil {
		log.Fatalf("Failed to create querier: %v", err)
	}

	engine, err := anomaly.NewEngine(cfg.Anomaly)
	if err != nil {
		log.Fatalf("Failed to create anomaly engine: %v", err)
	}

	// Initialize router
	r := mux.NewRouter()

	// Create API handler with querier dependency
	apiHandler := &APIHandler{querier: querier, engine: engine}

	// Define API routes
	r.HandleFunc("/api/v1/devices", apiHandler.devicesHandler).Methods("GET")
	r.HandleFunc("/api/v1/devices/{key}/uptime", apiHandler.uptimeHandler).Methods("GET")
	r.HandleFunc("/api/v1/changes", apiHandler.changesHandler).Methods("GET")
	r.HandleFunc("/api/v1/changes/counts", apiHandler.changeCountsHandler).Methods("GET")
	r.HandleFunc("/api/v1/findings", apiHandler.findingsHandler).Methods("GET")
	r.HandleFunc("/api/v1/baseline/rebuild", apiHandler.rebuildBaselineHandler).Methods("POST")

	// Start HTTP server
	server := &http.Server{
		Addr:    cfg.API.ListenAddr,
		Handler: r,
	}

	go func() {
		log.Printf("API server starting on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Could not listen on %s: %v", server.Addr, err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("API server shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}
	log.Println("API server exited.")
}

// APIHandler holds the dependencies for API handlers.
type APIHandler struct {
	querier query.Querier
	engine  *anomaly.Engine
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	jsonBytes, err := json.Marshal(v)
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to marshal response: %v", err), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(jsonBytes)
}

// timeParam parses an RFC3339 query parameter, falling back to a default.
func timeParam(r *http.Request, name string, fallback time.Time) (time.Time, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid %s parameter: %v", name, err)
	}
	return t, nil
}

// devicesHandler returns the latest recorded inventory.
func (h *APIHandler) devicesHandler(w http.ResponseWriter, r *http.Request) {
	devices, err := h.querier.LatestDevices(r.Context())
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to query devices: %v", err), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, devices)
}

// uptimeHandler returns the presence fraction of one device.
func (h *APIHandler) uptimeHandler(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]
	uptime, err := h.querier.DeviceUptime(r.Context(), key)
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to query uptime: %v", err), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"device_key": key, "uptime": uptime})
}

// changesHandler returns change events in a time range, optionally filtered
// by device key.
func (h *APIHandler) changesHandler(w http.ResponseWriter, r *http.Request) {
	since, err := timeParam(r, "since", time.Now().Add(-24*time.Hour))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	until, err := timeParam(r, "until", time.Now())
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	changes, err := h.querier.ChangesInRange(r.Context(), since, until, r.URL.Query().Get("device"))
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to query changes: %v", err), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, changes)
}

// changeCountsHandler aggregates change events per category.
func (h *APIHandler) changeCountsHandler(w http.ResponseWriter, r *http.Request) {
	since, err := timeParam(r, "since", time.Now().Add(-24*time.Hour))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	counts, err := h.querier.ChangeCounts(r.Context(), since)
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to query change counts: %v", err), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, counts)
}

// findingsHandler classifies the latest recorded port state of every device
// and returns the resulting threat findings. Classification is deterministic,
// so re-running it over stored snapshots matches what the monitor saw.
func (h *APIHandler) findingsHandler(w http.ResponseWriter, r *http.Request) {
	devices, err := h.querier.LatestDevices(r.Context())
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to query devices: %v", err), http.StatusInternalServerError)
		return
	}

	findings := []model.ThreatFinding{}
	for _, d := range devices {
		status := make(map[int]model.PortStatus, len(d.OpenPorts))
		for _, p := range d.OpenPorts {
			status[int(p)] = model.PortOpen
		}
		result := model.ScanResult{DeviceKey: d.DeviceKey, Timestamp: d.LastSeen, Status: status}
		findings = append(findings, threat.Classify(&result)...)
	}
	writeJSON(w, http.StatusOK, findings)
}

// rebuildBaselineHandler trains a fresh baseline from the recorded history
// and returns it.
func (h *APIHandler) rebuildBaselineHandler(w http.ResponseWriter, r *http.Request) {
	since, err := timeParam(r, "since", time.Now().Add(-30*24*time.Hour))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	history, err := h.querier.CycleHistory(r.Context(), since)
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to query history: %v", err), http.StatusInternalServerError)
		return
	}

	baseline, err := h.engine.BuildBaseline(r.URL.Query().Get("network"), history)
	if err != nil {
		var insufficient *model.InsufficientDataError
		if errors.As(err, &insufficient) {
			http.Error(w, err.Error(), http.StatusPreconditionFailed)
			return
		}
		http.Error(w, fmt.Sprintf("failed to build baseline: %v", err), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, baseline)
}
