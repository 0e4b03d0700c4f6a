package sealcap

import (
	"crypto/tls"
	"encoding/gob"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
)

// StoreOpener creates or opens the store backing one device's capture.
type StoreOpener func(deviceID string) (Store, error)

// ErrUnknownDevice is returned when a batch arrives for a device that
// never registered.
var ErrUnknownDevice = errors.New("unknown device")

type deviceState struct {
	manifest DeviceManifest
	store    Store
	verifier *Verifier
}

// Collector receives captured entries from devices, optionally
// verifies them on ingest, and persists them per device.
type Collector struct {
	mu      sync.RWMutex
	open    StoreOpener
	verify  bool
	devices map[string]*deviceState
}

// NewCollector creates a collector. When verifyOnIngest is set, every
// incoming entry is checked against the device's verified tail before
// it is stored.
func NewCollector(open StoreOpener, verifyOnIngest bool) *Collector {
	return &Collector{
		open:    open,
		verify:  verifyOnIngest,
		devices: make(map[string]*deviceState),
	}
}

// Register opens (or reattaches) the device's store and resumes its
// verifier from the store tail. Re-registering an already known device
// updates the manifest and keeps the store.
func (c *Collector) Register(m DeviceManifest) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if d, ok := c.devices[m.DeviceID]; ok {
		d.manifest = m
		return nil
	}

	st, err := c.open(m.DeviceID)
	if err != nil {
		return fmt.Errorf("open store for %s: %w", m.DeviceID, err)
	}
	v := NewVerifier()
	if tail, ok, err := st.Tail(); err != nil {
		return fmt.Errorf("read tail for %s: %w", m.DeviceID, err)
	} else if ok {
		v = ResumeVerifier(tail)
	}
	c.devices[m.DeviceID] = &deviceState{manifest: m, store: st, verifier: v}
	return nil
}

// Ingest verifies and stores a batch of entries for a device. The
// batch is applied in order; the first failing entry stops ingestion
// with everything before it already persisted.
func (c *Collector) Ingest(deviceID string, entries []Entry) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	d, ok := c.devices[deviceID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownDevice, deviceID)
	}

	for _, e := range entries {
		tail := TailState{Seq: e.Seq, Mono: e.Record.Mono, Session: e.Record.Session}
		if c.verify {
			if _, err := d.verifier.Check(e); err != nil {
				return fmt.Errorf("entry %d: %w", e.Seq, err)
			}
		}
		if err := d.store.Append(e, tail); err != nil {
			return fmt.Errorf("entry %d: %w", e.Seq, err)
		}
		// The verified tail moves only once the entry is durable, so a
		// failed append can be retransmitted.
		if c.verify {
			d.verifier.Advance(tail)
		}
	}
	return nil
}

// Tail returns the stored tail for a device.
func (c *Collector) Tail(deviceID string) (TailState, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	d, ok := c.devices[deviceID]
	if !ok {
		return TailState{}, false, fmt.Errorf("%w: %s", ErrUnknownDevice, deviceID)
	}
	return d.store.Tail()
}

// Manifest returns the registered manifest for a device.
func (c *Collector) Manifest(deviceID string) (DeviceManifest, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	d, ok := c.devices[deviceID]
	if !ok {
		return DeviceManifest{}, false
	}
	return d.manifest, true
}

// Server provides the collector's HTTP endpoints.
type Server struct {
	Collector *Collector
	tlsConfig *tls.Config
}

// NewServer creates an HTTP server around a collector.
func NewServer(c *Collector) *Server {
	return &Server{Collector: c}
}

// SetTLSConfig clones cfg and stores it for use when serving HTTPS
// requests. If cfg is nil a default configuration will be used.
func (s *Server) SetTLSConfig(cfg *tls.Config) {
	if cfg == nil {
		s.tlsConfig = nil
		return
	}
	s.tlsConfig = cfg.Clone()
}

// isWire checks if the request body uses the protobuf wire format.
func isWire(r *http.Request) bool {
	contentType := r.Header.Get("Content-Type")
	return strings.HasPrefix(contentType, "application/x-protobuf") ||
		strings.HasPrefix(contentType, "application/protobuf")
}

// validDeviceID keeps ids usable as store path components.
func validDeviceID(id string) bool {
	if id == "" || len(id) > 128 {
		return false
	}
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '-' || r == '_' || r == '.':
		default:
			return false
		}
	}
	return true
}

// decodeManifest decodes a manifest from either Gob or wire format.
func decodeManifest(r *http.Request) (DeviceManifest, error) {
	if isWire(r) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			return DeviceManifest{}, fmt.Errorf("read body: %w", err)
		}
		return UnmarshalManifest(body)
	}

	var m DeviceManifest
	if err := gob.NewDecoder(r.Body).Decode(&m); err != nil {
		return DeviceManifest{}, fmt.Errorf("decode gob: %w", err)
	}
	return m, nil
}

// decodeBatch decodes a batch from either Gob or wire format.
func decodeBatch(r *http.Request) ([]Entry, error) {
	if isWire(r) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			return nil, fmt.Errorf("read body: %w", err)
		}
		return DecodeBatch(body)
	}

	var entries []Entry
	if err := gob.NewDecoder(r.Body).Decode(&entries); err != nil {
		return nil, fmt.Errorf("decode gob: %w", err)
	}
	return entries, nil
}

// batchDeviceID extracts the device id from /api/v1/devices/{id}/batch.
func batchDeviceID(path, suffix string) (string, bool) {
	const prefix = "/api/v1/devices/"
	if !strings.HasPrefix(path, prefix) || !strings.HasSuffix(path, suffix) {
		return "", false
	}
	id := strings.TrimSuffix(strings.TrimPrefix(path, prefix), suffix)
	if !validDeviceID(id) {
		return "", false
	}
	return id, true
}

// HandleRegister handles POST /api/v1/devices/register.
func (s *Server) HandleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	m, err := decodeManifest(r)
	if err != nil {
		http.Error(w, fmt.Sprintf("Invalid manifest: %v", err), http.StatusBadRequest)
		return
	}
	if !validDeviceID(m.DeviceID) {
		http.Error(w, "Invalid device id", http.StatusBadRequest)
		return
	}

	if err := s.Collector.Register(m); err != nil {
		http.Error(w, fmt.Sprintf("Register failed: %v", err), http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"status":    "registered",
		"device_id": m.DeviceID,
	})
}

// HandleBatch handles POST /api/v1/devices/{id}/batch.
func (s *Server) HandleBatch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	deviceID, ok := batchDeviceID(r.URL.Path, "/batch")
	if !ok {
		http.Error(w, "Invalid device id", http.StatusBadRequest)
		return
	}

	entries, err := decodeBatch(r)
	if err != nil {
		http.Error(w, fmt.Sprintf("Invalid batch: %v", err), http.StatusBadRequest)
		return
	}

	if err := s.Collector.Ingest(deviceID, entries); err != nil {
		status := http.StatusUnauthorized
		if errors.Is(err, ErrUnknownDevice) {
			status = http.StatusNotFound
		}
		http.Error(w, fmt.Sprintf("Ingest failed: %v", err), status)
		return
	}

	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":    "accepted",
		"device_id": deviceID,
		"entries":   len(entries),
	})
}

// HandleTail handles GET /api/v1/devices/{id}/tail.
func (s *Server) HandleTail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	deviceID, ok := batchDeviceID(r.URL.Path, "/tail")
	if !ok {
		http.Error(w, "Invalid device id", http.StatusBadRequest)
		return
	}

	tail, found, err := s.Collector.Tail(deviceID)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, ErrUnknownDevice) {
			status = http.StatusNotFound
		}
		http.Error(w, fmt.Sprintf("Tail failed: %v", err), status)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"device_id": deviceID,
		"found":     found,
		"seq":       tail.Seq,
		"mono":      tail.Mono,
		"session":   tail.Session,
	})
}

// handleDevice dispatches /api/v1/devices/{id}/... to the right handler.
func (s *Server) handleDevice(w http.ResponseWriter, r *http.Request) {
	switch {
	case strings.HasSuffix(r.URL.Path, "/batch"):
		s.HandleBatch(w, r)
	case strings.HasSuffix(r.URL.Path, "/tail"):
		s.HandleTail(w, r)
	default:
		http.NotFound(w, r)
	}
}

// SetupRoutes configures HTTP routes for the collector.
func (s *Server) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/v1/devices/register", s.HandleRegister)
	mux.HandleFunc("/api/v1/devices/", s.handleDevice)
}

func (s *Server) tlsConfigWithDefaults() *tls.Config {
	if s.tlsConfig == nil {
		return &tls.Config{MinVersion: tls.VersionTLS12}
	}
	cfg := s.tlsConfig.Clone()
	if cfg.MinVersion == 0 {
		cfg.MinVersion = tls.VersionTLS12
	}
	return cfg
}

// ListenAndServeTLS starts the HTTPS collector.
func (s *Server) ListenAndServeTLS(addr, certFile, keyFile string) error {
	mux := http.NewServeMux()
	s.SetupRoutes(mux)
	server := &http.Server{
		Addr:      addr,
		Handler:   mux,
		TLSConfig: s.tlsConfigWithDefaults(),
	}
	return server.ListenAndServeTLS(certFile, keyFile)
}

// ListenAndServe starts the HTTP collector without TLS.
func (s *Server) ListenAndServe(addr string) error {
	mux := http.NewServeMux()
	s.SetupRoutes(mux)
	return (&http.Server{Addr: addr, Handler: mux}).ListenAndServe()
}
