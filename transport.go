package sealcap

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"io"
	"net/http"
	"time"
)

// DeviceManifest identifies one device power cycle to a collector.
// The session id is the device's locked per-boot byte; a new manifest
// means the device reset and its counters started over.
type DeviceManifest struct {
	DeviceID string
	Session  uint8
	BootTime time.Time
}

// Transport defines how captured entries reach a collector. Different
// implementations can use HTTP, message queues, or an in-process
// collector.
type Transport interface {
	// Register announces a device power cycle to the collector.
	Register(m DeviceManifest) error

	// SendBatch uploads captured entries in sequence order.
	// Returns true if the collector accepted and verified the batch.
	SendBatch(deviceID string, entries []Entry) (bool, error)
}

// HTTPTransport implements Transport using Gob over HTTP/HTTPS.
type HTTPTransport struct {
	BaseURL string       // Base URL of the collector (e.g., "https://collect.example.com")
	Client  *http.Client // HTTP client (can customize timeouts, TLS, etc.)
}

// NewHTTPTransport creates a new Gob HTTP transport.
func NewHTTPTransport(baseURL string) *HTTPTransport {
	return &HTTPTransport{BaseURL: baseURL, Client: &http.Client{}}
}

// Register sends the device manifest via HTTP POST.
func (t *HTTPTransport) Register(m DeviceManifest) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(m); err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}

	url := t.BaseURL + "/api/v1/devices/register"
	resp, err := t.Client.Post(url, "application/octet-stream", &buf)
	if err != nil {
		return fmt.Errorf("post manifest: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("collector returned %d: %s", resp.StatusCode, body)
	}
	return nil
}

// SendBatch uploads entries via HTTP POST.
func (t *HTTPTransport) SendBatch(deviceID string, entries []Entry) (bool, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(entries); err != nil {
		return false, fmt.Errorf("encode entries: %w", err)
	}

	url := fmt.Sprintf("%s/api/v1/devices/%s/batch", t.BaseURL, deviceID)
	resp, err := t.Client.Post(url, "application/octet-stream", &buf)
	if err != nil {
		return false, fmt.Errorf("post batch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		return true, nil
	}
	body, _ := io.ReadAll(resp.Body)
	return false, fmt.Errorf("batch rejected: %s", body)
}

// WireHTTPTransport implements Transport using the protobuf wire
// format from wire.go over HTTP/HTTPS. More compact than Gob and
// decodable outside Go.
type WireHTTPTransport struct {
	BaseURL string
	Client  *http.Client
}

// NewWireHTTPTransport creates a new protobuf-wire HTTP transport.
func NewWireHTTPTransport(baseURL string) *WireHTTPTransport {
	return &WireHTTPTransport{BaseURL: baseURL, Client: &http.Client{}}
}

// Register sends the device manifest in wire format.
func (t *WireHTTPTransport) Register(m DeviceManifest) error {
	url := t.BaseURL + "/api/v1/devices/register"
	resp, err := t.Client.Post(url, "application/x-protobuf", bytes.NewReader(MarshalManifest(m)))
	if err != nil {
		return fmt.Errorf("post manifest: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("collector returned %d: %s", resp.StatusCode, body)
	}
	return nil
}

// SendBatch uploads entries in wire format.
func (t *WireHTTPTransport) SendBatch(deviceID string, entries []Entry) (bool, error) {
	url := fmt.Sprintf("%s/api/v1/devices/%s/batch", t.BaseURL, deviceID)
	resp, err := t.Client.Post(url, "application/x-protobuf", bytes.NewReader(EncodeBatch(entries)))
	if err != nil {
		return false, fmt.Errorf("post batch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		return true, nil
	}
	body, _ := io.ReadAll(resp.Body)
	return false, fmt.Errorf("batch rejected: %s", body)
}

// LocalTransport is a Transport backed by an in-process Collector.
// Useful for testing or single-machine deployments where the capture
// host and the collector are co-located.
type LocalTransport struct {
	Collector *Collector
}

// NewLocalTransport creates a transport against a local collector.
func NewLocalTransport(c *Collector) *LocalTransport {
	return &LocalTransport{Collector: c}
}

// Register registers the device with the local collector.
func (t *LocalTransport) Register(m DeviceManifest) error {
	return t.Collector.Register(m)
}

// SendBatch ingests entries into the local collector.
func (t *LocalTransport) SendBatch(deviceID string, entries []Entry) (bool, error) {
	if err := t.Collector.Ingest(deviceID, entries); err != nil {
		return false, err
	}
	return true, nil
}
