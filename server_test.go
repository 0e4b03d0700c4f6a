package sealcap

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newTestCollector(t *testing.T, verify bool) *Collector {
	t.Helper()
	dir, err := os.MkdirTemp("", "sealcap-collector")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })
	open := func(deviceID string) (Store, error) {
		return OpenFileStore(filepath.Join(dir, deviceID))
	}
	return NewCollector(open, verify)
}

func newTestServer(t *testing.T, verify bool) (*httptest.Server, *Collector) {
	t.Helper()
	c := newTestCollector(t, verify)
	mux := http.NewServeMux()
	NewServer(c).SetupRoutes(mux)
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return ts, c
}

func testManifest(id string) DeviceManifest {
	return DeviceManifest{DeviceID: id, Session: 0x2C, BootTime: time.Unix(1700000000, 0)}
}

func TestServer_GobTransport(t *testing.T) {
	ts, c := newTestServer(t, true)
	tr := NewHTTPTransport(ts.URL)

	if err := tr.Register(testManifest("node-1")); err != nil {
		t.Fatalf("register: %v", err)
	}
	ok, err := tr.SendBatch("node-1", mkChain(5, 0x2C))
	if err != nil || !ok {
		t.Fatalf("send batch: ok=%v err=%v", ok, err)
	}

	tail, found, err := c.Tail("node-1")
	if err != nil || !found {
		t.Fatalf("tail: found=%v err=%v", found, err)
	}
	if tail.Seq != 5 || tail.Mono != 4 {
		t.Fatalf("tail = %+v", tail)
	}
	m, ok := c.Manifest("node-1")
	if !ok || m.Session != 0x2C {
		t.Fatalf("manifest = %+v ok=%v", m, ok)
	}
}

func TestServer_WireTransport(t *testing.T) {
	ts, c := newTestServer(t, true)
	tr := NewWireHTTPTransport(ts.URL)

	if err := tr.Register(testManifest("node-2")); err != nil {
		t.Fatalf("register: %v", err)
	}
	ok, err := tr.SendBatch("node-2", mkChain(3, 0x2C))
	if err != nil || !ok {
		t.Fatalf("send batch: ok=%v err=%v", ok, err)
	}
	if tail, _, _ := c.Tail("node-2"); tail.Seq != 3 {
		t.Fatalf("tail = %+v", tail)
	}
}

func TestServer_RejectsForgedBatch(t *testing.T) {
	ts, c := newTestServer(t, true)
	tr := NewHTTPTransport(ts.URL)
	if err := tr.Register(testManifest("node-3")); err != nil {
		t.Fatal(err)
	}

	chain := mkChain(4, 0x2C)
	chain[2].Record.Value ^= 1
	ok, err := tr.SendBatch("node-3", chain)
	if ok || err == nil {
		t.Fatal("forged batch accepted")
	}

	// Ingest stops at the first bad entry; the prefix is persisted.
	tail, found, err := c.Tail("node-3")
	if err != nil || !found || tail.Seq != 2 {
		t.Fatalf("tail = %+v found=%v err=%v, want seq 2", tail, found, err)
	}

	// A corrected resend of the remainder goes through.
	ok, err = tr.SendBatch("node-3", mkChain(4, 0x2C)[2:])
	if err != nil || !ok {
		t.Fatalf("corrected resend: ok=%v err=%v", ok, err)
	}
}

func TestServer_UnknownDeviceIs404(t *testing.T) {
	ts, _ := newTestServer(t, false)
	tr := NewWireHTTPTransport(ts.URL)

	if ok, err := tr.SendBatch("ghost", mkChain(1, 0x2C)); ok || err == nil {
		t.Fatal("batch for unregistered device accepted")
	}
	resp, err := http.Post(ts.URL+"/api/v1/devices/ghost/batch",
		"application/x-protobuf", bytes.NewReader(EncodeBatch(nil)))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestServer_InvalidDeviceIDRejected(t *testing.T) {
	ts, _ := newTestServer(t, false)

	resp, err := http.Post(ts.URL+"/api/v1/devices/../escape/batch",
		"application/x-protobuf", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode == http.StatusOK {
		t.Fatal("path-traversal device id accepted")
	}

	tr := NewHTTPTransport(ts.URL)
	bad := testManifest("evil/../id")
	if err := tr.Register(bad); err == nil {
		t.Fatal("invalid device id registered")
	}
}

func TestServer_TailEndpoint(t *testing.T) {
	ts, _ := newTestServer(t, true)
	tr := NewHTTPTransport(ts.URL)
	if err := tr.Register(testManifest("node-4")); err != nil {
		t.Fatal(err)
	}
	if ok, err := tr.SendBatch("node-4", mkChain(2, 0x2C)); !ok || err != nil {
		t.Fatal(err)
	}

	resp, err := http.Get(ts.URL + "/api/v1/devices/node-4/tail")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var body struct {
		DeviceID string `json:"device_id"`
		Found    bool   `json:"found"`
		Seq      uint64 `json:"seq"`
		Mono     uint32 `json:"mono"`
		Session  uint8  `json:"session"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if !body.Found || body.Seq != 2 || body.Mono != 1 || body.Session != 0x2C {
		t.Fatalf("tail body = %+v", body)
	}
}

func TestServer_ReregisterKeepsVerifiedTail(t *testing.T) {
	ts, c := newTestServer(t, true)
	tr := NewWireHTTPTransport(ts.URL)
	if err := tr.Register(testManifest("node-5")); err != nil {
		t.Fatal(err)
	}
	if ok, err := tr.SendBatch("node-5", mkChain(3, 0x2C)); !ok || err != nil {
		t.Fatal(err)
	}

	// Re-registration updates the manifest without losing the chain.
	m2 := testManifest("node-5")
	m2.BootTime = m2.BootTime.Add(time.Hour)
	if err := tr.Register(m2); err != nil {
		t.Fatal(err)
	}
	if got, _ := c.Manifest("node-5"); !got.BootTime.Equal(m2.BootTime) {
		t.Fatal("manifest not updated")
	}
	if ok, err := tr.SendBatch("node-5", mkChain(4, 0x2C)[3:]); !ok || err != nil {
		t.Fatalf("continuation after re-register: ok=%v err=%v", ok, err)
	}
}

// faultStore fails the append for one sequence number, once.
type faultStore struct {
	Store
	failSeq uint64
}

func (s *faultStore) Append(e Entry, tail TailState) error {
	if e.Seq == s.failSeq {
		s.failSeq = 0
		return errors.New("disk full")
	}
	return s.Store.Append(e, tail)
}

func TestCollector_RetransmitAfterStoreFailure(t *testing.T) {
	dir, err := os.MkdirTemp("", "sealcap-collector")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)
	open := func(deviceID string) (Store, error) {
		st, err := OpenFileStore(filepath.Join(dir, deviceID))
		if err != nil {
			return nil, err
		}
		return &faultStore{Store: st, failSeq: 2}, nil
	}
	c := NewCollector(open, true)
	if err := c.Register(testManifest("node-6")); err != nil {
		t.Fatal(err)
	}

	chain := mkChain(3, 0x2C)
	if err := c.Ingest("node-6", chain); err == nil {
		t.Fatal("append failure not surfaced")
	}
	tail, found, err := c.Tail("node-6")
	if err != nil || !found || tail.Seq != 1 {
		t.Fatalf("tail = %+v found=%v err=%v, want seq 1", tail, found, err)
	}

	// Retransmitting the failed entry and the rest must go through;
	// the verifier may not run ahead of the store.
	if err := c.Ingest("node-6", chain[1:]); err != nil {
		t.Fatalf("retransmission rejected: %v", err)
	}
	if tail, _, _ := c.Tail("node-6"); tail.Seq != 3 {
		t.Fatalf("tail = %+v after retransmission, want seq 3", tail)
	}
}

func TestLocalTransport(t *testing.T) {
	c := newTestCollector(t, true)
	tr := NewLocalTransport(c)

	if err := tr.Register(testManifest("local")); err != nil {
		t.Fatal(err)
	}
	if ok, err := tr.SendBatch("local", mkChain(2, 0x2C)); !ok || err != nil {
		t.Fatalf("send: ok=%v err=%v", ok, err)
	}
	if _, err := tr.SendBatch("nobody", mkChain(1, 0x2C)); !errors.Is(err, ErrUnknownDevice) {
		t.Fatalf("err = %v, want %v", err, ErrUnknownDevice)
	}
}
