package sealcap

// Example: Capture, store, and collect sealed records
//
// The capture side drives the device, cross-checks every sealed record
// against the reference checksum, and appends it to a Store. The
// collector side receives batches over a Transport, re-verifies the
// chain, and persists per device.
//
// Usage:
//   // 1. Capture on the host attached to the device
//   store, _ := OpenFileStore("data/node-7")
//   cap, _ := NewCapture(CaptureConfig{}, dev, store)
//   entry, _ := cap.Commit(0x01, reading)
//
//   // 2. Register the power cycle and ship batches to a collector
//   manifest, _ := cap.Manifest("node-7", bootTime)
//   transport := NewWireHTTPTransport("https://collect.example.com")
//   transport.Register(manifest)
//   transport.SendBatch("node-7", []Entry{entry})
//
//   // 3. Collector verifies on ingest and persists
//   cfg, _ := LoadConfig("collector.yaml")
//   collector := NewCollector(cfg.StoreOpener(), cfg.Ingest.VerifyOnIngest)
//   server := NewServer(collector)
//   server.ListenAndServeTLS(cfg.Server.Addr,
//       cfg.Server.TLSCertFile, cfg.Server.TLSKeyFile)
//
// What verification can and cannot tell:
//   - A CRC16 mismatch, a sequence gap, a mono count that skips, or a
//     session id that changes mid-run all fail verification.
//   - The checksum is not a MAC: an adversary who can rewrite value,
//     mono, and crc16 together is out of scope. The seal makes
//     tampering evident, not impossible.
//   - A mono skip at the collector with no gap in capture sequence
//     numbers means a store append failed on the capture host: the
//     device sealed a record nobody kept.
