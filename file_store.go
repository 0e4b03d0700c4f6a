package sealcap

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"syscall"
)

// fileStore implements Store using POSIX files with append-only
// semantics. Entries are fixed width, so the last sequence number is a
// single read at the end of the file.
//
// Entry format in seals.dat:
//
//	[8]byte: seq (uint64)
//	[8]byte: captured_at (int64, unix nanos)
//	[1]byte: source id
//	[4]byte: value (uint32)
//	[4]byte: mono count (uint32)
//	[1]byte: session id
//	[2]byte: crc16
//
// Tail format in tail.dat:
//
//	[8]byte: seq (uint64)
//	[4]byte: mono count
//	[1]byte: session id
type fileStore struct {
	dir      string
	sealFile *os.File
	tailFile *os.File
	mu       sync.RWMutex
}

const (
	sealsFileName     = "seals.dat"
	sealTailFileName  = "tail.dat"
	sealEntrySize     = 8 + 8 + 1 + 4 + 4 + 1 + 2
	sealTailEntrySize = 8 + 4 + 1
)

// OpenFileStore creates or opens a file-based store in dir.
func OpenFileStore(dir string) (Store, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create directory: %w", err)
	}

	sealPath := filepath.Join(dir, sealsFileName)
	sealFile, err := os.OpenFile(sealPath, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0600)
	if err != nil {
		return nil, fmt.Errorf("open seal file: %w", err)
	}

	tailPath := filepath.Join(dir, sealTailFileName)
	tailFile, err := os.OpenFile(tailPath, os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		_ = sealFile.Close()
		return nil, fmt.Errorf("open tail file: %w", err)
	}

	return &fileStore{dir: dir, sealFile: sealFile, tailFile: tailFile}, nil
}

func encodeEntry(buf []byte, e Entry) {
	binary.BigEndian.PutUint64(buf[0:8], e.Seq)
	binary.BigEndian.PutUint64(buf[8:16], uint64(e.CapturedAt))
	buf[16] = e.Source
	binary.BigEndian.PutUint32(buf[17:21], e.Record.Value)
	binary.BigEndian.PutUint32(buf[21:25], e.Record.Mono)
	buf[25] = e.Record.Session
	binary.BigEndian.PutUint16(buf[26:28], e.Record.CRC16)
}

func decodeEntry(buf []byte) Entry {
	return Entry{
		Seq:        binary.BigEndian.Uint64(buf[0:8]),
		CapturedAt: int64(binary.BigEndian.Uint64(buf[8:16])),
		Source:     buf[16],
		Record: Record{
			Value:   binary.BigEndian.Uint32(buf[17:21]),
			Mono:    binary.BigEndian.Uint32(buf[21:25]),
			Session: buf[25],
			CRC16:   binary.BigEndian.Uint16(buf[26:28]),
		},
	}
}

// Append writes one entry and the new tail atomically with respect to
// other processes holding the advisory lock.
func (s *fileStore) Append(e Entry, tail TailState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	lastSeq, err := s.lastSeqLocked()
	if err != nil {
		return err
	}
	if lastSeq != e.Seq-1 {
		return fmt.Errorf("non-contiguous append: have %d, got %d", lastSeq, e.Seq)
	}

	if err := syscall.Flock(int(s.sealFile.Fd()), syscall.LOCK_EX); err != nil {
		return fmt.Errorf("lock seal file: %w", err)
	}
	defer syscall.Flock(int(s.sealFile.Fd()), syscall.LOCK_UN)

	buf := make([]byte, sealEntrySize)
	encodeEntry(buf, e)
	n, err := s.sealFile.Write(buf)
	if err != nil {
		return fmt.Errorf("write entry: %w", err)
	}
	if n != len(buf) {
		return fmt.Errorf("incomplete write: %d of %d bytes", n, len(buf))
	}
	if err := s.sealFile.Sync(); err != nil {
		return fmt.Errorf("sync seal file: %w", err)
	}

	return s.writeTailLocked(tail)
}

// lastSeqLocked returns the sequence of the last entry (0 if empty).
func (s *fileStore) lastSeqLocked() (uint64, error) {
	info, err := s.sealFile.Stat()
	if err != nil {
		return 0, fmt.Errorf("stat seal file: %w", err)
	}
	if info.Size() == 0 {
		return 0, nil
	}
	if info.Size()%sealEntrySize != 0 {
		return 0, fmt.Errorf("seal file truncated: %d bytes", info.Size())
	}

	buf := make([]byte, 8)
	if _, err := s.sealFile.ReadAt(buf, info.Size()-sealEntrySize); err != nil {
		return 0, fmt.Errorf("read last entry: %w", err)
	}
	return binary.BigEndian.Uint64(buf), nil
}

// Iter returns a channel that yields entries starting from startSeq.
func (s *fileStore) Iter(startSeq uint64) (<-chan Entry, func() error, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sealPath := filepath.Join(s.dir, sealsFileName)
	file, err := os.Open(sealPath)
	if err != nil {
		return nil, nil, fmt.Errorf("open seal file for reading: %w", err)
	}

	out := make(chan Entry, 64)
	done := make(chan struct{})

	go func() {
		defer close(out)
		defer file.Close()

		buf := make([]byte, sealEntrySize)
		for {
			select {
			case <-done:
				return
			default:
			}

			if _, err := io.ReadFull(file, buf); err != nil {
				return
			}
			e := decodeEntry(buf)
			if e.Seq < startSeq {
				continue
			}
			// An abandoned consumer must not strand this goroutine on
			// a full channel.
			select {
			case out <- e:
			case <-done:
				return
			}
		}
	}()

	cleanup := func() error {
		close(done)
		return nil
	}
	return out, cleanup, nil
}

// Tail returns the stored tail state.
func (s *fileStore) Tail() (TailState, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.readTailLocked()
}

func (s *fileStore) readTailLocked() (TailState, bool, error) {
	var tail TailState
	if _, err := s.tailFile.Seek(0, io.SeekStart); err != nil {
		return tail, false, fmt.Errorf("seek tail file: %w", err)
	}
	buf := make([]byte, sealTailEntrySize)
	if _, err := io.ReadFull(s.tailFile, buf); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return tail, false, nil
		}
		return tail, false, fmt.Errorf("read tail: %w", err)
	}
	tail.Seq = binary.BigEndian.Uint64(buf[0:8])
	tail.Mono = binary.BigEndian.Uint32(buf[8:12])
	tail.Session = buf[12]
	return tail, true, nil
}

func (s *fileStore) writeTailLocked(tail TailState) error {
	if err := s.tailFile.Truncate(0); err != nil {
		return fmt.Errorf("truncate tail file: %w", err)
	}
	if _, err := s.tailFile.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("seek tail file: %w", err)
	}
	buf := make([]byte, sealTailEntrySize)
	binary.BigEndian.PutUint64(buf[0:8], tail.Seq)
	binary.BigEndian.PutUint32(buf[8:12], tail.Mono)
	buf[12] = tail.Session
	if _, err := s.tailFile.Write(buf); err != nil {
		return fmt.Errorf("write tail: %w", err)
	}
	if err := s.tailFile.Sync(); err != nil {
		return fmt.Errorf("sync tail file: %w", err)
	}
	return nil
}

// Close closes the file store.
func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	if err := s.sealFile.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close seal file: %w", err))
	}
	if err := s.tailFile.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close tail file: %w", err))
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
