package wal

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/ghalamif/RailFlow/internal/domain"
	"github.com/ghalamif/RailFlow/internal/ports"
)

// record layout: [8 bytes id][4 bytes len][len bytes msgpack patch]
const recordHeaderLen = 12

var ErrCorrupt = errors.New("wal: corrupt record")

// FileWAL journals patches to a single append-only file. The last committed
// id lives in a sidecar meta file.
type FileWAL struct {
	mu        sync.Mutex
	dir       string
	path      string
	metaPath  string
	file      *os.File
	writer    *bufio.Writer
	nextID    ports.WALEntryID
	committed ports.WALEntryID
	sizeBytes int64
}

func NewFileWAL(dir string) (*FileWAL, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	w := &FileWAL{
		dir:      dir,
		path:     filepath.Join(dir, "patches.wal"),
		metaPath: filepath.Join(dir, "patches.meta"),
	}
	if err := w.open(); err != nil {
		return nil, err
	}
	if err := w.recover(); err != nil {
		w.file.Close()
		return nil, err
	}
	return w, nil
}

func (w *FileWAL) open() error {
	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	w.file = f
	w.writer = bufio.NewWriterSize(f, 64<<10)
	return nil
}

// recover drops a torn tail left by a crash and restores the id counters.
func (w *FileWAL) recover() error {
	rf, err := os.Open(w.path)
	if err != nil {
		return err
	}
	defer rf.Close()

	var (
		offset int64
		lastID ports.WALEntryID
		r      = bufio.NewReader(rf)
	)
	for {
		id, body, err := readRecord(r)
		if errors.Is(err, io.EOF) {
			break
		}
		if errors.Is(err, ErrCorrupt) {
			break
		}
		if err != nil {
			return fmt.Errorf("wal recover: %w", err)
		}
		offset += int64(recordHeaderLen + len(body))
		lastID = id
	}
	if err := w.file.Truncate(offset); err != nil {
		return err
	}
	if _, err := w.file.Seek(0, io.SeekEnd); err != nil {
		return err
	}
	w.sizeBytes = offset
	w.nextID = lastID

	committed, err := readMeta(w.metaPath)
	if err != nil {
		return err
	}
	w.committed = committed
	if w.nextID < w.committed {
		w.nextID = w.committed
	}
	return nil
}

func readRecord(r io.Reader) (ports.WALEntryID, []byte, error) {
	var hdr [recordHeaderLen]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return 0, nil, ErrCorrupt
		}
		return 0, nil, err
	}
	id := ports.WALEntryID(binary.BigEndian.Uint64(hdr[0:8]))
	body := make([]byte, binary.BigEndian.Uint32(hdr[8:12]))
	if _, err := io.ReadFull(r, body); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return 0, nil, ErrCorrupt
		}
		return 0, nil, err
	}
	return id, body, nil
}

func writeRecord(w io.Writer, id ports.WALEntryID, body []byte) error {
	var hdr [recordHeaderLen]byte
	binary.BigEndian.PutUint64(hdr[0:8], uint64(id))
	binary.BigEndian.PutUint32(hdr[8:12], uint32(len(body)))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	_, err := w.Write(body)
	return err
}

func readMeta(path string) (ports.WALEntryID, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	val := strings.TrimSpace(string(data))
	if val == "" {
		return 0, nil
	}
	u, err := strconv.ParseUint(val, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("wal meta parse: %w", err)
	}
	return ports.WALEntryID(u), nil
}

// Append journals p and returns its id. Records are buffered and flushed on
// Iterate, TruncateCommitted and Close.
func (w *FileWAL) Append(p *domain.Patch) (ports.WALEntryID, error) {
	body, err := msgpack.Marshal(p)
	if err != nil {
		return 0, fmt.Errorf("wal encode %s: %w", p.EventID, err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	id := w.nextID + 1
	if err := writeRecord(w.writer, id, body); err != nil {
		return 0, err
	}
	w.nextID = id
	w.sizeBytes += int64(recordHeaderLen + len(body))
	return id, nil
}

// Iterate calls fn for every journaled patch with id >= from.
func (w *FileWAL) Iterate(from ports.WALEntryID, fn func(id ports.WALEntryID, p *domain.Patch) error) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.writer.Flush(); err != nil {
		return err
	}
	f, err := os.Open(w.path)
	if err != nil {
		return err
	}
	defer f.Close()

	r := bufio.NewReader(f)
	for {
		id, body, err := readRecord(r)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("wal iterate: %w", err)
		}
		if id < from {
			continue
		}
		var p domain.Patch
		if err := msgpack.Unmarshal(body, &p); err != nil {
			return fmt.Errorf("wal decode id=%d: %w", id, err)
		}
		if err := fn(id, &p); err != nil {
			return err
		}
	}
}

func (w *FileWAL) Commit(upto ports.WALEntryID) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if upto > w.committed {
		w.committed = upto
	}
	return os.WriteFile(w.metaPath, []byte(fmt.Sprintf("%d\n", w.committed)), 0o644)
}

// TruncateCommitted rewrites the journal keeping only uncommitted records.
func (w *FileWAL) TruncateCommitted() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.writer.Flush(); err != nil {
		return err
	}
	src, err := os.Open(w.path)
	if err != nil {
		return err
	}
	tmpPath := w.path + ".tmp"
	tmp, err := os.Create(tmpPath)
	if err != nil {
		src.Close()
		return err
	}

	var kept int64
	r := bufio.NewReader(src)
	bw := bufio.NewWriter(tmp)
	for {
		id, body, rerr := readRecord(r)
		if errors.Is(rerr, io.EOF) {
			break
		}
		if rerr != nil {
			err = rerr
			break
		}
		if id <= w.committed {
			continue
		}
		if err = writeRecord(bw, id, body); err != nil {
			break
		}
		kept += int64(recordHeaderLen + len(body))
	}
	if err == nil {
		err = bw.Flush()
	}
	if err == nil {
		err = tmp.Sync()
	}
	src.Close()
	tmp.Close()
	if err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("wal truncate: %w", err)
	}

	if err := w.file.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, w.path); err != nil {
		return err
	}
	if err := w.open(); err != nil {
		return err
	}
	w.sizeBytes = kept
	return nil
}

func (w *FileWAL) Stats() ports.WALStats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return ports.WALStats{
		OldestUncommitted: w.committed + 1,
		LatestAppended:    w.nextID,
		SizeBytes:         w.sizeBytes,
	}
}

// Close flushes buffered records and releases the file.
func (w *FileWAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return errors.Join(w.writer.Flush(), w.file.Sync(), w.file.Close())
}

var _ ports.WAL = (*FileWAL)(nil)
