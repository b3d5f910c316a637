package memory

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/cpunion/cast-bot/pkg/types"
)

// ShardStore keeps records in append-only JSONL shards under a directory.
//
// All records are indexed in memory on open; Create appends one line and
// rotates to a new shard when the current one is full.
type ShardStore struct {
	mu sync.Mutex

	dir                string
	indexPath          string
	maxRecordsPerShard int

	idx     *Index
	records map[string]types.MemoryRecord

	curFile    *os.File
	curWriter  *bufio.Writer
	curSeq     int
	curRecords int
}

// ShardConfig configures a ShardStore.
type ShardConfig struct {
	Dir                string
	MaxRecordsPerShard int
}

// OpenShardStore opens (or creates) a sharded store and loads its records.
func OpenShardStore(cfg ShardConfig) (*ShardStore, error) {
	if cfg.Dir == "" {
		return nil, errors.New("memory dir is required")
	}
	if cfg.MaxRecordsPerShard <= 0 {
		cfg.MaxRecordsPerShard = 500
	}
	if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
		return nil, err
	}

	s := &ShardStore{
		dir:                cfg.Dir,
		indexPath:          filepath.Join(cfg.Dir, "index.json"),
		maxRecordsPerShard: cfg.MaxRecordsPerShard,
		records:            make(map[string]types.MemoryRecord),
	}

	idx, err := LoadIndex(s.indexPath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			log.Printf("[memory] index unreadable, rebuilding from shards: %v", err)
		}
		idx, err = rebuildIndexFromDisk(s.dir, s.maxRecordsPerShard)
		if err != nil {
			return nil, fmt.Errorf("failed to rebuild memory index: %w", err)
		}
	}
	if idx.MaxRecordsPerShard == 0 {
		idx.MaxRecordsPerShard = s.maxRecordsPerShard
	}
	s.idx = idx

	for i := range s.idx.Shards {
		n, err := s.loadShard(s.idx.Shards[i].File)
		if err != nil {
			return nil, fmt.Errorf("failed to load shard %s: %w", s.idx.Shards[i].File, err)
		}
		s.idx.Shards[i].Records = n
	}
	s.idx.recount()

	if err := s.openForAppend(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *ShardStore) loadShard(file string) (int, error) {
	f, err := os.Open(filepath.Join(s.dir, file))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 256*1024), 8*1024*1024)
	n := 0
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		n++
		var rec types.MemoryRecord
		if err := json.Unmarshal(line, &rec); err != nil || rec.ID == "" {
			// A torn final line from a crash; keep counting so rotation stays aligned.
			continue
		}
		if _, ok := s.records[rec.ID]; !ok {
			s.records[rec.ID] = rec
		}
	}
	return n, scanner.Err()
}

func (s *ShardStore) openForAppend() error {
	last := s.idx.lastShard()
	if last == nil {
		return s.rotateTo(1)
	}
	path := filepath.Join(s.dir, last.File)
	torn, err := endsWithoutNewline(path)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return err
	}
	if torn {
		// Terminate a partial line so the next record starts cleanly.
		if _, err := f.Write([]byte{'\n'}); err != nil {
			f.Close()
			return err
		}
	}
	s.curFile = f
	s.curWriter = bufio.NewWriter(f)
	s.curSeq = last.Seq
	s.curRecords = last.Records
	return SaveIndexAtomic(s.indexPath, s.idx)
}

func endsWithoutNewline(path string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil || info.Size() == 0 {
		return false, err
	}
	buf := make([]byte, 1)
	if _, err := f.ReadAt(buf, info.Size()-1); err != nil {
		return false, err
	}
	return buf[0] != '\n', nil
}

func (s *ShardStore) rotateTo(seq int) error {
	if s.curWriter != nil {
		_ = s.curWriter.Flush()
	}
	if s.curFile != nil {
		_ = s.curFile.Close()
	}

	file := shardFileName(seq)
	f, err := os.OpenFile(filepath.Join(s.dir, file), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return err
	}

	s.curFile = f
	s.curWriter = bufio.NewWriter(f)
	s.curSeq = seq
	s.curRecords = 0

	found := false
	for i := range s.idx.Shards {
		if s.idx.Shards[i].Seq == seq {
			s.idx.Shards[i].File = file
			found = true
			break
		}
	}
	if !found {
		s.idx.Shards = append(s.idx.Shards, Shard{Seq: seq, File: file})
		sort.Slice(s.idx.Shards, func(i, j int) bool { return s.idx.Shards[i].Seq < s.idx.Shards[j].Seq })
	}
	return SaveIndexAtomic(s.indexPath, s.idx)
}

// GetByID returns the stored record or nil.
func (s *ShardStore) GetByID(ctx context.Context, id string) (*types.MemoryRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

// Create appends rec to the current shard.
func (s *ShardStore) Create(ctx context.Context, rec *types.MemoryRecord) error {
	if rec == nil || rec.ID == "" {
		return errors.New("memory record id is required")
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal memory record: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.curWriter == nil {
		return errors.New("memory store closed")
	}
	if _, ok := s.records[rec.ID]; ok {
		return ErrExists
	}

	// Rotate only when about to write into a full shard, so the index never
	// lists an empty "next" shard.
	if s.curRecords >= s.maxRecordsPerShard {
		if err := s.rotateTo(s.curSeq + 1); err != nil {
			return err
		}
	}

	if _, err := s.curWriter.Write(append(data, '\n')); err != nil {
		return err
	}
	if err := s.curWriter.Flush(); err != nil {
		return err
	}

	s.records[rec.ID] = *rec
	s.curRecords++
	s.idx.setShardRecords(s.curSeq, s.curRecords)
	s.idx.recount()
	return SaveIndexAtomic(s.indexPath, s.idx)
}

// Len returns the number of distinct records.
func (s *ShardStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// Close flushes the current shard and persists the index.
func (s *ShardStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var err error
	if s.curWriter != nil {
		err = s.curWriter.Flush()
		s.curWriter = nil
	}
	if s.curFile != nil {
		closeErr := s.curFile.Close()
		if err == nil {
			err = closeErr
		}
		s.curFile = nil
	}
	if s.idx != nil {
		_ = SaveIndexAtomic(s.indexPath, s.idx)
	}
	return err
}
