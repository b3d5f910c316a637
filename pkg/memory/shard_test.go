package memory

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

func TestShardStore_Contract(t *testing.T) {
	s, err := OpenShardStore(ShardConfig{Dir: t.TempDir()})
	if err != nil {
		t.Fatalf("OpenShardStore: %v", err)
	}
	defer s.Close()
	storeContract(t, s)
	concurrentCreate(t, s)
}

func TestShardStore_RotationAndResume(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s, err := OpenShardStore(ShardConfig{Dir: dir, MaxRecordsPerShard: 3})
	if err != nil {
		t.Fatalf("OpenShardStore: %v", err)
	}
	for i := 0; i < 7; i++ {
		if err := s.Create(ctx, testRecord(fmt.Sprintf("r%d", i))); err != nil {
			t.Fatalf("Create(%d): %v", i, err)
		}
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	idx, err := LoadIndex(filepath.Join(dir, "index.json"))
	if err != nil {
		t.Fatalf("LoadIndex: %v", err)
	}
	if idx.TotalRecords != 7 {
		t.Fatalf("TotalRecords=%d, want 7", idx.TotalRecords)
	}
	if len(idx.Shards) != 3 {
		t.Fatalf("Shards=%d, want 3", len(idx.Shards))
	}
	if idx.Shards[2].File != "memories-000003.jsonl" || idx.Shards[2].Records != 1 {
		t.Fatalf("shard3=%+v, want memories-000003.jsonl with 1 record", idx.Shards[2])
	}

	// Resume: old records are visible and duplicates are rejected.
	s2, err := OpenShardStore(ShardConfig{Dir: dir, MaxRecordsPerShard: 3})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if s2.Len() != 7 {
		t.Fatalf("Len=%d, want 7", s2.Len())
	}
	if err := s2.Create(ctx, testRecord("r0")); !errors.Is(err, ErrExists) {
		t.Fatalf("Create(r0) err=%v, want ErrExists", err)
	}
	for i := 7; i < 9; i++ {
		if err := s2.Create(ctx, testRecord(fmt.Sprintf("r%d", i))); err != nil {
			t.Fatalf("Create(%d): %v", i, err)
		}
	}
	if err := s2.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	idx, err = LoadIndex(filepath.Join(dir, "index.json"))
	if err != nil {
		t.Fatalf("LoadIndex: %v", err)
	}
	if len(idx.Shards) != 3 || idx.Shards[2].Records != 3 || idx.TotalRecords != 9 {
		t.Fatalf("after resume idx=%+v", idx)
	}
}

func TestShardStore_RebuildWithoutIndex(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s, err := OpenShardStore(ShardConfig{Dir: dir, MaxRecordsPerShard: 2})
	if err != nil {
		t.Fatalf("OpenShardStore: %v", err)
	}
	for i := 0; i < 5; i++ {
		if err := s.Create(ctx, testRecord(fmt.Sprintf("r%d", i))); err != nil {
			t.Fatalf("Create(%d): %v", i, err)
		}
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if err := os.Remove(filepath.Join(dir, "index.json")); err != nil {
		t.Fatalf("remove index: %v", err)
	}
	// Simulate a torn write at the tail of the last shard.
	f, err := os.OpenFile(filepath.Join(dir, "memories-000003.jsonl"), os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		t.Fatalf("open shard: %v", err)
	}
	if _, err := f.WriteString(`{"id":"torn","con`); err != nil {
		t.Fatalf("write: %v", err)
	}
	f.Close()

	s2, err := OpenShardStore(ShardConfig{Dir: dir, MaxRecordsPerShard: 2})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()

	if s2.Len() != 5 {
		t.Fatalf("Len=%d, want 5", s2.Len())
	}
	rec, err := s2.GetByID(ctx, "r4")
	if err != nil || rec == nil {
		t.Fatalf("GetByID(r4): rec=%v err=%v", rec, err)
	}
	if _, err := os.Stat(filepath.Join(dir, "index.json")); err != nil {
		t.Fatalf("index not rewritten: %v", err)
	}
}
