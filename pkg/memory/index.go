package memory

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Index is the manifest of a sharded record log.
type Index struct {
	Version            int       `json:"version"`
	GeneratedAt        time.Time `json:"generated_at"`
	MaxRecordsPerShard int       `json:"max_records_per_shard,omitempty"`

	// Shards are ordered oldest -> newest (append-only).
	Shards []Shard `json:"shards"`

	TotalRecords int `json:"total_records,omitempty"`
}

// Shard describes one JSONL file of the log.
type Shard struct {
	Seq     int    `json:"seq"`
	File    string `json:"file"`    // relative to the store directory, e.g. "memories-000001.jsonl"
	Records int    `json:"records"` // number of lines in the shard
}

// LoadIndex reads an index file.
func LoadIndex(path string) (*Index, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	idx := &Index{}
	if err := json.Unmarshal(data, idx); err != nil {
		return nil, err
	}
	if idx.Version == 0 {
		idx.Version = 1
	}
	return idx, nil
}

// SaveIndexAtomic writes idx through a temp file and rename.
func SaveIndexAtomic(path string, idx *Index) error {
	if idx == nil {
		return nil
	}
	if idx.Version <= 0 {
		idx.Version = 1
	}
	idx.GeneratedAt = time.Now()

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(idx, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func (idx *Index) recount() {
	sum := 0
	for _, s := range idx.Shards {
		sum += s.Records
	}
	idx.TotalRecords = sum
}

func (idx *Index) setShardRecords(seq, n int) {
	for i := range idx.Shards {
		if idx.Shards[i].Seq == seq {
			idx.Shards[i].Records = n
			return
		}
	}
}

func (idx *Index) lastShard() *Shard {
	if len(idx.Shards) == 0 {
		return nil
	}
	return &idx.Shards[len(idx.Shards)-1]
}

// rebuildIndexFromDisk recovers the manifest when index.json is missing.
func rebuildIndexFromDisk(dir string, maxRecordsPerShard int) (*Index, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	shards := make([]Shard, 0, 16)
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		seq := parseShardSeq(e.Name())
		if seq <= 0 {
			continue
		}
		shards = append(shards, Shard{Seq: seq, File: e.Name()})
	}
	sort.Slice(shards, func(i, j int) bool { return shards[i].Seq < shards[j].Seq })

	return &Index{
		Version:            1,
		MaxRecordsPerShard: maxRecordsPerShard,
		Shards:             shards,
	}, nil
}

func parseShardSeq(name string) int {
	// memories-000123.jsonl
	if !strings.HasPrefix(name, "memories-") || !strings.HasSuffix(name, ".jsonl") {
		return 0
	}
	mid := strings.TrimSuffix(strings.TrimPrefix(name, "memories-"), ".jsonl")
	n, err := strconv.Atoi(mid)
	if err != nil {
		return 0
	}
	return n
}

func shardFileName(seq int) string {
	return fmt.Sprintf("memories-%06d.jsonl", seq)
}
