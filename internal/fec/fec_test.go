package fec

import (
	"bytes"
	"testing"
)

func buildShards(t *testing.T, rs *ReedSolomon, data []byte, shardLen int) [][]byte {
	t.Helper()
	shards := make([][]byte, rs.TotalShards())
	for i := 0; i < rs.DataShards(); i++ {
		shards[i] = make([]byte, shardLen)
		start := i * shardLen
		end := start + shardLen
		if end > len(data) {
			end = len(data)
		}
		if start < len(data) {
			copy(shards[i], data[start:end])
		}
	}
	for i := rs.DataShards(); i < rs.TotalShards(); i++ {
		shards[i] = make([]byte, shardLen)
	}
	if err := rs.Encode(shards); err != nil {
		t.Fatalf("Encode: %v", err)
	}
	return shards
}

func TestNewAudioCodecShardCounts(t *testing.T) {
	rs, err := NewAudioCodec()
	if err != nil {
		t.Fatalf("NewAudioCodec: %v", err)
	}
	if rs.DataShards() != 4 {
		t.Errorf("DataShards() = %d, want 4", rs.DataShards())
	}
	if rs.ParityShards() != 2 {
		t.Errorf("ParityShards() = %d, want 2", rs.ParityShards())
	}
	if rs.TotalShards() != 6 {
		t.Errorf("TotalShards() = %d, want 6", rs.TotalShards())
	}
}

func TestEncodeIsDeterministic(t *testing.T) {
	rs, err := NewAudioCodec()
	if err != nil {
		t.Fatalf("NewAudioCodec: %v", err)
	}

	data := []byte("this is a 35 byte test payload here")
	shardLen := (len(data) + rs.DataShards() - 1) / rs.DataShards()

	first := buildShards(t, rs, data, shardLen)
	second := buildShards(t, rs, data, shardLen)

	for i := range first {
		if !bytes.Equal(first[i], second[i]) {
			t.Errorf("shard %d differs between encode runs: %x vs %x", i, first[i], second[i])
		}
	}
}

func TestEncodeChangesParityWhenDataChanges(t *testing.T) {
	rs, err := NewAudioCodec()
	if err != nil {
		t.Fatalf("NewAudioCodec: %v", err)
	}

	shardLen := 16
	a := buildShards(t, rs, bytes.Repeat([]byte{0x01}, shardLen*rs.DataShards()), shardLen)
	b := buildShards(t, rs, bytes.Repeat([]byte{0x02}, shardLen*rs.DataShards()), shardLen)

	for i := rs.DataShards(); i < rs.TotalShards(); i++ {
		if bytes.Equal(a[i], b[i]) {
			t.Errorf("parity shard %d identical for different data, want it to vary", i)
		}
	}
}

func TestEncodeRejectsWrongShardCount(t *testing.T) {
	rs, err := NewAudioCodec()
	if err != nil {
		t.Fatalf("NewAudioCodec: %v", err)
	}
	shards := make([][]byte, rs.TotalShards()-1)
	for i := range shards {
		shards[i] = make([]byte, 16)
	}
	if err := rs.Encode(shards); err != ErrInvalidShardSize {
		t.Errorf("Encode with wrong shard count: got %v, want ErrInvalidShardSize", err)
	}
}

func TestEncodeRejectsMismatchedShardLengths(t *testing.T) {
	rs, err := NewAudioCodec()
	if err != nil {
		t.Fatalf("NewAudioCodec: %v", err)
	}
	shards := make([][]byte, rs.TotalShards())
	for i := range shards {
		shards[i] = make([]byte, 16)
	}
	shards[2] = make([]byte, 8)
	if err := rs.Encode(shards); err != ErrInvalidShardSize {
		t.Errorf("Encode with mismatched shard lengths: got %v, want ErrInvalidShardSize", err)
	}
}
