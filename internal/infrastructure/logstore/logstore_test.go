package logstore

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitos/okx_mark_pilot/internal/domain"
)

type testEntry struct {
	Seq  int    `json:"seq"`
	Note string `json:"note"`
}

func TestAppendAndTailRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "entries.jsonl")
	s, err := New(path)
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		require.NoError(t, s.Append(testEntry{Seq: i, Note: "n"}))
	}

	entries, err := Tail[testEntry](s, 4)
	require.NoError(t, err)
	require.Len(t, entries, 4)
	assert.Equal(t, 6, entries[0].Seq)
	assert.Equal(t, 9, entries[3].Seq)
}

func TestTailMissingFile(t *testing.T) {
	s, err := New(filepath.Join(t.TempDir(), "never_written.jsonl"))
	require.NoError(t, err)

	lines, err := s.TailLines(10)
	require.NoError(t, err)
	assert.Empty(t, lines)
}

func TestTailSkipsCorruptLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "entries.jsonl")
	s, err := New(path)
	require.NoError(t, err)

	require.NoError(t, s.Append(testEntry{Seq: 1}))
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString("{not valid json\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())
	require.NoError(t, s.Append(testEntry{Seq: 2}))

	entries, err := Tail[testEntry](s, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, 1, entries[0].Seq)
	assert.Equal(t, 2, entries[1].Seq)
}

func TestTailSpansBlocks(t *testing.T) {
	path := filepath.Join(t.TempDir(), "big.jsonl")
	s, err := New(path)
	require.NoError(t, err)

	// Each line is ~1KB so 100 lines cross several 8KB tail blocks.
	pad := strings.Repeat("x", 1000)
	for i := 0; i < 100; i++ {
		require.NoError(t, s.Append(testEntry{Seq: i, Note: pad}))
	}

	entries, err := Tail[testEntry](s, 50)
	require.NoError(t, err)
	require.Len(t, entries, 50)
	for i, e := range entries {
		assert.Equal(t, 50+i, e.Seq, "entry %d out of order", i)
	}
}

func TestTradeLogCap(t *testing.T) {
	l, err := NewTradeLog(filepath.Join(t.TempDir(), "trades.jsonl"))
	require.NoError(t, err)

	for i := 0; i < TradeTailCap+20; i++ {
		require.NoError(t, l.Append(domain.TradeLogEntry{
			TimestampMs: int64(i),
			Instrument:  "BTC-USDT-SWAP",
			Operation:   domain.OpPlace,
			Tag:         fmt.Sprintf("t%d", i),
		}))
	}

	entries, err := l.Recent(0)
	require.NoError(t, err)
	require.Len(t, entries, TradeTailCap)
	assert.Equal(t, int64(20), entries[0].TimestampMs)
	assert.Equal(t, int64(TradeTailCap+19), entries[len(entries)-1].TimestampMs)
}

func TestDecisionLogFirstFieldIsTimestamp(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ai.jsonl")
	l, err := NewDecisionLog(path)
	require.NoError(t, err)

	require.NoError(t, l.Append(domain.AIDecisionRecord{
		TimestampMs: 1700000000000,
		RawResponse: "[]",
	}))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(raw), `{"timestamp_ms":1700000000000`), "got: %s", raw)
}
