package audit

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/timothyplummer/talesofvalor/pkg/auth"
)

func TestWriterLogger(t *testing.T) {
	var buf bytes.Buffer
	l := NewWriterLogger(&buf)
	ctx := auth.WithActor(context.Background(), auth.Actor{ID: "staff-1"})

	require.NoError(t, l.Record(ctx, Entry{CharacterID: "c1", Action: ActionAward, Message: "Awarded 5 CP", Cost: 0}))

	line := buf.String()
	require.True(t, strings.HasPrefix(line, "AUDIT: "))
	var e Entry
	require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "AUDIT: ")), &e))
	assert.Equal(t, "staff-1", e.ActorID)
	assert.Equal(t, ActionAward, e.Action)
	assert.NotEmpty(t, e.ID)
	assert.False(t, e.CreatedAt.IsZero())
}

func TestFillDefaultsToSystem(t *testing.T) {
	e := Fill(context.Background(), Entry{})
	assert.Equal(t, "system", e.ActorID)

	e = Fill(context.Background(), Entry{ID: "x", ActorID: "a"})
	assert.Equal(t, "x", e.ID)
	assert.Equal(t, "a", e.ActorID)
}

func TestChainAppendAndVerify(t *testing.T) {
	c := NewChain()
	ctx := context.Background()
	assert.Equal(t, "genesis", c.Head())

	require.NoError(t, c.Record(ctx, Entry{CharacterID: "c1", Action: ActionPurchaseSkill, Target: "skill:10", Cost: 6}))
	require.NoError(t, c.Record(ctx, Entry{CharacterID: "c2", Action: ActionCreate}))
	require.NoError(t, c.Record(ctx, Entry{CharacterID: "c1", Action: ActionPurchaseHeader, Target: "header:1"}))

	require.NoError(t, c.Verify())
	assert.True(t, strings.HasPrefix(c.Head(), "sha256:"))

	entries, err := c.Entries(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, ActionPurchaseSkill, entries[0].Action)
	assert.Equal(t, ActionPurchaseHeader, entries[1].Action)

	links := c.Links()
	require.Len(t, links, 3)
	assert.Equal(t, links[0].EntryHash, links[1].PreviousHash)
}

func TestChainDetectsTampering(t *testing.T) {
	c := NewChain()
	ctx := context.Background()
	require.NoError(t, c.Record(ctx, Entry{CharacterID: "c1", Action: ActionAward, Cost: 5}))
	require.NoError(t, c.Record(ctx, Entry{CharacterID: "c1", Action: ActionPurchaseSkill, Cost: 6}))

	links := c.Links()
	links[0].Entry.Cost = 500
	assert.ErrorIs(t, VerifyLinks(links), ErrChainBroken)

	links = c.Links()
	links[1].PreviousHash = "genesis"
	assert.ErrorIs(t, VerifyLinks(links), ErrChainBroken)
}

type failingLogger struct{ n int }

func (f *failingLogger) Record(context.Context, Entry) error {
	f.n++
	return errors.New("sink down")
}

func TestMultiAttemptsAllSinks(t *testing.T) {
	bad := &failingLogger{}
	chain := NewChain()
	m := Multi{bad, chain}

	err := m.Record(context.Background(), Entry{CharacterID: "c1", Action: ActionGrant})
	assert.EqualError(t, err, "sink down")
	assert.Equal(t, 1, bad.n)

	entries, err := m.Entries(context.Background(), "c1")
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	_, err = Multi{bad}.Entries(context.Background(), "c1")
	assert.ErrorIs(t, err, ErrNotQueryable)
}

func TestExporterPack(t *testing.T) {
	chain := NewChain()
	ctx := context.Background()
	require.NoError(t, chain.Record(ctx, Entry{CharacterID: "c1", Action: ActionAward, Message: "Awarded 10 CP"}))
	require.NoError(t, chain.Record(ctx, Entry{CharacterID: "c1", Action: ActionPurchaseSkill, Cost: 6}))

	e := NewExporter(chain)
	e.now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }

	data, checksum, err := e.Pack(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, computeHash(data), checksum)

	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	files := map[string][]byte{}
	for _, f := range zr.File {
		rc, err := f.Open()
		require.NoError(t, err)
		b, err := io.ReadAll(rc)
		require.NoError(t, err)
		rc.Close()
		files[f.Name] = b
	}
	require.Contains(t, files, "entries.json")
	require.Contains(t, files, "README.txt")

	var m Manifest
	require.NoError(t, json.Unmarshal(files["manifest.json"], &m))
	assert.Equal(t, 2, m.EntryCount)
	assert.Equal(t, chain.Head(), m.ChainHead, "single-character chain matches the pack head")
	assert.Equal(t, computeHash(files["entries.json"]), m.Files["entries.json"])
}

func TestExporterErrors(t *testing.T) {
	_, _, err := NewExporter(NewChain()).Pack(context.Background(), "")
	assert.ErrorIs(t, err, ErrEmptyCharacterID)

	_, _, err = NewExporter(nil).Pack(context.Background(), "c1")
	assert.ErrorIs(t, err, ErrStoreNotConfigured)
}
