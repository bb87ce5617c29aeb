package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"fraudledger/internal/database/boltstore"
	"fraudledger/internal/ledger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeLedger(t *testing.T, descs ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "approved-ledger.jsonl")
	w, err := ledger.Open(path)
	require.NoError(t, err)
	q := ledger.NewQueue(w.Keys())

	for _, d := range descs {
		p, _, err := q.Enqueue(context.Background(), ledger.FraudReport{
			Reporter:              "ops",
			AccountHash:           "acct",
			DescriptionTokensHash: d,
			Description:           "suspicious transfer",
			AmountCents:           100,
		})
		require.NoError(t, err)
		_, err = w.AppendWithCommit(p, "alice", func(register func()) {
			q.Finalize(p.ID, register)
		})
		require.NoError(t, err)
	}
	return path
}

func TestRootCommand_Subcommands(t *testing.T) {
	root := newRootCmd()
	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	assert.Contains(t, names, "serve")
	assert.Contains(t, names, "verify")
	assert.Contains(t, names, "pending")
	assert.NotNil(t, root.PersistentFlags().Lookup("config"))
}

func TestVerify_ValidLedger(t *testing.T) {
	path := writeLedger(t, "d1", "d2", "d3")

	var out bytes.Buffer
	require.NoError(t, runVerify(&out, path, false))
	assert.Contains(t, out.String(), "entries:    3")
	assert.Contains(t, out.String(), "status:     OK")
}

func TestVerify_JSON(t *testing.T) {
	path := writeLedger(t, "d1", "d2")

	var out bytes.Buffer
	require.NoError(t, runVerify(&out, path, true))

	var result map[string]any
	require.NoError(t, json.Unmarshal(out.Bytes(), &result))
	assert.Equal(t, true, result["valid"])
	assert.Equal(t, float64(2), result["entries"])
	assert.NotEmpty(t, result["tip"])
}

func TestVerify_MissingFileIsEmpty(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, runVerify(&out, filepath.Join(t.TempDir(), "absent.jsonl"), false))
	assert.Contains(t, out.String(), "entries:    0")
	assert.Contains(t, out.String(), "tip:        <none>")
}

func TestVerify_TamperedLedger(t *testing.T) {
	path := writeLedger(t, "d1", "d2")
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, bytes.Replace(data, []byte(`"amountCents":100`), []byte(`"amountCents":999`), 1), 0644))

	var out bytes.Buffer
	err = runVerify(&out, path, false)
	require.Error(t, err)
	assert.ErrorIs(t, err, ledger.ErrMalformedLedger)
	assert.Contains(t, out.String(), "BROKEN")
}

func TestVerifyCommand_Args(t *testing.T) {
	path := writeLedger(t, "d1")

	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"verify", path})
	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), "entries:    1")
}

func TestPending_ListsSnapshot(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "fraudledger.db")
	store, err := boltstore.Open(boltstore.Options{Path: dbPath})
	require.NoError(t, err)

	q := ledger.NewQueue(nil, ledger.WithPendingStore(store.PendingStore()))
	for _, d := range []string{"d1", "d2"} {
		_, _, err := q.Enqueue(context.Background(), ledger.FraudReport{
			Reporter:              "ops",
			AccountHash:           "acct",
			DescriptionTokensHash: d,
			Description:           "suspicious transfer",
			AmountCents:           4200,
		})
		require.NoError(t, err)
	}
	require.NoError(t, store.Close())

	t.Run("table", func(t *testing.T) {
		var out bytes.Buffer
		require.NoError(t, runPending(context.Background(), &out, dbPath, pendingOptions{}))
		lines := strings.Split(strings.TrimSpace(out.String()), "\n")
		require.Len(t, lines, 4)
		assert.Contains(t, lines[0], "DEDUPE KEY")
		assert.Contains(t, lines[1], "|d1|")
		assert.Contains(t, lines[2], "|d2|")
		assert.Equal(t, "2 pending", lines[3])
	})

	t.Run("json", func(t *testing.T) {
		var out bytes.Buffer
		require.NoError(t, runPending(context.Background(), &out, dbPath, pendingOptions{JSON: true}))
		var entries []ledger.PendingEntry
		require.NoError(t, json.Unmarshal(out.Bytes(), &entries))
		require.Len(t, entries, 2)
		assert.Equal(t, int64(4200), entries[0].Report.AmountCents)
	})

	t.Run("count", func(t *testing.T) {
		var out bytes.Buffer
		require.NoError(t, runPending(context.Background(), &out, dbPath, pendingOptions{Count: true}))
		assert.Equal(t, "2\n", out.String())

		out.Reset()
		require.NoError(t, runPending(context.Background(), &out, dbPath, pendingOptions{Count: true, JSON: true}))
		assert.JSONEq(t, `{"count":2}`, out.String())
	})

	t.Run("count flag", func(t *testing.T) {
		root := newRootCmd()
		var out bytes.Buffer
		root.SetOut(&out)
		root.SetErr(&bytes.Buffer{})
		root.SetArgs([]string{"pending", "--db", dbPath, "--count"})
		require.NoError(t, root.Execute())
		assert.Equal(t, "2\n", out.String())
	})
}
