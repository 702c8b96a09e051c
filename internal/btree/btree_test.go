package btree

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/SimonWaldherr/tinySQL/internal/pager"
	"github.com/SimonWaldherr/tinySQL/internal/record"
	"github.com/SimonWaldherr/tinySQL/internal/vfs"
)

func newTestPagerTx(t *testing.T, cachePages int) *pager.Pager {
	t.Helper()
	v := vfs.NewMemVFS()
	p, err := pager.Open(v, "btree-test.db", cachePages)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { p.Close() })
	if err := p.BeginWrite(); err != nil {
		t.Fatalf("BeginWrite: %v", err)
	}
	return p
}

func rowPayload(n int) []byte {
	return record.Encode([]record.Value{record.Integer(int64(n)), record.Text(fmt.Sprintf("row-%04d", n))})
}

func TestBTree_InsertAndSeekTable(t *testing.T) {
	p := newTestPagerTx(t, 64)
	tree, root, err := CreateTableTree(p)
	if err != nil {
		t.Fatalf("CreateTableTree: %v", err)
	}
	if root == pager.InvalidPageID {
		t.Fatal("root page id is invalid")
	}

	for i := 1; i <= 20; i++ {
		if err := tree.InsertTable(int64(i), rowPayload(i)); err != nil {
			t.Fatalf("InsertTable(%d): %v", i, err)
		}
	}

	for i := 1; i <= 20; i++ {
		c := tree.NewCursor()
		found, err := c.SeekTable(int64(i))
		if err != nil {
			t.Fatalf("SeekTable(%d): %v", i, err)
		}
		if !found {
			t.Fatalf("SeekTable(%d): not found", i)
		}
		payload, err := c.Payload()
		if err != nil {
			t.Fatalf("Payload(%d): %v", i, err)
		}
		if !bytes.Equal(payload, rowPayload(i)) {
			t.Fatalf("row %d payload mismatch", i)
		}
	}

	c := tree.NewCursor()
	if found, err := c.SeekTable(999); err != nil {
		t.Fatalf("SeekTable(999): %v", err)
	} else if found {
		t.Fatal("SeekTable(999) should not be found")
	}
}

func TestBTree_ForwardAndBackwardScan(t *testing.T) {
	p := newTestPagerTx(t, 64)
	tree, _, err := CreateTableTree(p)
	if err != nil {
		t.Fatalf("CreateTableTree: %v", err)
	}
	const n = 15
	for i := n; i >= 1; i-- { // insert out of order
		if err := tree.InsertTable(int64(i), rowPayload(i)); err != nil {
			t.Fatalf("InsertTable(%d): %v", i, err)
		}
	}

	c := tree.NewCursor()
	ok, err := c.First()
	if err != nil || !ok {
		t.Fatalf("First: ok=%v err=%v", ok, err)
	}
	for i := 1; i <= n; i++ {
		key, err := c.Key()
		if err != nil {
			t.Fatalf("Key: %v", err)
		}
		if key != int64(i) {
			t.Fatalf("forward scan: got rowid %d, want %d", key, i)
		}
		more, err := c.Next()
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if i == n && more {
			t.Fatal("Next() past the last row should report false")
		}
	}

	ok, err = c.Last()
	if err != nil || !ok {
		t.Fatalf("Last: ok=%v err=%v", ok, err)
	}
	for i := n; i >= 1; i-- {
		key, err := c.Key()
		if err != nil {
			t.Fatalf("Key: %v", err)
		}
		if key != int64(i) {
			t.Fatalf("backward scan: got rowid %d, want %d", key, i)
		}
		c.Prev()
	}
}

func TestBTree_DeleteRemovesRow(t *testing.T) {
	p := newTestPagerTx(t, 64)
	tree, _, err := CreateTableTree(p)
	if err != nil {
		t.Fatalf("CreateTableTree: %v", err)
	}
	for i := 1; i <= 10; i++ {
		if err := tree.InsertTable(int64(i), rowPayload(i)); err != nil {
			t.Fatalf("InsertTable(%d): %v", i, err)
		}
	}
	if err := tree.DeleteTable(5); err != nil {
		t.Fatalf("DeleteTable(5): %v", err)
	}
	c := tree.NewCursor()
	if found, err := c.SeekTable(5); err != nil {
		t.Fatalf("SeekTable(5): %v", err)
	} else if found {
		t.Fatal("row 5 should be gone after delete")
	}
	for _, i := range []int64{1, 2, 3, 4, 6, 7, 8, 9, 10} {
		c := tree.NewCursor()
		if found, err := c.SeekTable(i); err != nil || !found {
			t.Fatalf("SeekTable(%d) after unrelated delete: found=%v err=%v", i, found, err)
		}
	}
}

func TestBTree_UpdateOverwritesRow(t *testing.T) {
	p := newTestPagerTx(t, 64)
	tree, _, err := CreateTableTree(p)
	if err != nil {
		t.Fatalf("CreateTableTree: %v", err)
	}
	if err := tree.InsertTable(1, rowPayload(1)); err != nil {
		t.Fatalf("insert: %v", err)
	}
	updated := record.Encode([]record.Value{record.Integer(1), record.Text("updated")})
	if err := tree.InsertTable(1, updated); err != nil {
		t.Fatalf("update: %v", err)
	}
	c := tree.NewCursor()
	found, err := c.SeekTable(1)
	if err != nil || !found {
		t.Fatalf("SeekTable after update: found=%v err=%v", found, err)
	}
	payload, err := c.Payload()
	if err != nil {
		t.Fatalf("Payload: %v", err)
	}
	if !bytes.Equal(payload, updated) {
		t.Fatal("update did not overwrite the row payload")
	}
}

func TestBTree_SplitsAcrossManyRows(t *testing.T) {
	p := newTestPagerTx(t, 256)
	tree, root, err := CreateTableTree(p)
	if err != nil {
		t.Fatalf("CreateTableTree: %v", err)
	}
	const n = 500
	for i := 1; i <= n; i++ {
		if err := tree.InsertTable(int64(i), rowPayload(i)); err != nil {
			t.Fatalf("InsertTable(%d): %v", i, err)
		}
	}
	if tree.Root() != root {
		t.Fatalf("root page number changed across splits: got %d, want %d", tree.Root(), root)
	}
	// The root should now be an interior page: 500 small rows don't fit a
	// single 4KiB leaf.
	rootPage, err := tree.loadPage(root)
	if err != nil {
		t.Fatalf("loadPage(root): %v", err)
	}
	if rootPage.Type() != TypeTableInterior {
		t.Fatalf("root page type = %#x, want interior after %d inserts", rootPage.Type(), n)
	}
	p.Release(root)

	for i := 1; i <= n; i += 37 {
		c := tree.NewCursor()
		found, err := c.SeekTable(int64(i))
		if err != nil {
			t.Fatalf("SeekTable(%d): %v", i, err)
		}
		if !found {
			t.Fatalf("SeekTable(%d) after splits: not found", i)
		}
		payload, err := c.Payload()
		if err != nil {
			t.Fatalf("Payload(%d): %v", i, err)
		}
		if !bytes.Equal(payload, rowPayload(i)) {
			t.Fatalf("row %d payload mismatch after splits", i)
		}
	}

	c := tree.NewCursor()
	ok, err := c.First()
	if err != nil || !ok {
		t.Fatalf("First: ok=%v err=%v", ok, err)
	}
	count := 1
	for {
		more, err := c.Next()
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if !more {
			break
		}
		count++
	}
	if count != n {
		t.Fatalf("forward scan after splits visited %d rows, want %d", count, n)
	}
}

func TestBTree_OverflowPayload(t *testing.T) {
	p := newTestPagerTx(t, 64)
	tree, _, err := CreateTableTree(p)
	if err != nil {
		t.Fatalf("CreateTableTree: %v", err)
	}
	big := bytes.Repeat([]byte{0x5a}, 20000)
	payload := record.Encode([]record.Value{record.Integer(1), record.Blob(big)})
	if err := tree.InsertTable(1, payload); err != nil {
		t.Fatalf("InsertTable with overflow payload: %v", err)
	}
	c := tree.NewCursor()
	found, err := c.SeekTable(1)
	if err != nil || !found {
		t.Fatalf("SeekTable: found=%v err=%v", found, err)
	}
	got, err := c.Payload()
	if err != nil {
		t.Fatalf("Payload: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatal("overflow payload round-trip mismatch")
	}
}

func TestBTree_IndexInsertAndSeek(t *testing.T) {
	p := newTestPagerTx(t, 64)
	ki := &record.KeyInfo{Columns: []record.ColumnKey{{Collation: record.CollationBinary}}}
	tree, _, err := CreateIndexTree(p, ki)
	if err != nil {
		t.Fatalf("CreateIndexTree: %v", err)
	}
	keys := [][]record.Value{
		{record.Text("bravo"), record.Integer(2)},
		{record.Text("alpha"), record.Integer(1)},
		{record.Text("charlie"), record.Integer(3)},
	}
	for _, k := range keys {
		enc := record.Encode(k)
		if err := tree.InsertIndexKey(enc, k); err != nil {
			t.Fatalf("InsertIndexKey(%v): %v", k, err)
		}
	}
	for _, k := range keys {
		enc := record.Encode(k)
		c := tree.NewCursor()
		found, err := c.SeekIndex(enc, k, ki)
		if err != nil {
			t.Fatalf("SeekIndex(%v): %v", k, err)
		}
		if !found {
			t.Fatalf("SeekIndex(%v): not found", k)
		}
	}
	c := tree.NewCursor()
	ok, err := c.First()
	if err != nil || !ok {
		t.Fatalf("First: ok=%v err=%v", ok, err)
	}
	payload, err := c.Payload()
	if err != nil {
		t.Fatalf("Payload: %v", err)
	}
	vals, err := record.Decode(payload)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if vals[0].String() != "alpha" {
		t.Fatalf("first index entry = %q, want %q (sorted order)", vals[0].String(), "alpha")
	}
}

func TestFreeList_PushPopReusesPages(t *testing.T) {
	p := newTestPagerTx(t, 64)
	fl := NewFreeList(p)
	a, err := p.Allocate()
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	b, err := p.Allocate()
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if err := fl.Push(a); err != nil {
		t.Fatalf("Push(a): %v", err)
	}
	if err := fl.Push(b); err != nil {
		t.Fatalf("Push(b): %v", err)
	}
	got, err := fl.Pop()
	if err != nil {
		t.Fatalf("Pop: %v", err)
	}
	if got != b {
		t.Fatalf("Pop returned %d, want LIFO order %d", got, b)
	}
	got, err = fl.Pop()
	if err != nil {
		t.Fatalf("Pop: %v", err)
	}
	if got != a {
		t.Fatalf("Pop returned %d, want %d", got, a)
	}
	if got, err := fl.Pop(); err != nil || got != pager.InvalidPageID {
		t.Fatalf("Pop on empty freelist: got=%d err=%v", got, err)
	}
}
