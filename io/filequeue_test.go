package io

import (
	"bytes"
	"errors"
	"path/filepath"
	"testing"
)

func TestFileQueueWriteThenRead(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "q")

	w, err := NewFileQueueWriter(dir)
	if err != nil {
		t.Fatal(err)
	}
	payload := []byte{0xDE, 0xAD, 0xBE, 0xEF, 0x42}
	if _, err := w.Write(payload); err != nil {
		t.Fatal(err)
	}
	if err := w.Flush(); err != nil {
		t.Fatal(err)
	}

	msgPath := filepath.Join(dir, "0000000000000000.dat")
	data, err := readFileHelper(msgPath)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(data, payload) {
		t.Fatalf("got %x, want %x", data, payload)
	}

	writerIdx := NewIndexFile(filepath.Join(dir, "index.dat"))
	v, err := writerIdx.Get()
	if err != nil {
		t.Fatal(err)
	}
	if v != 1 {
		t.Fatalf("writer index = %d, want 1", v)
	}

	r, err := NewFileQueueReader(dir)
	if err != nil {
		t.Fatal(err)
	}
	var got []byte
	ok, err := r.TryReadNext(func(msg []byte) error {
		got = append([]byte{}, msg...)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("expected a message")
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("got %x, want %x", got, payload)
	}
	if fileExists(msgPath) {
		t.Fatal("expected message file to be deleted after consumption")
	}
	readerIdx := NewIndexFile(filepath.Join(dir, "index_broker_r.dat"))
	rv, err := readerIdx.Get()
	if err != nil {
		t.Fatal(err)
	}
	if rv != 1 {
		t.Fatalf("reader index = %d, want 1", rv)
	}
}

func TestFileQueueEmptyPending(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "q")
	r, err := NewFileQueueReader(dir)
	if err != nil {
		t.Fatal(err)
	}
	pending, err := r.Pending()
	if err != nil {
		t.Fatal(err)
	}
	if pending != 0 {
		t.Fatalf("pending = %d, want 0", pending)
	}
	ok, err := r.TryReadNext(func([]byte) error { return nil })
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("expected no message on empty queue")
	}
}

func TestFileQueueNameEncoding(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "q")
	w, err := NewFileQueueWriter(dir)
	if err != nil {
		t.Fatal(err)
	}
	writerIdx := NewIndexFile(filepath.Join(dir, "index.dat"))
	if err := writerIdx.Set(0x2A); err != nil {
		t.Fatal(err)
	}
	w.current = 0x2A

	if _, err := w.Write([]byte("x")); err != nil {
		t.Fatal(err)
	}
	if err := w.Flush(); err != nil {
		t.Fatal(err)
	}

	if !fileExists(filepath.Join(dir, "000000000000002A.dat")) {
		t.Fatal("expected file named 000000000000002A.dat")
	}
	v, err := writerIdx.Get()
	if err != nil {
		t.Fatal(err)
	}
	if v != 0x2B {
		t.Fatalf("writer index = %x, want 2B", v)
	}
}

func TestFileQueuePoisonReaderIndexNotAdvanced(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "q")
	w, err := NewFileQueueWriter(dir)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 4; i++ {
		if _, err := w.Write([]byte{byte(i)}); err != nil {
			t.Fatal(err)
		}
		if err := w.Flush(); err != nil {
			t.Fatal(err)
		}
	}

	r, err := NewFileQueueReader(dir)
	if err != nil {
		t.Fatal(err)
	}

	poison := errors.New("invalid discriminant")
	var processed []byte
	for i := 0; i < 4; i++ {
		idx := i
		ok, err := r.TryReadNext(func(msg []byte) error {
			if idx == 2 {
				return poison
			}
			processed = append(processed, msg...)
			return nil
		})
		if idx < 2 {
			if err != nil || !ok {
				t.Fatalf("message %d: expected success, got ok=%v err=%v", idx, ok, err)
			}
			continue
		}
		if idx == 2 {
			if !errors.Is(err, poison) {
				t.Fatalf("message 2: expected poison error, got %v", err)
			}
			break
		}
	}

	rv, err := r.ReaderIndexValue()
	if err != nil {
		t.Fatal(err)
	}
	if rv != 2 {
		t.Fatalf("reader index = %d, want 2 (must not advance past poison message)", rv)
	}

	// Retrying should hit the same poison message again, deterministically.
	_, err = r.TryReadNext(func(msg []byte) error { return poison })
	if !errors.Is(err, poison) {
		t.Fatalf("expected same poison error on retry, got %v", err)
	}
}

func TestFileQueueSkip(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "q")
	w, err := NewFileQueueWriter(dir)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		w.Write([]byte{byte(i)})
		if err := w.Flush(); err != nil {
			t.Fatal(err)
		}
	}
	r, err := NewFileQueueReader(dir)
	if err != nil {
		t.Fatal(err)
	}
	if err := r.Skip(2); err != nil {
		t.Fatal(err)
	}
	rv, err := r.ReaderIndexValue()
	if err != nil {
		t.Fatal(err)
	}
	if rv != 2 {
		t.Fatalf("reader index = %d, want 2", rv)
	}
	// Skip beyond the end should stop at the writer index, not error.
	if err := r.Skip(5); err != nil {
		t.Fatal(err)
	}
	rv, err = r.ReaderIndexValue()
	if err != nil {
		t.Fatal(err)
	}
	if rv != 3 {
		t.Fatalf("reader index = %d, want 3", rv)
	}
}
