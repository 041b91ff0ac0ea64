package content

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestMemoryStoreRoundtrip(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	cid, err := store.Put(ctx, "scan.pdf", []byte("sealed-bytes"))
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	got, err := store.Get(ctx, cid)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !bytes.Equal(got, []byte("sealed-bytes")) {
		t.Fatalf("roundtrip mismatch: %q", got)
	}

	cid2, _ := store.Put(ctx, "other-name.pdf", []byte("sealed-bytes"))
	if cid2 != cid {
		t.Fatalf("equal payloads must share an identifier")
	}

	if _, err := store.Get(ctx, "mem-unknown"); err == nil {
		t.Fatalf("expected error for unknown cid")
	}
}

func TestPinataStorePutAndGet(t *testing.T) {
	ctx := context.Background()

	pin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("unexpected method %s", r.Method)
		}
		if r.Header.Get("pinata_api_key") != "key" || r.Header.Get("pinata_secret_api_key") != "secret" {
			t.Errorf("missing pinata credentials")
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
		}
		if _, _, err := r.FormFile("file"); err != nil {
			t.Errorf("missing file part: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"IpfsHash": "QmFake123"})
	}))
	defer pin.Close()

	gateway := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/ipfs/QmFake123" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte("sealed-envelope"))
	}))
	defer gateway.Close()

	store, err := NewPinataStore(PinataConfig{
		PinURL:     pin.URL,
		GatewayURL: gateway.URL,
		APIKey:     "key",
		APISecret:  "secret",
	})
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	cid, err := store.Put(ctx, "record.json", []byte("sealed-envelope"))
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if cid != "QmFake123" {
		t.Fatalf("unexpected cid %s", cid)
	}

	payload, err := store.Get(ctx, cid)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !bytes.Equal(payload, []byte("sealed-envelope")) {
		t.Fatalf("unexpected payload %q", payload)
	}
}

func TestPinataStorePutSurfacesAPIError(t *testing.T) {
	pin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer pin.Close()

	store, err := NewPinataStore(PinataConfig{PinURL: pin.URL, GatewayURL: pin.URL})
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	if _, err := store.Put(context.Background(), "x", []byte("y")); err == nil {
		t.Fatalf("expected error from failing pin endpoint")
	}
}
