package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"scfcore/internal/blob/core"
)

// fakeS3 serves the subset of the S3 REST API the store uses. Listing pages
// hold one key each so that pagination is exercised.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string]fakeObject
	puts    int
}

type fakeObject struct {
	body        []byte
	contentType string
	metadata    map[string]string
}

func (f *fakeS3) RoundTrip(req *http.Request) (*http.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	parts := strings.SplitN(strings.TrimPrefix(req.URL.Path, "/"), "/", 2)
	key := ""
	if len(parts) == 2 {
		key = parts[1]
	}
	if req.Method == http.MethodGet && req.URL.Query().Get("list-type") == "2" {
		return f.list(req), nil
	}
	switch req.Method {
	case http.MethodHead:
		obj, ok := f.objects[key]
		if !ok {
			return respond(http.StatusNotFound, nil, nil), nil
		}
		return respond(http.StatusOK, nil, obj.headers()), nil
	case http.MethodPut:
		if _, exists := f.objects[key]; exists && req.Header.Get("If-None-Match") == "*" {
			return respond(http.StatusPreconditionFailed, nil, nil), nil
		}
		body, _ := io.ReadAll(req.Body)
		if dec, ok := decodeChunked(body); ok {
			body = dec
		}
		md := map[string]string{}
		for h, v := range req.Header {
			if name, ok := strings.CutPrefix(strings.ToLower(h), "x-amz-meta-"); ok {
				md[name] = v[0]
			}
		}
		f.objects[key] = fakeObject{body: body, contentType: req.Header.Get("Content-Type"), metadata: md}
		f.puts++
		return respond(http.StatusOK, nil, http.Header{"Etag": {`"etag"`}}), nil
	case http.MethodGet:
		obj, ok := f.objects[key]
		if !ok {
			return respond(http.StatusNotFound, nil, nil), nil
		}
		return respond(http.StatusOK, obj.body, obj.headers()), nil
	case http.MethodDelete:
		delete(f.objects, key)
		return respond(http.StatusNoContent, nil, nil), nil
	}
	return respond(http.StatusNotImplemented, nil, nil), nil
}

func (f *fakeS3) list(req *http.Request) *http.Response {
	prefix := req.URL.Query().Get("prefix")
	after := req.URL.Query().Get("continuation-token")
	var keys []string
	for k := range f.objects {
		if strings.HasPrefix(k, prefix) && k > after {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?><ListBucketResult>`)
	if len(keys) > 1 {
		fmt.Fprintf(&b, "<IsTruncated>true</IsTruncated><NextContinuationToken>%s</NextContinuationToken>", keys[0])
		keys = keys[:1]
	} else {
		b.WriteString("<IsTruncated>false</IsTruncated>")
	}
	for _, k := range keys {
		fmt.Fprintf(&b, "<Contents><Key>%s</Key><Size>%d</Size><LastModified>2024-01-01T00:00:00Z</LastModified></Contents>", k, len(f.objects[k].body))
	}
	b.WriteString("</ListBucketResult>")
	return respond(http.StatusOK, []byte(b.String()), http.Header{"Content-Type": {"application/xml"}})
}

func (o fakeObject) headers() http.Header {
	h := http.Header{}
	h.Set("Content-Length", strconv.Itoa(len(o.body)))
	h.Set("Content-Type", o.contentType)
	h.Set("ETag", `"etag123"`)
	h.Set("Last-Modified", time.Now().UTC().Format(http.TimeFormat))
	for k, v := range o.metadata {
		h.Set("X-Amz-Meta-"+k, v)
	}
	return h
}

func respond(status int, body []byte, h http.Header) *http.Response {
	if h == nil {
		h = http.Header{}
	}
	return &http.Response{StatusCode: status, Body: io.NopCloser(bytes.NewReader(body)), Header: h, ContentLength: int64(len(body))}
}

// decodeChunked unwraps a single-chunk aws-chunked payload.
func decodeChunked(b []byte) ([]byte, bool) {
	size, rest, ok := strings.Cut(string(b), "\r\n")
	if !ok {
		return nil, false
	}
	size, _, _ = strings.Cut(size, ";")
	n, err := strconv.ParseInt(size, 16, 64)
	if err != nil || int64(len(rest)) < n+2 || rest[n:n+2] != "\r\n" {
		return nil, false
	}
	return []byte(rest[:n]), true
}

func newFakeStore(t *testing.T, prefix string) (*Store, *fakeS3) {
	t.Helper()
	fake := &fakeS3{objects: make(map[string]fakeObject)}
	store, err := New(context.Background(), Config{
		Bucket:          "states",
		Prefix:          prefix,
		Endpoint:        "https://s3.test.local",
		PathStyle:       true,
		AccessKeyID:     "AKIA",
		SecretAccessKey: "SECRET",
		HTTPClient:      &http.Client{Transport: fake},
	})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	return store, fake
}

func TestStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store, fake := newFakeStore(t, "")
	payload := []byte(`{"kind":"orbitals"}`)
	info, err := store.Put(ctx, "states/DFT/a.json", bytes.NewReader(payload), core.PutOptions{ContentType: "application/json", Metadata: map[string]string{"calculator": "DFT"}})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if info.Key != "states/DFT/a.json" || info.Size != int64(len(payload)) || info.ETag != "etag123" {
		t.Fatalf("unexpected info %+v", info)
	}
	if _, err := store.Put(ctx, "states/DFT/a.json", bytes.NewReader(payload), core.PutOptions{}); !errors.Is(err, core.ErrExists) {
		t.Fatalf("expected ErrExists, got %v", err)
	}
	if fake.puts != 1 {
		t.Fatalf("duplicate put reached the service")
	}
	got, rc, err := store.Get(ctx, "states/DFT/a.json")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	body, _ := io.ReadAll(rc)
	_ = rc.Close()
	if !bytes.Equal(body, payload) || got.ContentType != "application/json" || got.ETag != "etag123" {
		t.Fatalf("get returned %q %+v", body, got)
	}
	if got.Metadata["calculator"] != "DFT" {
		t.Fatalf("metadata lost: %+v", got.Metadata)
	}
	ok, err := store.Delete(ctx, "states/DFT/a.json")
	if err != nil || !ok {
		t.Fatalf("delete: %v %v", ok, err)
	}
	ok, err = store.Delete(ctx, "states/DFT/a.json")
	if err != nil || ok {
		t.Fatalf("second delete should report false: %v %v", ok, err)
	}
}

func TestStoreNotFound(t *testing.T) {
	ctx := context.Background()
	store, _ := newFakeStore(t, "")
	if _, _, err := store.Get(ctx, "missing"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("get: expected ErrNotFound, got %v", err)
	}
	if _, err := store.Head(ctx, "missing"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("head: expected ErrNotFound, got %v", err)
	}
}

func TestStoreListPaginatesAndStripsPrefix(t *testing.T) {
	ctx := context.Background()
	store, fake := newFakeStore(t, "/team/")
	for _, k := range []string{"states/b", "states/a", "other/c"} {
		if _, err := store.Put(ctx, k, strings.NewReader(k), core.PutOptions{}); err != nil {
			t.Fatalf("put %s: %v", k, err)
		}
	}
	if _, ok := fake.objects["team/states/a"]; !ok {
		t.Fatalf("prefix not applied: %v", fake.objects)
	}
	infos, err := store.List(ctx, "states/")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(infos) != 2 || infos[0].Key != "states/a" || infos[1].Key != "states/b" {
		t.Fatalf("unexpected listing %+v", infos)
	}
}

func TestNewRequiresBucket(t *testing.T) {
	if _, err := New(context.Background(), Config{}); err == nil {
		t.Fatalf("expected error without bucket")
	}
	t.Setenv(EnvBucket, "")
	if _, err := OpenFromEnv(context.Background()); err == nil {
		t.Fatalf("expected error without bucket env")
	}
}
