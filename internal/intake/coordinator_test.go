package intake

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"

	"github.com/jo-hoe/docintake/internal/jobs"
	"github.com/jo-hoe/docintake/internal/notify"
	"github.com/jo-hoe/docintake/internal/storage"
)

type memStore struct {
	mu        sync.Mutex
	data      map[string]*jobs.Job
	order     []string
	failAfter int // fail Create once this many jobs exist; 0 disables
}

func newMemStore() *memStore {
	return &memStore{data: make(map[string]*jobs.Job)}
}

func (s *memStore) Create(_ context.Context, job *jobs.Job) (*jobs.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAfter > 0 && len(s.data) >= s.failAfter {
		return nil, fmt.Errorf("%w: connection reset", jobs.ErrStoreUnavailable)
	}
	if _, ok := s.data[job.ID]; ok {
		return nil, jobs.ErrDuplicateKey
	}
	cpy := *job
	s.data[job.ID] = &cpy
	s.order = append(s.order, job.ID)
	out := cpy
	return &out, nil
}

func (s *memStore) Get(_ context.Context, id string) (*jobs.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j, ok := s.data[id]; ok {
		c := *j
		return &c, nil
	}
	return nil, jobs.ErrNotFound
}

func (s *memStore) Close() error { return nil }

type putCall struct {
	docID string
	data  []byte
	meta  storage.Metadata
	// jobExisted records whether the job record was present when Put was called.
	jobExisted bool
}

type fakeObjects struct {
	mu      sync.Mutex
	store   *memStore
	failFor map[string]bool // by original filename
	calls   []putCall
	objects map[string][]byte
}

func newFakeObjects(store *memStore, failFor ...string) *fakeObjects {
	f := &fakeObjects{store: store, failFor: map[string]bool{}, objects: map[string][]byte{}}
	for _, name := range failFor {
		f.failFor[name] = true
	}
	return f
}

func (f *fakeObjects) EnsureReady(context.Context) error { return nil }

func (f *fakeObjects) Put(ctx context.Context, docID string, data []byte, meta storage.Metadata) (string, error) {
	_, err := f.store.Get(ctx, meta.JobID)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, putCall{docID: docID, data: data, meta: meta, jobExisted: err == nil})
	if f.failFor[meta.OriginalFilename] {
		return "", fmt.Errorf("%w: simulated transport error", storage.ErrUploadFailed)
	}
	f.objects[docID] = data
	return "mem://" + docID, nil
}

func (f *fakeObjects) Close() error { return nil }

type fakeNotifier struct {
	mu     sync.Mutex
	events []notify.DocumentUploaded
	err    error
}

func (n *fakeNotifier) DocumentUploaded(_ context.Context, ev notify.DocumentUploaded) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
	return n.err
}

func (n *fakeNotifier) Close() error { return nil }

type trackingReader struct {
	io.Reader
	closed bool
}

func (r *trackingReader) Close() error {
	r.closed = true
	return nil
}

func submission(name string, body string) (Submission, *trackingReader) {
	r := &trackingReader{Reader: bytes.NewBufferString(body)}
	return Submission{
		Filename:    name,
		ContentType: "application/pdf",
		Open:        func() (io.ReadCloser, error) { return r, nil },
	}, r
}

func sequentialIDs() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("id-%d", n)
	}
}

func newTestCoordinator(store *memStore, objects storage.ObjectStore) *Coordinator {
	c := New(nil, store, objects, nil)
	c.NewID = sequentialIDs()
	return c
}

func TestSubmit_SuccessUsesSameIDsInBothStores(t *testing.T) {
	store := newMemStore()
	objects := newFakeObjects(store)
	c := newTestCoordinator(store, objects)

	sub, reader := submission("f.pdf", "payload")
	results, err := c.Submit(context.Background(), []Submission{sub})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("results = %d", len(results))
	}
	res := results[0]
	if res.Status != jobs.StatusWaiting {
		t.Fatalf("status = %s", res.Status)
	}
	if res.ID != "id-1" || res.DocID != "id-2" || res.DocName != "f.pdf" {
		t.Fatalf("unexpected result %+v", res)
	}

	stored, err := store.Get(context.Background(), res.ID)
	if err != nil {
		t.Fatalf("job not stored: %v", err)
	}
	if stored.DocID != res.DocID || stored.Status != jobs.StatusWaiting {
		t.Fatalf("stored job mismatch: %+v", stored)
	}

	if len(objects.calls) != 1 {
		t.Fatalf("put calls = %d", len(objects.calls))
	}
	call := objects.calls[0]
	if call.docID != res.DocID || call.meta.JobID != res.ID || call.meta.DocID != res.DocID || call.meta.OriginalFilename != "f.pdf" {
		t.Fatalf("put call mismatch: %+v", call)
	}
	if string(call.data) != "payload" {
		t.Fatalf("payload = %q", call.data)
	}
	if call.meta.ContentType != "application/pdf" {
		t.Fatalf("content type = %q", call.meta.ContentType)
	}
	if !call.jobExisted {
		t.Fatalf("job record must exist before the blob is uploaded")
	}
	if !reader.closed {
		t.Fatalf("payload reader not closed")
	}
}

func TestSubmit_UploadFailureKeepsJobWaiting(t *testing.T) {
	store := newMemStore()
	objects := newFakeObjects(store, "bad.pdf")
	c := newTestCoordinator(store, objects)

	sub, reader := submission("bad.pdf", "x")
	results, err := c.Submit(context.Background(), []Submission{sub})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if len(results) != 1 || results[0].Status != jobs.StatusUploadFailed {
		t.Fatalf("expected one upload_failed result, got %+v", results)
	}
	stored, err := store.Get(context.Background(), results[0].ID)
	if err != nil {
		t.Fatalf("job should still exist: %v", err)
	}
	if stored.Status != jobs.StatusWaiting {
		t.Fatalf("stored status = %s, want waiting", stored.Status)
	}
	if !reader.closed {
		t.Fatalf("payload reader not closed after failure")
	}
}

func TestSubmit_SkipsSubmissionsWithoutFilename(t *testing.T) {
	store := newMemStore()
	c := newTestCoordinator(store, newFakeObjects(store))

	var subs []Submission
	for _, name := range []string{"a.pdf", "", "b.pdf", "", "c.pdf"} {
		s, _ := submission(name, "x")
		subs = append(subs, s)
	}
	results, err := c.Submit(context.Background(), subs)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 results for 5 submissions with 2 malformed, got %d", len(results))
	}
	for i, want := range []string{"a.pdf", "b.pdf", "c.pdf"} {
		if results[i].DocName != want {
			t.Fatalf("result %d = %q, want %q", i, results[i].DocName, want)
		}
	}
	if len(store.data) != 3 {
		t.Fatalf("stored jobs = %d, want 3", len(store.data))
	}
}

func TestSubmit_WhitespaceFilenameIsKept(t *testing.T) {
	store := newMemStore()
	c := newTestCoordinator(store, newFakeObjects(store))

	s, _ := submission(" ", "x")
	results, err := c.Submit(context.Background(), []Submission{s})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if len(results) != 1 || results[0].DocName != " " || results[0].Status != jobs.StatusWaiting {
		t.Fatalf("unexpected results %+v", results)
	}
}

func TestSubmit_ThreeFilesSecondFails(t *testing.T) {
	store := newMemStore()
	objects := newFakeObjects(store, "two.pdf")
	c := newTestCoordinator(store, objects)

	var subs []Submission
	for _, name := range []string{"one.pdf", "two.pdf", "three.pdf"} {
		s, _ := submission(name, name)
		subs = append(subs, s)
	}
	results, err := c.Submit(context.Background(), subs)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("results = %d", len(results))
	}
	want := []jobs.Status{jobs.StatusWaiting, jobs.StatusUploadFailed, jobs.StatusWaiting}
	for i, st := range want {
		if results[i].Status != st {
			t.Fatalf("result %d status = %s, want %s", i, results[i].Status, st)
		}
	}
	if len(store.data) != 3 {
		t.Fatalf("job records = %d, want 3", len(store.data))
	}
	second, err := store.Get(context.Background(), results[1].ID)
	if err != nil {
		t.Fatalf("Get second: %v", err)
	}
	if second.Status != jobs.StatusWaiting {
		t.Fatalf("failed upload's record = %s, want waiting", second.Status)
	}
	if len(objects.objects) != 2 {
		t.Fatalf("stored objects = %d, want 2", len(objects.objects))
	}
}

func TestSubmit_JobCreateFailureAbortsBatch(t *testing.T) {
	store := newMemStore()
	store.failAfter = 1
	objects := newFakeObjects(store)
	c := newTestCoordinator(store, objects)

	var subs []Submission
	for _, name := range []string{"a.pdf", "b.pdf", "c.pdf"} {
		s, _ := submission(name, "x")
		subs = append(subs, s)
	}
	results, err := c.Submit(context.Background(), subs)
	if !errors.Is(err, ErrJobCreate) {
		t.Fatalf("expected ErrJobCreate, got %v", err)
	}
	if !errors.Is(err, jobs.ErrStoreUnavailable) {
		t.Fatalf("store error should be wrapped: %v", err)
	}
	if results != nil {
		t.Fatalf("expected no results, got %+v", results)
	}
	if len(objects.calls) != 1 {
		t.Fatalf("put calls = %d, want 1 (remaining batch aborted)", len(objects.calls))
	}
}

func TestSubmit_DuplicateKeyIsDetected(t *testing.T) {
	store := newMemStore()
	c := newTestCoordinator(store, newFakeObjects(store))
	c.NewID = func() string { return "same" }

	a, _ := submission("a.pdf", "x")
	_, err := c.Submit(context.Background(), []Submission{a})
	if !errors.Is(err, ErrJobCreate) || !errors.Is(err, jobs.ErrDuplicateKey) {
		t.Fatalf("expected duplicate key create failure, got %v", err)
	}
}

func TestSubmit_OpenOrReadFailureIsUploadFailure(t *testing.T) {
	store := newMemStore()
	objects := newFakeObjects(store)
	c := newTestCoordinator(store, objects)

	subs := []Submission{
		{Filename: "open.pdf", Open: func() (io.ReadCloser, error) { return nil, errors.New("gone") }},
		{Filename: "read.pdf", Open: func() (io.ReadCloser, error) { return io.NopCloser(errReader{}), nil }},
		{Filename: "nil.pdf"},
	}
	results, err := c.Submit(context.Background(), subs)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("results = %d", len(results))
	}
	for _, r := range results {
		if r.Status != jobs.StatusUploadFailed {
			t.Fatalf("%s status = %s", r.DocName, r.Status)
		}
	}
	if len(objects.calls) != 0 {
		t.Fatalf("no object should be written")
	}
	if len(store.data) != 3 {
		t.Fatalf("job records = %d, want 3", len(store.data))
	}
}

type errReader struct{}

func (errReader) Read([]byte) (int, error) { return 0, errors.New("disk error") }

func TestSubmit_NotifiesOnlySuccessfulUploads(t *testing.T) {
	store := newMemStore()
	objects := newFakeObjects(store, "bad.pdf")
	n := &fakeNotifier{err: errors.New("broker down")}
	c := New(nil, store, objects, n)
	c.NewID = sequentialIDs()

	good, _ := submission("good.pdf", "x")
	bad, _ := submission("bad.pdf", "y")
	results, err := c.Submit(context.Background(), []Submission{good, bad})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if results[0].Status != jobs.StatusWaiting {
		t.Fatalf("notify failure must not change the result: %+v", results[0])
	}
	if len(n.events) != 1 {
		t.Fatalf("events = %d, want 1", len(n.events))
	}
	ev := n.events[0]
	if ev.JobID != results[0].ID || ev.DocID != results[0].DocID || ev.Location != "mem://"+results[0].DocID {
		t.Fatalf("unexpected event %+v", ev)
	}
}

func TestSubmit_EmptyBatch(t *testing.T) {
	store := newMemStore()
	c := newTestCoordinator(store, newFakeObjects(store))
	results, err := c.Submit(context.Background(), nil)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if results == nil || len(results) != 0 {
		t.Fatalf("expected empty non-nil results, got %#v", results)
	}
}
