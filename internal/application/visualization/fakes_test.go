package visualization

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"bookviz-api/internal/domain/entity"
	"bookviz-api/internal/domain/repository"
	"bookviz-api/internal/infrastructure/catalog"
	"bookviz-api/internal/infrastructure/llm"
	"bookviz-api/internal/infrastructure/persistence/memory"
	"bookviz-api/internal/infrastructure/provider"
	"bookviz-api/internal/infrastructure/queue"
	"bookviz-api/internal/infrastructure/storage"
	"bookviz-api/pkg/logger"
)

func init() {
	logger.SetDefault(logger.Discard())
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	img.Set(0, 0, color.RGBA{R: 200, A: 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

// fakeGateway behaves like a synchronous provider: the generation is done by
// the time StartGeneration returns.
type fakeGateway struct {
	mu          sync.Mutex
	image       []byte
	images      int
	failures    int
	failErr     error
	unavailable map[entity.Provider]bool
	started     []entity.Provider
	prompts     []string
	cancelled   []string
}

func newFakeGateway(img []byte) *fakeGateway {
	return &fakeGateway{image: img, images: 1, unavailable: map[entity.Provider]bool{}}
}

func (g *fakeGateway) StartGeneration(_ context.Context, p entity.Provider, prompt, _ string, _ entity.GenerationParameters) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.started = append(g.started, p)
	g.prompts = append(g.prompts, prompt)
	if g.failures > 0 {
		g.failures--
		if g.failErr != nil {
			return "", g.failErr
		}
		return "", &provider.Error{Provider: p, StatusCode: 503, Message: "overloaded", Transient: true}
	}
	return uuid.NewString(), nil
}

func (g *fakeGateway) GetGenerationStatus(context.Context, entity.Provider, string) (provider.Status, error) {
	return provider.Status{State: provider.StateCompleted, Progress: 100}, nil
}

func (g *fakeGateway) GetGenerationResult(context.Context, entity.Provider, string) ([]provider.Image, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]provider.Image, g.images)
	for i := range out {
		out[i] = provider.Image{Data: g.image, ContentType: "image/png"}
	}
	return out, nil
}

func (g *fakeGateway) CancelGeneration(_ context.Context, _ entity.Provider, handle string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cancelled = append(g.cancelled, handle)
	return true, nil
}

func (g *fakeGateway) IsProviderAvailable(p entity.Provider) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return p.Traits().Implemented && !g.unavailable[p]
}

func (g *fakeGateway) Providers() []provider.Info { return nil }

func (g *fakeGateway) startedWith() []entity.Provider {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]entity.Provider(nil), g.started...)
}

type fakeEnhancer struct {
	mu       sync.Mutex
	err      error
	requests []llm.PromptRequest
}

func (e *fakeEnhancer) GeneratePrompt(_ context.Context, req llm.PromptRequest) (*llm.PromptResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.requests = append(e.requests, req)
	if e.err != nil {
		return nil, e.err
	}
	return &llm.PromptResult{EnhancedPrompt: "illustration of " + req.OriginalText}, nil
}

type fakeStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	deleted []string
	err     error
}

func newFakeStore() *fakeStore {
	return &fakeStore{objects: map[string][]byte{}}
}

func (s *fakeStore) Put(_ context.Context, objectPath string, data []byte, contentType string) (*storage.Object, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	s.objects[objectPath] = data
	return &storage.Object{
		Path:        objectPath,
		URL:         "https://cdn.test/" + objectPath,
		ContentType: contentType,
		Size:        int64(len(data)),
	}, nil
}

func (s *fakeStore) Delete(_ context.Context, objectPath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, objectPath)
	s.deleted = append(s.deleted, objectPath)
	return nil
}

func (s *fakeStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.objects)
}

type catalogUpdate struct {
	PageID string
	Has    bool
	URL    string
}

type fakeCatalog struct {
	mu      sync.Mutex
	pages   map[string]string
	updates []catalogUpdate
}

func newFakeCatalog() *fakeCatalog {
	return &fakeCatalog{pages: map[string]string{}}
}

func (c *fakeCatalog) UpdatePageVisualizationStatus(_ context.Context, pageID string, has bool, url string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.updates = append(c.updates, catalogUpdate{PageID: pageID, Has: has, URL: url})
	return nil
}

func (c *fakeCatalog) GetPageContent(_ context.Context, pageID string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	text, ok := c.pages[pageID]
	if !ok {
		return "", catalog.ErrPageNotFound
	}
	return text, nil
}

type fakeNotifier struct {
	mu     sync.Mutex
	events []string
}

func (n *fakeNotifier) record(kind string, job *entity.VisualizationJob) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if job == nil {
		n.events = append(n.events, kind)
		return
	}
	n.events = append(n.events, fmt.Sprintf("%s:%s", kind, job.Status))
}

func (n *fakeNotifier) JobProgress(_ context.Context, job *entity.VisualizationJob) {
	n.record("progress", job)
}

func (n *fakeNotifier) JobCompleted(_ context.Context, job *entity.VisualizationJob) {
	n.record("completed", job)
}

func (n *fakeNotifier) JobFailed(_ context.Context, job *entity.VisualizationJob) {
	n.record("failed", job)
}

func (n *fakeNotifier) QueueUpdate(context.Context, string, entity.QueueStatus) {
	n.record("queue", nil)
}

func (n *fakeNotifier) has(event string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, e := range n.events {
		if e == event {
			return true
		}
	}
	return false
}

type testEnv struct {
	repo      *memory.JobRepository
	queue     *queue.MemoryQueue
	cache     *memory.JobCache
	gateway   *fakeGateway
	enhancer  *fakeEnhancer
	store     *fakeStore
	catalog   *fakeCatalog
	notifier  *fakeNotifier
	svc       *Service
	processor *Processor
	opts      Options
}

func newTestEnv(t *testing.T, opts Options) *testEnv {
	t.Helper()
	env := &testEnv{
		repo:     memory.NewJobRepository(),
		queue:    queue.NewMemoryQueue(),
		cache:    memory.NewJobCache(),
		gateway:  newFakeGateway(pngBytes(t, 64, 48)),
		enhancer: &fakeEnhancer{},
		store:    newFakeStore(),
		catalog:  newFakeCatalog(),
		notifier: &fakeNotifier{},
	}
	if opts.StoragePrefix == "" {
		opts.StoragePrefix = "viz"
	}
	env.opts = opts
	env.rewire(env.repo, env.queue, env.gateway, env.enhancer)
	return env
}

// rewire rebuilds the service and processor over the given ports. env.repo
// and env.queue stay the underlying stores for assertions.
func (e *testEnv) rewire(repo repository.JobRepository, q JobQueue, gateway ProviderGateway, enhancer PromptEnhancer) {
	e.svc = NewService(repo, q, e.cache, gateway, e.store, e.catalog, e.notifier, e.opts)
	e.processor = NewProcessor(e.svc, gateway, enhancer, e.store, nil, e.catalog, ProcessorOptions{
		PromptTimeout: time.Second,
		JobTimeout:    5 * time.Second,
		StatusPoll:    5 * time.Millisecond,
		FallbackChain: []entity.Provider{entity.ProviderDallE3, entity.ProviderStableDiffusion},
	})
}

func (e *testEnv) create(t *testing.T, cmd CreateJobCommand) *entity.VisualizationJob {
	t.Helper()
	if cmd.UserID == "" {
		cmd.UserID = "u1"
	}
	if cmd.BookID == "" {
		cmd.BookID = "b1"
	}
	if cmd.Trigger == "" {
		cmd.Trigger = "Button"
	}
	if cmd.SourceText == "" && cmd.TextSelection == nil && cmd.PageID == "" {
		cmd.SourceText = "A lighthouse keeper watches the storm roll in."
	}
	res, err := e.svc.CreateJob(context.Background(), cmd)
	require.NoError(t, err)
	return res.Job
}

// processNext dequeues one job and runs it through the pipeline.
func (e *testEnv) processNext(t *testing.T) (string, error) {
	t.Helper()
	id, ok, err := e.queue.Dequeue(context.Background())
	require.NoError(t, err)
	require.True(t, ok, "queue is empty")
	return id, e.processor.Process(context.Background(), id)
}

func (e *testEnv) stored(t *testing.T, id string) *entity.VisualizationJob {
	t.Helper()
	job, err := e.repo.GetByID(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, job)
	return job
}

var errBoom = errors.New("boom")

// flakyQueue fails Enqueue while down is set.
type flakyQueue struct {
	*queue.MemoryQueue
	mu   sync.Mutex
	down bool
}

func (q *flakyQueue) setDown(down bool) {
	q.mu.Lock()
	q.down = down
	q.mu.Unlock()
}

func (q *flakyQueue) Enqueue(ctx context.Context, jobID string, priority int) (int, error) {
	q.mu.Lock()
	down := q.down
	q.mu.Unlock()
	if down {
		return 0, errors.New("redis down")
	}
	return q.MemoryQueue.Enqueue(ctx, jobID, priority)
}

// conflictingRepo reports a version conflict for the next conflicts updates
// without writing them.
type conflictingRepo struct {
	*memory.JobRepository
	mu        sync.Mutex
	conflicts int
	updates   int
}

func (r *conflictingRepo) setConflicts(n int) {
	r.mu.Lock()
	r.conflicts = n
	r.updates = 0
	r.mu.Unlock()
}

func (r *conflictingRepo) attempts() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.updates
}

func (r *conflictingRepo) Update(ctx context.Context, job *entity.VisualizationJob) error {
	r.mu.Lock()
	r.updates++
	conflict := r.conflicts > 0
	if conflict {
		r.conflicts--
	}
	r.mu.Unlock()
	if conflict {
		return repository.ErrVersionConflict
	}
	return r.JobRepository.Update(ctx, job)
}

// blockingEnhancer parks every request until its context ends.
type blockingEnhancer struct {
	entered chan struct{}
	once    sync.Once
}

func newBlockingEnhancer() *blockingEnhancer {
	return &blockingEnhancer{entered: make(chan struct{})}
}

func (e *blockingEnhancer) GeneratePrompt(ctx context.Context, _ llm.PromptRequest) (*llm.PromptResult, error) {
	e.once.Do(func() { close(e.entered) })
	<-ctx.Done()
	return nil, ctx.Err()
}

// blockingGateway holds StartGeneration until release is closed, whatever
// happens to the caller's context.
type blockingGateway struct {
	*fakeGateway
	entered chan struct{}
	release chan struct{}
	handle  string
	once    sync.Once
}

func newBlockingGateway(inner *fakeGateway) *blockingGateway {
	return &blockingGateway{
		fakeGateway: inner,
		entered:     make(chan struct{}),
		release:     make(chan struct{}),
		handle:      uuid.NewString(),
	}
}

func (g *blockingGateway) StartGeneration(_ context.Context, p entity.Provider, prompt, _ string, _ entity.GenerationParameters) (string, error) {
	g.once.Do(func() { close(g.entered) })
	<-g.release
	g.mu.Lock()
	g.started = append(g.started, p)
	g.prompts = append(g.prompts, prompt)
	g.mu.Unlock()
	return g.handle, nil
}

func (g *fakeGateway) cancelledHandles() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.cancelled...)
}
