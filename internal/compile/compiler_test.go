package compile

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/sagiegrun/echoes/internal/models"
	"github.com/sagiegrun/echoes/internal/render"
)

type fakeCompileStore struct {
	clips  map[uuid.UUID]*models.Clip
	finals map[uuid.UUID]*models.FinalVideo
	getErr error
}

func newFakeCompileStore() *fakeCompileStore {
	return &fakeCompileStore{
		clips:  make(map[uuid.UUID]*models.Clip),
		finals: make(map[uuid.UUID]*models.FinalVideo),
	}
}

func (s *fakeCompileStore) addCompletedClip(accountID uuid.UUID) *models.Clip {
	path := fmt.Sprintf("videos/%s.mp4", uuid.New())
	clip := &models.Clip{
		ID:        uuid.New(),
		AccountID: accountID,
		Status:    models.ClipStatusCompleted,
		VideoPath: &path,
	}
	s.clips[clip.ID] = clip
	return clip
}

func (s *fakeCompileStore) GetClip(ctx context.Context, id uuid.UUID) (*models.Clip, error) {
	clip, ok := s.clips[id]
	if !ok {
		return nil, nil
	}
	c := *clip
	return &c, nil
}

func (s *fakeCompileStore) CreateFinalVideo(ctx context.Context, fv *models.FinalVideo) error {
	c := *fv
	s.finals[fv.ID] = &c
	return nil
}

func (s *fakeCompileStore) GetFinalVideo(ctx context.Context, id uuid.UUID) (*models.FinalVideo, error) {
	if s.getErr != nil {
		return nil, s.getErr
	}
	fv, ok := s.finals[id]
	if !ok {
		return nil, nil
	}
	c := *fv
	return &c, nil
}

func (s *fakeCompileStore) MarkFinalVideoProcessing(ctx context.Context, id uuid.UUID, renderJobID string, submittedAt time.Time) error {
	fv := s.finals[id]
	fv.Status = models.FinalVideoStatusProcessing
	fv.RenderJobID = &renderJobID
	fv.SubmittedAt = &submittedAt
	return nil
}

func (s *fakeCompileStore) MarkFinalVideoCompleted(ctx context.Context, id uuid.UUID, outputPath string) error {
	fv := s.finals[id]
	if fv.Status.IsTerminal() {
		return nil
	}
	fv.Status = models.FinalVideoStatusCompleted
	fv.OutputPath = &outputPath
	return nil
}

func (s *fakeCompileStore) MarkFinalVideoFailed(ctx context.Context, id uuid.UUID, errorMessage string) error {
	fv := s.finals[id]
	if fv.Status.IsTerminal() {
		return nil
	}
	fv.Status = models.FinalVideoStatusFailed
	fv.ErrorMessage = &errorMessage
	return nil
}

type fakeRenderer struct {
	submitErr   error
	jobID       string
	result      *render.Result
	statusErr   error
	submitCalls int
	statusCalls int
	lastRequest *render.Request
}

func (r *fakeRenderer) Submit(ctx context.Context, req *render.Request) (string, error) {
	r.submitCalls++
	r.lastRequest = req
	if r.submitErr != nil {
		return "", r.submitErr
	}
	return r.jobID, nil
}

func (r *fakeRenderer) GetStatus(ctx context.Context, jobID string) (*render.Result, error) {
	r.statusCalls++
	if r.statusErr != nil {
		return nil, r.statusErr
	}
	return r.result, nil
}

type fakeRenderScheduler struct {
	scheduled []uuid.UUID
}

func (s *fakeRenderScheduler) SchedulePollFinalVideo(ctx context.Context, id uuid.UUID, delay time.Duration) error {
	s.scheduled = append(s.scheduled, id)
	return nil
}

func TestCreateSubmitsAllCompletedClips(t *testing.T) {
	store := newFakeCompileStore()
	renderer := &fakeRenderer{jobID: "render_1"}
	sched := &fakeRenderScheduler{}
	c := NewCoordinator(store, renderer, sched)

	account := uuid.New()
	clip1 := store.addCompletedClip(account)
	clip2 := store.addCompletedClip(account)

	fv, err := c.Create(context.Background(), account, []uuid.UUID{clip1.ID, clip2.ID}, nil, "crossfade")
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	if fv.Status != models.FinalVideoStatusProcessing {
		t.Errorf("expected processing, got %s", fv.Status)
	}
	if len(renderer.lastRequest.Clips) != 2 {
		t.Errorf("expected 2 clips in render request, got %d", len(renderer.lastRequest.Clips))
	}
	if renderer.lastRequest.Clips[0] != *clip1.VideoPath {
		t.Error("clip order not preserved in render request")
	}
	if len(sched.scheduled) != 1 {
		t.Errorf("expected one scheduled reconcile, got %d", len(sched.scheduled))
	}
}

func TestCreateValidation(t *testing.T) {
	store := newFakeCompileStore()
	renderer := &fakeRenderer{jobID: "render_1"}
	c := NewCoordinator(store, renderer, &fakeRenderScheduler{})

	account := uuid.New()
	completed := store.addCompletedClip(account)

	processing := &models.Clip{ID: uuid.New(), AccountID: account, Status: models.ClipStatusProcessing}
	store.clips[processing.ID] = processing

	otherAccount := store.addCompletedClip(uuid.New())

	cases := []struct {
		name    string
		clipIDs []uuid.UUID
	}{
		{"empty selection", nil},
		{"missing clip", []uuid.UUID{uuid.New()}},
		{"not completed", []uuid.UUID{completed.ID, processing.ID}},
		{"not owned", []uuid.UUID{completed.ID, otherAccount.ID}},
	}

	for _, tc := range cases {
		if _, err := c.Create(context.Background(), account, tc.clipIDs, nil, ""); !errors.Is(err, ErrValidation) {
			t.Errorf("%s: expected ErrValidation, got %v", tc.name, err)
		}
	}

	if renderer.submitCalls != 0 {
		t.Errorf("validation failures must not reach the renderer, got %d submits", renderer.submitCalls)
	}
}

func TestCreateRenderRejectionFailsWithoutLedger(t *testing.T) {
	store := newFakeCompileStore()
	renderer := &fakeRenderer{submitErr: render.ErrRejected}
	c := NewCoordinator(store, renderer, &fakeRenderScheduler{})

	account := uuid.New()
	clip := store.addCompletedClip(account)

	fv, err := c.Create(context.Background(), account, []uuid.UUID{clip.ID}, nil, "")
	if err != nil {
		t.Fatalf("create should record the failure, not error: %v", err)
	}
	if fv.Status != models.FinalVideoStatusFailed {
		t.Errorf("expected failed, got %s", fv.Status)
	}
}

func TestReconcileTerminalSkipsRenderer(t *testing.T) {
	store := newFakeCompileStore()
	renderer := &fakeRenderer{result: &render.Result{Status: render.StatusCompleted}}
	c := NewCoordinator(store, renderer, &fakeRenderScheduler{})

	path := "finals/out.mp4"
	fv := &models.FinalVideo{
		ID:         uuid.New(),
		Status:     models.FinalVideoStatusCompleted,
		OutputPath: &path,
	}
	store.finals[fv.ID] = fv

	outcome, err := c.Reconcile(context.Background(), fv.ID)
	if err != nil {
		t.Fatalf("reconcile failed: %v", err)
	}
	if !outcome.Done {
		t.Error("expected done outcome")
	}
	if renderer.statusCalls != 0 {
		t.Error("terminal compilation must not hit the renderer")
	}
}

func TestReconcileCompletes(t *testing.T) {
	store := newFakeCompileStore()
	renderer := &fakeRenderer{result: &render.Result{Status: render.StatusCompleted, OutputURL: "finals/out.mp4"}}
	c := NewCoordinator(store, renderer, &fakeRenderScheduler{})

	fv := processingFinalVideo(store, time.Now())

	outcome, err := c.Reconcile(context.Background(), fv.ID)
	if err != nil {
		t.Fatalf("reconcile failed: %v", err)
	}
	if !outcome.Done {
		t.Error("expected done outcome")
	}
	if store.finals[fv.ID].Status != models.FinalVideoStatusCompleted {
		t.Errorf("expected completed, got %s", store.finals[fv.ID].Status)
	}
}

func TestReconcileTransientRetries(t *testing.T) {
	store := newFakeCompileStore()
	renderer := &fakeRenderer{statusErr: fmt.Errorf("%w: status 503", render.ErrTransient)}
	c := NewCoordinator(store, renderer, &fakeRenderScheduler{})

	fv := processingFinalVideo(store, time.Now())

	outcome, err := c.Reconcile(context.Background(), fv.ID)
	if err != nil {
		t.Fatalf("reconcile failed: %v", err)
	}
	if outcome.Done || outcome.RetryIn != DefaultPollInterval {
		t.Errorf("expected retry in %v, got %+v", DefaultPollInterval, outcome)
	}
	if store.finals[fv.ID].Status != models.FinalVideoStatusProcessing {
		t.Errorf("transient error must not transition, got %s", store.finals[fv.ID].Status)
	}
}

func TestReconcileStoreErrorAsksForRetry(t *testing.T) {
	store := newFakeCompileStore()
	renderer := &fakeRenderer{result: &render.Result{Status: render.StatusProcessing}}
	c := NewCoordinator(store, renderer, &fakeRenderScheduler{})

	fv := processingFinalVideo(store, time.Now())
	store.getErr = fmt.Errorf("connection refused")

	outcome, err := c.Reconcile(context.Background(), fv.ID)
	if err == nil {
		t.Fatal("expected the lookup error to surface")
	}

	// A failed lookup is not a deleted row: the job must come back within
	// the budget instead of waiting for the recovery sweep.
	if outcome.Done || outcome.RetryIn != DefaultPollInterval {
		t.Errorf("expected retry in %v, got %+v", DefaultPollInterval, outcome)
	}
	if renderer.statusCalls != 0 {
		t.Error("renderer must not be hit when the row can't be loaded")
	}
}

func TestReconcileMissingRowDropsJob(t *testing.T) {
	store := newFakeCompileStore()
	renderer := &fakeRenderer{result: &render.Result{Status: render.StatusProcessing}}
	c := NewCoordinator(store, renderer, &fakeRenderScheduler{})

	outcome, err := c.Reconcile(context.Background(), uuid.New())
	if err != nil {
		t.Fatalf("reconcile failed: %v", err)
	}
	if !outcome.Done {
		t.Error("reconcile for a deleted row must not reschedule")
	}
	if renderer.statusCalls != 0 {
		t.Error("renderer must not be hit for a deleted row")
	}
}

func TestReconcileBudgetExceeded(t *testing.T) {
	store := newFakeCompileStore()
	renderer := &fakeRenderer{result: &render.Result{Status: render.StatusProcessing}}
	c := NewCoordinator(store, renderer, &fakeRenderScheduler{})

	fv := processingFinalVideo(store, time.Now().Add(-11*time.Minute))

	outcome, err := c.Reconcile(context.Background(), fv.ID)
	if err != nil {
		t.Fatalf("reconcile failed: %v", err)
	}
	if !outcome.Done {
		t.Error("expected done outcome")
	}
	if store.finals[fv.ID].Status != models.FinalVideoStatusFailed {
		t.Errorf("expected failed, got %s", store.finals[fv.ID].Status)
	}
	if renderer.statusCalls != 0 {
		t.Error("budget check must short-circuit before the renderer call")
	}
}

func processingFinalVideo(store *fakeCompileStore, submittedAt time.Time) *models.FinalVideo {
	jobID := "render_1"
	fv := &models.FinalVideo{
		ID:          uuid.New(),
		AccountID:   uuid.New(),
		Status:      models.FinalVideoStatusProcessing,
		RenderJobID: &jobID,
		SubmittedAt: &submittedAt,
	}
	store.finals[fv.ID] = fv
	return fv
}
