package editor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"akademik/api/internal/diff"
	"akademik/api/internal/notify"
	"akademik/api/internal/store"
)

type fakeRepo struct {
	getProjectFn     func(ctx context.Context, projectID string) (store.Project, error)
	saveSectionFn    func(ctx context.Context, sectionID, draft string) (store.Section, error)
	acceptRevisionFn func(ctx context.Context, sectionID, content string) (store.Section, store.Revision, error)
	saveFieldFn      func(ctx context.Context, projectID string, ref store.FieldRef, content string) error

	mu       sync.Mutex
	accepted []string
	saved    []string
}

func (f *fakeRepo) GetProject(ctx context.Context, projectID string) (store.Project, error) {
	if f.getProjectFn != nil {
		return f.getProjectFn(ctx, projectID)
	}
	return store.Project{}, errors.New("not found")
}

func (f *fakeRepo) SaveSection(ctx context.Context, sectionID, draft string) (store.Section, error) {
	f.mu.Lock()
	f.saved = append(f.saved, draft)
	f.mu.Unlock()
	if f.saveSectionFn != nil {
		return f.saveSectionFn(ctx, sectionID, draft)
	}
	return store.Section{ID: sectionID, DraftContent: draft}, nil
}

func (f *fakeRepo) AcceptRevision(ctx context.Context, sectionID, content string) (store.Section, store.Revision, error) {
	f.mu.Lock()
	f.accepted = append(f.accepted, content)
	f.mu.Unlock()
	if f.acceptRevisionFn != nil {
		return f.acceptRevisionFn(ctx, sectionID, content)
	}
	final := content
	return store.Section{ID: sectionID, DraftContent: content, FinalContent: &final},
		store.Revision{SectionID: sectionID, Content: content, RevisionNumber: 1}, nil
}

func (f *fakeRepo) SaveField(ctx context.Context, projectID string, ref store.FieldRef, content string) error {
	f.mu.Lock()
	f.saved = append(f.saved, content)
	f.mu.Unlock()
	if f.saveFieldFn != nil {
		return f.saveFieldFn(ctx, projectID, ref, content)
	}
	return nil
}

type recordedNote struct {
	level   notify.Level
	message string
}

type recordingSink struct {
	mu    sync.Mutex
	notes []recordedNote
}

func (r *recordingSink) Notify(level notify.Level, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notes = append(r.notes, recordedNote{level, message})
}

func (r *recordingSink) levels() []notify.Level {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]notify.Level, len(r.notes))
	for i, n := range r.notes {
		out[i] = n.level
	}
	return out
}

type fakeGenerator struct {
	mu       sync.Mutex
	requests []GenerationRequest
	result   string
	err      error
}

func (g *fakeGenerator) Generate(_ context.Context, req GenerationRequest) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.requests = append(g.requests, req)
	return g.result, g.err
}

func (g *fakeGenerator) calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.requests)
}

func sectionField() Field {
	return Field{ID: "sec-1", Kind: store.FieldSection, Key: "sec-1", Title: "Projenin Özeti", ProjectID: "proj-1"}
}

func newTestSession(draft string, repo *fakeRepo, gen Generator, sink notify.Sink) *Session {
	return NewSession(sectionField(), draft, nil, repo, gen, sink, SessionOptions{})
}

func TestSession_InitialState(t *testing.T) {
	s := newTestSession("Taslak", &fakeRepo{}, &fakeGenerator{}, nil)

	state := s.Snapshot()
	assert.Equal(t, "Taslak", state.DraftContent)
	assert.Empty(t, state.AISuggestion)
	assert.Equal(t, ViewSingle, state.ViewMode)
	assert.False(t, state.Loading)
	assert.Equal(t, DefaultStyle, state.StyleInstruction)
	assert.Equal(t, StatusDraft, state.Status)
	assert.Nil(t, state.FinalContent)
}

func TestSession_EmptyDraftGeneration(t *testing.T) {
	gen := &fakeGenerator{result: "never"}
	sink := &recordingSink{}
	s := newTestSession("   ", &fakeRepo{}, gen, sink)

	state, err := s.RequestGeneration(context.Background(), "Resmi")

	var vErr *ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "sec-1", vErr.Field)
	assert.Equal(t, 0, gen.calls())
	assert.False(t, state.Loading)
	assert.Equal(t, ViewSingle, state.ViewMode)
	assert.Equal(t, DefaultStyle, state.StyleInstruction, "style must not change on validation failure")
	assert.Equal(t, []notify.Level{notify.LevelWarning}, sink.levels())
	assert.Equal(t, MsgEmptyDraft, sink.notes[0].message)
}

func TestSession_SuccessfulGeneration(t *testing.T) {
	gen := &fakeGenerator{result: "İşlenmiş metin"}
	sink := &recordingSink{}
	s := newTestSession("Taslak metin", &fakeRepo{}, gen, sink)

	state, err := s.RequestGeneration(context.Background(), "")
	require.NoError(t, err)

	assert.Equal(t, ViewSplit, state.ViewMode)
	assert.Equal(t, "İşlenmiş metin", state.AISuggestion)
	assert.False(t, state.Loading)
	assert.Equal(t, StatusAISuggested, state.Status)
	require.Len(t, gen.requests, 1)
	assert.Equal(t, "Taslak metin", gen.requests[0].Content)
	assert.Equal(t, DefaultStyle, gen.requests[0].Style)
	assert.Equal(t, "Projenin Özeti", gen.requests[0].Field.Title)
	assert.Empty(t, sink.levels())
}

func TestSession_GenerationUsesGivenStyle(t *testing.T) {
	gen := &fakeGenerator{result: "ok"}
	s := newTestSession("metin", &fakeRepo{}, gen, nil)

	state, err := s.RequestGeneration(context.Background(), "Samimi")
	require.NoError(t, err)
	assert.Equal(t, "Samimi", gen.requests[0].Style)
	assert.Equal(t, "Samimi", state.StyleInstruction)
}

func TestSession_GenerationFailureKeepsState(t *testing.T) {
	gen := &fakeGenerator{result: "önceki öneri"}
	sink := &recordingSink{}
	s := newTestSession("Taslak metin", &fakeRepo{}, gen, sink)
	_, err := s.RequestGeneration(context.Background(), "")
	require.NoError(t, err)

	gen.err = errors.New("upstream 503")
	state, err := s.RequestGeneration(context.Background(), "")

	var cErr *CollaboratorError
	require.ErrorAs(t, err, &cErr)
	assert.Equal(t, "generate", cErr.Op)
	assert.False(t, state.Loading)
	assert.Equal(t, "önceki öneri", state.AISuggestion)
	assert.Equal(t, ViewSplit, state.ViewMode)
	assert.Equal(t, "Taslak metin", state.DraftContent)
	assert.Equal(t, []notify.Level{notify.LevelError}, sink.levels())
	assert.Equal(t, MsgGenerationFailed, sink.notes[0].message)
}

func TestSession_EmptyResultIsFailure(t *testing.T) {
	gen := &fakeGenerator{result: "  "}
	s := newTestSession("metin", &fakeRepo{}, gen, nil)

	state, err := s.RequestGeneration(context.Background(), "")
	require.Error(t, err)
	assert.Equal(t, ViewSingle, state.ViewMode)
	assert.Empty(t, state.AISuggestion)
}

func TestSession_RevisionRoundTrip(t *testing.T) {
	gen := &fakeGenerator{result: "İşlenmiş metin"}
	sink := &recordingSink{}
	s := newTestSession("Taslak metin", &fakeRepo{}, gen, sink)
	_, err := s.RequestGeneration(context.Background(), "")
	require.NoError(t, err)

	s.ToggleRevisionInput()
	s.SetRevisionPrompt("Daha kısa yap")
	gen.result = "Kısa metin"
	state, err := s.RequestRevision(context.Background(), "")
	require.NoError(t, err)

	assert.Equal(t, "Kısa metin", state.AISuggestion)
	assert.Equal(t, ViewSplit, state.ViewMode)
	assert.Empty(t, state.RevisionPrompt)
	assert.False(t, state.RevisionInputVisible)
	assert.False(t, state.Loading)
	require.Len(t, gen.requests, 2)
	assert.Equal(t, "Taslak metin\n\n[Revizyon talebi: Daha kısa yap]", gen.requests[1].Content)
}

func TestSession_RevisionFailurePreservesPrompt(t *testing.T) {
	gen := &fakeGenerator{err: errors.New("timeout")}
	sink := &recordingSink{}
	s := newTestSession("", &fakeRepo{}, gen, sink)
	s.ToggleRevisionInput()

	state, err := s.RequestRevision(context.Background(), "Daha resmi")

	require.Error(t, err)
	assert.Equal(t, 1, gen.calls(), "revision has no draft emptiness check")
	assert.Equal(t, "Daha resmi", state.RevisionPrompt)
	assert.True(t, state.RevisionInputVisible)
	assert.False(t, state.Loading)
	assert.Equal(t, MsgRevisionFailed, sink.notes[0].message)
}

func TestSession_AcceptClearsAndPersists(t *testing.T) {
	repo := &fakeRepo{}
	sink := &recordingSink{}
	s := newTestSession("Taslak", repo, &fakeGenerator{result: "S"}, sink)
	_, err := s.RequestGeneration(context.Background(), "")
	require.NoError(t, err)

	state, accepted, err := s.Accept(context.Background())
	require.NoError(t, err)

	assert.True(t, accepted)
	assert.Equal(t, "S", state.DraftContent)
	assert.Empty(t, state.AISuggestion)
	assert.Equal(t, ViewSingle, state.ViewMode)
	require.NotNil(t, state.FinalContent)
	assert.Equal(t, "S", *state.FinalContent)
	assert.Equal(t, StatusCompleted, state.Status)
	assert.Equal(t, []string{"S"}, repo.accepted)
	assert.Equal(t, []notify.Level{notify.LevelSuccess}, sink.levels())
}

func TestSession_AcceptWithoutSuggestionIsNoop(t *testing.T) {
	repo := &fakeRepo{}
	sink := &recordingSink{}
	s := newTestSession("Taslak", repo, &fakeGenerator{}, sink)

	state, accepted, err := s.Accept(context.Background())
	require.NoError(t, err)
	assert.False(t, accepted)
	assert.Equal(t, "Taslak", state.DraftContent)
	assert.Empty(t, repo.accepted)
	assert.Empty(t, sink.levels())
}

func TestSession_AcceptFailureKeepsSuggestion(t *testing.T) {
	repo := &fakeRepo{
		acceptRevisionFn: func(context.Context, string, string) (store.Section, store.Revision, error) {
			return store.Section{}, store.Revision{}, errors.New("db down")
		},
	}
	sink := &recordingSink{}
	s := newTestSession("Taslak", repo, &fakeGenerator{result: "S"}, sink)
	_, err := s.RequestGeneration(context.Background(), "")
	require.NoError(t, err)

	state, accepted, err := s.Accept(context.Background())
	require.Error(t, err)
	assert.False(t, accepted)
	assert.Equal(t, "S", state.AISuggestion)
	assert.Equal(t, "Taslak", state.DraftContent)
	assert.Equal(t, ViewSplit, state.ViewMode)
	assert.Equal(t, []notify.Level{notify.LevelError}, sink.levels())
}

func TestSession_AcceptNonSectionFieldUsesSaveField(t *testing.T) {
	var gotRef store.FieldRef
	repo := &fakeRepo{
		saveFieldFn: func(_ context.Context, projectID string, ref store.FieldRef, content string) error {
			gotRef = ref
			return nil
		},
	}
	field := Field{ID: "wide_impact.row-1", Kind: store.FieldWideImpact, Key: "row-1", ProjectID: "proj-1"}
	s := NewSession(field, "çıktılar", nil, repo, &fakeGenerator{result: "Yeni çıktılar"}, nil, SessionOptions{})
	_, err := s.RequestGeneration(context.Background(), "")
	require.NoError(t, err)

	state, accepted, err := s.Accept(context.Background())
	require.NoError(t, err)
	assert.True(t, accepted)
	assert.Equal(t, store.FieldRef{Kind: store.FieldWideImpact, Key: "row-1"}, gotRef)
	assert.Empty(t, repo.accepted)
	assert.Equal(t, []string{"Yeni çıktılar"}, repo.saved)
	assert.Equal(t, "Yeni çıktılar", state.DraftContent)
}

func TestSession_RejectPreservesDraft(t *testing.T) {
	s := newTestSession("Orijinal taslak", &fakeRepo{}, &fakeGenerator{result: "Öneri"}, nil)
	_, err := s.RequestGeneration(context.Background(), "")
	require.NoError(t, err)
	s.ToggleRevisionInput()
	s.SetRevisionPrompt("kısalt")

	state := s.Reject()

	assert.Equal(t, "Orijinal taslak", state.DraftContent)
	assert.Empty(t, state.AISuggestion)
	assert.Empty(t, state.RevisionPrompt)
	assert.False(t, state.RevisionInputVisible)
	assert.Equal(t, ViewSingle, state.ViewMode)
}

func TestSession_UpdateDraftLeavesSuggestion(t *testing.T) {
	s := newTestSession("a", &fakeRepo{}, &fakeGenerator{result: "b"}, nil)
	_, err := s.RequestGeneration(context.Background(), "")
	require.NoError(t, err)

	state := s.UpdateDraft("c")
	assert.Equal(t, "c", state.DraftContent)
	assert.Equal(t, "b", state.AISuggestion)
	assert.Equal(t, ViewSplit, state.ViewMode)
}

func TestSession_ToggleRevisionInput(t *testing.T) {
	s := newTestSession("a", &fakeRepo{}, &fakeGenerator{}, nil)

	assert.True(t, s.ToggleRevisionInput().RevisionInputVisible)
	state := s.ToggleRevisionInput()
	assert.False(t, state.RevisionInputVisible)
	assert.Equal(t, "a", state.DraftContent)
	assert.Equal(t, ViewSingle, state.ViewMode)
}

type blockingGenerator struct {
	started chan struct{}
	release chan struct{}
	calls   int
	mu      sync.Mutex
}

func (g *blockingGenerator) Generate(ctx context.Context, req GenerationRequest) (string, error) {
	g.mu.Lock()
	g.calls++
	g.mu.Unlock()
	close(g.started)
	select {
	case <-g.release:
		return "geç gelen öneri", nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func TestSession_SecondRequestWhileInFlight(t *testing.T) {
	gen := &blockingGenerator{started: make(chan struct{}), release: make(chan struct{})}
	sink := &recordingSink{}
	s := newTestSession("metin", &fakeRepo{}, gen, sink)

	done := make(chan error, 1)
	go func() {
		_, err := s.RequestGeneration(context.Background(), "")
		done <- err
	}()
	<-gen.started

	assert.True(t, s.Snapshot().Loading)
	_, err := s.RequestGeneration(context.Background(), "")
	assert.ErrorIs(t, err, ErrInFlight)
	_, err = s.RequestRevision(context.Background(), "kısalt")
	assert.ErrorIs(t, err, ErrInFlight)

	close(gen.release)
	require.NoError(t, <-done)

	state := s.Snapshot()
	assert.False(t, state.Loading)
	assert.Equal(t, "geç gelen öneri", state.AISuggestion)
	assert.Equal(t, 1, gen.calls)
	assert.Equal(t, []notify.Level{notify.LevelInfo, notify.LevelInfo}, sink.levels())
}

func TestSession_RejectWhileLoadingLateResultLands(t *testing.T) {
	gen := &blockingGenerator{started: make(chan struct{}), release: make(chan struct{})}
	s := newTestSession("metin", &fakeRepo{}, gen, nil)

	done := make(chan error, 1)
	go func() {
		_, err := s.RequestGeneration(context.Background(), "")
		done <- err
	}()
	<-gen.started

	state := s.Reject()
	assert.True(t, state.Loading)
	assert.Equal(t, ViewSingle, state.ViewMode)

	close(gen.release)
	require.NoError(t, <-done)
	assert.Equal(t, ViewSplit, s.Snapshot().ViewMode)
}

func TestSession_TimeoutIsCollaboratorFailure(t *testing.T) {
	gen := &blockingGenerator{started: make(chan struct{}), release: make(chan struct{})}
	s := NewSession(sectionField(), "metin", nil, &fakeRepo{}, gen, nil, SessionOptions{Timeout: 20 * time.Millisecond})

	state, err := s.RequestGeneration(context.Background(), "")

	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, state.Loading)
	assert.Empty(t, state.AISuggestion)
}

func TestSession_SaveDraft(t *testing.T) {
	repo := &fakeRepo{}
	sink := &recordingSink{}
	s := newTestSession("kaydedilecek", repo, &fakeGenerator{}, sink)

	_, err := s.SaveDraft(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"kaydedilecek"}, repo.saved)
	assert.Equal(t, []notify.Level{notify.LevelSuccess}, sink.levels())
}

func TestSession_DiffAgainstSuggestion(t *testing.T) {
	s := newTestSession("kısa metin", &fakeRepo{}, &fakeGenerator{result: "uzun metin"}, nil)
	_, err := s.RequestGeneration(context.Background(), "")
	require.NoError(t, err)

	segments := s.Diff()
	require.NotEmpty(t, segments)

	assert.Equal(t, "kısa metin", diff.Original(segments))
	assert.Equal(t, "uzun metin", diff.Modified(segments))
}

func TestRevisionContent(t *testing.T) {
	assert.Equal(t, "a\n\n[Revizyon talebi: b]", RevisionContent("a", "b"))
}

func TestSession_GenerationOutlivesCaller(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	gen := GeneratorFunc(func(ctx context.Context, _ GenerationRequest) (string, error) {
		close(started)
		<-release
		if err := ctx.Err(); err != nil {
			return "", err
		}
		return "öneri", nil
	})
	sink := &recordingSink{}
	s := NewSession(sectionField(), "metin", nil, &fakeRepo{}, gen, sink, SessionOptions{Timeout: time.Minute})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := s.RequestGeneration(ctx, "")
		done <- err
	}()
	<-started
	cancel()
	close(release)

	require.NoError(t, <-done)
	state := s.Snapshot()
	assert.Equal(t, "öneri", state.AISuggestion)
	assert.Equal(t, ViewSplit, state.ViewMode)
	assert.Empty(t, sink.levels())
}

func TestSession_AcceptDoesNotBlockReaders(t *testing.T) {
	persisting := make(chan struct{})
	release := make(chan struct{})
	repo := &fakeRepo{
		acceptRevisionFn: func(_ context.Context, id, content string) (store.Section, store.Revision, error) {
			close(persisting)
			<-release
			final := content
			return store.Section{ID: id, DraftContent: content, FinalContent: &final}, store.Revision{RevisionNumber: 1}, nil
		},
	}
	sink := &recordingSink{}
	s := newTestSession("Taslak", repo, &fakeGenerator{result: "S"}, sink)
	_, err := s.RequestGeneration(context.Background(), "")
	require.NoError(t, err)

	done := make(chan bool, 1)
	go func() {
		_, accepted, err := s.Accept(context.Background())
		assert.NoError(t, err)
		done <- accepted
	}()
	<-persisting

	state := s.Snapshot()
	assert.True(t, state.Accepting)
	assert.Equal(t, "S", state.AISuggestion)

	_, accepted, err := s.Accept(context.Background())
	assert.ErrorIs(t, err, ErrAcceptInFlight)
	assert.False(t, accepted)

	close(release)
	assert.True(t, <-done)

	state = s.Snapshot()
	assert.False(t, state.Accepting)
	assert.Equal(t, StatusCompleted, state.Status)
	assert.Empty(t, state.AISuggestion)
	assert.Equal(t, []notify.Level{notify.LevelInfo, notify.LevelSuccess}, sink.levels())
}

func TestSession_AcceptKeepsNewerSuggestion(t *testing.T) {
	persisting := make(chan struct{})
	release := make(chan struct{})
	repo := &fakeRepo{
		acceptRevisionFn: func(_ context.Context, id, content string) (store.Section, store.Revision, error) {
			close(persisting)
			<-release
			final := content
			return store.Section{ID: id, DraftContent: content, FinalContent: &final}, store.Revision{RevisionNumber: 1}, nil
		},
	}
	gen := &fakeGenerator{result: "ilk"}
	s := newTestSession("Taslak", repo, gen, nil)
	_, err := s.RequestGeneration(context.Background(), "")
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _, _ = s.Accept(context.Background())
	}()
	<-persisting

	gen.mu.Lock()
	gen.result = "ikinci"
	gen.mu.Unlock()
	_, err = s.RequestGeneration(context.Background(), "")
	require.NoError(t, err)

	close(release)
	<-done

	state := s.Snapshot()
	require.NotNil(t, state.FinalContent)
	assert.Equal(t, "ilk", *state.FinalContent)
	assert.Equal(t, "ikinci", state.AISuggestion)
	assert.Equal(t, ViewSplit, state.ViewMode)
}

func TestSession_ApplyAcceptedKeepsSuggestion(t *testing.T) {
	s := newTestSession("Taslak", &fakeRepo{}, &fakeGenerator{result: "S"}, nil)
	_, err := s.RequestGeneration(context.Background(), "")
	require.NoError(t, err)

	final := "dışarıda kabul edilen"
	state := s.ApplyAccepted(final, &final)
	assert.Equal(t, final, state.DraftContent)
	require.NotNil(t, state.FinalContent)
	assert.Equal(t, final, *state.FinalContent)
	assert.Equal(t, "S", state.AISuggestion)
	assert.Equal(t, ViewSplit, state.ViewMode)
}
