package app

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"akademik/api/internal/editor"
	"akademik/api/internal/llm"
	"akademik/api/internal/store"
)

func TestEditorGenerateAndAccept(t *testing.T) {
	fs := newFakeStore(testProject())
	fg := &fakeGit{}
	svc := newTestService(fs, fg, &fakeAI{})
	ctx := context.Background()

	view, err := svc.Editor(ctx, "", "project-1")
	require.NoError(t, err)
	// 3 sections, 2 scientific merit fields, 1 wide impact row.
	assert.Len(t, view.Fields, 6)
	assert.Equal(t, 1, view.Progress.Completed)

	res, err := svc.FieldOp(ctx, "", "project-1", "sec-1", OpGenerate, FieldInput{Style: "Sade"})
	require.NoError(t, err)
	assert.Equal(t, "AI: taslak özet", res.State.AISuggestion)
	assert.Equal(t, editor.StatusAISuggested, res.State.Status)
	assert.Equal(t, "Sade", res.State.StyleInstruction)

	progress, err := svc.Progress(ctx, "", "project-1")
	require.NoError(t, err)
	assert.Equal(t, 1, progress.Counts.AISuggested)

	res, err = svc.FieldOp(ctx, "", "project-1", "sec-1", OpAccept, FieldInput{})
	require.NoError(t, err)
	require.NotNil(t, res.Accepted)
	assert.True(t, *res.Accepted)
	assert.Equal(t, editor.StatusCompleted, res.State.Status)
	require.NotNil(t, res.State.FinalContent)
	assert.Equal(t, "AI: taslak özet", *res.State.FinalContent)

	revs, err := svc.Revisions(ctx, "", "sec-1")
	require.NoError(t, err)
	assert.Equal(t, 1, revs.Total)
	assert.Equal(t, []string{"Revizyon 1: Projenin Özeti"}, fg.commits)

	view, err = svc.Editor(ctx, "", "project-1")
	require.NoError(t, err)
	assert.Equal(t, 2, view.Progress.Completed)
	assert.Equal(t, 67, view.Progress.Percentage)
}

func TestEditorAcceptWithoutSuggestion(t *testing.T) {
	fs := newFakeStore(testProject())
	svc := newTestService(fs, nil, &fakeAI{})

	res, err := svc.FieldOp(context.Background(), "", "project-1", "sec-1", OpAccept, FieldInput{})
	require.NoError(t, err)
	require.NotNil(t, res.Accepted)
	assert.False(t, *res.Accepted)
	assert.Empty(t, fs.revisions["sec-1"])
}

func TestEditorRejectsConcurrentGeneration(t *testing.T) {
	started := make(chan struct{})
	unblock := make(chan struct{})
	ai := &fakeAI{generateFn: func(ctx context.Context, in llm.GenerateInput) (string, error) {
		close(started)
		<-unblock
		return "öneri", nil
	}}
	svc := newTestService(newFakeStore(testProject()), nil, ai)
	ctx := context.Background()

	done := make(chan error, 1)
	go func() {
		_, err := svc.FieldOp(ctx, "", "project-1", "sec-1", OpGenerate, FieldInput{})
		done <- err
	}()
	<-started

	res, err := svc.FieldOp(ctx, "", "project-1", "sec-1", OpGenerate, FieldInput{})
	assert.ErrorIs(t, err, editor.ErrInFlight)
	assert.True(t, res.State.Loading)

	status, code, _, _ := mapError(err)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "GENERATION_IN_PROGRESS", code)

	// Other fields are independent.
	_, err = svc.FieldOp(ctx, "", "project-1", "sec-2", OpDraft, FieldInput{Text: "yeni"})
	require.NoError(t, err)

	close(unblock)
	require.NoError(t, <-done)

	res, err = svc.FieldOp(ctx, "", "project-1", "sec-1", OpReject, FieldInput{})
	require.NoError(t, err)
	assert.Empty(t, res.State.AISuggestion)
	assert.False(t, res.State.Loading)
}

func TestEditorEmptyDraftValidation(t *testing.T) {
	called := false
	ai := &fakeAI{generateFn: func(context.Context, llm.GenerateInput) (string, error) {
		called = true
		return "x", nil
	}}
	svc := newTestService(newFakeStore(testProject()), nil, ai)

	_, err := svc.FieldOp(context.Background(), "", "project-1", "sec-3", OpGenerate, FieldInput{})
	var validation *editor.ValidationError
	require.ErrorAs(t, err, &validation)
	assert.False(t, called)
}

func TestEditorGenerationFailureKeepsDraft(t *testing.T) {
	ai := &fakeAI{generateFn: func(context.Context, llm.GenerateInput) (string, error) {
		return "", errors.New("timeout")
	}}
	svc := newTestService(newFakeStore(testProject()), nil, ai)

	res, err := svc.FieldOp(context.Background(), "", "project-1", "sec-1", OpGenerate, FieldInput{})
	status, code, _, _ := mapError(err)
	assert.Equal(t, http.StatusBadGateway, status)
	assert.Equal(t, "AI_GENERATION_FAILED", code)
	assert.Equal(t, "taslak özet", res.State.DraftContent)
	assert.False(t, res.State.Loading)
	assert.Empty(t, res.State.AISuggestion)
}

func TestEditorAcceptNonSectionField(t *testing.T) {
	fs := newFakeStore(testProject())
	svc := newTestService(fs, nil, &fakeAI{})
	ctx := context.Background()
	fieldID := editor.FieldID(store.FieldRef{Kind: store.FieldWideImpact, Key: "wi-1"})

	_, err := svc.FieldOp(ctx, "", "project-1", fieldID, OpDraft, FieldInput{Text: "2 makale"})
	require.NoError(t, err)
	_, err = svc.FieldOp(ctx, "", "project-1", fieldID, OpGenerate, FieldInput{})
	require.NoError(t, err)
	res, err := svc.FieldOp(ctx, "", "project-1", fieldID, OpAccept, FieldInput{})
	require.NoError(t, err)
	assert.True(t, *res.Accepted)

	assert.Equal(t, "AI: 2 makale", fs.projects["project-1"].WideImpact[0].Outputs)
	assert.Empty(t, fs.revisions)
}

func TestEditorUnknownFieldAndOp(t *testing.T) {
	svc := newTestService(newFakeStore(testProject()), nil, nil)
	ctx := context.Background()

	_, err := svc.FieldOp(ctx, "", "project-1", "missing", OpDraft, FieldInput{})
	status, code, _, _ := mapError(err)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "FIELD_NOT_FOUND", code)

	_, err = svc.FieldOp(ctx, "", "project-1", "sec-1", "publish", FieldInput{})
	status, _, _, _ = mapError(err)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestEditorSaveDraftFailure(t *testing.T) {
	fs := newFakeStore(testProject())
	fs.saveSectionFn = func(context.Context, string, string) (store.Section, error) {
		return store.Section{}, errors.New("db down")
	}
	svc := newTestService(fs, nil, nil)

	res, err := svc.FieldOp(context.Background(), "", "project-1", "sec-1", OpSave, FieldInput{Text: "yeni taslak"})
	status, code, _, _ := mapError(err)
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, "SAVE_FAILED", code)
	assert.Equal(t, "yeni taslak", res.State.DraftContent)
}

func TestEditorDiff(t *testing.T) {
	svc := newTestService(newFakeStore(testProject()), nil, &fakeAI{})
	ctx := context.Background()

	_, err := svc.FieldOp(ctx, "", "project-1", "sec-1", OpGenerate, FieldInput{})
	require.NoError(t, err)

	result, err := svc.FieldDiff(ctx, "", "project-1", "sec-1")
	require.NoError(t, err)
	assert.Equal(t, len("AI: "), result.Summary.Inserted)
	assert.Zero(t, result.Summary.Deleted)
	assert.NotEmpty(t, result.Lines)
}

func TestWorkspaceFollowsSectionDraftSave(t *testing.T) {
	fs := newFakeStore(testProject())
	svc := newTestService(fs, nil, &fakeAI{})
	ctx := context.Background()

	_, err := svc.FieldOp(ctx, "", "project-1", "sec-1", OpDraft, FieldInput{Text: "yerel"})
	require.NoError(t, err)

	_, err = svc.SaveSectionDraft(ctx, "", "sec-1", "sunucu")
	require.NoError(t, err)

	view, err := svc.Editor(ctx, "", "project-1")
	require.NoError(t, err)
	assert.Equal(t, "sunucu", view.Fields[0].DraftContent)
}

func TestRESTWritesKeepRunningGeneration(t *testing.T) {
	started := make(chan struct{})
	unblock := make(chan struct{})
	var calls atomic.Int32
	ai := &fakeAI{generateFn: func(context.Context, llm.GenerateInput) (string, error) {
		if calls.Add(1) == 1 {
			close(started)
			<-unblock
		}
		return "öneri", nil
	}}
	svc := newTestService(newFakeStore(testProject()), nil, ai)
	ctx := context.Background()

	done := make(chan error, 1)
	go func() {
		_, err := svc.FieldOp(ctx, "", "project-1", "sec-1", OpGenerate, FieldInput{})
		done <- err
	}()
	<-started

	_, err := svc.UpdateKeywords(ctx, "", "project-1", "tarım, sensör")
	require.NoError(t, err)
	_, err = svc.UpdateTitle(ctx, "", "project-1", "Akıllı Sulama")
	require.NoError(t, err)

	_, err = svc.FieldOp(ctx, "", "project-1", "sec-1", OpGenerate, FieldInput{})
	assert.ErrorIs(t, err, editor.ErrInFlight)

	close(unblock)
	require.NoError(t, <-done)
	assert.EqualValues(t, 1, calls.Load())

	view, err := svc.Editor(ctx, "", "project-1")
	require.NoError(t, err)
	assert.Equal(t, "öneri", view.Fields[0].AISuggestion)
	assert.Equal(t, editor.ViewSplit, view.Fields[0].ViewMode)
}

func TestRESTWritesSyncFieldSessions(t *testing.T) {
	fs := newFakeStore(testProject())
	svc := newTestService(fs, nil, &fakeAI{})
	ctx := context.Background()

	_, err := svc.FieldOp(ctx, "", "project-1", "sec-1", OpGenerate, FieldInput{})
	require.NoError(t, err)

	_, err = svc.UpdateScientificMerit(ctx, "", "project-1", store.ScientificMerit{ImportanceAndQuality: "önemli", AimsAndObjectives: "amaç"})
	require.NoError(t, err)
	_, err = svc.UpdateWideImpact(ctx, "", "project-1", []store.WideImpactRow{
		{ID: "wi-1", Category: "Ekonomik", Outputs: "gelir"},
		{Category: "Sosyal", Outputs: "etki"},
	})
	require.NoError(t, err)
	_, err = svc.AcceptSection(ctx, "", "sec-3", "kaynak listesi")
	require.NoError(t, err)

	view, err := svc.Editor(ctx, "", "project-1")
	require.NoError(t, err)
	states := make(map[string]editor.State, len(view.Fields))
	for _, st := range view.Fields {
		states[st.FieldID] = st
	}
	require.Len(t, states, 7)

	assert.Equal(t, "AI: taslak özet", states["sec-1"].AISuggestion)
	assert.Equal(t, editor.StatusCompleted, states["sec-3"].Status)
	merit := editor.FieldID(store.FieldRef{Kind: store.FieldScientificMerit, Key: store.MeritImportanceAndQuality})
	assert.Equal(t, "önemli", states[merit].DraftContent)
	row := editor.FieldID(store.FieldRef{Kind: store.FieldWideImpact, Key: "wi-1"})
	assert.Equal(t, "gelir", states[row].DraftContent)
	assert.Equal(t, 67, view.Progress.Percentage)
}

func TestEvictIdleKeepsBusyWorkspace(t *testing.T) {
	started := make(chan struct{})
	unblock := make(chan struct{})
	ai := &fakeAI{generateFn: func(context.Context, llm.GenerateInput) (string, error) {
		close(started)
		<-unblock
		return "öneri", nil
	}}
	svc := newTestService(newFakeStore(testProject()), nil, ai)
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }

	done := make(chan error, 1)
	go func() {
		_, err := svc.FieldOp(context.Background(), "", "project-1", "sec-1", OpGenerate, FieldInput{})
		done <- err
	}()
	<-started

	now = now.Add(2 * time.Minute)
	assert.Equal(t, 0, svc.EvictIdle())

	close(unblock)
	require.NoError(t, <-done)
	assert.Equal(t, map[string]string{"sec-1": "öneri"}, svc.pendingSuggestions("project-1"))
}

func TestEditorGenerationOutlivesRequest(t *testing.T) {
	started := make(chan struct{})
	unblock := make(chan struct{})
	ai := &fakeAI{generateFn: func(ctx context.Context, _ llm.GenerateInput) (string, error) {
		close(started)
		<-unblock
		if err := ctx.Err(); err != nil {
			return "", err
		}
		return "öneri", nil
	}}
	svc := newTestService(newFakeStore(testProject()), nil, ai)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := svc.FieldOp(ctx, "", "project-1", "sec-1", OpGenerate, FieldInput{})
		done <- err
	}()
	<-started
	cancel()
	close(unblock)

	require.NoError(t, <-done)
	assert.Equal(t, map[string]string{"sec-1": "öneri"}, svc.pendingSuggestions("project-1"))
	active, err := svc.bus.Active(context.Background(), "project-1")
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestEvictIdle(t *testing.T) {
	svc := newTestService(newFakeStore(testProject()), nil, nil)
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }

	_, err := svc.Editor(context.Background(), "", "project-1")
	require.NoError(t, err)
	assert.Equal(t, 0, svc.EvictIdle())

	now = now.Add(2 * time.Minute)
	assert.Equal(t, 1, svc.EvictIdle())
	assert.Nil(t, svc.pendingSuggestions("project-1"))
}
