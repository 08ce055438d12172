package summarizer

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/mock/gomock"

	"ariadne/internal/errkind"
	"ariadne/internal/llm"
	"ariadne/internal/llm/llmmock"
	"ariadne/internal/store"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeSummariser returns a canned response or error per call, counting
// attempts so retry behavior can be asserted.
type fakeSummariser struct {
	mu        sync.Mutex
	calls     int32
	failCount int32 // number of leading calls that return a transient error
	finalErr  error
	text      string
}

func (f *fakeSummariser) Generate(ctx context.Context, prompt string, opts llm.GenerateOptions) (string, error) {
	n := atomic.AddInt32(&f.calls, 1)
	if n <= f.failCount {
		return "", errkind.New(errkind.LLMTransient, "", errors.New("rate limited"))
	}
	if f.finalErr != nil {
		return "", f.finalErr
	}
	return f.text, nil
}

func buildPromptFixture(text string) PromptBuilder {
	return func(ctx context.Context, s *store.Store, fqn string) (string, error) {
		return text, nil
	}
}

// TestSummarise_CacheHit confirms a fresh (non-stale) existing summary is
// returned from cache without calling the LLM at all. Using a gomock
// MockSummariser with no Generate expectation set means any call to it
// fails the test outright, a stronger assertion than a call counter.
func TestSummarise_CacheHit(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer db.Close()
	s := store.NewForTest(db)

	rows := sqlmock.NewRows([]string{"target_fqn", "level", "summary", "vector_id", "is_stale", "created_at", "updated_at"}).
		AddRow("com.acme.Foo#bar()V", "method", "cached summary", "vec-1", 0, time.Now(), time.Now())
	mock.ExpectQuery(`SELECT target_fqn, level, summary, COALESCE\(vector_id, ''\), is_stale, created_at, updated_at`).
		WithArgs("com.acme.Foo#bar()V", "method").
		WillReturnRows(rows)

	ctrl := gomock.NewController(t)
	llmMock := llmmock.NewMockSummariser(ctrl)
	sm := New(s, llmMock, nil, Options{BuildPrompt: buildPromptFixture("irrelevant")})

	results, err := sm.Summarise(context.Background(), []string{"com.acme.Foo#bar()V"})
	require.NoError(t, err)
	require.True(t, results["com.acme.Foo#bar()V"].Cached)
	require.Equal(t, "cached summary", results["com.acme.Foo#bar()V"].Summary)

	snap := sm.Snapshot()
	require.Equal(t, 1, snap.Cached)
	require.Equal(t, 0, snap.Success)
}

// TestSummarise_EmbedFailureDoesNotBlockWrite confirms an embedder error
// degrades to committing the summary with vector_id=null (spec §7)
// rather than failing the whole symbol.
func TestSummarise_EmbedFailureDoesNotBlockWrite(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer db.Close()
	s := store.NewForTest(db)

	mock.ExpectQuery(`SELECT target_fqn, level, summary, COALESCE\(vector_id, ''\), is_stale, created_at, updated_at`).
		WithArgs("com.acme.Foo#qux()V", "method").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery(`SELECT is_stale FROM summaries WHERE target_fqn = \? AND level = \?`).
		WithArgs("com.acme.Foo#qux()V", "method").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO summaries`).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	ctrl := gomock.NewController(t)
	llmMock := llmmock.NewMockSummariser(ctrl)
	llmMock.EXPECT().Generate(gomock.Any(), "prompt text", gomock.Any()).Return("a useful summary", nil)

	embedMock := llmmock.NewMockEmbedder(ctrl)
	embedMock.EXPECT().Embed(gomock.Any(), "a useful summary").Return(nil, errors.New("embedding service unavailable"))

	sm := New(s, llmMock, embedMock, Options{BuildPrompt: buildPromptFixture("prompt text")})

	results, err := sm.Summarise(context.Background(), []string{"com.acme.Foo#qux()V"})
	require.NoError(t, err)
	outcome := results["com.acme.Foo#qux()V"]
	require.Empty(t, outcome.ErrorKind)
	require.Equal(t, "a useful summary", outcome.Summary)
}

// TestSummarise_RetryThenSucceed exercises the exponential-backoff retry
// path: two transient failures followed by a success.
func TestSummarise_RetryThenSucceed(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer db.Close()
	s := store.NewForTest(db)

	mock.ExpectQuery(`SELECT target_fqn, level, summary, COALESCE\(vector_id, ''\), is_stale, created_at, updated_at`).
		WithArgs("com.acme.Foo#bar()V", "method").
		WillReturnError(sql.ErrNoRows)

	mock.ExpectQuery(`SELECT is_stale FROM summaries WHERE target_fqn = \? AND level = \?`).
		WithArgs("com.acme.Foo#bar()V", "method").
		WillReturnError(sql.ErrNoRows)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO summaries`).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	llmFake := &fakeSummariser{failCount: 2, text: "generated summary"}
	sm := New(s, llmFake, nil, Options{
		BuildPrompt: buildPromptFixture("prompt text"),
		BaseBackoff: time.Millisecond,
		MaxRetries:  3,
	})

	results, err := sm.Summarise(context.Background(), []string{"com.acme.Foo#bar()V"})
	require.NoError(t, err)
	outcome := results["com.acme.Foo#bar()V"]
	require.Empty(t, outcome.ErrorKind)
	require.Equal(t, "generated summary", outcome.Summary)
	require.Equal(t, int32(3), atomic.LoadInt32(&llmFake.calls))
}

// TestSummarise_ExhaustsRetriesRecordsLLMFailure confirms a permanently
// transient-failing provider is recorded as llm_failure, not silently
// dropped, once MaxRetries is exhausted.
func TestSummarise_ExhaustsRetriesRecordsLLMFailure(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer db.Close()
	s := store.NewForTest(db)

	mock.ExpectQuery(`SELECT target_fqn, level, summary, COALESCE\(vector_id, ''\), is_stale, created_at, updated_at`).
		WithArgs("com.acme.Foo#baz()V", "method").
		WillReturnError(sql.ErrNoRows)

	llmFake := &fakeSummariser{failCount: 100}
	sm := New(s, llmFake, nil, Options{
		BuildPrompt: buildPromptFixture("prompt text"),
		BaseBackoff: time.Millisecond,
		MaxRetries:  1,
	})

	results, err := sm.Summarise(context.Background(), []string{"com.acme.Foo#baz()V"})
	require.NoError(t, err)
	outcome := results["com.acme.Foo#baz()V"]
	require.Equal(t, "llm_failure", outcome.ErrorKind)

	snap := sm.Snapshot()
	require.Equal(t, 1, snap.Failed)
}

// TestSummarise_Cancel confirms Cancel called before Summarise stops every
// task from being submitted, so no fqn gets an outcome.
func TestSummarise_Cancel(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	s := store.NewForTest(db)

	llmFake := &fakeSummariser{text: "x"}
	sm := New(s, llmFake, nil, Options{BuildPrompt: buildPromptFixture("p")})
	sm.Cancel()

	results, err := sm.Summarise(context.Background(), []string{"a", "b", "c"})
	require.NoError(t, err)
	require.Empty(t, results)
}
