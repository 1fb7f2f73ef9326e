package clarification

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateAndAnswer(t *testing.T) {
	s := NewStore()

	q, err := s.Create("task-1", "agent-2", "Which database should I use?", []string{"postgres", "sqlite"})
	require.NoError(t, err)
	assert.NotEmpty(t, q.ID)
	assert.False(t, q.Answered)

	require.NoError(t, s.Answer(q.ID, "postgres"))

	// Answering removed the question.
	_, ok := s.Get(q.ID)
	assert.False(t, ok)
	assert.ErrorIs(t, s.Answer(q.ID, "sqlite"), ErrNotFound)
}

// The first answer wins and cleans up; waiters blocked at answer time still
// receive it.
func TestAnswerOnce(t *testing.T) {
	s := NewStore()
	q, err := s.Create("task-1", "", "pick one", nil)
	require.NoError(t, err)

	done := make(chan string, 1)
	go func() {
		answer, _ := s.AwaitAnswer(context.Background(), q.ID)
		done <- answer
	}()

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, s.Answer(q.ID, "first"))
	assert.ErrorIs(t, s.Answer(q.ID, "second"), ErrNotFound)

	select {
	case answer := <-done:
		assert.Equal(t, "first", answer)
	case <-time.After(5 * time.Second):
		t.Fatal("waiter was not woken by the answer")
	}

	_, err = s.AwaitAnswer(context.Background(), q.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAwaitAnswerWakesOnAnswer(t *testing.T) {
	s := NewStore()
	q, err := s.Create("task-1", "", "blocking question", nil)
	require.NoError(t, err)

	type result struct {
		answer string
		err    error
	}
	done := make(chan result, 1)
	go func() {
		answer, awaitErr := s.AwaitAnswer(context.Background(), q.ID)
		done <- result{answer, awaitErr}
	}()

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, s.Answer(q.ID, "yes"))

	select {
	case res := <-done:
		require.NoError(t, res.err)
		assert.Equal(t, "yes", res.answer)
	case <-time.After(5 * time.Second):
		t.Fatal("waiter was not woken by the answer")
	}
}

func TestAwaitAnswerContextCancel(t *testing.T) {
	s := NewStore()
	q, err := s.Create("task-1", "", "never answered", nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err = s.AwaitAnswer(ctx, q.ID)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	// A timed-out poll leaves the question pending.
	_, ok := s.Get(q.ID)
	assert.True(t, ok)
}

func TestGlobalCap(t *testing.T) {
	s := NewStore()
	for i := 0; i < MaxPending; i++ {
		_, err := s.Create(fmt.Sprintf("task-%d", i%7), "", "q", nil)
		require.NoError(t, err)
	}

	_, err := s.Create("task-1", "", "one too many", nil)
	assert.ErrorIs(t, err, ErrQuestionLimit)
	assert.Equal(t, MaxPending, s.Pending())
}

func TestPayloadLimits(t *testing.T) {
	s := NewStore()

	_, err := s.Create("task-1", "", strings.Repeat("x", MaxPromptLen+1), nil)
	assert.ErrorIs(t, err, ErrPromptTooLong)

	_, err = s.Create("task-1", "", "q", make([]string, MaxOptions+1))
	assert.ErrorIs(t, err, ErrTooManyOptions)

	assert.Zero(t, s.Pending())
}

func TestCancelTaskReleasesWaiters(t *testing.T) {
	s := NewStore()
	q1, err := s.Create("task-1", "", "q1", nil)
	require.NoError(t, err)
	_, err = s.Create("task-2", "", "q2", nil)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, awaitErr := s.AwaitAnswer(context.Background(), q1.ID)
		done <- awaitErr
	}()

	time.Sleep(50 * time.Millisecond)
	s.CancelTask("task-1")

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrCanceled)
	case <-time.After(5 * time.Second):
		t.Fatal("waiter was not released by CancelTask")
	}

	assert.Equal(t, 1, s.Pending())
	assert.ErrorIs(t, s.Answer(q1.ID, "late"), ErrNotFound)
}

func TestUnansweredListsOpenQuestionsInOrder(t *testing.T) {
	s := NewStore()
	q1, err := s.Create("task-1", "", "first", nil)
	require.NoError(t, err)
	q2, err := s.Create("task-1", "", "second", nil)
	require.NoError(t, err)
	answered, err := s.Create("task-1", "", "answered", nil)
	require.NoError(t, err)
	require.NoError(t, s.Answer(answered.ID, "done"))

	open := s.Unanswered("task-1")
	require.Len(t, open, 2)
	assert.Equal(t, q1.ID, open[0].ID)
	assert.Equal(t, q2.ID, open[1].ID)

	assert.Empty(t, s.Unanswered("task-9"))
}
