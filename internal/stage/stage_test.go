package stage

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ResearchPipeline/internal/domain"
)

type plainStage struct{}

func (plainStage) Name() domain.StageName { return domain.StageSearch }
func (plainStage) Execute(_ context.Context, in int) (int, error) {
	return in * 2, nil
}
func (plainStage) Default(int) int { return -1 }

func TestRunSuccess(t *testing.T) {
	t.Parallel()

	res, err := Run[int, int](context.Background(), nil, plainStage{}, 21, nil)
	require.NoError(t, err)
	assert.Equal(t, 42, res.Payload)
	assert.Equal(t, domain.StageSuccess, res.Status)
	assert.Equal(t, domain.StageSearch, res.Stage)
}

func TestRunPlainStageIgnoresChunkFunc(t *testing.T) {
	t.Parallel()

	calls := 0
	res, err := Run[int, int](context.Background(), nil, plainStage{}, 1, func(string, bool) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Payload)
	assert.Zero(t, calls)
}

func TestRunFallbackOnFailure(t *testing.T) {
	t.Parallel()

	boom := errors.New("backend down")
	s := Func[string, []string]{
		StageName:   domain.StageFinance,
		ExecuteFunc: func(context.Context, string) ([]string, error) { return nil, boom },
		DefaultFunc: func(in string) []string { return []string{"default:" + in} },
	}

	res, err := Run[string, []string](context.Background(), nil, s, "acme", nil)
	require.NoError(t, err)
	assert.Equal(t, domain.StagePartialFallback, res.Status)
	assert.Equal(t, []string{"default:acme"}, res.Payload)
	assert.ErrorIs(t, res.Cause, boom)
}

func TestRunStreamsThroughChunkFunc(t *testing.T) {
	t.Parallel()

	s := Func[string, string]{
		StageName: domain.StageStructure,
		StreamFunc: func(_ context.Context, in string, onChunk ChunkFunc) (string, error) {
			for _, part := range []string{"a", "b"} {
				if err := onChunk(part, false); err != nil {
					return "", err
				}
			}
			return in, onChunk("", true)
		},
	}

	var got []string
	finals := 0
	res, err := Run[string, string](context.Background(), nil, s, "done", func(chunk string, final bool) error {
		got = append(got, chunk)
		if final {
			finals++
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "done", res.Payload)
	assert.Equal(t, []string{"a", "b", ""}, got)
	assert.Equal(t, 1, finals)
}

func TestRunCancellationIsNotAbsorbed(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	s := Func[int, int]{
		StageName: domain.StageMarket,
		ExecuteFunc: func(ctx context.Context, _ int) (int, error) {
			cancel()
			<-ctx.Done()
			return 0, ctx.Err()
		},
		DefaultFunc: func(int) int { return 5 },
	}

	_, err := Run[int, int](ctx, nil, s, 0, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRunPanicIsUnrecoverable(t *testing.T) {
	t.Parallel()

	s := Func[int, int]{
		StageName:   domain.StageInsight,
		ExecuteFunc: func(context.Context, int) (int, error) { panic("nil map") },
		DefaultFunc: func(int) int { return 5 },
	}

	_, err := Run[int, int](context.Background(), nil, s, 0, nil)
	assert.ErrorIs(t, err, ErrStagePanic)
}

func TestRunPanickingDefaultIsUnrecoverable(t *testing.T) {
	t.Parallel()

	boom := errors.New("backend down")
	s := Func[int, map[string]int]{
		StageName:   domain.StageMarket,
		ExecuteFunc: func(context.Context, int) (map[string]int, error) { return nil, boom },
		DefaultFunc: func(int) map[string]int {
			var m map[string]int
			m["score"] = 5
			return m
		},
	}

	res, err := Run[int, map[string]int](context.Background(), nil, s, 0, nil)
	require.ErrorIs(t, err, ErrStagePanic)
	assert.NotErrorIs(t, err, boom)
	assert.Equal(t, domain.StageMarket, res.Stage)
	assert.Nil(t, res.Payload)
}

func TestGuard(t *testing.T) {
	t.Parallel()

	require.NoError(t, Guard(domain.StageWrite, func() {}))

	err := Guard(domain.StageWrite, func() { panic("summary") })
	require.ErrorIs(t, err, ErrStagePanic)
	assert.Contains(t, err.Error(), string(domain.StageWrite))
}
