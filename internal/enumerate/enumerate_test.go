package enumerate

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tordrt/seedkit/internal/metrics"
)

type fakeSource struct {
	rows   []*string
	calls  int
	failAt int // call number (1-based) that returns an error; 0 never fails
}

func (f *fakeSource) FetchColumn(_ context.Context, _, _ string, offset, limit int) ([]*string, error) {
	f.calls++
	if f.failAt > 0 && f.calls == f.failAt {
		return nil, errors.New("connection reset")
	}
	if offset >= len(f.rows) {
		return nil, nil
	}
	end := offset + limit
	if end > len(f.rows) {
		end = len(f.rows)
	}
	return f.rows[offset:end], nil
}

func strp(s string) *string { return &s }

func rowsOf(n int) []*string {
	out := make([]*string, n)
	for i := range out {
		out[i] = strp(fmt.Sprintf("K%03d", i))
	}
	return out
}

func TestColumn_RequestCount(t *testing.T) {
	tests := []struct {
		name      string
		rows      int
		pageSize  int
		wantCalls int
	}{
		{"empty table", 0, 5, 1},
		{"exact multiple", 10, 5, 2},
		{"partial last page", 11, 5, 3},
		{"single short page", 3, 1000, 1},
		{"page size one", 4, 1, 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := &fakeSource{rows: rowsOf(tt.rows)}
			e, err := New(src, Options{PageSize: tt.pageSize}, nil, nil)
			require.NoError(t, err)

			res := e.Column(context.Background(), "t", "k")

			assert.NoError(t, res.Err)
			assert.False(t, res.Truncated)
			assert.True(t, res.Complete())
			assert.Equal(t, tt.wantCalls, src.calls)
			assert.Equal(t, tt.wantCalls, res.Pages)
			assert.Equal(t, tt.rows, res.Rows)
			assert.Equal(t, tt.rows, res.Keys.Len())
		})
	}
}

func TestColumn_DropsNullsEmptiesAndDuplicates(t *testing.T) {
	src := &fakeSource{rows: []*string{strp("A"), nil, strp(""), strp("B"), strp("A"), strp("C")}}
	e, err := New(src, Options{PageSize: 2}, nil, nil)
	require.NoError(t, err)

	res := e.Column(context.Background(), "t", "k")
	require.NoError(t, res.Err)
	assert.Equal(t, []string{"A", "B", "C"}, res.Keys.Sorted())
	assert.Equal(t, 6, res.Rows)
}

func TestColumn_Idempotent(t *testing.T) {
	src := &fakeSource{rows: rowsOf(23)}
	e, err := New(src, Options{PageSize: 4}, nil, nil)
	require.NoError(t, err)

	first := e.Column(context.Background(), "t", "k")
	second := e.Column(context.Background(), "t", "k")
	assert.True(t, first.Keys.Equal(second.Keys))
	assert.Equal(t, first.Pages, second.Pages)
}

func TestColumn_FetchErrorKeepsPartialKeys(t *testing.T) {
	src := &fakeSource{rows: rowsOf(12), failAt: 2}
	e, err := New(src, Options{PageSize: 5}, nil, nil)
	require.NoError(t, err)

	res := e.Column(context.Background(), "t", "k")
	require.Error(t, res.Err)
	assert.Contains(t, res.Err.Error(), "offset 5")
	assert.False(t, res.Complete())
	assert.Equal(t, 5, res.Keys.Len())
	assert.Equal(t, 2, src.calls)
}

func TestColumn_MaxRows(t *testing.T) {
	t.Run("truncates when rows remain", func(t *testing.T) {
		src := &fakeSource{rows: rowsOf(11)}
		e, err := New(src, Options{PageSize: 5, MaxRows: 10}, nil, nil)
		require.NoError(t, err)

		res := e.Column(context.Background(), "t", "k")
		assert.NoError(t, res.Err)
		assert.True(t, res.Truncated)
		assert.False(t, res.Complete())
		assert.Equal(t, 10, res.Keys.Len())
		assert.Equal(t, 2, src.calls)
	})

	t.Run("exact cap is not truncated", func(t *testing.T) {
		src := &fakeSource{rows: rowsOf(10)}
		e, err := New(src, Options{PageSize: 5, MaxRows: 10}, nil, nil)
		require.NoError(t, err)

		res := e.Column(context.Background(), "t", "k")
		assert.False(t, res.Truncated)
		assert.Equal(t, 10, res.Keys.Len())
	})

	t.Run("cap smaller than page", func(t *testing.T) {
		src := &fakeSource{rows: rowsOf(50)}
		e, err := New(src, Options{PageSize: 1000, MaxRows: 7}, nil, nil)
		require.NoError(t, err)

		res := e.Column(context.Background(), "t", "k")
		assert.True(t, res.Truncated)
		assert.Equal(t, 7, res.Keys.Len())
		assert.Equal(t, 1, src.calls)
	})
}

func TestColumn_CountsPages(t *testing.T) {
	m := metrics.New()
	src := &fakeSource{rows: rowsOf(9)}
	e, err := New(src, Options{PageSize: 3}, nil, m)
	require.NoError(t, err)

	e.Column(context.Background(), "guided_practice", "rule_id")
	assert.Equal(t, 1, testutil.CollectAndCount(m.Registry(), "seedkit_pages_fetched_total"))
}

func TestNew_RejectsBadOptions(t *testing.T) {
	_, err := New(&fakeSource{}, Options{PageSize: 0}, nil, nil)
	assert.Error(t, err)
	_, err = New(&fakeSource{}, Options{PageSize: 10, MaxRows: -1}, nil, nil)
	assert.Error(t, err)
}
