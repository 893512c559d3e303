package domain

import (
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func countingStream(fragments []string) (*TokenStream, *int, *int) {
	released, finalized := 0, 0
	i := 0
	s := NewTokenStream(func() (string, error) {
		if i >= len(fragments) {
			return "", io.EOF
		}
		i++
		return fragments[i-1], nil
	}, func() error {
		released++
		return nil
	}, func(error) {
		finalized++
	})
	return s, &released, &finalized
}

func TestTokenStream(t *testing.T) {
	t.Run("Collect drains all fragments and closes once", func(t *testing.T) {
		s, released, finalized := countingStream([]string{"Hel", "lo", "", "!"})

		text, err := s.Collect()

		require.NoError(t, err)
		assert.Equal(t, "Hello!", text)
		assert.Equal(t, 1, *released, "Expected release to run once")
		assert.Equal(t, 1, *finalized, "Expected finalizer to run once")
	})

	t.Run("Breaking out of All releases the producer", func(t *testing.T) {
		s, released, finalized := countingStream([]string{"a", "b", "c"})

		var got []string
		for tok, err := range s.All() {
			require.NoError(t, err)
			got = append(got, tok)
			break
		}

		assert.Equal(t, []string{"a"}, got)
		assert.Equal(t, 1, *released)
		assert.Equal(t, 1, *finalized)
	})

	t.Run("Second iteration reports consumption", func(t *testing.T) {
		s := StreamOf("x")
		_, err := s.Collect()
		require.NoError(t, err)

		_, err = s.Collect()
		assert.ErrorIs(t, err, ErrStreamConsumed)
	})

	t.Run("Producer errors reach the finalizer", func(t *testing.T) {
		boom := errors.New("connection reset")
		var finalErr error
		calls := 0
		s := NewTokenStream(func() (string, error) {
			calls++
			if calls == 1 {
				return "partial", nil
			}
			return "", boom
		}, nil, func(err error) { finalErr = err })

		text, err := s.Collect()

		assert.Equal(t, "partial", text)
		assert.ErrorIs(t, err, boom)
		assert.ErrorIs(t, finalErr, boom)
	})

	t.Run("Recv after Close returns EOF", func(t *testing.T) {
		s, released, _ := countingStream([]string{"a"})
		require.NoError(t, s.Close())
		require.NoError(t, s.Close())

		_, err := s.Recv()
		assert.ErrorIs(t, err, io.EOF)
		assert.Equal(t, 1, *released)
	})
}
