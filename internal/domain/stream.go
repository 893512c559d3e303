package domain

import (
	"errors"
	"io"
	"iter"
	"strings"
	"sync"
)

// ErrStreamConsumed is returned when a TokenStream is iterated a second time.
var ErrStreamConsumed = errors.New("token stream already consumed")

// TokenStream is a finite, single-pass sequence of text fragments from a
// streaming completion. The producer's resources are released by Close,
// which runs the finalizer exactly once.
type TokenStream struct {
	recv     func() (string, error)
	release  func() error
	finalize func(err error)

	mu       sync.Mutex
	started  bool
	closed   bool
	finalErr error
}

// NewTokenStream builds a stream. recv returns io.EOF at the end; release
// frees the underlying connection; finalize, if set, runs once on Close with
// the terminal error (nil on clean exhaustion or early stop).
func NewTokenStream(recv func() (string, error), release func() error, finalize func(err error)) *TokenStream {
	return &TokenStream{recv: recv, release: release, finalize: finalize}
}

// StreamOf returns a stream over fixed fragments.
func StreamOf(fragments ...string) *TokenStream {
	i := 0
	return NewTokenStream(func() (string, error) {
		if i >= len(fragments) {
			return "", io.EOF
		}
		i++
		return fragments[i-1], nil
	}, nil, nil)
}

// Recv returns the next fragment or io.EOF.
func (s *TokenStream) Recv() (string, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return "", io.EOF
	}
	s.started = true
	s.mu.Unlock()

	tok, err := s.recv()
	if err != nil && !errors.Is(err, io.EOF) {
		s.mu.Lock()
		s.finalErr = err
		s.mu.Unlock()
	}
	return tok, err
}

// Close releases the producer. It is safe to call more than once.
func (s *TokenStream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	finalErr := s.finalErr
	s.mu.Unlock()

	var err error
	if s.release != nil {
		err = s.release()
	}
	if s.finalize != nil {
		s.finalize(finalErr)
	}
	return err
}

// All yields fragments until the stream ends and closes it on every exit
// path, including a break in the caller's loop. A stream can only be ranged once.
func (s *TokenStream) All() iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		s.mu.Lock()
		used := s.started || s.closed
		s.started = true
		s.mu.Unlock()
		if used {
			yield("", ErrStreamConsumed)
			return
		}
		defer s.Close()
		for {
			tok, err := s.recv()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				s.mu.Lock()
				s.finalErr = err
				s.mu.Unlock()
				yield("", err)
				return
			}
			if tok == "" {
				continue
			}
			if !yield(tok, nil) {
				return
			}
		}
	}
}

// Collect drains the stream into one string and closes it.
func (s *TokenStream) Collect() (string, error) {
	var b strings.Builder
	for tok, err := range s.All() {
		if err != nil {
			return b.String(), err
		}
		b.WriteString(tok)
	}
	return b.String(), nil
}
