package services

import (
	"context"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"
)

const sentenceSeparator = ". "

// WordStream yields a reply one word at a time, each word followed by a single
// space, pausing between words to pace the output like live generation.
//
// Sentences are split on ". " and only split into words when reached. The
// period consumed by the split is put back on the last word of its sentence, so
// the emitted words always equal strings.Fields of the source text.
//
// A WordStream is single-pass and stops early when its context is cancelled.
type WordStream struct {
	ctx       context.Context
	delay     time.Duration
	sentences []string
	next      int
	pending   []string
	current   string
	emitted   int
	err       error
	done      bool
}

func NewWordStream(ctx context.Context, text string, delay time.Duration) *WordStream {
	if ctx == nil {
		ctx = context.Background()
	}
	return &WordStream{
		ctx:       ctx,
		delay:     delay,
		sentences: strings.Split(text, sentenceSeparator),
	}
}

// Next advances to the next word. It returns false when the text is exhausted,
// the stream was closed, or the context ended; Err tells the cases apart.
func (s *WordStream) Next() bool {
	if s.done {
		return false
	}

	for len(s.pending) == 0 {
		if s.next >= len(s.sentences) {
			s.done = true
			return false
		}
		terminated := s.next < len(s.sentences)-1
		s.pending = sentenceWords(s.sentences[s.next], terminated)
		s.next++
	}

	if err := s.pause(); err != nil {
		s.err = err
		s.done = true
		return false
	}

	s.current = s.pending[0] + " "
	s.pending = s.pending[1:]
	s.emitted++
	return true
}

// Word returns the current word with its trailing space.
func (s *WordStream) Word() string {
	return s.current
}

// Emitted counts the words returned so far.
func (s *WordStream) Emitted() int {
	return s.emitted
}

// Err returns the context error that stopped the stream, or nil.
func (s *WordStream) Err() error {
	return s.err
}

// Close stops the stream; Next returns false afterwards.
func (s *WordStream) Close() error {
	s.done = true
	s.pending = nil
	s.sentences = nil
	return nil
}

func (s *WordStream) pause() error {
	if s.emitted == 0 || s.delay <= 0 {
		return s.ctx.Err()
	}

	timer := time.NewTimer(s.delay)
	defer timer.Stop()

	select {
	case <-s.ctx.Done():
		return s.ctx.Err()
	case <-timer.C:
		return nil
	}
}

// sentenceWords splits one sentence into words. When the sentence was followed
// by the separator, its period is restored: glued to the last word, or as a
// word of its own when whitespace preceded it.
func sentenceWords(sentence string, terminated bool) []string {
	words := strings.Fields(sentence)
	if !terminated {
		return words
	}

	last, _ := utf8.DecodeLastRuneInString(sentence)
	if len(words) == 0 || unicode.IsSpace(last) {
		return append(words, ".")
	}
	words[len(words)-1] += "."
	return words
}
