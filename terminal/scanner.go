// Package terminal runs shell commands for jobs and interprets their output
// the way a terminal would, turning carriage returns into line rewrites.
package terminal

import (
	"context"
	"strings"
)

// Kind tells a renderer what to do with a token.
type Kind string

const (
	// Append adds text after what was already shown.
	Append Kind = "append"
	// Replace overwrites the current (last, unterminated) line.
	Replace Kind = "replace"
)

// Token is one renderable piece of output.
type Token struct {
	Kind Kind   `json:"kind"`
	Text string `json:"text"`
}

// Scanner splits raw output chunks into append/replace tokens. Text is held
// until a line terminator arrives. A carriage return flushes the pending
// text and makes the next flush a replace; the flush waits for the next
// byte so a "\r\n" split across chunks still terminates a line.
// Consecutive carriage returns collapse.
//
// Chunks are scanned bytewise, so a multibyte character split across two
// chunks is reassembled.
//
// A Scanner is not safe for concurrent use.
type Scanner struct {
	buf       strings.Builder
	kind      Kind
	pendingCR bool
}

// NewScanner creates a Scanner.
func NewScanner() *Scanner {
	return &Scanner{kind: Append}
}

// Feed consumes one chunk and returns the tokens it completes.
func (s *Scanner) Feed(chunk string) []Token {
	var tokens []Token
	for i := 0; i < len(chunk); i++ {
		switch b := chunk[i]; b {
		case '\r':
			s.pendingCR = true
		case '\n':
			s.pendingCR = false
			s.buf.WriteByte('\n')
			tokens = s.emit(tokens)
			s.kind = Append
		default:
			if s.pendingCR {
				s.pendingCR = false
				tokens = s.carriageReturn(tokens)
			}
			s.buf.WriteByte(b)
		}
	}
	return tokens
}

// Flush emits any buffered text at end of input.
func (s *Scanner) Flush() []Token {
	var tokens []Token
	if s.pendingCR {
		s.pendingCR = false
		tokens = s.carriageReturn(tokens)
	}
	return s.emit(tokens)
}

func (s *Scanner) carriageReturn(tokens []Token) []Token {
	tokens = s.emit(tokens)
	s.kind = Replace
	return tokens
}

func (s *Scanner) emit(tokens []Token) []Token {
	if s.buf.Len() == 0 {
		return tokens
	}
	tokens = append(tokens, Token{Kind: s.kind, Text: s.buf.String()})
	s.buf.Reset()
	return tokens
}

// Scan reads chunks from in and yields tokens until in is closed or ctx is
// done. Remaining text is flushed when in closes.
func Scan(ctx context.Context, in <-chan string) <-chan Token {
	out := make(chan Token)
	go func() {
		defer close(out)
		s := NewScanner()
		send := func(tokens []Token) bool {
			for _, tok := range tokens {
				select {
				case out <- tok:
				case <-ctx.Done():
					return false
				}
			}
			return true
		}
		for {
			select {
			case chunk, ok := <-in:
				if !ok {
					send(s.Flush())
					return
				}
				if !send(s.Feed(chunk)) {
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}
