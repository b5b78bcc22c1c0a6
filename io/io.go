// Package io provides low-level SMTP line I/O helpers shared by the
// session layer: bounded line reading with strict CRLF termination.
package io

import (
	"bufio"
	"errors"
)

var (
	ErrLineTooLong   = errors.New("smtp: line too long")
	ErrBadLineEnding = errors.New("smtp: line not terminated by CRLF")
)

// ReadLine reads a single SMTP line with strict CRLF and length enforcement.
// The returned string has the trailing CRLF removed. Reply lines from a
// conforming server never exceed a few hundred octets; max guards against a
// misbehaving peer streaming an unbounded line.
func ReadLine(reader *bufio.Reader, max int) (string, error) {
	// Fast path: the whole line fits in the bufio buffer (zero-copy view).
	line, err := reader.ReadSlice('\n')
	if err == nil {
		return trimLine(line, max)
	}

	// If it's not ErrBufferFull, it's a read error (EOF, etc).
	if err != bufio.ErrBufferFull {
		return "", err
	}

	// Slow path: the line is larger than the bufio buffer, accumulate chunks.
	var buf []byte
	buf = append(buf, line...)
	for {
		if max > 0 && len(buf) > max+2 {
			drainLine(reader)
			return "", ErrLineTooLong
		}
		line, err = reader.ReadSlice('\n')
		buf = append(buf, line...)
		if err == nil {
			return trimLine(buf, max)
		}
		if err != bufio.ErrBufferFull {
			return "", err
		}
	}
}

// trimLine validates the CRLF terminator and the length limit, then strips
// the terminator.
func trimLine(b []byte, max int) (string, error) {
	if max > 0 && len(b) > max+2 {
		return "", ErrLineTooLong
	}
	if len(b) < 2 || b[len(b)-2] != '\r' {
		return "", ErrBadLineEnding
	}
	return string(b[:len(b)-2]), nil
}

// drainLine discards the rest of the current line to recover protocol
// synchronization after an overlong line.
func drainLine(reader *bufio.Reader) {
	for {
		_, err := reader.ReadSlice('\n')
		if err == nil {
			return
		}
		if err != bufio.ErrBufferFull {
			return
		}
	}
}
