package main

import (
	"bytes"
	"io"
	"net/mail"
	"net/textproto"

	"github.com/synqronlabs/magpie"
)

// parseMessageFile converts an RFC 5322 message file into a message
// object. Header order is preserved so the transmitted message matches
// the input.
func parseMessageFile(data []byte) (*magpie.Message, error) {
	parsed, err := mail.ReadMessage(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	body, err := io.ReadAll(parsed.Body)
	if err != nil {
		return nil, err
	}

	msg := &magpie.Message{Body: body}
	for _, name := range headerOrder(data) {
		canonical := textproto.CanonicalMIMEHeaderKey(name)
		for _, value := range parsed.Header[canonical] {
			msg.AddHeader(name, value)
		}
		delete(parsed.Header, canonical)
	}
	return msg, nil
}

// headerOrder returns the distinct header names in the order they first
// appear in the raw message.
func headerOrder(data []byte) []string {
	var names []string
	seen := make(map[string]bool)
	for _, line := range bytes.Split(data, []byte("\n")) {
		line = bytes.TrimSuffix(line, []byte("\r"))
		if len(line) == 0 {
			break
		}
		// Continuation lines belong to the previous header.
		if line[0] == ' ' || line[0] == '\t' {
			continue
		}
		idx := bytes.IndexByte(line, ':')
		if idx <= 0 {
			continue
		}
		name := string(line[:idx])
		key := textproto.CanonicalMIMEHeaderKey(name)
		if !seen[key] {
			seen[key] = true
			names = append(names, name)
		}
	}
	return names
}
