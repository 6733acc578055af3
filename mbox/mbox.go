// Package mbox writes documents into mailbox files and reads them back.
package mbox

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/mail"
	"os"

	mboxlib "github.com/emersion/go-mbox"
)

// MboxMessage represents a single message read back from an mbox file.
type MboxMessage struct {
	Headers mail.Header
	Body    []byte
	Raw     []byte
}

// Read opens an mbox file and iterates through its messages, calling the
// provided callback for each message. Messages that cannot be parsed are
// passed to onSkip (if set) and iteration continues.
func Read(path string, callback func(m *MboxMessage) error, onSkip func(idx int, err error)) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open mbox: %w", err)
	}
	defer file.Close()

	return ReadFrom(file, callback, onSkip)
}

// ReadFrom is Read on an already opened stream.
func ReadFrom(r io.Reader, callback func(m *MboxMessage) error, onSkip func(idx int, err error)) error {
	reader := mboxlib.NewReader(r)
	for idx := 0; ; idx++ {
		msgReader, err := reader.NextMessage()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("message %d: %w", idx, err)
		}

		raw, err := io.ReadAll(msgReader)
		if err != nil {
			if onSkip != nil {
				onSkip(idx, fmt.Errorf("message %d read: %w", idx, err))
			}
			continue
		}

		msg, err := mail.ReadMessage(bytes.NewReader(raw))
		if err != nil {
			if onSkip != nil {
				onSkip(idx, fmt.Errorf("message %d parse: %w", idx, err))
			}
			continue
		}

		body, err := io.ReadAll(msg.Body)
		if err != nil {
			if onSkip != nil {
				onSkip(idx, fmt.Errorf("message %d body: %w", idx, err))
			}
			continue
		}

		if err := callback(&MboxMessage{Headers: msg.Header, Body: body, Raw: raw}); err != nil {
			return err
		}
	}
}

// CountMessages counts the total number of messages in an mbox file.
func CountMessages(path string) (int, error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open mbox: %w", err)
	}
	defer file.Close()

	reader := mboxlib.NewReader(file)
	count := 0
	for {
		msgReader, err := reader.NextMessage()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return count, nil
			}
			return 0, err
		}

		// Just consume the message without parsing
		_, _ = io.Copy(io.Discard, msgReader)
		count++
	}
}
