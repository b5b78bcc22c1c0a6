package magpie

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/tinylib/msgp/msgp"
)

// RecipientStatus records the server's verdict for one RCPT TO.
type RecipientStatus struct {
	Address      string `json:"address"`
	Accepted     bool   `json:"accepted"`
	Code         int    `json:"code,omitempty"`
	EnhancedCode string `json:"enhanced_code,omitempty"`
	Message      string `json:"message,omitempty"`
}

// Outcome is the result of submitting one message. A batch produces
// exactly one outcome per input message, in input order.
type Outcome struct {
	// Accepted indicates the server took responsibility for the message.
	Accepted bool
	// QueueID is the server-assigned identifier extracted from the final
	// DATA reply, when the server provided one.
	QueueID string
	// Recipients holds per-recipient verdicts, in envelope order. Empty
	// when the transaction never reached the RCPT phase.
	Recipients []RecipientStatus
	// Err explains the failure when Accepted is false. ErrNotAttempted
	// marks messages skipped because the session had already failed.
	Err error
	// NotAttempted indicates the message was never offered to the server.
	NotAttempted bool
	// Duration is the wall time of the transaction.
	Duration time.Duration
}

// Failed reports whether the message was offered and rejected (as opposed
// to accepted or never attempted).
func (o *Outcome) Failed() bool {
	return !o.Accepted && !o.NotAttempted
}

// ErrorString returns the failure reason as text, empty on success.
func (o *Outcome) ErrorString() string {
	if o.Err == nil {
		return ""
	}
	return o.Err.Error()
}

// outcomeJSON is the wire shape of an Outcome; Err flattens to a string.
type outcomeJSON struct {
	Accepted     bool              `json:"accepted"`
	QueueID      string            `json:"queue_id,omitempty"`
	Recipients   []RecipientStatus `json:"recipients,omitempty"`
	Error        string            `json:"error,omitempty"`
	NotAttempted bool              `json:"not_attempted,omitempty"`
	DurationMS   int64             `json:"duration_ms"`
}

// MarshalJSON renders the outcome with the error flattened to a string.
func (o *Outcome) MarshalJSON() ([]byte, error) {
	return json.Marshal(outcomeJSON{
		Accepted:     o.Accepted,
		QueueID:      o.QueueID,
		Recipients:   o.Recipients,
		Error:        o.ErrorString(),
		NotAttempted: o.NotAttempted,
		DurationMS:   o.Duration.Milliseconds(),
	})
}

// BatchReport summarizes one batch submission: an outcome per input
// message plus session-level information.
type BatchReport struct {
	// ID uniquely identifies this batch run.
	ID string `json:"id"`
	// Server is the host:port the batch was submitted to.
	Server string `json:"server"`
	// StartedAt and FinishedAt bound the batch wall time.
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	// Outcomes holds one entry per input message, in input order.
	Outcomes []*Outcome `json:"outcomes"`
	// Fault is the session-fatal error that stopped the batch early, nil
	// when the batch ran to completion.
	Fault error `json:"-"`
}

// newBatchReport starts a report for a batch against the given server.
func newBatchReport(server string) *BatchReport {
	return &BatchReport{
		ID:        ulid.Make().String(),
		Server:    server,
		StartedAt: time.Now(),
	}
}

// Succeeded returns the number of accepted messages.
func (r *BatchReport) Succeeded() int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Accepted {
			n++
		}
	}
	return n
}

// Failed returns the number of messages offered and rejected.
func (r *BatchReport) Failed() int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Failed() {
			n++
		}
	}
	return n
}

// NotAttempted returns the number of messages never offered to the
// server.
func (r *BatchReport) NotAttempted() int {
	n := 0
	for _, o := range r.Outcomes {
		if o.NotAttempted {
			n++
		}
	}
	return n
}

// AllAccepted reports whether every message in the batch was accepted.
func (r *BatchReport) AllAccepted() bool {
	return r.Failed() == 0 && r.NotAttempted() == 0 && len(r.Outcomes) > 0
}

// ToJSON renders the report as indented JSON.
func (r *BatchReport) ToJSON() ([]byte, error) {
	type alias BatchReport
	return json.MarshalIndent(struct {
		*alias
		Fault string `json:"fault,omitempty"`
	}{
		alias: (*alias)(r),
		Fault: faultString(r.Fault),
	}, "", "  ")
}

func faultString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// ToMessagePack renders the report in MessagePack form for compact
// storage or transport between batch workers.
func (r *BatchReport) ToMessagePack() []byte {
	b := msgp.AppendMapHeader(nil, 7)
	b = msgp.AppendString(b, "id")
	b = msgp.AppendString(b, r.ID)
	b = msgp.AppendString(b, "server")
	b = msgp.AppendString(b, r.Server)
	b = msgp.AppendString(b, "started_at")
	b = msgp.AppendTime(b, r.StartedAt)
	b = msgp.AppendString(b, "finished_at")
	b = msgp.AppendTime(b, r.FinishedAt)
	b = msgp.AppendString(b, "fault")
	b = msgp.AppendString(b, faultString(r.Fault))
	b = msgp.AppendString(b, "outcomes")
	b = msgp.AppendArrayHeader(b, uint32(len(r.Outcomes)))
	for _, o := range r.Outcomes {
		b = appendOutcome(b, o)
	}
	b = msgp.AppendString(b, "succeeded")
	b = msgp.AppendInt(b, r.Succeeded())
	return b
}

func appendOutcome(b []byte, o *Outcome) []byte {
	b = msgp.AppendMapHeader(b, 6)
	b = msgp.AppendString(b, "accepted")
	b = msgp.AppendBool(b, o.Accepted)
	b = msgp.AppendString(b, "queue_id")
	b = msgp.AppendString(b, o.QueueID)
	b = msgp.AppendString(b, "error")
	b = msgp.AppendString(b, o.ErrorString())
	b = msgp.AppendString(b, "not_attempted")
	b = msgp.AppendBool(b, o.NotAttempted)
	b = msgp.AppendString(b, "duration_ns")
	b = msgp.AppendInt64(b, int64(o.Duration))
	b = msgp.AppendString(b, "recipients")
	b = msgp.AppendArrayHeader(b, uint32(len(o.Recipients)))
	for _, rcpt := range o.Recipients {
		b = msgp.AppendMapHeader(b, 5)
		b = msgp.AppendString(b, "address")
		b = msgp.AppendString(b, rcpt.Address)
		b = msgp.AppendString(b, "accepted")
		b = msgp.AppendBool(b, rcpt.Accepted)
		b = msgp.AppendString(b, "code")
		b = msgp.AppendInt(b, rcpt.Code)
		b = msgp.AppendString(b, "enhanced_code")
		b = msgp.AppendString(b, rcpt.EnhancedCode)
		b = msgp.AppendString(b, "message")
		b = msgp.AppendString(b, rcpt.Message)
	}
	return b
}

// ReportFromMessagePack decodes a report produced by ToMessagePack.
// Errors decode to opaque error values; Fault and per-outcome Err lose
// their concrete types.
func ReportFromMessagePack(data []byte) (*BatchReport, error) {
	report := &BatchReport{}
	sz, b, err := msgp.ReadMapHeaderBytes(data)
	if err != nil {
		return nil, err
	}
	for i := uint32(0); i < sz; i++ {
		var key string
		key, b, err = msgp.ReadStringBytes(b)
		if err != nil {
			return nil, err
		}
		switch key {
		case "id":
			report.ID, b, err = msgp.ReadStringBytes(b)
		case "server":
			report.Server, b, err = msgp.ReadStringBytes(b)
		case "started_at":
			report.StartedAt, b, err = msgp.ReadTimeBytes(b)
		case "finished_at":
			report.FinishedAt, b, err = msgp.ReadTimeBytes(b)
		case "fault":
			var fault string
			fault, b, err = msgp.ReadStringBytes(b)
			if err == nil && fault != "" {
				report.Fault = fmt.Errorf("%s", fault)
			}
		case "outcomes":
			var n uint32
			n, b, err = msgp.ReadArrayHeaderBytes(b)
			if err != nil {
				return nil, err
			}
			for j := uint32(0); j < n; j++ {
				var o *Outcome
				o, b, err = readOutcome(b)
				if err != nil {
					return nil, err
				}
				report.Outcomes = append(report.Outcomes, o)
			}
		default:
			b, err = msgp.Skip(b)
		}
		if err != nil {
			return nil, err
		}
	}
	return report, nil
}

func readOutcome(b []byte) (*Outcome, []byte, error) {
	o := &Outcome{}
	sz, b, err := msgp.ReadMapHeaderBytes(b)
	if err != nil {
		return nil, b, err
	}
	for i := uint32(0); i < sz; i++ {
		var key string
		key, b, err = msgp.ReadStringBytes(b)
		if err != nil {
			return nil, b, err
		}
		switch key {
		case "accepted":
			o.Accepted, b, err = msgp.ReadBoolBytes(b)
		case "queue_id":
			o.QueueID, b, err = msgp.ReadStringBytes(b)
		case "error":
			var msg string
			msg, b, err = msgp.ReadStringBytes(b)
			if err == nil && msg != "" {
				o.Err = fmt.Errorf("%s", msg)
			}
		case "not_attempted":
			o.NotAttempted, b, err = msgp.ReadBoolBytes(b)
		case "duration_ns":
			var ns int64
			ns, b, err = msgp.ReadInt64Bytes(b)
			o.Duration = time.Duration(ns)
		case "recipients":
			var n uint32
			n, b, err = msgp.ReadArrayHeaderBytes(b)
			if err != nil {
				return nil, b, err
			}
			for j := uint32(0); j < n; j++ {
				var rcpt RecipientStatus
				rcpt, b, err = readRecipientStatus(b)
				if err != nil {
					return nil, b, err
				}
				o.Recipients = append(o.Recipients, rcpt)
			}
		default:
			b, err = msgp.Skip(b)
		}
		if err != nil {
			return nil, b, err
		}
	}
	return o, b, nil
}

func readRecipientStatus(b []byte) (RecipientStatus, []byte, error) {
	var rcpt RecipientStatus
	sz, b, err := msgp.ReadMapHeaderBytes(b)
	if err != nil {
		return rcpt, b, err
	}
	for i := uint32(0); i < sz; i++ {
		var key string
		key, b, err = msgp.ReadStringBytes(b)
		if err != nil {
			return rcpt, b, err
		}
		switch key {
		case "address":
			rcpt.Address, b, err = msgp.ReadStringBytes(b)
		case "accepted":
			rcpt.Accepted, b, err = msgp.ReadBoolBytes(b)
		case "code":
			rcpt.Code, b, err = msgp.ReadIntBytes(b)
		case "enhanced_code":
			rcpt.EnhancedCode, b, err = msgp.ReadStringBytes(b)
		case "message":
			rcpt.Message, b, err = msgp.ReadStringBytes(b)
		default:
			b, err = msgp.Skip(b)
		}
		if err != nil {
			return rcpt, b, err
		}
	}
	return rcpt, b, nil
}
