// Package journal appends one NDJSON line per execution run. The file is an
// audit trail for operators; nothing in the service reads it back.
package journal

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"bullish/internal/execution"
)

type Entry struct {
	RunID        string               `json:"run_id"`
	Timestamp    time.Time            `json:"timestamp"`
	StartedAt    time.Time            `json:"started_at"`
	DurationMS   int64                `json:"duration_ms"`
	Symbol       string               `json:"symbol"`
	BuyNotional  string               `json:"buy_notional,omitempty"`
	Polls        int                  `json:"polls"`
	Outcome      string               `json:"outcome"`
	Step         string               `json:"step,omitempty"`
	ErrorKind    string               `json:"error_kind,omitempty"`
	Error        string               `json:"error,omitempty"`
	Detail       string               `json:"detail,omitempty"`
	PositionOpen bool                 `json:"position_open"`
	Result       *execution.Result    `json:"result,omitempty"`
	OpenBuy      *execution.BuyResult `json:"open_buy,omitempty"`
}

type Journal struct {
	file   *os.File
	writer *bufio.Writer
	mu     sync.Mutex
	now    func() time.Time
}

func Open(path string) (*Journal, error) {
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	return &Journal{
		file:   file,
		writer: bufio.NewWriter(file),
		now:    time.Now,
	}, nil
}

// ObserveRun implements execution.Observer.
func (j *Journal) ObserveRun(rec execution.Record) {
	if err := j.Append(NewEntry(rec, j.now().UTC())); err != nil {
		fmt.Fprintf(os.Stderr, "journal: %v\n", err)
	}
}

func NewEntry(rec execution.Record, now time.Time) Entry {
	entry := Entry{
		RunID:      rec.RunID,
		Timestamp:  now,
		StartedAt:  rec.StartedAt,
		DurationMS: rec.Duration.Milliseconds(),
		Symbol:     rec.Symbol,
		Polls:      rec.Polls,
		Outcome:    rec.Outcome(),
		Result:     rec.Result,
	}
	if !rec.BuyNotional.IsZero() {
		entry.BuyNotional = rec.BuyNotional.String()
	}
	if rec.Err != nil {
		entry.ErrorKind = execution.KindName(rec.Err)
		entry.Error = rec.Err.Error()
		var execErr *execution.Error
		if errors.As(rec.Err, &execErr) {
			entry.Step = string(execErr.Step)
			entry.Detail = execErr.Detail
			entry.PositionOpen = execErr.PositionOpen()
			entry.OpenBuy = execErr.Buy
		}
	}
	return entry
}

func (j *Journal) Append(entry Entry) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal entry: %w", err)
	}
	if _, err := j.writer.Write(append(payload, '\n')); err != nil {
		return fmt.Errorf("write entry: %w", err)
	}
	if err := j.writer.Flush(); err != nil {
		return fmt.Errorf("flush journal: %w", err)
	}
	return nil
}

func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.writer.Flush(); err != nil {
		_ = j.file.Close()
		return err
	}
	return j.file.Close()
}
