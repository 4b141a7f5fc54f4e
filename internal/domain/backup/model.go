package backup

import (
	"bytes"
	"encoding/json"
	"strconv"
	"time"

	"github.com/google/uuid"
)

const (
	EventBackupCompleted = "backup_completed"

	StatusSuccess = "success"
	StatusFailed  = "failed"

	RecordCompleted = "completed"
	RecordFailed    = "failed"
)

// Size is the backup_size field, which backup scripts send either as a
// human readable string ("1.2G") or as a byte count.
type Size string

func (s *Size) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		*s = ""
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err == nil {
		*s = Size(n.String())
		return nil
	}
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	*s = Size(str)
	return nil
}

// Bytes returns the size when it is a plain byte count.
func (s Size) Bytes() (int64, bool) {
	n, err := strconv.ParseInt(string(s), 10, 64)
	return n, err == nil
}

// Notification is the body posted by the archive's backup job.
type Notification struct {
	Event      string `json:"event"`
	BackupFile string `json:"backup_file" validate:"required_if=Status success,max=512"`
	BackupSize Size   `json:"backup_size"`
	Timestamp  string `json:"timestamp"`
	Status     string `json:"status"`
	Error      string `json:"error,omitempty"`
}

// CompletedAt parses Timestamp as RFC3339, falling back to now.
func (n Notification) CompletedAt(now time.Time) time.Time {
	if n.Timestamp != "" {
		if t, err := time.Parse(time.RFC3339, n.Timestamp); err == nil {
			return t
		}
	}
	return now
}

// Record is a stored backup outcome.
type Record struct {
	ID          uuid.UUID `json:"id"`
	Filename    string    `json:"filename"`
	Size        *string   `json:"size,omitempty"`
	Status      string    `json:"status"`
	Error       *string   `json:"error,omitempty"`
	CompletedAt time.Time `json:"completed_at"`
	CreatedAt   time.Time `json:"created_at"`
}

type Ack struct {
	Success bool `json:"success"`
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
