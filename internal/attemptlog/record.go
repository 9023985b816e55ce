package attemptlog

import (
	"time"

	"github.com/BaSui01/sigflow/gen"
)

// Record 一次生成尝试.
type Record struct {
	ID         uint      `gorm:"primaryKey"`
	TraceID    string    `gorm:"size:64;index:idx_attempt_trace,priority:1;not null"`
	Attempt    int       `gorm:"index:idx_attempt_trace,priority:2;not null"`
	Signature  string    `gorm:"type:text;not null"`
	Outcome    string    `gorm:"size:32;index;not null"`
	Feedback   []string  `gorm:"serializer:json;type:text"`
	Raw        string    `gorm:"type:text"`
	DurationMS int64     `gorm:"not null;default:0"`
	CreatedAt  time.Time `gorm:"index"`
}

// TableName 指定表名.
func (Record) TableName() string { return "sigflow_attempts" }

// FromAttempt converts an engine attempt into a row.
func FromAttempt(a gen.Attempt) Record {
	return Record{
		TraceID:    a.TraceID,
		Attempt:    a.Number,
		Signature:  a.Signature,
		Outcome:    a.Outcome,
		Feedback:   append([]string(nil), a.Feedback...),
		Raw:        a.Raw,
		DurationMS: a.Duration.Milliseconds(),
	}
}

// Failed reports whether the attempt was rejected and retried or abandoned.
func (r Record) Failed() bool {
	return r.Outcome != "success"
}
