package observability

import (
	"bytes"
	"errors"
	"log"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/benchsync/benchsync/errs"
)

type captureLogger struct {
	msgs   []string
	fields [][]Field
}

func (c *captureLogger) Debug(msg string, fields ...Field) { c.record(msg, fields) }
func (c *captureLogger) Info(msg string, fields ...Field)  { c.record(msg, fields) }
func (c *captureLogger) Warn(msg string, fields ...Field)  { c.record(msg, fields) }
func (c *captureLogger) Error(msg string, fields ...Field) { c.record(msg, fields) }

func (c *captureLogger) record(msg string, fields []Field) {
	c.msgs = append(c.msgs, msg)
	c.fields = append(c.fields, fields)
}

func TestAggregateErrorsJoinsAndLogs(t *testing.T) {
	capture := &captureLogger{}
	SetLogger(capture)
	defer SetLogger(nil)

	first := errors.New("scope-01 start failed")
	second := errors.New("psu-02 start failed")
	err := AggregateErrors("synchronized start", []error{first, nil, second}, F("group", "bench-a"))
	require.Error(t, err)
	require.ErrorIs(t, err, first)
	require.ErrorIs(t, err, second)
	require.Contains(t, err.Error(), "synchronized start failed")
	require.Len(t, capture.msgs, 1)
}

func TestAggregateErrorsSummarizesEnvelopes(t *testing.T) {
	capture := &captureLogger{}
	SetLogger(capture)
	defer SetLogger(nil)

	first := errs.New("scope-01", errs.CodeConflict, errs.WithMessage("already running"))
	second := errs.New("psu-02", errs.CodeEquipment, errs.WithMessage("channel dead"))
	err := AggregateErrors("synchronized start", []error{first, second})
	require.Error(t, err)

	require.Len(t, capture.fields, 1)
	fields := capture.fields[0]

	codes := fieldByKey(t, fields, "codes").(map[string]int)
	require.Equal(t, 1, codes[string(errs.CodeConflict)])
	require.Equal(t, 1, codes[string(errs.CodeEquipment)])

	equipment := fieldByKey(t, fields, "equipment").([]string)
	require.Equal(t, []string{"psu-02", "scope-01"}, equipment)
}

func fieldByKey(t *testing.T, fields []Field, key string) any {
	t.Helper()
	for _, field := range fields {
		if field.Key == key {
			return field.Value
		}
	}
	t.Fatalf("field %q not found", key)
	return nil
}

func TestAggregateErrorsNilWhenAllNil(t *testing.T) {
	require.NoError(t, AggregateErrors("stop", []error{nil, nil}))
}

func TestStdLoggerFormatsFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewStdLogger(log.New(&buf, "", 0), false)
	logger.Info("session started", F("acquisition_id", "a-1"), F("equipment", "scope-01"))
	out := buf.String()
	require.Contains(t, out, "INFO session started")
	require.Contains(t, out, "acquisition_id=a-1")
	require.Contains(t, out, "equipment=scope-01")

	buf.Reset()
	logger.Debug("suppressed")
	require.Equal(t, "", strings.TrimSpace(buf.String()))
}
