package observability

import (
	"errors"
	"fmt"
	"sort"

	"github.com/benchsync/benchsync/errs"
)

// AggregateErrors joins per-member failures from one operation into a single
// error and logs a structured summary. Failures carrying the errs envelope
// contribute their code and equipment scope, so one log line answers which
// instruments failed and how.
func AggregateErrors(operation string, failures []error, fields ...Field) error {
	joined := make([]error, 0, len(failures))
	messages := make([]string, 0, len(failures))
	codes := make(map[string]int)
	var equipment []string
	for _, err := range failures {
		if err == nil {
			continue
		}
		joined = append(joined, err)
		messages = append(messages, err.Error())
		var envelope *errs.E
		if errors.As(err, &envelope) {
			if envelope.Code != "" {
				codes[string(envelope.Code)]++
			}
			if envelope.Equipment != "" {
				equipment = append(equipment, envelope.Equipment)
			}
		}
	}
	if len(joined) == 0 {
		return nil
	}

	logFields := append(fields,
		F("operation", operation),
		F("error_count", len(joined)),
		F("errors", messages))
	if len(codes) > 0 {
		logFields = append(logFields, F("codes", codes))
	}
	if len(equipment) > 0 {
		sort.Strings(equipment)
		logFields = append(logFields, F("equipment", equipment))
	}
	Log().Error(operation+" failed", logFields...)
	return fmt.Errorf("%s failed: %w", operation, errors.Join(joined...))
}
