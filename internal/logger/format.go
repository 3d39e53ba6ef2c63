package logger

import (
	"encoding/json"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	keyRequestID = "request_id"
	keyComponent = "component"
	keyCaller    = "caller"
	keyError     = "error"
)

// Entry is the JSON shape of one log line
type Entry struct {
	Timestamp string         `json:"timestamp"`
	Level     string         `json:"level"`
	Message   string         `json:"message"`
	RequestID string         `json:"request_id,omitempty"`
	Component string         `json:"component,omitempty"`
	Error     *ErrorDetails  `json:"error,omitempty"`
	Fields    map[string]any `json:"fields,omitempty"`
	Caller    string         `json:"caller,omitempty"`
}

// ErrorDetails contains structured error information
type ErrorDetails struct {
	Code       string `json:"code,omitempty"`
	Message    string `json:"message"`
	Category   string `json:"category,omitempty"`
	StackTrace string `json:"stack_trace,omitempty"`
}

// entryFormatter renders logrus entries as Entry JSON, lifting the well-known
// keys out of the free-form fields
type entryFormatter struct{}

func (f *entryFormatter) Format(e *logrus.Entry) ([]byte, error) {
	out := Entry{
		Timestamp: e.Time.UTC().Format(time.RFC3339Nano),
		Level:     levelName(e.Level),
		Message:   e.Message,
	}

	for k, v := range e.Data {
		switch k {
		case keyRequestID:
			out.RequestID, _ = v.(string)
		case keyComponent:
			out.Component, _ = v.(string)
		case keyCaller:
			out.Caller, _ = v.(string)
		case keyError:
			if d, ok := v.(*ErrorDetails); ok {
				out.Error = d
			}
		default:
			if out.Fields == nil {
				out.Fields = make(map[string]any)
			}
			if err, ok := v.(error); ok {
				v = err.Error()
			}
			out.Fields[k] = v
		}
	}

	data, err := json.Marshal(out)
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

func levelName(l logrus.Level) string {
	if l == logrus.WarnLevel {
		return "warn"
	}
	return l.String()
}
