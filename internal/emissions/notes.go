package emissions

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// LogEntry is one free-text line of an event's audit log.
type LogEntry struct {
	Message   string `json:"message"`
	Timestamp string `json:"timestamp_utc"`
}

// RunbookCompletion records that a checklist item was completed.
type RunbookCompletion struct {
	ItemID    string `json:"id"`
	Timestamp string `json:"timestamp_utc"`
}

// Notes is the per-event audit structure embedded in the events table. Both
// streams are append-only; RunbookCompleted is unique by ItemID.
type Notes struct {
	RunbookCompleted []RunbookCompletion `json:"runbook_completed"`
	Log              []LogEntry          `json:"log"`
}

// Clone returns a deep copy of the notes.
func (n Notes) Clone() Notes {
	var cp Notes
	if n.RunbookCompleted != nil {
		cp.RunbookCompleted = append([]RunbookCompletion(nil), n.RunbookCompleted...)
	}
	if n.Log != nil {
		cp.Log = append([]LogEntry(nil), n.Log...)
	}
	return cp
}

// HasCompleted reports whether itemID already has a completion record.
func (n Notes) HasCompleted(itemID string) bool {
	for _, c := range n.RunbookCompleted {
		if c.ItemID == itemID {
			return true
		}
	}
	return false
}

// AppendLog adds a log entry stamped with ts.
func (n *Notes) AppendLog(message string, ts time.Time) {
	n.Log = append(n.Log, LogEntry{Message: message, Timestamp: FormatTimestamp(ts)})
}

// MarshalJSON always emits both streams as arrays, never null.
func (n Notes) MarshalJSON() ([]byte, error) {
	type plain Notes
	p := plain(n)
	if p.RunbookCompleted == nil {
		p.RunbookCompleted = []RunbookCompletion{}
	}
	if p.Log == nil {
		p.Log = []LogEntry{}
	}
	return json.Marshal(p)
}

// UnmarshalJSON decodes leniently, see ParseNotes.
func (n *Notes) UnmarshalJSON(b []byte) error {
	*n = ParseNotes(string(b))
	return nil
}

// ParseNotes decodes the embedded notes document. It never fails: blank input
// yields empty notes, JSON that is not an object yields empty notes, and text
// that is not JSON at all is kept as a single log entry with no timestamp.
// Unknown keys are dropped and repeated runbook completions collapse to the
// first one.
func ParseNotes(text string) Notes {
	text = strings.TrimSpace(text)
	if text == "" || text == "null" || strings.EqualFold(text, "nan") {
		return Notes{}
	}

	var raw any
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		return Notes{Log: []LogEntry{{Message: text}}}
	}
	obj, ok := raw.(map[string]any)
	if !ok {
		return Notes{}
	}

	var n Notes
	for _, item := range stringItems(obj["log"]) {
		n.Log = append(n.Log, LogEntry{
			Message:   item["message"],
			Timestamp: item["timestamp_utc"],
		})
	}
	for _, item := range stringItems(obj["runbook_completed"]) {
		id := item["id"]
		if n.HasCompleted(id) {
			continue
		}
		n.RunbookCompleted = append(n.RunbookCompleted, RunbookCompletion{
			ItemID:    id,
			Timestamp: item["timestamp_utc"],
		})
	}
	return n
}

// stringItems returns the object elements of a JSON array with their scalar
// values stringified. Non-object elements are skipped.
func stringItems(v any) []map[string]string {
	list, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]map[string]string, 0, len(list))
	for _, el := range list {
		obj, ok := el.(map[string]any)
		if !ok {
			continue
		}
		item := make(map[string]string, len(obj))
		for k, val := range obj {
			item[k] = scalarString(val)
		}
		out = append(out, item)
	}
	return out
}

func scalarString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return ""
		}
		return string(b)
	}
}
