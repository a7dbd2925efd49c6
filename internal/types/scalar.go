package types

import (
	"fmt"
	"strings"

	"github.com/ARPA-SIMC/arkimet-sub008/internal/codec"
)

// --- Run -------------------------------------------------------------

const RunStyleMinute = "MINUTE"

const runByteMinute styleByte = iota

// Run is the run attribute: which model run (by time of day) produced the
// message.
type Run struct {
	style     string
	Hour, Min int
}

func (r Run) Code() Code    { return CodeRun }
func (r Run) Style() string { return r.style }
func (r Run) Compare(other Item) int {
	b := other.(Run)
	if r.Hour != b.Hour {
		if r.Hour < b.Hour {
			return -1
		}
		return 1
	}
	if r.Min != b.Min {
		if r.Min < b.Min {
			return -1
		}
		return 1
	}
	return 0
}
func (r Run) EncodePayload() []byte {
	buf := append([]byte{}, runByteMinute)
	buf = codec.AppendUint32(buf, uint32(r.Hour))
	return codec.AppendUint32(buf, uint32(r.Min))
}
func (r Run) WriteYAML() string { return fmt.Sprintf("MINUTE(%02d:%02d)", r.Hour, r.Min) }

// NewRunMinute builds a run attribute for a model run starting at hour:min.
func NewRunMinute(hour, min int) Run { return Run{style: RunStyleMinute, Hour: hour, Min: min} }

func decodeRun(version uint32, payload []byte) (Item, error) {
	_, rest, err := codec.ConsumeByte(payload)
	if err != nil {
		return nil, err
	}
	hour, rest, err := codec.ConsumeUint32(rest)
	if err != nil {
		return nil, err
	}
	min, _, err := codec.ConsumeUint32(rest)
	if err != nil {
		return nil, err
	}
	return NewRunMinute(int(hour), int(min)), nil
}

// --- Task --------------------------------------------------------------

// Task is a free-text task identifier attached by some scanners.
type Task struct{ Text string }

func (t Task) Code() Code    { return CodeTask }
func (t Task) Style() string { return "TASK" }
func (t Task) Compare(other Item) int {
	return compareStrings(t.Text, other.(Task).Text)
}
func (t Task) EncodePayload() []byte { return codec.AppendString(nil, t.Text) }
func (t Task) WriteYAML() string     { return fmt.Sprintf("%q", t.Text) }

// NewTask builds a task attribute.
func NewTask(text string) Task { return Task{Text: text} }

func decodeTask(version uint32, payload []byte) (Item, error) {
	s, _, err := codec.ConsumeString(payload)
	if err != nil {
		return nil, err
	}
	return NewTask(s), nil
}

// --- Quantity ------------------------------------------------------------

// Quantity is an ordered list of quantity names a message provides.
type Quantity struct{ Values []string }

func (q Quantity) Code() Code    { return CodeQuantity }
func (q Quantity) Style() string { return "QUANTITY" }
func (q Quantity) Compare(other Item) int {
	b := other.(Quantity)
	return strings.Compare(strings.Join(q.Values, ","), strings.Join(b.Values, ","))
}
func (q Quantity) EncodePayload() []byte {
	buf := codec.AppendUint32(nil, uint32(len(q.Values)))
	for _, v := range q.Values {
		buf = codec.AppendString(buf, v)
	}
	return buf
}
func (q Quantity) WriteYAML() string { return strings.Join(q.Values, ", ") }

// NewQuantity builds a quantity attribute from an ordered list of names.
func NewQuantity(values ...string) Quantity { return Quantity{Values: values} }

func decodeQuantity(version uint32, payload []byte) (Item, error) {
	count, rest, err := codec.ConsumeUint32(payload)
	if err != nil {
		return nil, err
	}
	values := make([]string, 0, count)
	for i := uint32(0); i < count; i++ {
		var v string
		v, rest, err = codec.ConsumeString(rest)
		if err != nil {
			return nil, err
		}
		values = append(values, v)
	}
	return NewQuantity(values...), nil
}

// --- Value (the "value" attribute code) -----------------------------------

// ValueAttr is the opaque per-format payload attribute: e.g. the raw text
// line from a VM2 record. It participates in `unique` but never in indexed
// columns.
type ValueAttr struct{ Raw []byte }

func (v ValueAttr) Code() Code    { return CodeValue }
func (v ValueAttr) Style() string { return "VALUE" }
func (v ValueAttr) Compare(other Item) int {
	b := other.(ValueAttr)
	return compareStrings(string(v.Raw), string(b.Raw))
}
func (v ValueAttr) EncodePayload() []byte { return codec.AppendString(nil, string(v.Raw)) }
func (v ValueAttr) WriteYAML() string     { return fmt.Sprintf("%q", string(v.Raw)) }

// NewValue builds a value attribute from an opaque byte payload.
func NewValue(raw []byte) ValueAttr { return ValueAttr{Raw: raw} }

func decodeValue(version uint32, payload []byte) (Item, error) {
	s, _, err := codec.ConsumeString(payload)
	if err != nil {
		return nil, err
	}
	return NewValue([]byte(s)), nil
}

// --- AssignedDataset
// -------------------------------------------------------

// AssignedDataset records which dataset owns a metadata after a successful
// acquire, and the stable id derived from its `unique` tuple.
type AssignedDataset struct {
	Name string
	ID   string
}

func (a AssignedDataset) Code() Code    { return CodeAssignedDataset }
func (a AssignedDataset) Style() string { return "ASSIGNEDDATASET" }
func (a AssignedDataset) Compare(other Item) int {
	b := other.(AssignedDataset)
	if c := compareStrings(a.Name, b.Name); c != 0 {
		return c
	}
	return compareStrings(a.ID, b.ID)
}
func (a AssignedDataset) EncodePayload() []byte {
	buf := codec.AppendString(nil, a.Name)
	return codec.AppendString(buf, a.ID)
}
func (a AssignedDataset) WriteYAML() string { return fmt.Sprintf("%s:%s", a.Name, a.ID) }

// NewAssignedDataset builds an assigned-dataset attribute.
func NewAssignedDataset(name, id string) AssignedDataset {
	return AssignedDataset{Name: name, ID: id}
}

func decodeAssignedDataset(version uint32, payload []byte) (Item, error) {
	name, rest, err := codec.ConsumeString(payload)
	if err != nil {
		return nil, err
	}
	id, _, err := codec.ConsumeString(rest)
	if err != nil {
		return nil, err
	}
	return NewAssignedDataset(name, id), nil
}

func init() {
	registerDecoder(CodeRun, decodeRun)
	registerDecoder(CodeTask, decodeTask)
	registerDecoder(CodeQuantity, decodeQuantity)
	registerDecoder(CodeValue, decodeValue)
	registerDecoder(CodeAssignedDataset, decodeAssignedDataset)
}
