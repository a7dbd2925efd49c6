package types

import "github.com/ARPA-SIMC/arkimet-sub008/internal/codec"

// Note is one entry of a metadata's ordered, append-only note sequence .
// Notes are distinct from attributes: they take part in metadata equality
// (Metadata.Equal compares the note sequence) but not in the `unique`
// projection.
type Note struct {
	Time Time
	Text string
}

// EncodeNotes serialises an ordered note sequence to bytes, used as the
// payload of the metadata record's notes sub-section.
func EncodeNotes(notes []Note) []byte {
	buf := codec.AppendUint32(nil, uint32(len(notes)))
	for _, n := range notes {
		buf = appendTime(buf, n.Time)
		buf = codec.AppendString(buf, n.Text)
	}
	return buf
}

// DecodeNotes parses a note sequence previously produced by EncodeNotes.
func DecodeNotes(buf []byte) ([]Note, error) {
	count, rest, err := codec.ConsumeUint32(buf)
	if err != nil {
		return nil, err
	}
	notes := make([]Note, 0, count)
	for i := uint32(0); i < count; i++ {
		var t Time
		t, rest, err = consumeTime(rest)
		if err != nil {
			return nil, err
		}
		var text string
		text, rest, err = codec.ConsumeString(rest)
		if err != nil {
			return nil, err
		}
		notes = append(notes, Note{Time: t, Text: text})
	}
	return notes, nil
}
