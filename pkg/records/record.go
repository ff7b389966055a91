package records

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/bytedance/sonic"
)

// Field names of the persisted record form.
const (
	FieldID            = "id"
	FieldEmail         = "recipient_email"
	FieldName          = "recipient_name"
	FieldInstitution   = "institution"
	FieldDateSent      = "date_sent"
	FieldFollowUpDates = "follow_up_dates"
	FieldNotes         = "notes"
	FieldLastUpdated   = "last_updated"
)

// Accepted aliases on decode. The record keeps the key it was read with.
var (
	emailAliases = []string{FieldEmail, "identity", "email"}
	nameAliases  = []string{FieldName, "name"}
)

// codec is the JSON configuration used for every record document.
var codec = sonic.ConfigStd

// Record is one contact/outreach entry.
//
// Timestamps are ISO-8601 date strings compared lexicographically;
// the empty string means the value is missing.
type Record struct {
	// Extra holds fields this package does not interpret, preserved verbatim.
	Extra map[string]json.RawMessage

	// present records which known fields appeared in the source document,
	// so that empty-but-present fields survive a round trip.
	present map[string]bool

	// ID is opaque (number or string) and written back exactly as read.
	ID json.RawMessage

	Email         string
	Name          string
	Institution   string
	DateSent      string
	Notes         string
	LastUpdated   string
	FollowUpDates []string

	emailKey string
	nameKey  string
}

// Key returns the identity key used for grouping: the lower-cased email.
func (r Record) Key() string {
	return strings.ToLower(r.Email)
}

// IDString renders the opaque id for display.
func (r Record) IDString() string {
	if len(r.ID) == 0 {
		return ""
	}
	var s string
	if err := codec.Unmarshal(r.ID, &s); err == nil {
		return s
	}
	return string(r.ID)
}

// Clone returns a deep copy of the record.
func (r Record) Clone() Record {
	c := r
	if r.ID != nil {
		c.ID = make(json.RawMessage, len(r.ID))
		copy(c.ID, r.ID)
	}
	if r.FollowUpDates != nil {
		c.FollowUpDates = make([]string, len(r.FollowUpDates))
		copy(c.FollowUpDates, r.FollowUpDates)
	}
	if r.Extra != nil {
		c.Extra = make(map[string]json.RawMessage, len(r.Extra))
		for k, v := range r.Extra {
			c.Extra[k] = append(json.RawMessage(nil), v...)
		}
	}
	if r.present != nil {
		c.present = make(map[string]bool, len(r.present))
		for k, v := range r.present {
			c.present[k] = v
		}
	}
	return c
}

func (r *Record) markPresent(field string) {
	if r.present == nil {
		r.present = make(map[string]bool)
	}
	r.present[field] = true
}

// UnmarshalJSON decodes a record, accepting field aliases and keeping unknown fields.
func (r *Record) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := codec.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("record is not an object: %w", err)
	}
	if raw == nil {
		return fmt.Errorf("record is null")
	}

	*r = Record{}

	takeString := func(key string, dst *string) error {
		v, ok := raw[key]
		if !ok {
			return nil
		}
		delete(raw, key)
		r.markPresent(key)
		if isNull(v) {
			return nil
		}
		if err := codec.Unmarshal(v, dst); err != nil {
			return fmt.Errorf("field %q: expected string: %w", key, err)
		}
		return nil
	}

	for _, alias := range emailAliases {
		if _, ok := raw[alias]; ok {
			r.emailKey = alias
			if err := takeString(alias, &r.Email); err != nil {
				return err
			}
			break
		}
	}
	for _, alias := range nameAliases {
		if _, ok := raw[alias]; ok {
			r.nameKey = alias
			if err := takeString(alias, &r.Name); err != nil {
				return err
			}
			break
		}
	}
	for key, dst := range map[string]*string{
		FieldInstitution: &r.Institution,
		FieldDateSent:    &r.DateSent,
		FieldNotes:       &r.Notes,
		FieldLastUpdated: &r.LastUpdated,
	} {
		if err := takeString(key, dst); err != nil {
			return err
		}
	}

	if v, ok := raw[FieldFollowUpDates]; ok {
		delete(raw, FieldFollowUpDates)
		r.markPresent(FieldFollowUpDates)
		if !isNull(v) {
			if err := codec.Unmarshal(v, &r.FollowUpDates); err != nil {
				return fmt.Errorf("field %q: expected list of strings: %w", FieldFollowUpDates, err)
			}
		}
	}

	if v, ok := raw[FieldID]; ok {
		delete(raw, FieldID)
		r.ID = append(json.RawMessage(nil), v...)
	}

	if len(raw) > 0 {
		r.Extra = raw
	}
	return nil
}

// MarshalJSON encodes the record with known fields first, in a fixed order,
// followed by preserved unknown fields sorted by key.
func (r Record) MarshalJSON() ([]byte, error) {
	w := &objectWriter{}

	if len(r.ID) > 0 {
		w.raw(FieldID, r.ID)
	}

	emailKey := r.emailKey
	if emailKey == "" {
		emailKey = FieldEmail
	}
	if err := w.value(emailKey, r.Email); err != nil {
		return nil, err
	}

	nameKey := r.nameKey
	if nameKey == "" {
		nameKey = FieldName
	}
	for _, f := range []struct {
		key   string
		field string
		val   string
	}{
		{nameKey, nameKey, r.Name},
		{FieldInstitution, FieldInstitution, r.Institution},
		{FieldDateSent, FieldDateSent, r.DateSent},
	} {
		if f.val != "" || r.present[f.field] {
			if err := w.value(f.key, f.val); err != nil {
				return nil, err
			}
		}
	}

	if len(r.FollowUpDates) > 0 || r.present[FieldFollowUpDates] {
		dates := r.FollowUpDates
		if dates == nil {
			dates = []string{}
		}
		if err := w.value(FieldFollowUpDates, dates); err != nil {
			return nil, err
		}
	}

	for _, f := range []struct {
		key string
		val string
	}{
		{FieldNotes, r.Notes},
		{FieldLastUpdated, r.LastUpdated},
	} {
		if f.val != "" || r.present[f.key] {
			if err := w.value(f.key, f.val); err != nil {
				return nil, err
			}
		}
	}

	keys := make([]string, 0, len(r.Extra))
	for k := range r.Extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		w.raw(k, r.Extra[k])
	}

	return w.close(), nil
}

// Document is the persisted collection: {"emails": [...], ...}.
type Document struct {
	// Extra holds top-level fields other than "emails", preserved verbatim.
	Extra  map[string]json.RawMessage
	Emails []Record
}

// UnmarshalJSON decodes the document. Each element of "emails" that cannot
// be decoded is reported as a *MalformedRecordError with its index.
func (d *Document) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := codec.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("records: document is not an object: %w", err)
	}

	*d = Document{}
	if v, ok := raw["emails"]; ok {
		delete(raw, "emails")
		if !isNull(v) {
			var elems []json.RawMessage
			if err := codec.Unmarshal(v, &elems); err != nil {
				return fmt.Errorf("records: \"emails\" is not a list: %w", err)
			}
			d.Emails = make([]Record, len(elems))
			for i, elem := range elems {
				if err := d.Emails[i].UnmarshalJSON(elem); err != nil {
					return &MalformedRecordError{Index: i, Reason: err.Error()}
				}
			}
		}
	}
	if len(raw) > 0 {
		d.Extra = raw
	}
	return nil
}

// MarshalJSON encodes the document with "emails" first.
func (d Document) MarshalJSON() ([]byte, error) {
	w := &objectWriter{}
	emails := d.Emails
	if emails == nil {
		emails = []Record{}
	}
	if err := w.value("emails", emails); err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(d.Extra))
	for k := range d.Extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		w.raw(k, d.Extra[k])
	}
	return w.close(), nil
}

// Clone returns a deep copy of the document.
func (d *Document) Clone() *Document {
	c := &Document{}
	if d.Emails != nil {
		c.Emails = make([]Record, len(d.Emails))
		for i := range d.Emails {
			c.Emails[i] = d.Emails[i].Clone()
		}
	}
	if d.Extra != nil {
		c.Extra = make(map[string]json.RawMessage, len(d.Extra))
		for k, v := range d.Extra {
			c.Extra[k] = append(json.RawMessage(nil), v...)
		}
	}
	return c
}

// objectWriter builds a JSON object with a deterministic key order.
type objectWriter struct {
	buf bytes.Buffer
}

func (w *objectWriter) key(k string) {
	if w.buf.Len() == 0 {
		w.buf.WriteByte('{')
	} else {
		w.buf.WriteByte(',')
	}
	b, _ := codec.Marshal(k)
	w.buf.Write(b)
	w.buf.WriteByte(':')
}

func (w *objectWriter) raw(k string, v json.RawMessage) {
	w.key(k)
	if len(v) == 0 {
		w.buf.WriteString("null")
		return
	}
	w.buf.Write(v)
}

func (w *objectWriter) value(k string, v interface{}) error {
	b, err := codec.Marshal(v)
	if err != nil {
		return fmt.Errorf("records: encode %q: %w", k, err)
	}
	w.key(k)
	w.buf.Write(b)
	return nil
}

func (w *objectWriter) close() []byte {
	if w.buf.Len() == 0 {
		return []byte("{}")
	}
	w.buf.WriteByte('}')
	return w.buf.Bytes()
}

func isNull(v json.RawMessage) bool {
	return string(bytes.TrimSpace(v)) == "null"
}
