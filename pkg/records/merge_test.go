package records

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeRecords(t *testing.T, src string) []Record {
	t.Helper()
	doc := &Document{}
	require.NoError(t, doc.UnmarshalJSON([]byte(`{"emails":`+src+`}`)))
	return doc.Emails
}

func TestMerge_CaseInsensitiveDuplicates(t *testing.T) {
	in := decodeRecords(t, `[
		{"id":1,"identity":"a@x.com","date_sent":"2024-01-05","follow_up_dates":[],"notes":"n1","last_updated":"2024-02-01"},
		{"id":2,"identity":"A@X.com","date_sent":"2024-01-10","follow_up_dates":["2024-01-20"],"notes":"n2","last_updated":"2024-02-10"}
	]`)

	out, report, err := Merge(in, MergeOptions{})
	require.NoError(t, err)
	require.Len(t, out, 1)

	got := out[0]
	assert.Equal(t, "2", got.IDString())
	assert.Equal(t, "2024-01-05", got.DateSent)
	assert.Equal(t, []string{"2024-01-10", "2024-01-20"}, got.FollowUpDates)
	assert.Equal(t, "n1\n---\nn2", got.Notes)
	assert.Equal(t, "A@X.com", got.Email, "canonical base keeps its own identity spelling")

	assert.Equal(t, 2, report.Input)
	assert.Equal(t, 1, report.Output)
	assert.Equal(t, 1, report.Removed())
	require.Len(t, report.Groups, 1)
	assert.Equal(t, "a@x.com", report.Groups[0].Key)
	assert.Equal(t, 2, report.Groups[0].Members)
}

func TestMerge_Idempotent(t *testing.T) {
	in := decodeRecords(t, `[
		{"id":1,"recipient_email":"a@x.com","date_sent":"2024-01-05","notes":"n1","last_updated":"2024-02-01"},
		{"id":2,"recipient_email":"b@x.com","date_sent":"2024-03-01","last_updated":"2024-03-02"},
		{"id":3,"recipient_email":"A@x.com","date_sent":"2024-01-09","follow_up_dates":["2024-01-12"],"last_updated":"2024-02-03"}
	]`)

	once, _, err := Merge(in, MergeOptions{})
	require.NoError(t, err)

	twice, report, err := Merge(once, MergeOptions{})
	require.NoError(t, err)
	assert.Equal(t, once, twice)
	assert.Empty(t, report.Groups)

	a, err := json.Marshal(once)
	require.NoError(t, err)
	b, err := json.Marshal(twice)
	require.NoError(t, err)
	assert.JSONEq(t, string(a), string(b))
}

func TestMerge_Cardinality(t *testing.T) {
	tests := []struct {
		name   string
		emails []string
		want   int
	}{
		{name: "no duplicates", emails: []string{"a@x", "b@x", "c@x"}, want: 3},
		{name: "all same key", emails: []string{"a@x", "A@X", "a@X"}, want: 1},
		{name: "mixed", emails: []string{"a@x", "b@x", "A@x", "c@x", "B@X"}, want: 3},
		{name: "single", emails: []string{"only@x"}, want: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := make([]Record, len(tt.emails))
			for i, e := range tt.emails {
				in[i] = Record{Email: e}
			}
			out, _, err := Merge(in, MergeOptions{})
			require.NoError(t, err)
			assert.Len(t, out, tt.want)
		})
	}
}

func TestMerge_OutputOrderFollowsFirstAppearance(t *testing.T) {
	in := []Record{
		{Email: "b@x", LastUpdated: "2024-01-01"},
		{Email: "a@x"},
		{Email: "B@x", LastUpdated: "2024-05-01"},
		{Email: "c@x"},
	}

	out, _, err := Merge(in, MergeOptions{})
	require.NoError(t, err)

	keys := make([]string, len(out))
	for i := range out {
		keys[i] = out[i].Key()
	}
	assert.Equal(t, []string{"b@x", "a@x", "c@x"}, keys)
}

func TestMerge_TimestampProperty(t *testing.T) {
	in := []Record{
		{Email: "p@x", DateSent: "2024-03-01", FollowUpDates: []string{"2024-03-05"}, LastUpdated: "2024-03-06"},
		{Email: "p@x", DateSent: "2024-02-01", FollowUpDates: []string{"2024-02-10", "2024-03-05"}, LastUpdated: "2024-02-11"},
		{Email: "P@x", DateSent: "", FollowUpDates: []string{"2024-04-01"}},
		{Email: "p@X", DateSent: "2024-05-01", LastUpdated: "2024-05-02"},
	}

	out, _, err := Merge(in, MergeOptions{})
	require.NoError(t, err)
	require.Len(t, out, 1)
	got := out[0]

	for _, r := range in {
		if r.DateSent != "" {
			assert.LessOrEqual(t, got.DateSent, r.DateSent)
			if r.DateSent != got.DateSent {
				assert.Contains(t, got.FollowUpDates, r.DateSent)
			}
		}
		for _, d := range r.FollowUpDates {
			assert.Contains(t, got.FollowUpDates, d)
		}
	}
	assert.IsNonDecreasing(t, got.FollowUpDates)

	seen := map[string]bool{}
	for _, d := range got.FollowUpDates {
		assert.False(t, seen[d], "duplicate follow-up %s", d)
		seen[d] = true
	}

	// Most recently updated record is the base
	assert.Equal(t, "2024-05-02", got.LastUpdated)
}

func TestMerge_MissingLastUpdatedSortsLast(t *testing.T) {
	in := []Record{
		{ID: json.RawMessage(`"no-date"`), Email: "a@x"},
		{ID: json.RawMessage(`"dated"`), Email: "a@x", LastUpdated: "2023-01-01"},
	}

	out, _, err := Merge(in, MergeOptions{})
	require.NoError(t, err)
	assert.Equal(t, "dated", out[0].IDString())
}

func TestMerge_LastUpdatedTieKeepsEncounterOrder(t *testing.T) {
	in := []Record{
		{ID: json.RawMessage(`1`), Email: "a@x", LastUpdated: "2024-01-01"},
		{ID: json.RawMessage(`2`), Email: "a@x", LastUpdated: "2024-01-01"},
	}

	out, _, err := Merge(in, MergeOptions{})
	require.NoError(t, err)
	assert.Equal(t, "1", out[0].IDString())
}

func TestMerge_AllDatesMissing(t *testing.T) {
	in := []Record{{Email: "a@x"}, {Email: "a@x"}}

	out, _, err := Merge(in, MergeOptions{})
	require.NoError(t, err)
	assert.Empty(t, out[0].DateSent)
	assert.Empty(t, out[0].FollowUpDates)

	b, err := json.Marshal(out[0])
	require.NoError(t, err)
	assert.Contains(t, string(b), `"follow_up_dates":[]`)
}

func TestMerge_KeepsRecordedFollowUpEqualToPrimary(t *testing.T) {
	in := decodeRecords(t, `[
		{"id":1,"recipient_email":"a@x.com","date_sent":"2024-01-10","follow_up_dates":["2024-01-05"],"last_updated":"2024-02-10"},
		{"id":2,"recipient_email":"a@x.com","date_sent":"2024-01-05","last_updated":"2024-02-01"}
	]`)

	out, _, err := Merge(in, MergeOptions{})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "1", out[0].IDString())
	assert.Equal(t, "2024-01-05", out[0].DateSent)
	assert.Equal(t, []string{"2024-01-05", "2024-01-10"}, out[0].FollowUpDates)
}

func TestMerge_NotesInEncounterOrderWithoutDedup(t *testing.T) {
	in := []Record{
		{Email: "a@x", Notes: "first", LastUpdated: "2024-01-01"},
		{Email: "a@x", Notes: ""},
		{Email: "a@x", Notes: "same", LastUpdated: "2024-09-01"},
		{Email: "a@x", Notes: "same"},
	}

	out, _, err := Merge(in, MergeOptions{})
	require.NoError(t, err)
	assert.Equal(t, strings.Join([]string{"first", "same", "same"}, NotesDelimiter), out[0].Notes)
}

func TestMerge_LongestNameAndInstitution(t *testing.T) {
	tests := []struct {
		name     string
		records  []Record
		wantName string
		wantInst string
	}{
		{
			name: "longest wins over recency",
			records: []Record{
				{Email: "a@x", Name: "Dr. Ada Lovelace", Institution: "UCL", LastUpdated: "2024-01-01"},
				{Email: "a@x", Name: "Ada", Institution: "University College London", LastUpdated: "2024-06-01"},
			},
			wantName: "Dr. Ada Lovelace",
			wantInst: "University College London",
		},
		{
			name: "tie goes to first encountered",
			records: []Record{
				{Email: "a@x", Name: "Anna", LastUpdated: "2024-01-01"},
				{Email: "a@x", Name: "Hana", LastUpdated: "2024-06-01"},
			},
			wantName: "Anna",
		},
		{
			name: "empty values keep base",
			records: []Record{
				{Email: "a@x", LastUpdated: "2024-01-01"},
				{Email: "a@x", LastUpdated: "2024-06-01"},
			},
		},
		{
			name: "length counts characters",
			records: []Record{
				{Email: "a@x", Name: "Zoë Ångström"},
				{Email: "a@x", Name: "Zoe Angstrom"},
			},
			wantName: "Zoë Ångström",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, _, err := Merge(tt.records, MergeOptions{})
			require.NoError(t, err)
			require.Len(t, out, 1)
			assert.Equal(t, tt.wantName, out[0].Name)
			assert.Equal(t, tt.wantInst, out[0].Institution)
		})
	}
}

func TestMerge_MissingIdentity(t *testing.T) {
	in := []Record{{Email: "a@x"}, {Email: ""}, {Email: "b@x"}}

	out, _, err := Merge(in, MergeOptions{})
	assert.Nil(t, out)
	require.ErrorIs(t, err, ErrMalformedRecord)

	var mre *MalformedRecordError
	require.ErrorAs(t, err, &mre)
	assert.Equal(t, 1, mre.Index)
}

func TestMerge_EmptyCollection(t *testing.T) {
	out, report, err := Merge(nil, MergeOptions{})
	require.NoError(t, err)
	assert.Empty(t, out)
	assert.Equal(t, 0, report.Output)

	_, _, err = Merge([]Record{}, MergeOptions{RequireNonEmpty: true})
	assert.ErrorIs(t, err, ErrEmptyCollection)
}

func TestMerge_DoesNotModifyInput(t *testing.T) {
	in := []Record{
		{Email: "a@x", DateSent: "2024-01-02", FollowUpDates: []string{"2024-01-03"}, LastUpdated: "2024-01-04"},
		{Email: "a@x", DateSent: "2024-01-01", LastUpdated: "2024-01-05"},
	}
	snapshot := []Record{in[0].Clone(), in[1].Clone()}

	_, _, err := Merge(in, MergeOptions{})
	require.NoError(t, err)
	assert.Equal(t, snapshot, in)
}

func TestMerge_PreservesUnknownFields(t *testing.T) {
	in := decodeRecords(t, `[
		{"id":"x1","recipient_email":"a@x","status":"replied","last_updated":"2024-02-01"},
		{"id":"x2","recipient_email":"a@x","status":"sent","last_updated":"2024-01-01"}
	]`)

	out, _, err := Merge(in, MergeOptions{})
	require.NoError(t, err)
	assert.JSONEq(t, `"replied"`, string(out[0].Extra["status"]))
}
