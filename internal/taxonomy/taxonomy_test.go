package taxonomy

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_Catalog(t *testing.T) {
	tax := Default()
	require.NotNil(t, tax)

	attrs := tax.Attributes()
	require.Len(t, attrs, 5)
	assert.Equal(t, []string{"age_band", "gender", "setting", "region", "season"},
		[]string{attrs[0].Key, attrs[1].Key, attrs[2].Key, attrs[3].Key, attrs[4].Key})

	region, ok := tax.Attribute("region")
	require.True(t, ok)
	assert.Equal(t, []string{"north", "south", "east", "west", "middle_belt"}, region.Values())
	assert.Equal(t, "north", region.Default)

	age, _ := tax.Attribute("age_band")
	assert.Equal(t, "25-44", age.Default)
	assert.True(t, age.Allows("65+"))
	assert.False(t, age.Allows("70+"))

	groups := tax.Groups()
	require.Len(t, groups, 8)
	ids := make([]GroupID, len(groups))
	for i, g := range groups {
		ids[i] = g.ID
		assert.NotEmpty(t, g.Title)
		assert.NotEmpty(t, g.Fields)
	}
	assert.Equal(t, []GroupID{General, Gastrointestinal, Respiratory, Genitourinary,
		Metabolic, Neurological, Dermatological, Infection}, ids)

	assert.Equal(t, 41, tax.FieldCount())
	assert.Len(t, tax.OutcomeKeys(), 11)
	assert.True(t, tax.IsOutcome("malaria"))
	assert.True(t, tax.IsOutcome("healthy"))
	assert.False(t, tax.IsOutcome("influenza"))
}

func TestFields_FlattenPreservesOrder(t *testing.T) {
	tax := Default()

	var expected []string
	for _, g := range tax.Groups() {
		for _, f := range g.Fields {
			assert.Equal(t, g.ID, f.Group)
			expected = append(expected, f.Key)
		}
	}

	assert.Equal(t, expected, tax.FieldKeys())
	assert.Equal(t, "fever", expected[0])
	assert.Equal(t, "oral_thrush", expected[len(expected)-1])

	f, ok := tax.Field("rose_spots")
	require.True(t, ok)
	assert.Equal(t, Dermatological, f.Group)
	_, ok = tax.Field("sneezing")
	assert.False(t, ok)
}

func TestAccessorsReturnCopies(t *testing.T) {
	tax := Default()

	fields := tax.Fields()
	fields[0].Key = "mutated"
	groups := tax.Groups()
	groups[0].Fields[0].Label = "mutated"
	attrs := tax.Attributes()
	attrs[0].Options[0].Value = "mutated"

	assert.Equal(t, "fever", tax.Fields()[0].Key)
	assert.Equal(t, "Fever", tax.Groups()[0].Fields[0].Label)
	assert.Equal(t, "0-4", tax.Attributes()[0].Options[0].Value)
}

func TestNew_Rejections(t *testing.T) {
	gender := Attribute{Key: "gender", Options: []Option{{Value: "male"}, {Value: "female"}}, Default: "male"}

	tests := []struct {
		name    string
		attrs   []Attribute
		groups  []Group
		outs    []Outcome
		wantErr string
	}{
		{
			name: "duplicate field across groups",
			groups: []Group{
				{ID: General, Fields: []Field{{Key: "fever"}}},
				{ID: Respiratory, Fields: []Field{{Key: "fever"}}},
			},
			wantErr: `key "fever" defined in both group general and group respiratory`,
		},
		{
			name:    "field shadowing an attribute",
			attrs:   []Attribute{gender},
			groups:  []Group{{ID: General, Fields: []Field{{Key: "gender"}}}},
			wantErr: `key "gender" defined in both attributes and group general`,
		},
		{
			name:    "unknown group",
			groups:  []Group{{ID: "cardiac", Fields: []Field{{Key: "palpitations"}}}},
			wantErr: `unknown group "cardiac"`,
		},
		{
			name:    "group twice",
			groups:  []Group{{ID: General}, {ID: General}},
			wantErr: `group "general" defined twice`,
		},
		{
			name:    "empty field key",
			groups:  []Group{{ID: General, Fields: []Field{{Key: ""}}}},
			wantErr: "empty key",
		},
		{
			name:    "default outside options",
			attrs:   []Attribute{{Key: "season", Options: []Option{{Value: "dry"}}, Default: "wet"}},
			wantErr: `default "wet" is not an option`,
		},
		{
			name:    "no options",
			attrs:   []Attribute{{Key: "season"}},
			wantErr: "has no options",
		},
		{
			name:    "repeated option",
			attrs:   []Attribute{{Key: "season", Options: []Option{{Value: "dry"}, {Value: "dry"}}, Default: "dry"}},
			wantErr: `repeats option "dry"`,
		},
		{
			name:    "duplicate outcome",
			outs:    []Outcome{{Key: "malaria"}, {Key: "malaria"}},
			wantErr: `key "malaria"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.attrs, tt.groups, tt.outs)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestNew_DuplicateKeyErrorType(t *testing.T) {
	_, err := New(nil, []Group{
		{ID: General, Fields: []Field{{Key: "cough"}}},
		{ID: Respiratory, Fields: []Field{{Key: "cough"}}},
	}, nil)

	var dup *DuplicateKeyError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, "cough", dup.Key)
}

func TestLoad(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		doc := `
attributes:
  - key: season
    label: Season
    default: dry
    options:
      - {value: dry, label: Dry}
      - {value: rainy, label: Rainy}
groups:
  - id: general
    title: General
    fields:
      - {key: fever, label: Fever}
outcomes:
  - {key: malaria, label: Malaria}
`
		tax, err := Load(strings.NewReader(doc))
		require.NoError(t, err)
		assert.Equal(t, []string{"fever"}, tax.FieldKeys())
		assert.Equal(t, []string{"malaria"}, tax.OutcomeKeys())
	})

	t.Run("unknown key", func(t *testing.T) {
		_, err := Load(strings.NewReader("symptoms: []\n"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "decoding catalog")
	})

	t.Run("duplicate field", func(t *testing.T) {
		doc := `
groups:
  - id: general
    fields: [{key: fever}]
  - id: infection
    fields: [{key: fever}]
`
		_, err := Load(strings.NewReader(doc))
		var dup *DuplicateKeyError
		assert.ErrorAs(t, err, &dup)
	})
}
