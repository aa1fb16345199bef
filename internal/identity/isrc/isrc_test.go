package isrc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeAcceptsCanonicalForms(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "FRZ031400123", "FRZ031400123"},
		{"dashed", "FR-Z03-14-00123", "FRZ031400123"},
		{"lowercase", "frz031400123", "FRZ031400123"},
		{"spaced", " FR Z03 14 00123 ", "FRZ031400123"},
		{"senegal", "SNA011500042", "SNA011500042"},
		{"us registrant pool", "QM6MZ2109371", "QM6MZ2109371"},
		{"international pool", "ZZOPM2281234", "ZZOPM2281234"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := Normalize(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNormalizeRejectsInvalidCodes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		in      string
		wantErr error
	}{
		{"too short", "FRZ03140012", ErrInvalidLength},
		{"too long", "FRZ0314001234", ErrInvalidLength},
		{"digit country", "1RZ031400123", ErrInvalidFormat},
		{"letters in designation", "FRZ03140012A", ErrInvalidFormat},
		{"unassigned country", "XXZ031400123", ErrInvalidCountry},
		{"empty", "", ErrInvalidLength},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := Normalize(tt.in)
			require.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestValid(t *testing.T) {
	t.Parallel()

	assert.True(t, Valid("FRZ031400123"))
	assert.False(t, Valid("not-an-isrc"))
}
