package normalizer

import (
	"errors"
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeBarcode(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    string
		wantErr bool
	}{
		{name: "ean8", raw: "12345670", want: "00000012345670"},
		{name: "upc-a", raw: "036000291452", want: "00036000291452"},
		{name: "ean13", raw: "1234567890123", want: "01234567890123"},
		{name: "gtin14 passes through", raw: "01234567890123", want: "01234567890123"},
		{name: "separators stripped", raw: "1-234567-890123", want: "01234567890123"},
		{name: "whitespace stripped", raw: " 4006381 333931 ", want: "04006381333931"},
		{name: "empty means no barcode", raw: "", want: ""},
		{name: "blank means no barcode", raw: "   ", want: ""},
		{name: "too short", raw: "1234567", wantErr: true},
		{name: "between accepted lengths", raw: "12345678901", wantErr: true},
		{name: "too long", raw: "123456789012345", wantErr: true},
		{name: "letters only", raw: "ABCDEFGH", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeBarcode(tt.raw)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrInvalidBarcode))
				assert.Contains(t, err.Error(), "8, 12, 13 or 14")
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNormalizeBarcode_PadsEveryAcceptedLength(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for _, length := range []int{8, 12, 13} {
		for i := 0; i < 200; i++ {
			var b strings.Builder
			for j := 0; j < length; j++ {
				b.WriteByte(byte('0' + rng.Intn(10)))
			}
			raw := b.String()

			got, err := NormalizeBarcode(raw)
			require.NoError(t, err)
			assert.Len(t, got, GTIN14Length)
			assert.True(t, isGTIN14(got))
			assert.True(t, strings.HasSuffix(got, raw))
			assert.Equal(t, strings.Repeat("0", GTIN14Length-length), got[:GTIN14Length-length])
		}
	}
}

func TestNormalizeBarcode_Idempotent(t *testing.T) {
	inputs := []string{"12345670", "036000291452", "1234567890123", "01234567890123", "4006-381-333931"}
	for _, in := range inputs {
		once, err := NormalizeBarcode(in)
		require.NoError(t, err)
		twice, err := NormalizeBarcode(once)
		require.NoError(t, err)
		assert.Equal(t, once, twice, in)
	}
}

func TestNormalizeBarcode_CollidingForms(t *testing.T) {
	a, err := NormalizeBarcode("1234567890123")
	require.NoError(t, err)
	b, err := NormalizeBarcode("01234567890123")
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestPadIdentifier(t *testing.T) {
	assert.Equal(t, "000042", PadIdentifier("42", 6))
	assert.Equal(t, "1234567", PadIdentifier("1234567", 6))
}

func TestHandle(t *testing.T) {
	assert.Equal(t, "classic-cotton-t-shirt", Handle("Classic Cotton T-Shirt"))
	assert.Equal(t, "premium-wool-coat", Handle("  Premium  Wool Coat! "))
	assert.Equal(t, "", Handle("!!!"))
}
