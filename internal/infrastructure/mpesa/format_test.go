package mpesa

import (
	"encoding/base64"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizePhone(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "0712345678", want: "254712345678"},
		{in: "+254712345678", want: "254712345678"},
		{in: "254712345678", want: "254712345678"},
		{in: "0712 345 678", want: "254712345678"},
		{in: " +254 712 345 678 ", want: "254712345678"},
		{in: "0112345678", want: "254112345678"},
		{in: "071234567", wantErr: true},
		{in: "07123456789", wantErr: true},
		{in: "0712abc678", wantErr: true},
		{in: "+14155550100", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := NormalizePhone(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidPhone)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestWholeAmount(t *testing.T) {
	tests := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{in: "149.99", want: 149},
		{in: "250", want: 250},
		{in: "1.00", want: 1},
		{in: "0.99", wantErr: true},
		{in: "0", wantErr: true},
		{in: "-5", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := WholeAmount(decimal.RequireFromString(tt.in))
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidAmount)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPassword(t *testing.T) {
	// 2024-03-01 09:30:15 UTC is 12:30:15 in Nairobi.
	now := time.Date(2024, 3, 1, 9, 30, 15, 0, time.UTC)
	pw, ts := Password("174379", "passkey", now)

	assert.Equal(t, "20240301123015", ts)
	raw, err := base64.StdEncoding.DecodeString(pw)
	require.NoError(t, err)
	assert.Equal(t, "174379passkey20240301123015", string(raw))
}

func TestAccountReference(t *testing.T) {
	assert.Equal(t, "ORDER-3f2a9c1b", AccountReference("3f2a9c1b-77aa-4c1e-9d7e-1d2c3b4a5f60"))
	assert.Equal(t, "ORDER-O1", AccountReference("O1"))
}
