/*
Copyright © 2025 Cartlabs, Inc.

Released under MIT license.
*/

package log

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMaskerMask(t *testing.T) {
	masker := NewMasker(DefaultMasks)

	tests := []struct {
		Name string
		In   string
		Want string
	}{
		{
			Name: "authorization header",
			In:   "GET /v1/orders HTTP/1.1\r\nAuthorization: Bearer c2VjcmV0\r\nAccept: */*\r\n",
			Want: "GET /v1/orders HTTP/1.1\r\nAuthorization: ***\r\nAccept: */*\r\n",
		},
		{
			Name: "session token header",
			In:   "X-Session-Token: 0a1b2c3d\r\n",
			Want: "X-Session-Token: ***\r\n",
		},
		{
			Name: "password in json",
			In:   `{"email":"jo@example.com","password":"hunter2"}`,
			Want: `{"email":"jo@example.com","password": "***"}`,
		},
		{
			Name: "access token in url",
			In:   "connection refused: https://gw.example.com/v1/session?access_token=abc123&lang=en",
			Want: "connection refused: https://gw.example.com/v1/session?access_token=***&lang=en",
		},
		{
			Name: "card number in json",
			In:   `{"card_number":"4111111111111111","cvv":"123"}`,
			Want: `{"card_number": "***","cvv": "***"}`,
		},
		{
			Name: "nothing to mask",
			In:   `{"sku":"sku-123","qty":2}`,
			Want: `{"sku":"sku-123","qty":2}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.Name, func(t *testing.T) {
			require.Equal(t, tt.Want, masker.Mask(tt.In))
		})
	}
}

func TestMaskerCustomRule(t *testing.T) {
	masker := NewMasker([]MaskingRuleConfig{
		{Field: "gift_code", Formats: []FieldMaskFormat{FieldMaskFormatURLEncoded}},
	})
	require.Equal(t, "promo: gift_code=***", masker.Mask("promo: gift_code=XMAS-2025"))
}

func BenchmarkMaskerMaskNoSecrets(b *testing.B) {
	masker := NewMasker(DefaultMasks)
	s := fmt.Sprintf(`{"sku":%q,"qty":%d,"zone":"eu"}`, "sku-123", 2)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		masker.Mask(s)
	}
}
