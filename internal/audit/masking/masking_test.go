package masking

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMaskSecret(t *testing.T) {
	assert.Equal(t, "", MaskSecret("  "))
	assert.Equal(t, "****", MaskSecret("1234"))
	assert.Equal(t, "****7890", MaskSecret("UTR1234567890"))
	assert.Equal(t, "NEFT_****4321", MaskSecret("NEFT_0987654321"))
}

func TestMaskJSONOnlyTouchesSensitiveKeys(t *testing.T) {
	input := map[string]any{
		"amount":           "400.00",
		"mode":             "BANK_TRANSFER",
		"reference_number": "HDFC000123456",
		"payment": map[string]any{
			"cheque_number": "00044512",
			"note":          "first instalment",
		},
		"": "dropped",
	}

	got := MaskJSON(input)

	assert.Equal(t, "400.00", got["amount"])
	assert.Equal(t, "BANK_TRANSFER", got["mode"])
	assert.Equal(t, "****3456", got["reference_number"])
	nested := got["payment"].(map[string]any)
	assert.Equal(t, "****4512", nested["cheque_number"])
	assert.Equal(t, "first instalment", nested["note"])
	assert.NotContains(t, got, "")
	assert.Nil(t, MaskJSON(nil))
}
