package ingest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseResultCallback_Success(t *testing.T) {
	result, err := ParseResultCallback(successPayload("AG_20250901_0001"))
	require.NoError(t, err)

	assert.Equal(t, "AG_20250901_0001", result.CorrelationID)
	assert.Equal(t, "0", result.ResultCode)
	assert.True(t, result.Success)
	assert.Equal(t, "The service request is processed successfully.", result.ResultDescription)

	require.True(t, result.HasBalances())
	require.NotNil(t, result.UtilityBalanceCents)
	assert.Equal(t, int64(4_500_050), *result.UtilityBalanceCents)
	require.NotNil(t, result.WorkingBalanceCents)
	assert.Equal(t, int64(120_000), *result.WorkingBalanceCents)
	require.NotNil(t, result.ChargesBalanceCents)
	assert.Zero(t, *result.ChargesBalanceCents)
}

func TestParseResultCallback_FailureCode(t *testing.T) {
	result, err := ParseResultCallback(failurePayload("AG_20250901_0002"))
	require.NoError(t, err)

	assert.False(t, result.Success)
	assert.Equal(t, "2001", result.ResultCode)

	// Short alias, string value.
	require.NotNil(t, result.UtilityBalanceCents)
	assert.Equal(t, int64(4_500_050), *result.UtilityBalanceCents)
	assert.Nil(t, result.WorkingBalanceCents)
}

func TestParseResultCallback_OccasionFallback(t *testing.T) {
	payload := []byte(`{
		"Result": {
			"ResultCode": 0,
			"ResultDesc": "ok",
			"Occasion": "AG_20250901_0003"
		}
	}`)
	result, err := ParseResultCallback(payload)
	require.NoError(t, err)
	assert.Equal(t, "AG_20250901_0003", result.CorrelationID)
	assert.False(t, result.HasBalances())
}

func TestParseResultCallback_FailsClosed(t *testing.T) {
	cases := []struct {
		name    string
		payload string
	}{
		{"not json", `%%%`},
		{"missing envelope", `{"status": "ok"}`},
		{"no conversation id", `{"Result": {"ResultCode": 0, "ResultDesc": "ok"}}`},
		{"missing result code", `{"Result": {"ConversationID": "AG_1", "ResultDesc": "ok"}}`},
		{"non-numeric balance", `{
			"Result": {
				"ResultCode": 0,
				"ConversationID": "AG_1",
				"ResultParameters": {"ResultParameter": [
					{"Key": "B2CUtilityAccountAvailableFunds", "Value": "not-a-number"}
				]}
			}
		}`},
		{"structured balance value", `{
			"Result": {
				"ResultCode": 0,
				"ConversationID": "AG_1",
				"ResultParameters": {"ResultParameter": [
					{"Key": "UtilityAccountAvailableFunds", "Value": {"amount": 100}}
				]}
			}
		}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseResultCallback([]byte(tc.payload))
			require.ErrorIs(t, err, ErrUnrecognizedPayload)
		})
	}
}

func TestParseResultCallback_TruncatesFractionalCents(t *testing.T) {
	payload := []byte(`{
		"Result": {
			"ResultCode": 0,
			"ConversationID": "AG_1",
			"ResultParameters": {"ResultParameter": [
				{"Key": "B2CUtilityAccountAvailableFunds", "Value": 10.999}
			]}
		}
	}`)
	result, err := ParseResultCallback(payload)
	require.NoError(t, err)
	require.NotNil(t, result.UtilityBalanceCents)
	assert.Equal(t, int64(1099), *result.UtilityBalanceCents)
}
