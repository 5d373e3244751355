package ingest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/paymentvault/wallet-service/internal/domain"
)

// ErrUnrecognizedPayload means the callback body did not match any
// known provider shape. Unrecognized payloads are rejected, never
// interpreted as a zero result.
var ErrUnrecognizedPayload = errors.New("unrecognized callback payload")

// resultEnvelope is the provider's callback wrapper. Balance figures
// arrive as key/value result parameters whose key names vary across
// provider versions, so each concept lists its known aliases.
type resultEnvelope struct {
	Result *struct {
		ResultType               json.Number `json:"ResultType"`
		ResultCode               json.Number `json:"ResultCode"`
		ResultDesc               string      `json:"ResultDesc"`
		OriginatorConversationID string      `json:"OriginatorConversationID"`
		ConversationID           string      `json:"ConversationID"`
		TransactionID            string      `json:"TransactionID"`
		Occasion                 string      `json:"Occasion"`
		ResultParameters         *struct {
			ResultParameter []resultParameter `json:"ResultParameter"`
		} `json:"ResultParameters"`
	} `json:"Result"`
}

type resultParameter struct {
	Key   string `json:"Key"`
	Value any    `json:"Value"`
}

var (
	utilityBalanceKeys = []string{"B2CUtilityAccountAvailableFunds", "UtilityAccountAvailableFunds"}
	workingBalanceKeys = []string{"B2CWorkingAccountAvailableFunds", "WorkingAccountAvailableFunds"}
	chargesBalanceKeys = []string{"B2CChargesPaidAccountAvailableFunds", "ChargesPaidAccountAvailableFunds"}
)

// CallbackResult is the normalized form of one provider callback.
type CallbackResult struct {
	CorrelationID     string
	ResultCode        string
	ResultDescription string
	Success           bool

	// Balance figures in cents, present only when the payload carried
	// them.
	UtilityBalanceCents *int64
	WorkingBalanceCents *int64
	ChargesBalanceCents *int64
}

// HasBalances reports whether the payload carried any balance figure.
func (r *CallbackResult) HasBalances() bool {
	return r.UtilityBalanceCents != nil || r.WorkingBalanceCents != nil || r.ChargesBalanceCents != nil
}

// ParseResultCallback decodes a provider result callback, failing
// closed: a missing envelope, missing correlation id, or a non-numeric
// balance value is an error.
func ParseResultCallback(payload []byte) (*CallbackResult, error) {
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()

	var env resultEnvelope
	if err := dec.Decode(&env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnrecognizedPayload, err)
	}
	if env.Result == nil {
		return nil, fmt.Errorf("%w: missing Result envelope", ErrUnrecognizedPayload)
	}

	correlationID := env.Result.ConversationID
	if correlationID == "" {
		correlationID = env.Result.Occasion
	}
	if correlationID == "" {
		return nil, fmt.Errorf("%w: no conversation id", ErrUnrecognizedPayload)
	}

	code := env.Result.ResultCode.String()
	if code == "" {
		return nil, fmt.Errorf("%w: missing ResultCode", ErrUnrecognizedPayload)
	}

	result := &CallbackResult{
		CorrelationID:     correlationID,
		ResultCode:        code,
		ResultDescription: env.Result.ResultDesc,
		Success:           code == "0",
	}

	if env.Result.ResultParameters != nil {
		params := env.Result.ResultParameters.ResultParameter
		var err error
		if result.UtilityBalanceCents, err = balanceParam(params, utilityBalanceKeys); err != nil {
			return nil, err
		}
		if result.WorkingBalanceCents, err = balanceParam(params, workingBalanceKeys); err != nil {
			return nil, err
		}
		if result.ChargesBalanceCents, err = balanceParam(params, chargesBalanceKeys); err != nil {
			return nil, err
		}
	}

	return result, nil
}

// balanceParam finds the first parameter matching any alias and parses
// its value into cents.
func balanceParam(params []resultParameter, keys []string) (*int64, error) {
	for _, key := range keys {
		for _, param := range params {
			if param.Key != key {
				continue
			}
			cents, err := paramCents(param.Value)
			if err != nil {
				return nil, fmt.Errorf("%w: parameter %s: %v", ErrUnrecognizedPayload, key, err)
			}
			return &cents, nil
		}
	}
	return nil, nil
}

func paramCents(value any) (int64, error) {
	switch v := value.(type) {
	case json.Number:
		return domain.ParseCents(v.String())
	case string:
		return domain.ParseCents(v)
	default:
		return 0, fmt.Errorf("unsupported value type %T", value)
	}
}
