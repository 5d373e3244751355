package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/paymentvault/wallet-service/internal/api"
	"github.com/paymentvault/wallet-service/internal/api/middleware"
	"github.com/paymentvault/wallet-service/internal/config"
	"github.com/paymentvault/wallet-service/internal/domain"
	"github.com/paymentvault/wallet-service/internal/idempotency"
	"github.com/paymentvault/wallet-service/internal/ingest"
	"github.com/paymentvault/wallet-service/internal/otp"
	"github.com/paymentvault/wallet-service/internal/provider"
	"github.com/paymentvault/wallet-service/internal/reconcile"
	"github.com/paymentvault/wallet-service/internal/settlement"
	"github.com/paymentvault/wallet-service/internal/snapshot"
	"github.com/paymentvault/wallet-service/internal/wallet"
)

const (
	testJWTSecret   = "test-secret-0123456789-test-secret"
	testJWTIssuer   = "wallet-service-test"
	testJWTAudience = "wallet-api-test"
)

type apiFixture struct {
	handler http.Handler
	ledger  *wallet.Ledger
	tracker *settlement.Tracker
	otpSvc  *otp.Service
}

type stubAPIProvider struct{}

func (stubAPIProvider) Dispatch(_ context.Context, input provider.DispatchInput) (string, error) {
	return "AG_" + input.RequestID.String(), nil
}

func setupAPI(t *testing.T) *apiFixture {
	t.Helper()

	middleware.SetJWTSecret(testJWTSecret)
	middleware.SetJWTValidation(testJWTIssuer, testJWTAudience)

	mr := miniredis.RunT(t)
	redisClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = redisClient.Close() })

	ledger := wallet.NewLedger(wallet.NewMemoryStore(), nil)
	snapshots := snapshot.NewMemoryStore()
	otpSvc := otp.NewService(redisClient, nil)
	tracker := settlement.NewTracker(settlement.NewMemoryStore(), ledger, otpSvc, stubAPIProvider{})
	ingestor := ingest.NewIngestor(tracker, snapshots)
	idemStore := idempotency.NewStore(redisClient, time.Hour)

	cfg := &config.Config{
		HTTPPort:             "0",
		JWTSecret:            testJWTSecret,
		JWTIssuer:            testJWTIssuer,
		JWTAudience:          testJWTAudience,
		CallbackRateLimitRPS: 1000,
		PartnerRateLimitRPS:  1000,
		OTPRateLimitRPS:      1000,
		IdempotencyTTL:       time.Hour,
	}

	router := api.NewRouter(cfg, zap.NewNop(), nil, redisClient, ledger, reconcile.New(snapshots), tracker, otpSvc, ingestor, idemStore)
	return &apiFixture{
		handler: router.Routes(),
		ledger:  ledger,
		tracker: tracker,
		otpSvc:  otpSvc,
	}
}

func generateTestToken(partnerID string) string {
	return generateTokenWithRole(partnerID, "partner")
}

func generateTokenWithRole(partnerID, role string) string {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"partner_id": partnerID,
		"role":       role,
		"iss":        testJWTIssuer,
		"aud":        testJWTAudience,
		"sub":        partnerID,
		"iat":        now.Unix(),
		"nbf":        now.Add(-30 * time.Second).Unix(),
		"exp":        now.Add(time.Hour).Unix(),
	})
	signed, _ := token.SignedString([]byte(testJWTSecret))
	return signed
}

func (f *apiFixture) do(t *testing.T, method, path, token string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func (f *apiFixture) seedWallet(t *testing.T, partnerID uuid.UUID, cents int64) {
	t.Helper()
	_, err := f.ledger.Apply(context.Background(), wallet.ApplyInput{
		PartnerID:   partnerID,
		AmountCents: cents,
		Type:        domain.TxTypeTopUp,
		Reference:   "seed-" + partnerID.String(),
	})
	require.NoError(t, err)
}

func TestAuthRequired(t *testing.T) {
	f := setupAPI(t)

	rec := f.do(t, http.MethodGet, "/api/v1/settlements", "", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "application/problem+json")

	rec = f.do(t, http.MethodGet, "/api/v1/settlements", "not-a-jwt", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCreateSettlement(t *testing.T) {
	f := setupAPI(t)
	partnerID := uuid.New()
	token := generateTestToken(partnerID.String())
	f.seedWallet(t, partnerID, 1_000_000)

	body := map[string]any{
		"kind":         "disbursement",
		"amount_cents": 250_000,
		"target":       "254700000001",
	}
	headers := map[string]string{"Idempotency-Key": uuid.NewString()}

	rec := f.do(t, http.MethodPost, "/api/v1/settlements", token, body, headers)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var created struct {
		ID     uuid.UUID `json:"id"`
		Status string    `json:"status"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, domain.SettlementStatusPending, created.Status)

	// Replaying the same key returns the stored response without a
	// second request.
	rec = f.do(t, http.MethodPost, "/api/v1/settlements", token, body, headers)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "true", rec.Header().Get("X-Idempotent-Replay"))

	var replayed struct {
		ID uuid.UUID `json:"id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &replayed))
	assert.Equal(t, created.ID, replayed.ID)

	// Poll it back.
	rec = f.do(t, http.MethodGet, "/api/v1/settlements/"+created.ID.String(), token, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestCreateSettlementRequiresIdempotencyKey(t *testing.T) {
	f := setupAPI(t)
	token := generateTestToken(uuid.NewString())

	rec := f.do(t, http.MethodPost, "/api/v1/settlements", token, map[string]any{
		"kind":         "disbursement",
		"amount_cents": 1000,
		"target":       "254700000001",
	}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateSettlementValidation(t *testing.T) {
	f := setupAPI(t)
	token := generateTestToken(uuid.NewString())
	headers := map[string]string{"Idempotency-Key": uuid.NewString()}

	rec := f.do(t, http.MethodPost, "/api/v1/settlements", token, map[string]any{
		"kind":         "wire_transfer",
		"amount_cents": 1000,
		"target":       "254700000001",
	}, headers)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	headers["Idempotency-Key"] = uuid.NewString()
	rec = f.do(t, http.MethodPost, "/api/v1/settlements", token, map[string]any{
		"kind":         "disbursement",
		"amount_cents": -5,
		"target":       "254700000001",
	}, headers)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestFloatPurchaseRequiresOTP(t *testing.T) {
	f := setupAPI(t)
	partnerID := uuid.New()
	token := generateTestToken(partnerID.String())
	f.seedWallet(t, partnerID, 1_000_000)

	rec := f.do(t, http.MethodPost, "/api/v1/settlements", token, map[string]any{
		"kind":         "float_purchase",
		"amount_cents": 100_000,
		"target":       "600100",
	}, map[string]string{"Idempotency-Key": uuid.NewString()})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestSettlementOwnership(t *testing.T) {
	f := setupAPI(t)
	owner := uuid.New()
	f.seedWallet(t, owner, 1_000_000)

	created, err := f.tracker.RequestSettlement(context.Background(), settlement.RequestInput{
		PartnerID:   owner,
		Kind:        domain.SettlementKindDisbursement,
		AmountCents: 1000,
		Target:      "254700000001",
	})
	require.NoError(t, err)

	otherToken := generateTestToken(uuid.NewString())
	rec := f.do(t, http.MethodGet, "/api/v1/settlements/"+created.ID.String(), otherToken, nil, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	adminToken := generateTokenWithRole(uuid.NewString(), "admin")
	rec = f.do(t, http.MethodGet, "/api/v1/settlements/"+created.ID.String(), adminToken, nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRetryNotRetryable(t *testing.T) {
	f := setupAPI(t)
	partnerID := uuid.New()
	token := generateTestToken(partnerID.String())
	f.seedWallet(t, partnerID, 1_000_000)

	created, err := f.tracker.RequestSettlement(context.Background(), settlement.RequestInput{
		PartnerID:   partnerID,
		Kind:        domain.SettlementKindDisbursement,
		AmountCents: 1000,
		Target:      "254700000001",
	})
	require.NoError(t, err)

	rec := f.do(t, http.MethodPost, "/api/v1/settlements/"+created.ID.String()+"/retry", token, nil, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	// Force retries are admin-only.
	rec = f.do(t, http.MethodPost, "/api/v1/settlements/"+created.ID.String()+"/retry", token, map[string]any{"force": true}, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestWalletBalanceAndTransactions(t *testing.T) {
	f := setupAPI(t)
	partnerID := uuid.New()
	token := generateTestToken(partnerID.String())

	rec := f.do(t, http.MethodGet, "/api/v1/wallets/"+partnerID.String()+"/balance", token, nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	f.seedWallet(t, partnerID, 750_000)

	rec = f.do(t, http.MethodGet, "/api/v1/wallets/"+partnerID.String()+"/balance", token, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var balance struct {
		BalanceCents int64  `json:"balance_cents"`
		Currency     string `json:"currency"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &balance))
	assert.Equal(t, int64(750_000), balance.BalanceCents)
	assert.Equal(t, "KES", balance.Currency)

	rec = f.do(t, http.MethodGet, "/api/v1/wallets/"+partnerID.String()+"/transactions", token, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	// Partners cannot read each other's wallets.
	rec = f.do(t, http.MethodGet, "/api/v1/wallets/"+uuid.NewString()+"/balance", token, nil, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestAdjustmentsAdminOnly(t *testing.T) {
	f := setupAPI(t)
	partnerID := uuid.New()
	f.seedWallet(t, partnerID, 100_000)

	body := map[string]any{
		"amount_cents": 50_000,
		"reference":    "adj-001",
		"reason":       "reconciliation correction",
	}

	partnerToken := generateTestToken(partnerID.String())
	rec := f.do(t, http.MethodPost, "/api/v1/wallets/"+partnerID.String()+"/adjustments", partnerToken, body, map[string]string{"Idempotency-Key": uuid.NewString()})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	adminToken := generateTokenWithRole(uuid.NewString(), "admin")
	rec = f.do(t, http.MethodPost, "/api/v1/wallets/"+partnerID.String()+"/adjustments", adminToken, body, map[string]string{"Idempotency-Key": uuid.NewString()})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	account, err := f.ledger.Balance(context.Background(), partnerID)
	require.NoError(t, err)
	assert.Equal(t, int64(150_000), account.BalanceCents)
}

func TestRecordBalanceCheck(t *testing.T) {
	f := setupAPI(t)
	partnerID := uuid.New()
	f.seedWallet(t, partnerID, 500_000)

	body := map[string]any{
		"utility_balance_cents": int64(4_500_050),
		"working_balance_cents": int64(120_000),
	}

	partnerToken := generateTestToken(partnerID.String())
	rec := f.do(t, http.MethodPost, "/api/v1/wallets/"+partnerID.String()+"/balance-checks", partnerToken, body, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	adminToken := generateTokenWithRole(uuid.NewString(), "admin")
	rec = f.do(t, http.MethodPost, "/api/v1/wallets/"+partnerID.String()+"/balance-checks", adminToken, body, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	// The observation now surfaces on the balance read.
	rec = f.do(t, http.MethodGet, "/api/v1/wallets/"+partnerID.String()+"/balance", partnerToken, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		ProviderBalance *struct {
			UtilityCents int64  `json:"utility_cents"`
			Source       string `json:"source"`
			Freshness    string `json:"freshness"`
		} `json:"provider_balance"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotNil(t, resp.ProviderBalance)
	assert.Equal(t, int64(4_500_050), resp.ProviderBalance.UtilityCents)
	assert.Equal(t, domain.SnapshotSourceExplicitCheck, resp.ProviderBalance.Source)
	assert.Equal(t, domain.FreshnessFresh, resp.ProviderBalance.Freshness)
}

func TestOTPIssueAndValidate(t *testing.T) {
	f := setupAPI(t)
	partnerID := uuid.New()
	token := generateTestToken(partnerID.String())

	rec := f.do(t, http.MethodPost, "/api/v1/otp", token, map[string]any{
		"user_id":      uuid.NewString(),
		"purpose":      "float_purchase",
		"amount_cents": 200_000,
	}, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var challenge struct {
		Reference string `json:"reference"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &challenge))
	require.NotEmpty(t, challenge.Reference)

	stored, err := f.otpSvc.Get(context.Background(), challenge.Reference)
	require.NoError(t, err)

	wrongCode := "000000"
	if stored.Code == wrongCode {
		wrongCode = "000001"
	}
	rec = f.do(t, http.MethodPost, "/api/v1/otp/validate", token, map[string]any{
		"reference": challenge.Reference,
		"code":      wrongCode,
	}, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/v1/otp/validate", token, map[string]any{
		"reference": challenge.Reference,
		"code":      stored.Code,
	}, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCallbackEndpoints(t *testing.T) {
	f := setupAPI(t)

	req := httptest.NewRequest(http.MethodPost, "/callbacks/settlement", bytes.NewBufferString(`{"status":"ok"}`))
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	payload := `{"Result": {"ResultCode": 0, "ResultDesc": "ok", "ConversationID": "AG_unknown"}}`
	req = httptest.NewRequest(http.MethodPost, "/callbacks/settlement", bytes.NewBufferString(payload))
	rec = httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealthEndpoints(t *testing.T) {
	f := setupAPI(t)

	rec := f.do(t, http.MethodGet, "/healthz", "", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/readyz", "", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/openapi.yaml", "", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "yaml")
}
