package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/moltmarket/bench-engine/internal/benchmark"
	"github.com/moltmarket/bench-engine/internal/identity"
	"github.com/moltmarket/bench-engine/internal/model"
	"github.com/moltmarket/bench-engine/internal/oracle"
	"github.com/moltmarket/bench-engine/internal/ratelimit"
	"github.com/moltmarket/bench-engine/internal/store"
)

// fakeMarketSource serves canned markets without touching the network.
type fakeMarketSource struct {
	markets map[string]model.MarketView
	books   map[string]model.OrderBook
}

func (f *fakeMarketSource) ListMarkets(_ context.Context, _ oracle.ListFilter) ([]model.MarketView, error) {
	out := make([]model.MarketView, 0, len(f.markets))
	for _, m := range f.markets {
		out = append(out, m)
	}
	return out, nil
}

func (f *fakeMarketSource) FetchMarket(_ context.Context, conditionID string) (*model.MarketView, error) {
	m, ok := f.markets[conditionID]
	if !ok {
		return nil, oracle.ErrMarketNotFound
	}
	return &m, nil
}

func (f *fakeMarketSource) GetEvent(_ context.Context, eventID string) (*model.Event, error) {
	return &model.Event{ID: eventID, Title: "Test event"}, nil
}

func (f *fakeMarketSource) FetchOrderBooks(_ context.Context, tokenIDs []string) (map[string]model.OrderBook, error) {
	out := make(map[string]model.OrderBook)
	for _, id := range tokenIDs {
		if b, ok := f.books[id]; ok {
			out[id] = b
		}
	}
	return out, nil
}

// openResolution keeps every market unresolved so reads never settle.
type openResolution struct{}

func (openResolution) FetchResolution(_ context.Context, _ string) (model.Resolution, error) {
	return model.Resolution{Closed: false}, nil
}

func newTestService(t *testing.T, maxPerHour int64) (*Service, *store.MemoryStore) {
	t.Helper()
	ms := store.NewMemoryStore()
	src := &fakeMarketSource{
		markets: map[string]model.MarketView{
			"0xmarket": {
				ConditionID: "0xmarket",
				Question:    "Will the test pass?",
				Active:      true,
				YesPrice:    decimal.NewFromFloat(0.65),
				NoPrice:     decimal.NewFromFloat(0.35),
			},
		},
	}
	agg := benchmark.NewAggregator(ms, openResolution{})
	svc := NewService(ms, src, agg, ratelimit.NewQuota(maxPerHour), nil)
	return svc, ms
}

func newAgentWithKey(t *testing.T, ms *store.MemoryStore, id, name string) (model.Agent, string) {
	t.Helper()
	key, hash, err := identity.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	agent := model.Agent{
		ID:         id,
		Name:       name,
		APIKeyHash: hash,
		Status:     "active",
		CreatedAt:  time.Now().UTC(),
	}
	if err := ms.CreateAgent(context.Background(), &agent); err != nil {
		t.Fatalf("CreateAgent: %v", err)
	}
	return agent, key
}

// testEnvelope mirrors the wire response shape for decoding in assertions.
type testEnvelope struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type testToolResult struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	IsError bool `json:"isError"`
}

func postRPC(t *testing.T, svc *Service, body, apiKey string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/mcp", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}
	rec := httptest.NewRecorder()
	svc.HandleRPC(rec, req)
	return rec
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) testEnvelope {
	t.Helper()
	var env testEnvelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode response: %v (body %q)", err, rec.Body.String())
	}
	return env
}

func callTool(t *testing.T, svc *Service, tool, args, apiKey string) testToolResult {
	t.Helper()
	body := fmt.Sprintf(`{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":%q,"arguments":%s}}`, tool, args)
	rec := postRPC(t, svc, body, apiKey)
	if rec.Code != http.StatusOK {
		t.Fatalf("tools/call status = %d, want 200", rec.Code)
	}
	env := decodeEnvelope(t, rec)
	if env.Error != nil {
		t.Fatalf("unexpected protocol error: %+v", env.Error)
	}
	var res testToolResult
	if err := json.Unmarshal(env.Result, &res); err != nil {
		t.Fatalf("decode tool result: %v", err)
	}
	if len(res.Content) == 0 {
		t.Fatal("tool result has no content")
	}
	return res
}

func TestRegisterAgent(t *testing.T) {
	svc, _ := newTestService(t, 0)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/agents/register",
		strings.NewReader(`{"name":"test-agent","description":"a test"}`))
	rec := httptest.NewRecorder()
	svc.RegisterAgent(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %s", rec.Code, rec.Body.String())
	}
	var resp RegisterResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !strings.HasPrefix(resp.APIKey, identity.KeyPrefix) {
		t.Errorf("api key %q missing prefix", resp.APIKey)
	}
	if resp.Agent.ID == "" || resp.Agent.Color == "" {
		t.Errorf("agent not fully populated: %+v", resp.Agent)
	}
	if resp.Agent.APIKeyHash != "" {
		t.Error("key hash must not be serialized")
	}
}

func TestRegisterAgent_InvalidName(t *testing.T) {
	svc, _ := newTestService(t, 0)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/agents/register",
		strings.NewReader(`{"name":"-bad name-"}`))
	rec := httptest.NewRecorder()
	svc.RegisterAgent(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestRegisterAgent_DuplicateName(t *testing.T) {
	svc, _ := newTestService(t, 0)

	for i, want := range []int{http.StatusCreated, http.StatusConflict} {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/agents/register",
			strings.NewReader(`{"name":"taken"}`))
		rec := httptest.NewRecorder()
		svc.RegisterAgent(rec, req)
		if rec.Code != want {
			t.Fatalf("attempt %d: status = %d, want %d", i+1, rec.Code, want)
		}
	}
}

func TestRPC_Initialize(t *testing.T) {
	svc, _ := newTestService(t, 0)

	rec := postRPC(t, svc, `{"jsonrpc":"2.0","id":1,"method":"initialize"}`, "")
	env := decodeEnvelope(t, rec)
	if env.Error != nil {
		t.Fatalf("unexpected error: %+v", env.Error)
	}

	var result struct {
		ProtocolVersion string `json:"protocolVersion"`
		ServerInfo      struct {
			Name string `json:"name"`
		} `json:"serverInfo"`
	}
	if err := json.Unmarshal(env.Result, &result); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if result.ProtocolVersion != protocolVersion {
		t.Errorf("protocolVersion = %q, want %q", result.ProtocolVersion, protocolVersion)
	}
	if result.ServerInfo.Name != serverName {
		t.Errorf("server name = %q, want %q", result.ServerInfo.Name, serverName)
	}
}

func TestRPC_MethodNotFound(t *testing.T) {
	svc, _ := newTestService(t, 0)

	rec := postRPC(t, svc, `{"jsonrpc":"2.0","id":5,"method":"no/such/method"}`, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	env := decodeEnvelope(t, rec)
	if env.Error == nil || env.Error.Code != codeMethodNotFound {
		t.Fatalf("want code %d, got %+v", codeMethodNotFound, env.Error)
	}
}

func TestRPC_MalformedJSON(t *testing.T) {
	svc, _ := newTestService(t, 0)

	rec := postRPC(t, svc, `{not json`, "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	env := decodeEnvelope(t, rec)
	if env.Error == nil || env.Error.Code != codeParseError {
		t.Fatalf("want code %d, got %+v", codeParseError, env.Error)
	}
}

func TestRPC_BatchPreservesOrder(t *testing.T) {
	svc, _ := newTestService(t, 0)

	body := `[
		{"jsonrpc":"2.0","id":1,"method":"ping"},
		{"jsonrpc":"2.0","id":2,"method":"bogus"},
		{"jsonrpc":"2.0","id":3,"method":"tools/list"}
	]`
	rec := postRPC(t, svc, body, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var envs []testEnvelope
	if err := json.Unmarshal(rec.Body.Bytes(), &envs); err != nil {
		t.Fatalf("decode batch: %v", err)
	}
	if len(envs) != 3 {
		t.Fatalf("got %d responses, want 3", len(envs))
	}
	for i, wantID := range []string{"1", "2", "3"} {
		if string(envs[i].ID) != wantID {
			t.Errorf("response %d has id %s, want %s", i, envs[i].ID, wantID)
		}
	}
	if envs[0].Error != nil {
		t.Errorf("ping failed: %+v", envs[0].Error)
	}
	if envs[1].Error == nil || envs[1].Error.Code != codeMethodNotFound {
		t.Errorf("bogus method: got %+v", envs[1].Error)
	}
	if envs[2].Error != nil {
		t.Errorf("tools/list failed: %+v", envs[2].Error)
	}
}

func TestRPC_ToolsList(t *testing.T) {
	svc, _ := newTestService(t, 0)

	rec := postRPC(t, svc, `{"jsonrpc":"2.0","id":1,"method":"tools/list"}`, "")
	env := decodeEnvelope(t, rec)

	var result struct {
		Tools []struct {
			Name string `json:"name"`
		} `json:"tools"`
	}
	if err := json.Unmarshal(env.Result, &result); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if len(result.Tools) != len(toolDefs) {
		t.Fatalf("got %d tools, want %d", len(result.Tools), len(toolDefs))
	}
}

func TestToolsCall_UnknownTool(t *testing.T) {
	svc, _ := newTestService(t, 0)

	res := callTool(t, svc, "no_such_tool", `{}`, "")
	if !res.IsError {
		t.Fatal("unknown tool must yield an isError result, not success")
	}
	if !strings.Contains(res.Content[0].Text, "unknown tool") {
		t.Errorf("unexpected error text: %q", res.Content[0].Text)
	}
}

func TestSubmitPrediction_RequiresAuth(t *testing.T) {
	svc, ms := newTestService(t, 0)

	args := `{"market_id":"0xmarket","side":"yes","confidence":0.8}`

	res := callTool(t, svc, "submit_prediction", args, "")
	if !res.IsError {
		t.Fatal("missing credential must fail")
	}
	if !strings.Contains(res.Content[0].Text, "authentication required") {
		t.Errorf("unexpected error text: %q", res.Content[0].Text)
	}

	// A well-formed but unknown key reads exactly the same.
	res = callTool(t, svc, "submit_prediction", args, identity.KeyPrefix+strings.Repeat("ab", 32))
	if !res.IsError || !strings.Contains(res.Content[0].Text, "authentication required") {
		t.Errorf("unknown key: got %q", res.Content[0].Text)
	}

	// Nothing was written on either failure.
	trades, err := ms.ListRecentTrades(context.Background(), 10)
	if err != nil {
		t.Fatalf("ListRecentTrades: %v", err)
	}
	if len(trades) != 0 {
		t.Errorf("got %d trades, want 0", len(trades))
	}
}

func TestSubmitPrediction_Validation(t *testing.T) {
	svc, ms := newTestService(t, 0)
	_, key := newAgentWithKey(t, ms, "agent-1", "alpha")

	cases := []struct {
		name string
		args string
		want string
	}{
		{"missing market", `{"side":"yes","confidence":0.5}`, "market_id is required"},
		{"bad side", `{"market_id":"0xmarket","side":"maybe","confidence":0.5}`, "side must be"},
		{"missing confidence", `{"market_id":"0xmarket","side":"yes"}`, "confidence is required"},
		{"confidence too high", `{"market_id":"0xmarket","side":"yes","confidence":1.5}`, "between 0 and 1"},
		{"qty out of range", `{"market_id":"0xmarket","side":"yes","confidence":0.5,"qty":20000}`, "between 1 and 10000"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res := callTool(t, svc, "submit_prediction", tc.args, key)
			if !res.IsError {
				t.Fatal("want isError result")
			}
			if !strings.Contains(res.Content[0].Text, tc.want) {
				t.Errorf("error %q does not mention %q", res.Content[0].Text, tc.want)
			}
		})
	}
}

func TestSubmitPrediction_Success(t *testing.T) {
	svc, ms := newTestService(t, 0)
	agent, key := newAgentWithKey(t, ms, "agent-1", "alpha")

	res := callTool(t, svc, "submit_prediction",
		`{"market_id":"0xmarket","side":"YES","confidence":0.8}`, key)
	if res.IsError {
		t.Fatalf("submit failed: %s", res.Content[0].Text)
	}

	var trade model.Trade
	if err := json.Unmarshal([]byte(res.Content[0].Text), &trade); err != nil {
		t.Fatalf("decode trade: %v", err)
	}
	if trade.AgentID != agent.ID {
		t.Errorf("agent id = %q, want %q", trade.AgentID, agent.ID)
	}
	if trade.Side != model.SideYes {
		t.Errorf("side = %q, want normalized %q", trade.Side, model.SideYes)
	}
	if trade.Qty != 80 {
		t.Errorf("qty = %d, want 80 (confidence*100)", trade.Qty)
	}
	if trade.PriceAtSubmit == nil || !trade.PriceAtSubmit.Equal(decimal.NewFromFloat(0.65)) {
		t.Errorf("price_at_submit = %v, want 0.65", trade.PriceAtSubmit)
	}

	stored, err := ms.GetTrade(context.Background(), trade.ID)
	if err != nil {
		t.Fatalf("trade not persisted: %v", err)
	}
	if stored.Resolved {
		t.Error("fresh trade must be unresolved")
	}
}

func TestSubmitPrediction_UnknownMarketStillRecords(t *testing.T) {
	svc, ms := newTestService(t, 0)
	_, key := newAgentWithKey(t, ms, "agent-1", "alpha")

	// Price lookup fails but the submission is accepted without a price.
	res := callTool(t, svc, "submit_prediction",
		`{"market_id":"0xnowhere","side":"no","confidence":0.6,"qty":5}`, key)
	if res.IsError {
		t.Fatalf("submit failed: %s", res.Content[0].Text)
	}
	var trade model.Trade
	if err := json.Unmarshal([]byte(res.Content[0].Text), &trade); err != nil {
		t.Fatalf("decode trade: %v", err)
	}
	if trade.PriceAtSubmit != nil {
		t.Errorf("price_at_submit = %v, want absent", trade.PriceAtSubmit)
	}
}

func TestSubmitPrediction_RateLimitBoundary(t *testing.T) {
	svc, ms := newTestService(t, 2)
	_, key := newAgentWithKey(t, ms, "agent-1", "alpha")

	base := time.Date(2026, 3, 1, 10, 30, 0, 0, time.UTC)
	svc.now = func() time.Time { return base }

	args := `{"market_id":"0xmarket","side":"yes","confidence":0.7}`
	for i := 0; i < 2; i++ {
		if res := callTool(t, svc, "submit_prediction", args, key); res.IsError {
			t.Fatalf("submit %d rejected: %s", i+1, res.Content[0].Text)
		}
	}

	res := callTool(t, svc, "submit_prediction", args, key)
	if !res.IsError {
		t.Fatal("third submit in the hour must be rejected")
	}
	if !strings.Contains(res.Content[0].Text, "quota exceeded") {
		t.Errorf("unexpected error text: %q", res.Content[0].Text)
	}

	// The next hour opens a fresh bucket.
	svc.now = func() time.Time { return base.Add(time.Hour) }
	if res := callTool(t, svc, "submit_prediction", args, key); res.IsError {
		t.Fatalf("next-hour submit rejected: %s", res.Content[0].Text)
	}
}

func TestGetMyTrades_OwnerScoped(t *testing.T) {
	svc, ms := newTestService(t, 0)
	_, keyA := newAgentWithKey(t, ms, "agent-a", "alpha")
	_, keyB := newAgentWithKey(t, ms, "agent-b", "beta")

	args := `{"market_id":"0xmarket","side":"yes","confidence":0.6}`
	for i := 0; i < 2; i++ {
		if res := callTool(t, svc, "submit_prediction", args, keyA); res.IsError {
			t.Fatalf("submit as alpha: %s", res.Content[0].Text)
		}
	}
	if res := callTool(t, svc, "submit_prediction", args, keyB); res.IsError {
		t.Fatalf("submit as beta: %s", res.Content[0].Text)
	}

	res := callTool(t, svc, "get_my_trades", `{}`, keyA)
	if res.IsError {
		t.Fatalf("get_my_trades failed: %s", res.Content[0].Text)
	}
	var trades []model.Trade
	if err := json.Unmarshal([]byte(res.Content[0].Text), &trades); err != nil {
		t.Fatalf("decode trades: %v", err)
	}
	if len(trades) != 2 {
		t.Fatalf("got %d trades, want 2", len(trades))
	}
	for _, tr := range trades {
		if tr.AgentID != "agent-a" {
			t.Errorf("foreign trade leaked: %+v", tr)
		}
	}
}

func TestGetMarketPrice_OrderBookFallback(t *testing.T) {
	svc, _ := newTestService(t, 0)
	src := svc.oracle.(*fakeMarketSource)
	src.markets["0xthin"] = model.MarketView{
		ConditionID: "0xthin",
		Question:    "Thinly traded",
		Active:      true,
		Tokens:      []model.MarketToken{{TokenID: "tok-1", Outcome: "Yes"}},
	}
	src.books = map[string]model.OrderBook{
		"tok-1": {
			TokenID: "tok-1",
			Bids:    []model.BookLevel{{Price: decimal.NewFromFloat(0.30), Size: decimal.NewFromInt(10)}},
			Asks:    []model.BookLevel{{Price: decimal.NewFromFloat(0.40), Size: decimal.NewFromInt(10)}},
		},
	}

	res := callTool(t, svc, "get_market_price", `{"condition_id":"0xthin"}`, "")
	if res.IsError {
		t.Fatalf("get_market_price failed: %s", res.Content[0].Text)
	}
	var m model.MarketView
	if err := json.Unmarshal([]byte(res.Content[0].Text), &m); err != nil {
		t.Fatalf("decode market: %v", err)
	}
	if !m.YesPrice.Equal(decimal.NewFromFloat(0.35)) {
		t.Errorf("yes price = %s, want 0.35 from book midpoint", m.YesPrice)
	}
}

func TestHandleInfo(t *testing.T) {
	svc, _ := newTestService(t, 0)

	req := httptest.NewRequest(http.MethodGet, "/mcp", nil)
	rec := httptest.NewRecorder()
	svc.HandleInfo(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var info struct {
		Name  string   `json:"name"`
		Tools []string `json:"tools"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &info); err != nil {
		t.Fatalf("decode info: %v", err)
	}
	if info.Name != serverName {
		t.Errorf("name = %q, want %q", info.Name, serverName)
	}
	if len(info.Tools) != len(toolDefs) {
		t.Errorf("got %d tools, want %d", len(info.Tools), len(toolDefs))
	}
}
