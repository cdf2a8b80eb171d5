package status

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tungnguyentu/trade/account"
	"github.com/tungnguyentu/trade/metrics"
	"github.com/tungnguyentu/trade/regime"
	"github.com/tungnguyentu/trade/types"
)

type fakeSource struct {
	acct    account.Summary
	regimes []regime.State
}

func (f fakeSource) Account() account.Summary { return f.acct }
func (f fakeSource) Regimes() []regime.State  { return f.regimes }

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestRouter(t *testing.T) {
	gin.SetMode(gin.TestMode)
	src := fakeSource{
		acct:    account.Summary{Equity: 9_500, Peak: 10_000, Drawdown: 0.05},
		regimes: []regime.State{{Symbol: "BTCUSDT", Trend: regime.Trending, Volatility: regime.LowVol, Active: types.Swing}},
	}
	r := Router(src, "paper")

	w := get(t, r, "/healthz")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"mode":"paper"`)

	w = get(t, r, "/account")
	require.Equal(t, http.StatusOK, w.Code)
	var sum account.Summary
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &sum))
	assert.Equal(t, 0.05, sum.Drawdown)
	assert.Equal(t, 10_000.0, sum.Peak)

	w = get(t, r, "/regimes")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"active":"swing"`)

	metrics.EquityGauge.Set(9_500)
	w = get(t, r, "/metrics")
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.Contains(w.Body.String(), "trade_equity 9500"))

	assert.Equal(t, http.StatusNotFound, get(t, r, "/nope").Code)
}
