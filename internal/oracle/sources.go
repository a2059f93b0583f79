package oracle

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"
)

// httpSource: источник, отдающий курс в JSON по GET-запросу.
type httpSource struct {
	name   string
	client *http.Client
	// request строит URL и путь gjson до поля с курсом.
	request func(coin string) (string, string, error)
}

func (s *httpSource) Name() string { return s.name }

func (s *httpSource) Fetch(ctx context.Context, coin string) (decimal.Decimal, error) {
	endpoint, path, err := s.request(coin)
	if err != nil {
		return decimal.Zero, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%s: %w", s.name, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%s: %w", s.name, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return decimal.Zero, fmt.Errorf("%s: чтение ответа: %w", s.name, err)
	}
	if resp.StatusCode != http.StatusOK {
		return decimal.Zero, fmt.Errorf("%s: HTTP %d", s.name, resp.StatusCode)
	}

	field := gjson.GetBytes(body, path)
	if !field.Exists() {
		return decimal.Zero, fmt.Errorf("%s: в ответе нет поля %s", s.name, path)
	}
	// Binance отдаёт курс строкой, CoinGecko: числом.
	rate, err := decimal.NewFromString(field.String())
	if err != nil {
		return decimal.Zero, fmt.Errorf("%s: курс %q: %w", s.name, field.Raw, err)
	}
	return rate, nil
}

var binanceSymbols = map[string]string{
	CoinBTC: "BTCUSDT",
	CoinETH: "ETHUSDT",
}

// NewBinance: источник https://api.binance.com/api/v3/ticker/price?symbol=BTCUSDT.
func NewBinance(client *http.Client, baseURL string) Source {
	return &httpSource{
		name:   "binance",
		client: client,
		request: func(coin string) (string, string, error) {
			symbol, ok := binanceSymbols[coin]
			if !ok {
				return "", "", fmt.Errorf("binance: нет пары для %s", coin)
			}
			return baseURL + "?symbol=" + url.QueryEscape(symbol), "price", nil
		},
	}
}

var coinGeckoIDs = map[string]string{
	CoinBTC: "bitcoin",
	CoinETH: "ethereum",
}

// NewCoinGecko: источник https://api.coingecko.com/api/v3/simple/price?ids=bitcoin&vs_currencies=usd.
func NewCoinGecko(client *http.Client, baseURL string) Source {
	return &httpSource{
		name:   "coingecko",
		client: client,
		request: func(coin string) (string, string, error) {
			id, ok := coinGeckoIDs[coin]
			if !ok {
				return "", "", fmt.Errorf("coingecko: нет id для %s", coin)
			}
			q := url.Values{"ids": {id}, "vs_currencies": {"usd"}}
			return baseURL + "?" + q.Encode(), id + ".usd", nil
		},
	}
}
