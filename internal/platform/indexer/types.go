package indexer

// Wire shapes of the indexer REST API. Numeric fields arrive as strings.

type marketsResponse struct {
	Markets map[string]apiMarket `json:"markets"`
}

type apiMarket struct {
	Ticker       string `json:"ticker"`
	Status       string `json:"status"`
	MarketType   string `json:"marketType"`
	OraclePrice  string `json:"oraclePrice"`
	TickSize     string `json:"tickSize"`
	StepSize     string `json:"stepSize"`
	MinOrderSize string `json:"minOrderSize"`
}

type candlesResponse struct {
	Candles []apiCandle `json:"candles"`
}

type apiCandle struct {
	StartedAt string `json:"startedAt"`
	Ticker    string `json:"ticker"`
	Close     string `json:"close"`
}

type subaccountResponse struct {
	Subaccount struct {
		Equity         string `json:"equity"`
		FreeCollateral string `json:"freeCollateral"`
	} `json:"subaccount"`
}

type positionsResponse struct {
	Positions []apiPosition `json:"positions"`
}

type apiPosition struct {
	Market string `json:"market"`
	Side   string `json:"side"`
	Size   string `json:"size"`
	Status string `json:"status"`
}

type apiOrder struct {
	ID          string `json:"id"`
	ClientID    string `json:"clientId"`
	Ticker      string `json:"ticker"`
	Side        string `json:"side"`
	Size        string `json:"size"`
	Price       string `json:"price"`
	Status      string `json:"status"`
	ReduceOnly  bool   `json:"reduceOnly"`
	TimeInForce string `json:"timeInForce"`
	UpdatedAt   string `json:"updatedAt"`
}

type apiError struct {
	Errors []struct {
		Msg string `json:"msg"`
	} `json:"errors"`
}

func (e apiError) message() string {
	if len(e.Errors) == 0 {
		return ""
	}
	return e.Errors[0].Msg
}
