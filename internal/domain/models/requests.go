package models

// Requests for observation HTTP endpoints.

type ObserveRequest struct {
	FrictionFloor *float64 `json:"friction_floor" validate:"required,gte=0"`
	MinMove       *float64 `json:"min_move" validate:"required,gte=0"`
	Bars          []Bar    `json:"bars" validate:"required,min=1,max=10000"`
}

type ReplayRequest struct {
	Symbol string `query:"symbol" json:"symbol" validate:"required"`
	From   string `query:"from" json:"from" validate:"required"`
	To     string `query:"to" json:"to"`
	TF     string `query:"tf" json:"tf" default:"1m" validate:"oneof=1s 1m 5m"`
}

type HistoryRequest struct {
	Symbol string `param:"symbol" validate:"required"`
	From   string `query:"from"`
	To     string `query:"to"`
	Limit  int    `query:"limit" default:"500" validate:"gte=1,lte=10000"`
}

type SymbolRequest struct {
	Symbol string `param:"symbol" validate:"required"`
}

// Responses.

// RejectedBar reports a bar that failed validation in a batch.
type RejectedBar struct {
	Index     int    `json:"index"`
	Timestamp string `json:"timestamp"`
	Field     string `json:"field"`
	Reason    string `json:"reason"`
}

type ObserveResponse struct {
	EngineVersion string              `json:"engine_version"`
	FrictionFloor float64             `json:"friction_floor"`
	MinMove       float64             `json:"min_move"`
	MReq          float64             `json:"m_req"`
	Records       []ObservationRecord `json:"records"`
	Rejected      []RejectedBar       `json:"rejected"`
}

type ReplayJobResponse struct {
	JobID  string `json:"job_id"`
	Symbol string `json:"symbol"`
	From   string `json:"from"`
	To     string `json:"to"`
	TF     string `json:"tf"`
}
