package domain

import "time"

// RiskMetrics summarizes the trailing 24h trade history.
type RiskMetrics struct {
	WinRate     float64 `json:"win_rate"`
	TotalPnL    float64 `json:"total_pnl"`
	AvgPnL      float64 `json:"avg_pnl"`
	MaxDrawdown float64 `json:"max_drawdown"`
	Trades      int     `json:"trades"`
}

// ServiceStatus is the operator-facing snapshot the trading service refreshes
// once per cycle.
type ServiceStatus struct {
	Running       bool      `json:"running"`
	Asset         string    `json:"asset"`
	SessionID     string    `json:"session_id"`
	Cycle         int64     `json:"cycle"`
	Position      float64   `json:"position"`
	PositionUsage float64   `json:"position_usage"`
	AccountValue  float64   `json:"account_value"`
	LastMark      float64   `json:"last_mark"`
	LastSignal    Signal    `json:"last_signal"`
	WinRate       float64   `json:"win_rate"`
	VolumeTraded  float64   `json:"volume_traded"`
	ConsecErrors  int       `json:"consecutive_errors"`
	SevereMode    bool      `json:"severe_mode"`
	UpdatedAt     time.Time `json:"updated_at"`
}
