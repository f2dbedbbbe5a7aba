package models

// Action records one dispatched UI action on the host side: what was asked,
// where it went, and how it ended. The typed action forms live in the adb
// package; this is the bookkeeping record persisted per dispatch.
type Action struct {
	ID        string                 `json:"id"`
	Device    string                 `json:"device"`
	Type      string                 `json:"type"`
	Params    map[string]interface{} `json:"params,omitempty"`
	Timestamp int64                  `json:"timestamp"`
	Status    string                 `json:"status"` // executing, done, failed
	Result    string                 `json:"result,omitempty"`
}
