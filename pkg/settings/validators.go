package settings

// UserConfigPayload is the request body for updating the scheduler and scan
// settings editable from the management UI.
type UserConfigPayload struct {
	SyncIntervalMinutes int  `json:"sync_interval_minutes" validate:"min=0,max=10080"`
	ScanStartHour       int  `json:"scan_start_hour" validate:"min=0,max=23"`
	ScanWindowMinutes   int  `json:"scan_window_minutes" validate:"min=1,max=60"`
	ForceRematch        bool `json:"force_rematch"`
}
