package schemas

type CleanupResult struct {
	WorkspaceID string `json:"workspaceId"`
	Reason      string `json:"reason"`
	Success     bool   `json:"success"`
	Error       string `json:"error,omitempty"`
}

type ReconcileDetail struct {
	WorkspaceID string `json:"workspaceId"`
	Action      string `json:"action"`
	Error       string `json:"error,omitempty"`
}

type ReconcileSummary struct {
	Reconciled int               `json:"reconciled"`
	Errors     int               `json:"errors"`
	Details    []ReconcileDetail `json:"details"`
}

type SweepResponse struct {
	Processed      int              `json:"processed"`
	Terminated     int              `json:"terminated"`
	Errors         int              `json:"errors"`
	Results        []CleanupResult  `json:"results"`
	Reconciliation ReconcileSummary `json:"reconciliation"`
}

type WebhookResponse struct {
	Status  string `json:"status"`
	Event   string `json:"event,omitempty"`
	Message string `json:"message,omitempty"`
}
