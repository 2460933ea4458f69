package flowapi

// HeaderAPIKey is the header carrying the deployment's shared secret.
// Requests without a matching value are rejected by the flow executor.
const HeaderAPIKey = "x-api-key"

// StatusSuccess is the status value reported for a completed flow run
const StatusSuccess = "success"

// RunRequest is the body of a flow run request
type RunRequest struct {
	InputValue string                 `json:"input_value"`
	InputType  string                 `json:"input_type,omitempty"`
	OutputType string                 `json:"output_type,omitempty"`
	SessionID  string                 `json:"session_id,omitempty"`
	Tweaks     map[string]interface{} `json:"tweaks,omitempty"`
}

// RunResponse is the decoded result of a flow run
type RunResponse struct {
	Result    string `json:"result"`
	Status    string `json:"status"`
	SessionID string `json:"session_id,omitempty"`
}

// runEnvelope covers both response shapes the flow executor produces: the
// flat {"result","status"} form and the nested outputs envelope of the
// full API, from which the chat output text is extracted.
type runEnvelope struct {
	Result    string `json:"result"`
	Status    string `json:"status"`
	SessionID string `json:"session_id"`
	Outputs   []struct {
		Outputs []struct {
			Results struct {
				Message struct {
					Text string `json:"text"`
				} `json:"message"`
			} `json:"results"`
		} `json:"outputs"`
	} `json:"outputs"`
}

// errorEnvelope is the error payload shape of the flow executor
type errorEnvelope struct {
	Detail string `json:"detail"`
}
