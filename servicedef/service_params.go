package servicedef

import "gopkg.in/launchdarkly/go-sdk-common.v2/ldvalue"

// CapabilityGetMessages means the test service replays its buffered messages when it receives a
// "getmessages" control message.
const CapabilityGetMessages = "getmessages"

// CreateSuiteParams is the body of the POST request that asks a test service to start running a
// remote test suite. The service posts every message the suite produces to CallbackURL + "/" + n,
// where n is a counter starting at 1.
type CreateSuiteParams struct {
	Tag         string              `json:"tag"`
	CallbackURL string              `json:"callbackUrl"`
	Properties  ldvalue.Value       `json:"properties,omitempty"`
	TimeoutMS   ldvalue.OptionalInt `json:"timeoutMs,omitempty"`
}

// StatusResponse is returned by a GET request to the test service's base URL.
type StatusResponse struct {
	Name         string   `json:"name"`
	Capabilities []string `json:"capabilities"`
}
