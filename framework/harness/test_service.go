package harness

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/launchdarkly/test-collector/framework"
	"github.com/launchdarkly/test-collector/servicedef"
)

// TestServiceEntity represents a suite that we have asked the test service to run, which the
// test harness will interact with.
type TestServiceEntity struct {
	resourceURL string
	logger      framework.Logger
}

func queryTestServiceInfo(url string, timeout time.Duration, output io.Writer) (servicedef.StatusResponse, error) {
	if output == nil {
		output = io.Discard
	}
	fmt.Fprintf(output, "Connecting to test service at %s", url)

	deadline := time.Now().Add(timeout)
	for {
		fmt.Fprintf(output, ".")
		resp, err := http.DefaultClient.Get(url)
		if err == nil {
			fmt.Fprintln(output)
			if resp.StatusCode != 200 {
				resp.Body.Close()
				return servicedef.StatusResponse{}, fmt.Errorf("test service returned status code %d", resp.StatusCode)
			}
			respData, err := io.ReadAll(resp.Body)
			resp.Body.Close()
			if err != nil {
				return servicedef.StatusResponse{}, err
			}
			if len(respData) == 0 {
				fmt.Fprintf(output, "Status query successful, but service provided no metadata\n")
				return servicedef.StatusResponse{}, nil
			}
			fmt.Fprintf(output, "Status query returned metadata: %s\n", string(respData))
			var info servicedef.StatusResponse
			if err := json.Unmarshal(respData, &info); err != nil {
				return servicedef.StatusResponse{}, fmt.Errorf("malformed status response from test service: %s", string(respData))
			}
			return info, nil
		}
		if !time.Now().Before(deadline) {
			return servicedef.StatusResponse{}, fmt.Errorf("timed out, result of last query was: %w", err)
		}
		time.Sleep(time.Millisecond * 100)
	}
}

// StopService tells the test service that it should exit.
func (h *TestHarness) StopService() error {
	req, _ := http.NewRequest("DELETE", h.serviceURL, nil)
	resp, err := http.DefaultClient.Do(req)
	if err == nil {
		resp.Body.Close()
		if resp.StatusCode >= 300 {
			return fmt.Errorf("service returned HTTP %d", resp.StatusCode)
		}
	}
	// It's normal for the request to return an I/O error if the service immediately quit before sending a response
	return nil
}

// NewTestServiceEntity tells the test service to start running a suite, based on the parameters
// we provide. The entity is assumed to remain active inside the test service until we explicitly
// close it.
func (h *TestHarness) NewTestServiceEntity(
	params servicedef.CreateSuiteParams,
	description string,
	logger framework.Logger,
) (*TestServiceEntity, error) {
	if logger == nil {
		logger = framework.NullLogger()
	}

	data, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}

	logger.Printf("Creating test service entity (%s) with parameters: %s", description, string(data))
	req, err := http.NewRequest("POST", h.serviceURL, bytes.NewBuffer(data))
	if err != nil {
		return nil, err
	}
	req.Header.Add("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var message string
		if data, _ = io.ReadAll(resp.Body); len(data) > 0 {
			message = ": " + string(data)
		}
		return nil, fmt.Errorf("unexpected response status %d from test service%s", resp.StatusCode, message)
	}
	resourceURL := resp.Header.Get("Location")
	if resourceURL == "" {
		return nil, errors.New("test service did not return a Location header with a resource URL")
	}
	if !strings.HasPrefix(resourceURL, "http:") && !strings.HasPrefix(resourceURL, "https:") {
		resourceURL = h.serviceURL + resourceURL
	}

	return &TestServiceEntity{
		resourceURL: resourceURL,
		logger:      logger,
	}, nil
}

// Close tells the test service to dispose of this entity.
func (e *TestServiceEntity) Close() error {
	req, err := http.NewRequest("DELETE", e.resourceURL, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	_ = resp.Body.Close()
	if resp.StatusCode != 200 && resp.StatusCode != 204 {
		return fmt.Errorf("DELETE request to test service returned HTTP status %d", resp.StatusCode)
	}
	return nil
}

// SendMessage delivers a control message to the suite running in the test service.
func (e *TestServiceEntity) SendMessage(m servicedef.Message) error {
	data, err := servicedef.EncodeMessage(m)
	if err != nil {
		return err
	}
	e.logger.Printf("Sending message: %s", string(data))
	resp, err := http.DefaultClient.Post(e.resourceURL, "application/json", bytes.NewBuffer(data))
	if err != nil {
		return err
	}
	_ = resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("message returned HTTP status %d", resp.StatusCode)
	}
	return nil
}
