// Package classifier calls the remote prompt classifier.
//
// The classifier is a Triton-style inference server speaking the KServe
// HTTP/JSON protocol: a single POST carrying a BYTES input tensor named
// INPUT returns an FP32 output tensor named OUTPUT holding one score per
// candidate LLM. The wire shape is compatibility-critical and must not
// change.
package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// InferInputs is the request envelope for a classification call.
type InferInputs struct {
	Inputs []InferInputTensor `json:"inputs"`
}

// InferInputTensor is a single input tensor. For this router it always
// carries one string: the prompt text.
type InferInputTensor struct {
	Name     string     `json:"name"`
	Datatype string     `json:"datatype"`
	Shape    []int64    `json:"shape"`
	Data     [][]string `json:"data"`
}

// InferResponse is the response envelope. Fields other than outputs are
// ignored.
type InferResponse struct {
	Outputs []InferOutputTensor `json:"outputs"`
}

// InferOutputTensor is a single output tensor of the inference response.
type InferOutputTensor struct {
	Name     string    `json:"name"`
	Datatype string    `json:"datatype"`
	Shape    []int64   `json:"shape"`
	Data     []float64 `json:"data"`
}

// outputTensorName is the tensor the router reads scores from. Servers
// may return additional outputs; they are ignored.
const outputTensorName = "OUTPUT"

// Client issues classification calls. The zero value is not usable;
// construct with NewClient. The underlying HTTP client pools connections
// across requests and policies.
type Client struct {
	httpClient *http.Client
	timeout    time.Duration
}

// NewClient creates a classifier client. timeout bounds a whole
// classification call (connect through body read); zero means no bound.
func NewClient(timeout time.Duration) *Client {
	return &Client{
		httpClient: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        32,
				MaxIdleConnsPerHost: 8,
				IdleConnTimeout:     90 * time.Second,
				ForceAttemptHTTP2:   true,
			},
		},
		timeout: timeout,
	}
}

// Classify sends the prompt to the classifier at url and returns the raw
// score vector. The caller interprets the vector; this method only
// enforces the wire contract.
func (c *Client) Classify(ctx context.Context, url, prompt string) ([]float64, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	payload := InferInputs{
		Inputs: []InferInputTensor{
			{
				Name:     "INPUT",
				Datatype: "BYTES",
				Shape:    []int64{1, 1},
				Data:     [][]string{{prompt}},
			},
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal inference request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create inference request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		slog.Error("failed to reach classifier", "url", url, "error", err)
		return nil, &UnavailableError{URL: url, Cause: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		errorBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		slog.Error("classifier returned error status",
			"url", url,
			"status", resp.StatusCode,
			"body", string(errorBody),
		)
		return nil, &ServiceError{Status: resp.StatusCode, Body: string(errorBody)}
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &UnavailableError{URL: url, Cause: err}
	}

	var parsed InferResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, &MalformedError{Detail: fmt.Sprintf("invalid JSON: %v", err)}
	}

	tensor, ok := findOutput(parsed.Outputs)
	if !ok {
		return nil, &MalformedError{Detail: fmt.Sprintf("no %q tensor in response outputs", outputTensorName)}
	}

	if n := elementCount(tensor.Shape); n >= 0 && n != len(tensor.Data) {
		return nil, &MalformedError{
			Detail: fmt.Sprintf("shape %v declares %d elements but data holds %d", tensor.Shape, n, len(tensor.Data)),
		}
	}
	if len(tensor.Data) == 0 {
		return nil, &MalformedError{Detail: "empty score vector"}
	}

	return tensor.Data, nil
}

// Ping checks whether the classifier endpoint accepts connections. Used
// by the reachability prober; a non-2xx inference reply still counts as
// reachable.
func (c *Client) Ping(ctx context.Context, url string) error {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &UnavailableError{URL: url, Cause: err}
	}
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4*1024))
	resp.Body.Close()
	return nil
}

// findOutput returns the first output tensor named OUTPUT.
func findOutput(outputs []InferOutputTensor) (InferOutputTensor, bool) {
	for _, tensor := range outputs {
		if tensor.Name == outputTensorName {
			return tensor, true
		}
	}
	return InferOutputTensor{}, false
}

// elementCount computes the number of elements a shape declares, or -1
// when the shape is absent and the data length stands on its own.
func elementCount(shape []int64) int {
	if len(shape) == 0 {
		return -1
	}
	n := int64(1)
	for _, dim := range shape {
		if dim < 0 {
			return -1
		}
		n *= dim
	}
	return int(n)
}
