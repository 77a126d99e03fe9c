package client

import (
	"encoding/json"
	"errors"

	"github.com/mkorolik/relayexec/internal/rpc"
)

// execResult is the JSON document nested inside the response
// envelope's first content block.
type execResult struct {
	Stdout     string `json:"stdout"`
	Stderr     string `json:"stderr"`
	ReturnCode int    `json:"returncode"`
	Error      string `json:"error"`
}

// parseExecResult unwraps an execution response: the result object
// carries a content list whose first entry's text is itself a JSON
// document with stdout/stderr/returncode. A command that ran but
// failed still yields output (stderr), preserving the "command ran,
// possibly badly" model; only a result carrying nothing but an error
// field becomes an error.
func parseExecResult(resp *rpc.Response) (string, error) {
	if len(resp.Result) == 0 {
		return "", &rpc.ProtocolError{Reason: "response carries no result"}
	}

	var envelope struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	}
	if err := json.Unmarshal(resp.Result, &envelope); err != nil || len(envelope.Content) == 0 {
		// Not the execution envelope; hand the raw document back.
		return string(resp.Result), nil
	}

	text := envelope.Content[0].Text
	var res execResult
	if err := json.Unmarshal([]byte(text), &res); err != nil {
		return text, nil
	}
	switch {
	case res.Stdout != "":
		return res.Stdout, nil
	case res.Stderr != "":
		return res.Stderr, nil
	case res.Error != "":
		return "", errors.New(res.Error)
	default:
		return "", nil
	}
}
