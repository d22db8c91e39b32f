// Copyright 2026 © The Ergon Authors
// SPDX-License-Identifier: Apache-2.0

package remediation

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/jllopis/ergon/pkg/errors"
	"github.com/jllopis/ergon/pkg/telemetry"
)

// Action is what the model asks the loop to do after a failure.
type Action string

const (
	ActionRetry   Action = "retry"
	ActionFixCode Action = "fix_code"
	ActionGiveUp  Action = "give_up"
)

// Decision is the model's answer to a failed attempt.
type Decision struct {
	Action     Action `json:"action"`
	Reason     string `json:"reason,omitempty"`
	NewCommand string `json:"new_command,omitempty"`
}

var jsonObject = regexp.MustCompile(`(?s)\{.*\}`)

// ParseDecision extracts the decision object from model output. The span
// from the first "{" to the last "}" must decode as JSON.
func ParseDecision(content string) (Decision, error) {
	raw := jsonObject.FindString(content)
	if raw == "" {
		return Decision{}, unparseable("no JSON object in model response", nil, content)
	}
	var d Decision
	if err := json.Unmarshal([]byte(raw), &d); err != nil {
		return Decision{}, unparseable("invalid decision JSON", err, content)
	}
	d.Action = Action(strings.ToLower(strings.TrimSpace(string(d.Action))))
	d.NewCommand = strings.TrimSpace(d.NewCommand)

	switch d.Action {
	case ActionRetry:
		if d.NewCommand == "" {
			return Decision{}, unparseable("retry decision without new_command", nil, content)
		}
	case ActionFixCode, ActionGiveUp:
	default:
		return Decision{}, unparseable(fmt.Sprintf("unknown action %q", d.Action), nil, content)
	}
	return d, nil
}

func unparseable(msg string, cause error, content string) error {
	return errors.New(errors.CodeRemediationUnparseable, msg, cause).
		WithContext("response", telemetry.Truncate(content, 512))
}
