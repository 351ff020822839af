// Copyright 2026 cloudeng llc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package maxcdn

import (
	"fmt"

	"cloudeng.io/certsync/reconcile"
	"github.com/go-json-experiment/json"
	"github.com/go-json-experiment/json/jsontext"
)

const maxResponseSize = 16 << 20

type response struct {
	Code  int            `json:"code"`
	Data  *responseData  `json:"data,omitempty"`
	Error *responseError `json:"error,omitempty"`
}

type responseData struct {
	Certificates []certificate `json:"certificates,omitempty"`
}

type responseError struct {
	Type    string `json:"type,omitempty"`
	Message string `json:"message"`
}

type certificate struct {
	// ID may be encoded as either a number or a string.
	ID       jsontext.Value `json:"id"`
	Domain   string         `json:"domain"`
	Cert     string         `json:"ssl_crt"`
	CABundle string         `json:"ssl_cabundle"`
}

func decodeResponse(data []byte) (response, error) {
	var r response
	if err := json.Unmarshal(data, &r); err != nil {
		return response{}, fmt.Errorf("maxcdn: failed to decode response: %w: %w", reconcile.ErrUnexpectedResponse, err)
	}
	return r, nil
}

func (r response) remoteError() *reconcile.RemoteError {
	return &reconcile.RemoteError{
		Code:    r.Code,
		Type:    r.Error.Type,
		Message: r.Error.Message,
	}
}

func (c certificate) id() (string, error) {
	switch c.ID.Kind() {
	case '0':
		return string(c.ID), nil
	case '"':
		var id string
		if err := json.Unmarshal(c.ID, &id); err != nil {
			return "", err
		}
		if len(id) > 0 {
			return id, nil
		}
	}
	return "", fmt.Errorf("invalid id %q for %q: %w", string(c.ID), c.Domain, reconcile.ErrUnexpectedResponse)
}
