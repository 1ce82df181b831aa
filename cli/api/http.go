// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

func (a Api) Get(resource string, result any) error {
	resp, err := a.Client.Get(a.URL + resource)
	if err != nil {
		return err
	}
	return a.handleResponse(resp, result)
}

func (a Api) Put(resource string, body any) error {
	return a.send(http.MethodPut, resource, body)
}

func (a Api) Post(resource string, body any) error {
	return a.send(http.MethodPost, resource, body)
}

func (a Api) Delete(resource string) error {
	req, err := http.NewRequest(http.MethodDelete, a.URL+resource, nil)
	if err != nil {
		return err
	}
	resp, err := a.Client.Do(req)
	if err != nil {
		return err
	}
	return a.handleResponse(resp, nil)
}

func (a Api) send(method, resource string, body any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request body: %w", err)
	}
	req, err := http.NewRequest(method, a.URL+resource, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := a.Client.Do(req)
	if err != nil {
		return err
	}
	return a.handleResponse(resp, nil)
}

func (a Api) handleResponse(resp *http.Response, result any) error {
	defer func() {
		if err := resp.Body.Close(); err != nil {
			fmt.Printf("warning: failed to close response body: %v\n", err)
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		buf, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("API request failed with status %d and unreadable body", resp.StatusCode)
		}
		rid := resp.Header.Get("X-Request-ID")
		return fmt.Errorf("API request (id=%s) failed with status %d: %s", rid, resp.StatusCode, string(buf))
	}

	if result == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(result)
}
