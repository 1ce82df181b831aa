// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

package api

import (
	"log/slog"
	"net/http"

	"github.com/fleetforge/fleet-engine/cli/config"
)

type Api struct {
	URL string

	Client *http.Client
}

func NewClient(appCtx config.Context) *Api {
	return &Api{
		URL: appCtx.URL,

		Client: &http.Client{
			Transport: &headerTransport{
				Token:     appCtx.Token,
				Actor:     appCtx.Actor,
				Transport: http.DefaultTransport,
			},
		},
	}
}

type headerTransport struct {
	Token     string
	Actor     string
	Transport http.RoundTripper
}

// RoundTrip implements the http.RoundTripper interface in a way which adds
// the Authorization and actor attribution headers to each request.
func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	reqBodyClosed := false
	if req.Body != nil {
		defer func() {
			if !reqBodyClosed {
				if err := req.Body.Close(); err != nil {
					slog.Error("failed to close request body", "error", err)
				}
			}
		}()
	}

	req2 := req.Clone(req.Context())
	if t.Token != "" {
		req2.Header.Set("Authorization", "Bearer "+t.Token)
	}
	if t.Actor != "" {
		req2.Header.Set("X-Actor", t.Actor)
	}

	// req.Body is assumed to be closed by the base RoundTripper.
	reqBodyClosed = true
	return t.Transport.RoundTrip(req2)
}
