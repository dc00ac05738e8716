// Copyright (C) The PRAGMA Cloud Scheduler Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

// Package booked is a client for the Booked reservation calendar's
// REST API.
package booked

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
)

// updateAcceptedMessage is the exact acknowledgement the store sends
// when a reservation update has been applied.
const updateAcceptedMessage = "The reservation was updated"

// A Client performs authenticated requests against a Booked server.
//
// Call Authenticate once per run; the resulting session token is
// attached to every subsequent request.
type Client struct {
	// HTTP client used to make requests. If nil,
	// DefaultSecureClient or InsecureHTTPClient will be used.
	Client *http.Client `json:"-"`

	// Base URL of the REST API, ending in "/", e.g.
	// "http://booked.example.org/Web/Services/index.php/".
	BaseURL string

	Username string
	Password string

	// Accept unverified certificates. This works only if the
	// Client field is nil: otherwise, it has no effect.
	Insecure bool

	sessionToken string
	sessionUser  string
}

// InsecureHTTPClient is the default http.Client used by a Client with
// Insecure==true and Client==nil.
var InsecureHTTPClient = &http.Client{
	Transport: &http.Transport{
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: true}}}

// DefaultSecureClient is the default http.Client used by a Client otherwise.
var DefaultSecureClient = &http.Client{}

// ErrNotAuthenticated is returned by request methods called before
// Authenticate.
var ErrNotAuthenticated = errors.New("not authenticated (call Authenticate first)")

func (c *Client) httpClient() *http.Client {
	switch {
	case c.Client != nil:
		return c.Client
	case c.Insecure:
		return InsecureHTTPClient
	default:
		return DefaultSecureClient
	}
}

// doRequest sends one API request, decodes the JSON response into
// dst (unless nil), and returns the raw response body. Any non-200
// response is an error: the store has no partial-result mode.
func (c *Client) doRequest(ctx context.Context, method, path string, body, dst interface{}) ([]byte, error) {
	url := strings.TrimSuffix(c.BaseURL, "/") + "/" + path
	var rdr io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		rdr = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, rdr)
	if err != nil {
		return nil, err
	}
	if c.sessionToken != "" {
		req.Header.Set("X-Booked-SessionToken", c.sessionToken)
		req.Header.Set("X-Booked-UserId", c.sessionUser)
	}
	resp, err := c.httpClient().Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %s", method, path, err)
	}
	defer resp.Body.Close()
	buf, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s %s: reading response: %s", method, path, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s %s: %s (%s)", method, path, resp.Status, strings.TrimSpace(string(buf)))
	}
	if dst != nil {
		err = json.Unmarshal(buf, dst)
		if err != nil {
			return nil, fmt.Errorf("%s %s: decoding response: %s", method, path, err)
		}
	}
	return buf, nil
}

// Authenticate obtains a session token for the configured account.
// It must be called exactly once, before any other request.
func (c *Client) Authenticate(ctx context.Context) error {
	var session struct {
		SessionToken string `json:"sessionToken"`
		UserID       string `json:"userId"`
	}
	_, err := c.doRequest(ctx, "POST", "Authentication/Authenticate", map[string]string{
		"username": c.Username,
		"password": c.Password,
	}, &session)
	if err != nil {
		return err
	}
	if session.SessionToken == "" {
		return errors.New("authentication succeeded but response contained no session token")
	}
	c.sessionToken = session.SessionToken
	c.sessionUser = session.UserID
	return nil
}

// ListReservations returns current and future reservations, one
// logical entry per reference number.
//
// A reservation spanning N resources appears N times in the store's
// response; here the duplicates are collapsed and the result is
// ordered by reference number so repeated polls process reservations
// in a stable order.
func (c *Client) ListReservations(ctx context.Context) ([]ReservationSummary, error) {
	if c.sessionToken == "" {
		return nil, ErrNotAuthenticated
	}
	var list struct {
		Reservations []ReservationSummary `json:"reservations"`
	}
	_, err := c.doRequest(ctx, "GET", "Reservations/", nil, &list)
	if err != nil {
		return nil, err
	}
	unique := map[string]ReservationSummary{}
	for _, r := range list.Reservations {
		unique[r.ReferenceNumber] = r
	}
	deduped := make([]ReservationSummary, 0, len(unique))
	for _, r := range unique {
		deduped = append(deduped, r)
	}
	sort.Slice(deduped, func(i, j int) bool {
		return deduped[i].ReferenceNumber < deduped[j].ReferenceNumber
	})
	return deduped, nil
}

// GetReservation fetches the full detail of one reservation,
// including custom attributes.
func (c *Client) GetReservation(ctx context.Context, ref string) (*Reservation, error) {
	if c.sessionToken == "" {
		return nil, ErrNotAuthenticated
	}
	var res Reservation
	buf, err := c.doRequest(ctx, "GET", "Reservations/"+ref, nil, &res)
	if err != nil {
		return nil, err
	}
	// Keep the undecoded body too, so UpdateStatus can echo
	// fields this client doesn't model.
	err = json.Unmarshal(buf, &res.raw)
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// GetUser fetches the detail of one user account.
func (c *Client) GetUser(ctx context.Context, id string) (*User, error) {
	if c.sessionToken == "" {
		return nil, ErrNotAuthenticated
	}
	var user User
	_, err := c.doRequest(ctx, "GET", "Users/"+id, nil, &user)
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// GetResource fetches the detail of one compute resource.
func (c *Client) GetResource(ctx context.Context, id string) (*Resource, error) {
	if c.sessionToken == "" {
		return nil, ErrNotAuthenticated
	}
	var rsc Resource
	_, err := c.doRequest(ctx, "GET", "Resources/"+id, nil, &rsc)
	if err != nil {
		return nil, err
	}
	return &rsc, nil
}

// UpdateStatus posts the reservation back to the store with the
// given status id and description.
//
// The store requires the update payload to repeat the whole
// reservation, with customAttributes flattened to
// {attributeId, attributeValue} pairs and resources flattened to
// bare ids. Success is determined by an exact match on the store's
// acknowledgement message; anything else leaves the stored status
// unchanged and is reported to the caller.
func (c *Client) UpdateStatus(ctx context.Context, res *Reservation, statusID, description string) error {
	if c.sessionToken == "" {
		return ErrNotAuthenticated
	}
	if res.raw == nil {
		return errors.New("reservation was not fetched with GetReservation")
	}
	update := make(map[string]interface{}, len(res.raw)+1)
	for k, v := range res.raw {
		update[k] = v
	}
	reformattedAttrs := make([]map[string]interface{}, 0, len(res.CustomAttributes))
	for _, attr := range res.CustomAttributes {
		reformattedAttrs = append(reformattedAttrs, map[string]interface{}{
			"attributeId":    attr.ID,
			"attributeValue": attr.Value,
		})
	}
	update["customAttributes"] = reformattedAttrs
	ids := make([]string, 0, len(res.Resources))
	for _, rsc := range res.Resources {
		ids = append(ids, rsc.ID)
	}
	update["resources"] = ids
	update["statusId"] = statusID
	update["description"] = description

	var ack struct {
		Message string `json:"message"`
	}
	_, err := c.doRequest(ctx, "POST", "Reservations/"+res.ReferenceNumber, update, &ack)
	if err != nil {
		return err
	}
	if ack.Message != updateAcceptedMessage {
		return fmt.Errorf("store did not accept update: %q", ack.Message)
	}
	return nil
}
