// Copyright (C) The PRAGMA Cloud Scheduler Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package booked

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"

	check "gopkg.in/check.v1"
)

var _ = check.Suite(&ClientSuite{})

type ClientSuite struct {
	srv    *httptest.Server
	client *Client

	// bodies of POST /Reservations/<ref> requests, most recent
	// last
	updates []map[string]interface{}
	// response message for reservation updates
	updateMessage string
}

func (s *ClientSuite) SetUpTest(c *check.C) {
	s.updates = nil
	s.updateMessage = "The reservation was updated"
	s.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == "POST" && r.URL.Path == "/api/Authentication/Authenticate":
			var creds map[string]string
			json.NewDecoder(r.Body).Decode(&creds)
			if creds["username"] != "pcc" || creds["password"] != "hunter2" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			json.NewEncoder(w).Encode(map[string]string{
				"sessionToken": "tok-abc",
				"userId":       "u-7",
			})
		case r.Header.Get("X-Booked-SessionToken") != "tok-abc" || r.Header.Get("X-Booked-UserId") != "u-7":
			w.WriteHeader(http.StatusUnauthorized)
		case r.Method == "GET" && r.URL.Path == "/api/Reservations/":
			io.WriteString(w, `{"reservations": [
				{"referenceNumber": "ref1", "resourceId": "11"},
				{"referenceNumber": "ref1", "resourceId": "12"},
				{"referenceNumber": "ref2", "resourceId": "11"}
			]}`)
		case r.Method == "GET" && r.URL.Path == "/api/Reservations/ref1":
			io.WriteString(w, `{
				"referenceNumber": "ref1",
				"statusId": "1",
				"description": "my cluster",
				"startDateTime": "2016-04-08T16:30:00-0700",
				"endDateTime": "2016-04-08T18:30:00-0700",
				"owner": {"userId": "u-9"},
				"resources": [{"id": "11", "name": "rocks-92"}, {"id": "12", "name": "rocks-93"}],
				"customAttributes": [
					{"id": "2", "label": "CPUs", "value": "8"},
					{"id": "3", "label": "VC Name", "value": "myvc"}
				],
				"checkInDate": "2030-01-01T00:00:00+0000"
			}`)
		case r.Method == "POST" && r.URL.Path == "/api/Reservations/ref1":
			var update map[string]interface{}
			json.NewDecoder(r.Body).Decode(&update)
			s.updates = append(s.updates, update)
			json.NewEncoder(w).Encode(map[string]string{"message": s.updateMessage})
		case r.Method == "GET" && r.URL.Path == "/api/Users/u-9":
			io.WriteString(w, `{"id": "u-9", "customAttributes": [{"id": "8", "label": "SSH public key", "value": "ssh-rsa AAAA user@host"}]}`)
		case r.Method == "GET" && r.URL.Path == "/api/Resources/11":
			io.WriteString(w, `{"resourceId": "11", "customAttributes": [{"id": "5", "label": "Site hostname", "value": "rocks-92.example.org"}]}`)
		default:
			http.Error(w, "not found", http.StatusNotFound)
		}
	}))
	s.client = &Client{
		BaseURL:  s.srv.URL + "/api/",
		Username: "pcc",
		Password: "hunter2",
	}
}

func (s *ClientSuite) TearDownTest(c *check.C) {
	s.srv.Close()
}

func (s *ClientSuite) TestAuthenticate(c *check.C) {
	err := s.client.Authenticate(context.Background())
	c.Assert(err, check.IsNil)
	c.Check(s.client.sessionToken, check.Equals, "tok-abc")
	c.Check(s.client.sessionUser, check.Equals, "u-7")
}

func (s *ClientSuite) TestAuthenticateBadCredentials(c *check.C) {
	s.client.Password = "wrong"
	err := s.client.Authenticate(context.Background())
	c.Check(err, check.NotNil)
}

func (s *ClientSuite) TestRequestBeforeAuthenticate(c *check.C) {
	_, err := s.client.ListReservations(context.Background())
	c.Check(err, check.Equals, ErrNotAuthenticated)
}

func (s *ClientSuite) TestListReservationsDeduplicates(c *check.C) {
	ctx := context.Background()
	c.Assert(s.client.Authenticate(ctx), check.IsNil)
	list, err := s.client.ListReservations(ctx)
	c.Assert(err, check.IsNil)
	c.Assert(list, check.HasLen, 2)
	c.Check(list[0].ReferenceNumber, check.Equals, "ref1")
	c.Check(list[1].ReferenceNumber, check.Equals, "ref2")
}

func (s *ClientSuite) TestGetReservation(c *check.C) {
	ctx := context.Background()
	c.Assert(s.client.Authenticate(ctx), check.IsNil)
	res, err := s.client.GetReservation(ctx, "ref1")
	c.Assert(err, check.IsNil)
	c.Check(res.StatusID, check.Equals, "1")
	c.Check(res.Owner.UserID, check.Equals, "u-9")
	c.Check(res.Resources, check.HasLen, 2)
	c.Check(res.Attributes()["CPUs"], check.Equals, "8")
}

func (s *ClientSuite) TestUpdateStatusPayload(c *check.C) {
	ctx := context.Background()
	c.Assert(s.client.Authenticate(ctx), check.IsNil)
	res, err := s.client.GetReservation(ctx, "ref1")
	c.Assert(err, check.IsNil)
	err = s.client.UpdateStatus(ctx, res, "2", "my cluster\n\nstarting...")
	c.Assert(err, check.IsNil)
	c.Assert(s.updates, check.HasLen, 1)
	update := s.updates[0]
	c.Check(update["statusId"], check.Equals, "2")
	c.Check(update["description"], check.Equals, "my cluster\n\nstarting...")
	// resources flattened to bare ids
	c.Check(update["resources"], check.DeepEquals, []interface{}{"11", "12"})
	// customAttributes flattened to {attributeId, attributeValue}
	c.Check(update["customAttributes"], check.DeepEquals, []interface{}{
		map[string]interface{}{"attributeId": "2", "attributeValue": "8"},
		map[string]interface{}{"attributeId": "3", "attributeValue": "myvc"},
	})
	// fields this client doesn't model are echoed back unchanged
	c.Check(update["checkInDate"], check.Equals, "2030-01-01T00:00:00+0000")
}

func (s *ClientSuite) TestUpdateStatusRejected(c *check.C) {
	ctx := context.Background()
	c.Assert(s.client.Authenticate(ctx), check.IsNil)
	res, err := s.client.GetReservation(ctx, "ref1")
	c.Assert(err, check.IsNil)
	s.updateMessage = "The reservation could not be updated"
	err = s.client.UpdateStatus(ctx, res, "2", "x")
	c.Check(err, check.ErrorMatches, `store did not accept update: .*`)
}

func (s *ClientSuite) TestGetUserAndResource(c *check.C) {
	ctx := context.Background()
	c.Assert(s.client.Authenticate(ctx), check.IsNil)
	user, err := s.client.GetUser(ctx, "u-9")
	c.Assert(err, check.IsNil)
	c.Check(user.Attributes()["SSH public key"], check.Equals, "ssh-rsa AAAA user@host")
	rsc, err := s.client.GetResource(ctx, "11")
	c.Assert(err, check.IsNil)
	c.Check(rsc.Attributes()["Site hostname"], check.Equals, "rocks-92.example.org")
}
