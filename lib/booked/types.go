// Copyright (C) The PRAGMA Cloud Scheduler Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package booked

// CustomAttribute is one entry of a Booked custom attribute list.
type CustomAttribute struct {
	ID    string `json:"id"`
	Label string `json:"label"`
	Value string `json:"value"`
}

// ResourceRef identifies one resource booked by a reservation.
type ResourceRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Owner identifies the user who placed a reservation.
type Owner struct {
	UserID    string `json:"userId"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Email     string `json:"emailAddress"`
}

// ReservationSummary is one entry of the store's reservation list.
// The store returns one entry per booked resource; ListReservations
// collapses these to one summary per reference number.
type ReservationSummary struct {
	ReferenceNumber string `json:"referenceNumber"`
	StartDateTime   string `json:"startDateTime"`
	EndDateTime     string `json:"endDateTime"`
	ResourceID      string `json:"resourceId"`
}

// Reservation is the full detail of one reservation.
//
// The store is the authoritative home of reservation state: the
// scheduler only ever writes status and description, echoing
// everything else back unchanged (see Client.UpdateStatus).
type Reservation struct {
	ReferenceNumber  string            `json:"referenceNumber"`
	StatusID         string            `json:"statusId"`
	Title            string            `json:"title"`
	Description      string            `json:"description"`
	StartDateTime    string            `json:"startDateTime"`
	EndDateTime      string            `json:"endDateTime"`
	Owner            Owner             `json:"owner"`
	Resources        []ResourceRef     `json:"resources"`
	CustomAttributes []CustomAttribute `json:"customAttributes"`

	// undecoded response body, used to echo the full reservation
	// back on update
	raw map[string]interface{}
}

// Attributes returns the reservation's custom attributes as a
// label→value map.
func (r *Reservation) Attributes() map[string]string {
	return attributeMap(r.CustomAttributes)
}

// User is the detail of one store user account.
type User struct {
	ID               string            `json:"id"`
	UserName         string            `json:"userName"`
	EmailAddress     string            `json:"emailAddress"`
	CustomAttributes []CustomAttribute `json:"customAttributes"`
}

// Attributes returns the user's custom attributes as a label→value
// map.
func (u *User) Attributes() map[string]string {
	return attributeMap(u.CustomAttributes)
}

// Resource is the detail of one bookable compute resource.
type Resource struct {
	ResourceID       string            `json:"resourceId"`
	Name             string            `json:"name"`
	CustomAttributes []CustomAttribute `json:"customAttributes"`
}

// Attributes returns the resource's custom attributes as a
// label→value map.
func (rsc *Resource) Attributes() map[string]string {
	return attributeMap(rsc.CustomAttributes)
}

func attributeMap(attrs []CustomAttribute) map[string]string {
	m := make(map[string]string, len(attrs))
	for _, attr := range attrs {
		m[attr.Label] = attr.Value
	}
	return m
}
