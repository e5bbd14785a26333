// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package domain defines the field-operations entities exchanged with the
// backend and persisted by the local store.
//
// Every entity has a string ID in the same format regardless of where it
// came from, so callers cannot tell the local store and the remote API
// apart. Foreign keys are string IDs as well. The pointer-typed fields
// (OperationCenter, Station, ...) are relation includes, filled on read
// and ignored on write.
//
// `validate` tags are checked at the wire boundary (envelope.Decode) and
// before local writes.
package domain

// Entity is implemented by pointers to every domain type.
type Entity interface {
	GetID() string
	SetID(id string)
}

// OperationCenter is a regional hub that owns stations and teams.
type OperationCenter struct {
	ID       string `json:"id" validate:"omitempty,resourceid"`
	Name     string `json:"name" validate:"required,max=120"`
	Code     string `json:"code,omitempty" validate:"omitempty,max=32"`
	Location string `json:"location,omitempty" validate:"omitempty,max=255"`
}

// Team is a crew of technicians attached to an operation center.
type Team struct {
	ID                string           `json:"id" validate:"omitempty,resourceid"`
	Name              string           `json:"name" validate:"required,max=120"`
	LeaderName        string           `json:"leaderName,omitempty" validate:"omitempty,max=120"`
	OperationCenterID string           `json:"operationCenterId" validate:"required,resourceid"`
	OperationCenter   *OperationCenter `json:"operationCenter,omitempty" validate:"-"`
}

// Station is a substation attached to an operation center.
type Station struct {
	ID                string           `json:"id" validate:"omitempty,resourceid"`
	Name              string           `json:"name" validate:"required,max=120"`
	Code              string           `json:"code,omitempty" validate:"omitempty,max=32"`
	OperationCenterID string           `json:"operationCenterId" validate:"required,resourceid"`
	OperationCenter   *OperationCenter `json:"operationCenter,omitempty" validate:"-"`
}

// Feeder is a distribution line leaving a station.
type Feeder struct {
	ID        string   `json:"id" validate:"omitempty,resourceid"`
	Name      string   `json:"name" validate:"required,max=120"`
	Code      string   `json:"code,omitempty" validate:"omitempty,max=32"`
	VoltageKV float64  `json:"voltageKv,omitempty" validate:"gte=0"`
	StationID string   `json:"stationId" validate:"required,resourceid"`
	Station   *Station `json:"station,omitempty" validate:"-"`
}

// JobType classifies the work recorded in a task.
type JobType struct {
	ID          string `json:"id" validate:"omitempty,resourceid"`
	Name        string `json:"name" validate:"required,max=120"`
	Category    string `json:"category,omitempty" validate:"omitempty,max=64"`
	Description string `json:"description,omitempty" validate:"omitempty,max=1000"`
}

// Task is a daily work record submitted by a technician.
type Task struct {
	ID          string   `json:"id" validate:"omitempty,resourceid"`
	JobTypeID   string   `json:"jobTypeId" validate:"required,resourceid"`
	FeederID    string   `json:"feederId" validate:"required,resourceid"`
	TeamID      string   `json:"teamId" validate:"required,resourceid"`
	Date        string   `json:"date" validate:"required,datetime=2006-01-02"`
	Latitude    float64  `json:"latitude" validate:"latitude"`
	Longitude   float64  `json:"longitude" validate:"longitude"`
	Description string   `json:"description,omitempty" validate:"omitempty,max=2000"`
	ImageURLs   []string `json:"imageUrls,omitempty" validate:"omitempty,max=20,dive,url"`

	JobType *JobType `json:"jobType,omitempty" validate:"-"`
	Feeder  *Feeder  `json:"feeder,omitempty" validate:"-"`
	Team    *Team    `json:"team,omitempty" validate:"-"`
}

func (e *OperationCenter) GetID() string   { return e.ID }
func (e *OperationCenter) SetID(id string) { e.ID = id }
func (e *Team) GetID() string              { return e.ID }
func (e *Team) SetID(id string)            { e.ID = id }
func (e *Station) GetID() string           { return e.ID }
func (e *Station) SetID(id string)         { e.ID = id }
func (e *Feeder) GetID() string            { return e.ID }
func (e *Feeder) SetID(id string)          { e.ID = id }
func (e *JobType) GetID() string           { return e.ID }
func (e *JobType) SetID(id string)         { e.ID = id }
func (e *Task) GetID() string              { return e.ID }
func (e *Task) SetID(id string)            { e.ID = id }

// ClearIncludes drops relation includes so that only foreign keys are
// persisted.
func (e *Team) ClearIncludes()    { e.OperationCenter = nil }
func (e *Station) ClearIncludes() { e.OperationCenter = nil }
func (e *Feeder) ClearIncludes()  { e.Station = nil }
func (e *Task) ClearIncludes() {
	e.JobType = nil
	e.Feeder = nil
	e.Team = nil
}
