// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package store

import (
	"errors"
	"fmt"
	"sync"

	"github.com/AleutianAI/FieldOps/services/edge/domain"
	"github.com/dgraph-io/badger/v4"
)

// Store groups the repositories of every entity over one database.
type Store struct {
	db        *DB
	closeOnce sync.Once
	closeErr  error

	OperationCenters *Repository[domain.OperationCenter, *domain.OperationCenter]
	Teams            *Repository[domain.Team, *domain.Team]
	Stations         *Repository[domain.Station, *domain.Station]
	Feeders          *Repository[domain.Feeder, *domain.Feeder]
	JobTypes         *Repository[domain.JobType, *domain.JobType]
	Tasks            *Repository[domain.Task, *domain.Task]
}

// Open opens the database described by cfg and builds the Store.
func Open(cfg Config) (*Store, error) {
	db, err := OpenDB(cfg)
	if err != nil {
		return nil, err
	}
	s, err := New(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// New builds the repositories over db and wires their relations:
//
//	team    -> operation center
//	station -> operation center
//	feeder  -> station
//	task    -> job type, feeder, team
func New(db *DB) (*Store, error) {
	s := &Store{db: db}
	var err error
	if s.OperationCenters, err = newRepository[domain.OperationCenter](db, "operation-centers"); err != nil {
		return nil, err
	}
	if s.Teams, err = newRepository[domain.Team](db, "teams"); err != nil {
		return nil, err
	}
	if s.Stations, err = newRepository[domain.Station](db, "stations"); err != nil {
		return nil, err
	}
	if s.Feeders, err = newRepository[domain.Feeder](db, "feeders"); err != nil {
		return nil, err
	}
	if s.JobTypes, err = newRepository[domain.JobType](db, "job-types"); err != nil {
		return nil, err
	}
	if s.Tasks, err = newRepository[domain.Task](db, "tasks"); err != nil {
		return nil, err
	}

	s.Teams.include = func(txn *badger.Txn, t *domain.Team) error {
		return includeOne(txn, s.OperationCenters, t.OperationCenterID, func(oc *domain.OperationCenter) { t.OperationCenter = oc })
	}
	s.Teams.parents = func(txn *badger.Txn, t *domain.Team) error {
		return requireOne(txn, s.OperationCenters, t.OperationCenterID)
	}

	s.Stations.include = func(txn *badger.Txn, st *domain.Station) error {
		return includeOne(txn, s.OperationCenters, st.OperationCenterID, func(oc *domain.OperationCenter) { st.OperationCenter = oc })
	}
	s.Stations.parents = func(txn *badger.Txn, st *domain.Station) error {
		return requireOne(txn, s.OperationCenters, st.OperationCenterID)
	}

	s.Feeders.include = func(txn *badger.Txn, f *domain.Feeder) error {
		return includeOne(txn, s.Stations, f.StationID, func(st *domain.Station) { f.Station = st })
	}
	s.Feeders.parents = func(txn *badger.Txn, f *domain.Feeder) error {
		return requireOne(txn, s.Stations, f.StationID)
	}

	s.Tasks.include = func(txn *badger.Txn, t *domain.Task) error {
		if err := includeOne(txn, s.JobTypes, t.JobTypeID, func(j *domain.JobType) { t.JobType = j }); err != nil {
			return err
		}
		if err := includeOne(txn, s.Feeders, t.FeederID, func(f *domain.Feeder) { t.Feeder = f }); err != nil {
			return err
		}
		return includeOne(txn, s.Teams, t.TeamID, func(tm *domain.Team) { t.Team = tm })
	}
	s.Tasks.parents = func(txn *badger.Txn, t *domain.Task) error {
		return errors.Join(
			requireOne(txn, s.JobTypes, t.JobTypeID),
			requireOne(txn, s.Feeders, t.FeederID),
			requireOne(txn, s.Teams, t.TeamID),
		)
	}

	s.OperationCenters.referrers = append(s.OperationCenters.referrers,
		referencedBy(s.Teams, func(t *domain.Team) string { return t.OperationCenterID }),
		referencedBy(s.Stations, func(st *domain.Station) string { return st.OperationCenterID }),
	)
	s.Stations.referrers = append(s.Stations.referrers,
		referencedBy(s.Feeders, func(f *domain.Feeder) string { return f.StationID }))
	s.Feeders.referrers = append(s.Feeders.referrers,
		referencedBy(s.Tasks, func(t *domain.Task) string { return t.FeederID }))
	s.JobTypes.referrers = append(s.JobTypes.referrers,
		referencedBy(s.Tasks, func(t *domain.Task) string { return t.JobTypeID }))
	s.Teams.referrers = append(s.Teams.referrers,
		referencedBy(s.Tasks, func(t *domain.Task) string { return t.TeamID }))

	return s, nil
}

// DB returns the underlying database.
func (s *Store) DB() *DB {
	return s.db
}

// Close releases the ID sequences and closes the database. Safe to call
// more than once.
func (s *Store) Close() error {
	s.closeOnce.Do(func() { s.closeErr = s.close() })
	return s.closeErr
}

func (s *Store) close() error {
	var errs []error
	for _, seq := range []*badger.Sequence{
		s.OperationCenters.seq, s.Teams.seq, s.Stations.seq,
		s.Feeders.seq, s.JobTypes.seq, s.Tasks.seq,
	} {
		if err := seq.Release(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := s.db.Close(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("close store: %w", errors.Join(errs...))
	}
	return nil
}
