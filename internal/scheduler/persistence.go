package scheduler

import (
	"encoding/json"
	"fmt"

	"go.etcd.io/bbolt"
)

var bucketSchedules = []byte("schedules")

// scheduleStore persists ScheduleConfig records in a single bbolt bucket so
// they survive a restart. Narrowed from the teacher's WorkflowStore, which
// also held workflow definitions and execution history — this codebase has
// no runtime-defined-workflow concept to persist, so the bucket holds only
// the schedule records themselves.
type scheduleStore struct {
	db *bbolt.DB
}

func openScheduleStore(path string) (*scheduleStore, error) {
	db, err := bbolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("open schedule db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketSchedules)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create schedules bucket: %w", err)
	}

	return &scheduleStore{db: db}, nil
}

func (s *scheduleStore) put(cfg *ScheduleConfig) error {
	data, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal schedule: %w", err)
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketSchedules).Put([]byte(cfg.Name), data)
	})
}

func (s *scheduleStore) delete(name string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketSchedules).Delete([]byte(name))
	})
}

func (s *scheduleStore) list() ([]*ScheduleConfig, error) {
	schedules := make([]*ScheduleConfig, 0)
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketSchedules).ForEach(func(k, v []byte) error {
			var cfg ScheduleConfig
			if err := json.Unmarshal(v, &cfg); err != nil {
				return nil // skip invalid entries rather than failing the whole restore
			}
			schedules = append(schedules, &cfg)
			return nil
		})
	})
	return schedules, err
}

func (s *scheduleStore) close() error {
	return s.db.Close()
}
