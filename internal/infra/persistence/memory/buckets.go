package memory

import (
	"encoding/json"
	"fmt"

	"fmeacore/pkg/domain"
)

// Bucket names used by the snapshotting backends, one row per entity map.
const (
	BucketStudies = "studies"
	BucketItems   = "items"
	BucketActions = "actions"
)

// Buckets lists the persisted buckets in write order.
var Buckets = []string{BucketStudies, BucketItems, BucketActions}

// BucketsFor returns the buckets a committed batch rewrites, in write order.
// Item and action changes also touch studies because they move HighestRPN and
// ActionsCount.
func BucketsFor(changes []Change) []string {
	touched := make(map[string]bool, len(Buckets))
	for _, c := range changes {
		switch c.Entity {
		case domain.EntityStudy:
			touched[BucketStudies] = true
		case domain.EntityItem:
			touched[BucketItems] = true
			touched[BucketStudies] = true
		case domain.EntityAction:
			touched[BucketActions] = true
			touched[BucketStudies] = true
		}
	}
	out := make([]string, 0, len(touched))
	for _, bucket := range Buckets {
		if touched[bucket] {
			out = append(out, bucket)
		}
	}
	return out
}

// EncodeBuckets marshals each entity map of the snapshot into its bucket payload.
func (s Snapshot) EncodeBuckets() (map[string][]byte, error) {
	out := make(map[string][]byte, len(Buckets))
	for _, bucket := range Buckets {
		var (
			data []byte
			err  error
		)
		switch bucket {
		case BucketStudies:
			data, err = json.Marshal(s.Studies)
		case BucketItems:
			data, err = json.Marshal(s.Items)
		case BucketActions:
			data, err = json.Marshal(s.Actions)
		}
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", bucket, err)
		}
		out[bucket] = data
	}
	return out, nil
}

// DecodeBucket unmarshals a bucket payload into the matching snapshot map.
// Unknown buckets and empty payloads are ignored.
func (s *Snapshot) DecodeBucket(bucket string, payload []byte) error {
	if len(payload) == 0 {
		return nil
	}
	var target any
	switch bucket {
	case BucketStudies:
		target = &s.Studies
	case BucketItems:
		target = &s.Items
	case BucketActions:
		target = &s.Actions
	default:
		return nil
	}
	if err := json.Unmarshal(payload, target); err != nil {
		return fmt.Errorf("decode %s: %w", bucket, err)
	}
	return nil
}
