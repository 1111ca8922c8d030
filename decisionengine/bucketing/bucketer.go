// Package bucketing implements the deterministic hash bucketing that evenly
// distributes visitors over traffic allocations.
package bucketing

import (
	"fmt"
	"log/slog"
	"math"

	"github.com/twmb/murmur3"

	"github.com/featurekit/featurekit-go-client/decisionengine/datafile"
)

const (
	// MaxTrafficValue is the exclusive upper bound of bucket values; traffic
	// allocation ranges are expressed against it.
	MaxTrafficValue = 10000

	hashSeed = 1
)

var maxHashValue = math.Exp2(32)

// Bucketer maps bucketing ids onto traffic allocations. Assignments must be
// stable across SDK implementations, so the hash is the canonical
// MurmurHash3_x86_32.
type Bucketer struct {
	logger *slog.Logger
}

func New(logger *slog.Logger) *Bucketer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bucketer{logger: logger}
}

// GenerateBucketValue hashes a bucketing id into [0, MaxTrafficValue).
func GenerateBucketValue(bucketingKey string) int {
	return bucketValueFunc(bucketingKey)
}

func generateBucketValue(bucketingKey string) int {
	hash := murmur3.SeedSum32(hashSeed, []byte(bucketingKey))
	ratio := float64(hash) / maxHashValue
	return int(ratio * MaxTrafficValue)
}

var bucketValueFunc = generateBucketValue

// MockSetGenerateBucketValue replaces the bucket value computation in tests;
// passing nil restores the real hash.
func MockSetGenerateBucketValue(fn func(string) int) {
	if fn == nil {
		fn = generateBucketValue
	}
	bucketValueFunc = fn
}

// FindBucket resolves a bucketing id against a traffic allocation using
// parentID as the hash salt. It returns the entity id of the first range
// whose end strictly exceeds the bucket value; an empty entity id marks an
// unallocated slot.
func (b *Bucketer) FindBucket(bucketingID, parentID string, allocations []datafile.TrafficAllocation) string {
	bucketingKey := bucketingID + parentID
	bucketValue := GenerateBucketValue(bucketingKey)
	b.logger.Debug("assigned bucket value", "bucketValue", bucketValue, "bucketingID", bucketingID)

	for _, allocation := range allocations {
		if bucketValue < allocation.EndOfRange {
			return allocation.EntityID
		}
	}
	return ""
}

// Bucket determines the variation for a user in the given experiment,
// honouring mutually-exclusive group allocation first. It returns nil and
// the collected reasons when the user falls outside the experiment.
func (b *Bucketer) Bucket(
	config *datafile.ProjectConfig,
	experiment *datafile.Experiment,
	userID string,
	bucketingID string,
) (*datafile.Variation, []string) {
	var reasons []string
	if experiment == nil {
		return nil, reasons
	}

	if experiment.GroupPolicy == datafile.GroupPolicyRandom {
		group := config.GroupByID(experiment.GroupID)
		if group == nil {
			return nil, reasons
		}

		experimentID := b.FindBucket(bucketingID, experiment.GroupID, group.TrafficAllocation)
		if experimentID == "" {
			message := fmt.Sprintf("User %q is in no experiment.", userID)
			b.logger.Info(message)
			return nil, append(reasons, message)
		}
		if experimentID != experiment.ID {
			message := fmt.Sprintf("User %q is not in experiment %q of group %s.", userID, experiment.Key, experiment.GroupID)
			b.logger.Info(message)
			return nil, append(reasons, message)
		}
		message := fmt.Sprintf("User %q is in experiment %q of group %s.", userID, experiment.Key, experiment.GroupID)
		b.logger.Info(message)
		reasons = append(reasons, message)
	}

	variationID := b.FindBucket(bucketingID, experiment.ID, experiment.TrafficAllocation)
	if variationID == "" {
		message := "Bucketed into an empty traffic range. Returning nil."
		b.logger.Info(message)
		return nil, append(reasons, message)
	}
	return experiment.VariationByID(variationID), reasons
}
