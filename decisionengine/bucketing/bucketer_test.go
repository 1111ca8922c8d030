package bucketing

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/featurekit/featurekit-go-client/decisionengine/datafile"
)

func restoreBucketValue() {
	bucketValueFunc = generateBucketValue
}

func TestGenerateBucketValueReferenceVectors(t *testing.T) {
	// Cross-implementation reference values for MurmurHash3_x86_32 with
	// seed 1; any drift here changes which user sees which variation.
	cases := []struct {
		bucketingKey string
		expected     int
	}{
		{"ppid11886780721", 5254},
		{"ppid21886780721", 4299},
		{"ppid21886780722", 2434},
		{"ppid31886780721", 5439},
		{"a very very very very very very very very very very very very very very very long ppd string1886780721", 6128},
	}
	for _, c := range cases {
		assert.Equal(t, c.expected, GenerateBucketValue(c.bucketingKey), c.bucketingKey)
	}
}

func testExperiment() *datafile.Experiment {
	return &datafile.Experiment{
		ID:     "1886780721",
		Key:    "test_experiment",
		Status: datafile.StatusRunning,
		TrafficAllocation: []datafile.TrafficAllocation{
			{EntityID: "111128", EndOfRange: 3000},
			{EntityID: "", EndOfRange: 5000},
			{EntityID: "111129", EndOfRange: 6000},
		},
		Variations: []*datafile.Variation{
			{ID: "111128", Key: "control"},
			{ID: "111129", Key: "variation"},
		},
	}
}

func testConfig(t *testing.T, experiments []*datafile.Experiment, groups []*datafile.Group) *datafile.ProjectConfig {
	t.Helper()
	df := datafile.Datafile{
		Version:     datafile.VersionV4,
		Experiments: experiments,
		Groups:      groups,
	}
	config, err := datafile.NewProjectConfigFromModel(&df)
	require.NoError(t, err)
	return config
}

func TestFindBucket(t *testing.T) {
	b := New(slog.Default())
	allocations := []datafile.TrafficAllocation{
		{EntityID: "a", EndOfRange: 3000},
		{EntityID: "", EndOfRange: 5000},
		{EntityID: "b", EndOfRange: 10000},
	}

	cases := []struct {
		name     string
		value    int
		expected string
	}{
		{"first range", 0, "a"},
		{"range end is exclusive", 2999, "a"},
		{"empty slot", 3000, ""},
		{"last range", 9999, "b"},
		{"out of range", 10000, ""},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			MockSetGenerateBucketValue(func(string) int { return c.value })
			defer restoreBucketValue()
			assert.Equal(t, c.expected, b.FindBucket("user", "parent", allocations))
		})
	}
}

func TestBucketVariation(t *testing.T) {
	exp := testExperiment()
	config := testConfig(t, []*datafile.Experiment{exp}, nil)
	b := New(slog.Default())

	MockSetGenerateBucketValue(func(key string) int {
		assert.Equal(t, "test_user1886780721", key)
		return 42
	})
	defer restoreBucketValue()

	variation, _ := b.Bucket(config, config.ExperimentByKey("test_experiment"), "test_user", "test_user")
	require.NotNil(t, variation)
	assert.Equal(t, "control", variation.Key)
}

func TestBucketEmptySlot(t *testing.T) {
	exp := testExperiment()
	config := testConfig(t, []*datafile.Experiment{exp}, nil)
	b := New(slog.Default())

	MockSetGenerateBucketValue(func(string) int { return 4242 })
	defer restoreBucketValue()

	variation, reasons := b.Bucket(config, config.ExperimentByKey("test_experiment"), "test_user", "test_user")
	assert.Nil(t, variation)
	assert.Contains(t, reasons, "Bucketed into an empty traffic range. Returning nil.")
}

func TestBucketExperimentInGroup(t *testing.T) {
	groupExp := &datafile.Experiment{
		ID:     "32222",
		Key:    "group_exp_1",
		Status: datafile.StatusRunning,
		TrafficAllocation: []datafile.TrafficAllocation{
			{EntityID: "28902", EndOfRange: 10000},
		},
		Variations: []*datafile.Variation{{ID: "28902", Key: "group_exp_1_variation"}},
	}
	group := &datafile.Group{
		ID:     "19228",
		Policy: datafile.GroupPolicyRandom,
		TrafficAllocation: []datafile.TrafficAllocation{
			{EntityID: "32222", EndOfRange: 3000},
			{EntityID: "32223", EndOfRange: 7500},
		},
		Experiments: []*datafile.Experiment{groupExp},
	}
	config := testConfig(t, nil, []*datafile.Group{group})
	b := New(slog.Default())

	t.Run("matching experiment", func(t *testing.T) {
		var keys []string
		MockSetGenerateBucketValue(func(key string) int {
			keys = append(keys, key)
			if len(keys) == 1 {
				return 42
			}
			return 4242
		})
		defer restoreBucketValue()

		variation, _ := b.Bucket(config, config.ExperimentByKey("group_exp_1"), "test_user", "test_user")
		require.NotNil(t, variation)
		assert.Equal(t, "group_exp_1_variation", variation.Key)
		assert.Equal(t, []string{"test_user19228", "test_user32222"}, keys)
	})

	t.Run("bucketed into other experiment of group", func(t *testing.T) {
		MockSetGenerateBucketValue(func(string) int { return 5000 })
		defer restoreBucketValue()

		variation, reasons := b.Bucket(config, config.ExperimentByKey("group_exp_1"), "test_user", "test_user")
		assert.Nil(t, variation)
		assert.Contains(t, reasons, `User "test_user" is not in experiment "group_exp_1" of group 19228.`)
	})

	t.Run("outside group allocation", func(t *testing.T) {
		MockSetGenerateBucketValue(func(string) int { return 9500 })
		defer restoreBucketValue()

		variation, reasons := b.Bucket(config, config.ExperimentByKey("group_exp_1"), "test_user", "test_user")
		assert.Nil(t, variation)
		assert.Contains(t, reasons, `User "test_user" is in no experiment.`)
	})
}
