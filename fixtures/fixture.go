// Package fixtures carries the datafile used by tests across packages.
package fixtures

// DatafileV4 is a small v4 datafile: one flag with one feature test
// (variations a/b behind an "adults" audience) and a rollout with one
// targeted rule (variation c behind "premium_users") plus an everyone-else
// rule (variation d).
const DatafileV4 = `{
  "version": "4",
  "accountId": "12001",
  "projectId": "111001",
  "revision": "42",
  "sdkKey": "sdk-key-1",
  "environmentKey": "production",
  "anonymizeIP": true,
  "botFiltering": true,
  "sendFlagDecisions": true,
  "attributes": [
    {"id": "111094", "key": "age"},
    {"id": "111095", "key": "premium"},
    {"id": "111096", "key": "app_version"}
  ],
  "audiences": [
    {
      "id": "3468206642",
      "name": "adults",
      "conditions": "[\"and\", [\"or\", [\"or\", {\"name\": \"age\", \"type\": \"custom_attribute\", \"match\": \"ge\", \"value\": 18}]]]"
    },
    {
      "id": "3468206643",
      "name": "premium_users",
      "conditions": "[\"or\", {\"name\": \"premium\", \"type\": \"custom_attribute\", \"match\": \"substring\", \"value\": \"legacy\"}]"
    }
  ],
  "typedAudiences": [
    {
      "id": "3468206643",
      "name": "premium_users",
      "conditions": ["and", {"name": "premium", "type": "custom_attribute", "match": "exact", "value": true}]
    }
  ],
  "events": [
    {"id": "111097", "key": "purchase", "experimentIds": ["10390977673"]}
  ],
  "experiments": [
    {
      "id": "10390977673",
      "key": "exp_1",
      "status": "Running",
      "layerId": "9300000003766",
      "audienceIds": ["3468206642"],
      "forcedVariations": {"forced_user": "b"},
      "variations": [
        {
          "id": "10389729780",
          "key": "a",
          "featureEnabled": true,
          "variables": [{"id": "var_x_id", "value": "A"}]
        },
        {
          "id": "10416523121",
          "key": "b",
          "featureEnabled": false,
          "variables": [{"id": "var_x_id", "value": "B"}]
        }
      ],
      "trafficAllocation": [
        {"entityId": "10389729780", "endOfRange": 5000},
        {"entityId": "10416523121", "endOfRange": 10000}
      ]
    }
  ],
  "groups": [],
  "featureFlags": [
    {
      "id": "4482920077",
      "key": "feature_1",
      "rolloutId": "rollout-163975",
      "experimentIds": ["10390977673"],
      "variables": [
        {"id": "var_x_id", "key": "x", "type": "string", "defaultValue": "X"},
        {"id": "var_n_id", "key": "n", "type": "integer", "defaultValue": "10"},
        {"id": "var_d_id", "key": "d", "type": "double", "defaultValue": "1.5"},
        {"id": "var_b_id", "key": "b", "type": "boolean", "defaultValue": "false"},
        {"id": "var_j_id", "key": "j", "type": "string", "subType": "json", "defaultValue": "{\"k\": 1}"}
      ]
    }
  ],
  "rollouts": [
    {
      "id": "rollout-163975",
      "experiments": [
        {
          "id": "rule-premium",
          "key": "targeted_delivery",
          "status": "Running",
          "layerId": "rollout-163975",
          "audienceIds": ["3468206643"],
          "variations": [
            {
              "id": "10418510624",
              "key": "c",
              "featureEnabled": true,
              "variables": [{"id": "var_x_id", "value": "C"}]
            }
          ],
          "trafficAllocation": [{"entityId": "10418510624", "endOfRange": 5000}]
        },
        {
          "id": "rule-everyone",
          "key": "default-rollout",
          "status": "Running",
          "layerId": "rollout-163975",
          "audienceIds": [],
          "variations": [
            {
              "id": "10418510625",
              "key": "d",
              "featureEnabled": true,
              "variables": [{"id": "var_x_id", "value": "D"}]
            }
          ],
          "trafficAllocation": [{"entityId": "10418510625", "endOfRange": 10000}]
        }
      ]
    }
  ],
  "integrations": [
    {"key": "odp", "host": "https://api.zaius.com", "publicKey": "odp-public-key"}
  ]
}`
