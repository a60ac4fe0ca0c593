package adapter

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"threatfeed/pkg/record"
	"threatfeed/pkg/secrets"
)

// nvdEnvelope mirrors the subset of NVD's CVE API response shape this
// adapter cares about: a list of wrapped CVE objects.
type nvdEnvelope struct {
	Vulnerabilities []struct {
		CVE map[string]interface{} `json:"cve"`
	} `json:"vulnerabilities"`
}

// NewNVDAdapter builds an HTTPAdapter against NVD's CVE API, used as the
// concrete worked example of the NVD-style adapter referenced throughout
// §5: 6s minimum spacing without an API key, 1s with one, incremental
// filtering via a "last modified since" query parameter.
func NewNVDAdapter(baseURL, apiKeyRef string, mgr *secrets.Manager, logger *logrus.Logger) (*HTTPAdapter, error) {
	cfg := HTTPConfig{
		Source:      "nvd",
		BaseURL:     baseURL,
		SinceParam:  "lastModStartDate",
		TimeLayout:  time.RFC3339,
		APIKeyRef:   apiKeyRef,
		APIKeyParam: "apiKey",
	}
	return NewHTTPAdapter(cfg, parseNVDEnvelope, mapNVDItem, mgr, logger)
}

func parseNVDEnvelope(body []byte) ([]map[string]interface{}, error) {
	var env nvdEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("decoding NVD response: %w", err)
	}
	items := make([]map[string]interface{}, 0, len(env.Vulnerabilities))
	for _, v := range env.Vulnerabilities {
		if v.CVE != nil {
			items = append(items, v.CVE)
		}
	}
	return items, nil
}

func mapNVDItem(item map[string]interface{}) (*record.Record, error) {
	id, _ := item["id"].(string)
	if id == "" {
		return nil, fmt.Errorf("CVE item missing \"id\"")
	}

	r := record.New("nvd")
	r.CVEID = id

	if descriptions, ok := item["descriptions"].([]interface{}); ok {
		for _, d := range descriptions {
			dm, ok := d.(map[string]interface{})
			if !ok {
				continue
			}
			if lang, _ := dm["lang"].(string); lang == "en" {
				r.Description, _ = dm["value"].(string)
				break
			}
		}
	}

	if published, ok := item["published"].(string); ok {
		if ts, err := time.Parse(time.RFC3339, published); err == nil {
			r.Published = &ts
		}
	}
	if modified, ok := item["lastModified"].(string); ok {
		if ts, err := time.Parse(time.RFC3339, modified); err == nil {
			r.LastModified = &ts
		}
	}

	if metrics, ok := item["metrics"].(map[string]interface{}); ok {
		if score, ok := extractCVSSScore(metrics, "cvssMetricV31"); ok {
			r.CVSSv3Score = &score
		} else if score, ok := extractCVSSScore(metrics, "cvssMetricV30"); ok {
			r.CVSSv3Score = &score
		}
		if score, ok := extractCVSSScore(metrics, "cvssMetricV2"); ok {
			r.CVSSv2Score = &score
		}
	}

	if weaknesses, ok := item["weaknesses"].([]interface{}); ok {
		for _, w := range weaknesses {
			wm, ok := w.(map[string]interface{})
			if !ok {
				continue
			}
			desc, _ := wm["description"].([]interface{})
			for _, d := range desc {
				dm, ok := d.(map[string]interface{})
				if !ok {
					continue
				}
				if value, _ := dm["value"].(string); value != "" {
					r.CWEIDs = append(r.CWEIDs, value)
				}
			}
		}
	}

	return r, nil
}

func extractCVSSScore(metrics map[string]interface{}, key string) (float64, bool) {
	entries, ok := metrics[key].([]interface{})
	if !ok || len(entries) == 0 {
		return 0, false
	}
	entry, ok := entries[0].(map[string]interface{})
	if !ok {
		return 0, false
	}
	data, ok := entry["cvssData"].(map[string]interface{})
	if !ok {
		return 0, false
	}
	score, ok := data["baseScore"].(float64)
	return score, ok
}
