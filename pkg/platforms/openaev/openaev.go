package openaev

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sw33tLie/xtmscope/pkg/platforms"
	"github.com/sw33tLie/xtmscope/pkg/whttp"
	"github.com/tidwall/gjson"
)

const pageSize = 500

// fullNameField is a synthetic alias field joining a player's first and last names.
const fullNameField = "user_firstname_lastname"

// resource describes how one entity type is listed and projected.
type resource struct {
	path          string
	idField       string
	nameFields    []string // first non-empty wins
	aliasFields   []string // scalar or array fields, or fullNameField
	externalField string
}

var resources = map[string]resource{
	"Asset": {
		path:        "/api/endpoints/search",
		idField:     "asset_id",
		nameFields:  []string{"asset_name", "endpoint_hostname"},
		aliasFields: []string{"endpoint_hostname", "endpoint_ips"},
	},
	"AssetGroup": {
		path:       "/api/asset_groups/search",
		idField:    "asset_group_id",
		nameFields: []string{"asset_group_name"},
	},
	"Player": {
		path:        "/api/players/search",
		idField:     "user_id",
		nameFields:  []string{"user_email"},
		aliasFields: []string{fullNameField},
	},
	"Team": {
		path:       "/api/teams/search",
		idField:    "team_id",
		nameFields: []string{"team_name"},
	},
	"Organization": {
		path:       "/api/organizations/search",
		idField:    "organization_id",
		nameFields: []string{"organization_name"},
	},
	"Scenario": {
		path:       "/api/scenarios/search",
		idField:    "scenario_id",
		nameFields: []string{"scenario_name"},
	},
	"Simulation": {
		path:       "/api/exercises/search",
		idField:    "exercise_id",
		nameFields: []string{"exercise_name"},
	},
	"AttackPattern": {
		path:          "/api/attack_patterns/search",
		idField:       "attack_pattern_id",
		nameFields:    []string{"attack_pattern_name"},
		externalField: "attack_pattern_external_id",
	},
}

// Client talks to the OpenAEV REST API.
type Client struct {
	inst platforms.Instance
	http *whttp.Client
}

// NewClient builds a client for inst using the given HTTP client.
func NewClient(inst platforms.Instance, httpClient *whttp.Client) *Client {
	return &Client{inst: inst, http: httpClient}
}

// Factory returns a platforms.Factory building clients from httpCfg.
func Factory(httpCfg whttp.Config) platforms.Factory {
	return func(inst platforms.Instance) (platforms.Client, error) {
		hc, err := whttp.NewClient(httpCfg)
		if err != nil {
			return nil, err
		}
		return NewClient(inst, hc), nil
	}
}

func (c *Client) Instance() platforms.Instance { return c.inst }

func (c *Client) url(path string) string {
	return strings.TrimRight(c.inst.URL, "/") + path
}

func (c *Client) send(ctx context.Context, method, path string, payload interface{}) (string, error) {
	var body []byte
	if payload != nil {
		var err error
		if body, err = json.Marshal(payload); err != nil {
			return "", err
		}
	}
	res, err := c.http.SendHTTPRequest(ctx, &whttp.WHTTPReq{
		Method:  method,
		URL:     c.url(path),
		Headers: []whttp.WHTTPHeader{whttp.Bearer(c.inst.Token)},
		Body:    body,
	})
	if err != nil {
		return "", err
	}
	if res.StatusCode != 200 {
		return "", &whttp.StatusError{StatusCode: res.StatusCode, URL: c.url(path)}
	}
	if !gjson.Valid(res.BodyString) {
		return "", fmt.Errorf("invalid JSON from %s", c.url(path))
	}
	return res.BodyString, nil
}

// FetchEntitiesOfType pages through the search endpoint of entityType.
func (c *Client) FetchEntitiesOfType(ctx context.Context, entityType string) ([]platforms.Entity, error) {
	res, ok := resources[entityType]
	if !ok {
		return nil, fmt.Errorf("openaev has no entity type %q", entityType)
	}

	var entities []platforms.Entity
	for page := 0; ; page++ {
		body, err := c.send(ctx, "POST", res.path, map[string]interface{}{"page": page, "size": pageSize})
		if err != nil {
			return nil, fmt.Errorf("fetching %s: %w", entityType, err)
		}

		content := gjson.Get(body, "content")
		content.ForEach(func(_, item gjson.Result) bool {
			if e, ok := parseItem(item, entityType, res); ok {
				entities = append(entities, e)
			}
			return true
		})

		if gjson.Get(body, "last").Bool() || len(content.Array()) == 0 {
			break
		}
		if total := gjson.Get(body, "totalPages"); total.Exists() && page+1 >= int(total.Int()) {
			break
		}
	}
	return entities, nil
}

func parseItem(item gjson.Result, entityType string, res resource) (platforms.Entity, bool) {
	id := item.Get(res.idField).String()
	if id == "" {
		return platforms.Entity{}, false
	}

	var name string
	var aliases []string
	for _, f := range res.nameFields {
		v := strings.TrimSpace(item.Get(f).String())
		if v == "" {
			continue
		}
		if name == "" {
			name = v
		}
	}
	if name == "" {
		return platforms.Entity{}, false
	}

	for _, f := range res.aliasFields {
		if f == fullNameField {
			full := strings.TrimSpace(item.Get("user_firstname").String() + " " + item.Get("user_lastname").String())
			if full != "" {
				aliases = append(aliases, full)
			}
			continue
		}
		v := item.Get(f)
		if v.IsArray() {
			v.ForEach(func(_, a gjson.Result) bool {
				aliases = append(aliases, a.String())
				return true
			})
			continue
		}
		if s := strings.TrimSpace(v.String()); s != "" && s != name {
			aliases = append(aliases, s)
		}
	}

	return platforms.Entity{
		ID:         id,
		Name:       name,
		Aliases:    aliases,
		ExternalID: item.Get(res.externalField).String(),
		Type:       entityType,
	}, true
}

// TestConnection reads the current user and platform settings.
func (c *Client) TestConnection(ctx context.Context) (platforms.ConnectionInfo, error) {
	me, err := c.send(ctx, "GET", "/api/me", nil)
	if err != nil {
		return platforms.ConnectionInfo{Success: false}, err
	}
	settings, err := c.send(ctx, "GET", "/api/settings", nil)
	if err != nil {
		return platforms.ConnectionInfo{Success: false}, err
	}
	return platforms.ConnectionInfo{
		Success:           true,
		User:              gjson.Get(me, "user_email").String(),
		PlatformName:      gjson.Get(settings, "platform_name").String(),
		Version:           gjson.Get(settings, "platform_version").String(),
		EnterpriseEdition: gjson.Get(settings, "platform_license.license_is_validated").Bool(),
	}, nil
}
